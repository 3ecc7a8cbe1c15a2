// Package retention enforces archive count/age bounds in a file-split
// appender's directory.
package retention

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Policy prunes archives sharing tempName's stem in dir, returning how
// many it removed. Deletions are best-effort: a single failed removal is
// skipped, not fatal to the sweep.
type Policy interface {
	DoKeep(dir, tempName string) (removed int)
}

// entries lists, newest name first, every directory entry whose name
// starts with tempName's stem and is not tempName itself.
func entries(dir, tempName string) []os.DirEntry {
	ext := filepath.Ext(tempName)
	stem := strings.TrimSuffix(tempName, ext)

	all, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []os.DirEntry
	for _, e := range all {
		name := e.Name()
		if name == tempName || !strings.HasPrefix(name, stem) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() > out[j].Name() })
	return out
}

// All keeps every archive; it never removes anything.
type All struct{}

func (All) DoKeep(string, string) int { return 0 }

// KeepNum keeps the N newest archives (by name, which sorts newest-first
// under the timestamp naming scheme) and deletes the rest.
type KeepNum struct {
	N int
}

func (k KeepNum) DoKeep(dir, tempName string) int {
	es := entries(dir, tempName)
	if k.N < 0 || len(es) <= k.N {
		return 0
	}
	removed := 0
	for _, e := range es[k.N:] {
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// KeepTime removes archives older than now-Max.
type KeepTime struct {
	Max time.Duration
}

func (k KeepTime) DoKeep(dir, tempName string) int {
	es := entries(dir, tempName)
	cutoff := time.Now().Add(-k.Max)
	removed := 0
	for _, e := range es {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}
