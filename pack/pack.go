// Package pack transforms a closed, rotated log file into its final
// on-disk archive form.
package pack

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// Packer turns the file at path into its archived form. DoPack reports
// whether the saver should delete the source file afterward.
type Packer interface {
	// PackName identifies the packer, useful for logging/diagnostics.
	PackName() string
	// DoPack transforms the already-closed file at path. On success it
	// reports whether path (the pre-pack source) should be removed.
	DoPack(path string) (deleteSource bool, err error)
	// Retry is how many additional attempts the saver should make after
	// a DoPack failure before giving up. 0 means no retries.
	Retry() int
}

// NoopPacker keeps the rotated ".log" file exactly as copied; retention
// alone is responsible for eventually removing it.
type NoopPacker struct{}

func (NoopPacker) PackName() string            { return "noop" }
func (NoopPacker) DoPack(string) (bool, error) { return false, nil }
func (NoopPacker) Retry() int                  { return 0 }

// GzipPacker reads path, writes a sibling file with its extension
// rewritten from ".log" to ".gz" containing the gzip-compressed
// (standard deflate, default compression level) contents, and reports
// true so the saver removes the original ".log".
type GzipPacker struct {
	// Retries is how many extra attempts to make on failure. Defaults
	// to 0 (no retries) if left unset.
	Retries int
}

func (GzipPacker) PackName() string { return "gzip" }

func (p GzipPacker) Retry() int { return p.Retries }

func (p GzipPacker) DoPack(path string) (bool, error) {
	src, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("pack: open source: %w", err)
	}
	defer src.Close()

	dstPath := gzipPath(path)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, fmt.Errorf("pack: create archive: %w", err)
	}

	gw, _ := gzip.NewWriterLevel(dst, gzip.DefaultCompression)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		return false, fmt.Errorf("pack: compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		return false, fmt.Errorf("pack: finalize gzip: %w", err)
	}
	if err := dst.Close(); err != nil {
		return false, fmt.Errorf("pack: close archive: %w", err)
	}
	return true, nil
}

// gzipPath replaces a trailing ".log" with ".gz"; if path has no ".log"
// suffix the ".gz" extension is simply appended.
func gzipPath(path string) string {
	if strings.HasSuffix(path, ".log") {
		return strings.TrimSuffix(path, ".log") + ".gz"
	}
	return path + ".gz"
}
