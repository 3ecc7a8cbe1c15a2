package fileappender

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowlog/flowlog/pack"
	"github.com/flowlog/flowlog/record"
	"github.com/flowlog/flowlog/retention"
	"github.com/flowlog/flowlog/rolling"
)

func logRecord(formated string) record.Record {
	return record.Record{Kind: record.Log, Now: time.Now(), Formated: formated}
}

func archiveFiles(t *testing.T, dir, tempName string) []string {
	t.Helper()
	es, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	stem := strings.TrimSuffix(tempName, filepath.Ext(tempName))
	var out []string
	for _, e := range es {
		name := e.Name()
		if name == tempName || name == ".rotate.lock" || !strings.HasPrefix(name, stem) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func mustFlush(t *testing.T, a *Appender) {
	t.Helper()
	r, wg := record.NewFlushBarrier(1)
	a.DoLogs([]record.Record{r})
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush barrier never released")
	}
}

func TestRotatesBySizeAndPacksArchive(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{
		Path:      filepath.Join(dir, "app.log"),
		Rolling:   &rolling.BySize{Limit: 25},
		Retention: retention.All{},
		Packer:    pack.NoopPacker{},
	})
	if err != nil {
		t.Fatal(err)
	}

	a.DoLogs([]record.Record{
		logRecord("0123456789\n"), // 11 bytes, temp=11
		logRecord("0123456789\n"), // 22 bytes, temp=22, still < 25
		logRecord("0123456789\n"), // projected 33 >= 25: rotate, archive holds prior 22 bytes
	})
	mustFlush(t, a)

	archives := archiveFiles(t, dir, "app.log")
	if len(archives) != 1 {
		t.Fatalf("archives = %v, want 1", archives)
	}
	contents, err := os.ReadFile(filepath.Join(dir, archives[0]))
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != "0123456789\n0123456789\n" {
		t.Fatalf("archive contents = %q", contents)
	}
	active, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(active) != "0123456789\n" {
		t.Fatalf("active contents = %q", active)
	}
}

func TestFlushBarrierReleasesUnderNoopPacker(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{Path: filepath.Join(dir, "app.log")})
	if err != nil {
		t.Fatal(err)
	}
	a.DoLogs([]record.Record{logRecord("hello\n")})
	mustFlush(t, a)

	b, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("got %q", b)
	}
}

func TestGzipPackingRemovesSourceAndCompressesArchive(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{
		Path:      filepath.Join(dir, "app.log"),
		Rolling:   &rolling.BySize{Limit: 205},
		Retention: retention.All{},
		Packer:    pack.GzipPacker{},
	})
	if err != nil {
		t.Fatal(err)
	}

	a.DoLogs([]record.Record{logRecord("alpha\n")})
	big := strings.Repeat("b", 200) + "\n"
	a.DoLogs([]record.Record{logRecord(big)}) // projected 6+201 >= 205: rotate, archiving "alpha\n"
	// tempBytes is now 201 (the "big" write), under the 205 limit, so the
	// flush barrier below only waits on the pack queue -- a Flush record
	// also participates in rotation decisions, and a higher limit here
	// keeps it from archiving "big" too before we can inspect the
	// "alpha" archive.
	mustFlush(t, a) // FIFO sentinel after the pack job: blocks until gzip finishes

	es, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var gz, log string
	for _, e := range es {
		switch {
		case strings.HasSuffix(e.Name(), ".gz"):
			gz = e.Name()
		case e.Name() != "app.log" && strings.HasSuffix(e.Name(), ".log"):
			log = e.Name()
		}
	}
	if gz == "" {
		t.Fatal("expected a .gz archive")
	}
	if log != "" {
		t.Fatalf("expected the packed .log source removed, found %q", log)
	}

	f, err := os.Open(filepath.Join(dir, gz))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer gr.Close()
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "alpha\n" {
		t.Fatalf("decompressed = %q, want %q", got, "alpha\n")
	}
}

func TestRetentionPrunesAfterEachPack(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{
		Path:      filepath.Join(dir, "app.log"),
		Rolling:   &rolling.BySize{Limit: 10},
		Retention: retention.KeepNum{N: 1},
		Packer:    pack.NoopPacker{},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		a.DoLogs([]record.Record{logRecord("0123456789AB\n")}) // always >= 10: rotates every call
	}
	mustFlush(t, a)

	archives := archiveFiles(t, dir, "app.log")
	if len(archives) != 1 {
		t.Fatalf("archives = %v, want exactly 1 survivor under KeepNum{1}", archives)
	}
}

func TestExitFlushesAndClosesActiveFile(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{Path: filepath.Join(dir, "app.log")})
	if err != nil {
		t.Fatal(err)
	}
	a.DoLogs([]record.Record{logRecord("last\n"), record.NewExit()})

	b, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "last\n" {
		t.Fatalf("got %q", b)
	}
	if err := a.file.Close(); err == nil {
		t.Fatal("expected file already closed by shutdown")
	}
}

func TestResumesExistingActiveFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("prior\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := New(Config{Path: path, Rolling: &rolling.BySize{Limit: 1 << 20}})
	if err != nil {
		t.Fatal(err)
	}
	if a.tempBytes != 6 {
		t.Fatalf("tempBytes = %d, want 6 (size of preexisting file)", a.tempBytes)
	}
	a.DoLogs([]record.Record{logRecord("more\n")})
	mustFlush(t, a)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "prior\nmore\n" {
		t.Fatalf("got %q, want appended content preserved", b)
	}
}

func TestErrorSinkQuietOnHealthyRotation(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var errs []error
	a, err := New(Config{
		Path:      filepath.Join(dir, "app.log"),
		Rolling:   &rolling.BySize{Limit: 5},
		Retention: retention.All{},
		Packer:    pack.NoopPacker{},
		ErrorSink: func(e error) {
			mu.Lock()
			errs = append(errs, e)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	a.DoLogs([]record.Record{logRecord("0123456789\n")})
	mustFlush(t, a)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors under a healthy filesystem: %v", errs)
	}
}
