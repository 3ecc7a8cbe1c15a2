package pack

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNoopPackerKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.log")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	del, err := (NoopPacker{}).DoPack(path)
	if err != nil || del {
		t.Fatalf("NoopPacker.DoPack: del=%v err=%v", del, err)
	}
}

func TestGzipPackerRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.log")
	want := []byte("the quick brown fox jumps over the lazy dog\n")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}

	del, err := (GzipPacker{}).DoPack(path)
	if err != nil {
		t.Fatalf("DoPack: %v", err)
	}
	if !del {
		t.Fatalf("GzipPacker should report deleteSource=true")
	}

	gzPath := filepath.Join(dir, "archive.gz")
	f, err := os.Open(gzPath)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", gzPath, err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("not a valid gzip stream: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, want)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("source .log should still exist; DoPack reports deleteSource, the saver removes it: %v", err)
	}
}
