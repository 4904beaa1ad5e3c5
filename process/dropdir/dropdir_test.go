package dropdir

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"totelabel/pkg/artifact"
	"totelabel/pkg/label"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(30, 20, color.Black), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestScanOnceBuildsAndSortsFiles(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "TOTE001.png"))
	if err := os.WriteFile(filepath.Join(dir, "TOTE002.jpg"), []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := artifact.NewMemoryStore(nil)
	w := New(dir, 2, 0, label.NewBuilder(label.NewRegistry(), store))
	if n := w.ScanOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 committed file, got %d", n)
	}

	if !exists(filepath.Join(dir, ProcessedDir, "TOTE001.png")) || exists(filepath.Join(dir, "TOTE001.png")) {
		t.Fatalf("good file not moved to processed/")
	}
	if !exists(filepath.Join(dir, FailedDir, "TOTE002.jpg")) {
		t.Fatalf("undecodable file not moved to failed/")
	}
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Fatalf("unsupported file should be left alone")
	}
	if ok, _ := artifact.Exists(context.Background(), store, "TOTE001", "epd-4in2"); !ok {
		t.Fatalf("artifact not committed")
	}
	if ok, _ := artifact.Exists(context.Background(), store, "TOTE002", "epd-4in2"); ok {
		t.Fatalf("failed file must not commit")
	}
}

func TestScanOnceRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "BIG.png"))
	w := New(dir, 1, 10, label.NewBuilder(label.NewRegistry(), artifact.NewMemoryStore(nil)))
	if n := w.ScanOnce(context.Background()); n != 0 {
		t.Fatalf("expected nothing committed, got %d", n)
	}
	if !exists(filepath.Join(dir, FailedDir, "BIG.png")) {
		t.Fatalf("oversized file not moved to failed/")
	}
}

func TestIsSupportedAndToteID(t *testing.T) {
	for name, want := range map[string]bool{
		"T1.png": true, "T1.JPEG": true, "T1.webp": true,
		".T1.png.swp": false, ".hidden.png": false, "T1.bmp": true, "T1.tiff": false, "T1": false,
	} {
		if got := IsSupported(name); got != want {
			t.Fatalf("IsSupported(%q) = %v", name, got)
		}
	}
	if ToteID("TOTE-9.v2.png") != "TOTE-9.v2" {
		t.Fatalf("unexpected tote id %q", ToteID("TOTE-9.v2.png"))
	}
}
