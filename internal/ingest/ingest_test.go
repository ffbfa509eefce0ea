package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCollectWalksDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "crate")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"one.mp3":        "audio/mpeg",
		"two.wav":        "audio/wav",
		"crate/three.fl": "",           // unsupported extension
		"crate/four.ogg": "audio/ogg",
		"notes.txt":      "",
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sources, err := Collect(context.Background(), testLogger(), []string{dir})
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("collected %d sources, want 3", len(sources))
	}
	for _, s := range sources {
		want := files[s.Name+filepath.Ext(s.Path)]
		if want == "" {
			want = files["crate/"+s.Name+filepath.Ext(s.Path)]
		}
		if s.MIME != want {
			t.Errorf("%s: mime %q, want %q", s.Path, s.MIME, want)
		}
		if s.Size != 4 {
			t.Errorf("%s: size %d, want 4", s.Path, s.Size)
		}
	}
}

func TestCollectEmptyFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := Collect(context.Background(), testLogger(), []string{dir}); err == nil {
		t.Error("expected error for a directory with no audio")
	}
}

func TestCollectSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Track Name.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatal(err)
	}
	sources, err := Collect(context.Background(), testLogger(), []string{path})
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("collected %d sources, want 1", len(sources))
	}
	if sources[0].Name != "Track Name" {
		t.Errorf("name = %q, want %q", sources[0].Name, "Track Name")
	}
	if sources[0].MIME != "audio/flac" {
		t.Errorf("mime = %q", sources[0].MIME)
	}
}
