package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLocalWriteAndRead(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	const data = "Turdus merula_Eurasian Blackbird\n"
	if err := WriteFile(ctx, s, "v2.4/labels.txt", []byte(data)); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(ctx, s, "v2.4/labels.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != data {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestLocalReadNotExist(t *testing.T) {
	s := newTestLocal(t)
	_, err := s.Read(context.Background(), "no-such-file")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLocalWriteIsAtomic(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	if err := WriteFile(ctx, s, "model.bin", []byte("old")); err != nil {
		t.Fatal(err)
	}

	w, err := s.Write(ctx, "model.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, "new-content"); err != nil {
		t.Fatal(err)
	}
	// Not committed yet.
	got, _ := ReadFile(ctx, s, "model.bin")
	if string(got) != "old" {
		t.Fatalf("before close got %q", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got, _ = ReadFile(ctx, s, "model.bin")
	if string(got) != "new-content" {
		t.Fatalf("after close got %q", got)
	}

	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	if err := WriteFile(ctx, s, "x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "x"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	ok, err := Exists(ctx, s, "x")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestLocalStat(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	if err := WriteFile(ctx, s, "a/b.msgpack", []byte("12345")); err != nil {
		t.Fatal(err)
	}
	info, err := s.Stat(ctx, "a/b.msgpack")
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != "a/b.msgpack" || info.Size != 5 || info.Version == "" {
		t.Errorf("info = %+v", info)
	}
	if _, err := s.Stat(ctx, "a"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("stat dir err = %v", err)
	}
}

func TestLocalList(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	for _, p := range []string{"m/2/labels.txt", "m/1/model.onnx", "other.txt"} {
		if err := WriteFile(ctx, s, p, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx, "m/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Path != "m/1/model.onnx" || got[1].Path != "m/2/labels.txt" {
		t.Errorf("list = %+v", got)
	}
}

func TestLocalRejectsEscape(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	for _, p := range []string{"../x", "/etc/passwd", "a/../../x", ""} {
		if _, err := s.Read(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Read(%q) err = %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.Root()), "x")); err == nil {
		t.Error("file created outside root")
	}
}

func TestClean(t *testing.T) {
	got, err := Clean("a/./b//c")
	if err != nil || got != "a/b/c" {
		t.Errorf("Clean = %q, %v", got, err)
	}
}
