package fixture_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/finpulse/backend/internal/fixture"
)

func TestLoadMissingFile(t *testing.T) {
	f := fixture.New(filepath.Join(t.TempDir(), "user.json"))
	if _, err := f.Load(); !errors.Is(err, fixture.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveRejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	f := fixture.New(path)
	for _, body := range []string{`{"email":"a@b.com"}`, `"users"`, ``, `[1,`} {
		if err := f.Save([]byte(body)); !errors.Is(err, fixture.ErrNotArray) {
			t.Fatalf("Save(%q) = %v, want ErrNotArray", body, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("rejected save created the file: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "user.json")
	f := fixture.New(path)
	if err := f.Save([]byte(`[{"email":"a@b.com","messages":[]}]`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read err: %v", err)
	}
	want := "[\n  {\n    \"email\": \"a@b.com\",\n    \"messages\": []\n  }\n]"
	if string(raw) != want {
		t.Fatalf("file content %q, want %q", raw, want)
	}

	loaded, err := f.Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if string(loaded) != want {
		t.Fatalf("Load = %s", loaded)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fixture.New(path).Load(); !errors.Is(err, fixture.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
