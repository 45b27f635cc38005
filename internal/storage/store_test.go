package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileStore_PutGet(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "root"))

	if _, err := s.Get("a.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}

	if err := s.Put("a.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("a.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	got, err := s.Get("a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("Get = %s, want last write", got)
	}
}

func TestFileStore_CreateExclusive(t *testing.T) {
	s := NewFileStore(t.TempDir())

	if err := s.Create("k.json", []byte("first")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("k.json", []byte("second")); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create: got %v, want ErrExists", err)
	}

	got, _ := s.Get("k.json")
	if string(got) != "first" {
		t.Errorf("value = %q, want first writer's value", got)
	}
}

func TestFileStore_CreateRace(t *testing.T) {
	s := NewFileStore(t.TempDir())

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create("race.json", []byte("x"))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestFileStore_ListSkipsDirsAndTemps(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)

	for _, k := range []string{"b.json", "a.json", "receipts/me.json"} {
		if err := s.Put(k, []byte("{}")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, ".c.json.123.tmp"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	keys, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a.json" || keys[1] != "b.json" {
		t.Errorf("List = %v, want [a.json b.json]", keys)
	}

	sub, err := s.List("receipts")
	if err != nil {
		t.Fatalf("List receipts: %v", err)
	}
	if len(sub) != 1 || sub[0] != "receipts/me.json" {
		t.Errorf("List receipts = %v", sub)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope"))
	keys, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestFileStore_DeleteMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Delete("gone.json"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestFileStore_InvalidKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"", "/abs", "../escape", "a/../../b", `win\path`, "."} {
		t.Run(key, func(t *testing.T) {
			if _, err := s.Get(key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Get(%q): got %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestFileStore_Unavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The root is a regular file, so every write must fail.
	s := NewFileStore(blocker)

	err := s.Put("k.json", []byte("{}"))
	if err == nil {
		t.Fatal("expected error writing under a file")
	}
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable(%v) = false", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "put" {
		t.Errorf("error = %#v, want *Error with op put", err)
	}
}

func TestFileStore_Dirs(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"team-b", "team-a", ".global"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	s := NewFileStore(dir)

	got, err := s.Dirs(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "team-a" || got[1] != "team-b" {
		t.Errorf("Dirs(false) = %v", got)
	}
	all, _ := s.Dirs(true)
	if len(all) != 3 {
		t.Errorf("Dirs(true) = %v", all)
	}
}
