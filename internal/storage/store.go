// Package storage is the replicated key/value layer the coordination
// components sit on. A Store is a directory tree that version control
// replicates between machines: keys are slash-separated relative paths and
// values are opaque bytes (JSON documents in practice).
//
// Two write primitives are offered. Put replaces a key atomically through a
// temp file and rename, so readers never observe a torn value and the last
// writer wins. Create writes a key only if it does not exist yet, which is
// the closest thing to compare-and-set a plain filesystem gives us.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrExists is returned by Create when the key is already present.
	ErrExists = errors.New("key already exists")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Error reports a storage operation that could not be completed because the
// underlying directory is unreadable or unwritable. Callers must treat it as
// "storage unavailable" and never make a decision from a failed read.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnavailable reports whether err came from a storage failure rather than
// from an expected outcome such as ErrNotFound or ErrExists.
func IsUnavailable(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Store defines the persistence interface used by leases and mail.
// Abstracted for testability.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
	Create(key string, data []byte) error
	Delete(key string) error
	List(prefix string) ([]string, error)
	Root() string
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at dir. The directory is created
// lazily on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: filepath.Clean(dir)}
}

// Root returns the directory backing the store.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Get reads the value stored under key.
func (s *FileStore) Get(key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

// Put atomically replaces the value under key.
func (s *FileStore) Put(key string, data []byte) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	tmpName, err := writeTemp(dir, filepath.Base(p), data)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return &Error{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Create writes data under key only if the key does not exist. When two
// writers race, exactly one succeeds and the other gets ErrExists. The value
// is staged in a temp file and hard-linked into place, so a reader never
// sees a partially written key.
func (s *FileStore) Create(key string, data []byte) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "create", Key: key, Err: err}
	}

	tmpName, err := writeTemp(dir, filepath.Base(p), data)
	if err != nil {
		return &Error{Op: "create", Key: key, Err: err}
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return &Error{Op: "create", Key: key, Err: err}
	}
	return nil
}

func writeTemp(dir, base string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns the keys directly under prefix, sorted. Subdirectories and
// in-flight temp files are skipped. A missing prefix lists as empty.
func (s *FileStore) List(prefix string) ([]string, error) {
	dir := s.root
	if prefix != "" {
		p, err := s.resolve(prefix)
		if err != nil {
			return nil, err
		}
		dir = p
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if prefix == "" {
			keys = append(keys, name)
		} else {
			keys = append(keys, path.Join(prefix, name))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Dirs returns the immediate subdirectory names of the store root, sorted.
// Hidden directories are included only when hidden is true.
func (s *FileStore) Dirs(hidden bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &Error{Op: "list", Err: err}
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !hidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Ensure creates the store root if it does not exist.
func (s *FileStore) Ensure() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return &Error{Op: "ensure", Err: err}
	}
	return nil
}
