package lease

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty paths and paths naming the
	// workspace root itself.
	ErrInvalidPath = errors.New("invalid path")
	// ErrOutsideWorkspace is returned for paths that resolve outside the
	// workspace.
	ErrOutsideWorkspace = errors.New("path outside workspace")
)

// Normalize converts p into the canonical workspace-relative form used as
// the reservation identity: cleaned, slash-separated, no leading "./".
// Relative inputs are interpreted against workspace.
func Normalize(workspace, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalidPath
	}

	ws := filepath.Clean(workspace)
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(ws, p)
	}

	rel, err := relInside(ws, abs)
	if errors.Is(err, ErrOutsideWorkspace) {
		// The workspace may have been resolved through a symlink while the
		// caller passed the other spelling (macOS /tmp vs /private/tmp).
		if resolved, rerr := filepath.EvalSymlinks(filepath.Dir(abs)); rerr == nil {
			rel, err = relInside(ws, filepath.Join(resolved, filepath.Base(abs)))
		}
		if errors.Is(err, ErrOutsideWorkspace) {
			if wsResolved, rerr := filepath.EvalSymlinks(ws); rerr == nil {
				rel, err = relInside(wsResolved, abs)
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, p)
	}
	return rel, nil
}

func relInside(ws, abs string) (string, error) {
	rel, err := filepath.Rel(ws, filepath.Clean(abs))
	if err != nil {
		return "", ErrOutsideWorkspace
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrOutsideWorkspace
	}
	if rel == "." {
		return "", ErrInvalidPath
	}
	return rel, nil
}

// Key returns the storage key for a normalized path: the first twelve hex
// digits of its SHA-1, so arbitrary paths map onto flat, filesystem-safe
// file names.
func Key(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:12] + ".json"
}
