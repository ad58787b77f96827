// Package files reads and writes whole files on behalf of tool calls.
//
// With no root configured paths are used as given. With a root, relative
// paths resolve under it, absolute paths must already lie inside it, and
// every operation goes through os.Root so symlinks cannot leave the tree.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File and directory modes used by Write.
const (
	FileMode os.FileMode = 0o644
	DirMode  os.FileMode = 0o755
)

var (
	// ErrPathRequired is returned for an empty path.
	ErrPathRequired = errors.New("path is required")

	// ErrOutsideRoot is returned when a path resolves outside the root.
	ErrOutsideRoot = errors.New("path escapes root")
)

// Accessor performs file reads and writes.
type Accessor struct {
	root string
}

// New returns an Accessor. An empty root leaves paths unrestricted.
func New(root string) (*Accessor, error) {
	if strings.TrimSpace(root) == "" {
		return &Accessor{}, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("files root: %w", err)
	}
	return &Accessor{root: abs}, nil
}

// Root returns the absolute root, or "" when unrestricted.
func (a *Accessor) Root() string {
	return a.root
}

// Read returns the full contents of path.
func (a *Accessor) Read(path string) (string, error) {
	if a.root == "" {
		if path == "" {
			return "", ErrPathRequired
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	rel, err := a.resolve(path)
	if err != nil {
		return "", err
	}
	r, err := os.OpenRoot(a.root)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := r.ReadFile(rel)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Write replaces the contents of path, creating missing parent directories.
func (a *Accessor) Write(path, content string) error {
	if a.root == "" {
		if path == "" {
			return ErrPathRequired
		}
		if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(content), FileMode)
	}

	rel, err := a.resolve(path)
	if err != nil {
		return err
	}
	r, err := os.OpenRoot(a.root)
	if err != nil {
		return err
	}
	defer r.Close()
	if dir := filepath.Dir(rel); dir != "." {
		if err := r.MkdirAll(dir, DirMode); err != nil {
			return err
		}
	}
	return r.WriteFile(rel, []byte(content), FileMode)
}

// resolve maps path to a clean path relative to the root.
func (a *Accessor) resolve(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", ErrPathRequired
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(a.root, p)
	}
	p = filepath.Clean(p)
	if !isWithin(p, a.root) || p == a.root {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return filepath.Rel(a.root, p)
}

func isWithin(path, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
