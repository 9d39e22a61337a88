// Package fsdir gives the locker engine a flat, name-addressed view of one
// directory. All operations go through os.Root, so nothing outside the
// directory can be read or written, and names are single path elements.
package fsdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	FilePerm   = 0644
	tempPrefix = ".lockersim-"
	tempSuffix = ".tmp"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalidName = errors.New("invalid file name")
	ErrNotDir      = errors.New("not a directory")
)

// Entry describes one directory entry
type Entry struct {
	Name    string
	Size    int64
	IsDir   bool
	Regular bool
	ModTime time.Time
}

// Dir is a directory opened for locking and unlocking
type Dir struct {
	root *os.Root
	path string
}

// Open opens the directory at path. A missing path yields ErrNotFound.
func Open(path string) (*Dir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, absPath)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, absPath)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}

	return &Dir{root: root, path: absPath}, nil
}

// Close releases the directory handle
func (d *Dir) Close() error {
	return d.root.Close()
}

// Path returns the absolute directory path
func (d *Dir) Path() string {
	return d.path
}

// ValidateName accepts only a single local path element
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// IsTemp reports whether name is a temporary file created by Write
func IsTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// List returns the directory entries sorted by name. Symlinks are reported
// as non-regular and are never followed.
func (d *Dir) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := d.root.Open(".")
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	defer f.Close()

	dirents, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			IsDir:   info.IsDir(),
			Regular: info.Mode().IsRegular(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

// Read returns the content of name
func (d *Dir) Read(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := d.root.ReadFile(name)
	if err != nil {
		return nil, mapErr(name, err)
	}
	return data, nil
}

// Write durably stores data under name: the bytes go to a temporary file
// which is synced and then published. Without overwrite, an existing name
// yields ErrExists and is left untouched.
func (d *Dir) Write(name string, data []byte, overwrite bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	tmp := tempPrefix + uuid.NewString() + tempSuffix
	if err := d.writeTemp(tmp, data); err != nil {
		d.root.Remove(tmp)
		return err
	}

	var err error
	if overwrite {
		err = d.root.Rename(tmp, name)
	} else {
		err = d.publishExclusive(tmp, name)
	}
	if err != nil {
		d.root.Remove(tmp)
		return err
	}

	return d.syncDir()
}

func (d *Dir) writeTemp(tmp string, data []byte) error {
	f, err := d.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePerm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	return f.Close()
}

func (d *Dir) publishExclusive(tmp, name string) error {
	err := d.root.Link(tmp, name)
	if err == nil {
		return d.root.Remove(tmp)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}

	// Filesystems without hard links: check, then rename
	if _, statErr := d.root.Lstat(name); statErr == nil {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := d.root.Rename(tmp, name); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

func (d *Dir) syncDir() error {
	f, err := d.root.Open(".")
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// Delete removes name
func (d *Dir) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := d.root.Remove(name); err != nil {
		return mapErr(name, err)
	}
	return nil
}

func mapErr(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
