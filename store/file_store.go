package store

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements a Store rooted at a real directory. Keys are
// root-relative, forward-slash paths and may contain intermediate
// directories, e.g. "data/images/page-1.tif" — unlike the flat,
// slash-forbidding keys of a plain blob store, a bag's data/ tree needs
// to nest arbitrarily.
type FileSystem struct {
	root string
}

const (
	// the subdir files are staged into while being written.
	scratchdir = ".scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrKeyEscapesRoot means the key, once joined to the store root and
	// cleaned, no longer lies under the root.
	ErrKeyEscapesRoot = errors.New("key escapes store root")

	// ErrKeyContainsNonUnicode means the key contains a non-unicode rune.
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsControlChar means the key contains a control character.
	ErrKeyContainsControlChar = errors.New("key contains control character")
)

// NewFileSystem creates a new FileSystem store rooted at the given path.
// The directory is not required to already exist.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: filepath.Clean(root)}
}

// Root returns the path this store is rooted at, as given to
// NewFileSystem after filepath.Clean; a relative root stays relative.
func (s *FileSystem) Root() string { return s.root }

// List returns every key currently present in the store.
func (s *FileSystem) List() ([]string, error) {
	var result []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			log.Println(err)
			raven.CaptureError(err, nil)
			return err
		}
		if d.IsDir() {
			if d.Name() == scratchdir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		result = append(result, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListPrefix returns every key beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	return result, nil
}

// Open returns a reader for the given key along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	fname, err := s.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(fname)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Exists reports whether key currently has contents.
func (s *FileSystem) Exists(key string) (bool, error) {
	fname, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fname)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Create creates (or replaces) the item at key, returning a writer to
// save its contents. Contents are staged in a scratch directory and
// renamed into place on Close, so a reader can never observe a
// partially written file.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0775); err != nil {
		return nil, err
	}
	scratch := filepath.Join(s.root, scratchdir)
	if err := os.MkdirAll(scratch, 0775); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(scratch, "bag-*")
	if err != nil {
		return nil, err
	}
	return &moveCloser{tmp, tmp.Name(), target}, nil
}

// resolve joins key to the store root and verifies the result still
// lies under the root, guarding against ".."-escape.
func (s *FileSystem) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(key)))
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return "", ErrKeyEscapesRoot
	}
	return clean, nil
}

// moveCloser buffers a write to a scratch file, renaming it into place
// once the writer is closed.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	return os.Rename(w.source, w.target)
}

// Delete removes the given key. It is not an error if the key does not exist.
func (s *FileSystem) Delete(key string) error {
	fname, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(fname)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// PruneEmptyDirs removes now-empty parent directories of key, walking
// upward until it reaches stopAt (exclusive) or hits a non-empty
// directory. Used by the bagit engine after RemoveFile so a payload
// removal doesn't leave a trail of empty directories under data/.
func (s *FileSystem) PruneEmptyDirs(key, stopAt string) error {
	stop, err := s.resolve(stopAt)
	if err != nil {
		return err
	}
	dir, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir = filepath.Dir(dir)
	for dir != stop && (dir == s.root || strings.HasPrefix(dir, s.root+string(filepath.Separator))) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return err
		}
		if len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// isKeyValid performs the cheap, pre-filesystem checks on a key before
// it is turned into a path.
func isKeyValid(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
