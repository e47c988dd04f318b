package media

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// ErrInvalidValues is returned when content values cannot describe an item.
var ErrInvalidValues = errors.New("invalid content values")

// ErrNotFound is returned by Lookup for an unknown id.
var ErrNotFound = errors.New("media item not found")

// Collection is a media collection an item is inserted into.
type Collection string

// ImagesExternal is the shared external images collection.
const ImagesExternal Collection = "external/images"

// ContentValues describe an item to insert.
type ContentValues struct {
	DisplayName  string // file name without extension
	MIMEType     string
	RelativePath string // e.g. "Pictures/StillGo"
}

// Location identifies a stored item.
type Location struct {
	ID   string
	URI  string // content://media/external/images/media/<id>
	Path string // file on disk
}

func (l Location) String() string { return l.URI }

// Item is an indexed media item.
type Item struct {
	Location
	MIMEType string
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Store writes media items under a root directory and indexes them by id.
// It is safe for concurrent use.
type Store struct {
	root string

	mu    sync.Mutex
	items map[string]Item
}

// NewStore returns a store rooted at root. The directory is created lazily.
func NewStore(root string) *Store {
	return &Store{root: root, items: make(map[string]Item)}
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

func (v ContentValues) validate() error {
	if strings.TrimSpace(v.DisplayName) == "" {
		return fmt.Errorf("%w: empty display name", ErrInvalidValues)
	}
	if strings.ContainsAny(v.DisplayName, `/\`) {
		return fmt.Errorf("%w: display name %q contains a path separator", ErrInvalidValues, v.DisplayName)
	}
	if _, ok := extensions[v.MIMEType]; !ok {
		return fmt.Errorf("%w: unsupported MIME type %q", ErrInvalidValues, v.MIMEType)
	}
	rel := path.Clean(v.RelativePath)
	if v.RelativePath == "" || path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("%w: relative path %q", ErrInvalidValues, v.RelativePath)
	}
	return nil
}

// Save inserts data into collection. A display name already taken in the
// target directory gets a " (n)" suffix instead of being overwritten.
func (s *Store) Save(collection Collection, values ContentValues, data []byte) (Location, error) {
	if collection != ImagesExternal {
		return Location{}, fmt.Errorf("%w: unknown collection %q", ErrInvalidValues, collection)
	}
	if err := values.validate(); err != nil {
		return Location{}, err
	}

	dir := filepath.Join(s.root, filepath.FromSlash(path.Clean(values.RelativePath)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Location{}, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return Location{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Location{}, fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Location{}, fmt.Errorf("close %s: %w", tmpName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ext := extensions[values.MIMEType]
	target := s.freeName(dir, values.DisplayName, ext)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return Location{}, fmt.Errorf("publish %s: %w", target, err)
	}

	id := uuid.NewString()
	loc := Location{
		ID:   id,
		URI:  "content://media/" + string(collection) + "/media/" + id,
		Path: target,
	}
	s.items[id] = Item{Location: loc, MIMEType: values.MIMEType}
	debug.Saved(loc.URI)
	debug.Verbose("Media: %s -> %s (%d bytes)", loc.URI, target, len(data))
	return loc, nil
}

// freeName returns dir/name+ext, or dir/name (n)+ext for the first free n.
// Caller holds s.mu.
func (s *Store) freeName(dir, name, ext string) string {
	candidate := filepath.Join(dir, name+ext)
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, n, ext))
	}
}

// Lookup returns the item with the given id.
func (s *Store) Lookup(id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Len returns the number of items saved through this store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
