package stores

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore is a Store of objects held in memory, used by tests.
type MemoryStore struct {
	URL *url.URL

	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	content []byte
	modTime time.Time
}

// NewMemoryStore returns an empty MemoryStore of |ep|, which may be nil.
func NewMemoryStore(ep *url.URL) *MemoryStore {
	return &MemoryStore{URL: ep, objects: make(map[string]memoryObject)}
}

// NewMemoryConstructor returns a Constructor of MemoryStores. Constructing
// the same URL again returns the same MemoryStore, so content outlives an
// evicted ActiveStore as it would in a real bucket.
func NewMemoryConstructor() Constructor {
	var mu sync.Mutex
	var built = make(map[string]*MemoryStore)

	return func(ep *url.URL) (Store, error) {
		mu.Lock()
		defer mu.Unlock()

		var s, ok = built[ep.String()]
		if !ok {
			s = NewMemoryStore(ep)
			built[ep.String()] = s
		}
		return s, nil
	}
}

func (m *MemoryStore) Provider() string { return "memory" }

func (m *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var _, ok = m.objects[path]
	return ok, nil
}

func (m *MemoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var obj, ok = m.objects[path]
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "memory store %q", path)
	}
	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

func (m *MemoryStore) Put(_ context.Context, path string, content io.ReaderAt, contentLength int64, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return errors.WithMessagef(err, "reading content of %q", path)
	}

	m.mu.Lock()
	m.objects[path] = memoryObject{content: buf.Bytes(), modTime: time.Now()}
	m.mu.Unlock()

	return nil
}

// List objects having |prefix| in lexicographic order. The callback may
// modify the MemoryStore.
func (m *MemoryStore) List(_ context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	type entry struct {
		path    string
		modTime time.Time
	}
	var entries []entry

	m.mu.Lock()
	for p, obj := range m.objects {
		if strings.HasPrefix(p, prefix) {
			entries = append(entries, entry{p, obj.modTime})
		}
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	for _, e := range entries {
		if err := callback(strings.TrimPrefix(e.path, prefix), e.modTime); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) IsAuthError(error) bool { return false }
