package stores

import (
	"context"
	"io"
	"net/url"
	"time"
)

// ActiveStore is a built Store, instrumented with metrics, which also
// offers the prefix operations of relation resources.
type ActiveStore struct {
	Store Store
	// Label is the store URL without its query, which may hold secrets.
	// It names the store in metrics and logs.
	Label string
}

// NewActiveStore wraps |store| built from |ep|. Outside of tests, use Get.
func NewActiveStore(ep *url.URL, store Store) *ActiveStore {
	var label = url.URL{Scheme: ep.Scheme, Host: ep.Host, Path: ep.Path}
	return &ActiveStore{Store: store, Label: label.String()}
}

func (s *ActiveStore) Provider() string { return s.Store.Provider() }
func (s *ActiveStore) IsAuthError(err error) bool { return s.Store.IsAuthError(err) }

func (s *ActiveStore) Exists(ctx context.Context, path string) (bool, error) {
	var done = s.timed("exists")
	var ok, err = s.Store.Exists(ctx, path)
	return ok, done(err)
}

func (s *ActiveStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var done = s.timed("get")
	var rc, err = s.Store.Get(ctx, path)
	return rc, done(err)
}

func (s *ActiveStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var done = s.timed("put")
	if err := done(s.Store.Put(ctx, path, content, contentLength, contentEncoding)); err != nil {
		return err
	}

	var enc = contentEncoding
	if enc == "" {
		enc = "none"
	}
	storePutBytesTotal.WithLabelValues(s.Label, enc).Add(float64(contentLength))
	return nil
}

func (s *ActiveStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var done = s.timed("list")
	return done(s.Store.List(ctx, prefix, callback))
}

func (s *ActiveStore) Remove(ctx context.Context, path string) error {
	var done = s.timed("remove")
	return done(s.Store.Remove(ctx, path))
}

// MakePrefix is the instrumented MakePrefix of the ActiveStore.
func (s *ActiveStore) MakePrefix(ctx context.Context, prefix string) error {
	var done = s.timed("make_prefix")
	return done(makePrefix(ctx, s.Store, prefix))
}

// RemovePrefix is the instrumented RemovePrefix of the ActiveStore.
func (s *ActiveStore) RemovePrefix(ctx context.Context, prefix string, concurrency int) error {
	var done = s.timed("remove_prefix")
	return done(removePrefix(ctx, s.Store, prefix, concurrency))
}

// PrefixExists is the instrumented PrefixExists of the ActiveStore.
func (s *ActiveStore) PrefixExists(ctx context.Context, prefix string) (bool, error) {
	var done = s.timed("prefix_exists")
	var ok, err = prefixExists(ctx, s.Store, prefix)
	return ok, done(err)
}

// timed starts a timer of |op|. The returned function records the outcome
// of |op| and passes its error through.
func (s *ActiveStore) timed(op string) func(error) error {
	var started = time.Now()

	return func(err error) error {
		var status = "ok"
		if err != nil {
			status = "error"
		}
		storeOperationTotal.WithLabelValues(s.Label, op, status).Inc()
		storeOperationDuration.WithLabelValues(s.Label, op, status).Observe(time.Since(started).Seconds())
		return err
	}
}
