package stores

import (
	"context"
	"io"
	"time"
)

// CallbackStore is a Store for tests which injects failures or observes
// calls. Operations having a nil Func are passed to the wrapped Store,
// and succeed trivially if there is none.
type CallbackStore struct {
	Store

	ExistsFunc func(ctx context.Context, path string) (bool, error)
	GetFunc    func(ctx context.Context, path string) (io.ReadCloser, error)
	PutFunc    func(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error
	ListFunc   func(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error
	RemoveFunc func(ctx context.Context, path string) error
}

func (c *CallbackStore) Provider() string {
	if c.Store == nil {
		return "callback"
	}
	return c.Store.Provider()
}

func (c *CallbackStore) Exists(ctx context.Context, path string) (bool, error) {
	switch {
	case c.ExistsFunc != nil:
		return c.ExistsFunc(ctx, path)
	case c.Store != nil:
		return c.Store.Exists(ctx, path)
	}
	return false, nil
}

func (c *CallbackStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	switch {
	case c.GetFunc != nil:
		return c.GetFunc(ctx, path)
	case c.Store != nil:
		return c.Store.Get(ctx, path)
	}
	return io.NopCloser(eofReader{}), nil
}

func (c *CallbackStore) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	switch {
	case c.PutFunc != nil:
		return c.PutFunc(ctx, path, content, contentLength, contentEncoding)
	case c.Store != nil:
		return c.Store.Put(ctx, path, content, contentLength, contentEncoding)
	}
	return nil
}

func (c *CallbackStore) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	switch {
	case c.ListFunc != nil:
		return c.ListFunc(ctx, prefix, callback)
	case c.Store != nil:
		return c.Store.List(ctx, prefix, callback)
	}
	return nil
}

func (c *CallbackStore) Remove(ctx context.Context, path string) error {
	switch {
	case c.RemoveFunc != nil:
		return c.RemoveFunc(ctx, path)
	case c.Store != nil:
		return c.Store.Remove(ctx, path)
	}
	return nil
}

func (c *CallbackStore) IsAuthError(err error) bool {
	return c.Store != nil && c.Store.IsAuthError(err)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
