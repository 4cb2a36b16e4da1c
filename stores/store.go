// Package stores provides Stores of relation resources: the directories of
// tables and the data and metadata files within them, held by a local file
// system or a cloud object store.
package stores

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Store is a file system or object store. Paths are slash-separated and
// relative to the root given by the store's URL.
type Store interface {
	// Provider names the backend, such as "s3" or "fs".
	Provider() string
	// Exists returns whether an object exists at |path|.
	Exists(ctx context.Context, path string) (bool, error)
	// Get returns the content of |path|, exactly as it was Put.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Put writes |contentLength| bytes of |content| to |path|. The content
	// is durable, and fully visible to readers, once Put returns.
	// A non-empty |contentEncoding| is recorded as object metadata.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error
	// List calls |callback| with each object beneath |prefix|, by its path
	// relative to |prefix|. An error of |callback| stops and fails the List.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error
	// Remove the object at |path|. A missing object is not an error.
	Remove(ctx context.Context, path string) error
	// IsAuthError returns whether |err| means the store is inaccessible,
	// as with a missing bucket or denied permission.
	IsAuthError(error) bool
}

// Directories is implemented by Stores having real directories, such as
// local file systems. Prefix operations use it in place of marker objects.
type Directories interface {
	// MkdirAll creates the directory at |path| along with any parents.
	// It's not an error if the directory already exists.
	MkdirAll(ctx context.Context, path string) error
	// RemoveAll removes |path| and everything it contains.
	// It's not an error if |path| doesn't exist.
	RemoveAll(ctx context.Context, path string) error
	// IsDir returns whether a directory exists at |path|.
	IsDir(ctx context.Context, path string) (bool, error)
}

// Constructor builds the Store of a URL. Providers register a Constructor
// for each URL scheme they serve.
type Constructor func(*url.URL) (Store, error)
