// Package gcs is the Store of tablespaces having protocol "gs".
package gcs

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/stores"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// StoreQueryArgs are the query arguments of a gs:// store URL.
type StoreQueryArgs struct {
	// Endpoint of an emulator, such as fake-gcs-server. Requests to it
	// are unauthenticated.
	Endpoint string
}

type store struct {
	bucket string
	prefix string
	args   StoreQueryArgs
	client *storage.Client
}

// New returns a GCS Store of the bucket and prefix of |ep|.
func New(ep *url.URL) (stores.Store, error) {
	var s = new(store)
	if err := stores.ParseQueryArgs(ep, &s.args); err != nil {
		return nil, err
	}
	s.bucket, s.prefix = stores.SplitBucket(ep)

	var opts, err = clientOptions(s.args)
	if err != nil {
		return nil, err
	}
	if s.client, err = storage.NewClient(context.Background(), opts...); err != nil {
		return nil, errors.WithMessage(err, "building GCS client")
	}

	log.WithFields(log.Fields{
		"bucket":   s.bucket,
		"prefix":   s.prefix,
		"endpoint": s.args.Endpoint,
	}).Info("opened gcs store")

	return s, nil
}

func clientOptions(args StoreQueryArgs) ([]option.ClientOption, error) {
	if args.Endpoint != "" {
		return []option.ClientOption{
			option.WithEndpoint(args.Endpoint),
			option.WithoutAuthentication(),
		}, nil
	}
	var creds, err = google.FindDefaultCredentials(context.Background(), storage.ScopeFullControl)
	if err != nil {
		return nil, errors.WithMessage(err, "finding default GCP credentials")
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + path)
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.object(path).NewReader(ctx)
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	// Cancelling the Writer's context aborts a partial upload.
	var ctx2, cancel = context.WithCancel(ctx)
	defer cancel()

	var w = s.object(path).NewWriter(ctx2)
	w.ContentEncoding = contentEncoding

	if _, err := io.Copy(w, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return err
	}
	return w.Close()
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	var full = s.prefix + prefix
	var it = s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: full})

	for {
		var attrs, err = it.Next()
		if err == iterator.Done {
			return nil
		} else if err != nil {
			return err
		} else if strings.HasSuffix(attrs.Name, "/") {
			continue // Prefix marker.
		}
		if err = callback(strings.TrimPrefix(attrs.Name, full), attrs.Updated); err != nil {
			return err
		}
	}
}

func (s *store) Remove(ctx context.Context, path string) error {
	if err := s.object(path).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (s *store) IsAuthError(err error) bool {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	// A missing object is an ordinary 404. A missing bucket means the
	// tablespace is misconfigured.
	return apiErr.Code == http.StatusForbidden ||
		apiErr.Code == http.StatusNotFound && strings.Contains(apiErr.Message, "bucket")
}
