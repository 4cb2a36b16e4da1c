package stores

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PrefixMarker is the object written beneath a prefix of a Store without
// real directories, so that an empty prefix is still observable.
const PrefixMarker = ".lakehouse_prefix"

// MakePrefix creates |prefix| within the Store. Stores implementing
// Directories create a directory, and others write a PrefixMarker object.
// MakePrefix is idempotent: an existing prefix is not an error.
func MakePrefix(ctx context.Context, s Store, prefix string) error {
	if as, ok := s.(*ActiveStore); ok {
		return as.MakePrefix(ctx, prefix)
	}
	return makePrefix(ctx, s, prefix)
}

// RemovePrefix removes |prefix| and all content beneath it. Object stores
// remove listed objects with up to |concurrency| parallel requests.
// RemovePrefix is idempotent: a missing prefix is not an error.
func RemovePrefix(ctx context.Context, s Store, prefix string, concurrency int) error {
	if as, ok := s.(*ActiveStore); ok {
		return as.RemovePrefix(ctx, prefix, concurrency)
	}
	return removePrefix(ctx, s, prefix, concurrency)
}

// PrefixExists returns whether |prefix| exists within the Store.
func PrefixExists(ctx context.Context, s Store, prefix string) (bool, error) {
	if as, ok := s.(*ActiveStore); ok {
		return as.PrefixExists(ctx, prefix)
	}
	return prefixExists(ctx, s, prefix)
}

func makePrefix(ctx context.Context, s Store, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")

	if d, ok := s.(Directories); ok {
		return d.MkdirAll(ctx, prefix)
	}
	return s.Put(ctx, prefix+"/"+PrefixMarker, bytes.NewReader(nil), 0, "")
}

func removePrefix(ctx context.Context, s Store, prefix string, concurrency int) error {
	prefix = strings.TrimSuffix(prefix, "/")

	if d, ok := s.(Directories); ok {
		return d.RemoveAll(ctx, prefix)
	}

	var paths []string
	if err := s.List(ctx, prefix+"/", func(path string, _ time.Time) error {
		paths = append(paths, prefix+"/"+path)
		return nil
	}); err != nil {
		return err
	}
	// The marker is listed like any other object, but remove it last so that
	// a partially removed prefix remains observable and is retried.
	var marker = prefix + "/" + PrefixMarker

	var group, groupCtx = errgroup.WithContext(ctx)
	if concurrency > 0 {
		group.SetLimit(concurrency)
	}
	for _, path := range paths {
		if path == marker {
			continue
		}
		var path = path
		group.Go(func() error { return s.Remove(groupCtx, path) })
	}
	if err := group.Wait(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"provider": s.Provider(),
		"prefix":   prefix,
		"objects":  len(paths),
	}).Debug("removed prefix objects")

	return s.Remove(ctx, marker)
}

func prefixExists(ctx context.Context, s Store, prefix string) (bool, error) {
	prefix = strings.TrimSuffix(prefix, "/")

	if d, ok := s.(Directories); ok {
		return d.IsDir(ctx, prefix)
	}

	var err = s.List(ctx, prefix+"/", func(string, time.Time) error { return errFound })
	if errors.Is(err, errFound) {
		return true, nil
	}
	return false, err
}

var errFound = errors.New("found")
