// Package codecs implements the compression codecs of table data files.
package codecs

import (
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Codec names a compression codec, as given by the "compression" table option.
type Codec string

const (
	None      Codec = "none"
	Gzip      Codec = "gzip"
	Snappy    Codec = "snappy"
	Zstandard Codec = "zstd"
)

// Codecs lists all Codecs in their option order.
var Codecs = []Codec{None, Gzip, Snappy, Zstandard}

type impl struct {
	ext       string
	newReader func(io.Reader) (io.ReadCloser, error)
	newWriter func(io.Writer) (io.WriteCloser, error)
}

// impls of each Codec. Zstandard is filled in when built with cgo.
var impls = map[Codec]*impl{
	None: {
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil },
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return nopCloser{w}, nil },
	},
	Gzip: {
		ext:       ".gz",
		newReader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return gzip.NewWriter(w), nil },
	},
	Snappy: {
		ext:       ".sz",
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(snappy.NewReader(r)), nil },
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return snappy.NewBufferedWriter(w), nil },
	},
	Zstandard: {
		ext:       ".zst",
		newReader: func(io.Reader) (io.ReadCloser, error) { return nil, errZstdDisabled },
		newWriter: func(io.Writer) (io.WriteCloser, error) { return nil, errZstdDisabled },
	},
}

var errZstdDisabled = errors.New("zstd was not enabled at compile time")

func (c Codec) impl() (*impl, error) {
	if c == "" {
		c = None
	}
	if i, ok := impls[c]; ok {
		return i, nil
	}
	return nil, errors.Errorf("unsupported codec %q", string(c))
}

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	var _, err = c.impl()
	return err
}

// Extension is the file name suffix of content encoded with the Codec.
func (c Codec) Extension() string {
	if i, err := c.impl(); err == nil {
		return i.ext
	}
	return ""
}

// ContentEncoding of content encoded with the Codec. It's always empty:
// stores must return data files exactly as written, and a gzip
// Content-Encoding invites clients to decompress transparently.
func (c Codec) ContentEncoding() string { return "" }

// NewCodecReader returns a reader which decodes |r| with the Codec.
// Closing it releases decoder state but doesn't close |r|.
func NewCodecReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	var i, err = codec.impl()
	if err != nil {
		return nil, err
	}
	return i.newReader(r)
}

// NewCodecWriter returns a writer which encodes into |w| with the Codec.
// Closing it flushes remaining content but doesn't close |w|.
func NewCodecWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	var i, err = codec.impl()
	if err != nil {
		return nil, err
	}
	return i.newWriter(w)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
