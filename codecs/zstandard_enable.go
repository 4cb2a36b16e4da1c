//go:build !nozstd

package codecs

import (
	"io"

	"github.com/DataDog/zstd"
)

func init() {
	impls[Zstandard].newReader = func(r io.Reader) (io.ReadCloser, error) { return zstd.NewReader(r), nil }
	impls[Zstandard].newWriter = func(w io.Writer) (io.WriteCloser, error) { return zstd.NewWriter(w), nil }
}
