package stores

import (
	"net/url"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// ParseQueryArgs decodes the query of store URL |ep| into |args|, which is a
// pointer to a struct of provider arguments. Unknown arguments are an error:
// they're usually a misspelled tablespace option.
func ParseQueryArgs(ep *url.URL, args interface{}) error {
	var q, err = url.ParseQuery(ep.RawQuery)
	if err != nil {
		return errors.WithMessage(err, "parsing store URL query")
	}
	var dec = schema.NewDecoder()
	dec.IgnoreUnknownKeys(false)

	if err = dec.Decode(args, q); err != nil {
		return errors.WithMessagef(err, "parsing %s store URL arguments", ep.Scheme)
	}
	return nil
}

// SplitBucket returns the bucket and key prefix of object store URL |ep|.
// A non-empty prefix always ends in '/'.
func SplitBucket(ep *url.URL) (bucket, prefix string) {
	bucket, prefix = ep.Host, ep.Path
	for len(prefix) != 0 && prefix[0] == '/' {
		prefix = prefix[1:]
	}
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return bucket, prefix
}
