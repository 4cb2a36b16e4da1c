// Package providers registers the store backends which tablespace
// protocols map onto.
package providers

import (
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/stores/azure"
	"go.lakehouse.dev/core/stores/fs"
	"go.lakehouse.dev/core/stores/gcs"
	"go.lakehouse.dev/core/stores/s3"
)

// Register all built-in providers, keyed on URL scheme.
func Register() {
	stores.RegisterProviders(map[string]stores.Constructor{
		"azure": azure.New,
		"file":  fs.New,
		"gs":    gcs.New,
		"s3":    s3.New,
	})
}
