package tablespace

import (
	"fmt"
	"strconv"
	"strings"
)

// Category groups option definitions by the storage backend they configure.
type Category int

const (
	Common Category = iota
	S3
	GCS
	Azure
	FileSystem
	Table
)

func (c Category) String() string {
	switch c {
	case Common:
		return "common"
	case S3:
		return "s3"
	case GCS:
		return "gcs"
	case Azure:
		return "azure"
	case FileSystem:
		return "fs"
	case Table:
		return "table"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Kind is the value type of an option.
type Kind int

const (
	String Kind = iota
	Bool
	Int
	Enum
)

// Def defines a custom option: its name, category, value kind and the
// normalization applied to its value.
type Def struct {
	Name        string
	Category    Category
	Kind        Kind
	Default     string   // Used if the option is given without a value.
	Min, Max    int      // Bounds of Int options.
	Values      []string // Allowed values of Enum options.
	Description string
}

// Option names.
const (
	OptProtocol        = "protocol"
	OptBucket          = "bucket"
	OptRegion          = "region"
	OptEndpoint        = "endpoint"
	OptAllowHTTP       = "allow_http"
	OptAccessKeyID     = "access_key_id"
	OptSecretAccessKey = "secret_access_key"
	OptIOConcurrency   = "io_concurrency"
	OptAccount         = "account"
	OptContainer       = "container"
	OptBlobDomain      = "blob_domain"

	OptCompression   = "compression"
	OptFormatVersion = "format_version"
)

// Storage protocols of a tablespace.
const (
	ProtocolS3    = "s3"
	ProtocolGCS   = "gcs"
	ProtocolAzure = "azure"
	ProtocolFS    = "fs"
)

// DefaultIOConcurrency is used by tablespaces which don't set io_concurrency.
const DefaultIOConcurrency = 4

// StorageDefs are the custom options of CREATE TABLESPACE.
var StorageDefs = []Def{
	{Name: OptProtocol, Category: Common, Kind: Enum, Default: ProtocolS3,
		Values:      []string{ProtocolS3, ProtocolGCS, ProtocolAzure, ProtocolFS},
		Description: "Storage protocol (s3, gcs, azure, fs)"},

	{Name: OptBucket, Category: S3, Kind: String, Description: "Bucket name"},
	{Name: OptRegion, Category: S3, Kind: String, Default: "us-east-1", Description: "AWS region"},
	{Name: OptEndpoint, Category: S3, Kind: String, Description: "Custom endpoint (for MinIO etc)"},
	{Name: OptAllowHTTP, Category: S3, Kind: Bool, Description: "Allow HTTP connections (insecure)"},
	{Name: OptAccessKeyID, Category: S3, Kind: String, Description: "S3 access key ID"},
	{Name: OptSecretAccessKey, Category: S3, Kind: String, Description: "S3 secret access key"},

	{Name: OptAccount, Category: Azure, Kind: String, Description: "Azure storage account"},
	{Name: OptContainer, Category: Azure, Kind: String, Description: "Azure blob container"},
	{Name: OptBlobDomain, Category: Azure, Kind: String, Description: "Azure blob service domain"},

	{Name: OptIOConcurrency, Category: FileSystem, Kind: Int, Min: 1, Max: 64,
		Description: "IO concurrency of resource operations"},
}

// TableDefs are the custom options of CREATE TABLE and ALTER TABLE.
var TableDefs = []Def{
	{Name: OptCompression, Category: Table, Kind: Enum, Default: "none",
		Values:      []string{"none", "gzip", "snappy", "zstd"},
		Description: "Compression codec of data files"},
	{Name: OptFormatVersion, Category: Table, Kind: Int, Min: 1, Max: 2,
		Description: "Table format version"},
}

// FindDef returns the Def of |name| within |defs|, or nil.
func FindDef(defs []Def, name string) *Def {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i]
		}
	}
	return nil
}

// normalize validates |raw| against the Def, returning the normalized value
// and whether the option has a value at all.
func (d *Def) normalize(raw RawOption) (string, bool, error) {
	switch d.Kind {
	case Bool:
		var v = "true" // A bool option without a value means "true".
		if !raw.NoValue {
			v = raw.Value
		}
		var b, ok = ParseBool(v)
		if !ok {
			return "", false, fmt.Errorf("invalid boolean value %q", v)
		}
		return strconv.FormatBool(b), true, nil

	case Int:
		if raw.NoValue {
			return "", false, fmt.Errorf("numeric option requires a value")
		}
		var i, err = strconv.Atoi(strings.TrimSpace(raw.Value))
		if err != nil {
			return "", false, fmt.Errorf("invalid integer value %q", raw.Value)
		} else if i < d.Min {
			return "", false, fmt.Errorf("value %d is less than minimum %d", i, d.Min)
		} else if i > d.Max {
			return "", false, fmt.Errorf("value %d is greater than maximum %d", i, d.Max)
		}
		return strconv.Itoa(i), true, nil

	case Enum:
		var v = d.Default
		if !raw.NoValue {
			v = raw.Value
		}
		for _, allowed := range d.Values {
			if v == allowed {
				return v, true, nil
			}
		}
		return "", false, fmt.Errorf("invalid value %q. Allowed values are: %s",
			v, strings.Join(d.Values, ", "))

	default:
		if !raw.NoValue {
			return raw.Value, true, nil
		}
		return d.Default, d.Default != "", nil
	}
}

// ParseBool parses the boolean spellings accepted by the host.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "on", "1":
		return true, true
	case "false", "f", "no", "n", "off", "0":
		return false, true
	}
	return false, false
}
