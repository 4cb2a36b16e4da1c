// Package tablespace parses and validates the custom options of tablespaces
// and tables, resolves a tablespace to the store holding its relations, and
// computes relation locations within that store.
package tablespace

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.lakehouse.dev/core/tamerr"
)

// RawOption is an option as it appears in a DDL statement's WITH clause.
// NoValue is set if the option was given as a bare name.
type RawOption struct {
	Name    string
	Value   string
	NoValue bool
}

// Raw returns a RawOption having |value|.
func Raw(name, value string) RawOption { return RawOption{Name: name, Value: value} }

// Bare returns a RawOption without a value.
func Bare(name string) RawOption { return RawOption{Name: name, NoValue: true} }

// Option is a normalized option. Custom options are those defined by a Def;
// all others pass through to the host's native option handling.
type Option struct {
	Name   string
	Value  string
	Custom bool
}

// Options are ordered as given by the DDL statement.
type Options []Option

// Extract walks |raw| in order, validating and normalizing each option
// defined by |defs|. Options which |defs| doesn't define are passed through
// unchanged, and a bare passthrough option takes the value "true". Custom
// options given without a value, and having no default, are dropped.
func Extract(defs []Def, raw []RawOption) (Options, error) {
	var out Options
	var seen = make(map[string]struct{}, len(raw))

	for _, r := range raw {
		if _, ok := seen[r.Name]; ok {
			return nil, tamerr.NewValidationError(r.Name, "option %q specified more than once", r.Name)
		}
		seen[r.Name] = struct{}{}

		var def = FindDef(defs, r.Name)
		if def == nil {
			var v = r.Value
			if r.NoValue {
				v = "true"
			}
			out = append(out, Option{Name: r.Name, Value: v})
			continue
		}

		var v, ok, err = def.normalize(r)
		if err != nil {
			return nil, tamerr.NewValidationError(r.Name, "invalid value for option %q: %s", r.Name, err)
		} else if ok {
			out = append(out, Option{Name: r.Name, Value: v, Custom: true})
		}
	}
	return out, nil
}

// ParseStrings parses |strs| of the form "name=value", as produced by
// Options.Strings, and Extracts them under |defs|.
func ParseStrings(defs []Def, strs []string) (Options, error) {
	var raw = make([]RawOption, 0, len(strs))
	for _, s := range strs {
		if ind := strings.IndexByte(s, '='); ind == -1 {
			raw = append(raw, Bare(s))
		} else {
			raw = append(raw, Raw(s[:ind], s[ind+1:]))
		}
	}
	return Extract(defs, raw)
}

// Strings returns options as "name=value" in their original order.
func (o Options) Strings() []string {
	var out = make([]string, 0, len(o))
	for _, opt := range o {
		out = append(out, opt.Name+"="+opt.Value)
	}
	return out
}

// Custom returns only the custom options.
func (o Options) Custom() Options {
	var out Options
	for _, opt := range o {
		if opt.Custom {
			out = append(out, opt)
		}
	}
	return out
}

// Passthrough returns only the options which aren't custom.
func (o Options) Passthrough() Options {
	var out Options
	for _, opt := range o {
		if !opt.Custom {
			out = append(out, opt)
		}
	}
	return out
}

// Get returns the value of option |name|.
func (o Options) Get(name string) (string, bool) {
	for _, opt := range o {
		if opt.Name == name {
			return opt.Value, true
		}
	}
	return "", false
}

// Protocol returns the storage protocol, which is "s3" if not set.
func (o Options) Protocol() string {
	if p, ok := o.Get(OptProtocol); ok {
		return p
	}
	return ProtocolS3
}

// Distributed is true if the options place relations in an object store
// rather than the host's local data directory.
func (o Options) Distributed() bool {
	return len(o.Custom()) != 0 && o.Protocol() != ProtocolFS
}

// IOConcurrency returns the io_concurrency option, or DefaultIOConcurrency.
func (o Options) IOConcurrency() int {
	if v, ok := o.Get(OptIOConcurrency); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return DefaultIOConcurrency
}

var protocols = map[string]struct {
	allowed, required []string
}{
	ProtocolS3: {
		allowed:  []string{OptBucket, OptRegion, OptEndpoint, OptAllowHTTP, OptAccessKeyID, OptSecretAccessKey},
		required: []string{OptBucket, OptRegion},
	},
	ProtocolGCS: {
		allowed:  []string{OptBucket, OptEndpoint},
		required: []string{OptBucket},
	},
	ProtocolAzure: {
		allowed:  []string{OptAccount, OptContainer, OptBlobDomain},
		required: []string{OptAccount, OptContainer},
	},
	ProtocolFS: {},
}

// Validate the custom options of a tablespace for their protocol. Options
// having no custom options describe a local tablespace and are always valid.
// The returned ValidationError names the first offending option.
func Validate(o Options) error {
	var custom = o.Custom()
	if len(custom) == 0 {
		return nil
	}
	var protocol = o.Protocol()
	var p, ok = protocols[protocol]
	if !ok {
		return tamerr.NewValidationError(OptProtocol, "unknown protocol %q", protocol)
	}

	for _, opt := range custom {
		if opt.Name == OptProtocol || opt.Name == OptIOConcurrency || contains(p.allowed, opt.Name) {
			continue
		}
		return tamerr.NewValidationError(opt.Name,
			"option %q is not valid for protocol %q", opt.Name, protocol)
	}
	for _, name := range p.required {
		if _, ok := o.Get(name); !ok {
			return tamerr.NewValidationError(name,
				"protocol %q requires option %q", protocol, name)
		}
	}
	return nil
}

// StoreURL returns the URL of the store rooted at |location| within the
// tablespace's bucket or container. Options which are not Distributed have
// no store URL of their own.
func (o Options) StoreURL(location string) (string, error) {
	if !o.Distributed() {
		return "", fmt.Errorf("tablespace is not distributed")
	}
	var get = func(name string) string { var v, _ = o.Get(name); return v }
	var path = "/"
	if location = strings.Trim(location, "/"); location != "" {
		path = "/" + location + "/"
	}
	var q = url.Values{}
	var u = url.URL{Path: path}

	switch o.Protocol() {
	case ProtocolS3:
		u.Scheme, u.Host = "s3", get(OptBucket)
		for _, name := range []string{OptRegion, OptEndpoint, OptAllowHTTP, OptAccessKeyID, OptSecretAccessKey} {
			if v, ok := o.Get(name); ok {
				q.Set(name, v)
			}
		}
	case ProtocolGCS:
		u.Scheme, u.Host = "gs", get(OptBucket)
		if v, ok := o.Get(OptEndpoint); ok {
			q.Set(OptEndpoint, v)
		}
	case ProtocolAzure:
		u.Scheme, u.Host = "azure", get(OptContainer)
		q.Set(OptAccount, get(OptAccount))
		if v, ok := o.Get(OptBlobDomain); ok {
			q.Set(OptBlobDomain, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
