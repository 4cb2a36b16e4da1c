// Package am defines the capability surface of table access method engines.
//
// An Engine declares the Operations it supports as Capabilities, and
// implements each of them through a per-operation interface (Scanner,
// Inserter, and so on) discovered by type assertion. Engines own no
// per-relation state: each call receives the Relation it applies to.
package am

import (
	"context"
	"fmt"
	"strings"

	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/tablespace"
	"go.lakehouse.dev/core/tamerr"
)

// RelID is the host-assigned identifier of a relation. It's stable, and
// unique within the host's catalog.
type RelID uint32

// TablespaceID is the host-assigned identifier of a tablespace.
type TablespaceID uint32

// DatabaseID is the host-assigned identifier of a database.
type DatabaseID uint32

// TID identifies a tuple within its relation, as a data file index and a
// row offset within that file.
type TID uint64

// MakeTID composes a TID.
func MakeTID(file, row uint32) TID { return TID(file)<<32 | TID(row) }

// File is the data file index of the TID.
func (t TID) File() uint32 { return uint32(t >> 32) }

// Row is the row offset of the TID within its file.
func (t TID) Row() uint32 { return uint32(t) }

func (t TID) String() string { return fmt.Sprintf("(%d,%d)", t.File(), t.Row()) }

// Tuple is a row of a relation.
type Tuple struct {
	TID    TID
	Values []string
}

// Relation is the per-relation context handed to every Engine call.
type Relation struct {
	ID           RelID
	Name         string
	AccessMethod string
	Database     DatabaseID
	Tablespace   TablespaceID
	// Location of the relation's resources, relative to the root of Store.
	Location string
	Columns  []string
	// Table options, as "name=value".
	Options []string

	// Store holding the relation's resources, as resolved from its tablespace.
	Store stores.Store
	// IOConcurrency bounds parallel requests made to Store.
	IOConcurrency int

	// Tx is the host's current transaction. Catalog records written
	// through it commit and abort with the transaction.
	Tx      catalog.Querier
	Catalog *catalog.Store
	// Lifecycle registers the relation's resources with the transaction.
	Lifecycle ResourceRegistrar
}

// String names the relation for messages.
func (r *Relation) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%q (%d)", r.Name, r.ID)
	}
	return fmt.Sprintf("%d", r.ID)
}

// Option returns the value of table option |name|.
func (r *Relation) Option(name string) (string, bool) {
	for _, o := range r.Options {
		if ind := strings.IndexByte(o, '='); ind != -1 && o[:ind] == name {
			return o[ind+1:], true
		}
	}
	return "", false
}

// ResourceRegistrar registers the creation and deletion of a relation's
// resources with the enclosing transaction, which decides when they take
// physical effect.
type ResourceRegistrar interface {
	RegisterCreate(ctx context.Context, rel *Relation) error
	RegisterDelete(ctx context.Context, rel *Relation) error
}

// Engine is implemented by every access method.
type Engine interface {
	// Name of the access method, as used by CREATE TABLE ... USING.
	Name() string
	// Capabilities declared by the engine.
	Capabilities() Capabilities
	// CreateStorage initializes resources of a newly created relation.
	CreateStorage(ctx context.Context, rel *Relation) error
	// DropStorage releases resources of a dropped relation.
	DropStorage(ctx context.Context, rel *Relation) error
}

// Scan iterates the tuples of a relation.
type Scan interface {
	// Next returns the next Tuple, or false if the scan is exhausted.
	Next(ctx context.Context) (Tuple, bool, error)
	// Close the Scan, releasing its resources.
	Close() error
}

// Scanner begins sequential scans.
type Scanner interface {
	BeginScan(ctx context.Context, rel *Relation) (Scan, error)
}

// Fetcher looks up a tuple by TID.
type Fetcher interface {
	Fetch(ctx context.Context, rel *Relation, tid TID) (Tuple, bool, error)
}

// Inserter inserts a single tuple.
type Inserter interface {
	Insert(ctx context.Context, rel *Relation, values []string) (TID, error)
}

// BulkInserter inserts many tuples at once.
type BulkInserter interface {
	BulkInsert(ctx context.Context, rel *Relation, rows [][]string) ([]TID, error)
}

// Updater replaces a tuple, returning the TID of its new version.
type Updater interface {
	Update(ctx context.Context, rel *Relation, tid TID, values []string) (TID, error)
}

// Deleter removes a tuple.
type Deleter interface {
	Delete(ctx context.Context, rel *Relation, tid TID) error
}

// Vacuumer compacts a relation.
type Vacuumer interface {
	Vacuum(ctx context.Context, rel *Relation) error
}

// Analyzer samples up to |n| tuples of a relation for statistics.
type Analyzer interface {
	Sample(ctx context.Context, rel *Relation, n int) ([]Tuple, error)
}

// IndexBuilder scans a relation to build index |index|, invoking |cb| with
// each tuple to be indexed. It returns the number of tuples indexed.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, rel *Relation, index string, cb func(Tuple) error) (int, error)
}

// OptionDefiner is implemented by engines having their own table options.
// Other engines use tablespace.TableDefs.
type OptionDefiner interface {
	TableOptionDefs() []tablespace.Def
}

// TableOptionDefs returns the table option definitions of the Engine.
func TableOptionDefs(e Engine) []tablespace.Def {
	if d, ok := e.(OptionDefiner); ok {
		return d.TableOptionDefs()
	}
	return tablespace.TableDefs
}

// Implements returns whether the Engine implements the interface of |op|.
func Implements(e Engine, op Operation) bool {
	var ok bool
	switch op {
	case OpScan:
		_, ok = e.(Scanner)
	case OpPointLookup:
		_, ok = e.(Fetcher)
	case OpInsert:
		_, ok = e.(Inserter)
	case OpBulkInsert:
		_, ok = e.(BulkInserter)
	case OpUpdate:
		_, ok = e.(Updater)
	case OpDelete:
		_, ok = e.(Deleter)
	case OpVacuum:
		_, ok = e.(Vacuumer)
	case OpAnalyze:
		_, ok = e.(Analyzer)
	case OpBuildIndex:
		_, ok = e.(IndexBuilder)
	}
	return ok
}

// Check returns nil if the Engine supports |op|. An undeclared operation is
// an UnsupportedOperation, and a declared operation which the Engine fails
// to implement is an InconsistentStateError.
func Check(e Engine, op Operation) error {
	var declared, implemented = e.Capabilities().Has(op), Implements(e, op)

	if declared && implemented {
		return nil
	} else if declared {
		return tamerr.NewInconsistentState("",
			"access method %q declares %s but does not implement it", e.Name(), op)
	}
	return &tamerr.UnsupportedOperation{Engine: e.Name(), Operation: op.String()}
}
