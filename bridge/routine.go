// Package bridge adapts registered access method Engines to the host's
// calling convention. A Routine is a table of entry points, one per host
// callback, each of which resolves the relation's Binding, dispatches to
// the Engine, and translates any error or panic into a host error.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/tablespace"
	"go.lakehouse.dev/core/tamerr"
)

// Routine is the table of entry points of an access method. Every field is
// non-nil: entry points of operations the Engine doesn't support return
// its translated UnsupportedOperation.
type Routine struct {
	Name string

	RelationCreate     func(ctx context.Context, s *Session, id am.RelID) error
	RelationDrop       func(ctx context.Context, s *Session, id am.RelID) error
	RelationSetOptions func(ctx context.Context, s *Session, id am.RelID, opts []tablespace.RawOption) error

	ScanBegin func(ctx context.Context, s *Session, id am.RelID) (ScanID, error)
	ScanNext  func(ctx context.Context, s *Session, scan ScanID) (am.Tuple, bool, error)
	ScanEnd   func(ctx context.Context, s *Session, scan ScanID) error

	TupleFetch  func(ctx context.Context, s *Session, id am.RelID, tid am.TID) (am.Tuple, bool, error)
	TupleInsert func(ctx context.Context, s *Session, id am.RelID, values []string) (am.TID, error)
	MultiInsert func(ctx context.Context, s *Session, id am.RelID, rows [][]string) ([]am.TID, error)
	TupleUpdate func(ctx context.Context, s *Session, id am.RelID, tid am.TID, values []string) (am.TID, error)
	TupleDelete func(ctx context.Context, s *Session, id am.RelID, tid am.TID) error

	RelationVacuum func(ctx context.Context, s *Session, id am.RelID) error
	AnalyzeSample  func(ctx context.Context, s *Session, id am.RelID, n int) ([]am.Tuple, error)
	IndexBuild     func(ctx context.Context, s *Session, id am.RelID, index string, cb func(am.Tuple) error) (int, error)
}

var (
	routines   = make(map[*am.Handle]*Routine)
	routinesMu sync.Mutex
)

// BuildRoutine returns the Routine of the Handle. Routines are built once
// per Handle and shared thereafter.
func BuildRoutine(h *am.Handle) *Routine {
	routinesMu.Lock()
	defer routinesMu.Unlock()

	if r, ok := routines[h]; ok {
		return r
	}
	var r = buildRoutine(h)
	routines[h] = r
	return r
}

// ValidateTableOptions validates |raw| table options against the
// definitions of the Handle's Engine.
func ValidateTableOptions(h *am.Handle, raw []tablespace.RawOption) (tablespace.Options, error) {
	var opts, err = tablespace.Extract(am.TableOptionDefs(h.Engine), raw)
	if err != nil {
		return nil, translate(err)
	}
	return opts, nil
}

func buildRoutine(h *am.Handle) *Routine {
	var e = h.Engine
	var r = &Routine{Name: h.Name}

	// bind resolves relation |id| and runs |fn| under guard. The Binding
	// must belong to this Routine's Handle.
	var bind = func(ctx context.Context, s *Session, id am.RelID, fn func(*am.Relation) error) error {
		return guard(h.Name, func() error {
			var b, err = s.Binding(ctx, id)
			if err != nil {
				return err
			} else if b.Handle != h {
				return tamerr.NewInconsistentState(b.Relation.String(),
					"relation is bound to access method %q, not %q", b.Handle.Name, h.Name)
			}
			return fn(s.relation(b))
		})
	}
	// unsupported returns nil if the Engine supports |op|, and otherwise an
	// entry point returning the failure for a relation.
	var unsupported = func(op am.Operation) func(context.Context, *Session, am.RelID) error {
		var err = am.Check(e, op)
		if err == nil {
			return nil
		}
		return func(ctx context.Context, s *Session, id am.RelID) error {
			var u *tamerr.UnsupportedOperation
			if !errors.As(err, &u) {
				return translate(err)
			}
			var withRel = *u
			withRel.Relation = fmt.Sprint(id)

			if b, bErr := s.Binding(ctx, id); bErr == nil {
				withRel.Relation = b.Relation.String()
			}
			return translate(&withRel)
		}
	}

	r.RelationCreate = func(ctx context.Context, s *Session, id am.RelID) error {
		return bind(ctx, s, id, func(rel *am.Relation) error {
			if err := rel.Catalog.PutTableOptions(ctx, rel.Tx, uint32(rel.ID), rel.Options); err != nil {
				return err
			}
			return e.CreateStorage(ctx, rel)
		})
	}
	r.RelationDrop = func(ctx context.Context, s *Session, id am.RelID) error {
		var err = bind(ctx, s, id, func(rel *am.Relation) error {
			if err := e.DropStorage(ctx, rel); err != nil {
				return err
			}
			return rel.Catalog.DeleteTableOptions(ctx, rel.Tx, uint32(rel.ID))
		})
		s.Forget(id)
		return err
	}
	r.RelationSetOptions = func(ctx context.Context, s *Session, id am.RelID, raw []tablespace.RawOption) error {
		var opts, err = ValidateTableOptions(h, raw)
		if err != nil {
			return err
		}
		err = bind(ctx, s, id, func(rel *am.Relation) error {
			return rel.Catalog.PutTableOptions(ctx, rel.Tx, uint32(rel.ID), opts.Strings())
		})
		s.Forget(id)
		return err
	}

	if fail := unsupported(am.OpScan); fail != nil {
		// No scan of this Engine can begin, so later calls have no relation.
		var err = translate(am.Check(e, am.OpScan))

		r.ScanBegin = func(ctx context.Context, s *Session, id am.RelID) (ScanID, error) { return 0, fail(ctx, s, id) }
		r.ScanNext = func(context.Context, *Session, ScanID) (am.Tuple, bool, error) { return am.Tuple{}, false, err }
		r.ScanEnd = func(context.Context, *Session, ScanID) error { return err }
	} else {
		var scanner = e.(am.Scanner)

		r.ScanBegin = func(ctx context.Context, s *Session, id am.RelID) (out ScanID, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) error {
				var scan, err = scanner.BeginScan(ctx, rel)
				if err == nil {
					out = s.trackScan(id, scan)
				}
				return err
			})
			return
		}
		r.ScanNext = func(ctx context.Context, s *Session, id ScanID) (tuple am.Tuple, ok bool, err error) {
			err = guard(h.Name, func() (err error) {
				var sc, found = s.scans[id]
				if !found {
					return tamerr.NewInconsistentState("", "scan %d is not open", id)
				}
				tuple, ok, err = sc.scan.Next(ctx)
				return err
			})
			return
		}
		r.ScanEnd = func(_ context.Context, s *Session, id ScanID) error {
			return guard(h.Name, func() error {
				var sc, found = s.scans[id]
				if !found {
					return tamerr.NewInconsistentState("", "scan %d is not open", id)
				}
				delete(s.scans, id)
				return sc.scan.Close()
			})
		}
	}

	if fail := unsupported(am.OpPointLookup); fail != nil {
		r.TupleFetch = func(ctx context.Context, s *Session, id am.RelID, _ am.TID) (am.Tuple, bool, error) {
			return am.Tuple{}, false, fail(ctx, s, id)
		}
	} else {
		r.TupleFetch = func(ctx context.Context, s *Session, id am.RelID, tid am.TID) (tuple am.Tuple, ok bool, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				tuple, ok, err = e.(am.Fetcher).Fetch(ctx, rel, tid)
				return err
			})
			return
		}
	}

	if fail := unsupported(am.OpInsert); fail != nil {
		r.TupleInsert = func(ctx context.Context, s *Session, id am.RelID, _ []string) (am.TID, error) {
			return 0, fail(ctx, s, id)
		}
	} else {
		r.TupleInsert = func(ctx context.Context, s *Session, id am.RelID, values []string) (tid am.TID, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				tid, err = e.(am.Inserter).Insert(ctx, rel, values)
				return err
			})
			return
		}
	}

	if fail := unsupported(am.OpBulkInsert); fail != nil {
		r.MultiInsert = func(ctx context.Context, s *Session, id am.RelID, _ [][]string) ([]am.TID, error) {
			return nil, fail(ctx, s, id)
		}
	} else {
		r.MultiInsert = func(ctx context.Context, s *Session, id am.RelID, rows [][]string) (tids []am.TID, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				tids, err = e.(am.BulkInserter).BulkInsert(ctx, rel, rows)
				return err
			})
			return
		}
	}

	if fail := unsupported(am.OpUpdate); fail != nil {
		r.TupleUpdate = func(ctx context.Context, s *Session, id am.RelID, _ am.TID, _ []string) (am.TID, error) {
			return 0, fail(ctx, s, id)
		}
	} else {
		r.TupleUpdate = func(ctx context.Context, s *Session, id am.RelID, tid am.TID, values []string) (out am.TID, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				out, err = e.(am.Updater).Update(ctx, rel, tid, values)
				return err
			})
			return
		}
	}

	if fail := unsupported(am.OpDelete); fail != nil {
		r.TupleDelete = func(ctx context.Context, s *Session, id am.RelID, _ am.TID) error { return fail(ctx, s, id) }
	} else {
		r.TupleDelete = func(ctx context.Context, s *Session, id am.RelID, tid am.TID) error {
			return bind(ctx, s, id, func(rel *am.Relation) error {
				return e.(am.Deleter).Delete(ctx, rel, tid)
			})
		}
	}

	if fail := unsupported(am.OpVacuum); fail != nil {
		r.RelationVacuum = fail
	} else {
		r.RelationVacuum = func(ctx context.Context, s *Session, id am.RelID) error {
			return bind(ctx, s, id, func(rel *am.Relation) error {
				return e.(am.Vacuumer).Vacuum(ctx, rel)
			})
		}
	}

	if fail := unsupported(am.OpAnalyze); fail != nil {
		r.AnalyzeSample = func(ctx context.Context, s *Session, id am.RelID, _ int) ([]am.Tuple, error) {
			return nil, fail(ctx, s, id)
		}
	} else {
		r.AnalyzeSample = func(ctx context.Context, s *Session, id am.RelID, n int) (out []am.Tuple, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				out, err = e.(am.Analyzer).Sample(ctx, rel, n)
				return err
			})
			return
		}
	}

	if fail := unsupported(am.OpBuildIndex); fail != nil {
		r.IndexBuild = func(ctx context.Context, s *Session, id am.RelID, _ string, _ func(am.Tuple) error) (int, error) {
			return 0, fail(ctx, s, id)
		}
	} else {
		r.IndexBuild = func(ctx context.Context, s *Session, id am.RelID, index string, cb func(am.Tuple) error) (n int, err error) {
			err = bind(ctx, s, id, func(rel *am.Relation) (err error) {
				n, err = e.(am.IndexBuilder).BuildIndex(ctx, rel, index, cb)
				return err
			})
			return
		}
	}

	return r
}
