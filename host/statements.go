package host

import (
	"context"
	"database/sql"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/bridge"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/stores/fs"
	"go.lakehouse.dev/core/tablespace"
)

// Storage parameters of the host itself, which tablespaces and tables pass
// through to it. Any other parameter which isn't a custom option is rejected.
var (
	tablespaceParameters = []string{"seq_page_cost", "random_page_cost",
		"effective_io_concurrency", "maintenance_io_concurrency"}
	tableParameters = []string{"fillfactor", "autovacuum_enabled",
		"toast_tuple_target", "parallel_workers"}
)

// CreateTable describes a relation to create.
type CreateTable struct {
	Name    string
	Columns []string
	// Using is the access method of the relation.
	Using string
	// Tablespace of the relation. Defaults to pg_default.
	Tablespace string
	With       []tablespace.RawOption
}

// CreateTable creates a relation and its storage, returning its ID.
func (s *Session) CreateTable(ctx context.Context, ct CreateTable) (id am.RelID, err error) {
	err = s.statement(ctx, func() error {
		var h, ok = am.Lookup(ct.Using)
		if !ok {
			return hostError(CodeUndefinedObject, "access method %q does not exist", ct.Using)
		}
		var opts, err = bridge.ValidateTableOptions(h, ct.With)
		if err != nil {
			return err
		} else if err = checkParameters(opts, tableParameters); err != nil {
			return err
		}

		var spc = ct.Tablespace
		if spc == "" {
			spc = "pg_default"
		}
		spcID, err := s.tablespaceID(ctx, spc)
		if err != nil {
			return err
		}

		id = am.RelID(s.host.newOID())
		if _, err = s.tx.ExecContext(ctx, `
			INSERT INTO host_relations (`+relationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			id, ct.Name, h.Name, spcID, mustJSON(ct.Columns), mustJSON(nonNil(opts.Strings()))); err != nil {
			if isUniqueViolation(err) {
				return hostError(CodeDuplicateTable, "relation %q already exists", ct.Name)
			}
			return errors.WithMessage(err, "inserting relation")
		}
		if err = bridge.BuildRoutine(h).RelationCreate(ctx, s.bridge, id); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"session":    s.Name,
			"rel":        id,
			"name":       ct.Name,
			"using":      h.Name,
			"tablespace": spc,
		}).Info("created table")

		return nil
	})
	return id, err
}

// DropTable drops relation |name| and its storage. If |ifExists|, dropping
// a missing relation is not an error.
func (s *Session) DropTable(ctx context.Context, name string, ifExists bool) error {
	return s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, name)
		if err != nil {
			if ifExists && Code(err) == CodeUndefinedTable {
				log.WithField("name", name).Info("table does not exist, skipping")
				return nil
			}
			return err
		}
		if err = routine.RelationDrop(ctx, s.bridge, r.ID); err != nil {
			return err
		}
		_, err = s.tx.ExecContext(ctx, `DELETE FROM host_relations WHERE relid = ?`, r.ID)
		return errors.WithMessage(err, "deleting relation")
	})
}

// AlterTable sets table options of relation |name|. Options not named
// by |set| retain their current values.
func (s *Session) AlterTable(ctx context.Context, name string, set []tablespace.RawOption) error {
	return s.statement(ctx, func() error {
		var r, err = s.relationByName(ctx, name)
		if err != nil {
			return err
		}
		var merged []tablespace.RawOption
		for _, o := range r.Options {
			var k, v, _ = strings.Cut(o, "=")
			if !hasRaw(set, k) {
				merged = append(merged, tablespace.Raw(k, v))
			}
		}
		merged = append(merged, set...)

		var h, ok = am.Lookup(r.AccessMethod)
		if !ok {
			return hostError(CodeUndefinedObject, "access method %q does not exist", r.AccessMethod)
		}
		opts, err := bridge.ValidateTableOptions(h, merged)
		if err != nil {
			return err
		} else if err = checkParameters(opts, tableParameters); err != nil {
			return err
		}
		if err = bridge.BuildRoutine(h).RelationSetOptions(ctx, s.bridge, r.ID, merged); err != nil {
			return err
		}
		_, err = s.tx.ExecContext(ctx, `UPDATE host_relations SET options = ? WHERE relid = ?`,
			mustJSON(nonNil(opts.Strings())), r.ID)
		return errors.WithMessage(err, "updating relation")
	})
}

// CreateTablespace creates tablespace |name| at |location|. Tablespace
// options are validated for their protocol, and are echoed in statement
// order. It cannot run inside a transaction block.
func (s *Session) CreateTablespace(ctx context.Context, name, location string, with []tablespace.RawOption) (tablespace.Options, error) {
	if err := s.outsideBlock("CREATE TABLESPACE"); err != nil {
		return nil, err
	}
	var opts tablespace.Options

	var err = s.statement(ctx, func() (err error) {
		if strings.HasPrefix(name, "pg_") {
			return hostError(CodeReservedName, "unacceptable tablespace name %q", name)
		} else if opts, err = tablespace.Extract(tablespace.StorageDefs, with); err != nil {
			return err
		} else if err = tablespace.Validate(opts); err != nil {
			return err
		} else if err = checkParameters(opts, tablespaceParameters); err != nil {
			return err
		}

		var id = s.host.newOID()
		if _, err = s.tx.ExecContext(ctx, `
			INSERT INTO host_tablespaces (spcid, name, location, options) VALUES (?, ?, ?, ?)`,
			id, name, location, mustJSON(nonNil(opts.Strings()))); err != nil {
			if isUniqueViolation(err) {
				return hostError(CodeDuplicateObject, "tablespace %q already exists", name)
			}
			return errors.WithMessage(err, "inserting tablespace")
		}

		if !opts.Distributed() {
			var dir = path.Join(s.host.cfg.DataDir, "pg_tblspc", strconv.FormatUint(uint64(id), 10), s.host.cfg.Layout.VersionDirectory())
			if err = fs.FileSystem.MkdirAll(dir, 0750); err != nil {
				return errors.WithMessagef(err, "creating tablespace directory %s", dir)
			}
		}

		log.WithFields(log.Fields{
			"session":     s.Name,
			"spc":         id,
			"name":        name,
			"location":    location,
			"distributed": opts.Distributed(),
		}).Info("created tablespace")

		return nil
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// DropTablespace drops the empty tablespace |name|. It cannot run inside a
// transaction block.
func (s *Session) DropTablespace(ctx context.Context, name string) error {
	if err := s.outsideBlock("DROP TABLESPACE"); err != nil {
		return err
	}
	return s.statement(ctx, func() error {
		var id, err = s.tablespaceID(ctx, name)
		if err != nil {
			return err
		} else if id < FirstNormalObjectID {
			return hostError(CodeReservedName, "cannot drop tablespace %q", name)
		}

		var n int
		if err = s.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM host_relations WHERE spcid = ?`, id).Scan(&n); err != nil {
			return err
		} else if n != 0 {
			return hostError(CodeObjectNotInPrereq, "tablespace %q is not empty", name)
		}

		var opts tablespace.Options
		if opts, err = s.host.tablespaceOptions(ctx, s.tx, id); err != nil {
			return err
		}
		if opts.Distributed() {
			var loc, _ = s.host.tablespaceLocation(ctx, s.tx, id)
			if u, err := opts.StoreURL(loc); err == nil {
				stores.Evict(u)
			}
		}
		if _, err = s.tx.ExecContext(ctx, `DELETE FROM host_tablespaces WHERE spcid = ?`, id); err != nil {
			return errors.WithMessage(err, "deleting tablespace")
		}
		s.host.spcs.Invalidate(id)
		return nil
	})
}

// Insert |rows| into relation |table|, returning their TIDs. A single row
// is inserted as such, and many rows as a bulk insert.
func (s *Session) Insert(ctx context.Context, table string, rows ...[]string) (tids []am.TID, err error) {
	err = s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err != nil {
			return err
		}
		if len(rows) == 1 {
			var tid am.TID
			tid, err = routine.TupleInsert(ctx, s.bridge, r.ID, rows[0])
			tids = []am.TID{tid}
		} else {
			tids, err = routine.MultiInsert(ctx, s.bridge, r.ID, rows)
		}
		return err
	})
	return tids, err
}

// Scan returns all tuples of relation |table|.
func (s *Session) Scan(ctx context.Context, table string) (out []am.Tuple, err error) {
	err = s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err != nil {
			return err
		}
		id, err := routine.ScanBegin(ctx, s.bridge, r.ID)
		if err != nil {
			return err
		}
		for {
			var t, ok, err = routine.ScanNext(ctx, s.bridge, id)
			if err != nil {
				_ = routine.ScanEnd(ctx, s.bridge, id)
				return err
			} else if !ok {
				return routine.ScanEnd(ctx, s.bridge, id)
			}
			out = append(out, t)
		}
	})
	return out, err
}

// Fetch the tuple |tid| of relation |table|.
func (s *Session) Fetch(ctx context.Context, table string, tid am.TID) (t am.Tuple, ok bool, err error) {
	err = s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err == nil {
			t, ok, err = routine.TupleFetch(ctx, s.bridge, r.ID, tid)
		}
		return err
	})
	return t, ok, err
}

// Update the tuple |tid| of relation |table|.
func (s *Session) Update(ctx context.Context, table string, tid am.TID, values []string) (out am.TID, err error) {
	err = s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err == nil {
			out, err = routine.TupleUpdate(ctx, s.bridge, r.ID, tid, values)
		}
		return err
	})
	return out, err
}

// Delete the tuple |tid| of relation |table|.
func (s *Session) Delete(ctx context.Context, table string, tid am.TID) error {
	return s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err == nil {
			err = routine.TupleDelete(ctx, s.bridge, r.ID, tid)
		}
		return err
	})
}

// Vacuum relation |table|.
func (s *Session) Vacuum(ctx context.Context, table string) error {
	if err := s.outsideBlock("VACUUM"); err != nil {
		return err
	}
	return s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err == nil {
			err = routine.RelationVacuum(ctx, s.bridge, r.ID)
		}
		return err
	})
}

// Analyze samples up to |n| tuples of relation |table|.
func (s *Session) Analyze(ctx context.Context, table string, n int) (out []am.Tuple, err error) {
	err = s.statement(ctx, func() error {
		var r, routine, err = s.resolve(ctx, table)
		if err == nil {
			out, err = routine.AnalyzeSample(ctx, s.bridge, r.ID, n)
		}
		return err
	})
	return out, err
}

// DeclareCursor opens a scan of relation |table| which is read by
// FetchCursor. The cursor belongs to the current subtransaction, and is
// closed if it aborts. Cursors are only available in transaction blocks.
func (s *Session) DeclareCursor(ctx context.Context, name, table string) error {
	if !s.block {
		return hostError(CodeNoActiveTransaction, "DECLARE CURSOR can only be used in transaction blocks")
	}
	return s.statement(ctx, func() error {
		if _, ok := s.cursors[name]; ok {
			return hostError(CodeDuplicateObject, "cursor %q already exists", name)
		}
		var r, routine, err = s.resolve(ctx, table)
		if err != nil {
			return err
		}
		id, err := routine.ScanBegin(ctx, s.bridge, r.ID)
		if err == nil {
			s.cursors[name] = cursor{scan: id, routine: routine, owner: s.CurrentSubID()}
		}
		return err
	})
}

// FetchCursor returns the next tuple of cursor |name|.
func (s *Session) FetchCursor(ctx context.Context, name string) (t am.Tuple, ok bool, err error) {
	err = s.statement(ctx, func() error {
		var c, found = s.cursors[name]
		if !found {
			return hostError(CodeUndefinedObject, "cursor %q does not exist", name)
		}
		var err error
		t, ok, err = c.routine.ScanNext(ctx, s.bridge, c.scan)
		return err
	})
	return t, ok, err
}

// CloseCursor closes cursor |name|.
func (s *Session) CloseCursor(ctx context.Context, name string) error {
	return s.statement(ctx, func() error {
		var c, found = s.cursors[name]
		if !found {
			return hostError(CodeUndefinedObject, "cursor %q does not exist", name)
		}
		delete(s.cursors, name)
		return c.routine.ScanEnd(ctx, s.bridge, c.scan)
	})
}

// outsideBlock returns an error which fails the block, if the Session is
// within one.
func (s *Session) outsideBlock(stmt string) error {
	if !s.block {
		return nil
	} else if s.failed {
		return errInFailedTransaction
	}
	s.failed = true
	return hostError(CodeActiveTransaction, "%s cannot run inside a transaction block", stmt)
}

func (s *Session) relationByName(ctx context.Context, name string) (relationRow, error) {
	var r, err = scanRelation(s.tx.QueryRowContext(ctx,
		`SELECT `+relationColumns+` FROM host_relations WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return r, hostError(CodeUndefinedTable, "relation %q does not exist", name)
	}
	return r, err
}

func (s *Session) tablespaceID(ctx context.Context, name string) (uint32, error) {
	var id uint32
	var err = s.tx.QueryRowContext(ctx,
		`SELECT spcid FROM host_tablespaces WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, hostError(CodeUndefinedObject, "tablespace %q does not exist", name)
	}
	return id, err
}

// resolve relation |name| and the Routine of its access method.
func (s *Session) resolve(ctx context.Context, name string) (relationRow, *bridge.Routine, error) {
	var r, err = s.relationByName(ctx, name)
	if err != nil {
		return r, nil, err
	}
	var h, ok = am.Lookup(r.AccessMethod)
	if !ok {
		return r, nil, hostError(CodeUndefinedObject, "access method %q does not exist", r.AccessMethod)
	}
	return r, bridge.BuildRoutine(h), nil
}

// checkParameters returns an error if |opts| has a host parameter which
// isn't among |allowed|.
func checkParameters(opts tablespace.Options, allowed []string) error {
	for _, o := range opts.Passthrough() {
		var ok bool
		for _, a := range allowed {
			ok = ok || a == o.Name
		}
		if !ok {
			return hostError(CodeInvalidParameter, "unrecognized parameter %q", o.Name)
		}
	}
	return nil
}

func hasRaw(raw []tablespace.RawOption, name string) bool {
	for _, r := range raw {
		if r.Name == name {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
