// Package host is a reference host database for access methods. It keeps
// relation and tablespace definitions in SQL tables, drives Sessions
// having PostgreSQL transaction block and savepoint semantics, and emits
// the transaction callbacks which the bridge and lifecycle observe.
package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/stores"
	"go.lakehouse.dev/core/tablespace"
)

// FirstNormalObjectID is the first ID assigned to user relations and tablespaces.
const FirstNormalObjectID = 16384

// DefaultDatabaseID is the database of relations, if not configured.
const DefaultDatabaseID = 5

// Config of a Host.
type Config struct {
	// Database ID of created relations.
	Database uint32
	// DataDir is the absolute root of local relation and tablespace files.
	DataDir string
	// Layout of local relation locations.
	Layout tablespace.Layout
	// CacheSize of parsed tablespace options.
	CacheSize int
}

// Host is a reference host database. It's safe for concurrent use by
// multiple Sessions, each of which is not.
type Host struct {
	cfg     Config
	db      *sql.DB
	catalog *catalog.Store
	spcs    *tablespace.Cache

	oidMu   sync.Mutex
	nextOID uint32
}

var hostSchema = []string{`
	CREATE TABLE IF NOT EXISTS host_tablespaces (
		spcid    INTEGER PRIMARY KEY,
		name     TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL,
		options  TEXT NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS host_relations (
		relid   INTEGER PRIMARY KEY,
		name    TEXT NOT NULL UNIQUE,
		am      TEXT NOT NULL,
		spcid   INTEGER NOT NULL REFERENCES host_tablespaces(spcid),
		columns TEXT NOT NULL,
		options TEXT NOT NULL
	)`, `
	INSERT INTO host_tablespaces (spcid, name, location, options)
		VALUES (1663, 'pg_default', '', '[]'), (1664, 'pg_global', '', '[]')
		ON CONFLICT DO NOTHING`,
}

// New returns a Host of |db|, creating its tables and those of the
// catalog Store if they don't exist.
func New(ctx context.Context, db *sql.DB, cat *catalog.Store, cfg Config) (*Host, error) {
	if cfg.Database == 0 {
		cfg.Database = DefaultDatabaseID
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 128
	}
	if !path.IsAbs(cfg.DataDir) {
		return nil, errors.Errorf("data directory must be absolute: %q", cfg.DataDir)
	}
	if err := cat.Bootstrap(ctx, db); err != nil {
		return nil, errors.WithMessage(err, "bootstrapping catalog")
	}
	for _, stmt := range hostSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.WithMessage(err, "bootstrapping host tables")
		}
	}

	var maxOID sql.NullInt64
	if err := db.QueryRowContext(ctx, `
		SELECT MAX(id) FROM (
			SELECT relid AS id FROM host_relations UNION ALL
			SELECT spcid AS id FROM host_tablespaces
		)`).Scan(&maxOID); err != nil {
		return nil, errors.WithMessage(err, "reading object IDs")
	}
	var h = &Host{
		cfg:     cfg,
		db:      db,
		catalog: cat,
		spcs:    tablespace.NewCache(cfg.CacheSize),
		nextOID: FirstNormalObjectID,
	}
	if maxOID.Valid && uint32(maxOID.Int64) >= h.nextOID {
		h.nextOID = uint32(maxOID.Int64) + 1
	}

	log.WithFields(log.Fields{
		"dataDir":  cfg.DataDir,
		"database": cfg.Database,
		"nextOID":  h.nextOID,
	}).Info("opened host")

	return h, nil
}

// Catalog returns the catalog Store of the Host.
func (h *Host) Catalog() *catalog.Store { return h.catalog }

// newOID assigns an object ID. Like the host it models, IDs are not
// transactional and are never reused.
func (h *Host) newOID() uint32 {
	h.oidMu.Lock()
	defer h.oidMu.Unlock()

	var id = h.nextOID
	h.nextOID++
	return id
}

// tablespaceOptions returns the cached, parsed options of tablespace |id|.
// A miss reads through |q|, which must be the caller's open transaction
// if it has one: the transaction may hold the only connection of the DB.
func (h *Host) tablespaceOptions(ctx context.Context, q catalog.Querier, id uint32) (tablespace.Options, error) {
	return h.spcs.Get(id, func() (tablespace.Options, error) {
		var raw string
		if err := q.QueryRowContext(ctx,
			`SELECT options FROM host_tablespaces WHERE spcid = ?`, id).Scan(&raw); err == sql.ErrNoRows {
			return nil, hostError(CodeUndefinedObject, "tablespace %d does not exist", id)
		} else if err != nil {
			return nil, err
		}
		var strs []string
		if err := json.Unmarshal([]byte(raw), &strs); err != nil {
			return nil, errors.WithMessagef(err, "decoding options of tablespace %d", id)
		}
		return tablespace.ParseStrings(tablespace.StorageDefs, strs)
	})
}

// tablespaceLocation returns the LOCATION of tablespace |id|.
func (h *Host) tablespaceLocation(ctx context.Context, q catalog.Querier, id uint32) (string, error) {
	var loc string
	var err = q.QueryRowContext(ctx,
		`SELECT location FROM host_tablespaces WHERE spcid = ?`, id).Scan(&loc)
	return loc, err
}

// storeOf returns the Store of relations in tablespace |spc|, and whether
// it's distributed.
func (h *Host) storeOf(ctx context.Context, q catalog.Querier, spc uint32) (stores.Store, tablespace.Options, error) {
	var opts, err = h.tablespaceOptions(ctx, q, spc)
	if err != nil {
		return nil, nil, err
	}
	var storeURL string

	if opts.Distributed() {
		var loc string
		if loc, err = h.tablespaceLocation(ctx, q, spc); err != nil {
			return nil, nil, err
		} else if storeURL, err = opts.StoreURL(loc); err != nil {
			return nil, nil, err
		}
	} else {
		storeURL = "file://" + strings.TrimSuffix(h.cfg.DataDir, "/") + "/"
	}

	s, err := stores.Get(storeURL)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "opening store of tablespace %d", spc)
	}
	return s, opts, nil
}

// relationRow is a row of host_relations.
type relationRow struct {
	ID           am.RelID
	Name         string
	AccessMethod string
	Tablespace   uint32
	Columns      []string
	Options      []string
}

func scanRelation(row interface{ Scan(...interface{}) error }) (relationRow, error) {
	var r relationRow
	var cols, opts string

	if err := row.Scan(&r.ID, &r.Name, &r.AccessMethod, &r.Tablespace, &cols, &opts); err != nil {
		return r, err
	} else if err = json.Unmarshal([]byte(cols), &r.Columns); err != nil {
		return r, err
	} else if err = json.Unmarshal([]byte(opts), &r.Options); err != nil {
		return r, err
	}
	return r, nil
}

const relationColumns = `relid, name, am, spcid, columns, options`

// relation builds the am.Relation of |r|, reading the catalog through |q|.
func (h *Host) relation(ctx context.Context, q catalog.Querier, r relationRow) (*am.Relation, error) {
	var store, opts, err = h.storeOf(ctx, q, r.Tablespace)
	if err != nil {
		return nil, err
	}
	return &am.Relation{
		ID:            r.ID,
		Name:          r.Name,
		AccessMethod:  r.AccessMethod,
		Database:      am.DatabaseID(h.cfg.Database),
		Tablespace:    am.TablespaceID(r.Tablespace),
		Location:      h.cfg.Layout.Location(r.Tablespace, h.cfg.Database, uint32(r.ID), opts.Distributed()),
		Columns:       r.Columns,
		Options:       r.Options,
		Store:         store,
		IOConcurrency: opts.IOConcurrency(),
	}, nil
}

func mustJSON(v interface{}) string {
	var b, err = json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encoding %v: %s", v, err))
	}
	return string(b)
}
