// Package catalog persists the per-relation records of access method
// engines as ordinary rows of the host database: table options, and the
// format metadata pointers of open-table-format engines. Reads and writes
// go through the caller's Querier, which is typically the host's current
// transaction, so records commit and abort with it.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Querier is the subset of *sql.Tx and *sql.DB used by the catalog.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect of the SQL database holding catalog rows.
type Dialect int

const (
	// Postgres holds records in the "lakehouse" schema, with options as a
	// text[] column, and registers its tables for pg_dump.
	Postgres Dialect = iota
	// SQLite holds records in "lakehouse_" prefixed tables, with options
	// as a JSON array. A lakehouse_config_dump table stands in for the
	// extension configuration dump registry.
	SQLite
)

// ParseDialect maps a database/sql driver name to its Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported catalog driver %q", driver)
	}
}

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// Table returns the qualified name of catalog table |name|.
func (d Dialect) Table(name string) string {
	if d == Postgres {
		return "lakehouse." + name
	}
	return "lakehouse_" + name
}

// Rebind rewrites "?" placeholders of |query| into the Dialect's form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	var n int
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Catalog table names, unqualified.
const (
	TableOptionsTable    = "table_options"
	IcebergMetadataTable = "iceberg_metadata"
)

// Store reads and writes catalog records of a Dialect.
type Store struct {
	Dialect Dialect
}

// NewStore returns a Store of the Dialect.
func NewStore(d Dialect) *Store { return &Store{Dialect: d} }

// ExtensionSQL returns the script which installs the catalog schema.
// For Postgres, it's run by CREATE EXTENSION and registers catalog tables
// with pg_extension_config_dump so their rows survive logical backups.
func (s *Store) ExtensionSQL() string {
	if s.Dialect == Postgres {
		return postgresSchemaSQL + `
SELECT pg_catalog.pg_extension_config_dump('lakehouse.table_options', '');
SELECT pg_catalog.pg_extension_config_dump('lakehouse.iceberg_metadata', '');
`
	}
	return sqliteSchemaSQL
}

// Bootstrap idempotently creates catalog tables. It must run before first use.
func (s *Store) Bootstrap(ctx context.Context, q Querier) error {
	var script = sqliteSchemaSQL
	if s.Dialect == Postgres {
		script = postgresSchemaSQL
	}
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return errors.WithMessagef(err, "bootstrapping %s catalog", s.Dialect)
		}
	}
	return nil
}

// DumpTables returns the catalog tables registered for logical backup.
func (s *Store) DumpTables(ctx context.Context, q Querier) ([]string, error) {
	var query = `SELECT table_name FROM lakehouse_config_dump ORDER BY table_name`
	if s.Dialect == Postgres {
		query = `SELECT unnest(extconfig)::regclass::text AS t FROM pg_catalog.pg_extension
			WHERE extname = 'lakehouse' ORDER BY t`
	}
	var rows, err = q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WithMessage(err, "querying config dump tables")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// PutTableOptions inserts or replaces the table options of |relid|.
func (s *Store) PutTableOptions(ctx context.Context, q Querier, relid uint32, options []string) error {
	var arg, err = s.encodeOptions(options)
	if err != nil {
		return err
	}
	var query = s.Dialect.Rebind(fmt.Sprintf(`
		INSERT INTO %s (relid, options) VALUES (?, ?)
		ON CONFLICT (relid) DO UPDATE SET options = excluded.options`,
		s.Dialect.Table(TableOptionsTable)))

	if _, err = q.ExecContext(ctx, query, int64(relid), arg); err != nil {
		return errors.WithMessagef(err, "writing table options of relation %d", relid)
	}
	return nil
}

// GetTableOptions returns the table options of |relid|, and whether a
// record exists.
func (s *Store) GetTableOptions(ctx context.Context, q Querier, relid uint32) ([]string, bool, error) {
	var query = s.Dialect.Rebind(fmt.Sprintf(`SELECT options FROM %s WHERE relid = ?`,
		s.Dialect.Table(TableOptionsTable)))

	var options []string
	var err error

	if s.Dialect == Postgres {
		err = q.QueryRowContext(ctx, query, int64(relid)).Scan(pq.Array(&options))
	} else {
		var text sql.NullString
		if err = q.QueryRowContext(ctx, query, int64(relid)).Scan(&text); err == nil && text.Valid {
			err = json.Unmarshal([]byte(text.String), &options)
		}
	}

	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.WithMessagef(err, "reading table options of relation %d", relid)
	}
	return options, true, nil
}

// DeleteTableOptions removes the table options of |relid|, if any.
func (s *Store) DeleteTableOptions(ctx context.Context, q Querier, relid uint32) error {
	var query = s.Dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE relid = ?`,
		s.Dialect.Table(TableOptionsTable)))

	if _, err := q.ExecContext(ctx, query, int64(relid)); err != nil {
		return errors.WithMessagef(err, "deleting table options of relation %d", relid)
	}
	return nil
}

func (s *Store) encodeOptions(options []string) (interface{}, error) {
	if options == nil {
		options = []string{}
	}
	if s.Dialect == Postgres {
		return pq.Array(options), nil
	}
	var b, err = json.Marshal(options)
	return string(b), err
}

const postgresSchemaSQL = `
CREATE SCHEMA IF NOT EXISTS lakehouse;

CREATE TABLE IF NOT EXISTS lakehouse.table_options (
	relid   oid NOT NULL PRIMARY KEY,
	options text[]
);

CREATE TABLE IF NOT EXISTS lakehouse.iceberg_metadata (
	relid                      oid NOT NULL PRIMARY KEY,
	metadata_location          text,
	previous_metadata_location text,
	default_spec_id            integer NOT NULL DEFAULT 0
);
`

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS lakehouse_table_options (
	relid   INTEGER NOT NULL PRIMARY KEY,
	options TEXT
);

CREATE TABLE IF NOT EXISTS lakehouse_iceberg_metadata (
	relid                      INTEGER NOT NULL PRIMARY KEY,
	metadata_location          TEXT,
	previous_metadata_location TEXT,
	default_spec_id            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS lakehouse_config_dump (
	table_name TEXT NOT NULL PRIMARY KEY
);

INSERT OR IGNORE INTO lakehouse_config_dump (table_name) VALUES
	('lakehouse_iceberg_metadata'),
	('lakehouse_table_options');
`
