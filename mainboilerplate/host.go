package mainboilerplate

import (
	"context"
	"database/sql"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.lakehouse.dev/core/catalog"
	"go.lakehouse.dev/core/host"
	"go.lakehouse.dev/core/tablespace"
)

// CatalogConfig configures the SQL database holding catalog records.
type CatalogConfig struct {
	Driver string `long:"driver" env:"DRIVER" default:"sqlite3" choice:"sqlite3" choice:"postgres" description:"database/sql driver of the catalog database"`
	DSN    string `long:"dsn" env:"DSN" default:"lakehouse.db" description:"Data source name of the catalog database"`
}

// Store returns the catalog Store of the configured Driver's dialect.
func (c CatalogConfig) Store() (*catalog.Store, error) {
	var d, err = catalog.ParseDialect(c.Driver)
	if err != nil {
		return nil, err
	}
	return catalog.NewStore(d), nil
}

// HostConfig configures a reference host database.
type HostConfig struct {
	DataDir        string `long:"data-dir" env:"DATA_DIR" default:"pgdata" description:"Root directory of local relation and tablespace files"`
	Database       uint32 `long:"database" env:"DATABASE" default:"5" description:"Database ID of created relations"`
	MajorVersion   int    `long:"major-version" env:"MAJOR_VERSION" default:"16" description:"Host major version, used in tablespace version directories"`
	CatalogVersion int    `long:"catalog-version" env:"CATALOG_VERSION" default:"202307071" description:"Host catalog version, used in tablespace version directories"`
	CacheSize      int    `long:"cache-size" env:"CACHE_SIZE" default:"128" description:"Number of parsed tablespace option sets to cache"`
}

// OpenHost opens the catalog database and a Host over it. The reference
// host requires the sqlite3 driver.
func OpenHost(ctx context.Context, cat CatalogConfig, cfg HostConfig) (*host.Host, *sql.DB, error) {
	if cat.Driver != "sqlite3" {
		return nil, nil, errors.Errorf("the reference host requires the sqlite3 driver (not %q)", cat.Driver)
	}
	store, err := cat.Store()
	if err != nil {
		return nil, nil, err
	}
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "resolving data directory")
	}
	db, err := sql.Open(cat.Driver, cat.DSN)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "opening catalog database %q", cat.DSN)
	}
	db.SetMaxOpenConns(1)

	h, err := host.New(ctx, db, store, host.Config{
		Database: cfg.Database,
		DataDir:  dataDir,
		Layout: tablespace.Layout{
			MajorVersion:   cfg.MajorVersion,
			CatalogVersion: cfg.CatalogVersion,
		},
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	log.WithFields(log.Fields{"dsn": cat.DSN, "dataDir": dataDir}).Debug("opened catalog database")

	return h, db, nil
}
