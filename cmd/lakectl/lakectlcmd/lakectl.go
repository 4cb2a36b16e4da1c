// Package lakectlcmd implements the sub-commands of lakectl.
package lakectlcmd

import (
	"context"
	"database/sql"
	"sync"

	"go.lakehouse.dev/core/host"
	"go.lakehouse.dev/core/iceberg"
	mbp "go.lakehouse.dev/core/mainboilerplate"
	"go.lakehouse.dev/core/stores/providers"
)

// BaseCfg is configuration shared by all sub-commands.
var BaseCfg = new(struct {
	Log     mbp.LogConfig     `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Catalog mbp.CatalogConfig `group:"Catalog" namespace:"catalog" env-namespace:"CATALOG"`
	Host    mbp.HostConfig    `group:"Host" namespace:"host" env-namespace:"HOST"`
})

// CommandRegistry of lakectl sub-commands, added to the parser by main.
var CommandRegistry = mbp.NewCommandRegistry()

var registerOnce sync.Once

// startup initializes logging, store providers, and access methods.
func startup() {
	mbp.InitLog(BaseCfg.Log)

	registerOnce.Do(func() {
		providers.Register()

		var _, err = iceberg.Register(iceberg.New())
		mbp.Must(err, "failed to register iceberg access method")
	})
}

func openHost(ctx context.Context) (*host.Host, *sql.DB) {
	var h, db, err = mbp.OpenHost(ctx, BaseCfg.Catalog, BaseCfg.Host)
	mbp.Must(err, "failed to open host", "dsn", BaseCfg.Catalog.DSN)
	return h, db
}
