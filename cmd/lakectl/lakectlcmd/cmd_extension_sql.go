package lakectlcmd

import (
	"fmt"
	"os"

	mbp "go.lakehouse.dev/core/mainboilerplate"
)

type cmdExtensionSQL struct{}

func init() {
	CommandRegistry.AddCommand("", "extension-sql", "Print the catalog schema of the configured driver", `
Print the SQL which creates catalog tables in a database of --catalog.driver.
For postgres, the tables are also registered for inclusion in pg_dump.
`, &cmdExtensionSQL{})
}

func (cmd *cmdExtensionSQL) Execute([]string) error {
	mbp.InitLog(BaseCfg.Log)

	var store, err = BaseCfg.Catalog.Store()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, store.ExtensionSQL())
	return err
}
