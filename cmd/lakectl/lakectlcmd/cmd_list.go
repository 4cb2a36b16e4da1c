package lakectlcmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	mbp "go.lakehouse.dev/core/mainboilerplate"
)

type cmdTablespaces struct{}

type cmdRelations struct {
	Columns bool `long:"columns" short:"c" description:"Show relation columns"`
}

func init() {
	CommandRegistry.AddCommand("", "tablespaces", "List tablespaces", `
List tablespaces of the host, with their options. Distributed tablespaces
additionally show the store URL which their relations are written to.
`, &cmdTablespaces{})

	CommandRegistry.AddCommand("", "relations", "List relations", `
List relations of the host, with their access method, tablespace, options,
and the location of their resources relative to the tablespace store.
`, &cmdRelations{})
}

func (cmd *cmdTablespaces) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var h, db = openHost(ctx)
	defer db.Close()

	var spcs, err = h.Tablespaces(ctx)
	mbp.Must(err, "failed to list tablespaces")

	var table = tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Location", "Options", "Store")
	for _, spc := range spcs {
		mbp.Must(table.Append([]string{
			fmt.Sprint(spc.ID),
			spc.Name,
			spc.Location,
			strings.Join(spc.Options, ", "),
			spc.StoreURL,
		}), "failed to append row")
	}
	return table.Render()
}

func (cmd *cmdRelations) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var h, db = openHost(ctx)
	defer db.Close()

	var rels, err = h.Relations(ctx)
	mbp.Must(err, "failed to list relations")

	var headers = []any{"ID", "Name", "Access Method", "Tablespace", "Location", "Options"}
	if cmd.Columns {
		headers = append(headers, "Columns")
	}
	var table = tablewriter.NewWriter(os.Stdout)
	table.Header(headers...)

	for _, rel := range rels {
		var row = []string{
			fmt.Sprint(rel.ID),
			rel.Name,
			rel.AccessMethod,
			fmt.Sprint(rel.Tablespace),
			rel.Location,
			strings.Join(rel.Options, ", "),
		}
		if cmd.Columns {
			row = append(row, strings.Join(rel.Columns, ", "))
		}
		mbp.Must(table.Append(row), "failed to append row")
	}
	return table.Render()
}
