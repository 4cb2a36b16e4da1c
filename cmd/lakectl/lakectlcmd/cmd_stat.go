package lakectlcmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

type cmdStat struct {
	MissingOK bool `long:"missing-ok" description:"Don't fail if the path doesn't exist"`
	Args      struct {
		Paths []string `positional-arg-name:"PATH" required:"1" description:"Local paths to stat"`
	} `positional-args:"yes"`
}

func init() {
	CommandRegistry.AddCommand("", "stat", "Stat local files of the host", `
Stat local files and directories of the host, such as relation directories
under the data directory. With --missing-ok, paths which don't exist are
reported as missing rather than failing the command.
`, &cmdStat{})
}

func (cmd *cmdStat) Execute([]string) error {
	startup()

	var h, db = openHost(context.Background())
	defer db.Close()

	for _, path := range cmd.Args.Paths {
		var fi, err = h.Stat(path, cmd.MissingOK)
		if err != nil {
			return err
		} else if fi == nil {
			fmt.Fprintf(os.Stdout, "%s: missing\n", path)
			continue
		}

		var kind = "file"
		if fi.IsDir() {
			kind = "directory"
		}
		fmt.Fprintf(os.Stdout, "%s: %s, %s, modified %s\n",
			path, kind, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
	}
	return nil
}
