package main

import (
	"github.com/jessevdk/go-flags"

	"go.lakehouse.dev/core/cmd/lakectl/lakectlcmd"
	mbp "go.lakehouse.dev/core/mainboilerplate"
)

const iniFilename = "lakectl.ini"

func main() {
	parser := flags.NewParser(lakectlcmd.BaseCfg, flags.Default)

	mbp.AddPrintConfigCmd(parser, iniFilename)

	parser.LongDescription = `lakectl runs statements against a reference host database, which
	manages relations of the iceberg access method within local and distributed tablespaces.

	Options may be given in a '` + iniFilename + `' file within the working directory,
	$LAKEHOUSE_CONFIG_ROOT, or the lakehouse directory of your user configuration
	directory (eg ~/.config/lakehouse). 'print-config' shows the effective configuration.
	`

	// Add all registered commands to the root parser.Command
	mbp.Must(lakectlcmd.CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")

	// Parse config and start app
	mbp.MustParseConfig(parser, iniFilename)
}
