// Package mainboilerplate contains shared boilerplate for this project's
// programs: configuration parsing, logging, diagnostics, and construction
// of a catalog database and reference host from flags.
package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate of the program, set at link time.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigSearchPaths are the directories searched for an INI file, in order:
// the working directory, $LAKEHOUSE_CONFIG_ROOT if set, and then the
// lakehouse directory of the user's configuration directory.
func ConfigSearchPaths() []string {
	var out = []string{"."}

	if root := os.Getenv("LAKEHOUSE_CONFIG_ROOT"); root != "" {
		out = append(out, root)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "lakehouse"))
	}
	return out
}

// MustParseConfig parses |parser| from the first INI file named |configName|
// within ConfigSearchPaths, then from the environment and arguments, which
// take precedence. It exits the process on a parse error.
func MustParseConfig(parser *flags.Parser, configName string) {
	// INI files may hold options of sub-commands other than the one invoked.
	var restore = parser.Options
	parser.Options |= flags.IgnoreUnknown

	if path, ok := findConfig(configName); ok {
		if err := flags.NewIniParser(parser).ParseFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", path, err)
			os.Exit(1)
		}
	}
	parser.Options = restore

	MustParseArgs(parser, os.Args[1:])
}

func findConfig(configName string) (string, bool) {
	for _, dir := range ConfigSearchPaths() {
		var path = filepath.Join(dir, configName)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// MustParseArgs parses |args| with |parser|, exiting the process on a usage
// error. Errors of the configuration struct itself panic.
func MustParseArgs(parser *flags.Parser, args []string) {
	var _, err = parser.ParseArgs(args)
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "failed to parse arguments")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		panic(err)
	case flags.ErrCommandRequired:
		parser.WriteHelp(os.Stderr)
		writeVersion()
	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			parser.WriteHelp(os.Stderr)
		}
		writeVersion()
	}
	// go-flags has printed other usage errors already.
	os.Exit(1)
}

func writeVersion() {
	fmt.Fprintf(os.Stderr, "\nlakehouse %s (built %s)\n", Version, BuildDate)
}

// AddPrintConfigCmd to the Parser. "print-config" writes the combined
// configuration of |configName|, flags and environment in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	parser *flags.Parser
}

func (p *printConfig) Execute([]string) error {
	flags.NewIniParser(p.parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
