package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc registers a sub-command with its parent.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry builds a tree of go-flags sub-commands. Commands register
// themselves under a dotted parent name (eg "", "catalog", "catalog.views")
// and are added to the parser by AddCommands.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry creates a new registry.
func NewCommandRegistry() CommandRegistry {
	return make(CommandRegistry)
}

// AddCommand registers |command| under |parentName|, with the arguments of
// flags.Command.AddCommand.
func (cr CommandRegistry) AddCommand(parentName string, command string, shortDescription string, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands adds commands registered under |rootName| to |rootCmd|. If
// |recursive|, commands registered under those commands are added as well.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command, recursive bool) error {
	for _, addCommandFunc := range cr[rootName] {
		if err := addCommandFunc(rootCmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, cmd := range rootCmd.Commands() {
		var cmdName = cmd.Name
		if rootName != "" {
			cmdName = rootName + "." + cmdName
		}
		if err := cr.AddCommands(cmdName, cmd, recursive); err != nil {
			return err
		}
	}
	return nil
}
