package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare hides the persistent flags that have no effect on cmd before
// its usage is printed. The flags stay defined on the root command so
// that they parse in any position of the command line:
//
//	memsieve --init script ps
//
// Prepare is destructive, cmd can not be reused after it has been called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "version", "help", "log":
		hideAllFlags(cmd)
	case "ps":
		hideFlag(cmd, "init")
	case "memsieve", "attach":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	for {
		cmd = cmd.Parent()
		if cmd == nil {
			break
		}
		cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
			flag.Hidden = true
		})
	}
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(name)
	}
	if flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
