package cmds

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memsieve/memsieve/cmd/memsieve/cmds/helphelpers"
	"github.com/memsieve/memsieve/pkg/config"
	"github.com/memsieve/memsieve/pkg/engine"
	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/target/native"
	"github.com/memsieve/memsieve/pkg/terminal"
	"github.com/memsieve/memsieve/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memsieveCommandLongDesc = `memsieve searches the memory of a running process for values and
narrows the set of matching addresses over successive scans.

Start a scan by attaching to a process and typing the value to look for.
Change the value in the program, then type it again, or use one of the
relative scans ("=", "!=", ">", "<", "+", "-") until a handful of
addresses is left. Use "set" to write a new value to them.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil && !docCall {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	if conf == nil {
		conf = &config.Config{}
	}

	// Main memsieve root command.
	rootCommand = &cobra.Command{
		Use:   "memsieve",
		Short: "memsieve is an interactive memory scanner.",
		Long:  memsieveCommandLongDesc,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(0, conf))
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'memsieve help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'memsieve help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to running process and begin scanning.",
		Long: `Attach to an already running process and begin scanning its memory.

This command will cause memsieve to take control of an already running process
each time it reads or writes its memory. The process is never modified unless
a value is written with "set" or "write".`,
		Args: cobra.ExactArgs(1),
		Run:  attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'ps' subcommand.
	psCommand := &cobra.Command{
		Use:   "ps [filter]",
		Short: "Lists the processes memsieve can attach to.",
		Long: `Lists the processes memsieve can attach to.

If filter is given only processes whose name or command line contain it
are listed. Process names in the process-blacklist configuration option
are never listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: psCmd,
	}
	rootCommand.AddCommand(psCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memsieve\n%s\n", version.MemsieveVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	engine		Log attach, detach and scan requests
	scan		Log match store construction and narrowing
	target		Log memory map parsing and process access
	terminal	Log terminal commands and configuration
	all		All of the above

Additionally --log-dest can be used to specify where the logs should be
written. 
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	defaultUsage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return defaultUsage(cmd)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(pid, conf))
}

func psCmd(cmd *cobra.Command, args []string) error {
	var filter string
	if len(args) > 0 {
		filter = args[0]
	}
	procs, err := native.Processes(filter, conf.ProcessBlacklist)
	if err != nil {
		return err
	}
	for _, p := range procs {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func execute(attachPid int, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	eng := engine.New(native.Open, engine.Options{})
	if attachPid != 0 {
		if err := eng.Attach(attachPid); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	term := terminal.New(eng, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}
