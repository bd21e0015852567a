package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/memsieve/memsieve/pkg/config"
	"github.com/memsieve/memsieve/pkg/engine"
	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/terminal/starbind"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack   = 30
	ansiBlue    = 34
	ansiWhite   = 37
	ansiBrBlack = 90
	ansiBrWhite = 97
)

// Term represents the terminal running memsieve.
type Term struct {
	eng      *engine.Engine
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *pagingWriter
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term. The options of eng are replaced with the ones
// in conf.
func New(eng *engine.Engine, conf *config.Config) *Term {
	cmds := ScanCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := newTerm(eng, conf, cmds, w)
	t.dumb = dumb
	t.line = liner.NewLiner()
	return t
}

func newTerm(eng *engine.Engine, conf *config.Config, cmds *Commands, w io.Writer) *Term {
	if (conf.ListAddressColor > ansiWhite &&
		conf.ListAddressColor < ansiBrBlack) ||
		conf.ListAddressColor < ansiBlack ||
		conf.ListAddressColor > ansiBrWhite {
		conf.ListAddressColor = ansiBlue
	}

	t := &Term{
		eng:    eng,
		conf:   conf,
		prompt: "(memsieve) ",
		cmds:   cmds,
		stdout: &pagingWriter{w: w},
	}
	if err := t.applyConfig(); err != nil {
		logflags.TerminalLogger().WithError(err).Warnf("ignoring configuration")
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// applyConfig sets the engine options from the configuration.
func (t *Term) applyConfig() error {
	opts, err := engineOptions(t.conf)
	if err != nil {
		return err
	}
	t.eng.SetOptions(opts)
	return nil
}

func engineOptions(conf *config.Config) (engine.Options, error) {
	opts := engine.Options{
		ReverseEndianness: conf.ReverseEndianness,
		Freeze:            conf.FreezeTarget,
	}
	if conf.ScanDataType != "" {
		dt, err := scan.ParseDataType(conf.ScanDataType)
		if err != nil {
			return opts, err
		}
		opts.DataType = dt
	}
	if conf.RegionScanLevel != "" {
		level, err := target.ParseScanLevel(conf.RegionScanLevel)
		if err != nil {
			return opts, err
		}
		opts.ScanLevel = level
	}
	return opts, nil
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		if t.eng.State() == engine.Scanning {
			fmt.Fprintln(os.Stderr, "received SIGINT, stopping scan")
		}
		t.eng.Stop()
		t.starlarkEnv.Cancel()
	}
}

// Run begins running memsieve in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	// Stop the running scan on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)
	defer signal.Stop(ch)

	t.line.SetCompleter(t.cmds.Complete)

	fullHistoryFile, err := config.GetHistoryFilePath()
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			if errors.Is(err, target.ErrProcessExited) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// currentPrompt shows the number of matches while a process is attached.
func (t *Term) currentPrompt() string {
	if t.eng.Pid() == 0 {
		return t.prompt
	}
	return fmt.Sprintf("%s%d> ", t.prompt, t.eng.Count())
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.currentPrompt())
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) formatAddress(addr uint64) string {
	s := fmt.Sprintf("%#012x", addr)
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, t.conf.ListAddressColor) + s + terminalResetEscapeCode
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetHistoryFilePath()
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.eng.Detach(); err != nil && !errors.Is(err, engine.ErrNoTargetAttached) {
		return 1, err
	}
	return 0, nil
}
