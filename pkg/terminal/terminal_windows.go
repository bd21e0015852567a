package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"golang.org/x/sys/windows"
)

// getColorableWriter will return a writer that is capable
// of interpreting ANSI escape codes for terminal colors.
func getColorableWriter() io.Writer {
	if strings.ToLower(os.Getenv("ConEmuANSI")) == "on" {
		return os.Stdout
	}
	h := windows.Handle(os.Stdout.Fd())
	var m uint32
	if err := windows.GetConsoleMode(h, &m); err != nil {
		return os.Stdout
	}
	if m&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}
