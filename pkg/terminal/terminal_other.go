//go:build !windows

package terminal

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// getColorableWriter returns stdout, dropping the address highlighting
// when the output is redirected to a file or a pipe.
func getColorableWriter() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewNonColorable(os.Stdout)
	}
	return os.Stdout
}
