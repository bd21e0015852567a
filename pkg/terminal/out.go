package terminal

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
)

// pagingWriter writes to w. If PageMaybe is called, after a large amount of
// text has been written to w it will pipe the output to a pager instead.
type pagingWriter struct {
	mode     pagingWriterMode
	w        io.Writer
	buf      []byte
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	pager    string
	lastnl   bool
	cancel   func()

	lines, columns int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.largeOutput() {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		if err := w.startPager(); err != nil {
			w.mode = pagingWriterNormal
			return w.w.Write(p)
		}
		if !w.lastnl {
			io.WriteString(w.w, "\n")
		}
		io.WriteString(w.w, "Sending output to pager...\n")
		w.cmdStdin.Write(w.buf)
		w.buf = nil
		w.mode = pagingWriterPaging
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.cmdStdin.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

func (w *pagingWriter) startPager() error {
	cmd := exec.Command(w.pager)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	w.cmd, w.cmdStdin = cmd, stdin
	return nil
}

// Reset returns the pagingWriter to its normal mode.
func (w *pagingWriter) Reset() {
	if w.mode == pagingWriterNormal {
		return
	}
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
		w.cmd = nil
		w.cmdStdin = nil
	}
}

// PageMaybe configures pagingWriter to cache the output, after a large
// amount of text has been written to w it will automatically switch to
// piping output to a pager.
// The cancel function is called the first time a write to the pager errors.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	pager := os.Getenv("MEMSIEVE_PAGER")
	if pager == "" {
		stdout, ok := w.w.(*os.File)
		if !ok || !isatty.IsTerminal(stdout.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		if pager = os.Getenv("PAGER"); pager == "" {
			pager = "more"
		}
	}
	w.mode = pagingWriterMaybe
	w.pager = pager
	w.lastnl = true
	w.cancel = cancel
	w.getWindowSize()
}

// largeOutput reports whether the buffered output takes more lines than
// the window has, counting wrapped lines.
func (w *pagingWriter) largeOutput() bool {
	if w.lines <= 0 || w.columns <= 0 {
		return false
	}
	lines, col := 0, 0
	for _, b := range w.buf {
		switch {
		case b == '\n':
			lines++
			col = 0
		case col == w.columns:
			lines++
			col = 1
		default:
			col++
		}
		if lines > w.lines {
			return true
		}
	}
	return false
}
