package terminal

import (
	"os"

	"golang.org/x/sys/windows"
)

func (w *pagingWriter) getWindowSize() {
	var sbi windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(windows.Handle(os.Stdout.Fd()), &sbi); err != nil {
		w.mode = pagingWriterNormal
		return
	}
	w.columns = int(sbi.Window.Right - sbi.Window.Left + 1)
	w.lines = int(sbi.Window.Bottom - sbi.Window.Top + 1)
}
