package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var engine = false
var scan = false
var target = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Engine returns true if the engine package should log.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the scan engine.
func EngineLogger() Logger {
	return makeFlaggableLogger(engine, Fields{"layer": "engine"})
}

// Scan returns true if the match store should log region walks and
// swath filtering.
func Scan() bool {
	return scan
}

// ScanLogger returns a logger for the match store.
func ScanLogger() Logger {
	return makeFlaggableLogger(scan, Fields{"layer": "scan"})
}

// Target returns true if memory providers should log their reads, writes
// and region enumeration.
func Target() bool {
	return target
}

// TargetLogger returns a logger for memory providers.
func TargetLogger() Logger {
	return makeFlaggableLogger(target, Fields{"layer": "target"})
}

// Terminal returns true if the command line client should log the commands
// it executes.
func Terminal() bool {
	return terminal
}

// TerminalLogger returns a logger for the command line client.
func TerminalLogger() Logger {
	return makeFlaggableLogger(terminal, Fields{"layer": "terminal"})
}

// WriteError writes an error message to the log, regardless of the
// enabled layers.
func WriteError(msg string) {
	if logOut != nil {
		fmt.Fprintln(logOut, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the enabled log layers based on the contents of logstr.
// If logDest is not empty logs are redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "memsieve-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "engine"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "engine":
			engine = true
		case "scan":
			scan = true
		case "target":
			target = true
		case "terminal":
			terminal = true
		case "all":
			engine, scan, target, terminal = true, true, true, true
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(b, "layer=%v ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}
