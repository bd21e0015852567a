package terminal

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/memsieve/memsieve/pkg/config"
	"github.com/memsieve/memsieve/pkg/engine"
	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

const testPid = 42

type FakeTerminal struct {
	*Term
	t   testing.TB
	mem *target.Memory
	out *bytes.Buffer
}

func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.out.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.out.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	ft.t.Helper()
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	ft.t.Helper()
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("command %q: expected %q, got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// poke changes the target's memory behind the engine's back.
func (ft *FakeTerminal) poke(addr uint64, b ...byte) {
	ft.t.Helper()
	if _, err := ft.mem.WriteMemory(addr, b); err != nil {
		ft.t.Fatal(err)
	}
}

func (ft *FakeTerminal) peek(addr uint64, n int) []byte {
	ft.t.Helper()
	buf := make([]byte, n)
	if _, err := ft.mem.ReadMemory(buf, addr); err != nil {
		ft.t.Fatal(err)
	}
	return buf
}

// withTestTerminal runs fn on a terminal whose engine can attach to
// testPid, a process with the four bytes 7 0 0 0 at 0x1000.
func withTestTerminal(t *testing.T, fn func(*FakeTerminal)) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	mem := target.NewMemory(testPid)
	mem.Map(0x1000, []byte{7, 0, 0, 0})
	eng := engine.New(func(pid int) (target.Target, error) {
		if pid != testPid {
			return nil, errors.New("no such process")
		}
		return mem, nil
	}, engine.Options{})

	out := new(bytes.Buffer)
	term := newTerm(eng, &config.Config{}, ScanCommands(), out)
	term.dumb = true
	ft := &FakeTerminal{Term: term, t: t, mem: mem, out: out}
	fn(ft)
}

func TestScanCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecError("= 7", engine.ErrNoTargetAttached.Error())
		term.AssertExec("attach 42", "attached to 42\n")
		term.AssertExec("pid", "attached to 42\n")

		term.AssertExec("7", "1 match, use \"set\" to change its value\n")
		term.AssertExec("count", "1\n")
		term.AssertExec("=", "1 match, use \"set\" to change its value\n")

		term.poke(0x1000, 10)
		term.MustExec("+")
		term.AssertExec("count", "1\n")

		term.poke(0x1000, 15)
		term.MustExec("+ 5")
		term.AssertExec("count", "1\n")

		term.poke(0x1000, 14)
		term.MustExec("- 1")
		term.AssertExec("count", "1\n")
		term.MustExec("!=")
		term.AssertExec("count", "0\n")

		// eliminated addresses stay out until reset
		term.AssertExec("14", "no matches left, use \"reset\" to start a new scan\n")
		term.MustExec("reset")
		term.MustExec("10..20")
		term.AssertExec("count", "1\n")
		term.MustExec("range 10..14")
		term.AssertExec("count", "1\n")
		term.MustExec(">13")
		term.AssertExec("count", "1\n")
		term.AssertExec("<14", "no matches left, use \"reset\" to start a new scan\n")
	})
}

func TestFirstScanNeedsValue(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("attach 42")
		for _, cmd := range []string{"+", "-", "=", "!=", ">", "<", "update", "+ 1"} {
			_, err := term.Exec(cmd)
			if !errors.Is(err, scan.ErrInvalidPredicateForState) {
				t.Errorf("%q: %v", cmd, err)
			}
		}
		term.MustExec("snapshot")
		term.MustExec("update")
		term.AssertExecError("snapshot 1", "takes no arguments")
	})
}

func TestListAndSet(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("attach 42")
		term.MustExec("s32:7")
		out := term.MustExec("list")
		if !strings.HasPrefix(out, "[  0] 0x0000001000 misc+0x0, 7, s32\n") {
			t.Fatalf("list: %q", out)
		}

		term.MustExec("set 0=9")
		if got := term.peek(0x1000, 4); !bytes.Equal(got, []byte{9, 0, 0, 0}) {
			t.Fatalf("memory after set: %v", got)
		}
		term.MustExec("update")
		if out := term.MustExec("ls"); !strings.Contains(out, ", 9, s32") {
			t.Fatalf("list after update: %q", out)
		}

		term.AssertExec("set 11", "1 matches written\n")
		if got := term.peek(0x1000, 4); !bytes.Equal(got, []byte{11, 0, 0, 0}) {
			t.Fatalf("memory after set all: %v", got)
		}

		term.MustExec("write 0x1000 12")
		if got := term.peek(0x1000, 4); !bytes.Equal(got, []byte{12, 0, 0, 0}) {
			t.Fatalf("memory after write: %v", got)
		}

		term.AssertExecError("set 3=1", "")
		term.AssertExecError("set x=1", "invalid match index")
		term.AssertExecError("write 0x1000", "wrong number of arguments")
		term.AssertExecError("list x", "must be a number")
	})
}

func TestListLimit(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.mem.Map(0x2000, []byte{7, 0, 0, 0})
		term.mem.Map(0x3000, []byte{7, 0, 0, 0})
		term.MustExec("attach 42")
		term.MustExec("u8:7")
		term.AssertExec("count", "3\n")

		out := term.MustExec("list 2")
		if n := strings.Count(out, "\n"); n != 3 || !strings.HasSuffix(out, "(1 more matches)\n") {
			t.Fatalf("list 2: %q", out)
		}
		one := 1
		term.conf.MaxListMatches = &one
		if out := term.MustExec("list"); !strings.HasSuffix(out, "(2 more matches)\n") {
			t.Fatalf("list with max-list-matches 1: %q", out)
		}
		if out := term.MustExec("list 0"); strings.Count(out, "\n") != 3 {
			t.Fatalf("list 0: %q", out)
		}
	})
}

func TestFind(t *testing.T) {
	cmds := ScanCommands()
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"snap", "snapshot"},
		{"cou", "count"},
		{"pid", "attach"},
		{"=", "="},
		{"!", ""},
		{"s", ""},
		{"l", ""},
		{"7", ""},
		{"", ""},
	} {
		cmd := cmds.Find(tc.in)
		switch {
		case tc.want == "" && cmd != nil:
			t.Errorf("Find(%q) = %s", tc.in, cmd.aliases[0])
		case tc.want != "" && (cmd == nil || cmd.aliases[0] != tc.want):
			t.Errorf("Find(%q) = %v, want %s", tc.in, cmd, tc.want)
		}
	}

	if got := cmds.Complete("de"); len(got) != 1 || got[0] != "detach" {
		t.Errorf("Complete(de) = %v", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecError("bogus", "command not available")
		term.AssertExecError("bogus 1", "command not available")
		term.AssertExecError("0xzz", "could not parse")
		term.AssertExecError("s32:1.5", "could not parse")
		term.AssertExec("", "")
		if _, err := term.Exec("exit"); !errors.As(err, &ExitRequestError{}) {
			t.Fatalf("exit: %v", err)
		}
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{"Scanning and narrowing matches", "snapshot", "lregions (alias: regions)"} {
			if !strings.Contains(out, s) {
				t.Fatalf("help output does not contain %q:\n%s", s, out)
			}
		}
		if out := term.MustExec("help snapshot"); !strings.HasPrefix(out, "Records every address") {
			t.Fatalf("help snapshot: %q", out)
		}
		term.AssertExecError("help bogus", "command not available")
	})
}

func TestDetachAndReset(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("attach 42")
		term.MustExec("7")
		term.AssertExec("reset", "matches discarded\n")
		term.AssertExec("count", "0\n")
		term.AssertExec("detach", "detached from 42\n")
		term.AssertExec("pid", "not attached\n")
		term.AssertExecError("attach 7", "no such process")
		term.AssertExecError("attach x", "invalid pid")
	})
}

func TestRegionsCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExecError("lregions", engine.ErrNoTargetAttached.Error())
		term.MustExec("attach 42")
		out := term.MustExec("lregions")
		if !strings.Contains(out, "0x0000001000") || strings.Count(out, "\n") != 1 {
			t.Fatalf("lregions: %q", out)
		}
	})
}

func TestConfig(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config scan-data-type int8")
		if dt := term.eng.Options().DataType; dt != scan.Integer8 {
			t.Fatalf("data type %s", dt)
		}
		term.AssertExecError("config scan-data-type bytearray", "unknown scan data type")
		if term.conf.ScanDataType != "int8" {
			t.Fatalf("invalid data type kept: %q", term.conf.ScanDataType)
		}
		term.MustExec("option freeze-target true")
		if !term.eng.Options().Freeze {
			t.Fatalf("freeze-target not applied")
		}
		term.MustExec("config region-scan-level heap_stack_executable")
		if term.eng.Options().ScanLevel != target.RegionHeapStackExecutable {
			t.Fatalf("region-scan-level not applied")
		}
		term.MustExec("config max-list-matches 5")
		if term.conf.MaxListMatches == nil || *term.conf.MaxListMatches != 5 {
			t.Fatalf("max-list-matches not set")
		}
		term.MustExec(`config process-blacklist "a b" c`)
		if bl := term.conf.ProcessBlacklist; len(bl) != 2 || bl[0] != "a b" || bl[1] != "c" {
			t.Fatalf("process-blacklist %q", bl)
		}
		term.AssertExecError("config bogus 1", "not a configuration parameter")
		term.AssertExecError("config max-list-matches x", "must be a number")

		out := term.MustExec("config -list")
		for _, s := range []string{"scan-data-type", "int8", "freeze-target", "true"} {
			if !strings.Contains(out, s) {
				t.Fatalf("config -list does not contain %q:\n%s", s, out)
			}
		}

		term.MustExec("config -save")
		path, _ := config.GetConfigFilePath("config.yml")
		conf, err := config.Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if conf.ScanDataType != "int8" || !conf.FreezeTarget {
			t.Fatalf("saved configuration %#v", conf)
		}
	})
}

func TestConfigAlias(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("attach 42")
		term.MustExec("7")
		term.MustExec("config alias count cnt")
		term.AssertExec("cnt", "1\n")
		term.MustExec("config alias option opt")
		if _, ok := term.conf.Aliases["config"]; !ok {
			t.Fatalf("alias not stored under the command name: %v", term.conf.Aliases)
		}
		term.MustExec("config alias cnt")
		term.AssertExecError("cnt", "command not available")
		term.AssertExecError("config alias bogus b", "not a command")
	})
}

func TestSourceCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "init")
		script := "# attach and look for 7\nattach 42\n\n7\nbogus\n"
		if err := os.WriteFile(path, []byte(script), 0600); err != nil {
			t.Fatal(err)
		}
		out := term.MustExec("source " + path)
		if !strings.Contains(out, path+":5: command not available") {
			t.Fatalf("source output: %q", out)
		}
		term.AssertExec("count", "1\n")
		term.AssertExecError("source", "wrong number of arguments")
		term.AssertExecError("source "+path+".missing", "no such file")
	})
}

func TestEngineOptions(t *testing.T) {
	opts, err := engineOptions(&config.Config{
		ScanDataType:      "float64",
		RegionScanLevel:   "heap_stack_executable_bss",
		ReverseEndianness: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if opts.DataType != scan.Float64 || opts.ScanLevel != target.RegionHeapStackExecutableBSS || !opts.ReverseEndianness || opts.Freeze {
		t.Fatalf("options %#v", opts)
	}
	if _, err := engineOptions(&config.Config{RegionScanLevel: "heap"}); err == nil {
		t.Fatalf("invalid scan level accepted")
	}
}

func TestPrompt(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		if p := term.currentPrompt(); p != "(memsieve) " {
			t.Fatalf("prompt %q", p)
		}
		term.MustExec("attach 42")
		term.MustExec("7")
		if p := term.currentPrompt(); p != "(memsieve) 1> " {
			t.Fatalf("prompt %q", p)
		}
	})
}
