package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStarFile(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStarlarkBuiltins(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := writeStarFile(t, "scan.star", `
def main():
    attach(42)
    n = scan("equal", "s32:7")
    m = matches()
    print(n, len(m), m[0].address, m[0].kind, m[0].value, m[0].kinds)
    print(write(9, index=0), count())
    print([r.start for r in regions()])
`)
		out := term.MustExec("source " + path)
		want := "1 1 4096 s32 7 [\"s32\"]\n1 1\n[4096]\n"
		if out != want {
			t.Fatalf("expected %q, got %q", want, out)
		}
		if got := term.peek(0x1000, 4); !bytes.Equal(got, []byte{9, 0, 0, 0}) {
			t.Fatalf("memory after write: %v", got)
		}
	})
}

func TestStarlarkNarrowing(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.mem.Map(0x2000, []byte{7, 0, 0, 0})
		first := writeStarFile(t, "first.star", `
def main():
    attach(42)
    print(scan("equal", 7))
    print(write(6, address=0x1000))
`)
		term.AssertExec("source "+first, "2\n1\n")
		if got := term.peek(0x1000, 4); !bytes.Equal(got, []byte{6, 0, 0, 0}) {
			t.Fatalf("memory after write: %v", got)
		}

		term.poke(0x2000, 8)
		second := writeStarFile(t, "second.star", `
def main():
    print(scan("increased"))
    print(scan("range", 8, 9))
    reset()
    print(count())
`)
		term.AssertExec("source "+second, "1\n1\n0\n")
	})
}

func TestStarlarkCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := writeStarFile(t, "cmds.star", `
def command_find(args):
    "Scans for the value in args."
    print("found", scan("equal", args))

def command_twice(x):
    print(x * 2)

Limit = 3
`)
		term.MustExec("source " + path)
		term.MustExec("attach 42")
		term.AssertExec("find 7", "found 1\n")
		term.AssertExec("twice 21", "42\n")
		if out := term.MustExec("help find"); !strings.Contains(out, "Scans for the value in args.") {
			t.Fatalf("help find: %q", out)
		}

		second := writeStarFile(t, "second.star", `
def main():
    print(Limit)
    memsieve_command("count")
`)
		term.AssertExec("source "+second, "3\n1\n")
	})
}

func TestStarlarkErrors(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		for _, tc := range []struct {
			src, err string
		}{
			{`scan("between", 1)`, "unknown match type"},
			{`scan("equal", 1)`, "no target attached"},
			{`attach(42); scan("equal", [1])`, "can not use list as a value"},
			{`attach(42); scan("increased")`, "needs a previous scan"},
			{`memsieve_command("bogus")`, "command not available"},
			{`main = 1`, "main is not a function"},
		} {
			path := writeStarFile(t, "err.star", tc.src+"\n")
			_, err := term.Exec("source " + path)
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Errorf("%s: expected error containing %q, got %v", tc.src, tc.err, err)
			}
			term.eng.Detach()
		}
	})
}

func TestStarlarkHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := writeStarFile(t, "help.star", `
def main():
    help()
    help(scan)
`)
		out := term.MustExec("source " + path)
		for _, s := range []string{"Available builtins:", "\tmemsieve_command\n", "scan(MatchType, *Values)"} {
			if !strings.Contains(out, s) {
				t.Fatalf("help output does not contain %q:\n%s", s, out)
			}
		}
	})
}
