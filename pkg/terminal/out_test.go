package terminal

import (
	"bytes"
	"strings"
	"testing"
)

func TestLargeOutput(t *testing.T) {
	w := &pagingWriter{lines: 3, columns: 10}
	for _, tc := range []struct {
		out   string
		large bool
	}{
		{"a\nb\nc\n", false},
		{"a\nb\nc\nd\n", true},
		{strings.Repeat("x", 41), true},
		{strings.Repeat("x", 40), false},
		{strings.Repeat("x", 25), false},
	} {
		w.buf = []byte(tc.out)
		if got := w.largeOutput(); got != tc.large {
			t.Errorf("largeOutput(%q) = %v", tc.out, got)
		}
	}
}

func TestPageMaybeNotTerminal(t *testing.T) {
	t.Setenv("MEMSIEVE_PAGER", "")
	var buf bytes.Buffer
	w := &pagingWriter{w: &buf}
	w.PageMaybe(nil)
	if w.mode != pagingWriterNormal {
		t.Fatalf("paging enabled on a buffer")
	}
	w.Write([]byte("hello\n"))
	w.Reset()
	if buf.String() != "hello\n" {
		t.Fatalf("output %q", buf.String())
	}
}
