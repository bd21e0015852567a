package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	if got, want := v.String(), "Version: 1.2.3-rc1\nBuild: abc"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !strings.HasPrefix(MemsieveVersion.String(), "Version: 0.3.0") {
		t.Fatalf("unexpected version %q", MemsieveVersion.String())
	}
}

func TestBuildInfo(t *testing.T) {
	bi := BuildInfo()
	if !strings.HasPrefix(bi, runtime.Version()+"\n") {
		t.Fatalf("build info does not start with the go version: %q", bi)
	}
	if !strings.Contains(bi, "module ") && !strings.Contains(bi, "not built in module mode") {
		t.Fatalf("build info has no module line: %q", bi)
	}
}
