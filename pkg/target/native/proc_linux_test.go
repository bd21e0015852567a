package native

import (
	"bytes"
	"os"
	"testing"
	"unsafe"

	"github.com/memsieve/memsieve/pkg/target"
)

func openSelf(t *testing.T) *Process {
	t.Helper()
	p, err := OpenProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// testBuffer lives on the heap so that its address stays valid.
var testBuffer = []byte("memsieve test buffer")

func TestReadWriteSelf(t *testing.T) {
	p := openSelf(t)
	buf := testBuffer
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	got := make([]byte, len(buf))
	n, err := p.ReadMemory(got, addr)
	if err != nil {
		t.Skipf("reading own memory not permitted: %v", err)
	}
	if n != len(buf) || !bytes.Equal(got, buf) {
		t.Fatalf("read %q", got[:n])
	}

	if _, err := p.WriteMemory(addr, []byte("MEM")); err != nil {
		t.Fatal(err)
	}
	if string(buf[:3]) != "MEM" {
		t.Fatalf("buffer is %q after write", buf)
	}
}

func TestRegionsSelf(t *testing.T) {
	p := openSelf(t)
	buf := make([]byte, 1<<20)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	regions, err := p.Regions(target.RegionAll)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for i, r := range regions {
		if i > 0 && regions[i-1].Start >= r.Start {
			t.Fatalf("regions out of order: %s after %s", r, regions[i-1])
		}
		if !r.Perms.Read || !r.Perms.Write {
			t.Fatalf("region %s is not read-write", r)
		}
		if r.Contains(addr) {
			found = true
		}
	}
	if !found {
		t.Fatalf("heap buffer at %#x not in any region", addr)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := OpenProcess(-1); err == nil {
		t.Fatalf("opened pid -1")
	}
	if _, err := Open(1 << 30); err == nil {
		t.Fatalf("opened a missing pid")
	}
}

func TestProcesses(t *testing.T) {
	ps, err := Processes("", nil)
	if err != nil {
		t.Fatal(err)
	}
	var self ProcessInfo
	for _, pi := range ps {
		if pi.Pid == os.Getpid() {
			self = pi
		}
	}
	if self.Pid == 0 {
		t.Fatalf("own process not listed")
	}

	ps, err = Processes("", []string{self.Name})
	if err != nil {
		t.Fatal(err)
	}
	for _, pi := range ps {
		if pi.Pid == os.Getpid() {
			t.Fatalf("blacklisted process listed")
		}
	}
}

func TestClosed(t *testing.T) {
	p, err := OpenProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	if _, err := p.ReadMemory(make([]byte, 1), 0x1000); err != target.ErrProcessExited {
		t.Fatalf("read after close: %v", err)
	}
}
