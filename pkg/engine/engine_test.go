package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

// fakeProcess counts freezes and lets tests hook reads.
type fakeProcess struct {
	*target.Memory
	freezes, thaws int
	onRead         func()
}

func (p *fakeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	if p.onRead != nil {
		p.onRead()
	}
	return p.Memory.ReadMemory(buf, addr)
}

func (p *fakeProcess) Freeze() error {
	p.freezes++
	return p.Memory.Freeze()
}

func (p *fakeProcess) Thaw() error {
	p.thaws++
	return p.Memory.Thaw()
}

func newProcess(pid int) *fakeProcess {
	mem := target.NewMemory(pid)
	mem.Map(0x1000, []byte{100, 100, 50, 100})
	mem.Map(0x8000, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	return &fakeProcess{Memory: mem}
}

func setup(t *testing.T, opts Options) (*Engine, *fakeProcess) {
	t.Helper()
	p := newProcess(42)
	e := New(func(pid int) (target.Target, error) {
		if pid != 42 {
			return nil, errors.New("no such process")
		}
		return p, nil
	}, opts)
	if err := e.Attach(42); err != nil {
		t.Fatal(err)
	}
	return e, p
}

func mustParse(t *testing.T, s string) value.Value {
	t.Helper()
	v, err := value.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestScanWithoutTarget(t *testing.T) {
	e := New(nil, Options{})
	if _, err := e.Scan(context.Background(), scan.MatchEqualTo, mustParse(t, "1")); !errors.Is(err, ErrNoTargetAttached) {
		t.Fatalf("Scan: %v", err)
	}
	if err := e.WriteIndex(0, mustParse(t, "1")); !errors.Is(err, ErrNoTargetAttached) {
		t.Fatalf("WriteIndex: %v", err)
	}
	if err := e.Detach(); !errors.Is(err, ErrNoTargetAttached) {
		t.Fatalf("Detach: %v", err)
	}
	if e.Pid() != 0 || e.State() != Idle {
		t.Fatalf("pid %d state %s", e.Pid(), e.State())
	}
}

func TestAttachFailure(t *testing.T) {
	e, _ := setup(t, Options{})
	if err := e.Attach(7); err == nil {
		t.Fatalf("attached to missing process")
	}
	if e.Pid() != 0 {
		t.Fatalf("still attached to %d", e.Pid())
	}
}

func TestScanThenNarrow(t *testing.T) {
	e, p := setup(t, Options{DataType: scan.AnyInteger})
	ctx := context.Background()

	if _, err := e.Scan(ctx, scan.MatchIncreased); !errors.Is(err, ErrInvalidPredicateForState) {
		t.Fatalf("first scan with increased: %v", err)
	}
	if e.State() != Idle {
		t.Fatalf("state %s after refused scan", e.State())
	}

	n, err := e.Scan(ctx, scan.MatchEqualTo, mustParse(t, "100"))
	if err != nil || n != 3 {
		t.Fatalf("first scan: %d, %v", n, err)
	}
	if e.State() != Ready || e.Progress() != 1 {
		t.Fatalf("state %s progress %g", e.State(), e.Progress())
	}

	p.WriteMemory(0x1003, []byte{150})
	n, err = e.Scan(ctx, scan.MatchIncreased)
	if err != nil || n != 1 {
		t.Fatalf("rescan: %d, %v", n, err)
	}
	m, ok := e.Match(0)
	if !ok || m.Address != 0x1003 {
		t.Fatalf("match %v %v", m, ok)
	}

	// eliminated addresses never come back without a reset
	p.WriteMemory(0x1003, []byte{10})
	if n, _ := e.Scan(ctx, scan.MatchEqualTo, mustParse(t, "1")); n != 0 {
		t.Fatalf("count %d", n)
	}
	n, err = e.Scan(ctx, scan.MatchEqualTo, mustParse(t, "7"))
	if err != nil || n != 0 {
		t.Fatalf("scan after empty result: %d, %v", n, err)
	}
	if _, err := e.Scan(ctx, scan.MatchChanged); err != nil {
		t.Fatalf("old value scan after empty result: %v", err)
	}

	e.Reset()
	n, err = e.Scan(ctx, scan.MatchEqualTo, mustParse(t, "7"))
	if err != nil || n != 1 {
		t.Fatalf("scan after reset: %d, %v", n, err)
	}
}

func TestNarrowingNeverGrows(t *testing.T) {
	e, p := setup(t, Options{})
	ctx := context.Background()

	steps := []struct {
		poke  []byte
		mt    scan.MatchType
		value string
	}{
		{nil, scan.MatchEqualTo, "100"},
		{nil, scan.MatchEqualTo, "77"},
		{[]byte{5, 5, 5, 5}, scan.MatchEqualTo, "5"},
		{[]byte{77, 77, 77, 77}, scan.MatchEqualTo, "77"},
		{nil, scan.MatchUpdate, ""},
		{nil, scan.MatchAny, ""},
	}
	last := -1
	for i, step := range steps {
		if step.poke != nil {
			p.WriteMemory(0x1000, step.poke)
		}
		var vals []value.Value
		if step.value != "" {
			vals = append(vals, mustParse(t, step.value))
		}
		n, err := e.Scan(ctx, step.mt, vals...)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if last >= 0 && n > last {
			t.Fatalf("step %d: count grew from %d to %d", i, last, n)
		}
		last = n
	}
	if last != 0 {
		t.Fatalf("final count %d", last)
	}
}

func TestFreeze(t *testing.T) {
	e, p := setup(t, Options{Freeze: true})
	if _, err := e.Scan(context.Background(), scan.MatchAny); err != nil {
		t.Fatal(err)
	}
	if p.freezes != 1 || p.thaws != 1 || p.Frozen() {
		t.Fatalf("freezes %d thaws %d frozen %v", p.freezes, p.thaws, p.Frozen())
	}

	e.SetOptions(Options{})
	if _, err := e.Scan(context.Background(), scan.MatchAny); err != nil {
		t.Fatal(err)
	}
	if p.freezes != 1 {
		t.Fatalf("froze with freezing disabled")
	}
}

func TestStop(t *testing.T) {
	e, p := setup(t, Options{})
	n, err := e.Scan(context.Background(), scan.MatchAny)
	if err != nil {
		t.Fatal(err)
	}

	p.onRead = e.Stop
	_, err = e.Scan(context.Background(), scan.MatchUpdate)
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("stopped scan: %v", err)
	}
	if e.State() != Aborted {
		t.Fatalf("state %s", e.State())
	}
	if e.Count() != n {
		t.Fatalf("count changed from %d to %d", n, e.Count())
	}

	p.onRead = nil
	if _, err := e.Scan(context.Background(), scan.MatchUpdate); err != nil {
		t.Fatalf("scan after stop: %v", err)
	}
	if e.State() != Ready {
		t.Fatalf("state %s", e.State())
	}
}

func TestCancelledContext(t *testing.T) {
	e, _ := setup(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Scan(ctx, scan.MatchAny); !errors.Is(err, ErrScanAborted) {
		t.Fatalf("Scan: %v", err)
	}
	if e.Count() != 0 || e.State() != Aborted {
		t.Fatalf("count %d state %s", e.Count(), e.State())
	}
}

func TestSetOptionsResets(t *testing.T) {
	e, _ := setup(t, Options{})
	if _, err := e.Scan(context.Background(), scan.MatchAny); err != nil {
		t.Fatal(err)
	}
	e.SetOptions(Options{Freeze: true})
	if e.Count() == 0 {
		t.Fatalf("freeze option discarded matches")
	}
	e.SetOptions(Options{Freeze: true, DataType: scan.Integer8})
	if e.Count() != 0 || e.State() != Idle {
		t.Fatalf("data type change kept %d matches", e.Count())
	}
}

func TestWriteAndDetach(t *testing.T) {
	e, p := setup(t, Options{DataType: scan.Integer8})
	if err := e.WriteIndex(0, mustParse(t, "1")); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("write before scan: %v", err)
	}
	if _, err := e.Scan(context.Background(), scan.MatchEqualTo, mustParse(t, "5")); err != nil {
		t.Fatal(err)
	}
	if err := e.WriteAddress(0x8004, mustParse(t, "55")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	p.ReadMemory(buf, 0x8004)
	if buf[0] != 55 {
		t.Fatalf("memory holds %d", buf[0])
	}
	if n, err := e.WriteAll(mustParse(t, "56")); n != 1 || err != nil {
		t.Fatalf("WriteAll: %d %v", n, err)
	}

	if err := e.Detach(); err != nil {
		t.Fatal(err)
	}
	if e.Count() != 0 || e.Pid() != 0 {
		t.Fatalf("state kept after detach")
	}
	if _, err := p.Regions(target.RegionAll); !errors.Is(err, target.ErrProcessExited) {
		t.Fatalf("target not closed: %v", err)
	}
}

func TestRegions(t *testing.T) {
	e, _ := setup(t, Options{})
	regions, err := e.Regions()
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 || regions[0].Start != 0x1000 || regions[1].Start != 0x8000 {
		t.Fatalf("regions %v", regions)
	}
}
