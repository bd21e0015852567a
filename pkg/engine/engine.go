// Package engine drives scans of one attached process: it owns the target,
// the current match store and the scan state machine, and serialises every
// operation that modifies them.
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/memsieve/memsieve/pkg/logflags"
	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/value"
)

var (
	// ErrNoTargetAttached is returned by operations that need a process.
	ErrNoTargetAttached = errors.New("no target attached")
	// ErrReadFailed wraps failures to enumerate or read the target.
	ErrReadFailed = errors.New("read failed")

	ErrInvalidPredicateForState = scan.ErrInvalidPredicateForState
	ErrScanAborted              = scan.ErrAborted
	ErrNoMatch                  = scan.ErrNoMatch
	ErrWriteFailed              = scan.ErrWriteFailed
)

// State is the state of the scan state machine.
type State uint8

const (
	// Idle means no scan was performed since attach or reset.
	Idle State = iota
	// Scanning means a scan or rescan is in flight.
	Scanning
	// Ready means the store holds the result of the last scan.
	Ready
	// Aborted means the last scan was cancelled; the store holds the
	// result of the scan before it, if any.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Ready:
		return "ready"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Options are the user settable knobs of the engine.
type Options struct {
	// DataType limits the kinds tried by a full scan.
	DataType scan.DataType
	// ScanLevel selects the regions walked by a full scan.
	ScanLevel target.ScanLevel
	// ReverseEndianness decodes the target's memory as big endian.
	ReverseEndianness bool
	// Freeze stops the target for the duration of every scan.
	Freeze bool
}

// ByteOrder returns the byte order selected by o.
func (o Options) ByteOrder() binary.ByteOrder {
	if o.ReverseEndianness {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Engine is the scanner bound to at most one process at a time.
//
// Scan, the write methods, Attach, Detach, Reset and SetOptions are
// serialised. Count, Matches, State, Progress and Stop can be called at any
// time, including while a scan is running.
type Engine struct {
	mu     sync.Mutex
	opener target.Opener
	tgt    target.Target
	opts   Options

	store atomic.Pointer[scan.Store]

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc

	progress atomic.Uint64

	log logflags.Logger
}

// New returns an engine that attaches to processes using opener.
func New(opener target.Opener, opts Options) *Engine {
	return &Engine{
		opener: opener,
		opts:   opts,
		log:    logflags.EngineLogger(),
	}
}

// Attach attaches to pid, detaching from the current target first.
func (e *Engine) Attach(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tgt != nil {
		old := e.tgt.Pid()
		if err := e.detachLocked(); err != nil {
			e.log.WithError(err).Warnf("detaching from %d", old)
		}
	}
	tgt, err := e.opener(pid)
	if err != nil {
		return fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	e.tgt = tgt
	e.resetLocked()
	e.log.Infof("attached to %d", pid)
	return nil
}

// Detach releases the current target and discards the matches.
func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tgt == nil {
		return ErrNoTargetAttached
	}
	return e.detachLocked()
}

func (e *Engine) detachLocked() error {
	pid := e.tgt.Pid()
	err := e.tgt.Close()
	e.tgt = nil
	e.resetLocked()
	e.log.Infof("detached from %d", pid)
	return err
}

// Reset discards the matches; the next scan is a full scan.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.store.Store(nil)
	e.progress.Store(0)
	e.setState(Idle, nil)
}

// Pid returns the pid of the attached process, 0 if there is none.
func (e *Engine) Pid() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tgt == nil {
		return 0
	}
	return e.tgt.Pid()
}

// State returns the current state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *Engine) setState(s State, cancel context.CancelFunc) {
	e.stateMu.Lock()
	e.state = s
	e.cancel = cancel
	e.stateMu.Unlock()
}

// Stop requests the running scan, if any, to stop. The scan returns an
// error wrapping ErrScanAborted and the matches are left as they were.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Progress returns the fraction of the running (or last) scan done.
func (e *Engine) Progress() float64 {
	return math.Float64frombits(e.progress.Load())
}

func (e *Engine) setProgress(f float64) {
	e.progress.Store(math.Float64bits(f))
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// SetOptions replaces the options. Changing the data type or the byte
// order discards the matches.
func (e *Engine) SetOptions(opts Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.DataType != e.opts.DataType || opts.ReverseEndianness != e.opts.ReverseEndianness {
		e.resetLocked()
	}
	e.opts = opts
}

// Scan runs a full scan if no scan was made since the last attach or
// reset and narrows the existing matches otherwise, even when none are
// left. It returns the number of matches.
func (e *Engine) Scan(ctx context.Context, mt scan.MatchType, vals ...value.Value) (int, error) {
	pred, err := scan.NewPredicate(mt, vals...)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tgt == nil {
		return 0, ErrNoTargetAttached
	}
	store := e.store.Load()
	full := store == nil
	if full && mt.NeedsOld() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPredicateForState, mt)
	}

	prev := e.State()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setState(Scanning, cancel)
	e.setProgress(0)

	if f, ok := e.tgt.(target.Freezer); ok && e.opts.Freeze {
		if err := f.Freeze(); err != nil {
			e.log.WithError(err).Warnf("could not freeze %d", e.tgt.Pid())
		} else {
			defer func() {
				if err := f.Thaw(); err != nil {
					e.log.WithError(err).Warnf("could not thaw %d", e.tgt.Pid())
				}
			}()
		}
	}

	if full {
		err = e.fullScan(ctx, pred)
	} else {
		e.log.Debugf("rescan %s over %d matches", pred, store.Count())
		err = store.Rescan(ctx, e.tgt, pred, e.setProgress)
	}
	if err != nil {
		if errors.Is(err, ErrScanAborted) {
			e.setState(Aborted, nil)
		} else {
			e.setState(prev, nil)
		}
		return 0, err
	}
	e.setState(Ready, nil)
	n := e.store.Load().Count()
	e.log.Infof("%s: %d matches", pred, n)
	return n, nil
}

func (e *Engine) fullScan(ctx context.Context, pred scan.Predicate) error {
	regions, err := e.tgt.Regions(e.opts.ScanLevel)
	if err != nil {
		return fmt.Errorf("%w: listing regions of %d: %w", ErrReadFailed, e.tgt.Pid(), err)
	}
	e.log.Debugf("full scan %s over %d regions (%s)", pred, len(regions), e.opts.ScanLevel)
	s, err := scan.Build(ctx, e.tgt, regions, pred, scan.Options{
		DataType: e.opts.DataType,
		Order:    e.opts.ByteOrder(),
		Progress: e.setProgress,
	})
	if err != nil {
		return err
	}
	e.store.Store(s)
	return nil
}

// Count returns the number of matches.
func (e *Engine) Count() int {
	if s := e.store.Load(); s != nil {
		return s.Count()
	}
	return 0
}

// Matches calls fn for every match in address order until fn returns
// false.
func (e *Engine) Matches(fn func(i int, m scan.Match) bool) {
	if s := e.store.Load(); s != nil {
		s.Matches(fn)
	}
}

// Match returns the i-th match.
func (e *Engine) Match(i int) (scan.Match, bool) {
	if s := e.store.Load(); s != nil {
		return s.Match(i)
	}
	return scan.Match{}, false
}

// Regions returns the regions a full scan would walk.
func (e *Engine) Regions() ([]target.Region, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tgt == nil {
		return nil, ErrNoTargetAttached
	}
	return e.tgt.Regions(e.opts.ScanLevel)
}

func (e *Engine) writable() (*scan.Store, error) {
	if e.tgt == nil {
		return nil, ErrNoTargetAttached
	}
	s := e.store.Load()
	if s == nil {
		return nil, fmt.Errorf("%w: no scan performed", ErrNoMatch)
	}
	return s, nil
}

// WriteAddress writes v to the match at addr.
func (e *Engine) WriteAddress(addr uint64, v value.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.writable()
	if err != nil {
		return err
	}
	return s.WriteAddress(e.tgt, addr, v)
}

// WriteIndex writes v to the i-th match.
func (e *Engine) WriteIndex(i int, v value.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.writable()
	if err != nil {
		return err
	}
	return s.WriteIndex(e.tgt, i, v)
}

// WriteAll writes v to every match and returns how many were written.
func (e *Engine) WriteAll(v value.Value) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.writable()
	if err != nil {
		return 0, err
	}
	return s.WriteAll(e.tgt, v)
}
