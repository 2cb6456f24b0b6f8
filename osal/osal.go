// OS abstraction contract
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package osal describes the OS/RTOS primitives the core needs and their
// semantics (spec.md §4.10, §6): a counting semaphore with timed pend and
// pend-abort, a millisecond delay, and task creation. It mirrors the
// teacher's goos package, which documents the runtime hooks a freestanding
// Go program must supply without implementing them itself ("this package
// is a stub and is only used for documentation purposes").
//
// The Semaphore built by NewSemaphore/NewCountingSemaphore is the one
// piece with a concrete, reusable implementation: rather
// than hand-roll a semaphore, it wraps golang.org/x/sync/semaphore, the
// primitive the wider Go ecosystem already reaches for (kevmo314/go-usb,
// hanwen/go-fuse, ehrlich-b/go-ublk and others in this module's retrieval
// pack all import it for exactly this purpose).
package osal

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Forever is the "wait forever" sentinel Pend accepts, mirroring
// controller.WaitForever for OS-layer waits (spec.md §5, §6).
const Forever time.Duration = 0

// Semaphore is a counting semaphore with timed pend and pend-abort,
// spec.md §6. A binary mutex is a Semaphore initialized with count 1.
type Semaphore interface {
	// Pend blocks until a unit is available or timeout elapses (timeout
	// 0 means wait forever), returning ErrTimeout on expiry or ErrAbort
	// if Abort was called while pending.
	Pend(timeout time.Duration) error

	// Post releases one unit, waking a pending caller if any.
	Post()

	// Abort signals every currently-pending Pend call with ErrAbort. The
	// semaphore stays aborted afterwards, so a later Pend may also return
	// ErrAbort.
	Abort()
}

// sema is the reference Semaphore built on x/sync/semaphore.Weighted. It
// adds the pend-abort and timeout semantics golang.org/x/sync/semaphore
// does not provide on its own (that package only supports context
// cancellation), the same gap the controller-driver ISR boundary needs
// bridged everywhere a sync waiter can be timed out or force-woken.
type sema struct {
	w      weighted
	abortc chan struct{}
}

// weighted is the subset of *semaphore.Weighted this package consumes,
// declared as an interface so tests can substitute a fake without pulling
// in the real x/sync dependency.
type weighted interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// NewSemaphore builds a counting semaphore backed by w (ordinarily
// semaphore.NewWeighted(n) from golang.org/x/sync/semaphore); its initial
// count is whatever w has available.
func NewSemaphore(w weighted) Semaphore {
	return &sema{w: w, abortc: make(chan struct{})}
}

func (s *sema) Pend(timeout time.Duration) error {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- s.w.Acquire(ctx, 1) }()

	select {
	case err := <-done:
		if err != nil {
			return ErrTimeout
		}
		return nil
	case <-s.abortc:
		return ErrAbort
	}
}

func (s *sema) Post() {
	s.w.Release(1)
}

func (s *sema) Abort() {
	select {
	case <-s.abortc:
		// already aborted; swallow, aborting twice is a no-op.
	default:
		close(s.abortc)
	}
}

// Sentinel errors surfaced by Pend; wrap with usberr.E at the call site to
// attach the operation name.
var (
	ErrTimeout = timeoutError{}
	ErrAbort   = abortError{}
)

type timeoutError struct{}

func (timeoutError) Error() string { return "osal: pend timeout" }

type abortError struct{}

func (abortError) Error() string { return "osal: pend aborted" }

// Delay blocks the calling task for d. The reference implementation is
// time.Sleep; bare-metal backends without a scheduler override this via
// Clock.
type Clock interface {
	Delay(d time.Duration)
	Now() time.Time
}

// systemClock is the reference Clock, used by hosts with a real OS
// scheduler (or under `go test`).
type systemClock struct{}

func (systemClock) Delay(d time.Duration) { time.Sleep(d) }
func (systemClock) Now() time.Time        { return time.Now() }

// SystemClock is the default Clock.
var SystemClock Clock = systemClock{}

// TaskFunc is a unit of work run on its own task/goroutine.
type TaskFunc func(stop <-chan struct{})

// TaskCreate starts fn as its own task named name. priority is advisory
// (bare-metal RTOS backends may honor it; the reference implementation
// ignores it, same as every goroutine spawn in the teacher's Start()
// loops). stop is closed to request the task to return.
func TaskCreate(name string, priority int, fn TaskFunc) (stop func()) {
	stopc := make(chan struct{})
	go fn(stopc)
	return func() {
		select {
		case <-stopc:
		default:
			close(stopc)
		}
	}
}

// Group supervises one or more TaskFuncs sharing a single stop signal,
// built on golang.org/x/sync/errgroup so Stop does not return until every
// task has actually exited (unlike the bare TaskCreate stop closure, which
// only requests the exit). A TaskFunc has no error result, so Stop always
// returns nil. spec.md
// §5 describes the core task and the HID idle-timer task as two
// cooperating task contexts that must shut down together; a Group is what
// a caller owning more than one such task reaches for.
type Group struct {
	stop chan struct{}
	eg   errgroup.Group
}

// NewGroup returns a Group with no tasks running yet.
func NewGroup() *Group {
	return &Group{stop: make(chan struct{})}
}

// Go starts fn on its own goroutine, sharing this Group's stop signal.
func (g *Group) Go(fn TaskFunc) {
	g.eg.Go(func() error {
		fn(g.stop)
		return nil
	})
}

// Stop requests every task started with Go to return, then waits for all
// of them to do so before returning.
func (g *Group) Stop() error {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	return g.eg.Wait()
}
