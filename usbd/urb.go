// URB pool and endpoint runtime state
// https://github.com/gousbd/core

package usbd

import (
	"sync"

	"github.com/gousbd/core/controller"
)

// epState is the runtime lifecycle of a physical endpoint slot, spec.md §3.
type epState int

const (
	epClosed epState = iota
	epOpen
	epHalted
	epAborting
)

// completion is the terminal outcome of one URB, delivered exactly once
// either to a sync waiter's channel or to an async callback.
type completion struct {
	N   int
	Err error
}

// urb is a single queued transfer, spec.md §3. Every field the submission
// path or the completion path touches lives here so both sides agree on
// state without reaching into each other's locals.
type urb struct {
	ep  *endpoint
	dir controller.Direction

	buf    []byte
	length int
	end    bool // caller requested end-of-transfer ZLP semantics

	offset      int // bytes already handed to the driver
	transferred int // bytes the driver has confirmed complete

	waiter chan completion       // non-nil for sync callers
	cb     func(n int, err error) // non-nil for async callers

	zlpPending bool // true once the data phase is done and a ZLP chunk remains
}

func (u *urb) signal(n int, err error) {
	if u.waiter != nil {
		u.waiter <- completion{N: n, Err: err}
		return
	}
	if u.cb != nil {
		u.cb(n, err)
	}
}

// endpoint is a physical endpoint slot once opened (spec.md §3). Address
// and Direction partition the sixteen logical numbers into up to 32
// physical slots, matching USB's independent IN/OUT realization.
type endpoint struct {
	mu sync.Mutex

	Address       uint8
	TransferType  controller.TransferType
	MaxPacketSize uint16

	state epState
	queue []*urb // FIFO; queue[0] is the one actually in flight

	// extraBudget is how many additional URBs beyond the one in flight
	// this endpoint may admit, for controllers with hardware queuing
	// (spec.md §3, §4.6).
	extraBudget int
}

func newEndpoint(addr uint8, t controller.TransferType, maxPacketSize uint16, extraBudget int) *endpoint {
	return &endpoint{
		Address:       addr,
		TransferType:  t,
		MaxPacketSize: maxPacketSize,
		state:         epOpen,
		extraBudget:   extraBudget,
	}
}

// admit appends u to the queue if under budget, returning false if the
// endpoint is at capacity (spec.md §8: "never more than
// (open-endpoint-count + extra-budget) globally", enforced per-endpoint
// here as "at most 1 + extraBudget").
func (e *endpoint) admit(u *urb) bool {
	if len(e.queue) > e.extraBudget {
		return false
	}
	e.queue = append(e.queue, u)
	return true
}

// head returns the in-flight URB, or nil if the queue is empty.
func (e *endpoint) head() *urb {
	if len(e.queue) == 0 {
		return nil
	}
	return e.queue[0]
}

// popHead removes the in-flight URB after it reaches a terminal state.
func (e *endpoint) popHead() *urb {
	if len(e.queue) == 0 {
		return nil
	}
	u := e.queue[0]
	e.queue = e.queue[1:]
	return u
}

// drainAll removes and returns every queued URB, for abort/stall/reset.
func (e *endpoint) drainAll() []*urb {
	all := e.queue
	e.queue = nil
	return all
}
