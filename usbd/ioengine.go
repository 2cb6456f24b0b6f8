// Endpoint I/O engine
// https://github.com/gousbd/core

package usbd

import (
	"github.com/gousbd/core/controller"
	"github.com/gousbd/core/osal"
	"github.com/gousbd/core/usberr"
)

// xferCeiling is the per-URB byte ceiling the engine fragments any
// transfer larger than into sequential chunks (spec.md §4.6, §8). Each
// chunk is handed to the driver as one EPTx/EPRxStart call; the driver
// may sub-fragment internally (e.g. into multiple DMA descriptors) but
// that is opaque above this boundary.
const xferCeiling = 16 * 1024

// ioEngine is the endpoint I/O engine, spec.md §4.6: it owns every open
// endpoint's queue, enforces the one-URB-in-flight-plus-budget rule, and
// drives fragmentation, ZLP policy, timeout and abort.
type ioEngine struct {
	drv      controller.Driver
	inflight osal.Semaphore // bounds total concurrent URBs across all endpoints

	eps map[uint8]*endpoint // keyed by (address<<1 | direction), see epKey
}

func epKey(addr uint8, dir controller.Direction) uint8 {
	return addr<<1 | uint8(dir)
}

func newIOEngine(drv controller.Driver, totalURBBudget int) *ioEngine {
	return &ioEngine{
		drv:      drv,
		inflight: osal.NewCountingSemaphore(int64(totalURBBudget)),
		eps:      make(map[uint8]*endpoint),
	}
}

func (e *ioEngine) open(addr uint8, dir controller.Direction, t controller.TransferType, maxPacketSize uint16, transactionsPerMicroframe, extraBudget int) error {
	if err := e.drv.EPOpen(addr, t, maxPacketSize, transactionsPerMicroframe); err != nil {
		return usberr.E("ioengine.Open", usberr.EpInvalidState, err)
	}
	e.eps[epKey(addr, dir)] = newEndpoint(addr, t, maxPacketSize, extraBudget)
	return nil
}

func (e *ioEngine) close(addr uint8, dir controller.Direction) error {
	key := epKey(addr, dir)
	ep, ok := e.eps[key]
	if !ok {
		return usberr.E("ioengine.Close", usberr.EpInvalidAddr, nil)
	}
	ep.mu.Lock()
	for _, u := range ep.drainAll() {
		e.inflight.Post()
		u.signal(u.transferred, usberr.E("ioengine.Close", usberr.EpAbort, nil))
	}
	ep.state = epClosed
	ep.mu.Unlock()
	delete(e.eps, key)
	return e.drv.EPClose(addr)
}

func (e *ioEngine) lookup(addr uint8, dir controller.Direction) (*endpoint, error) {
	ep, ok := e.eps[epKey(addr, dir)]
	if !ok {
		return nil, usberr.E("ioengine", usberr.EpInvalidAddr, nil)
	}
	return ep, nil
}

// submit enqueues u on its endpoint and, if it became the new head,
// kicks off the first chunk. Returns EpStall if the endpoint is halted,
// EpInvalidState if it is not open, and EpQueuing if it is at capacity.
func (e *ioEngine) submit(u *urb) error {
	ep := u.ep
	ep.mu.Lock()
	if ep.state == epHalted {
		ep.mu.Unlock()
		return usberr.E("ioengine.Submit", usberr.EpStall, nil)
	}
	if ep.state != epOpen {
		ep.mu.Unlock()
		return usberr.E("ioengine.Submit", usberr.EpInvalidState, nil)
	}
	isHead := len(ep.queue) == 0
	if !ep.admit(u) {
		ep.mu.Unlock()
		return usberr.E("ioengine.Submit", usberr.EpQueuing, nil)
	}
	ep.mu.Unlock()

	if err := e.inflight.Pend(osal.Forever); err != nil {
		return usberr.E("ioengine.Submit", usberr.OsFail, err)
	}

	if isHead {
		return e.kick(u)
	}
	return nil
}

// kick hands the next chunk of u to the driver.
func (e *ioEngine) kick(u *urb) error {
	switch u.dir {
	case controller.In:
		return e.kickTx(u)
	default:
		return e.kickRx(u)
	}
}

func (e *ioEngine) kickTx(u *urb) error {
	if u.zlpPending {
		if err := e.drv.EPTxZLP(u.ep.Address); err != nil {
			e.finish(u, usberr.E("ioengine.Tx", usberr.Tx, err))
			return err
		}
		return nil
	}

	remaining := u.length - u.offset
	if remaining == 0 {
		// Zero-length transfer requested outright.
		if err := e.drv.EPTxZLP(u.ep.Address); err != nil {
			e.finish(u, usberr.E("ioengine.Tx", usberr.Tx, err))
			return err
		}
		return nil
	}

	chunk := remaining
	if chunk > xferCeiling {
		chunk = xferCeiling
	}
	buf := u.buf[u.offset : u.offset+chunk]

	accepted, err := e.drv.EPTx(u.ep.Address, buf)
	if err != nil {
		e.finish(u, usberr.E("ioengine.Tx", usberr.Tx, err))
		return err
	}
	if err := e.drv.EPTxStart(u.ep.Address, buf[:accepted]); err != nil {
		e.finish(u, usberr.E("ioengine.Tx", usberr.Tx, err))
		return err
	}
	return nil
}

func (e *ioEngine) kickRx(u *urb) error {
	remaining := u.length - u.offset
	chunk := remaining
	if chunk > xferCeiling {
		chunk = xferCeiling
	}
	buf := u.buf[u.offset : u.offset+chunk]

	if _, err := e.drv.EPRxStart(u.ep.Address, buf); err != nil {
		e.finish(u, usberr.E("ioengine.Rx", usberr.Rx, err))
		return err
	}
	return nil
}

// onTxComplete is invoked by the dispatcher on EventEPTxComplete.
func (e *ioEngine) onTxComplete(addr uint8, driverErr error) {
	ep, err := e.lookup(addr, controller.In)
	if err != nil {
		return
	}
	ep.mu.Lock()
	u := ep.head()
	ep.mu.Unlock()
	if u == nil {
		return
	}

	if driverErr != nil {
		e.completeHead(ep, u, usberr.E("ioengine.Tx", usberr.Tx, driverErr))
		return
	}

	if u.zlpPending {
		e.completeHead(ep, u, nil)
		return
	}

	chunk := u.length - u.offset
	if chunk > xferCeiling {
		chunk = xferCeiling
	}
	u.offset += chunk
	u.transferred = u.offset

	if u.offset >= u.length {
		if u.end && u.length > 0 && u.length%int(u.ep.MaxPacketSize) == 0 {
			u.zlpPending = true
			e.kickTx(u)
			return
		}
		e.completeHead(ep, u, nil)
		return
	}
	e.kickTx(u)
}

// onRxComplete is invoked by the dispatcher on EventEPRxComplete.
func (e *ioEngine) onRxComplete(addr uint8) {
	ep, err := e.lookup(addr, controller.Out)
	if err != nil {
		return
	}
	ep.mu.Lock()
	u := ep.head()
	ep.mu.Unlock()
	if u == nil {
		return
	}

	chunk := u.length - u.offset
	if chunk > xferCeiling {
		chunk = xferCeiling
	}
	n, err2 := e.drv.EPRx(addr, u.buf[u.offset:u.offset+chunk])
	if err2 != nil {
		e.completeHead(ep, u, usberr.E("ioengine.Rx", usberr.Rx, err2))
		return
	}
	u.offset += n
	u.transferred = u.offset

	shortPacket := n < int(u.ep.MaxPacketSize)
	if u.offset >= u.length || shortPacket {
		e.completeHead(ep, u, nil)
		return
	}
	e.kickRx(u)
}

// completeHead pops u from ep's queue, releases the global budget, and
// advances to the next queued URB (if any) before signaling u's caller.
func (e *ioEngine) completeHead(ep *endpoint, u *urb, err error) {
	ep.mu.Lock()
	ep.popHead()
	next := ep.head()
	ep.mu.Unlock()

	e.inflight.Post()
	u.signal(u.transferred, err)

	if next != nil {
		e.kick(next)
	}
}

func (e *ioEngine) finish(u *urb, err error) {
	e.completeHead(u.ep, u, err)
}

// abort cancels every queued URB on addr/dir and flushes hardware state.
func (e *ioEngine) abort(addr uint8, dir controller.Direction) error {
	ep, err := e.lookup(addr, dir)
	if err != nil {
		return err
	}
	if err := e.drv.EPAbort(addr); err != nil {
		return usberr.E("ioengine.Abort", usberr.EpAbort, err)
	}
	ep.mu.Lock()
	pending := ep.drainAll()
	ep.mu.Unlock()
	for _, u := range pending {
		e.inflight.Post()
		u.signal(u.transferred, usberr.E("ioengine.Abort", usberr.EpAbort, nil))
	}
	return nil
}

// stall sets or clears the halt condition on addr/dir. Setting it
// completes every queued URB with an EpStall error. Clearing resets
// the data toggle (delegated to the driver, spec.md §4.1 EPStall doc)
// and reopens the endpoint for new submissions.
func (e *ioEngine) stall(addr uint8, dir controller.Direction, state bool) error {
	ep, err := e.lookup(addr, dir)
	if err != nil {
		return err
	}
	if err := e.drv.EPStall(addr, state); err != nil {
		return usberr.E("ioengine.Stall", usberr.EpStall, err)
	}
	ep.mu.Lock()
	var pending []*urb
	if state {
		ep.state = epHalted
		pending = ep.drainAll()
	} else if ep.state == epHalted {
		ep.state = epOpen
	}
	ep.mu.Unlock()
	for _, u := range pending {
		e.inflight.Post()
		u.signal(u.transferred, usberr.E("ioengine.Stall", usberr.EpStall, nil))
	}
	return nil
}
