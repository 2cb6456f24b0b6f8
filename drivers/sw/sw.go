// Software-simulated controller backend
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sw implements controller.Driver entirely in memory, with no
// real hardware underneath: it is the harness this module's own tests
// (and an application's own, before real silicon is on the bench) drive
// the core device state machine with. It plays the part of both the PHY
// and the host: EPTxStart/EPTxZLP fire EPTxComplete synchronously, since
// there is no actual bus latency to model, DeliverRx fires EPRxComplete
// for data a test hands it, and the
// exported Deliver*/Sent/IsStalled methods let a test stand in for "the
// host did X".
package sw

import (
	"sync"

	"github.com/gousbd/core/controller"
)

const endpointNumberMask = 0x0f

type epRecord struct {
	typ           controller.TransferType
	maxPacketSize uint16
	halted        bool

	pendingRx []byte // bytes the "host" has queued for the next EPRxStart/EPRx pair
	sent      [][]byte
}

// Driver is a software-only controller.Driver. The zero value is not
// ready to use; construct with New.
type Driver struct {
	mu sync.Mutex

	upcalls controller.Upcalls
	started bool
	addr    uint8
	cfg     uint8
	frame   uint16

	eps map[uint8]*epRecord

	lastTestMode uint8
}

// New returns a Driver with no endpoints open and the bus not yet
// started.
func New() *Driver {
	return &Driver{eps: make(map[uint8]*epRecord)}
}

func (d *Driver) Init(upcalls controller.Upcalls) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upcalls = upcalls
	return nil
}

func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

// AddrSet applies the address immediately: a software backend has no
// hardware register that must wait for the status stage to clear.
func (d *Driver) AddrSet(addr uint8) (controller.AddrConvention, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addr = addr
	return controller.AddrAppliedNow, nil
}

func (d *Driver) AddrEnable(addr uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addr = addr
	return nil
}

func (d *Driver) CfgSet(cfgValue uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfgValue
	return nil
}

func (d *Driver) CfgClear(cfgValue uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = 0
	return nil
}

func (d *Driver) FrameNumber() (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame, nil
}

func (d *Driver) EPOpen(addr uint8, t controller.TransferType, maxPacketSize uint16, transactionsPerMicroframe int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := addr & endpointNumberMask
	d.eps[n] = &epRecord{typ: t, maxPacketSize: maxPacketSize}
	return nil
}

func (d *Driver) EPClose(addr uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.eps, addr&endpointNumberMask)
	return nil
}

func (d *Driver) EPRxStart(addr uint8, buf []byte) (int, error) {
	max := len(buf)
	d.mu.Lock()
	if ep, ok := d.eps[addr&endpointNumberMask]; ok && int(ep.maxPacketSize) < max {
		max = int(ep.maxPacketSize)
	}
	d.mu.Unlock()
	return max, nil
}

// EPRx drains whatever DeliverRx queued for this endpoint.
func (d *Driver) EPRx(addr uint8, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep := d.eps[addr&endpointNumberMask]
	if ep == nil || len(ep.pendingRx) == 0 {
		return 0, nil
	}
	n := copy(buf, ep.pendingRx)
	ep.pendingRx = ep.pendingRx[n:]
	return n, nil
}

func (d *Driver) EPRxZLP(addr uint8) error {
	return nil
}

func (d *Driver) EPTx(addr uint8, buf []byte) (int, error) {
	d.mu.Lock()
	max := len(buf)
	if ep, ok := d.eps[addr&endpointNumberMask]; ok && int(ep.maxPacketSize) < max {
		max = int(ep.maxPacketSize)
	}
	d.mu.Unlock()
	return max, nil
}

// EPTxStart records buf as sent and fires EPTxComplete immediately:
// there is no host on the other end to introduce latency.
func (d *Driver) EPTxStart(addr uint8, buf []byte) error {
	d.mu.Lock()
	n := addr & endpointNumberMask
	if ep, ok := d.eps[n]; ok {
		ep.sent = append(ep.sent, append([]byte(nil), buf...))
	}
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EPTxComplete(int(n), nil)
	}
	return nil
}

func (d *Driver) EPTxZLP(addr uint8) error {
	d.mu.Lock()
	n := addr & endpointNumberMask
	if ep, ok := d.eps[n]; ok {
		ep.sent = append(ep.sent, []byte{})
	}
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EPTxComplete(int(n), nil)
	}
	return nil
}

func (d *Driver) EPAbort(addr uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep, ok := d.eps[addr&endpointNumberMask]; ok {
		ep.pendingRx = nil
	}
	return nil
}

func (d *Driver) EPStall(addr uint8, state bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ep, ok := d.eps[addr&endpointNumberMask]; ok {
		ep.halted = state
	}
	return nil
}

// TestMode implements controller.TestModeDriver.
func (d *Driver) TestMode(selector uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastTestMode = selector
	return nil
}

// --- test/application harness: plays the part of the host and the bus ---

// InjectReset delivers EventReset, as if the host drove SE0 for 10ms+.
func (d *Driver) InjectReset() {
	d.mu.Lock()
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EventReset()
	}
}

// InjectConnect/InjectDisconnect simulate a VBUS/D+ pull-up transition.
func (d *Driver) InjectConnect() {
	d.mu.Lock()
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EventConnect()
	}
}

func (d *Driver) InjectDisconnect() {
	d.mu.Lock()
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EventDisconnect()
	}
}

// InjectSetup delivers a SETUP transaction as if the host had just sent
// it on EP0.
func (d *Driver) InjectSetup(packet [8]byte) {
	d.mu.Lock()
	upcalls := d.upcalls
	d.mu.Unlock()
	if upcalls != nil {
		upcalls.EventSetup(packet)
	}
}

// DeliverRx queues data for endpoint addr and signals EPRxComplete, as
// if the host had just written it to an OUT endpoint.
func (d *Driver) DeliverRx(addr uint8, data []byte) {
	d.mu.Lock()
	n := addr & endpointNumberMask
	ep, ok := d.eps[n]
	if ok {
		ep.pendingRx = append(ep.pendingRx, data...)
	}
	upcalls := d.upcalls
	d.mu.Unlock()
	if ok && upcalls != nil {
		upcalls.EPRxComplete(int(n))
	}
}

// Sent returns every packet EPTxStart/EPTxZLP has recorded for addr, in
// order, for a test to assert against.
func (d *Driver) Sent(addr uint8) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.eps[addr&endpointNumberMask]
	if !ok {
		return nil
	}
	return append([][]byte(nil), ep.sent...)
}

// IsStalled reports the last EPStall state set for addr.
func (d *Driver) IsStalled(addr uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, ok := d.eps[addr&endpointNumberMask]
	return ok && ep.halted
}

// AdvanceFrame bumps the simulated (micro)frame counter, for tests of
// FrameNumber-driven behavior.
func (d *Driver) AdvanceFrame(by uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame += by
}
