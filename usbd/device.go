// Device: top-level API
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbd is the core of the USB device-side protocol stack: the
// device state machine, event dispatcher, endpoint I/O engine and
// chapter-9 SETUP handler (spec.md §4). It is driven by a
// controller.Driver backend and a topology.Registry describing the
// device's configuration tree.
package usbd

import (
	"fmt"
	"sync"
	"time"

	"github.com/gousbd/core/class"
	"github.com/gousbd/core/controller"
	"github.com/gousbd/core/osal"
	"github.com/gousbd/core/topology"
	"github.com/gousbd/core/usberr"
)

// ep0MaxPacketSize is this stack's fixed control endpoint 0 packet size,
// matching usbspec.DeviceDescriptor.SetDefaults.
const ep0MaxPacketSize = 64

// extraURBBudgetDefault is how many URBs beyond one-per-endpoint the
// I/O engine admits globally, spec.md §4.6 "extra-URB budget".
const extraURBBudgetDefault = 4

// Device is the top-level handle an application holds: it wires a
// controller.Driver to a topology.Registry and a set of class drivers,
// and runs the core dispatch task once Start is called.
type Device struct {
	mu sync.Mutex

	drv  controller.Driver
	reg  *topology.Registry
	info DeviceInfo

	binds   map[uint8]class.Driver // interface number -> owning class driver
	builder *descriptorBuilder

	io  *ioEngine
	evq *eventQueue
	sm  stateMachine

	speed controller.Speed
	addr  uint8

	activeCfg *topology.Config
	activeAlt map[uint8]*topology.AltSetting

	tasks   *osal.Group
	started bool
}

// NewDevice constructs a Device. binds maps each registered interface's
// Number (topology.Interface.Number) to the class.Driver instance that
// owns it; an interface with no entry is treated as vendor-opaque (no
// functional descriptor, requests routed to class/vendor fallbacks only
// if a Driver is present).
func NewDevice(drv controller.Driver, reg *topology.Registry, info DeviceInfo, binds map[uint8]class.Driver) *Device {
	if binds == nil {
		binds = map[uint8]class.Driver{}
	}
	return &Device{
		drv:       drv,
		reg:       reg,
		info:      info,
		binds:     binds,
		activeAlt: map[uint8]*topology.AltSetting{},
	}
}

// Start freezes the topology, initializes the controller, and launches
// the core dispatch task (spec.md §4.2, §4.3: None/Init -> Attached on
// the first bus activity the controller reports).
func (d *Device) Start() error {
	const op = "usbd.Start"
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return usberr.E(op, usberr.InvalidClassState, fmt.Errorf("already started"))
	}

	// The builder registers the DeviceInfo strings, so it runs before the
	// registry is frozen.
	builder, err := newDescriptorBuilder(d.reg, d.info, d.binds)
	if err != nil {
		return err
	}
	d.builder = builder
	d.reg.Close()

	maxOpenEndpoints := maxEndpointsInAnyConfig(d.reg) + 1 // +1 for EP0
	d.evq = newEventQueue(queueCapacity(maxOpenEndpoints, extraURBBudgetDefault))
	d.io = newIOEngine(d.drv, maxOpenEndpoints+extraURBBudgetDefault)

	if err := d.drv.Init(d); err != nil {
		return usberr.E(op, usberr.Fail, err)
	}
	if err := d.io.open(0, controller.Out, controller.Control, ep0MaxPacketSize, 1, extraURBBudgetDefault); err != nil {
		return err
	}
	if err := d.io.open(0, controller.In, controller.Control, ep0MaxPacketSize, 1, extraURBBudgetDefault); err != nil {
		return err
	}

	d.sm.onAdd()
	if err := d.drv.Start(); err != nil {
		return usberr.E(op, usberr.Fail, err)
	}

	d.tasks = osal.NewGroup()
	d.tasks.Go(d.run)
	d.started = true
	return nil
}

// Stop halts the controller and the core task, waiting for the core task
// to actually exit before returning. Any URBs in flight are aborted.
func (d *Device) Stop() error {
	const op = "usbd.Stop"
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.sm.onStop()
	for key := range d.io.eps {
		d.io.abort(key>>1, controller.Direction(key&1))
	}
	d.tasks.Stop()
	err := d.drv.Stop()
	d.started = false
	if err != nil {
		return usberr.E(op, usberr.Fail, err)
	}
	return nil
}

// State returns the current device lifecycle state (spec.md §4.3).
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sm.state
}

func maxEndpointsInAnyConfig(reg *topology.Registry) int {
	max := 0
	for _, cfg := range reg.Configs {
		n := 0
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.Alts {
				if len(alt.Endpoints) > n {
					n = len(alt.Endpoints)
				}
			}
		}
		if n > max {
			max = n
		}
	}
	return max
}

// --- Endpoint I/O entry points (spec.md §4.6) ---

// EPRead performs a synchronous OUT transfer of up to len(buf) bytes on
// logical endpoint number ep, returning when it completes, timeout
// elapses (controller.WaitForever waits indefinitely), or the endpoint
// is aborted.
func (d *Device) EPRead(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	endpoint, err := d.io.lookup(ep, controller.Out)
	if err != nil {
		return 0, err
	}
	u := &urb{ep: endpoint, dir: controller.Out, buf: buf, length: len(buf), waiter: make(chan completion, 1)}
	if err := d.io.submit(u); err != nil {
		return 0, err
	}
	return waitURB(u, timeout)
}

// EPReadAsync is the non-blocking counterpart to EPRead; cb fires from
// the core task once the transfer reaches a terminal state.
func (d *Device) EPReadAsync(ep uint8, buf []byte, cb func(n int, err error)) error {
	endpoint, err := d.io.lookup(ep, controller.Out)
	if err != nil {
		return err
	}
	u := &urb{ep: endpoint, dir: controller.Out, buf: buf, length: len(buf), cb: cb}
	return d.io.submit(u)
}

// EPWrite performs a synchronous IN transfer. end, when true, requests
// the automatic trailing ZLP spec.md §4.6 describes for transfers whose
// length is a positive multiple of the endpoint's max packet size.
func (d *Device) EPWrite(ep uint8, buf []byte, end bool, timeout time.Duration) (int, error) {
	endpoint, err := d.io.lookup(ep, controller.In)
	if err != nil {
		return 0, err
	}
	u := &urb{ep: endpoint, dir: controller.In, buf: buf, length: len(buf), end: end, waiter: make(chan completion, 1)}
	if err := d.io.submit(u); err != nil {
		return 0, err
	}
	return waitURB(u, timeout)
}

// EPWriteAsync is the non-blocking counterpart to EPWrite.
func (d *Device) EPWriteAsync(ep uint8, buf []byte, end bool, cb func(n int, err error)) error {
	endpoint, err := d.io.lookup(ep, controller.In)
	if err != nil {
		return err
	}
	u := &urb{ep: endpoint, dir: controller.In, buf: buf, length: len(buf), end: end, cb: cb}
	return d.io.submit(u)
}

// EPAbort cancels every queued transfer on ep/dir.
func (d *Device) EPAbort(ep uint8, dir controller.Direction) error {
	return d.io.abort(ep, dir)
}

// EPStall sets or clears the halt condition on ep/dir.
func (d *Device) EPStall(ep uint8, dir controller.Direction, state bool) error {
	return d.io.stall(ep, dir, state)
}

func waitURB(u *urb, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		c := <-u.waiter
		return c.N, c.Err
	}
	select {
	case c := <-u.waiter:
		return c.N, c.Err
	case <-time.After(timeout):
		return 0, usberr.E("usbd.wait", usberr.OsTimeout, nil)
	}
}
