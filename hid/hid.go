// HID class driver
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import (
	"fmt"
	"sync"
	"time"

	"github.com/gousbd/core/class"
	"github.com/gousbd/core/osal"
	"github.com/gousbd/core/topology"
	"github.com/gousbd/core/usberr"
	"github.com/gousbd/core/usbspec"
)

// Class-specific request codes, HID 1.11 §7.2.
const (
	reqGetReport   = 0x01
	reqGetIdle     = 0x02
	reqGetProtocol = 0x03
	reqSetReport   = 0x09
	reqSetIdle     = 0x0a
	reqSetProtocol = 0x0b
)

const hidDescriptorLen = 6 // bLength..bNumDescriptors, before the variable descriptor list
const hidSpecVersion = 0x0111

// EPTransport is the subset of *usbd.Device a HID instance needs to move
// report bytes over the interrupt endpoints, kept as an interface (not a
// concrete usbd.Device field) so tests can substitute a fake core.
type EPTransport interface {
	EPWrite(ep uint8, buf []byte, end bool, timeout time.Duration) (int, error)
	EPWriteAsync(ep uint8, buf []byte, end bool, cb func(n int, err error)) error
	EPRead(ep uint8, buf []byte, timeout time.Duration) (int, error)
	EPReadAsync(ep uint8, buf []byte, cb func(n int, err error)) error
}

// Callbacks are the application hooks HID's control requests defer to;
// a nil field stalls the corresponding request, matching the original's
// "NULL callback pointer -> stall" convention.
type Callbacks struct {
	ReportSet        func(reportID uint8, data []byte)
	FeatureReportGet func(reportID uint8, buf []byte, length uint16) bool
	FeatureReportSet func(reportID uint8, data []byte) bool
	ProtocolGet      func() (protocol uint8, err error)
	ProtocolSet      func(protocol uint8) error
}

type state int

const (
	stateInit state = iota
	stateConfigured
)

// Driver is one HID function instance: a report descriptor, its parsed
// Report-ID table, and the control/idle-rate/read-write plumbing
// spec.md §4.9 describes. It implements class.Driver.
type Driver struct {
	class.BaseDriver

	mu sync.Mutex

	ep EPTransport

	subClass, protocol, countryCode uint8
	reportDesc                      []byte
	physicalDesc                    []byte

	report *reportTable

	ctrlReadEnable bool
	epIn, epOut    uint8
	hasOut         bool

	callbacks Callbacks

	state     state
	rxBusy    bool
	idleTasks *osal.Group
}

// New parses reportDesc and builds a HID class instance (spec.md §6
// hid_add). With ctrlReadEnable set, AddToConfig registers no
// interrupt-OUT endpoint and Output reports arrive only through the
// control pipe's SET_REPORT and the Callbacks.ReportSet hook; Rd and
// RdAsync then fail with InvalidClassState and deliver no report data.
func New(subClass, protocol, countryCode uint8, reportDesc, physicalDesc []byte, ctrlReadEnable bool, cb Callbacks) (*Driver, error) {
	rt, err := parseReportDescriptor(reportDesc)
	if err != nil {
		return nil, err
	}
	return &Driver{
		subClass:       subClass,
		protocol:       protocol,
		countryCode:    countryCode,
		reportDesc:     append([]byte(nil), reportDesc...),
		physicalDesc:   append([]byte(nil), physicalDesc...),
		report:         rt,
		ctrlReadEnable: ctrlReadEnable,
		callbacks:      cb,
		state:          stateInit,
	}, nil
}

// Bind attaches the usbd.Device (or test double) this instance moves
// report data through. Must be called before the device starts.
func (d *Driver) Bind(ep EPTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ep = ep
}

// AddToConfig registers this function's Interface, alt-0, and interrupt
// endpoints under cfg (spec.md §6 hid_cfg_add). epIn is mandatory; epOut
// is registered unless ctrlReadEnable was set at New. speed selects the
// bInterval translation ceiling (topology.AddEndpoint's 0=low/1=full/2=high).
func (d *Driver) AddToConfig(reg *topology.Registry, cfg *topology.Config, epIn uint8, maxPacketSizeIn int, intervalInMs int, epOut uint8, maxPacketSizeOut int, intervalOutMs int, speed int) (*topology.Interface, error) {
	iface, err := reg.AddInterface(cfg, usbspec.ClassHID, d.subClass, d.protocol, d)
	if err != nil {
		return nil, err
	}
	alt := iface.Alts[0]

	if _, err := reg.AddEndpoint(alt, int(epIn), 1, usbspec.TransferInterrupt, uint16(maxPacketSizeIn), intervalInMs, speed); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.epIn = epIn
	d.mu.Unlock()

	if !d.ctrlReadEnable {
		if _, err := reg.AddEndpoint(alt, int(epOut), 0, usbspec.TransferInterrupt, uint16(maxPacketSizeOut), intervalOutMs, speed); err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.epOut = epOut
		d.hasOut = true
		d.mu.Unlock()
	}

	return iface, nil
}

// IsConn reports whether the owning interface is part of the active
// configuration (spec.md §6 hid_is_conn).
func (d *Driver) IsConn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateConfigured
}

// --- class.Driver ---

// Connect starts the idle-rate scheduler; the HID class state machine's
// Init -> Configured transition (spec.md §4.9).
func (d *Driver) Connect(ifClassArg any) {
	d.mu.Lock()
	d.state = stateConfigured
	d.idleTasks = osal.NewGroup()
	d.idleTasks.Go(d.idleTask)
	d.mu.Unlock()
}

// Disconnect stops the scheduler and clears the idle list; Configured ->
// Init (spec.md §4.9). Any endpoint the core already closed has delivered
// an abort completion to whoever was blocked in Rd/Wr.
func (d *Driver) Disconnect(ifClassArg any) {
	d.mu.Lock()
	d.report.removeAllIdle()
	d.state = stateInit
	d.rxBusy = false
	tasks := d.idleTasks
	d.idleTasks = nil
	d.mu.Unlock()
	if tasks != nil {
		tasks.Stop()
	}
}

func (d *Driver) InterfaceDescriptorSize(ifClassArg any, altNumber uint8) int {
	return len(d.hidDescriptor())
}

func (d *Driver) InterfaceDescriptor(ifClassArg any, altNumber uint8) []byte {
	return d.hidDescriptor()
}

// hidDescriptor builds the HID Descriptor (HID 1.11 §6.2.1) that sits
// between this function's Interface Descriptor and its endpoints in the
// Configuration Descriptor tree.
func (d *Driver) hidDescriptor() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	numDesc := 1 // Report descriptor is mandatory
	if len(d.physicalDesc) > 0 {
		numDesc++
	}

	buf := make([]byte, 0, hidDescriptorLen+numDesc*3)
	buf = append(buf, byte(hidDescriptorLen+numDesc*3), usbspec.DescHID)
	buf = append(buf, byte(hidSpecVersion&0xff), byte(hidSpecVersion>>8))
	buf = append(buf, d.countryCode, byte(numDesc))
	buf = append(buf, usbspec.DescHIDReport, byte(len(d.reportDesc)), byte(len(d.reportDesc)>>8))
	if len(d.physicalDesc) > 0 {
		buf = append(buf, usbspec.DescHIDPhysical, byte(len(d.physicalDesc)), byte(len(d.physicalDesc)>>8))
	}
	return buf
}

// ClassDescriptor serves the HID/Report/Physical descriptors a
// GET_DESCRIPTOR standard request with an interface recipient asks for,
// per HID 1.11 §7.1: these never appear via the chapter-9
// device/configuration/string fetch path.
func (d *Driver) ClassDescriptor(ifClassArg any, descType, descIndex uint8) []byte {
	switch descType {
	case usbspec.DescHID:
		if descIndex != 0 {
			return nil
		}
		return d.hidDescriptor()
	case usbspec.DescHIDReport:
		if descIndex != 0 {
			return nil
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		return append([]byte(nil), d.reportDesc...)
	case usbspec.DescHIDPhysical:
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.physicalDesc) < 3 {
			return nil
		}
		return d.physicalDescriptorSet(descIndex)
	}
	return nil
}

// physicalDescriptorSet implements the Physical Descriptor indexing rule
// from the original: index 0 is the 3-byte "descriptor 0" header; index
// n>0 selects the n-th fixed-length set that follows it.
func (d *Driver) physicalDescriptorSet(index uint8) []byte {
	if index == 0 {
		return d.physicalDesc[:3]
	}
	setLen := int(d.physicalDesc[1]) | int(d.physicalDesc[2])<<8
	offset := setLen*(int(index)-1) + 3
	if offset+setLen > len(d.physicalDesc) {
		return nil
	}
	return d.physicalDesc[offset : offset+setLen]
}

// ClassRequest implements HID 1.11 §7.2's class-specific control
// requests. Every branch validates direction and wLength exactly as the
// HID spec requires before touching report state, so a malformed request
// stalls instead of corrupting a buffer.
func (d *Driver) ClassRequest(ifClassArg any, s usbspec.SetupPacket, data []byte) ([]byte, class.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	devToHost := s.Direction() == usbspec.ReqDirDeviceToHost

	switch s.Request {
	case reqGetReport:
		return d.doGetReport(s, devToHost)
	case reqSetReport:
		return d.doSetReport(s, devToHost, data)
	case reqGetIdle:
		return d.doGetIdle(s, devToHost)
	case reqSetIdle:
		return d.doSetIdle(s, devToHost)
	case reqGetProtocol:
		return d.doGetProtocol(s, devToHost)
	case reqSetProtocol:
		return d.doSetProtocol(s, devToHost)
	}
	return nil, class.Stalled
}

func (d *Driver) doGetReport(s usbspec.SetupPacket, devToHost bool) ([]byte, class.Result) {
	if !devToHost {
		return nil, class.Stalled
	}
	reportType := ReportType(s.Value >> 8)
	reportID := uint8(s.Value)

	switch reportType {
	case ReportInput:
		rec, ok := d.report.lookup(ReportInput, reportID)
		if !ok {
			return nil, class.Stalled
		}
		return truncate(rec.buf, s.Length), class.Handled

	case ReportFeature:
		if d.callbacks.FeatureReportGet == nil {
			return nil, class.Stalled
		}
		rec, ok := d.report.lookup(ReportFeature, reportID)
		if !ok {
			return nil, class.Stalled
		}
		n := int(s.Length)
		if n > len(rec.buf) {
			n = len(rec.buf)
		}
		if !d.callbacks.FeatureReportGet(reportID, rec.buf, uint16(n)) {
			return nil, class.Stalled
		}
		return append([]byte(nil), rec.buf[:n]...), class.Handled
	}
	return nil, class.Stalled
}

func (d *Driver) doSetReport(s usbspec.SetupPacket, devToHost bool, data []byte) ([]byte, class.Result) {
	if devToHost {
		return nil, class.Stalled
	}
	reportType := ReportType(s.Value >> 8)
	reportID := uint8(s.Value)

	switch reportType {
	case ReportOutput:
		if d.callbacks.ReportSet == nil {
			return nil, class.Stalled
		}
		rec, ok := d.report.lookup(ReportOutput, reportID)
		if !ok || int(s.Length) > len(rec.buf) {
			return nil, class.Stalled
		}
		copy(rec.buf, data)
		d.callbacks.ReportSet(reportID, append([]byte(nil), rec.buf[:s.Length]...))
		return nil, class.Handled

	case ReportFeature:
		if d.callbacks.FeatureReportSet == nil {
			return nil, class.Stalled
		}
		rec, ok := d.report.lookup(ReportFeature, reportID)
		if !ok || int(s.Length) != len(rec.buf) {
			return nil, class.Stalled
		}
		copy(rec.buf, data)
		if !d.callbacks.FeatureReportSet(reportID, rec.buf) {
			return nil, class.Stalled
		}
		return nil, class.Handled
	}
	return nil, class.Stalled
}

func (d *Driver) doGetIdle(s usbspec.SetupPacket, devToHost bool) ([]byte, class.Result) {
	if !devToHost || s.Length != 1 || s.Value>>8 != 0 {
		return nil, class.Stalled
	}
	rate, err := d.report.idleGet(uint8(s.Value))
	if err != nil {
		return nil, class.Stalled
	}
	return []byte{rate}, class.Handled
}

func (d *Driver) doSetIdle(s usbspec.SetupPacket, devToHost bool) ([]byte, class.Result) {
	if devToHost || s.Length != 0 {
		return nil, class.Stalled
	}
	rate := uint8(s.Value >> 8)
	reportID := uint8(s.Value)
	if err := d.report.idleSet(reportID, rate); err != nil {
		return nil, class.Stalled
	}
	return nil, class.Handled
}

func (d *Driver) doGetProtocol(s usbspec.SetupPacket, devToHost bool) ([]byte, class.Result) {
	if d.callbacks.ProtocolGet == nil || !devToHost || s.Length != 1 || s.Value != 0 {
		return nil, class.Stalled
	}
	p, err := d.callbacks.ProtocolGet()
	if err != nil {
		return nil, class.Stalled
	}
	return []byte{p}, class.Handled
}

func (d *Driver) doSetProtocol(s usbspec.SetupPacket, devToHost bool) ([]byte, class.Result) {
	if d.callbacks.ProtocolSet == nil || devToHost || s.Length != 0 || (s.Value != 0 && s.Value != 1) {
		return nil, class.Stalled
	}
	if err := d.callbacks.ProtocolSet(uint8(s.Value)); err != nil {
		return nil, class.Stalled
	}
	return nil, class.Handled
}

func truncate(b []byte, length uint16) []byte {
	n := len(b)
	if int(length) < n {
		n = int(length)
	}
	return append([]byte(nil), b[:n]...)
}

// --- application-facing read/write (spec.md §6) ---

// Wr sends buf as an Input report over the interrupt-IN endpoint,
// blocking until it completes or timeout elapses (0 = forever). A buf
// whose length matches the largest registered Input report's size is
// written with end=false, so no trailing ZLP follows it; any other length
// is written with end=true, which adds a ZLP only when that length is a
// positive multiple of the endpoint's max packet size (spec.md §4.9,
// grounded on the original's is_largest bookkeeping).
func (d *Driver) Wr(buf []byte, timeout time.Duration) (int, error) {
	const op = "hid.Wr"
	ep, isLargest := d.writeParams(buf)
	n, err := d.ep.EPWrite(ep, buf, !isLargest, timeout)
	if err != nil {
		return 0, usberr.E(op, usberr.Tx, err)
	}
	return n, nil
}

// WrAsync is the non-blocking counterpart to Wr.
func (d *Driver) WrAsync(buf []byte, cb func(n int, err error)) error {
	const op = "hid.WrAsync"
	ep, isLargest := d.writeParams(buf)
	if err := d.ep.EPWriteAsync(ep, buf, !isLargest, cb); err != nil {
		return usberr.E(op, usberr.Tx, err)
	}
	return nil
}

func (d *Driver) writeParams(buf []byte) (ep uint8, isLargest bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epIn, len(buf) == d.report.maxSize[ReportInput]
}

// Rd receives one Output report over the interrupt-OUT endpoint,
// blocking until it arrives or timeout elapses. Only legal when
// ctrl_rd_en was false at New; a second concurrent call fails with Fail
// while one is already pending (spec.md §4.9, grounded on the original's
// IsRx guard).
func (d *Driver) Rd(buf []byte, timeout time.Duration) (int, error) {
	const op = "hid.Rd"
	ep, err := d.beginRx(op)
	if err != nil {
		return 0, err
	}
	n, rxErr := d.ep.EPRead(ep, buf, timeout)
	d.endRx()
	if rxErr != nil {
		return 0, usberr.E(op, usberr.Rx, rxErr)
	}
	return n, nil
}

// RdAsync is the non-blocking counterpart to Rd.
func (d *Driver) RdAsync(buf []byte, cb func(n int, err error)) error {
	const op = "hid.RdAsync"
	ep, err := d.beginRx(op)
	if err != nil {
		return err
	}
	rdErr := d.ep.EPReadAsync(ep, buf, func(n int, rxErr error) {
		d.endRx()
		cb(n, rxErr)
	})
	if rdErr != nil {
		d.endRx()
		return usberr.E(op, usberr.Rx, rdErr)
	}
	return nil
}

func (d *Driver) beginRx(op string) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrlReadEnable {
		return 0, usberr.E(op, usberr.InvalidClassState, fmt.Errorf("reads arrive via SET_REPORT callback when ctrl_rd_en is set"))
	}
	if d.rxBusy {
		return 0, usberr.E(op, usberr.Fail, fmt.Errorf("read already in progress"))
	}
	d.rxBusy = true
	return d.epOut, nil
}

func (d *Driver) endRx() {
	d.mu.Lock()
	d.rxBusy = false
	d.mu.Unlock()
}
