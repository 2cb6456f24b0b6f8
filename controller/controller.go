// Controller driver contract
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package controller defines the narrow capability set every hardware
// backend implements (spec.md §4.1) and the upcall protocol an ISR uses to
// deliver bus events and URB completions into the core task (spec.md §4.2).
//
// The shape mirrors the teacher's per-SoC USB struct (imx6/usb.USB) with
// its direct register pokes replaced by an interface boundary, per
// spec.md §9's "Driver polymorphism" redesign note: one implementation per
// controller variant, no dynamic dispatch beyond the single call into the
// hardware driver.
package controller

import "time"

// Direction of a transfer, relative to the host.
type Direction int

const (
	Out Direction = 0
	In  Direction = 1
)

func (d Direction) String() string {
	if d == In {
		return "IN"
	}
	return "OUT"
}

// TransferType mirrors usbspec.Transfer* but lives here too so backends
// don't need to import usbspec just for the enum.
type TransferType int

const (
	Control     TransferType = 0
	Isochronous TransferType = 1
	Bulk        TransferType = 2
	Interrupt   TransferType = 3
)

// Speed is the negotiated bus speed.
type Speed int

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	default:
		return "unknown"
	}
}

// AddrConvention distinguishes the two legal SET_ADDRESS conventions
// (spec.md §4.1, §9 Open Questions): a backend either programs the device
// address immediately (AddrAppliedNow) and expects no further call, or
// records it and expects AddrEnable to commit after the status stage
// (AddrDeferred).
type AddrConvention int

const (
	AddrAppliedNow AddrConvention = iota
	AddrDeferred
)

// Driver is the capability set every hardware backend implements. All
// methods are called from the core task. The interface has no interrupt
// entry point: a backend's own interrupt handling reaches the core only
// through the Upcalls passed to Init.
type Driver interface {
	// Init performs one-time per-boot setup; may allocate hardware-shadow
	// memory. upcalls is retained by the driver and invoked from ISR
	// context for the lifetime of the device (spec.md §4.2).
	Init(upcalls Upcalls) error

	// Start pulls up D+/D- and enables bus-event interrupts. Idempotent
	// after a prior Stop.
	Start() error

	// Stop disables interrupts and removes the bus pull-up.
	Stop() error

	// AddrSet either programs the address immediately or records it for
	// AddrEnable to apply; the return value tells the core which.
	AddrSet(addr uint8) (AddrConvention, error)

	// AddrEnable commits an address recorded by AddrSet under
	// AddrDeferred; called after the SET_ADDRESS status stage.
	AddrEnable(addr uint8) error

	// CfgSet notifies the controller of SET_CONFIGURATION(cfgValue).
	CfgSet(cfgValue uint8) error

	// CfgClear notifies the controller that the active configuration was
	// cleared (SET_CONFIGURATION(0) or reset).
	CfgClear(cfgValue uint8) error

	// FrameNumber returns the current (micro)frame counter: low 11 bits
	// are the frame, bits 11-13 are the microframe.
	FrameNumber() (uint16, error)

	// EPOpen realizes an endpoint in hardware. Must tolerate being called
	// multiple times across alt-setting changes.
	EPOpen(addr uint8, t TransferType, maxPacketSize uint16, transactionsPerMicroframe int) error

	// EPClose is the opposite of EPOpen.
	EPClose(addr uint8) error

	// EPRxStart arms reception and returns the upper bound the hardware
	// will accept in a single pass.
	EPRxStart(addr uint8, buf []byte) (maxThisXfer int, err error)

	// EPRx drains the hardware FIFO/DMA after an rx-complete upcall and
	// returns the number of bytes actually received.
	EPRx(addr uint8, buf []byte) (n int, err error)

	// EPRxZLP arms a zero-length reception on controllers that require
	// explicit arming.
	EPRxZLP(addr uint8) error

	// EPTx stages a tx packet into the hardware FIFO/DMA descriptor and
	// returns what was actually loaded (<= max packet size).
	EPTx(addr uint8, buf []byte) (accepted int, err error)

	// EPTxStart triggers a previously staged transmission.
	EPTxStart(addr uint8, buf []byte) error

	// EPTxZLP transmits a zero-length packet.
	EPTxZLP(addr uint8) error

	// EPAbort flushes any in-flight transfer and returns once hardware
	// state is quiesced.
	EPAbort(addr uint8) error

	// EPStall sets (state=true) or clears (state=false) the stall/halt
	// condition; clearing resets the data toggle for non-control
	// endpoints.
	EPStall(addr uint8, state bool) error
}

// TestModeDriver is an optional capability: backends that support the
// chapter-9 TEST_MODE feature selector implement it. usbd falls back to a
// no-op when a Driver doesn't.
type TestModeDriver interface {
	TestMode(selector uint8) error
}

// Upcalls is the protocol a controller's ISR uses, without blocking, to
// deliver bus events and URB completions into the core task (spec.md
// §4.2). Implementations must be safe to call from interrupt context:
// they may only record state and signal a waiting consumer.
type Upcalls interface {
	EventReset()
	EventSuspend()
	EventResume()
	EventConnect()
	EventDisconnect()
	EventHighSpeedDetected()

	// EventSetup delivers a freshly-received 8-byte SETUP packet.
	EventSetup(packet [8]byte)

	// EPRxComplete signals that a queued OUT transfer (or a SETUP data
	// stage) has been fulfilled; the core task must call Driver.EPRx to
	// drain it.
	EPRxComplete(epLogicalNumber int)

	// EPTxComplete signals that an IN transfer completed, optionally
	// carrying an error.
	EPTxComplete(epLogicalNumber int, err error)
}

// WaitForever is the sentinel "wait forever" value accepted by endpoint
// I/O entry points, per spec.md §5.
const WaitForever time.Duration = 0
