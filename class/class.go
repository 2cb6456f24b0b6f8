// Class driver interface
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package class defines the upcalls the core invokes on the functional
// class owning an interface (spec.md §4.8). HID (package hid) is the one
// concrete instantiation this module ships; audio/CDC/MSC/PHDC/vendor
// classes are out of scope (spec.md §1 Non-goals) but plug into the same
// Driver.
package class

import "github.com/gousbd/core/usbspec"

// Result is what a class driver returns from a SETUP-targeting upcall.
type Result int

const (
	Stalled Result = iota
	Handled
)

// Driver is the record of upcalls a functional class implements,
// invoked by the core at exactly the points spec.md §4.8 lists.
type Driver interface {
	// Connect fires when an alt-0 interface of the active configuration
	// becomes live (ifClassArg is the per-interface argument registered
	// at topology.AddInterface time).
	Connect(ifClassArg any)

	// Disconnect fires when the interface becomes unlive: a different
	// SET_CONFIGURATION, a reset, or a bus disconnect.
	Disconnect(ifClassArg any)

	// AltSettingUpdate fires when a new alt is selected for this
	// interface.
	AltSettingUpdate(ifClassArg any, altNumber uint8)

	// EndpointStateUpdate fires after a stall/clear-halt changes an
	// endpoint this interface owns.
	EndpointStateUpdate(ifClassArg any, epAddress uint8, halted bool)

	// InterfaceDescriptorSize / InterfaceDescriptor emit the functional
	// descriptor bytes that follow this interface's standard Interface
	// Descriptor in the configuration tree (spec.md §4.4).
	InterfaceDescriptorSize(ifClassArg any, altNumber uint8) int
	InterfaceDescriptor(ifClassArg any, altNumber uint8) []byte

	// EndpointDescriptorSize / EndpointDescriptor emit functional
	// descriptor bytes that follow a given endpoint of this interface.
	EndpointDescriptorSize(ifClassArg any, altNumber uint8, epAddress uint8) int
	EndpointDescriptor(ifClassArg any, altNumber uint8, epAddress uint8) []byte

	// InterfaceRequest / ClassRequest / VendorRequest handle a SETUP
	// targeting this interface (or an endpoint owned by it). data
	// carries any OUT data stage bytes already received, or is nil for
	// a read/no-data request; a non-nil []byte return is staged as the
	// IN data stage.
	InterfaceRequest(ifClassArg any, setup usbspec.SetupPacket, data []byte) (resp []byte, result Result)
	ClassRequest(ifClassArg any, setup usbspec.SetupPacket, data []byte) (resp []byte, result Result)
	VendorRequest(ifClassArg any, setup usbspec.SetupPacket, data []byte) (resp []byte, result Result)
}

// MSOSDriver is the optional Microsoft OS 1.0 descriptor hook set
// (spec.md §4.4, §4.8, §9 Open Questions: "enable is a build-time flag and
// class hooks may or may not be present"). Package usbd never calls these
// hooks and serves no Microsoft OS descriptor, so implementing MSOSDriver
// has no effect on what the device reports.
type MSOSDriver interface {
	MSCompatibleID(ifClassArg any) (compatibleID, subCompatibleID [8]byte, ok bool)
	MSExtendedProperties(ifClassArg any) []byte
}

// BaseDriver provides no-op implementations of every Driver method so a
// concrete class only needs to override what it actually uses, the way
// the teacher's EndpointFunction leaves unused directions untouched.
type BaseDriver struct{}

func (BaseDriver) Connect(any)                                   {}
func (BaseDriver) Disconnect(any)                                {}
func (BaseDriver) AltSettingUpdate(any, uint8)                   {}
func (BaseDriver) EndpointStateUpdate(any, uint8, bool)          {}
func (BaseDriver) InterfaceDescriptorSize(any, uint8) int        { return 0 }
func (BaseDriver) InterfaceDescriptor(any, uint8) []byte         { return nil }
func (BaseDriver) EndpointDescriptorSize(any, uint8, uint8) int  { return 0 }
func (BaseDriver) EndpointDescriptor(any, uint8, uint8) []byte   { return nil }

func (BaseDriver) InterfaceRequest(any, usbspec.SetupPacket, []byte) ([]byte, Result) {
	return nil, Stalled
}
func (BaseDriver) ClassRequest(any, usbspec.SetupPacket, []byte) ([]byte, Result) {
	return nil, Stalled
}
func (BaseDriver) VendorRequest(any, usbspec.SetupPacket, []byte) ([]byte, Result) {
	return nil, Stalled
}
