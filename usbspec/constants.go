// USB 2.0 chapter 9 wire constants
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbspec holds the byte-exact wire format defined by USB 2.0
// chapter 9: standard request codes, descriptor types and layouts, and the
// SETUP packet. Nothing in this package talks to hardware or makes
// scheduling decisions; it is pure marshaling, the same split the teacher
// keeps between its register-level code and its *Descriptor.Bytes() /
// SetupData helpers.
package usbspec

// p279, Table 9-4. Standard Request Codes, USB Specification Revision 2.0.
const (
	GetStatus        = 0x00
	ClearFeature     = 0x01
	SetFeature       = 0x03
	SetAddress       = 0x05
	GetDescriptor    = 0x06
	SetDescriptor    = 0x07
	GetConfiguration = 0x08
	SetConfiguration = 0x09
	GetInterface     = 0x0a
	SetInterface     = 0x0b
	SynchFrame       = 0x0c
)

// p279, Table 9-5. Descriptor Types, USB Specification Revision 2.0.
const (
	DescDevice                  = 0x01
	DescConfiguration           = 0x02
	DescString                  = 0x03
	DescInterface                = 0x04
	DescEndpoint                = 0x05
	DescDeviceQualifier         = 0x06
	DescOtherSpeedConfiguration = 0x07
	DescInterfacePower          = 0x08
	DescInterfaceAssociation    = 0x0b
	DescHID                     = 0x21
	DescHIDReport               = 0x22
	DescHIDPhysical             = 0x23
)

// Interface class codes this module assigns (USB-IF class code table).
const (
	ClassHID = 0x03
)

// bmRequestType bit layout (p248, Table 9-2).
const (
	ReqDirHostToDevice = 0
	ReqDirDeviceToHost = 1

	ReqTypeMask     = 0x60
	ReqTypeStandard = 0x00
	ReqTypeClass    = 0x20
	ReqTypeVendor   = 0x40
	ReqTypeReserved = 0x60

	ReqRecipientMask      = 0x1f
	ReqRecipientDevice    = 0x00
	ReqRecipientInterface = 0x01
	ReqRecipientEndpoint  = 0x02
	ReqRecipientOther     = 0x03
)

// Feature selectors, p285 Table 9-6.
const (
	FeatureEndpointHalt       = 0x00
	FeatureRemoteWakeup       = 0x01
	FeatureTestMode           = 0x02
)

// Endpoint address bit layout.
const (
	EndpointDirMask    = 0x80
	EndpointDirIn      = 0x80
	EndpointDirOut     = 0x00
	EndpointNumberMask = 0x0f
)

// Endpoint transfer types, bits 0-1 of bmAttributes.
const (
	TransferControl     = 0
	TransferIsochronous = 1
	TransferBulk        = 2
	TransferInterrupt   = 3
)

// Fixed descriptor sizes in bytes.
const (
	LenDevice                  = 18
	LenConfiguration           = 9
	LenInterface               = 9
	LenEndpoint                = 7
	LenDeviceQualifier         = 10
	LenInterfaceAssociation    = 8
	LenStringHeader            = 2
)

// Configuration bmAttributes bits, p296 Table 9-10.
const (
	ConfigAttrReservedSet  = 0x80 // bit 7 must be 1 per spec
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)
