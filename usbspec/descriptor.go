package usbspec

import (
	"bytes"
	"encoding/binary"
)

// DeviceDescriptor implements
// p290, Table 9-8. Standard Device Descriptor, USB Specification Revision 2.0.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BcdUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorId          uint16
	ProductId         uint16
	BcdDevice         uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// SetDefaults initializes a USB 2.0, EP0-64-byte device descriptor.
func (d *DeviceDescriptor) SetDefaults() {
	d.Length = LenDevice
	d.DescriptorType = DescDevice
	d.BcdUSB = 0x0200
	d.MaxPacketSize0 = 64
}

// Bytes converts the descriptor to its little-endian wire form.
func (d *DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// DeviceQualifierDescriptor implements
// p292, 9.6.2 Device_Qualifier, USB Specification Revision 2.0.
type DeviceQualifierDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BcdUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	NumConfigurations uint8
	Reserved          uint8
}

func (d *DeviceQualifierDescriptor) SetDefaults() {
	d.Length = LenDeviceQualifier
	d.DescriptorType = DescDeviceQualifier
	d.BcdUSB = 0x0200
	d.MaxPacketSize0 = 64
}

func (d *DeviceQualifierDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ConfigurationDescriptor implements
// p293, Table 9-10. Standard Configuration Descriptor, USB Specification Revision 2.0.
//
// TotalLength is filled in by the descriptor builder once the full
// configuration tree byte length is known; it must not be set by callers.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

func (d *ConfigurationDescriptor) SetDefaults() {
	d.Length = LenConfiguration
	d.DescriptorType = DescConfiguration
	// bit 7 reserved, must be set per spec; the descriptor builder then
	// replaces Attributes with the registered Config's bmAttributes, which
	// carries bit 7 and the self-powered/remote-wakeup flags.
	d.Attributes = ConfigAttrReservedSet
}

func (d *ConfigurationDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// InterfaceAssociationDescriptor implements the USB Interface Association
// Descriptor (IAD), Engineering Change Notice to USB 2.0.
type InterfaceAssociationDescriptor struct {
	Length           uint8
	DescriptorType   uint8
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	Function         uint8
}

func (d *InterfaceAssociationDescriptor) SetDefaults() {
	d.Length = LenInterfaceAssociation
	d.DescriptorType = DescInterfaceAssociation
}

func (d *InterfaceAssociationDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// InterfaceDescriptor implements
// p296, Table 9-12. Standard Interface Descriptor, USB Specification Revision 2.0.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

func (d *InterfaceDescriptor) SetDefaults() {
	d.Length = LenInterface
	d.DescriptorType = DescInterface
}

func (d *InterfaceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// EndpointDescriptor implements
// p297, Table 9-13. Standard Endpoint Descriptor, USB Specification Revision 2.0.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (d *EndpointDescriptor) SetDefaults() {
	d.Length = LenEndpoint
	d.DescriptorType = DescEndpoint
}

// Number returns the logical endpoint number (bits 0-3).
func (d *EndpointDescriptor) Number() int {
	return int(d.EndpointAddress) & EndpointNumberMask
}

// Direction returns 1 for an IN endpoint and 0 for an OUT endpoint.
func (d *EndpointDescriptor) Direction() int {
	if d.EndpointAddress&EndpointDirMask != 0 {
		return 1
	}
	return 0
}

// TransferType returns one of TransferControl/Isochronous/Bulk/Interrupt.
func (d *EndpointDescriptor) TransferType() int {
	return int(d.Attributes) & 0x3
}

func (d *EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// StringDescriptorHeader is the 2-byte prefix of every string descriptor,
// p273, 9.6.7 String, USB Specification Revision 2.0.
type StringDescriptorHeader struct {
	Length         uint8
	DescriptorType uint8
}
