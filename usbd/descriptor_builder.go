// Descriptor assembly
// https://github.com/gousbd/core

package usbd

import (
	"encoding/binary"

	"github.com/gousbd/core/class"
	"github.com/gousbd/core/controller"
	"github.com/gousbd/core/topology"
	"github.com/gousbd/core/usbspec"
)

// DeviceInfo is the caller-supplied, per-product half of the Device
// Descriptor (spec.md §4.4); the rest (class/subclass/protocol when a
// composite IAD device reports 0xEF/0x02/0x01, EP0 packet size) is
// filled in by the builder from the registered topology.
type DeviceInfo struct {
	VendorID, ProductID uint16
	BcdDevice           uint16
	Class, SubClass, Protocol uint8
	Manufacturer, Product, SerialNumber string
}

// descriptorBuilder assembles chapter-9 descriptors from a frozen
// topology.Registry, invoking each interface's class.Driver for the
// functional descriptors interleaved into the configuration tree
// (spec.md §4.4).
type descriptorBuilder struct {
	reg   *topology.Registry
	info  DeviceInfo
	binds map[uint8]class.Driver // interface number -> owning class driver

	mfgIx, prodIx, serialIx uint8
}

func newDescriptorBuilder(reg *topology.Registry, info DeviceInfo, binds map[uint8]class.Driver) (*descriptorBuilder, error) {
	b := &descriptorBuilder{reg: reg, info: info, binds: binds}
	var err error
	if info.Manufacturer != "" {
		if b.mfgIx, err = reg.AddString(info.Manufacturer); err != nil {
			return nil, err
		}
	}
	if info.Product != "" {
		if b.prodIx, err = reg.AddString(info.Product); err != nil {
			return nil, err
		}
	}
	if info.SerialNumber != "" {
		if b.serialIx, err = reg.AddString(info.SerialNumber); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Device builds the Standard Device Descriptor, numConfigs taken from the
// registry. If the topology has any Interface Group, the device is
// reported as the composite class 0xEF/0x02/0x01 so hosts invoke IAD
// parsing instead of single-interface-class heuristics.
func (b *descriptorBuilder) Device() []byte {
	d := usbspec.DeviceDescriptor{}
	d.SetDefaults()
	d.VendorId = b.info.VendorID
	d.ProductId = b.info.ProductID
	d.BcdDevice = b.info.BcdDevice
	d.Manufacturer = b.mfgIx
	d.Product = b.prodIx
	d.SerialNumber = b.serialIx
	d.NumConfigurations = uint8(len(b.reg.Configs))

	d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol = b.info.Class, b.info.SubClass, b.info.Protocol
	for _, c := range b.reg.Configs {
		if len(c.Groups) > 0 {
			d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol = 0xef, 0x02, 0x01
			break
		}
	}
	return d.Bytes()
}

// Qualifier builds the Device_Qualifier descriptor (spec.md §4.4): the
// "what I'd look like at the other speed" summary a High-Speed-capable
// device must answer GET_DESCRIPTOR(DEVICE_QUALIFIER) with.
func (b *descriptorBuilder) Qualifier() []byte {
	q := usbspec.DeviceQualifierDescriptor{}
	q.SetDefaults()
	q.DeviceClass, q.DeviceSubClass, q.DeviceProtocol = b.info.Class, b.info.SubClass, b.info.Protocol
	q.NumConfigurations = uint8(len(b.reg.Configs))
	return q.Bytes()
}

// speedIndex maps controller.Speed to topology.AddEndpoint's 0/1/2 convention.
func speedIndex(s controller.Speed) int {
	switch s {
	case controller.SpeedLow:
		return 0
	case controller.SpeedHigh:
		return 2
	default:
		return 1
	}
}

// Configuration assembles one full Configuration Descriptor tree —
// Configuration, [Group+]Interface+AlternateSetting+Endpoint+class
// descriptors, in registration order — and backfills wTotalLength once
// the whole buffer is known (spec.md §4.4: "computed last, after every
// child descriptor is serialized").
//
// otherSpeed selects between the normal Configuration Descriptor
// (DescConfiguration) and the Other-Speed-Configuration variant
// required alongside it on High-Speed-capable devices.
func (b *descriptorBuilder) Configuration(cfg *topology.Config, otherSpeed bool) []byte {
	var buf []byte

	cd := usbspec.ConfigurationDescriptor{}
	cd.SetDefaults()
	if otherSpeed {
		cd.DescriptorType = usbspec.DescOtherSpeedConfiguration
	}
	cd.NumInterfaces = uint8(len(cfg.Interfaces))
	cd.ConfigurationValue = cfg.Value
	cd.Attributes = cfg.Attributes
	cd.MaxPower = cfg.MaxPower
	buf = append(buf, cd.Bytes()...)

	for _, iface := range cfg.Interfaces {
		if g := groupStarting(cfg, iface.Number); g != nil {
			iad := usbspec.InterfaceAssociationDescriptor{
				FirstInterface:   g.FirstInterface,
				InterfaceCount:   g.InterfaceCount,
				FunctionClass:    g.FunctionClass,
				FunctionSubClass: g.FunctionSubClass,
				FunctionProtocol: g.FunctionProtocol,
				Function:         g.FunctionString,
			}
			iad.SetDefaults()
			buf = append(buf, iad.Bytes()...)
		}

		drv := b.binds[iface.Number]
		for _, alt := range iface.Alts {
			id := usbspec.InterfaceDescriptor{}
			id.SetDefaults()
			id.InterfaceNumber = iface.Number
			id.AlternateSetting = alt.Number
			id.NumEndpoints = uint8(len(alt.Endpoints))
			id.InterfaceClass, id.InterfaceSubClass, id.InterfaceProtocol = iface.Class, iface.SubClass, iface.Protocol
			id.Interface = iface.String
			buf = append(buf, id.Bytes()...)

			if drv != nil {
				if n := drv.InterfaceDescriptorSize(alt.ClassArg, alt.Number); n > 0 {
					buf = append(buf, drv.InterfaceDescriptor(alt.ClassArg, alt.Number)...)
				}
			}

			for _, ep := range alt.Endpoints {
				ed := usbspec.EndpointDescriptor{}
				ed.SetDefaults()
				ed.EndpointAddress = ep.Address
				ed.Attributes = ep.Attributes
				ed.MaxPacketSize = ep.MaxPacketSize
				ed.Interval = ep.Interval
				buf = append(buf, ed.Bytes()...)

				if drv != nil {
					if n := drv.EndpointDescriptorSize(alt.ClassArg, alt.Number, ep.Address); n > 0 {
						buf = append(buf, drv.EndpointDescriptor(alt.ClassArg, alt.Number, ep.Address)...)
					}
				}
			}
		}
	}

	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))
	return buf
}

func groupStarting(cfg *topology.Config, ifaceNumber uint8) *topology.Group {
	for _, g := range cfg.Groups {
		if g.FirstInterface == ifaceNumber {
			return g
		}
	}
	return nil
}

// String returns the raw bytes of string descriptor index ix (0 is the
// language array), or nil if unregistered.
func (b *descriptorBuilder) String(ix uint8) []byte {
	if int(ix) >= len(b.reg.Strings) {
		return nil
	}
	return b.reg.Strings[ix]
}
