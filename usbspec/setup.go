package usbspec

import "encoding/binary"

// SetupPacket implements
// p276, Table 9-2. Format of Setup Data, USB Specification Revision 2.0.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// DecodeSetupPacket parses the 8-byte little-endian SETUP transaction
// delivered by the controller driver at event_setup.
func DecodeSetupPacket(b [8]byte) SetupPacket {
	return SetupPacket{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
	}
}

// Bytes re-encodes the packet to its 8-byte wire form.
func (s SetupPacket) Bytes() [8]byte {
	var b [8]byte
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:4], s.Value)
	binary.LittleEndian.PutUint16(b[4:6], s.Index)
	binary.LittleEndian.PutUint16(b[6:8], s.Length)
	return b
}

// Direction returns ReqDirHostToDevice or ReqDirDeviceToHost.
func (s SetupPacket) Direction() int {
	return int(s.RequestType>>7) & 0x1
}

// Type returns one of ReqTypeStandard/Class/Vendor/Reserved.
func (s SetupPacket) Type() int {
	return int(s.RequestType) & ReqTypeMask
}

// Recipient returns one of ReqRecipientDevice/Interface/Endpoint/Other.
func (s SetupPacket) Recipient() int {
	return int(s.RequestType) & ReqRecipientMask
}

// IsStandard reports whether this is a chapter-9 standard request.
func (s SetupPacket) IsStandard() bool {
	return s.Type() == ReqTypeStandard
}

// DescriptorType extracts the high byte of wValue for GET/SET_DESCRIPTOR.
func (s SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

// DescriptorIndex extracts the low byte of wValue for GET/SET_DESCRIPTOR.
func (s SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value & 0xff)
}
