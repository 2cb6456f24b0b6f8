// Topology registry
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package topology holds the registered device tree — Device →
// Configurations → Interfaces → Alternate Settings → Endpoints, plus
// Interface Groups (IAD) and the shared string table (spec.md §3, §4.7).
//
// The cyclic Device<->Configuration<->...<->Endpoint graph of the
// reference C implementation is re-expressed without back-pointers: each
// record owns its children in a slice, and the Add* calls return pointers
// to the new records (*Config, *Interface, *AltSetting, *Endpoint,
// *Group), not small-integer handles. Child-to-parent needs are satisfied
// by the parent pointer the caller already holds — the same shape the
// teacher uses for its Device.Configurations/Interfaces/Endpoints slices,
// extended with alternate settings.
package topology

import (
	"fmt"
	"unicode/utf16"

	"github.com/gousbd/core/usberr"
	"github.com/gousbd/core/usbspec"
)

// Registry is the write-once-read-many topology for one USB device
// (spec.md §5: "mutable only between dev_add and dev_start; read-only
// thereafter"). It owns arenas for configurations, interfaces, alternate
// settings, endpoints and interface groups, all indexed by small ints.
type Registry struct {
	closed bool

	Configs []*Config
	Strings [][]byte // index 0 is the language-ID array

	stringIndex map[string]uint8

	MSVendorCode   uint8
	MSVendorCodeOK bool
}

// Config is a registered Configuration (spec.md §3).
type Config struct {
	Value      uint8
	Attributes uint8 // self-powered / remote-wakeup bits, bit 7 always set
	MaxPower   uint8 // units of 2 mA

	Interfaces []*Interface
	Groups     []*Group

	// OtherSpeed, when non-nil, links this configuration to its
	// same-numbered Other-Speed Configuration (spec.md §3).
	OtherSpeed *Config
}

// Group is an Interface Association Descriptor grouping.
type Group struct {
	Number           uint8
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionString   uint8
}

// Interface is a registered Interface (spec.md §3). Its Number is dense
// starting at 0 within the owning Configuration, assigned at add time.
type Interface struct {
	Number   uint8
	Class    uint8
	SubClass uint8
	Protocol uint8
	String   uint8

	Alts []*AltSetting

	// ClassArg is an opaque per-interface argument threaded to the class
	// driver's upcalls (spec.md §4.8); it is typed any rather than
	// void* per spec.md §9's "void-pointer-punned callback arguments"
	// redesign note.
	ClassArg any
}

// AltSetting is an Alternate Setting (spec.md §3). Alt 0 always exists.
type AltSetting struct {
	Number    uint8
	ClassArg  any
	Endpoints []*Endpoint
}

// Endpoint is a registered Endpoint Descriptor (spec.md §3).
type Endpoint struct {
	Address       uint8 // direction bit | logical number
	Attributes    uint8 // type, sync-type, usage-type
	MaxPacketSize uint16
	Interval      uint8 // already translated to the wire unit, see translateInterval
	SyncAddress   uint8 // isochronous sync-pair endpoint address, 0 if none
}

func (e *Endpoint) Number() int    { return int(e.Address) & usbspec.EndpointNumberMask }
func (e *Endpoint) Direction() int { return int(e.Address>>7) & 0x1 }
func (e *Endpoint) TransferType() int {
	return int(e.Attributes) & 0x3
}

// NewRegistry creates an empty topology, open for registration.
func NewRegistry() *Registry {
	return &Registry{stringIndex: map[string]uint8{}}
}

// assertOpen enforces spec.md §4.7: "Registration is only legal before
// dev_start."
func (r *Registry) assertOpen(op string) error {
	if r.closed {
		return usberr.E(op, usberr.InvalidClassState, fmt.Errorf("topology closed for registration"))
	}
	return nil
}

// Close freezes the registry; called by usbd.Device.Start.
func (r *Registry) Close() { r.closed = true }

// AddConfig registers a Configuration and returns its record. Its Value
// is the configuration value the caller picks, matching chapter-9's
// human-meaningful numbering instead of a synthetic index.
func (r *Registry) AddConfig(value uint8, selfPowered, remoteWakeup bool, maxPowerMA int) (*Config, error) {
	const op = "topology.AddConfig"
	if err := r.assertOpen(op); err != nil {
		return nil, err
	}
	if value == 0 {
		return nil, usberr.E(op, usberr.CfgInvalidNbr, fmt.Errorf("configuration value 0 is reserved for unconfigured"))
	}
	for _, c := range r.Configs {
		if c.Value == value {
			return nil, usberr.E(op, usberr.CfgInvalidNbr, fmt.Errorf("configuration %d already registered", value))
		}
	}
	if maxPowerMA < 0 || maxPowerMA > 510 {
		return nil, usberr.E(op, usberr.CfgInvalidMaxPwr, fmt.Errorf("%d mA out of range", maxPowerMA))
	}

	attrs := uint8(usbspec.ConfigAttrReservedSet)
	if selfPowered {
		attrs |= usbspec.ConfigAttrSelfPowered
	}
	if remoteWakeup {
		attrs |= usbspec.ConfigAttrRemoteWakeup
	}

	c := &Config{
		Value:      value,
		Attributes: attrs,
		MaxPower:   uint8(maxPowerMA / 2),
	}
	r.Configs = append(r.Configs, c)
	return c, nil
}

// AddInterface registers an Interface under cfg with alt 0 pre-created,
// and assigns the next dense interface number (spec.md §3 invariant).
func (r *Registry) AddInterface(cfg *Config, class, subClass, protocol uint8, classArg any) (*Interface, error) {
	const op = "topology.AddInterface"
	if err := r.assertOpen(op); err != nil {
		return nil, err
	}
	iface := &Interface{
		Number:   uint8(len(cfg.Interfaces)),
		Class:    class,
		SubClass: subClass,
		Protocol: protocol,
		ClassArg: classArg,
	}
	iface.Alts = append(iface.Alts, &AltSetting{Number: 0, ClassArg: classArg})
	cfg.Interfaces = append(cfg.Interfaces, iface)
	return iface, nil
}

// AddAltSetting registers a new alternate setting on iface and returns it.
func (r *Registry) AddAltSetting(iface *Interface, classArg any) (*AltSetting, error) {
	const op = "topology.AddAltSetting"
	if err := r.assertOpen(op); err != nil {
		return nil, err
	}
	alt := &AltSetting{Number: uint8(len(iface.Alts)), ClassArg: classArg}
	iface.Alts = append(iface.Alts, alt)
	return alt, nil
}

// AddGroup registers an Interface Association Descriptor grouping
// consecutive interfaces [firstInterface, firstInterface+count) of cfg.
func (r *Registry) AddGroup(cfg *Config, number, firstInterface, count, class, subClass, protocol, fnString uint8) (*Group, error) {
	const op = "topology.AddGroup"
	if err := r.assertOpen(op); err != nil {
		return nil, err
	}
	for _, g := range cfg.Groups {
		if g.Number == number {
			return nil, usberr.E(op, usberr.IfGrpNbrInUse, fmt.Errorf("group %d already registered", number))
		}
	}
	g := &Group{
		Number:           number,
		FirstInterface:   firstInterface,
		InterfaceCount:   count,
		FunctionClass:    class,
		FunctionSubClass: subClass,
		FunctionProtocol: protocol,
		FunctionString:   fnString,
	}
	cfg.Groups = append(cfg.Groups, g)
	return g, nil
}

// endpointTaken reports whether (logical number, direction) is already
// used within alt, honoring spec.md §3's per-(configuration, endpoint
// number, direction) uniqueness invariant at the alt-setting granularity
// the controller actually opens.
func endpointTaken(alt *AltSetting, number int, dir int) bool {
	for _, ep := range alt.Endpoints {
		if ep.Number() == number && ep.Direction() == dir {
			return true
		}
	}
	return false
}

// maxPacketSizeLimit returns the legal maximum packet size ceiling for a
// transfer type at a given speed, p271 Table 5-5/5-11/5-13, USB 2.0.
func maxPacketSizeLimit(t int, speed int) uint16 {
	const (
		speedLow = iota
		speedFull
		speedHigh
	)
	switch t {
	case usbspec.TransferControl:
		if speed == speedLow {
			return 8
		}
		return 64
	case usbspec.TransferInterrupt:
		if speed == speedHigh {
			return 1024
		}
		if speed == speedLow {
			return 8
		}
		return 64
	case usbspec.TransferBulk:
		if speed == speedHigh {
			return 512
		}
		return 64
	case usbspec.TransferIsochronous:
		if speed == speedHigh {
			return 1024
		}
		return 1023
	}
	return 64
}

// AddEndpoint registers an Endpoint Descriptor on alt. speed selects the
// legality ceiling for maxPacketSize (0=low,1=full,2=high, matching
// controller.Speed-1).
func (r *Registry) AddEndpoint(alt *AltSetting, number int, dir int, transferType int, maxPacketSize uint16, intervalMs int, speed int) (*Endpoint, error) {
	const op = "topology.AddEndpoint"
	if err := r.assertOpen(op); err != nil {
		return nil, err
	}
	if number < 1 || number > 15 {
		return nil, usberr.E(op, usberr.EpInvalidAddr, fmt.Errorf("logical endpoint number %d out of range", number))
	}
	if endpointTaken(alt, number, dir) {
		return nil, usberr.E(op, usberr.EpInvalidAddr, fmt.Errorf("endpoint %d.%d already registered on this alt", number, dir))
	}
	if limit := maxPacketSizeLimit(transferType, speed); maxPacketSize > limit {
		return nil, usberr.E(op, usberr.EpInvalidType, fmt.Errorf("max packet size %d exceeds %d for this transfer type/speed", maxPacketSize, limit))
	}

	interval, err := translateInterval(transferType, speed, intervalMs)
	if err != nil {
		return nil, usberr.E(op, usberr.InvalidArg, err)
	}

	addr := uint8(number)
	if dir == 1 {
		addr |= usbspec.EndpointDirIn
	}

	attrs := uint8(transferType & 0x3)

	ep := &Endpoint{
		Address:       addr,
		Attributes:    attrs,
		MaxPacketSize: maxPacketSize,
		Interval:      interval,
	}
	alt.Endpoints = append(alt.Endpoints, ep)
	return ep, nil
}

// translateInterval implements spec.md §4.4's Full/High-Speed bInterval
// translation: Full-Speed is frames (1ms units) directly; High-Speed
// interrupt/isoc bInterval is the exponent n such that period =
// 2^(n-1) microframes (125us units), and n must be in [1,16].
func translateInterval(transferType, speed, intervalMs int) (uint8, error) {
	const speedHigh = 2
	if transferType == usbspec.TransferControl || transferType == usbspec.TransferBulk {
		if speed != speedHigh {
			return 0, nil
		}
		// High-Speed bulk NAK interval is expressed directly in the
		// spec's bInterval units; callers pass 0 for "no NAK rate".
		return uint8(intervalMs), nil
	}

	if speed != speedHigh {
		if intervalMs < 1 || intervalMs > 255 {
			return 0, fmt.Errorf("interval %dms out of range [1,255] for full/low speed", intervalMs)
		}
		return uint8(intervalMs), nil
	}

	// High-Speed: period (in microframes) must be a power of two,
	// period = intervalMs * 8 since 1ms = 8 microframes.
	periodUs := intervalMs * 8
	if periodUs < 1 {
		return 0, fmt.Errorf("interval must be positive")
	}
	exp := 0
	for p := periodUs; p > 1; p >>= 1 {
		if p&1 != 0 {
			return 0, fmt.Errorf("High-Speed interval %dms does not correspond to a power-of-two microframe period", intervalMs)
		}
		exp++
	}
	if exp+1 > 16 {
		return 0, fmt.Errorf("High-Speed interval %dms exceeds bInterval range", intervalMs)
	}
	return uint8(exp + 1), nil
}

// AddString registers a UTF-8 source string and returns its 1-based
// index, memoizing repeats (spec.md §8 round-trip law:
// str_ix_get(str_add(s)) == str_add(s), and repeated str_add(s) returns
// the same index).
func (r *Registry) AddString(s string) (uint8, error) {
	const op = "topology.AddString"
	if err := r.assertOpen(op); err != nil {
		return 0, err
	}
	if ix, ok := r.stringIndex[s]; ok {
		return ix, nil
	}

	if len(r.Strings) == 0 {
		// index 0 is reserved for the language-ID array; seed it with
		// US English if the caller never called SetLanguages.
		r.Strings = append(r.Strings, encodeLanguages([]uint16{0x0409}))
	}

	u := utf16.Encode([]rune(s))
	buf := make([]byte, 0, 2+2*len(u))
	header := usbspec.StringDescriptorHeader{
		Length:         uint8(2 + 2*len(u)),
		DescriptorType: usbspec.DescString,
	}
	buf = append(buf, header.Length, header.DescriptorType)
	for _, v := range u {
		buf = append(buf, byte(v), byte(v>>8))
	}

	r.Strings = append(r.Strings, buf)
	ix := uint8(len(r.Strings) - 1)
	r.stringIndex[s] = ix
	return ix, nil
}

// StringIndex returns the index previously assigned to s by AddString, or
// false if s was never registered.
func (r *Registry) StringIndex(s string) (uint8, bool) {
	ix, ok := r.stringIndex[s]
	return ix, ok
}

// SetLanguages overwrites String Descriptor Zero's language-ID array.
// Only a single language is currently supported (matching the teacher's
// SetLanguageCodes, which returns an error for len(codes) > 1).
func (r *Registry) SetLanguages(codes []uint16) error {
	const op = "topology.SetLanguages"
	if err := r.assertOpen(op); err != nil {
		return err
	}
	if len(codes) != 1 {
		return usberr.E(op, usberr.InvalidArg, fmt.Errorf("only a single language is currently supported"))
	}
	buf := encodeLanguages(codes)
	if len(r.Strings) == 0 {
		r.Strings = append(r.Strings, buf)
	} else {
		r.Strings[0] = buf
	}
	return nil
}

func encodeLanguages(codes []uint16) []byte {
	buf := make([]byte, 0, 2+2*len(codes))
	buf = append(buf, uint8(2+2*len(codes)), usbspec.DescString)
	for _, c := range codes {
		buf = append(buf, byte(c), byte(c>>8))
	}
	return buf
}
