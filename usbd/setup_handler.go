// Standard request handler
// https://github.com/gousbd/core

package usbd

import (
	"github.com/gousbd/core/class"
	"github.com/gousbd/core/controller"
	"github.com/gousbd/core/topology"
	"github.com/gousbd/core/usbspec"
)

// onReset tears down configuration state and returns to the Default
// state, spec.md §4.3: a bus reset always lands in Default regardless of
// where the device was.
func (d *Device) onReset() {
	d.closeActiveConfig()
	d.addr = 0
	d.speed = controller.SpeedFull
	d.sm.onReset()
}

func (d *Device) onDisconnect() {
	d.closeActiveConfig()
	d.sm.state = StateAttached
}

// closeActiveConfig closes every endpoint opened for the active
// configuration and notifies class drivers, used by both reset and
// SET_CONFIGURATION(0).
func (d *Device) closeActiveConfig() {
	if d.activeCfg == nil {
		return
	}
	for _, iface := range d.activeCfg.Interfaces {
		alt := d.activeAlt[iface.Number]
		if alt == nil {
			continue
		}
		for _, ep := range alt.Endpoints {
			d.io.close(uint8(ep.Number()), directionOf(ep))
		}
		if drv := d.binds[iface.Number]; drv != nil {
			drv.Disconnect(alt.ClassArg)
		}
	}
	d.drv.CfgClear(d.activeCfg.Value)
	d.activeCfg = nil
	d.activeAlt = map[uint8]*topology.AltSetting{}
}

func directionOf(ep *topology.Endpoint) controller.Direction {
	if ep.Direction() == 1 {
		return controller.In
	}
	return controller.Out
}

// handleSetup is the chapter-9 SETUP entry point (spec.md §4.5). Control
// transfers with an OUT data stage are continued asynchronously via the
// I/O engine, since the core task is the single consumer that would
// otherwise have to block waiting on itself.
func (d *Device) handleSetup(packet [8]byte) {
	s := usbspec.DecodeSetupPacket(packet)

	if s.Direction() == usbspec.ReqDirHostToDevice && s.Length > 0 {
		epOut, err := d.io.lookup(0, controller.Out)
		if err != nil {
			return
		}
		buf := make([]byte, s.Length)
		u := &urb{ep: epOut, dir: controller.Out, buf: buf, length: len(buf), cb: func(n int, err error) {
			// Completions arrive on the core task inside handle, which
			// already holds d.mu.
			if err != nil {
				d.stallEP0()
				return
			}
			d.dispatchSetup(s, buf[:n])
		}}
		d.io.submit(u)
		return
	}

	d.dispatchSetup(s, nil)
}

func (d *Device) stallEP0() {
	d.io.stall(0, controller.In, true)
	d.io.stall(0, controller.Out, true)
}

// ackEP0 sends the status-stage ZLP on EP0 IN, optionally running after
// a completion hook (used by SET_ADDRESS's deferred-apply convention,
// spec.md §4.5/§8: "status stage must complete before the address
// change takes effect").
func (d *Device) ackEP0(after func()) {
	ep0In, err := d.io.lookup(0, controller.In)
	if err != nil {
		return
	}
	u := &urb{ep: ep0In, dir: controller.In, buf: nil, length: 0, cb: func(_ int, err error) {
		// Completions arrive on the core task inside handle, which
		// already holds d.mu.
		if err == nil && after != nil {
			after()
		}
	}}
	d.io.submit(u)
}

// replyEP0 stages resp (truncated to the host's requested wLength) as
// the IN data stage.
func (d *Device) replyEP0(s usbspec.SetupPacket, resp []byte) {
	if len(resp) > int(s.Length) {
		resp = resp[:s.Length]
	}
	ep0In, err := d.io.lookup(0, controller.In)
	if err != nil {
		return
	}
	end := len(resp)%ep0MaxPacketSize == 0
	u := &urb{ep: ep0In, dir: controller.In, buf: resp, length: len(resp), end: end}
	d.io.submit(u)
}

func (d *Device) dispatchSetup(s usbspec.SetupPacket, data []byte) {
	if !s.IsStandard() {
		d.dispatchNonStandard(s, data)
		return
	}

	switch s.Request {
	case usbspec.GetStatus:
		d.doGetStatus(s)
	case usbspec.ClearFeature:
		d.doSetClearFeature(s, false)
	case usbspec.SetFeature:
		d.doSetClearFeature(s, true)
	case usbspec.SetAddress:
		d.doSetAddress(s)
	case usbspec.GetDescriptor:
		d.doGetDescriptor(s)
	case usbspec.GetConfiguration:
		var v uint8
		if d.activeCfg != nil {
			v = d.activeCfg.Value
		}
		d.replyEP0(s, []byte{v})
	case usbspec.SetConfiguration:
		if d.doSetConfiguration(uint8(s.Value)) {
			d.ackEP0(nil)
		} else {
			d.stallEP0()
		}
	case usbspec.GetInterface:
		d.doGetInterface(s)
	case usbspec.SetInterface:
		if d.doSetInterface(uint8(s.Index), uint8(s.Value)) {
			d.ackEP0(nil)
		} else {
			d.stallEP0()
		}
	default:
		d.stallEP0()
	}
}

func (d *Device) doGetStatus(s usbspec.SetupPacket) {
	var status uint16
	switch s.Recipient() {
	case usbspec.ReqRecipientDevice:
		if d.activeCfg != nil {
			if d.activeCfg.Attributes&0x40 != 0 {
				status |= 0x1
			}
			if d.activeCfg.Attributes&0x20 != 0 {
				status |= 0x2
			}
		}
	case usbspec.ReqRecipientEndpoint:
		addr := uint8(s.Index)
		dir := controller.Out
		if addr&usbspec.EndpointDirMask != 0 {
			dir = controller.In
		}
		ep, err := d.io.lookup(addr&usbspec.EndpointNumberMask, dir)
		if err == nil {
			ep.mu.Lock()
			if ep.state == epHalted {
				status |= 0x1
			}
			ep.mu.Unlock()
		}
	}
	b := []byte{uint8(status), uint8(status >> 8)}
	d.replyEP0(s, b)
}

func (d *Device) doSetClearFeature(s usbspec.SetupPacket, set bool) {
	switch s.Recipient() {
	case usbspec.ReqRecipientEndpoint:
		if s.Value != usbspec.FeatureEndpointHalt {
			d.stallEP0()
			return
		}
		addr := uint8(s.Index)
		dir := controller.Out
		if addr&usbspec.EndpointDirMask != 0 {
			dir = controller.In
		}
		if err := d.io.stall(addr&usbspec.EndpointNumberMask, dir, set); err != nil {
			d.stallEP0()
			return
		}
	case usbspec.ReqRecipientDevice:
		if s.Value == usbspec.FeatureTestMode {
			if tm, ok := d.drv.(controller.TestModeDriver); ok && set {
				tm.TestMode(uint8(s.Index >> 8))
			}
		}
	}
	d.ackEP0(nil)
}

// doSetAddress honors both controller.AddrConvention (spec.md §4.1, §8):
// AddrAppliedNow has already taken effect by the time we send the
// status ack; AddrDeferred applies only once the ack finishes.
func (d *Device) doSetAddress(s usbspec.SetupPacket) {
	addr := uint8(s.Value)
	conv, err := d.drv.AddrSet(addr)
	if err != nil {
		d.stallEP0()
		return
	}
	if conv == controller.AddrAppliedNow {
		d.addr = addr
		d.sm.onSetAddress(addr)
		d.ackEP0(nil)
		return
	}
	d.ackEP0(func() {
		if err := d.drv.AddrEnable(addr); err == nil {
			d.addr = addr
			d.sm.onSetAddress(addr)
		}
	})
}

func (d *Device) doGetDescriptor(s usbspec.SetupPacket) {
	var resp []byte
	switch s.DescriptorType() {
	case usbspec.DescDevice:
		resp = d.builder.Device()
	case usbspec.DescDeviceQualifier:
		resp = d.builder.Qualifier()
	case usbspec.DescConfiguration:
		if cfg := d.configByIndex(int(s.DescriptorIndex())); cfg != nil {
			resp = d.builder.Configuration(cfg, false)
		}
	case usbspec.DescOtherSpeedConfiguration:
		if cfg := d.configByIndex(int(s.DescriptorIndex())); cfg != nil {
			resp = d.builder.Configuration(cfg, true)
		}
	case usbspec.DescString:
		resp = d.builder.String(s.DescriptorIndex())
	default:
		resp = d.classDescriptor(s)
	}
	if resp == nil {
		d.stallEP0()
		return
	}
	d.replyEP0(s, resp)
}

// classDescriptor routes a non-chapter-9 GET_DESCRIPTOR (e.g. HID Report)
// to the interface it targets, s.Index holding the interface number per
// the HID class spec's convention for this request.
func (d *Device) classDescriptor(s usbspec.SetupPacket) []byte {
	if d.activeCfg == nil {
		return nil
	}
	ifNum := uint8(s.Index)
	for _, iface := range d.activeCfg.Interfaces {
		if iface.Number != ifNum {
			continue
		}
		if drv, ok := d.binds[ifNum].(interface {
			ClassDescriptor(classArg any, descType, descIndex uint8) []byte
		}); ok {
			alt := d.activeAlt[ifNum]
			if alt == nil {
				alt = iface.Alts[0]
			}
			return drv.ClassDescriptor(alt.ClassArg, s.DescriptorType(), s.DescriptorIndex())
		}
	}
	return nil
}

func (d *Device) configByIndex(idx int) *topology.Config {
	if idx < 0 || idx >= len(d.reg.Configs) {
		return nil
	}
	return d.reg.Configs[idx]
}

// doSetConfiguration implements spec.md §4.4/§8's core invariant: every
// endpoint of the newly active configuration's alt-0 is open before the
// status stage completes, and none of the previous configuration's
// endpoints remain open.
func (d *Device) doSetConfiguration(value uint8) bool {
	d.closeActiveConfig()
	if value == 0 {
		d.sm.onSetConfiguration(0)
		return true
	}
	var cfg *topology.Config
	for _, c := range d.reg.Configs {
		if c.Value == value {
			cfg = c
			break
		}
	}
	if cfg == nil {
		return false
	}

	for _, iface := range cfg.Interfaces {
		alt := iface.Alts[0]
		if !d.openAlt(iface, alt) {
			return false
		}
		d.activeAlt[iface.Number] = alt
	}
	if err := d.drv.CfgSet(value); err != nil {
		return false
	}
	d.activeCfg = cfg
	d.sm.onSetConfiguration(value)

	for _, iface := range cfg.Interfaces {
		if drv := d.binds[iface.Number]; drv != nil {
			drv.Connect(d.activeAlt[iface.Number].ClassArg)
		}
	}
	return true
}

func (d *Device) openAlt(iface *topology.Interface, alt *topology.AltSetting) bool {
	for _, ep := range alt.Endpoints {
		transactions := 1
		if err := d.io.open(uint8(ep.Number()), directionOf(ep), controller.TransferType(ep.TransferType()), ep.MaxPacketSize, transactions, extraURBBudgetDefault); err != nil {
			return false
		}
	}
	return true
}

func (d *Device) doGetInterface(s usbspec.SetupPacket) {
	if d.activeCfg == nil {
		d.stallEP0()
		return
	}
	alt, ok := d.activeAlt[uint8(s.Index)]
	if !ok {
		d.stallEP0()
		return
	}
	d.replyEP0(s, []byte{alt.Number})
}

func (d *Device) doSetInterface(ifaceNumber, altNumber uint8) bool {
	if d.activeCfg == nil {
		return false
	}
	var iface *topology.Interface
	for _, i := range d.activeCfg.Interfaces {
		if i.Number == ifaceNumber {
			iface = i
			break
		}
	}
	if iface == nil || int(altNumber) >= len(iface.Alts) {
		return false
	}
	newAlt := iface.Alts[altNumber]

	if oldAlt := d.activeAlt[ifaceNumber]; oldAlt != nil {
		for _, ep := range oldAlt.Endpoints {
			d.io.close(uint8(ep.Number()), directionOf(ep))
		}
	}
	if !d.openAlt(iface, newAlt) {
		return false
	}
	d.activeAlt[ifaceNumber] = newAlt
	if drv := d.binds[ifaceNumber]; drv != nil {
		drv.AltSettingUpdate(newAlt.ClassArg, altNumber)
	}
	return true
}

// dispatchNonStandard routes a class or vendor request to the interface
// (or the endpoint's owning interface) named by wIndex, spec.md §4.8.
func (d *Device) dispatchNonStandard(s usbspec.SetupPacket, data []byte) {
	ifNum := uint8(s.Index)
	if s.Recipient() == usbspec.ReqRecipientEndpoint {
		ifNum = d.interfaceOwningEndpoint(uint8(s.Index))
	}
	drv := d.binds[ifNum]
	if drv == nil {
		d.stallEP0()
		return
	}
	alt := d.activeAlt[ifNum]
	var classArg any
	if alt != nil {
		classArg = alt.ClassArg
	}

	var resp []byte
	var result class.Result
	switch {
	case s.Recipient() == usbspec.ReqRecipientInterface && s.Type() == usbspec.ReqTypeClass:
		resp, result = drv.ClassRequest(classArg, s, data)
	case s.Type() == usbspec.ReqTypeVendor:
		resp, result = drv.VendorRequest(classArg, s, data)
	default:
		resp, result = drv.InterfaceRequest(classArg, s, data)
	}

	if result != class.Handled {
		d.stallEP0()
		return
	}
	if s.Direction() == usbspec.ReqDirDeviceToHost {
		d.replyEP0(s, resp)
	} else {
		d.ackEP0(nil)
	}
}

func (d *Device) interfaceOwningEndpoint(epAddr uint8) uint8 {
	if d.activeCfg == nil {
		return 0
	}
	num := epAddr & usbspec.EndpointNumberMask
	dir := 0
	if epAddr&usbspec.EndpointDirMask != 0 {
		dir = 1
	}
	for _, iface := range d.activeCfg.Interfaces {
		if alt := d.activeAlt[iface.Number]; alt != nil {
			for _, ep := range alt.Endpoints {
				if ep.Number() == int(num) && ep.Direction() == dir {
					return iface.Number
				}
			}
		}
	}
	return 0
}
