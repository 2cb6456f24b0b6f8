// Core dispatch task
// https://github.com/gousbd/core

package usbd

import "github.com/gousbd/core/controller"

// Device implements controller.Upcalls: every method here is called
// from interrupt context by the backend driver and must not block. Each
// pushes one Event and returns; the actual work happens on the core
// task in run().

func (d *Device) EventReset() {
	d.evq.Push(Event{Kind: EventReset})
}

func (d *Device) EventSuspend() {
	d.evq.Push(Event{Kind: EventSuspend})
}

func (d *Device) EventResume() {
	d.evq.Push(Event{Kind: EventResume})
}

func (d *Device) EventConnect() {
	d.evq.Push(Event{Kind: EventConnect})
}

func (d *Device) EventDisconnect() {
	d.evq.Push(Event{Kind: EventDisconnect})
}

func (d *Device) EventHighSpeedDetected() {
	d.evq.Push(Event{Kind: EventHighSpeed})
}

func (d *Device) EventSetup(packet [8]byte) {
	d.evq.Push(Event{Kind: EventSetup, Setup: packet})
}

func (d *Device) EPRxComplete(epLogicalNumber int) {
	d.evq.Push(Event{Kind: EventEPRxComplete, EPLogicalNumber: epLogicalNumber})
}

func (d *Device) EPTxComplete(epLogicalNumber int, err error) {
	d.evq.Push(Event{Kind: EventEPTxComplete, EPLogicalNumber: epLogicalNumber, Err: err})
}

// run is the core task: it drains the event queue and is the only
// goroutine that touches device/interface/endpoint state outside the
// endpoint I/O engine's own locking, matching spec.md §4.2's "delivered
// into a single-consumer core task, so above the controller boundary
// nothing needs to be interrupt-safe".
func (d *Device) run(stop <-chan struct{}) {
	for {
		ev, ok := d.evq.Pop(stop)
		if !ok {
			return
		}
		d.handle(ev)
	}
}

func (d *Device) handle(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case EventReset:
		d.onReset()
	case EventSuspend:
		d.sm.onSuspend()
	case EventResume:
		d.sm.onResume()
	case EventConnect:
		d.sm.onBusActivity()
	case EventDisconnect:
		d.onDisconnect()
	case EventHighSpeed:
		d.speed = controller.SpeedHigh
	case EventSetup:
		d.sm.onBusActivity()
		d.handleSetup(ev.Setup)
	case EventEPRxComplete:
		d.io.onRxComplete(uint8(ev.EPLogicalNumber))
	case EventEPTxComplete:
		d.io.onTxComplete(uint8(ev.EPLogicalNumber), ev.Err)
	}
}
