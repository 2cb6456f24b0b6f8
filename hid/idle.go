// Idle-rate scheduler
// https://github.com/gousbd/core

package hid

import "time"

// idleTick is the HID idle-rate granularity (spec.md §4.9: "driven by an
// OS tick (>= 250 Hz) at 4 ms granularity").
const idleTick = 4 * time.Millisecond

// idleTask runs on its own task (osal.Group), walking the schedule
// and resending any Input report whose countdown reaches zero. It never
// touches the endpoint synchronously: EPWriteAsync just re-queues the report
// and returns, so a slow host (NAKing the interrupt-IN endpoint) cannot
// stall this task.
func (d *Driver) idleTask(stop <-chan struct{}) {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.idleTickOnce()
		}
	}
}

func (d *Driver) idleTickOnce() {
	d.mu.Lock()
	var due []*reportID
	for _, r := range d.report.idleList {
		if r.updated {
			r.idleCount = r.idleRate
			r.updated = false
			continue
		}
		r.idleCount--
		if r.idleCount == 0 {
			r.idleCount = r.idleRate
			due = append(due, r)
		}
	}
	ep := d.epIn
	d.mu.Unlock()

	for _, r := range due {
		d.mu.Lock()
		isLargest := r.byteSize == d.report.maxSize[ReportInput]
		buf := append([]byte(nil), r.buf...)
		d.mu.Unlock()
		d.ep.EPWriteAsync(ep, buf, !isLargest, nil)
	}
}
