// Software-simulated controller backend tests
// https://github.com/gousbd/core

package sw

import (
	"testing"

	"github.com/gousbd/core/controller"
)

// fakeUpcalls records every event delivered by the Driver under test.
type fakeUpcalls struct {
	setups  [][8]byte
	rxComplete []int
	txComplete []int
	txErr      []error
}

func (u *fakeUpcalls) EventReset()             {}
func (u *fakeUpcalls) EventSuspend()           {}
func (u *fakeUpcalls) EventResume()            {}
func (u *fakeUpcalls) EventConnect()           {}
func (u *fakeUpcalls) EventDisconnect()        {}
func (u *fakeUpcalls) EventHighSpeedDetected() {}
func (u *fakeUpcalls) EventSetup(packet [8]byte) {
	u.setups = append(u.setups, packet)
}
func (u *fakeUpcalls) EPRxComplete(n int) {
	u.rxComplete = append(u.rxComplete, n)
}
func (u *fakeUpcalls) EPTxComplete(n int, err error) {
	u.txComplete = append(u.txComplete, n)
	u.txErr = append(u.txErr, err)
}

func TestEPTxStartFiresTxCompleteSynchronously(t *testing.T) {
	d := New()
	up := &fakeUpcalls{}
	if err := d.Init(up); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := d.EPOpen(0x81, controller.Interrupt, 8, 1); err != nil {
		t.Fatalf("EPOpen failed: %v", err)
	}

	if err := d.EPTxStart(0x81, []byte{1, 2, 3}); err != nil {
		t.Fatalf("EPTxStart failed: %v", err)
	}

	if len(up.txComplete) != 1 || up.txComplete[0] != 1 {
		t.Fatalf("txComplete = %v, want [1]", up.txComplete)
	}
	sent := d.Sent(0x81)
	if len(sent) != 1 || string(sent[0]) != "\x01\x02\x03" {
		t.Fatalf("Sent(0x81) = %v, want one 3-byte packet", sent)
	}
}

func TestDeliverRxQueuesAndDrains(t *testing.T) {
	d := New()
	up := &fakeUpcalls{}
	d.Init(up)
	d.EPOpen(0x01, controller.Bulk, 8, 1)

	d.DeliverRx(0x01, []byte{0xaa, 0xbb})

	if len(up.rxComplete) != 1 || up.rxComplete[0] != 1 {
		t.Fatalf("rxComplete = %v, want [1]", up.rxComplete)
	}

	buf := make([]byte, 8)
	n, err := d.EPRx(0x01, buf)
	if err != nil {
		t.Fatalf("EPRx failed: %v", err)
	}
	if n != 2 || buf[0] != 0xaa || buf[1] != 0xbb {
		t.Fatalf("EPRx got %d bytes %v, want [0xaa 0xbb]", n, buf[:n])
	}
}

func TestEPStallRoundTrip(t *testing.T) {
	d := New()
	d.Init(&fakeUpcalls{})
	d.EPOpen(0x82, controller.Bulk, 64, 1)

	if d.IsStalled(0x82) {
		t.Fatalf("endpoint must not start stalled")
	}
	if err := d.EPStall(0x82, true); err != nil {
		t.Fatalf("EPStall failed: %v", err)
	}
	if !d.IsStalled(0x82) {
		t.Fatalf("IsStalled must report true after EPStall(..., true)")
	}
	d.EPStall(0x82, false)
	if d.IsStalled(0x82) {
		t.Fatalf("IsStalled must report false after clearing the stall")
	}
}

func TestAddrSetAppliesImmediately(t *testing.T) {
	d := New()
	conv, err := d.AddrSet(5)
	if err != nil {
		t.Fatalf("AddrSet failed: %v", err)
	}
	if conv != controller.AddrAppliedNow {
		t.Fatalf("convention = %v, want AddrAppliedNow", conv)
	}
}

func TestInjectSetupDeliversToUpcalls(t *testing.T) {
	d := New()
	up := &fakeUpcalls{}
	d.Init(up)

	pkt := [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	d.InjectSetup(pkt)

	if len(up.setups) != 1 || up.setups[0] != pkt {
		t.Fatalf("setups = %v, want [%v]", up.setups, pkt)
	}
}
