// HID class driver tests
// https://github.com/gousbd/core

package hid

import (
	"testing"
	"time"

	"github.com/gousbd/core/class"
	"github.com/gousbd/core/usberr"
	"github.com/gousbd/core/usbspec"
)

// fakeEP is a minimal EPTransport test double that just records the last
// call made to it.
type fakeEP struct {
	writeEP  uint8
	writeEnd bool
	writeN   int

	readEP uint8
	readN  int
}

func (f *fakeEP) EPWrite(ep uint8, buf []byte, end bool, timeout time.Duration) (int, error) {
	f.writeEP, f.writeEnd = ep, end
	f.writeN = len(buf)
	return f.writeN, nil
}

func (f *fakeEP) EPWriteAsync(ep uint8, buf []byte, end bool, cb func(n int, err error)) error {
	f.writeEP, f.writeEnd = ep, end
	f.writeN = len(buf)
	if cb != nil {
		cb(len(buf), nil)
	}
	return nil
}

func (f *fakeEP) EPRead(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	f.readEP = ep
	f.readN = len(buf)
	return f.readN, nil
}

func (f *fakeEP) EPReadAsync(ep uint8, buf []byte, cb func(n int, err error)) error {
	f.readEP = ep
	f.readN = len(buf)
	if cb != nil {
		cb(len(buf), nil)
	}
	return nil
}

// twoSizedInputReportDesc has two Input reports under distinct Report
// IDs: ID 1 is 4 data bytes (5 with the ID prefix, the largest), ID 2 is
// 1 data byte (2 with the prefix).
var twoSizedInputReportDesc = []byte{
	0x05, 0x01, 0x09, 0x00, 0xa1, 0x01,
	0x85, 0x01,
	0x15, 0x00, 0x26, 0xff, 0xff,
	0x75, 0x20, 0x95, 0x01,
	0x81, 0x02,
	0x85, 0x02,
	0x75, 0x08, 0x95, 0x01,
	0x81, 0x02,
	0xc0,
}

func TestWrSuppressesZLPOnlyForLargestInputReport(t *testing.T) {
	rt, err := parseReportDescriptor(twoSizedInputReportDesc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ep := &fakeEP{}
	d := &Driver{report: rt, ep: ep, epIn: 7}

	largest, _ := rt.lookup(ReportInput, 1)
	if _, err := d.Wr(largest.buf, time.Second); err != nil {
		t.Fatalf("Wr(largest) failed: %v", err)
	}
	if ep.writeEnd {
		t.Fatalf("largest report must suppress the trailing ZLP, end=%v", ep.writeEnd)
	}

	smaller, _ := rt.lookup(ReportInput, 2)
	if _, err := d.Wr(smaller.buf, time.Second); err != nil {
		t.Fatalf("Wr(smaller) failed: %v", err)
	}
	if !ep.writeEnd {
		t.Fatalf("a report smaller than the largest must keep the auto-ZLP, end=%v", ep.writeEnd)
	}
}

func TestRdRejectsConcurrentCall(t *testing.T) {
	d := &Driver{epOut: 3}

	if _, err := d.beginRx("test"); err != nil {
		t.Fatalf("first beginRx failed: %v", err)
	}
	_, err := d.beginRx("test")
	if err == nil {
		t.Fatalf("want Fail while a read is already pending")
	}
	if kind, _ := usberr.Of(err); kind != usberr.Fail {
		t.Fatalf("kind = %v, want Fail", kind)
	}

	d.endRx()
	if _, err := d.beginRx("test"); err != nil {
		t.Fatalf("beginRx after endRx failed: %v", err)
	}
}

func TestRdDisabledWhenControlReadEnabled(t *testing.T) {
	d := &Driver{ctrlReadEnable: true}

	_, err := d.Rd(make([]byte, 8), time.Second)
	if err == nil {
		t.Fatalf("want an error, reads are disabled when ctrlReadEnable is set")
	}
	if kind, _ := usberr.Of(err); kind != usberr.InvalidClassState {
		t.Fatalf("kind = %v, want InvalidClassState", kind)
	}
}

func newTestDriver(t *testing.T, cb Callbacks) *Driver {
	t.Helper()
	d, err := New(0, 0, 0, bootKeyboardReportDesc, nil, false, cb)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestClassRequestGetReportInput(t *testing.T) {
	d := newTestDriver(t, Callbacks{})

	s := usbspec.SetupPacket{RequestType: 0xa1, Request: reqGetReport, Value: uint16(ReportInput) << 8, Length: 8}
	resp, result := d.ClassRequest(nil, s, nil)

	if result != class.Handled {
		t.Fatalf("result = %v, want Handled", result)
	}
	if len(resp) != 8 {
		t.Fatalf("resp length = %d, want 8", len(resp))
	}
}

func TestClassRequestSetReportOutputInvokesCallback(t *testing.T) {
	var gotID uint8
	var gotData []byte
	d := newTestDriver(t, Callbacks{
		ReportSet: func(reportID uint8, data []byte) {
			gotID, gotData = reportID, append([]byte(nil), data...)
		},
	})

	s := usbspec.SetupPacket{RequestType: 0x21, Request: reqSetReport, Value: uint16(ReportOutput) << 8, Length: 1}
	_, result := d.ClassRequest(nil, s, []byte{0x02})

	if result != class.Handled {
		t.Fatalf("result = %v, want Handled", result)
	}
	if gotID != 0 || len(gotData) != 1 || gotData[0] != 0x02 {
		t.Fatalf("ReportSet callback got (%d, %v), want (0, [2])", gotID, gotData)
	}
}

func TestClassRequestSetThenGetIdle(t *testing.T) {
	d := newTestDriver(t, Callbacks{})

	setIdle := usbspec.SetupPacket{RequestType: 0x21, Request: reqSetIdle, Value: uint16(50) << 8, Length: 0}
	if _, result := d.ClassRequest(nil, setIdle, nil); result != class.Handled {
		t.Fatalf("SET_IDLE not handled")
	}

	getIdle := usbspec.SetupPacket{RequestType: 0xa1, Request: reqGetIdle, Length: 1}
	resp, result := d.ClassRequest(nil, getIdle, nil)
	if result != class.Handled {
		t.Fatalf("GET_IDLE not handled")
	}
	if len(resp) != 1 || resp[0] != 50 {
		t.Fatalf("GET_IDLE resp = %v, want [50]", resp)
	}
}

func TestClassRequestProtocolRoundTrip(t *testing.T) {
	protocol := uint8(0)
	d := newTestDriver(t, Callbacks{
		ProtocolGet: func() (uint8, error) { return protocol, nil },
		ProtocolSet: func(p uint8) error { protocol = p; return nil },
	})

	setProto := usbspec.SetupPacket{RequestType: 0x21, Request: reqSetProtocol, Value: 1, Length: 0}
	if _, result := d.ClassRequest(nil, setProto, nil); result != class.Handled {
		t.Fatalf("SET_PROTOCOL not handled")
	}

	getProto := usbspec.SetupPacket{RequestType: 0xa1, Request: reqGetProtocol, Length: 1}
	resp, result := d.ClassRequest(nil, getProto, nil)
	if result != class.Handled {
		t.Fatalf("GET_PROTOCOL not handled")
	}
	if len(resp) != 1 || resp[0] != 1 {
		t.Fatalf("GET_PROTOCOL resp = %v, want [1]", resp)
	}
}

func TestClassRequestUnknownRequestStalls(t *testing.T) {
	d := newTestDriver(t, Callbacks{})

	s := usbspec.SetupPacket{RequestType: 0xa1, Request: 0x7f, Length: 1}
	_, result := d.ClassRequest(nil, s, nil)
	if result == class.Handled {
		t.Fatalf("an unrecognized request code must stall")
	}
}
