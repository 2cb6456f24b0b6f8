// HID report descriptor parser tests
// https://github.com/gousbd/core

package hid

import (
	"testing"

	"github.com/gousbd/core/usberr"
)

// bootKeyboardReportDesc is the standard USB HID boot keyboard report
// descriptor (HID 1.11 Appendix B.1): an 8-bit modifier byte, a
// reserved byte, and 6 key-code bytes as Input, plus a 5-bit LED/3-bit
// pad byte as Output. No Report ID.
var bootKeyboardReportDesc = []byte{
	0x05, 0x01, 0x09, 0x06, 0xa1, 0x01, 0x05, 0x07, 0x19, 0xe0, 0x29, 0xe7, 0x15, 0x00, 0x25, 0x01,
	0x75, 0x01, 0x95, 0x08, 0x81, 0x02, 0x95, 0x01, 0x75, 0x08, 0x81, 0x01, 0x95, 0x05, 0x75, 0x01,
	0x05, 0x08, 0x19, 0x01, 0x29, 0x05, 0x91, 0x02, 0x95, 0x01, 0x75, 0x03, 0x91, 0x01, 0x95, 0x06,
	0x75, 0x08, 0x15, 0x00, 0x25, 0x65, 0x05, 0x07, 0x19, 0x00, 0x29, 0x65, 0x81, 0x00, 0xc0,
}

func TestParseBootKeyboardSizesMatchWireLayout(t *testing.T) {
	rt, err := parseReportDescriptor(bootKeyboardReportDesc)

	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if rt.hasReportIDs {
		t.Fatalf("boot keyboard descriptor carries no Report ID item")
	}
	if len(rt.byType[ReportInput]) != 1 {
		t.Fatalf("want 1 Input record, got %d", len(rt.byType[ReportInput]))
	}
	in := rt.byType[ReportInput][0]
	if in.byteSize != 8 {
		t.Fatalf("want 8-byte Input report, got %d", in.byteSize)
	}
	if len(in.buf) != 8 {
		t.Fatalf("Input buffer size = %d, want 8", len(in.buf))
	}

	if len(rt.byType[ReportOutput]) != 1 {
		t.Fatalf("want 1 Output record, got %d", len(rt.byType[ReportOutput]))
	}
	if out := rt.byType[ReportOutput][0]; out.byteSize != 1 {
		t.Fatalf("want 1-byte Output report, got %d", out.byteSize)
	}
}

// mouseClickReportDesc has one Input report tagged with Report ID 1: an
// 8-bit field, no other reports.
var mouseClickReportDesc = []byte{
	0x05, 0x01, 0x09, 0x00, 0xa1, 0x01,
	0x85, 0x01,
	0x15, 0x00, 0x25, 0xff,
	0x75, 0x08, 0x95, 0x01,
	0x81, 0x02,
	0xc0,
}

func TestParseReportIDReservesPrefixByte(t *testing.T) {
	rt, err := parseReportDescriptor(mouseClickReportDesc)

	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !rt.hasReportIDs {
		t.Fatalf("descriptor carries a Report ID item")
	}

	rec, ok := rt.lookup(ReportInput, 1)
	if !ok {
		t.Fatalf("want a record for Report ID 1")
	}
	// 8 data bits rounds to 1 byte, plus the reserved ID prefix byte.
	if rec.byteSize != 2 {
		t.Fatalf("byteSize = %d, want 2", rec.byteSize)
	}
	if rec.buf[0] != 1 {
		t.Fatalf("buf[0] = %d, want the Report ID (1)", rec.buf[0])
	}
}

func TestParseUnclosedCollectionFails(t *testing.T) {
	desc := []byte{0x05, 0x01, 0x09, 0x06, 0xa1, 0x01}

	_, err := parseReportDescriptor(desc)

	if err == nil {
		t.Fatalf("want error for unclosed collection")
	}
	if kind, _ := usberr.Of(err); kind != usberr.ReportInvalid {
		t.Fatalf("kind = %v, want ReportInvalid", kind)
	}
}

func TestParseUnmatchedEndCollectionFails(t *testing.T) {
	desc := []byte{0xc0}

	_, err := parseReportDescriptor(desc)

	if err == nil {
		t.Fatalf("want error for unmatched End Collection")
	}
}

func TestParsePushPopStackOverflowFails(t *testing.T) {
	desc := make([]byte, 0, 2*(maxPushPop+1)+1)
	for i := 0; i < maxPushPop+1; i++ {
		desc = append(desc, 0xa4) // Push (Global, tag 0xa, size 0)
	}
	desc = append(desc, 0xc0)

	_, err := parseReportDescriptor(desc)

	if err == nil {
		t.Fatalf("want error once the push stack exceeds maxPushPop")
	}
	if kind, _ := usberr.Of(err); kind != usberr.ReportPushPopAlloc {
		t.Fatalf("kind = %v, want ReportPushPopAlloc", kind)
	}
}

func TestIdleSetBroadcastAppliesToEveryInputReport(t *testing.T) {
	rt, err := parseReportDescriptor(bootKeyboardReportDesc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if err := rt.idleSet(0, 125); err != nil {
		t.Fatalf("idleSet(0, ...) failed: %v", err)
	}
	rate, err := rt.idleGet(0)
	if err != nil {
		t.Fatalf("idleGet(0) failed: %v", err)
	}
	if rate != 125 {
		t.Fatalf("idle rate = %d, want 125", rate)
	}
	if len(rt.idleList) != 1 {
		t.Fatalf("want the sole Input report scheduled, got %d entries", len(rt.idleList))
	}

	if err := rt.idleSet(0, 0); err != nil {
		t.Fatalf("idleSet(0, 0) failed: %v", err)
	}
	if len(rt.idleList) != 0 {
		t.Fatalf("idle rate 0 must remove the report from the schedule")
	}
}

func TestIdleGetUnknownReportIDFails(t *testing.T) {
	rt, err := parseReportDescriptor(bootKeyboardReportDesc)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if _, err := rt.idleGet(7); err == nil {
		t.Fatalf("want error for an unregistered Report ID")
	}
}
