// HID report descriptor parser
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hid implements the HID class core (spec.md §4.9): a report
// descriptor parser that sizes per-Report-ID buffers, an idle-rate
// scheduler for the interrupt-IN endpoint, and the GET/SET_REPORT,
// GET/SET_IDLE and GET/SET_PROTOCOL control requests. It plugs into the
// core via class.Driver the same way any other functional class would.
package hid

import (
	"fmt"

	"github.com/gousbd/core/usberr"
)

// ReportType distinguishes the three HID report kinds, matching the
// wValue high byte of GET/SET_REPORT (HID 1.11 §7.2.1).
type ReportType uint8

const (
	ReportInput   ReportType = 1
	ReportOutput  ReportType = 2
	ReportFeature ReportType = 3
)

// maxPushPop bounds the Push/Pop global-item stack depth, matching the
// original's fixed-size item table.
const maxPushPop = 8

// reportID is one allocated Report-ID record: numeric ID, the type it
// belongs to, its accumulated size, and the buffer the class driver
// reads/writes through. Input records own a private buffer; Output and
// Feature records share one buffer per type, sized to the largest
// report of that type (spec.md §4.9 "Buffers").
type reportID struct {
	id       uint8
	typ      ReportType
	bitSize  int
	byteSize int
	buf      []byte

	idleRate  uint8 // 4ms units, 0 = infinite (never auto-resend)
	idleCount uint8
	updated   bool // idleSet changed the rate mid-countdown; reload on next tick
}

// reportTable is the parsed result of one report descriptor: every
// allocated Report-ID record, grouped and sized per type, plus the
// subset of Input records currently on the idle-resend schedule.
type reportTable struct {
	hasReportIDs bool
	byType       [4][]*reportID // indexed by ReportType 1..3
	maxSize      [4]int         // largest byteSize seen per type
	sharedBuf    [4][]byte      // Output/Feature backing storage per type

	idleList []*reportID // Input records with idleRate != 0
}

func (t *reportTable) lookup(typ ReportType, id uint8) (*reportID, bool) {
	for _, r := range t.byType[typ] {
		if r.id == id {
			return r, true
		}
	}
	return nil, false
}

func (t *reportTable) alloc(typ ReportType, id uint8) *reportID {
	if r, ok := t.lookup(typ, id); ok {
		return r
	}
	r := &reportID{id: id, typ: typ}
	t.byType[typ] = append(t.byType[typ], r)
	return r
}

// item encoding (HID 1.11 §6.2.2.2): prefix byte is bSize(2)|bType(2)|bTag(4).
const (
	itemTypeMain   = 0
	itemTypeGlobal = 1
	itemTypeLocal  = 2

	tagInput        = 0x8
	tagOutput       = 0x9
	tagCollection   = 0xa
	tagFeature      = 0xb
	tagEndCollection = 0xc

	tagReportSize    = 0x7
	tagReportID      = 0x8
	tagReportCount   = 0x9
	tagPush          = 0xa
	tagPop           = 0xb

	longItemPrefix = 0xfe
)

// globalState is the subset of the global item stack this parser cares
// about: enough to size Main items, not to validate the descriptor's
// usage semantics.
type globalState struct {
	reportID    uint8
	reportSize  int
	reportCount int
}

func itemPayloadLen(prefix uint8) int {
	switch prefix & 0x03 {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 4
	}
}

func decodeUint(b []byte) uint32 {
	var v uint32
	for i, c := range b {
		v |= uint32(c) << (8 * i)
	}
	return v
}

// parseReportDescriptor walks desc and returns the sized, buffer-backed
// Report-ID table, per spec.md §4.9's "Report parser". It fails on a Pop
// with an empty stack, a stack deeper than maxPushPop, an End Collection
// with no matching Collection, an unclosed Collection, or a truncated
// item payload.
func parseReportDescriptor(desc []byte) (*reportTable, error) {
	const op = "hid.parseReportDescriptor"

	var stack []globalState
	var cur globalState
	depth := 0
	t := &reportTable{}

	i := 0
	for i < len(desc) {
		prefix := desc[i]
		if prefix == longItemPrefix {
			if i+1 >= len(desc) {
				return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("truncated long item"))
			}
			dataLen := int(desc[i+1])
			i += 2 + dataLen + 1 // data + trailing tag byte
			if i > len(desc) {
				return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("long item runs past end of descriptor"))
			}
			continue
		}

		size := itemPayloadLen(prefix)
		typ := (prefix >> 2) & 0x03
		tag := (prefix >> 4) & 0x0f
		i++
		if i+size > len(desc) {
			return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("item runs past end of descriptor"))
		}
		val := decodeUint(desc[i : i+size])
		i += size

		switch typ {
		case itemTypeMain:
			switch tag {
			case tagInput, tagOutput, tagFeature:
				if cur.reportSize > 0 && cur.reportCount > 0 {
					rt := ReportType(3)
					switch tag {
					case tagInput:
						rt = ReportInput
					case tagOutput:
						rt = ReportOutput
					}
					rec := t.alloc(rt, cur.reportID)
					rec.bitSize += cur.reportCount * cur.reportSize
				}
			case tagCollection:
				depth++
			case tagEndCollection:
				if depth == 0 {
					return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("end collection without matching collection"))
				}
				depth--
			}

		case itemTypeGlobal:
			switch tag {
			case tagReportSize:
				cur.reportSize = int(val)
			case tagReportCount:
				cur.reportCount = int(val)
			case tagReportID:
				cur.reportID = uint8(val)
				t.hasReportIDs = true
			case tagPush:
				if len(stack) >= maxPushPop {
					return nil, usberr.E(op, usberr.ReportPushPopAlloc, fmt.Errorf("push/pop stack exhausted"))
				}
				stack = append(stack, cur)
			case tagPop:
				if len(stack) == 0 {
					return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("pop with empty stack"))
				}
				cur = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}

		case itemTypeLocal:
			// Local items (Usage, Usage Minimum/Maximum, ...) don't affect
			// report sizing and reset at the next Main item; nothing to do.
		}
	}

	if depth != 0 {
		return nil, usberr.E(op, usberr.ReportInvalid, fmt.Errorf("unclosed collection"))
	}

	t.finalize()
	return t, nil
}

// finalize rounds every record's accumulated bit length up to whole
// bytes, reserves a Report-ID prefix byte where applicable, and
// allocates backing storage (spec.md §4.9 "Buffers").
func (t *reportTable) finalize() {
	for rt := ReportInput; rt <= ReportFeature; rt++ {
		for _, r := range t.byType[rt] {
			r.byteSize = (r.bitSize + 7) / 8
			if t.hasReportIDs && r.byteSize > 0 {
				r.byteSize++
			}
			if r.byteSize > t.maxSize[rt] {
				t.maxSize[rt] = r.byteSize
			}
		}
	}

	for _, r := range t.byType[ReportInput] {
		r.buf = make([]byte, r.byteSize)
		if t.hasReportIDs && r.byteSize > 0 {
			r.buf[0] = r.id
		}
	}

	t.sharedBuf[ReportOutput] = make([]byte, t.maxSize[ReportOutput])
	t.sharedBuf[ReportFeature] = make([]byte, t.maxSize[ReportFeature])
	for _, r := range t.byType[ReportOutput] {
		r.buf = t.sharedBuf[ReportOutput][:r.byteSize]
	}
	for _, r := range t.byType[ReportFeature] {
		r.buf = t.sharedBuf[ReportFeature][:r.byteSize]
	}
}

// idleGet returns the current idle rate of the Input report id. In a
// descriptor without Report IDs the single Input report has ID 0, so 0
// finds it; in a descriptor with Report IDs, 0 matches no record and
// fails like any other unknown ID.
func (t *reportTable) idleGet(id uint8) (uint8, error) {
	r, ok := t.lookup(ReportInput, id)
	if !ok {
		return 0, usberr.E("hid.idleGet", usberr.ReportInvalid, fmt.Errorf("no Input report ID %d", id))
	}
	return r.idleRate, nil
}

// idleSet applies rate to id, or to every Input report if id is 0
// (HID 1.11 §7.2.4's idle-all-reports convention). Non-zero rates are
// added to the idle-resend schedule; a rate of 0 removes the report
// from it.
func (t *reportTable) idleSet(id uint8, rate uint8) error {
	if id == 0 {
		for _, r := range t.byType[ReportInput] {
			t.applyIdleRate(r, rate)
		}
		return nil
	}
	r, ok := t.lookup(ReportInput, id)
	if !ok {
		return usberr.E("hid.idleSet", usberr.ReportInvalid, fmt.Errorf("no Input report ID %d", id))
	}
	t.applyIdleRate(r, rate)
	return nil
}

func (t *reportTable) applyIdleRate(r *reportID, rate uint8) {
	wasScheduled := r.idleRate != 0
	r.idleRate = rate
	if rate == 0 {
		if wasScheduled {
			t.removeIdle(r)
		}
		return
	}
	r.updated = true // reload idleCount on the next tick regardless of countdown
	if !wasScheduled {
		t.idleList = append(t.idleList, r)
	}
}

func (t *reportTable) removeIdle(r *reportID) {
	for i, cur := range t.idleList {
		if cur == r {
			t.idleList[i] = t.idleList[len(t.idleList)-1]
			t.idleList = t.idleList[:len(t.idleList)-1]
			return
		}
	}
}

// removeAllIdle clears the idle-resend schedule, used on Disconnect
// (spec.md §4.9's class state machine: "Configured -> Init on disconnect
// upcall").
func (t *reportTable) removeAllIdle() {
	for _, r := range t.byType[ReportInput] {
		r.idleRate = 0
		r.updated = false
	}
	t.idleList = nil
}
