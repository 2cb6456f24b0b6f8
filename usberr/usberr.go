// USB device stack error taxonomy
// https://github.com/gousbd/core
//
// Copyright (c) The gousbd Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usberr defines the typed error kinds returned across the USB
// device stack. Every API in this module returns one of these kinds
// (wrapped with call-site context) instead of an ad hoc string, so callers
// can branch with errors.Is/errors.As instead of matching text.
package usberr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure. The numbering is not meaningful on
// the wire, it only needs to be stable within a process.
type Kind int

const (
	None Kind = iota
	Fail
	Rx
	Tx
	Alloc
	NullPtr
	InvalidArg
	InvalidClassState

	DevInvalidNbr
	DevInvalidState
	DevInvalidSpd
	DevUnavailFeat

	CfgInvalidNbr
	CfgInvalidMaxPwr
	CfgSetFail

	IfInvalidNbr
	IfAltInvalidNbr
	IfGrpNbrInUse

	EpInvalidAddr
	EpInvalidState
	EpInvalidType
	EpNoneAvail
	EpAbort
	EpStall
	EpIoPending
	EpQueuing

	OsSignalCreate
	OsFail
	OsTimeout
	OsAbort

	DrvBufOverflow
	DrvInvalidPkt

	// HID class family.
	ReportInvalid
	ReportAlloc
	ReportPushPopAlloc
)

var names = map[Kind]string{
	None:               "none",
	Fail:               "fail",
	Rx:                 "rx",
	Tx:                 "tx",
	Alloc:              "alloc",
	NullPtr:            "null pointer",
	InvalidArg:         "invalid argument",
	InvalidClassState:  "invalid class state",
	DevInvalidNbr:      "invalid device number",
	DevInvalidState:    "invalid device state",
	DevInvalidSpd:      "invalid device speed",
	DevUnavailFeat:     "unavailable device feature",
	CfgInvalidNbr:      "invalid configuration number",
	CfgInvalidMaxPwr:   "invalid maximum power",
	CfgSetFail:         "configuration set failed",
	IfInvalidNbr:       "invalid interface number",
	IfAltInvalidNbr:    "invalid alternate setting number",
	IfGrpNbrInUse:      "interface group number in use",
	EpInvalidAddr:      "invalid endpoint address",
	EpInvalidState:     "invalid endpoint state",
	EpInvalidType:      "invalid endpoint type",
	EpNoneAvail:        "no endpoint available",
	EpAbort:            "endpoint transfer aborted",
	EpStall:            "endpoint stalled",
	EpIoPending:        "endpoint I/O pending",
	EpQueuing:          "unable to queue endpoint transfer",
	OsSignalCreate:     "OS signal creation failed",
	OsFail:             "OS primitive failed",
	OsTimeout:          "timed out",
	OsAbort:            "aborted",
	DrvBufOverflow:     "driver buffer overflow",
	DrvInvalidPkt:      "driver received invalid packet",
	ReportInvalid:      "HID report descriptor invalid",
	ReportAlloc:        "HID report ID table exhausted",
	ReportPushPopAlloc: "HID report push/pop stack exhausted",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("usberr.Kind(%d)", int(k))
}

// Error is the concrete error value returned by this module's APIs. Op
// names the failing operation (e.g. "usbd.SetAddress", "hid.Rd") the way
// os.PathError names a syscall, so a log line is self-explanatory without
// needing the call stack.
type Error struct {
	Op    string
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, usberr.E("", usberr.OsTimeout, nil)) or, more commonly,
// check Kind directly via errors.As.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// E constructs an *Error. cause may be nil.
func E(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// Of returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return None, false
}
