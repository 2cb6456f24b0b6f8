// Device state machine
// https://github.com/gousbd/core

package usbd

import "fmt"

// State is one of the device lifecycle states, spec.md §4.3.
type State int

const (
	StateNone State = iota
	StateInit
	StateAttached
	StateDefault
	StateAddressed
	StateConfigured
	StateSuspended
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateInit:
		return "Init"
	case StateAttached:
		return "Attached"
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	case StateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateMachine holds the device state, remembering the pre-suspend state so a
// resume can restore it (spec.md §4.3: "Suspended -> prior state on
// resume").
type stateMachine struct {
	state        State
	beforeSuspend State
}

func (m *stateMachine) onAdd() {
	if m.state == StateNone {
		m.state = StateInit
	}
}

func (m *stateMachine) onBusActivity() {
	if m.state == StateInit {
		m.state = StateAttached
	}
}

func (m *stateMachine) onReset() {
	if m.state != StateNone {
		m.state = StateDefault
	}
}

func (m *stateMachine) onSetAddress(addr uint8) {
	if addr == 0 {
		m.state = StateDefault
		return
	}
	if m.state == StateDefault || m.state == StateAddressed {
		m.state = StateAddressed
	}
}

func (m *stateMachine) onSetConfiguration(value uint8) {
	if value == 0 {
		if m.state == StateConfigured {
			m.state = StateAddressed
		}
		return
	}
	if m.state == StateAddressed || m.state == StateConfigured {
		m.state = StateConfigured
	}
}

func (m *stateMachine) onSuspend() {
	if m.state.atLeastDefault() && m.state != StateSuspended {
		m.beforeSuspend = m.state
		m.state = StateSuspended
	}
}

func (m *stateMachine) onResume() {
	if m.state == StateSuspended {
		m.state = m.beforeSuspend
	}
}

func (m *stateMachine) onStop() {
	m.state = StateStopping
}

func (s State) atLeastDefault() bool {
	switch s {
	case StateDefault, StateAddressed, StateConfigured, StateSuspended:
		return true
	default:
		return false
	}
}
