package weapon

import (
	"fmt"
	"strings"
)

// ControlState is the lifecycle state of a tube's weapon.
type ControlState int

const (
	StateOff ControlState = iota
	StatePowerOnCheck
	StateOn
	StateReadyToLaunch
	StateLaunch
	StatePostLaunch
	StateAbort
)

var stateNames = [...]string{
	StateOff:           "OFF",
	StatePowerOnCheck:  "POWER_ON_CHECK",
	StateOn:            "ON",
	StateReadyToLaunch: "READY_TO_LAUNCH",
	StateLaunch:        "LAUNCH",
	StatePostLaunch:    "POST_LAUNCH",
	StateAbort:         "ABORT",
}

// States lists every control state in ordinal order.
func States() []ControlState {
	return []ControlState{StateOff, StatePowerOnCheck, StateOn, StateReadyToLaunch, StateLaunch, StatePostLaunch, StateAbort}
}

func (s ControlState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ControlState(%d)", int(s))
}

// Launching reports whether the weapon has committed to leaving the tube.
func (s ControlState) Launching() bool {
	return s == StateLaunch || s == StatePostLaunch
}

// ParseControlState parses a state name. RTL is accepted for READY_TO_LAUNCH.
func ParseControlState(s string) (ControlState, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "RTL" {
		return StateReadyToLaunch, nil
	}
	for i, n := range stateNames {
		if n == name {
			return ControlState(i), nil
		}
	}
	return StateOff, fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s ControlState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ControlState) UnmarshalText(b []byte) error {
	parsed, err := ParseControlState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
