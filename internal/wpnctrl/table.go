package wpnctrl

import (
	"context"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// trigger names a state machine event. Operator triggers are fired by
// RequestStateChange; the others only by the machine itself.
type trigger string

const (
	triggerPowerOnCheck trigger = "power_on_check"
	triggerPowerOn      trigger = "power_on"
	triggerReady        trigger = "ready"
	triggerLaunch       trigger = "launch"
	triggerOff          trigger = "off"
	triggerAbort        trigger = "abort"

	// internal
	triggerCheckPassed trigger = "check_passed"
	triggerLaunched    trigger = "launched"
)

// operatorTriggers maps a requested target state to the trigger that asks
// for it. ABORT and POST_LAUNCH are absent on purpose.
var operatorTriggers = map[weapon.ControlState]trigger{
	weapon.StatePowerOnCheck:  triggerPowerOnCheck,
	weapon.StateOn:            triggerPowerOn,
	weapon.StateReadyToLaunch: triggerReady,
	weapon.StateLaunch:        triggerLaunch,
	weapon.StateOff:           triggerOff,
}

type guard int

const (
	guardNone guard = iota
	// guardDelayed holds when the power-on check takes time.
	guardDelayed
	// guardImmediate holds when the power-on check delay is zero.
	guardImmediate
	// guardReady holds when the first fire argument is true.
	guardReady
)

type edge struct {
	from    weapon.ControlState
	trigger trigger
	to      weapon.ControlState
	guard   guard
}

// edges lists every transition except ABORT, which CanAbort covers.
var edges = []edge{
	{weapon.StateOff, triggerPowerOnCheck, weapon.StatePowerOnCheck, guardDelayed},
	{weapon.StateOff, triggerPowerOnCheck, weapon.StateOn, guardImmediate},
	{weapon.StateOff, triggerPowerOn, weapon.StatePowerOnCheck, guardDelayed},
	{weapon.StateOff, triggerPowerOn, weapon.StateOn, guardImmediate},

	{weapon.StatePowerOnCheck, triggerCheckPassed, weapon.StateOn, guardNone},
	{weapon.StatePowerOnCheck, triggerOff, weapon.StateOff, guardNone},

	{weapon.StateOn, triggerReady, weapon.StateReadyToLaunch, guardReady},
	{weapon.StateOn, triggerOff, weapon.StateOff, guardNone},

	{weapon.StateReadyToLaunch, triggerPowerOn, weapon.StateOn, guardNone},
	{weapon.StateReadyToLaunch, triggerLaunch, weapon.StateLaunch, guardNone},
	{weapon.StateReadyToLaunch, triggerOff, weapon.StateOff, guardNone},

	{weapon.StateLaunch, triggerLaunched, weapon.StatePostLaunch, guardNone},

	{weapon.StatePostLaunch, triggerOff, weapon.StateOff, guardNone},
	{weapon.StateAbort, triggerOff, weapon.StateOff, guardNone},
}

// Allowed reports whether from -> to is an edge, internal or not.
func Allowed(from, to weapon.ControlState) bool {
	if to == weapon.StateAbort {
		return CanAbort(from)
	}
	for _, e := range edges {
		if e.from == from && e.to == to {
			return true
		}
	}
	return false
}

// Requestable reports whether an operator may ask for from -> to.
func Requestable(from, to weapon.ControlState) bool {
	if to == weapon.StateAbort {
		return CanAbort(from)
	}
	t, ok := operatorTriggers[to]
	if !ok {
		return false
	}
	for _, e := range edges {
		if e.from == from && e.trigger == t && e.to == to {
			return true
		}
	}
	return false
}

// CanAbort reports whether ABORT may be entered from s.
func CanAbort(s weapon.ControlState) bool {
	return s != weapon.StatePostLaunch && s != weapon.StateAbort
}

// newStateMachine builds the transition graph over m.state. The accessor
// and mutator touch m.state without locking: every fire happens with m.mu
// held.
func (m *Machine) newStateMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) {
			return m.state, nil
		},
		func(_ context.Context, s stateless.State) error {
			m.state = s.(weapon.ControlState)
			m.gen++
			return nil
		},
		stateless.FiringImmediate,
	)

	for _, e := range edges {
		cfg := sm.Configure(e.from)
		if g := m.guardFunc(e.guard); g != nil {
			cfg.Permit(e.trigger, e.to, g)
		} else {
			cfg.Permit(e.trigger, e.to)
		}
	}
	for _, s := range weapon.States() {
		if CanAbort(s) {
			sm.Configure(s).Permit(triggerAbort, weapon.StateAbort)
		}
	}

	sm.Configure(weapon.StatePowerOnCheck).OnEntry(func(context.Context, ...any) error {
		steps := []weapon.LaunchStep{{Description: "power-on check", Duration: m.cfg.PowerOnCheckDelay}}
		m.start("power-on check", steps, triggerCheckPassed)
		return nil
	})
	sm.Configure(weapon.StateOn).OnEntry(func(context.Context, ...any) error {
		if !m.poweredOn {
			m.poweredOn = true
			m.poweredOnAt = m.cfg.Clock.Now()
		}
		return nil
	})
	sm.Configure(weapon.StateLaunch).OnEntry(func(context.Context, ...any) error {
		m.start("launch", m.cfg.Steps, triggerLaunched)
		return nil
	})
	sm.Configure(weapon.StateOff).OnEntry(func(context.Context, ...any) error {
		m.poweredOn = false
		m.poweredOnAt = time.Time{}
		return nil
	})
	return sm
}

func (m *Machine) guardFunc(g guard) func(context.Context, ...any) bool {
	switch g {
	case guardDelayed:
		return func(context.Context, ...any) bool { return m.cfg.PowerOnCheckDelay > 0 }
	case guardImmediate:
		return func(context.Context, ...any) bool { return m.cfg.PowerOnCheckDelay == 0 }
	case guardReady:
		return func(_ context.Context, args ...any) bool {
			if len(args) == 0 {
				return false
			}
			ok, _ := args[0].(bool)
			return ok
		}
	}
	return nil
}
