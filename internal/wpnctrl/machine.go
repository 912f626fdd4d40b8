// Package wpnctrl implements the control state machine of one launch tube
// and its timed, cancellable power-on and launch sequences.
package wpnctrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"github.com/signalsfoundry/launch-tube-controller/timectrl"
)

// Machine timing defaults.
const (
	DefaultPowerOnCheckDelay = time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultSlice             = 100 * time.Millisecond
)

var (
	// ErrInvalidTransition is returned for a request that is not an edge of
	// the transition table from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrBusy is returned while a sequence is running or unwinding.
	ErrBusy = errors.New("state machine busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("state machine closed")
)

// ReadinessQuery reports whether the current engagement plan is ready.
type ReadinessQuery func() bool

// InterlockQuery reports whether the firing interlock is clear.
type InterlockQuery func() bool

// LaunchCompletedNotifier is called once, outside any lock, when the launch
// sequence completes.
type LaunchCompletedNotifier func(at time.Time)

// TransitionObserver is called outside the lock after every committed
// transition.
type TransitionObserver func(tube int, from, to weapon.ControlState)

// Config holds the tube identity and the sequence timing.
type Config struct {
	Tube  int
	Kind  weapon.Kind
	Steps []weapon.LaunchStep

	// PowerOnCheckDelay is the POWER_ON_CHECK duration. Zero enters ON
	// directly.
	PowerOnCheckDelay time.Duration
	// PollInterval is the auto-RTL poll period.
	PollInterval time.Duration
	// Slice bounds every sequence sleep so cancellation lands within one
	// slice.
	Slice time.Duration
	Clock timectrl.Clock
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTransitionObserver adds an observer.
func WithTransitionObserver(fn TransitionObserver) Option {
	return func(m *Machine) {
		if fn != nil {
			m.observers = append(m.observers, fn)
		}
	}
}

// Status is a point-in-time view of the machine.
type Status struct {
	Tube         int                 `json:"tube" msgpack:"tube"`
	State        weapon.ControlState `json:"state" msgpack:"state"`
	PoweredOn    bool                `json:"powered_on" msgpack:"powered_on"`
	SincePowerOn time.Duration       `json:"since_power_on" msgpack:"since_power_on"`
}

// sequence is the single active-sequence slot.
type sequence struct {
	name   string
	cancel chan struct{}
	// done closes when the worker goroutine exits.
	done chan struct{}
	// settled closes once the machine has committed the state that ends the
	// sequence, whether by completion or by cancellation.
	settled chan struct{}
}

type transition struct {
	from, to weapon.ControlState
}

// Machine is the control state machine of one tube. All state lives under
// mu; readiness and interlock queries and observers run with mu released.
type Machine struct {
	cfg       Config
	ready     ReadinessQuery
	interlock InterlockQuery
	notify    LaunchCompletedNotifier
	log       logging.Logger
	observers []TransitionObserver

	fsm *stateless.StateMachine

	mu          sync.Mutex
	state       weapon.ControlState
	gen         uint64
	poweredOn   bool
	poweredOnAt time.Time
	seq         *sequence
	unwinding   bool
	closed      bool
}

// New returns a machine in OFF.
func New(cfg Config, ready ReadinessQuery, interlock InterlockQuery, notify LaunchCompletedNotifier, opts ...Option) (*Machine, error) {
	if ready == nil || interlock == nil || notify == nil {
		return nil, errors.New("wpnctrl: readiness, interlock and launch notifier are required")
	}
	if cfg.PowerOnCheckDelay < 0 {
		return nil, fmt.Errorf("wpnctrl: negative power-on check delay %v", cfg.PowerOnCheckDelay)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Slice <= 0 {
		cfg.Slice = DefaultSlice
	}
	if cfg.Clock == nil {
		cfg.Clock = timectrl.Real()
	}
	cfg.Steps = append([]weapon.LaunchStep(nil), cfg.Steps...)

	m := &Machine{
		cfg:       cfg,
		ready:     ready,
		interlock: interlock,
		notify:    notify,
		log:       logging.Noop(),
		state:     weapon.StateOff,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.fsm = m.newStateMachine()
	m.log = m.log.With(logging.Int("tube", cfg.Tube), logging.String("kind", cfg.Kind.String()))
	return m, nil
}

// State returns the current control state.
func (m *Machine) State() weapon.ControlState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current state and power-on time.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Tube: m.cfg.Tube, State: m.state, PoweredOn: m.poweredOn}
	if m.poweredOn {
		st.SincePowerOn = m.cfg.Clock.Now().Sub(m.poweredOnAt)
	}
	return st
}

// RequestStateChange asks for an operator transition to target.
func (m *Machine) RequestStateChange(target weapon.ControlState) error {
	if target == weapon.StateAbort {
		return m.Abort()
	}
	if target == weapon.StatePostLaunch {
		return fmt.Errorf("%w: %s is entered only by launch completion", ErrInvalidTransition, target)
	}

	// Readiness is evaluated before the state lock is taken.
	rtlOK := false
	if target == weapon.StateReadyToLaunch {
		rtlOK = m.ready() && m.interlock()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	from := m.state
	if from == target {
		m.mu.Unlock()
		return nil
	}
	if m.unwinding {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.seq != nil {
		if from == weapon.StatePowerOnCheck && target == weapon.StateOff {
			return m.cancelAndCommit(triggerOff)
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %s sequence running", ErrBusy, m.seqName())
	}
	if !Requestable(from, target) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	tr, err := m.fire(operatorTriggers[target], rtlOK)
	if err != nil {
		m.mu.Unlock()
		if target == weapon.StateReadyToLaunch {
			return fmt.Errorf("%w: plan not ready or interlock set", ErrInvalidTransition)
		}
		return err
	}
	m.mu.Unlock()
	m.publish(tr)
	return nil
}

// Abort cancels any running sequence, waits for it to unwind and commits
// ABORT. It is rejected only from POST_LAUNCH.
func (m *Machine) Abort() error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		switch m.state {
		case weapon.StatePostLaunch:
			m.mu.Unlock()
			return fmt.Errorf("%w: weapon already launched", ErrInvalidTransition)
		case weapon.StateAbort:
			m.mu.Unlock()
			return nil
		}
		if m.unwinding {
			settled := m.seq.settled
			m.mu.Unlock()
			<-settled
			continue
		}
		if m.seq != nil {
			return m.cancelAndCommit(triggerAbort)
		}
		tr, err := m.fire(triggerAbort)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		m.publish(tr)
		return nil
	}
}

// Close cancels and joins any sequence, committing ABORT if one was running.
// Later requests fail with ErrClosed.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if m.unwinding {
		settled := m.seq.settled
		m.mu.Unlock()
		<-settled
		m.mu.Lock()
	}
	m.closed = true
	if m.seq == nil {
		m.mu.Unlock()
		return nil
	}
	return m.cancelAndCommit(triggerAbort)
}

// Run polls readiness and interlock every PollInterval and moves between ON
// and READY_TO_LAUNCH accordingly. It returns when ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	loop := timectrl.NewLoop(m.cfg.Clock, m.cfg.PollInterval)
	loop.AddListener(func(context.Context, time.Time) { m.poll() })
	return loop.Run(ctx)
}

func (m *Machine) poll() {
	m.mu.Lock()
	if m.closed || m.unwinding || m.seq != nil {
		m.mu.Unlock()
		return
	}
	st, gen := m.state, m.gen
	m.mu.Unlock()
	if st != weapon.StateOn && st != weapon.StateReadyToLaunch {
		return
	}

	ok := m.ready() && m.interlock()

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	var (
		tr  transition
		err error
	)
	switch {
	case st == weapon.StateOn && ok:
		tr, err = m.fire(triggerReady, true)
	case st == weapon.StateReadyToLaunch && !ok:
		tr, err = m.fire(triggerPowerOn)
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Warn(context.Background(), "auto transition rejected", logging.Err(err))
		return
	}
	if tr.from != tr.to {
		m.publish(tr)
	}
}

// cancelAndCommit cancels the active sequence, joins it and fires t.
// Caller holds mu with m.seq set; mu is released on return.
func (m *Machine) cancelAndCommit(t trigger) error {
	seq := m.seq
	m.unwinding = true
	close(seq.cancel)
	m.mu.Unlock()

	<-seq.done

	m.mu.Lock()
	m.seq = nil
	m.unwinding = false
	tr, err := m.fire(t)
	close(seq.settled)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.log.Info(context.Background(), "sequence cancelled", logging.String("sequence", seq.name), logging.String("state", tr.to.String()))
	m.publish(tr)
	return nil
}

// fire takes the edge that t selects from the current state. Caller holds
// mu. Entry actions run inside the call.
func (m *Machine) fire(t trigger, args ...any) (transition, error) {
	from := m.state
	if err := m.fsm.FireCtx(context.Background(), t, args...); err != nil {
		return transition{}, fmt.Errorf("%w: %s on %s: %v", ErrInvalidTransition, from, t, err)
	}
	return transition{from: from, to: m.state}, nil
}

func (m *Machine) seqName() string {
	if m.seq == nil {
		return ""
	}
	return m.seq.name
}

func (m *Machine) publish(tr transition) {
	m.log.Info(context.Background(), "control state changed",
		logging.String("from", tr.from.String()),
		logging.String("to", tr.to.String()),
	)
	for _, fn := range m.observers {
		fn(m.cfg.Tube, tr.from, tr.to)
	}
}

// start fills the sequence slot and launches the worker. Caller holds mu.
func (m *Machine) start(name string, steps []weapon.LaunchStep, done trigger) {
	seq := &sequence{
		name:    name,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	m.seq = seq
	go m.runSequence(seq, steps, done)
}

func (m *Machine) runSequence(seq *sequence, steps []weapon.LaunchStep, done trigger) {
	defer close(seq.done)

	for _, st := range steps {
		m.log.Debug(context.Background(), "sequence step",
			logging.String("sequence", seq.name),
			logging.String("step", st.Description),
			logging.Duration("duration", st.Duration),
		)
		if !m.sleep(seq.cancel, st.Duration) {
			return
		}
	}

	m.mu.Lock()
	select {
	case <-seq.cancel:
		m.mu.Unlock()
		return
	default:
	}
	m.seq = nil
	tr, err := m.fire(done)
	at := m.cfg.Clock.Now()
	close(seq.settled)
	m.mu.Unlock()
	if err != nil {
		m.log.Error(context.Background(), "sequence completion rejected", logging.String("sequence", seq.name), logging.Err(err))
		return
	}

	m.publish(tr)
	if tr.to == weapon.StatePostLaunch {
		m.notify(at)
	}
}

// sleep waits d in slices, returning false as soon as cancel closes.
func (m *Machine) sleep(cancel <-chan struct{}, d time.Duration) bool {
	for d > 0 {
		s := min(m.cfg.Slice, d)
		select {
		case <-cancel:
			return false
		case <-m.cfg.Clock.After(s):
		}
		d -= s
	}
	select {
	case <-cancel:
		return false
	default:
		return true
	}
}
