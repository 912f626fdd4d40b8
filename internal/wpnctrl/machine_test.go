package wpnctrl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"github.com/signalsfoundry/launch-tube-controller/timectrl"
)

type harness struct {
	ready     atomic.Bool
	interlock atomic.Bool

	mu       sync.Mutex
	launches []time.Time
	seen     []transition
}

func newHarness() *harness {
	h := &harness{}
	h.interlock.Store(true)
	return h
}

func (h *harness) notify(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launches = append(h.launches, at)
}

func (h *harness) observe(_ int, from, to weapon.ControlState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, transition{from: from, to: to})
}

func (h *harness) launchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.launches)
}

func (h *harness) machine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	if cfg.Tube == 0 {
		cfg.Tube = 1
	}
	m, err := New(cfg, h.ready.Load, h.interlock.Load, h.notify, WithTransitionObserver(h.observe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitState(t *testing.T, m *Machine, want weapon.ControlState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", m.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForWaiter(t *testing.T, c *timectrl.ManualClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no goroutine parked on the clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func launchSteps(d time.Duration) []weapon.LaunchStep {
	return weapon.LaunchSequence(weapon.KindMine, weapon.Spec{LaunchDelay: d})
}

func TestNewRequiresCollaborators(t *testing.T) {
	h := newHarness()
	if _, err := New(Config{}, nil, h.interlock.Load, h.notify); err == nil {
		t.Fatalf("New accepted a nil readiness query")
	}
	if _, err := New(Config{}, h.ready.Load, nil, h.notify); err == nil {
		t.Fatalf("New accepted a nil interlock query")
	}
	if _, err := New(Config{}, h.ready.Load, h.interlock.Load, nil); err == nil {
		t.Fatalf("New accepted a nil notifier")
	}
}

func TestRequestableTable(t *testing.T) {
	want := map[weapon.ControlState][]weapon.ControlState{
		weapon.StateOff:           {weapon.StatePowerOnCheck, weapon.StateOn, weapon.StateAbort},
		weapon.StatePowerOnCheck:  {weapon.StateOff, weapon.StateAbort},
		weapon.StateOn:            {weapon.StateReadyToLaunch, weapon.StateOff, weapon.StateAbort},
		weapon.StateReadyToLaunch: {weapon.StateOn, weapon.StateLaunch, weapon.StateOff, weapon.StateAbort},
		weapon.StateLaunch:        {weapon.StateAbort},
		weapon.StatePostLaunch:    {weapon.StateOff},
		weapon.StateAbort:         {weapon.StateOff},
	}
	for _, from := range weapon.States() {
		allowed := map[weapon.ControlState]bool{}
		for _, to := range want[from] {
			allowed[to] = true
		}
		for _, to := range weapon.States() {
			if got := Requestable(from, to); got != allowed[to] {
				t.Fatalf("Requestable(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
	if !Allowed(weapon.StateLaunch, weapon.StatePostLaunch) || Requestable(weapon.StateLaunch, weapon.StatePostLaunch) {
		t.Fatalf("LAUNCH -> POST_LAUNCH must be an internal edge")
	}
}

// driveTo puts a fresh machine with zero delays into s.
func driveTo(t *testing.T, h *harness, s weapon.ControlState) *Machine {
	t.Helper()
	m := h.machine(t, Config{})
	path := map[weapon.ControlState][]weapon.ControlState{
		weapon.StateOff:           nil,
		weapon.StateOn:            {weapon.StateOn},
		weapon.StateReadyToLaunch: {weapon.StateOn, weapon.StateReadyToLaunch},
		weapon.StatePostLaunch:    {weapon.StateOn, weapon.StateReadyToLaunch, weapon.StateLaunch},
		weapon.StateAbort:         {weapon.StateAbort},
	}
	h.ready.Store(true)
	for _, step := range path[s] {
		if err := m.RequestStateChange(step); err != nil {
			t.Fatalf("drive to %s: request %s: %v", s, step, err)
		}
	}
	waitState(t, m, s)
	h.ready.Store(false)
	return m
}

func TestIllegalRequestsLeaveStateUnchanged(t *testing.T) {
	for _, from := range []weapon.ControlState{weapon.StateOff, weapon.StateOn, weapon.StateReadyToLaunch, weapon.StatePostLaunch, weapon.StateAbort} {
		for _, to := range weapon.States() {
			if to == from || Requestable(from, to) {
				continue
			}
			h := newHarness()
			m := driveTo(t, h, from)
			err := m.RequestStateChange(to)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: err = %v, want ErrInvalidTransition", from, to, err)
			}
			if got := m.State(); got != from {
				t.Fatalf("%s -> %s: state changed to %s", from, to, got)
			}
		}
	}
}

func TestSameStateRequestIsNoop(t *testing.T) {
	h := newHarness()
	m := driveTo(t, h, weapon.StateOn)
	before := len(h.seen)
	if err := m.RequestStateChange(weapon.StateOn); err != nil {
		t.Fatalf("ON -> ON: %v", err)
	}
	if len(h.seen) != before {
		t.Fatalf("no-op request committed a transition")
	}
}

func TestPowerOnCheckCompletesIntoOn(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	h := newHarness()
	m := h.machine(t, Config{PowerOnCheckDelay: time.Second, Slice: 100 * time.Millisecond, Clock: clock})

	if err := m.RequestStateChange(weapon.StateOn); err != nil {
		t.Fatalf("OFF -> ON: %v", err)
	}
	if got := m.State(); got != weapon.StatePowerOnCheck {
		t.Fatalf("state = %s, want POWER_ON_CHECK", got)
	}
	if err := m.RequestStateChange(weapon.StateReadyToLaunch); !errors.Is(err, ErrBusy) {
		t.Fatalf("request during power-on check err = %v, want ErrBusy", err)
	}

	for i := 0; i < 10; i++ {
		waitForWaiter(t, clock)
		clock.Advance(100 * time.Millisecond)
	}
	waitState(t, m, weapon.StateOn)

	clock.Advance(5 * time.Second)
	st := m.Status()
	if !st.PoweredOn || st.SincePowerOn != 5*time.Second {
		t.Fatalf("status = %+v, want powered on for 5s", st)
	}
}

func TestOffDuringPowerOnCheckCancels(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	h := newHarness()
	m := h.machine(t, Config{PowerOnCheckDelay: time.Second, Clock: clock})

	if err := m.RequestStateChange(weapon.StatePowerOnCheck); err != nil {
		t.Fatalf("OFF -> POWER_ON_CHECK: %v", err)
	}
	waitForWaiter(t, clock)
	if err := m.RequestStateChange(weapon.StateOff); err != nil {
		t.Fatalf("POWER_ON_CHECK -> OFF: %v", err)
	}
	if got := m.State(); got != weapon.StateOff {
		t.Fatalf("state = %s, want OFF", got)
	}

	clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := m.State(); got != weapon.StateOff {
		t.Fatalf("cancelled check still settled in %s", got)
	}
	if m.Status().PoweredOn {
		t.Fatalf("powered on after cancelled check")
	}
}

func TestReadyToLaunchNeedsReadinessAndInterlock(t *testing.T) {
	h := newHarness()
	m := driveTo(t, h, weapon.StateOn)

	if err := m.RequestStateChange(weapon.StateReadyToLaunch); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("RTL with plan not ready err = %v", err)
	}
	h.ready.Store(true)
	h.interlock.Store(false)
	if err := m.RequestStateChange(weapon.StateReadyToLaunch); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("RTL with interlock set err = %v", err)
	}
	h.interlock.Store(true)
	if err := m.RequestStateChange(weapon.StateReadyToLaunch); err != nil {
		t.Fatalf("RTL: %v", err)
	}
}

func TestLaunchCompletesAndNotifiesOnce(t *testing.T) {
	h := newHarness()
	m := h.machine(t, Config{Steps: launchSteps(40 * time.Millisecond), Slice: 5 * time.Millisecond})
	h.ready.Store(true)
	for _, s := range []weapon.ControlState{weapon.StateOn, weapon.StateReadyToLaunch, weapon.StateLaunch} {
		if err := m.RequestStateChange(s); err != nil {
			t.Fatalf("request %s: %v", s, err)
		}
	}
	if err := m.RequestStateChange(weapon.StateOff); !errors.Is(err, ErrBusy) {
		t.Fatalf("OFF during launch err = %v, want ErrBusy", err)
	}

	waitState(t, m, weapon.StatePostLaunch)
	deadline := time.Now().Add(time.Second)
	for h.launchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := h.launchCount(); got != 1 {
		t.Fatalf("launch notifications = %d, want 1", got)
	}

	if err := m.Abort(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("abort after launch err = %v, want ErrInvalidTransition", err)
	}
	if err := m.RequestStateChange(weapon.StatePostLaunch); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("POST_LAUNCH request err = %v", err)
	}
	if err := m.RequestStateChange(weapon.StateOff); err != nil {
		t.Fatalf("POST_LAUNCH -> OFF: %v", err)
	}
	if got := h.launchCount(); got != 1 {
		t.Fatalf("launch notifications = %d after OFF, want 1", got)
	}
}

func TestAbortDuringLaunchUnwindsWithinSlice(t *testing.T) {
	h := newHarness()
	slice := 20 * time.Millisecond
	m := h.machine(t, Config{Steps: launchSteps(10 * time.Second), Slice: slice})
	h.ready.Store(true)
	for _, s := range []weapon.ControlState{weapon.StateOn, weapon.StateReadyToLaunch, weapon.StateLaunch} {
		if err := m.RequestStateChange(s); err != nil {
			t.Fatalf("request %s: %v", s, err)
		}
	}
	time.Sleep(3 * slice)

	start := time.Now()
	if err := m.RequestStateChange(weapon.StateAbort); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if took := time.Since(start); took > 10*slice {
		t.Fatalf("abort took %v, want about one slice", took)
	}
	if got := m.State(); got != weapon.StateAbort {
		t.Fatalf("state = %s, want ABORT", got)
	}
	time.Sleep(3 * slice)
	if h.launchCount() != 0 {
		t.Fatalf("aborted launch notified completion")
	}
	if err := m.Abort(); err != nil {
		t.Fatalf("second abort: %v", err)
	}
	if err := m.RequestStateChange(weapon.StateOff); err != nil {
		t.Fatalf("ABORT -> OFF: %v", err)
	}
}

func TestAbortFromEveryPreLaunchState(t *testing.T) {
	for _, from := range []weapon.ControlState{weapon.StateOff, weapon.StateOn, weapon.StateReadyToLaunch} {
		h := newHarness()
		m := driveTo(t, h, from)
		if err := m.Abort(); err != nil {
			t.Fatalf("abort from %s: %v", from, err)
		}
		if got := m.State(); got != weapon.StateAbort {
			t.Fatalf("abort from %s: state = %s", from, got)
		}
	}
}

func TestAutoReadyToLaunchRoundTrip(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	h := newHarness()
	m := h.machine(t, Config{PollInterval: 100 * time.Millisecond, Clock: clock})
	if err := m.RequestStateChange(weapon.StateOn); err != nil {
		t.Fatalf("OFF -> ON: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	poll := func(want weapon.ControlState) {
		t.Helper()
		waitForWaiter(t, clock)
		clock.Advance(100 * time.Millisecond)
		waitState(t, m, want)
	}

	poll(weapon.StateOn)
	h.ready.Store(true)
	poll(weapon.StateReadyToLaunch)
	h.interlock.Store(false)
	poll(weapon.StateOn)
	h.interlock.Store(true)
	poll(weapon.StateReadyToLaunch)
	h.ready.Store(false)
	poll(weapon.StateOn)
}

func TestCloseCancelsSequence(t *testing.T) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	h := newHarness()
	m := h.machine(t, Config{PowerOnCheckDelay: time.Minute, Clock: clock})
	if err := m.RequestStateChange(weapon.StateOn); err != nil {
		t.Fatalf("OFF -> ON: %v", err)
	}
	waitForWaiter(t, clock)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := m.State(); got != weapon.StateAbort {
		t.Fatalf("state after Close = %s, want ABORT", got)
	}
	if err := m.RequestStateChange(weapon.StateOff); !errors.Is(err, ErrClosed) {
		t.Fatalf("request after Close err = %v, want ErrClosed", err)
	}
}

func TestObserverSeesEveryTransition(t *testing.T) {
	h := newHarness()
	m := driveTo(t, h, weapon.StateReadyToLaunch)
	if err := m.RequestStateChange(weapon.StateOff); err != nil {
		t.Fatalf("RTL -> OFF: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	want := []transition{
		{weapon.StateOff, weapon.StateOn},
		{weapon.StateOn, weapon.StateReadyToLaunch},
		{weapon.StateReadyToLaunch, weapon.StateOff},
	}
	if len(h.seen) != len(want) {
		t.Fatalf("observed %v, want %v", h.seen, want)
	}
	for i := range want {
		if h.seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", h.seen, want)
		}
	}
}

func TestInternalTriggersStayInternal(t *testing.T) {
	for to, trg := range operatorTriggers {
		if trg == triggerCheckPassed || trg == triggerLaunched {
			t.Fatalf("target %s maps to internal trigger %s", to, trg)
		}
	}

	h := newHarness()
	m := driveTo(t, h, weapon.StateReadyToLaunch)
	m.mu.Lock()
	_, err := m.fire(triggerLaunched)
	st := m.state
	m.mu.Unlock()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("launched from READY_TO_LAUNCH err = %v, want ErrInvalidTransition", err)
	}
	if st != weapon.StateReadyToLaunch {
		t.Fatalf("state = %s after rejected trigger", st)
	}
}

func TestReadyGuardOnTheGraph(t *testing.T) {
	h := newHarness()
	m := driveTo(t, h, weapon.StateOn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.fire(triggerReady, false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ready with guard false err = %v", err)
	}
	if _, err := m.fire(triggerReady); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ready without argument err = %v", err)
	}
	if m.state != weapon.StateOn {
		t.Fatalf("state = %s, want ON", m.state)
	}
	tr, err := m.fire(triggerReady, true)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if tr.from != weapon.StateOn || tr.to != weapon.StateReadyToLaunch {
		t.Fatalf("transition = %+v", tr)
	}
}
