// Package tube hosts the launch orchestrator of one weapon tube. It pairs an
// engagement engine with a control state machine and serialises every
// inbound command through a single command loop.
package tube

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/launch-tube-controller/internal/engagement"
	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/observability"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"github.com/signalsfoundry/launch-tube-controller/internal/wpnctrl"
	"github.com/signalsfoundry/launch-tube-controller/timectrl"
)

var (
	// ErrWrongTube is returned for a command addressed to another tube.
	ErrWrongTube = errors.New("command addressed to another tube")
	// ErrWeaponKindMismatch is returned when a command names a weapon kind
	// other than the one loaded in the tube.
	ErrWeaponKindMismatch = errors.New("weapon kind mismatch")
	// ErrLaunchInProgress is returned for a reassignment during LAUNCH or
	// POST_LAUNCH.
	ErrLaunchInProgress = errors.New("launch in progress")
	// ErrNotOff is returned by Unassign outside OFF.
	ErrNotOff = errors.New("weapon not off")
	// ErrNoWeapon is returned for weapon commands before an assignment.
	ErrNoWeapon = errors.New("no weapon assigned")
	// ErrUnknownTube is returned by a Fleet for a tube it does not host.
	ErrUnknownTube = errors.New("unknown tube")
	// ErrStopped is returned once the command loop has exited.
	ErrStopped = errors.New("tube orchestrator stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("tube orchestrator already running")
)

// Orchestrator defaults.
const (
	DefaultStatusInterval = time.Second
	DefaultMailboxSize    = 16
)

// Recorder receives the orchestrator's metrics. TubeCollector implements it.
type Recorder interface {
	engagement.MetricsRecorder
	IncCommand(tube int, command, result string)
	ObserveTransition(tube int, from, to weapon.ControlState)
}

type noopRecorder struct{}

func (noopRecorder) ObservePlanTick(int, time.Duration, bool)  {}
func (noopRecorder) SetPlanResult(int, bool, float64, float64) {}
func (noopRecorder) IncCommand(int, string, string)            {}

func (noopRecorder) ObserveTransition(int, weapon.ControlState, weapon.ControlState) {}

// Config describes one tube.
type Config struct {
	Tube int
	// Kind is what is physically loaded. KindNone rejects every assignment.
	Kind  weapon.Kind
	Specs map[weapon.Kind]weapon.Spec

	EngagementInterval time.Duration
	StatusInterval     time.Duration
	PollInterval       time.Duration
	Slice              time.Duration
	PlanStep           time.Duration
	TrajectoryLength   int
	MailboxSize        int
}

// Deps are the collaborators shared by the tubes of a process.
type Deps struct {
	Plans     engagement.PlanSource
	Publisher telemetry.Publisher
	Converter geo.Converter
	Clock     timectrl.Clock
	Logger    logging.Logger
	Metrics   Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLifecycleHook registers fn to be called with true when Run starts
// serving and with false when it returns.
func WithLifecycleHook(fn func(tube int, running bool)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.lifecycle = fn
		}
	}
}

// Snapshot is the Status view of a tube.
type Snapshot struct {
	Tube       int                `json:"tube"`
	Kind       weapon.Kind        `json:"kind"`
	Assigned   bool               `json:"assigned"`
	Assignment *weapon.Assignment `json:"assignment,omitempty"`
	Control    wpnctrl.Status     `json:"control"`
	Interlock  bool               `json:"interlock_clear"`
	Result     *engagement.Result `json:"result,omitempty"`
}

// workers tracks the engine and poller goroutines of one weapon.
type workers struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// weaponPair is replaced, never mutated, once published.
type weaponPair struct {
	assignment weapon.Assignment
	engine     *engagement.Engine
	machine    *wpnctrl.Machine
	workers    *workers
}

type reply struct {
	value any
	err   error
}

type command struct {
	ctx   context.Context
	fn    func(ctx context.Context) (any, error)
	reply chan reply
}

// Orchestrator is the per-tube actor. Engine and machine references change
// only inside Run's command loop.
type Orchestrator struct {
	cfg       Config
	spec      weapon.Spec
	deps      Deps
	log       logging.Logger
	lifecycle func(int, bool)

	mailbox chan command
	done    chan struct{}
	started atomic.Bool

	// pubMu orders publishes against shutdown: publish holds it shared
	// across the closing check and the Publish call.
	pubMu   sync.RWMutex
	closing bool

	interlock atomic.Bool
	current   atomic.Pointer[weaponPair]

	// Loop-owned.
	runCtx  context.Context
	ownShip *weapon.OwnShip
	zones   []weapon.NoFireZone
	tracks  map[uint32]weapon.Track
}

// New validates cfg and returns an idle orchestrator. Call Run to serve.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if cfg.Tube <= 0 {
		return nil, fmt.Errorf("tube: tube number %d", cfg.Tube)
	}
	if cfg.Kind != weapon.KindNone && !cfg.Kind.Valid() {
		return nil, fmt.Errorf("tube: %w: %s", weapon.ErrUnknownKind, cfg.Kind)
	}
	if cfg.Specs == nil {
		cfg.Specs = weapon.DefaultSpecs()
	}
	var spec weapon.Spec
	if cfg.Kind.Valid() {
		s, ok := cfg.Specs[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("tube %d: no spec for %s", cfg.Tube, cfg.Kind)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("tube %d: %w", cfg.Tube, err)
		}
		spec = s
	}
	if cfg.Kind == weapon.KindMine && deps.Plans == nil {
		return nil, fmt.Errorf("tube %d: mine tube needs a drop plan source", cfg.Tube)
	}
	if cfg.EngagementInterval <= 0 {
		cfg.EngagementInterval = engagement.DefaultUpdateInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if deps.Publisher == nil {
		deps.Publisher = telemetry.Discard
	}
	if deps.Converter == nil {
		deps.Converter = geo.FlatEarth{}
	}
	if deps.Clock == nil {
		deps.Clock = timectrl.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		spec:      spec,
		deps:      deps,
		log:       deps.Logger.With(logging.Int("tube", cfg.Tube), logging.String("kind", cfg.Kind.String())),
		lifecycle: func(int, bool) {},
		mailbox:   make(chan command, cfg.MailboxSize),
		done:      make(chan struct{}),
		tracks:    make(map[uint32]weapon.Track),
	}
	o.interlock.Store(true)
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Number returns the tube number.
func (o *Orchestrator) Number() int { return o.cfg.Tube }

// Kind returns the loaded weapon kind.
func (o *Orchestrator) Kind() weapon.Kind { return o.cfg.Kind }

// Run owns the command loop until ctx ends, then closes the state machine
// and joins every worker.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)
	o.runCtx = ctx

	var wg sync.WaitGroup
	reportCtx, stopReports := context.WithCancel(ctx)
	defer stopReports()
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.statusLoop(reportCtx)
	}()
	go func() {
		defer wg.Done()
		o.engagementLoop(reportCtx)
	}()

	o.lifecycle(o.cfg.Tube, true)
	defer o.lifecycle(o.cfg.Tube, false)
	o.log.Info(ctx, "tube orchestrator running")

	for {
		select {
		case <-ctx.Done():
			o.pubMu.Lock()
			o.closing = true
			o.pubMu.Unlock()
			stopReports()
			if p := o.current.Load(); p != nil {
				o.release(ctx, p)
			}
			wg.Wait()
			o.log.Info(context.Background(), "tube orchestrator stopped")
			return nil
		case cmd := <-o.mailbox:
			v, err := cmd.fn(cmd.ctx)
			cmd.reply <- reply{value: v, err: err}
		}
	}
}

// do runs fn inside the command loop and waits for its reply.
func (o *Orchestrator) do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := observability.StartSpan(ctx, "tube.Command/"+name, observability.TubeAttr(o.cfg.Tube))
	defer span.End()

	v, err := o.send(ctx, fn)
	o.deps.Metrics.IncCommand(o.cfg.Tube, name, commandResult(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Debug(ctx, "tube command rejected", logging.String("command", name), logging.Err(err))
	}
	return v, err
}

func (o *Orchestrator) send(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	cmd := command{ctx: ctx, fn: fn, reply: make(chan reply, 1)}
	select {
	case o.mailbox <- cmd:
	case <-o.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-cmd.reply:
		return r.value, r.err
	case <-o.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, weapon.ErrInvalidAssignment), errors.Is(err, engagement.ErrTooManyWaypoints),
		errors.Is(err, ErrWrongTube), errors.Is(err, ErrWeaponKindMismatch):
		return "invalid"
	case errors.Is(err, wpnctrl.ErrInvalidTransition), errors.Is(err, ErrNotOff),
		errors.Is(err, ErrLaunchInProgress), errors.Is(err, ErrNoWeapon):
		return "rejected"
	case errors.Is(err, wpnctrl.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}

func (o *Orchestrator) checkTube(tube int) error {
	if tube != o.cfg.Tube {
		return fmt.Errorf("%w: tube %d, this is tube %d", ErrWrongTube, tube, o.cfg.Tube)
	}
	return nil
}

func (o *Orchestrator) checkKind(kind weapon.Kind) error {
	if o.cfg.Kind == weapon.KindNone || kind != o.cfg.Kind {
		return fmt.Errorf("%w: tube %d holds %s, command names %s", ErrWeaponKindMismatch, o.cfg.Tube, o.cfg.Kind, kind)
	}
	return nil
}

// Assign applies a. The first accepted assignment creates the engine and
// state machine pair; later ones update the engine in place. An assign
// response is published either way.
func (o *Orchestrator) Assign(ctx context.Context, a weapon.Assignment) error {
	_, err := o.do(ctx, "Assign", func(ctx context.Context) (any, error) {
		err := o.assign(ctx, a)
		resp := &telemetry.AssignResponse{Assignment: a.Clone(), Accepted: err == nil}
		if err != nil {
			resp.Reason = err.Error()
		}
		o.publish(ctx, telemetry.Envelope{Type: telemetry.TypeAssign, Assign: resp})
		return nil, err
	})
	return err
}

func (o *Orchestrator) assign(ctx context.Context, a weapon.Assignment) error {
	if err := o.checkTube(a.Tube); err != nil {
		return err
	}
	if err := o.checkKind(a.Kind); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	p := o.current.Load()
	if p == nil {
		pair, err := o.newPair(ctx, a)
		if err != nil {
			return err
		}
		o.current.Store(pair)
		o.log.Info(ctx, "weapon assigned", logging.Any("assignment", a))
		return nil
	}

	if p.machine.State().Launching() {
		return fmt.Errorf("%w: %s", ErrLaunchInProgress, p.machine.State())
	}
	changed, err := p.engine.UpdateAssignment(ctx, a)
	if errors.Is(err, engagement.ErrLaunched) {
		return fmt.Errorf("%w: %w", ErrLaunchInProgress, err)
	}
	if err != nil {
		return err
	}
	if changed {
		next := *p
		next.assignment = a.Clone()
		o.current.Store(&next)
		if t, ok := o.tracks[a.TrackID]; ok && a.ByTrack() {
			p.engine.UpdateTarget(t)
		}
		o.log.Info(ctx, "weapon reassigned", logging.Any("assignment", a))
	}
	return nil
}

func (o *Orchestrator) newPair(ctx context.Context, a weapon.Assignment) (*weaponPair, error) {
	eng, err := engagement.New(engagement.Config{
		Tube:             o.cfg.Tube,
		Kind:             o.cfg.Kind,
		Spec:             o.spec,
		UpdateInterval:   o.cfg.EngagementInterval,
		PlanStep:         o.cfg.PlanStep,
		TrajectoryLength: o.cfg.TrajectoryLength,
		Plans:            o.deps.Plans,
	},
		engagement.WithLogger(o.deps.Logger),
		engagement.WithClock(o.deps.Clock),
		engagement.WithConverter(o.deps.Converter),
		engagement.WithMetrics(o.deps.Metrics),
	)
	if err != nil {
		return nil, err
	}
	if o.ownShip != nil {
		eng.UpdateOwnShip(*o.ownShip)
	}
	eng.UpdateNoFireZones(o.zones)
	if t, ok := o.tracks[a.TrackID]; ok && a.ByTrack() {
		eng.UpdateTarget(t)
	}
	if _, err := eng.UpdateAssignment(ctx, a); err != nil {
		return nil, err
	}

	m, err := wpnctrl.New(wpnctrl.Config{
		Tube:              o.cfg.Tube,
		Kind:              o.cfg.Kind,
		Steps:             weapon.LaunchSequence(o.cfg.Kind, o.spec),
		PowerOnCheckDelay: o.spec.PowerOnCheckDelay,
		PollInterval:      o.cfg.PollInterval,
		Slice:             o.cfg.Slice,
		Clock:             o.deps.Clock,
	}, eng.IsReady, o.interlock.Load, eng.NotifyLaunched,
		wpnctrl.WithLogger(o.deps.Logger),
		wpnctrl.WithTransitionObserver(o.onTransition),
	)
	if err != nil {
		return nil, err
	}

	runCtx := o.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	wctx, cancel := context.WithCancel(runCtx)
	w := &workers{cancel: cancel}
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		_ = eng.Run(wctx)
	}()
	go func() {
		defer w.wg.Done()
		_ = m.Run(wctx)
	}()
	return &weaponPair{assignment: a.Clone(), engine: eng, machine: m, workers: w}, nil
}

// release closes the machine, then cancels and joins the workers.
func (o *Orchestrator) release(ctx context.Context, p *weaponPair) {
	if err := p.machine.Close(); err != nil {
		o.log.Warn(ctx, "state machine close failed", logging.Err(err))
	}
	p.workers.cancel()
	p.workers.wg.Wait()
}

// Unassign drops the weapon pair. It is allowed only in OFF.
func (o *Orchestrator) Unassign(ctx context.Context, tube int) error {
	_, err := o.do(ctx, "Unassign", func(ctx context.Context) (any, error) {
		if err := o.checkTube(tube); err != nil {
			return nil, err
		}
		p := o.current.Load()
		if p == nil {
			return nil, ErrNoWeapon
		}
		resp := &telemetry.AssignResponse{Assignment: p.assignment.Clone(), Unassign: true}
		if st := p.machine.State(); st != weapon.StateOff {
			err := fmt.Errorf("%w: state %s", ErrNotOff, st)
			resp.Reason = err.Error()
			o.publish(ctx, telemetry.Envelope{Type: telemetry.TypeAssign, Assign: resp})
			return nil, err
		}
		o.release(ctx, p)
		o.current.Store(nil)
		resp.Accepted = true
		o.publish(ctx, telemetry.Envelope{Type: telemetry.TypeAssign, Assign: resp})
		o.log.Info(ctx, "weapon unassigned")
		return nil, nil
	})
	return err
}

// Control requests a control state change of the assigned weapon.
func (o *Orchestrator) Control(ctx context.Context, tube int, kind weapon.Kind, target weapon.ControlState) error {
	_, err := o.do(ctx, "Control", func(ctx context.Context) (any, error) {
		if err := o.checkTube(tube); err != nil {
			return nil, err
		}
		if err := o.checkKind(kind); err != nil {
			return nil, err
		}
		p := o.current.Load()
		if p == nil {
			return nil, ErrNoWeapon
		}
		return nil, p.machine.RequestStateChange(target)
	})
	return err
}

// UpdateWaypoints replaces the operator waypoint list of the assigned weapon.
func (o *Orchestrator) UpdateWaypoints(ctx context.Context, tube int, kind weapon.Kind, wps []weapon.Waypoint) error {
	_, err := o.do(ctx, "UpdateWaypoints", func(ctx context.Context) (any, error) {
		if err := o.checkTube(tube); err != nil {
			return nil, err
		}
		if err := o.checkKind(kind); err != nil {
			return nil, err
		}
		if len(wps) > o.spec.MaxWaypoints {
			return nil, fmt.Errorf("%w: %d waypoints, max %d", engagement.ErrTooManyWaypoints, len(wps), o.spec.MaxWaypoints)
		}
		p := o.current.Load()
		if p == nil {
			return nil, ErrNoWeapon
		}
		return nil, p.engine.UpdateWaypoints(wps)
	})
	return err
}

// UpdateNoFireZones replaces the zone list. It is kept for the next weapon.
func (o *Orchestrator) UpdateNoFireZones(ctx context.Context, zones []weapon.NoFireZone) error {
	_, err := o.do(ctx, "UpdateNoFireZones", func(ctx context.Context) (any, error) {
		o.zones = append([]weapon.NoFireZone(nil), zones...)
		if p := o.current.Load(); p != nil {
			p.engine.UpdateNoFireZones(o.zones)
		}
		return nil, nil
	})
	return err
}

// UpdateOwnShip sets the navigation fix. It is kept for the next weapon.
func (o *Orchestrator) UpdateOwnShip(ctx context.Context, nav weapon.OwnShip) error {
	_, err := o.do(ctx, "UpdateOwnShip", func(ctx context.Context) (any, error) {
		o.ownShip = &nav
		if p := o.current.Load(); p != nil {
			p.engine.UpdateOwnShip(nav)
		}
		return nil, nil
	})
	return err
}

// UpdateTarget records a system track and forwards it when the weapon is
// assigned to that track.
func (o *Orchestrator) UpdateTarget(ctx context.Context, track weapon.Track) error {
	_, err := o.do(ctx, "UpdateTarget", func(ctx context.Context) (any, error) {
		o.tracks[track.ID] = track
		if p := o.current.Load(); p != nil && p.assignment.ByTrack() && p.assignment.TrackID == track.ID {
			p.engine.UpdateTarget(track)
		}
		return nil, nil
	})
	return err
}

// SetInterlock sets the firing interlock. True means clear to fire.
func (o *Orchestrator) SetInterlock(ctx context.Context, clear bool) error {
	_, err := o.do(ctx, "SetInterlock", func(ctx context.Context) (any, error) {
		if o.interlock.Swap(clear) != clear {
			o.log.Info(ctx, "firing interlock changed", logging.Bool("clear", clear))
		}
		return nil, nil
	})
	return err
}

// Status returns the current snapshot of the tube.
func (o *Orchestrator) Status(ctx context.Context) (Snapshot, error) {
	v, err := o.do(ctx, "Status", func(context.Context) (any, error) {
		return o.snapshot(), nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (o *Orchestrator) snapshot() Snapshot {
	snap := Snapshot{
		Tube:      o.cfg.Tube,
		Kind:      o.cfg.Kind,
		Control:   wpnctrl.Status{Tube: o.cfg.Tube, State: weapon.StateOff},
		Interlock: o.interlock.Load(),
	}
	p := o.current.Load()
	if p == nil {
		return snap
	}
	a := p.assignment.Clone()
	res := p.engine.SnapshotResult()
	snap.Assigned = true
	snap.Assignment = &a
	snap.Control = p.machine.Status()
	snap.Result = &res
	return snap
}

func (o *Orchestrator) onTransition(tube int, from, to weapon.ControlState) {
	o.deps.Metrics.ObserveTransition(tube, from, to)
	o.publishStatus(context.Background())
}
