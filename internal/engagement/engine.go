// Package engagement plans a tube weapon's route before launch and dead
// reckons its position afterwards.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/kinematics"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"github.com/signalsfoundry/launch-tube-controller/timectrl"
)

// Engine defaults.
const (
	DefaultUpdateInterval   = time.Second
	DefaultPlanStep         = 100 * time.Millisecond
	DefaultTrajectoryLength = 128
)

const mpsToKnots = 1.943844

var (
	// ErrLaunched is returned when an assignment change arrives after the
	// weapon has left the tube.
	ErrLaunched = errors.New("weapon already launched")
	// ErrPlanUnavailable is returned when the drop plan of a mine assignment
	// cannot be loaded.
	ErrPlanUnavailable = errors.New("drop plan unavailable")
	// ErrTooManyWaypoints is returned when a waypoint list exceeds the
	// weapon's capacity.
	ErrTooManyWaypoints = errors.New("too many waypoints")
)

// PlanSource loads mine drop plans.
type PlanSource interface {
	Load(ctx context.Context, ref weapon.DropPlanRef) (dropplan.Plan, error)
}

// PlanStateWriter is implemented by plan sources that persist plan state.
type PlanStateWriter interface {
	SetState(ctx context.Context, ref weapon.DropPlanRef, state dropplan.PlanState) error
}

// MetricsRecorder receives per-tick planning measurements.
type MetricsRecorder interface {
	ObservePlanTick(tube int, d time.Duration, failed bool)
	SetPlanResult(tube int, ready bool, remaining, battery float64)
}

type noopMetrics struct{}

func (noopMetrics) ObservePlanTick(int, time.Duration, bool)  {}
func (noopMetrics) SetPlanResult(int, bool, float64, float64) {}

// Config describes the weapon an engine plans for.
type Config struct {
	Tube int
	Kind weapon.Kind
	Spec weapon.Spec

	// UpdateInterval is the Run period and the post-launch DR step.
	UpdateInterval time.Duration
	// PlanStep is the integration step of the pre-launch sweep.
	PlanStep time.Duration
	// TrajectoryLength is the number of samples kept in a Result.
	TrajectoryLength int
	// ArrivalRadius overrides kinematics.DefaultArrivalRadius when positive.
	ArrivalRadius float64

	// Plans is required for mines.
	Plans PlanSource
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the clock used for timestamps and the Run loop.
func WithClock(c timectrl.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithConverter sets the geodetic to ENU converter.
func WithConverter(c geo.Converter) Option {
	return func(e *Engine) {
		if c != nil {
			e.conv = c
		}
	}
}

// WithMetrics sets the tick metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// plannedRoute is what NotifyLaunched freezes for dead reckoning.
type plannedRoute struct {
	route        []geo.ENU
	center       geo.Point
	ttd          float64
	arrivalTimes []float64
}

// Engine owns one tube's planning state. Setters and Tick serialise on mu;
// drop plan I/O always happens with mu released.
type Engine struct {
	cfg     Config
	planner planner
	integ   kinematics.Integrator
	conv    geo.Converter
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder

	mu sync.Mutex

	assignment    weapon.Assignment
	hasAssignment bool

	ownShip    weapon.OwnShip
	hasOwnShip bool
	track      weapon.Track
	hasTrack   bool
	waypoints  []weapon.Waypoint
	override   bool
	zones      []weapon.NoFireZone

	planned plannedRoute
	result  Result
	// written is the plan state last persisted to the plan store.
	written dropplan.PlanState

	launched bool
	finished bool
	drPos    geo.ENU
	nextIdx  int
	elapsed  float64
}

// New validates cfg and returns an engine with no assignment.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Tube <= 0 {
		return nil, fmt.Errorf("engagement: tube number %d", cfg.Tube)
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("engagement: %w: %s", weapon.ErrUnknownKind, cfg.Kind)
	}
	if err := cfg.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("engagement: %w", err)
	}
	if cfg.Kind == weapon.KindMine && cfg.Plans == nil {
		return nil, errors.New("engagement: mine engine needs a drop plan source")
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.PlanStep <= 0 {
		cfg.PlanStep = DefaultPlanStep
	}
	if cfg.TrajectoryLength <= 0 {
		cfg.TrajectoryLength = DefaultTrajectoryLength
	}

	integ := kinematics.New(cfg.Spec.MaxSpeedMps)
	if cfg.ArrivalRadius > 0 {
		integ.ArrivalRadius = cfg.ArrivalRadius
	}

	e := &Engine{
		cfg:     cfg,
		planner: plannerFor(cfg.Kind),
		integ:   integ,
		conv:    geo.FlatEarth{},
		clock:   timectrl.Real(),
		log:     logging.Noop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.Int("tube", cfg.Tube), logging.String("kind", cfg.Kind.String()))
	e.result = e.baseResult()
	e.result.Reason = "no assignment"
	return e, nil
}

func (e *Engine) baseResult() Result {
	return Result{
		Tube:           e.cfg.Tube,
		Kind:           e.cfg.Kind,
		BatteryPercent: 100,
		PlanState:      dropplan.PlanNone,
		UpdatedAt:      e.clock.Now(),
	}
}

// UpdateAssignment applies a. It reports false without error when a selects
// the engagement already assigned.
func (e *Engine) UpdateAssignment(ctx context.Context, a weapon.Assignment) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}
	if a.Kind != e.cfg.Kind {
		return false, fmt.Errorf("%w: %s engine cannot take a %s assignment", weapon.ErrInvalidAssignment, e.cfg.Kind, a.Kind)
	}
	if a.Tube != e.cfg.Tube {
		return false, fmt.Errorf("%w: assignment for tube %d sent to tube %d", weapon.ErrInvalidAssignment, a.Tube, e.cfg.Tube)
	}

	e.mu.Lock()
	launched, same := e.launched, e.hasAssignment && e.assignment.Equal(a)
	e.mu.Unlock()
	if launched {
		return false, ErrLaunched
	}
	if same {
		return false, nil
	}

	var plan dropplan.Plan
	if a.Kind == weapon.KindMine {
		p, err := e.cfg.Plans.Load(ctx, *a.DropPlan)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrPlanUnavailable, err)
		}
		plan = p
	}

	e.mu.Lock()
	if e.launched {
		e.mu.Unlock()
		return false, ErrLaunched
	}
	e.assignment = a.Clone()
	e.hasAssignment = true
	if a.Kind == weapon.KindMine {
		e.waypoints = nil
		e.override = false
		e.written = plan.State
	}
	e.planned = plannedRoute{}
	e.result = e.baseResult()
	e.result.PlanState = dropplan.PlanAssign
	e.result.Reason = "awaiting plan"
	e.mu.Unlock()

	e.log.Info(ctx, "assignment applied", logging.Any("assignment", a))
	e.writeBack(ctx)
	return true, nil
}

// UpdateOwnShip sets the navigation fix. Pre-launch plans are centred on it.
func (e *Engine) UpdateOwnShip(nav weapon.OwnShip) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownShip = nav
	e.hasOwnShip = true
}

// UpdateTarget stores the latest system track.
func (e *Engine) UpdateTarget(t weapon.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.track = t
	e.hasTrack = true
}

// UpdateWaypoints replaces the operator waypoint list. For mines a non-empty
// list overrides the drop plan waypoints and an empty one restores them.
func (e *Engine) UpdateWaypoints(wps []weapon.Waypoint) error {
	if len(wps) > e.cfg.Spec.MaxWaypoints {
		return fmt.Errorf("%w: %d waypoints, max %d", ErrTooManyWaypoints, len(wps), e.cfg.Spec.MaxWaypoints)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waypoints = append([]weapon.Waypoint(nil), wps...)
	e.override = len(wps) > 0
	return nil
}

// UpdateNoFireZones replaces the zone list.
func (e *Engine) UpdateNoFireZones(zones []weapon.NoFireZone) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zones = append([]weapon.NoFireZone(nil), zones...)
}

// IsReady reports the readiness of the latest plan.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.Ready
}

// SnapshotResult returns a copy of the latest result.
func (e *Engine) SnapshotResult() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.clone()
}

// Run ticks immediately and then every UpdateInterval until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.Tick(ctx)
	loop := timectrl.NewLoop(e.clock, e.cfg.UpdateInterval)
	loop.AddListener(func(ctx context.Context, _ time.Time) { e.Tick(ctx) })
	return loop.Run(ctx)
}

// NotifyLaunched switches the engine to dead reckoning along the last plan.
// Calls after the first are ignored.
func (e *Engine) NotifyLaunched(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.launched {
		return
	}
	e.launched = true
	e.elapsed = 0
	e.nextIdx = 1

	r := &e.result
	r.Launched = true
	r.LaunchedAt = at
	r.Ready = false
	r.PlanState = dropplan.PlanLaunch
	r.ElapsedSinceLaunch = 0
	r.UpdatedAt = e.clock.Now()

	route := e.planned.route
	if len(route) == 0 {
		e.finished = true
		r.Finished = true
		r.Reason = "launched without a planned route"
		r.PlanState = dropplan.PlanFinish
		e.log.Warn(context.Background(), "launch notified without a planned route")
		return
	}
	e.drPos = route[0]
	r.DRValid = true
	r.DRPosition = e.drPos
	r.DRGeo = e.conv.ToGeodetic(e.planned.center, e.drPos)
	r.RemainingTime = e.planned.ttd
	r.NextWaypoint = 1
	if len(route) < 2 {
		e.finish()
	}
	e.log.Info(context.Background(), "launch notified, dead reckoning", logging.Int("route_points", len(route)))
}

// Tick runs one planning or dead-reckoning cycle. It never panics.
func (e *Engine) Tick(ctx context.Context) {
	start := e.clock.Now()
	failed := false
	defer func() {
		if r := recover(); r != nil {
			failed = true
			e.mu.Lock()
			e.result.Ready = false
			e.result.Reason = fmt.Sprintf("planning fault: %v", r)
			e.mu.Unlock()
			e.log.Error(ctx, "engagement tick panicked", logging.Any("panic", r))
		}
		e.mu.Lock()
		ready, remaining, battery := e.result.Ready, e.result.RemainingTime, e.result.BatteryPercent
		e.mu.Unlock()
		e.metrics.ObservePlanTick(e.cfg.Tube, e.clock.Now().Sub(start), failed)
		e.metrics.SetPlanResult(e.cfg.Tube, ready, remaining, battery)
	}()

	e.mu.Lock()
	launched, mine := e.launched, e.hasAssignment && e.cfg.Kind == weapon.KindMine
	var ref weapon.DropPlanRef
	if mine {
		ref = *e.assignment.DropPlan
	}
	e.mu.Unlock()

	if launched {
		e.deadReckon()
		e.writeBack(ctx)
		return
	}

	var (
		plan    dropplan.Plan
		loadErr error
	)
	if mine {
		plan, loadErr = e.cfg.Plans.Load(ctx, ref)
		if loadErr != nil {
			e.log.Warn(ctx, "drop plan load failed", logging.String("plan", ref.String()), logging.Err(loadErr))
		}
	}
	e.replan(mine, ref, plan, loadErr)
	e.writeBack(ctx)
}

// writeBack persists a changed mine plan state. A failed write counts as a
// planning failure for the cycle.
func (e *Engine) writeBack(ctx context.Context) {
	w, ok := e.cfg.Plans.(PlanStateWriter)
	if !ok {
		return
	}
	e.mu.Lock()
	if !e.hasAssignment || e.cfg.Kind != weapon.KindMine || e.result.PlanState == e.written {
		e.mu.Unlock()
		return
	}
	ref, state := *e.assignment.DropPlan, e.result.PlanState
	e.mu.Unlock()

	if err := w.SetState(ctx, ref, state); err != nil {
		e.log.Warn(ctx, "drop plan state write failed", logging.String("plan", ref.String()), logging.Err(err))
		e.mu.Lock()
		if !e.launched {
			e.result.Ready = false
			e.result.Reason = "drop plan state write failed: " + err.Error()
		}
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	if e.assignment.DropPlan != nil && *e.assignment.DropPlan == ref {
		e.written = state
	}
	e.mu.Unlock()
}

// unloaded records a cycle without a usable route.
func (e *Engine) unloaded(reason string) {
	r := e.baseResult()
	if e.hasAssignment {
		r.PlanState = dropplan.PlanError
	}
	if e.hasOwnShip {
		r.Center = e.ownShip.Position
	}
	r.Reason = reason
	e.result = r
	e.planned = plannedRoute{}
	e.log.Debug(context.Background(), "route not loaded", logging.String("reason", reason))
}

// inputs resolves the planner input from the current state, or returns the
// reason no route can be built.
func (e *Engine) inputs(plan dropplan.Plan, loadErr error) (planInput, string) {
	if !e.hasAssignment {
		return planInput{}, "no assignment"
	}
	if !e.hasOwnShip {
		return planInput{}, "no own-ship fix"
	}
	in := planInput{Center: e.ownShip.Position, MaxRangeM: e.cfg.Spec.MaxRangeM()}

	if e.cfg.Kind == weapon.KindMine {
		if loadErr != nil {
			return planInput{}, "drop plan unavailable: " + loadErr.Error()
		}
		if e.override {
			in.Waypoints = weapon.ValidWaypoints(e.waypoints)
		} else {
			for _, w := range plan.ValidWaypoints() {
				in.Waypoints = append(in.Waypoints, w.Geo())
			}
		}
		if !plan.DropPos.Valid {
			return planInput{}, "drop plan has no valid drop position"
		}
		in.Terminal = plan.DropPos.Geo()
		if plan.LaunchPos.Valid {
			lp := plan.LaunchPos.Geo()
			in.LaunchPos = &lp
		}
		return in, ""
	}

	in.Waypoints = weapon.ValidWaypoints(e.waypoints)
	if e.cfg.Spec.RequiresWaypoints && len(in.Waypoints) == 0 {
		return planInput{}, "waypoints required"
	}
	switch {
	case e.assignment.Target != nil:
		in.Terminal = *e.assignment.Target
	case e.hasTrack && e.track.ID == e.assignment.TrackID:
		in.Terminal = e.track.Position
	default:
		return planInput{}, fmt.Sprintf("no position for track %d", e.assignment.TrackID)
	}
	return in, ""
}

// replan builds this cycle's result. A mine plan loaded for ref is dropped
// when the assignment moved to another plan while mu was released.
func (e *Engine) replan(mine bool, ref weapon.DropPlanRef, plan dropplan.Plan, loadErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.launched {
		return
	}
	if mine && (!e.hasAssignment || e.assignment.DropPlan == nil || *e.assignment.DropPlan != ref) {
		e.log.Debug(context.Background(), "assignment changed during plan load, skipping cycle", logging.String("plan", ref.String()))
		return
	}

	in, reason := e.inputs(plan, loadErr)
	if reason != "" {
		e.unloaded(reason)
		return
	}
	rp := e.planner.plan(e.conv, in)

	dt := e.cfg.PlanStep.Seconds()
	maxSteps := int(math.Ceil(e.cfg.Spec.MaxRangeM() / e.cfg.Spec.MaxSpeedMps / dt))
	sweep, err := e.integ.Sweep(rp.Route, dt, maxSteps)
	if err != nil {
		e.unloaded("route integration failed: " + err.Error())
		return
	}

	r := e.baseResult()
	r.Center = in.Center
	r.RouteLoaded = true
	r.Feasible = sweep.Reached
	r.InRange = rp.InRange
	r.InLaunchableArea = rp.Launchable
	r.LaunchPoint = rp.Route[0]
	r.TerminalPoint = rp.Route[len(rp.Route)-1]
	r.Waypoints = append([]geo.ENU(nil), rp.Route[1:len(rp.Route)-1]...)
	r.Trajectory = downsample(sweep.Positions, e.integ.Speed, e.cfg.TrajectoryLength)
	if sweep.Reached {
		r.TimeToDestination = sweep.Distance / e.integ.Speed
	}
	// ArrivalTimes ends with the terminus; keep the intermediate waypoints.
	inter := len(rp.Route) - 2
	for i := 0; i < inter && i < len(sweep.ArrivalTimes); i++ {
		r.ArrivalTimes = append(r.ArrivalTimes, sweep.ArrivalTimes[i])
	}

	r.ClearOfNoFireZones = true
	for _, z := range e.zones {
		c := e.conv.ToLocal(in.Center, z.Center)
		for _, p := range sweep.Positions {
			if geo.HorizontalDistance(p, c) < z.RadiusM {
				r.ClearOfNoFireZones = false
				break
			}
		}
		if !r.ClearOfNoFireZones {
			r.Reason = fmt.Sprintf("trajectory enters no-fire zone %d", z.ID)
			break
		}
	}

	switch {
	case !r.Feasible:
		r.Reason = "terminus unreachable within range"
	case !r.InLaunchableArea:
		r.Reason = rp.Reason
	}
	r.Ready = r.RouteLoaded && r.Feasible && r.InLaunchableArea && r.ClearOfNoFireZones
	if r.Feasible {
		r.PlanState = dropplan.PlanPlanned
	} else {
		r.PlanState = dropplan.PlanError
	}

	r.RemainingTime = r.TimeToDestination
	r.NextWaypoint = 1
	r.TimeToNextWaypoint = r.TimeToDestination
	if len(r.ArrivalTimes) > 0 {
		r.TimeToNextWaypoint = r.ArrivalTimes[0]
	}
	r.BatteryPercent, r.EnduranceSec = e.energy(0, r.RemainingTime)

	e.result = r
	e.planned = plannedRoute{
		route:        rp.Route,
		center:       in.Center,
		ttd:          r.TimeToDestination,
		arrivalTimes: r.ArrivalTimes,
	}
}

func (e *Engine) deadReckon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}

	dt := e.cfg.UpdateInterval.Seconds()
	e.elapsed += dt
	route := e.planned.route
	pos, reached, err := e.integ.Advance(route, e.nextIdx, dt, e.drPos)
	if err != nil {
		e.result.Reason = "dead reckoning failed: " + err.Error()
		e.log.Error(context.Background(), "dead reckoning step failed", logging.Err(err))
		return
	}
	e.drPos = pos
	if reached {
		if e.nextIdx == len(route)-1 {
			e.finish()
			return
		}
		e.nextIdx++
	}

	r := &e.result
	r.ElapsedSinceLaunch = e.elapsed
	r.DRPosition = e.drPos
	r.DRGeo = e.conv.ToGeodetic(e.planned.center, e.drPos)
	r.RemainingTime = math.Max(0, e.planned.ttd-e.elapsed)
	r.NextWaypoint = e.nextIdx
	r.TimeToNextWaypoint = r.RemainingTime
	if e.nextIdx <= len(e.planned.arrivalTimes) {
		r.TimeToNextWaypoint = math.Max(0, e.planned.arrivalTimes[e.nextIdx-1]-e.elapsed)
	}
	r.BatteryPercent, r.EnduranceSec = e.energy(e.elapsed, r.RemainingTime)
	r.UpdatedAt = e.clock.Now()
}

// finish freezes the result at the terminus. Caller holds mu.
func (e *Engine) finish() {
	e.finished = true
	route := e.planned.route
	e.drPos = route[len(route)-1]
	e.nextIdx = len(route) - 1

	r := &e.result
	r.Finished = true
	r.ElapsedSinceLaunch = e.elapsed
	r.DRPosition = e.drPos
	r.DRGeo = e.conv.ToGeodetic(e.planned.center, e.drPos)
	r.RemainingTime = 0
	r.TimeToNextWaypoint = 0
	r.NextWaypoint = e.nextIdx
	r.PlanState = dropplan.PlanFinish
	r.BatteryPercent, r.EnduranceSec = e.energy(e.elapsed, 0)
	r.UpdatedAt = e.clock.Now()
	e.log.Info(context.Background(), "weapon reached terminal point", logging.Float64("elapsed_s", e.elapsed))
}

// energy returns the battery percentage and endurance after elapsed seconds
// at max speed. Weapons without a battery model report a full battery and an
// endurance equal to the remaining flight time.
func (e *Engine) energy(elapsed, remaining float64) (percent, endurance float64) {
	s := e.cfg.Spec
	if s.BatteryWh <= 0 || s.EnergyCoefficient <= 0 {
		return 100, remaining
	}
	knots := s.MaxSpeedMps * mpsToKnots
	perSec := s.EnergyCoefficient / 3600 * knots * knots * knots
	percent = (s.BatteryWh - perSec*elapsed) / s.BatteryWh * 100
	percent = math.Min(100, math.Max(0, percent))
	endurance = math.Max(0, s.BatteryWh/perSec-elapsed)
	return percent, endurance
}
