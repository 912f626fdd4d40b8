package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// TubeCollector exposes per-tube control and planning metrics. It satisfies
// engagement.MetricsRecorder and its ObserveTransition method has the shape
// of a wpnctrl.TransitionObserver.
type TubeCollector struct {
	gatherer prometheus.Gatherer

	ControlState     *prometheus.GaugeVec
	Transitions      *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	PlanReady        *prometheus.GaugeVec
	PlanRemaining    *prometheus.GaugeVec
	PlanBattery      *prometheus.GaugeVec
	PlanTickDuration prometheus.Histogram
	PlanTickFailures *prometheus.CounterVec
	TelemetryDropped prometheus.Counter
}

// NewTubeCollector registers tube metrics against the provided registerer.
func NewTubeCollector(reg prometheus.Registerer) (*TubeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tube_control_state",
		Help: "Current control state of each tube as its ordinal (OFF=0 ... ABORT=6).",
	}, []string{"tube"}), "tube_control_state")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tube_state_transitions_total",
		Help: "Committed control state transitions.",
	}, []string{"tube", "from", "to"}), "tube_state_transitions_total")
	if err != nil {
		return nil, err
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tube_commands_total",
		Help: "Inbound tube commands, labeled by command and result.",
	}, []string{"tube", "command", "result"}), "tube_commands_total")
	if err != nil {
		return nil, err
	}

	ready, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tube_plan_ready",
		Help: "1 when the tube's engagement plan is ready to launch.",
	}, []string{"tube"}), "tube_plan_ready")
	if err != nil {
		return nil, err
	}

	remaining, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tube_plan_remaining_seconds",
		Help: "Planned or dead-reckoned time to the terminal point.",
	}, []string{"tube"}), "tube_plan_remaining_seconds")
	if err != nil {
		return nil, err
	}

	battery, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tube_plan_battery_percent",
		Help: "Estimated remaining weapon battery.",
	}, []string{"tube"}), "tube_plan_battery_percent")
	if err != nil {
		return nil, err
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tube_plan_tick_duration_seconds",
		Help:    "Duration of engagement planning ticks.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	tickHistogram, err = registerHistogram(reg, tickHistogram, "tube_plan_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tube_plan_tick_failures_total",
		Help: "Planning ticks that faulted.",
	}, []string{"tube"}), "tube_plan_tick_failures_total")
	if err != nil {
		return nil, err
	}

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tube_telemetry_dropped_total",
		Help: "Telemetry envelopes dropped for slow subscribers.",
	})
	dropped, err = registerCounter(reg, dropped, "tube_telemetry_dropped_total")
	if err != nil {
		return nil, err
	}

	return &TubeCollector{
		gatherer:         gatherer,
		ControlState:     state,
		Transitions:      transitions,
		Commands:         commands,
		PlanReady:        ready,
		PlanRemaining:    remaining,
		PlanBattery:      battery,
		PlanTickDuration: tickHistogram,
		PlanTickFailures: failures,
		TelemetryDropped: dropped,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TubeCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a /metrics handler over the collector's gatherer.
func (c *TubeCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

func tubeLabel(tube int) string { return strconv.Itoa(tube) }

// ObserveTransition records a committed control state change.
func (c *TubeCollector) ObserveTransition(tube int, from, to weapon.ControlState) {
	if c == nil {
		return
	}
	if c.ControlState != nil {
		c.ControlState.WithLabelValues(tubeLabel(tube)).Set(float64(to))
	}
	if c.Transitions != nil {
		c.Transitions.WithLabelValues(tubeLabel(tube), from.String(), to.String()).Inc()
	}
}

// IncCommand counts one inbound command and its result ("ok" or an error
// class).
func (c *TubeCollector) IncCommand(tube int, command, result string) {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.WithLabelValues(tubeLabel(tube), command, result).Inc()
}

// ObservePlanTick records one planning tick.
func (c *TubeCollector) ObservePlanTick(tube int, d time.Duration, failed bool) {
	if c == nil {
		return
	}
	if c.PlanTickDuration != nil {
		c.PlanTickDuration.Observe(d.Seconds())
	}
	if failed && c.PlanTickFailures != nil {
		c.PlanTickFailures.WithLabelValues(tubeLabel(tube)).Inc()
	}
}

// SetPlanResult updates the plan gauges of tube.
func (c *TubeCollector) SetPlanResult(tube int, ready bool, remaining, battery float64) {
	if c == nil {
		return
	}
	label := tubeLabel(tube)
	if c.PlanReady != nil {
		v := 0.0
		if ready {
			v = 1
		}
		c.PlanReady.WithLabelValues(label).Set(v)
	}
	if c.PlanRemaining != nil {
		c.PlanRemaining.WithLabelValues(label).Set(remaining)
	}
	if c.PlanBattery != nil {
		if battery < 0 {
			battery = 0
		}
		if battery > 100 {
			battery = 100
		}
		c.PlanBattery.WithLabelValues(label).Set(battery)
	}
}

// IncTelemetryDropped counts one dropped telemetry envelope.
func (c *TubeCollector) IncTelemetryDropped() {
	if c == nil || c.TelemetryDropped == nil {
		return
	}
	c.TelemetryDropped.Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
