package tube

import (
	"context"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/timectrl"
)

func (o *Orchestrator) statusLoop(ctx context.Context) {
	o.publishStatus(ctx)
	loop := timectrl.NewLoop(o.deps.Clock, o.cfg.StatusInterval)
	loop.AddListener(func(ctx context.Context, _ time.Time) { o.publishStatus(ctx) })
	_ = loop.Run(ctx)
}

func (o *Orchestrator) engagementLoop(ctx context.Context) {
	loop := timectrl.NewLoop(o.deps.Clock, o.cfg.EngagementInterval)
	loop.AddListener(func(ctx context.Context, _ time.Time) { o.publishEngagement(ctx) })
	_ = loop.Run(ctx)
}

func (o *Orchestrator) statusReport() *telemetry.StatusReport {
	rep := &telemetry.StatusReport{
		Tube:      o.cfg.Tube,
		Kind:      o.cfg.Kind,
		Interlock: o.interlock.Load(),
	}
	if p := o.current.Load(); p != nil {
		st := p.machine.Status()
		rep.Assigned = true
		rep.State = st.State
		rep.PoweredOn = st.PoweredOn
		rep.SincePowerOnSec = st.SincePowerOn.Seconds()
	}
	return rep
}

func (o *Orchestrator) publishStatus(ctx context.Context) {
	o.publish(ctx, telemetry.Envelope{Type: telemetry.TypeStatus, Status: o.statusReport()})
}

func (o *Orchestrator) publishEngagement(ctx context.Context) {
	p := o.current.Load()
	if p == nil {
		return
	}
	res := p.engine.SnapshotResult()
	o.publish(ctx, telemetry.Envelope{Type: telemetry.TypeEngagement, Engagement: &res})
}

// publish stamps env and hands it to the publisher unless shutdown has
// begun. Shutdown waits for an in-flight publish to return.
func (o *Orchestrator) publish(ctx context.Context, env telemetry.Envelope) {
	o.pubMu.RLock()
	defer o.pubMu.RUnlock()
	if o.closing {
		return
	}
	env.Tube = o.cfg.Tube
	env.At = o.deps.Clock.Now()
	if err := o.deps.Publisher.Publish(ctx, env); err != nil {
		o.log.Warn(ctx, "telemetry publish failed", logging.String("type", string(env.Type)), logging.Err(err))
	}
}
