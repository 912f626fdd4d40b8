// Package telemetry carries the outbound tube reports: typed envelopes, a
// fan-out hub for live subscribers and a compressed flight recorder.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/engagement"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// Type discriminates envelope payloads.
type Type string

const (
	TypeStatus     Type = "status"
	TypeEngagement Type = "engagement"
	TypeAssign     Type = "assign"
)

// StatusReport is the periodic weapon status of one tube.
type StatusReport struct {
	Tube            int                 `json:"tube" msgpack:"tube"`
	Kind            weapon.Kind         `json:"kind" msgpack:"kind"`
	State           weapon.ControlState `json:"state" msgpack:"state"`
	Assigned        bool                `json:"assigned" msgpack:"assigned"`
	PoweredOn       bool                `json:"powered_on" msgpack:"powered_on"`
	SincePowerOnSec float64             `json:"since_power_on_s" msgpack:"since_power_on_s"`
	Interlock       bool                `json:"interlock_clear" msgpack:"interlock_clear"`
}

// AssignResponse echoes an assignment or unassignment with its outcome.
type AssignResponse struct {
	Assignment weapon.Assignment `json:"assignment" msgpack:"assignment"`
	Unassign   bool              `json:"unassign,omitempty" msgpack:"unassign,omitempty"`
	Accepted   bool              `json:"accepted" msgpack:"accepted"`
	Reason     string            `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Envelope is one outbound report. Exactly one payload matches Type.
type Envelope struct {
	Type       Type               `json:"type" msgpack:"type"`
	Tube       int                `json:"tube" msgpack:"tube"`
	At         time.Time          `json:"at" msgpack:"at"`
	Status     *StatusReport      `json:"status,omitempty" msgpack:"status,omitempty"`
	Engagement *engagement.Result `json:"engagement,omitempty" msgpack:"engagement,omitempty"`
	Assign     *AssignResponse    `json:"assign,omitempty" msgpack:"assign,omitempty"`
}

// Publisher delivers envelopes to a sink.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, env Envelope) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Discard drops every envelope.
var Discard Publisher = PublisherFunc(func(context.Context, Envelope) error { return nil })

type multi []Publisher

// Multi fans each envelope out to every publisher and joins their errors.
func Multi(pubs ...Publisher) Publisher {
	out := make(multi, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, env Envelope) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes each envelope at debug level.
type LogPublisher struct {
	Log logging.Logger
}

// Publish logs env.
func (p LogPublisher) Publish(ctx context.Context, env Envelope) error {
	if p.Log == nil {
		return nil
	}
	fields := []logging.Field{
		logging.String("type", string(env.Type)),
		logging.Int("tube", env.Tube),
	}
	switch {
	case env.Status != nil:
		fields = append(fields, logging.String("state", env.Status.State.String()))
	case env.Engagement != nil:
		fields = append(fields,
			logging.Bool("ready", env.Engagement.Ready),
			logging.Float64("remaining_s", env.Engagement.RemainingTime),
			logging.String("plan_state", env.Engagement.PlanState.String()),
		)
	case env.Assign != nil:
		fields = append(fields, logging.Bool("accepted", env.Assign.Accepted))
	}
	p.Log.Debug(ctx, "telemetry", fields...)
	return nil
}
