package control

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/observability"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/tube"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// PlanStore is the drop plan surface the service edits.
type PlanStore interface {
	Load(ctx context.Context, ref weapon.DropPlanRef) (dropplan.Plan, error)
	Document(ctx context.Context) (dropplan.Document, error)
	Save(ctx context.Context, doc dropplan.Document) error
}

// Server implements TubeControlServer over a tube fleet.
type Server struct {
	fleet *tube.Fleet
	plans PlanStore
	hub   *telemetry.Hub
	log   logging.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPlanStore enables the drop plan RPCs.
func WithPlanStore(p PlanStore) ServerOption {
	return func(s *Server) {
		if p != nil {
			s.plans = p
		}
	}
}

// WithHub enables the Watch stream.
func WithHub(h *telemetry.Hub) ServerOption {
	return func(s *Server) {
		if h != nil {
			s.hub = h
		}
	}
}

// WithLogger sets the fallback logger for requests without one.
func WithLogger(l logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer returns a control service for fleet.
func NewServer(fleet *tube.Fleet, opts ...ServerOption) *Server {
	s := &Server{fleet: fleet, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) tube(n int) (*tube.Orchestrator, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: tube number %d", ErrInvalidRequest, n)
	}
	return s.fleet.Tube(n)
}

func (s *Server) logger(ctx context.Context) logging.Logger {
	if logging.RequestIDFromContext(ctx) == "" {
		return s.log
	}
	return logging.LoggerFromContext(ctx)
}

func (s *Server) reply(ctx context.Context, op string, err error) (*Empty, error) {
	if err != nil {
		s.logger(ctx).Warn(ctx, "control request failed", logging.String("op", op), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return &Empty{}, nil
}

// Assign forwards an assignment to its tube.
func (s *Server) Assign(ctx context.Context, req *AssignRequest) (*Empty, error) {
	o, err := s.tube(req.Assignment.Tube)
	if err != nil {
		return s.reply(ctx, MethodAssign, err)
	}
	return s.reply(ctx, MethodAssign, o.Assign(ctx, req.Assignment))
}

// Unassign drops the weapon of a tube in OFF.
func (s *Server) Unassign(ctx context.Context, req *UnassignRequest) (*Empty, error) {
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodUnassign, err)
	}
	return s.reply(ctx, MethodUnassign, o.Unassign(ctx, req.Tube))
}

// Control requests a control state change.
func (s *Server) Control(ctx context.Context, req *ControlRequest) (*Empty, error) {
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodControl, err)
	}
	return s.reply(ctx, MethodControl, o.Control(ctx, req.Tube, req.Kind, req.State))
}

// UpdateWaypoints replaces the operator waypoints of a tube.
func (s *Server) UpdateWaypoints(ctx context.Context, req *WaypointsRequest) (*Empty, error) {
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodUpdateWaypoints, err)
	}
	return s.reply(ctx, MethodUpdateWaypoints, o.UpdateWaypoints(ctx, req.Tube, req.Kind, req.Waypoints))
}

// UpdateOwnShip sends a navigation fix to one or every tube.
func (s *Server) UpdateOwnShip(ctx context.Context, req *OwnShipRequest) (*Empty, error) {
	if req.Tube == 0 {
		return s.reply(ctx, MethodUpdateOwnShip, s.fleet.BroadcastOwnShip(ctx, req.OwnShip))
	}
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodUpdateOwnShip, err)
	}
	return s.reply(ctx, MethodUpdateOwnShip, o.UpdateOwnShip(ctx, req.OwnShip))
}

// UpdateTarget sends a system track to one or every tube.
func (s *Server) UpdateTarget(ctx context.Context, req *TargetRequest) (*Empty, error) {
	if req.Tube == 0 {
		return s.reply(ctx, MethodUpdateTarget, s.fleet.BroadcastTarget(ctx, req.Track))
	}
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodUpdateTarget, err)
	}
	return s.reply(ctx, MethodUpdateTarget, o.UpdateTarget(ctx, req.Track))
}

// UpdateNoFireZones sends the zone list to one or every tube.
func (s *Server) UpdateNoFireZones(ctx context.Context, req *NoFireZonesRequest) (*Empty, error) {
	if req.Tube == 0 {
		return s.reply(ctx, MethodUpdateNoFireZones, s.fleet.BroadcastNoFireZones(ctx, req.Zones))
	}
	o, err := s.tube(req.Tube)
	if err != nil {
		return s.reply(ctx, MethodUpdateNoFireZones, err)
	}
	return s.reply(ctx, MethodUpdateNoFireZones, o.UpdateNoFireZones(ctx, req.Zones))
}

// SetInterlock sets the firing interlock of one or every tube.
func (s *Server) SetInterlock(ctx context.Context, req *InterlockRequest) (*Empty, error) {
	if req.Tube != 0 {
		o, err := s.tube(req.Tube)
		if err != nil {
			return s.reply(ctx, MethodSetInterlock, err)
		}
		return s.reply(ctx, MethodSetInterlock, o.SetInterlock(ctx, req.Clear))
	}
	for _, n := range s.fleet.Numbers() {
		o, _ := s.fleet.Tube(n)
		if err := o.SetInterlock(ctx, req.Clear); err != nil {
			return s.reply(ctx, MethodSetInterlock, fmt.Errorf("tube %d: %w", n, err))
		}
	}
	return &Empty{}, nil
}

// Status returns one or every tube snapshot.
func (s *Server) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	if req.Tube == 0 {
		snaps, err := s.fleet.Status(ctx)
		if err != nil {
			return nil, ToStatusError(err)
		}
		return &StatusResponse{Tubes: snaps}, nil
	}
	o, err := s.tube(req.Tube)
	if err != nil {
		return nil, ToStatusError(err)
	}
	snap, err := o.Status(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &StatusResponse{Tubes: []tube.Snapshot{snap}}, nil
}

// GetDropPlan returns one stored drop plan.
func (s *Server) GetDropPlan(ctx context.Context, req *DropPlanRequest) (*DropPlanResponse, error) {
	if s.plans == nil {
		return nil, ToStatusError(ErrNoPlanStore)
	}
	p, err := s.plans.Load(ctx, req.Ref)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &DropPlanResponse{Plan: p}, nil
}

// GetDropPlans returns the whole drop plan document.
func (s *Server) GetDropPlans(ctx context.Context, _ *DropPlanDocumentRequest) (*DropPlanDocumentResponse, error) {
	if s.plans == nil {
		return nil, ToStatusError(ErrNoPlanStore)
	}
	doc, err := s.plans.Document(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &DropPlanDocumentResponse{Document: doc}, nil
}

// SaveDropPlans replaces the drop plan document.
func (s *Server) SaveDropPlans(ctx context.Context, req *SaveDropPlansRequest) (*Empty, error) {
	if s.plans == nil {
		return nil, ToStatusError(ErrNoPlanStore)
	}
	return s.reply(ctx, MethodSaveDropPlans, s.plans.Save(ctx, req.Document))
}

// Watch streams telemetry envelopes until the client leaves or the hub
// closes.
func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	if s.hub == nil {
		return ToStatusError(fmt.Errorf("%w: telemetry stream disabled", ErrInvalidRequest))
	}
	if req.Tube != 0 {
		if _, err := s.tube(req.Tube); err != nil {
			return ToStatusError(err)
		}
	}
	ctx := stream.Context()
	ctx, span := observability.StartSpan(ctx, "TubeControl/Watch.subscribe", observability.TubeAttr(req.Tube))
	ch, cancel := s.hub.Subscribe(req.Tube)
	span.End()
	defer cancel()

	s.logger(ctx).Debug(ctx, "watch stream opened", logging.Int("tube", req.Tube))
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&env); err != nil {
				return err
			}
		}
	}
}
