package control

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/tube"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// Client is a typed TubeControl client.
type Client struct {
	conn *grpc.ClientConn
	own  bool
}

// Dial connects to a TubeControl server at target over plaintext. Extra
// options are appended after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(RequestIDStreamClientInterceptor()),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, own: true}, nil
}

// NewClient wraps an existing connection. The connection must use the json
// content subtype; Close leaves it open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if !c.own {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, FullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
}

func (c *Client) Assign(ctx context.Context, a weapon.Assignment) error {
	return c.invoke(ctx, MethodAssign, &AssignRequest{Assignment: a}, &Empty{})
}

func (c *Client) Unassign(ctx context.Context, tubeNo int) error {
	return c.invoke(ctx, MethodUnassign, &UnassignRequest{Tube: tubeNo}, &Empty{})
}

func (c *Client) Control(ctx context.Context, tubeNo int, kind weapon.Kind, state weapon.ControlState) error {
	return c.invoke(ctx, MethodControl, &ControlRequest{Tube: tubeNo, Kind: kind, State: state}, &Empty{})
}

func (c *Client) UpdateWaypoints(ctx context.Context, tubeNo int, kind weapon.Kind, wps []weapon.Waypoint) error {
	return c.invoke(ctx, MethodUpdateWaypoints, &WaypointsRequest{Tube: tubeNo, Kind: kind, Waypoints: wps}, &Empty{})
}

// UpdateOwnShip sends nav to tubeNo, or every tube when tubeNo is zero.
func (c *Client) UpdateOwnShip(ctx context.Context, tubeNo int, nav weapon.OwnShip) error {
	return c.invoke(ctx, MethodUpdateOwnShip, &OwnShipRequest{Tube: tubeNo, OwnShip: nav}, &Empty{})
}

func (c *Client) UpdateTarget(ctx context.Context, tubeNo int, track weapon.Track) error {
	return c.invoke(ctx, MethodUpdateTarget, &TargetRequest{Tube: tubeNo, Track: track}, &Empty{})
}

func (c *Client) UpdateNoFireZones(ctx context.Context, tubeNo int, zones []weapon.NoFireZone) error {
	return c.invoke(ctx, MethodUpdateNoFireZones, &NoFireZonesRequest{Tube: tubeNo, Zones: zones}, &Empty{})
}

func (c *Client) SetInterlock(ctx context.Context, tubeNo int, clear bool) error {
	return c.invoke(ctx, MethodSetInterlock, &InterlockRequest{Tube: tubeNo, Clear: clear}, &Empty{})
}

// Status returns the snapshot of tubeNo, or of every tube when tubeNo is zero.
func (c *Client) Status(ctx context.Context, tubeNo int) ([]tube.Snapshot, error) {
	var resp StatusResponse
	if err := c.invoke(ctx, MethodStatus, &StatusRequest{Tube: tubeNo}, &resp); err != nil {
		return nil, err
	}
	return resp.Tubes, nil
}

func (c *Client) GetDropPlan(ctx context.Context, ref weapon.DropPlanRef) (dropplan.Plan, error) {
	var resp DropPlanResponse
	if err := c.invoke(ctx, MethodGetDropPlan, &DropPlanRequest{Ref: ref}, &resp); err != nil {
		return dropplan.Plan{}, err
	}
	return resp.Plan, nil
}

func (c *Client) GetDropPlans(ctx context.Context) (dropplan.Document, error) {
	var resp DropPlanDocumentResponse
	if err := c.invoke(ctx, MethodGetDropPlans, &DropPlanDocumentRequest{}, &resp); err != nil {
		return dropplan.Document{}, err
	}
	return resp.Document, nil
}

func (c *Client) SaveDropPlans(ctx context.Context, doc dropplan.Document) error {
	return c.invoke(ctx, MethodSaveDropPlans, &SaveDropPlansRequest{Document: doc}, &Empty{})
}

// Watch streams telemetry for tubeNo, or every tube when tubeNo is zero,
// calling fn for each envelope. It returns nil when the server ends the
// stream, the error from fn if it fails, or the stream error otherwise.
func (c *Client) Watch(ctx context.Context, tubeNo int, fn func(telemetry.Envelope) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatch), grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchRequest{Tube: tubeNo}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var env telemetry.Envelope
		if err := stream.RecvMsg(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
