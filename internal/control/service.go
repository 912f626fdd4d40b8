// Package control exposes the tube fleet as the launchtube.v1.TubeControl
// gRPC service and provides its client.
package control

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "launchtube.v1.TubeControl"

// RPC method names.
const (
	MethodAssign            = "Assign"
	MethodUnassign          = "Unassign"
	MethodControl           = "Control"
	MethodUpdateWaypoints   = "UpdateWaypoints"
	MethodUpdateOwnShip     = "UpdateOwnShip"
	MethodUpdateTarget      = "UpdateTarget"
	MethodUpdateNoFireZones = "UpdateNoFireZones"
	MethodSetInterlock      = "SetInterlock"
	MethodStatus            = "Status"
	MethodGetDropPlan       = "GetDropPlan"
	MethodGetDropPlans      = "GetDropPlans"
	MethodSaveDropPlans     = "SaveDropPlans"
	MethodWatch             = "Watch"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// TubeControlServer is implemented by Server.
type TubeControlServer interface {
	Assign(context.Context, *AssignRequest) (*Empty, error)
	Unassign(context.Context, *UnassignRequest) (*Empty, error)
	Control(context.Context, *ControlRequest) (*Empty, error)
	UpdateWaypoints(context.Context, *WaypointsRequest) (*Empty, error)
	UpdateOwnShip(context.Context, *OwnShipRequest) (*Empty, error)
	UpdateTarget(context.Context, *TargetRequest) (*Empty, error)
	UpdateNoFireZones(context.Context, *NoFireZonesRequest) (*Empty, error)
	SetInterlock(context.Context, *InterlockRequest) (*Empty, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	GetDropPlan(context.Context, *DropPlanRequest) (*DropPlanResponse, error)
	GetDropPlans(context.Context, *DropPlanDocumentRequest) (*DropPlanDocumentResponse, error)
	SaveDropPlans(context.Context, *SaveDropPlansRequest) (*Empty, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

// unary adapts a typed method to a grpc.MethodHandler.
func unary[Req, Resp any](method string, call func(TubeControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(TubeControlServer)
			if interceptor == nil {
				return call(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(s, ctx, r.(*Req))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TubeControlServer).Watch(req, stream)
}

// ServiceDesc describes TubeControl for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TubeControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodAssign, TubeControlServer.Assign),
		unary(MethodUnassign, TubeControlServer.Unassign),
		unary(MethodControl, TubeControlServer.Control),
		unary(MethodUpdateWaypoints, TubeControlServer.UpdateWaypoints),
		unary(MethodUpdateOwnShip, TubeControlServer.UpdateOwnShip),
		unary(MethodUpdateTarget, TubeControlServer.UpdateTarget),
		unary(MethodUpdateNoFireZones, TubeControlServer.UpdateNoFireZones),
		unary(MethodSetInterlock, TubeControlServer.SetInterlock),
		unary(MethodStatus, TubeControlServer.Status),
		unary(MethodGetDropPlan, TubeControlServer.GetDropPlan),
		unary(MethodGetDropPlans, TubeControlServer.GetDropPlans),
		unary(MethodSaveDropPlans, TubeControlServer.SaveDropPlans),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
}

// RegisterTubeControlServer registers srv on s.
func RegisterTubeControlServer(s grpc.ServiceRegistrar, srv TubeControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
