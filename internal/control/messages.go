package control

import (
	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/tube"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// Empty is the response of RPCs that return nothing.
type Empty struct{}

type AssignRequest struct {
	Assignment weapon.Assignment `json:"assignment"`
}

type UnassignRequest struct {
	Tube int `json:"tube"`
}

type ControlRequest struct {
	Tube  int                 `json:"tube"`
	Kind  weapon.Kind         `json:"kind"`
	State weapon.ControlState `json:"state"`
}

type WaypointsRequest struct {
	Tube      int               `json:"tube"`
	Kind      weapon.Kind       `json:"kind"`
	Waypoints []weapon.Waypoint `json:"waypoints"`
}

// OwnShipRequest, TargetRequest, NoFireZonesRequest and InterlockRequest go
// to every tube when Tube is zero.
type OwnShipRequest struct {
	Tube    int            `json:"tube,omitempty"`
	OwnShip weapon.OwnShip `json:"own_ship"`
}

type TargetRequest struct {
	Tube  int          `json:"tube,omitempty"`
	Track weapon.Track `json:"track"`
}

type NoFireZonesRequest struct {
	Tube  int                 `json:"tube,omitempty"`
	Zones []weapon.NoFireZone `json:"zones"`
}

type InterlockRequest struct {
	Tube  int  `json:"tube,omitempty"`
	Clear bool `json:"clear"`
}

// StatusRequest asks for one tube, or every tube when Tube is zero.
type StatusRequest struct {
	Tube int `json:"tube,omitempty"`
}

type StatusResponse struct {
	Tubes []tube.Snapshot `json:"tubes"`
}

type DropPlanRequest struct {
	Ref weapon.DropPlanRef `json:"ref"`
}

type DropPlanResponse struct {
	Plan dropplan.Plan `json:"plan"`
}

type DropPlanDocumentRequest struct{}

type DropPlanDocumentResponse struct {
	Document dropplan.Document `json:"document"`
}

type SaveDropPlansRequest struct {
	Document dropplan.Document `json:"document"`
}

// WatchRequest subscribes to one tube, or every tube when Tube is zero.
type WatchRequest struct {
	Tube int `json:"tube,omitempty"`
}
