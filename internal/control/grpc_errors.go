package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/engagement"
	"github.com/signalsfoundry/launch-tube-controller/internal/tube"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"github.com/signalsfoundry/launch-tube-controller/internal/wpnctrl"
)

var (
	// ErrInvalidRequest is returned for malformed control requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoPlanStore is returned by drop plan RPCs when the process hosts no
	// drop plan store.
	ErrNoPlanStore = errors.New("no drop plan store configured")
)

// ToStatusError maps tube controller errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, tube.ErrUnknownTube),
		errors.Is(err, dropplan.ErrPlanNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, weapon.ErrInvalidAssignment),
		errors.Is(err, weapon.ErrUnknownKind),
		errors.Is(err, weapon.ErrUnknownState),
		errors.Is(err, engagement.ErrTooManyWaypoints),
		errors.Is(err, tube.ErrWrongTube),
		errors.Is(err, dropplan.ErrInvalidReference),
		errors.Is(err, dropplan.ErrInvalidDocument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, wpnctrl.ErrInvalidTransition),
		errors.Is(err, tube.ErrNotOff),
		errors.Is(err, tube.ErrLaunchInProgress),
		errors.Is(err, tube.ErrWeaponKindMismatch),
		errors.Is(err, tube.ErrNoWeapon),
		errors.Is(err, engagement.ErrPlanUnavailable),
		errors.Is(err, ErrNoPlanStore):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, wpnctrl.ErrBusy),
		errors.Is(err, wpnctrl.ErrClosed),
		errors.Is(err, tube.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
