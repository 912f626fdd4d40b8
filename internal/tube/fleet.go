package tube

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

// Fleet hosts the independent tubes of one process.
type Fleet struct {
	tubes map[int]*Orchestrator
	order []int
}

// NewFleet indexes tubes by number. Numbers must be unique.
func NewFleet(tubes ...*Orchestrator) (*Fleet, error) {
	f := &Fleet{tubes: make(map[int]*Orchestrator, len(tubes))}
	for _, o := range tubes {
		if o == nil {
			continue
		}
		n := o.Number()
		if _, dup := f.tubes[n]; dup {
			return nil, fmt.Errorf("tube %d registered twice", n)
		}
		f.tubes[n] = o
		f.order = append(f.order, n)
	}
	sort.Ints(f.order)
	return f, nil
}

// Run runs every tube until ctx ends or one of them fails.
func (f *Fleet) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range f.order {
		o := f.tubes[n]
		g.Go(func() error { return o.Run(ctx) })
	}
	return g.Wait()
}

// Tube returns the orchestrator of tube n.
func (f *Fleet) Tube(n int) (*Orchestrator, error) {
	o, ok := f.tubes[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTube, n)
	}
	return o, nil
}

// Numbers returns the hosted tube numbers in ascending order.
func (f *Fleet) Numbers() []int { return append([]int(nil), f.order...) }

// BroadcastOwnShip sends nav to every tube.
func (f *Fleet) BroadcastOwnShip(ctx context.Context, nav weapon.OwnShip) error {
	return f.each(func(o *Orchestrator) error { return o.UpdateOwnShip(ctx, nav) })
}

// BroadcastNoFireZones sends zones to every tube.
func (f *Fleet) BroadcastNoFireZones(ctx context.Context, zones []weapon.NoFireZone) error {
	return f.each(func(o *Orchestrator) error { return o.UpdateNoFireZones(ctx, zones) })
}

// BroadcastTarget sends a system track to every tube. Only tubes assigned
// to that track use it.
func (f *Fleet) BroadcastTarget(ctx context.Context, track weapon.Track) error {
	return f.each(func(o *Orchestrator) error { return o.UpdateTarget(ctx, track) })
}

// Status returns the snapshot of every tube in tube order.
func (f *Fleet) Status(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(f.order))
	for _, n := range f.order {
		snap, err := f.tubes[n].Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("tube %d: %w", n, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

func (f *Fleet) each(fn func(*Orchestrator) error) error {
	var errs []error
	for _, n := range f.order {
		if err := fn(f.tubes[n]); err != nil {
			errs = append(errs, fmt.Errorf("tube %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}
