package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/launch-tube-controller/internal/control"
	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/geo"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

const defaultAddr = "localhost:50061"

type options struct {
	addr    string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tubectl",
		Short:         "Operate launch tubes through a tube-server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addr := os.Getenv("TUBECTL_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "tube-server gRPC address (env TUBECTL_ADDR)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")

	root.AddCommand(
		statusCmd(opts),
		assignCmd(opts),
		unassignCmd(opts),
		controlCmd(opts),
		waypointsCmd(opts),
		ownShipCmd(opts),
		interlockCmd(opts),
		watchCmd(opts),
		dropPlanCmd(opts),
	)
	return root
}

// withClient dials the server and runs fn under the request timeout.
func withClient(cmd *cobra.Command, opts *options, fn func(ctx context.Context, c *control.Client) error) error {
	c, err := control.Dial(opts.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTube(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("tube %q: want a positive number", s)
	}
	return n, nil
}

// parsePoint reads "lat,lon" or "lat,lon,alt".
func parsePoint(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return geo.Point{}, fmt.Errorf("position %q: want lat,lon[,alt]", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.Point{}, fmt.Errorf("position %q: %w", s, err)
		}
		vals[i] = v
	}
	p := geo.Point{Lat: vals[0], Lon: vals[1]}
	if len(vals) == 3 {
		p.Alt = vals[2]
	}
	return p, nil
}

// parsePlanRef reads "list/number".
func parsePlanRef(s string) (weapon.DropPlanRef, error) {
	list, num, ok := strings.Cut(s, "/")
	if !ok {
		return weapon.DropPlanRef{}, fmt.Errorf("drop plan %q: want list/number", s)
	}
	l, err := strconv.Atoi(list)
	if err != nil {
		return weapon.DropPlanRef{}, fmt.Errorf("drop plan %q: %w", s, err)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return weapon.DropPlanRef{}, fmt.Errorf("drop plan %q: %w", s, err)
	}
	return weapon.DropPlanRef{List: l, Number: n}, nil
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [tube]",
		Short: "Show one tube, or every tube",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 0
			if len(args) == 1 {
				var err error
				if n, err = parseTube(args[0]); err != nil {
					return err
				}
			}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				snaps, err := c.Status(ctx, n)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snaps)
			})
		},
	}
}

func assignCmd(opts *options) *cobra.Command {
	var target, plan string
	var track uint32
	cmd := &cobra.Command{
		Use:   "assign TUBE KIND",
		Short: "Assign a weapon to a target position, a system track or a drop plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTube(args[0])
			if err != nil {
				return err
			}
			kind, err := weapon.ParseKind(args[1])
			if err != nil {
				return err
			}
			a := weapon.Assignment{Tube: n, Kind: kind, TrackID: track}
			if target != "" {
				p, err := parsePoint(target)
				if err != nil {
					return err
				}
				a.Target = &p
			}
			if plan != "" {
				ref, err := parsePlanRef(plan)
				if err != nil {
					return err
				}
				a.DropPlan = &ref
			}
			if err := a.Validate(); err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.Assign(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target position lat,lon[,alt]")
	cmd.Flags().Uint32Var(&track, "track", 0, "system track id")
	cmd.Flags().StringVar(&plan, "plan", "", "mine drop plan list/number")
	return cmd
}

func unassignCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unassign TUBE",
		Short: "Drop the weapon of a tube in OFF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTube(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.Unassign(ctx, n)
			})
		},
	}
}

func controlCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "control TUBE KIND STATE",
		Short: "Request a control state (OFF, ON, RTL, LAUNCH, ABORT)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTube(args[0])
			if err != nil {
				return err
			}
			kind, err := weapon.ParseKind(args[1])
			if err != nil {
				return err
			}
			state, err := weapon.ParseControlState(args[2])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.Control(ctx, n, kind, state)
			})
		},
	}
}

func waypointsCmd(opts *options) *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "waypoints TUBE KIND [lat,lon[,alt] ...]",
		Short: "Replace the operator waypoints of a tube; no points clears them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseTube(args[0])
			if err != nil {
				return err
			}
			kind, err := weapon.ParseKind(args[1])
			if err != nil {
				return err
			}
			wps := make([]weapon.Waypoint, 0, len(args)-2)
			for _, s := range args[2:] {
				p, err := parsePoint(s)
				if err != nil {
					return err
				}
				wps = append(wps, weapon.Waypoint{Position: p, SpeedMps: speed, Valid: true})
			}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.UpdateWaypoints(ctx, n, kind, wps)
			})
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 0, "leg speed in m/s for every waypoint, 0 for the weapon cruise speed")
	return cmd
}

func ownShipCmd(opts *options) *cobra.Command {
	var tubeNo int
	var heading, speed float64
	cmd := &cobra.Command{
		Use:   "ownship lat,lon[,alt]",
		Short: "Send an own-ship navigation fix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePoint(args[0])
			if err != nil {
				return err
			}
			nav := weapon.OwnShip{Position: p, HeadingDeg: heading, SpeedMps: speed, At: time.Now()}
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.UpdateOwnShip(ctx, tubeNo, nav)
			})
		},
	}
	cmd.Flags().IntVar(&tubeNo, "tube", 0, "tube number, 0 for every tube")
	cmd.Flags().Float64Var(&heading, "heading", 0, "heading in degrees")
	cmd.Flags().Float64Var(&speed, "speed", 0, "speed in m/s")
	return cmd
}

func interlockCmd(opts *options) *cobra.Command {
	var tubeNo int
	cmd := &cobra.Command{
		Use:       "interlock clear|hold",
		Short:     "Clear or hold the firing interlock",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"clear", "hold"},
		RunE: func(cmd *cobra.Command, args []string) error {
			released := args[0] == "clear"
			return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
				return c.SetInterlock(ctx, tubeNo, released)
			})
		},
	}
	cmd.Flags().IntVar(&tubeNo, "tube", 0, "tube number, 0 for every tube")
	return cmd
}

func watchCmd(opts *options) *cobra.Command {
	var tubeNo int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream telemetry as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := control.Dial(opts.addr)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			enc := json.NewEncoder(cmd.OutOrStdout())
			err = c.Watch(ctx, tubeNo, func(env telemetry.Envelope) error {
				return enc.Encode(env)
			})
			if ctx.Err() != nil {
				// Interrupted.
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&tubeNo, "tube", 0, "tube number, 0 for every tube")
	return cmd
}

func dropPlanCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropplan",
		Short: "Read and replace mine drop plans",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get LIST/NUMBER",
			Short: "Print one drop plan",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ref, err := parsePlanRef(args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
					p, err := c.GetDropPlan(ctx, ref)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), p)
				})
			},
		},
		&cobra.Command{
			Use:   "export",
			Short: "Print the whole drop plan document",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
					doc, err := c.GetDropPlans(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), doc)
				})
			},
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Replace the drop plan document with FILE",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var doc dropplan.Document
				if err := json.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				if err := doc.Validate(); err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *control.Client) error {
					return c.SaveDropPlans(ctx, doc)
				})
			},
		},
	)
	return cmd
}
