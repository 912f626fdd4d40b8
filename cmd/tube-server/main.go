package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/signalsfoundry/launch-tube-controller/internal/config"
	"github.com/signalsfoundry/launch-tube-controller/internal/control"
	"github.com/signalsfoundry/launch-tube-controller/internal/dropplan"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/observability"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/tube"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML, YAML or JSON config file")
	grpcAddr := flag.String("grpc-addr", "", "Override server.grpc_addr")
	metricsAddr := flag.String("metrics-addr", "", "Override server.metrics_addr")
	flag.Parse()

	// A missing .env file is not an error.
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(logging.Config{}).Error(ctx, "failed to load config", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	log := logging.New(loggingConfig(cfg.Logging))
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "tube server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the fleet described by cfg on lis until ctx ends.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	reg := prometheus.NewRegistry()
	controlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return fmt.Errorf("control metrics: %w", err)
	}
	tubeMetrics, err := observability.NewTubeCollector(reg)
	if err != nil {
		return fmt.Errorf("tube metrics: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, tracingConfig(cfg.Tracing), log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, 5*time.Second, log)

	hub := telemetry.NewHub(
		telemetry.WithBuffer(cfg.Telemetry.SubscriberBuffer),
		telemetry.WithDropObserver(tubeMetrics.IncTelemetryDropped),
	)
	defer hub.Close()

	pubs := []telemetry.Publisher{hub, telemetry.LogPublisher{Log: log}}
	if cfg.Telemetry.RecorderPath != "" {
		rec, err := telemetry.NewRecorder(cfg.Telemetry.RecorderPath)
		if err != nil {
			return fmt.Errorf("flight recorder: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn(context.Background(), "flight recorder close failed", logging.Err(err))
			}
		}()
		log.Info(ctx, "recording telemetry", logging.String("path", rec.Path()))
		pubs = append(pubs, rec)
	}
	publisher := telemetry.Multi(pubs...)

	plans, err := dropplan.Open(cfg.DropPlan.File, dropplan.WithLogger(log))
	if err != nil {
		return fmt.Errorf("drop plans: %w", err)
	}

	fleet, hs, err := buildFleet(cfg, tube.Deps{
		Plans:     plans,
		Publisher: publisher,
		Logger:    log,
		Metrics:   tubeMetrics,
	})
	if err != nil {
		return err
	}

	server := control.NewGRPCServer(log, controlMetrics)
	control.NewServer(fleet,
		control.WithPlanStore(plans),
		control.WithHub(hub),
		control.WithLogger(log),
	).Register(server)
	control.RegisterHealth(server, hs)

	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, tubeMetrics, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fleet.Run(gctx) })
	g.Go(func() error {
		log.Info(gctx, "starting tube control gRPC server",
			logging.String("addr", lis.Addr().String()),
			logging.Int("tubes", len(fleet.Numbers())),
		)
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down tube server")
		hs.Shutdown()
		// Closing the hub ends open Watch streams so GracefulStop can return.
		hub.Close()
		server.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		AddSource:  c.AddSource,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

func tracingConfig(c config.TracingConfig) observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		Exporter:    c.Exporter,
		Endpoint:    c.Endpoint,
		SampleRatio: c.SampleRatio,
	}
}

func buildFleet(cfg config.Config, deps tube.Deps) (*tube.Fleet, *health.Server, error) {
	kinds, err := cfg.TubeKinds()
	if err != nil {
		return nil, nil, err
	}
	numbers := make([]int, 0, cfg.System.TotalTubes)
	for n := 1; n <= cfg.System.TotalTubes; n++ {
		numbers = append(numbers, n)
	}
	hs := control.NewHealthServer(numbers)

	orchestrators := make([]*tube.Orchestrator, 0, len(numbers))
	for _, n := range numbers {
		kind := kinds[n]
		o, err := tube.New(tube.Config{
			Tube:               n,
			Kind:               kind,
			Specs:              cfg.Weapons,
			EngagementInterval: cfg.Business.EngagementInterval,
			StatusInterval:     cfg.Business.StatusInterval,
			PollInterval:       cfg.Timing.PollInterval,
			Slice:              cfg.Timing.Slice,
			PlanStep:           cfg.Timing.PlanStep,
		}, deps, tube.WithLifecycleHook(control.HealthHook(hs)))
		if err != nil {
			return nil, nil, err
		}
		if kind == weapon.KindNone {
			deps.Logger.Info(context.Background(), "tube is empty", logging.Int("tube", n))
		}
		orchestrators = append(orchestrators, o)
	}
	fleet, err := tube.NewFleet(orchestrators...)
	if err != nil {
		return nil, nil, err
	}
	return fleet, hs, nil
}

func serveMetrics(addr string, collector *observability.TubeCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
