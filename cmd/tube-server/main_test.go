package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/launch-tube-controller/internal/config"
	"github.com/signalsfoundry/launch-tube-controller/internal/control"
	"github.com/signalsfoundry/launch-tube-controller/internal/logging"
	"github.com/signalsfoundry/launch-tube-controller/internal/telemetry"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
)

func TestTubeServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.MetricsAddr = ""
	cfg.DropPlan.File = filepath.Join(dir, "dropplans.json")
	cfg.Telemetry.RecorderPath = filepath.Join(dir, "flight.msgpack.zst")
	cfg.Business.StatusInterval = 20 * time.Millisecond
	cfg.Business.EngagementInterval = 20 * time.Millisecond

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	client, err := control.Dial(lis.Addr().String())
	if err != nil {
		t.Fatalf("control.Dial: %v", err)
	}

	var kinds []weapon.Kind
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := client.Status(ctx, 0)
		if err == nil {
			for _, s := range got {
				kinds = append(kinds, s.Kind)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Status: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(kinds) != cfg.System.TotalTubes {
		t.Fatalf("tubes = %d, want %d", len(kinds), cfg.System.TotalTubes)
	}
	if kinds[0] != weapon.KindMine || kinds[4] != weapon.KindAAM {
		t.Fatalf("tube kinds = %v", kinds)
	}
	_ = client.Close()

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}

	var recorded int
	if err := telemetry.ReadRecording(cfg.Telemetry.RecorderPath, func(telemetry.Envelope) error {
		recorded++
		return nil
	}); err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if recorded == 0 {
		t.Fatalf("flight recorder captured nothing")
	}
}
