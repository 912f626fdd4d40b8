package logging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkReceivesJSONRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tube.log")
	log := New(Config{Level: "debug", File: path})

	log.With(Int("tube", 3)).Info(context.Background(), "state changed", String("to", "ON"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"state changed"`, `"tube":3`, `"to":"ON"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log file %q missing %s", line, want)
		}
	}
}

func TestLevelFiltersFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tube.log")
	log := New(Config{Level: "warn", File: path})

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") {
		t.Fatalf("info record written at warn level: %s", data)
	}
	if !strings.Contains(string(data), "kept") {
		t.Fatalf("warn record missing: %s", data)
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID returned empty id")
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("EnsureRequestID = %q on second call, want %q", again, id)
	}
}

func TestErrField(t *testing.T) {
	if f := Err(errors.New("boom")); f.Key != "error" || f.Value != "boom" {
		t.Fatalf("Err() = %+v", f)
	}
	if f := Err(nil); f.Value != "" {
		t.Fatalf("Err(nil) = %+v", f)
	}
}
