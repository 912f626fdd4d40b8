package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/signalsfoundry/launch-tube-controller/internal/weapon"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/launchtube.v1.TubeControl/Assign"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("TubeControl", "Assign", "OK")); got != 1 {
		t.Fatalf("control_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "control_request_duration_seconds", map[string]string{
		"service": "TubeControl",
		"method":  "Assign",
	}); count != 1 {
		t.Fatalf("control_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/launchtube.v1.TubeControl/Control"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("TubeControl", "Control", "FailedPrecondition")); got != 1 {
		t.Fatalf("control_requests_total error label = %v, want 1", got)
	}
}

func TestStreamInterceptorTracksOpenStreams(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/launchtube.v1.TubeControl/Watch", IsServerStream: true}
	err = interceptor(nil, nil, info, func(srv interface{}, ss grpc.ServerStream) error {
		if got := testutil.ToFloat64(collector.Watchers); got != 1 {
			t.Errorf("open streams during handler = %v, want 1", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream interceptor: %v", err)
	}
	if got := testutil.ToFloat64(collector.Watchers); got != 0 {
		t.Fatalf("open streams after handler = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("TubeControl", "Watch", "OK")); got != 1 {
		t.Fatalf("control_requests_total for Watch = %v, want 1", got)
	}
}

func TestCollectorsTolerateReregistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewTubeCollector(reg)
	if err != nil {
		t.Fatalf("NewTubeCollector: %v", err)
	}
	second, err := NewTubeCollector(reg)
	if err != nil {
		t.Fatalf("second NewTubeCollector: %v", err)
	}
	first.IncCommand(1, "assign", "ok")
	if got := testutil.ToFloat64(second.Commands.WithLabelValues("1", "assign", "ok")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
	if _, err := NewControlCollector(reg); err != nil {
		t.Fatalf("NewControlCollector on shared registry: %v", err)
	}
}

func TestTubeCollectorRecordsTransitionsAndPlans(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewTubeCollector(reg)
	if err != nil {
		t.Fatalf("NewTubeCollector: %v", err)
	}

	c.ObserveTransition(2, weapon.StateOff, weapon.StatePowerOnCheck)
	c.ObserveTransition(2, weapon.StatePowerOnCheck, weapon.StateOn)
	if got := testutil.ToFloat64(c.ControlState.WithLabelValues("2")); got != float64(weapon.StateOn) {
		t.Fatalf("tube_control_state = %v, want %d", got, weapon.StateOn)
	}
	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("2", "OFF", "POWER_ON_CHECK")); got != 1 {
		t.Fatalf("tube_state_transitions_total = %v, want 1", got)
	}

	c.ObservePlanTick(2, 3*time.Millisecond, false)
	c.ObservePlanTick(2, time.Millisecond, true)
	c.SetPlanResult(2, true, 42.5, 140)
	if got := testutil.ToFloat64(c.PlanTickFailures.WithLabelValues("2")); got != 1 {
		t.Fatalf("tube_plan_tick_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PlanReady.WithLabelValues("2")); got != 1 {
		t.Fatalf("tube_plan_ready = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PlanRemaining.WithLabelValues("2")); got != 42.5 {
		t.Fatalf("tube_plan_remaining_seconds = %v, want 42.5", got)
	}
	if got := testutil.ToFloat64(c.PlanBattery.WithLabelValues("2")); got != 100 {
		t.Fatalf("tube_plan_battery_percent = %v, want clamped 100", got)
	}
	if count := histogramSampleCount(t, reg, "tube_plan_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("tube_plan_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *TubeCollector
	c.ObserveTransition(1, weapon.StateOff, weapon.StateOn)
	c.IncCommand(1, "control", "ok")
	c.ObservePlanTick(1, time.Millisecond, true)
	c.SetPlanResult(1, false, 0, 0)
	c.IncTelemetryDropped()

	var cc *ControlCollector
	_, err := cc.UnaryServerInterceptor()(context.Background(), nil, nil, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("nil collector interceptor: %v", err)
	}
}

func TestMetricsHandlerExposesTubeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tubes, err := NewTubeCollector(reg)
	if err != nil {
		t.Fatalf("NewTubeCollector: %v", err)
	}
	control, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}
	tubes.ObserveTransition(3, weapon.StateOff, weapon.StateOn)
	tubes.IncCommand(3, "assign", "ok")
	tubes.SetPlanResult(3, false, 12, 88)
	tubes.IncTelemetryDropped()
	control.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	control.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"control_requests_total",
		"tube_control_state",
		"tube_state_transitions_total",
		"tube_commands_total",
		"tube_plan_ready",
		"tube_plan_remaining_seconds",
		"tube_plan_battery_percent",
		"tube_telemetry_dropped_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, `tube_plan_battery_percent{tube="3"} 88`) {
		t.Fatalf("/metrics output missing battery gauge value: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
