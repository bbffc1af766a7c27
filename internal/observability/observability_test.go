package observability

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/llm"
)

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

func TestTracerSetup_NilTracer(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Error("nil TracerSetup should still hand out a usable noop tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil TracerSetup: %v", err)
	}
}

// --- MetricsCollector ---

func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, l := range metric.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.SandboxExecutionsTotal.WithLabelValues("success").Inc()
	m.SandboxExecutionsTotal.WithLabelValues("success").Inc()
	m.SandboxExecutionsTotal.WithLabelValues("timeout").Inc()
	m.SessionsCreatedTotal.Inc()
	m.SessionsActive.Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/sessions", "201").Inc()

	if v := counterValue(t, m, "sanduku_sandbox_executions_total", map[string]string{"status": "success"}); v != 2 {
		t.Errorf("success executions = %v, want 2", v)
	}
	if v := counterValue(t, m, "sanduku_sandbox_executions_total", map[string]string{"status": "timeout"}); v != 1 {
		t.Errorf("timeout executions = %v, want 1", v)
	}
	if v := counterValue(t, m, "sanduku_session_created_total", nil); v != 1 {
		t.Errorf("sessions created = %v, want 1", v)
	}
	if v := counterValue(t, m, "sanduku_session_active", nil); v != 1 {
		t.Errorf("sessions active = %v, want 1", v)
	}
	if v := counterValue(t, m, "sanduku_http_requests_total", map[string]string{"status_code": "201"}); v != 1 {
		t.Errorf("http requests = %v, want 1", v)
	}
}

// --- InstrumentedProvider ---

type fakeProvider struct {
	resp *llm.Response
	err  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return f.resp, f.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fakeProvider{resp: &llm.Response{
		Content: "hi",
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 4},
	}}

	p := NewInstrumentedProvider(inner, m, nil)
	if p.Name() != "fake" {
		t.Errorf("Name = %q", p.Name())
	}

	resp, err := p.SendMessage(context.Background(), llm.UserPrompt("hello"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q", resp.Content)
	}

	if v := counterValue(t, m, "sanduku_llm_requests_total", map[string]string{"provider": "fake", "status": "success"}); v != 1 {
		t.Errorf("llm requests = %v, want 1", v)
	}
	if v := counterValue(t, m, "sanduku_llm_tokens_used_total", map[string]string{"direction": "input"}); v != 10 {
		t.Errorf("input tokens = %v, want 10", v)
	}
	if v := counterValue(t, m, "sanduku_llm_tokens_used_total", map[string]string{"direction": "output"}); v != 4 {
		t.Errorf("output tokens = %v, want 4", v)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	m := NewMetricsCollector()
	p := NewInstrumentedProvider(&fakeProvider{err: errors.New("boom")}, m, nil)

	if _, err := p.SendMessage(context.Background(), llm.UserPrompt("hello")); err == nil {
		t.Fatal("expected error to pass through")
	}
	if v := counterValue(t, m, "sanduku_llm_requests_total", map[string]string{"status": "error"}); v != 1 {
		t.Errorf("error requests = %v, want 1", v)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	// No metrics, no tracer: must still pass calls through.
	p := NewInstrumentedProvider(&fakeProvider{resp: &llm.Response{Content: "ok"}}, nil, nil)
	resp, err := p.SendMessage(context.Background(), llm.UserPrompt("hello"))
	if err != nil || resp.Content != "ok" {
		t.Fatalf("SendMessage: resp=%+v err=%v", resp, err)
	}
}
