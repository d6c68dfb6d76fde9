package observe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

var (
	_ Observer = (*observer)(nil)
	_ Logger   = (*zapLogger)(nil)
	_ Tracer   = (*tracerImpl)(nil)
	_ Tracer   = (*noopTracer)(nil)
	_ Metrics  = (*metricsImpl)(nil)
	_ Metrics  = noopMetrics{}
)

// Every no-op primitive must tolerate the full call surface used by the
// cache and batch packages.
func TestNoopSurface(t *testing.T) {
	ctx := context.Background()
	comp := Component{Kind: KindBatch, Name: "embed"}
	inst := Nop()

	_, err := inst.Span(ctx, comp, "dispatch", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Span() error = %v", err)
	}

	inst.Metrics.RecordCacheAccess(ctx, comp, false)
	inst.Metrics.RecordEviction(ctx, comp, 3, 1<<10)
	inst.Metrics.RecordBatch(ctx, comp, 8, time.Millisecond, errors.New("upstream"))
	inst.Metrics.RecordTaskOutcome(ctx, comp, OutcomeFailed, 8)

	l := inst.Logger.WithComponent(comp)
	l.Debug(ctx, "d")
	l.Info(ctx, "i", Field{Key: "token", Value: "sk-1"})
	l.Warn(ctx, "w")
	l.Error(ctx, "e")
}

func TestObserverFeedsInstrumentation(t *testing.T) {
	for _, exporter := range []string{"none", "stdout"} {
		t.Run(exporter, func(t *testing.T) {
			obs, err := NewObserver(context.Background(), Config{
				ServiceName: "modelops-test",
				Tracing:     TracingConfig{Enabled: true, Exporter: exporter, SamplePct: 1},
				Metrics:     MetricsConfig{Enabled: true, Exporter: exporter},
				Output:      io.Discard,
			})
			if err != nil {
				t.Fatalf("NewObserver() error = %v", err)
			}
			t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

			inst, err := InstrumentationFromObserver(obs)
			if err != nil {
				t.Fatalf("InstrumentationFromObserver() error = %v", err)
			}
			want := errors.New("boom")
			_, got := inst.Span(context.Background(), Component{Kind: KindCache, Name: "kv"}, "load",
				func(context.Context) error { return want })
			if !errors.Is(got, want) {
				t.Errorf("Span() error = %v, want %v", got, want)
			}
		})
	}
}
