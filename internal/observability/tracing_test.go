package observability

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg.ServiceName != "campusrag" {
		t.Fatalf("expected service name 'campusrag', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestNestedSpans(t *testing.T) {
	ctx, retrieval := StartRetrievalSpan(context.Background(), "r-1", 3)
	RecordRoute(retrieval, []string{"faculty", "city"}, false, "classified")

	_, search := StartSearchSpan(ctx, "faculty", 3)
	RecordSearchResult(search, "ok", 3)
	search.End()

	_, slow := StartSearchSpan(ctx, "city", 3)
	RecordSearchResult(slow, "timeout", 0)
	RecordError(slow, errors.New("deadline exceeded"))
	RecordError(slow, nil)
	slow.End()

	RecordRetrieval(retrieval, "DONE", 3, true)
	retrieval.End()
}
