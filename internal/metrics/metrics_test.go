package metrics

import (
	"context"
	"testing"
)

func TestRecorderInstrumentsDoNotPanic(t *testing.T) {
	ctx := context.Background()
	r, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := r.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	r.IncPipelineStageFailure("summarization")
	r.IncQualitySkipped()
	r.IncBackendWriteFailure("durable")
	r.ObserveRetrievalLatency(12.5)
}

func TestNewReturnsIndependentRecorders(t *testing.T) {
	ctx := context.Background()
	r1, err := New(ctx)
	if err != nil {
		t.Fatalf("New (1): %v", err)
	}
	defer r1.Shutdown(context.Background())

	r2, err := New(ctx)
	if err != nil {
		t.Fatalf("New (2): %v", err)
	}
	defer r2.Shutdown(context.Background())

	r1.IncQualitySkipped()
	r2.IncBackendWriteFailure("embedded")
}
