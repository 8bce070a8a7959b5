package embeddings

import (
	"context"
	"testing"

	"github.com/cliairmonitor/epimem/internal/types"
)

type fakeProvider struct {
	vectors map[string][]float32
	dim     int
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, f.dim), nil
}

func (f *fakeProvider) Dimensions() int { return f.dim }

func TestGetAdaptedEmbeddingFallsBackWithoutAdapter(t *testing.T) {
	base := &fakeProvider{dim: 4, vectors: map[string][]float32{"hello": {1, 2, 3, 4}}}
	adapter := NewContextAwareProvider(base)

	vec, err := adapter.GetAdaptedEmbedding(context.Background(), "hello", types.TaskDebugging)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range vec {
		if v != float32(i+1) {
			t.Fatalf("expected unchanged base embedding, got %v", vec)
		}
	}
}

func TestTrainCreatesAdapterAndIncrementsCount(t *testing.T) {
	base := &fakeProvider{dim: 4, vectors: map[string][]float32{
		"anchor":   {1, 1, 1, 1},
		"positive": {1, 1, 1, 1},
		"negative": {5, 5, 5, 5},
	}}
	adapter := NewContextAwareProvider(base)

	n, err := adapter.Train(context.Background(), types.TaskDebugging, []Triple{
		{Anchor: "anchor", Positive: "positive", Negative: "negative"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 trained triple, got %d", n)
	}
	if got := adapter.TrainedOnCount(types.TaskDebugging); got != 1 {
		t.Fatalf("expected trained_on_count 1, got %d", got)
	}
}

func TestGetAdaptedEmbeddingAppliesTrainedAdapter(t *testing.T) {
	base := &fakeProvider{dim: 2, vectors: map[string][]float32{
		"anchor":   {2, 2},
		"positive": {2, 2},
		"negative": {0, 0},
		"query":    {2, 2},
	}}
	adapter := NewContextAwareProvider(base)
	if _, err := adapter.Train(context.Background(), types.TaskDebugging, []Triple{
		{Anchor: "anchor", Positive: "positive", Negative: "negative"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vec, err := adapter.GetAdaptedEmbedding(context.Background(), "query", types.TaskDebugging)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2-dim output, got %d", len(vec))
	}

	otherVec, err := adapter.GetAdaptedEmbedding(context.Background(), "query", types.TaskTesting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherVec[0] != 2 || otherVec[1] != 2 {
		t.Fatalf("expected untrained task type to fall back unchanged, got %v", otherVec)
	}
}
