package embeddings

import (
	"context"
	"sync"

	"github.com/cliairmonitor/epimem/internal/types"
)

// Triple is a contrastive training example: anchor should end up
// closer to positive than to negative after the adapter is applied.
type Triple struct {
	Anchor   string
	Positive string
	Negative string
}

// taskAdapter is a per-task-type diagonal linear transform: each
// embedding dimension is independently scaled, which is enough to
// pull anchor/positive closer and anchor/negative apart without the
// cost of a full dense matrix, and keeps training numerically stable
// with small triple counts.
type taskAdapter struct {
	scale         []float64
	trainedOnCount int
}

func newTaskAdapter(dim int) *taskAdapter {
	scale := make([]float64, dim)
	for i := range scale {
		scale[i] = 1.0
	}
	return &taskAdapter{scale: scale}
}

func (a *taskAdapter) apply(vec []float32) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		if i < len(a.scale) {
			out[i] = float32(float64(v) * a.scale[i])
		} else {
			out[i] = v
		}
	}
	return out
}

// update nudges scale toward pulling anchor closer to positive and
// away from negative, one dimension at a time, with a small fixed
// learning rate. This is a coordinate-wise contrastive step, not a
// full gradient descent solver — adequate for the online,
// small-batch training spec.md §4.8 describes.
func (a *taskAdapter) update(anchor, positive, negative []float32) {
	const lr = 0.01
	n := len(a.scale)
	for i := 0; i < n && i < len(anchor) && i < len(positive) && i < len(negative); i++ {
		posGap := float64(anchor[i]) - float64(positive[i])
		negGap := float64(anchor[i]) - float64(negative[i])
		// Want |posGap| to shrink and |negGap| to grow: scale down the
		// dimension when it widens the anchor/positive gap, scale up
		// when it's the dimension separating anchor from negative.
		grad := posGap*posGap - negGap*negGap
		a.scale[i] -= lr * grad
		if a.scale[i] < 0.1 {
			a.scale[i] = 0.1
		}
		if a.scale[i] > 3.0 {
			a.scale[i] = 3.0
		}
	}
	a.trainedOnCount++
}

// ContextAwareProvider wraps a base Provider with per-task-type
// adapters trained online from contrastive triples, per spec.md §4.8.
// With no trained adapter for a task type, GetAdaptedEmbedding falls
// back unchanged to the base embedding — backward-compatible by
// construction.
type ContextAwareProvider struct {
	base Provider

	mu       sync.Mutex
	adapters map[types.TaskType]*taskAdapter
}

// NewContextAwareProvider wraps base with an empty adapter set.
func NewContextAwareProvider(base Provider) *ContextAwareProvider {
	return &ContextAwareProvider{base: base, adapters: make(map[types.TaskType]*taskAdapter)}
}

// GetAdaptedEmbedding embeds text via the base provider, then applies
// the task_type's adapter if one has been trained.
func (c *ContextAwareProvider) GetAdaptedEmbedding(ctx context.Context, text string, taskType types.TaskType) ([]float32, error) {
	vec, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	adapter, ok := c.adapters[taskType]
	c.mu.Unlock()
	if !ok {
		return vec, nil
	}
	return adapter.apply(vec), nil
}

// Train embeds a batch of contrastive triples for taskType and applies
// an online update to that task type's adapter, creating it on first
// use sized to the base provider's current Dimensions().
func (c *ContextAwareProvider) Train(ctx context.Context, taskType types.TaskType, triples []Triple) (int, error) {
	c.mu.Lock()
	adapter, ok := c.adapters[taskType]
	if !ok {
		adapter = newTaskAdapter(c.base.Dimensions())
		c.adapters[taskType] = adapter
	}
	c.mu.Unlock()

	trained := 0
	for _, t := range triples {
		anchor, err := c.base.Embed(ctx, t.Anchor)
		if err != nil {
			return trained, err
		}
		positive, err := c.base.Embed(ctx, t.Positive)
		if err != nil {
			return trained, err
		}
		negative, err := c.base.Embed(ctx, t.Negative)
		if err != nil {
			return trained, err
		}

		c.mu.Lock()
		adapter.update(anchor, positive, negative)
		c.mu.Unlock()
		trained++
	}
	return trained, nil
}

// TrainedOnCount reports how many triples taskType's adapter has
// consumed, or 0 if no adapter exists yet.
func (c *ContextAwareProvider) TrainedOnCount(taskType types.TaskType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.adapters[taskType]
	if !ok {
		return 0
	}
	return a.trainedOnCount
}

// Dimensions delegates to the base provider.
func (c *ContextAwareProvider) Dimensions() int {
	return c.base.Dimensions()
}
