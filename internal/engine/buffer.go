package engine

import (
	"sync"
	"time"

	"github.com/cliairmonitor/epimem/internal/types"
)

// stepBuffer accumulates log_step calls for one episode between
// flushes, per spec.md §4.2. It is exclusive per episode (spec.md §5's
// "Shared-resource policy").
type stepBuffer struct {
	mu        sync.Mutex
	steps     []types.ExecutionStep
	createdAt time.Time
}

func newStepBuffer(now time.Time) *stepBuffer {
	return &stepBuffer{createdAt: now}
}

// append adds step and reports whether the buffer has crossed either
// flush threshold.
func (b *stepBuffer) append(step types.ExecutionStep, size int, maxAge time.Duration, now time.Time) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps = append(b.steps, step)
	return len(b.steps) >= size || now.Sub(b.createdAt) >= maxAge
}

// drain returns and clears the buffered steps, resetting createdAt so
// the next flush window starts fresh.
func (b *stepBuffer) drain(now time.Time) []types.ExecutionStep {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.steps
	b.steps = nil
	b.createdAt = now
	return out
}

// empty reports whether the buffer currently holds no steps.
func (b *stepBuffer) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.steps) == 0
}
