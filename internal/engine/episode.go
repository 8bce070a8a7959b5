package engine

import (
	"context"
	"log"
	"time"

	"github.com/cliairmonitor/epimem/internal/errors"
	"github.com/cliairmonitor/epimem/internal/types"
)

// StartEpisode creates a new episode in the Created→InProgress state,
// writes it to the in-memory map, and best-effort persists it to the
// cache and durable backends, per spec.md §4.2.
func (e *Engine) StartEpisode(ctx context.Context, taskDescription string, epCtx types.Context, taskType types.TaskType) (string, error) {
	now := time.Now()
	ep := &types.Episode{
		EpisodeID:       newEpisodeID(),
		TaskDescription: taskDescription,
		Context:         epCtx,
		TaskType:        taskType,
		StartTime:       now,
	}

	e.mu.Lock()
	e.episodes[ep.EpisodeID] = ep
	e.records[ep.EpisodeID] = &episodeRecord{state: StateInProgress, buffer: newStepBuffer(now)}
	e.mu.Unlock()

	e.writeBothBestEffort(ctx, ep)
	return ep.EpisodeID, nil
}

// LogStep appends step to episode_id's buffer, flushing to the
// in-memory episode and both backends once the buffer's size or age
// threshold is crossed. A missing or non-InProgress episode is logged
// and ignored, not an error, per spec.md §4.2.
func (e *Engine) LogStep(ctx context.Context, episodeID string, step types.ExecutionStep) error {
	e.mu.RLock()
	rec, ok := e.records[episodeID]
	e.mu.RUnlock()
	if !ok || !canAppendSteps(rec.state) {
		log.Printf("[ENGINE] log_step on unknown or non-in-progress episode %s ignored", episodeID)
		return nil
	}

	now := time.Now()
	shouldFlush := rec.buffer.append(step, e.cfg.StepBufferSize, e.cfg.StepBufferMaxAge, now)
	if shouldFlush {
		e.flushLocked(ctx, episodeID, rec)
	}
	return nil
}

// FlushSteps forces a flush of episode_id's step buffer regardless of
// threshold.
func (e *Engine) FlushSteps(ctx context.Context, episodeID string) error {
	e.mu.RLock()
	rec, ok := e.records[episodeID]
	e.mu.RUnlock()
	if !ok {
		log.Printf("[ENGINE] flush_steps on unknown episode %s ignored", episodeID)
		return nil
	}
	e.flushLocked(ctx, episodeID, rec)
	return nil
}

// flushLocked drains rec's buffer into the in-memory episode and
// persists the updated episode to both backends.
func (e *Engine) flushLocked(ctx context.Context, episodeID string, rec *episodeRecord) {
	if rec.buffer.empty() {
		return
	}
	drained := rec.buffer.drain(time.Now())

	e.mu.Lock()
	ep, ok := e.episodes[episodeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	ep.Steps = append(ep.Steps, drained...)
	e.mu.Unlock()

	e.writeBothBestEffort(ctx, ep)
}

// CompleteEpisode flushes pending steps, sets end_time and outcome,
// runs the post-completion pipeline, and persists the final episode.
// A second call on an already-completed (or otherwise non-InProgress)
// episode returns InvalidState, matching spec.md §8's idempotence
// requirement.
func (e *Engine) CompleteEpisode(ctx context.Context, episodeID string, outcome *types.TaskOutcome) error {
	e.mu.RLock()
	rec, ok := e.records[episodeID]
	e.mu.RUnlock()
	if !ok {
		return errors.NotFound("episode", episodeID)
	}
	if !canComplete(rec.state) {
		return errors.New(errors.KindInvalidState, "episode is not in progress").WithID(episodeID)
	}

	e.setState(episodeID, StateCompleting)
	e.flushLocked(ctx, episodeID, rec)

	now := time.Now()
	e.mu.Lock()
	ep, ok := e.episodes[episodeID]
	if !ok {
		e.mu.Unlock()
		e.setState(episodeID, StateInProgress)
		return errors.NotFound("episode", episodeID)
	}
	ep.EndTime = &now
	ep.Outcome = outcome
	e.mu.Unlock()

	result := e.runPipeline(ctx, ep, now)
	e.setState(episodeID, StateCompleted)

	durableErr := e.writeBothBestEffort(ctx, ep)
	e.publisher.PublishEpisodeCompleted(ctx, ep.Clone())

	if result.QualityGated {
		e.metrics.IncQualitySkipped()
	}
	for stage, count := range result.Failures {
		for i := 0; i < count; i++ {
			e.metrics.IncPipelineStageFailure(stage)
		}
	}

	// Per spec.md §4.9: a durable write failure in complete_episode is
	// propagated after the pipeline has already run on the in-memory copy.
	if durableErr != nil {
		return errors.Wrap(errors.KindStorage, "durable persistence failed after pipeline completion", durableErr).WithID(episodeID)
	}
	return nil
}

// GetEpisode returns the in-memory episode if tracked, falling back to
// the durable backend (for episodes loaded from a prior session) and
// finally the embedded cache.
func (e *Engine) GetEpisode(ctx context.Context, episodeID string) (*types.Episode, error) {
	if ep := e.snapshot(episodeID); ep != nil {
		return ep, nil
	}
	if e.durable != nil {
		if ep, err := e.durable.GetEpisode(ctx, episodeID); err == nil {
			return ep, nil
		}
	}
	if e.embedded != nil {
		if ep, err := e.embedded.GetEpisode(ctx, episodeID); err == nil {
			return ep, nil
		}
	}
	return nil, errors.NotFound("episode", episodeID)
}

// DeleteEpisode removes episodeID from the in-memory map, step
// buffers, cache (best-effort), and durable backend (authoritative).
// Embeddings are deleted first, then relationships, then the episode
// row, per spec.md §4.9's eviction ordering.
func (e *Engine) DeleteEpisode(ctx context.Context, episodeID string) error {
	e.mu.Lock()
	delete(e.episodes, episodeID)
	delete(e.records, episodeID)
	e.mu.Unlock()

	e.index.RemoveEpisode(episodeID)

	if e.embedded != nil {
		if err := e.embedded.DeleteEpisode(ctx, episodeID); err != nil {
			log.Printf("[ENGINE] cache delete failed for episode %s: %v", episodeID, err)
		}
	}
	if e.durable == nil {
		return nil
	}
	if err := e.durable.DeleteEpisode(ctx, episodeID); err != nil {
		return errors.Wrap(errors.KindStorage, "failed to delete episode from durable backend", err).WithID(episodeID)
	}
	return nil
}

// ArchiveEpisode toggles the reserved archived_at metadata key.
func (e *Engine) ArchiveEpisode(ctx context.Context, episodeID string) error {
	return e.toggleArchive(ctx, episodeID, true)
}

// RestoreEpisode clears the reserved archived_at metadata key.
func (e *Engine) RestoreEpisode(ctx context.Context, episodeID string) error {
	return e.toggleArchive(ctx, episodeID, false)
}

func (e *Engine) toggleArchive(ctx context.Context, episodeID string, archive bool) error {
	e.mu.Lock()
	ep, ok := e.episodes[episodeID]
	state := e.records[episodeID]
	if !ok || state == nil {
		e.mu.Unlock()
		return errors.NotFound("episode", episodeID)
	}
	if archive && !canArchive(state.state) {
		e.mu.Unlock()
		return errors.New(errors.KindInvalidState, "episode must be completed before archiving").WithID(episodeID)
	}
	if !archive && !canRestore(state.state) {
		e.mu.Unlock()
		return errors.New(errors.KindInvalidState, "episode is not archived").WithID(episodeID)
	}
	if ep.Metadata == nil {
		ep.Metadata = make(map[string]string)
	}
	if archive {
		ep.Metadata[types.ArchivedAtMetadataKey] = time.Now().Format(time.RFC3339)
		state.state = StateArchived
	} else {
		delete(ep.Metadata, types.ArchivedAtMetadataKey)
		state.state = StateCompleted
	}
	e.mu.Unlock()

	e.writeBothBestEffort(ctx, ep)
	return nil
}

// UpdateEpisode optionally replaces the task description and merges
// metadata (new keys overwrite existing ones); either argument may be
// zero-valued to skip that update.
func (e *Engine) UpdateEpisode(ctx context.Context, episodeID string, newDescription string, metadataMerge map[string]string) error {
	e.mu.Lock()
	ep, ok := e.episodes[episodeID]
	if !ok {
		e.mu.Unlock()
		return errors.NotFound("episode", episodeID)
	}
	if newDescription != "" {
		ep.TaskDescription = newDescription
	}
	if len(metadataMerge) > 0 {
		if ep.Metadata == nil {
			ep.Metadata = make(map[string]string, len(metadataMerge))
		}
		for k, v := range metadataMerge {
			ep.Metadata[k] = v
		}
	}
	e.mu.Unlock()

	e.writeBothBestEffort(ctx, ep)
	return nil
}

// AddEpisodeTags appends tags not already present on the episode.
func (e *Engine) AddEpisodeTags(ctx context.Context, episodeID string, tags []string) error {
	return e.mutateTags(ctx, episodeID, func(existing []string) []string {
		seen := make(map[string]struct{}, len(existing))
		for _, t := range existing {
			seen[t] = struct{}{}
		}
		for _, t := range tags {
			if _, ok := seen[t]; !ok {
				existing = append(existing, t)
				seen[t] = struct{}{}
			}
		}
		return existing
	})
}

// RemoveEpisodeTags removes the given tags if present.
func (e *Engine) RemoveEpisodeTags(ctx context.Context, episodeID string, tags []string) error {
	drop := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		drop[t] = struct{}{}
	}
	return e.mutateTags(ctx, episodeID, func(existing []string) []string {
		out := existing[:0]
		for _, t := range existing {
			if _, ok := drop[t]; !ok {
				out = append(out, t)
			}
		}
		return out
	})
}

// SetEpisodeTags replaces the episode's tag list outright.
func (e *Engine) SetEpisodeTags(ctx context.Context, episodeID string, tags []string) error {
	return e.mutateTags(ctx, episodeID, func([]string) []string { return tags })
}

// GetEpisodeTags returns the episode's current tag list.
func (e *Engine) GetEpisodeTags(episodeID string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.episodes[episodeID]
	if !ok {
		return nil, errors.NotFound("episode", episodeID)
	}
	return append([]string(nil), ep.Context.Tags...), nil
}

func (e *Engine) mutateTags(ctx context.Context, episodeID string, mutate func([]string) []string) error {
	e.mu.Lock()
	ep, ok := e.episodes[episodeID]
	if !ok {
		e.mu.Unlock()
		return errors.NotFound("episode", episodeID)
	}
	ep.Context.Tags = mutate(ep.Context.Tags)
	e.mu.Unlock()

	e.writeBothBestEffort(ctx, ep)
	return nil
}
