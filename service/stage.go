package service

import (
	"context"
	"errors"
	"log"
	"time"

	"ScriptToMovie-server/models"

	"golang.org/x/sync/errgroup"
)

// ErrNoScenes is the structural failure for a project with no scenes at all;
// it aborts the pipeline, unlike any individual item failure.
var ErrNoScenes = errors.New("no scenes exist for project")

// StageFunc drives one scene through one stage's generation. On success it
// returns the artifact URL and object-store key.
type StageFunc func(ctx context.Context, sc *models.Scene, task *models.GenerationTask) (ref string, key string, err error)

// StageDef is one kind of per-scene generation work, registered as a plain
// function rather than a type hierarchy.
type StageDef struct {
	Kind        string
	MaxAttempts int
	Backoff     time.Duration
	CallTimeout time.Duration
	// Vacuous marks scenes for which the stage has nothing to generate
	// (narration for a scene without dialogue). The task is completed
	// empty so the 1:1 scene/task invariant holds.
	Vacuous func(sc *models.Scene) bool
	Run     StageFunc
}

// StageSummary is the per-item outcome tally a stage run hands back to the
// orchestrator. Item failures live here; they are never thrown.
type StageSummary struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
}

const (
	outcomeCompleted = iota
	outcomeFailed
	outcomeSkipped
)

// runStage fans the stage's worker out over every scene of the project under
// bounded concurrency. Submission follows scene order; completion may
// interleave. Only structural problems (no scenes) are returned as errors —
// a single item exhausting its retries marks its own task failed and the
// runner moves on.
func (p *Pipeline) runStage(ctx context.Context, projectID string, def StageDef) (StageSummary, error) {
	scenes, err := p.repo.ListScenes(ctx, projectID)
	if err != nil {
		return StageSummary{}, err
	}
	if len(scenes) == 0 {
		return StageSummary{}, ErrNoScenes
	}

	summary := StageSummary{Total: len(scenes)}
	outcomes := make([]int, len(scenes))

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)

	var submitErr error
	for i := range scenes {
		if ctx.Err() != nil {
			// Cancellation: stop submitting, let in-flight items finish.
			outcomes[i] = outcomeSkipped
			continue
		}
		sc := &scenes[i]

		task, err := p.repo.GetOrCreateTask(ctx, projectID, sc.ID, def.Kind)
		if err != nil {
			// Stop submitting, but drain in-flight workers below before
			// reporting the failure.
			outcomes[i] = outcomeSkipped
			submitErr = err
			break
		}

		switch {
		case task.Status == models.TaskStatusCompleted:
			// Already paid for; never regenerate.
			outcomes[i] = outcomeSkipped
			continue
		case task.Status == models.TaskStatusFailed && task.Attempt >= def.MaxAttempts:
			// Exhausted on a previous run; degrade, don't retry further.
			// Counted as skipped so a resume doesn't re-report the failure.
			outcomes[i] = outcomeSkipped
			continue
		case def.Vacuous != nil && def.Vacuous(sc):
			task.Status = models.TaskStatusCompleted
			task.FinishedAt = time.Now()
			if err := p.repo.SaveTask(ctx, task); err != nil {
				outcomes[i] = outcomeSkipped
				submitErr = err
				break
			}
			outcomes[i] = outcomeSkipped
			continue
		}
		if submitErr != nil {
			break
		}

		idx := i
		g.Go(func() error {
			outcomes[idx] = p.runItem(ctx, def, sc, task)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if submitErr != nil {
		return summary, submitErr
	}

	for _, o := range outcomes {
		switch o {
		case outcomeCompleted:
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
		case outcomeSkipped:
			summary.Skipped++
		}
	}
	log.Printf("[stage:%s] project=%s completed=%d failed=%d skipped=%d",
		def.Kind, projectID, summary.Completed, summary.Failed, summary.Skipped)
	return summary, ctx.Err()
}

// runItem is one worker: bounded attempts with backoff, persisting status on
// every transition so a crash mid-stage resumes exactly where it stopped.
func (p *Pipeline) runItem(ctx context.Context, def StageDef, sc *models.Scene, task *models.GenerationTask) int {
	for {
		task.Status = models.TaskStatusGenerating
		task.Attempt++
		if task.StartedAt.IsZero() {
			task.StartedAt = time.Now()
		}
		if err := p.repo.SaveTask(ctx, task); err != nil {
			log.Printf("[stage:%s] scene=%d save task failed: %v", def.Kind, sc.Order, err)
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if def.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, def.CallTimeout)
		}
		ref, key, err := def.Run(callCtx, sc, task)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			task.Status = models.TaskStatusCompleted
			task.ArtifactRef = ref
			task.ArtifactKey = key
			task.ErrorMessage = ""
			task.FinishedAt = time.Now()
			if saveErr := p.repo.SaveTask(ctx, task); saveErr != nil {
				log.Printf("[stage:%s] scene=%d save completion failed: %v", def.Kind, sc.Order, saveErr)
			}
			return outcomeCompleted
		}

		task.ErrorMessage = err.Error()
		if task.Attempt >= def.MaxAttempts {
			task.Status = models.TaskStatusFailed
			task.FinishedAt = time.Now()
			if saveErr := p.repo.SaveTask(ctx, task); saveErr != nil {
				log.Printf("[stage:%s] scene=%d save failure failed: %v", def.Kind, sc.Order, saveErr)
			}
			log.Printf("[stage:%s] scene=%d failed after %d attempts: %v", def.Kind, sc.Order, task.Attempt, err)
			return outcomeFailed
		}

		task.Status = models.TaskStatusPending
		if saveErr := p.repo.SaveTask(ctx, task); saveErr != nil {
			log.Printf("[stage:%s] scene=%d save retry state failed: %v", def.Kind, sc.Order, saveErr)
		}
		log.Printf("[stage:%s] scene=%d attempt %d failed, retrying in %s: %v",
			def.Kind, sc.Order, task.Attempt, def.Backoff, err)

		select {
		case <-ctx.Done():
			return outcomeSkipped
		case <-time.After(def.Backoff):
		}
	}
}
