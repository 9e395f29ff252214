package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ScriptToMovie-server/config"
	"ScriptToMovie-server/models"
)

// PipelineConfig carries the tuning knobs for one orchestrator.
type PipelineConfig struct {
	Concurrency        int
	MaxAttempts        int
	Backoff            time.Duration
	CallTimeout        time.Duration
	LeaseTTL           time.Duration
	SkipPolicy         string
	PlaceholderSeconds int
}

func PipelineConfigFromApp() PipelineConfig {
	pc := config.AppConfig.Pipeline
	return PipelineConfig{
		Concurrency:        pc.Concurrency,
		MaxAttempts:        pc.MaxAttempts,
		Backoff:            time.Duration(pc.BackoffSeconds) * time.Second,
		CallTimeout:        time.Duration(pc.CallTimeoutMinutes) * time.Minute,
		LeaseTTL:           time.Duration(pc.LeaseTTLMinutes) * time.Minute,
		SkipPolicy:         pc.SkipPolicy,
		PlaceholderSeconds: pc.PlaceholderSeconds,
	}
}

// Pipeline sequences the generation phases for a project: parse the script
// into scenes, generate per-scene artifacts stage by stage, assemble the
// final movie. All per-item state is persisted as GenerationTask rows, so a
// re-run re-derives its work list from the database and skips whatever is
// already done.
type Pipeline struct {
	repo  Repo
	store ArtifactStore
	cap   Capability
	lease Lease
	media MediaTool
	cfg   PipelineConfig
}

func NewPipeline(repo Repo, store ArtifactStore, cap Capability, lease Lease, media MediaTool, cfg PipelineConfig) *Pipeline {
	return &Pipeline{repo: repo, store: store, cap: cap, lease: lease, media: media, cfg: cfg}
}

// Run cancellation registry (projectID -> cancelFunc). The cancel API stops
// new item submission; in-flight generations finish or time out, they are
// never killed mid-write.
var runCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

func registerRunCancel(projectID string, cancel context.CancelFunc) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	runCancelRegistry.m[projectID] = cancel
}

func unregisterRunCancel(projectID string) {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	delete(runCancelRegistry.m, projectID)
}

// CancelRun requests cancellation of an in-process run. Returns whether a
// run was found in this process.
func CancelRun(projectID string) bool {
	runCancelRegistry.Lock()
	defer runCancelRegistry.Unlock()
	if cancel, ok := runCancelRegistry.m[projectID]; ok {
		cancel()
		delete(runCancelRegistry.m, projectID)
		return true
	}
	return false
}

// StartPipeline runs the full pipeline for one project, exactly once at a
// time. The claim is a persisted lease with a TTL, so a crashed run never
// permanently blocks retries. Re-running a project whose phases already
// succeeded is a safe no-op: every stage finds its tasks completed.
func (p *Pipeline) StartPipeline(ctx context.Context, projectID string) error {
	token, err := p.lease.Acquire(ctx, projectID, p.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := p.lease.Release(context.Background(), projectID, token); relErr != nil {
			log.Printf("[pipeline] release lease for %s: %v", projectID, relErr)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	registerRunCancel(projectID, cancel)
	defer unregisterRunCancel(projectID)

	project, err := p.repo.GetProject(runCtx, projectID)
	if err != nil {
		return err
	}
	if project.Status == models.ProjectStatusCompleted {
		log.Printf("[pipeline] project %s already completed, nothing to do", projectID)
		return nil
	}

	log.Printf("[pipeline] starting run for project %s (status=%s)", projectID, project.Status)
	err = p.runPhases(runCtx, project, token)
	if err == nil {
		log.Printf("[pipeline] project %s completed", projectID)
		return nil
	}

	// Cancellation is a distinct terminal state, not a failure.
	if errors.Is(err, context.Canceled) {
		if dbErr := p.repo.SetProjectFailure(context.Background(), projectID, models.ProjectStatusCancelled, "pipeline cancelled by request"); dbErr != nil {
			log.Printf("[pipeline] persist cancelled state for %s: %v", projectID, dbErr)
		}
		log.Printf("[pipeline] project %s cancelled", projectID)
		return err
	}

	msg := fmt.Sprintf("pipeline halted: %v", err)
	if dbErr := p.repo.SetProjectFailure(context.Background(), projectID, models.ProjectStatusFailed, msg); dbErr != nil {
		log.Printf("[pipeline] persist failed state for %s: %v", projectID, dbErr)
	}
	log.Printf("[pipeline] project %s failed: %v", projectID, err)
	return err
}

// ResumePipeline re-invokes the pipeline from the project's persisted state.
// Nothing beyond StartPipeline is needed: stages re-derive their work from
// GenerationTask rows, so completed items are skipped and the run effectively
// continues where it stopped.
func (p *Pipeline) ResumePipeline(ctx context.Context, projectID string) error {
	return p.StartPipeline(ctx, projectID)
}

// Progress checkpoints written together with the status transition at each
// phase boundary, so status and progress never disagree.
const (
	progressParsed     = 33
	progressStoryboard = 66
	progressVideos     = 90
	progressDone       = 100
)

// statusRank orders the healthy phase statuses; failed/cancelled rank zero
// because the phase they interrupted is recovered from progress instead.
var statusRank = map[string]int{
	models.ProjectStatusDraft:                0,
	models.ProjectStatusParsing:              1,
	models.ProjectStatusParsed:               2,
	models.ProjectStatusGeneratingStoryboard: 3,
	models.ProjectStatusGeneratingVideos:     4,
	models.ProjectStatusAssembling:           5,
	models.ProjectStatusCompleted:            6,
}

// resumeFloor is the phase a resume re-enters at. Status alone is not enough:
// a failed run overwrote it, so the persisted progress checkpoint recovers
// how far the project got.
func resumeFloor(status string, progress int) int {
	floor := statusRank[status]
	var fromProgress int
	switch {
	case progress >= progressVideos:
		fromProgress = statusRank[models.ProjectStatusAssembling]
	case progress >= progressStoryboard:
		fromProgress = statusRank[models.ProjectStatusGeneratingVideos]
	case progress >= progressParsed:
		fromProgress = statusRank[models.ProjectStatusGeneratingStoryboard]
	}
	if fromProgress > floor {
		floor = fromProgress
	}
	return floor
}

func (p *Pipeline) runPhases(ctx context.Context, project *models.Project, leaseToken string) error {
	// A resume re-enters the phase the run stopped in; earlier phases still
	// execute (each is a no-op against persisted state) but their status
	// writes are suppressed so the visible state machine never rewinds.
	floor := resumeFloor(project.Status, project.Progress)
	setState := func(status string, progress int) error {
		if statusRank[status] < floor {
			return nil
		}
		return p.repo.SetProjectState(ctx, project.ID, status, progress)
	}

	// Phase 1: script -> scenes, then the reusable visual profile.
	if err := setState(models.ProjectStatusParsing, 0); err != nil {
		return err
	}
	if err := p.breakdownScenes(ctx, project); err != nil {
		return err
	}
	if err := p.buildVisualProfile(ctx, project); err != nil {
		return err
	}
	if err := setState(models.ProjectStatusParsed, progressParsed); err != nil {
		return err
	}
	if err := p.checkpoint(ctx, project.ID, leaseToken); err != nil {
		return err
	}

	// Phase 2: storyboard images.
	if err := setState(models.ProjectStatusGeneratingStoryboard, progressParsed); err != nil {
		return err
	}
	if err := p.runGenerationStage(ctx, project.ID, p.storyboardStage()); err != nil {
		return err
	}
	if err := setState(models.ProjectStatusGeneratingVideos, progressStoryboard); err != nil {
		return err
	}
	if err := p.checkpoint(ctx, project.ID, leaseToken); err != nil {
		return err
	}

	// Phase 3: motion prompts, clips, narration, then assembly.
	for _, def := range []StageDef{p.motionPromptStage(), p.videoClipStage(), p.narrationStage()} {
		if err := p.runGenerationStage(ctx, project.ID, def); err != nil {
			return err
		}
		if err := p.checkpoint(ctx, project.ID, leaseToken); err != nil {
			return err
		}
	}
	if err := setState(models.ProjectStatusAssembling, progressVideos); err != nil {
		return err
	}
	if _, err := p.assemble(ctx, project.ID); err != nil {
		return err
	}
	return p.repo.SetProjectState(ctx, project.ID, models.ProjectStatusCompleted, progressDone)
}

// runGenerationStage runs one stage to full resolution and records its item
// failures as project warnings. Item failures never halt the run; only
// structural errors propagate.
func (p *Pipeline) runGenerationStage(ctx context.Context, projectID string, def StageDef) error {
	summary, err := p.runStage(ctx, projectID, def)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		log.Printf("[pipeline] stage %s: %d of %d items failed, pipeline continued",
			def.Kind, summary.Failed, summary.Total)
		if err := p.repo.AddProjectWarnings(ctx, projectID, summary.Failed); err != nil {
			return err
		}
	}
	return nil
}

// checkpoint refreshes the lease between stages; losing it means another run
// claimed the project after our TTL expired, so this run must stop.
func (p *Pipeline) checkpoint(ctx context.Context, projectID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.lease.Extend(ctx, projectID, token, p.cfg.LeaseTTL); err != nil {
		return fmt.Errorf("run lease lost: %w", err)
	}
	return nil
}
