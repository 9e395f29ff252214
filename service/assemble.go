package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"ScriptToMovie-server/models"
)

// ErrNoUsableSegments is fatal for the final artifact: an empty movie is
// never emitted.
var ErrNoUsableSegments = errors.New("no usable segments to assemble")

// Assembly skip policies for scenes whose clip generation failed.
const (
	SkipPolicyOmit        = "skip"
	SkipPolicyPlaceholder = "placeholder"
)

// assemble produces the final movie: per-scene segments normalized so the
// narration is never cut, concatenated strictly in scene order regardless of
// the order in which clips finished generating.
func (p *Pipeline) assemble(ctx context.Context, projectID string) (*models.FinalArtifact, error) {
	fa := &models.FinalArtifact{
		ProjectId: projectID,
		Kind:      models.FinalKindMovie,
		Status:    models.FinalStatusAssembling,
	}
	if err := p.repo.UpsertFinalArtifact(ctx, fa); err != nil {
		return nil, err
	}

	scenes, err := p.repo.ListScenes(ctx, projectID)
	if err != nil {
		return p.failAssembly(ctx, fa, err)
	}
	if len(scenes) == 0 {
		return p.failAssembly(ctx, fa, ErrNoScenes)
	}

	workDir, err := os.MkdirTemp("", "assemble_"+projectID+"_")
	if err != nil {
		return p.failAssembly(ctx, fa, err)
	}
	defer os.RemoveAll(workDir)

	var segmentPaths []string
	var totalDuration float64
	skipped := 0

	for i := range scenes {
		sc := &scenes[i]
		segPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d.mp4", sc.Order))

		clipTask, err := p.repo.GetTask(ctx, sc.ID, models.StageVideoClip)
		usable := err == nil && clipTask.Status == models.TaskStatusCompleted && clipTask.ArtifactKey != ""
		if !usable {
			skipped++
			if p.cfg.SkipPolicy != SkipPolicyPlaceholder {
				log.Printf("[assemble] project=%s scene=%d has no usable clip, omitting", projectID, sc.Order)
				continue
			}
			holdSec := float64(p.cfg.PlaceholderSeconds)
			if sc.Duration > 0 {
				holdSec = float64(sc.Duration)
			}
			if err := p.media.Placeholder(ctx, holdSec, segPath); err != nil {
				return p.failAssembly(ctx, fa, fmt.Errorf("placeholder for scene %d: %w", sc.Order, err))
			}
			segmentPaths = append(segmentPaths, segPath)
			totalDuration += holdSec
			continue
		}

		clipPath, err := p.fetchToFile(ctx, clipTask.ArtifactKey, filepath.Join(workDir, fmt.Sprintf("clip_%03d.mp4", sc.Order)))
		if err != nil {
			return p.failAssembly(ctx, fa, fmt.Errorf("fetch clip for scene %d: %w", sc.Order, err))
		}

		audioPath := ""
		if narrTask, err := p.repo.GetTask(ctx, sc.ID, models.StageNarrationAudio); err == nil &&
			narrTask.Status == models.TaskStatusCompleted && narrTask.ArtifactKey != "" {
			audioPath, err = p.fetchToFile(ctx, narrTask.ArtifactKey, filepath.Join(workDir, fmt.Sprintf("narration_%03d.mp3", sc.Order)))
			if err != nil {
				return p.failAssembly(ctx, fa, fmt.Errorf("fetch narration for scene %d: %w", sc.Order, err))
			}
		}

		clipDur, err := p.media.Probe(ctx, clipPath)
		if err != nil {
			return p.failAssembly(ctx, fa, fmt.Errorf("probe clip for scene %d: %w", sc.Order, err))
		}
		narrDur := 0.0
		if audioPath != "" {
			narrDur, err = p.media.Probe(ctx, audioPath)
			if err != nil {
				return p.failAssembly(ctx, fa, fmt.Errorf("probe narration for scene %d: %w", sc.Order, err))
			}
		}

		// Pad the shorter stream out to the longer one. Dialogue is never
		// truncated, so the segment is at least as long as the narration.
		target := clipDur
		if narrDur > target {
			target = narrDur
		}

		if err := p.media.NormalizeSegment(ctx, clipPath, audioPath, target, segPath); err != nil {
			return p.failAssembly(ctx, fa, fmt.Errorf("normalize segment for scene %d: %w", sc.Order, err))
		}
		segmentPaths = append(segmentPaths, segPath)
		totalDuration += target
	}

	if len(segmentPaths) == 0 {
		return p.failAssembly(ctx, fa, ErrNoUsableSegments)
	}

	finalPath := filepath.Join(workDir, "movie.mp4")
	if err := p.media.Concat(ctx, segmentPaths, finalPath); err != nil {
		return p.failAssembly(ctx, fa, fmt.Errorf("concat segments: %w", err))
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		return p.failAssembly(ctx, fa, err)
	}
	key := fmt.Sprintf("projects/%s/final/movie.mp4", projectID)
	ref, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return p.failAssembly(ctx, fa, fmt.Errorf("upload final movie: %w", err))
	}

	fa.Status = models.FinalStatusCompleted
	fa.ArtifactRef = ref
	fa.ArtifactKey = key
	fa.TotalDuration = totalDuration
	fa.SegmentCount = len(segmentPaths)
	fa.SkippedCount = skipped
	fa.ErrorMessage = ""
	fa.UpdatedAt = time.Now()
	if err := p.repo.UpsertFinalArtifact(ctx, fa); err != nil {
		return nil, err
	}
	log.Printf("[assemble] project=%s movie ready: %d segments, %.1fs, %d skipped",
		projectID, fa.SegmentCount, fa.TotalDuration, fa.SkippedCount)
	return fa, nil
}

func (p *Pipeline) failAssembly(ctx context.Context, fa *models.FinalArtifact, cause error) (*models.FinalArtifact, error) {
	fa.Status = models.FinalStatusFailed
	fa.ErrorMessage = cause.Error()
	if err := p.repo.UpsertFinalArtifact(ctx, fa); err != nil {
		return nil, err
	}
	return nil, cause
}

func (p *Pipeline) fetchToFile(ctx context.Context, key, path string) (string, error) {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
