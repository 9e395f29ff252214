package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ScriptToMovie-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypePipelineRun = "pipeline:run"
)

type PipelineRunPayload struct {
	ProjectID string `json:"project_id"`
	Resume    bool   `json:"resume"`
}

var QueueClient *asynq.Client

func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueuePipelineRun schedules a pipeline run for a project. Queue-level
// retry is disabled: re-execution is owned by the lease + resume path, and a
// blind redelivery would just bounce off AlreadyRunning.
func EnqueuePipelineRun(projectID string, resume bool) error {
	payload, err := json.Marshal(PipelineRunPayload{ProjectID: projectID, Resume: resume})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypePipelineRun, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(6*time.Hour), // full runs are long; generation dominates
		asynq.Retention(24*time.Hour),
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] pipeline run enqueued: project=%s queue_id=%s resume=%v", projectID, info.ID, resume)
	return nil
}

// Processor consumes queued pipeline runs.
type Processor struct {
	pipeline *Pipeline
}

func NewProcessor(pipeline *Pipeline) *Processor {
	return &Processor{pipeline: pipeline}
}

// StartProcessor launches the asynq consumer. Concurrency here is the number
// of simultaneous project runs; within a run, stage concurrency is bounded
// separately by the pipeline config.
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineRun, p.HandlePipelineRun)

	log.Printf("starting pipeline processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run queue server: %v", err)
		}
	}()
}

func (p *Processor) HandlePipelineRun(ctx context.Context, t *asynq.Task) error {
	var payload PipelineRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("processing pipeline run: project=%s resume=%v", payload.ProjectID, payload.Resume)

	var err error
	if payload.Resume {
		err = p.pipeline.ResumePipeline(ctx, payload.ProjectID)
	} else {
		err = p.pipeline.StartPipeline(ctx, payload.ProjectID)
	}
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			log.Printf("pipeline run skipped, already running: project=%s", payload.ProjectID)
			return nil
		}
		// Failure state is already persisted on the project; redelivery
		// would not help, the user retries through the resume endpoint.
		log.Printf("pipeline run ended with error: project=%s err=%v", payload.ProjectID, err)
		return nil
	}
	return nil
}
