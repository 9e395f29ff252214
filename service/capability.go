package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Capability is the set of opaque generative functions the pipeline drives.
// Every call may fail, time out, or return malformed data; the pipeline
// assumes no retry or rate limiting on the far side.
type Capability interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateImage(ctx context.Context, prompt, refImageURL string) ([]byte, error)
	GenerateVideo(ctx context.Context, prompt, refImageURL string, durationSec int) ([]byte, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

// workerCapability talks to the GPU worker: POST /v1/generate returns a job
// id, GET /v1/jobs/{id} is polled until the job reports finished or failed,
// then the result resource is downloaded.
type workerCapability struct {
	endpoint string
	client   *http.Client
	interval time.Duration
}

func NewWorkerCapability(endpoint string) Capability {
	return &workerCapability{
		endpoint: endpoint,
		client:   &http.Client{},
		interval: 3 * time.Second,
	}
}

type workerJob struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		ResourceType string `json:"resource_type"`
		ResourceUrl  string `json:"resource_url"`
		Text         string `json:"text"`
	} `json:"result"`
}

func (w *workerCapability) GenerateText(ctx context.Context, prompt string) (string, error) {
	job, err := w.run(ctx, "generate_text", map[string]interface{}{
		"prompt": prompt,
	})
	if err != nil {
		return "", err
	}
	if job.Result.Text != "" {
		return job.Result.Text, nil
	}
	data, err := w.download(ctx, job.Result.ResourceUrl)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *workerCapability) GenerateImage(ctx context.Context, prompt, refImageURL string) ([]byte, error) {
	job, err := w.run(ctx, "generate_image", map[string]interface{}{
		"prompt":    prompt,
		"ref_image": refImageURL,
	})
	if err != nil {
		return nil, err
	}
	return w.download(ctx, job.Result.ResourceUrl)
}

func (w *workerCapability) GenerateVideo(ctx context.Context, prompt, refImageURL string, durationSec int) ([]byte, error) {
	job, err := w.run(ctx, "generate_video", map[string]interface{}{
		"prompt":    prompt,
		"ref_image": refImageURL,
		"duration":  durationSec,
	})
	if err != nil {
		return nil, err
	}
	return w.download(ctx, job.Result.ResourceUrl)
}

func (w *workerCapability) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	job, err := w.run(ctx, "synthesize_speech", map[string]interface{}{
		"text": text,
	})
	if err != nil {
		return nil, err
	}
	return w.download(ctx, job.Result.ResourceUrl)
}

// run submits a job and polls it to a terminal state.
func (w *workerCapability) run(ctx context.Context, jobType string, params map[string]interface{}) (*workerJob, error) {
	jobID, err := w.submit(ctx, jobType, params)
	if err != nil {
		return nil, err
	}
	log.Printf("[worker] job submitted: type=%s id=%s", jobType, jobID)
	return w.poll(ctx, jobID)
}

func (w *workerCapability) submit(ctx context.Context, jobType string, params map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"type":       jobType,
		"parameters": params,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/v1/generate", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok && jobID != "" {
		return jobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// poll checks the job every interval until it finishes, fails, or ctx ends.
// The hard per-call deadline comes from the caller's context.
func (w *workerCapability) poll(ctx context.Context, jobID string) (*workerJob, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", w.endpoint, jobID)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %w", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := w.client.Do(req)
			if err != nil {
				// Transient network error: keep polling, ctx.Done catches
				// cancellation-driven failures.
				log.Printf("[worker] poll error (retrying): %v", err)
				continue
			}
			var job workerJob
			decodeErr := json.NewDecoder(resp.Body).Decode(&job)
			resp.Body.Close()
			if decodeErr != nil {
				log.Printf("[worker] poll decode error (retrying): %v", decodeErr)
				continue
			}

			switch job.Status {
			case "finished", "success", "completed", "succeeded":
				return &job, nil
			case "failed", "error":
				return nil, fmt.Errorf("worker reported failure: %s", job.Error)
			}
			// anything else: still running
		}
	}
}

func (w *workerCapability) download(ctx context.Context, resourceURL string) ([]byte, error) {
	if resourceURL == "" {
		return nil, fmt.Errorf("result missing resource_url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
