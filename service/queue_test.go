package service

import (
	"context"
	"encoding/json"
	"testing"

	"ScriptToMovie-server/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePipelineRunBadPayloadSkipsRetry(t *testing.T) {
	env := newTestEnv(testConfig())
	proc := NewProcessor(env.pipe)

	task := asynq.NewTask(TypePipelineRun, []byte("not json"))
	err := proc.HandlePipelineRun(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlePipelineRunSwallowsRunErrors(t *testing.T) {
	env := newTestEnv(testConfig())
	proc := NewProcessor(env.pipe)

	// Unknown project fails the run; the handler must not ask for redelivery,
	// failure state is the project's to keep.
	payload, err := json.Marshal(PipelineRunPayload{ProjectID: "missing"})
	require.NoError(t, err)
	assert.NoError(t, proc.HandlePipelineRun(context.Background(), asynq.NewTask(TypePipelineRun, payload)))
}

func TestHandlePipelineRunExecutesRun(t *testing.T) {
	env := newTestEnv(testConfig())
	env.seedProject("p1", "script")
	proc := NewProcessor(env.pipe)

	payload, err := json.Marshal(PipelineRunPayload{ProjectID: "p1", Resume: true})
	require.NoError(t, err)
	require.NoError(t, proc.HandlePipelineRun(context.Background(), asynq.NewTask(TypePipelineRun, payload)))

	project, err := env.repo.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, project.Status)
}
