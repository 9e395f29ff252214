package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted text generator: returns responses[i] (or errs[i]) for call i,
// repeating the last entry when calls outrun the script.
type scriptedGen struct {
	responses []string
	errs      []error
	prompts   []string
}

func (g *scriptedGen) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	i := len(g.prompts) - 1
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return g.responses[i], nil
}

func TestInvokeStructuredValidFirstResponse(t *testing.T) {
	gen := &scriptedGen{responses: []string{`{"prompt":"slow pan left across the alley"}`}}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.NoError(t, err)
	assert.Equal(t, "slow pan left across the alley", out.Prompt)
	assert.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Respond with valid JSON only")
}

func TestInvokeStructuredStripsCodeFences(t *testing.T) {
	gen := &scriptedGen{responses: []string{"```json\n{\"prompt\":\"dolly in\"}\n```"}}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.NoError(t, err)
	assert.Equal(t, "dolly in", out.Prompt)
}

func TestInvokeStructuredRefinesAfterInvalidJSON(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		"Sure! Here is the camera motion you asked for.",
		`{"prompt":"tilt up to the skyline"}`,
	}}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.NoError(t, err)
	assert.Equal(t, "tilt up to the skyline", out.Prompt)
	require.Len(t, gen.prompts, 2)

	// The refinement prompt carries the original request, the bad output,
	// and the concrete parse error.
	refined := gen.prompts[1]
	assert.Contains(t, refined, "describe camera motion")
	assert.Contains(t, refined, "previous response was invalid")
	assert.Contains(t, refined, "Sure! Here is the camera motion you asked for.")
	assert.Contains(t, refined, "invalid JSON")
}

func TestInvokeStructuredRefinesAfterSchemaFailure(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		`{"prompt":""}`,
		`{"prompt":"handheld follow shot"}`,
	}}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.NoError(t, err)
	assert.Equal(t, "handheld follow shot", out.Prompt)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "prompt is required")
}

func TestInvokeStructuredExhaustsBudget(t *testing.T) {
	gen := &scriptedGen{responses: []string{"still not json"}}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.Error(t, err)
	var sgErr *StructuredGenerationError
	require.ErrorAs(t, err, &sgErr)
	assert.Equal(t, 3, sgErr.Attempts)
	assert.Equal(t, "still not json", sgErr.LastRaw)
	assert.Len(t, gen.prompts, 3)
}

func TestInvokeStructuredTransportErrorReturnsImmediately(t *testing.T) {
	gen := &scriptedGen{
		responses: []string{""},
		errs:      []error{fmt.Errorf("worker unreachable")},
	}

	var out motionPromptResult
	err := InvokeStructured(context.Background(), gen, "describe camera motion", &out, 3)

	require.Error(t, err)
	var sgErr *StructuredGenerationError
	assert.False(t, errors.As(err, &sgErr), "transport errors must not consume the refinement budget")
	assert.Contains(t, err.Error(), "worker unreachable")
	assert.Len(t, gen.prompts, 1)
}

func TestInvokeStructuredDiscardsStaleFieldsBetweenAttempts(t *testing.T) {
	gen := &scriptedGen{responses: []string{
		// Parses, but fails validation on the duplicate order.
		`{"scenes":[{"order":0,"description":"stale first"},{"order":0,"description":"stale second"}]}`,
		`{"scenes":[{"order":0,"description":"the only scene"}]}`,
	}}

	var out sceneBreakdownResult
	err := InvokeStructured(context.Background(), gen, "break down the script", &out, 3)

	require.NoError(t, err)
	require.Len(t, out.Scenes, 1)
	assert.Equal(t, "the only scene", out.Scenes[0].Description)
}
