package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// TextGenerator is the slice of Capability the structured call layer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Validator is implemented by structured-output targets; Validate reports
// missing/invalid fields so the refinement prompt can name them.
type Validator interface {
	Validate() error
}

// StructuredGenerationError is returned when the refinement budget is
// exhausted without a parseable, valid response.
type StructuredGenerationError struct {
	Attempts int
	LastErr  error
	LastRaw  string
}

func (e *StructuredGenerationError) Error() string {
	return fmt.Sprintf("structured generation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *StructuredGenerationError) Unwrap() error {
	return e.LastErr
}

const jsonOnlyInstruction = "\n\nRespond with valid JSON only, no other text."

// InvokeStructured obtains typed data from a text capability that by default
// returns free-form prose. On a parse or validation failure it retries with a
// refinement prompt carrying the original request, the invalid output, and
// the specific error. Transport errors are returned immediately: the caller's
// own retry budget (the stage worker's) handles those, while the refinement
// budget here is inner to a single worker attempt.
func InvokeStructured(ctx context.Context, gen TextGenerator, prompt string, out Validator, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	current := prompt + jsonOnlyInstruction
	var lastErr error
	var lastRaw string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := gen.GenerateText(ctx, current)
		if err != nil {
			return fmt.Errorf("text generation failed: %w", err)
		}
		lastRaw = raw

		cleaned := stripCodeFences(raw)

		// Zero the target so a valid-but-sparser retry can't inherit
		// fields from an earlier malformed response.
		v := reflect.ValueOf(out).Elem()
		v.Set(reflect.Zero(v.Type()))

		if err := json.Unmarshal([]byte(cleaned), out); err != nil {
			lastErr = fmt.Errorf("invalid JSON: %w", err)
		} else if err := out.Validate(); err != nil {
			lastErr = fmt.Errorf("schema validation failed: %w", err)
		} else {
			return nil
		}

		current = refinementPrompt(prompt, raw, lastErr)
	}

	return &StructuredGenerationError{
		Attempts: maxAttempts,
		LastErr:  lastErr,
		LastRaw:  lastRaw,
	}
}

func refinementPrompt(original, invalidOutput string, cause error) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString(jsonOnlyInstruction)
	b.WriteString("\n\nYour previous response was invalid.\n\nPrevious response:\n")
	b.WriteString(invalidOutput)
	b.WriteString("\n\nProblem: ")
	b.WriteString(cause.Error())
	b.WriteString("\n\nReturn a corrected JSON response.")
	return b.String()
}

// stripCodeFences removes a surrounding ```json ... ``` block if the model
// wrapped its output despite the instruction.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
