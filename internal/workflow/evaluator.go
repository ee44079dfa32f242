package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// CompletionFunc produces a raw model completion for a prompt. The
// JSON evaluators below turn such a function into typed phase
// evaluators, tolerating the malformed JSON language models emit.
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// JSONReadinessEvaluator adapts a completion function into a
// ReadinessEvaluator. The model must answer with an object holding
// needs_user_input, required_info and updated_context.
type JSONReadinessEvaluator struct {
	Complete CompletionFunc
}

func (e *JSONReadinessEvaluator) EvaluateReadiness(ctx context.Context, narrative string, meta Meta) (*ReadinessResult, error) {
	raw, err := e.Complete(ctx, readinessPrompt(narrative))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		NeedsUserInput bool   `json:"needs_user_input"`
		RequiredInfo   string `json:"required_info"`
		UpdatedContext string `json:"updated_context"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("readiness response: %w", err)
	}
	return &ReadinessResult{
		NeedsUserInput: parsed.NeedsUserInput,
		RequiredInfo:   parsed.RequiredInfo,
		UpdatedContext: parsed.UpdatedContext,
	}, nil
}

// JSONActionEvaluator adapts a completion function into an
// ActionEvaluator.
type JSONActionEvaluator struct {
	Complete CompletionFunc
}

func (e *JSONActionEvaluator) EvaluateAction(ctx context.Context, narrative string, meta Meta) (*ActionResult, error) {
	raw, err := e.Complete(ctx, actionPrompt(narrative))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		UpdatedContext string `json:"updated_context"`
		Agent          string `json:"agent"`
		Request        string `json:"request"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("action response: %w", err)
	}
	return &ActionResult{
		UpdatedContext: parsed.UpdatedContext,
		Agent:          parsed.Agent,
		Request:        parsed.Request,
	}, nil
}

// JSONProgressEvaluator adapts a completion function into a
// ProgressEvaluator.
type JSONProgressEvaluator struct {
	Complete CompletionFunc
}

func (e *JSONProgressEvaluator) EvaluateProgress(ctx context.Context, narrative string, meta Meta) (*ProgressResult, error) {
	raw, err := e.Complete(ctx, progressPrompt(narrative))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		UpdatedContext string   `json:"updated_context"`
		NewSteps       []string `json:"new_steps"`
	}
	if err := decodeModelJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("progress response: %w", err)
	}
	return &ProgressResult{
		UpdatedContext: parsed.UpdatedContext,
		NewSteps:       parsed.NewSteps,
	}, nil
}

// decodeModelJSON unmarshals a model completion, repairing the JSON
// when strict parsing fails (fences, trailing commas, truncation).
func decodeModelJSON(raw string, target any) error {
	cleaned := stripCodeFences(raw)
	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return fmt.Errorf("unparseable JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return fmt.Errorf("invalid JSON after repair: %w", err)
	}
	return nil
}

func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func readinessPrompt(narrative string) string {
	return "Given the workflow context below, decide whether user input is required before continuing. " +
		`Answer with JSON: {"needs_user_input": bool, "required_info": string, "updated_context": string}.` +
		"\n\n" + narrative
}

func actionPrompt(narrative string) string {
	return "Given the workflow context below, decide the next agent action, if any. " +
		`Answer with JSON: {"updated_context": string, "agent": string, "request": string}. Leave agent empty when no action is needed.` +
		"\n\n" + narrative
}

func progressPrompt(narrative string) string {
	return "Given the workflow context below, list the remaining steps. " +
		`Answer with JSON: {"updated_context": string, "new_steps": [string]}. An empty new_steps means the task is complete.` +
		"\n\n" + narrative
}
