package confirmation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"aide/internal/ports"
)

// RedactionMarker replaces parameter values that look like secrets in
// fallback previews.
const RedactionMarker = "[REDACTED]"

var secretKeyPattern = regexp.MustCompile(`(?i)(token|password|passwd|secret|api[_-]?key|credential|authorization|private[_-]?key)`)

// redactParameters returns a copy of params with secret-like values
// replaced by the redaction marker. Nested maps are redacted
// recursively.
func redactParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	redacted := make(map[string]any, len(params))
	for key, value := range params {
		if secretKeyPattern.MatchString(key) {
			redacted[key] = RedactionMarker
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			redacted[key] = redactParameters(nested)
			continue
		}
		redacted[key] = value
	}
	return redacted
}

// generatePreview obtains an ActionPreview from the target agent, or
// synthesizes a conservative fallback when the agent has no preview
// capability or its preview call fails.
func (s *Service) generatePreview(ctx context.Context, actionID string, call ports.ToolCall, execCtx ports.ExecutionContext) ports.ActionPreview {
	agent := s.registry.GetAgent(call.Name)
	if agent != nil {
		if generator, ok := agent.(ports.PreviewGenerator); ok {
			preview, err := generator.GeneratePreview(ctx, call.Parameters, execCtx)
			if err == nil && preview != nil {
				result := *preview
				if result.ActionID == "" {
					result.ActionID = actionID
				}
				return result
			}
			if err != nil {
				s.logger.Warn("preview generation failed for %s, using fallback: %v", call.Name, err)
			}
		}
	}
	return fallbackPreview(actionID, call)
}

// fallbackPreview is the conservative synthesized preview: medium risk,
// confirmation always required, secret-like parameters redacted.
func fallbackPreview(actionID string, call ports.ToolCall) ports.ActionPreview {
	query := originalQuery(call.Parameters)
	description := fmt.Sprintf("Execute %s", call.Name)
	if query != "" {
		description = fmt.Sprintf("Execute %s: %s", call.Name, query)
	}

	return ports.ActionPreview{
		ActionID:    actionID,
		ActionType:  call.Name,
		Title:       fmt.Sprintf("Confirm %s", humanizeToolName(call.Name)),
		Description: description,
		Risk: ports.RiskAssessment{
			Level:   ports.RiskMedium,
			Factors: []string{"No preview available for this action"},
			Warnings: []string{
				"The exact effect of this action could not be previewed",
			},
		},
		Reversible:           false,
		RequiresConfirmation: true,
		OriginalQuery:        query,
		Parameters:           redactParameters(call.Parameters),
	}
}

func originalQuery(params map[string]any) string {
	for _, key := range []string{"query", "request", "message", "text"} {
		if value, ok := params[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func humanizeToolName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "_", " "), "-", " ")
}
