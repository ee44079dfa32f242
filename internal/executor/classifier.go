package executor

import (
	"fmt"
	"strings"
)

// KeywordClassifier categorises tool calls by name suffix. It serves as
// the process-local classifier when no external one is wired in; the
// executor treats it like any other ports.Classifier.
type KeywordClassifier struct{}

var suffixCategories = []struct {
	suffix   string
	category string
}{
	{"_send_message", "message_send"},
	{"_send", "message_send"},
	{"_calendar_create", "calendar_create"},
	{"_calendar_update", "calendar_update"},
	{"_calendar_delete", "calendar_delete"},
	{"_create", "task_create"},
	{"_update", "task_update"},
	{"_delete", "file_delete"},
	{"_write", "file_write"},
	{"_read", "read"},
	{"_get", "read"},
	{"_list", "list"},
	{"_search", "search"},
	{"_query", "query"},
}

// ClassifyOperation maps a tool name onto an operation category, or
// fails when no suffix matches.
func (KeywordClassifier) ClassifyOperation(toolName string, _ map[string]any) (string, error) {
	lowered := strings.ToLower(toolName)
	for _, rule := range suffixCategories {
		if strings.HasSuffix(lowered, rule.suffix) {
			return rule.category, nil
		}
	}
	return "", fmt.Errorf("no category for tool %q", toolName)
}
