package executor

// Policy decides which tool calls need user confirmation and which
// tools are critical enough to halt a batch on failure.
//
// CategoryRules is consulted with the category produced by the
// classifier; AgentRules is the coarse per-tool fallback used when
// classification fails. DefaultRequire applies when neither has an
// entry — it defaults to true so unknown operations stay behind a
// confirmation.
type Policy struct {
	CategoryRules  map[string]bool
	AgentRules     map[string]bool
	CriticalTools  map[string]bool
	DefaultRequire bool
}

// DefaultPolicy returns the rules used when configuration provides
// none: mutating categories require confirmation, read-only ones do
// not.
func DefaultPolicy() Policy {
	return Policy{
		CategoryRules: map[string]bool{
			"message_send":    true,
			"calendar_create": true,
			"calendar_update": true,
			"calendar_delete": true,
			"task_create":     true,
			"task_update":     true,
			"file_write":      true,
			"file_delete":     true,
			"read":            false,
			"query":           false,
			"search":          false,
			"list":            false,
		},
		AgentRules:     map[string]bool{},
		CriticalTools:  map[string]bool{},
		DefaultRequire: true,
	}
}

// RequireForCategory reports whether a category needs confirmation.
func (p Policy) RequireForCategory(category string) bool {
	if required, ok := p.CategoryRules[category]; ok {
		return required
	}
	return p.DefaultRequire
}

// RequireForAgent is the fallback consulted when classification fails.
func (p Policy) RequireForAgent(toolName string) bool {
	if required, ok := p.AgentRules[toolName]; ok {
		return required
	}
	return p.DefaultRequire
}

// Critical reports whether a failing call to this tool halts a batch.
func (p Policy) Critical(toolName string) bool {
	return p.CriticalTools[toolName]
}
