package ports

import "context"

// Agent executes one kind of domain action. Implementations must treat
// credential as opaque and may ignore it.
type Agent interface {
	Execute(ctx context.Context, parameters map[string]any, execCtx ExecutionContext, credential string) (*AgentResult, error)
}

// PreviewGenerator is implemented by agents that can describe an
// action without performing it.
type PreviewGenerator interface {
	GeneratePreview(ctx context.Context, parameters map[string]any, execCtx ExecutionContext) (*ActionPreview, error)
}

// ServiceCategorized is implemented by agents whose credentials are
// scoped to a service category rather than the agent name.
type ServiceCategorized interface {
	ServiceCategory() string
}

// Registry resolves agent names. GetAgent returns nil for unknown
// names.
type Registry interface {
	GetAgent(name string) Agent
}

// CredentialResolver looks up a valid credential for a tenant-scoped
// user and service category.
type CredentialResolver interface {
	GetValidCredential(ctx context.Context, tenantID, userID, serviceCategory string) (string, error)
}

// Classifier assigns a tool call to an operation category for
// confirmation policy decisions.
type Classifier interface {
	ClassifyOperation(toolName string, parameters map[string]any) (string, error)
}
