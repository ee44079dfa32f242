package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"aide/internal/apperrors"
	"aide/internal/ports"
)

type scriptedReadiness struct {
	results []*ReadinessResult
	err     error
	calls   int
}

func (s *scriptedReadiness) EvaluateReadiness(_ context.Context, _ string, _ Meta) (*ReadinessResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return result, nil
}

type scriptedAction struct {
	results []*ActionResult
	err     error
	calls   int
}

func (s *scriptedAction) EvaluateAction(_ context.Context, _ string, _ Meta) (*ActionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return result, nil
}

type scriptedProgress struct {
	results []*ProgressResult
	err     error
	calls   int
}

func (s *scriptedProgress) EvaluateProgress(_ context.Context, _ string, _ Meta) (*ProgressResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return result, nil
}

type recordingAgent struct {
	mu         sync.Mutex
	requests   []map[string]any
	credential string
	result     *ports.AgentResult
	err        error
	category   string
}

func (a *recordingAgent) Execute(_ context.Context, params map[string]any, _ ports.ExecutionContext, credential string) (*ports.AgentResult, error) {
	a.mu.Lock()
	a.requests = append(a.requests, params)
	a.credential = credential
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &ports.AgentResult{Success: true, Data: "email sent"}, nil
}

func (a *recordingAgent) ServiceCategory() string {
	return a.category
}

type testRegistry map[string]ports.Agent

func (r testRegistry) GetAgent(name string) ports.Agent { return r[name] }

type recordingResolver struct {
	mu         sync.Mutex
	tenantID   string
	userID     string
	category   string
	credential string
	err        error
}

func (r *recordingResolver) GetValidCredential(_ context.Context, tenantID, userID, category string) (string, error) {
	r.mu.Lock()
	r.tenantID, r.userID, r.category = tenantID, userID, category
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return r.credential, nil
}

func idle() *ReadinessResult { return &ReadinessResult{} }
func noAction() *ActionResult {
	return &ActionResult{}
}
func done() *ProgressResult { return &ProgressResult{} }
func more() *ProgressResult { return &ProgressResult{NewSteps: []string{"next"}} }

func newTestExecutor(registry ports.Registry, resolver ports.CredentialResolver, r ReadinessEvaluator, a ActionEvaluator, p ProgressEvaluator, cfg Config) *Executor {
	if registry == nil {
		registry = testRegistry{}
	}
	return NewExecutor(registry, resolver, r, a, p, cfg, nil)
}

func TestExecuteValidation(t *testing.T) {
	e := newTestExecutor(nil, nil, &scriptedReadiness{}, &scriptedAction{}, &scriptedProgress{}, Config{})

	_, err := e.Execute(context.Background(), Request{Task: "do it"})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for missing session, got %v", err)
	}
	_, err = e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "   "})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error for blank task, got %v", err)
	}
}

func TestExecuteCompletesWhenNoStepsRemain(t *testing.T) {
	e := newTestExecutor(nil, nil,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{noAction()}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{})

	result, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "summarize inbox"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != OutcomeCompleted || result.Iterations != 1 {
		t.Fatalf("expected completion after one iteration, got %#v", result)
	}
	if !strings.HasPrefix(result.Narrative, "Task: summarize inbox") {
		t.Fatalf("narrative must open with the task, got %q", result.Narrative)
	}
	if result.CorrelationID == "" {
		t.Fatal("result must carry a correlation id")
	}
}

func TestExecuteAwaitsUserInput(t *testing.T) {
	e := newTestExecutor(nil, nil,
		&scriptedReadiness{results: []*ReadinessResult{{NeedsUserInput: true, RequiredInfo: "which calendar?"}}},
		&scriptedAction{results: []*ActionResult{noAction()}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{})

	result, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "book a slot"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != OutcomeAwaitingInput || result.RequiredInfo != "which calendar?" {
		t.Fatalf("expected awaiting-input outcome, got %#v", result)
	}
}

func TestExecuteIterationLimitCarriesNarrative(t *testing.T) {
	e := newTestExecutor(nil, nil,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{noAction()}},
		&scriptedProgress{results: []*ProgressResult{more()}},
		Config{MaxIterations: 3})

	_, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "never done"})
	var limitErr *apperrors.IterationLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected iteration limit error, got %v", err)
	}
	if limitErr.Iterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", limitErr.Iterations)
	}
	if !strings.Contains(limitErr.Narrative, "Task: never done") {
		t.Fatal("limit error must carry the accumulated narrative")
	}
}

func TestPhaseFailuresAreFatal(t *testing.T) {
	boom := errors.New("model unavailable")

	cases := []struct {
		name  string
		r     ReadinessEvaluator
		a     ActionEvaluator
		p     ProgressEvaluator
		phase string
	}{
		{"readiness", &scriptedReadiness{err: boom}, &scriptedAction{results: []*ActionResult{noAction()}}, &scriptedProgress{results: []*ProgressResult{done()}}, "readiness"},
		{"action", &scriptedReadiness{results: []*ReadinessResult{idle()}}, &scriptedAction{err: boom}, &scriptedProgress{results: []*ProgressResult{done()}}, "action"},
		{"progress", &scriptedReadiness{results: []*ReadinessResult{idle()}}, &scriptedAction{results: []*ActionResult{noAction()}}, &scriptedProgress{err: boom}, "progress"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestExecutor(nil, nil, tc.r, tc.a, tc.p, Config{})
			_, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "task"})
			var phaseErr *apperrors.PhaseError
			if !errors.As(err, &phaseErr) || phaseErr.Phase != tc.phase {
				t.Fatalf("expected fatal %s phase error, got %v", tc.phase, err)
			}
			if !errors.Is(err, boom) {
				t.Fatal("phase error must wrap the evaluator failure")
			}
		})
	}
}

func TestAgentFailureBecomesNarrativeEntry(t *testing.T) {
	agent := &recordingAgent{err: errors.New("imap timeout")}
	e := newTestExecutor(testRegistry{"email": agent}, nil,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{{Agent: "email", Request: "fetch unread"}, noAction()}},
		&scriptedProgress{results: []*ProgressResult{more(), done()}},
		Config{})

	result, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "check mail"})
	if err != nil {
		t.Fatalf("agent failure must not abort the workflow: %v", err)
	}
	if !strings.Contains(result.Narrative, "Agent Execution Error: email: imap timeout") {
		t.Fatalf("narrative must record the agent failure, got %q", result.Narrative)
	}
}

func TestAgentSuccessAppendsResult(t *testing.T) {
	agent := &recordingAgent{}
	e := newTestExecutor(testRegistry{"email": agent}, nil,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{{Agent: "email", Request: "send the report"}}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{})

	result, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "send report"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Narrative, "Agent Execution Result: email: email sent") {
		t.Fatalf("narrative must record the agent result, got %q", result.Narrative)
	}
	if len(agent.requests) != 1 || agent.requests[0]["request"] != "send the report" {
		t.Fatalf("agent must receive the natural-language request, got %#v", agent.requests)
	}
}

func TestUnknownAgentBecomesNarrativeEntry(t *testing.T) {
	e := newTestExecutor(testRegistry{}, nil,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{{Agent: "ghost", Request: "do"}}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{})

	result, err := e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "task"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Narrative, `Agent Execution Error: agent "ghost" not found`) {
		t.Fatalf("narrative must record the unknown agent, got %q", result.Narrative)
	}
}

func TestCredentialScoping(t *testing.T) {
	agent := &recordingAgent{category: "google_mail"}
	resolver := &recordingResolver{credential: "tok-123"}
	e := newTestExecutor(testRegistry{"email": agent}, resolver,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{{Agent: "email", Request: "send"}}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{DefaultTenant: "acme"})

	_, err := e.Execute(context.Background(), Request{SessionID: "sess-1", UserID: "tenant-x:alice", Task: "send"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resolver.tenantID != "tenant-x" || resolver.userID != "alice" || resolver.category != "google_mail" {
		t.Fatalf("credential lookup got %s/%s/%s", resolver.tenantID, resolver.userID, resolver.category)
	}
	if agent.credential != "tok-123" {
		t.Fatalf("agent must receive the resolved credential, got %q", agent.credential)
	}
}

func TestCredentialFailureDegradesToEmpty(t *testing.T) {
	agent := &recordingAgent{}
	resolver := &recordingResolver{err: errors.New("vault down")}
	e := newTestExecutor(testRegistry{"email": agent}, resolver,
		&scriptedReadiness{results: []*ReadinessResult{idle()}},
		&scriptedAction{results: []*ActionResult{{Agent: "email", Request: "send"}}},
		&scriptedProgress{results: []*ProgressResult{done()}},
		Config{})

	_, err := e.Execute(context.Background(), Request{SessionID: "sess-1", UserID: "bob", Task: "send"})
	if err != nil {
		t.Fatalf("credential failure must not abort the workflow: %v", err)
	}
	if agent.credential != "" {
		t.Fatalf("agent must run with an empty credential, got %q", agent.credential)
	}
	if resolver.tenantID != "default" || resolver.userID != "bob" {
		t.Fatalf("bare user ids fall under the default tenant, got %s/%s", resolver.tenantID, resolver.userID)
	}
}

func TestSplitIdentity(t *testing.T) {
	cases := []struct {
		in           string
		tenant, user string
	}{
		{"acme:alice", "acme", "alice"},
		{"bob", "default", "bob"},
		{":bob", "default", ":bob"},
		{"acme:", "default", "acme:"},
	}
	for _, tc := range cases {
		tenant, user := splitIdentity(tc.in, "default")
		if tenant != tc.tenant || user != tc.user {
			t.Errorf("splitIdentity(%q) = %s/%s, want %s/%s", tc.in, tenant, user, tc.tenant, tc.user)
		}
	}
}

// blockingReadiness lets the test hold a workflow mid-flight.
type blockingReadiness struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingReadiness) EvaluateReadiness(ctx context.Context, _ string, _ Meta) (*ReadinessResult, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ReadinessResult{}, nil
}

func TestSameSessionRunsSerialize(t *testing.T) {
	readiness := &blockingReadiness{entered: make(chan struct{}), release: make(chan struct{})}
	progress := &scriptedProgress{results: []*ProgressResult{done()}}
	e := newTestExecutor(nil, nil, readiness, &scriptedAction{results: []*ActionResult{noAction()}}, progress, Config{})

	var wg sync.WaitGroup
	wg.Add(2)
	run := func() {
		defer wg.Done()
		_, _ = e.Execute(context.Background(), Request{SessionID: "sess-1", Task: "task"})
	}
	go run()
	<-readiness.entered
	go run()

	// Give the second run a chance to (incorrectly) enter the loop
	// while the first still holds the session lock.
	time.Sleep(50 * time.Millisecond)
	if got := progress.calls; got != 0 {
		t.Fatalf("second run must block behind the first, saw %d progress calls", got)
	}
	close(readiness.release)
	wg.Wait()
	if progress.calls != 2 {
		t.Fatalf("both runs should complete after release, got %d", progress.calls)
	}
}
