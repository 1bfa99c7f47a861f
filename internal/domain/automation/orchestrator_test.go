package automation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/providers/search"
	"github.com/jobpilot/browserd/internal/shared/types"
)

type fakeExecutor struct {
	cmds    []types.UserCommand
	failAt  int // 1-based command index that fails; 0 = never
	outline string
}

func (e *fakeExecutor) Execute(ctx context.Context, sessionID string, cmd types.UserCommand) (interface{}, error) {
	e.cmds = append(e.cmds, cmd)
	if e.failAt > 0 && len(e.cmds) == e.failAt {
		return nil, errors.New("element not found")
	}
	return nil, nil
}

func (e *fakeExecutor) Snapshot(ctx context.Context, sessionID string) (string, error) {
	return e.outline, nil
}

type fakeSearcher struct {
	params []search.Params
	out    []search.Opportunity
}

func (s *fakeSearcher) Search(ctx context.Context, params search.Params) []search.Opportunity {
	s.params = append(s.params, params)
	return s.out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []types.AutomationEvent
}

func (r *eventRecorder) Broadcast(event types.AutomationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) typeSequence() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fakeGuard struct {
	holder registry.Role
}

func (g *fakeGuard) ControlHolder(sessionID string) registry.Role { return g.holder }

// scriptedPlanner returns a fixed completion.
type scriptedPlanner struct {
	response string
	err      error
}

func (p *scriptedPlanner) Complete(ctx context.Context, prompt string) (string, error) {
	return p.response, p.err
}

func newTestOrchestrator(executor *fakeExecutor, searcher *fakeSearcher, planner Completer) (*Orchestrator, *eventRecorder, *fakeGuard) {
	events := &eventRecorder{}
	guard := &fakeGuard{}
	o := New(executor, searcher, events, guard, planner, logging.NewNop())
	return o, events, guard
}

func TestRunExecutesPlannedStepsAndNarrates(t *testing.T) {
	executor := &fakeExecutor{}
	planner := &scriptedPlanner{response: `[
		{"action":"navigate","url":"https://board.example.com","reason":"open the board"},
		{"action":"type","selector":"#q","text":"golang","reason":"enter keywords"},
		{"action":"click","selector":"#search","reason":"run the search"}
	]`}
	o, events, _ := newTestOrchestrator(executor, &fakeSearcher{}, planner)

	result, err := o.Run(context.Background(), "s1", "find golang jobs")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.StepsRun != 3 {
		t.Errorf("expected 3 steps run, got %d", result.StepsRun)
	}
	if len(executor.cmds) != 3 || executor.cmds[0].Action != types.ActionNavigate {
		t.Errorf("unexpected executed commands %+v", executor.cmds)
	}

	seq := events.typeSequence()
	if seq[0] != types.EventAutomationStart {
		t.Errorf("first event must be start, got %v", seq)
	}
	if seq[len(seq)-1] != types.EventComplete {
		t.Errorf("last event must be complete, got %v", seq)
	}
	progress := 0
	for _, et := range seq {
		if et == types.EventProgress {
			progress++
		}
	}
	if progress != 3 {
		t.Errorf("expected one progress event per step, got %d", progress)
	}
}

func TestRunUsesSearchTool(t *testing.T) {
	searcher := &fakeSearcher{out: []search.Opportunity{{Title: "Go Engineer"}}}
	planner := &scriptedPlanner{response: `[
		{"action":"search","keywords":"golang","location":"Berlin","reason":"query providers"}
	]`}
	o, _, _ := newTestOrchestrator(&fakeExecutor{}, searcher, planner)

	result, err := o.Run(context.Background(), "s1", "find golang jobs in berlin")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(searcher.params) != 1 || searcher.params[0].Keywords != "golang" {
		t.Errorf("search tool not invoked correctly: %+v", searcher.params)
	}
	if len(result.Opportunities) != 1 {
		t.Errorf("opportunities must flow into the result, got %+v", result.Opportunities)
	}
}

func TestRunStopsOnRequestHuman(t *testing.T) {
	executor := &fakeExecutor{}
	planner := &scriptedPlanner{response: `[
		{"action":"navigate","url":"https://board.example.com","reason":"open"},
		{"action":"request_human","reason":"login requires credentials"},
		{"action":"click","selector":"#apply","reason":"never reached"}
	]`}
	o, events, _ := newTestOrchestrator(executor, &fakeSearcher{}, planner)

	result, err := o.Run(context.Background(), "s1", "apply to a job")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.NeedsHuman {
		t.Error("result must flag the takeover request")
	}
	if len(executor.cmds) != 1 {
		t.Errorf("steps after request_human must not run, executed %d", len(executor.cmds))
	}

	var sawTakeover bool
	for _, et := range events.typeSequence() {
		if et == types.EventUserTakeover {
			sawTakeover = true
		}
	}
	if !sawTakeover {
		t.Error("takeover must be announced on the event channel")
	}
}

func TestRunPausesWhenHumanHoldsControl(t *testing.T) {
	executor := &fakeExecutor{}
	planner := &scriptedPlanner{response: `[{"action":"click","selector":"#x","reason":"r"}]`}
	o, _, guard := newTestOrchestrator(executor, &fakeSearcher{}, planner)
	guard.holder = registry.RoleUser

	result, err := o.Run(context.Background(), "s1", "do things")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.NeedsHuman || len(executor.cmds) != 0 {
		t.Errorf("orchestrator must pause under human control, got %+v", result)
	}
}

func TestRunBroadcastsErrorOnStepFailure(t *testing.T) {
	executor := &fakeExecutor{failAt: 2}
	planner := &scriptedPlanner{response: `[
		{"action":"navigate","url":"https://board.example.com","reason":"open"},
		{"action":"click","selector":"#gone","reason":"click"}
	]`}
	o, events, _ := newTestOrchestrator(executor, &fakeSearcher{}, planner)

	if _, err := o.Run(context.Background(), "s1", "do things"); err == nil {
		t.Fatal("expected step failure to surface")
	}

	seq := events.typeSequence()
	if seq[len(seq)-1] != types.EventError {
		t.Errorf("failures must be narrated as automation_error, got %v", seq)
	}
}

func TestRunRejectsMissingPlanner(t *testing.T) {
	o := New(&fakeExecutor{}, &fakeSearcher{}, &eventRecorder{}, &fakeGuard{}, nil, logging.NewNop())
	if _, err := o.Run(context.Background(), "s1", "objective"); err == nil {
		t.Fatal("nil planner must be rejected up front")
	}
}

func TestRunRejectsUnknownPlannedAction(t *testing.T) {
	planner := &scriptedPlanner{response: `[{"action":"self_destruct","reason":"no"}]`}
	o, _, _ := newTestOrchestrator(&fakeExecutor{}, &fakeSearcher{}, planner)

	if _, err := o.Run(context.Background(), "s1", "objective"); err == nil {
		t.Fatal("unknown planned actions must fail loudly")
	}
}
