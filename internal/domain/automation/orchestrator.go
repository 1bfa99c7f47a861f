// Package automation drives multi-step browser objectives: an LLM plans the
// steps, the controller executes them, and every step is narrated over the
// event channel so a human can watch and intervene.
package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/providers/search"
	"github.com/jobpilot/browserd/internal/shared/types"
)

// Step is one planned action.
type Step struct {
	Action   string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Value    string `json:"value,omitempty"`
	Keywords string `json:"keywords,omitempty"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Executor is the slice of the browser controller the orchestrator drives.
type Executor interface {
	Execute(ctx context.Context, sessionID string, cmd types.UserCommand) (interface{}, error)
	Snapshot(ctx context.Context, sessionID string) (string, error)
}

// Searcher is the job-search tool.
type Searcher interface {
	Search(ctx context.Context, params search.Params) []search.Opportunity
}

// Events receives the narration stream.
type Events interface {
	Broadcast(event types.AutomationEvent)
}

// Guard is the control-lock check: the orchestrator pauses instead of
// fighting a human who has taken over.
type Guard interface {
	ControlHolder(sessionID string) registry.Role
}

// Result summarizes a finished run.
type Result struct {
	StepsRun      int                  `json:"steps_run"`
	Opportunities []search.Opportunity `json:"opportunities,omitempty"`
	NeedsHuman    bool                 `json:"needs_human"`
	Summary       string               `json:"summary"`
}

// Orchestrator executes natural-language objectives against a session.
type Orchestrator struct {
	executor Executor
	searcher Searcher
	events   Events
	guard    Guard
	planner  Completer
	logger   *logging.Logger
}

// New creates an orchestrator. A nil planner disables Run with a clear error
// instead of failing mid-flight.
func New(executor Executor, searcher Searcher, events Events, guard Guard, planner Completer, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		searcher: searcher,
		events:   events,
		guard:    guard,
		planner:  planner,
		logger:   logger.Named("automation"),
	}
}

// Run plans and executes an objective, narrating progress. The returned
// Result is also broadcast as the final event payload.
func (o *Orchestrator) Run(ctx context.Context, sessionID, objective string) (Result, error) {
	if o.planner == nil {
		return Result{}, fmt.Errorf("automation requires a configured LLM API key")
	}
	if objective == "" {
		return Result{}, fmt.Errorf("objective is required")
	}

	o.events.Broadcast(types.NewEvent(sessionID, types.EventAutomationStart, map[string]interface{}{
		"objective": objective,
	}))

	outline, err := o.executor.Snapshot(ctx, sessionID)
	if err != nil {
		// A blank page is a valid planning input; a dead session is not.
		o.logger.Warn("snapshot before planning failed",
			zap.String("session_id", sessionID), zap.Error(err))
		outline = "(no page loaded)"
	}

	steps, err := planSteps(ctx, o.planner, objective, outline)
	if err != nil {
		return o.fail(sessionID, Result{}, fmt.Errorf("planning failed: %w", err))
	}

	result := Result{}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return o.fail(sessionID, result, err)
		}

		// A human holding the control lock wins; pause instead of racing
		// their clicks with ours.
		if holder := o.guard.ControlHolder(sessionID); holder != "" && holder != registry.RoleAI {
			result.NeedsHuman = true
			result.Summary = "paused: a human has control of the session"
			o.events.Broadcast(types.NewEvent(sessionID, types.EventUserTakeover, map[string]interface{}{
				"holder": string(holder),
				"reason": "automation paused while human has control",
			}))
			return result, nil
		}

		o.events.Broadcast(types.NewEvent(sessionID, types.EventProgress, map[string]interface{}{
			"step":   i + 1,
			"total":  len(steps),
			"action": step.Action,
			"reason": step.Reason,
		}))

		switch step.Action {
		case "request_human":
			result.NeedsHuman = true
			result.Summary = step.Reason
			o.events.Broadcast(types.NewEvent(sessionID, types.EventUserTakeover, map[string]interface{}{
				"reason": step.Reason,
			}))
			return result, nil

		case "search":
			found := o.searcher.Search(ctx, search.Params{
				Keywords: step.Keywords,
				Location: step.Location,
			})
			result.Opportunities = append(result.Opportunities, found...)

		default:
			cmd, err := stepToCommand(step)
			if err != nil {
				return o.fail(sessionID, result, err)
			}
			if _, err := o.executor.Execute(ctx, sessionID, cmd); err != nil {
				return o.fail(sessionID, result, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Action, err))
			}
		}
		result.StepsRun++
	}

	result.Summary = fmt.Sprintf("completed %d steps", result.StepsRun)
	if n := len(result.Opportunities); n > 0 {
		result.Summary = fmt.Sprintf("completed %d steps, found %d opportunities", result.StepsRun, n)
	}
	o.events.Broadcast(types.NewEvent(sessionID, types.EventComplete, map[string]interface{}{
		"steps_run":     result.StepsRun,
		"opportunities": len(result.Opportunities),
		"summary":       result.Summary,
	}))
	return result, nil
}

func (o *Orchestrator) fail(sessionID string, result Result, err error) (Result, error) {
	o.logger.Warn("automation failed", zap.String("session_id", sessionID), zap.Error(err))
	o.events.Broadcast(types.NewEvent(sessionID, types.EventError, map[string]interface{}{
		"error":     err.Error(),
		"steps_run": result.StepsRun,
	}))
	result.Summary = err.Error()
	return result, err
}

func stepToCommand(step Step) (types.UserCommand, error) {
	action := types.CommandAction(step.Action)
	switch action {
	case types.ActionNavigate, types.ActionClick, types.ActionType,
		types.ActionSelect, types.ActionWait, types.ActionEvaluate:
	default:
		return types.UserCommand{}, fmt.Errorf("planner produced unknown action %q", step.Action)
	}
	return types.UserCommand{
		Action:   action,
		URL:      step.URL,
		Selector: step.Selector,
		Text:     step.Text,
		Value:    step.Value,
		Submit:   action == types.ActionType && step.Value == "submit",
	}, nil
}
