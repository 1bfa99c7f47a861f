// Package browser exposes the command surface the HTTP and websocket layers
// drive: one method per page action, each acquiring the session on demand and
// retrying transient failures under a shared policy.
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/domain/session"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/infrastructure/resilience"
	"github.com/jobpilot/browserd/internal/shared/types"
)

// Sessions is the slice of the session manager the controller needs.
type Sessions interface {
	GetOrCreate(ctx context.Context, sessionID string, opts session.Options) (session.Handle, error)
	Close(ctx context.Context, sessionID string) error
}

// Metrics is the optional instrumentation surface for executed commands.
type Metrics interface {
	RecordCommand(action string, duration time.Duration, success bool)
}

// Config tunes controller behavior.
type Config struct {
	// OpTimeout bounds a single element-level action.
	OpTimeout time.Duration
	// NavTimeout bounds a navigation including page load.
	NavTimeout time.Duration
	// Humanize inserts small randomized pauses before actions.
	Humanize bool
}

// DefaultConfig returns production controller settings.
func DefaultConfig() Config {
	return Config{
		OpTimeout:  15 * time.Second,
		NavTimeout: 30 * time.Second,
		Humanize:   true,
	}
}

// Controller is a stateless facade over the session manager. All state lives
// in the sessions themselves; the controller can be shared freely.
type Controller struct {
	sessions Sessions
	policy   resilience.Policy
	human    *Humanizer
	cfg      Config
	logger   *logging.Logger
	metrics  Metrics
}

// New creates a controller with the default retry policy.
func New(sessions Sessions, cfg Config, logger *logging.Logger) *Controller {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Controller{
		sessions: sessions,
		policy:   resilience.DefaultPolicy(),
		human:    NewHumanizer(cfg.Humanize),
		cfg:      cfg,
		logger:   logger.Named("browser"),
	}
}

// WithPolicy overrides the retry policy. Tests pass resilience.NoRetry().
func (c *Controller) WithPolicy(p resilience.Policy) *Controller {
	c.policy = p
	return c
}

// WithMetrics attaches instrumentation.
func (c *Controller) WithMetrics(m Metrics) *Controller {
	c.metrics = m
	return c
}

// Navigate loads a URL in the session's page, creating the session when it
// does not exist yet. Acquisition options only apply on first creation.
func (c *Controller) Navigate(ctx context.Context, sessionID, url string, opts session.Options) error {
	if url == "" {
		return fmt.Errorf("navigation requires a url")
	}
	return c.retried(ctx, "navigate", sessionID, opts, c.cfg.NavTimeout, func(ctx context.Context, h session.Handle) error {
		c.human.Pause(ctx)
		return h.Navigate(ctx, url)
	})
}

// Click clicks the first element matching the selector.
func (c *Controller) Click(ctx context.Context, sessionID, selector string) error {
	return c.retried(ctx, "click", sessionID, session.Options{}, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		c.human.Pause(ctx)
		return h.Click(ctx, selector)
	})
}

// Type fills the element matching the selector, optionally submitting after.
func (c *Controller) Type(ctx context.Context, sessionID, selector, text string, submit bool) error {
	return c.retried(ctx, "type", sessionID, session.Options{}, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		c.human.Pause(ctx)
		return h.Type(ctx, selector, text, submit)
	})
}

// SelectOption sets a select element's value and fires its change events.
func (c *Controller) SelectOption(ctx context.Context, sessionID, selector, value string) error {
	return c.single(ctx, "select", sessionID, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		return h.Select(ctx, selector, value)
	})
}

// WaitFor blocks until the selector is visible or the timeout elapses.
func (c *Controller) WaitFor(ctx context.Context, sessionID, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.OpTimeout
	}
	return c.single(ctx, "wait", sessionID, timeout, func(ctx context.Context, h session.Handle) error {
		return h.WaitVisible(ctx, selector)
	})
}

// Evaluate runs a script in the page and returns its JSON-decoded result.
// Scripts are not retried: they may have already mutated page state.
func (c *Controller) Evaluate(ctx context.Context, sessionID, script string) (interface{}, error) {
	var out interface{}
	err := c.single(ctx, "evaluate", sessionID, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		var err error
		out, err = h.Evaluate(ctx, script)
		return err
	})
	return out, err
}

// Snapshot returns a text outline of the page's interactive elements.
func (c *Controller) Snapshot(ctx context.Context, sessionID string) (string, error) {
	var out string
	err := c.single(ctx, "snapshot", sessionID, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		var err error
		out, err = h.Snapshot(ctx)
		return err
	})
	return out, err
}

// Screenshot captures the page as PNG.
func (c *Controller) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, error) {
	var out []byte
	err := c.single(ctx, "screenshot", sessionID, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		var err error
		out, err = h.Screenshot(ctx, fullPage)
		return err
	})
	return out, err
}

// PageContent returns the rendered HTML, visible text, and URL of the page.
func (c *Controller) PageContent(ctx context.Context, sessionID string) (session.PageContent, error) {
	var out session.PageContent
	err := c.single(ctx, "content", sessionID, c.cfg.OpTimeout, func(ctx context.Context, h session.Handle) error {
		var err error
		out, err = h.Content(ctx)
		return err
	})
	return out, err
}

// CloseSession tears down a session's browser and metadata.
func (c *Controller) CloseSession(ctx context.Context, sessionID string) error {
	return c.sessions.Close(ctx, sessionID)
}

// Execute dispatches a structured user command, the shape the websocket
// channel delivers when a human drives the session.
func (c *Controller) Execute(ctx context.Context, sessionID string, cmd types.UserCommand) (interface{}, error) {
	switch cmd.Action {
	case types.ActionNavigate:
		return nil, c.Navigate(ctx, sessionID, cmd.URL, session.Options{})
	case types.ActionClick:
		return nil, c.Click(ctx, sessionID, cmd.Selector)
	case types.ActionType:
		return nil, c.Type(ctx, sessionID, cmd.Selector, cmd.Text, cmd.Submit)
	case types.ActionSelect:
		return nil, c.SelectOption(ctx, sessionID, cmd.Selector, cmd.Value)
	case types.ActionWait:
		return nil, c.WaitFor(ctx, sessionID, cmd.Selector, time.Duration(cmd.TimeoutMs)*time.Millisecond)
	case types.ActionEvaluate:
		return c.Evaluate(ctx, sessionID, cmd.Script)
	default:
		return nil, fmt.Errorf("unknown command action %q", cmd.Action)
	}
}

// retried runs an action under the retry policy, re-acquiring the session on
// every attempt so a crashed browser is relaunched transparently.
func (c *Controller) retried(ctx context.Context, action, sessionID string, opts session.Options, timeout time.Duration, fn func(context.Context, session.Handle) error) error {
	start := time.Now()
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		h, err := c.sessions.GetOrCreate(opCtx, sessionID, opts)
		if err != nil {
			return err
		}
		return fn(opCtx, h)
	})
	c.finish(action, sessionID, start, err)
	return err
}

// single runs an action once. Used for reads and for actions whose replay
// could double-apply side effects.
func (c *Controller) single(ctx context.Context, action, sessionID string, timeout time.Duration, fn func(context.Context, session.Handle) error) error {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h, err := c.sessions.GetOrCreate(opCtx, sessionID, session.Options{})
	if err == nil {
		err = fn(opCtx, h)
	}
	c.finish(action, sessionID, start, err)
	return err
}

func (c *Controller) finish(action, sessionID string, start time.Time, err error) {
	elapsed := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordCommand(action, elapsed, err == nil)
	}
	if err != nil {
		c.logger.Warn("command failed",
			zap.String("action", action),
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("command executed",
		zap.String("action", action),
		zap.String("session_id", sessionID),
		zap.Duration("elapsed", elapsed),
	)
}
