// Package http implements the REST command surface over the browser
// controller, session manager, search chain, and orchestrator.
package http

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jobpilot/browserd/internal/domain/automation"
	"github.com/jobpilot/browserd/internal/domain/browser"
	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/domain/session"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/providers/search"
	"github.com/jobpilot/browserd/internal/shared/id"
	"github.com/jobpilot/browserd/internal/shared/types"
)

// BridgeStatus is the display-bridge slice the health endpoint reports.
type BridgeStatus interface {
	Enabled() bool
	Running() bool
}

// Handlers binds the domain components to gin routes.
type Handlers struct {
	controller *browser.Controller
	sessions   *session.Manager
	search     *search.Chain
	automation *automation.Orchestrator
	bridge     BridgeStatus
	logger     *logging.Logger
}

// NewHandlers creates the handler set. automation may be nil when no LLM is
// configured; the automate route then returns a clear error.
func NewHandlers(
	controller *browser.Controller,
	sessions *session.Manager,
	searchChain *search.Chain,
	orchestrator *automation.Orchestrator,
	bridge BridgeStatus,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		controller: controller,
		sessions:   sessions,
		search:     searchChain,
		automation: orchestrator,
		bridge:     bridge,
		logger:     logger.Named("http"),
	}
}

type sessionRequest struct {
	SessionID  string `json:"sessionId"`
	URL        string `json:"url"`
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	Value      string `json:"value"`
	Script     string `json:"script"`
	Submit     bool   `json:"submit"`
	FullPage   bool   `json:"fullPage"`
	TimeoutMs  int    `json:"timeout"`
	Headful    bool   `json:"headful"`
	Persistent bool   `json:"persistent"`
	Objective  string `json:"objective"`
}

func bind(c *gin.Context) (sessionRequest, bool) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Failure("malformed request body: "+err.Error()))
		return req, false
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, types.Failure("sessionId is required"))
		return req, false
	}
	return req, true
}

func (h *Handlers) respond(c *gin.Context, err error, data map[string]interface{}) {
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrTooManySessions) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, types.Failure(err.Error()))
		return
	}
	c.JSON(http.StatusOK, types.Success(data))
}

// CreateSession handles POST /api/browser/session/create.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.Failure("malformed request body: "+err.Error()))
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = string(id.NewSessionID())
	}

	_, err := h.sessions.GetOrCreate(c.Request.Context(), sessionID, session.Options{
		Headful:    req.Headful,
		Persistent: req.Persistent,
		Owner:      registry.RoleAI,
	})
	if err != nil {
		h.respond(c, err, nil)
		return
	}

	data := map[string]interface{}{"sessionId": sessionID}
	if preview := h.sessions.Preview(sessionID); preview != nil {
		data["preview"] = preview
	}
	h.respond(c, nil, data)
}

// Navigate handles POST /api/browser/navigate.
func (h *Handlers) Navigate(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.Navigate(c.Request.Context(), req.SessionID, req.URL, session.Options{
		Headful:    req.Headful,
		Persistent: req.Persistent,
	})
	h.respond(c, err, map[string]interface{}{"sessionId": req.SessionID, "url": req.URL})
}

// Click handles POST /api/browser/click.
func (h *Handlers) Click(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.Click(c.Request.Context(), req.SessionID, req.Selector)
	h.respond(c, err, map[string]interface{}{"selector": req.Selector})
}

// Type handles POST /api/browser/type.
func (h *Handlers) Type(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.Type(c.Request.Context(), req.SessionID, req.Selector, req.Text, req.Submit)
	h.respond(c, err, map[string]interface{}{"selector": req.Selector})
}

// Select handles POST /api/browser/select.
func (h *Handlers) Select(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.SelectOption(c.Request.Context(), req.SessionID, req.Selector, req.Value)
	h.respond(c, err, map[string]interface{}{"selector": req.Selector, "value": req.Value})
}

// Wait handles POST /api/browser/wait.
func (h *Handlers) Wait(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.WaitFor(c.Request.Context(), req.SessionID, req.Selector,
		time.Duration(req.TimeoutMs)*time.Millisecond)
	h.respond(c, err, map[string]interface{}{"selector": req.Selector})
}

// Evaluate handles POST /api/browser/evaluate.
func (h *Handlers) Evaluate(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	out, err := h.controller.Evaluate(c.Request.Context(), req.SessionID, req.Script)
	h.respond(c, err, map[string]interface{}{"result": out})
}

// Snapshot handles POST /api/browser/snapshot.
func (h *Handlers) Snapshot(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	outline, err := h.controller.Snapshot(c.Request.Context(), req.SessionID)
	h.respond(c, err, map[string]interface{}{"snapshot": outline})
}

// Screenshot handles POST /api/browser/screenshot.
func (h *Handlers) Screenshot(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	png, err := h.controller.Screenshot(c.Request.Context(), req.SessionID, req.FullPage)
	if err != nil {
		h.respond(c, err, nil)
		return
	}
	h.respond(c, nil, map[string]interface{}{
		"screenshot": base64.StdEncoding.EncodeToString(png),
		"format":     "png",
	})
}

// Content handles POST /api/browser/content.
func (h *Handlers) Content(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	content, err := h.controller.PageContent(c.Request.Context(), req.SessionID)
	h.respond(c, err, map[string]interface{}{
		"html": content.HTML,
		"text": content.Text,
		"url":  content.URL,
	})
}

// Close handles POST /api/browser/close.
func (h *Handlers) Close(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	err := h.controller.CloseSession(c.Request.Context(), req.SessionID)
	h.respond(c, err, map[string]interface{}{"sessionId": req.SessionID})
}

// RequestControl handles POST /api/browser/control/request. HTTP callers act
// as the human user; the AI requests control in-process.
func (h *Handlers) RequestControl(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	granted := h.sessions.RequestControl(req.SessionID, registry.RoleUser)
	h.respond(c, nil, map[string]interface{}{"granted": granted})
}

// ReleaseControl handles POST /api/browser/control/release.
func (h *Handlers) ReleaseControl(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	h.sessions.ReleaseControl(req.SessionID, registry.RoleUser)
	h.respond(c, nil, map[string]interface{}{"released": true})
}

// GetSession handles GET /api/browser/session/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	meta, ok := h.sessions.Metadata(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, types.Failure("session not found"))
		return
	}
	h.respond(c, nil, map[string]interface{}{"session": meta})
}

// ListSessions handles GET /api/browser/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	ids := h.sessions.Active()
	sessions := make([]registry.Metadata, 0, len(ids))
	for _, sid := range ids {
		if meta, ok := h.sessions.Metadata(sid); ok {
			sessions = append(sessions, meta)
		}
	}
	h.respond(c, nil, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Search handles POST /api/browser/search, exposing the provider chain to
// the chat layer as a direct tool.
func (h *Handlers) Search(c *gin.Context) {
	var params search.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, types.Failure("malformed request body: "+err.Error()))
		return
	}
	if params.Keywords == "" {
		c.JSON(http.StatusBadRequest, types.Failure("keywords are required"))
		return
	}
	records := h.search.Search(c.Request.Context(), params)
	h.respond(c, nil, map[string]interface{}{
		"opportunities": records,
		"count":         len(records),
	})
}

// Automate handles POST /api/browser/automate.
func (h *Handlers) Automate(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	if req.Objective == "" {
		c.JSON(http.StatusBadRequest, types.Failure("objective is required"))
		return
	}
	if h.automation == nil {
		c.JSON(http.StatusServiceUnavailable, types.Failure("automation is not configured"))
		return
	}

	result, err := h.automation.Run(c.Request.Context(), req.SessionID, req.Objective)
	h.respond(c, err, map[string]interface{}{"result": result})
}

// Health handles GET /health. Unauthenticated.
func (h *Handlers) Health(c *gin.Context) {
	data := gin.H{
		"status":         "ok",
		"activeSessions": h.sessions.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.bridge != nil {
		data["display"] = gin.H{
			"enabled": h.bridge.Enabled(),
			"running": h.bridge.Running(),
		}
	}
	c.JSON(http.StatusOK, data)
}
