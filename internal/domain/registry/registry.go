// Package registry tracks per-session metadata: ownership, the control lock,
// activity timestamps, persisted-storage paths, and preview credentials. It
// has no browser-engine dependency; the session manager consults it before
// touching the engine.
package registry

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/shared/id"
)

// Role identifies who is driving a session.
type Role string

const (
	RoleAI     Role = "ai"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// PreviewTTL is how long a minted viewer token stays valid.
const PreviewTTL = time.Hour

// Preview is the credential bundle a viewer needs to open a visual/control
// socket to a headful session.
type Preview struct {
	WSURL     string    `json:"ws_url"`
	Password  string    `json:"password"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Metadata is the registry's view of one session.
type Metadata struct {
	ID            string    `json:"id"`
	Owner         Role      `json:"owner"`
	ControlHolder Role      `json:"control_holder,omitempty"` // empty = unlocked
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
	Headful       bool      `json:"headful"`
	Persistent    bool      `json:"persistent"`
	StoragePath   string    `json:"-"`
	Preview       *Preview  `json:"preview,omitempty"`
}

// DisplayBridge is the narrow surface the registry needs from the remote
// display subsystem.
type DisplayBridge interface {
	Enabled() bool
	Start() error
	ViewerURL() string
	Password() string
}

// TouchOptions configures create-or-refresh behavior.
type TouchOptions struct {
	Headful    bool
	Persistent bool
	Owner      Role
}

// Registry holds session metadata behind a mutex. All methods are safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Metadata
	bridge     DisplayBridge
	storageDir string
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a registry. bridge may be nil when no visual preview is wired.
func New(storageDir string, bridge DisplayBridge, logger *logging.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*Metadata),
		bridge:     bridge,
		storageDir: storageDir,
		logger:     logger.Named("registry"),
		now:        time.Now,
	}
}

// Touch is an idempotent create-or-refresh. The first call for an id
// allocates the persisted-storage path and, for headful sessions with an
// enabled bridge, mints a preview descriptor.
func (r *Registry) Touch(sessionID string, opts TouchOptions) Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	meta, ok := r.sessions[sessionID]
	if ok {
		meta.LastActive = now
		if opts.Owner != "" {
			meta.Owner = opts.Owner
		}
		return *meta
	}

	owner := opts.Owner
	if owner == "" {
		owner = RoleAI
	}

	meta = &Metadata{
		ID:          sessionID,
		Owner:       owner,
		CreatedAt:   now,
		LastActive:  now,
		Headful:     opts.Headful,
		Persistent:  opts.Persistent,
		StoragePath: r.storagePath(sessionID),
	}

	if opts.Headful && r.bridge != nil && r.bridge.Enabled() {
		if err := r.bridge.Start(); err != nil {
			r.logger.Warn("display bridge unavailable, session has no preview",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			meta.Preview = r.mintPreview(now)
		}
	}

	r.sessions[sessionID] = meta
	r.logger.Info("session registered",
		zap.String("session_id", sessionID),
		zap.Bool("headful", meta.Headful),
		zap.Bool("preview", meta.Preview != nil),
	)
	return *meta
}

// Get returns a snapshot of the session metadata.
func (r *Registry) Get(sessionID string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.sessions[sessionID]
	if !ok {
		return Metadata{}, false
	}
	return *meta, true
}

// RequestControl grants the lock if it is free or already held by the
// requester. There is no queueing: a denied caller retries or escalates.
func (r *Registry) RequestControl(sessionID string, requester Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.sessions[sessionID]
	if !ok {
		return false
	}

	if meta.ControlHolder == "" || meta.ControlHolder == requester {
		meta.ControlHolder = requester
		meta.Owner = requester
		meta.LastActive = r.now()
		r.logger.Info("control granted",
			zap.String("session_id", sessionID), zap.String("role", string(requester)))
		return true
	}
	return false
}

// ReleaseControl clears the lock only when held by the requester and resets
// ownership to the AI steady state.
func (r *Registry) ReleaseControl(sessionID string, requester Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if meta.ControlHolder == requester {
		meta.ControlHolder = ""
		meta.Owner = RoleAI
		meta.LastActive = r.now()
		r.logger.Info("control released",
			zap.String("session_id", sessionID), zap.String("role", string(requester)))
	}
}

// ControlHolder reports who currently holds the lock ("" when unlocked).
func (r *Registry) ControlHolder(sessionID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if meta, ok := r.sessions[sessionID]; ok {
		return meta.ControlHolder
	}
	return ""
}

// PreviewDetails returns the preview descriptor, rotating the token
// transparently when it has expired. Returns nil for sessions without a
// preview.
func (r *Registry) PreviewDetails(sessionID string) *Preview {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.sessions[sessionID]
	if !ok || meta.Preview == nil {
		return nil
	}

	now := r.now()
	if !now.Before(meta.Preview.ExpiresAt) {
		old := meta.Preview
		meta.Preview = r.mintPreview(now)
		meta.Preview.Password = old.Password
		r.logger.Info("preview token rotated", zap.String("session_id", sessionID))
	}

	cp := *meta.Preview
	return &cp
}

// ValidateViewerToken checks a token at socket-upgrade time. A stale or
// unknown token never validates.
func (r *Registry) ValidateViewerToken(sessionID, token string) (bool, Role) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.sessions[sessionID]
	if !ok || meta.Preview == nil || token == "" {
		return false, ""
	}
	if meta.Preview.Token != token {
		return false, ""
	}
	if !r.now().Before(meta.Preview.ExpiresAt) {
		return false, ""
	}
	return true, RoleUser
}

// HandleSocketDisconnect reverts control to the AI when the disconnecting
// role held the lock. A human closing their tab must never strand a session
// in a locked state.
func (r *Registry) HandleSocketDisconnect(sessionID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if meta.ControlHolder == role && role != RoleAI {
		meta.ControlHolder = ""
		meta.Owner = RoleAI
		r.logger.Info("control reverted on disconnect",
			zap.String("session_id", sessionID), zap.String("role", string(role)))
	}
}

// Remove deletes session metadata; preview credentials stop validating
// immediately.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetClock overrides the registry clock; tests use this to drive token
// expiry.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Registry) storagePath(sessionID string) string {
	// The id is caller-supplied; keep the filename flat and safe.
	safe := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(r.storageDir, safe+".state.json")
}

func (r *Registry) mintPreview(now time.Time) *Preview {
	var wsURL, password string
	if r.bridge != nil {
		wsURL = r.bridge.ViewerURL()
		password = r.bridge.Password()
	}
	if password == "" {
		password = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	return &Preview{
		WSURL:     wsURL,
		Password:  password,
		Token:     id.NewTokenID().String(),
		ExpiresAt: now.Add(PreviewTTL),
	}
}
