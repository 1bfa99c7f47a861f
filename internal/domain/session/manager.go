// Package session owns live browser handles: creation on demand, storage
// state restore/flush, idle eviction, and shutdown. Metadata (ownership,
// control lock, preview credentials) is delegated to the registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
)

// ErrTooManySessions is returned when the admission cap is reached.
var ErrTooManySessions = errors.New("session limit reached")

// PageContent is the rendered page state returned by Content.
type PageContent struct {
	HTML string `json:"html"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Handle is one live browser page owned exclusively by one session.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string, submit bool) error
	Select(ctx context.Context, selector, value string) error
	WaitVisible(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, script string) (interface{}, error)
	Snapshot(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Content(ctx context.Context) (PageContent, error)
	URL() string
	Title() string
	StorageState(ctx context.Context) ([]byte, error)
	RestoreStorageState(ctx context.Context, data []byte) error
	Close() error
}

// LaunchOptions configures a new engine context.
type LaunchOptions struct {
	SessionID string
	Headful   bool
}

// Engine launches isolated browser contexts. The chrome adapter implements
// it; tests substitute a fake.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Handle, error)
}

// Options configures session acquisition. Option changes are ignored for
// already-running sessions.
type Options struct {
	Headful    bool
	Persistent bool
	Owner      registry.Role
}

// Config tunes session lifecycle behavior.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// MaxSessions caps concurrent live handles; 0 means unlimited.
	MaxSessions int
}

// DefaultConfig returns production lifecycle settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Metrics is the optional instrumentation surface the manager reports to.
type Metrics interface {
	SetActiveSessions(n int)
	RecordSessionEvicted()
}

// Manager creates, caches, and evicts browser handles.
type Manager struct {
	engine   Engine
	registry *registry.Registry
	cfg      Config
	logger   *logging.Logger
	metrics  Metrics

	mu      sync.Mutex
	handles map[string]Handle

	cron *cron.Cron
}

// NewManager creates a session manager. Call Start to enable the idle sweep.
func NewManager(engine Engine, reg *registry.Registry, cfg Config, logger *logging.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Manager{
		engine:   engine,
		registry: reg,
		cfg:      cfg,
		logger:   logger.Named("session"),
		handles:  make(map[string]Handle),
	}
}

// WithMetrics attaches instrumentation.
func (m *Manager) WithMetrics(metrics Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Start schedules the periodic idle sweep.
func (m *Manager) Start() {
	if m.cron != nil {
		return
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every "+m.cfg.SweepInterval.String(), m.sweep)
	if err != nil {
		m.logger.Error("failed to schedule idle sweep", zap.Error(err))
		return
	}
	m.cron.Start()
	m.logger.Info("idle sweep scheduled",
		zap.Duration("interval", m.cfg.SweepInterval),
		zap.Duration("timeout", m.cfg.IdleTimeout),
	)
}

// GetOrCreate returns the live handle for a session id, creating it on first
// access. A live handle is returned as-is with its activity refreshed; option
// changes do not apply to running sessions. Launch failures propagate
// unretried; retry policy belongs to the controller.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string, opts Options) (Handle, error) {
	m.mu.Lock()
	if h, ok := m.handles[sessionID]; ok {
		m.mu.Unlock()
		m.registry.Touch(sessionID, registry.TouchOptions{Owner: opts.Owner})
		return h, nil
	}
	if m.cfg.MaxSessions > 0 && len(m.handles) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.mu.Unlock()

	meta := m.registry.Touch(sessionID, registry.TouchOptions{
		Headful:    opts.Headful,
		Persistent: opts.Persistent,
		Owner:      opts.Owner,
	})

	h, err := m.engine.Launch(ctx, LaunchOptions{SessionID: sessionID, Headful: meta.Headful})
	if err != nil {
		m.registry.Remove(sessionID)
		return nil, fmt.Errorf("failed to launch browser for session %s: %w", sessionID, err)
	}

	if meta.Persistent {
		if err := m.restoreStorageState(ctx, h, meta.StoragePath); err != nil {
			m.logger.Warn("could not restore storage state",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.mu.Lock()
	// A concurrent creator may have won the race; keep theirs.
	if existing, ok := m.handles[sessionID]; ok {
		m.mu.Unlock()
		_ = h.Close()
		return existing, nil
	}
	// Concurrent creators of distinct ids can all pass the early cap check,
	// so the cap must hold at store time too.
	if m.cfg.MaxSessions > 0 && len(m.handles) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		_ = h.Close()
		m.registry.Remove(sessionID)
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.handles[sessionID] = h
	count := len(m.handles)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(count)
	}
	m.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.Bool("headful", meta.Headful),
		zap.Bool("persistent", meta.Persistent),
	)
	return h, nil
}

// Get returns a live handle without creating one.
func (m *Manager) Get(sessionID string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[sessionID]
	return h, ok
}

// Close flushes persistent storage state to disk, then releases the engine
// handle and the registry entry together. Flushing must happen before the
// engine close or the state is lost.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	h, ok := m.handles[sessionID]
	delete(m.handles, sessionID)
	count := len(m.handles)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(count)
	}

	meta, hasMeta := m.registry.Get(sessionID)
	defer m.registry.Remove(sessionID)

	if !ok {
		return nil
	}

	if hasMeta && meta.Persistent {
		if err := m.flushStorageState(ctx, h, meta.StoragePath); err != nil {
			m.logger.Warn("could not persist storage state",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	m.logger.Info("session closed", zap.String("session_id", sessionID))
	return nil
}

// CloseAll closes every session best-effort, collecting failures, and stops
// the idle sweep. Used at process shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.handles))
	for sid := range m.handles {
		ids = append(ids, sid)
	}
	m.mu.Unlock()

	var errs []error
	for _, sid := range ids {
		if err := m.Close(ctx, sid); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the ids of sessions with live handles.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.handles))
	for sid := range m.handles {
		ids = append(ids, sid)
	}
	return ids
}

// Count returns the number of live handles.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// RequestControl passes through to the registry; arbitration is metadata-only
// and independent of whether the engine is running.
func (m *Manager) RequestControl(sessionID string, requester registry.Role) bool {
	return m.registry.RequestControl(sessionID, requester)
}

// ReleaseControl passes through to the registry.
func (m *Manager) ReleaseControl(sessionID string, requester registry.Role) {
	m.registry.ReleaseControl(sessionID, requester)
}

// Preview passes through to the registry.
func (m *Manager) Preview(sessionID string) *registry.Preview {
	return m.registry.PreviewDetails(sessionID)
}

// Metadata passes through to the registry.
func (m *Manager) Metadata(sessionID string) (registry.Metadata, bool) {
	return m.registry.Get(sessionID)
}

// SweepIdle closes every session whose last activity is older than the idle
// timeout. Exposed for tests; the cron schedule calls it in production.
func (m *Manager) SweepIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	evicted := 0

	for _, sid := range m.Active() {
		meta, ok := m.registry.Get(sid)
		if !ok || meta.LastActive.After(cutoff) {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.Close(ctx, sid); err != nil {
			m.logger.Warn("idle eviction failed", zap.String("session_id", sid), zap.Error(err))
		} else {
			evicted++
			if m.metrics != nil {
				m.metrics.RecordSessionEvicted()
			}
			m.logger.Info("idle session evicted",
				zap.String("session_id", sid),
				zap.Time("last_active", meta.LastActive),
			)
		}
		cancel()
	}
	return evicted
}

func (m *Manager) sweep() {
	m.SweepIdle(m.cfg.IdleTimeout)
}

func (m *Manager) restoreStorageState(ctx context.Context, h Handle, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return h.RestoreStorageState(ctx, data)
}

func (m *Manager) flushStorageState(ctx context.Context, h Handle, path string) error {
	data, err := h.StorageState(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
