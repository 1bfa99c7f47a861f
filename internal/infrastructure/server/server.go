// Package server wires every component together and runs the HTTP surface.
// All construction is explicit; nothing reaches for globals.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/jobpilot/browserd/internal/api/http"
	"github.com/jobpilot/browserd/internal/api/middleware"
	"github.com/jobpilot/browserd/internal/api/ws"
	"github.com/jobpilot/browserd/internal/domain/automation"
	"github.com/jobpilot/browserd/internal/domain/browser"
	"github.com/jobpilot/browserd/internal/domain/display"
	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/domain/session"
	"github.com/jobpilot/browserd/internal/engine/chrome"
	"github.com/jobpilot/browserd/internal/infrastructure/config"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/infrastructure/monitoring"
	"github.com/jobpilot/browserd/internal/providers/search"
)

// Server owns the component graph and the HTTP listener.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	bridge   *display.Bridge
	channel  *ws.Channel
	redis    *search.RedisCache
	logger   *logging.Logger
	config   *config.Config
}

// New builds the full component graph from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		l, err := logging.New(logCfg)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
		}
		logger = l
	}

	logger.Info("initializing browserd",
		zap.String("port", cfg.Server.Port),
		zap.Bool("display_bridge", cfg.Display.Enabled),
		zap.Bool("headless_default", cfg.Browser.Headless),
	)

	metrics := monitoring.New()

	bridge := display.New(display.Config{
		Enabled:    cfg.Display.Enabled,
		Number:     cfg.Display.Number,
		Geometry:   cfg.Display.Geometry,
		VNCPort:    cfg.Display.VNCPort,
		WSPort:     cfg.Display.WSPort,
		Password:   cfg.Display.Password,
		PublicHost: cfg.Display.PublicHost,
	}, logger)

	reg := registry.New(cfg.Browser.StorageDir, bridge, logger)

	engine := chrome.New(chrome.Config{
		Headless:   cfg.Browser.Headless,
		DisplayEnv: bridge.DisplayEnv(),
		Stealth:    cfg.Browser.Humanize,
	}, logger)

	sessions := session.NewManager(engine, reg, session.Config{
		IdleTimeout:   cfg.Browser.IdleTimeout,
		SweepInterval: cfg.Browser.SweepInterval,
		MaxSessions:   cfg.Browser.MaxSessions,
	}, logger).WithMetrics(metrics)
	sessions.Start()

	controller := browser.New(sessions, browser.Config{
		OpTimeout:  15 * time.Second,
		NavTimeout: 30 * time.Second,
		Humanize:   cfg.Browser.Humanize,
	}, logger).WithMetrics(metrics)

	searchChain, redisCache := buildSearchChain(cfg, engine, logger)
	searchChain = searchChain.WithMetrics(metrics)

	channel := ws.NewChannel(reg, controller, logger).WithMetrics(metrics)

	var orchestrator *automation.Orchestrator
	if planner := automation.NewLLMClient(automation.LLMConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}); planner != nil {
		orchestrator = automation.New(controller, searchChain, channel, reg, planner, logger)
		logger.Info("automation enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Warn("no LLM API key configured; automation disabled")
	}

	handlers := apihttp.NewHandlers(controller, sessions, searchChain, orchestrator, bridge, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/health", handlers.Health)
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/browser")
	api.Use(middleware.BearerAuth(cfg.Auth.Token))
	{
		api.POST("/session/create", handlers.CreateSession)
		api.GET("/session/:id", handlers.GetSession)
		api.GET("/sessions", handlers.ListSessions)
		api.POST("/navigate", handlers.Navigate)
		api.POST("/click", handlers.Click)
		api.POST("/type", handlers.Type)
		api.POST("/select", handlers.Select)
		api.POST("/wait", handlers.Wait)
		api.POST("/evaluate", handlers.Evaluate)
		api.POST("/snapshot", handlers.Snapshot)
		api.POST("/screenshot", handlers.Screenshot)
		api.POST("/content", handlers.Content)
		api.POST("/close", handlers.Close)
		api.POST("/control/request", handlers.RequestControl)
		api.POST("/control/release", handlers.ReleaseControl)
		api.POST("/search", handlers.Search)
		api.POST("/automate", handlers.Automate)

		// Viewer tokens, not the API token, authorize the event channel;
		// admission happens inside the handler before upgrade.
	}
	router.GET("/api/browser/events", channel.Handle)

	logger.Info("server initialized")

	return &Server{
		router:   router,
		sessions: sessions,
		bridge:   bridge,
		channel:  channel,
		redis:    redisCache,
		logger:   logger,
		config:   cfg,
	}, nil
}

// buildSearchChain assembles the provider chain from configured
// capabilities: the structured API only with a key, Redis caching only with
// an address. The returned RedisCache is nil when the in-memory cache is
// used; the caller owns closing it.
func buildSearchChain(cfg *config.Config, fetcher search.PageFetcher, logger *logging.Logger) (*search.Chain, *search.RedisCache) {
	var cache search.Cache
	var redisCache *search.RedisCache
	if cfg.Search.RedisAddr != "" {
		redisCache = search.NewRedisCache(cfg.Search.RedisAddr, cfg.Search.CacheTTL, logger)
		cache = redisCache
		logger.Info("search cache backed by redis", zap.String("addr", cfg.Search.RedisAddr))
	} else {
		cache = search.NewMemoryCache(cfg.Search.CacheTTL)
	}

	var structured search.Provider
	if s := search.NewStructured(cfg.Search.StructuredURL, cfg.Search.StructuredKey); s != nil {
		structured = s
	}

	chain := search.NewChain([]search.Provider{
		structured,
		search.NewAggregator(cfg.Search.AggregatorURL),
		search.NewBoard("board", cfg.Search.BoardURL, fetcher, search.DefaultSelectors()),
	}, cache, logger)
	return chain, redisCache
}

// Run serves HTTP until the context is canceled, then shuts everything down
// in dependency order.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		return s.Close()
	}
}

// Close drains HTTP, disconnects viewers, closes every browser session
// (flushing persistent state), and stops the display pipeline.
func (s *Server) Close() error {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	s.channel.Close()

	if err := s.sessions.CloseAll(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}
	if err := s.bridge.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("display shutdown: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis shutdown: %w", err))
		}
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
