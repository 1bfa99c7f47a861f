// Package display manages the shared virtual display pipeline that lets
// humans watch and drive headful sessions: Xvfb renders the browsers, x11vnc
// serves the framebuffer, websockify bridges VNC to browser-reachable
// websockets.
package display

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/infrastructure/logging"
)

// Config tunes the display pipeline.
type Config struct {
	// Enabled gates the whole bridge; disabled bridges degrade headful
	// sessions to no preview instead of failing them.
	Enabled bool
	// Number is the X display number (99 → ":99").
	Number int
	// Geometry is the Xvfb screen size, e.g. "1920x1080".
	Geometry string
	// VNCPort is where x11vnc listens.
	VNCPort int
	// WSPort is where websockify listens for browser clients.
	WSPort int
	// Password protects the VNC stream; generated when empty.
	Password string
	// PublicHost is the host clients reach the websocket on.
	PublicHost string
}

// DefaultConfig returns production display settings.
func DefaultConfig() Config {
	return Config{
		Number:     99,
		Geometry:   "1920x1080",
		VNCPort:    5900,
		WSPort:     6080,
		PublicHost: "localhost",
	}
}

// process is one tracked child of the pipeline.
type process interface {
	Kill() error
}

// runner starts pipeline children. The default shells out; tests substitute
// a recorder.
type runner interface {
	Start(name string, args ...string) (process, error)
}

type execRunner struct{}

func (execRunner) Start(name string, args ...string) (process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	// Reap the child when it exits so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	return cmd.Process, nil
}

// Bridge owns the Xvfb → x11vnc → websockify pipeline. One bridge serves
// every headful session; sessions share the display.
type Bridge struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	running  bool
	procs    []process
	password string
	passFile string

	run         runner
	waitDisplay func(display string) error
}

// New creates a bridge. Nothing is spawned until Start.
func New(cfg Config, logger *logging.Logger) *Bridge {
	if cfg.Number <= 0 {
		cfg.Number = 99
	}
	if cfg.Geometry == "" {
		cfg.Geometry = "1920x1080"
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = "localhost"
	}
	return &Bridge{
		cfg:         cfg,
		logger:      logger.Named("display"),
		run:         execRunner{},
		waitDisplay: waitForSocket,
	}
}

// Enabled reports whether the bridge may be started.
func (b *Bridge) Enabled() bool {
	return b.cfg.Enabled
}

// DisplayEnv returns the DISPLAY value headful browsers should render to.
func (b *Bridge) DisplayEnv() string {
	return ":" + strconv.Itoa(b.cfg.Number)
}

// ViewerURL returns the websocket endpoint VNC clients connect to.
func (b *Bridge) ViewerURL() string {
	return fmt.Sprintf("ws://%s:%d/websockify", b.cfg.PublicHost, b.cfg.WSPort)
}

// Password returns the VNC password, generating one on first use.
func (b *Bridge) Password() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passwordLocked()
}

func (b *Bridge) passwordLocked() string {
	if b.password == "" {
		if b.cfg.Password != "" {
			b.password = b.cfg.Password
		} else {
			// x11vnc truncates beyond 8 chars; keep it short and random.
			b.password = uuid.NewString()[:8]
		}
	}
	return b.password
}

// Start spawns the pipeline if it is not already running. Safe to call on
// every headful session creation; only the first call does work.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Enabled {
		return fmt.Errorf("display bridge is disabled")
	}
	if b.running {
		return nil
	}

	display := ":" + strconv.Itoa(b.cfg.Number)

	xvfb, err := b.run.Start("Xvfb", display, "-screen", "0", b.cfg.Geometry+"x24", "-nolisten", "tcp")
	if err != nil {
		return fmt.Errorf("failed to start Xvfb: %w", err)
	}
	b.procs = append(b.procs, xvfb)

	if err := b.waitDisplay(display); err != nil {
		b.stopLocked()
		return fmt.Errorf("display %s never became ready: %w", display, err)
	}

	passFile, err := b.writePasswordFile()
	if err != nil {
		b.stopLocked()
		return err
	}
	b.passFile = passFile

	vnc, err := b.run.Start("x11vnc",
		"-display", display,
		"-rfbport", strconv.Itoa(b.cfg.VNCPort),
		"-passwdfile", "plain:"+passFile,
		"-forever", "-shared", "-noxdamage", "-quiet",
	)
	if err != nil {
		b.stopLocked()
		return fmt.Errorf("failed to start x11vnc: %w", err)
	}
	b.procs = append(b.procs, vnc)

	wsock, err := b.run.Start("websockify",
		strconv.Itoa(b.cfg.WSPort),
		fmt.Sprintf("localhost:%d", b.cfg.VNCPort),
	)
	if err != nil {
		b.stopLocked()
		return fmt.Errorf("failed to start websockify: %w", err)
	}
	b.procs = append(b.procs, wsock)

	b.running = true
	b.logger.Info("display pipeline started",
		zap.String("display", display),
		zap.Int("vnc_port", b.cfg.VNCPort),
		zap.Int("ws_port", b.cfg.WSPort),
	)
	return nil
}

// Stop kills every tracked child and removes the password file. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

// Running reports whether the pipeline is up. Used by the health endpoint.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bridge) stopLocked() {
	// Reverse order: consumers die before producers.
	for i := len(b.procs) - 1; i >= 0; i-- {
		if err := b.procs[i].Kill(); err != nil {
			b.logger.Warn("failed to kill display process", zap.Error(err))
		}
	}
	b.procs = nil

	if b.passFile != "" {
		if err := os.Remove(b.passFile); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("failed to remove vnc password file", zap.Error(err))
		}
		b.passFile = ""
	}

	if b.running {
		b.running = false
		b.logger.Info("display pipeline stopped")
	}
}

func (b *Bridge) writePasswordFile() (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("browserd-vnc-%d.pass", b.cfg.Number))
	if err := os.WriteFile(path, []byte(b.passwordLocked()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write vnc password file: %w", err)
	}
	return path, nil
}

// waitForSocket polls for the X server's unix socket.
func waitForSocket(display string) error {
	socket := filepath.Join("/tmp/.X11-unix", "X"+display[1:])
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("socket %s not present", socket)
}
