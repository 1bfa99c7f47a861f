package browser

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Humanizer spaces actions out with small randomized pauses so command bursts
// don't land with machine-perfect timing. Disabled instances are no-ops, which
// keeps tests fast and deterministic.
type Humanizer struct {
	enabled bool

	mu   sync.Mutex
	rand *rand.Rand

	minPause time.Duration
	maxPause time.Duration
}

// NewHumanizer creates a humanizer with the default 120-600ms pause band.
func NewHumanizer(enabled bool) *Humanizer {
	return &Humanizer{
		enabled:  enabled,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		minPause: 120 * time.Millisecond,
		maxPause: 600 * time.Millisecond,
	}
}

// Pause sleeps for a random duration within the band, returning early if the
// context is cancelled.
func (h *Humanizer) Pause(ctx context.Context) {
	if h == nil || !h.enabled {
		return
	}

	h.mu.Lock()
	jitter := time.Duration(h.rand.Int63n(int64(h.maxPause - h.minPause)))
	h.mu.Unlock()

	select {
	case <-time.After(h.minPause + jitter):
	case <-ctx.Done():
	}
}
