package chrome

import (
	"math/rand"
	"sync"
	"time"
)

// jitter is the random source behind humanized pauses and fingerprint
// rotation. math/rand sources are not safe for concurrent use, and handles
// run commands from independent request goroutines, so every draw goes
// through the mutex.
type jitter struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func newJitter() *jitter {
	return &jitter{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Intn returns a uniform int in [0, n).
func (j *jitter) Intn(n int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rand.Intn(n)
}
