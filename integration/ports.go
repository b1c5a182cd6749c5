package integration

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port range the allocator draws its base from. Staying below the
// ephemeral range keeps handed-out ports from colliding with sockets the
// kernel assigns on its own.
const (
	minBasePort = 1024
	maxBasePort = 30000
)

// PortAllocator hands out consecutive TCP ports starting from a random
// base. The random base gives concurrent harness instances on one machine
// a decent chance of staying out of each other's way; nothing verifies
// that a handed-out port is actually free.
type PortAllocator struct {
	mu   sync.Mutex
	next int
}

// NewPortAllocator picks a random base port and logs it so a failed run
// can be correlated with the sockets it used.
func NewPortAllocator(log *zap.Logger) *PortAllocator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	base := minBasePort + rng.Intn(maxBasePort-minBasePort+1)
	log.Info("using ports", zap.Int("base", base))
	return &PortAllocator{next: base}
}

// Next returns a fresh port.
func (a *PortAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	port := a.next
	a.next++
	return port
}
