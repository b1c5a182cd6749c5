package integration

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPortAllocatorHandsOutConsecutivePorts(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	a := NewPortAllocator(zaptest.NewLogger(t))

	first := a.Next()
	req.GreaterOrEqual(first, minBasePort)
	req.LessOrEqual(first, maxBasePort)
	for i := 1; i <= 5; i++ {
		req.Equal(first+i, a.Next())
	}
}

func TestPortAllocatorIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	a := NewPortAllocator(zaptest.NewLogger(t))

	const goroutines = 8
	const perGoroutine = 25

	var mu sync.Mutex
	seen := make(map[int]struct{})

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				port := a.Next()
				mu.Lock()
				seen[port] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Len(seen, goroutines*perGoroutine)
}
