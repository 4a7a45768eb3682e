package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGate() (*Gate, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	return New(1500*time.Millisecond, 2500*time.Millisecond, WithClock(clock.Now)), clock
}

func TestAcceptOncePerEpisode(t *testing.T) {
	g, _ := newTestGate()

	assert.True(t, g.Accept("222222222"))
	for i := 0; i < 10; i++ {
		assert.False(t, g.Accept("222222222"), "repeat %d while in flight", i)
	}
	assert.True(t, g.Accept("333333333"), "different barcode is independent")
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	g, _ := newTestGate()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Accept("B") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestSuccessCooldownReenables(t *testing.T) {
	g, clock := newTestGate()

	assert.True(t, g.Accept("B"))
	g.Finish("B", true)

	clock.Advance(time.Second)
	assert.False(t, g.Accept("B"), "still cooling down")

	clock.Advance(600 * time.Millisecond)
	assert.True(t, g.Accept("B"), "cool-down elapsed")
}

func TestFailureCooldownIsLonger(t *testing.T) {
	g, clock := newTestGate()

	assert.True(t, g.Accept("B"))
	g.Finish("B", false)

	clock.Advance(2 * time.Second)
	assert.True(t, g.Blocked("B"))
	assert.False(t, g.Accept("B"))

	clock.Advance(600 * time.Millisecond)
	assert.False(t, g.Blocked("B"))
	assert.True(t, g.Accept("B"))
}

func TestFinishSweepsExpired(t *testing.T) {
	g, clock := newTestGate()

	g.Accept("A")
	g.Finish("A", true)
	clock.Advance(2 * time.Second)

	g.Accept("B")
	g.Finish("B", true)

	assert.Equal(t, 1, g.Len())
}
