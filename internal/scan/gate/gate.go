package gate

import (
	"sync"
	"time"

	"github.com/eduard256/tillscan/internal/metrics"
)

type entry struct {
	inFlight bool
	until    time.Time
}

// Gate suppresses repeat detections of a barcode while its lookup is in
// flight and for a cool-down afterwards. One gate belongs to one scanner session.
type Gate struct {
	mu              sync.Mutex
	entries         map[string]entry
	successCooldown time.Duration
	failureCooldown time.Duration
	now             func() time.Time
}

// Option configures a Gate
type Option func(*Gate)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a gate with the given cool-downs
func New(successCooldown, failureCooldown time.Duration, opts ...Option) *Gate {
	g := &Gate{
		entries:         make(map[string]entry),
		successCooldown: successCooldown,
		failureCooldown: failureCooldown,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Accept returns true and marks barcode in flight when it is neither in
// flight nor cooling down.
func (g *Gate) Accept(barcode string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[barcode]; ok {
		if e.inFlight || g.now().Before(e.until) {
			metrics.GateDecisionsTotal.WithLabelValues("suppressed").Inc()
			return false
		}
	}

	g.entries[barcode] = entry{inFlight: true}
	metrics.GateDecisionsTotal.WithLabelValues("accepted").Inc()
	return true
}

// Finish ends the lookup for barcode and starts its cool-down
func (g *Gate) Finish(barcode string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cooldown := g.failureCooldown
	if success {
		cooldown = g.successCooldown
	}
	g.entries[barcode] = entry{until: g.now().Add(cooldown)}
	g.sweepLocked()
}

// Blocked reports whether barcode would currently be rejected
func (g *Gate) Blocked(barcode string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[barcode]
	return ok && (e.inFlight || g.now().Before(e.until))
}

// Len returns the number of tracked barcodes, expired ones included
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// sweepLocked drops expired cool-downs
func (g *Gate) sweepLocked() {
	now := g.now()
	for code, e := range g.entries {
		if !e.inFlight && !now.Before(e.until) {
			delete(g.entries, code)
		}
	}
}
