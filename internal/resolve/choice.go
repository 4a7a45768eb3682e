package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

var (
	// ErrNoPendingChoice means the choice id does not match the open choice
	ErrNoPendingChoice = errors.New("no such pending choice")
	// ErrInvalidSelection means the product was not one of the candidates
	ErrInvalidSelection = errors.New("product is not one of the offered choices")
)

type choiceReply struct {
	product   models.Product
	cancelled bool
}

type pendingChoice struct {
	models.PendingChoice
	reply chan choiceReply
}

// Broker hands ambiguous catalog matches to the operator and waits for a
// selection. At most one choice is open at a time.
type Broker struct {
	timeout  time.Duration
	logger   logger.Logger
	onChange func(*models.PendingChoice)

	mu      sync.Mutex
	pending *pendingChoice
}

// NewBroker creates a broker whose choices expire after timeout
func NewBroker(timeout time.Duration, log logger.Logger) *Broker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Broker{timeout: timeout, logger: log}
}

// OnChange registers fn to be called when a choice opens (non-nil) or
// closes (nil). Must be set before use.
func (b *Broker) OnChange(fn func(*models.PendingChoice)) {
	b.onChange = fn
}

// PresentChoices publishes products as a pending choice and blocks until
// the operator selects one, dismisses it, it times out, or ctx ends.
func (b *Broker) PresentChoices(ctx context.Context, products []models.Product) (models.Product, error) {
	pc := &pendingChoice{
		PendingChoice: models.PendingChoice{
			ID:        uuid.NewString(),
			Products:  products,
			ExpiresAt: time.Now().Add(b.timeout),
		},
		reply: make(chan choiceReply, 1),
	}

	b.mu.Lock()
	prev := b.pending
	b.pending = pc
	b.mu.Unlock()

	if prev != nil {
		prev.reply <- choiceReply{cancelled: true}
	}
	b.notify(&pc.PendingChoice)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	var (
		reply choiceReply
		err   error
	)
	select {
	case reply = <-pc.reply:
		if reply.cancelled {
			err = models.ErrSelectionCancelled
		}
	case <-timer.C:
		err = fmt.Errorf("%w: no selection within %s", models.ErrSelectionCancelled, b.timeout)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", models.ErrSelectionCancelled, ctx.Err())
	}

	if b.clear(pc) {
		b.notify(nil)
	}
	if err != nil {
		b.logger.Info("product selection cancelled", "choice_id", pc.ID, "reason", err.Error())
		return models.Product{}, err
	}

	b.logger.Info("product selected", "choice_id", pc.ID, "product_id", reply.product.ID)
	return reply.product, nil
}

// Pending returns the open choice, or nil
func (b *Broker) Pending() *models.PendingChoice {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return nil
	}
	c := b.pending.PendingChoice
	return &c
}

// Select answers the open choice with the product identified by productID
func (b *Broker) Select(choiceID, productID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc := b.pending
	if pc == nil || pc.ID != choiceID {
		return ErrNoPendingChoice
	}
	for _, p := range pc.Products {
		if p.ID == productID {
			b.pending = nil
			pc.reply <- choiceReply{product: p}
			return nil
		}
	}
	return ErrInvalidSelection
}

// Dismiss closes the open choice without a selection
func (b *Broker) Dismiss(choiceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pc := b.pending
	if pc == nil || pc.ID != choiceID {
		return ErrNoPendingChoice
	}
	b.pending = nil
	pc.reply <- choiceReply{cancelled: true}
	return nil
}

// CancelAll dismisses whatever choice is open
func (b *Broker) CancelAll() {
	b.mu.Lock()
	pc := b.pending
	b.pending = nil
	b.mu.Unlock()

	if pc != nil {
		pc.reply <- choiceReply{cancelled: true}
	}
}

// clear drops pc if it is still the open choice and reports whether no
// choice is open afterwards
func (b *Broker) clear(pc *pendingChoice) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == pc {
		b.pending = nil
	}
	return b.pending == nil
}

func (b *Broker) notify(c *models.PendingChoice) {
	if b.onChange != nil {
		b.onChange(c)
	}
}
