package consent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Prompter delivers a consent request to whoever answers it, typically the
// host application connected over the bridge.
type Prompter func(ctx context.Context, req Request) error

type pendingRequest struct {
	req   Request
	reply ReplyFunc
	since time.Time
}

// Pending describes a request awaiting a decision.
type Pending struct {
	Request
	Since time.Time
}

// Relay is an Authority that keeps state in a Ledger and forwards prompts to
// an external Prompter. Decisions come back through Decide.
type Relay struct {
	ledger *Ledger
	logger *slog.Logger

	// permanentDenial makes a recorded denial final: no new prompt is issued.
	permanentDenial bool

	mu      sync.Mutex
	prompt  Prompter
	pending map[string]pendingRequest
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithPermanentDenial makes recorded denials final until the ledger is reset.
func WithPermanentDenial(enabled bool) RelayOption {
	return func(r *Relay) {
		r.permanentDenial = enabled
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithPrompter sets the initial prompter.
func WithPrompter(p Prompter) RelayOption {
	return func(r *Relay) {
		r.prompt = p
	}
}

// NewRelay creates a Relay over ledger.
func NewRelay(ledger *Ledger, opts ...RelayOption) *Relay {
	r := &Relay{
		ledger:  ledger,
		logger:  slog.Default(),
		pending: make(map[string]pendingRequest),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("authority", "relay")
	return r
}

// Ledger returns the backing ledger.
func (r *Relay) Ledger() *Ledger {
	return r.ledger
}

// SetPrompter replaces the prompter. A nil prompter makes every new request
// fail with ErrNoPrompter.
func (r *Relay) SetPrompter(p Prompter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompt = p
}

func (r *Relay) State(ctx context.Context, c Consent) (State, error) {
	return r.ledger.Get(c), nil
}

func (r *Relay) Request(ctx context.Context, req Request, reply ReplyFunc) error {
	if r.permanentDenial && r.ledger.Get(req.Consent) == Denied {
		return fmt.Errorf("%s: %w", req.Consent, ErrPermanentlyDenied)
	}

	r.mu.Lock()
	prompt := r.prompt
	if prompt == nil {
		r.mu.Unlock()
		return ErrNoPrompter
	}
	r.pending[req.Ticket] = pendingRequest{req: req, reply: reply, since: time.Now()}
	r.mu.Unlock()

	r.logger.Info("consent requested", "ticket", req.Ticket, "consent", req.Consent, "resumeAt", req.ResumeAt)
	if err := prompt(ctx, req); err != nil {
		r.mu.Lock()
		delete(r.pending, req.Ticket)
		r.mu.Unlock()
		return fmt.Errorf("failed to deliver consent prompt: %w", err)
	}
	return nil
}

// Decide records the decision for ticket and replies to the requester.
func (r *Relay) Decide(ticket string, granted bool) error {
	r.mu.Lock()
	p, ok := r.pending[ticket]
	delete(r.pending, ticket)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", ticket, ErrUnknownTicket)
	}

	state := Denied
	if granted {
		state = Granted
	}
	if err := r.ledger.Set(p.req.Consent, state); err != nil {
		// The decision still stands for this request.
		r.logger.Warn("failed to persist consent decision", "consent", p.req.Consent, "error", err)
	}
	r.logger.Info("consent decided", "ticket", ticket, "consent", p.req.Consent, "granted", granted)

	p.reply(Decision{Ticket: ticket, Consent: p.req.Consent, Granted: granted})
	return nil
}

// Forget drops a pending request without replying.
func (r *Relay) Forget(ticket string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, ticket)
}

// Pending lists outstanding requests, oldest first.
func (r *Relay) Pending() []Pending {
	r.mu.Lock()
	out := make([]Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, Pending{Request: p.req, Since: p.since})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}
