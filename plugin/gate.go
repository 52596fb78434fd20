package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/falconeta/wificonnect/consent"
)

// GateResult is the outcome of a gate evaluation.
type GateResult int

const (
	// AllGranted means the call may execute now.
	AllGranted GateResult = iota
	// RequestIssued means the call is parked until a decision arrives.
	RequestIssued
	// AlreadyDenied means no request could be issued for a missing consent.
	AlreadyDenied
)

func (r GateResult) String() string {
	switch r {
	case AllGranted:
		return "all-granted"
	case RequestIssued:
		return "request-issued"
	case AlreadyDenied:
		return "already-denied"
	default:
		return fmt.Sprintf("GateResult(%d)", int(r))
	}
}

// Continuation is a call parked while a consent decision is pending.
type Continuation struct {
	Ticket   string
	Call     *Call
	Consent  consent.Consent
	ResumeAt string
	Since    time.Time

	ctx   context.Context
	timer *time.Timer
}

// continuations is the pending table, keyed by ticket.
type continuations struct {
	mu     sync.Mutex
	byID   map[string]*Continuation
	byCall map[*Call]string
}

func newContinuations() *continuations {
	return &continuations{
		byID:   make(map[string]*Continuation),
		byCall: make(map[*Call]string),
	}
}

func (t *continuations) park(c *Continuation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket, ok := t.byCall[c.Call]; ok {
		return fmt.Errorf("call %s already parked on ticket %s", c.Call.Method, ticket)
	}
	t.byID[c.Ticket] = c
	t.byCall[c.Call] = c.Ticket
	return nil
}

// take removes and returns the continuation for ticket, or nil.
func (t *continuations) take(ticket string) *Continuation {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[ticket]
	if !ok {
		return nil
	}
	delete(t.byID, ticket)
	delete(t.byCall, c.Call)
	if c.timer != nil {
		c.timer.Stop()
	}
	return c
}

func (t *continuations) setTimer(ticket string, timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byID[ticket]; ok {
		c.timer = timer
	} else {
		// Already decided.
		timer.Stop()
	}
}

func (t *continuations) snapshot() []Continuation {
	t.mu.Lock()
	out := make([]Continuation, 0, len(t.byID))
	for _, c := range t.byID {
		out = append(out, Continuation{
			Ticket:   c.Ticket,
			Call:     c.Call,
			Consent:  c.Consent,
			ResumeAt: c.ResumeAt,
			Since:    c.Since,
		})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Gate checks the required consents and requests the first missing one.
type Gate struct {
	authority consent.Authority
	table     *continuations
	reply     consent.ReplyFunc
	logger    *slog.Logger

	// timeout bounds how long a continuation stays parked; zero waits
	// indefinitely. expire is called with the ticket when it elapses.
	timeout time.Duration
	expire  func(ticket string)
}

// Ensure evaluates the required consents in order. Consent state is read from
// the authority on every evaluation. When a consent is missing, call is parked
// under a new ticket bound to resumeAt and a single request is issued.
func (g *Gate) Ensure(ctx context.Context, call *Call, resumeAt string) (GateResult, error) {
	for _, c := range consent.Required {
		state, err := g.authority.State(ctx, c)
		if err != nil {
			return AllGranted, fmt.Errorf("failed to read consent %s: %w", c, err)
		}
		if state == consent.Granted {
			continue
		}

		cont := &Continuation{
			Ticket:   uuid.NewString(),
			Call:     call,
			Consent:  c,
			ResumeAt: resumeAt,
			Since:    time.Now(),
			ctx:      context.WithoutCancel(ctx),
		}
		if err := g.table.park(cont); err != nil {
			return AllGranted, err
		}
		g.logger.Debug("consent missing", "method", call.Method, "consent", c, "state", state, "ticket", cont.Ticket)

		req := consent.Request{Ticket: cont.Ticket, Consent: c, ResumeAt: resumeAt}
		err = g.authority.Request(ctx, req, g.reply)
		if errors.Is(err, consent.ErrPermanentlyDenied) {
			g.table.take(cont.Ticket)
			return AlreadyDenied, nil
		}
		if err != nil {
			g.table.take(cont.Ticket)
			return AllGranted, fmt.Errorf("failed to request consent %s: %w", c, err)
		}
		if g.timeout > 0 {
			ticket := cont.Ticket
			g.table.setTimer(ticket, time.AfterFunc(g.timeout, func() { g.expire(ticket) }))
		}
		return RequestIssued, nil
	}
	return AllGranted, nil
}
