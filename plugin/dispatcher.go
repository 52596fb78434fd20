// Package plugin dispatches host calls to a WiFi backend once every required
// consent has been granted.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/wifi"
)

// decider is implemented by authorities that receive decisions through the
// dispatcher, such as consent.Relay.
type decider interface {
	Decide(ticket string, granted bool) error
}

type forgetter interface {
	Forget(ticket string)
}

// Dispatcher is the single entry point for host calls.
type Dispatcher struct {
	backend   wifi.Backend
	authority consent.Authority
	logger    *slog.Logger
	timeout   time.Duration

	gate  *Gate
	table *continuations

	// execMu serializes platform actions.
	execMu sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithConsentTimeout rejects parked calls that are not decided within t.
func WithConsentTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

// New creates a Dispatcher.
func New(backend wifi.Backend, authority consent.Authority, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		backend:   backend,
		authority: authority,
		logger:    slog.Default(),
		table:     newContinuations(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.gate = &Gate{
		authority: authority,
		table:     d.table,
		reply:     d.onDecision,
		logger:    d.logger,
		timeout:   d.timeout,
		expire:    d.expire,
	}
	return d
}

// Gate returns the dispatcher's permission gate.
func (d *Dispatcher) Gate() *Gate {
	return d.gate
}

// Invoke runs call. The outcome is reported through the call's sink, either
// before Invoke returns or later once a consent decision arrives.
func (d *Dispatcher) Invoke(ctx context.Context, call *Call) {
	op, ok := operations[call.Method]
	if !ok {
		call.Reject(fmt.Errorf("%s: %w", call.Method, ErrUnknownMethod))
		return
	}
	d.enter(ctx, call, op)
}

func (d *Dispatcher) enter(ctx context.Context, call *Call, op operation) {
	if !op.ungated {
		res, err := d.gate.Ensure(ctx, call, op.name)
		if err != nil {
			d.logger.Error("gate evaluation failed", "method", op.name, "error", err)
			call.Reject(err)
			return
		}
		d.logger.Debug("gate evaluated", "method", op.name, "result", res)
		switch res {
		case RequestIssued:
			return
		case AlreadyDenied:
			call.Reject(ErrPermissionRequired)
			return
		}
	}
	d.execute(ctx, call, op)
}

func (d *Dispatcher) execute(ctx context.Context, call *Call, op operation) {
	d.execMu.Lock()
	res, err := op.run(ctx, d, call.Params)
	d.execMu.Unlock()

	if err != nil {
		d.logger.Info("call failed", "method", op.name, "id", call.ID, "error", err)
		call.Reject(err)
		return
	}
	d.logger.Info("call executed", "method", op.name, "id", call.ID)
	call.Resolve(res)
}

// Decide delivers a consent decision for ticket. Authorities that own their
// decisions record it first and then resume the call.
func (d *Dispatcher) Decide(ticket string, granted bool) error {
	if dec, ok := d.authority.(decider); ok {
		return dec.Decide(ticket, granted)
	}
	return d.resume(consent.Decision{Ticket: ticket, Granted: granted})
}

func (d *Dispatcher) onDecision(dec consent.Decision) {
	if err := d.resume(dec); err != nil {
		d.logger.Warn("dropping consent decision", "ticket", dec.Ticket, "error", err)
	}
}

func (d *Dispatcher) resume(dec consent.Decision) error {
	cont := d.table.take(dec.Ticket)
	if cont == nil {
		return fmt.Errorf("%s: %w", dec.Ticket, consent.ErrUnknownTicket)
	}
	if !dec.Granted {
		d.logger.Info("consent refused", "method", cont.ResumeAt, "consent", cont.Consent, "ticket", dec.Ticket)
		cont.Call.Reject(ErrPermissionRequired)
		return nil
	}
	op, ok := operations[cont.ResumeAt]
	if !ok {
		cont.Call.Reject(fmt.Errorf("%s: %w", cont.ResumeAt, ErrUnknownMethod))
		return nil
	}
	d.logger.Debug("resuming call", "method", cont.ResumeAt, "ticket", dec.Ticket)
	d.enter(cont.ctx, cont.Call, op)
	return nil
}

func (d *Dispatcher) expire(ticket string) {
	cont := d.table.take(ticket)
	if cont == nil {
		return
	}
	if f, ok := d.authority.(forgetter); ok {
		f.Forget(ticket)
	}
	d.logger.Warn("consent decision timed out", "method", cont.ResumeAt, "consent", cont.Consent, "ticket", ticket)
	cont.Call.Reject(ErrPermissionRequired)
}

// Pending lists parked calls, oldest first.
func (d *Dispatcher) Pending() []Continuation {
	return d.table.snapshot()
}

// Authority returns the consent authority the gate consults.
func (d *Dispatcher) Authority() consent.Authority {
	return d.authority
}
