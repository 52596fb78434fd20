//go:build linux

// Package polkit answers consent queries through the polkit authority on the
// system bus. Prompts are shown by the session's polkit agent.
package polkit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/falconeta/wificonnect/consent"
)

const (
	authorityDest  = "org.freedesktop.PolicyKit1"
	authorityPath  = "/org/freedesktop/PolicyKit1/Authority"
	authorityIface = "org.freedesktop.PolicyKit1.Authority"

	flagNone                 uint32 = 0
	flagAllowUserInteraction uint32 = 1
)

// DefaultActionPrefix is prepended to a consent alias to build the polkit action id.
const DefaultActionPrefix = "io.github.falconeta.wificonnect"

type subject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type authorizationResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// caller is the part of dbus.BusObject the authority uses.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Authority implements consent.Authority on top of polkit.
type Authority struct {
	obj     caller
	subject subject
	prefix  string
	logger  *slog.Logger
}

// New connects to the system bus. Checks are made for this process's unique
// bus name.
func New(prefix string, logger *slog.Logger) (*Authority, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	names := conn.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("system bus connection has no unique name")
	}
	return newAuthority(conn.Object(authorityDest, authorityPath), names[0], prefix, logger), nil
}

func newAuthority(obj caller, busName, prefix string, logger *slog.Logger) *Authority {
	if prefix == "" {
		prefix = DefaultActionPrefix
	}
	return &Authority{
		obj: obj,
		subject: subject{
			Kind:    "system-bus-name",
			Details: map[string]dbus.Variant{"name": dbus.MakeVariant(busName)},
		},
		prefix: prefix,
		logger: logger.With("authority", "polkit"),
	}
}

// ActionID returns the polkit action checked for c.
func (a *Authority) ActionID(c consent.Consent) string {
	return a.prefix + "." + string(c)
}

func (a *Authority) check(ctx context.Context, c consent.Consent, flags uint32, cancelID string) (authorizationResult, error) {
	var res authorizationResult
	call := a.obj.CallWithContext(ctx, authorityIface+".CheckAuthorization", 0,
		a.subject, a.ActionID(c), map[string]string{}, flags, cancelID)
	if err := call.Store(&res); err != nil {
		return res, fmt.Errorf("polkit check for %s: %w", a.ActionID(c), err)
	}
	return res, nil
}

// State maps a non-interactive check: authorized is granted, a possible
// challenge is unknown, anything else is denied.
func (a *Authority) State(ctx context.Context, c consent.Consent) (consent.State, error) {
	res, err := a.check(ctx, c, flagNone, "")
	if err != nil {
		return consent.Unknown, err
	}
	switch {
	case res.IsAuthorized:
		return consent.Granted, nil
	case res.IsChallenge:
		return consent.Unknown, nil
	default:
		return consent.Denied, nil
	}
}

// Request starts an interactive check in the background and replies once the
// agent returns.
func (a *Authority) Request(ctx context.Context, req consent.Request, reply consent.ReplyFunc) error {
	state, err := a.State(ctx, req.Consent)
	if err != nil {
		return err
	}
	if state == consent.Denied {
		return fmt.Errorf("%s: %w", a.ActionID(req.Consent), consent.ErrPermanentlyDenied)
	}

	a.logger.Info("consent requested", "ticket", req.Ticket, "consent", req.Consent, "action", a.ActionID(req.Consent))
	go func() {
		res, err := a.check(context.WithoutCancel(ctx), req.Consent, flagAllowUserInteraction, req.Ticket)
		if err != nil {
			a.logger.Warn("interactive polkit check failed", "ticket", req.Ticket, "error", err)
		}
		reply(consent.Decision{Ticket: req.Ticket, Consent: req.Consent, Granted: err == nil && res.IsAuthorized})
	}()
	return nil
}
