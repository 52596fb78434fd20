// Package consent models the runtime permissions that gate every WiFi
// operation and the authorities that grant them.
package consent

import (
	"context"
	"fmt"
)

// Consent is one OS-managed runtime permission.
type Consent string

const (
	FineLocation       Consent = "access-fine-location"
	CoarseLocation     Consent = "access-coarse-location"
	AccessWifiState    Consent = "access-wifi-state"
	ChangeWifiState    Consent = "change-wifi-state"
	ChangeNetworkState Consent = "change-network-state"
)

// Required lists the consents every operation needs, in the order they are
// requested.
var Required = []Consent{
	FineLocation,
	CoarseLocation,
	AccessWifiState,
	ChangeWifiState,
	ChangeNetworkState,
}

// Parse resolves a consent alias.
func Parse(s string) (Consent, error) {
	for _, c := range Required {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownConsent)
}

// State is the decision currently recorded for a consent.
type State int

const (
	Unknown State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "prompt"
	}
}

// MarshalText encodes the state the way the host bridge reports it.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the values produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "granted":
		*s = Granted
	case "denied":
		*s = Denied
	case "prompt", "unknown", "":
		*s = Unknown
	default:
		return fmt.Errorf("invalid consent state %q", b)
	}
	return nil
}

// Request asks an authority to decide on a single consent. Ticket identifies
// the parked call, ResumeAt names the operation it re-enters.
type Request struct {
	Ticket   string  `json:"ticket"`
	Consent  Consent `json:"consent"`
	ResumeAt string  `json:"resumeAt"`
}

// Decision is the answer to a Request.
type Decision struct {
	Ticket  string
	Consent Consent
	Granted bool
}

// ReplyFunc receives the decision for an issued request. It may be called
// from any goroutine, at most once.
type ReplyFunc func(Decision)

// Authority owns consent state. State is queried on every gate evaluation and
// must not be cached by callers.
type Authority interface {
	State(ctx context.Context, c Consent) (State, error)
	// Request starts a consent prompt and returns without waiting for it.
	// It returns ErrPermanentlyDenied when no prompt can be shown.
	Request(ctx context.Context, req Request, reply ReplyFunc) error
}

// Snapshot queries the state of every required consent.
func Snapshot(ctx context.Context, a Authority) (map[Consent]State, error) {
	out := make(map[Consent]State, len(Required))
	for _, c := range Required {
		s, err := a.State(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("consent %s: %w", c, err)
		}
		out[c] = s
	}
	return out, nil
}
