package plugin

import (
	"log/slog"
	"sync"

	"github.com/falconeta/wificonnect/consent"
)

// Params are the arguments a host passes with a call. Absent fields are nil.
type Params struct {
	SSID     *string `json:"ssid,omitempty"`
	Password *string `json:"password,omitempty"`
	IsWEP    *bool   `json:"isWep,omitempty"`
}

// SSIDParams returns Params with only ssid set.
func SSIDParams(ssid string) Params {
	return Params{SSID: &ssid}
}

// CredentialParams returns Params for a secured network.
func CredentialParams(ssid, password string, isWEP bool) Params {
	return Params{SSID: &ssid, Password: &password, IsWEP: &isWEP}
}

// Result is the value a call resolves with.
type Result struct {
	Value       *string                           `json:"value,omitempty"`
	Permissions map[consent.Consent]consent.State `json:"permissions,omitempty"`
}

// Call is a single operation request. It settles exactly once, through
// either Resolve or Reject.
type Call struct {
	ID     string
	Method string
	Params Params

	resolve func(Result)
	reject  func(error)

	once sync.Once
	done chan struct{}
}

// NewCall creates a call that reports its outcome to resolve or reject.
func NewCall(method string, params Params, resolve func(Result), reject func(error)) *Call {
	return &Call{
		Method:  method,
		Params:  params,
		resolve: resolve,
		reject:  reject,
		done:    make(chan struct{}),
	}
}

// Resolve settles the call with r. It reports whether this was the first
// settlement.
func (c *Call) Resolve(r Result) bool {
	return c.settle("resolve", func() {
		if c.resolve != nil {
			c.resolve(r)
		}
	})
}

// Reject settles the call with err.
func (c *Call) Reject(err error) bool {
	return c.settle("reject", func() {
		if c.reject != nil {
			c.reject(err)
		}
	})
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

func (c *Call) settle(kind string, fn func()) bool {
	first := false
	c.once.Do(func() {
		first = true
		fn()
		close(c.done)
	})
	if !first {
		slog.Warn("call already settled", "method", c.Method, "id", c.ID, "attempt", kind)
	}
	return first
}
