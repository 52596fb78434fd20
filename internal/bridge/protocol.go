package bridge

import (
	"encoding/json"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/plugin"
)

// MethodConsentDecision carries a host's answer to a consent prompt.
const MethodConsentDecision = "consentDecision"

// EventConsentRequest is sent when a call needs a consent decision.
const EventConsentRequest = "consentRequest"

// Message is a single line sent by the host.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DecisionParams are the params of a consentDecision message.
type DecisionParams struct {
	Ticket  string `json:"ticket"`
	Granted bool   `json:"granted"`
}

// Reply is a single line sent to the host: a call result, a call error, or an
// event.
type Reply struct {
	ID     string         `json:"id,omitempty"`
	Result *plugin.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	*consent.Request
}
