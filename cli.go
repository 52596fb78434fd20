package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/plugin"
	"github.com/falconeta/wificonnect/wifi"
)

// invoke runs a single call through d and waits for it to settle.
func invoke(ctx context.Context, d *plugin.Dispatcher, method string, params plugin.Params) (plugin.Result, error) {
	var (
		res     plugin.Result
		callErr error
	)
	call := plugin.NewCall(method, params,
		func(r plugin.Result) { res = r },
		func(err error) { callErr = err },
	)
	call.ID = "cli"
	d.Invoke(ctx, call)

	select {
	case <-call.Done():
		return res, callErr
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

// cliPrompter answers relay prompts without interaction: with grant set each
// missing consent is granted and recorded, otherwise the prompt is refused
// and the call fails with ErrPermissionRequired.
func cliPrompter(w io.Writer, relay *consent.Relay, grant bool) consent.Prompter {
	return func(ctx context.Context, req consent.Request) error {
		if !grant {
			fmt.Fprintf(w, "consent %s is required for %s (use --grant or `wificonnect consent grant %s`)\n", req.Consent, req.ResumeAt, req.Consent)
			return fmt.Errorf("%s: %w", req.Consent, consent.ErrPermanentlyDenied)
		}
		fmt.Fprintf(w, "granting %s\n", req.Consent)
		return relay.Decide(req.Ticket, true)
	}
}

func runSSID(ctx context.Context, w io.Writer, d *plugin.Dispatcher) error {
	res, err := invoke(ctx, d, plugin.MethodGetSSID, plugin.Params{})
	if err != nil {
		return err
	}
	if res.Value == nil || *res.Value == "" {
		fmt.Fprintln(w, "not connected")
		return nil
	}
	fmt.Fprintln(w, *res.Value)
	return nil
}

type connectOptions struct {
	password *string
	wep      bool
	prefix   bool
}

func connectMethod(opts connectOptions) string {
	switch {
	case opts.prefix && opts.password != nil:
		return plugin.MethodSecurePrefixConnect
	case opts.prefix:
		return plugin.MethodPrefixConnect
	case opts.password != nil:
		return plugin.MethodSecureConnect
	default:
		return plugin.MethodConnect
	}
}

func runConnect(ctx context.Context, w io.Writer, d *plugin.Dispatcher, ssid string, opts connectOptions) error {
	params := plugin.Params{Password: opts.password}
	if ssid != "" {
		params.SSID = &ssid
	}
	if opts.password != nil {
		params.IsWEP = &opts.wep
	}
	if _, err := invoke(ctx, d, connectMethod(opts), params); err != nil {
		return err
	}
	if opts.prefix {
		// The backend picked the network; report the one it joined.
		res, err := invoke(ctx, d, plugin.MethodGetSSID, plugin.Params{})
		if err != nil || res.Value == nil || *res.Value == "" {
			fmt.Fprintf(w, "connected to a network matching %q\n", ssid)
			return nil
		}
		ssid = *res.Value
	}
	fmt.Fprintf(w, "connected to %s\n", ssid)
	return nil
}

func runDisconnect(ctx context.Context, w io.Writer, d *plugin.Dispatcher) error {
	if _, err := invoke(ctx, d, plugin.MethodDisconnect, plugin.Params{}); err != nil {
		return err
	}
	fmt.Fprintln(w, "disconnected")
	return nil
}

func formatConnection(c wifi.Connection) string {
	var parts []string
	if c.IsVisible {
		parts = append(parts, fmt.Sprintf("%d%%", c.Strength()))
		parts = append(parts, "visible")
	}
	if c.IsSecure {
		parts = append(parts, c.Security.String())
	}
	if c.IsKnown {
		parts = append(parts, "known")
	}
	if c.IsActive {
		parts = append(parts, "active")
	}
	return strings.Join(parts, ", ")
}

type listEntry struct {
	SSID          string     `json:"ssid"`
	Strength      uint8      `json:"strength"`
	Security      string     `json:"security"`
	Visible       bool       `json:"visible"`
	Known         bool       `json:"known"`
	Active        bool       `json:"active"`
	Hidden        bool       `json:"hidden,omitempty"`
	LastConnected *time.Time `json:"lastConnected,omitempty"`
}

// runList prints visible and known networks. Listing reveals location data,
// so the consents are requested first.
func runList(ctx context.Context, w io.Writer, asJSON bool, d *plugin.Dispatcher, backend wifi.Backend) error {
	if _, err := invoke(ctx, d, plugin.MethodRequestPermissions, plugin.Params{}); err != nil {
		return err
	}
	conns, err := backend.BuildNetworkList(true)
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	if asJSON {
		entries := make([]listEntry, 0, len(conns))
		for _, c := range conns {
			entries = append(entries, listEntry{
				SSID:          c.SSID,
				Strength:      c.Strength(),
				Security:      c.Security.String(),
				Visible:       c.IsVisible,
				Known:         c.IsKnown,
				Active:        c.IsActive,
				Hidden:        c.IsHidden,
				LastConnected: c.LastConnected,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, c := range conns {
		fmt.Fprintf(w, "%s\t%s\n", c.SSID, formatConnection(c))
	}
	return nil
}

func runConsent(w io.Writer, ledger *consent.Ledger, action string, args []string) error {
	if action == "status" {
		for _, c := range consent.Required {
			fmt.Fprintf(w, "%s\t%s\n", c, ledger.Get(c))
		}
		return nil
	}

	var state consent.State
	switch action {
	case "grant":
		state = consent.Granted
	case "deny":
		state = consent.Denied
	case "reset":
		state = consent.Unknown
	default:
		return fmt.Errorf("unknown consent action %q (supported: status, grant, deny, reset)", action)
	}

	if len(args) == 0 || args[0] == "all" {
		if err := ledger.SetAll(state); err != nil {
			return err
		}
		fmt.Fprintf(w, "all consents: %s\n", state)
		return nil
	}
	for _, arg := range args {
		c, err := consent.Parse(arg)
		if err != nil {
			return err
		}
		if err := ledger.Set(c, state); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", c, state)
	}
	return nil
}

func runSchema(w io.Writer) error {
	b, err := plugin.SchemaJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
