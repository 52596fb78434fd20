package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/consent/grantstore"
	"github.com/falconeta/wificonnect/internal/bridge"
	"github.com/falconeta/wificonnect/internal/tui"
	"github.com/falconeta/wificonnect/plugin"
	"github.com/falconeta/wificonnect/wifi"
)

// settings are the flags shared by every command.
type settings struct {
	backend         string
	authority       string
	grantFile       string
	polkitPrefix    string
	permanentDenial bool
	consentTimeout  time.Duration
	grant           bool
}

type app struct {
	settings
	logger *slog.Logger

	getBackend func(name string, logger *slog.Logger) (wifi.Backend, error)
}

func (a *app) openLedger() (*consent.Ledger, error) {
	return consent.NewLedger(grantstore.New(grantstore.WithPath(a.grantFile)))
}

// dispatcher builds the backend, the consent authority and the dispatcher.
// The relay is nil unless the relay authority is selected.
func (a *app) dispatcher() (*plugin.Dispatcher, wifi.Backend, *consent.Relay, error) {
	b, err := a.getBackend(a.backend, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		auth  consent.Authority
		relay *consent.Relay
	)
	switch a.authority {
	case "", "relay":
		ledger, err := a.openLedger()
		if err != nil {
			return nil, nil, nil, err
		}
		relay = consent.NewRelay(ledger,
			consent.WithLogger(a.logger),
			consent.WithPermanentDenial(a.permanentDenial),
		)
		auth = relay
	case "polkit":
		auth, err = newPolkitAuthority(a.polkitPrefix, a.logger)
		if err != nil {
			return nil, nil, nil, err
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown consent authority %q (supported: relay, polkit)", a.authority)
	}

	d := plugin.New(b, auth,
		plugin.WithLogger(a.logger),
		plugin.WithConsentTimeout(a.consentTimeout),
	)
	return d, b, relay, nil
}

// oneShot builds a dispatcher whose relay prompts are answered on w.
func (a *app) oneShot() (*plugin.Dispatcher, wifi.Backend, error) {
	d, b, relay, err := a.dispatcher()
	if err != nil {
		return nil, nil, err
	}
	if relay != nil {
		relay.SetPrompter(cliPrompter(os.Stderr, relay, a.grant))
	}
	return d, b, nil
}

type serveOptions struct {
	socket          string
	stdio           bool
	monitor         bool
	monitorInterval time.Duration
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	if opts.monitor && opts.stdio {
		return fmt.Errorf("--monitor cannot be combined with --stdio")
	}
	d, b, relay, err := a.dispatcher()
	if err != nil {
		return err
	}
	srv := bridge.NewServer(d, a.logger)
	if relay != nil {
		relay.SetPrompter(srv.Prompt)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	if opts.stdio {
		go func() {
			srv.ServeStdio(ctx)
			errc <- nil
		}()
	} else {
		l, err := bridge.Listen(opts.socket)
		if err != nil {
			return err
		}
		defer os.Remove(opts.socket)
		go func() { errc <- srv.Serve(ctx, l) }()
	}

	if opts.monitor {
		if err := tui.Run(ctx, d, b, opts.monitorInterval); err != nil {
			return err
		}
		cancel()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if opts.stdio {
			// stdin cannot be interrupted.
			return nil
		}
		return <-errc
	}
}
