package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/falconeta/wificonnect/internal/config"
	wclog "github.com/falconeta/wificonnect/internal/log"
	"github.com/falconeta/wificonnect/internal/tui"
	"github.com/falconeta/wificonnect/plugin"
)

var (
	// Version is the version of the application. It is set at build time.
	Version string = "dev"
)

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "wificonnect.sock")
	}
	return filepath.Join(os.TempDir(), "wificonnect.sock")
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		a = &app{getBackend: GetBackend}

		rootFlagSet = flag.NewFlagSet("wificonnect", flag.ContinueOnError)
		configPath  = rootFlagSet.String("config", config.DefaultPath(), "path to TOML config file (env: WIFICONNECT_CONFIG)")
		verbose     = rootFlagSet.Bool("verbose", false, "log debug messages")
		version     = rootFlagSet.Bool("version", false, "display version")
		theme       = rootFlagSet.String("theme", "", "path to monitor theme toml file")
	)
	rootFlagSet.StringVar(&a.backend, "backend", "auto", "wifi backend (auto, networkmanager, iwd, darwin)")
	rootFlagSet.StringVar(&a.authority, "authority", "relay", "consent authority (relay, polkit)")
	rootFlagSet.StringVar(&a.grantFile, "grant-file", "", "consent ledger file for the relay authority")
	rootFlagSet.StringVar(&a.polkitPrefix, "polkit-prefix", "", "polkit action id prefix")
	rootFlagSet.BoolVar(&a.permanentDenial, "permanent-denial", false, "do not prompt again for a denied consent")
	rootFlagSet.DurationVar(&a.consentTimeout, "consent-timeout", 0, "reject calls waiting longer than this for a consent decision (0 waits forever)")
	rootFlagSet.BoolVar(&a.grant, "grant", false, "grant missing consents when running one-shot commands")

	subOptions := config.OptionsVia(configPath)

	serveFlagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	var serveOpts serveOptions
	serveFlagSet.StringVar(&serveOpts.socket, "socket", defaultSocketPath(), "unix socket the host connects to")
	serveFlagSet.BoolVar(&serveOpts.stdio, "stdio", false, "serve a single host on stdin and stdout")
	serveFlagSet.BoolVar(&serveOpts.monitor, "monitor", false, "show the monitor while serving")
	serveFlagSet.DurationVar(&serveOpts.monitorInterval, "monitor-interval", 2*time.Second, "monitor refresh interval")
	serveCmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "wificonnect serve [--socket <path> | --stdio] [--monitor]",
		ShortHelp:  "Serve host calls over the bridge",
		FlagSet:    serveFlagSet,
		Options:    subOptions,
		Exec: func(ctx context.Context, args []string) error {
			if serveOpts.monitor {
				wclog.Init(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel(*verbose)}))
				a.logger = slog.Default()
			}
			return a.serve(ctx, serveOpts)
		},
	}

	ssidCmd := &ffcli.Command{
		Name:      "ssid",
		ShortHelp: "Print the current network name",
		Exec: func(ctx context.Context, args []string) error {
			d, _, err := a.oneShot()
			if err != nil {
				return err
			}
			return runSSID(ctx, stdout, d)
		},
	}

	connectFlagSet := flag.NewFlagSet("connect", flag.ContinueOnError)
	connectPassword := connectFlagSet.String("password", "", "password for a secured network")
	connectWEP := connectFlagSet.Bool("wep", false, "the password is a WEP key")
	connectPrefix := connectFlagSet.Bool("prefix", false, "join the strongest network whose name starts with the argument")
	connectCmd := &ffcli.Command{
		Name:       "connect",
		ShortUsage: "wificonnect connect [--password <p> [--wep]] [--prefix] <ssid>",
		ShortHelp:  "Connect to a wifi network",
		FlagSet:    connectFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			var ssid string
			if len(args) > 0 {
				ssid = args[0]
			}
			opts := connectOptions{wep: *connectWEP, prefix: *connectPrefix}
			connectFlagSet.Visit(func(f *flag.Flag) {
				if f.Name == "password" {
					opts.password = connectPassword
				}
			})
			d, _, err := a.oneShot()
			if err != nil {
				return err
			}
			return runConnect(ctx, stdout, d, ssid, opts)
		},
	}

	disconnectCmd := &ffcli.Command{
		Name:      "disconnect",
		ShortHelp: "Disconnect from the current network",
		Exec: func(ctx context.Context, args []string) error {
			d, _, err := a.oneShot()
			if err != nil {
				return err
			}
			return runDisconnect(ctx, stdout, d)
		},
	}

	listFlagSet := flag.NewFlagSet("list", flag.ContinueOnError)
	listJSON := listFlagSet.Bool("json", false, "output in JSON format")
	listCmd := &ffcli.Command{
		Name:      "list",
		ShortHelp: "List wifi networks",
		FlagSet:   listFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			d, b, err := a.oneShot()
			if err != nil {
				return err
			}
			return runList(ctx, stdout, *listJSON, d, b)
		},
	}

	consentCmd := &ffcli.Command{
		Name:       "consent",
		ShortUsage: "wificonnect consent status | grant|deny|reset [<consent>... | all]",
		ShortHelp:  "Inspect or change recorded consent decisions",
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("consent requires an action (status, grant, deny, reset)")
			}
			ledger, err := a.openLedger()
			if err != nil {
				return err
			}
			return runConsent(stdout, ledger, args[0], args[1:])
		},
	}

	schemaCmd := &ffcli.Command{
		Name:      "schema",
		ShortHelp: "Print the JSON schema of the bridge methods",
		Exec: func(ctx context.Context, args []string) error {
			return runSchema(stdout)
		},
	}

	root := &ffcli.Command{
		ShortUsage:  "wificonnect [flags] <subcommand> [args...]",
		FlagSet:     rootFlagSet,
		Options:     config.Options(),
		Subcommands: []*ffcli.Command{serveCmd, ssidCmd, connectCmd, disconnectCmd, listCmd, consentCmd, schemaCmd},
		Exec: func(ctx context.Context, args []string) error {
			if *version {
				fmt.Fprintln(stdout, Version)
				return nil
			}
			return flag.ErrHelp
		},
	}

	if err := root.Parse(args); err != nil {
		return err
	}

	wclog.Init(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(*verbose)}))
	a.logger = slog.Default().With("version", Version)
	a.logger.Debug("starting", "methods", plugin.Methods())

	if err := tui.LoadThemeFile(*theme); err != nil {
		return fmt.Errorf("error loading theme: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.Run(ctx)
}

func logLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
