//go:build darwin

package darwin

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/falconeta/wificonnect/wifi"
)

// runner executes a command and returns its stdout.
type runner func(name string, args ...string) ([]byte, error)

// execRunner wraps exec.Command, folding stderr into the returned error.
func execRunner(name string, args ...string) ([]byte, error) {
	c := exec.Command(name, args...)
	var stderr strings.Builder
	c.Stderr = &stderr
	out, err := c.Output()
	if err != nil {
		return out, fmt.Errorf("failed to run command: %s: %w: %s", c.String(), err, stderr.String())
	}
	return out, nil
}

// Backend implements wifi.Backend on macOS with networksetup and
// system_profiler.
type Backend struct {
	WifiInterface string

	run    runner
	logger *slog.Logger
}

// New creates a new darwin.Backend bound to the first Wi-Fi hardware port.
func New(logger *slog.Logger) (wifi.Backend, error) {
	return newWithRunner(execRunner, logger)
}

func newWithRunner(run runner, logger *slog.Logger) (*Backend, error) {
	out, err := run("networksetup", "-listallhardwareports")
	if err != nil {
		return nil, fmt.Errorf("failed to list hardware ports: %w", wifi.ErrNotAvailable)
	}
	device, err := findWifiDevice(string(out))
	if err != nil {
		return nil, err
	}
	return &Backend{
		WifiInterface: device,
		run:           run,
		logger:        logger.With("backend", "darwin", "interface", device),
	}, nil
}

func (b *Backend) networksetup(args ...string) ([]byte, error) {
	return b.run("networksetup", args...)
}

func (b *Backend) checkEnabled() error {
	out, err := b.networksetup("-getairportpower", b.WifiInterface)
	if err != nil {
		return err
	}
	if !parsePower(string(out)) {
		return wifi.ErrWirelessDisabled
	}
	return nil
}

// CurrentSSID returns the network the interface is associated with.
func (b *Backend) CurrentSSID() (string, error) {
	out, err := b.networksetup("-getairportnetwork", b.WifiInterface)
	if err != nil {
		return "", err
	}
	return parseCurrentNetwork(string(out)), nil
}

// Disconnect drops the association by cycling the radio. networksetup has no
// disassociate verb.
func (b *Backend) Disconnect() error {
	if err := b.checkEnabled(); err != nil {
		return err
	}
	if _, err := b.networksetup("-setairportpower", b.WifiInterface, "off"); err != nil {
		return err
	}
	_, err := b.networksetup("-setairportpower", b.WifiInterface, "on")
	return err
}

func (b *Backend) Connect(ssid string) error {
	return b.join(ssid, "")
}

// ConnectSecure joins a protected network. networksetup picks the cipher from
// the network's advertisement, so isWEP only affects logging.
func (b *Backend) ConnectSecure(ssid string, passphrase string, isWEP bool) error {
	b.logger.Debug("joining secured network", "ssid", ssid, "wep", isWEP)
	return b.join(ssid, passphrase)
}

// ConnectPrefix joins the strongest visible network whose SSID starts with
// prefix.
func (b *Backend) ConnectPrefix(prefix string) error {
	conns, err := b.BuildNetworkList(true)
	if err != nil {
		return err
	}
	match, err := wifi.MatchPrefix(conns, prefix)
	if err != nil {
		return fmt.Errorf("no network with prefix %q: %w", prefix, err)
	}
	b.logger.Info("prefix matched", "prefix", prefix, "ssid", match.SSID)
	return b.join(match.SSID, "")
}

func (b *Backend) join(ssid, passphrase string) error {
	if err := b.checkEnabled(); err != nil {
		return err
	}
	args := []string{"-setairportnetwork", b.WifiInterface, ssid}
	if passphrase != "" {
		args = append(args, passphrase)
	}
	out, err := b.networksetup(args...)
	if err != nil {
		return fmt.Errorf("failed to join %q: %w", ssid, wifi.ErrOperationFailed)
	}
	return joinError(ssid, string(out))
}

// BuildNetworkList returns visible and preferred networks. system_profiler
// always scans, so shouldScan is ignored.
func (b *Backend) BuildNetworkList(shouldScan bool) ([]wifi.Connection, error) {
	if err := b.checkEnabled(); err != nil {
		return nil, err
	}

	current, err := b.CurrentSSID()
	if err != nil {
		b.logger.Debug("failed to read current network", "error", err)
	}

	out, err := b.networksetup("-listpreferredwirelessnetworks", b.WifiInterface)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferred networks: %w: %s", wifi.ErrOperationFailed, err)
	}
	known := parsePreferred(string(out))

	out, err = b.run("system_profiler", "SPAirPortDataType")
	if err != nil {
		return nil, fmt.Errorf("failed to scan for networks: %w", wifi.ErrOperationFailed)
	}
	return mergeNetworks(parseSystemProfilerOutput(string(out)), known, current), nil
}
