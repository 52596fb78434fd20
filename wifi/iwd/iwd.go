//go:build linux

// Package iwd implements wifi.Backend against the iwd daemon over D-Bus.
package iwd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/falconeta/wificonnect/wifi"
)

const connectionTimeout = 30 * time.Second

const (
	iwdDest              = "net.connman.iwd"
	iwdRootPath          = "/"
	iwdAgentManagerPath  = "/net/connman/iwd"
	iwdAgentManagerIface = "net.connman.iwd.AgentManager"
	iwdDeviceIface       = "net.connman.iwd.Device"
	iwdNetworkIface      = "net.connman.iwd.Network"
	iwdStationIface      = "net.connman.iwd.Station"
	iwdKnownNetworkIface = "net.connman.iwd.KnownNetwork"
	objectManagerIface   = "org.freedesktop.DBus.ObjectManager"

	agentPath = dbus.ObjectPath("/io/github/falconeta/wificonnect/agent")
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

type orderedNetwork struct {
	Path   dbus.ObjectPath
	Signal int16
}

// bus is the part of the system bus the backend talks to.
type bus interface {
	objects(ctx context.Context) (managedObjects, error)
	call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call
}

type systemBus struct {
	conn *dbus.Conn
}

func (s systemBus) objects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	err := s.conn.Object(iwdDest, iwdRootPath).
		CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).
		Store(&objs)
	return objs, err
}

func (s systemBus) call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return s.conn.Object(iwdDest, path).CallWithContext(ctx, method, 0, args...)
}

// Backend implements wifi.Backend using iwd.
type Backend struct {
	bus    bus
	agent  *agent
	logger *slog.Logger
}

// New connects to iwd and registers the passphrase agent.
func New(logger *slog.Logger) (wifi.Backend, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	b := &Backend{
		bus:    systemBus{conn: conn},
		agent:  newAgent(),
		logger: logger.With("backend", "iwd"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.bus.objects(ctx); err != nil {
		return nil, fmt.Errorf("iwd is not available: %w", wifi.ErrNotAvailable)
	}

	if err := conn.Export(b.agent, agentPath, iwdAgentIface); err != nil {
		return nil, fmt.Errorf("failed to export iwd agent: %w", err)
	}
	if err := b.bus.call(ctx, iwdAgentManagerPath, iwdAgentManagerIface+".RegisterAgent", agentPath).Err; err != nil {
		return nil, fmt.Errorf("failed to register iwd agent: %w", err)
	}
	return b, nil
}

type station struct {
	path  dbus.ObjectPath
	props map[string]dbus.Variant
}

// station returns the first powered station device.
func (b *Backend) station(ctx context.Context) (station, managedObjects, error) {
	objs, err := b.bus.objects(ctx)
	if err != nil {
		return station{}, nil, fmt.Errorf("failed to list iwd objects: %w", err)
	}
	paths := make([]dbus.ObjectPath, 0, len(objs))
	for path := range objs {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	found := false
	for _, path := range paths {
		ifaces := objs[path]
		props, ok := ifaces[iwdStationIface]
		if !ok {
			continue
		}
		found = true
		if dev, ok := ifaces[iwdDeviceIface]; ok {
			if powered, ok := dev["Powered"].Value().(bool); ok && !powered {
				continue
			}
		}
		return station{path: path, props: props}, objs, nil
	}
	if found {
		return station{}, nil, wifi.ErrWirelessDisabled
	}
	return station{}, nil, fmt.Errorf("no station device found: %w", wifi.ErrNotFound)
}

func (b *Backend) CurrentSSID() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	st, objs, err := b.station(ctx)
	if err != nil {
		return "", err
	}
	netPath, ok := st.props["ConnectedNetwork"].Value().(dbus.ObjectPath)
	if !ok || netPath == "" {
		return "", nil
	}
	name, _ := objs[netPath][iwdNetworkIface]["Name"].Value().(string)
	return name, nil
}

func (b *Backend) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	st, _, err := b.station(ctx)
	if err != nil {
		return err
	}
	if state, _ := st.props["State"].Value().(string); state == "disconnected" {
		return nil
	}
	if err := b.bus.call(ctx, st.path, iwdStationIface+".Disconnect").Err; err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

func (b *Backend) Connect(ssid string) error {
	return b.join(ssid, nil)
}

func (b *Backend) ConnectSecure(ssid, passphrase string, isWEP bool) error {
	if isWEP {
		return fmt.Errorf("iwd does not support WEP: %w", wifi.ErrNotSupported)
	}
	return b.join(ssid, &passphrase)
}

// ConnectPrefix joins the strongest visible network whose SSID starts with prefix.
func (b *Backend) ConnectPrefix(prefix string) error {
	conns, err := b.BuildNetworkList(false)
	if err != nil {
		return err
	}
	match, err := wifi.MatchPrefix(conns, prefix)
	if err != nil {
		return fmt.Errorf("no network matching prefix %q: %w", prefix, err)
	}
	return b.join(match.SSID, nil)
}

func (b *Backend) join(ssid string, passphrase *string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	st, objs, err := b.station(ctx)
	if err != nil {
		return err
	}
	netPath, ok := findNetwork(objs, st.path, ssid)
	if !ok {
		return fmt.Errorf("network %s: %w", ssid, wifi.ErrNotFound)
	}

	if passphrase != nil {
		b.agent.set(netPath, *passphrase)
		defer b.agent.clear(netPath)
	}

	b.logger.Info("connecting", "ssid", ssid, "network", netPath)
	err = b.bus.call(ctx, netPath, iwdNetworkIface+".Connect").Err
	switch {
	case err == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("connecting to %s: %w", ssid, wifi.ErrTimeout)
	default:
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && strings.HasSuffix(dbusErr.Name, ".NotSupported") {
			return fmt.Errorf("connecting to %s: %w", ssid, wifi.ErrNotSupported)
		}
		return fmt.Errorf("connecting to %s: %v: %w", ssid, err, wifi.ErrOperationFailed)
	}
}

func findNetwork(objs managedObjects, stationPath dbus.ObjectPath, ssid string) (dbus.ObjectPath, bool) {
	for path, ifaces := range objs {
		props, ok := ifaces[iwdNetworkIface]
		if !ok {
			continue
		}
		if dev, _ := props["Device"].Value().(dbus.ObjectPath); dev != stationPath {
			continue
		}
		if name, _ := props["Name"].Value().(string); name == ssid {
			return path, true
		}
	}
	return "", false
}

// signalToStrength maps iwd's signal (100 * dBm) onto 0-100.
func signalToStrength(signal int16) uint8 {
	dbm := int(signal) / 100
	q := 2 * (dbm + 100)
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return uint8(q)
}

func securityFromType(t string) wifi.SecurityType {
	switch t {
	case "open":
		return wifi.SecurityOpen
	case "wep":
		return wifi.SecurityWEP
	case "psk", "8021x":
		return wifi.SecurityWPA
	default:
		return wifi.SecurityUnknown
	}
}

// BuildNetworkList scans (if shouldScan is true) and returns all networks.
func (b *Backend) BuildNetworkList(shouldScan bool) ([]wifi.Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	st, objs, err := b.station(ctx)
	if err != nil {
		return nil, err
	}
	if shouldScan {
		// Best effort; a scan already in progress returns Busy.
		if err := b.bus.call(ctx, st.path, iwdStationIface+".Scan").Err; err != nil {
			b.logger.Debug("scan failed", "error", err)
		}
	}

	var ordered []orderedNetwork
	if err := b.bus.call(ctx, st.path, iwdStationIface+".GetOrderedNetworks").Store(&ordered); err != nil {
		return nil, fmt.Errorf("failed to get ordered networks: %w", err)
	}

	visible := make(map[string]wifi.Connection)
	for _, on := range ordered {
		props := objs[on.Path][iwdNetworkIface]
		ssid, _ := props["Name"].Value().(string)
		if ssid == "" {
			continue
		}
		typ, _ := props["Type"].Value().(string)
		connected, _ := props["Connected"].Value().(bool)
		_, known := props["KnownNetwork"].Value().(dbus.ObjectPath)
		security := securityFromType(typ)

		c := visible[ssid]
		c.SSID = ssid
		c.IsVisible = true
		c.IsActive = c.IsActive || connected
		c.IsKnown = c.IsKnown || known
		c.Security = security
		c.IsSecure = security != wifi.SecurityOpen
		c.AccessPoints = append(c.AccessPoints, wifi.AccessPoint{SSID: ssid, Strength: signalToStrength(on.Signal)})
		visible[ssid] = c
	}

	var conns []wifi.Connection
	for path, ifaces := range objs {
		props, ok := ifaces[iwdKnownNetworkIface]
		if !ok {
			continue
		}
		ssid, _ := props["Name"].Value().(string)
		hidden, _ := props["Hidden"].Value().(bool)
		var last *time.Time
		if s, ok := props["LastConnectedTime"].Value().(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				last = &t
			}
		}
		if c, ok := visible[ssid]; ok {
			c.IsKnown = true
			c.IsHidden = hidden
			c.LastConnected = last
			visible[ssid] = c
			continue
		}
		b.logger.Debug("known network not in range", "ssid", ssid, "path", path)
		typ, _ := props["Type"].Value().(string)
		security := securityFromType(typ)
		conns = append(conns, wifi.Connection{
			SSID:          ssid,
			IsKnown:       true,
			IsHidden:      hidden,
			IsSecure:      security != wifi.SecurityOpen,
			Security:      security,
			LastConnected: last,
		})
	}
	for _, c := range visible {
		conns = append(conns, c)
	}
	wifi.SortConnections(conns)
	return conns, nil
}
