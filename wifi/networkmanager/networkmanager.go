//go:build linux

package networkmanager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/google/uuid"

	"github.com/falconeta/wificonnect/wifi"
)

const connectionTimeout = 30 * time.Second

const wirelessType = "802-11-wireless"

// Backend implements wifi.Backend using D-Bus to communicate with NetworkManager.
type Backend struct {
	NM       gonetworkmanager.NetworkManager
	Settings gonetworkmanager.Settings

	logger *slog.Logger

	deviceMu sync.Mutex
	device   gonetworkmanager.DeviceWireless
}

// New creates a new networkmanager.Backend.
func New(logger *slog.Logger) (wifi.Backend, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create network manager client: %w", wifi.ErrNotAvailable)
	}

	settings, err := gonetworkmanager.NewSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", wifi.ErrOperationFailed)
	}

	return &Backend{
		NM:       nm,
		Settings: settings,
		logger:   logger.With("backend", "networkmanager"),
	}, nil
}

// getWirelessDevice returns the first wireless device. The result is cached
// for the lifetime of the backend.
func (b *Backend) getWirelessDevice() (gonetworkmanager.DeviceWireless, error) {
	b.deviceMu.Lock()
	defer b.deviceMu.Unlock()
	if b.device != nil {
		return b.device, nil
	}
	devices, err := b.NM.GetDevices()
	if err != nil {
		return nil, err
	}
	for _, device := range devices {
		if dev, ok := device.(gonetworkmanager.DeviceWireless); ok {
			b.device = dev
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no wireless device found: %w", wifi.ErrNotFound)
}

func (b *Backend) checkEnabled() error {
	enabled, err := b.NM.GetPropertyWirelessEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return wifi.ErrWirelessDisabled
	}
	return nil
}

// CurrentSSID returns the SSID of the access point the wireless device is
// associated with.
func (b *Backend) CurrentSSID() (string, error) {
	dev, err := b.getWirelessDevice()
	if err != nil {
		return "", err
	}
	ap, err := dev.GetPropertyActiveAccessPoint()
	if err != nil {
		return "", fmt.Errorf("failed to get active access point: %w", err)
	}
	if ap == nil {
		return "", nil
	}
	return ap.GetPropertySSID()
}

func (b *Backend) Disconnect() error {
	dev, err := b.getWirelessDevice()
	if err != nil {
		return err
	}
	return dev.Disconnect()
}

func (b *Backend) Connect(ssid string) error {
	return b.join(ssid, "", wifi.SecurityOpen)
}

func (b *Backend) ConnectSecure(ssid string, passphrase string, isWEP bool) error {
	security := wifi.SecurityWPA
	if isWEP {
		security = wifi.SecurityWEP
	}
	return b.join(ssid, passphrase, security)
}

// ConnectPrefix joins the strongest visible network whose SSID starts with prefix.
func (b *Backend) ConnectPrefix(prefix string) error {
	conns, err := b.BuildNetworkList(true)
	if err != nil {
		return err
	}
	match, err := wifi.MatchPrefix(conns, prefix)
	if err != nil {
		return fmt.Errorf("no network matching prefix %q: %w", prefix, err)
	}
	return b.Connect(match.SSID)
}

// join activates a saved profile for ssid when one exists, otherwise it adds
// a new profile and activates it against the strongest access point.
func (b *Backend) join(ssid, passphrase string, security wifi.SecurityType) error {
	if err := b.checkEnabled(); err != nil {
		return err
	}
	dev, err := b.getWirelessDevice()
	if err != nil {
		return err
	}

	ap, err := b.strongestAccessPoint(dev, ssid)
	if err != nil {
		return err
	}

	var activeConn gonetworkmanager.ActiveConnection
	known, err := b.findConnection(ssid)
	if err != nil {
		return err
	}
	if known != nil && passphrase == "" {
		b.logger.Debug("activating saved profile", "ssid", ssid)
		activeConn, err = b.NM.ActivateWirelessConnection(known, dev, ap)
	} else {
		iface, _ := dev.GetPropertyInterface()
		settings := connectionSettings(ssid, passphrase, security, iface)
		b.logger.Debug("adding profile", "ssid", ssid, "security", security.String())
		activeConn, err = b.NM.AddAndActivateWirelessConnection(settings, dev, ap)
	}
	if err != nil {
		return fmt.Errorf("failed to activate %s: %w", ssid, err)
	}
	return waitActivated(activeConn)
}

func (b *Backend) strongestAccessPoint(dev gonetworkmanager.DeviceWireless, ssid string) (gonetworkmanager.AccessPoint, error) {
	aps, err := dev.GetAccessPoints()
	if err != nil {
		return nil, err
	}
	var best gonetworkmanager.AccessPoint
	var bestStrength uint8
	for _, ap := range aps {
		name, err := ap.GetPropertySSID()
		if err != nil || name != ssid {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		if best == nil || strength > bestStrength {
			best, bestStrength = ap, strength
		}
	}
	if best == nil {
		return nil, fmt.Errorf("access point not found for %s: %w", ssid, wifi.ErrNotFound)
	}
	return best, nil
}

func (b *Backend) findConnection(ssid string) (gonetworkmanager.Connection, error) {
	conns, err := b.Settings.ListConnections()
	if err != nil {
		return nil, err
	}
	for _, c := range conns {
		s, err := c.GetSettings()
		if err != nil {
			continue
		}
		if settingsSSID(s) == ssid {
			return c, nil
		}
	}
	return nil, nil
}

func settingsSSID(s gonetworkmanager.ConnectionSettings) string {
	if wireless, ok := s[wirelessType]; ok {
		if ssidBytes, ok := wireless["ssid"].([]byte); ok {
			return string(ssidBytes)
		}
	}
	return ""
}

func connectionSettings(ssid, passphrase string, security wifi.SecurityType, iface string) map[string]map[string]interface{} {
	connection := map[string]map[string]interface{}{
		"connection": {
			"id":          ssid,
			"uuid":        uuid.New().String(),
			"type":        wirelessType,
			"autoconnect": true,
		},
		wirelessType: {
			"mode": "infrastructure",
			"ssid": []byte(ssid),
		},
		"ipv4": {"method": "auto"},
		"ipv6": {"method": "auto"},
	}
	if iface != "" {
		connection["connection"]["interface-name"] = iface
	}

	switch security {
	case wifi.SecurityOpen:
	case wifi.SecurityWEP:
		connection[wirelessType]["security"] = "802-11-wireless-security"
		connection["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt":     "none",
			"wep-key-type": uint32(1), // key, not passphrase
			"wep-key0":     passphrase,
		}
	default:
		connection[wirelessType]["security"] = "802-11-wireless-security"
		connection["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      passphrase,
		}
	}
	return connection
}

// waitActivated blocks until the connection is fully activated.
func waitActivated(activeConn gonetworkmanager.ActiveConnection) error {
	stateChanges := make(chan gonetworkmanager.StateChange, 1)
	done := make(chan struct{})
	defer close(done)
	if err := activeConn.SubscribeState(stateChanges, done); err != nil {
		return err
	}

	initialState, err := activeConn.GetPropertyState()
	if err != nil {
		return err
	}
	if initialState == gonetworkmanager.NmActiveConnectionStateActivated {
		return nil
	}

	timeout := time.After(connectionTimeout)
	for {
		select {
		case change := <-stateChanges:
			switch change.State {
			case gonetworkmanager.NmActiveConnectionStateActivated:
				return nil
			case gonetworkmanager.NmActiveConnectionStateDeactivated:
				return fmt.Errorf("connection failed (%v): %w", change.Reason, wifi.ErrOperationFailed)
			}
		case <-timeout:
			return fmt.Errorf("connection: %w", wifi.ErrTimeout)
		}
	}
}

// BuildNetworkList scans (if shouldScan is true) and returns all networks.
func (b *Backend) BuildNetworkList(shouldScan bool) ([]wifi.Connection, error) {
	if err := b.checkEnabled(); err != nil {
		return nil, err
	}
	dev, err := b.getWirelessDevice()
	if err != nil {
		return nil, err
	}
	if shouldScan {
		if err := dev.RequestScan(); err != nil {
			b.logger.Warn("scan request failed", "error", err)
		}
	}

	accessPoints, err := dev.GetAccessPoints()
	if err != nil {
		return nil, err
	}
	activeSSID, _ := b.CurrentSSID()

	byName := make(map[string]*wifi.Connection)
	var order []string
	for _, ap := range accessPoints {
		ssid, err := ap.GetPropertySSID()
		if err != nil || ssid == "" {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		bssid, _ := ap.GetPropertyHWAddress()
		freq, _ := ap.GetPropertyFrequency()
		point := wifi.AccessPoint{SSID: ssid, BSSID: bssid, Strength: strength, Frequency: uint(freq)}

		if c, ok := byName[ssid]; ok {
			c.AccessPoints = append(c.AccessPoints, point)
			continue
		}
		security := apSecurity(ap)
		byName[ssid] = &wifi.Connection{
			SSID:         ssid,
			IsActive:     ssid == activeSSID,
			IsVisible:    true,
			IsSecure:     security != wifi.SecurityOpen,
			Security:     security,
			AccessPoints: []wifi.AccessPoint{point},
		}
		order = append(order, ssid)
	}

	known, err := b.Settings.ListConnections()
	if err != nil {
		return nil, err
	}
	for _, kc := range known {
		s, err := kc.GetSettings()
		if err != nil {
			continue
		}
		if t, _ := s["connection"]["type"].(string); t != wirelessType {
			continue
		}
		ssid := settingsSSID(s)
		if ssid == "" {
			continue
		}
		var lastConnected *time.Time
		if ts, ok := s["connection"]["timestamp"].(uint64); ok && ts > 0 {
			t := time.Unix(int64(ts), 0)
			lastConnected = &t
		}
		c, ok := byName[ssid]
		if !ok {
			c = &wifi.Connection{SSID: ssid}
			byName[ssid] = c
			order = append(order, ssid)
		}
		c.IsKnown = true
		c.LastConnected = lastConnected
	}

	conns := make([]wifi.Connection, 0, len(order))
	for _, ssid := range order {
		conns = append(conns, *byName[ssid])
	}
	wifi.SortConnections(conns)
	return conns, nil
}

func apSecurity(ap gonetworkmanager.AccessPoint) wifi.SecurityType {
	flags, _ := ap.GetPropertyFlags()
	wpaFlags, _ := ap.GetPropertyWPAFlags()
	rsnFlags, _ := ap.GetPropertyRSNFlags()
	switch {
	case wpaFlags > 0 || rsnFlags > 0:
		return wifi.SecurityWPA
	case uint32(flags)&uint32(gonetworkmanager.Nm80211APFlagsPrivacy) != 0:
		return wifi.SecurityWEP
	default:
		return wifi.SecurityOpen
	}
}
