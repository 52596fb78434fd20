package wifi

import (
	"strings"
	"time"
)

// SecurityType represents the security protocol of a network.
type SecurityType int

const (
	SecurityUnknown SecurityType = iota
	SecurityOpen
	SecurityWEP
	SecurityWPA
)

func (s SecurityType) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityWEP:
		return "wep"
	case SecurityWPA:
		return "wpa"
	default:
		return "unknown"
	}
}

// AccessPoint represents a single access point for a network.
type AccessPoint struct {
	SSID      string
	BSSID     string
	Strength  uint8 // 0-100
	Frequency uint  // MHz
}

// Connection represents a single network, visible or known.
type Connection struct {
	SSID          string
	IsActive      bool
	IsKnown       bool
	IsSecure      bool
	IsVisible     bool
	IsHidden      bool
	AccessPoints  []AccessPoint
	Security      SecurityType
	LastConnected *time.Time
}

// Strength returns the strength of the strongest access point, or 0 if none.
func (c Connection) Strength() uint8 {
	var max uint8
	for _, ap := range c.AccessPoints {
		if ap.Strength > max {
			max = ap.Strength
		}
	}
	return max
}

// Backend performs the platform side of the plugin operations. Implementations
// block until the action has settled or failed.
type Backend interface {
	// CurrentSSID returns the SSID of the active wireless connection, or an
	// empty string when the device is not associated.
	CurrentSSID() (string, error)
	// Disconnect tears down the active wireless connection.
	Disconnect() error
	// Connect joins an open network.
	Connect(ssid string) error
	// ConnectSecure joins a protected network. isWEP selects the legacy cipher
	// instead of WPA/WPA2 PSK.
	ConnectSecure(ssid string, passphrase string, isWEP bool) error
	// BuildNetworkList scans (if shouldScan is true) and returns all networks.
	BuildNetworkList(shouldScan bool) ([]Connection, error)
}

// PrefixConnector is implemented by backends that can join a network by SSID
// prefix rather than by exact name.
type PrefixConnector interface {
	ConnectPrefix(prefix string) error
}

// MatchPrefix returns the strongest visible network whose SSID starts with
// prefix. The list is expected in SortConnections order.
func MatchPrefix(conns []Connection, prefix string) (Connection, error) {
	var best *Connection
	for i := range conns {
		c := &conns[i]
		if !c.IsVisible || !strings.HasPrefix(c.SSID, prefix) {
			continue
		}
		if best == nil || c.Strength() > best.Strength() {
			best = c
		}
	}
	if best == nil {
		return Connection{}, ErrNotFound
	}
	return *best, nil
}
