package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/falconeta/wificonnect/wifi"
)

var DefaultActionSleep = 500 * time.Millisecond

// mockNetwork wraps a wifi.Connection with the passphrase the mock expects.
type mockNetwork struct {
	wifi.Connection
	Secret string
}

// MockBackend is an in-memory wifi.Backend used by tests and by builds with
// the mock tag.
type MockBackend struct {
	mu       sync.Mutex
	networks []mockNetwork
	active   string

	ConnectError    error
	DisconnectError error
	SSIDError       error
	WirelessEnabled bool

	// Calls counts invocations per method name.
	Calls map[string]int

	// ActionSleep is a delay before every action, to better emulate a real-world backend. Set to 0 during testing.
	ActionSleep time.Duration
}

func ago(duration time.Duration) *time.Time {
	t := time.Now().Add(-duration)
	return &t
}

func ap(ssid string, strength uint8) []wifi.AccessPoint {
	return []wifi.AccessPoint{{SSID: ssid, Strength: strength}}
}

// New creates a MockBackend with a list of fun wifi networks.
func New() (wifi.Backend, error) {
	return newWithNetworks(defaultNetworks()), nil
}

func defaultNetworks() []mockNetwork {
	return []mockNetwork{
		{Connection: wifi.Connection{SSID: "HideYoKidsHideYoWiFi", LastConnected: ago(2 * time.Hour), IsKnown: true, Security: wifi.SecurityWPA}, Secret: "hidden"},
		{Connection: wifi.Connection{SSID: "NeverGonnaGiveYouIP", Security: wifi.SecurityWEP, IsVisible: true, AccessPoints: ap("NeverGonnaGiveYouIP", 35)}, Secret: "rickroll1"},
		{Connection: wifi.Connection{SSID: "Unencrypted_Honeypot", Security: wifi.SecurityOpen, IsVisible: true, AccessPoints: ap("Unencrypted_Honeypot", 62)}},
		{Connection: wifi.Connection{SSID: "Dunder MiffLAN", Security: wifi.SecurityWPA, IsVisible: true, AccessPoints: ap("Dunder MiffLAN", 51)}, Secret: "beetsbears"},
		{Connection: wifi.Connection{SSID: "Password is password", IsKnown: true, LastConnected: ago(12456 * time.Hour), Security: wifi.SecurityWPA, IsVisible: true, AccessPoints: ap("Password is password", 87)}, Secret: "password"},
		{Connection: wifi.Connection{SSID: "TacoBoutAGoodSignal", Security: wifi.SecurityWPA, IsVisible: true, AccessPoints: ap("TacoBoutAGoodSignal", 99)}, Secret: "salsa"},
		{Connection: wifi.Connection{SSID: "Multi-AP Network", Security: wifi.SecurityWPA, IsVisible: true, AccessPoints: []wifi.AccessPoint{
			{SSID: "Multi-AP Network", BSSID: "00:11:22:33:44:55", Strength: 80, Frequency: 2412},
			{SSID: "Multi-AP Network", BSSID: "AA:BB:CC:DD:EE:FF", Strength: 60, Frequency: 5180},
		}}, Secret: "multiap"},
		{Connection: wifi.Connection{SSID: "FreeHugsAndWiFi", LastConnected: ago(400 * time.Hour), IsKnown: true, Security: wifi.SecurityOpen}},
	}
}

// newWithNetworks creates a MockBackend over networks.
func newWithNetworks(networks []mockNetwork) *MockBackend {
	return &MockBackend{
		networks:        networks,
		WirelessEnabled: true,
		Calls:           make(map[string]int),
		ActionSleep:     DefaultActionSleep,
	}
}

// Network describes a network for NewFromSpec.
type Network struct {
	SSID       string
	Passphrase string
	WEP        bool
	Strength   uint8
}

// NewFromSpec creates a MockBackend with no delay where every network is visible.
func NewFromSpec(nets ...Network) *MockBackend {
	var networks []mockNetwork
	for _, n := range nets {
		sec := wifi.SecurityOpen
		switch {
		case n.WEP:
			sec = wifi.SecurityWEP
		case n.Passphrase != "":
			sec = wifi.SecurityWPA
		}
		networks = append(networks, mockNetwork{
			Connection: wifi.Connection{
				SSID:         n.SSID,
				IsVisible:    true,
				IsSecure:     sec != wifi.SecurityOpen,
				Security:     sec,
				AccessPoints: ap(n.SSID, n.Strength),
			},
			Secret: n.Passphrase,
		})
	}
	m := newWithNetworks(networks)
	m.ActionSleep = 0
	return m
}

// SetActive marks ssid as the associated network without going through Connect.
func (m *MockBackend) SetActive(ssid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = ssid
}

// CallCount returns how many times method was invoked.
func (m *MockBackend) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockBackend) record(method string) {
	time.Sleep(m.ActionSleep)
	m.mu.Lock()
	m.Calls[method]++
	m.mu.Unlock()
}

func (m *MockBackend) find(ssid string) (int, bool) {
	for i, n := range m.networks {
		if n.SSID == ssid {
			return i, true
		}
	}
	return -1, false
}

func (m *MockBackend) CurrentSSID() (string, error) {
	m.record("CurrentSSID")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SSIDError != nil {
		return "", m.SSIDError
	}
	return m.active, nil
}

func (m *MockBackend) Disconnect() error {
	m.record("Disconnect")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DisconnectError != nil {
		return m.DisconnectError
	}
	m.active = ""
	return nil
}

func (m *MockBackend) Connect(ssid string) error {
	m.record("Connect")
	return m.join(ssid, "", false)
}

func (m *MockBackend) ConnectSecure(ssid string, passphrase string, isWEP bool) error {
	m.record("ConnectSecure")
	return m.join(ssid, passphrase, isWEP)
}

// ConnectPrefix joins the strongest visible open network whose SSID starts
// with prefix.
func (m *MockBackend) ConnectPrefix(prefix string) error {
	m.record("ConnectPrefix")
	conns, err := m.list()
	if err != nil {
		return err
	}
	match, err := wifi.MatchPrefix(conns, prefix)
	if err != nil {
		return fmt.Errorf("no network matching prefix %q: %w", prefix, err)
	}
	return m.join(match.SSID, "", false)
}

func (m *MockBackend) join(ssid, passphrase string, isWEP bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.WirelessEnabled {
		return wifi.ErrWirelessDisabled
	}
	if m.ConnectError != nil {
		return m.ConnectError
	}
	i, ok := m.find(ssid)
	if !ok || !m.networks[i].IsVisible {
		return fmt.Errorf("network %s: %w", ssid, wifi.ErrNotFound)
	}
	n := &m.networks[i]
	switch n.Security {
	case wifi.SecurityOpen:
		if passphrase != "" {
			return fmt.Errorf("network %s is open: %w", ssid, wifi.ErrOperationFailed)
		}
	case wifi.SecurityWEP:
		if !isWEP || passphrase != n.Secret {
			return fmt.Errorf("association with %s failed: %w", ssid, wifi.ErrOperationFailed)
		}
	default:
		if isWEP || passphrase != n.Secret {
			return fmt.Errorf("association with %s failed: %w", ssid, wifi.ErrOperationFailed)
		}
	}

	now := time.Now()
	n.IsKnown = true
	n.LastConnected = &now
	m.active = ssid
	return nil
}

func (m *MockBackend) BuildNetworkList(shouldScan bool) ([]wifi.Connection, error) {
	m.record("BuildNetworkList")
	return m.list()
}

func (m *MockBackend) list() ([]wifi.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.WirelessEnabled {
		return nil, wifi.ErrWirelessDisabled
	}
	conns := make([]wifi.Connection, 0, len(m.networks))
	for _, n := range m.networks {
		c := n.Connection
		c.IsActive = c.SSID == m.active
		c.IsSecure = c.Security != wifi.SecurityOpen
		c.AccessPoints = append([]wifi.AccessPoint(nil), n.AccessPoints...)
		conns = append(conns, c)
	}
	wifi.SortConnections(conns)
	return conns, nil
}
