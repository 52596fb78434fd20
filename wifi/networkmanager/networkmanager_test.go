//go:build linux

package networkmanager

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconeta/wificonnect/wifi"
)

type mockNM struct {
	gonetworkmanager.NetworkManager
	getDevicesFunc                 func() ([]gonetworkmanager.Device, error)
	getPropertyWirelessEnabledFunc func() (bool, error)
}

func (m *mockNM) GetDevices() ([]gonetworkmanager.Device, error) {
	if m.getDevicesFunc != nil {
		return m.getDevicesFunc()
	}
	return nil, nil
}

func (m *mockNM) GetPropertyWirelessEnabled() (bool, error) {
	if m.getPropertyWirelessEnabledFunc != nil {
		return m.getPropertyWirelessEnabledFunc()
	}
	return true, nil
}

type mockDeviceWireless struct {
	gonetworkmanager.DeviceWireless
	activeAP     gonetworkmanager.AccessPoint
	disconnected int
}

func (d *mockDeviceWireless) GetPropertyActiveAccessPoint() (gonetworkmanager.AccessPoint, error) {
	return d.activeAP, nil
}

func (d *mockDeviceWireless) Disconnect() error {
	d.disconnected++
	return nil
}

type mockAP struct {
	gonetworkmanager.AccessPoint
	ssid     string
	flags    uint32
	wpaFlags uint32
	rsnFlags uint32
}

func (a *mockAP) GetPropertySSID() (string, error)     { return a.ssid, nil }
func (a *mockAP) GetPropertyFlags() (uint32, error)    { return a.flags, nil }
func (a *mockAP) GetPropertyWPAFlags() (uint32, error) { return a.wpaFlags, nil }
func (a *mockAP) GetPropertyRSNFlags() (uint32, error) { return a.rsnFlags, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetWirelessDevice_Caching(t *testing.T) {
	callCount := 0
	mockDev := &mockDeviceWireless{}

	b := &Backend{
		NM: &mockNM{
			getDevicesFunc: func() ([]gonetworkmanager.Device, error) {
				callCount++
				return []gonetworkmanager.Device{mockDev}, nil
			},
		},
		logger: testLogger(),
	}

	dev, err := b.getWirelessDevice()
	require.NoError(t, err)
	assert.Same(t, mockDev, dev)

	dev, err = b.getWirelessDevice()
	require.NoError(t, err)
	assert.Same(t, mockDev, dev)
	assert.Equal(t, 1, callCount)
}

func TestGetWirelessDevice_Concurrent(t *testing.T) {
	callCount := 0
	ap := &mockAP{ssid: "home"}
	mockDev := &mockDeviceWireless{activeAP: ap}
	b := &Backend{
		NM: &mockNM{
			getDevicesFunc: func() ([]gonetworkmanager.Device, error) {
				callCount++
				return []gonetworkmanager.Device{mockDev}, nil
			},
		},
		logger: testLogger(),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ssid, err := b.CurrentSSID()
			assert.NoError(t, err)
			assert.Equal(t, "home", ssid)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, callCount)
}

func TestGetWirelessDevice_None(t *testing.T) {
	b := &Backend{NM: &mockNM{}, logger: testLogger()}

	_, err := b.getWirelessDevice()
	assert.ErrorIs(t, err, wifi.ErrNotFound)
}

func TestCurrentSSID(t *testing.T) {
	dev := &mockDeviceWireless{}
	b := &Backend{NM: &mockNM{}, device: dev, logger: testLogger()}

	ssid, err := b.CurrentSSID()
	require.NoError(t, err)
	assert.Empty(t, ssid, "no active access point means not associated")

	dev.activeAP = &mockAP{ssid: "  spaced name "}
	ssid, err = b.CurrentSSID()
	require.NoError(t, err)
	assert.Equal(t, "  spaced name ", ssid, "ssid is returned untouched")
}

func TestDisconnect(t *testing.T) {
	dev := &mockDeviceWireless{}
	b := &Backend{NM: &mockNM{}, device: dev, logger: testLogger()}

	require.NoError(t, b.Disconnect())
	require.NoError(t, b.Disconnect())
	assert.Equal(t, 2, dev.disconnected)
}

func TestJoin_WirelessDisabled(t *testing.T) {
	expectedErr := errors.New("dbus gone")
	b := &Backend{
		NM: &mockNM{
			getPropertyWirelessEnabledFunc: func() (bool, error) { return false, expectedErr },
		},
		logger: testLogger(),
	}
	assert.ErrorIs(t, b.Connect("any"), expectedErr)

	b.NM = &mockNM{getPropertyWirelessEnabledFunc: func() (bool, error) { return false, nil }}
	assert.ErrorIs(t, b.ConnectSecure("any", "pw", false), wifi.ErrWirelessDisabled)
}

func TestConnectionSettings(t *testing.T) {
	open := connectionSettings("cafe", "", wifi.SecurityOpen, "wlan0")
	assert.Equal(t, []byte("cafe"), open[wirelessType]["ssid"])
	assert.Equal(t, "wlan0", open["connection"]["interface-name"])
	assert.NotContains(t, open, "802-11-wireless-security")

	wpa := connectionSettings("home", "hunter22", wifi.SecurityWPA, "")
	assert.Equal(t, "wpa-psk", wpa["802-11-wireless-security"]["key-mgmt"])
	assert.Equal(t, "hunter22", wpa["802-11-wireless-security"]["psk"])
	assert.NotContains(t, wpa["connection"], "interface-name")

	wep := connectionSettings("old", "abcde", wifi.SecurityWEP, "")
	assert.Equal(t, "none", wep["802-11-wireless-security"]["key-mgmt"])
	assert.Equal(t, "abcde", wep["802-11-wireless-security"]["wep-key0"])

	assert.NotEqual(t, wpa["connection"]["uuid"], wep["connection"]["uuid"])
}

func TestAPSecurity(t *testing.T) {
	assert.Equal(t, wifi.SecurityOpen, apSecurity(&mockAP{}))
	assert.Equal(t, wifi.SecurityWEP, apSecurity(&mockAP{flags: uint32(gonetworkmanager.Nm80211APFlagsPrivacy)}))
	assert.Equal(t, wifi.SecurityWPA, apSecurity(&mockAP{flags: 1, rsnFlags: 0x188}))
}
