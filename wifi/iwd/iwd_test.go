//go:build linux

package iwd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconeta/wificonnect/wifi"
)

const (
	stationPath = dbus.ObjectPath("/net/connman/iwd/0/4")
	cafePath    = dbus.ObjectPath("/net/connman/iwd/0/4/636166_open")
	homePath    = dbus.ObjectPath("/net/connman/iwd/0/4/686f6d65_psk")
	knownPath   = dbus.ObjectPath("/net/connman/iwd/686f6d65_psk")
)

type fakeBus struct {
	mu      sync.Mutex
	objs    managedObjects
	ordered []orderedNetwork
	calls   []string
	errs    map[string]error
	onCall  func(path dbus.ObjectPath, method string)
}

func (f *fakeBus) objects(ctx context.Context) (managedObjects, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objs, nil
}

func (f *fakeBus) call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	err := f.errs[method]
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(path, method)
	}
	if err != nil {
		return &dbus.Call{Err: err}
	}
	if method == iwdStationIface+".GetOrderedNetworks" {
		return &dbus.Call{Body: []interface{}{f.ordered}}
	}
	return &dbus.Call{}
}

func (f *fakeBus) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func v(x interface{}) dbus.Variant { return dbus.MakeVariant(x) }

func newFakeBus(connected dbus.ObjectPath) *fakeBus {
	stationProps := map[string]dbus.Variant{"State": v("disconnected")}
	if connected != "" {
		stationProps["State"] = v("connected")
		stationProps["ConnectedNetwork"] = v(connected)
	}
	return &fakeBus{
		objs: managedObjects{
			stationPath: {
				iwdDeviceIface:  {"Powered": v(true), "Name": v("wlan0")},
				iwdStationIface: stationProps,
			},
			cafePath: {
				iwdNetworkIface: {"Name": v("cafe"), "Type": v("open"), "Device": v(stationPath), "Connected": v(connected == cafePath)},
			},
			homePath: {
				iwdNetworkIface: {"Name": v("home"), "Type": v("psk"), "Device": v(stationPath), "Connected": v(connected == homePath), "KnownNetwork": v(knownPath)},
			},
			knownPath: {
				iwdKnownNetworkIface: {"Name": v("home"), "Type": v("psk"), "Hidden": v(false), "LastConnectedTime": v("2026-01-02T15:04:05Z")},
			},
		},
		ordered: []orderedNetwork{{Path: homePath, Signal: -5500}, {Path: cafePath, Signal: -8000}},
		errs:    map[string]error{},
	}
}

func newTestBackend(f *fakeBus) *Backend {
	return &Backend{bus: f, agent: newAgent(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestCurrentSSID(t *testing.T) {
	ssid, err := newTestBackend(newFakeBus(homePath)).CurrentSSID()
	require.NoError(t, err)
	assert.Equal(t, "home", ssid)

	ssid, err = newTestBackend(newFakeBus("")).CurrentSSID()
	require.NoError(t, err)
	assert.Equal(t, "", ssid)
}

func TestNoStation(t *testing.T) {
	f := newFakeBus("")
	delete(f.objs, stationPath)
	_, err := newTestBackend(f).CurrentSSID()
	assert.ErrorIs(t, err, wifi.ErrNotFound)

	f = newFakeBus("")
	f.objs[stationPath][iwdDeviceIface]["Powered"] = v(false)
	err = newTestBackend(f).Disconnect()
	assert.ErrorIs(t, err, wifi.ErrWirelessDisabled)
}

func TestDisconnect(t *testing.T) {
	f := newFakeBus(cafePath)
	require.NoError(t, newTestBackend(f).Disconnect())
	assert.Equal(t, 1, f.called(iwdStationIface+".Disconnect"))

	// Already disconnected is a no-op.
	f = newFakeBus("")
	require.NoError(t, newTestBackend(f).Disconnect())
	assert.Equal(t, 0, f.called(iwdStationIface+".Disconnect"))
}

func TestConnectSecureUsesAgent(t *testing.T) {
	f := newFakeBus("")
	b := newTestBackend(f)

	var got string
	f.onCall = func(path dbus.ObjectPath, method string) {
		if method == iwdNetworkIface+".Connect" {
			p, derr := b.agent.RequestPassphrase(path)
			require.Nil(t, derr)
			got = p
		}
	}
	require.NoError(t, b.ConnectSecure("home", "hunter22", false))
	assert.Equal(t, "hunter22", got)

	_, derr := b.agent.RequestPassphrase(homePath)
	assert.NotNil(t, derr, "passphrase is cleared after the attempt")
}

func TestConnectErrors(t *testing.T) {
	b := newTestBackend(newFakeBus(""))
	assert.ErrorIs(t, b.Connect("nowhere"), wifi.ErrNotFound)
	assert.ErrorIs(t, b.ConnectSecure("home", "abcde", true), wifi.ErrNotSupported)

	f := newFakeBus("")
	f.errs[iwdNetworkIface+".Connect"] = dbus.Error{Name: "net.connman.iwd.Failed"}
	err := newTestBackend(f).Connect("cafe")
	assert.ErrorIs(t, err, wifi.ErrOperationFailed)
}

func TestConnectPrefix(t *testing.T) {
	f := newFakeBus("")
	var joined dbus.ObjectPath
	f.onCall = func(path dbus.ObjectPath, method string) {
		if method == iwdNetworkIface+".Connect" {
			joined = path
		}
	}
	b := newTestBackend(f)
	require.NoError(t, b.ConnectPrefix("ca"))
	assert.Equal(t, cafePath, joined)

	assert.ErrorIs(t, b.ConnectPrefix("zzz"), wifi.ErrNotFound)
}

func TestBuildNetworkList(t *testing.T) {
	f := newFakeBus(homePath)
	f.errs[iwdStationIface+".Scan"] = errors.New("busy")

	conns, err := newTestBackend(f).BuildNetworkList(true)
	require.NoError(t, err)
	require.Len(t, conns, 2)

	home := conns[0]
	assert.Equal(t, "home", home.SSID)
	assert.True(t, home.IsActive)
	assert.True(t, home.IsKnown)
	assert.Equal(t, wifi.SecurityWPA, home.Security)
	assert.Equal(t, uint8(90), home.Strength())
	require.NotNil(t, home.LastConnected)

	cafe := conns[1]
	assert.False(t, cafe.IsSecure)
	assert.Equal(t, uint8(40), cafe.Strength())
}

func TestSignalToStrength(t *testing.T) {
	assert.Equal(t, uint8(100), signalToStrength(-3000))
	assert.Equal(t, uint8(50), signalToStrength(-7500))
	assert.Equal(t, uint8(0), signalToStrength(-11000))
}
