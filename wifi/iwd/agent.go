//go:build linux

package iwd

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	iwdAgentIface    = "net.connman.iwd.Agent"
	errAgentCanceled = "net.connman.iwd.Agent.Error.Canceled"
)

// agent answers iwd passphrase requests for networks being joined.
type agent struct {
	mu      sync.Mutex
	secrets map[dbus.ObjectPath]string
}

func newAgent() *agent {
	return &agent{secrets: make(map[dbus.ObjectPath]string)}
}

func (a *agent) set(network dbus.ObjectPath, passphrase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secrets[network] = passphrase
}

func (a *agent) clear(network dbus.ObjectPath) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.secrets, network)
}

// RequestPassphrase is called by iwd when joining a PSK network.
func (a *agent) RequestPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.secrets[network]
	if !ok {
		return "", dbus.NewError(errAgentCanceled, []interface{}{"no passphrase for " + string(network)})
	}
	return p, nil
}

func (a *agent) Release() *dbus.Error {
	return nil
}

func (a *agent) Cancel(reason string) *dbus.Error {
	return nil
}
