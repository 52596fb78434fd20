//go:build darwin && !mock

package main

import (
	"fmt"
	"log/slog"

	"github.com/falconeta/wificonnect/wifi"
	"github.com/falconeta/wificonnect/wifi/darwin"
)

// GetBackend returns the networksetup backend. Only "auto" and "darwin" are
// accepted as names.
func GetBackend(name string, logger *slog.Logger) (wifi.Backend, error) {
	switch name {
	case "", "auto", "darwin":
		return darwin.New(logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
