//go:build linux && !mock

package main

import (
	"fmt"
	"log/slog"

	"github.com/falconeta/wificonnect/wifi"
	"github.com/falconeta/wificonnect/wifi/iwd"
	"github.com/falconeta/wificonnect/wifi/networkmanager"
)

// GetBackend returns the backend named by name, or NetworkManager with an iwd
// fallback when name is empty or "auto".
func GetBackend(name string, logger *slog.Logger) (wifi.Backend, error) {
	switch name {
	case "networkmanager":
		return networkmanager.New(logger)
	case "iwd":
		return iwd.New(logger)
	case "", "auto":
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}

	b, err := networkmanager.New(logger)
	if err == nil {
		return b, nil
	}
	logger.Warn("failed to initialize networkmanager backend, falling back to iwd", "error", err)
	return iwd.New(logger)
}
