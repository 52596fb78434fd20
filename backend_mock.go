//go:build mock

package main

import (
	"log/slog"

	"github.com/falconeta/wificonnect/wifi"
	"github.com/falconeta/wificonnect/wifi/mock"
)

// GetBackend returns the in-memory backend regardless of name.
func GetBackend(name string, logger *slog.Logger) (wifi.Backend, error) {
	logger.Debug("using mock backend", "requested", name)
	return mock.New()
}
