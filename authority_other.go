//go:build !linux

package main

import (
	"fmt"
	"log/slog"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/wifi"
)

func newPolkitAuthority(prefix string, logger *slog.Logger) (consent.Authority, error) {
	return nil, fmt.Errorf("polkit authority: %w", wifi.ErrNotSupported)
}
