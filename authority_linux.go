//go:build linux

package main

import (
	"log/slog"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/consent/polkit"
)

func newPolkitAuthority(prefix string, logger *slog.Logger) (consent.Authority, error) {
	return polkit.New(prefix, logger)
}
