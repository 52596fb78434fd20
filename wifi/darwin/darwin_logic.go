package darwin

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/falconeta/wificonnect/wifi"
)

var (
	signalRe   = regexp.MustCompile(`Signal / Noise:\s*(-?\d+)\s*dBm`)
	securityRe = regexp.MustCompile(`Security:\s*(.+)`)
	currentRe  = regexp.MustCompile(`Current Wi-Fi Network: (.+)`)
)

type scannedNetwork struct {
	ssid     string
	security wifi.SecurityType
	rssi     int
	isActive bool
}

// parseSystemProfilerOutput extracts the visible networks from
// `system_profiler SPAirPortDataType`.
func parseSystemProfilerOutput(output string) []scannedNetwork {
	var networks []scannedNetwork
	index := make(map[string]int)

	add := func(n *scannedNetwork) {
		if n == nil || n.ssid == "" {
			return
		}
		i, seen := index[n.ssid]
		if !seen {
			index[n.ssid] = len(networks)
			networks = append(networks, *n)
			return
		}
		if networks[i].rssi == 0 && n.rssi != 0 {
			networks[i].rssi = n.rssi
		}
	}

	inCurrent, inOther := false, false
	var current *scannedNetwork

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.Contains(line, "Current Network Information:"):
			inCurrent, inOther = true, false
			continue
		case strings.Contains(line, "Other Local Wi-Fi Networks:"):
			inCurrent, inOther = false, true
			continue
		case strings.HasPrefix(trimmed, "awdl"):
			add(current)
			return networks
		}
		if !inCurrent && !inOther {
			continue
		}

		// SSIDs sit at a 12 space indent under either section.
		indent := len(line) - len(strings.TrimLeft(line, " "))
		if indent == 12 && strings.HasSuffix(trimmed, ":") && !strings.Contains(trimmed, ": ") {
			add(current)
			current = &scannedNetwork{
				ssid:     strings.TrimSuffix(trimmed, ":"),
				isActive: inCurrent,
				security: wifi.SecurityOpen,
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := signalRe.FindStringSubmatch(line); len(m) > 1 {
			current.rssi, _ = strconv.Atoi(m[1])
		}
		if m := securityRe.FindStringSubmatch(line); len(m) > 1 {
			current.security = parseSecurityType(strings.TrimSpace(m[1]))
		}
	}
	add(current)
	return networks
}

func parseSecurityType(s string) wifi.SecurityType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "wpa"):
		return wifi.SecurityWPA
	case strings.Contains(s, "wep"):
		return wifi.SecurityWEP
	default:
		return wifi.SecurityOpen
	}
}

func rssiToStrength(rssi int) uint8 {
	if rssi >= 0 || rssi <= -100 {
		return 0
	}
	strength := 2 * (rssi + 100)
	if strength > 100 {
		strength = 100
	}
	return uint8(strength)
}

// findWifiDevice returns the device name of the Wi-Fi hardware port listed by
// `networksetup -listallhardwareports`.
func findWifiDevice(output string) (string, error) {
	for _, stanza := range strings.Split(output, "\n\n") {
		var device string
		isWifi := false
		for _, line := range strings.Split(stanza, "\n") {
			if port, ok := strings.CutPrefix(line, "Hardware Port: "); ok {
				isWifi = strings.Contains(port, "Wi-Fi") || strings.Contains(port, "AirPort")
			}
			if d, ok := strings.CutPrefix(line, "Device: "); ok {
				device = d
			}
		}
		if isWifi && device != "" {
			return device, nil
		}
	}
	return "", fmt.Errorf("no Wi-Fi interface found: %w", wifi.ErrNotFound)
}

// parseCurrentNetwork reads `networksetup -getairportnetwork`. An unassociated
// interface yields an empty SSID.
func parseCurrentNetwork(output string) string {
	m := currentRe.FindStringSubmatch(output)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parsePower reads `networksetup -getairportpower`.
func parsePower(output string) bool {
	return strings.Contains(output, ": On")
}

// parsePreferred reads `networksetup -listpreferredwirelessnetworks`.
func parsePreferred(output string) map[string]bool {
	known := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "Preferred") {
			known[line] = true
		}
	}
	return known
}

// joinError interprets the output of `networksetup -setairportnetwork`, which
// exits 0 even when the join fails.
func joinError(ssid, output string) error {
	out := strings.TrimSpace(output)
	switch {
	case out == "":
		return nil
	case strings.Contains(out, "Could not find network"):
		return fmt.Errorf("network %q: %w", ssid, wifi.ErrNotFound)
	case strings.Contains(out, "Failed to join network"), strings.Contains(out, "Error"):
		return fmt.Errorf("failed to join %q: %w: %s", ssid, wifi.ErrOperationFailed, out)
	default:
		return nil
	}
}

// mergeNetworks folds scanned access points into one Connection per SSID and
// appends preferred networks that are out of range.
func mergeNetworks(scanned []scannedNetwork, known map[string]bool, currentSSID string) []wifi.Connection {
	var conns []wifi.Connection
	index := make(map[string]int)

	for _, n := range scanned {
		ap := wifi.AccessPoint{SSID: n.ssid, Strength: rssiToStrength(n.rssi)}
		active := n.isActive || (currentSSID != "" && n.ssid == currentSSID)
		if i, ok := index[n.ssid]; ok {
			conns[i].AccessPoints = append(conns[i].AccessPoints, ap)
			conns[i].IsActive = conns[i].IsActive || active
			continue
		}
		index[n.ssid] = len(conns)
		conns = append(conns, wifi.Connection{
			SSID:         n.ssid,
			IsActive:     active,
			IsKnown:      known[n.ssid],
			IsVisible:    true,
			IsSecure:     n.security != wifi.SecurityOpen,
			Security:     n.security,
			AccessPoints: []wifi.AccessPoint{ap},
		})
	}
	for ssid := range known {
		if _, ok := index[ssid]; !ok {
			conns = append(conns, wifi.Connection{SSID: ssid, IsKnown: true})
		}
	}
	wifi.SortConnections(conns)
	return conns
}
