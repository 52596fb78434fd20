package wifi

import "sort"

// SortConnections sorts a slice of Connection structs in place.
// The sorting order is:
// 1. Active connection first.
// 2. Visible networks, sorted by signal strength (strongest first).
// 3. Non-visible known networks, sorted by LastConnected timestamp (most recent first).
// 4. Fallback to SSID alphabetically.
func SortConnections(connections []Connection) {
	sort.SliceStable(connections, func(i, j int) bool {
		a := connections[i]
		b := connections[j]

		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		if a.IsVisible != b.IsVisible {
			return a.IsVisible
		}

		if sa, sb := a.Strength(), b.Strength(); a.IsVisible && sa != sb {
			return sa > sb
		}
		if !a.IsVisible {
			// A non-nil time is considered more recent than a nil time.
			switch {
			case a.LastConnected != nil && b.LastConnected == nil:
				return true
			case a.LastConnected == nil && b.LastConnected != nil:
				return false
			case a.LastConnected != nil && !a.LastConnected.Equal(*b.LastConnected):
				return a.LastConnected.After(*b.LastConnected)
			}
		}

		return a.SSID < b.SSID
	})
}
