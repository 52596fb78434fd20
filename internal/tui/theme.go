package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
)

// Color is a terminal color that can be decoded from TOML, either as a single
// hex string or as a [light, dark] pair.
type Color struct {
	lipgloss.TerminalColor
}

// UnmarshalTOML implements toml.Unmarshaler.
func (c *Color) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case string:
		c.TerminalColor = lipgloss.Color(v)
	case []any:
		if len(v) != 2 {
			return fmt.Errorf("adaptive color needs [light, dark], got %d values", len(v))
		}
		light, ok1 := v[0].(string)
		dark, ok2 := v[1].(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("adaptive color values must be strings")
		}
		c.TerminalColor = lipgloss.AdaptiveColor{Light: light, Dark: dark}
	default:
		return fmt.Errorf("unsupported color value %T", v)
	}
	return nil
}

// Theme contains the colors of the monitor.
type Theme struct {
	Primary Color `toml:"Primary"`
	Subtle  Color `toml:"Subtle"`
	Normal  Color `toml:"Normal"`
	Border  Color `toml:"Border"`

	Granted Color `toml:"Granted"`
	Denied  Color `toml:"Denied"`
	Prompt  Color `toml:"Prompt"`

	// AgeFresh and AgeStale are hex colors blended to show how long a call
	// has been waiting for a decision.
	AgeFresh string `toml:"AgeFresh"`
	AgeStale string `toml:"AgeStale"`
}

// CurrentTheme is the active theme.
var CurrentTheme = NewDefaultTheme()

// NewDefaultTheme creates a new default theme.
func NewDefaultTheme() Theme {
	return Theme{
		Primary: Color{lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#D359E3"}},
		Subtle:  Color{lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#616161"}},
		Normal:  Color{lipgloss.AdaptiveColor{Light: "#212121", Dark: "#FFFFFF"}},
		Border:  Color{lipgloss.AdaptiveColor{Light: "#BDBDBD", Dark: "#616161"}},

		Granted: Color{lipgloss.AdaptiveColor{Light: "#388E3C", Dark: "#81C784"}},
		Denied:  Color{lipgloss.AdaptiveColor{Light: "#D32F2F", Dark: "#E57373"}},
		Prompt:  Color{lipgloss.AdaptiveColor{Light: "#F57C00", Dark: "#FFB74D"}},

		AgeFresh: "#81C784",
		AgeStale: "#E57373",
	}
}

// LoadTheme reads a TOML theme from r. Keys that are not present keep their
// default value.
func LoadTheme(r io.Reader) (Theme, error) {
	theme := NewDefaultTheme()
	if _, err := toml.NewDecoder(r).Decode(&theme); err != nil {
		return theme, fmt.Errorf("failed to decode theme: %w", err)
	}
	return theme, nil
}

// LoadThemeFile loads the theme at path into CurrentTheme. An empty path does
// nothing.
func LoadThemeFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	theme, err := LoadTheme(f)
	if err != nil {
		return err
	}
	CurrentTheme = theme
	return nil
}
