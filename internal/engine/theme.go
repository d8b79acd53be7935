package engine

// Theme names a five-color palette, ordered highest tier first. Themes
// affect presentation only; tier thresholds live in TierThresholds.
type Theme struct {
	Name    string    `json:"name" yaml:"name"`
	Palette [5]string `json:"palette" yaml:"palette"`
}

// DefaultThemes returns the built-in palettes.
func DefaultThemes() []Theme {
	return []Theme{
		{
			Name:    "clinical",
			Palette: [5]string{"#0d47a1", "#1976d2", "#42a5f5", "#90caf9", "#e3f2fd"},
		},
		{
			Name:    "heat",
			Palette: [5]string{"#b71c1c", "#e64a19", "#f57c00", "#fbc02d", "#fff9c4"},
		},
		{
			Name:    "mono",
			Palette: [5]string{"#212121", "#424242", "#757575", "#bdbdbd", "#eeeeee"},
		},
	}
}

// ThemeByName finds a theme in the list, falling back to the first
// entry when the name is unknown or blank.
func ThemeByName(themes []Theme, name string) Theme {
	if len(themes) == 0 {
		themes = DefaultThemes()
	}
	for _, t := range themes {
		if t.Name == name {
			return t
		}
	}
	return themes[0]
}

// ColorFor maps a tier onto the theme palette.
func ColorFor(t Theme, tier ColorTier) string {
	switch tier {
	case TierHighest:
		return t.Palette[0]
	case TierHigh:
		return t.Palette[1]
	case TierMedium:
		return t.Palette[2]
	case TierLow:
		return t.Palette[3]
	default:
		return t.Palette[4]
	}
}
