package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pophealth/pophealth/internal/engine"
)

// Analytics holds the tunable analytics definitions: risk bucket
// ranges, color tier thresholds, and chart palettes. The compiled-in
// defaults apply wherever the definitions file is absent or silent.
type Analytics struct {
	RiskBuckets    []engine.BucketDef
	TierThresholds engine.TierThresholds
	Themes         []engine.Theme
}

// DefaultAnalytics returns the compiled-in definitions.
func DefaultAnalytics() *Analytics {
	return &Analytics{
		RiskBuckets:    engine.DefaultRiskBuckets(),
		TierThresholds: engine.DefaultTierThresholds(),
		Themes:         engine.DefaultThemes(),
	}
}

type analyticsFile struct {
	RiskBuckets    []bucketEntry          `yaml:"risk_buckets"`
	TierThresholds *engine.TierThresholds `yaml:"tier_thresholds"`
	Themes         []themeEntry           `yaml:"themes"`
}

type bucketEntry struct {
	Label string `yaml:"label"`
	Min   int    `yaml:"min"`
	Max   *int   `yaml:"max"`
}

type themeEntry struct {
	Name    string   `yaml:"name"`
	Palette []string `yaml:"palette"`
}

// LoadAnalytics reads the analytics definitions YAML at path and merges
// it over the defaults. An empty path returns the defaults unchanged.
// Sections left out of the file keep their default values; sections
// present replace the defaults wholesale and are validated.
func LoadAnalytics(path string) (*Analytics, error) {
	a := DefaultAnalytics()
	if path == "" {
		return a, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read analytics config: %w", err)
	}

	var file analyticsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse analytics config: %w", err)
	}

	if len(file.RiskBuckets) > 0 {
		defs := make([]engine.BucketDef, len(file.RiskBuckets))
		for i, b := range file.RiskBuckets {
			max := -1
			if b.Max != nil {
				max = *b.Max
			}
			defs[i] = engine.BucketDef{Label: b.Label, Min: b.Min, Max: max}
		}
		if err := engine.ValidateBuckets(defs); err != nil {
			return nil, fmt.Errorf("analytics config risk_buckets: %w", err)
		}
		a.RiskBuckets = defs
	}

	if file.TierThresholds != nil {
		if err := file.TierThresholds.Validate(); err != nil {
			return nil, fmt.Errorf("analytics config tier_thresholds: %w", err)
		}
		a.TierThresholds = *file.TierThresholds
	}

	if len(file.Themes) > 0 {
		themes := make([]engine.Theme, len(file.Themes))
		seen := map[string]bool{}
		for i, t := range file.Themes {
			if t.Name == "" {
				return nil, fmt.Errorf("analytics config themes[%d]: missing name", i)
			}
			if seen[t.Name] {
				return nil, fmt.Errorf("analytics config themes[%d]: duplicate name %q", i, t.Name)
			}
			seen[t.Name] = true
			if len(t.Palette) != 5 {
				return nil, fmt.Errorf("analytics config themes[%d]: palette needs exactly 5 colors, got %d", i, len(t.Palette))
			}
			theme := engine.Theme{Name: t.Name}
			copy(theme.Palette[:], t.Palette)
			themes[i] = theme
		}
		a.Themes = themes
	}

	return a, nil
}
