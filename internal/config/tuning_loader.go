package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderTuning paces requests to the status authority.
type ProviderTuning struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	TimeoutMs  int     `yaml:"timeout_ms"`
}

func (p ProviderTuning) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

type Tuning struct {
	Provider ProviderTuning `yaml:"provider"`
}

// DefaultTuning is used when no tuning file is configured.
func DefaultTuning() Tuning {
	return Tuning{
		Provider: ProviderTuning{RatePerSec: 20, Burst: 20, TimeoutMs: 10000},
	}
}

// LoadTuning reads a YAML tuning file. Fields left out keep their defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning: %w", err)
	}
	if t.Provider.Burst < 0 || t.Provider.RatePerSec < 0 || t.Provider.TimeoutMs < 0 {
		return Tuning{}, fmt.Errorf("parse tuning: negative provider values")
	}
	return t, nil
}
