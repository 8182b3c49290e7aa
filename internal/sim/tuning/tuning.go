// Package tuning loads the arena parameters from configs/arena.yaml with
// ARENA_* environment overrides on top.
package tuning

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"monsterarena.ai/internal/sim/arena/spatial"
)

const EnvPrefix = "ARENA_"

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version" env:"PROTOCOL_VERSION"`

	ArenaID     string `yaml:"arena_id" json:"arena_id" env:"ID"`
	PoolAccount string `yaml:"pool_account" json:"pool_account" env:"POOL_ACCOUNT"`

	DistanceMetric   string `yaml:"distance_metric" json:"distance_metric" env:"DISTANCE_METRIC"`
	SafeZoneRadius   int64  `yaml:"safe_zone_radius" json:"safe_zone_radius" env:"SAFE_ZONE_RADIUS"`
	InteractionRange int64  `yaml:"interaction_range" json:"interaction_range" env:"INTERACTION_RANGE"`

	SnapshotEveryActions int `yaml:"snapshot_every_actions" json:"snapshot_every_actions" env:"SNAPSHOT_EVERY_ACTIONS"`
	MaxSessions          int `yaml:"max_sessions" json:"max_sessions" env:"MAX_SESSIONS"`

	RateLimits RateLimits `yaml:"rate_limits" json:"rate_limits" envPrefix:"RATE_"`
}

// RateLimits bound ACT traffic per websocket session.
type RateLimits struct {
	ActionsPerSec float64 `yaml:"actions_per_sec" json:"actions_per_sec" env:"ACTIONS_PER_SEC"`
	Burst         int     `yaml:"burst" json:"burst" env:"BURST"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:      "1.0",
		ArenaID:              "ARENA_1",
		PoolAccount:          "ARENA_POOL",
		DistanceMetric:       string(spatial.Chebyshev),
		SafeZoneRadius:       spatial.DefaultSafeZoneRadius,
		InteractionRange:     spatial.DefaultInteractionRange,
		SnapshotEveryActions: 500,
		MaxSessions:          256,
		RateLimits: RateLimits{
			ActionsPerSec: 20,
			Burst:         40,
		},
	}
}

// Load reads path over Defaults and applies ARENA_* overrides from the
// process environment. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	return LoadWithEnv(path, nil)
}

// LoadWithEnv is Load with an explicit environment; nil means os.Environ.
func LoadWithEnv(path string, environ map[string]string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return t, err
		default:
			if err := yaml.Unmarshal(raw, &t); err != nil {
				return t, fmt.Errorf("arena.yaml: %w", err)
			}
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&t, opts); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.PoolAccount == "" {
		return fmt.Errorf("tuning: pool_account is required")
	}
	if t.ArenaID == "" {
		return fmt.Errorf("tuning: arena_id is required")
	}
	if _, err := spatial.ParseMetric(t.DistanceMetric); err != nil {
		return fmt.Errorf("tuning: %w", err)
	}
	if t.SafeZoneRadius <= 0 {
		return fmt.Errorf("tuning: safe_zone_radius must be > 0, got %d", t.SafeZoneRadius)
	}
	if t.InteractionRange <= 0 {
		return fmt.Errorf("tuning: interaction_range must be > 0, got %d", t.InteractionRange)
	}
	if t.SnapshotEveryActions < 0 {
		return fmt.Errorf("tuning: snapshot_every_actions must be >= 0")
	}
	if t.RateLimits.ActionsPerSec < 0 || t.RateLimits.Burst < 0 {
		return fmt.Errorf("tuning: rate limits must be >= 0")
	}
	return nil
}

// Rules builds the spatial rules. Call after Validate.
func (t Tuning) Rules() spatial.Rules {
	m, _ := spatial.ParseMetric(t.DistanceMetric)
	return spatial.Rules{
		Metric:           m,
		SafeZoneRadius:   t.SafeZoneRadius,
		InteractionRange: t.InteractionRange,
	}
}
