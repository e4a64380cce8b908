package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ModelConfig selects one sentiment model. Unknown fields are rejected at the
// YAML boundary; values are validated before a cycle will use them.
type ModelConfig struct {
	ID       string  `yaml:"id" validate:"required"`
	Provider string  `yaml:"provider" validate:"required,oneof=groq openrouter"`
	Weight   float64 `yaml:"weight" validate:"gte=0,lte=10"`
	Enabled  bool    `yaml:"enabled"`
}

type Dedup struct {
	Threshold      float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	ProximityHours int     `yaml:"proximity_hours" validate:"gt=0"`
	LookbackHours  int     `yaml:"lookback_hours" validate:"gt=0"`
}

type Gateway struct {
	RatePerMinute int `yaml:"rate_per_minute" validate:"gt=0"`
	Burst         int `yaml:"burst" validate:"gt=0"`
	DailyCap      int `yaml:"daily_cap" validate:"gt=0"`
	MaxRetries    int `yaml:"max_retries" validate:"gte=1"`
	BackoffBaseMs int `yaml:"backoff_base_ms" validate:"gt=0"`
	BackoffMaxMul int `yaml:"backoff_max_multiplier" validate:"gte=1"`
	TimeoutMs     int `yaml:"timeout_ms" validate:"gt=0"`
}

type Sentiment struct {
	Models            []ModelConfig `yaml:"models" validate:"dive"`
	MaxConcurrent     int           `yaml:"max_concurrent" validate:"gt=0"`
	CallTimeoutMs     int           `yaml:"call_timeout_ms" validate:"gt=0"`
	DeadlineMs        int           `yaml:"deadline_ms" validate:"gt=0"`
	MinQuorumFraction float64       `yaml:"min_quorum_fraction" validate:"gt=0,lte=1"`
	LowQuorumPenalty  float64       `yaml:"low_quorum_penalty" validate:"gt=0,lte=1"`
	NeutralEpsilon    float64       `yaml:"neutral_epsilon" validate:"gte=0,lt=1"`
}

type Opportunity struct {
	LongThreshold   float64 `yaml:"long_threshold" validate:"gt=0,lte=1"`
	ShortThreshold  float64 `yaml:"short_threshold" validate:"lt=0,gte=-1"`
	MinConfidence   float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	MinModels       int     `yaml:"min_models" validate:"gte=1"`
	LookbackHours   int     `yaml:"lookback_hours" validate:"gt=0"`
	CooldownMinutes int     `yaml:"cooldown_minutes" validate:"gt=0"`
	ExpiryHours     int     `yaml:"expiry_hours" validate:"gt=0"`
	DispersionGuard float64 `yaml:"dispersion_guard" validate:"gt=0"`
	StopPct         float64 `yaml:"stop_pct" validate:"gt=0,lt=1"`
	TargetPct       float64 `yaml:"target_pct" validate:"gt=0,lt=1"`

	// Composite score factor weights.
	WeightMagnitude  float64 `yaml:"weight_magnitude" validate:"gte=0"`
	WeightConfidence float64 `yaml:"weight_confidence" validate:"gte=0"`
	WeightConsensus  float64 `yaml:"weight_consensus" validate:"gte=0"`
	WeightRecency    float64 `yaml:"weight_recency" validate:"gte=0"`
	WeightVolume     float64 `yaml:"weight_volume" validate:"gte=0"`
}

type Scheduler struct {
	IngestEveryMinutes  int `yaml:"ingest_every_minutes" validate:"gt=0"`
	HygieneEveryMinutes int `yaml:"hygiene_every_minutes" validate:"gt=0"`
	FailureThreshold    int `yaml:"failure_threshold" validate:"gt=0"`
	LockTTLSeconds      int `yaml:"lock_ttl_seconds" validate:"gt=0"`
	MaxPortfolioFanout  int `yaml:"max_portfolio_fanout" validate:"gt=0"`
}

type Store struct {
	Path string `yaml:"path" validate:"required"`
}

type Root struct {
	Portfolios     []int       `yaml:"portfolios"`
	RetentionHours int         `yaml:"retention_hours" validate:"gt=0"`
	ListenAddr     string      `yaml:"listen_addr"`
	Dedup          Dedup       `yaml:"dedup"`
	Gateway        Gateway     `yaml:"gateway"`
	Sentiment      Sentiment   `yaml:"sentiment"`
	Opportunity    Opportunity `yaml:"opportunity"`
	Scheduler      Scheduler   `yaml:"scheduler"`
	Store          Store       `yaml:"store"`
}

var validate = validator.New()

// Load reads a YAML config, rejects unknown fields, fills defaults, and
// validates ranges.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&c)
	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Default returns a config with every knob at its default.
func Default() Root {
	var c Root
	ApplyDefaults(&c)
	return c
}

// ApplyDefaults fills zero values the way the rest of the system expects them.
func ApplyDefaults(c *Root) {
	if c.RetentionHours == 0 {
		c.RetentionHours = 72
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	if c.Dedup.Threshold == 0 {
		c.Dedup.Threshold = 0.85
	}
	if c.Dedup.ProximityHours == 0 {
		c.Dedup.ProximityHours = 4
	}
	if c.Dedup.LookbackHours == 0 {
		c.Dedup.LookbackHours = 72
	}

	if c.Gateway.RatePerMinute == 0 {
		c.Gateway.RatePerMinute = 10
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 2
	}
	if c.Gateway.DailyCap == 0 {
		c.Gateway.DailyCap = 2000
	}
	if c.Gateway.MaxRetries == 0 {
		c.Gateway.MaxRetries = 3
	}
	if c.Gateway.BackoffBaseMs == 0 {
		c.Gateway.BackoffBaseMs = 500
	}
	if c.Gateway.BackoffMaxMul == 0 {
		c.Gateway.BackoffMaxMul = 5
	}
	if c.Gateway.TimeoutMs == 0 {
		c.Gateway.TimeoutMs = 30000
	}

	if c.Sentiment.MaxConcurrent == 0 {
		c.Sentiment.MaxConcurrent = 4
	}
	if c.Sentiment.CallTimeoutMs == 0 {
		c.Sentiment.CallTimeoutMs = 20000
	}
	if c.Sentiment.DeadlineMs == 0 {
		c.Sentiment.DeadlineMs = 45000
	}
	if c.Sentiment.MinQuorumFraction == 0 {
		c.Sentiment.MinQuorumFraction = 0.5
	}
	if c.Sentiment.LowQuorumPenalty == 0 {
		c.Sentiment.LowQuorumPenalty = 0.5
	}
	if c.Sentiment.NeutralEpsilon == 0 {
		c.Sentiment.NeutralEpsilon = 0.05
	}

	if c.Opportunity.LongThreshold == 0 {
		c.Opportunity.LongThreshold = 0.3
	}
	if c.Opportunity.ShortThreshold == 0 {
		c.Opportunity.ShortThreshold = -0.3
	}
	if c.Opportunity.MinConfidence == 0 {
		c.Opportunity.MinConfidence = 0.6
	}
	if c.Opportunity.MinModels == 0 {
		c.Opportunity.MinModels = 2
	}
	if c.Opportunity.LookbackHours == 0 {
		c.Opportunity.LookbackHours = 6
	}
	if c.Opportunity.CooldownMinutes == 0 {
		c.Opportunity.CooldownMinutes = 60
	}
	if c.Opportunity.ExpiryHours == 0 {
		c.Opportunity.ExpiryHours = 24
	}
	if c.Opportunity.DispersionGuard == 0 {
		c.Opportunity.DispersionGuard = 0.5
	}
	if c.Opportunity.StopPct == 0 {
		c.Opportunity.StopPct = 0.02
	}
	if c.Opportunity.TargetPct == 0 {
		c.Opportunity.TargetPct = 0.04
	}
	if c.Opportunity.WeightMagnitude == 0 {
		c.Opportunity.WeightMagnitude = 0.35
	}
	if c.Opportunity.WeightConfidence == 0 {
		c.Opportunity.WeightConfidence = 0.25
	}
	if c.Opportunity.WeightConsensus == 0 {
		c.Opportunity.WeightConsensus = 0.15
	}
	if c.Opportunity.WeightRecency == 0 {
		c.Opportunity.WeightRecency = 0.15
	}
	if c.Opportunity.WeightVolume == 0 {
		c.Opportunity.WeightVolume = 0.10
	}

	if c.Scheduler.IngestEveryMinutes == 0 {
		c.Scheduler.IngestEveryMinutes = 5
	}
	if c.Scheduler.HygieneEveryMinutes == 0 {
		c.Scheduler.HygieneEveryMinutes = 60
	}
	if c.Scheduler.FailureThreshold == 0 {
		c.Scheduler.FailureThreshold = 3
	}
	if c.Scheduler.LockTTLSeconds == 0 {
		c.Scheduler.LockTTLSeconds = 300
	}
	if c.Scheduler.MaxPortfolioFanout == 0 {
		c.Scheduler.MaxPortfolioFanout = 3
	}

	if c.Store.Path == "" {
		c.Store.Path = "data/braktrad"
	}
}

// EnabledModels filters the configured models down to the usable set.
func (s Sentiment) EnabledModels() []ModelConfig {
	out := make([]ModelConfig, 0, len(s.Models))
	for _, m := range s.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}
