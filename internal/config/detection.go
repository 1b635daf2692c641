package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical detection defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/detection.defaults.json"

// DetectionConfig holds the tuning surface for the drift detection pipeline.
// All fields are optional pointers so a partial JSON file only overrides what
// it names; the Get* accessors supply defaults for everything else. The
// schema matches the /api/config endpoint so the same JSON serves both
// startup configuration and inspection.
type DetectionConfig struct {
	// Baseline params
	BaselineWindowWeeks *int `json:"baseline_window_weeks,omitempty"`
	MinBaselineWeeks    *int `json:"min_baseline_weeks,omitempty"`

	// Deviation thresholds. Z values are in robust (MAD) units.
	RiskZ                *float64 `json:"risk_z,omitempty"`
	RiskSustainWeeks     *int     `json:"risk_sustain_weeks,omitempty"`
	CriticalZ            *float64 `json:"critical_z,omitempty"`
	CriticalSustainWeeks *int     `json:"critical_sustain_weeks,omitempty"`
	SlowBurnZ            *float64 `json:"slow_burn_z,omitempty"`
	SlowBurnSustainWeeks *int     `json:"slow_burn_sustain_weeks,omitempty"`

	// Privacy guardrail params
	MinGroupSize    *int     `json:"min_group_size,omitempty"`
	MinDataCoverage *float64 `json:"min_data_coverage,omitempty"`
	MinSampleSize   *int     `json:"min_sample_size,omitempty"`

	// Outcome tracking params
	RecheckDelayDays *int `json:"recheck_delay_days,omitempty"`

	// Worker params
	WorkerParallelism *int    `json:"worker_parallelism,omitempty"`
	WorkerInterval    *string `json:"worker_interval,omitempty"` // duration string like "1h"
}

// Default values, used when the corresponding field is absent from the JSON.
const (
	defaultBaselineWindowWeeks  = 6
	defaultMinBaselineWeeks     = 3
	defaultRiskZ                = 2.0
	defaultRiskSustainWeeks     = 2
	defaultCriticalZ            = 3.0
	defaultCriticalSustainWeeks = 3
	defaultSlowBurnZ            = 2.0
	defaultSlowBurnSustainWeeks = 5
	defaultMinGroupSize         = 8
	defaultMinDataCoverage      = 0.5
	defaultMinSampleSize        = 3
	defaultRecheckDelayDays     = 14
	defaultWorkerParallelism    = 8
	defaultWorkerInterval       = "1h"
)

// EmptyDetectionConfig returns a DetectionConfig with all fields set to nil.
// Use LoadDetectionConfig to load actual values from the defaults file.
func EmptyDetectionConfig() *DetectionConfig {
	return &DetectionConfig{}
}

// LoadDetectionConfig loads a DetectionConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size. Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadDetectionConfig(path string) (*DetectionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDetectionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical detection defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *DetectionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadDetectionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *DetectionConfig) Validate() error {
	if c.BaselineWindowWeeks != nil && *c.BaselineWindowWeeks < 1 {
		return fmt.Errorf("baseline_window_weeks must be positive, got %d", *c.BaselineWindowWeeks)
	}
	if c.MinBaselineWeeks != nil {
		if *c.MinBaselineWeeks < 1 {
			return fmt.Errorf("min_baseline_weeks must be positive, got %d", *c.MinBaselineWeeks)
		}
		if *c.MinBaselineWeeks > c.GetBaselineWindowWeeks() {
			return fmt.Errorf("min_baseline_weeks %d exceeds baseline_window_weeks %d",
				*c.MinBaselineWeeks, c.GetBaselineWindowWeeks())
		}
	}
	if c.RiskZ != nil && *c.RiskZ <= 0 {
		return fmt.Errorf("risk_z must be positive, got %f", *c.RiskZ)
	}
	if c.CriticalZ != nil && *c.CriticalZ < c.GetRiskZ() {
		return fmt.Errorf("critical_z %f must not be below risk_z %f", *c.CriticalZ, c.GetRiskZ())
	}
	if c.MinDataCoverage != nil {
		if *c.MinDataCoverage < 0 || *c.MinDataCoverage > 1 {
			return fmt.Errorf("min_data_coverage must be between 0 and 1, got %f", *c.MinDataCoverage)
		}
	}
	if c.MinGroupSize != nil && *c.MinGroupSize < 1 {
		return fmt.Errorf("min_group_size must be positive, got %d", *c.MinGroupSize)
	}
	if c.RecheckDelayDays != nil && *c.RecheckDelayDays < 1 {
		return fmt.Errorf("recheck_delay_days must be positive, got %d", *c.RecheckDelayDays)
	}
	if c.WorkerParallelism != nil && *c.WorkerParallelism < 1 {
		return fmt.Errorf("worker_parallelism must be positive, got %d", *c.WorkerParallelism)
	}
	if c.WorkerInterval != nil && *c.WorkerInterval != "" {
		if _, err := time.ParseDuration(*c.WorkerInterval); err != nil {
			return fmt.Errorf("invalid worker_interval '%s': %w", *c.WorkerInterval, err)
		}
	}
	return nil
}

// GetBaselineWindowWeeks returns the baseline window length in weeks.
func (c *DetectionConfig) GetBaselineWindowWeeks() int {
	if c.BaselineWindowWeeks != nil {
		return *c.BaselineWindowWeeks
	}
	return defaultBaselineWindowWeeks
}

// GetMinBaselineWeeks returns the minimum usable weeks needed for a baseline.
func (c *DetectionConfig) GetMinBaselineWeeks() int {
	if c.MinBaselineWeeks != nil {
		return *c.MinBaselineWeeks
	}
	return defaultMinBaselineWeeks
}

// GetRiskZ returns the robust z magnitude required for RISK.
func (c *DetectionConfig) GetRiskZ() float64 {
	if c.RiskZ != nil {
		return *c.RiskZ
	}
	return defaultRiskZ
}

// GetRiskSustainWeeks returns the consecutive weeks required for RISK.
func (c *DetectionConfig) GetRiskSustainWeeks() int {
	if c.RiskSustainWeeks != nil {
		return *c.RiskSustainWeeks
	}
	return defaultRiskSustainWeeks
}

// GetCriticalZ returns the robust z magnitude required for CRITICAL.
func (c *DetectionConfig) GetCriticalZ() float64 {
	if c.CriticalZ != nil {
		return *c.CriticalZ
	}
	return defaultCriticalZ
}

// GetCriticalSustainWeeks returns the consecutive weeks required for CRITICAL.
func (c *DetectionConfig) GetCriticalSustainWeeks() int {
	if c.CriticalSustainWeeks != nil {
		return *c.CriticalSustainWeeks
	}
	return defaultCriticalSustainWeeks
}

// GetSlowBurnZ returns the z magnitude for the slow-burn escalation path.
func (c *DetectionConfig) GetSlowBurnZ() float64 {
	if c.SlowBurnZ != nil {
		return *c.SlowBurnZ
	}
	return defaultSlowBurnZ
}

// GetSlowBurnSustainWeeks returns the sustain requirement for slow-burn CRITICAL.
func (c *DetectionConfig) GetSlowBurnSustainWeeks() int {
	if c.SlowBurnSustainWeeks != nil {
		return *c.SlowBurnSustainWeeks
	}
	return defaultSlowBurnSustainWeeks
}

// GetMinGroupSize returns the minimum team population for signal emission.
func (c *DetectionConfig) GetMinGroupSize() int {
	if c.MinGroupSize != nil {
		return *c.MinGroupSize
	}
	return defaultMinGroupSize
}

// GetMinDataCoverage returns the minimum data coverage fraction for emission.
func (c *DetectionConfig) GetMinDataCoverage() float64 {
	if c.MinDataCoverage != nil {
		return *c.MinDataCoverage
	}
	return defaultMinDataCoverage
}

// GetMinSampleSize returns the minimum per-week sample size for emission.
func (c *DetectionConfig) GetMinSampleSize() int {
	if c.MinSampleSize != nil {
		return *c.MinSampleSize
	}
	return defaultMinSampleSize
}

// GetRecheckDelayDays returns the delay before an intervention recheck.
func (c *DetectionConfig) GetRecheckDelayDays() int {
	if c.RecheckDelayDays != nil {
		return *c.RecheckDelayDays
	}
	return defaultRecheckDelayDays
}

// GetWorkerParallelism returns the detection fan-out limit.
func (c *DetectionConfig) GetWorkerParallelism() int {
	if c.WorkerParallelism != nil {
		return *c.WorkerParallelism
	}
	return defaultWorkerParallelism
}

// GetWorkerInterval returns the detection worker cadence.
func (c *DetectionConfig) GetWorkerInterval() string {
	if c.WorkerInterval != nil && *c.WorkerInterval != "" {
		return *c.WorkerInterval
	}
	return defaultWorkerInterval
}
