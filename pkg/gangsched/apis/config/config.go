// Package config defines the gang scheduler's boot parameters
// (SPEC_FULL.md §6): read-mostly integer knobs with defaults,
// validation, and clamping, in the args-struct-with-commented-defaults
// shape used throughout the scheduler plugin configuration of the
// teacher codebase.
package config

import (
	"fmt"

	"github.com/gangsched/gangsched/pkg/gangsched/policy"
)

const (
	// DefaultBEReservePercent is the default collective CPU percentage
	// granted to best-effort domains on every CPU.
	DefaultBEReservePercent = 10

	// DefaultBEBasicPeriodMs is the default best-effort scheduling
	// period, in milliseconds.
	DefaultBEBasicPeriodMs = 100

	// DefaultAdjustTimeUpperBoundMs is the default reconfiguration
	// wall-clock budget, in milliseconds.
	DefaultAdjustTimeUpperBoundMs = 100

	// MinAdjustTimeUpperBoundMs and MaxAdjustTimeUpperBoundMs bound the
	// clamp range for the reconfiguration budget.
	MinAdjustTimeUpperBoundMs = 10
	MaxAdjustTimeUpperBoundMs = 500

	// DefaultSchedRatelimitUs is the default minimum scheduling time
	// grain, in microseconds.
	DefaultSchedRatelimitUs = 1000

	// MinBEBasicPeriodGrainMultiple is the minimum multiple of the
	// system grain that the best-effort period may be clamped down to.
	MinBEBasicPeriodGrainMultiple = 100
)

// BootParams holds the gang scheduler's boot-time configuration
// (original: sched_gang_cpu_rsrv_4_be_doms, sched_gang_period_4_be_doms,
// sched_gang_adj_time_upper_bound, sched_ratelimit_us).
type BootParams struct {
	// BEReservePercent is the collective CPU percentage reserved for
	// best-effort domains, in [0, 100]. Default 10.
	BEReservePercent int `yaml:"be_reserve_percent"`

	// BEBasicPeriod is the best-effort scheduling period. Default
	// 100ms, clamped to at least 100 * Grain.
	BEBasicPeriod policy.Time `yaml:"be_basic_period_ns"`

	// AdjustTimeUpperBound is the wall-clock budget a reconfiguration
	// is given to converge. Default 100ms, clamped to [10ms, 500ms].
	AdjustTimeUpperBound policy.Time `yaml:"adjust_time_upper_bound_ns"`

	// Grain is the minimum scheduling time quantum; all timestamps are
	// quantised to it. Default 1ms (sched_ratelimit_us = 1000).
	Grain policy.Time `yaml:"grain_ns"`

	// EnableDBF switches the schedulability test from the default
	// utilisation-sum test to the Demand-Bound-Function variant (§9).
	EnableDBF bool `yaml:"enable_dbf"`
}

// Default returns the boot parameters' documented defaults.
func Default() BootParams {
	return BootParams{
		BEReservePercent:     DefaultBEReservePercent,
		BEBasicPeriod:        policy.FromMillis(DefaultBEBasicPeriodMs),
		AdjustTimeUpperBound: policy.FromMillis(DefaultAdjustTimeUpperBoundMs),
		Grain:                policy.Time(DefaultSchedRatelimitUs * 1000),
	}
}

// Validate rejects out-of-range values that clamping cannot repair
// (BEReservePercent outside [0,100]) and clamps the rest in place.
func (p *BootParams) Validate() error {
	if p.BEReservePercent < 0 || p.BEReservePercent > 100 {
		return fmt.Errorf("config: be_reserve_percent %d out of range [0,100]", p.BEReservePercent)
	}
	if p.Grain <= 0 {
		return fmt.Errorf("config: grain must be positive, got %d", p.Grain)
	}

	minPeriod := policy.Time(MinBEBasicPeriodGrainMultiple) * p.Grain
	if p.BEBasicPeriod < minPeriod {
		p.BEBasicPeriod = minPeriod
	}

	lo := policy.FromMillis(MinAdjustTimeUpperBoundMs)
	hi := policy.FromMillis(MaxAdjustTimeUpperBoundMs)
	if p.AdjustTimeUpperBound < lo {
		p.AdjustTimeUpperBound = lo
	} else if p.AdjustTimeUpperBound > hi {
		p.AdjustTimeUpperBound = hi
	}

	return nil
}
