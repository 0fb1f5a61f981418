// ABOUTME: Offset aggregation with mean/variance outlier filtering
// ABOUTME: Pure function shared by RunSync and the tests
package sync

import (
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Outcome tells whether a sync run replaced the offset or kept the old one.
type Outcome int

const (
	// OutcomeUpdated means the offset was replaced by a new estimate.
	OutcomeUpdated Outcome = iota
	// OutcomeNoSamples means no probe produced a sample; offset retained.
	OutcomeNoSamples
	// OutcomeAllOutliers means every sample was filtered; offset retained.
	OutcomeAllOutliers
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoSamples:
		return "retained (no samples)"
	case OutcomeAllOutliers:
		return "retained (all outliers)"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FilterMode selects the outlier threshold.
type FilterMode int

const (
	// FilterStdDev compares |o - mean| against the standard deviation.
	FilterStdDev FilterMode = iota
	// FilterVariance compares |o - mean| against the variance itself, as
	// older firmware did.
	FilterVariance
)

// ParseFilterMode maps a config string to a FilterMode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "", "stddev":
		return FilterStdDev, nil
	case "variance":
		return FilterVariance, nil
	default:
		return FilterStdDev, fmt.Errorf("unknown filter mode %q", s)
	}
}

func (m FilterMode) String() string {
	if m == FilterVariance {
		return "variance"
	}
	return "stddev"
}

// AggregateStats describes the sample set an aggregation saw.
type AggregateStats struct {
	Count    int
	Kept     int
	Mean     float64
	Variance float64
}

// Aggregate reduces probe offsets to a single estimate. When the outcome is
// not OutcomeUpdated the returned offset is meaningless and must be ignored.
func Aggregate(offsets []float64, mode FilterMode) (int64, Outcome, AggregateStats) {
	stats := AggregateStats{Count: len(offsets)}
	if len(offsets) == 0 {
		return 0, OutcomeNoSamples, stats
	}

	mean := lo.Mean(offsets)
	variance := lo.MeanBy(offsets, func(o float64) float64 {
		return (o - mean) * (o - mean)
	})
	stats.Mean = mean
	stats.Variance = variance

	threshold := math.Sqrt(variance)
	if mode == FilterVariance {
		threshold = variance
	}

	kept := lo.Filter(offsets, func(o float64, _ int) bool {
		return math.Abs(o-mean) < threshold
	})
	stats.Kept = len(kept)
	if len(kept) == 0 {
		return 0, OutcomeAllOutliers, stats
	}

	return int64(math.Round(lo.Mean(kept))), OutcomeUpdated, stats
}
