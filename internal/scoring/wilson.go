// Package scoring defines the statistical confidence measure shared by the
// memory lifecycle, the knowledge-graph write path and the action-effectiveness
// rollups.
//
// The engine ranks remembered fragments by the lower bound of the Wilson score
// confidence interval rather than by raw success ratio. A record with 90/100
// successes outranks a record with 1/1: the interval accounts for sample size,
// so a large good-but-imperfect history carries more statistical weight than a
// perfect tiny one.
package scoring

import "math"

// DefaultZ is the z-value for a 95% confidence interval.
const DefaultZ = 1.96

// NeutralScore is returned for records with no evidence. An unused record is
// neither trusted nor distrusted, which prevents cold-start bias in the
// promotion and garbage passes.
const NeutralScore = 0.5

// WilsonLowerBound computes the lower bound of the Wilson score confidence
// interval for a binomial proportion with the given number of successes out
// of total trials, at confidence z.
//
// Contract:
//   - total == 0 returns NeutralScore (0.5)
//   - the result is always within [0, 1]
//   - for fixed total, the result is monotonically non-decreasing in successes
func WilsonLowerBound(successes, total int64, z float64) float64 {
	if total <= 0 {
		return NeutralScore
	}
	if successes < 0 {
		successes = 0
	}
	if successes > total {
		successes = total
	}

	n := float64(total)
	phat := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	centre := phat + z2/(2*n)
	margin := z * math.Sqrt(phat*(1-phat)/n+z2/(4*n*n))

	lower := (centre - margin) / denom

	// Floating point can drift a hair outside the unit interval at extreme
	// sample sizes.
	if lower < 0 {
		return 0
	}
	if lower > 1 {
		return 1
	}
	return lower
}

// Wilson computes the lower bound at the default 95% confidence level.
func Wilson(successes, total int64) float64 {
	return WilsonLowerBound(successes, total, DefaultZ)
}

// SuccessRate returns worked/(worked+failed), defaulting to NeutralScore when
// there is no evidence either way.
func SuccessRate(worked, failed int64) float64 {
	if worked+failed == 0 {
		return NeutralScore
	}
	return float64(worked) / float64(worked+failed)
}
