package calibration

import "math"

// ZScore returns the two-sided normal quantile for a confidence level,
// e.g. 1.959964 for 0.95.
func ZScore(confidence float64) float64 {
	return math.Sqrt2 * math.Erfinv(confidence)
}

// Wilson returns the Wilson score interval for a proportion p observed over n
// trials. n may be fractional (an effective sample size). The bounds always lie
// in [0, 1] and contain p.
func Wilson(p, n, z float64) (lower, upper float64) {
	if n <= 0 {
		return 0, 1
	}
	z2 := z * z
	denom := 1 + z2/n
	centre := (p + z2/(2*n)) / denom
	margin := z / denom * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	lower = math.Max(0, math.Min(centre-margin, p))
	upper = math.Min(1, math.Max(centre+margin, p))
	return lower, upper
}
