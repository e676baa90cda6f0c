package calibration

// Verdicts for a curve's mean signed deviation
const (
	VerdictOverpriced  = "overpriced"
	VerdictUnderpriced = "underpriced"
	VerdictCalibrated  = "fairly calibrated"
	VerdictNoData      = "insufficient data"
)

// verdictThresholdCents is the mean deviation beyond which a curve is called mispriced
const verdictThresholdCents = 2.0

// Interpret classifies a curve by its mean signed deviation. Positive
// deviation means contracts won more often than their price implied.
func Interpret(c *Curve) string {
	if c == nil || len(c.Points) == 0 {
		return VerdictNoData
	}
	switch {
	case c.MeanDeviationCents < -verdictThresholdCents:
		return VerdictOverpriced
	case c.MeanDeviationCents > verdictThresholdCents:
		return VerdictUnderpriced
	default:
		return VerdictCalibrated
	}
}
