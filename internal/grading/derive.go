package grading

// Derived holds the bounded auxiliary metrics computed from a final score.
// Derivation is one-directional: neither value ever feeds back into the
// overall score.
type Derived struct {
	AlignmentScore float64
	ImpactScore    float64
}

// DeriveMetrics computes the alignment and impact metrics from the final
// overall score after penalty and escalation.
func DeriveMetrics(overallScore float64) Derived {
	score := clampScore(overallScore)
	normalized := score / 100

	alignment := normalized
	if score >= 90 {
		alignment = normalized + 0.1
		if alignment > 1.0 {
			alignment = 1.0
		}
	}

	return Derived{
		AlignmentScore: alignment,
		ImpactScore:    normalized * 0.8,
	}
}
