package grading

const (
	plagiarismPenaltyFactor = 0.5
	// PlagiarismReviewReason is the review reason recorded when the
	// plagiarism detector flags a submission.
	PlagiarismReviewReason = "Plagiarism detected"
)

// ApplyPenalty folds the plagiarism verdict into a raw strategy grade. It is
// a pure function: the input is never mutated, and composing it once per
// grading pass guarantees a re-grade can never discount an already
// discounted score. An unflagged submission passes through untouched,
// keeping whatever review flag the strategy itself set.
func ApplyPenalty(raw Result, flagged bool) Result {
	final := raw
	if !flagged {
		return final
	}

	final.OverallScore = clampScore(raw.OverallScore * plagiarismPenaltyFactor)
	final.RequiresHumanReview = true
	final.ReviewReason = PlagiarismReviewReason
	final.PlagiarismFlagged = true
	return final
}
