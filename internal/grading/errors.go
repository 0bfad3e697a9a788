package grading

import "errors"

// ErrUnsupportedType indicates no strategy is registered for the classified type.
var ErrUnsupportedType = errors.New("unsupported submission type")

// ErrMalformedAnswerKey indicates the assignment answer key cannot be parsed.
var ErrMalformedAnswerKey = errors.New("malformed answer key")

// ErrMalformedAnswers indicates the submitted quiz answers cannot be parsed.
var ErrMalformedAnswers = errors.New("malformed quiz answers")

// ErrEvaluatorUnavailable indicates no inference backend is configured for a
// probabilistic strategy.
var ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
