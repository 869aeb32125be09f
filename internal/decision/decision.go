// Package decision turns a scorer assessment plus the configured threshold
// into a deterministic, auditable notify/no-notify outcome.
package decision

import "fmt"

// Decision is the outcome of evaluating one lead assessment against the
// notification threshold. It carries the resolved threshold and testing flag
// so the result can be explained after the fact without recomputation.
type Decision struct {
	ShouldNotify  bool   `json:"should_notify"`
	Score         int    `json:"score"`
	ThresholdUsed int    `json:"threshold_used"`
	TestingMode   bool   `json:"testing_mode"`
	Reason        string `json:"reason"`
}

// Decide evaluates whether a qualified-lead notification should fire.
//
// Testing mode forces the threshold to 0 so the dispatch path can be exercised
// end to end on any qualified exchange; the flag is recorded on the output.
// The score is compared as-is, with no clamping: validating scorer output is
// not this function's job. Both signals gate the notification, so an
// unqualified lead never notifies, whatever its score.
func Decide(score int, qualified bool, threshold int, testingMode bool) Decision {
	resolved := threshold
	if testingMode {
		resolved = 0
	}

	d := Decision{
		Score:         score,
		ThresholdUsed: resolved,
		TestingMode:   testingMode,
	}

	switch {
	case !qualified:
		d.Reason = "scorer did not qualify the lead"
	case score < resolved:
		d.Reason = fmt.Sprintf("score %d below threshold %d", score, resolved)
	default:
		d.ShouldNotify = true
		d.Reason = fmt.Sprintf("qualified with score %d >= threshold %d", score, resolved)
	}
	return d
}
