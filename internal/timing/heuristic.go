// Package timing derives per-word timestamps for synthesized audio.
//
// Two interchangeable estimators are provided: a deterministic offline
// heuristic, and a speech-recognition client that falls back to the
// heuristic when the provider is unavailable.
package timing

import (
	"context"
	"strings"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Heuristic estimator tuning.
const (
	minWordSeconds       = 0.2
	perCharacterSeconds  = 0.08
	interWordGapSeconds  = 0.05
	heuristicConfidence  = 1.0
	defaultSpeedFallback = 1.0
)

// HeuristicEstimator assigns each word a duration proportional to its
// character count. Timestamps accumulate sequentially from zero, so the
// output is strictly ordered and word-count parity with the input text is
// guaranteed.
type HeuristicEstimator struct{}

// NewHeuristicEstimator creates a heuristic word-timing estimator.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{}
}

// Estimate splits text on whitespace and synthesizes timestamps without
// inspecting the audio. It never fails.
func (h *HeuristicEstimator) Estimate(
	_ context.Context, _ []byte, text string, speed float64,
) ([]core.TimedWord, error) {
	if speed <= 0 {
		speed = defaultSpeedFallback
	}

	fields := strings.Fields(text)
	words := make([]core.TimedWord, 0, len(fields))

	cursor := 0.0

	for _, field := range fields {
		duration := perCharacterSeconds * float64(len(field)) / speed
		if duration < minWordSeconds {
			duration = minWordSeconds
		}

		words = append(words, core.TimedWord{
			Text:       field,
			Start:      cursor,
			End:        cursor + duration,
			Confidence: heuristicConfidence,
		})

		cursor += duration + interWordGapSeconds
	}

	return words, nil
}
