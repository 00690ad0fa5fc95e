// Package timing_test tests the word-timing estimators.
package timing_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voiceclone-service/internal/timing"
)

func TestHeuristicEstimator_WordCountMatchesInput(t *testing.T) {
	t.Parallel()

	estimator := timing.NewHeuristicEstimator()

	cases := []struct {
		name string
		text string
	}{
		{name: "two words", text: "Hello world"},
		{name: "single word", text: "Hello"},
		{name: "extra whitespace", text: "  several   spaced    words  "},
		{name: "sentence", text: "The quick brown fox jumps over the lazy dog"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			words, err := estimator.Estimate(context.Background(), nil, testCase.text, 1.0)
			require.NoError(t, err)
			assert.Len(t, words, len(strings.Fields(testCase.text)))
		})
	}
}

func TestHeuristicEstimator_TimestampsAreOrdered(t *testing.T) {
	t.Parallel()

	estimator := timing.NewHeuristicEstimator()

	words, err := estimator.Estimate(
		context.Background(), nil, "the quick brown fox jumps over the lazy dog", 1.0,
	)
	require.NoError(t, err)
	require.NotEmpty(t, words)

	previousStart := -1.0

	for _, word := range words {
		assert.Greater(t, word.Start, previousStart, "starts must strictly increase")
		assert.GreaterOrEqual(t, word.End, word.Start)
		previousStart = word.Start
	}
}

func TestHeuristicEstimator_ShortWordsGetMinimumDuration(t *testing.T) {
	t.Parallel()

	estimator := timing.NewHeuristicEstimator()

	words, err := estimator.Estimate(context.Background(), nil, "a I", 1.0)
	require.NoError(t, err)
	require.Len(t, words, 2)

	for _, word := range words {
		assert.InEpsilon(t, 0.2, word.End-word.Start, 0.0001)
	}
}

func TestHeuristicEstimator_SpeedShortensLongWords(t *testing.T) {
	t.Parallel()

	estimator := timing.NewHeuristicEstimator()
	ctx := context.Background()

	slow, err := estimator.Estimate(ctx, nil, "extraordinarily", 1.0)
	require.NoError(t, err)

	fast, err := estimator.Estimate(ctx, nil, "extraordinarily", 2.0)
	require.NoError(t, err)

	require.Len(t, slow, 1)
	require.Len(t, fast, 1)
	assert.Greater(t, slow[0].End-slow[0].Start, fast[0].End-fast[0].Start)
}

func TestHeuristicEstimator_EmptyText(t *testing.T) {
	t.Parallel()

	estimator := timing.NewHeuristicEstimator()

	words, err := estimator.Estimate(context.Background(), nil, "", 1.0)
	require.NoError(t, err)
	assert.Empty(t, words)
}
