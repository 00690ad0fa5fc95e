// Package captions_test tests the caption format serializations.
package captions_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voiceclone-service/internal/captions"
	"github.com/book-expert/voiceclone-service/internal/core"
)

func sampleWords() []core.TimedWord {
	return []core.TimedWord{
		{Text: "Hello", Start: 0.0, End: 0.4, Confidence: 0.95},
		{Text: "world", Start: 0.45, End: 0.85, Confidence: 0.9},
	}
}

func TestRenderSRT(t *testing.T) {
	t.Parallel()

	out := captions.Render(sampleWords(), captions.FormatSRT, "job-1")

	assert.True(t, strings.HasPrefix(out, "1\n"), "SRT output must begin with the first index")
	assert.Contains(t, out, "00:00:00,000 --> 00:00:00,400\nHello\n\n")
	assert.Contains(t, out, "2\n00:00:00,450 --> 00:00:00,850\nworld\n\n")
}

func TestRenderVTT(t *testing.T) {
	t.Parallel()

	out := captions.Render(sampleWords(), captions.FormatVTT, "job-1")

	assert.True(t, strings.HasPrefix(out, "WEBVTT\n\n"))
	assert.Contains(t, out, "00:00:00.000 --> 00:00:00.400\nHello\n\n")
}

func TestRenderCSV(t *testing.T) {
	t.Parallel()

	out := captions.Render(sampleWords(), captions.FormatCSV, "job-1")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "word,start_time,end_time,confidence", lines[0])
	assert.Equal(t, "Hello,0.000,0.400,0.950", lines[1])
	assert.Equal(t, "world,0.450,0.850,0.900", lines[2])
}

func TestRenderASS(t *testing.T) {
	t.Parallel()

	out := captions.Render(sampleWords(), captions.FormatASS, "job-1")

	assert.True(t, strings.HasPrefix(out, "[Script Info]"))
	assert.Contains(t, out, "[V4+ Styles]")
	assert.Contains(t, out, "Dialogue: 0,0:00:00.00,0:00:00.40,Default,,0,0,0,,Hello")
	assert.Contains(t, out, "Dialogue: 0,0:00:00.45,0:00:00.85,Default,,0,0,0,,world")
}

func TestRenderJSON(t *testing.T) {
	t.Parallel()

	out := captions.Render(sampleWords(), captions.FormatJSON, "job-1")

	var payload struct {
		JobID       string           `json:"job_id"`
		Words       []core.TimedWord `json:"words"`
		WordCount   int              `json:"word_count"`
		Duration    float64          `json:"total_duration"`
		GeneratedID string           `json:"generated_id"`
	}

	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "job-1", payload.JobID)
	assert.Len(t, payload.Words, 2)
	assert.Equal(t, 2, payload.WordCount)
	assert.InEpsilon(t, 0.85, payload.Duration, 0.0001)
	assert.NotEmpty(t, payload.GeneratedID)
}

func TestParseFormat_UnknownDefaultsToSRT(t *testing.T) {
	t.Parallel()

	words := sampleWords()

	unknown := captions.Render(words, captions.ParseFormat("tagml"), "job-1")
	srt := captions.Render(words, captions.FormatSRT, "job-1")

	assert.Equal(t, srt, unknown)
	assert.Equal(t, captions.FormatSRT, captions.ParseFormat(""))
	assert.Equal(t, captions.FormatVTT, captions.ParseFormat(" VTT "))
}

func TestRenderLongTimestamps(t *testing.T) {
	t.Parallel()

	words := []core.TimedWord{{Text: "late", Start: 3725.5, End: 3726.0, Confidence: 1.0}}

	srt := captions.Render(words, captions.FormatSRT, "job-1")
	assert.Contains(t, srt, "01:02:05,500 --> 01:02:06,000")

	ass := captions.Render(words, captions.FormatASS, "job-1")
	assert.Contains(t, ass, "1:02:05.50")
}

func TestContentTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "text/vtt", captions.FormatVTT.ContentType())
	assert.Equal(t, "text/csv", captions.FormatCSV.ContentType())
	assert.Equal(t, "application/json", captions.FormatJSON.ContentType())
	assert.Equal(t, "text/plain", captions.FormatSRT.ContentType())
	assert.Equal(t, "text/plain", captions.FormatASS.ContentType())
}
