// Package captions renders timed words into subtitle and data file formats.
package captions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Format identifies a caption serialization.
type Format string

// Supported caption formats.
const (
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatCSV  Format = "csv"
	FormatASS  Format = "ass"
	FormatJSON Format = "json"
)

// ASS style preamble. One Dialogue line per word follows.
const assHeader = `[Script Info]
Title: Generated Subtitles
ScriptType: v4.00+

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H00000000,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,0,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// ParseFormat maps a requested format string to a Format. Unknown requests
// fall back to SRT; that is the documented default, not an error.
func ParseFormat(requested string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(requested))) {
	case FormatVTT:
		return FormatVTT
	case FormatCSV:
		return FormatCSV
	case FormatASS:
		return FormatASS
	case FormatJSON:
		return FormatJSON
	case FormatSRT:
		return FormatSRT
	default:
		return FormatSRT
	}
}

// All returns every supported format.
func All() []Format {
	return []Format{FormatSRT, FormatVTT, FormatCSV, FormatASS, FormatJSON}
}

// ContentType returns the MIME type served for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatVTT:
		return "text/vtt"
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatSRT, FormatASS:
		return "text/plain"
	default:
		return "text/plain"
	}
}

// Render serializes timed words into the requested format. The jobID is
// embedded only by the JSON format.
func Render(words []core.TimedWord, format Format, jobID string) string {
	switch format {
	case FormatVTT:
		return renderVTT(words)
	case FormatCSV:
		return renderCSV(words)
	case FormatASS:
		return renderASS(words)
	case FormatJSON:
		return renderJSON(words, jobID)
	case FormatSRT:
		return renderSRT(words)
	default:
		return renderSRT(words)
	}
}

func renderSRT(words []core.TimedWord) string {
	var builder strings.Builder

	for i, word := range words {
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(word.Start), srtTimestamp(word.End), word.Text)
	}

	return builder.String()
}

func renderVTT(words []core.TimedWord) string {
	var builder strings.Builder

	builder.WriteString("WEBVTT\n\n")

	for _, word := range words {
		fmt.Fprintf(&builder, "%s --> %s\n%s\n\n",
			vttTimestamp(word.Start), vttTimestamp(word.End), word.Text)
	}

	return builder.String()
}

func renderCSV(words []core.TimedWord) string {
	var builder strings.Builder

	builder.WriteString("word,start_time,end_time,confidence\n")

	for _, word := range words {
		fmt.Fprintf(&builder, "%s,%.3f,%.3f,%.3f\n",
			word.Text, word.Start, word.End, word.Confidence)
	}

	return builder.String()
}

func renderASS(words []core.TimedWord) string {
	var builder strings.Builder

	builder.WriteString(assHeader)

	for _, word := range words {
		fmt.Fprintf(&builder, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTimestamp(word.Start), assTimestamp(word.End), word.Text)
	}

	return builder.String()
}

type jsonPayload struct {
	JobID       string           `json:"job_id"`
	Words       []core.TimedWord `json:"words"`
	WordCount   int              `json:"word_count"`
	Duration    float64          `json:"total_duration"`
	GeneratedID string           `json:"generated_id"`
}

func renderJSON(words []core.TimedWord, jobID string) string {
	duration := 0.0
	if len(words) > 0 {
		duration = words[len(words)-1].End
	}

	payload := jsonPayload{
		JobID:       jobID,
		Words:       words,
		WordCount:   len(words),
		Duration:    duration,
		GeneratedID: uuid.NewString(),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		// Marshalling plain structs of strings and floats cannot fail.
		return "{}"
	}

	return string(data)
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	hours, minutes, secs, millis := splitClock(seconds)

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// vttTimestamp formats seconds as HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	hours, minutes, secs, millis := splitClock(seconds)

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}

// assTimestamp formats seconds as H:MM:SS.cc (centiseconds).
func assTimestamp(seconds float64) string {
	hours, minutes, secs, millis := splitClock(seconds)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, millis/10)
}

func splitClock(seconds float64) (hours, minutes, secs, millis int) {
	if seconds < 0 {
		seconds = 0
	}

	whole := int(seconds)
	hours = whole / 3600
	minutes = (whole % 3600) / 60
	secs = whole % 60
	millis = int((seconds - float64(whole)) * 1000)

	return hours, minutes, secs, millis
}
