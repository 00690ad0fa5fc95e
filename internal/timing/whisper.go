package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Form field names.
const (
	formFieldFile           = "file"
	formFieldModel          = "model"
	formFieldLanguage       = "language"
	formFieldResponseFormat = "response_format"
	formFieldGranularity    = "timestamp_granularities[]"
)

const (
	responseFormatVerboseJSON = "verbose_json"
	granularityWord           = "word"
	uploadFileName            = "audio.wav"
)

// ErrNoWordsRecognized indicates the provider returned a response without any
// word-level offsets.
var ErrNoWordsRecognized = errors.New("no word timings in recognition response")

// WhisperEstimator submits rendered audio to a Whisper-compatible
// transcription endpoint and maps the returned per-word offsets into
// TimedWords. Provider failure falls back to the heuristic estimator rather
// than failing the job.
type WhisperEstimator struct {
	httpClient *http.Client
	url        string
	model      string
	language   string
	fallback   core.TimingEstimator
	log        *logger.Logger
}

// NewWhisperEstimator creates a recognition-based estimator. The fallback is
// consulted whenever the provider fails or recognizes no words.
func NewWhisperEstimator(
	url, model, language string,
	timeout time.Duration,
	fallback core.TimingEstimator,
	log *logger.Logger,
) *WhisperEstimator {
	return &WhisperEstimator{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		model:      model,
		language:   language,
		fallback:   fallback,
		log:        log,
	}
}

// Estimate transcribes the audio and returns its word offsets. The output may
// contain fewer or more words than the input text; recognition does not echo
// the submitted text verbatim.
func (w *WhisperEstimator) Estimate(
	ctx context.Context, audioWAV []byte, text string, speed float64,
) ([]core.TimedWord, error) {
	words, err := w.transcribe(ctx, audioWAV)
	if err != nil {
		w.log.Warn("Word-timing recognition failed, using heuristic estimate: %v", err)

		return w.fallback.Estimate(ctx, audioWAV, text, speed)
	}

	return words, nil
}

func (w *WhisperEstimator) transcribe(ctx context.Context, audioWAV []byte) ([]core.TimedWord, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, uploadFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(audioWAV)
	if err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		formFieldModel:          w.model,
		formFieldResponseFormat: responseFormatVerboseJSON,
		formFieldGranularity:    granularityWord,
	}
	if w.language != "" {
		fields[formFieldLanguage] = w.language
	}

	for name, value := range fields {
		err = writer.WriteField(name, value)
		if err != nil {
			return nil, fmt.Errorf("failed to write form field %q: %w", name, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach recognition service: %w", err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			w.log.Warn("Failed to close recognition response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf("recognition service returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed verboseTranscription

	err = json.NewDecoder(resp.Body).Decode(&parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recognition response: %w", err)
	}

	words := parsed.timedWords()
	if len(words) == 0 {
		return nil, ErrNoWordsRecognized
	}

	return words, nil
}

// verboseTranscription covers the verbose_json shapes seen across providers:
// word lists at the top level or nested per segment, with confidence under
// "probability", "score" or "confidence".
type verboseTranscription struct {
	Words    []recognizedWord `json:"words"`
	Segments []struct {
		Words []recognizedWord `json:"words"`
	} `json:"segments"`
}

func (v *verboseTranscription) timedWords() []core.TimedWord {
	raw := v.Words
	if len(raw) == 0 {
		for _, segment := range v.Segments {
			raw = append(raw, segment.Words...)
		}
	}

	words := make([]core.TimedWord, 0, len(raw))
	for _, item := range raw {
		words = append(words, core.TimedWord{
			Text:       strings.TrimSpace(item.Word),
			Start:      float64(item.Start),
			End:        float64(item.End),
			Confidence: item.confidence(),
		})
	}

	return words
}

type recognizedWord struct {
	Word        string      `json:"word"`
	Start       flexSeconds `json:"start"`
	End         flexSeconds `json:"end"`
	Probability *float64    `json:"probability"`
	Score       *float64    `json:"score"`
	Conf        *float64    `json:"confidence"`
}

func (r recognizedWord) confidence() float64 {
	switch {
	case r.Probability != nil:
		return *r.Probability
	case r.Score != nil:
		return *r.Score
	case r.Conf != nil:
		return *r.Conf
	default:
		return 1.0
	}
}

// flexSeconds normalizes provider timestamp encodings to floating-point
// seconds: raw JSON numbers, duration strings ("1.5s" or "1.5"), and
// protobuf-style {seconds, nanos} objects.
type flexSeconds float64

const nanosPerSecond = 1e9

func (f *flexSeconds) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = 0

		return nil
	}

	switch trimmed[0] {
	case '{':
		var duration struct {
			Seconds int64 `json:"seconds"`
			Nanos   int64 `json:"nanos"`
		}

		err := json.Unmarshal(trimmed, &duration)
		if err != nil {
			return fmt.Errorf("failed to parse duration object: %w", err)
		}

		*f = flexSeconds(float64(duration.Seconds) + float64(duration.Nanos)/nanosPerSecond)

		return nil
	case '"':
		var text string

		err := json.Unmarshal(trimmed, &text)
		if err != nil {
			return fmt.Errorf("failed to parse duration string: %w", err)
		}

		text = strings.TrimSuffix(strings.TrimSpace(text), "s")

		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("failed to parse duration string %q: %w", text, err)
		}

		*f = flexSeconds(value)

		return nil
	default:
		var value float64

		err := json.Unmarshal(trimmed, &value)
		if err != nil {
			return fmt.Errorf("failed to parse duration number: %w", err)
		}

		*f = flexSeconds(value)

		return nil
	}
}
