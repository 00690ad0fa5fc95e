// Package core defines the domain types and interfaces for the voiceclone service.
package core

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by an ObjectStore when a key does not exist.
// Callers use it to distinguish "not found" from transport or configuration
// failures.
var ErrObjectNotFound = errors.New("object not found")

// JobStatus describes the lifecycle state of a synthesis job.
type JobStatus string

const (
	// JobStatusQueued means the job has been accepted but not yet picked up.
	JobStatusQueued JobStatus = "QUEUED"
	// JobStatusProcessing means a worker currently owns the job.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted means the job finished and a result is available.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed means the job finished with an error message.
	JobStatusFailed JobStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TimedWord is a single output-text token annotated with start/end offsets
// into the synthesized audio, in seconds.
type TimedWord struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start_time"`
	End        float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

// SynthesisResult is the payload recorded for a completed job.
type SynthesisResult struct {
	AudioURL    string            `json:"audio_url"`
	AudioKey    string            `json:"audio_key"`
	Duration    float64           `json:"duration"`
	TimingFiles map[string]string `json:"timing_files,omitempty"`
	WordTimings []TimedWord       `json:"word_timings,omitempty"`
}

// Job is one asynchronous synthesis request and its lifecycle state.
// Exactly one of Result/Error is set once Status is terminal.
type Job struct {
	ID     string           `json:"job_id"`
	Status JobStatus        `json:"status"`
	Result *SynthesisResult `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// VoiceInfo describes one stored voice reference.
type VoiceInfo struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"last_modified"`
	HasTranscript bool      `json:"has_transcript"`
}

// ObjectInfo is a single entry returned by ObjectStore.List.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// SignedURL returns a time-limited retrieval reference for a stored key.
	SignedURL(key string, ttl time.Duration) (string, error)
}

// SynthesisParams holds the per-request knobs for a synthesis call.
type SynthesisParams struct {
	Text          string
	ReferenceWAV  []byte
	ReferenceName string
	Speed         float64
	Seed          int64
}

// SpeechSynthesizer is the interface to the external text-to-speech engine.
// EnsureReady must be called before Synthesize; it is safe for concurrent use
// and performs the one-time warm-up at most once per process.
type SpeechSynthesizer interface {
	EnsureReady(ctx context.Context) error
	Synthesize(ctx context.Context, params SynthesisParams) ([]byte, error)
}

// SynthesisJob is the unit of work handed to the worker pool after a
// synthesis request is accepted.
type SynthesisJob struct {
	JobID             string
	Text              string
	VoiceReference    string
	Speed             float64
	Seed              int64
	ReturnWordTimings bool
	TimingFormat      string
	TimingMethod      string
}

// JobSubmitter accepts queued jobs for background execution. Submit returns
// an error when the queue is at capacity; it never blocks.
type JobSubmitter interface {
	Submit(job SynthesisJob) error
}

// TimingEstimator derives per-word timestamps for synthesized audio.
// Implementations may ignore the audio (heuristic path) or the text
// (recognition path); callers must not assume word-count parity between
// input text and output timings.
type TimingEstimator interface {
	Estimate(ctx context.Context, audioWAV []byte, text string, speed float64) ([]TimedWord, error)
}
