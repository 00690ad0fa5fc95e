// Package router dispatches decoded service requests to their handlers and
// shapes every outcome, success or failure, into a JSON reply.
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/ledger"
	"github.com/book-expert/voiceclone-service/internal/ttsutils"
	"github.com/book-expert/voiceclone-service/internal/voices"
)

// Endpoint names. An empty or unrecognized endpoint is a synthesis request.
const (
	endpointUpload     = "upload"
	endpointListVoices = "list_voices"
	endpointDownload   = "download"
	endpointStatus     = "status"
	endpointResult     = "result"
	endpointHealth     = "health"
)

// Reply status values.
const statusSuccess = "success"

// Sentinel errors.
var (
	ErrTextRequired      = errors.New("text is required for synthesis")
	ErrKeyRequired       = errors.New("key is required for download")
	ErrJobIDRequired     = errors.New("job_id is required")
	ErrUnsafeKey         = errors.New("key must be a relative path without traversal")
	ErrInvalidJobID      = errors.New("Invalid job_id: job not found or expired")
	ErrJobNotCompleted   = errors.New("job is not completed")
	ErrInvalidVoiceData  = errors.New("voice_data must be valid base64")
	ErrAudioDataRequired = errors.New("voice_data or voice_file_url is required for upload")
	ErrNoSignedParser    = errors.New("no verifier accepts this signed reference")
)

// SignedReferenceParser validates signed retrieval references issued by an
// object store and returns the embedded key.
type SignedReferenceParser interface {
	ParseSignedURL(raw string) (string, error)
}

// Request is the decoded wire envelope. Endpoint selects the operation;
// the remaining fields are per-endpoint and ignored elsewhere.
type Request struct {
	Header   events.EventHeader `json:"header"`
	Endpoint string             `json:"endpoint,omitempty"`

	// Voice library fields.
	VoiceName      string `json:"voice_name,omitempty"`
	VoiceFileURL   string `json:"voice_file_url,omitempty"`
	VoiceData      string `json:"voice_data,omitempty"`
	TranscriptData string `json:"transcript_data,omitempty"`

	// Artifact retrieval fields.
	Key   string `json:"key,omitempty"`
	JobID string `json:"job_id,omitempty"`

	// Synthesis fields.
	Text              string  `json:"text,omitempty"`
	LocalVoice        string  `json:"local_voice,omitempty"`
	Speed             float64 `json:"speed,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
	ReturnWordTimings bool    `json:"return_word_timings,omitempty"`
	TimingFormat      string  `json:"timing_format,omitempty"`
	TimingMethod      string  `json:"timing_method,omitempty"`
}

// Router routes decoded requests. All methods reply with JSON; failures are
// `{"error": "..."}` objects and never panics.
type Router struct {
	jobs          *ledger.Ledger
	library       *voices.Library
	voiceStore    core.ObjectStore
	artifactStore core.ObjectStore
	parsers       []SignedReferenceParser
	pool          core.JobSubmitter
	defaultSpeed  float64
	log           *logger.Logger
}

// Config wires a Router.
type Config struct {
	Jobs          *ledger.Ledger
	Library       *voices.Library
	VoiceStore    core.ObjectStore
	ArtifactStore core.ObjectStore
	Parsers       []SignedReferenceParser
	Pool          core.JobSubmitter
	DefaultSpeed  float64
}

// New creates a Router.
func New(cfg Config, log *logger.Logger) *Router {
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = 1.0
	}

	return &Router{
		jobs:          cfg.Jobs,
		library:       cfg.Library,
		voiceStore:    cfg.VoiceStore,
		artifactStore: cfg.ArtifactStore,
		parsers:       cfg.Parsers,
		pool:          cfg.Pool,
		defaultSpeed:  cfg.DefaultSpeed,
		log:           log,
	}
}

// Handle decodes one request and returns the JSON reply. It never returns an
// empty slice; undecodable input gets an error reply too.
func (r *Router) Handle(ctx context.Context, data []byte) []byte {
	var req Request

	err := json.Unmarshal(data, &req)
	if err != nil {
		r.log.Warn("Rejected undecodable request: %v", err)

		return errorReply(fmt.Errorf("invalid request JSON: %w", err))
	}

	payload, err := r.dispatch(ctx, &req)
	if err != nil {
		r.log.Warn("Request %s (endpoint %q) failed: %v", req.Header.EventID, req.Endpoint, err)

		return errorReply(err)
	}

	return payload
}

func (r *Router) dispatch(ctx context.Context, req *Request) ([]byte, error) {
	switch req.Endpoint {
	case endpointUpload:
		return r.handleUpload(ctx, req)
	case endpointListVoices:
		return r.handleListVoices(ctx)
	case endpointDownload:
		return r.handleDownload(ctx, req)
	case endpointStatus:
		return r.handleStatus(req)
	case endpointResult:
		return r.handleResult(req)
	case endpointHealth:
		return marshalReply(map[string]string{"status": "healthy"})
	default:
		return r.handleSynthesis(req)
	}
}

func (r *Router) handleUpload(ctx context.Context, req *Request) ([]byte, error) {
	if strings.TrimSpace(req.VoiceName) == "" {
		return nil, voices.ErrVoiceNameEmpty
	}

	audio, err := r.uploadAudioBytes(ctx, req)
	if err != nil {
		return nil, err
	}

	key, err := r.library.Upload(ctx, req.VoiceName, audio, req.TranscriptData)
	if err != nil {
		return nil, err
	}

	return marshalReply(map[string]any{
		"status":     statusSuccess,
		"voice_name": req.VoiceName,
		"key":        key,
	})
}

func (r *Router) uploadAudioBytes(ctx context.Context, req *Request) ([]byte, error) {
	if req.VoiceData != "" {
		audio, err := base64.StdEncoding.DecodeString(req.VoiceData)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidVoiceData, err)
		}

		return audio, nil
	}

	if req.VoiceFileURL != "" {
		audio, _, err := r.library.Resolve(ctx, req.VoiceFileURL)
		if err != nil {
			return nil, err
		}

		return audio, nil
	}

	return nil, ErrAudioDataRequired
}

func (r *Router) handleListVoices(ctx context.Context) ([]byte, error) {
	list, err := r.library.List(ctx)
	if err != nil {
		return nil, err
	}

	return marshalReply(map[string]any{
		"status": statusSuccess,
		"voices": list,
		"count":  len(list),
	})
}

func (r *Router) handleDownload(ctx context.Context, req *Request) ([]byte, error) {
	if req.Key == "" {
		return nil, ErrKeyRequired
	}

	key, err := r.resolveDownloadKey(req.Key)
	if err != nil {
		return nil, err
	}

	data, err := r.downloadFromEitherStore(ctx, key)
	if err != nil {
		return nil, err
	}

	return marshalReply(map[string]any{
		"status":       statusSuccess,
		"filename":     path.Base(key),
		"content_type": ttsutils.ContentTypeFor(key),
		"size":         len(data),
		"data":         base64.StdEncoding.EncodeToString(data),
	})
}

// resolveDownloadKey accepts either a plain store key or a signed reference
// issued by SignedURL, and enforces the key-safety rules either way.
func (r *Router) resolveDownloadKey(raw string) (string, error) {
	key := raw

	if strings.Contains(raw, "://") {
		parsed := ""
		lastErr := ErrNoSignedParser

		for _, parser := range r.parsers {
			candidate, err := parser.ParseSignedURL(raw)
			if err == nil {
				parsed = candidate

				break
			}

			lastErr = err
		}

		if parsed == "" {
			return "", fmt.Errorf("invalid signed reference: %w", lastErr)
		}

		key = parsed
	}

	err := validateKey(key)
	if err != nil {
		return "", err
	}

	return key, nil
}

// downloadFromEitherStore routes voice-library keys to the voice bucket and
// everything else to the artifact bucket.
func (r *Router) downloadFromEitherStore(ctx context.Context, key string) ([]byte, error) {
	store := r.artifactStore
	if strings.HasPrefix(key, "voices/") {
		store = r.voiceStore
	}

	data, err := store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, key)
		}

		return nil, fmt.Errorf("download failed for %s: %w", key, err)
	}

	return data, nil
}

func (r *Router) handleStatus(req *Request) ([]byte, error) {
	if req.JobID == "" {
		return nil, ErrJobIDRequired
	}

	job, found := r.jobs.Get(req.JobID)
	if !found {
		return nil, ErrInvalidJobID
	}

	return marshalReply(job)
}

func (r *Router) handleResult(req *Request) ([]byte, error) {
	if req.JobID == "" {
		return nil, ErrJobIDRequired
	}

	job, found := r.jobs.Get(req.JobID)
	if !found {
		return nil, ErrInvalidJobID
	}

	switch job.Status {
	case core.JobStatusCompleted:
		return marshalReply(job)
	case core.JobStatusFailed:
		return nil, fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	case core.JobStatusQueued, core.JobStatusProcessing:
		return nil, fmt.Errorf("%w: current status is %s", ErrJobNotCompleted, job.Status)
	default:
		return nil, fmt.Errorf("%w: current status is %s", ErrJobNotCompleted, job.Status)
	}
}

func (r *Router) handleSynthesis(req *Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextRequired
	}

	// An absent reference is valid: synthesis falls back to the engine's
	// built-in default voice.
	reference := req.VoiceFileURL
	if reference == "" {
		reference = req.LocalVoice
	}

	speed := req.Speed
	if speed <= 0 {
		speed = r.defaultSpeed
	}

	jobID := uuid.NewString()

	job := core.SynthesisJob{
		JobID:             jobID,
		Text:              req.Text,
		VoiceReference:    reference,
		Speed:             speed,
		Seed:              req.Seed,
		ReturnWordTimings: req.ReturnWordTimings,
		TimingFormat:      req.TimingFormat,
		TimingMethod:      req.TimingMethod,
	}

	r.jobs.Create(jobID)

	err := r.pool.Submit(job)
	if err != nil {
		// Roll the ledger entry into a terminal state so it does not
		// linger as a permanently queued ghost.
		_ = r.jobs.Fail(jobID, err.Error())

		return nil, fmt.Errorf("job rejected: %w", err)
	}

	r.log.Info("Queued synthesis job %s (%d chars, voice %s)", jobID, len(req.Text), reference)

	return marshalReply(map[string]string{
		"job_id": jobID,
		"status": string(core.JobStatusQueued),
	})
}

// validateKey enforces that download keys stay inside the bucket namespace.
func validateKey(key string) error {
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrUnsafeKey
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return ErrUnsafeKey
		}
	}

	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." {
		return ErrUnsafeKey
	}

	return nil
}

func marshalReply(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reply: %w", err)
	}

	return data, nil
}

func errorReply(err error) []byte {
	reply, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return []byte(`{"error": "internal error"}`)
	}

	return reply
}

// NewRequestHeader builds a correlation header for client-originated
// requests.
func NewRequestHeader(workflowID string) events.EventHeader {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}
