// Package synth provides the HTTP client for the F5-TTS synthesis sidecar.
//
// The sidecar loads model weights lazily, so the client gates all synthesis
// behind an explicit readiness check. It also papers over a deployment
// variance in the sidecar API: depending on build, the reference clip is
// accepted either as a server-side path ("ref_file") or as inline base64
// ("ref_audio"). The client discovers the accepted shape at runtime and
// remembers it.
package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// API endpoints.
const (
	apiSynthesize = "/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Model defaults. These match the sidecar's tuned operating point and are
// sent explicitly so a sidecar redeploy cannot silently change them.
const (
	DefaultNFEStep     = 32
	DefaultCFGStrength = 2.0
	DefaultSeed        = 42
)

const (
	readyCheckRetries = 3
	readyCheckBackoff = 2 * time.Second
)

// readiness is the lifecycle of the sidecar model as observed by this client.
type readiness int

const (
	stateUninitialized readiness = iota
	stateReady
	stateFailed
)

// referenceShape identifies which request field the sidecar accepts for the
// reference clip.
type referenceShape int

const (
	shapeUnknown referenceShape = iota
	shapeRefFile
	shapeRefAudio
)

// Sentinel errors.
var (
	ErrTextEmpty       = errors.New("synthesis text cannot be empty")
	ErrEmptyAudio      = errors.New("synthesis service returned empty audio")
	ErrServiceNotReady = errors.New("synthesis service is not ready")
)

// Client talks to the F5-TTS synthesis sidecar over HTTP.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	log         *logger.Logger
	nfeStep     int
	cfgStrength float64

	mu      sync.Mutex
	state   readiness
	lastErr error
	shape   referenceShape
}

// synthesisRequest is the sidecar's JSON payload. Exactly one of RefFile and
// RefAudio is populated per request, depending on the discovered shape.
type synthesisRequest struct {
	Text        string  `json:"text"`
	RefFile     string  `json:"ref_file,omitempty"`
	RefAudio    string  `json:"ref_audio,omitempty"`
	Speed       float64 `json:"speed"`
	Seed        int64   `json:"seed"`
	NFEStep     int     `json:"nfe_step"`
	CFGStrength float64 `json:"cfg_strength"`
}

// errorResponse is the sidecar's structured error body.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// New creates a synthesis client for the sidecar at baseURL.
func New(baseURL string, timeout time.Duration, nfeStep int, cfgStrength float64, log *logger.Logger) *Client {
	if nfeStep <= 0 {
		nfeStep = DefaultNFEStep
	}

	if cfgStrength <= 0 {
		cfgStrength = DefaultCFGStrength
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:         log,
		nfeStep:     nfeStep,
		cfgStrength: cfgStrength,
		state:       stateUninitialized,
	}
}

// EnsureReady blocks until the sidecar reports healthy. Concurrent callers
// serialize on the readiness check; once the sidecar has been observed
// healthy, subsequent calls return immediately. A failed check is retried on
// the next call rather than latched, since the sidecar may still be loading
// weights.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateReady {
		return nil
	}

	var lastErr error

	for attempt := 1; attempt <= readyCheckRetries; attempt++ {
		lastErr = c.healthCheck(ctx)
		if lastErr == nil {
			c.state = stateReady
			c.log.Info("Synthesis service at %s is ready", c.baseURL)

			return nil
		}

		c.log.Warn(
			"Synthesis service readiness check %d/%d failed: %v",
			attempt,
			readyCheckRetries,
			lastErr,
		)

		if attempt < readyCheckRetries {
			select {
			case <-ctx.Done():
				c.state = stateFailed
				c.lastErr = ctx.Err()

				return fmt.Errorf("readiness wait canceled: %w", ctx.Err())
			case <-time.After(readyCheckBackoff):
			}
		}
	}

	c.state = stateFailed
	c.lastErr = lastErr

	return fmt.Errorf("%w: %w", ErrServiceNotReady, lastErr)
}

// Synthesize generates speech for the given text conditioned on the
// reference clip and returns WAV audio.
func (c *Client) Synthesize(ctx context.Context, params core.SynthesisParams) ([]byte, error) {
	if strings.TrimSpace(params.Text) == "" {
		return nil, ErrTextEmpty
	}

	shape := c.preferredShape()

	audioData, err := c.synthesizeWithShape(ctx, params, shape)
	if err == nil {
		return audioData, nil
	}

	// An unknown-parameter rejection means the sidecar wants the other
	// reference shape. Retry once with the alternative and remember it.
	if shape != shapeRefAudio && isUnknownParameterError(err) {
		c.log.Warn(
			"Synthesis service rejected ref_file parameter, retrying with inline reference audio: %v",
			err,
		)

		audioData, retryErr := c.synthesizeWithShape(ctx, params, shapeRefAudio)
		if retryErr == nil {
			c.rememberShape(shapeRefAudio)

			return audioData, nil
		}

		return nil, retryErr
	}

	return nil, err
}

func (c *Client) preferredShape() referenceShape {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shape == shapeUnknown {
		return shapeRefFile
	}

	return c.shape
}

func (c *Client) rememberShape(shape referenceShape) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shape = shape
}

func (c *Client) synthesizeWithShape(
	ctx context.Context,
	params core.SynthesisParams,
	shape referenceShape,
) ([]byte, error) {
	req := synthesisRequest{
		Text:        params.Text,
		Speed:       params.Speed,
		Seed:        params.Seed,
		NFEStep:     c.nfeStep,
		CFGStrength: c.cfgStrength,
	}

	if req.Speed <= 0 {
		req.Speed = 1.0
	}

	if req.Seed == 0 {
		req.Seed = DefaultSeed
	}

	// With no reference clip, both fields stay unset and the sidecar
	// synthesizes with its built-in default voice.
	if len(params.ReferenceWAV) > 0 {
		switch shape {
		case shapeRefAudio:
			req.RefAudio = base64.StdEncoding.EncodeToString(params.ReferenceWAV)
		default:
			refPath, cleanup, err := c.stageReferenceFile(params)
			if err != nil {
				return nil, err
			}
			defer cleanup()

			req.RefFile = refPath
		}
	}

	audioData, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}

	// Only a request that actually carried a reference proves the shape.
	if shape == shapeRefFile && len(params.ReferenceWAV) > 0 {
		c.rememberShape(shapeRefFile)
	}

	return audioData, nil
}

// stageReferenceFile writes the reference clip to a temp file so the sidecar
// can read it by path. Only valid when the sidecar shares a filesystem with
// this process, which is the default deployment.
func (c *Client) stageReferenceFile(params core.SynthesisParams) (string, func(), error) {
	dir, err := os.MkdirTemp("", "voiceclone-ref-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create reference temp dir: %w", err)
	}

	name := params.ReferenceName
	if name == "" {
		name = "reference.wav"
	}

	refPath := filepath.Join(dir, filepath.Base(name))

	err = os.WriteFile(refPath, params.ReferenceWAV, 0o600)
	if err != nil {
		_ = os.RemoveAll(dir)

		return "", nil, fmt.Errorf("failed to stage reference file: %w", err)
	}

	cleanup := func() {
		_ = os.RemoveAll(dir)
	}

	return refPath, cleanup, nil
}

func (c *Client) post(ctx context.Context, req synthesisRequest) ([]byte, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to reach synthesis service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func (c *Client) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiHealth,
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the sidecar,
// falling back to the raw body so diagnostics survive non-JSON failures.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp errorResponse

	err := json.Unmarshal(body, &errResp)
	if err == nil && errResp.Detail != "" {
		return fmt.Errorf(
			"synthesis service error (%s): %s (code: %s)",
			resp.Status,
			errResp.Detail,
			errResp.ErrorCode,
		)
	}

	return fmt.Errorf(
		"synthesis service returned non-OK status: %s, body: %s",
		resp.Status,
		string(body),
	)
}

// isUnknownParameterError reports whether the sidecar rejected the request
// because it does not recognize a field, which signals the other reference
// shape should be used.
func isUnknownParameterError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "unexpected keyword") ||
		strings.Contains(msg, "unknown parameter") ||
		strings.Contains(msg, "unknown field") ||
		strings.Contains(msg, "ref_file")
}
