package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	wavutil "github.com/book-expert/voiceclone-service/internal/audio"
	"github.com/book-expert/voiceclone-service/internal/captions"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/ledger"
	"github.com/book-expert/voiceclone-service/internal/voices"
)

// Artifact key layout.
const (
	audioKeyFormat  = "output/%s.wav"
	timingKeyFormat = "timings/%s.%s"
)

const jobTimeout = 10 * time.Minute

// ErrQueueFull is returned by Submit when the pool's queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// Pool executes synthesis jobs on a fixed number of workers fed from a
// bounded queue. Once a job is accepted it runs to a terminal ledger state;
// there is no cancellation of individual jobs.
type Pool struct {
	queue         chan core.SynthesisJob
	workers       int
	jobs          *ledger.Ledger
	library       *voices.Library
	synthesizer   core.SpeechSynthesizer
	estimators    map[string]core.TimingEstimator
	defaultMethod string
	artifacts     core.ObjectStore
	signedTTL     time.Duration
	log           *logger.Logger
	wg            sync.WaitGroup
}

// PoolConfig wires a Pool.
type PoolConfig struct {
	QueueCapacity int
	Workers       int
	Jobs          *ledger.Ledger
	Library       *voices.Library
	Synthesizer   core.SpeechSynthesizer
	Estimators    map[string]core.TimingEstimator
	DefaultMethod string
	Artifacts     core.ObjectStore
	SignedTTL     time.Duration
}

// NewPool creates a Pool. Start must be called before Submit will make
// progress.
func NewPool(cfg PoolConfig, log *logger.Logger) *Pool {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	return &Pool{
		queue:         make(chan core.SynthesisJob, cfg.QueueCapacity),
		workers:       cfg.Workers,
		jobs:          cfg.Jobs,
		library:       cfg.Library,
		synthesizer:   cfg.Synthesizer,
		estimators:    cfg.Estimators,
		defaultMethod: cfg.DefaultMethod,
		artifacts:     cfg.Artifacts,
		signedTTL:     cfg.SignedTTL,
		log:           log,
		wg:            sync.WaitGroup{},
	}
}

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job core.SynthesisJob) error {
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker goroutines. They exit when ctx is canceled;
// queued-but-unstarted jobs are marked failed so clients are not left
// polling a permanently queued job.
func (p *Pool) Start(ctx context.Context) {
	for workerID := range p.workers {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.workLoop(ctx, workerID)
		}()
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			p.drainQueue()

			return
		case job := <-p.queue:
			p.runJob(ctx, workerID, job)
		}
	}
}

func (p *Pool) drainQueue() {
	for {
		select {
		case job := <-p.queue:
			_ = p.jobs.Fail(job.JobID, "service shutting down before job started")
		default:
			return
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID int, job core.SynthesisJob) {
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	started := time.Now()

	err := p.jobs.MarkProcessing(job.JobID)
	if err != nil {
		p.log.Error("Worker %d could not claim job %s: %v", workerID, job.JobID, err)

		return
	}

	result, err := p.execute(jobCtx, job)
	if err != nil {
		p.log.Error("Job %s failed after %s: %v", job.JobID, time.Since(started).Round(time.Millisecond), err)

		failErr := p.jobs.Fail(job.JobID, err.Error())
		if failErr != nil {
			p.log.Error("Could not record failure for job %s: %v", job.JobID, failErr)
		}

		return
	}

	err = p.jobs.Complete(job.JobID, result)
	if err != nil {
		p.log.Error("Could not record completion for job %s: %v", job.JobID, err)

		return
	}

	p.log.Info(
		"Job %s completed in %s (audio %s, %d timing files)",
		job.JobID,
		time.Since(started).Round(time.Millisecond),
		result.AudioKey,
		len(result.TimingFiles),
	)
}

// execute runs the synthesis pipeline for one job. Steps are strictly
// sequential; the first failure aborts the job.
func (p *Pool) execute(ctx context.Context, job core.SynthesisJob) (*core.SynthesisResult, error) {
	trimmedWAV, referenceName, err := p.resolveReference(ctx, job)
	if err != nil {
		return nil, err
	}

	err = p.synthesizer.EnsureReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("synthesis engine unavailable: %w", err)
	}

	synthesizedWAV, err := p.synthesizer.Synthesize(ctx, core.SynthesisParams{
		Text:          job.Text,
		ReferenceWAV:  trimmedWAV,
		ReferenceName: referenceName,
		Speed:         job.Speed,
		Seed:          job.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	audioKey := fmt.Sprintf(audioKeyFormat, job.JobID)

	err = p.artifacts.Upload(ctx, audioKey, synthesizedWAV)
	if err != nil {
		return nil, fmt.Errorf("failed to store synthesized audio: %w", err)
	}

	result := &core.SynthesisResult{
		AudioURL:    p.signedOrKey(audioKey),
		AudioKey:    audioKey,
		Duration:    p.measureDuration(job.JobID, synthesizedWAV),
		TimingFiles: nil,
		WordTimings: nil,
	}

	if job.ReturnWordTimings {
		err = p.attachTimings(ctx, job, synthesizedWAV, result)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// resolveReference fetches and bounds the voice reference clip. An empty
// reference is valid: the job proceeds without one and the synthesis engine
// falls back to its built-in default voice.
func (p *Pool) resolveReference(ctx context.Context, job core.SynthesisJob) ([]byte, string, error) {
	if job.VoiceReference == "" {
		return nil, "", nil
	}

	referenceWAV, referenceName, err := p.library.Resolve(ctx, job.VoiceReference)
	if err != nil {
		return nil, "", fmt.Errorf("voice reference resolution failed: %w", err)
	}

	trimmedWAV, trimmed, err := wavutil.TrimReference(referenceWAV)
	if err != nil {
		return nil, "", fmt.Errorf("reference audio is not usable: %w", err)
	}

	if trimmed {
		p.log.Info("Job %s: trimmed long reference clip %s", job.JobID, referenceName)
	}

	return trimmedWAV, referenceName, nil
}

// attachTimings estimates word timings, renders the requested caption format
// and uploads it alongside the audio.
func (p *Pool) attachTimings(
	ctx context.Context,
	job core.SynthesisJob,
	synthesizedWAV []byte,
	result *core.SynthesisResult,
) error {
	estimator := p.pickEstimator(job.TimingMethod)
	if estimator == nil {
		return errors.New("no timing estimator configured")
	}

	words, err := estimator.Estimate(ctx, synthesizedWAV, job.Text, job.Speed)
	if err != nil {
		return fmt.Errorf("word timing estimation failed: %w", err)
	}

	format := captions.ParseFormat(job.TimingFormat)
	rendered := captions.Render(words, format, job.JobID)

	timingKey := fmt.Sprintf(timingKeyFormat, job.JobID, format)

	err = p.artifacts.Upload(ctx, timingKey, []byte(rendered))
	if err != nil {
		return fmt.Errorf("failed to store timing file: %w", err)
	}

	result.WordTimings = words
	result.TimingFiles = map[string]string{
		string(format): p.signedOrKey(timingKey),
	}

	return nil
}

// pickEstimator selects the timing estimator for a job, falling back to the
// configured default and then to any registered estimator.
func (p *Pool) pickEstimator(method string) core.TimingEstimator {
	if estimator, ok := p.estimators[method]; ok {
		return estimator
	}

	if estimator, ok := p.estimators[p.defaultMethod]; ok {
		return estimator
	}

	for _, estimator := range p.estimators {
		return estimator
	}

	return nil
}

// signedOrKey returns a signed retrieval reference for a key, or the bare
// key when signing fails. Retrieval still works through the download
// endpoint either way.
func (p *Pool) signedOrKey(key string) string {
	signed, err := p.artifacts.SignedURL(key, p.signedTTL)
	if err != nil {
		p.log.Warn("Could not sign reference for %s: %v", key, err)

		return key
	}

	return signed
}

func (p *Pool) measureDuration(jobID string, synthesizedWAV []byte) float64 {
	seconds, err := wavutil.Duration(synthesizedWAV)
	if err != nil {
		p.log.Warn("Job %s: could not measure output duration: %v", jobID, err)

		return 0
	}

	return seconds
}
