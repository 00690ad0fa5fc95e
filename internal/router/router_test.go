package router_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/ledger"
	"github.com/book-expert/voiceclone-service/internal/router"
	"github.com/book-expert/voiceclone-service/internal/voices"
)

// memoryStore is a minimal in-memory core.ObjectStore.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrObjectNotFound, key)
	}

	return data, nil
}

func (s *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = data

	return nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[key]

	return ok, nil
}

func (s *memoryStore) List(_ context.Context, prefix string) ([]core.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]core.ObjectInfo, 0, len(s.objects))

	for key, data := range s.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			infos = append(infos, core.ObjectInfo{
				Key:          key,
				Size:         int64(len(data)),
				LastModified: time.Now(),
			})
		}
	}

	return infos, nil
}

func (s *memoryStore) SignedURL(key string, _ time.Duration) (string, error) {
	return "natsobj://test/" + key, nil
}

// recordingPool captures submitted jobs; optionally rejects them.
type recordingPool struct {
	mu        sync.Mutex
	submitted []core.SynthesisJob
	rejectErr error
}

func (p *recordingPool) Submit(job core.SynthesisJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rejectErr != nil {
		return p.rejectErr
	}

	p.submitted = append(p.submitted, job)

	return nil
}

func (p *recordingPool) jobs() []core.SynthesisJob {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]core.SynthesisJob(nil), p.submitted...)
}

type testHarness struct {
	router        *router.Router
	jobs          *ledger.Ledger
	pool          *recordingPool
	voiceStore    *memoryStore
	artifactStore *memoryStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	log, err := logger.New(t.TempDir(), "router-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	voiceStore := newMemoryStore()
	artifactStore := newMemoryStore()
	jobs := ledger.New(16, time.Minute)
	pool := &recordingPool{}

	routerInstance := router.New(router.Config{
		Jobs:          jobs,
		Library:       voices.New(voiceStore, 5*time.Second, log),
		VoiceStore:    voiceStore,
		ArtifactStore: artifactStore,
		Parsers:       nil,
		Pool:          pool,
		DefaultSpeed:  1.0,
	}, log)

	return &testHarness{
		router:        routerInstance,
		jobs:          jobs,
		pool:          pool,
		voiceStore:    voiceStore,
		artifactStore: artifactStore,
	}
}

func handleJSON(t *testing.T, h *testHarness, request map[string]any) map[string]any {
	t.Helper()

	data, err := json.Marshal(request)
	require.NoError(t, err)

	reply := h.router.Handle(context.Background(), data)

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(reply, &decoded))

	return decoded
}

func TestSynthesisRequestIsQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"text":                "Hello world",
		"local_voice":         "narrator.wav",
		"return_word_timings": true,
		"timing_format":       "srt",
	})

	assert.Equal(t, "QUEUED", reply["status"])

	jobID, ok := reply["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	job, found := h.jobs.Get(jobID)
	require.True(t, found)
	assert.Equal(t, core.JobStatusQueued, job.Status)

	submitted := h.pool.jobs()
	require.Len(t, submitted, 1)
	assert.Equal(t, jobID, submitted[0].JobID)
	assert.Equal(t, "narrator.wav", submitted[0].VoiceReference)
	assert.True(t, submitted[0].ReturnWordTimings)
	assert.Equal(t, "srt", submitted[0].TimingFormat)
	assert.InDelta(t, 1.0, submitted[0].Speed, 0.001)
}

func TestSynthesisRequiresText(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{"local_voice": "narrator.wav"})
	assert.Contains(t, reply["error"], "text is required")
	assert.Empty(t, h.pool.jobs())
}

func TestSynthesisWithoutVoiceUsesDefault(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"text":                "Hello world",
		"return_word_timings": true,
		"timing_format":       "srt",
	})

	require.NotContains(t, reply, "error")
	assert.Equal(t, "QUEUED", reply["status"])

	jobID, ok := reply["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	submitted := h.pool.jobs()
	require.Len(t, submitted, 1)
	assert.Empty(t, submitted[0].VoiceReference)
}

func TestSynthesisQueueFullFailsSynchronously(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.pool.rejectErr = errors.New("job queue is full")

	reply := handleJSON(t, h, map[string]any{
		"text":        "Hello",
		"local_voice": "narrator.wav",
	})

	errMsg, ok := reply["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "queue is full")
}

func TestUploadAndListVoices(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"endpoint":        "upload",
		"voice_name":      "narrator.wav",
		"voice_data":      base64.StdEncoding.EncodeToString([]byte("RIFF")),
		"transcript_data": "hello there",
	})

	assert.Equal(t, "success", reply["status"])
	assert.Equal(t, "voices/narrator.wav", reply["key"])

	listReply := handleJSON(t, h, map[string]any{"endpoint": "list_voices"})
	assert.Equal(t, "success", listReply["status"])
	assert.InDelta(t, 1, listReply["count"], 0.001)

	voicesList, ok := listReply["voices"].([]any)
	require.True(t, ok)
	require.Len(t, voicesList, 1)

	entry, ok := voicesList[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "narrator.wav", entry["name"])
	assert.Equal(t, true, entry["has_transcript"])
}

func TestUploadWithoutAudioMutatesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"endpoint":   "upload",
		"voice_name": "narrator.wav",
	})

	errMsg, ok := reply["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "voice_data or voice_file_url")

	listReply := handleJSON(t, h, map[string]any{"endpoint": "list_voices"})
	assert.InDelta(t, 0, listReply["count"], 0.001)
}

func TestEmptyListVoices(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{"endpoint": "list_voices"})
	assert.Equal(t, "success", reply["status"])
	assert.InDelta(t, 0, reply["count"], 0.001)

	voicesList, ok := reply["voices"].([]any)
	require.True(t, ok)
	assert.Empty(t, voicesList)
}

func TestDownloadArtifact(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	ctx := context.Background()
	require.NoError(t, h.artifactStore.Upload(ctx, "output/job-1.wav", []byte("WAVDATA")))

	reply := handleJSON(t, h, map[string]any{
		"endpoint": "download",
		"key":      "output/job-1.wav",
	})

	assert.Equal(t, "job-1.wav", reply["filename"])
	assert.Equal(t, "audio/wav", reply["content_type"])

	encoded, ok := reply["data"].(string)
	require.True(t, ok)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("WAVDATA"), decoded)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	for _, key := range []string{"../../etc/passwd", "/etc/passwd", "output/../../x"} {
		reply := handleJSON(t, h, map[string]any{
			"endpoint": "download",
			"key":      key,
		})

		errMsg, ok := reply["error"].(string)
		require.True(t, ok, "expected error for key %q", key)
		assert.Contains(t, errMsg, "relative path", "key %q", key)
	}
}

func TestDownloadSignedReferenceWithoutVerifier(t *testing.T) {
	t.Parallel()

	// The harness wires no signed-reference parsers, so any URL-shaped key
	// must be rejected with a meaningful message.
	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"endpoint": "download",
		"key":      "natsobj://artifacts/output/job-1.wav",
	})

	errMsg, ok := reply["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "no verifier accepts")
}

func TestStatusAndResultLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{
		"text":        "Hello",
		"local_voice": "narrator.wav",
	})

	jobID, ok := reply["job_id"].(string)
	require.True(t, ok)

	statusReply := handleJSON(t, h, map[string]any{"endpoint": "status", "job_id": jobID})
	assert.Equal(t, "QUEUED", statusReply["status"])

	resultReply := handleJSON(t, h, map[string]any{"endpoint": "result", "job_id": jobID})
	errMsg, ok := resultReply["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "not completed")

	require.NoError(t, h.jobs.MarkProcessing(jobID))
	require.NoError(t, h.jobs.Complete(jobID, &core.SynthesisResult{
		AudioKey: "output/" + jobID + ".wav",
		Duration: 1.5,
	}))

	resultReply = handleJSON(t, h, map[string]any{"endpoint": "result", "job_id": jobID})
	assert.Equal(t, "COMPLETED", resultReply["status"])

	result, ok := resultReply["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "output/"+jobID+".wav", result["audio_key"])
}

func TestResultUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := handleJSON(t, h, map[string]any{"endpoint": "result", "job_id": "nope"})
	errMsg, ok := reply["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errMsg, "Invalid job_id")
}

func TestUndecodableRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	reply := h.router.Handle(context.Background(), []byte("{not json"))

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(reply, &decoded))
	assert.Contains(t, decoded["error"], "invalid request JSON")
}
