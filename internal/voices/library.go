// Package voices manages the stored voice reference library and resolves
// synthesis references to audio bytes.
//
// Concurrent requests for the same reference are collapsed into a single
// fetch via singleflight, so a burst of jobs against one voice costs one
// store read (or one remote download) instead of N.
package voices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/ttsutils"
)

// Object-store key layout.
const (
	voicePrefix         = "voices/"
	transcriptExtension = ".txt"
)

// Remote fetch policy.
const (
	fetchRetries      = 3
	fetchRetryBackoff = 2 * time.Second
	maxReferenceBytes = 64 << 20
)

// Sentinel errors.
var (
	ErrVoiceNameEmpty  = errors.New("voice name cannot be empty")
	ErrVoiceNotFound   = errors.New("voice not found")
	ErrNotAudioFile    = errors.New("voice file must have an audio extension")
	ErrEmptyVoiceData  = errors.New("voice audio data cannot be empty")
	ErrReferenceEmpty  = errors.New("voice reference cannot be empty")
	ErrRemoteFetchSize = errors.New("remote voice reference exceeds size limit")
)

// Library provides upload, listing and resolution of voice references backed
// by an object store.
type Library struct {
	store      core.ObjectStore
	httpClient *http.Client
	log        *logger.Logger
	group      singleflight.Group
}

// New creates a voice library over the given store.
func New(store core.ObjectStore, httpTimeout time.Duration, log *logger.Logger) *Library {
	return &Library{
		store: store,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
		log:   log,
		group: singleflight.Group{},
	}
}

// Upload stores a named voice reference and, when provided, its transcript
// under a sibling key sharing the voice's stem.
func (l *Library) Upload(ctx context.Context, name string, audio []byte, transcript string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrVoiceNameEmpty
	}

	name = ttsutils.SanitizeFilename(name)
	if !ttsutils.IsValidAudioFile(name) {
		return "", fmt.Errorf("%w: %s", ErrNotAudioFile, name)
	}

	if len(audio) == 0 {
		return "", ErrEmptyVoiceData
	}

	key := voicePrefix + name

	err := l.store.Upload(ctx, key, audio)
	if err != nil {
		return "", fmt.Errorf("failed to store voice %s: %w", name, err)
	}

	if transcript != "" {
		transcriptKey := voicePrefix + ttsutils.StemOf(name) + transcriptExtension

		err = l.store.Upload(ctx, transcriptKey, []byte(transcript))
		if err != nil {
			return "", fmt.Errorf("failed to store transcript for %s: %w", name, err)
		}
	}

	l.log.Info("Stored voice %s (%s)", name, ttsutils.FormatFileSize(int64(len(audio))))

	return key, nil
}

// List returns the stored voices with transcript pairing, sorted by name.
func (l *Library) List(ctx context.Context) ([]core.VoiceInfo, error) {
	objects, err := l.store.List(ctx, voicePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}

	transcripts := make(map[string]bool)

	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, transcriptExtension) {
			transcripts[ttsutils.StemOf(obj.Key)] = true
		}
	}

	voices := make([]core.VoiceInfo, 0, len(objects))

	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, voicePrefix)
		if !ttsutils.IsValidAudioFile(name) {
			continue
		}

		voices = append(voices, core.VoiceInfo{
			Name:          name,
			Size:          obj.Size,
			LastModified:  obj.LastModified,
			HasTranscript: transcripts[ttsutils.StemOf(obj.Key)],
		})
	}

	sort.Slice(voices, func(i, j int) bool {
		return voices[i].Name < voices[j].Name
	})

	return voices, nil
}

// Resolve turns a voice reference into audio bytes and a display name. The
// reference is either an HTTP(S) URL or the name of a stored voice.
// Concurrent resolutions of the same reference share one fetch.
func (l *Library) Resolve(ctx context.Context, reference string) ([]byte, string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, "", ErrReferenceEmpty
	}

	data, err, _ := l.group.Do(reference, func() (any, error) {
		if isRemoteURL(reference) {
			return l.fetchRemote(ctx, reference)
		}

		return l.fetchStored(ctx, reference)
	})
	if err != nil {
		return nil, "", err
	}

	audio, ok := data.([]byte)
	if !ok {
		return nil, "", errors.New("unexpected resolver payload type")
	}

	return audio, referenceName(reference), nil
}

func (l *Library) fetchStored(ctx context.Context, name string) ([]byte, error) {
	key := voicePrefix + ttsutils.SanitizeFilename(name)

	data, err := l.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
		}

		return nil, fmt.Errorf("failed to download voice %s: %w", name, err)
	}

	return data, nil
}

// fetchRemote downloads a reference clip from a URL with bounded retries.
func (l *Library) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= fetchRetries; attempt++ {
		data, err := l.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}

		lastErr = err

		l.log.Warn(
			"Voice reference fetch %d/%d failed for %s: %v",
			attempt,
			fetchRetries,
			url,
			err,
		)

		if attempt < fetchRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("reference fetch canceled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * fetchRetryBackoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to fetch voice reference after %d attempts: %w", fetchRetries, lastErr)
}

func (l *Library) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch body: %w", err)
	}

	if len(data) > maxReferenceBytes {
		return nil, ErrRemoteFetchSize
	}

	if len(data) == 0 {
		return nil, ErrEmptyVoiceData
	}

	return data, nil
}

func isRemoteURL(reference string) bool {
	return strings.HasPrefix(reference, "http://") ||
		strings.HasPrefix(reference, "https://")
}

// referenceName derives a filename-ish display name from a reference.
func referenceName(reference string) string {
	if !isRemoteURL(reference) {
		return ttsutils.SanitizeFilename(reference)
	}

	trimmed := strings.SplitN(reference, "?", 2)[0]

	segments := strings.Split(trimmed, "/")
	last := segments[len(segments)-1]

	if last == "" {
		return "reference.wav"
	}

	return ttsutils.SanitizeFilename(last)
}
