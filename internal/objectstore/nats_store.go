// Package objectstore provides a NATS-based implementation of the ObjectStore interface.
package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/voiceclone-service/internal/core"
)

// Signed reference errors.
var (
	ErrSignedURLExpired   = errors.New("signed reference expired")
	ErrSignedURLBadSig    = errors.New("signed reference has an invalid signature")
	ErrSignedURLMalformed = errors.New("malformed signed reference")
)

const signedScheme = "natsobj"

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
	secret           []byte
	now              func() time.Time
}

// New creates and initializes a new NatsObjectStore. The secret, when
// non-empty, is used to sign retrieval references issued by SignedURL.
func New(jetstreamContext nats.JetStreamContext, bucketName, secret string) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
		secret:           []byte(secret),
		now:              time.Now,
	}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, core.ErrObjectNotFound)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Exists reports whether an object with the given key is present.
func (n *NatsObjectStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := n.store.GetInfo(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", key, n.bucket, err)
	}

	return true, nil
}

// List enumerates objects whose key starts with the given prefix. An empty
// bucket yields an empty slice, not an error.
func (n *NatsObjectStore) List(_ context.Context, prefix string) ([]core.ObjectInfo, error) {
	infos, err := n.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return []core.ObjectInfo{}, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	entries := make([]core.ObjectInfo, 0, len(infos))

	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}

		entries = append(entries, core.ObjectInfo{
			Key:          info.Name,
			Size:         int64(info.Size),
			LastModified: info.ModTime,
		})
	}

	return entries, nil
}

// SignedURL returns a time-limited retrieval reference of the form
// natsobj://<bucket>/<key>?exp=<unix>&sig=<hex>. The signature covers the
// bucket, key and expiry; the download endpoint accepts these references and
// verifies them with ParseSignedURL. With no secret configured the reference
// is issued unsigned.
func (n *NatsObjectStore) SignedURL(key string, ttl time.Duration) (string, error) {
	base := fmt.Sprintf("%s://%s/%s", signedScheme, n.bucket, key)

	if len(n.secret) == 0 {
		return base, nil
	}

	expiry := n.now().Add(ttl).Unix()
	sig := sign(n.secret, n.bucket, key, expiry)

	return fmt.Sprintf("%s?exp=%d&sig=%s", base, expiry, sig), nil
}

// ParseSignedURL validates a reference produced by SignedURL and returns the
// embedded object key. References without a signature are accepted only when
// no secret is configured.
func (n *NatsObjectStore) ParseSignedURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != signedScheme {
		return "", ErrSignedURLMalformed
	}

	key := strings.TrimPrefix(parsed.Path, "/")
	if parsed.Host != n.bucket || key == "" {
		return "", ErrSignedURLMalformed
	}

	if len(n.secret) == 0 {
		return key, nil
	}

	expiry, err := strconv.ParseInt(parsed.Query().Get("exp"), 10, 64)
	if err != nil {
		return "", ErrSignedURLMalformed
	}

	if n.now().Unix() > expiry {
		return "", ErrSignedURLExpired
	}

	expected := sign(n.secret, n.bucket, key, expiry)
	if !hmac.Equal([]byte(expected), []byte(parsed.Query().Get("sig"))) {
		return "", ErrSignedURLBadSig
	}

	return key, nil
}

func sign(secret []byte, bucket, key string, expiry int64) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s/%s@%d", bucket, key, expiry)

	return hex.EncodeToString(mac.Sum(nil))
}
