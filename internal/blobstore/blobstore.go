// Package blobstore offloads oversized operationData/undoData payloads to
// object storage, keeping the operation log's JSON columns small. It
// enriches §3's "opaque key/value map" by letting a tracked call's payload
// exceed what anyone would want to inline in Postgres, while the core
// oplog/undo packages never know the difference: they still see an opaque
// json.RawMessage, now just a reference instead of the literal bytes.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/northstack/katalyst/internal/config"
	"github.com/northstack/katalyst/pkg/minio"
)

// reference is what a blob-backed payload is replaced with inline.
type reference struct {
	BlobRef string `json:"$blobRef"`
	Bucket  string `json:"bucket"`
	Size    int    `json:"size"`
}

// Store offloads payloads over a configured threshold to object storage and
// transparently resolves references back to their original bytes.
type Store struct {
	client    *minio.Client
	bucket    string
	threshold int
	enabled   bool
}

// New wires a blobstore.Store around an already-configured minio.Client.
// When cfg.Enabled is false, Offload is a pass-through and Resolve never
// sees a reference to resolve.
func New(client *minio.Client, cfg config.BlobConfig) *Store {
	return &Store{client: client, bucket: cfg.Bucket, threshold: cfg.ThresholdBytes, enabled: cfg.Enabled}
}

// MinioConfigFrom adapts the subset of config.BlobConfig relevant to
// dialing minio.NewClient.
func MinioConfigFrom(cfg config.BlobConfig) *minio.Config {
	return &minio.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
	}
}

// EnsureBucket creates the blob bucket if it does not already exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	return s.client.CreateBucket(ctx, s.bucket, false)
}

// Offload replaces payload with a reference if it exceeds the configured
// threshold, uploading the original bytes under a fresh key. Payloads at or
// under the threshold, or when offload is disabled, pass through unchanged.
func (s *Store) Offload(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if s == nil || !s.enabled || len(payload) <= s.threshold {
		return payload, nil
	}

	key := uuid.NewString() + ".json"
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return nil, fmt.Errorf("blobstore: failed to offload payload: %w", err)
	}

	ref := reference{BlobRef: key, Bucket: s.bucket, Size: len(payload)}
	return json.Marshal(ref)
}

// Resolve returns payload's original bytes, fetching them from object
// storage if payload is a blob reference, or returning payload unchanged
// otherwise.
func (s *Store) Resolve(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if s == nil || !s.enabled || len(payload) == 0 {
		return payload, nil
	}

	var ref reference
	if err := json.Unmarshal(payload, &ref); err != nil || ref.BlobRef == "" {
		return payload, nil
	}

	obj, _, err := s.client.GetObject(ctx, ref.Bucket, ref.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("blobstore: failed to resolve blob %s: %w", ref.BlobRef, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("blobstore: failed to read blob %s: %w", ref.BlobRef, err)
	}
	return buf.Bytes(), nil
}
