package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
)

// GCSStore persists ledger state as a single JSON object in a Google
// Cloud Storage bucket - the remote document-store backend for sessions
// that roam across devices. GCS object writes only become visible on a
// successful finalize, so the atomic-save contract holds. When multiple
// sessions share one object, last writer wins; that is an accepted
// limitation, not a serializability guarantee.
type GCSStore struct {
	bucket string
	object string
}

// NewGCSStore creates a store writing gs://bucket/object. It assumes
// Application Default Credentials are configured.
func NewGCSStore(bucket, object string) *GCSStore {
	return &GCSStore{bucket: bucket, object: object}
}

// Load implements ledger.Store.
func (g *GCSStore) Load(ctx context.Context) (*ledger.State, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, &Error{Backend: "gcs", Op: "create client", Err: err}
	}
	defer client.Close()

	r, err := client.Bucket(g.bucket).Object(g.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Backend: "gcs", Op: "open object", Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Backend: "gcs", Op: "read object", Err: err}
	}

	var state ledger.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &Error{Backend: "gcs", Op: "decode", Err: err}
	}
	return normalize(&state), nil
}

// Save implements ledger.Store.
func (g *GCSStore) Save(ctx context.Context, state *ledger.State) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return &Error{Backend: "gcs", Op: "create client", Err: err}
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := client.Bucket(g.bucket).Object(g.object).NewWriter(ctx)
	w.ContentType = "application/json"

	if err := json.NewEncoder(w).Encode(state); err != nil {
		_ = w.Close()
		return &Error{Backend: "gcs", Op: "encode", Err: err}
	}
	if err := w.Close(); err != nil {
		return &Error{Backend: "gcs", Op: "finalize upload", Err: err}
	}
	return nil
}

var _ ledger.Store = (*GCSStore)(nil)
