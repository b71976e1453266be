package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dermashare/backend/pkg/logger"
)

// ConsentRecord is a patient-signed acknowledgment stored at
// {patientEmail}/consentform.json. A doctor may only view or receive a
// patient's images once this record exists.
type ConsentRecord struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}

// Uploader places images into a namespace and writes consent records.
type Uploader struct {
	store ObjectStore
}

func NewUploader(store ObjectStore) *Uploader {
	return &Uploader{store: store}
}

// Upload writes the file under ns/folder/filename. In a shared namespace
// the object is also written at the reciprocal prefix so both parties see
// it; a failed mirror write is surfaced as a partial failure since the two
// views are then asymmetric.
func (u *Uploader) Upload(ctx context.Context, ns Namespace, folder, filename string, body io.Reader, size int64, contentType string) (string, error) {
	if ns.Owner == "" {
		return "", fmt.Errorf("%w: namespace owner is required", ErrValidation)
	}
	if folder == "" {
		return "", fmt.Errorf("%w: folder name is required", ErrValidation)
	}
	if !IsImageKey(filename) {
		return "", fmt.Errorf("%w: %q is not an image file", ErrValidation, filename)
	}

	key := BuildKey(ns, folder, filename)

	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading upload body: %w", err)
	}
	if size <= 0 {
		size = int64(len(data))
	}

	if err := u.store.Put(ctx, key, bytes.NewReader(data), size, contentType); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	if ns.IsShared() {
		mirrorKey, _ := Reciprocal(key)
		if err := u.store.Put(ctx, mirrorKey, bytes.NewReader(data), size, contentType); err != nil {
			logger.Error("upload_mirror_write_failed", err, map[string]interface{}{
				"key":        key,
				"mirror_key": mirrorKey,
			})
			return key, &PartialError{
				Op:    "upload",
				Total: 2,
				Failures: []StepFailure{
					{Key: mirrorKey, Step: "mirror write", Err: err},
				},
			}
		}
	}

	return key, nil
}

// WriteConsent persists the patient's consent record.
func (u *Uploader) WriteConsent(ctx context.Context, email, name string) (*ConsentRecord, error) {
	if email == "" || name == "" {
		return nil, fmt.Errorf("%w: email and signed name are required", ErrValidation)
	}

	record := ConsentRecord{Name: name, Date: time.Now().UTC()}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	key := ConsentKey(email)
	if err := u.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return nil, fmt.Errorf("writing consent record %s: %w", key, err)
	}
	return &record, nil
}
