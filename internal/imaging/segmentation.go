package imaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dermashare/backend/pkg/logger"
	"github.com/sethvargo/go-retry"
)

// Processor submits an image key to the external segmentation service. The
// call returns only an acknowledgement; the derived image appears later in
// the processor's own namespace.
type Processor interface {
	Submit(ctx context.Context, imageKey string) error
}

type SegmentationStatus string

const (
	SegmentationDone         SegmentationStatus = "done"
	SegmentationSubmitFailed SegmentationStatus = "submit_failed"
	SegmentationNotReady     SegmentationStatus = "not_ready"
	SegmentationCopyFailed   SegmentationStatus = "copy_failed"
	SegmentationInvalidKey   SegmentationStatus = "invalid_key"
)

// SegmentationResult is the per-image outcome of one batch run.
type SegmentationResult struct {
	Key        string             `json:"key"`
	DerivedKey string             `json:"derivedKey,omitempty"`
	DestKey    string             `json:"destKey,omitempty"`
	Status     SegmentationStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
}

// Segmenter drives the batch workflow: submit every selected key to the
// processor, wait out the settle delay, then poll each expected derived key
// with exponential backoff until it exists or the timeout passes, and copy
// it back into a "-segmented" sibling folder. One image failing never stops
// the rest of the batch.
type Segmenter struct {
	store       ObjectStore
	processor   Processor
	settleDelay time.Duration
	pollTimeout time.Duration
	locks       *keyedMutex
}

func NewSegmenter(store ObjectStore, processor Processor, settleDelay, pollTimeout time.Duration) *Segmenter {
	return &Segmenter{
		store:       store,
		processor:   processor,
		settleDelay: settleDelay,
		pollTimeout: pollTimeout,
		locks:       newKeyedMutex(),
	}
}

// Run processes one batch for a namespace. The returned error is nil when
// every image completed, a PartialError when some steps failed, and a plain
// error only for validation or cancellation.
func (s *Segmenter) Run(ctx context.Context, ns Namespace, imageKeys []string) ([]SegmentationResult, error) {
	if len(imageKeys) == 0 {
		return nil, fmt.Errorf("%w: no images selected", ErrValidation)
	}

	unlock := s.locks.Lock("segment:" + ns.Prefix())
	defer unlock()

	results := make([]SegmentationResult, len(imageKeys))
	submitted := 0

	for i, key := range imageKeys {
		results[i] = SegmentationResult{Key: key}

		derivedKey, err := SegmentationSourceKey(key)
		if err == nil {
			results[i].DestKey, err = SegmentedDestKey(key)
		}
		if err != nil {
			results[i].Status = SegmentationInvalidKey
			results[i].Error = err.Error()
			continue
		}
		results[i].DerivedKey = derivedKey

		if err := s.processor.Submit(ctx, key); err != nil {
			logger.Error("segmentation_submit_failed", err, map[string]interface{}{"key": key})
			results[i].Status = SegmentationSubmitFailed
			results[i].Error = err.Error()
			continue
		}
		submitted++
	}

	if submitted > 0 {
		if err := s.settle(ctx); err != nil {
			return results, err
		}
	}

	for i := range results {
		if results[i].Status != "" {
			continue
		}
		s.reconcile(ctx, &results[i])
	}

	var failures []StepFailure
	for _, r := range results {
		if r.Status == SegmentationDone {
			continue
		}
		failures = append(failures, StepFailure{
			Key:  r.Key,
			Step: string(r.Status),
			Err:  reconcileErr(r),
		})
	}
	if len(failures) > 0 {
		return results, &PartialError{Op: "segmentation", Total: len(results), Failures: failures}
	}
	return results, nil
}

func (s *Segmenter) settle(ctx context.Context) error {
	select {
	case <-time.After(s.settleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcile polls for the derived image and copies it home. Absence after
// the poll window is reported as not_ready, distinct from a copy failure,
// so callers can retry later.
func (s *Segmenter) reconcile(ctx context.Context, result *SegmentationResult) {
	backoff := retry.WithMaxDuration(s.pollTimeout,
		retry.WithCappedDuration(10*time.Second, retry.NewExponential(500*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		exists, err := s.store.DerivedExists(ctx, result.DerivedKey)
		if err != nil {
			return retry.RetryableError(err)
		}
		if !exists {
			return retry.RetryableError(fmt.Errorf("%w: derived image %s absent", ErrNotReady, result.DerivedKey))
		}
		return nil
	})
	if err != nil {
		result.Status = SegmentationNotReady
		result.Error = err.Error()
		logger.Warn("segmentation_not_ready", map[string]interface{}{
			"key":         result.Key,
			"derived_key": result.DerivedKey,
		})
		return
	}

	if err := s.store.CopyDerived(ctx, result.DerivedKey, result.DestKey); err != nil {
		result.Status = SegmentationCopyFailed
		result.Error = err.Error()
		logger.Error("segmentation_copy_failed", err, map[string]interface{}{
			"derived_key": result.DerivedKey,
			"dest_key":    result.DestKey,
		})
		return
	}

	result.Status = SegmentationDone
	logger.Info("segmentation_copied", map[string]interface{}{
		"derived_key": result.DerivedKey,
		"dest_key":    result.DestKey,
	})
}

func reconcileErr(r SegmentationResult) error {
	if r.Status == SegmentationNotReady {
		return fmt.Errorf("%w: %s", ErrNotReady, r.Error)
	}
	return errors.New(r.Error)
}
