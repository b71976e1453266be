package imaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/dermashare/backend/pkg/logger"
)

// Sharer copies selected images, and their note threads, between user
// namespaces. Each image lands at symmetric paths on both sides:
// {to}/{from}/{folder}/{file} for the recipient and {from}/{to}/{folder}/
// {file} as the sender's mirrored record.
type Sharer struct {
	store ObjectStore
	locks *keyedMutex
}

func NewSharer(store ObjectStore) *Sharer {
	return &Sharer{store: store, locks: newKeyedMutex()}
}

// Share runs the dual-write protocol for every selected key. The batch is
// best-effort, not atomic: a failing image does not roll back earlier
// copies, and the returned PartialError names exactly which steps failed.
// Batches for the same (from, to) pair are serialized in-process.
func (s *Sharer) Share(ctx context.Context, fromEmail, toEmail string, imageKeys []string, targetFolder string) error {
	if fromEmail == "" || toEmail == "" {
		return fmt.Errorf("%w: sender and recipient emails are required", ErrValidation)
	}
	if targetFolder == "" {
		return fmt.Errorf("%w: target folder name is required", ErrValidation)
	}
	if len(imageKeys) == 0 {
		return fmt.Errorf("%w: no images selected", ErrValidation)
	}

	unlock := s.locks.Lock(fromEmail + "->" + toEmail)
	defer unlock()

	recipientPrefix := toEmail + "/" + fromEmail + "/" + targetFolder
	senderPrefix := fromEmail + "/" + toEmail + "/" + targetFolder

	var failures []StepFailure
	total := 0

	for _, key := range imageKeys {
		if !IsImageKey(key) {
			total++
			failures = append(failures, StepFailure{
				Key: key, Step: "validate", Err: fmt.Errorf("%w: not an image key", ErrValidation),
			})
			continue
		}

		filename := key[strings.LastIndex(key, "/")+1:]

		total++
		if err := s.store.Copy(ctx, key, recipientPrefix+"/"+filename); err != nil {
			failures = append(failures, StepFailure{Key: key, Step: "copy to recipient", Err: err})
			continue
		}

		total++
		if err := s.store.Copy(ctx, key, senderPrefix+"/"+filename); err != nil {
			failures = append(failures, StepFailure{Key: key, Step: "copy to sender mirror", Err: err})
		}

		noteKeys, err := s.store.List(ctx, NoteListPrefix(key))
		if err != nil {
			total++
			failures = append(failures, StepFailure{Key: key, Step: "list notes", Err: err})
			continue
		}
		for _, noteKey := range noteKeys {
			if _, ok := ParseNoteIndex(noteKey); !ok {
				continue
			}
			noteName := noteKey[strings.LastIndex(noteKey, "/")+1:]
			total++
			if err := s.store.Copy(ctx, noteKey, recipientPrefix+"/"+noteName); err != nil {
				failures = append(failures, StepFailure{Key: noteKey, Step: "copy note", Err: err})
			}
		}
	}

	if len(failures) > 0 {
		err := &PartialError{Op: "share", Total: total, Failures: failures}
		logger.Error("share_partial_failure", err, map[string]interface{}{
			"from":   fromEmail,
			"to":     toEmail,
			"folder": targetFolder,
			"failed": len(failures),
			"total":  total,
		})
		return err
	}

	logger.Info("share_completed", map[string]interface{}{
		"from":   fromEmail,
		"to":     toEmail,
		"folder": targetFolder,
		"images": len(imageKeys),
	})
	return nil
}
