package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dermashare/backend/pkg/logger"
)

// Note is one entry in an image's append-only thread, persisted as a
// numbered JSON sidecar next to the image base key.
type Note struct {
	Email string    `json:"email"`
	Note  string    `json:"note"`
	Date  time.Time `json:"date"`
}

// NoteManager maintains per-image note threads, mirroring every append to
// the reciprocal base key so both parties of a shared image see the same
// numbered thread.
type NoteManager struct {
	store ObjectStore
	locks *keyedMutex
}

func NewNoteManager(store ObjectStore) *NoteManager {
	return &NoteManager{store: store, locks: newKeyedMutex()}
}

// FetchThread returns an image's notes ordered by sidecar key ascending.
func (m *NoteManager) FetchThread(ctx context.Context, imageKey string) ([]Note, error) {
	if !IsImageKey(imageKey) {
		return nil, fmt.Errorf("%w: %q is not an image key", ErrValidation, imageKey)
	}

	keys, err := m.store.List(ctx, NoteListPrefix(imageKey))
	if err != nil {
		return nil, fmt.Errorf("listing notes for %s: %w", imageKey, err)
	}
	sort.Strings(keys)

	notes := make([]Note, 0, len(keys))
	for _, key := range keys {
		if _, ok := ParseNoteIndex(key); !ok {
			continue
		}
		data, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetching note %s: %w", key, err)
		}
		var note Note
		if err := json.Unmarshal(data, &note); err != nil {
			return nil, fmt.Errorf("parsing note %s: %w", key, err)
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// AppendNote allocates the next note number for the image's base key and
// writes the note there and at the reciprocal base key with the same number.
// Appends to the same base are serialized in-process; concurrent writers in
// other processes can still race the max+1 allocation, a known gap of the
// numbering scheme.
func (m *NoteManager) AppendNote(ctx context.Context, imageKey, authorEmail, text string) (*Note, error) {
	if authorEmail == "" || text == "" {
		return nil, fmt.Errorf("%w: author email and note text are required", ErrValidation)
	}
	if !IsImageKey(imageKey) {
		return nil, fmt.Errorf("%w: %q is not an image key", ErrValidation, imageKey)
	}

	base := BaseKey(imageKey)
	unlock := m.locks.Lock(base)
	defer unlock()

	existing, err := m.store.List(ctx, base+".note")
	if err != nil {
		return nil, fmt.Errorf("listing notes for %s: %w", imageKey, err)
	}
	next := NextNoteIndex(existing)

	note := Note{Email: authorEmail, Note: text, Date: time.Now().UTC()}
	payload, err := json.Marshal(note)
	if err != nil {
		return nil, err
	}

	noteKey := NoteKey(base, next)
	if err := m.store.Put(ctx, noteKey, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return nil, fmt.Errorf("writing note %s: %w", noteKey, err)
	}

	if reciprocalBase, ok := Reciprocal(base); ok {
		mirrorKey := NoteKey(reciprocalBase, next)
		if err := m.store.Put(ctx, mirrorKey, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
			logger.Error("note_mirror_write_failed", err, map[string]interface{}{
				"note_key":   noteKey,
				"mirror_key": mirrorKey,
			})
			return &note, &PartialError{
				Op:    "append note",
				Total: 2,
				Failures: []StepFailure{
					{Key: mirrorKey, Step: "mirror write", Err: err},
				},
			}
		}
	}

	return &note, nil
}
