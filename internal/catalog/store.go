package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface for clips and phrases.
//
// The engine reads through ListClips/ListPhrases when building its matcher
// snapshot and through RandomClip for the periodic random trigger; the
// management API uses the CRUD operations. Implementations must be safe for
// concurrent use.
type Store interface {
	// ListClips returns all clips ordered by creation time, oldest first.
	ListClips(ctx context.Context) ([]Clip, error)

	// ListPhrases returns all phrases ordered by creation time, oldest first.
	ListPhrases(ctx context.Context) ([]Phrase, error)

	// GetClip returns the clip with the given id, or ErrNotFound.
	GetClip(ctx context.Context, id uuid.UUID) (*Clip, error)

	// RandomClip returns a uniformly random clip, or ErrNotFound when the
	// catalog is empty.
	RandomClip(ctx context.Context) (*Clip, error)

	// MarkPlayed increments the clip's play counter and sets its last-played
	// time to now. Called only on successful playback completion.
	MarkPlayed(ctx context.Context, id uuid.UUID) error

	// LastPlayTime returns the most recent last-played time across all clips.
	// An empty catalog returns the zero time.
	LastPlayTime(ctx context.Context) (time.Time, error)

	// AddClip inserts a new clip. The clip's CreatedOn and LastPlayed are set
	// by the store.
	AddClip(ctx context.Context, clip *Clip) error

	// UpdateClip replaces the mutable metadata of an existing clip (title,
	// description, speech_detected). Returns ErrNotFound when absent.
	UpdateClip(ctx context.Context, clip *Clip) error

	// RemoveClip deletes a clip and all of its phrases. Removing a
	// non-existent clip is not an error.
	RemoveClip(ctx context.Context, id uuid.UUID) error

	// AddPhrase inserts a trigger phrase for a clip. The text is normalized
	// (trimmed, lowercased) before storage.
	AddPhrase(ctx context.Context, phrase *Phrase) error

	// PhrasesForClip returns the phrases attached to one clip, oldest first.
	PhrasesForClip(ctx context.Context, clipID uuid.UUID) ([]Phrase, error)

	// RemovePhrase deletes a phrase. Removing a non-existent phrase is not
	// an error.
	RemovePhrase(ctx context.Context, id uuid.UUID) error
}
