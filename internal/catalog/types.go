// Package catalog holds the persistent model of the clip responder: audio
// clips and the trigger phrases that map speech onto them.
package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store lookups when no row matches.
var ErrNotFound = errors.New("catalog: not found")

// Clip is an audio clip administrators add to the catalog. It is played when
// one of its phrases matches the output of speech-to-text, or when the random
// trigger picks it.
type Clip struct {
	// ID is the unique identifier for the clip.
	ID uuid.UUID

	// CreatedOn is when the clip was added.
	CreatedOn time.Time

	// LastPlayed is the last successful playback completion; equals CreatedOn
	// until the clip is first played.
	LastPlayed time.Time

	// Plays counts successful playback completions.
	Plays int64

	// SpeechDetected is the output of speech-to-text on AudioFile. When it
	// has more than two words it participates in matching alongside the
	// clip's phrases.
	SpeechDetected string

	// AudioFile is the path to the audio file, relative to the data
	// directory.
	AudioFile string

	// OriginalFileName is the file name the clip was uploaded with.
	OriginalFileName string

	// Title is a short human-readable name.
	Title string

	// Description describes the clip for human consumption.
	Description string
}

// Phrase is a trigger phrase associated with a clip. Many phrases may point
// at one clip. Matching is case-insensitive substring; phrase text is
// lowercased on insert.
type Phrase struct {
	// ID is the unique identifier for the phrase.
	ID uuid.UUID

	// ClipID is the clip this phrase triggers.
	ClipID uuid.UUID

	// Phrase is the lowercased trigger text.
	Phrase string

	// CreatedOn is when the phrase was added. Tie-breaking between equally
	// long matches prefers the most recently added phrase.
	CreatedOn time.Time
}

// Validate reports whether the clip has the fields every stored clip needs.
func (c *Clip) Validate() error {
	if c.ID == uuid.Nil {
		return errors.New("catalog: clip id must not be empty")
	}
	if c.AudioFile == "" {
		return errors.New("catalog: clip audio_file must not be empty")
	}
	return nil
}

// NormalizePhrase prepares phrase text for storage: trimmed and lowercased.
func NormalizePhrase(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
