package catalog

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory [Store]. It backs tests and makes it possible
// to run the responder without a database (clips are lost on restart).
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	clips   []Clip   // insertion order
	phrases []Phrase // insertion order
	now     func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock replaces the store's time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ListClips returns all clips, oldest first.
func (s *MemoryStore) ListClips(_ context.Context) ([]Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out, nil
}

// ListPhrases returns all phrases, oldest first.
func (s *MemoryStore) ListPhrases(_ context.Context) ([]Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Phrase, len(s.phrases))
	copy(out, s.phrases)
	return out, nil
}

// GetClip returns the clip with the given id, or ErrNotFound.
func (s *MemoryStore) GetClip(_ context.Context, id uuid.UUID) (*Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.clips {
		if s.clips[i].ID == id {
			clip := s.clips[i]
			return &clip, nil
		}
	}
	return nil, ErrNotFound
}

// RandomClip returns a uniformly random clip, or ErrNotFound when empty.
func (s *MemoryStore) RandomClip(_ context.Context) (*Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clips) == 0 {
		return nil, ErrNotFound
	}
	clip := s.clips[rand.IntN(len(s.clips))]
	return &clip, nil
}

// MarkPlayed increments the play counter and advances last-played.
func (s *MemoryStore) MarkPlayed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clips {
		if s.clips[i].ID == id {
			s.clips[i].Plays++
			s.clips[i].LastPlayed = s.now()
			return nil
		}
	}
	return ErrNotFound
}

// LastPlayTime returns the most recent last-played time, or the zero time.
func (s *MemoryStore) LastPlayTime(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for i := range s.clips {
		if s.clips[i].LastPlayed.After(last) {
			last = s.clips[i].LastPlayed
		}
	}
	return last, nil
}

// AddClip inserts a new clip, assigning its timestamps.
func (s *MemoryStore) AddClip(_ context.Context, clip *Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clips {
		if s.clips[i].ID == clip.ID {
			return errors.New("catalog: clip already exists")
		}
	}
	now := s.now()
	clip.CreatedOn = now
	clip.LastPlayed = now
	s.clips = append(s.clips, *clip)
	return nil
}

// UpdateClip replaces the mutable metadata of an existing clip.
func (s *MemoryStore) UpdateClip(_ context.Context, clip *Clip) error {
	if err := clip.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clips {
		if s.clips[i].ID == clip.ID {
			s.clips[i].SpeechDetected = clip.SpeechDetected
			s.clips[i].Title = clip.Title
			s.clips[i].Description = clip.Description
			return nil
		}
	}
	return ErrNotFound
}

// RemoveClip deletes a clip and all of its phrases.
func (s *MemoryStore) RemoveClip(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.clips {
		if s.clips[i].ID == id {
			s.clips = append(s.clips[:i], s.clips[i+1:]...)
			break
		}
	}
	kept := s.phrases[:0]
	for _, p := range s.phrases {
		if p.ClipID != id {
			kept = append(kept, p)
		}
	}
	s.phrases = kept
	return nil
}

// AddPhrase inserts a trigger phrase, normalizing its text first.
func (s *MemoryStore) AddPhrase(_ context.Context, phrase *Phrase) error {
	phrase.Phrase = NormalizePhrase(phrase.Phrase)
	if phrase.Phrase == "" {
		return errors.New("catalog: phrase text must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	phrase.CreatedOn = s.now()
	s.phrases = append(s.phrases, *phrase)
	return nil
}

// PhrasesForClip returns the phrases attached to one clip, oldest first.
func (s *MemoryStore) PhrasesForClip(_ context.Context, clipID uuid.UUID) ([]Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Phrase
	for _, p := range s.phrases {
		if p.ClipID == clipID {
			out = append(out, p)
		}
	}
	return out, nil
}

// RemovePhrase deletes a phrase.
func (s *MemoryStore) RemovePhrase(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.phrases {
		if s.phrases[i].ID == id {
			s.phrases = append(s.phrases[:i], s.phrases[i+1:]...)
			return nil
		}
	}
	return nil
}
