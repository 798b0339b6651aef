package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/heckle/internal/catalog"
)

func newClip(title string) *catalog.Clip {
	return &catalog.Clip{
		ID:        uuid.New(),
		AudioFile: "clips/" + title + ".wav",
		Title:     title,
	}
}

func TestMemoryStore_AddAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := catalog.NewMemoryStore()

	clip := newClip("airhorn")
	if err := s.AddClip(ctx, clip); err != nil {
		t.Fatalf("AddClip: %v", err)
	}
	if clip.CreatedOn.IsZero() || !clip.LastPlayed.Equal(clip.CreatedOn) {
		t.Errorf("timestamps not assigned: created=%v lastPlayed=%v", clip.CreatedOn, clip.LastPlayed)
	}

	got, err := s.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("GetClip: %v", err)
	}
	if got.Title != "airhorn" {
		t.Errorf("Title = %q, want %q", got.Title, "airhorn")
	}

	if _, err := s.GetClip(ctx, uuid.New()); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetClip(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_AddClipValidates(t *testing.T) {
	t.Parallel()
	s := catalog.NewMemoryStore()
	if err := s.AddClip(context.Background(), &catalog.Clip{ID: uuid.New()}); err == nil {
		t.Error("expected validation error for missing audio_file")
	}
}

func TestMemoryStore_MarkPlayed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := catalog.NewMemoryStore()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	clip := newClip("zoinks")
	if err := s.AddClip(ctx, clip); err != nil {
		t.Fatalf("AddClip: %v", err)
	}

	now = base.Add(5 * time.Minute)
	if err := s.MarkPlayed(ctx, clip.ID); err != nil {
		t.Fatalf("MarkPlayed: %v", err)
	}

	got, err := s.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("GetClip: %v", err)
	}
	if got.Plays != 1 {
		t.Errorf("Plays = %d, want 1", got.Plays)
	}
	if !got.LastPlayed.Equal(now) {
		t.Errorf("LastPlayed = %v, want %v", got.LastPlayed, now)
	}

	last, err := s.LastPlayTime(ctx)
	if err != nil {
		t.Fatalf("LastPlayTime: %v", err)
	}
	if !last.Equal(now) {
		t.Errorf("LastPlayTime = %v, want %v", last, now)
	}

	if err := s.MarkPlayed(ctx, uuid.New()); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("MarkPlayed(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_LastPlayTimeEmpty(t *testing.T) {
	t.Parallel()
	last, err := catalog.NewMemoryStore().LastPlayTime(context.Background())
	if err != nil {
		t.Fatalf("LastPlayTime: %v", err)
	}
	if !last.IsZero() {
		t.Errorf("empty catalog LastPlayTime = %v, want zero", last)
	}
}

func TestMemoryStore_RandomClip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := catalog.NewMemoryStore()

	if _, err := s.RandomClip(ctx); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("RandomClip(empty) err = %v, want ErrNotFound", err)
	}

	ids := map[uuid.UUID]bool{}
	for _, title := range []string{"a", "b", "c"} {
		clip := newClip(title)
		if err := s.AddClip(ctx, clip); err != nil {
			t.Fatalf("AddClip: %v", err)
		}
		ids[clip.ID] = true
	}

	for range 20 {
		clip, err := s.RandomClip(ctx)
		if err != nil {
			t.Fatalf("RandomClip: %v", err)
		}
		if !ids[clip.ID] {
			t.Fatalf("RandomClip returned unknown clip %s", clip.ID)
		}
	}
}

func TestMemoryStore_PhraseNormalizationAndCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := catalog.NewMemoryStore()

	clip := newClip("hello")
	if err := s.AddClip(ctx, clip); err != nil {
		t.Fatalf("AddClip: %v", err)
	}

	phrase := &catalog.Phrase{ID: uuid.New(), ClipID: clip.ID, Phrase: "  Hello There  "}
	if err := s.AddPhrase(ctx, phrase); err != nil {
		t.Fatalf("AddPhrase: %v", err)
	}
	if phrase.Phrase != "hello there" {
		t.Errorf("phrase not normalized: %q", phrase.Phrase)
	}

	if err := s.AddPhrase(ctx, &catalog.Phrase{ID: uuid.New(), ClipID: clip.ID, Phrase: "   "}); err == nil {
		t.Error("expected error for blank phrase")
	}

	got, err := s.PhrasesForClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("PhrasesForClip: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("PhrasesForClip: want 1 phrase, got %d", len(got))
	}

	// Removing the clip removes its phrases.
	if err := s.RemoveClip(ctx, clip.ID); err != nil {
		t.Fatalf("RemoveClip: %v", err)
	}
	all, err := s.ListPhrases(ctx)
	if err != nil {
		t.Fatalf("ListPhrases: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("phrases not cascaded on clip removal: %d left", len(all))
	}
}

func TestMemoryStore_ListOrderIsInsertionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := catalog.NewMemoryStore()

	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		if err := s.AddClip(ctx, newClip(title)); err != nil {
			t.Fatalf("AddClip: %v", err)
		}
	}

	clips, err := s.ListClips(ctx)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	for i, want := range titles {
		if clips[i].Title != want {
			t.Errorf("clips[%d].Title = %q, want %q", i, clips[i].Title, want)
		}
	}
}
