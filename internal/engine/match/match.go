// Package match maps transcribed speech onto catalog clips.
//
// The matcher scans an immutable snapshot of the catalog: every trigger
// phrase, plus each clip's recognized-speech text when it is long enough to
// be distinctive. Snapshots are swapped wholesale when the catalog changes,
// so the hot path is lock-free.
package match

import (
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/heckle/internal/catalog"
)

// speechDetectedMinWords is the word count a clip's recognized-speech text
// must exceed before it participates in matching. Short transcriptions match
// far too much ordinary conversation.
const speechDetectedMinWords = 2

var punctRe = regexp.MustCompile(`[^\w\s]+`)

// Normalize prepares text for matching: punctuation stripped, lowercased,
// whitespace collapsed to single spaces.
func Normalize(text string) string {
	text = punctRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Entry is one matchable text in a snapshot.
type Entry struct {
	// ClipID is the clip this entry triggers.
	ClipID uuid.UUID

	// Text is the normalized trigger text.
	Text string

	// AddedAt orders entries for tie-breaking: among equally long matches
	// the most recently added wins.
	AddedAt time.Time
}

// Snapshot is an immutable view of all matchable entries. Build a new one
// and swap it in whenever the catalog changes.
type Snapshot struct {
	entries []Entry
}

// BuildSnapshot assembles a snapshot from catalog contents. phrases and
// clips are expected in insertion order (oldest first), which the snapshot
// preserves so equal AddedAt values still break ties toward the later insert.
func BuildSnapshot(clips []catalog.Clip, phrases []catalog.Phrase) *Snapshot {
	entries := make([]Entry, 0, len(phrases)+len(clips))
	for _, p := range phrases {
		text := Normalize(p.Phrase)
		if text == "" {
			continue
		}
		entries = append(entries, Entry{ClipID: p.ClipID, Text: text, AddedAt: p.CreatedOn})
	}
	for _, c := range clips {
		text := Normalize(c.SpeechDetected)
		if text == "" || len(strings.Fields(text)) <= speechDetectedMinWords {
			continue
		}
		entries = append(entries, Entry{ClipID: c.ID, Text: text, AddedAt: c.CreatedOn})
	}
	return &Snapshot{entries: entries}
}

// Len returns the number of matchable entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Result describes a successful match.
type Result struct {
	// ClipID is the clip to play.
	ClipID uuid.UUID

	// Phrase is the normalized trigger text that matched.
	Phrase string
}

// Matcher holds the current snapshot and answers match queries. It is safe
// for concurrent use; Swap may race freely with Match.
type Matcher struct {
	snap     atomic.Pointer[Snapshot]
	nearMiss *NearMiss
}

// New creates a Matcher with an empty snapshot. nearMiss may be nil to
// disable near-miss diagnostics.
func New(nearMiss *NearMiss) *Matcher {
	m := &Matcher{nearMiss: nearMiss}
	m.snap.Store(&Snapshot{})
	return m
}

// Swap atomically replaces the current snapshot.
func (m *Matcher) Swap(s *Snapshot) {
	if s == nil {
		s = &Snapshot{}
	}
	m.snap.Store(s)
}

// Match tests the transcript against every entry of the current snapshot.
// A match is a substring hit on the normalized text. When several entries
// match, the longest trigger text wins; equal lengths go to the most
// recently added entry.
//
// On a miss, near-miss diagnostics (when enabled) log phonetically close
// phrases. Diagnostics never produce a match.
func (m *Matcher) Match(transcript string) (Result, bool) {
	text := Normalize(transcript)
	if text == "" {
		return Result{}, false
	}

	snap := m.snap.Load()

	var (
		best  Entry
		found bool
	)
	for _, e := range snap.entries {
		if !strings.Contains(text, e.Text) {
			continue
		}
		if !found || betterMatch(e, best) {
			best = e
			found = true
		}
	}

	if !found {
		if m.nearMiss != nil {
			m.nearMiss.Report(text, snap)
		}
		return Result{}, false
	}

	slog.Debug("phrase matched", "clip", best.ClipID, "phrase", best.Text)
	return Result{ClipID: best.ClipID, Phrase: best.Text}, true
}

// betterMatch reports whether candidate e beats the current best: longer
// trigger text first, then the more recently added entry. Entries appearing
// later in the snapshot win exact AddedAt ties because the scan replaces on
// equality here.
func betterMatch(e, best Entry) bool {
	if len(e.Text) != len(best.Text) {
		return len(e.Text) > len(best.Text)
	}
	return !e.AddedAt.Before(best.AddedAt)
}
