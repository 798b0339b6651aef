// Package engine drives the heckling loop: it joins voice channels, segments
// per-speaker audio into utterances, transcribes them, matches trigger
// phrases against the clip catalog, and plays the winning clip back into the
// channel.
//
// One Engine serves the whole process; each joined channel gets its own
// session with its own playback gate, so clips never overlap within a
// channel. Playback is drop-not-queue: a trigger that fires while a clip is
// playing is discarded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/heckle/internal/catalog"
	"github.com/MrWong99/heckle/internal/engine/match"
	"github.com/MrWong99/heckle/internal/engine/playback"
	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/internal/engine/transcribe"
	"github.com/MrWong99/heckle/internal/engine/trigger"
	"github.com/MrWong99/heckle/internal/observe"
	"github.com/MrWong99/heckle/internal/ttscache"
	"github.com/MrWong99/heckle/pkg/audio"
)

// utteranceBuffer is the per-session queue of sealed utterances awaiting
// transcription. Overflow drops the oldest pressure back onto the segmenter.
const utteranceBuffer = 16

// DefaultGreeting is spoken (via the TTS cache) when the bot joins a channel.
const DefaultGreeting = "hello there"

// Config bundles the engine's collaborators. Platform, Store, Gateway,
// Matcher, Limiter, Player, and Metrics are required; Speech is optional and
// disables spoken greetings when nil.
type Config struct {
	Platform audio.Platform
	Store    catalog.Store
	Gateway  *transcribe.Gateway
	Matcher  *match.Matcher
	Limiter  *trigger.Limiter
	Player   *playback.Player
	Metrics  *observe.Metrics

	// Speech synthesizes greetings. Nil disables synthesized greetings.
	Speech *ttscache.Cache

	// GreetingFile is an optional pre-recorded greeting. When the file
	// exists it is played on join instead of synthesizing Greeting.
	GreetingFile string

	// ClipsDir is the directory clip audio files live in; clip records store
	// paths relative to it.
	ClipsDir string

	// Segmenter tunes voice-activity detection. Zero fields use defaults.
	Segmenter segment.Config

	// RandomInterval is the period between random-trigger draws per session.
	// Zero disables random triggers.
	RandomInterval time.Duration

	// Greeting overrides [DefaultGreeting]. Only used when Speech is set.
	Greeting string
}

// Engine owns all live voice sessions. Safe for concurrent use.
type Engine struct {
	cfg      Config
	greeting string

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the per-channel state: the voice connection, the segmenter
// interleaving all speakers, and the exclusive playback gate.
type session struct {
	channelID string
	conn      audio.Connection
	seg       *segment.Segmenter
	gate      trigger.Gate
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	speakerMu sync.Mutex
	speakers  map[string]bool
}

// New validates cfg and creates an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Platform == nil:
		return nil, errors.New("engine: platform is required")
	case cfg.Store == nil:
		return nil, errors.New("engine: store is required")
	case cfg.Gateway == nil:
		return nil, errors.New("engine: transcription gateway is required")
	case cfg.Matcher == nil:
		return nil, errors.New("engine: matcher is required")
	case cfg.Limiter == nil:
		return nil, errors.New("engine: limiter is required")
	case cfg.Player == nil:
		return nil, errors.New("engine: player is required")
	case cfg.Metrics == nil:
		return nil, errors.New("engine: metrics are required")
	}

	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}

	return &Engine{
		cfg:      cfg,
		greeting: greeting,
		sessions: make(map[string]*session),
	}, nil
}

// RefreshCatalog rebuilds the trigger-phrase snapshot from the store. Call it
// once on startup and again whenever clips or phrases change; matching keeps
// using the previous snapshot until the swap.
func (e *Engine) RefreshCatalog(ctx context.Context) error {
	clips, err := e.cfg.Store.ListClips(ctx)
	if err != nil {
		return fmt.Errorf("engine: list clips: %w", err)
	}
	phrases, err := e.cfg.Store.ListPhrases(ctx)
	if err != nil {
		return fmt.Errorf("engine: list phrases: %w", err)
	}

	snap := match.BuildSnapshot(clips, phrases)
	e.cfg.Matcher.Swap(snap)
	slog.Info("trigger catalog refreshed", "clips", len(clips), "phrases", len(phrases), "entries", snap.Len())
	return nil
}

// Join connects to the voice channel and starts its heckling session.
// Joining a channel that already has a session is an error.
func (e *Engine) Join(ctx context.Context, channelID string) error {
	e.mu.Lock()
	if _, ok := e.sessions[channelID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: already joined channel %s", channelID)
	}
	// Reserve the slot before the (slow) connect so concurrent joins of the
	// same channel fail fast.
	e.sessions[channelID] = nil
	e.mu.Unlock()

	conn, err := e.cfg.Platform.Connect(ctx, channelID)
	if err != nil {
		e.mu.Lock()
		delete(e.sessions, channelID)
		e.mu.Unlock()
		return fmt.Errorf("engine: connect to channel %s: %w", channelID, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		channelID: channelID,
		conn:      conn,
		seg:       segment.New(e.cfg.Segmenter, utteranceBuffer),
		cancel:    cancel,
		speakers:  make(map[string]bool),
	}

	e.mu.Lock()
	e.sessions[channelID] = s
	e.mu.Unlock()
	e.cfg.Metrics.ActiveSessions.Add(sctx, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		e.utteranceLoop(sctx, s)
	}()

	if e.cfg.RandomInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			e.randomLoop(sctx, s)
		}()
	}

	conn.OnParticipantChange(func(ev audio.Event) {
		slog.Debug("participant change", "channel", channelID, "event", ev.Type, "user", ev.UserID)
		if ev.Type == audio.EventJoin {
			e.startNewSpeakers(sctx, s)
		}
	})
	e.startNewSpeakers(sctx, s)

	if e.cfg.Speech != nil || e.cfg.GreetingFile != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			e.greet(sctx, s)
		}()
	}

	slog.Info("joined voice channel", "channel", channelID)
	return nil
}

// Leave tears down the session for channelID: cancels its pipeline,
// disconnects from voice, and waits for all session goroutines to finish.
func (e *Engine) Leave(channelID string) error {
	e.mu.Lock()
	s, ok := e.sessions[channelID]
	delete(e.sessions, channelID)
	e.mu.Unlock()
	if !ok || s == nil {
		return fmt.Errorf("engine: not joined to channel %s", channelID)
	}

	s.cancel()
	if err := s.conn.Disconnect(); err != nil {
		slog.Warn("voice disconnect error", "channel", channelID, "err", err)
	}
	s.wg.Wait()
	e.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("left voice channel", "channel", channelID)
	return nil
}

// Channels returns the IDs of all channels with a live session.
func (e *Engine) Channels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.sessions))
	for id, s := range e.sessions {
		if s != nil {
			out = append(out, id)
		}
	}
	return out
}

// Close leaves every joined channel.
func (e *Engine) Close() error {
	for _, id := range e.Channels() {
		if err := e.Leave(id); err != nil {
			slog.Warn("leave during close", "channel", id, "err", err)
		}
	}
	return nil
}

// startNewSpeakers launches a segmenter goroutine for every input stream not
// yet being consumed.
func (e *Engine) startNewSpeakers(ctx context.Context, s *session) {
	for key, in := range s.conn.InputStreams() {
		s.speakerMu.Lock()
		if s.speakers[key] {
			s.speakerMu.Unlock()
			continue
		}
		s.speakers[key] = true
		s.speakerMu.Unlock()

		e.cfg.Metrics.ActiveSpeakers.Add(ctx, 1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer e.cfg.Metrics.ActiveSpeakers.Add(context.Background(), -1)
			s.seg.Consume(ctx, key, in)
			// Consume may stop before the stream closes (session teardown).
			// Keep the producer unblocked until it closes the channel.
			audio.Drain(in)
			s.speakerMu.Lock()
			delete(s.speakers, key)
			s.speakerMu.Unlock()
		}()
	}
}

// utteranceLoop transcribes sealed utterances and fires phrase triggers.
func (e *Engine) utteranceLoop(ctx context.Context, s *session) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.seg.Utterances():
			e.handleUtterance(ctx, s, u)
		}
	}
}

func (e *Engine) handleUtterance(ctx context.Context, s *session, u segment.Utterance) {
	start := time.Now()
	text, err := e.cfg.Gateway.Transcribe(ctx, u)
	e.cfg.Metrics.RecordSTT(ctx, time.Since(start), err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("transcription failed", "channel", s.channelID, "speaker", u.Speaker, "err", err)
		}
		return
	}
	if text == "" {
		return
	}
	slog.Debug("transcript", "channel", s.channelID, "speaker", u.Speaker, "text", text, "audio", u.Duration())

	res, ok := e.cfg.Matcher.Match(text)
	if !ok {
		return
	}
	e.cfg.Metrics.PhraseMatches.Add(ctx, 1)
	slog.Info("trigger phrase matched", "channel", s.channelID, "phrase", res.Phrase, "clip", res.ClipID)

	clip, err := e.cfg.Store.GetClip(ctx, res.ClipID)
	if err != nil {
		slog.Warn("matched clip unavailable", "clip", res.ClipID, "err", err)
		return
	}
	e.playClip(ctx, s, clip, "phrase")
}

// randomLoop periodically rolls the time-decaying dice and plays a random
// clip on a win. The longer the channel has been quiet, the likelier a play.
func (e *Engine) randomLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(e.cfg.RandomInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last, err := e.cfg.Store.LastPlayTime(ctx)
			if err != nil {
				slog.Warn("last play time lookup failed", "err", err)
				continue
			}
			// A never-played catalog has a zero last time, which makes the
			// elapsed gap huge and admission near certain.
			if !e.cfg.Limiter.Admit(time.Since(last)) {
				continue
			}
			clip, err := e.cfg.Store.RandomClip(ctx)
			if err != nil {
				if !errors.Is(err, catalog.ErrNotFound) {
					slog.Warn("random clip lookup failed", "err", err)
				}
				continue
			}
			slog.Info("random trigger fired", "channel", s.channelID, "clip", clip.ID)
			e.playClip(ctx, s, clip, "random")
		}
	}
}

// playClip plays a stored clip under the session's exclusive gate. Losing
// the gate drops the trigger. The play counter is only bumped after the clip
// streamed out completely.
func (e *Engine) playClip(ctx context.Context, s *session, clip *catalog.Clip, cause string) {
	if !s.gate.TryAcquire() {
		e.cfg.Metrics.TriggersDropped.Add(ctx, 1)
		slog.Debug("playback busy, trigger dropped", "channel", s.channelID, "clip", clip.ID, "cause", cause)
		return
	}
	defer s.gate.Release()

	path := filepath.Join(e.cfg.ClipsDir, clip.AudioFile)
	start := time.Now()
	if err := e.cfg.Player.Play(ctx, path, s.conn.OutputStream()); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("clip playback failed", "channel", s.channelID, "clip", clip.ID, "err", err)
		}
		return
	}
	e.cfg.Metrics.RecordPlay(ctx, cause, time.Since(start))

	if err := e.cfg.Store.MarkPlayed(ctx, clip.ID); err != nil {
		slog.Warn("mark played failed", "clip", clip.ID, "err", err)
	}
}

// greet plays the greeting on join. A greeting is not a catalog clip, so it
// never touches play counters.
func (e *Engine) greet(ctx context.Context, s *session) {
	path := e.greetingPath(ctx, s)
	if path == "" {
		return
	}

	if !s.gate.TryAcquire() {
		e.cfg.Metrics.TriggersDropped.Add(ctx, 1)
		return
	}
	defer s.gate.Release()

	start := time.Now()
	if err := e.cfg.Player.Play(ctx, path, s.conn.OutputStream()); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("greeting playback failed", "channel", s.channelID, "err", err)
		}
		return
	}
	e.cfg.Metrics.RecordPlay(ctx, "greeting", time.Since(start))
}

// greetingPath resolves the audio to greet with: the pre-recorded greeting
// file when it exists, otherwise a synthesized line from the TTS cache.
// Empty when neither is available.
func (e *Engine) greetingPath(ctx context.Context, s *session) string {
	if e.cfg.GreetingFile != "" {
		if _, err := os.Stat(e.cfg.GreetingFile); err == nil {
			return e.cfg.GreetingFile
		}
	}
	if e.cfg.Speech == nil {
		return ""
	}

	start := time.Now()
	path, err := e.cfg.Speech.Speak(ctx, e.greeting)
	if err != nil {
		e.cfg.Metrics.SynthesisFailures.Add(ctx, 1)
		slog.Warn("greeting synthesis failed", "channel", s.channelID, "err", err)
		return ""
	}
	e.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	return path
}
