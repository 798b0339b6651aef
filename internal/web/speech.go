package web

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/MrWong99/heckle/internal/engine/playback"
	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/pkg/audio"
)

// detectSpeech transcribes an uploaded clip and stores the transcript as the
// clip's speech_detected text, so the clip's own words can trigger it later.
// Best-effort: failures are logged and the clip simply stays without a
// transcript. Only WAV uploads are transcribed.
func (s *Server) detectSpeech(clipID uuid.UUID, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), speechDetectTimeout)
	defer cancel()

	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("speech detection read failed", "clip", clipID, "err", err)
		return
	}
	pcm, format, err := playback.DecodeWAV(raw)
	if err != nil {
		slog.Debug("speech detection skipped, clip is not plain WAV", "clip", clipID, "err", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: segment.DefaultSampleRate, Channels: 1}}
	frame := conv.Convert(audio.AudioFrame{
		Data:       pcm,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	})

	text, err := s.transcriber.Transcribe(ctx, segment.Utterance{
		Speaker:    "clip:" + clipID.String(),
		PCM:        frame.Data,
		SampleRate: frame.SampleRate,
	})
	if err != nil {
		slog.Warn("speech detection transcription failed", "clip", clipID, "err", err)
		return
	}
	if text == "" {
		return
	}

	clip, err := s.store.GetClip(ctx, clipID)
	if err != nil {
		// Clip may have been deleted while transcription ran.
		slog.Debug("speech detection dropped, clip gone", "clip", clipID, "err", err)
		return
	}
	clip.SpeechDetected = text
	if err := s.store.UpdateClip(ctx, clip); err != nil {
		slog.Warn("speech detection store update failed", "clip", clipID, "err", err)
		return
	}

	slog.Info("clip speech detected", "clip", clipID, "text", text)
	s.refreshCatalog(ctx)
}
