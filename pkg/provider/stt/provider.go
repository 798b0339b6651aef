// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber wraps a batch transcription engine (a local whisper-server,
// the whisper.cpp CGO bindings, or a hosted service such as Deepgram) behind a
// single blocking call: hand it one utterance worth of PCM audio, get text
// back. Streaming providers are adapted by draining their transcript stream
// until the audio is fully consumed.
//
// Transcriber implementations are NOT required to be safe for concurrent use —
// whisper.cpp in particular shares mutable inference state across calls. The
// engine's transcription gateway (internal/engine/transcribe) serializes all
// calls onto a single worker; callers must go through it rather than invoking
// a Transcriber from multiple goroutines.
package stt

import "context"

// Transcriber converts one utterance of speech audio to text.
type Transcriber interface {
	// Transcribe runs speech-to-text over pcm, which must be 16-bit signed
	// little-endian mono PCM at sampleRate Hz. It returns the recognized text,
	// or an empty string when the audio contains no recognizable speech — an
	// empty result is not an error.
	//
	// The call blocks until inference completes or ctx is cancelled. On
	// cancellation the work is abandoned best-effort and ctx.Err() is returned.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Close releases backend resources (loaded models, connections).
	// The Transcriber must not be used after Close.
	Close() error
}
