// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a local Mimic3
// instance) behind a batch call: hand it text and a voice key, get encoded
// audio back. Synthesized audio is cached on disk by the ttscache package, so
// providers are only hit on cache misses.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech using the given voice key and returns
	// the encoded audio (typically a WAV file). voice may be empty, in which
	// case the provider's default voice applies.
	//
	// The call blocks until synthesis completes or ctx is cancelled.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)

	// Voices returns the voice keys available from this provider. The list
	// reflects the service's current catalogue and may change between calls.
	Voices(ctx context.Context) ([]string, error)
}
