// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/heckle/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every Synthesize call.
	Audio []byte

	// Fn, if non-nil, handles Synthesize calls instead of Audio/Err.
	Fn func(ctx context.Context, text, voice string) ([]byte, error)

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// VoiceKeys is returned by Voices.
	VoiceKeys []string

	// VoicesErr, if non-nil, is returned by Voices.
	VoicesErr error

	// SynthesizeCalls records every Synthesize invocation in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured audio or error.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn := p.Fn
	audio, err := p.Audio, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	return audio, err
}

// Voices returns VoiceKeys, VoicesErr.
func (p *Provider) Voices(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VoiceKeys, p.VoicesErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
