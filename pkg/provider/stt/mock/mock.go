// Package mock provides a test double for the stt.Transcriber interface.
//
// Pre-populate Results with the transcripts to return in order, or set Fn for
// full control; inspect Calls to verify what audio was submitted.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/heckle/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes passed to Transcribe.
	PCM []byte
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Fn, if non-nil, handles every Transcribe call. Results and Err are
	// ignored when Fn is set.
	Fn func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Results are returned by successive Transcribe calls in order. When the
	// list is exhausted further calls return "".
	Results []string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Calls records every Transcribe invocation in order.
	Calls []TranscribeCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// Transcribe records the call and returns the next configured result.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	t.mu.Lock()
	pcmCopy := make([]byte, len(pcm))
	copy(pcmCopy, pcm)
	t.Calls = append(t.Calls, TranscribeCall{PCM: pcmCopy, SampleRate: sampleRate})
	fn := t.Fn
	var result string
	if fn == nil {
		if t.next < len(t.Results) {
			result = t.Results[t.next]
			t.next++
		}
	}
	err := t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// CallCount returns the number of Transcribe calls recorded so far.
// Thread-safe; use it instead of len(Calls) when the transcriber is still
// being driven from another goroutine.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Close records the call and returns CloseErr.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCallCount++
	return t.CloseErr
}

// Reset clears all recorded calls and result progress. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
	t.CloseCallCount = 0
	t.next = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
