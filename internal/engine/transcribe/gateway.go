// Package transcribe serializes speech-to-text access onto a single worker.
//
// STT backends are not reentrant-safe, so every utterance in the process goes
// through one Gateway which queues requests in arrival order and runs them one
// at a time against the wrapped stt.Transcriber. Callers see a plain blocking
// call; a per-request timeout bounds how long any single inference may run.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/pkg/provider/stt"
)

// ErrClosed is returned for requests submitted to, or still pending in, a
// gateway that has been shut down.
var ErrClosed = errors.New("transcribe: gateway closed")

// DefaultTimeout bounds a single inference run.
const DefaultTimeout = 15 * time.Second

const requestQueueDepth = 32

type request struct {
	ctx        context.Context
	pcm        []byte
	sampleRate int
	result     chan result
}

type result struct {
	text string
	err  error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-request inference timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// Gateway funnels all transcription requests through one worker goroutine.
// It is safe for concurrent use; the wrapped Transcriber need not be.
type Gateway struct {
	transcriber stt.Transcriber
	timeout     time.Duration

	requests chan request
	closed   chan struct{}
	done     chan struct{}
}

// New creates a Gateway and starts its worker. Close must be called to stop
// the worker and release the backend.
func New(transcriber stt.Transcriber, opts ...Option) *Gateway {
	g := &Gateway{
		transcriber: transcriber,
		timeout:     DefaultTimeout,
		requests:    make(chan request, requestQueueDepth),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	go g.work()
	return g
}

// Transcribe queues the utterance and blocks until its turn completes, ctx is
// cancelled, or the gateway closes. A timed-out or failed inference returns
// an error; the caller treats it as "no match", never retries.
func (g *Gateway) Transcribe(ctx context.Context, u segment.Utterance) (string, error) {
	req := request{
		ctx:        ctx,
		pcm:        u.PCM,
		sampleRate: u.SampleRate,
		result:     make(chan result, 1),
	}

	select {
	case g.requests <- req:
	case <-g.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.text, res.err
	case <-ctx.Done():
		// The worker will still run or drop the request; its result goes
		// nowhere (the result channel is buffered).
		return "", ctx.Err()
	}
}

// Close stops the worker and fails all pending requests with ErrClosed. It
// then closes the wrapped Transcriber. Safe to call once.
func (g *Gateway) Close() error {
	close(g.closed)
	<-g.done

	// Fail whatever is still queued.
	for {
		select {
		case req := <-g.requests:
			req.result <- result{err: ErrClosed}
		default:
			return g.transcriber.Close()
		}
	}
}

// work is the single worker goroutine. Requests run strictly in arrival
// order.
func (g *Gateway) work() {
	defer close(g.done)
	for {
		select {
		case <-g.closed:
			return
		case req := <-g.requests:
			req.result <- g.run(req)
		}
	}
}

func (g *Gateway) run(req request) result {
	// Abandoned requests (caller gone) are skipped without touching the
	// backend.
	if err := req.ctx.Err(); err != nil {
		return result{err: err}
	}

	ctx, cancel := context.WithTimeout(req.ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.transcriber.Transcribe(ctx, req.pcm, req.sampleRate)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("transcription timed out", "timeout", g.timeout, "elapsed", time.Since(start))
			return result{err: fmt.Errorf("transcribe: inference timeout after %s: %w", g.timeout, err)}
		}
		slog.Warn("transcription failed", "error", err, "elapsed", time.Since(start))
		return result{err: fmt.Errorf("transcribe: %w", err)}
	}

	slog.Debug("transcription complete", "chars", len(text), "elapsed", time.Since(start))
	return result{text: text}
}
