// Package playback decodes clip files and streams them into a voice
// connection at real-time pace.
//
// WAV files are decoded natively; every other container or codec is handed
// to ffmpeg, which transcodes to raw 48 kHz stereo PCM on stdout. Output is
// cut into 20 ms frames and released on a ticker so the connection's buffer
// holds at most a small amount of lookahead. A full output buffer blocks the
// pipeline (backpressure); a cancelled context aborts mid-clip.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/MrWong99/heckle/pkg/audio"
)

// Playback output is fixed to the Discord wire format.
const (
	OutputSampleRate = 48000
	OutputChannels   = 2

	frameDuration = 20 * time.Millisecond
	// frameBytes is one 20 ms frame: 960 samples x 2 channels x 2 bytes.
	frameBytes = OutputSampleRate / 50 * OutputChannels * 2
)

// Option configures a Player.
type Option func(*Player)

// WithFFmpegPath overrides the ffmpeg binary name or path. Defaults to
// "ffmpeg" resolved via PATH.
func WithFFmpegPath(path string) Option {
	return func(p *Player) { p.ffmpegPath = path }
}

// WithoutPacing disables the real-time ticker so frames are emitted as fast
// as the output channel accepts them. Intended for tests.
func WithoutPacing() Option {
	return func(p *Player) { p.paced = false }
}

// Player turns audio files into paced AudioFrame streams.
// It is safe for concurrent use; each Play call is independent.
type Player struct {
	ffmpegPath string
	paced      bool
}

// NewPlayer creates a Player.
func NewPlayer(opts ...Option) *Player {
	p := &Player{
		ffmpegPath: "ffmpeg",
		paced:      true,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play decodes the file at path and writes its audio to out as 48 kHz
// stereo 20 ms frames. It blocks until the last frame has been handed to the
// output channel, ctx is cancelled, or decoding fails. The caller owns gate
// acquisition and play bookkeeping.
func (p *Player) Play(ctx context.Context, path string, out chan<- audio.AudioFrame) error {
	pcm, err := p.decode(ctx, path)
	if err != nil {
		return err
	}
	return p.stream(ctx, pcm, out)
}

// decode produces 48 kHz stereo int16 PCM for the file: native WAV when
// possible, ffmpeg for everything else.
func (p *Player) decode(ctx context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playback: read %s: %w", path, err)
	}

	data, format, err := DecodeWAV(raw)
	if err == nil {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: OutputSampleRate, Channels: OutputChannels}}
		frame := conv.Convert(audio.AudioFrame{Data: data, SampleRate: format.SampleRate, Channels: format.Channels})
		if len(frame.Data) == 0 {
			return nil, fmt.Errorf("playback: wav conversion produced no audio for %s", path)
		}
		return frame.Data, nil
	}
	if !errors.Is(err, errNotWAV) {
		slog.Debug("native wav decode failed, falling back to ffmpeg", "file", path, "error", err)
	}

	return p.ffmpegDecode(ctx, path)
}

// ffmpegDecode shells out to ffmpeg for anything the native parser cannot
// handle. A spawn failure is retried once immediately; a decode error (bad
// file) is not.
func (p *Player) ffmpegDecode(ctx context.Context, path string) ([]byte, error) {
	pcm, err := p.runFFmpeg(ctx, path)
	if err != nil && errors.Is(err, exec.ErrNotFound) {
		return nil, err
	}
	if err != nil && ctx.Err() == nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Not an exit status: the process failed to start. Retry once.
			slog.Warn("ffmpeg spawn failed, retrying once", "file", path, "error", err)
			pcm, err = p.runFFmpeg(ctx, path)
		}
	}
	return pcm, err
}

func (p *Player) runFFmpeg(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", path,
		"-f", "s16le",
		"-ar", fmt.Sprint(OutputSampleRate),
		"-ac", fmt.Sprint(OutputChannels),
		"-loglevel", "error",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("playback: ffmpeg %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("playback: ffmpeg %s: %w", path, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("playback: ffmpeg produced no audio for %s", path)
	}
	return stdout.Bytes(), nil
}

// stream cuts pcm into 20 ms frames and writes them to out, one per tick.
// The final partial frame is zero-padded to full length so the encoder
// always sees exact frame sizes.
func (p *Player) stream(ctx context.Context, pcm []byte, out chan<- audio.AudioFrame) error {
	var ticker *time.Ticker
	if p.paced {
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	var elapsed time.Duration
	for off := 0; off < len(pcm); off += frameBytes {
		if p.paced {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		end := off + frameBytes
		var data []byte
		if end <= len(pcm) {
			data = pcm[off:end]
		} else {
			data = make([]byte, frameBytes)
			copy(data, pcm[off:])
		}

		frame := audio.AudioFrame{
			Data:       data,
			SampleRate: OutputSampleRate,
			Channels:   OutputChannels,
			Timestamp:  elapsed,
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
		elapsed += frameDuration
	}
	return nil
}
