// Package segment turns continuous per-speaker audio into discrete
// utterances using RMS-based voice activity detection.
//
// One Segmenter serves a whole session; each speaker's input stream is
// consumed by its own goroutine and sealed utterances from all speakers are
// interleaved onto a single outbound channel for transcription.
package segment

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/heckle/pkg/audio"
)

// Defaults for the voice-activity thresholds.
const (
	DefaultSampleRate   = 16000
	DefaultRMSThreshold = 300
	DefaultMinSpeech    = 150 * time.Millisecond
	DefaultSilence      = 700 * time.Millisecond
	DefaultMaxUtterance = 10 * time.Second
)

// Config holds the segmentation thresholds. The zero value is usable; unset
// fields fall back to the defaults above.
type Config struct {
	// SampleRate is the mono output rate utterances are emitted at.
	SampleRate int

	// RMSThreshold is the per-chunk RMS energy above which audio counts as
	// voiced.
	RMSThreshold int

	// MinSpeech is the minimum accumulated voiced audio before an utterance
	// is considered real. Shorter bursts are discarded as transients.
	MinSpeech time.Duration

	// Silence is the trailing-silence duration that seals an utterance.
	Silence time.Duration

	// MaxUtterance is the hard cap on utterance length. Audio past the cap
	// starts a new utterance.
	MaxUtterance time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.RMSThreshold <= 0 {
		c.RMSThreshold = DefaultRMSThreshold
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	return c
}

// Utterance is one sealed stretch of speech from a single speaker.
type Utterance struct {
	// Speaker is the platform stream key of whoever spoke.
	Speaker string

	// PCM is 16-bit signed little-endian mono audio at SampleRate.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Start and End bound the utterance in wall-clock time.
	Start time.Time
	End   time.Time
}

// Duration returns the play time of the utterance audio.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.PCM)/2) * time.Second / time.Duration(u.SampleRate)
}

// Segmenter owns the shared output channel utterances are interleaved onto.
type Segmenter struct {
	cfg Config
	out chan Utterance
	now func() time.Time
}

// New creates a Segmenter emitting utterances on a channel of the given
// buffer size.
func New(cfg Config, outBuffer int) *Segmenter {
	return &Segmenter{
		cfg: cfg.withDefaults(),
		out: make(chan Utterance, outBuffer),
		now: time.Now,
	}
}

// Utterances returns the shared outbound channel. It is never closed by the
// Segmenter; sessions outlive individual speaker streams.
func (s *Segmenter) Utterances() <-chan Utterance {
	return s.out
}

// Consume reads one speaker's frames until the stream closes or ctx is
// cancelled, emitting sealed utterances. Call it on its own goroutine, one
// per speaker.
//
// Stream close seals an open utterance only if it reached MinSpeech of
// voiced audio; anything shorter is discarded silently.
func (s *Segmenter) Consume(ctx context.Context, speaker string, in <-chan audio.AudioFrame) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}}

	var (
		buf      []byte
		voiced   time.Duration
		silence  time.Duration
		started  time.Time
		buffered time.Duration
	)

	reset := func() {
		buf = nil
		voiced = 0
		silence = 0
		buffered = 0
		started = time.Time{}
	}

	seal := func() {
		if voiced < s.cfg.MinSpeech {
			reset()
			return
		}
		u := Utterance{
			Speaker:    speaker,
			PCM:        buf,
			SampleRate: s.cfg.SampleRate,
			Start:      started,
			End:        s.now(),
		}
		reset()
		select {
		case s.out <- u:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Session teardown discards open utterances.
			return

		case frame, ok := <-in:
			if !ok {
				seal()
				return
			}

			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			chunkDur := frame.Duration()

			if RMS(frame.Data) >= s.cfg.RMSThreshold {
				if len(buf) == 0 {
					started = s.now()
				}
				buf = append(buf, frame.Data...)
				voiced += chunkDur
				buffered += chunkDur
				silence = 0
			} else if len(buf) > 0 {
				buf = append(buf, frame.Data...)
				buffered += chunkDur
				silence += chunkDur
				if silence >= s.cfg.Silence {
					seal()
					continue
				}
			} else {
				// Leading silence carries no information.
				continue
			}

			if buffered >= s.cfg.MaxUtterance {
				slog.Debug("utterance hit length cap, sealing", "speaker", speaker, "buffered", buffered)
				seal()
			}
		}
	}
}

// RMS computes the root-mean-square energy of 16-bit little-endian PCM.
func RMS(pcm []byte) int {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := range samples {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return int(math.Sqrt(sum / float64(samples)))
}
