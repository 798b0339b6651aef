package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. If the source already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	// Odd byte counts cannot be int16 PCM; drop the frame.
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", Format{frame.SampleRate, frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	// Resample first; this avoids resampling stereo when the target is mono
	// at a lower rate only in half the cases, but keeps the logic simple.
	if rate != c.Target.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, rate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, rate, c.Target.SampleRate)
		}
		rate = c.Target.SampleRate
	}

	if channels != c.Target.Channels {
		switch {
		case channels == 1 && c.Target.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && c.Target.Channels == 1:
			pcm = StereoToMono(pcm)
		}
		channels = c.Target.Channels
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream wraps an input channel with a conversion goroutine. The
// returned channel is closed when in closes and uses cap(in) as its buffer.
// Frames left empty by Convert (corrupt input) are dropped.
func ConvertStream(in <-chan AudioFrame, target Format) <-chan AudioFrame {
	out := make(chan AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// readSample reads the little-endian int16 sample at index i of pcm.
func readSample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// writeSample writes s as little-endian int16 at index i of pcm.
func writeSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := readSample(pcm, i)
		writeSample(out, i*2, s)
		writeSample(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output. Uses
// int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(readSample(pcm, i*2))
		r := int32(readSample(pcm, i*2+1))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		writeSample(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := readSample(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = readSample(pcm, srcIdx+1)
		}

		writeSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// ResampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation per channel. If srcRate == dstRate the
// input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := readSample(pcm, srcIdx*2)
		r0 := readSample(pcm, srcIdx*2+1)
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = readSample(pcm, (srcIdx+1)*2)
			r1 = readSample(pcm, (srcIdx+1)*2+1)
		}

		writeSample(out, i*2, int16(float64(l0)*(1-frac)+float64(l1)*frac))
		writeSample(out, i*2+1, int16(float64(r0)*(1-frac)+float64(r1)*frac))
	}
	return out
}
