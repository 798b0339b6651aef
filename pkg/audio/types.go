package audio

import "time"

// AudioFrame is a single frame of PCM audio flowing through the pipeline.
// Frames are the atomic unit of transport: captured from participant input
// streams, fed to the utterance segmenter, and written to output streams
// during clip playback.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 on the Discord wire, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (Discord output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data. Returns zero for
// frames with an unset rate or channel count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
