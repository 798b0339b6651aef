package playback

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/heckle/pkg/audio"
)

// errNotWAV marks files that are not RIFF/WAVE containers at all, as opposed
// to WAV files that are malformed or use an unsupported codec. Both cases
// fall back to ffmpeg.
var errNotWAV = errors.New("playback: not a RIFF/WAVE file")

// DecodeWAV parses a RIFF/WAVE container holding uncompressed 16-bit PCM and
// returns the raw samples plus their format. Chunk order is not assumed; the
// fmt and data chunks are located by walking the chunk list.
func DecodeWAV(raw []byte) ([]byte, audio.Format, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, audio.Format{}, errNotWAV
	}

	var (
		format   audio.Format
		bits     int
		audioFmt int
		data     []byte
		haveFmt  bool
	)

	off := 12
	for off+8 <= len(raw) {
		chunkID := string(raw[off : off+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+chunkSize > len(raw) {
			chunkSize = len(raw) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, audio.Format{}, fmt.Errorf("playback: fmt chunk too short (%d bytes)", chunkSize)
			}
			audioFmt = int(binary.LittleEndian.Uint16(raw[body : body+2]))
			format.Channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			haveFmt = true
		case "data":
			data = raw[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		off = body + chunkSize
		if chunkSize%2 == 1 {
			off++
		}
	}

	if !haveFmt || data == nil {
		return nil, audio.Format{}, errors.New("playback: wav missing fmt or data chunk")
	}
	if audioFmt != 1 || bits != 16 {
		return nil, audio.Format{}, fmt.Errorf("playback: unsupported wav encoding (format %d, %d-bit)", audioFmt, bits)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 || format.Channels > 2 {
		return nil, audio.Format{}, fmt.Errorf("playback: implausible wav format %v", format)
	}

	return data, format, nil
}
