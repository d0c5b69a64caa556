package speech

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// ReadWAV decodes a 16-bit PCM WAV file. Anything else is reported as ErrNotWAV
// so callers can fall back to transcoding.
func ReadWAV(path string) (Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return Audio{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Audio{}, ErrNotWAV
	}
	if dec.WavAudioFormat != wavFormatPCM || dec.BitDepth != 16 {
		return Audio{}, fmt.Errorf("%w: format %d, %d-bit", ErrNotWAV, dec.WavAudioFormat, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}

	return Audio{
		PCM:        pcm16(buf),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

func pcm16(buf *audio.IntBuffer) []byte {
	out := make([]byte, 0, len(buf.Data)*2)
	for _, sample := range buf.Data {
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(sample)))
	}
	return out
}
