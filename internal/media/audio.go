package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zaf/g711"
)

// AudioFile holds parsed WAV metadata and its PCM payload.
type AudioFile struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	PCMData       []byte
}

// LoadWAV parses a PCM WAV file. Only uncompressed 16-bit PCM is accepted.
func LoadWAV(path string) (*AudioFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return ParseWAV(raw)
}

// ParseWAV parses WAV bytes (RIFF/WAVE, fmt + data chunks).
func ParseWAV(raw []byte) (*AudioFile, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	af := &AudioFile{}
	r := bytes.NewReader(raw[12:])
	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(r, chunkID[:]); err != nil {
			break
		}
		var chunkSize uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return nil, fmt.Errorf("truncated chunk header: %w", err)
		}
		body := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("truncated %q chunk: %w", chunkID, err)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, fmt.Errorf("only PCM wav supported, got format %d", format)
			}
			af.NumChannels = binary.LittleEndian.Uint16(body[2:4])
			af.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			af.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
		case "data":
			af.PCMData = body
		}
	}

	if af.SampleRate == 0 {
		return nil, fmt.Errorf("fmt chunk not found")
	}
	if af.PCMData == nil {
		return nil, fmt.Errorf("data chunk not found")
	}
	if af.BitsPerSample != 16 {
		return nil, fmt.Errorf("only 16-bit PCM supported, got %d", af.BitsPerSample)
	}
	return af, nil
}

// ToPCMU converts the file to the streaming contract format: 8kHz mono
// µ-law, one byte per sample.
func (af *AudioFile) ToPCMU() ([]byte, error) {
	mono, err := af.downmix()
	if err != nil {
		return nil, err
	}
	pcm := resampleLinear(mono, af.SampleRate, CodecPCMU.SampleRate)
	return g711.EncodeUlaw(pcm), nil
}

// downmix averages stereo channels into mono 16-bit little-endian PCM.
func (af *AudioFile) downmix() ([]byte, error) {
	switch af.NumChannels {
	case 1:
		return af.PCMData, nil
	case 2:
		mono := make([]byte, len(af.PCMData)/2)
		for i := 0; i+3 < len(af.PCMData); i += 4 {
			left := int16(binary.LittleEndian.Uint16(af.PCMData[i:]))
			right := int16(binary.LittleEndian.Uint16(af.PCMData[i+2:]))
			avg := (int32(left) + int32(right)) / 2
			binary.LittleEndian.PutUint16(mono[i/2:], uint16(int16(avg)))
		}
		return mono, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", af.NumChannels)
	}
}

// resampleLinear converts 16-bit mono PCM between sample rates using linear
// interpolation. Good enough for prompt playback; not a production SRC.
func resampleLinear(pcm []byte, from, to uint32) []byte {
	if from == to {
		return pcm
	}
	inSamples := len(pcm) / 2
	ratio := float64(from) / float64(to)
	outSamples := int(float64(inSamples) / ratio)
	out := make([]byte, 0, outSamples*2)

	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= inSamples {
			break
		}
		frac := pos - float64(idx)
		s1 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s2 := int16(binary.LittleEndian.Uint16(pcm[idx*2+2:]))
		v := int16(float64(s1)*(1-frac) + float64(s2)*frac)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		out = append(out, b[0], b[1])
	}
	return out
}
