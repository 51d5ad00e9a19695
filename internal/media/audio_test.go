package media

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV assembles a minimal RIFF/WAVE file around the given PCM data.
func buildWAV(format, channels, bits uint16, rate uint32, pcm []byte) []byte {
	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, format)
	binary.Write(&fmtChunk, binary.LittleEndian, channels)
	binary.Write(&fmtChunk, binary.LittleEndian, rate)
	binary.Write(&fmtChunk, binary.LittleEndian, rate*uint32(channels)*uint32(bits)/8)
	binary.Write(&fmtChunk, binary.LittleEndian, channels*bits/8)
	binary.Write(&fmtChunk, binary.LittleEndian, bits)

	var body bytes.Buffer
	body.WriteString("WAVE")
	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(fmtChunk.Len()))
	body.Write(fmtChunk.Bytes())
	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(pcm)))
	body.Write(pcm)

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestParseWAV(t *testing.T) {
	pcm := make([]byte, 320)
	af, err := ParseWAV(buildWAV(1, 1, 16, 8000, pcm))
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), af.SampleRate)
	assert.Equal(t, uint16(1), af.NumChannels)
	assert.Equal(t, uint16(16), af.BitsPerSample)
	assert.Len(t, af.PCMData, 320)
}

func TestParseWAVRejectsNonRIFF(t *testing.T) {
	_, err := ParseWAV([]byte("definitely not a wav file"))
	assert.Error(t, err)
}

func TestParseWAVRejectsCompressed(t *testing.T) {
	_, err := ParseWAV(buildWAV(7, 1, 16, 8000, make([]byte, 16)))
	assert.ErrorContains(t, err, "only PCM")
}

func TestParseWAVRejects8Bit(t *testing.T) {
	_, err := ParseWAV(buildWAV(1, 1, 8, 8000, make([]byte, 16)))
	assert.ErrorContains(t, err, "16-bit")
}

func TestToPCMUMono8k(t *testing.T) {
	// 100 samples of 16-bit mono at 8kHz: converts byte-per-sample.
	af, err := ParseWAV(buildWAV(1, 1, 16, 8000, make([]byte, 200)))
	require.NoError(t, err)

	ulaw, err := af.ToPCMU()
	require.NoError(t, err)
	assert.Len(t, ulaw, 100)
}

func TestToPCMUStereo16kDownmixResample(t *testing.T) {
	// 16kHz stereo: downmix halves the byte count, resampling halves the
	// sample count again.
	af, err := ParseWAV(buildWAV(1, 2, 16, 16000, make([]byte, 1600)))
	require.NoError(t, err)

	ulaw, err := af.ToPCMU()
	require.NoError(t, err)
	// 1600 bytes stereo = 400 frames = 400 mono samples at 16kHz, about
	// 200 at 8kHz; linear interpolation drops the tail sample.
	assert.InDelta(t, 200, len(ulaw), 2)
}

func TestToPCMURejectsManyChannels(t *testing.T) {
	af := &AudioFile{SampleRate: 8000, NumChannels: 6, BitsPerSample: 16, PCMData: make([]byte, 96)}
	_, err := af.ToPCMU()
	assert.Error(t, err)
}
