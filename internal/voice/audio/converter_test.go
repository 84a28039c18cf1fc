package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestMuLawRoundTrip(t *testing.T) {
	for _, s := range []int16{0, 100, -100, 1000, -1000, 8000, -8000, 32000, -32768} {
		encoded := PCM16ToMuLaw(pcmOf(s))
		require.Len(t, encoded, 1)
		decoded := int16(binary.LittleEndian.Uint16(MuLawToPCM16(encoded)))

		diff := int(decoded) - int(s)
		if diff < 0 {
			diff = -diff
		}
		limit := int(s) / 16
		if limit < 0 {
			limit = -limit
		}
		assert.LessOrEqual(t, diff, limit+64, "sample %d decoded as %d", s, decoded)
	}

	assert.Equal(t, byte(0xFF), PCM16ToMuLaw(pcmOf(0))[0])
}

func TestResampling(t *testing.T) {
	pcm := pcmOf(0, 1, 2, 3, 4, 5)
	assert.Equal(t, pcmOf(0, 3), Downsample(pcm, 3))
	assert.Equal(t, pcmOf(0, 50, 100, 100), Upsample(pcmOf(0, 100), 2))

	assert.Len(t, ConvertPCM24kHzToMuLaw8kHz(make([]byte, 480*2)), 160)
	assert.Len(t, ConvertMuLawToPCM16kHz(make([]byte, 160)), 640)
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(pcmOf(0, 0, 0)))
	assert.InDelta(t, 1000, RMS(pcmOf(1000, -1000, 1000, -1000)), 0.001)
}

func TestWAVHeaders(t *testing.T) {
	wav := WrapPCM16WAV(pcmOf(1, 2), 16000)
	require.Len(t, wav, 48)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))

	ulaw := WrapMuLawWAV([]byte{0xFF, 0xFF, 0xFF}, 8000)
	require.Len(t, ulaw, 61)
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(ulaw[20:]))
	assert.Equal(t, "data", string(ulaw[50:54]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(ulaw[54:]))
}

func TestBase64(t *testing.T) {
	data, err := Base64ToBytes(BytesToBase64([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
