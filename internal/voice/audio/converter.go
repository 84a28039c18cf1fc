// Package audio converts between telephony µ-law and 16-bit little-endian PCM.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MuLawToPCM16 decodes 8-bit µ-law to 16-bit PCM at the same sample rate.
func MuLawToPCM16(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawToLinear(b)))
	}
	return pcm
}

// PCM16ToMuLaw encodes 16-bit PCM to 8-bit µ-law at the same sample rate.
func PCM16ToMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = linearToMulaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func ConvertMuLawToPCM16kHz(mulaw []byte) []byte {
	return Upsample(MuLawToPCM16(mulaw), 2)
}

// ConvertPCM24kHzToMuLaw8kHz turns OpenAI "pcm" speech output into Twilio media payloads.
func ConvertPCM24kHzToMuLaw8kHz(pcm24k []byte) []byte {
	return PCM16ToMuLaw(Downsample(pcm24k, 3))
}

func ConvertPCM16kHzToMuLaw8kHz(pcm16k []byte) []byte {
	return PCM16ToMuLaw(Downsample(pcm16k, 2))
}

func Base64ToBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func BytesToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// RMS returns the root mean square amplitude of 16-bit PCM, in the range 0..32768.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// WrapPCM16WAV prefixes mono 16-bit PCM with a RIFF/WAVE header.
func WrapPCM16WAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	writeU32(&buf, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	writeU32(&buf, 16)
	writeU16(&buf, 1) // PCM
	writeU16(&buf, 1)
	writeU32(&buf, uint32(sampleRate))
	writeU32(&buf, uint32(sampleRate*2))
	writeU16(&buf, 2)
	writeU16(&buf, 16)
	buf.WriteString("data")
	writeU32(&buf, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WrapMuLawWAV prefixes mono µ-law samples with a WAVE header using encoding format 7.
func WrapMuLawWAV(mulaw []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(58 + len(mulaw))
	buf.WriteString("RIFF")
	writeU32(&buf, uint32(50+len(mulaw)))
	buf.WriteString("WAVEfmt ")
	writeU32(&buf, 18)
	writeU16(&buf, 7) // µ-law
	writeU16(&buf, 1)
	writeU32(&buf, uint32(sampleRate))
	writeU32(&buf, uint32(sampleRate))
	writeU16(&buf, 1)
	writeU16(&buf, 8)
	writeU16(&buf, 0)
	buf.WriteString("fact")
	writeU32(&buf, 4)
	writeU32(&buf, uint32(len(mulaw)))
	buf.WriteString("data")
	writeU32(&buf, uint32(len(mulaw)))
	buf.Write(mulaw)
	return buf.Bytes()
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func mulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := ((int32(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func linearToMulaw(s int16) byte {
	sample := int32(s)
	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// Downsample keeps every factor-th 16-bit sample.
func Downsample(pcm []byte, factor int) []byte {
	if factor <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, 0, (samples/factor+1)*2)
	for i := 0; i < samples; i += factor {
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}

// Upsample interpolates linearly between neighbouring 16-bit samples.
func Upsample(pcm []byte, factor int) []byte {
	if factor <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*factor*2)
	for i := 0; i < samples; i++ {
		cur := int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		next := cur
		if i+1 < samples {
			next = int32(int16(binary.LittleEndian.Uint16(pcm[(i+1)*2:])))
		}
		for j := 0; j < factor; j++ {
			v := cur + (next-cur)*int32(j)/int32(factor)
			binary.LittleEndian.PutUint16(out[(i*factor+j)*2:], uint16(int16(v)))
		}
	}
	return out
}
