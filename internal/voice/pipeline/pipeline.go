package pipeline

import (
	"context"
	"sync"
	"time"

	"ai-hotline/internal/voice/audio"
)

// µ-law telephony audio is one byte per sample.
const sampleRate = 8000

type SegmenterConfig struct {
	// EnergyThreshold is the RMS of 16-bit PCM above which a frame counts as speech.
	EnergyThreshold float64
	SilenceTimeout  time.Duration
	MaxUtterance    time.Duration
	MinSpeech       time.Duration
	BufferSize      int
}

func DefaultConfig() SegmenterConfig {
	return SegmenterConfig{
		EnergyThreshold: 500,
		SilenceTimeout:  700 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
		MinSpeech:       120 * time.Millisecond,
		BufferSize:      64,
	}
}

type SegmenterStats struct {
	BytesIn    int64
	Utterances int
	Discarded  int
	StartTime  time.Time
}

// Segmenter cuts a stream of 8 kHz µ-law frames into utterances using frame energy.
// An utterance ends after SilenceTimeout of quiet following speech, or at MaxUtterance.
type Segmenter struct {
	config SegmenterConfig

	mu       sync.Mutex
	buf      []byte
	speaking bool
	speech   time.Duration
	silence  time.Duration
	stats    SegmenterStats
}

func NewSegmenter(config SegmenterConfig) *Segmenter {
	def := DefaultConfig()
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = def.EnergyThreshold
	}
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = def.SilenceTimeout
	}
	if config.MaxUtterance <= 0 {
		config.MaxUtterance = def.MaxUtterance
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	return &Segmenter{config: config, stats: SegmenterStats{StartTime: time.Now()}}
}

func frameDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / sampleRate
}

// Push feeds one frame and returns a completed utterance, or nil.
func (s *Segmenter) Push(frame []byte) []byte {
	if len(frame) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.BytesIn += int64(len(frame))
	dur := frameDuration(len(frame))
	voiced := audio.RMS(audio.MuLawToPCM16(frame)) >= s.config.EnergyThreshold

	switch {
	case voiced:
		s.speaking = true
		s.speech += dur
		s.silence = 0
		s.buf = append(s.buf, frame...)
	case s.speaking:
		s.silence += dur
		s.buf = append(s.buf, frame...)
	default:
		return nil
	}

	if frameDuration(len(s.buf)) >= s.config.MaxUtterance {
		return s.emit()
	}
	if s.silence >= s.config.SilenceTimeout {
		if s.speech < s.config.MinSpeech {
			s.stats.Discarded++
			s.reset()
			return nil
		}
		return s.emit()
	}
	return nil
}

// Flush returns any buffered speech, e.g. when the stream ends mid-utterance.
func (s *Segmenter) Flush() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking || s.speech < s.config.MinSpeech {
		s.reset()
		return nil
	}
	return s.emit()
}

// Pending reports whether speech is currently being buffered.
func (s *Segmenter) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *Segmenter) Stats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// emit hands out the buffer and starts a new utterance; caller holds mu.
func (s *Segmenter) emit() []byte {
	out := s.buf
	s.stats.Utterances++
	s.reset()
	return out
}

func (s *Segmenter) reset() {
	s.buf = nil
	s.speaking = false
	s.speech = 0
	s.silence = 0
}

// Run pumps frames from in and delivers utterances on the returned channel, which is closed
// once in is closed (after flushing) or ctx is done.
func (s *Segmenter) Run(ctx context.Context, in <-chan []byte) <-chan []byte {
	out := make(chan []byte, s.config.BufferSize)
	go func() {
		defer close(out)
		send := func(u []byte) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-in:
				if !ok {
					if u := s.Flush(); u != nil {
						send(u)
					}
					return
				}
				if u := s.Push(frame); u != nil && !send(u) {
					return
				}
			}
		}
	}()
	return out
}
