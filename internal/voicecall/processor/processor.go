package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ai-hotline/internal/calls"
	"ai-hotline/internal/calls/orchestrator"
	callprocessor "ai-hotline/internal/calls/processor"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/voice/pipeline"
	"ai-hotline/internal/voicecall/twilio"

	"github.com/google/uuid"
)

const pendingTurns = 4

// CallService is the part of the call processor a phone stream drives.
type CallService interface {
	StartCall(ctx context.Context, req callprocessor.StartCallRequest) (callprocessor.StartCallResult, error)
	ProcessTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
	EndCall(ctx context.Context, tenantID, callID uuid.UUID, reason string) (*calls.Call, error)
}

// Speaker plays audio to the caller and hangs up. *twilio.MediaStream satisfies it.
type Speaker interface {
	SendAudio(mulaw []byte, mark string) error
	Close()
}

type VoiceCallProcessor struct {
	calls     CallService
	segmenter pipeline.SegmenterConfig
	logger    *observability.Logger
}

func NewVoiceCallProcessor(calls CallService, segmenter pipeline.SegmenterConfig, logger *observability.Logger) *VoiceCallProcessor {
	return &VoiceCallProcessor{calls: calls, segmenter: segmenter, logger: logger}
}

// NewSession binds one media stream to a hotline call for tenantID.
func (v *VoiceCallProcessor) NewSession(tenantID uuid.UUID, speaker Speaker) *StreamSession {
	return &StreamSession{
		tenantID:  tenantID,
		calls:     v.calls,
		speaker:   speaker,
		segmenter: pipeline.NewSegmenter(v.segmenter),
		turns:     make(chan []byte, pendingTurns),
		done:      make(chan struct{}),
		logger:    v.logger,
	}
}

// StreamSession implements twilio.Listener: utterances cut by the segmenter become call turns,
// processed one at a time, and replies are streamed back.
type StreamSession struct {
	tenantID  uuid.UUID
	calls     CallService
	speaker   Speaker
	segmenter *pipeline.Segmenter
	logger    *observability.Logger

	mu       sync.Mutex
	callID   uuid.UUID
	ended    bool
	stopping bool
	turnNo   int

	turns    chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

var _ twilio.Listener = (*StreamSession)(nil)

func (s *StreamSession) CallID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

func (s *StreamSession) OnStart(ctx context.Context, start twilio.StartEvent) error {
	res, err := s.calls.StartCall(ctx, callprocessor.StartCallRequest{
		TenantID:     s.tenantID,
		CallerNumber: start.CustomParameters["from"],
		Direction:    string(calls.Inbound),
		OutputFormat: orchestrator.FormatULaw,
		Context: map[string]interface{}{
			"channel":         "twilio",
			"twilio_call_sid": start.CallSid,
			"stream_sid":      start.StreamSid,
		},
	})
	if err != nil {
		s.logger.Error(ctx, "failed to start phone call", err)
		close(s.done)
		return err
	}

	s.mu.Lock()
	s.callID = res.Call.ID
	s.mu.Unlock()

	if len(res.Greeting.Audio) > 0 {
		if err := s.speaker.SendAudio(res.Greeting.Audio, "greeting"); err != nil {
			s.logger.WarnWithError(ctx, "failed to play greeting", err)
		}
	}

	go s.processTurns(context.WithoutCancel(ctx))
	go s.watchEnd(res.Ended)
	return nil
}

// watchEnd hangs up when the call processor ends the call on its own, e.g. after an idle timeout.
func (s *StreamSession) watchEnd(ended <-chan struct{}) {
	if ended == nil {
		return
	}
	select {
	case <-ended:
	case <-s.done:
		return
	}
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if !stopping {
		s.hangup()
	}
}

func (s *StreamSession) OnAudio(ctx context.Context, mulaw []byte) {
	utterance := s.segmenter.Push(mulaw)
	if utterance == nil {
		return
	}
	s.enqueue(ctx, utterance)
}

func (s *StreamSession) enqueue(ctx context.Context, utterance []byte) {
	s.mu.Lock()
	ended := s.ended || s.callID == uuid.Nil
	s.mu.Unlock()
	if ended {
		return
	}
	select {
	case s.turns <- utterance:
	default:
		s.logger.Warn(ctx, "dropping utterance, turn queue full")
	}
}

func (s *StreamSession) OnMark(ctx context.Context, name string) {
	s.logger.Debug(ctx, fmt.Sprintf("playback finished: %s", name))
}

// OnStop ends the call as a caller hangup unless it already ended.
func (s *StreamSession) OnStop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		callID := s.callID
		s.mu.Unlock()
		if callID == uuid.Nil {
			return
		}

		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		close(s.turns)
		<-s.done

		s.mu.Lock()
		alreadyEnded := s.ended
		s.ended = true
		s.mu.Unlock()
		if alreadyEnded {
			return
		}
		ctx := context.WithoutCancel(ctx)
		if _, err := s.calls.EndCall(ctx, s.tenantID, callID, callprocessor.ReasonCallerHangup); err != nil && !errors.Is(err, callprocessor.ErrCallNotActive) {
			s.logger.Error(ctx, "failed to end phone call", err)
		}
	})
}

func (s *StreamSession) processTurns(ctx context.Context) {
	defer close(s.done)
	for utterance := range s.turns {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			continue
		}
		s.turnNo++
		mark := fmt.Sprintf("turn-%d", s.turnNo)
		callID := s.callID
		s.mu.Unlock()

		out, err := s.calls.ProcessTurn(ctx, orchestrator.TurnInput{
			TenantID:     s.tenantID,
			CallID:       callID,
			Audio:        utterance,
			AudioFormat:  orchestrator.FormatULaw,
			OutputFormat: orchestrator.FormatULaw,
		})
		if err != nil {
			s.logger.Error(ctx, "phone turn failed", err)
			if errors.Is(err, orchestrator.ErrSessionNotFound) || errors.Is(err, orchestrator.ErrSessionEnded) {
				s.hangup()
			}
			continue
		}
		if len(out.Audio) > 0 {
			if err := s.speaker.SendAudio(out.Audio, mark); err != nil {
				s.logger.WarnWithError(ctx, "failed to stream reply", err)
			}
		}
		if out.SessionState == calls.StateEnded || out.SessionState == calls.StateError {
			s.hangup()
		}
	}
}

// hangup marks the call finished by the server side and closes the stream.
func (s *StreamSession) hangup() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.speaker.Close()
}
