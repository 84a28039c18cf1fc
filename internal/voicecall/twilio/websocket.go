package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/voice/audio"

	"github.com/gorilla/websocket"
)

const (
	// FrameBytes is 20 ms of 8 kHz µ-law.
	FrameBytes       = 160
	framesPerMessage = 20
)

type StartEvent struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type MediaEvent struct {
	Event          string     `json:"event"`
	SequenceNumber string     `json:"sequenceNumber,omitempty"`
	StreamSid      string     `json:"streamSid,omitempty"`
	Start          StartEvent `json:"start,omitempty"`
	Media          struct {
		Track   string `json:"track"`
		Chunk   string `json:"chunk"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	Stop struct {
		CallSid string `json:"callSid"`
	} `json:"stop,omitempty"`
}

// Listener receives the events of one media stream. Callbacks run on the read loop.
type Listener interface {
	OnStart(ctx context.Context, start StartEvent) error
	OnAudio(ctx context.Context, mulaw []byte)
	OnMark(ctx context.Context, name string)
	OnStop(ctx context.Context)
}

// MediaStream speaks Twilio's bidirectional Media Streams protocol over one websocket.
type MediaStream struct {
	conn       *websocket.Conn
	logger     *observability.Logger
	writeMutex sync.Mutex

	mu        sync.RWMutex
	streamSid string
	callSid   string
}

func NewMediaStream(conn *websocket.Conn, logger *observability.Logger) *MediaStream {
	return &MediaStream{conn: conn, logger: logger}
}

// Serve reads events until the stream stops, the socket closes or ctx is done.
// OnStop is always delivered once before Serve returns.
func (m *MediaStream) Serve(ctx context.Context, l Listener) error {
	defer l.OnStop(ctx)

	go func() {
		<-ctx.Done()
		m.conn.Close()
	}()

	for {
		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Info(ctx, "media stream closed")
				return nil
			}
			return fmt.Errorf("media stream read: %w", err)
		}

		var event MediaEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			m.logger.WarnWithError(ctx, "failed to parse media stream event", err)
			continue
		}

		switch event.Event {
		case "connected":
			m.logger.Info(ctx, "media stream connected")

		case "start":
			m.mu.Lock()
			m.streamSid = event.Start.StreamSid
			m.callSid = event.Start.CallSid
			m.mu.Unlock()
			m.logger.Info(ctx, "media stream started",
				observability.Field{Key: "stream_sid", Value: event.Start.StreamSid},
				observability.Field{Key: "call_sid", Value: event.Start.CallSid},
			)
			if err := l.OnStart(ctx, event.Start); err != nil {
				return err
			}

		case "media":
			if event.Media.Track != "" && event.Media.Track != "inbound" {
				continue
			}
			data, err := audio.Base64ToBytes(event.Media.Payload)
			if err != nil {
				m.logger.WarnWithError(ctx, "failed to decode media payload", err)
				continue
			}
			l.OnAudio(ctx, data)

		case "mark":
			l.OnMark(ctx, event.Mark.Name)

		case "stop":
			m.logger.Info(ctx, "media stream stopped")
			return nil

		default:
			m.logger.Debug(ctx, fmt.Sprintf("unknown media stream event: %s", event.Event))
		}
	}
}

// SendAudio streams µ-law audio back to the caller and finishes with a mark so playback
// completion is reported through OnMark.
func (m *MediaStream) SendAudio(mulaw []byte, mark string) error {
	streamSid := m.StreamSID()
	chunk := FrameBytes * framesPerMessage
	for start := 0; start < len(mulaw); start += chunk {
		end := min(start+chunk, len(mulaw))
		if err := m.write(map[string]interface{}{
			"event":     "media",
			"streamSid": streamSid,
			"media":     map[string]string{"payload": audio.BytesToBase64(mulaw[start:end])},
		}); err != nil {
			return err
		}
	}
	if mark == "" {
		return nil
	}
	return m.write(map[string]interface{}{
		"event":     "mark",
		"streamSid": streamSid,
		"mark":      map[string]string{"name": mark},
	})
}

// Clear drops audio Twilio has buffered but not yet played.
func (m *MediaStream) Clear() error {
	return m.write(map[string]interface{}{"event": "clear", "streamSid": m.StreamSID()})
}

func (m *MediaStream) write(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.writeMutex.Lock()
	defer m.writeMutex.Unlock()
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *MediaStream) Close() {
	m.writeMutex.Lock()
	_ = m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMutex.Unlock()
	m.conn.Close()
}

func (m *MediaStream) StreamSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamSid
}

func (m *MediaStream) CallSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callSid
}
