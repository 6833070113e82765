package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/liveline-audio/liveline/pkg/audio"
)

// EventType discriminates the variants of [Event].
type EventType int

const (
	// EventAudio carries a synthesized audio chunk in Event.Audio.
	EventAudio EventType = iota

	// EventTranscript carries a partial transcription fragment in
	// Event.Role and Event.Text.
	EventTranscript

	// EventTurnComplete marks the end of an agent turn.
	EventTurnComplete

	// EventInterrupted reports that the agent's turn was cut off by
	// detected caller speech.
	EventInterrupted

	// EventClosed reports a clean close initiated by the server.
	EventClosed

	// EventError carries a fatal session error in Event.Err. It is the
	// last event before the channel closes.
	EventError
)

// Role identifies the speaker a transcription fragment belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Event is one inbound session event. Exactly the fields implied by Type
// are populated.
type Event struct {
	Type  EventType
	Audio audio.Packet
	Role  Role
	Text  string
	Err   error
}

// Session is one live bidirectional connection to the agent. It is created
// by [Dialer.Open] and owns the underlying WebSocket until Close.
type Session struct {
	conn *websocket.Conn
	cfg  Config

	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	loopEnded bool
	err       error
}

// Events returns the inbound event stream. The channel is closed when the
// session ends for any reason; if it ended with an error the final event
// before close has type [EventError].
func (s *Session) Events() <-chan Event {
	return s.events
}

// Err returns the terminal session error, or nil while the session is live
// or after a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send transmits one outbound audio packet. It is fire-and-forget: a call
// after Close (or after the session has failed) is a silent no-op, and
// transient write races during shutdown are swallowed. Transport failures
// surface through Events and Err, not through Send.
func (s *Session) Send(p audio.Packet) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: p.MIMEType, Data: p.Data}},
		},
	}
	if err := wsjson.Write(s.ctx, s.conn, msg); err != nil {
		// The receive loop observes the broken connection and reports it;
		// logging here would double up on every queued frame.
		slog.Debug("transport: dropped outbound chunk", "error", err)
	}
}

// Close tears the session down. It is idempotent and safe to call
// concurrently with event consumption; the event channel closes shortly
// after. Closing a session that already failed is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	alreadyDead := s.loopEnded
	s.mu.Unlock()

	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "session closed")
	<-s.done
	if err != nil && !alreadyDead {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// sendSetup transmits the session setup message.
func (s *Session) sendSetup(ctx context.Context, model string) error {
	setup := setupPayload{
		Model: fmt.Sprintf("models/%s", model),
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if s.cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: s.cfg.Voice},
			},
		}
	}
	if s.cfg.Instructions != "" {
		setup.SystemInstruction = &content{
			Parts: []part{{Text: s.cfg.Instructions}},
		}
	}
	if s.cfg.InputTranscription {
		setup.InputTranscription = &transcriptionCfg{}
	}
	if s.cfg.OutputTranscription {
		setup.OutputTranscription = &transcriptionCfg{}
	}
	return wsjson.Write(ctx, s.conn, setupMessage{Setup: setup})
}

// awaitSetupComplete reads messages until the setup acknowledgment arrives.
// Anything else before the ack is a protocol violation and fails the
// handshake.
func (s *Session) awaitSetupComplete(ctx context.Context) error {
	var msg serverMessage
	if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
		return fmt.Errorf("awaiting ack: %w", err)
	}
	if msg.Error != nil {
		return fmt.Errorf("server rejected setup: %s (%s)", msg.Error.Message, msg.Error.Status)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("unexpected message before setup acknowledgment")
	}
	return nil
}

// receiveLoop is the single reader of the connection after the handshake.
// It translates wire messages into events and owns the lifetime of the
// event channel.
func (s *Session) receiveLoop() {
	defer func() {
		s.mu.Lock()
		s.loopEnded = true
		s.mu.Unlock()
		close(s.events)
		close(s.done)
	}()

	for {
		var msg serverMessage
		if err := wsjson.Read(s.ctx, s.conn, &msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.emit(Event{Type: EventClosed})
				return
			}
			s.fail(fmt.Errorf("%w: receive: %v", ErrSession, err))
			return
		}
		if !s.dispatch(msg) {
			return
		}
	}
}

// dispatch translates one server message into zero or more events. It
// returns false when the message is session-terminal.
func (s *Session) dispatch(msg serverMessage) bool {
	switch {
	case msg.Error != nil:
		s.fail(fmt.Errorf("%w: server error: %s (%s)", ErrSession, msg.Error.Message, msg.Error.Status))
		return false

	case msg.GoAway != nil:
		slog.Info("transport: server going away", "timeLeft", msg.GoAway.TimeLeft)
		s.emit(Event{Type: EventClosed})
		return false

	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if sc.Interrupted {
			s.emit(Event{Type: EventInterrupted})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			s.emit(Event{Type: EventTranscript, Role: RoleUser, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			s.emit(Event{Type: EventTranscript, Role: RoleAgent, Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					s.emit(Event{Type: EventAudio, Audio: audio.Packet{
						MIMEType: p.InlineData.MIMEType,
						Data:     p.InlineData.Data,
					}})
				}
				if p.Text != "" {
					s.emit(Event{Type: EventTranscript, Role: RoleAgent, Text: p.Text})
				}
			}
		}
		if sc.TurnComplete {
			s.emit(Event{Type: EventTurnComplete})
		}
		return true

	default:
		// Unknown message shape. Skip it and keep reading; a single odd
		// frame must not take the session down.
		slog.Debug("transport: skipping unrecognized server message")
		return true
	}
}

// fail records the terminal error and emits it as the final event.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.emit(Event{Type: EventError, Err: err})
	slog.Error("transport: session failed", "error", err)
}

// emit delivers an event unless the session context is gone. Delivery
// blocks when the consumer lags; the channel buffer absorbs normal bursts.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop pings the server at a fixed interval until the session
// context ends. Ping failures are left to the receive loop to report.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil {
				slog.Debug("transport: keepalive ping failed", "error", err)
			}
			cancel()
		}
	}
}
