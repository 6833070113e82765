// Package transport owns the bidirectional WebSocket session to the remote
// conversational agent. It speaks the BidiGenerateContent protocol: outbound
// audio travels as base64 PCM chunks inside realtimeInput messages; inbound
// traffic is surfaced as a single tagged [Event] stream covering synthesized
// audio, role-tagged partial transcriptions, turn boundaries, interruptions,
// and errors.
//
// A [Dialer] opens at most one [Session] per call. Open suspends the caller
// until the server acknowledges the setup message or the handshake times
// out; audio capture must not begin until Open has returned.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Sentinel errors for the two transport failure classes. Both are fatal to
// the session they occur on; neither is retried automatically.
var (
	// ErrConnection reports a handshake failure or timeout during Open.
	ErrConnection = errors.New("transport: connection failed")

	// ErrSession reports a mid-session transport failure. It triggers full
	// session teardown in the controller.
	ErrSession = errors.New("transport: session failed")
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	defaultHandshakeTimeout = 10 * time.Second

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Event channel depth. Bursts beyond this apply backpressure to the
	// receive loop, which is acceptable: the consumer is a tight event loop.
	eventBuf = 64
)

// Config is the open-time configuration for a session.
type Config struct {
	// CaptureRate is the sample rate of outbound audio in Hz. Default 16000.
	CaptureRate int

	// PlaybackRate is the sample rate of inbound synthesized audio in Hz.
	// Default 24000.
	PlaybackRate int

	// Channels is the channel count for both directions. Default 1.
	Channels int

	// Voice is the prebuilt voice profile id for synthesized speech.
	Voice string

	// Instructions is the system instruction text for the agent.
	Instructions string

	// InputTranscription enables streamed transcription of caller audio.
	InputTranscription bool

	// OutputTranscription enables streamed transcription of agent audio.
	OutputTranscription bool

	// HandshakeTimeout bounds Open from dial to setup acknowledgment.
	// Default 10s.
	HandshakeTimeout time.Duration
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.CaptureRate <= 0 {
		c.CaptureRate = 16000
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = 24000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return c
}

// Option is a functional option for configuring a [Dialer].
type Option func(*Dialer)

// WithModel sets the agent model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// Dialer opens sessions to the remote agent endpoint.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// NewDialer creates a Dialer with the given API key and options.
func NewDialer(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open establishes a session: it dials the endpoint, sends the setup
// message, and blocks until the server's setupComplete acknowledgment
// arrives. Failure or timeout anywhere in that sequence yields an error
// wrapping [ErrConnection] and releases the connection.
//
// The returned Session is live: its receive loop is running and Events() is
// ready to be consumed.
func (d *Dialer) Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	hsCtx, hsCancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer hsCancel()

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, d.apiKey,
	)

	conn, _, err := websocket.Dial(hsCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		cfg:    cfg,
		events: make(chan Event, eventBuf),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(hsCtx, d.model); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: setup: %v", ErrConnection, err)
	}

	// Suspend until the server acknowledges the setup. The protocol allows
	// streaming before the ack, but capture must not start until the
	// handshake is known to have succeeded.
	if err := sess.awaitSetupComplete(hsCtx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("%w: handshake: %v", ErrConnection, err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}
