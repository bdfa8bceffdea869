// Package relay pairs one client websocket with one upstream transcription
// websocket and forwards frames between them verbatim.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxbridge/stt-relay/internal/observability"
)

const writeWait = 5 * time.Second

// Close reasons originated by the relay itself. Upstream-originated close
// codes and reasons are never rewritten; these apply only where the relay is
// the side that detected the condition.
const (
	ClientClosedReason    = "client closed connection"
	ShutdownReason        = "server shutting down"
	UpstreamErrorReason   = "upstream transport error"
	UpstreamConnectReason = "failed to reach transcription service"
)

const (
	directionUpstream = "upstream"
	directionClient   = "client"
)

// sessionState is the tagged state of the relay state machine. States are
// never re-entered.
type sessionState int

const (
	stateOpening sessionState = iota // client accepted, upstream handshake in flight
	stateActive                      // bidirectional forwarding enabled
	stateClosing                     // either side initiated close
	stateClosed                      // terminal
)

func (s sessionState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the live pairing of one client connection and one upstream
// connection. The upstream connection is opened for exactly this session and
// never shared or reused.
type Session struct {
	id          string
	client      *websocket.Conn
	dialer      *websocket.Dialer
	upstreamURL string
	opts        Options
	deregister  func(string)
	logger      zerolog.Logger
	startedAt   time.Time

	mu                sync.Mutex
	state             sessionState
	upstream          *websocket.Conn // nil until the upstream handshake completes
	clientCloseSent   bool
	upstreamCloseSent bool
	clientClosed      bool
	upstreamClosed    bool

	done chan struct{}
}

// NewSession creates a relay session for an already-upgraded client
// connection. The upstream connection is not dialed until Run.
func NewSession(client *websocket.Conn, dialer *websocket.Dialer, upstreamURL string, opts Options, deregister func(string)) *Session {
	id := uuid.New().String()
	if deregister == nil {
		deregister = func(string) {}
	}
	return &Session{
		id:          id,
		client:      client,
		dialer:      dialer,
		upstreamURL: upstreamURL,
		opts:        opts,
		deregister:  deregister,
		logger:      observability.SessionLogger(id),
		startedAt:   time.Now(),
		state:       stateOpening,
		done:        make(chan struct{}),
	}
}

// ID returns the registry identifier for this session
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session reaches its terminal state
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the current state of the session state machine
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// Run drives the session until both channels are closed. It blocks the
// calling goroutine; the upstream leg runs on its own goroutine.
func (s *Session) Run() {
	observability.RecordSessionStart()
	defer observability.RecordSessionEnd(s.startedAt)
	defer close(s.done)
	defer s.client.Close()

	s.logger.Info().
		Str("model", orDefault(s.opts.Model, DefaultModel)).
		Str("language", orDefault(s.opts.Language, DefaultLanguage)).
		Msg("Relay session opening")

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		s.runUpstream()
	}()

	s.readClientLoop()

	// Client leg is gone, whether client-initiated or forced by the upstream
	// close path. Deregistration happens here, on the client-close path.
	s.markClientClosed()
	s.closeUpstream(websocket.CloseNormalClosure, ClientClosedReason)
	s.deregister(s.id)

	<-upstreamDone

	s.logger.Info().Msg("Relay session closed")
}

// Shutdown closes both channels of the session. Safe to call from any
// goroutine and at any point in the session lifecycle.
func (s *Session) Shutdown() {
	s.closeUpstream(websocket.CloseGoingAway, ShutdownReason)
	s.closeClient(websocket.CloseGoingAway, ShutdownReason)
}

// runUpstream dials the upstream service and, on success, pumps its frames to
// the client until the upstream channel closes.
func (s *Session) runUpstream() {
	defer s.markUpstreamClosed()

	conn, _, err := s.dialer.Dial(s.upstreamURL, nil)
	if err != nil {
		observability.RecordUpstreamDialFailure()
		s.logger.Warn().Err(err).Msg("Upstream handshake failed")
		s.closeClient(websocket.CloseInternalServerErr, UpstreamConnectReason)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	if s.state != stateOpening {
		// Client went away while the handshake was in flight.
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ClientClosedReason),
			time.Now().Add(writeWait))
		return
	}
	s.upstream = conn
	s.state = stateActive
	s.mu.Unlock()

	s.logger.Debug().Msg("Upstream handshake complete, relay active")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.handleUpstreamClosed(err)
			return
		}
		s.forwardToClient(mt, data)
	}
}

// readClientLoop pumps client frames to the upstream channel until the client
// connection closes.
func (s *Session) readClientLoop() {
	for {
		mt, data, err := s.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("Client read error")
			} else {
				s.logger.Debug().Err(err).Msg("Client channel closed")
			}
			return
		}
		s.forwardToUpstream(mt, data)
	}
}

// forwardToUpstream relays one client frame verbatim, preserving its framing.
// Frames arriving before the upstream handshake completes, or after closing
// begins, are dropped rather than queued.
func (s *Session) forwardToUpstream(messageType int, data []byte) {
	s.mu.Lock()
	conn := s.upstream
	active := s.state == stateActive
	s.mu.Unlock()

	if !active || conn == nil {
		observability.RecordDrop(directionUpstream)
		return
	}

	if err := conn.WriteMessage(messageType, data); err != nil {
		// The upstream reader observes the same failure and drives cleanup.
		s.logger.Debug().Err(err).Msg("Dropped frame on upstream write")
		observability.RecordDrop(directionUpstream)
		return
	}
	observability.RecordForward(directionUpstream, len(data))
}

// forwardToClient relays one upstream frame verbatim, preserving its framing.
// Delivery is best effort: a client that has already disconnected is cleaned
// up by the client-close path, so the write error is discarded here.
func (s *Session) forwardToClient(messageType int, data []byte) {
	s.mu.Lock()
	active := s.state == stateActive
	s.mu.Unlock()

	if !active {
		observability.RecordDrop(directionClient)
		return
	}

	if err := s.client.WriteMessage(messageType, data); err != nil {
		// Deliberately discarded: the client-close path follows and cleans up
		observability.RecordDrop(directionClient)
		return
	}
	observability.RecordForward(directionClient, len(data))
}

// handleUpstreamClosed propagates an upstream close or error to the client.
// A clean upstream close carries its code and reason to the client verbatim;
// a transport error maps to an abnormal closure with a relay diagnostic.
func (s *Session) handleUpstreamClosed(err error) {
	s.mu.Lock()
	s.upstreamCloseSent = true // the upstream drove its own close sequence
	if s.state == stateActive {
		s.state = stateClosing
	}
	s.mu.Unlock()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.logger.Info().Int("code", ce.Code).Str("reason", ce.Text).Msg("Upstream channel closed")
		s.closeClient(ce.Code, ce.Text)
		return
	}

	s.logger.Warn().Err(err).Msg("Upstream transport error")
	s.closeClient(websocket.CloseInternalServerErr, UpstreamErrorReason)
}

// closeClient sends a close frame to the client and closes the connection.
// Only the first close attempt per side wins, so whichever side closes first
// drives the code and reason seen by the other.
func (s *Session) closeClient(code int, reason string) {
	s.mu.Lock()
	if s.clientCloseSent || s.clientClosed {
		s.mu.Unlock()
		return
	}
	s.clientCloseSent = true
	if s.state == stateOpening || s.state == stateActive {
		s.state = stateClosing
	}
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.client.Close()
}

// closeUpstream sends a close frame to the upstream service and closes the
// connection. If the handshake has not completed yet, the state transition
// alone makes runUpstream discard the connection when the dial returns.
func (s *Session) closeUpstream(code int, reason string) {
	s.mu.Lock()
	conn := s.upstream
	if conn == nil || s.upstreamCloseSent || s.upstreamClosed {
		if s.state == stateOpening {
			s.state = stateClosing
		}
		s.mu.Unlock()
		return
	}
	s.upstreamCloseSent = true
	if s.state == stateOpening || s.state == stateActive {
		s.state = stateClosing
	}
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (s *Session) markClientClosed() {
	s.mu.Lock()
	s.clientClosed = true
	s.finishLocked()
	s.mu.Unlock()
}

func (s *Session) markUpstreamClosed() {
	s.mu.Lock()
	s.upstreamClosed = true
	s.finishLocked()
	s.mu.Unlock()
}

// finishLocked enters the terminal state once both channels report closed
func (s *Session) finishLocked() {
	if s.clientClosed && s.upstreamClosed && s.state != stateClosed {
		s.state = stateClosed
	}
}
