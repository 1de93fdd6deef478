package transport

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Socket.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting: "connecting",
	StateOpen:       "open",
	StateClosing:    "closing",
	StateClosed:     "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a failed or refused frame transmission.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// Options configures a Socket. OnFrame is invoked once per inbound text
// frame, in arrival order, on the socket's receive goroutine; it must
// not block, or the read path stalls. OnClose is invoked exactly once
// when the socket leaves Open, with the close status code (0 when the
// closure was local) and the transport error, if any.
type Options struct {
	Subprotocol      string
	HandshakeTimeout time.Duration
	OnFrame          func(raw []byte)
	OnClose          func(code int, err error)
}

// Socket is a persistent duplex connection to the gateway's streaming
// endpoint. It owns raw send/receive only; reconnection is the caller's
// concern.
type Socket struct {
	conn    *websocket.Conn
	opts    Options
	state   atomic.Int32
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Dial establishes the connection or fails with *ConnectError. The
// receive loop starts immediately.
func Dial(url string, opts Options) (*Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	if opts.Subprotocol != "" {
		dialer.Subprotocols = []string{opts.Subprotocol}
	}

	s := &Socket{opts: opts}
	s.state.Store(int32(StateConnecting))

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, &ConnectError{URL: url, Err: err}
	}
	s.conn = conn
	s.state.Store(int32(StateOpen))

	go s.readPump()
	return s, nil
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	return State(s.state.Load())
}

// Send transmits one text frame. Fails with *SendError when the socket
// is not Open or the write fails.
func (s *Socket) Send(payload []byte) error {
	if s.State() != StateOpen {
		return &SendError{Err: fmt.Errorf("socket %s", s.State())}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Close shuts the connection down. Idempotent and safe from any state.
func (s *Socket) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state.Store(int32(StateClosing))
	if s.conn == nil {
		s.state.Store(int32(StateClosed))
		return nil
	}

	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	if err != nil {
		log.Printf("ws close handshake: %v", err)
	}
	return s.conn.Close()
}

// readPump delivers inbound frames to the handler until the connection
// drops. It is the only reader of the connection.
func (s *Socket) readPump() {
	var closeCode int
	var closeErr error
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				closeCode = ce.Code
			}
			if s.State() == StateOpen {
				// Abnormal closure: the owner sees the error.
				closeErr = err
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if s.opts.OnFrame != nil {
			s.opts.OnFrame(data)
		}
	}

	s.state.Store(int32(StateClosed))
	if s.opts.OnClose != nil {
		s.opts.OnClose(closeCode, closeErr)
	}
}
