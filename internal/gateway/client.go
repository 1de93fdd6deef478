package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/janus-scope/backend/internal/metrics"
)

// Plugin identifies a gateway plugin a handle can attach to.
type Plugin string

const (
	PluginVideoRoom   Plugin = "janus.plugin.videoroom"
	PluginStreaming   Plugin = "janus.plugin.streaming"
	PluginSIP         Plugin = "janus.plugin.sip"
	PluginAudioBridge Plugin = "janus.plugin.audiobridge"
	PluginRecordPlay  Plugin = "janus.plugin.recordplay"
	PluginVoiceMail   Plugin = "janus.plugin.voicemail"
)

// State is the session manager's lifecycle state. Invalid is terminal;
// recovery requires a new Client instance.
type State int

const (
	StateUninitialized State = iota
	StateOpening
	StateOpen
	StateInvalid
	StateClosed
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateOpening:       "opening",
	StateOpen:          "open",
	StateInvalid:       "invalid",
	StateClosed:        "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Session is the gateway-side control-plane context. Callers must treat
// it as a snapshot, valid until the next session-lost notification.
type Session struct {
	ID            int64
	CreatedAt     time.Time
	LastKeepalive time.Time
}

// Handle is a plugin attachment within a session.
type Handle struct {
	ID        int64
	SessionID int64
	Plugin    Plugin
}

// Observer is notified when the session is declared lost.
type Observer interface {
	OnSessionLost(err error)
}

// Config holds the REST endpoint settings.
type Config struct {
	URL         string
	APISecret   string
	AdminKey    string
	AdminSecret string

	// SessionTimeout is the gateway's idle-session timeout. The
	// keepalive interval must stay strictly below it; when
	// KeepaliveInterval is zero, SessionTimeout/2 is used.
	SessionTimeout    time.Duration
	KeepaliveInterval time.Duration

	// KeepaliveFailureLimit is the number of consecutive keepalive
	// failures tolerated before the session is declared lost.
	KeepaliveFailureLimit int

	HTTPTimeout time.Duration
}

func (c *Config) keepaliveInterval() time.Duration {
	if c.KeepaliveInterval > 0 {
		return c.KeepaliveInterval
	}
	timeout := c.SessionTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return timeout / 2
}

func (c *Config) failureLimit() int {
	if c.KeepaliveFailureLimit > 0 {
		return c.KeepaliveFailureLimit
	}
	return 3
}

// Client is the REST session manager: it creates and keeps alive one
// gateway session, attaches plugin handles, and issues plugin commands.
// All session/handle state is mutated under the client's own lock; the
// keepalive loop is the only background activity.
type Client struct {
	cfg  Config
	http *http.Client

	mu        sync.Mutex
	state     State
	session   *Session
	handles   map[int64]*Handle
	observers []Observer

	stopKeepalive chan struct{}
	keepaliveDone chan struct{}
}

func NewClient(cfg Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		handles: make(map[int64]*Handle),
	}
}

// RegisterObserver adds an observer for session-lost notifications.
func (c *Client) RegisterObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the current session, if one is open.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Open issues a create-session transaction and starts the keepalive
// loop. At most one session lives per client: the state moves to
// Opening before the transaction goes out, so a concurrent Open fails
// instead of creating a second session.
func (c *Client) Open(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return Session{}, &SetupError{Err: fmt.Errorf("client is %s", c.state)}
	}
	c.state = StateOpening
	c.mu.Unlock()

	resp, err := c.post(ctx, map[string]any{"janus": "create"})
	if err != nil {
		c.reopenable()
		return Session{}, &SetupError{Err: err}
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		c.reopenable()
		return Session{}, &SetupError{Err: fmt.Errorf("no session id in response")}
	}

	now := time.Now()
	session := &Session{ID: resp.Data.ID, CreatedAt: now, LastKeepalive: now}

	c.mu.Lock()
	if c.state != StateOpening {
		// Closed while the create was in flight. The session just made
		// is an orphan; tear it down and report the current state.
		state := c.state
		c.mu.Unlock()
		c.destroySession(session.ID)
		return Session{}, &SetupError{Err: fmt.Errorf("client is %s", state)}
	}
	c.state = StateOpen
	c.session = session
	c.stopKeepalive = make(chan struct{})
	c.keepaliveDone = make(chan struct{})
	go c.keepaliveLoop(session.ID, c.stopKeepalive, c.keepaliveDone)
	c.mu.Unlock()

	log.Printf("gateway session %d created", session.ID)
	return *session, nil
}

// reopenable rolls a failed Open back so a later attempt may retry.
func (c *Client) reopenable() {
	c.mu.Lock()
	if c.state == StateOpening {
		c.state = StateUninitialized
	}
	c.mu.Unlock()
}

// Attach creates a plugin handle on the open session.
func (c *Client) Attach(ctx context.Context, plugin Plugin) (Handle, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return Handle{}, &AttachError{Plugin: plugin, Err: ErrSessionNotOpen}
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	resp, err := c.post(ctx, map[string]any{
		"janus":      "attach",
		"session_id": sessionID,
		"plugin":     string(plugin),
	})
	if err != nil {
		return Handle{}, &AttachError{Plugin: plugin, Err: err}
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		return Handle{}, &AttachError{Plugin: plugin, Err: fmt.Errorf("no handle id in response")}
	}

	handle := Handle{ID: resp.Data.ID, SessionID: sessionID, Plugin: plugin}
	c.mu.Lock()
	c.handles[handle.ID] = &handle
	c.mu.Unlock()

	log.Printf("plugin handle %d attached (%s)", handle.ID, plugin)
	return handle, nil
}

// SendCommand issues a plugin message transaction on the handle and
// returns the raw decoded response for the plugin layer to interpret.
func (c *Client) SendCommand(ctx context.Context, handle Handle, body any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return nil, &CommandError{Err: ErrSessionNotOpen}
	}
	c.mu.Unlock()

	resp, err := c.post(ctx, map[string]any{
		"janus":      "message",
		"session_id": handle.SessionID,
		"handle_id":  handle.ID,
		"body":       body,
	})
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return nil, err
		}
		// Transport or decode failure: callers still see a command
		// error, with the cause reachable through Unwrap.
		return nil, &CommandError{Err: err}
	}
	return resp.raw, nil
}

// Close tears the session down: the keepalive loop stops, a best-effort
// destroy transaction is sent, and the state becomes Closed. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = StateClosed
	session := c.session
	c.session = nil
	stop, done := c.stopKeepalive, c.keepaliveDone
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if prev == StateOpen && session != nil {
		c.destroySession(session.ID)
	}
	return nil
}

// destroySession sends a best-effort destroy transaction.
func (c *Client) destroySession(sessionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.post(ctx, map[string]any{
		"janus":      "destroy",
		"session_id": sessionID,
	}); err != nil {
		log.Printf("session destroy: %v", err)
	}
}

// keepaliveLoop posts keepalive transactions until stopped or the
// consecutive-failure limit is hit, at which point the session becomes
// Invalid and observers hear ErrSessionLost exactly once. The manager
// never silently reopens a session.
func (c *Client) keepaliveLoop(sessionID int64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := c.cfg.keepaliveInterval()
	limit := c.cfg.failureLimit()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		_, err := c.post(ctx, map[string]any{
			"janus":      "keepalive",
			"session_id": sessionID,
		})
		cancel()

		if err == nil {
			failures = 0
			c.mu.Lock()
			if c.session != nil && c.session.ID == sessionID {
				c.session.LastKeepalive = time.Now()
			}
			c.mu.Unlock()
			continue
		}

		failures++
		metrics.KeepaliveFailures.Inc()
		log.Printf("keepalive failed (%d/%d): %v", failures, limit, err)
		if failures < limit {
			continue
		}

		c.invalidate()
		return
	}
}

// invalidate transitions Open -> Invalid and notifies observers once.
func (c *Client) invalidate() {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateInvalid
	c.session = nil
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	metrics.SessionsLost.Inc()
	log.Printf("gateway session declared lost")
	for _, o := range observers {
		o.OnSessionLost(ErrSessionLost)
	}
}

type apiError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type wireResponse struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	Data        *struct {
		ID int64 `json:"id"`
	} `json:"data"`
	Error *apiError `json:"error"`

	raw json.RawMessage
}

// post issues one correlated transaction. Secrets configured for the
// gateway are attached to every request.
func (c *Client) post(ctx context.Context, fields map[string]any) (*wireResponse, error) {
	fields["transaction"] = uuid.NewString()
	if c.cfg.APISecret != "" {
		fields["apisecret"] = c.cfg.APISecret
	}
	if c.cfg.AdminKey != "" {
		fields["admin_key"] = c.cfg.AdminKey
	}
	if c.cfg.AdminSecret != "" {
		fields["admin_secret"] = c.cfg.AdminSecret
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &CommandError{StatusCode: httpResp.StatusCode, Body: body}
	}

	resp := &wireResponse{raw: body}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Janus == "error" || resp.Error != nil {
		cmdErr := &CommandError{StatusCode: httpResp.StatusCode, Body: body}
		if resp.Error != nil {
			cmdErr.Code = resp.Error.Code
			cmdErr.Reason = resp.Error.Reason
		}
		return nil, cmdErr
	}
	return resp, nil
}
