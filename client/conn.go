package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quii/vue-fast-sub001/models"
)

const (
	DefaultBaseDelay      = time.Second
	DefaultMaxAttempts    = 5
	DefaultOpenTimeout    = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second

	writeWait = 10 * time.Second
)

// Status drives the connection indicator.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

type EventKind string

const (
	EventConnecting         EventKind = "connecting"
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventReconnectScheduled EventKind = "reconnect_scheduled"
	EventReconnectFailed    EventKind = "reconnect_failed"
	EventError              EventKind = "error"
)

// StateEvent is emitted on every connection state transition.
type StateEvent struct {
	Kind    EventKind
	Status  Status
	Attempt int
	Delay   time.Duration
	Err     error
}

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Options struct {
	BaseDelay      time.Duration
	MaxAttempts    int
	OpenTimeout    time.Duration
	RequestTimeout time.Duration
	Scheduler      Scheduler
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Scheduler == nil {
		o.Scheduler = timeScheduler{}
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type result struct {
	env models.Envelope
	err error
}

// Conn is a persistent realtime connection with request correlation and
// bounded exponential-backoff reconnection.
//
// The reconnect loop is a small state machine: a close of an established
// connection schedules attempt 1 after BaseDelay; every failed attempt n
// schedules attempt n+1 after BaseDelay*2^n until MaxAttempts is exceeded,
// at which point EventReconnectFailed is emitted and nothing further happens
// until Connect is called again.
type Conn struct {
	url    string
	opts   Options
	logger *slog.Logger

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu            sync.Mutex
	ws            *websocket.Conn
	status        Status
	attempts      int
	timer         Timer
	closed        bool
	pending       map[string]chan result
	subscriptions map[string]bool

	states        chan StateEvent
	notifications chan models.Notification
}

func NewConn(url string, opts Options) *Conn {
	opts.setDefaults()
	return &Conn{
		url:           url,
		opts:          opts,
		logger:        opts.Logger,
		status:        StatusDisconnected,
		pending:       make(map[string]chan result),
		subscriptions: make(map[string]bool),
		states:        make(chan StateEvent, 64),
		notifications: make(chan models.Notification, 256),
	}
}

func (c *Conn) States() <-chan StateEvent {
	return c.states
}

func (c *Conn) Notifications() <-chan models.Notification {
	return c.notifications
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect opens the connection, resetting a previously exhausted reconnect loop.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Conn) dial(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()
	c.emit(StateEvent{Kind: EventConnecting, Status: StatusConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	ws, _, err := c.opts.Dialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.mu.Unlock()
		err = fmt.Errorf("failed to connect to %s: %w", c.url, err)
		c.emit(StateEvent{Kind: EventError, Status: StatusError, Err: err})
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrConnectionClosed
	}
	c.ws = ws
	c.status = StatusConnected
	c.attempts = 0
	codes := make([]string, 0, len(c.subscriptions))
	for code := range c.subscriptions {
		codes = append(codes, code)
	}
	c.mu.Unlock()

	go c.readLoop(ws)
	c.logger.Info("realtime connection established", slog.String("url", c.url))
	c.emit(StateEvent{Kind: EventConnected, Status: StatusConnected})

	for _, code := range codes {
		go c.resubscribe(code)
	}
	return nil
}

func (c *Conn) resubscribe(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if _, err := c.SendRequest(ctx, models.Envelope{Type: models.EnvelopeSubscribe, ShootCode: code}); err != nil {
		c.logger.Warn("failed to resubscribe", slog.String("code", code), slog.Any("error", err))
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed frame", slog.Any("error", err))
			continue
		}

		switch env.Type {
		case models.EnvelopeNotification:
			var n models.Notification
			if err := json.Unmarshal(env.Data, &n); err != nil {
				c.logger.Warn("discarding malformed notification", slog.Any("error", err))
				continue
			}
			select {
			case c.notifications <- n:
			default:
				c.logger.Warn("notification buffer full, dropping", slog.String("code", n.ShootCode))
			}
		case models.EnvelopeResponse, models.EnvelopeError:
			c.settle(env)
		default:
			c.logger.Debug("ignoring frame", slog.String("type", string(env.Type)))
		}
	}
}

func (c *Conn) settle(env models.Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.RequestID]
	delete(c.pending, env.RequestID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("discarding response for unknown request", slog.String("request_id", env.RequestID))
		return
	}
	ch <- result{env: env}
}

// handleClose runs when the read side of ws fails. A connection replaced or
// closed locally in the meantime is ignored.
func (c *Conn) handleClose(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.status = StatusDisconnected
	pending := c.takePending()
	c.mu.Unlock()
	ws.Close()

	rejectAll(pending)
	c.logger.Warn("realtime connection lost", slog.Any("error", cause))
	c.emit(StateEvent{Kind: EventDisconnected, Status: StatusDisconnected, Err: cause})
	c.scheduleReconnect()
}

func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.opts.MaxAttempts {
		c.status = StatusError
		c.mu.Unlock()
		c.logger.Error("giving up on realtime connection", slog.Int("attempts", c.opts.MaxAttempts))
		c.emit(StateEvent{Kind: EventReconnectFailed, Status: StatusError, Attempt: attempt - 1, Err: ErrReconnectExhausted})
		return
	}
	delay := backoffDelay(c.opts.BaseDelay, attempt)
	c.timer = c.opts.Scheduler.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", slog.Int("attempt", attempt), slog.Duration("delay", delay))
	c.emit(StateEvent{Kind: EventReconnectScheduled, Status: StatusDisconnected, Attempt: attempt, Delay: delay})
}

func (c *Conn) reconnect() {
	c.mu.Lock()
	c.timer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.dial(context.Background()); err != nil {
		c.scheduleReconnect()
	}
}

// backoffDelay is base*2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// SendRequest assigns a request id, sends env and waits for the matching
// response. It connects lazily. Error envelopes are returned as *RemoteError.
// Cancelling ctx abandons the wait locally; the server may still apply the
// request.
func (c *Conn) SendRequest(ctx context.Context, env models.Envelope) (models.Envelope, error) {
	if err := c.dial(ctx); err != nil {
		return models.Envelope{}, err
	}

	env.RequestID = uuid.NewString()
	ch := make(chan result, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return models.Envelope{}, ErrConnectionClosed
	}
	c.pending[env.RequestID] = ch
	c.mu.Unlock()

	if err := c.write(ws, env); err != nil {
		c.dropPending(env.RequestID)
		return models.Envelope{}, fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return models.Envelope{}, res.err
		}
		if res.env.Type == models.EnvelopeError {
			var payload models.ErrorPayload
			if err := json.Unmarshal(res.env.Data, &payload); err != nil {
				return models.Envelope{}, fmt.Errorf("malformed error reply: %w", err)
			}
			return models.Envelope{}, &RemoteError{Code: payload.Code, Message: payload.Message}
		}
		return res.env, nil
	case <-timer.C:
		c.dropPending(env.RequestID)
		return models.Envelope{}, ErrRequestTimeout
	case <-ctx.Done():
		c.dropPending(env.RequestID)
		return models.Envelope{}, ctx.Err()
	}
}

func (c *Conn) write(ws *websocket.Conn, env models.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(env)
}

func (c *Conn) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// takePending requires c.mu to be held.
func (c *Conn) takePending() map[string]chan result {
	pending := c.pending
	c.pending = make(map[string]chan result)
	return pending
}

func rejectAll(pending map[string]chan result) {
	for _, ch := range pending {
		ch <- result{err: ErrConnectionClosed}
	}
}

// Subscribe starts receiving notifications for code and returns its snapshot.
// The subscription is renewed after every reconnect.
func (c *Conn) Subscribe(ctx context.Context, code string) (*models.Shoot, error) {
	c.remember(code)
	reply, err := c.SendRequest(ctx, models.Envelope{Type: models.EnvelopeSubscribe, ShootCode: code})
	if err != nil {
		if isNotFound(err) {
			c.forget(code)
		}
		return nil, err
	}
	return decodeShoot(reply)
}

func (c *Conn) Unsubscribe(ctx context.Context, code string) error {
	c.forget(code)
	_, err := c.SendRequest(ctx, models.Envelope{Type: models.EnvelopeUnsubscribe, ShootCode: code})
	return err
}

func (c *Conn) remember(code string) {
	c.mu.Lock()
	c.subscriptions[code] = true
	c.mu.Unlock()
}

func (c *Conn) forget(code string) {
	c.mu.Lock()
	delete(c.subscriptions, code)
	c.mu.Unlock()
}

// Close shuts the connection down without reconnecting and rejects every
// pending request with ErrConnectionClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	c.status = StatusDisconnected
	pending := c.takePending()
	c.mu.Unlock()

	rejectAll(pending)
	if ws == nil {
		return nil
	}
	c.writeMu.Lock()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := ws.Close()
	c.emit(StateEvent{Kind: EventDisconnected, Status: StatusDisconnected})
	return err
}

func (c *Conn) emit(ev StateEvent) {
	select {
	case c.states <- ev:
	default:
		c.logger.Debug("state event dropped", slog.String("kind", string(ev.Kind)))
	}
}

func decodeShoot(env models.Envelope) (*models.Shoot, error) {
	var resp models.ShootResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, fmt.Errorf("malformed shoot reply: %w", err)
	}
	if resp.Shoot == nil {
		return nil, fmt.Errorf("reply to %s carried no shoot", env.Type)
	}
	return resp.Shoot, nil
}
