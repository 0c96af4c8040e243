package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/jsoncodec"
)

const (
	// Time allowed for the opening handshake.
	dialTimeout = 10 * time.Second

	// Time allowed to write the close frame on Disconnect.
	closeWait = time.Second
)

// ErrNotOpen is returned by Send when the channel has no open connection.
var ErrNotOpen = errors.New("realtime: channel not open")

// Client is a reconnecting connection to one push channel.
type Client struct {
	name     string
	endpoint Endpoint
	dialer   Dialer
	policy   ReconnectPolicy
	logger   *zap.Logger
	metrics  *Metrics

	mu sync.Mutex
	// session is bumped on every dial and on Disconnect. Goroutines and
	// timers capture it and do nothing once it has moved on.
	session     uint64
	state       State
	conn        Conn
	connID      string
	token       string
	attempts    int
	exhausted   bool
	lastCode    int
	parseErrors uint64
	timer       *time.Timer
	listeners   map[Listener]struct{}
	order       []Listener
	watchers    map[int]func(Status)
	nextWatcher int

	// gorilla/websocket supports one concurrent writer.
	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithPolicy(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p.withDefaults() }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates an idle client for the channel at endpoint.
func NewClient(name string, endpoint Endpoint, opts ...Option) *Client {
	c := &Client{
		name:      name,
		endpoint:  endpoint,
		dialer:    WebSocketDialer{},
		policy:    DefaultPolicy(),
		logger:    zap.NewNop(),
		listeners: make(map[Listener]struct{}),
		watchers:  make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("channel", name))
	return c
}

func (c *Client) Name() string { return c.name }

// Connect opens the channel with token. It returns immediately; the dial
// happens in the background. Connect is a no-op while a connection is open
// or being established. An explicit Connect resets the reconnect budget.
func (c *Client) Connect(token string) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		c.logger.Debug("connect ignored, channel already active")
		return
	}
	if token == "" {
		c.mu.Unlock()
		c.logger.Warn("connect skipped, no access token")
		return
	}

	c.stopTimerLocked()
	c.token = token
	c.attempts = 0
	c.exhausted = false
	if err := c.dialLocked(); err != nil {
		c.mu.Unlock()
		c.logger.Error("connect failed", zap.Error(err))
		return
	}
	c.mu.Unlock()
	c.notify()
}

// Subscribe adds l to the listener set and returns a function removing it.
// Subscribing a listener that is already present does nothing; the returned
// function still removes it. Calling the returned function more than once is
// harmless.
//
// Listeners whose dynamic type is not comparable (a struct holding a func
// or a slice, say) cannot be told apart, so each Subscribe call registers
// them again. Pass a pointer, or keep the value returned by Func, to get
// set semantics.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	if !isComparable(l) {
		c.logger.Debug("listener type is not comparable, subscribing a wrapper")
		l = Func(l.OnMessage)
	}

	c.mu.Lock()
	if _, ok := c.listeners[l]; !ok {
		c.listeners[l] = struct{}{}
		c.order = append(c.order, l)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(l) })
	}
}

func (c *Client) unsubscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listeners[l]; !ok {
		return
	}
	delete(c.listeners, l)
	for i, existing := range c.order {
		if existing == l {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
}

// Disconnect closes the connection with a normal close, drops every
// listener and cancels any pending reconnect. The client can be connected
// again afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.session++
	session := c.session
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.connID = ""
	c.token = ""
	c.attempts = 0
	c.exhausted = false
	clear(c.listeners)
	c.order = nil
	if conn != nil {
		c.state = StateClosing
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if conn != nil {
		c.notify()
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Normal Closure")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
			c.logger.Debug("close frame not sent", zap.Error(err))
		}
		c.writeMu.Unlock()
		conn.Close()

		c.mu.Lock()
		if c.session == session {
			c.state = StateIdle
		}
		c.mu.Unlock()
	}

	c.logger.Info("disconnected")
	c.notify()
}

// Send serializes payload and writes it as a text frame. Strings and byte
// slices are sent as-is. When the channel is not open the message is
// dropped and ErrNotOpen returned.
func (c *Client) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen && conn != nil
	state := c.state
	c.mu.Unlock()

	if !open {
		c.metrics.droppedSend(c.name)
		c.logger.Warn("send dropped, channel not open", zap.Stringer("state", state))
		return ErrNotOpen
	}

	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		var err error
		if data, err = jsoncodec.Marshal(payload); err != nil {
			return fmt.Errorf("encode outbound message: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to %s: %w", c.name, err)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listeners returns the number of subscribed listeners.
func (c *Client) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Status returns a snapshot of the client.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// WatchStatus calls fn after every state change until cancel is called.
// fn runs on the goroutine that caused the change and must not block.
func (c *Client) WatchStatus(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Client) statusLocked() Status {
	return Status{
		Channel:       c.name,
		State:         c.state,
		StateName:     c.state.String(),
		Attempt:       c.attempts,
		MaxAttempts:   c.policy.MaxAttempts,
		Exhausted:     c.exhausted,
		LastCloseCode: c.lastCode,
		ParseErrors:   c.parseErrors,
		Listeners:     len(c.order),
	}
}

func (c *Client) notify() {
	c.mu.Lock()
	status := c.statusLocked()
	watchers := make([]func(Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	c.metrics.setState(c.name, status.State)
	for _, fn := range watchers {
		fn(status)
	}
}

// dialLocked starts a dial for a new session. c.mu must be held.
func (c *Client) dialLocked() error {
	url, err := c.endpoint.URL(c.token)
	if err != nil {
		return err
	}
	c.session++
	c.state = StateConnecting
	go c.dial(c.session, url)
	return nil
}

func (c *Client) dial(session uint64, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	c.logger.Debug("dialing", zap.String("url", redact(url)))
	conn, err := c.dialer.Dial(ctx, url)

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("dial failed", zap.Error(err))
		c.closedLocked(websocket.CloseAbnormalClosure)
		c.mu.Unlock()
		c.notify()
		return
	}

	c.conn = conn
	c.connID = uuid.NewString()
	c.state = StateOpen
	c.attempts = 0
	c.exhausted = false
	c.lastCode = 0
	connID := c.connID
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("conn_id", connID))
	c.notify()
	go c.readLoop(session, conn)
}

func (c *Client) readLoop(session uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(session, conn, err)
			return
		}
		if !c.dispatch(session, data) {
			return
		}
	}
}

// dispatch delivers one frame to a snapshot of the listener set. It reports
// false once the session is stale.
func (c *Client) dispatch(session uint64, data []byte) bool {
	msg, err := parseMessage(data)

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return false
	}
	if err != nil {
		c.parseErrors++
		c.mu.Unlock()
		c.metrics.parseError(c.name)
		c.logger.Warn("dropping malformed message", zap.Error(err))
		return true
	}
	snapshot := append([]Listener(nil), c.order...)
	c.mu.Unlock()

	c.metrics.message(c.name)
	for _, l := range snapshot {
		c.deliver(l, msg)
	}
	return true
}

func (c *Client) deliver(l Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", zap.String("kind", msg.Kind), zap.Any("panic", r))
		}
	}()
	l.OnMessage(msg)
}

func (c *Client) lost(session uint64, conn Conn, err error) {
	code := closeCode(err)

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connID = ""
	c.closedLocked(code)
	c.mu.Unlock()

	conn.Close()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("connection lost", zap.Int("code", code), zap.Error(err))
	} else {
		c.logger.Info("connection closed", zap.Int("code", code))
	}
	c.notify()
}

// closedLocked records a close and schedules a reconnect when the code and
// the remaining budget allow it. c.mu must be held.
func (c *Client) closedLocked(code int) {
	c.state = StateClosed
	c.lastCode = code

	if c.policy.terminal(code) {
		return
	}
	if c.attempts >= c.policy.MaxAttempts {
		c.exhausted = true
		c.metrics.exhausted(c.name)
		c.logger.Warn("reconnect attempts exhausted",
			zap.Int("attempts", c.attempts),
			zap.Int("last_code", code))
		return
	}

	c.attempts++
	delay := c.policy.delay(c.attempts)
	session := c.session
	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.policy.MaxAttempts),
		zap.Duration("delay", delay))
	c.timer = time.AfterFunc(delay, func() { c.reconnect(session) })
}

func (c *Client) reconnect(session uint64) {
	c.mu.Lock()
	if c.session != session || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if err := c.dialLocked(); err != nil {
		c.mu.Unlock()
		c.logger.Error("reconnect failed", zap.Error(err))
		return
	}
	c.mu.Unlock()

	c.metrics.reconnect(c.name)
	c.notify()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
