package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

const writeTimeout = 10 * time.Second

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

var stateNames = map[ConnectionState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
}

func (cs ConnectionState) String() string {
	if name, ok := stateNames[cs]; ok {
		return name
	}
	return "unknown"
}

// StatusFunc reports agent-side figures carried by heartbeats
type StatusFunc func() (bufferSize, deviceCount int)

// ConfigFunc is invoked when the server pushes a config message
type ConfigFunc func(models.ConfigMessage)

// ConnectionConfig holds configuration for the connection. Zero
// durations take defaults in NewConnection.
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// Connection keeps one agent's websocket stream to the server alive.
//
// Every connection starts with a heartbeat that registers the agent.
// After that a heartbeat goes out each PingInterval, and the link is
// considered dead once no ack has arrived for PingInterval+PongTimeout.
type Connection struct {
	cfg      ConnectionConfig
	agent    *models.AgentInfo
	logger   zerolog.Logger
	status   StatusFunc
	onConfig ConfigFunc
	retry    *backoff

	mu    sync.RWMutex
	ws    *websocket.Conn
	state ConnectionState

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
	lastAck atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a connection manager; nothing is dialed until
// Connect or Run.
func NewConnection(config ConnectionConfig, agent *models.AgentInfo, logger zerolog.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 10 * time.Second
	}
	return &Connection{
		cfg:    config,
		agent:  agent,
		logger: logger.With().Str("component", "connection").Str("agent_id", agent.ID).Logger(),
		status: func() (int, int) { return 0, 0 },
		retry:  newBackoff(config.ReconnectInterval, config.MaxReconnectInterval),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// SetStatusFunc sets the source of heartbeat buffer and device counts.
// Call it before Run.
func (c *Connection) SetStatusFunc(fn StatusFunc) {
	if fn != nil {
		c.status = fn
	}
}

// OnConfig registers a handler for server pushed configuration.
// Call it before Run.
func (c *Connection) OnConfig(fn ConfigFunc) {
	c.onConfig = fn
}

func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.logger.Debug().Stringer("state", state).Msg("Connection state changed")
}

func (c *Connection) socket() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws
}

// Connect dials the server and registers the agent with an initial
// heartbeat. A successful connect resets the reconnect backoff.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.cfg.URL).Msg("Connecting to server")

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + c.cfg.AuthToken}}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", c.cfg.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()
	c.retry.reset()

	if err := c.sendHeartbeat(); err != nil {
		c.drop(ws)
		return fmt.Errorf("register: %w", err)
	}
	c.logger.Info().Msg("Connected to server")
	return nil
}

// Run keeps the connection up until ctx is cancelled or Close is called,
// redialing with exponential backoff. It returns ctx.Err() on
// cancellation and nil after Close.
func (c *Connection) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
		} else {
			c.serve(ctx)
			c.logger.Info().Msg("Connection lost")
		}

		delay := c.retry.next()
		c.logger.Info().Dur("delay", delay).Msg("Waiting before reconnect")
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.done:
			timer.Stop()
			return nil
		}
	}
}

// serve pumps the current socket until it fails, ctx ends or Close is
// called. Heartbeats run on the calling goroutine.
func (c *Connection) serve(ctx context.Context) {
	ws := c.socket()
	if ws == nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		c.readLoop(ctx, ws)
	}()

	c.heartbeatLoop(ctx)
	cancel()
	// unblocks ReadJSON
	ws.Close()
	<-readDone
	c.drop(ws)
}

// drop forgets ws if it is still the current socket
func (c *Connection) drop(ws *websocket.Conn) {
	ws.Close()
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

func (c *Connection) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		var msg models.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.dispatch(&msg)
	}
}

func (c *Connection) dispatch(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeAck:
		c.lastAck.Store(time.Now().UnixNano())

	case models.MessageTypeError:
		var e models.ErrorMessage
		if err := msg.UnmarshalPayload(&e); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed error message")
			return
		}
		c.logger.Warn().Str("code", e.Code).Str("reason", e.Message).Msg("Server rejected message")

	case models.MessageTypeConfig:
		var update models.ConfigMessage
		if err := msg.UnmarshalPayload(&update); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed config update")
			return
		}
		c.logger.Info().Int("poll_interval_ms", update.PollIntervalMs).Msg("Received config update")
		if c.onConfig != nil {
			c.onConfig(update)
		}

	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Ignoring message")
	}
}

func (c *Connection) heartbeatLoop(ctx context.Context) {
	c.lastAck.Store(time.Now().UnixNano())
	deadAfter := c.cfg.PingInterval + c.cfg.PongTimeout

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		if silent := time.Since(time.Unix(0, c.lastAck.Load())); silent > deadAfter {
			c.logger.Warn().Dur("silent", silent).Msg("No ack from server, connection appears dead")
			return
		}
		if err := c.sendHeartbeat(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
			return
		}
	}
}

func (c *Connection) sendHeartbeat() error {
	bufferSize, deviceCount := c.status()
	return c.emit(models.MessageTypeHeartbeat, models.HeartbeatMessage{
		AgentID:     c.agent.ID,
		Location:    c.agent.Location,
		Uptime:      int64(c.agent.Uptime().Seconds()),
		BufferSize:  bufferSize,
		DeviceCount: deviceCount,
	})
}

// Send sends a single poll result to the server
func (c *Connection) Send(result *models.PollResult) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.emit(models.MessageTypePoll, models.PollMessage{
		AgentID: c.agent.ID,
		Result:  *result,
	})
}

// SendBatch sends several poll results as one batch message. An empty
// batch is a no-op.
func (c *Connection) SendBatch(results []*models.PollResult) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(results) == 0 {
		return nil
	}

	batch := models.BatchMessage{
		AgentID: c.agent.ID,
		Results: make([]models.PollResult, 0, len(results)),
		Count:   len(results),
	}
	for _, r := range results {
		batch.Results = append(batch.Results, *r)
	}
	if err := c.emit(models.MessageTypeBatch, batch); err != nil {
		return err
	}
	c.logger.Debug().Int("count", batch.Count).Msg("Sent batch")
	return nil
}

// emit wraps payload in an envelope and writes it to the current socket
func (c *Connection) emit(msgType models.MessageType, payload any) error {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		return fmt.Errorf("build %s message: %w", msgType, err)
	}

	ws := c.socket()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteJSON(msg)
}

// Close sends a close frame, tears down the socket and makes Run return.
// It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		ws.Close()
	}
	c.logger.Info().Msg("Connection closed")
	return nil
}
