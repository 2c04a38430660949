package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 90 * time.Second
)

// Error codes sent back to agents in MessageTypeError payloads
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownType    = "unknown_type"
)

// ErrAgentNotConnected is returned by PushConfig when no live connection
// belongs to the agent.
var ErrAgentNotConnected = errors.New("agent not connected")

// Handler manages WebSocket connections from w1 agents
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          ReadingStore
	sink           ResultSink
	logger         zerolog.Logger
	agents         map[string]*agentConn // keyed by remote address
	allowedOrigins []string
	mutex          sync.RWMutex
}

// AgentStatus is a snapshot of one connected agent
type AgentStatus struct {
	AgentID     string    `json:"agent_id"`
	Location    string    `json:"location"`
	RemoteAddr  string    `json:"remote_addr"`
	DeviceCount int       `json:"device_count"`
	BufferSize  int       `json:"buffer_size"`
	Uptime      int64     `json:"uptime"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

type agentConn struct {
	status  AgentStatus
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHandler creates a new WebSocket handler
func NewHandler(authToken string, store ReadingStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger,
		agents:         make(map[string]*agentConn),
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetDBWriter attaches the sink every accepted poll result is forwarded to
func (h *Handler) SetDBWriter(sink ResultSink) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.sink = sink
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: no allowed origins configured")
		return false
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected format: "Bearer <token>"
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// validateToken checks if the auth token is valid
func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	return ok && token != "" && token == h.authToken
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()
	ac := &agentConn{
		status: AgentStatus{
			AgentID:     connKey, // replaced once the registration heartbeat arrives
			RemoteAddr:  connKey,
			LastSeen:    now,
			ConnectedAt: now,
		},
		conn: conn,
	}

	h.mutex.Lock()
	h.agents[connKey] = ac
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeAgent(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("remote_addr", connKey).Msg("WebSocket error")
			}
			return
		}
		// heartbeats are application messages, any traffic proves liveness
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ac, &msg)
	}
}

// handleMessage processes a single message from an agent and answers it
// with an ack, or an error message when it could not be used.
func (h *Handler) handleMessage(ac *agentConn, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Str("id", msg.ID).Msg("Received message")

	var err error
	switch msg.Type {
	case models.MessageTypePoll:
		err = h.handlePoll(msg)
	case models.MessageTypeBatch:
		err = h.handleBatch(msg)
	case models.MessageTypeHeartbeat:
		err = h.handleHeartbeat(ac, msg)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.sendError(ac, ErrCodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type))
		return
	}

	h.touch(ac)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Rejected message")
		h.sendError(ac, ErrCodeInvalidPayload, err.Error())
		return
	}
	h.send(ac, models.MessageTypeAck, models.AckMessage{MessageID: msg.ID, Status: "ok"})
}

func (h *Handler) handlePoll(msg *models.Message) error {
	var poll models.PollMessage
	if err := msg.UnmarshalPayload(&poll); err != nil {
		return fmt.Errorf("failed to unmarshal poll: %w", err)
	}
	return h.ingest(poll.AgentID, &poll.Result)
}

func (h *Handler) handleBatch(msg *models.Message) error {
	var batch models.BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		return fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	var errs []error
	for i := range batch.Results {
		if err := h.ingest(batch.AgentID, &batch.Results[i]); err != nil {
			errs = append(errs, err)
		}
	}
	h.logger.Info().
		Str("agent_id", batch.AgentID).
		Int("count", len(batch.Results)).
		Int("rejected", len(errs)).
		Msg("Batch stored")
	return errors.Join(errs...)
}

// ingest stores one poll result in memory and forwards it to the sink
func (h *Handler) ingest(agentID string, result *models.PollResult) error {
	readings, err := result.Flatten()
	if err != nil {
		return fmt.Errorf("poll %s: %w", result.Key, err)
	}

	// memory and disk see the same readings
	kept := result.Copy()
	stored := 0
	for _, reading := range readings {
		if !reading.IsValid() {
			h.logger.Warn().Str("sensor_id", reading.SensorID).Str("key", result.Key).Msg("Reading ignored: invalid")
			delete(kept.Readings, reading.SensorID)
			continue
		}
		h.store.Add(reading)
		stored++
	}

	h.mutex.RLock()
	sink := h.sink
	h.mutex.RUnlock()
	if sink != nil && len(kept.Readings) > 0 {
		if _, err := sink.WritePollResult(kept); err != nil {
			h.logger.Error().Err(err).Str("key", result.Key).Msg("Failed to queue poll result for storage")
		}
	}

	h.logger.Debug().
		Str("agent_id", agentID).
		Str("key", result.Key).
		Int("readings", stored).
		Msg("Poll result stored")
	return nil
}

func (h *Handler) handleHeartbeat(ac *agentConn, msg *models.Message) error {
	var heartbeat models.HeartbeatMessage
	if err := msg.UnmarshalPayload(&heartbeat); err != nil {
		return fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}

	h.mutex.Lock()
	if heartbeat.AgentID != "" {
		if ac.status.AgentID != heartbeat.AgentID {
			h.logger.Info().
				Str("agent_id", heartbeat.AgentID).
				Str("remote_addr", ac.status.RemoteAddr).
				Msg("Agent registered")
		}
		ac.status.AgentID = heartbeat.AgentID
	}
	ac.status.Location = heartbeat.Location
	ac.status.Uptime = heartbeat.Uptime
	ac.status.BufferSize = heartbeat.BufferSize
	ac.status.DeviceCount = heartbeat.DeviceCount
	h.mutex.Unlock()

	h.logger.Debug().
		Str("agent_id", heartbeat.AgentID).
		Int64("uptime", heartbeat.Uptime).
		Int("devices", heartbeat.DeviceCount).
		Msg("Heartbeat received")
	return nil
}

func (h *Handler) sendError(ac *agentConn, code, message string) {
	h.send(ac, models.MessageTypeError, models.ErrorMessage{Code: code, Message: message})
}

// send writes one message to the agent. Writes are serialised per
// connection because PushConfig may run alongside the read loop.
func (h *Handler) send(ac *agentConn, msgType models.MessageType, payload interface{}) error {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msgType)).Msg("Failed to create message")
		return err
	}

	ac.writeMu.Lock()
	defer ac.writeMu.Unlock()
	ac.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ac.conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("Failed to send message")
		return err
	}
	return nil
}

// PushConfig sends a new poll interval to every connection of agentID
func (h *Handler) PushConfig(agentID string, pollIntervalMs int) error {
	if pollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", pollIntervalMs)
	}

	h.mutex.RLock()
	var targets []*agentConn
	for _, ac := range h.agents {
		if ac.status.AgentID == agentID {
			targets = append(targets, ac)
		}
	}
	h.mutex.RUnlock()

	if len(targets) == 0 {
		return ErrAgentNotConnected
	}
	for _, ac := range targets {
		if err := h.send(ac, models.MessageTypeConfig, models.ConfigMessage{PollIntervalMs: pollIntervalMs}); err != nil {
			return fmt.Errorf("failed to push config to %s: %w", agentID, err)
		}
	}
	h.logger.Info().Str("agent_id", agentID).Int("poll_interval_ms", pollIntervalMs).Msg("Pushed config")
	return nil
}

// touch updates the last seen timestamp for an agent
func (h *Handler) touch(ac *agentConn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	ac.status.LastSeen = time.Now()
}

// removeAgent removes a connection from the active agents map
func (h *Handler) removeAgent(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	agentID := connKey
	if ac, ok := h.agents[connKey]; ok {
		agentID = ac.status.AgentID
	}
	delete(h.agents, connKey)
	h.logger.Info().Str("agent_id", agentID).Msg("Agent disconnected")
}

// GetActiveAgents returns the currently connected agents ordered by id
func (h *Handler) GetActiveAgents() []AgentStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	agents := make([]AgentStatus, 0, len(h.agents))
	for _, ac := range h.agents {
		agents = append(agents, ac.status)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].AgentID != agents[j].AgentID {
			return agents[i].AgentID < agents[j].AgentID
		}
		return agents[i].RemoteAddr < agents[j].RemoteAddr
	})
	return agents
}
