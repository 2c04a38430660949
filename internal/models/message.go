package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType names the payload carried by a Message
type MessageType string

// Agents send poll, batch and heartbeat; the server answers with ack or
// error and may push config at any time.
const (
	MessageTypePoll      MessageType = "poll"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
	MessageTypeConfig    MessageType = "config"
)

// Message is the JSON envelope exchanged over the sensor stream. ID is
// echoed back in the ack so the agent can match replies.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes payload into a fresh envelope with a random id
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the payload into v
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

type PollMessage struct {
	AgentID string     `json:"agent_id"`
	Result  PollResult `json:"result"`
}

// BatchMessage carries results buffered while the agent was offline.
// Count must equal len(Results).
type BatchMessage struct {
	AgentID string       `json:"agent_id"`
	Results []PollResult `json:"results"`
	Count   int          `json:"count"`
}

// HeartbeatMessage doubles as registration when it is the first message
// on a connection. Uptime is in seconds.
type HeartbeatMessage struct {
	AgentID     string `json:"agent_id"`
	Location    string `json:"location"`
	Uptime      int64  `json:"uptime"`
	BufferSize  int    `json:"buffer_size"`
	DeviceCount int    `json:"device_count"`
}

type AckMessage struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigMessage is pushed by the server to retune a running agent
type ConfigMessage struct {
	PollIntervalMs int `json:"poll_interval_ms"`
}
