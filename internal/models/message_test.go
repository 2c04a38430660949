// internal/models/message_test.go
package models

import (
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeHeartbeat, HeartbeatMessage{AgentID: "agent-01"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeHeartbeat {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeHeartbeat)
	}
	if msg.ID == "" {
		t.Error("ID should not be empty")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(msg.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a, _ := NewMessage(MessageTypeAck, AckMessage{Status: "ok"})
	b, _ := NewMessage(MessageTypeAck, AckMessage{Status: "ok"})
	if a.ID == b.ID {
		t.Errorf("message ids should differ, both %q", a.ID)
	}
}

func TestMessage_UnmarshalPayload(t *testing.T) {
	result := NewPollResult(AssetDS18B20, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "k", map[string]float64{"28-000001": 23.5})

	msg, err := NewMessage(MessageTypePoll, PollMessage{AgentID: "agent-01", Result: *result})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded PollMessage
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.AgentID != "agent-01" {
		t.Errorf("AgentID = %v, want agent-01", decoded.AgentID)
	}
	if decoded.Result.Key != "k" {
		t.Errorf("Key mismatch")
	}
	if decoded.Result.Readings["28-000001"] != 23.5 {
		t.Errorf("Readings mismatch: %v", decoded.Result.Readings)
	}
}

func TestBatchMessage(t *testing.T) {
	now := time.Now()
	results := []PollResult{
		*NewPollResult(AssetDS18B20, now, "k1", map[string]float64{"28-a": 20}),
		*NewPollResult(AssetDS18B20, now, "k2", map[string]float64{"28-a": 21}),
	}

	msg, err := NewMessage(MessageTypeBatch, BatchMessage{AgentID: "agent-01", Results: results, Count: len(results)})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded BatchMessage
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.Count != 2 {
		t.Errorf("Count = %d, want 2", decoded.Count)
	}
	if len(decoded.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2", len(decoded.Results))
	}
}
