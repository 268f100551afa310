// Package websocket is the owner's push channel. It relays domain events to
// connected interfaces and accepts control commands over the same socket.
package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"esence/domain/events"
)

// Frame types that are not domain event names
const (
	FrameState = "node.state"
	FramePing  = "ping"
	FramePong  = "pong"
	FrameError = "error"

	resultSuffix = ".result"
)

// Frame is one JSON message on the socket, in both directions
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorData is the payload of an error frame
type ErrorData struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// NewFrame marshals data into a frame of the given type
func NewFrame(frameType string, data interface{}) (Frame, error) {
	f := Frame{Type: frameType, Timestamp: time.Now().Unix()}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s frame: %w", frameType, err)
	}
	f.Data = raw
	return f, nil
}

// ErrorFrame builds an error frame answering requestID
func ErrorFrame(requestID, errType, message string) Frame {
	raw, _ := json.Marshal(ErrorData{Type: errType, Message: message})
	return Frame{
		Type:      FrameError,
		RequestID: requestID,
		Data:      raw,
		Timestamp: time.Now().Unix(),
	}
}

// FromEvent converts a domain event into a push frame. A heartbeat carries
// only its state snapshot.
func FromEvent(evt events.DomainEvent) (Frame, error) {
	var data interface{} = evt
	if hb, ok := evt.(events.Heartbeat); ok {
		data = hb.State
	}
	f, err := NewFrame(evt.GetEventType(), data)
	if err != nil {
		return Frame{}, err
	}
	f.Timestamp = evt.GetTimestamp().Unix()
	return f, nil
}

// ResultType names the reply to a command frame
func ResultType(commandType string) string {
	return commandType + resultSuffix
}
