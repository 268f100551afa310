package entities

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"esence/domain/core/valueobjects"
	"esence/pkg/utils"
)

// ProtocolVersion is written on every outbound message
const ProtocolVersion = "0.2"

// ErrMalformedMessage wraps every decoding failure of the wire format
var ErrMalformedMessage = errors.New("malformed message")

// envelope keys shared by every message type
var envelopeKeys = map[string]bool{
	"protocol_version": true,
	"type":             true,
	"thread_id":        true,
	"from_did":         true,
	"to_did":           true,
	"content":          true,
	"status":           true,
	"timestamp":        true,
	"signature":        true,
}

// Body is the type-specific part of a message. The set of implementations is
// closed: ThreadMessageBody, ThreadReplyBody, PeerIntroBody, CapacityStatusBody.
type Body interface {
	Type() valueobjects.MessageType
	fields() map[string]interface{}
	keys() []string
}

// ThreadMessageBody opens or continues a conversation
type ThreadMessageBody struct {
	Subject string `json:"subject,omitempty"`
}

func (ThreadMessageBody) Type() valueobjects.MessageType { return valueobjects.TypeThreadMessage }
func (ThreadMessageBody) keys() []string                 { return []string{"subject"} }
func (b ThreadMessageBody) fields() map[string]interface{} {
	out := map[string]interface{}{}
	if b.Subject != "" {
		out["subject"] = b.Subject
	}
	return out
}

// ThreadReplyBody answers a previous message
type ThreadReplyBody struct {
	InReplyTo string `json:"in_reply_to,omitempty"`
}

func (ThreadReplyBody) Type() valueobjects.MessageType { return valueobjects.TypeThreadReply }
func (ThreadReplyBody) keys() []string                 { return []string{"in_reply_to"} }
func (b ThreadReplyBody) fields() map[string]interface{} {
	out := map[string]interface{}{}
	if b.InReplyTo != "" {
		out["in_reply_to"] = b.InReplyTo
	}
	return out
}

// PeerIntroBody announces a node and shares the peers it trusts
type PeerIntroBody struct {
	PublicKey  string   `json:"public_key"`
	KnownPeers []string `json:"known_peers"`
}

func (PeerIntroBody) Type() valueobjects.MessageType { return valueobjects.TypePeerIntro }
func (PeerIntroBody) keys() []string                 { return []string{"public_key", "known_peers"} }
func (b PeerIntroBody) fields() map[string]interface{} {
	peers := b.KnownPeers
	if peers == nil {
		peers = []string{}
	}
	return map[string]interface{}{
		"public_key":  b.PublicKey,
		"known_peers": peers,
	}
}

// CapacityStatusBody advertises how much donated capacity is left
type CapacityStatusBody struct {
	AvailablePct     float64 `json:"available_pct"`
	MonthlyRemaining int64   `json:"monthly_remaining"`
}

func (CapacityStatusBody) Type() valueobjects.MessageType { return valueobjects.TypeCapacityStatus }
func (CapacityStatusBody) keys() []string                 { return []string{"available_pct", "monthly_remaining"} }
func (b CapacityStatusBody) fields() map[string]interface{} {
	return map[string]interface{}{
		"available_pct":     ClampPct(b.AvailablePct),
		"monthly_remaining": b.MonthlyRemaining,
	}
}

// ClampPct bounds a percentage to [0,100]
func ClampPct(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// Message is the signed wire entity exchanged between nodes. Messages are
// immutable once signed; fields not understood by this node are kept in
// Extra and stay covered by the signature.
type Message struct {
	ProtocolVersion string
	ThreadID        valueobjects.ThreadID
	From            valueobjects.DID
	To              valueobjects.DID
	Content         string
	Status          valueobjects.ThreadStatus
	Timestamp       string
	Signature       string
	Body            Body
	Extra           map[string]json.RawMessage

	// raw holds every top-level field exactly as received, so the canonical
	// form of an inbound message is independent of how this node re-encodes it.
	raw map[string]json.RawMessage
}

// NewMessage creates an unsigned outbound message
func NewMessage(threadID valueobjects.ThreadID, from, to valueobjects.DID, content string, body Body, now time.Time) Message {
	return Message{
		ProtocolVersion: ProtocolVersion,
		ThreadID:        threadID,
		From:            from,
		To:              to,
		Content:         content,
		Status:          valueobjects.StatusSent,
		Timestamp:       utils.FormatTimestamp(now),
		Body:            body,
	}
}

// Type returns the message discriminator
func (m Message) Type() valueobjects.MessageType {
	if m.Body == nil {
		return ""
	}
	return m.Body.Type()
}

// SentAt parses the timestamp
func (m Message) SentAt() (time.Time, error) {
	return utils.ParseTimestamp(m.Timestamp)
}

// IsSigned reports whether a signature is attached
func (m Message) IsSigned() bool {
	return m.Signature != ""
}

// WithSignature returns a copy carrying sig
func (m Message) WithSignature(sig string) Message {
	m.Signature = sig
	if m.raw != nil {
		raw := make(map[string]json.RawMessage, len(m.raw))
		for k, v := range m.raw {
			raw[k] = v
		}
		encoded, _ := json.Marshal(sig)
		raw["signature"] = encoded
		m.raw = raw
	}
	return m
}

// Validate checks the envelope without touching the signature
func (m Message) Validate() error {
	if m.Body == nil {
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if m.ProtocolVersion == "" {
		return fmt.Errorf("%w: missing protocol_version", ErrMalformedMessage)
	}
	if m.ThreadID.IsZero() {
		return fmt.Errorf("%w: missing thread_id", ErrMalformedMessage)
	}
	if m.From.IsZero() || m.To.IsZero() {
		return fmt.Errorf("%w: missing from_did or to_did", ErrMalformedMessage)
	}
	if _, err := m.SentAt(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// fieldMap renders the message as its top-level JSON object, excluding the
// signature when withSignature is false.
func (m Message) fieldMap(withSignature bool) (map[string]json.RawMessage, error) {
	if m.raw != nil {
		out := make(map[string]json.RawMessage, len(m.raw))
		for k, v := range m.raw {
			if k == "signature" && !withSignature {
				continue
			}
			out[k] = v
		}
		return out, nil
	}

	values := map[string]interface{}{
		"protocol_version": m.ProtocolVersion,
		"type":             m.Type(),
		"thread_id":        m.ThreadID.String(),
		"from_did":         m.From.String(),
		"to_did":           m.To.String(),
		"content":          m.Content,
		"status":           m.Status,
		"timestamp":        m.Timestamp,
	}
	if m.Body != nil {
		for k, v := range m.Body.fields() {
			values[k] = v
		}
	}
	if withSignature && m.Signature != "" {
		values["signature"] = m.Signature
	}

	out := make(map[string]json.RawMessage, len(values)+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	for k, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = encoded
	}
	return out, nil
}

// CanonicalBytes returns the bytes covered by the signature: every field
// except the signature, keys sorted at every depth, compact, no HTML escaping.
func (m Message) CanonicalBytes() ([]byte, error) {
	fields, err := m.fieldMap(false)
	if err != nil {
		return nil, err
	}

	generic := make(map[string]interface{}, len(fields))
	for k, raw := range fields {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrMalformedMessage, k, err)
		}
		generic[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalJSON implements json.Marshaler
func (m Message) MarshalJSON() ([]byte, error) {
	fields, err := m.fieldMap(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var out Message
	var typ string
	if err := decodeField(raw, "type", &typ, true); err != nil {
		return err
	}
	msgType, err := valueobjects.ParseMessageType(typ)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	// Thread messages carry text and a delivery status; other types may omit them.
	conversational := msgType.IsConversational()
	var status string
	for _, f := range []struct {
		key      string
		target   interface{}
		required bool
	}{
		{"protocol_version", &out.ProtocolVersion, true},
		{"thread_id", &out.ThreadID, true},
		{"from_did", &out.From, true},
		{"to_did", &out.To, true},
		{"content", &out.Content, conversational},
		{"status", &status, conversational},
		{"timestamp", &out.Timestamp, true},
		{"signature", &out.Signature, false},
	} {
		if err := decodeField(raw, f.key, f.target, f.required); err != nil {
			return err
		}
	}
	if status != "" {
		if out.Status, err = valueobjects.ParseThreadStatus(status); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}

	switch msgType {
	case valueobjects.TypeThreadMessage:
		var b ThreadMessageBody
		err = decodeField(raw, "subject", &b.Subject, false)
		out.Body = b
	case valueobjects.TypeThreadReply:
		var b ThreadReplyBody
		err = decodeField(raw, "in_reply_to", &b.InReplyTo, false)
		out.Body = b
	case valueobjects.TypePeerIntro:
		var b PeerIntroBody
		if err = decodeField(raw, "public_key", &b.PublicKey, false); err == nil {
			err = decodeField(raw, "known_peers", &b.KnownPeers, false)
		}
		out.Body = b
	case valueobjects.TypeCapacityStatus:
		var b CapacityStatusBody
		if err = decodeField(raw, "available_pct", &b.AvailablePct, false); err == nil {
			err = decodeField(raw, "monthly_remaining", &b.MonthlyRemaining, false)
		}
		b.AvailablePct = ClampPct(b.AvailablePct)
		out.Body = b
	}
	if err != nil {
		return err
	}

	known := map[string]bool{}
	for _, k := range out.Body.keys() {
		known[k] = true
	}
	for k, v := range raw {
		if envelopeKeys[k] || known[k] {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}

	out.raw = raw
	*m = out
	return nil
}

func decodeField(raw map[string]json.RawMessage, key string, target interface{}, required bool) error {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		if required {
			return fmt.Errorf("%w: missing %s", ErrMalformedMessage, key)
		}
		return nil
	}
	if err := json.Unmarshal(v, target); err != nil {
		return fmt.Errorf("%w: field %s: %v", ErrMalformedMessage, key, err)
	}
	return nil
}

// ParseMessage decodes and validates a wire message
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if !errors.Is(err, ErrMalformedMessage) {
			err = fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
