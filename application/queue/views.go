package queue

import (
	"sort"
	"time"

	"esence/domain/core/aggregates"
	"esence/domain/core/valueobjects"
)

const previewLength = 120

// Receipt is what the receive path learns after a message was stored
type Receipt struct {
	ThreadID valueobjects.ThreadID    `json:"thread_id"`
	Status   valueobjects.ThreadStatus `json:"status"`
	Created  bool                     `json:"created"`
}

// Result is the outcome of an owner action that ran a task to completion
type Result struct {
	Thread aggregates.ThreadRecord
	Err    error
}

// Summary is a thread listing entry with a preview of its last message
type Summary struct {
	ThreadID     valueobjects.ThreadID     `json:"thread_id"`
	Peer         valueobjects.DID          `json:"peer_did"`
	Subject      string                    `json:"subject,omitempty"`
	Domain       string                    `json:"domain"`
	Status       valueobjects.ThreadStatus `json:"status"`
	Outcome      valueobjects.Outcome      `json:"outcome,omitempty"`
	Preview      string                    `json:"preview"`
	Candidate    string                    `json:"candidate,omitempty"`
	MessageCount int                       `json:"message_count"`
	InFlight     bool                      `json:"in_flight"`
	Parked       bool                      `json:"parked"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

func summarize(t *aggregates.Thread, inFlight bool) Summary {
	s := Summary{
		ThreadID:     t.ID(),
		Peer:         t.Peer(),
		Subject:      t.Subject(),
		Domain:       t.Domain(),
		Status:       t.Status(),
		Outcome:      t.Outcome(),
		Candidate:    t.Candidate(),
		MessageCount: len(t.Messages()),
		InFlight:     inFlight,
		Parked:       t.IsParked(),
		UpdatedAt:    t.UpdatedAt(),
	}
	if last, ok := t.LastMessage(); ok {
		s.Preview = preview(last.Content)
	} else {
		s.Preview = preview(t.Outbound())
	}
	return s
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "…"
}

// newest first
func sortSummaries(out []Summary) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ThreadID.String() < out[j].ThreadID.String()
	})
}
