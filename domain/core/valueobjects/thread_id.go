package valueobjects

import (
	"errors"

	"github.com/google/uuid"
)

// ThreadID is a value object representing a conversation identifier
type ThreadID struct {
	value string
}

// NewThreadID creates a new random ThreadID
func NewThreadID() ThreadID {
	return ThreadID{value: uuid.New().String()}
}

// NewThreadIDFromString creates a ThreadID from an existing string
func NewThreadIDFromString(id string) (ThreadID, error) {
	if id == "" {
		return ThreadID{}, errors.New("thread ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return ThreadID{}, errors.New("thread ID must be a valid UUID")
	}
	return ThreadID{value: id}, nil
}

// String returns the string representation of the ThreadID
func (id ThreadID) String() string {
	return id.value
}

// Equals checks if two ThreadIDs are equal
func (id ThreadID) Equals(other ThreadID) bool {
	return id.value == other.value
}

// IsZero checks if the ThreadID is the zero value
func (id ThreadID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id ThreadID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ThreadID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("ThreadID must be a string")
	}
	parsed, err := NewThreadIDFromString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
