package entities

import (
	"strings"
	"time"

	"esence/domain/core/valueobjects"
)

// Correction records the difference between what the engine proposed and
// what the owner actually sent. Corrections are append-only.
type Correction struct {
	ThreadID          valueobjects.ThreadID `json:"thread_id"`
	FromDID           string                `json:"from_did,omitempty"`
	OriginalCandidate string                `json:"original_candidate"`
	FinalContent      string                `json:"final_content"`
	Diff              string                `json:"diff"`
	EditDistance      int                   `json:"edit_distance"`
	WasEdited         bool                  `json:"was_edited"`
	Domain            string                `json:"domain"`
	Timestamp         time.Time             `json:"timestamp"`
}

// IsMeaningful reports whether the owner changed anything beyond whitespace
func (c Correction) IsMeaningful() bool {
	return c.WasEdited && strings.TrimSpace(c.OriginalCandidate) != strings.TrimSpace(c.FinalContent)
}

// Pattern is a behavioural rule distilled from several corrections
type Pattern struct {
	Description string    `json:"description"`
	Examples    []string  `json:"examples"`
	Confidence  float64   `json:"confidence"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Key normalizes the description for deduplication
func (p Pattern) Key() string {
	return strings.ToLower(strings.TrimSpace(p.Description))
}

// MergePatterns appends incoming patterns whose description is not already
// known. It returns the merged list and the number added.
func MergePatterns(existing, incoming []Pattern) ([]Pattern, int) {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Key()] = true
	}

	merged := append([]Pattern(nil), existing...)
	added := 0
	for _, p := range incoming {
		k := p.Key()
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, p)
		added++
	}
	return merged, added
}
