// Package model defines shared data structures.
package model

import (
	"fmt"
	"time"
)

// Article represents a single news article for one category.
type Article struct {
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	EnhancedBody string    `json:"enhanced_body,omitempty"`
	Source       string    `json:"source"`
	OriginalLink string    `json:"original_link,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Priority is a category refresh tier. Higher tiers refresh more often
// and carry shorter cache lifetimes.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// ParsePriority converts a configuration string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q (valid: high, medium, low)", s)
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// TTL returns the cache lifetime for entries written by a refresh of this
// tier. Each value outlives the gap between that tier's scheduled refreshes,
// so reads between two refreshes stay hits unless the key is cleared.
func (p Priority) TTL() time.Duration {
	switch p {
	case PriorityHigh:
		return 4 * time.Hour
	case PriorityMedium:
		return 6 * time.Hour
	default:
		return 24 * time.Hour
	}
}
