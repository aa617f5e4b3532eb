// Package analytics records search and click events without ever adding
// latency to the request path: events enter a bounded channel and are
// dropped, counted, when the channel is full.
package analytics

import (
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes recorded events.
type EventType string

const (
	EventSearch EventType = "search"
	EventClick  EventType = "click"
	EventFacet  EventType = "facet"
)

// Event is one recorded interaction. EventID makes aggregate updates
// idempotent: a replayed event never double-counts.
type Event struct {
	EventID   string    `json:"event_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	StoreID   string    `json:"store_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`

	// AnonymizedIP has the host bits zeroed before the event ever
	// enters the pipeline.
	AnonymizedIP string `json:"anonymized_ip,omitempty"`

	// UserAgent is sanitized: control characters stripped, length capped.
	UserAgent string `json:"user_agent,omitempty"`

	// Search fields.
	Query        string            `json:"query,omitempty"`
	SearchType   string            `json:"search_type,omitempty"`
	Intent       string            `json:"intent,omitempty"`
	// Category is the product type of the top result.
	Category     string            `json:"category,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Page         int               `json:"page,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	ResultCount  int               `json:"result_count,omitempty"`
	TopScore     float64           `json:"top_score,omitempty"`
	Duration     time.Duration     `json:"duration,omitempty"`
	CacheHit     bool              `json:"cache_hit,omitempty"`
	FallbackUsed bool              `json:"fallback_used,omitempty"`
	Strategies   []string          `json:"strategies,omitempty"`

	// Click fields.
	ProductID string `json:"product_id,omitempty"`
	Position  int    `json:"position,omitempty"`

	// Facet fields.
	FacetDimension string `json:"facet_dimension,omitempty"`
	FacetValue     string `json:"facet_value,omitempty"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(typ EventType) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
	}
}
