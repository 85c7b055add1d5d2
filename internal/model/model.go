package model

import (
	"strings"
	"time"
)

// Metadata holds calendar-level header properties (PRODID, X-WR-CALNAME, ...)
// keyed by the property name exactly as it appeared in the feed.
type Metadata map[string]string

// First returns the first non-empty value among keys. Each key is tried
// verbatim and, for extension names, with and without the "X-" prefix, so
// "WR-CALNAME" also matches a feed header "X-WR-CALNAME".
func (m Metadata) First(keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
		if v := m["X-"+k]; v != "" {
			return v
		}
		if rest, ok := strings.CutPrefix(k, "X-"); ok {
			if v := m[rest]; v != "" {
				return v
			}
		}
	}
	return ""
}

// CalendarDocument is a parsed upstream feed.
type CalendarDocument struct {
	Metadata Metadata
	// Events keep the upstream feed order.
	Events []RawEvent
}

// RawEvent is a VEVENT as read from the upstream feed.
type RawEvent struct {
	UID string
	// URL optionally links to an HTML detail page.
	URL string

	Summary     string
	Location    string
	Description string
	Status      string

	// Scheduling fields are passed through to the output unchanged.
	Start   time.Time
	End     time.Time
	AllDay  bool
	DTStamp time.Time
	RRule   string
}

// Organizer of an enriched event.
type Organizer struct {
	Name  string
	Email string
}

// EnrichedEvent is a RawEvent merged with its detail page.
type EnrichedEvent struct {
	RawEvent

	// HTMLContent is the raw detail markup, empty if none was fetched.
	HTMLContent string
	Organizer   Organizer
	Categories  []string
	// ProductID is identical for every event of one response.
	ProductID string
}
