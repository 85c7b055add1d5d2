package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/model"
)

// ErrEmptyFeed is returned for a zero-length feed body.
var ErrEmptyFeed = errors.New("empty ICS body")

// ParseFeed parses a single ICS payload into a CalendarDocument.
//
//   - Calendar header properties are copied into Metadata under their names
//     as found in the feed; no case normalization is applied.
//   - Events keep the feed order and none is dropped, including events
//     without a UID.
//   - A payload that is not a calendar at all is an error.
func ParseFeed(body []byte) (model.CalendarDocument, error) {
	var doc model.CalendarDocument
	if len(bytes.TrimSpace(body)) == 0 {
		return doc, ErrEmptyFeed
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return doc, err
	}

	doc.Metadata = make(model.Metadata, len(cal.CalendarProperties))
	for _, p := range cal.CalendarProperties {
		doc.Metadata[p.IANAToken] = p.Value
	}

	events := cal.Events()
	doc.Events = make([]model.RawEvent, 0, len(events))
	for _, ve := range events {
		ev := parseVEvent(ve)
		if ev.UID == "" {
			appLog.Info("ics vevent without UID", "summary", ev.Summary)
		}
		doc.Events = append(doc.Events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(doc.Events))
	return doc, nil
}

func parseVEvent(ve *ical.VEvent) model.RawEvent {
	var out model.RawEvent

	// A missing UID is kept empty so the event holds its place; the encoder
	// rejects it.
	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)

	// The parser has already unescaped TEXT values.
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = propValue(ve, ical.ComponentPropertyUrl)
	out.Status = propValue(ve, ical.ComponentPropertyStatus)
	out.RRule = propValue(ve, ical.ComponentPropertyRrule)

	// Detect all-day: VALUE=DATE or a DTSTART without a time part.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if vs, ok := dtStartProp.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	// A missing DTSTART is not fatal here; the encoder rejects it.
	if out.AllDay {
		out.Start, _ = ve.GetAllDayStartAt()
		out.End, _ = ve.GetAllDayEndAt()
	} else {
		out.Start, _ = ve.GetStartAt()
		out.End, _ = ve.GetEndAt()
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtstamp); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			out.DTStamp = t
		}
	}

	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// parseICSTime parses a basic ICS date/date-time string. It is only used for
// DTSTAMP, which RFC 5545 requires in UTC.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

// FeedSource fetches and parses upstream feeds.
type FeedSource struct {
	fetcher *Fetcher
}

// NewFeedSource wraps a Fetcher configured for feed retrieval.
func NewFeedSource(f *Fetcher) *FeedSource {
	return &FeedSource{fetcher: f}
}

// FetchError marks a transport or status failure retrieving the feed.
type FetchError struct{ Err error }

func (e *FetchError) Error() string { return "fetch feed: " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a feed body that is not a valid calendar.
type ParseError struct{ Err error }

func (e *ParseError) Error() string { return "parse feed: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// Load retrieves feedURL and parses it. Failures are returned as *FetchError
// or *ParseError.
func (s *FeedSource) Load(ctx context.Context, feedURL string) (model.CalendarDocument, error) {
	body, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		appLog.Error("ics fetch failed", err, "url", redactURL(feedURL))
		return model.CalendarDocument{}, &FetchError{Err: err}
	}

	doc, err := ParseFeed(body)
	if err != nil {
		appLog.Error("ics parse failed", err, "url", redactURL(feedURL))
		return model.CalendarDocument{}, &ParseError{Err: fmt.Errorf("%s: %w", redactURL(feedURL), err)}
	}

	appLog.Info("ics feed loaded", "url", redactURL(feedURL), "event_count", len(doc.Events))
	return doc, nil
}
