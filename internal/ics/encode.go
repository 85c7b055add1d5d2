package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"allrisfeed/internal/model"
)

// Header carries calendar-level properties of an encoded document.
type Header struct {
	ProductID string
	// Name is emitted as X-WR-CALNAME when non-empty.
	Name string
}

// EncodeError reports an event that cannot be represented in a valid
// calendar. No partial document is produced when it occurs.
type EncodeError struct {
	UID string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode event %q: %v", e.UID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Encoder serializes enriched events into iCalendar text.
type Encoder struct{}

// Encode validates every event first, then emits one VCALENDAR holding one
// VEVENT per event in the given order.
func (Encoder) Encode(h Header, events []model.EnrichedEvent) (string, error) {
	for _, ev := range events {
		if err := validateEvent(ev); err != nil {
			return "", &EncodeError{UID: ev.UID, Err: err}
		}
	}

	cal := ical.NewCalendar()
	if h.ProductID != "" {
		cal.SetProductId(h.ProductID)
	}
	cal.SetMethod(ical.MethodPublish)
	if h.Name != "" {
		cal.SetXWRCalName(h.Name)
	}

	for _, ev := range events {
		writeEvent(cal.AddEvent(ev.UID), ev)
	}

	return cal.Serialize(), nil
}

func validateEvent(ev model.EnrichedEvent) error {
	if ev.UID == "" {
		return errors.New("missing UID")
	}
	if ev.Start.IsZero() {
		return errors.New("missing start")
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return fmt.Errorf("end %s before start %s", ev.End.Format(time.RFC3339), ev.Start.Format(time.RFC3339))
	}
	if ev.RRule != "" {
		if _, err := rrule.StrToRRule(ev.RRule); err != nil {
			return fmt.Errorf("invalid RRULE %q: %w", ev.RRule, err)
		}
	}
	return nil
}

func writeEvent(ve *ical.VEvent, ev model.EnrichedEvent) {
	// DTSTAMP must not depend on the wall clock, otherwise identical
	// requests would yield different bodies.
	stamp := ev.DTStamp
	if stamp.IsZero() {
		stamp = ev.Start
	}
	ve.SetDtStampTime(stamp)

	if ev.AllDay {
		ve.SetAllDayStartAt(ev.Start)
		if !ev.End.IsZero() {
			ve.SetAllDayEndAt(ev.End)
		}
	} else {
		ve.SetStartAt(ev.Start)
		if !ev.End.IsZero() {
			ve.SetEndAt(ev.End)
		}
	}

	setText(ve, ical.ComponentPropertySummary, ev.Summary)
	setText(ve, ical.ComponentPropertyLocation, ev.Location)
	setText(ve, ical.ComponentPropertyDescription, ev.Description)
	if ev.URL != "" {
		ve.SetProperty(ical.ComponentPropertyUrl, ev.URL)
	}
	if ev.Status != "" {
		ve.SetProperty(ical.ComponentPropertyStatus, strings.ToUpper(ev.Status))
	}
	if ev.RRule != "" {
		ve.SetProperty(ical.ComponentPropertyRrule, ev.RRule)
	}

	if ev.Organizer.Email != "" {
		ve.SetOrganizer("mailto:"+ev.Organizer.Email, ical.WithCN(ev.Organizer.Name))
	}
	for _, c := range ev.Categories {
		if c != "" {
			ve.AddProperty(ical.ComponentPropertyCategories, c)
		}
	}

	if ev.HTMLContent != "" {
		ve.SetProperty(ical.ComponentProperty("X-ALT-DESC"), ev.HTMLContent,
			&ical.KeyValues{Key: "FMTTYPE", Value: []string{"text/html"}})
	}
}

// setText stores v unescaped; the serializer applies TEXT escaping.
func setText(ve *ical.VEvent, prop ical.ComponentProperty, v string) {
	if v == "" {
		return
	}
	ve.SetProperty(prop, v)
}
