package enhance

import (
	"strings"

	"github.com/gosimple/slug"

	"allrisfeed/internal/model"
)

// Fallbacks when the feed header lacks a value.
const (
	DefaultCalendarName = "Allris"
	DefaultDescription  = "Allris"
	DefaultCategory     = "Sitzung"
	OrganizerEmail      = "info@cc-egov.de"
)

// Calendar header keys. Extension names are matched with or without "X-".
const (
	keyProductID   = "PRODID"
	keyProductIDLC = "prodid"
	keyCalName     = "WR-CALNAME"
	keyCalDesc     = "WR-CALDESC"
)

// Slug lowercases s and reduces it to ASCII letters and digits joined by
// dashes.
type Slug struct{}

// Slugify returns the slug of s. Underscores are dropped, not turned into
// separators.
func (Slug) Slugify(s string) string {
	return slug.Make(strings.ReplaceAll(s, "_", ""))
}

// CalendarName is the display name of the calendar, "Allris" if unset.
func CalendarName(md model.Metadata) string {
	if name := md.First(keyCalName); name != "" {
		return name
	}
	return DefaultCalendarName
}

// ProductID derives the product identifier of a response from calendar
// metadata only. Equal metadata always yields an equal identifier.
func ProductID(md model.Metadata, s Slugifier) string {
	name := CalendarName(md)

	tag := md.First(keyProductID, keyProductIDLC)
	if tag == "" {
		tag = name
	}

	desc := md.First(keyCalDesc)
	if desc == "" {
		desc = DefaultDescription
	}

	return s.Slugify(tag + "-" + name + "-" + desc)
}
