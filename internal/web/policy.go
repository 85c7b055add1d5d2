package web

import (
	"fmt"
	"net/http"

	"allrisfeed/internal/config"
)

// CalendarContentType is sent with every enhanced feed.
const CalendarContentType = "text/calendar; charset=utf8"

// ResponsePolicy decorates successful calendar responses.
type ResponsePolicy struct {
	MaxAge               int
	StaleWhileRevalidate int
}

// NewResponsePolicy takes the cache durations decided at startup.
func NewResponsePolicy(c config.CacheConfig) ResponsePolicy {
	return ResponsePolicy{MaxAge: c.MaxAge, StaleWhileRevalidate: c.StaleWhileRevalidate}
}

// CacheControl formats the Cache-Control value; shared caches get the same
// lifetime as browsers.
func (p ResponsePolicy) CacheControl() string {
	return fmt.Sprintf("max-age=%d, s-maxage=%d, stale-while-revalidate=%d",
		p.MaxAge, p.MaxAge, p.StaleWhileRevalidate)
}

// Apply sets the calendar Content-Type and Cache-Control headers on h.
func (p ResponsePolicy) Apply(h http.Header) {
	h.Set("Content-Type", CalendarContentType)
	h.Set("Cache-Control", p.CacheControl())
}
