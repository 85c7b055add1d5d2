// Package enhance turns an upstream ALLRIS calendar feed into an enriched
// calendar: every event linking to a meeting detail page gets that page's
// location and text merged in.
package enhance

import (
	"context"
	"errors"
	"fmt"

	"allrisfeed/internal/ics"
	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/metrics"
	"allrisfeed/internal/model"
)

// FeedLoader fetches and parses the upstream feed. It reports failures as
// *ics.FetchError or *ics.ParseError.
type FeedLoader interface {
	Load(ctx context.Context, feedURL string) (model.CalendarDocument, error)
}

// PageFetcher retrieves a detail page as UTF-8 markup.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// LocationFinder extracts the location text from detail markup.
type LocationFinder interface {
	Location(page string) string
}

// TextConverter renders detail markup as plain text.
type TextConverter interface {
	Text(page string) (string, error)
}

// Slugifier reduces a string to a URL-safe identifier.
type Slugifier interface {
	Slugify(s string) string
}

// Encoder serializes enriched events into a calendar document.
type Encoder interface {
	Encode(h ics.Header, events []model.EnrichedEvent) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	// DetailMarker must occur in an event URL for its page to be fetched.
	DetailMarker string
	// MaxConcurrency bounds simultaneous detail fetches of one request.
	MaxConcurrency int
}

// Pipeline runs one feed through fetch, detail fan-out, enrichment and
// encoding. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	feeds     FeedLoader
	pages     PageFetcher
	locations LocationFinder
	texts     TextConverter
	slugs     Slugifier
	encoder   Encoder
	opts      Options
}

// New constructs a Pipeline from its collaborators.
func New(feeds FeedLoader, pages PageFetcher, locations LocationFinder, texts TextConverter, slugs Slugifier, encoder Encoder, opts Options) *Pipeline {
	if opts.DetailMarker == "" {
		opts.DetailMarker = "SILFDNR"
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	return &Pipeline{
		feeds:     feeds,
		pages:     pages,
		locations: locations,
		texts:     texts,
		slugs:     slugs,
		encoder:   encoder,
		opts:      opts,
	}
}

// Result is an encoded, enriched calendar.
type Result struct {
	Calendar  string
	ProductID string
	Events    int
	// DetailPages counts events that received detail content.
	DetailPages int
}

// Run enhances the feed at feedURL. feedURL must already be validated.
func (p *Pipeline) Run(ctx context.Context, feedURL string) (Result, error) {
	doc, err := p.feeds.Load(ctx, feedURL)
	if err != nil {
		var perr *ics.ParseError
		if errors.As(err, &perr) {
			return Result{}, fmt.Errorf("%w: %w", ErrFeedParse, err)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	pages := p.fetchDetails(ctx, doc.Events)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	productID := ProductID(doc.Metadata, p.slugs)
	enriched := make([]model.EnrichedEvent, 0, len(doc.Events))
	withDetail := 0
	for _, ev := range doc.Events {
		page := pages[ev.UID]
		if page != "" {
			withDetail++
		}
		enriched = append(enriched, p.enrich(ev, page, doc.Metadata, productID))
	}

	body, err := p.encoder.Encode(ics.Header{
		ProductID: productID,
		Name:      doc.Metadata.First(keyCalName),
	}, enriched)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	metrics.RecordEvents(len(enriched))
	appLog.Info("feed enhanced",
		"product_id", productID,
		"events", len(enriched),
		"detail_pages", withDetail,
	)

	return Result{
		Calendar:    body,
		ProductID:   productID,
		Events:      len(enriched),
		DetailPages: withDetail,
	}, nil
}
