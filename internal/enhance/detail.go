package enhance

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/metrics"
	"allrisfeed/internal/model"
)

// hasDetailPage reports whether ev links to a detail page worth fetching.
// Events without a UID cannot be correlated and are never fetched.
func (p *Pipeline) hasDetailPage(ev model.RawEvent) bool {
	return ev.UID != "" && strings.Contains(ev.URL, p.opts.DetailMarker)
}

// fetchDetails retrieves the detail pages of all eligible events, at most
// opts.MaxConcurrency at a time; further fetches wait for a free slot.
// Pages are keyed by event UID because completion order is arbitrary.
// A failed fetch is logged and leaves that UID without content.
func (p *Pipeline) fetchDetails(ctx context.Context, events []model.RawEvent) map[string]string {
	var (
		mu    sync.Mutex
		pages = make(map[string]string, len(events))
		g     errgroup.Group
	)
	g.SetLimit(p.opts.MaxConcurrency)

	scheduled := make(map[string]bool, len(events))
	for _, ev := range events {
		if !p.hasDetailPage(ev) {
			metrics.RecordFetch(metrics.KindDetail, metrics.OutcomeSkipped, 0)
			continue
		}
		if scheduled[ev.UID] {
			continue
		}
		scheduled[ev.UID] = true

		uid, url := ev.UID, ev.URL
		g.Go(func() error {
			page, err := p.pages.FetchPage(ctx, url)
			if err != nil {
				appLog.Error("detail page unavailable, keeping feed values",
					fmt.Errorf("%w: %w", ErrDetailFetch, err), "uid", uid)
				return nil
			}
			mu.Lock()
			pages[uid] = page
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; failures degrade per event.
	_ = g.Wait()
	return pages
}
