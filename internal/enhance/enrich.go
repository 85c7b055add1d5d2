package enhance

import (
	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/model"
)

// enrich merges ev with its detail page, which may be empty.
//
//   - A non-empty location element on the page overrides the feed location.
//   - The page's text replaces the feed description; a conversion failure
//     keeps the feed description.
//   - Organizer and category come from the calendar name.
func (p *Pipeline) enrich(ev model.RawEvent, page string, md model.Metadata, productID string) model.EnrichedEvent {
	out := model.EnrichedEvent{
		RawEvent:    ev,
		HTMLContent: page,
		ProductID:   productID,
	}

	if page != "" {
		if loc := p.locations.Location(page); loc != "" {
			out.Location = loc
		}
		text, err := p.texts.Text(page)
		if err != nil {
			appLog.Error("detail page text conversion failed", err, "uid", ev.UID)
		} else {
			out.Description = text
		}
	}

	calName := md.First(keyCalName)

	out.Organizer = model.Organizer{
		Name:  CalendarName(md),
		Email: OrganizerEmail,
	}

	category := calName
	if category == "" {
		category = DefaultCategory
	}
	out.Categories = []string{category}

	return out
}
