package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allrisfeed/internal/ics"
	"allrisfeed/internal/markup"
	"allrisfeed/internal/model"
)

type fakeFeeds struct {
	doc model.CalendarDocument
	err error
}

func (f fakeFeeds) Load(context.Context, string) (model.CalendarDocument, error) {
	return f.doc, f.err
}

// fakePages serves pages by URL, optionally delaying each one.
type fakePages struct {
	pages  map[string]string
	delays map[string]time.Duration
	fail   map[string]bool

	mu       sync.Mutex
	requests []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakePages) FetchPage(ctx context.Context, url string) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, url)
	f.mu.Unlock()

	if d := f.delays[url]; d > 0 {
		time.Sleep(d)
	}
	if f.fail[url] {
		return "", errors.New("connection reset")
	}
	return f.pages[url], nil
}

func (f *fakePages) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// captureEncoder records what it was asked to encode.
type captureEncoder struct {
	header ics.Header
	events []model.EnrichedEvent
	err    error
}

func (c *captureEncoder) Encode(h ics.Header, events []model.EnrichedEvent) (string, error) {
	c.header = h
	c.events = events
	if c.err != nil {
		return "", c.err
	}
	return "BEGIN:VCALENDAR", nil
}

type failingText struct{}

func (failingText) Text(string) (string, error) { return "", errors.New("bad markup") }

func newPipeline(feeds FeedLoader, pages PageFetcher, enc Encoder, maxConc int) *Pipeline {
	return New(feeds, pages, markup.LocationExtractor{ID: "location"}, markup.TextConverter{}, Slug{}, enc,
		Options{DetailMarker: "SILFDNR", MaxConcurrency: maxConc})
}

var start = time.Date(2025, 1, 15, 17, 0, 0, 0, time.UTC)

func rawEvent(uid, url string) model.RawEvent {
	return model.RawEvent{
		UID:         uid,
		URL:         url,
		Summary:     "Sitzung " + uid,
		Location:    "Feed-Ort " + uid,
		Description: "Feed-Text " + uid,
		Start:       start,
		End:         start.Add(time.Hour),
	}
}

func TestValidateFeedURL(t *testing.T) {
	_, err := ValidateFeedURL("")
	assert.ErrorIs(t, err, ErrMissingParameter)

	_, err = ValidateFeedURL("http://a")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	got, err := ValidateFeedURL("http://ab/")
	require.NoError(t, err)
	assert.Equal(t, "http://ab/", got)

	// Only length is checked.
	got, err = ValidateFeedURL("not-a-url-at-all")
	require.NoError(t, err)
	assert.Equal(t, "not-a-url-at-all", got)
}

func TestProductID(t *testing.T) {
	md := model.Metadata{"WR-CALNAME": "Rat Zuessow", "PRODID": ""}
	assert.Equal(t, "rat-zuessow-rat-zuessow-allris", ProductID(md, Slug{}))
	assert.Equal(t, ProductID(md, Slug{}), ProductID(model.Metadata{"WR-CALNAME": "Rat Zuessow", "PRODID": ""}, Slug{}))

	assert.Equal(t, "allris-allris-allris", ProductID(nil, Slug{}))

	lower := model.Metadata{"prodid": "Kreistag", "X-WR-CALNAME": "Ausschuss", "X-WR-CALDESC": "Termine"}
	assert.Equal(t, "kreistag-ausschuss-termine", ProductID(lower, Slug{}))
}

func TestRunWorkedExample(t *testing.T) {
	page := `<html><body><span id="location">Rathaus Zuessow</span><p>Tagesordnung</p></body></html>`
	feeds := fakeFeeds{doc: model.CalendarDocument{
		Metadata: model.Metadata{"WR-CALNAME": "Rat Zuessow", "PRODID": ""},
		Events: []model.RawEvent{
			rawEvent("1", "http://x/a"),
			rawEvent("2", "http://x/b?SILFDNR=7"),
		},
	}}
	pages := &fakePages{pages: map[string]string{"http://x/b?SILFDNR=7": page}}
	enc := &captureEncoder{}

	res, err := newPipeline(feeds, pages, enc, 4).Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	assert.Equal(t, []string{"http://x/b?SILFDNR=7"}, pages.requested())
	assert.Equal(t, "rat-zuessow-rat-zuessow-allris", res.ProductID)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.DetailPages)
	assert.Equal(t, ics.Header{ProductID: "rat-zuessow-rat-zuessow-allris", Name: "Rat Zuessow"}, enc.header)

	require.Len(t, enc.events, 2)
	want1 := model.EnrichedEvent{
		RawEvent:   rawEvent("1", "http://x/a"),
		Organizer:  model.Organizer{Name: "Rat Zuessow", Email: "info@cc-egov.de"},
		Categories: []string{"Rat Zuessow"},
		ProductID:  "rat-zuessow-rat-zuessow-allris",
	}
	if diff := cmp.Diff(want1, enc.events[0]); diff != "" {
		t.Errorf("event 1 mismatch (-want +got):\n%s", diff)
	}

	ev2 := enc.events[1]
	assert.Equal(t, "2", ev2.UID)
	assert.Equal(t, "Rathaus Zuessow", ev2.Location)
	assert.Contains(t, ev2.Description, "Tagesordnung")
	assert.Equal(t, page, ev2.HTMLContent)
	assert.Equal(t, enc.events[0].ProductID, ev2.ProductID)
}

func TestRunCorrelatesByUIDRegardlessOfCompletionOrder(t *testing.T) {
	const n = 6
	var events []model.RawEvent
	pages := &fakePages{pages: map[string]string{}, delays: map[string]time.Duration{}}
	for i := 0; i < n; i++ {
		uid := fmt.Sprintf("uid-%d", i)
		url := fmt.Sprintf("http://x/si?SILFDNR=%d", i)
		events = append(events, rawEvent(uid, url))
		pages.pages[url] = fmt.Sprintf(`<div id="location">Raum %s</div>`, uid)
		// Earlier events finish last.
		pages.delays[url] = time.Duration(n-i) * 15 * time.Millisecond
	}
	enc := &captureEncoder{}

	_, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages, enc, n).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	require.Len(t, enc.events, n)
	for i, ev := range enc.events {
		assert.Equal(t, events[i].UID, ev.UID, "order must follow the feed")
		assert.Equal(t, "Raum "+ev.UID, ev.Location)
		assert.Contains(t, ev.HTMLContent, ev.UID)
	}
}

func TestRunBoundsDetailConcurrency(t *testing.T) {
	var events []model.RawEvent
	pages := &fakePages{pages: map[string]string{}, delays: map[string]time.Duration{}}
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("http://x/si?SILFDNR=%d", i)
		events = append(events, rawEvent(fmt.Sprint(i), url))
		pages.delays[url] = 10 * time.Millisecond
	}

	_, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages, &captureEncoder{}, 2).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	assert.Len(t, pages.requested(), 10)
	assert.LessOrEqual(t, pages.maxInFlight.Load(), int32(2))
}

func TestRunDegradesFailedDetailFetch(t *testing.T) {
	events := []model.RawEvent{
		rawEvent("ok", "http://x/ok?SILFDNR=1"),
		rawEvent("broken", "http://x/broken?SILFDNR=2"),
	}
	pages := &fakePages{
		pages: map[string]string{"http://x/ok?SILFDNR=1": `<p id="location">Saal</p>`},
		fail:  map[string]bool{"http://x/broken?SILFDNR=2": true},
	}
	enc := &captureEncoder{}

	res, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages, enc, 4).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)
	assert.Equal(t, 1, res.DetailPages)

	require.Len(t, enc.events, 2)
	assert.Equal(t, "Saal", enc.events[0].Location)
	broken := enc.events[1]
	assert.Equal(t, "Feed-Ort broken", broken.Location)
	assert.Equal(t, "Feed-Text broken", broken.Description)
	assert.Empty(t, broken.HTMLContent)
}

func TestRunKeepsFeedLocationWhenPageHasNone(t *testing.T) {
	events := []model.RawEvent{rawEvent("1", "http://x/?SILFDNR=1")}
	pages := &fakePages{pages: map[string]string{"http://x/?SILFDNR=1": `<p>Nur Text</p>`}}
	enc := &captureEncoder{}

	_, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages, enc, 1).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	assert.Equal(t, "Feed-Ort 1", enc.events[0].Location)
	assert.Equal(t, "Nur Text", enc.events[0].Description)
}

func TestRunKeepsFeedDescriptionWhenConversionFails(t *testing.T) {
	events := []model.RawEvent{rawEvent("1", "http://x/?SILFDNR=1")}
	pages := &fakePages{pages: map[string]string{"http://x/?SILFDNR=1": `<p>x</p>`}}
	enc := &captureEncoder{}

	p := New(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages,
		markup.LocationExtractor{ID: "location"}, failingText{}, Slug{}, enc, Options{})
	_, err := p.Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	assert.Equal(t, "Feed-Text 1", enc.events[0].Description)
	assert.Equal(t, `<p>x</p>`, enc.events[0].HTMLContent)
}

func TestRunDefaultsWithoutCalendarName(t *testing.T) {
	enc := &captureEncoder{}
	_, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: []model.RawEvent{rawEvent("1", "")}}}, &fakePages{}, enc, 1).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	ev := enc.events[0]
	assert.Equal(t, "Allris", ev.Organizer.Name)
	assert.Equal(t, []string{"Sitzung"}, ev.Categories)
	assert.Equal(t, "allris-allris-allris", ev.ProductID)
	assert.Equal(t, "", enc.header.Name)
}

func TestRunFetchesDuplicateUIDOnce(t *testing.T) {
	events := []model.RawEvent{
		rawEvent("dup", "http://x/?SILFDNR=1"),
		rawEvent("dup", "http://x/?SILFDNR=1"),
	}
	pages := &fakePages{pages: map[string]string{}}

	_, err := newPipeline(fakeFeeds{doc: model.CalendarDocument{Events: events}}, pages, &captureEncoder{}, 4).
		Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)
	assert.Len(t, pages.requested(), 1)
}

func TestRunClassifiesErrors(t *testing.T) {
	ok := fakeFeeds{doc: model.CalendarDocument{Events: []model.RawEvent{rawEvent("1", "")}}}

	tests := []struct {
		name  string
		feeds FeedLoader
		enc   Encoder
		want  error
	}{
		{"fetch", fakeFeeds{err: &ics.FetchError{Err: errors.New("dial tcp: refused")}}, &captureEncoder{}, ErrUpstreamFetch},
		{"parse", fakeFeeds{err: &ics.ParseError{Err: errors.New("malformed calendar")}}, &captureEncoder{}, ErrFeedParse},
		{"encode", ok, &captureEncoder{err: &ics.EncodeError{UID: "1", Err: errors.New("missing start")}}, ErrEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newPipeline(tt.feeds, &fakePages{}, tt.enc, 1).Run(context.Background(), "http://feed/test.ics")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunWithRealEncoder(t *testing.T) {
	feeds := fakeFeeds{doc: model.CalendarDocument{
		Metadata: model.Metadata{"X-WR-CALNAME": "Rat Zuessow"},
		Events:   []model.RawEvent{rawEvent("1", "http://x/a"), rawEvent("2", "http://x/b")},
	}}

	res, err := newPipeline(feeds, &fakePages{}, ics.Encoder{}, 2).Run(context.Background(), "http://feed/test.ics")
	require.NoError(t, err)

	assert.Contains(t, res.Calendar, "PRODID:rat-zuessow-rat-zuessow-allris")
	assert.Less(t, strings.Index(res.Calendar, "UID:1"), strings.Index(res.Calendar, "UID:2"))
}

func TestRunRejectsEventWithoutUID(t *testing.T) {
	feeds := fakeFeeds{doc: model.CalendarDocument{Events: []model.RawEvent{
		rawEvent("1", ""),
		rawEvent("", "http://x/?SILFDNR=9"),
		rawEvent("3", ""),
	}}}
	pages := &fakePages{pages: map[string]string{}}

	res, err := newPipeline(feeds, pages, ics.Encoder{}, 2).Run(context.Background(), "http://feed/test.ics")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoding)
	assert.Empty(t, res.Calendar)
	assert.Empty(t, pages.requested())
}

func TestSlugDropsUnderscores(t *testing.T) {
	assert.Equal(t, "allrisnet-rat-zussow-a-and-b", Slug{}.Slugify("ALLRIS_net-Rat Züssow-A & B"))
}
