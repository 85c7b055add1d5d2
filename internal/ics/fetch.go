package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/net/html/charset"

	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/metrics"
)

// maxBodyBytes caps any single upstream response body.
const maxBodyBytes = 16 << 20

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", redactURL(e.URL), e.Status)
}

// transient reports whether a retry may succeed.
func (e *StatusError) transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// Kind labels metrics and logs, e.g. metrics.KindFeed.
	Kind string
	// Timeout bounds each single attempt.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts, including the first.
	RetryAttempts uint
	// RetryDelay is the base delay of the exponential backoff.
	RetryDelay time.Duration
	UserAgent  string
	// Client overrides the shared HTTP client (tests).
	Client *http.Client
}

// Fetcher performs GET requests against upstream ALLRIS hosts with
// per-attempt deadlines and bounded retry on transient failures.
type Fetcher struct {
	client *http.Client
	opts   FetcherOptions
}

// NewHTTPClient builds the shared outbound client.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Kind == "" {
		opts.Kind = metrics.KindFeed
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = NewHTTPClient()
	}
	return &Fetcher{client: client, opts: opts}
}

// Fetch returns the raw response body of url.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := f.fetch(ctx, rawURL)
	return body, err
}

// FetchPage returns the body of an HTML page decoded to UTF-8 using the
// charset from the Content-Type header or the document's meta tags.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (string, error) {
	body, contentType, err := f.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode %s as %s: %w", redactURL(rawURL), name, err)
	}
	return string(decoded), nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if rawURL == "" {
		return nil, "", errors.New("url is empty")
	}

	start := time.Now()
	type result struct {
		body        []byte
		contentType string
	}

	res, err := retry.DoWithData(
		func() (result, error) {
			body, ct, err := f.attempt(ctx, rawURL)
			return result{body: body, contentType: ct}, err
		},
		retry.Context(ctx),
		retry.Attempts(f.opts.RetryAttempts),
		retry.Delay(f.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			appLog.Info("upstream fetch retry", "kind", f.opts.Kind, "url", redactURL(rawURL), "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		metrics.RecordFetch(f.opts.Kind, metrics.OutcomeError, time.Since(start))
		return nil, "", err
	}

	metrics.RecordFetch(f.opts.Kind, metrics.OutcomeOK, time.Since(start))
	appLog.Debug("upstream fetch success", "kind", f.opts.Kind, "url", redactURL(rawURL), "bytes", len(res.body))
	return res.body, res.contentType, nil
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", retry.Unrecoverable(err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func isTransient(err error) bool {
	if !retry.IsRecoverable(err) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.transient()
	}
	return true
}

// redactURL hides sensitive parts of a URL (ALLRIS feed links carry session
// ids in the query) for logging purposes.
//
//	https://example.com/bi/si010.asp?sid=abcd -> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "url://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
