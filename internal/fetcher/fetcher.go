package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"ops-data-loaders/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SinceLayout is the format of the value appended to time-filtered URLs.
const SinceLayout = "2006-01-02T15:04:05Z"

var (
	// ErrPaginationLimit is returned when a Link chain is longer than the
	// configured maximum number of pages.
	ErrPaginationLimit = errors.New("pagination limit reached")
	// ErrMalformedLink is returned when a Link header holds no <url>.
	ErrMalformedLink = errors.New("malformed link header")
	// ErrUnexpectedStatus is wrapped for every non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrMalformedBody is wrapped when a page body is neither a JSON array nor
	// a JSON object.
	ErrMalformedBody = errors.New("malformed response body")
)

var linkURL = regexp.MustCompile(`<(.+?)>`)

// Credentials are sent as HTTP basic auth on every request.
type Credentials struct {
	Username string
	Password string
}

type Options struct {
	Timeout  time.Duration
	MaxPages int
	// RateLimit is the maximum number of requests per second; 0 disables it.
	RateLimit float64
	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// Fetcher retrieves every page of one endpoint from a source API.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	maxPages int
	log      logrus.FieldLogger
}

// New builds a Fetcher. A zero MaxPages falls back to 1000 pages.
func New(opts Options, log logrus.FieldLogger) *Fetcher {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1_000
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Fetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		limiter:  limiter,
		maxPages: opts.MaxPages,
		log:      log,
	}
}

// Since returns the time filter value for a lookback of days before now.
func Since(now time.Time, days int) string {
	return now.UTC().AddDate(0, 0, -days).Format(SinceLayout)
}

// RequestURL returns the first page URL for the endpoint. When the URL
// contains the endpoint's time filter marker the since value is appended
// verbatim.
func RequestURL(ep config.Endpoint, since string) string {
	if ep.TimeFilter != "" && strings.Contains(ep.URL, ep.TimeFilter) {
		return ep.URL + since
	}
	return ep.URL
}

// Fetch performs the paginated GET for the endpoint. It never returns a nil
// Result and never panics on bad input; failures are reported as Failure.
func (f *Fetcher) Fetch(ctx context.Context, creds Credentials, ep config.Endpoint, since string) Result {
	reqURL := RequestURL(ep, since)
	log := f.log.WithFields(logrus.Fields{"type": ep.Type, "url": reqURL})

	fail := func(resp *Response, err error) Result {
		entry := log.WithError(err).WithField("status", StatusError)
		if resp != nil {
			entry = entry.WithField("status_code", resp.StatusCode)
		}
		entry.Error("failed to fetch endpoint")
		return NewFailure(ep.Type, reqURL, resp, err)
	}

	var (
		payload Payload
		last    *Response
		next    = reqURL
	)

	for page := 1; ; page++ {
		if page > f.maxPages {
			return fail(last, fmt.Errorf("%w: more than %d pages", ErrPaginationLimit, f.maxPages))
		}

		resp, err := f.get(ctx, creds, next)
		if err != nil {
			return fail(last, err)
		}
		last = resp

		if resp.StatusCode != http.StatusOK {
			return fail(resp, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
		}

		items, err := decodePage(resp.Body)
		if err != nil {
			return fail(resp, err)
		}
		payload = append(payload, items...)

		links := resp.Header.Values("Link")
		if len(links) == 0 {
			log.WithFields(logrus.Fields{"pages": page, "items": len(payload)}).Info("requests processed successfully")
			return NewSuccess(ep.Type, reqURL, payload, page)
		}

		next, err = nextPageURL(next, links[0])
		if err != nil {
			return fail(resp, err)
		}
		log.Debugf("following next page | page=%d next=%s", page+1, next)
	}
}

func (f *Fetcher) get(ctx context.Context, creds Credentials, target string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if creds.Username != "" || creds.Password != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// nextPageURL extracts the first angle-bracket URL of a Link header value,
// resolving it against the current page URL when it is relative.
func nextPageURL(current, header string) (string, error) {
	m := linkURL.FindStringSubmatch(header)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedLink, header)
	}

	ref, err := url.Parse(m[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// decodePage splits a page body into items.
func decodePage(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items Payload
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return items, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: invalid JSON object", ErrMalformedBody)
		}
		return Payload{json.RawMessage(trimmed)}, nil
	default:
		return nil, fmt.Errorf("%w: expected JSON array or object", ErrMalformedBody)
	}
}
