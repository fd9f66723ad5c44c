// Package calltrack consumes the upstream call-tracking provider's
// paginated list API.
package calltrack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"calltrack-platform/internal/obs"
)

// UpstreamError is a terminal non-2xx response from the provider. The
// status and body are preserved so callers can diagnose without retrying
// blindly.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("calltrack: upstream status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig controls the provider client. Keep it config-driven;
// defaults are safe.
type ClientConfig struct {
	APIKey    string
	AccountID string
	BaseURL   string

	// RateLimitBackoff is the fixed delay applied after a 429 before the
	// same request is retried. Retries on 429 are unbounded; the caller's
	// context is the only ceiling.
	RateLimitBackoff time.Duration
	RequestTimeout   time.Duration

	HTTPClient *http.Client
}

func (c ClientConfig) withDefaults() ClientConfig {
	out := c
	if out.RateLimitBackoff <= 0 {
		out.RateLimitBackoff = 2 * time.Second
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: out.RequestTimeout}
	}
	return out
}

type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("calltrack: api key and account id are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("calltrack: base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg}, nil
}

// ListOptions parameterize the first page; later pages come from the
// upstream's next_page links.
type ListOptions struct {
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
	PerPage   int
	Relative  bool // relative (cursor) pagination
	Fields    []string
	CompanyID string
	Sort      string
	Order     string
}

// baseFields are always requested in addition to caller-supplied fields.
var baseFields = []string{
	"tags",
	"agent_email",
	"company_id",
	"company_name",
	"source_name",
	"business_phone_number",
	"customer_phone_number",
}

type listPage struct {
	Calls       []map[string]any `json:"calls"`
	HasNextPage bool             `json:"has_next_page"`
	NextPage    string           `json:"next_page"`
}

// ListCalls fetches every page of raw call payloads for the window.
// Pagination trusts only the has_next_page/next_page signal, never page
// ordering. A 429 sleeps the fixed backoff and retries the same request;
// any other non-2xx aborts the whole fetch with an *UpstreamError.
func (c *Client) ListCalls(ctx context.Context, opts ListOptions) ([]map[string]any, error) {
	nextURL := c.firstPageURL(opts)

	var calls []map[string]any
	for nextURL != "" {
		page, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		obs.ProviderPages.Inc()
		calls = append(calls, page.Calls...)

		if page.HasNextPage && page.NextPage != "" {
			nextURL = page.NextPage
		} else {
			nextURL = ""
		}
	}
	return calls, nil
}

func (c *Client) firstPageURL(opts ListOptions) string {
	if opts.PerPage <= 0 {
		opts.PerPage = 250
	}
	if opts.Sort == "" {
		opts.Sort = "start_time"
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	fields := map[string]bool{}
	for _, f := range baseFields {
		fields[f] = true
	}
	for _, f := range opts.Fields {
		if f != "" {
			fields[f] = true
		}
	}
	sorted := make([]string, 0, len(fields))
	for f := range fields {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(opts.PerPage))
	q.Set("sort", opts.Sort)
	q.Set("order", opts.Order)
	q.Set("fields", strings.Join(sorted, ","))
	if opts.Relative {
		q.Set("relative_pagination", "true")
	}
	if opts.StartDate != "" {
		q.Set("start_date", opts.StartDate)
	}
	if opts.EndDate != "" {
		q.Set("end_date", opts.EndDate)
	}
	if opts.CompanyID != "" {
		q.Set("company_id", opts.CompanyID)
	}

	return fmt.Sprintf("%s/a/%s/calls.json?%s", c.cfg.BaseURL, c.cfg.AccountID, q.Encode())
}

// fetchPage GETs one page, retrying the same URL indefinitely on 429.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (listPage, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return listPage{}, err
		}
		req.Header.Set("Authorization", fmt.Sprintf("Token token=%q", c.cfg.APIKey))
		req.Header.Set("Accept", "application/json")

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return listPage{}, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return listPage{}, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			obs.ProviderRateLimited.Inc()
			if err := sleepCtx(ctx, c.cfg.RateLimitBackoff); err != nil {
				return listPage{}, err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return listPage{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		var page listPage
		if err := json.Unmarshal(body, &page); err != nil {
			return listPage{}, fmt.Errorf("calltrack: decode page: %w", err)
		}
		return page, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
