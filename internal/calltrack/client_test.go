package calltrack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		APIKey:           "key-123",
		AccountID:        "acc-1",
		BaseURL:          baseURL,
		RateLimitBackoff: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{AccountID: "a", BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := NewClient(ClientConfig{APIKey: "k", AccountID: "a"}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestListCallsPaginates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != `Token token="key-123"` {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.HasPrefix(r.URL.Path, "/a/acc-1/calls.json") {
			t.Errorf("path = %q", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"calls":[{"id":"c3"}],"has_next_page":false}`)
			return
		}
		// Trailing pages follow next_page verbatim.
		fmt.Fprintf(w, `{"calls":[{"id":"c1"},{"id":"c2"}],"has_next_page":true,"next_page":%q}`,
			srv.URL+"/a/acc-1/calls.json?page=2")
	}))
	defer srv.Close()

	calls, err := newTestClient(t, srv.URL).ListCalls(context.Background(), ListOptions{
		StartDate: "2026-08-01",
		EndDate:   "2026-08-28",
	})
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[2]["id"] != "c3" {
		t.Fatalf("last call = %v", calls[2])
	}
}

func TestListCallsRequestsBaseFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := r.URL.Query().Get("fields")
		for _, f := range []string{"tags", "agent_email", "company_name", "customer_phone_number"} {
			if !strings.Contains(fields, f) {
				t.Errorf("fields %q missing %q", fields, f)
			}
		}
		fmt.Fprint(w, `{"calls":[],"has_next_page":false}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).ListCalls(context.Background(), ListOptions{}); err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
}

func TestListCallsRetriesOn429(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"calls":[{"id":"c1"}],"has_next_page":false}`)
	}))
	defer srv.Close()

	calls, err := newTestClient(t, srv.URL).ListCalls(context.Background(), ListOptions{})
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want two 429s then success", hits.Load())
	}
}

func TestListCallsTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `upstream exploded`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).ListCalls(context.Background(), ListOptions{})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if upstream.StatusCode != 500 || !strings.Contains(upstream.Body, "exploded") {
		t.Fatalf("upstream = %+v", upstream)
	}
}

func TestListCallsHonorsContextDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		APIKey:           "k",
		AccountID:        "a",
		BaseURL:          srv.URL,
		RateLimitBackoff: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.ListCalls(ctx, ListOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}
