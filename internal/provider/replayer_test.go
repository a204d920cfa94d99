package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
)

type fakeTokens struct {
	access    string
	refreshFn func(ctx context.Context, rejected string) (string, error)
	refreshes int32
}

func (f *fakeTokens) AccessToken() string { return f.access }

func (f *fakeTokens) Refresh(ctx context.Context, rejected string) (string, error) {
	atomic.AddInt32(&f.refreshes, 1)
	if f.refreshFn != nil {
		return f.refreshFn(ctx, rejected)
	}
	return "", domain.ErrSessionExpired
}

type fakeLimiter struct {
	buckets []string
	waitErr error
}

func (f *fakeLimiter) Allow(ctx context.Context, bucket string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, bucket string) error {
	f.buckets = append(f.buckets, bucket)
	return f.waitErr
}

func newTestAction(url string) domain.OfflineAction {
	return domain.OfflineAction{
		ID:        "action-1",
		Type:      "customer.create",
		URL:       url,
		Method:    "post",
		Headers:   map[string]string{"X-Tenant": "acme"},
		Body:      `{"name":"Acme"}`,
		Timestamp: time.Now(),
	}
}

func TestHTTPReplayerReplaySuccess(t *testing.T) {
	t.Parallel()

	var (
		gotPath, gotMethod, gotAuth, gotIdem, gotCorrelation, gotTenant, gotContentType, gotBody string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get(HeaderIdempotencyKey)
		gotCorrelation = r.Header.Get(HeaderCorrelationID)
		gotTenant = r.Header.Get("X-Tenant")
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)

		w.Header().Set("X-Request-ID", "req-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	p, err := NewHTTPReplayer(server.URL+"/api/v1", &fakeTokens{access: "token-1"}, limiter, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayer() error = %v", err)
	}

	ctx := observability.WithCorrelationID(context.Background(), "batch-1")
	resp, err := p.Replay(ctx, newTestAction("/api/v1/customers/"))
	if err != nil {
		t.Fatalf("Replay() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.RequestID != "req-1" {
		t.Fatalf("RequestID = %q, want %q", resp.RequestID, "req-1")
	}
	if gotPath != "/api/v1/customers/" {
		t.Fatalf("path = %q, want %q", gotPath, "/api/v1/customers/")
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %q, want POST", gotMethod)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer token-1")
	}
	if gotIdem != "action-1" {
		t.Fatalf("Idempotency-Key = %q, want %q", gotIdem, "action-1")
	}
	if gotCorrelation != "batch-1" {
		t.Fatalf("X-Correlation-ID = %q, want %q", gotCorrelation, "batch-1")
	}
	if gotTenant != "acme" {
		t.Fatalf("X-Tenant = %q, want %q", gotTenant, "acme")
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody != `{"name":"Acme"}` {
		t.Fatalf("body = %q, want captured body", gotBody)
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("limiter waits = %d, want 1", len(limiter.buckets))
	}
}

func TestHTTPReplayerStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "conflict is permanent", statusCode: http.StatusConflict, wantTransient: false},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("backend failed"))
			}))
			defer server.Close()

			p, err := NewHTTPReplayer(server.URL, nil, nil, time.Second, nil)
			if err != nil {
				t.Fatalf("NewHTTPReplayer() error = %v", err)
			}

			_, err = p.Replay(context.Background(), newTestAction("/invoices/"))
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if got := StatusCode(err); got != tc.statusCode {
				t.Fatalf("StatusCode() = %d, want %d", got, tc.statusCode)
			}
		})
	}
}

func TestHTTPReplayerRefreshesOnUnauthorized(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokens := &fakeTokens{
		access: "stale",
		refreshFn: func(ctx context.Context, rejected string) (string, error) {
			if rejected != "stale" {
				t.Errorf("rejected = %q, want %q", rejected, "stale")
			}
			return "fresh", nil
		},
	}
	p, err := NewHTTPReplayer(server.URL, tokens, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayer() error = %v", err)
	}

	resp, err := p.Replay(context.Background(), newTestAction("/customers/"))
	if err != nil {
		t.Fatalf("Replay() unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("backend calls = %d, want 2", got)
	}
	if got := atomic.LoadInt32(&tokens.refreshes); got != 1 {
		t.Fatalf("refreshes = %d, want 1", got)
	}
}

func TestHTTPReplayerSessionExpired(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{access: "stale"}
	p, err := NewHTTPReplayer(server.URL, tokens, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayer() error = %v", err)
	}

	_, err = p.Replay(context.Background(), newTestAction("/customers/"))
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("Replay() error = %v, want ErrSessionExpired", err)
	}
	if IsTransient(err) {
		t.Fatal("session expiry should be permanent")
	}
}

func TestHTTPReplayerSecondUnauthorizedIsNotRetriedAgain(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokens{
		access: "stale",
		refreshFn: func(ctx context.Context, rejected string) (string, error) {
			return "also-rejected", nil
		},
	}
	p, err := NewHTTPReplayer(server.URL, tokens, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayer() error = %v", err)
	}

	_, err = p.Replay(context.Background(), newTestAction("/customers/"))
	if got := StatusCode(err); got != http.StatusUnauthorized {
		t.Fatalf("StatusCode() = %d, want 401", got)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("backend calls = %d, want 2", got)
	}
}

func TestHTTPReplayerTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewHTTPReplayerWithClient(server.URL, client, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayerWithClient() error = %v", err)
	}

	_, err = p.Replay(context.Background(), newTestAction("/customers/"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPReplayerLimiterError(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{waitErr: context.Canceled}
	p, err := NewHTTPReplayer("http://localhost:1", nil, limiter, time.Second, nil)
	if err != nil {
		t.Fatalf("NewHTTPReplayer() error = %v", err)
	}

	_, err = p.Replay(context.Background(), newTestAction("/customers/"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Replay() error = %v, want context.Canceled", err)
	}
	if IsTransient(err) {
		t.Fatal("canceled wait should not be transient")
	}
}

func TestHTTPReplayerResolveURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		base string
		in   string
		want string
	}{
		{base: "http://erp.local/api/v1", in: "/api/v1/customers/", want: "http://erp.local/api/v1/customers/"},
		{base: "http://erp.local/api/v1/", in: "/api/v1/customers/", want: "http://erp.local/api/v1/customers/"},
		{base: "http://erp.local/api/v1", in: "customers/", want: "http://erp.local/api/v1/customers/"},
		{base: "http://erp.local/api/v1", in: "invoices/7/?expand=lines", want: "http://erp.local/api/v1/invoices/7/?expand=lines"},
		{base: "http://erp.local/api/v1", in: "/health/", want: "http://erp.local/health/"},
		{base: "http://erp.local", in: "/api/v1/customers/", want: "http://erp.local/api/v1/customers/"},
		{base: "http://erp.local/api/v1", in: "https://files.example.com/upload/", want: "https://files.example.com/upload/"},
	}
	for _, tc := range testCases {
		p, err := NewHTTPReplayer(tc.base, nil, nil, time.Second, nil)
		if err != nil {
			t.Fatalf("NewHTTPReplayer(%q) error = %v", tc.base, err)
		}
		if got := p.ResolveURL(tc.in); got != tc.want {
			t.Fatalf("ResolveURL(%q) against %q = %q, want %q", tc.in, tc.base, got, tc.want)
		}
	}
}

func TestNewHTTPReplayerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPReplayer("", nil, nil, time.Second, nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewHTTPReplayerWithClient("http://localhost", nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
