package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"github.com/kursadbilgin/notify-sync/internal/service"
	"github.com/kursadbilgin/notify-sync/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestNotificationIntegration_CreateAndList(t *testing.T) {
	t.Parallel()

	app, registry, _ := newNotificationTestApp(t)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications",
		`{"title":"Invoice paid","message":"INV-7 settled","type":"success","category":"business","priority":"high"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}
	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] == "" || created["read"] != false {
		t.Fatalf("created = %v, want id and read=false", created)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", `{"title":"Login","category":"security","priority":"urgent"}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if registry.Len() != 2 {
		t.Fatalf("registry len = %d, want 2", registry.Len())
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/notifications", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var list listNotificationsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if list.Meta.Total != 2 || list.Meta.Unread != 2 {
		t.Fatalf("meta = %+v, want total=2 unread=2", list.Meta)
	}
	if list.Data[0].Title != "Login" {
		t.Fatalf("first title = %q, want newest first", list.Data[0].Title)
	}
	if list.Data[0].Type != domain.TypeInfo.String() {
		t.Fatalf("defaulted type = %q, want info", list.Data[0].Type)
	}
}

func TestNotificationIntegration_CreateValidation(t *testing.T) {
	t.Parallel()

	app, _, _ := newNotificationTestApp(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty title and message", body: `{"category":"system"}`},
		{name: "unknown category", body: `{"title":"x","category":"billing"}`},
		{name: "unknown priority", body: `{"title":"x","priority":"critical"}`},
		{name: "unknown type", body: `{"title":"x","type":"fatal"}`},
		{name: "malformed body", body: `{"title":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(body))
			}
			var parsed map[string]any
			if err := json.Unmarshal(body, &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if parsed["error"] == nil {
				t.Fatalf("error field missing in %s", string(body))
			}
		})
	}
}

func TestNotificationIntegration_Filters(t *testing.T) {
	t.Parallel()

	app, registry, _ := newNotificationTestApp(t)
	mustAdd(t, registry, "a", domain.CategorySecurity, domain.PriorityUrgent)
	mustAdd(t, registry, "b", domain.CategorySecurity, domain.PriorityLow)
	mustAdd(t, registry, "c", domain.CategoryUser, domain.PriorityUrgent)

	tests := []struct {
		name      string
		query     string
		wantTotal int
		wantCode  int
	}{
		{name: "no filter", query: "", wantTotal: 3, wantCode: fiber.StatusOK},
		{name: "category", query: "?category=security", wantTotal: 2, wantCode: fiber.StatusOK},
		{name: "priority", query: "?priority=urgent", wantTotal: 2, wantCode: fiber.StatusOK},
		{name: "both", query: "?category=security&priority=urgent", wantTotal: 1, wantCode: fiber.StatusOK},
		{name: "invalid category", query: "?category=nope", wantCode: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications"+tt.query, "")
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantCode, string(body))
			}
			if tt.wantCode != fiber.StatusOK {
				return
			}
			var list listNotificationsResponse
			if err := json.Unmarshal(body, &list); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if list.Meta.Total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", list.Meta.Total, tt.wantTotal)
			}
		})
	}
}

func TestNotificationIntegration_ReadAndRemove(t *testing.T) {
	t.Parallel()

	app, registry, _ := newNotificationTestApp(t)
	first := mustAdd(t, registry, "first", domain.CategorySystem, domain.PriorityMedium)
	second := mustAdd(t, registry, "second", domain.CategorySystem, domain.PriorityMedium)
	mustAdd(t, registry, "third", domain.CategorySystem, domain.PriorityMedium)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/notifications/"+first.ID+"/read", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("mark read status = %d, want 200", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications/missing/read", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("mark unknown status = %d, want 404", resp.StatusCode)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/notifications/unread-count", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unread-count status = %d, want 200", resp.StatusCode)
	}
	var count map[string]int
	if err := json.Unmarshal(body, &count); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if count["unread"] != 2 {
		t.Fatalf("unread = %d, want 2", count["unread"])
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/notifications/"+second.ID, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/notifications/"+second.ID, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("second remove status = %d, want 404", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/notifications/read-all", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("read-all status = %d, want 200", resp.StatusCode)
	}
	var updated struct {
		Updated int  `json:"updated"`
		Synced  bool `json:"synced"`
	}
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if updated.Updated != 1 || updated.Synced {
		t.Fatalf("read-all = %+v, want updated=1 synced=false without a feed", updated)
	}
	if registry.UnreadCount() != 0 {
		t.Fatalf("unread = %d, want 0", registry.UnreadCount())
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/notifications", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", resp.StatusCode)
	}
	if registry.Len() != 0 {
		t.Fatalf("registry len = %d, want 0", registry.Len())
	}
}

func TestNotificationIntegration_Toasts(t *testing.T) {
	t.Parallel()

	app, registry, toasts := newNotificationTestApp(t)
	mustAdd(t, registry, "urgent", domain.CategorySecurity, domain.PriorityUrgent)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/toasts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var parsed struct {
		Data []service.Toast `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("toasts = %d, want 1", len(parsed.Data))
	}
	if parsed.Data[0].DurationMs != domain.UrgentToastDuration.Milliseconds() {
		t.Fatalf("duration = %d, want %d", parsed.Data[0].DurationMs, domain.UrgentToastDuration.Milliseconds())
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/toasts/"+parsed.Data[0].ID, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("dismiss status = %d, want 204", resp.StatusCode)
	}
	if got := len(toasts.Active()); got != 0 {
		t.Fatalf("active toasts = %d, want 0", got)
	}
}

func TestRegisterNotificationRoutes_RequiresRegistry(t *testing.T) {
	t.Parallel()

	if err := RegisterNotificationRoutes(fiber.New(), nil, nil, nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestToHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: domain.ErrValidation, want: fiber.StatusBadRequest},
		{name: "not found", err: domain.ErrNotFound, want: fiber.StatusNotFound},
		{name: "conflict", err: domain.ErrConflict, want: fiber.StatusConflict},
		{name: "session expired", err: domain.ErrSessionExpired, want: fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var fiberErr *fiber.Error
			if !errors.As(toHTTPError(tt.err), &fiberErr) {
				t.Fatalf("toHTTPError(%v) is not a fiber error", tt.err)
			}
			if fiberErr.Code != tt.want {
				t.Fatalf("code = %d, want %d", fiberErr.Code, tt.want)
			}
		})
	}

	plain := errors.New("boom")
	if got := toHTTPError(plain); got != plain {
		t.Fatalf("toHTTPError(plain) = %v, want passthrough", got)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := newBareTestApp()
		RegisterHealthRoutes(app, nil, nil, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz reports disabled dependencies as ready", func(t *testing.T) {
		t.Parallel()

		app := newBareTestApp()
		RegisterHealthRoutes(app, nil, nil, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"postgres":"disabled"`) {
			t.Fatalf("body = %s, want postgres disabled", string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := newBareTestApp()
		RegisterHealthRoutes(app, sqlDB, rdb, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := newBareTestApp()
		RegisterHealthRoutes(app, sqlDB, rdb, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("metrics is served when configured", func(t *testing.T) {
		t.Parallel()

		metrics := observability.NewMetrics()
		metrics.IncToastEmitted("info")

		app := newBareTestApp()
		RegisterHealthRoutes(app, nil, nil, metrics)

		resp, body := performRequest(t, app, http.MethodGet, "/metrics", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if !strings.Contains(string(body), "toasts_emitted_total") {
			t.Fatalf("metrics body missing toast counter")
		}
	})
}

func newBareTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
}

func newNotificationTestApp(t *testing.T) (*fiber.App, *service.NotificationRegistry, *service.ToastBuffer) {
	t.Helper()

	toasts := service.NewToastBuffer(0)
	registry, err := service.NewNotificationRegistry(repository.NewMemoryStore(), repository.NotificationsKey, toasts, nil)
	if err != nil {
		t.Fatalf("NewNotificationRegistry() error = %v", err)
	}

	app := newBareTestApp()
	if err := RegisterNotificationRoutes(app, registry, toasts, nil); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}

	return app, registry, toasts
}

func mustAdd(t *testing.T, registry *service.NotificationRegistry, title string, category domain.Category, priority domain.Priority) domain.Notification {
	t.Helper()

	n, err := registry.Add(domain.NotificationInput{
		Title:    title,
		Type:     domain.TypeInfo,
		Category: category,
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("Add(%q) error = %v", title, err)
	}
	return n
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()
	return testRequest(t, app, newJSONRequest(method, path, body))
}

func newJSONRequest(method string, path string, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func testRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req, int((5 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
