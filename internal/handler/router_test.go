package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/huddle/internal/middleware"
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// mockHealthChecker はHealthCheckerのモック。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error { return m.err }

func newTestRouter(t *testing.T, checker HealthChecker, rl *middleware.RateLimiter) http.Handler {
	t.Helper()

	svc := &mockSessionService{
		snapshotFn: func(ctx context.Context, sessionID string) (*model.Snapshot, error) {
			return estimationSnapshot(), nil
		},
		importItemsFn: func(ctx context.Context, cmd protocol.ImportItems) (*model.Snapshot, error) {
			return estimationSnapshot(), nil
		},
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "huddle_test_total", Help: "test"}))

	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     checker,
		Gatherer:          reg,
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Sessions:      svc,
		ImportDecoder: newTestDecoder(),
	})
}

func TestNewRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "正常", wantStatus: http.StatusOK, wantBody: `"ok"`},
		{name: "ストア障害", err: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: `"unavailable"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &mockHealthChecker{err: tt.err}, nil)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("GET /health status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want contains %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, &mockHealthChecker{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "huddle_test_total") {
		t.Error("メトリクスが出力されていません")
	}
}

func TestNewRouter_WebSocketRoute(t *testing.T) {
	router := newTestRouter(t, &mockHealthChecker{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("GET /ws status = %d, want %d", w.Code, http.StatusTeapot)
	}
}

func TestNewRouter_SessionRoutes(t *testing.T) {
	router := newTestRouter(t, &mockHealthChecker{}, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "エクスポート", method: http.MethodGet, path: "/api/sessions/s-1/export", wantStatus: http.StatusOK},
		{name: "一括取り込み", method: http.MethodPost, path: "/api/sessions/s-1/items/import",
			body: `{"participantId":"p-1","items":[{"title":"Login"}]}`, wantStatus: http.StatusOK},
		{name: "未定義のルート", method: http.MethodGet, path: "/api/sessions/s-1/unknown", wantStatus: http.StatusNotFound},
		{name: "未対応のメソッド", method: http.MethodDelete, path: "/api/sessions/s-1/export", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestNewRouter_AppliesMiddleware(t *testing.T) {
	router := newTestRouter(t, &mockHealthChecker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s-1/export", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

func TestNewRouter_ImportRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		ImportRate:      0.01,
		ImportBurst:     1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	router := newTestRouter(t, &mockHealthChecker{}, rl)

	body := `{"participantId":"p-1","items":[{"title":"Login"}]}`
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/sessions/s-1/items/import", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}

	// ヘルスチェックはレート制限の対象外
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
		}
	}
}
