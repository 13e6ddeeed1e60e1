package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, withBook bool) (*Server, *service.SimulationService, *infra.Metrics) {
	t.Helper()
	metrics := &infra.Metrics{}
	svc := service.NewSimulationService(
		engine.NewBookState(4),
		engine.NewCostEngine(engine.DefaultModelParams()),
		service.WithMetrics(metrics),
		service.WithLogger(quietLogger()),
		service.WithDefaults(domain.SimulationRequest{Quantity: 1, FeeTier: 0, Volatility: 0.02}),
	)
	if withBook {
		ev := &event.BookUpdateEvent{Snapshot: &domain.BookSnapshot{
			Exchange: "OKX",
			Symbol:   "BTC-USDT-SWAP",
			Asks:     []domain.PriceLevel{{Price: 50000, Size: 1.5}, {Price: 50001, Size: 2}},
			Bids:     []domain.PriceLevel{{Price: 49999, Size: 1}, {Price: 49998, Size: 2.5}},
		}}
		ev.Ts = time.Now()
		svc.OnFeedEvent(ev)
	}
	return NewServer(Config{Addr: "127.0.0.1:0"}, svc, metrics, quietLogger()), svc, metrics
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	rec := do(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" || body["connected"] != false {
		t.Errorf("body = %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestBook(t *testing.T) {
	t.Run("empty book", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		if rec := do(t, s, http.MethodGet, "/api/book", ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("depth limits levels", func(t *testing.T) {
		s, _, _ := newTestServer(t, true)
		rec := do(t, s, http.MethodGet, "/api/book?depth=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var snap domain.BookSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(snap.Asks) != 1 || len(snap.Bids) != 1 || snap.Asks[0].Price != 50000 {
			t.Errorf("book = %+v", snap)
		}
	})

	t.Run("bad depth", func(t *testing.T) {
		s, _, _ := newTestServer(t, true)
		for _, q := range []string{"0", "-2", "ten"} {
			if rec := do(t, s, http.MethodGet, "/api/book?depth="+q, ""); rec.Code != http.StatusBadRequest {
				t.Errorf("depth=%s status = %d, want 400", q, rec.Code)
			}
		}
	})
}

func TestBookHistory(t *testing.T) {
	t.Run("empty book", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		rec := do(t, s, http.MethodGet, "/api/book/history", "")
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("got %d %s, want 200 []", rec.Code, rec.Body.String())
		}
	})

	t.Run("newest first, trimmed", func(t *testing.T) {
		s, svc, _ := newTestServer(t, true)
		ev := &event.BookUpdateEvent{Snapshot: &domain.BookSnapshot{
			Asks: []domain.PriceLevel{{Price: 50010, Size: 1}, {Price: 50011, Size: 1}},
			Bids: []domain.PriceLevel{{Price: 50009, Size: 1}},
		}}
		ev.Ts = time.Now()
		svc.OnFeedEvent(ev)

		rec := do(t, s, http.MethodGet, "/api/book/history?n=5&depth=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var hist []domain.BookSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(hist) != 2 {
			t.Fatalf("len = %d, want 2", len(hist))
		}
		if hist[0].Asks[0].Price != 50010 || hist[1].Asks[0].Price != 50000 {
			t.Errorf("order = %v, %v", hist[0].Asks, hist[1].Asks)
		}
		if len(hist[0].Asks) != 1 {
			t.Errorf("depth not applied: %d asks", len(hist[0].Asks))
		}
	})

	t.Run("bad params", func(t *testing.T) {
		s, _, _ := newTestServer(t, true)
		for _, q := range []string{"n=0", "n=-1", "n=x", "depth=-3"} {
			if rec := do(t, s, http.MethodGet, "/api/book/history?"+q, ""); rec.Code != http.StatusBadRequest {
				t.Errorf("%s status = %d, want 400", q, rec.Code)
			}
		}
	})
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"full request", `{"quantity":1,"fee_tier":0,"volatility":0.02}`, http.StatusOK, ""},
		{"partial request uses defaults", `{"fee_tier":3}`, http.StatusOK, ""},
		{"invalid tier", `{"fee_tier":7}`, http.StatusBadRequest, "fee_tier"},
		{"invalid quantity", `{"quantity":-5}`, http.StatusBadRequest, "quantity"},
		{"invalid volatility", `{"volatility":0.9}`, http.StatusBadRequest, "volatility"},
		{"unknown field", `{"qty":1}`, http.StatusBadRequest, ""},
		{"malformed", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, true)
			rec := do(t, s, http.MethodPost, "/api/simulate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var res domain.SimulationResult
				if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if res.RequestID == "" || res.TotalCost <= 0 {
					t.Errorf("result = %+v", res)
				}
				return
			}
			if tt.wantField != "" {
				var eb errorBody
				json.Unmarshal(rec.Body.Bytes(), &eb)
				if eb.Field != tt.wantField {
					t.Errorf("field = %q, want %q", eb.Field, tt.wantField)
				}
			}
		})
	}
}

func TestSimulateDefaultsAndMetrics(t *testing.T) {
	s, _, metrics := newTestServer(t, true)

	if rec := do(t, s, http.MethodGet, "/api/simulate", ""); rec.Code != http.StatusOK {
		t.Fatalf("GET /api/simulate status = %d", rec.Code)
	}
	do(t, s, http.MethodPost, "/api/simulate", `{"fee_tier":9}`)

	rec := do(t, s, http.MethodGet, "/api/metrics", "")
	var snap infra.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Simulations != 1 || snap.RejectedRequests != 1 || snap.SnapshotsApplied != 1 {
		t.Errorf("metrics = %+v", snap)
	}
	if metrics.Snapshot().Simulations != 1 {
		t.Error("server should report the shared metrics instance")
	}
}

func TestLatencyAndStatus(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	rec := do(t, s, http.MethodGet, "/api/latency", "")
	var stats domain.LatencyStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("latency: %d %v", rec.Code, err)
	}

	rec = do(t, s, http.MethodGet, "/api/status", "")
	var st domain.FeedStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.AskLevels != 2 || st.Symbol != "BTC-USDT-SWAP" {
		t.Errorf("status = %+v", st)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	if rec := do(t, s, http.MethodDelete, "/api/simulate", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x?y=1", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["status"] != float64(http.StatusTeapot) || rec["path"] != "/x" || rec["level"] != "WARN" {
		t.Errorf("log record = %v", rec)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
