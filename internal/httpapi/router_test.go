package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/zb"
)

func newTestRouter(t *testing.T) (*Router, *config.Manager) {
	t.Helper()
	stack := zb.NewSimStack(0x1)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pc := presence.New(cfg, alarms, pool, stack, zerolog.Nop())

	r, err := NewRouter(&Node{Config: cfg, Alarms: alarms, Binds: pool, Presence: pc}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r, cfg
}

func doRequest(r *Router, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPatchConfig_ValidatesSchema(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPatch, "/api/v1/config", []byte(`{"on_off_mode": 99}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for out-of-range mode, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPatchConfig_AppliesValidChange(t *testing.T) {
	r, cfg := newTestRouter(t)

	w := doRequest(r, http.MethodPatch, "/api/v1/config", []byte(`{"illuminance_threshold": 77}`))
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", w.Code, w.Body.String())
	}
	if cfg.IlluminanceThreshold() != 77 {
		t.Fatalf("want persisted threshold 77, got %d", cfg.IlluminanceThreshold())
	}
}

func TestFactoryReset(t *testing.T) {
	r, cfg := newTestRouter(t)
	_ = cfg.SetIlluminanceThreshold(10)

	w := doRequest(r, http.MethodPost, "/api/v1/config/factory-reset", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", w.Code)
	}
	if cfg.IlluminanceThreshold() != config.MaxIlluminance {
		t.Fatalf("want default threshold after reset, got %d", cfg.IlluminanceThreshold())
	}
}

func TestRestart_UnwiredReturns501(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/node/restart", nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("want 501, got %d", w.Code)
	}
}
