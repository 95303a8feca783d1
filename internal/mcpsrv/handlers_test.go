package mcpsrv

import (
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/zb"
)

func newTestServer(t *testing.T) (*Server, *config.Manager) {
	t.Helper()
	stack := zb.NewSimStack(0x9)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pc := presence.New(cfg, alarms, pool, stack, zerolog.Nop())

	s := NewServer(&Node{Config: cfg, Alarms: alarms, Binds: pool, Presence: pc}, zerolog.Nop())
	return s, cfg
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestHandleGetStatus(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleGetStatus(nil, callToolRequest(nil))
	if err != nil {
		t.Fatalf("handleGetStatus: %v", err)
	}
	if res == nil || len(res.Content) == 0 {
		t.Fatal("want a non-empty tool result")
	}
}

func TestHandleSetIlluminanceThreshold(t *testing.T) {
	s, cfg := newTestServer(t)

	if _, err := s.handleSetIlluminanceThreshold(nil, callToolRequest(map[string]any{"threshold": float64(42)})); err != nil {
		t.Fatalf("handleSetIlluminanceThreshold: %v", err)
	}
	if cfg.IlluminanceThreshold() != 42 {
		t.Fatalf("want threshold 42, got %d", cfg.IlluminanceThreshold())
	}

	res, err := s.handleSetIlluminanceThreshold(nil, callToolRequest(map[string]any{"threshold": float64(999)}))
	if err != nil {
		t.Fatalf("handleSetIlluminanceThreshold: %v", err)
	}
	if !res.IsError {
		t.Fatal("want an error result for out-of-range threshold")
	}
}

func TestHandleSetOnOffMode_MissingParam(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleSetOnOffMode(nil, callToolRequest(nil))
	if err != nil {
		t.Fatalf("handleSetOnOffMode: %v", err)
	}
	if !res.IsError {
		t.Fatal("want an error result when mode is missing")
	}
}

func TestHandleFactoryReset(t *testing.T) {
	s, cfg := newTestServer(t)
	_ = cfg.SetIlluminanceThreshold(10)

	if _, err := s.handleFactoryReset(nil, callToolRequest(nil)); err != nil {
		t.Fatalf("handleFactoryReset: %v", err)
	}
	if cfg.IlluminanceThreshold() != config.MaxIlluminance {
		t.Fatalf("want default threshold after reset, got %d", cfg.IlluminanceThreshold())
	}
}
