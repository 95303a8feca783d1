package mcpsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
)

type statusOutput struct {
	Occupied       bool   `json:"occupied"`
	Suppressed     bool   `json:"suppressed"`
	ValidityBitmap uint8  `json:"validity_bitmap"`
	Restarts       uint32 `json:"restarts"`
	ActiveBinds    int    `json:"active_binds"`
}

func (s *Server) handleGetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := statusOutput{
		ValidityBitmap: s.node.Binds.ValidityBitmap(),
		Restarts:       s.node.Config.Restarts(),
		ActiveBinds:    len(s.node.Binds.Active()),
	}
	if s.node.Presence != nil {
		out.Occupied = s.node.Presence.Occupied()
		out.Suppressed = s.node.Presence.Suppressed()
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

type configOutput struct {
	OnOffMode            uint8  `json:"on_off_mode"`
	OnOffTimeoutSeconds  uint16 `json:"on_off_timeout_seconds"`
	LD2412Mode           uint8  `json:"ld2412_mode"`
	IlluminanceThreshold uint8  `json:"illuminance_threshold"`
}

func (s *Server) handleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.node.Config
	out := configOutput{
		OnOffMode:            uint8(cfg.OnOffMode()),
		OnOffTimeoutSeconds:  uint16(cfg.OnOffTimeout() / time.Second),
		LD2412Mode:           uint8(cfg.LD2412Mode()),
		IlluminanceThreshold: cfg.IlluminanceThreshold(),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSetOnOffMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := requiredNumber(req, "mode")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if mode < 0 || mode > 5 {
		return mcp.NewToolResultError("mode must be between 0 and 5"), nil
	}
	if err := s.node.Config.SetOnOffMode(config.OnOffMode(int(mode))); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set on/off mode: %s", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"success":true,"on_off_mode":%d}`, int(mode))), nil
}

func (s *Server) handleSetIlluminanceThreshold(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v, err := requiredNumber(req, "threshold")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if v < 0 || v > 255 {
		return mcp.NewToolResultError("threshold must be between 0 and 255"), nil
	}
	if err := s.node.Config.SetIlluminanceThreshold(uint8(v)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to set illuminance threshold: %s", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"success":true,"illuminance_threshold":%d}`, int(v))), nil
}

func (s *Server) handleRecheckBinds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.node.Binds.Rescan(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rescan failed: %s", err)), nil
	}
	recs := s.node.Binds.Active()
	states := make([]string, 0, len(recs))
	for _, r := range recs {
		functional := r.State == bind.StateFunctional
		states = append(states, fmt.Sprintf("%s(functional=%v)", r.IEEE.String(), functional))
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{"success": true, "binds": states})), nil
}

func (s *Server) handleFactoryReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.node.Config.FactoryReset(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("factory reset failed: %s", err)), nil
	}
	return mcp.NewToolResultText(`{"success":true}`), nil
}

func (s *Server) handleRestart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.node.Restart == nil {
		return mcp.NewToolResultError("restart is not wired on this node"), nil
	}
	go s.node.Restart()
	return mcp.NewToolResultText(`{"success":true}`), nil
}

// --- helpers ---

func requiredNumber(req mcp.CallToolRequest, key string) (float64, error) {
	args := req.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("required parameter %q is missing", key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
	return f, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
