package mcpsrv

import "github.com/mark3labs/mcp-go/mcp"

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Get the node's current occupancy verdict, bind validity bitmap, and restart count"),
		),
		s.handleGetStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_config",
			mcp.WithDescription("Get the node's persisted configuration: on/off mode, on/off timeout, radar mode, illuminance threshold"),
		),
		s.handleGetConfig,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_on_off_mode",
			mcp.WithDescription("Change the on/off dispatch mode (0=nothing, 1=on-only, 2=off-only, 3=on-off, 4=timed-on, 5=timed-on-local)"),
			mcp.WithNumber("mode",
				mcp.Required(),
				mcp.Description("Mode value 0-5"),
			),
		),
		s.handleSetOnOffMode,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_illuminance_threshold",
			mcp.WithDescription("Change the ambient-light threshold above which a presence edge is suppressed (255 disables suppression)"),
			mcp.WithNumber("threshold",
				mcp.Required(),
				mcp.Description("Threshold 0-255"),
			),
		),
		s.handleSetIlluminanceThreshold,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("recheck_binds",
			mcp.WithDescription("Force an immediate re-scan of the node's binding table"),
		),
		s.handleRecheckBinds,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("factory_reset",
			mcp.WithDescription("Reset the node's persisted configuration to factory defaults"),
		),
		s.handleFactoryReset,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("restart_node",
			mcp.WithDescription("Restart the node process"),
		),
		s.handleRestart,
	)
}
