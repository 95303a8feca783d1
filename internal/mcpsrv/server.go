// Package mcpsrv exposes the node's status, configuration, and
// maintenance operations as MCP tools so an LLM agent can inspect and
// operate the node the same way it would drive a device over the debug
// HTTP surface. Grounded on the teacher's pkg/mcp/{server,tools,handlers}.go:
// same server.NewMCPServer + registerTools + one-handler-per-tool shape,
// narrowed from the teacher's device-fleet surface to this node's single
// set of status/config/maintenance operations.
package mcpsrv

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
)

// Node is the set of subsystems the MCP tools read from and act on.
type Node struct {
	Config   *config.Manager
	Alarms   *alarm.Pool
	Binds    *bind.Pool
	Presence *presence.Controller
	// Restart, if set, is invoked by the restart_node tool instead of it
	// reporting unsupported.
	Restart func()
}

// Server wraps the MCP server with this node's tool set.
type Server struct {
	mcpServer *server.MCPServer
	node      *Node
	log       zerolog.Logger
}

// NewServer creates an MCP server exposing node's status and controls.
func NewServer(node *Node, log zerolog.Logger) *Server {
	s := &Server{
		node: node,
		log:  log.With().Str("component", "mcpsrv").Logger(),
	}
	s.mcpServer = server.NewMCPServer(
		"zbpresence",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// ServeStdio runs the MCP server over stdio, blocking until the transport
// closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
