// Command zbpresence-mcp exposes a running node's status, configuration
// and maintenance operations as MCP tools over stdio, for agent-driven
// bench testing. Grounded on the teacher's cmd/mcp/main.go: logging to
// stderr (stdout is the MCP transport) and the same flag-then-bring-up
// shape as the HTTP daemon.
package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/mcpsrv"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/zb"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	configPath := flag.String("config", "/data/config.dat", "Path to the persisted local configuration file")
	flag.Parse()

	cfg := config.NewManager(*configPath, log.Logger)
	if err := cfg.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load local configuration")
	}

	// This tool inspects/edits persisted configuration and bind state
	// directly; it does not open the LD2412 UART or a Zigbee stack, so it
	// runs against the same SimStack placeholder the daemon falls back to
	// when no vendor adapter is wired (spec §1: the Zigbee stack itself is
	// an external collaborator).
	stack := zb.NewSimStack(zb.IEEEAddr(0x0123456789abcdef))
	alarms := alarm.New(func() {
		log.Warn().Msg("restart requested via MCP tool, exiting for process supervisor to relaunch")
		os.Exit(1)
	}, log.Logger)
	binds := bind.NewPool(stack, alarms, cfg, log.Logger)
	pc := presence.New(cfg, alarms, binds, stack, log.Logger)

	srv := mcpsrv.NewServer(&mcpsrv.Node{
		Config:   cfg,
		Alarms:   alarms,
		Binds:    binds,
		Presence: pc,
	}, log.Logger)

	if err := srv.ServeStdio(); err != nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
}
