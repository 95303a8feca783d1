// Command zbpresenced is the presence-sensor node's main process: it
// opens the LD2412 UART, brings up the radar, GPIO, bind, presence and
// service-loop subsystems, and serves the debug HTTP control plane.
// Grounded on the teacher's cmd/api/main.go: flag-parsed configuration,
// zerolog.ConsoleWriter to stderr, try-then-fall-back hardware bring-up,
// and a signal-driven graceful shutdown goroutine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	periphgpio "periph.io/x/periph/conn/gpio"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/endpoint"
	"github.com/theorlangur/zbpresence/internal/gpio"
	"github.com/theorlangur/zbpresence/internal/httpapi"
	"github.com/theorlangur/zbpresence/internal/ld2412"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/radar"
	"github.com/theorlangur/zbpresence/internal/service"
	"github.com/theorlangur/zbpresence/internal/zb"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	serialPort := flag.String("port", "/dev/ttyUSB0", "Path to the LD2412 UART device")
	configPath := flag.String("config", "/data/config.dat", "Path to the persisted local configuration file")
	httpAddr := flag.String("http", ":8090", "Debug control-plane listen address")
	pirPin := flag.String("pir-pin", "", "GPIO pin name for the PIR sensor output (empty disables PIR)")
	resetPin := flag.String("reset-pin", "", "GPIO pin name for the reset button (empty disables it)")
	flag.Parse()

	log.Info().Str("port", *serialPort).Str("config", *configPath).Msg("starting zbpresenced")

	cfg := config.NewManager(*configPath, log.Logger)
	if err := cfg.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load local configuration")
	}
	log.Info().Uint32("restarts", cfg.Restarts()).Msg("local configuration loaded")

	restart := func() {
		log.Warn().Msg("restart requested, exiting for process supervisor to relaunch")
		os.Exit(1)
	}

	alarms := alarm.New(restart, log.Logger)

	// The Zigbee radio stack itself is an external collaborator (spec
	// §1's Non-goals: "no general-purpose Zigbee stack implementation").
	// SimStack stands in here until a real vendor adapter satisfying
	// zb.Stack is wired in its place.
	stack := zb.NewSimStack(zb.IEEEAddr(0x0123456789abcdef))

	binds := bind.NewPool(stack, alarms, cfg, log.Logger)
	pc := presence.New(cfg, alarms, binds, stack, log.Logger)

	var comp *radar.Component
	channel, err := ld2412.OpenUART(*serialPort)
	if err != nil {
		log.Warn().Err(err).Str("port", *serialPort).Msg("LD2412 UART unavailable, running without radar input")
	} else {
		client := ld2412.NewClient(channel, log.Logger)
		comp = radar.New(client, log.Logger)
		// comp.OnPresence/OnEngineering are wired by endpoint.New below,
		// which fans each data frame out to both the attribute store and
		// the presence controller.
		comp.Start()
		defer comp.Stop()
	}

	// comp is a possibly-nil *radar.Component; assigning it directly to
	// the Radar interface field would produce a non-nil interface
	// wrapping a nil pointer, so the field is only set when comp exists.
	var epRadar endpoint.Radar
	if comp != nil {
		epRadar = comp
	}

	ep := endpoint.New(endpoint.Node{
		Config:    cfg,
		Radar:     epRadar,
		Binds:     binds,
		Presence:  pc,
		OnRestart: restart,
	}, comp, pc, func(d zb.Descriptor, v []byte) {
		log.Debug().Uint8("ep", d.EP).Uint16("cluster", uint16(d.Cluster)).Uint16("attr", uint16(d.Attr)).Msg("attribute changed")
	}, log.Logger)

	if err := gpio.Init(); err != nil {
		log.Warn().Err(err).Msg("GPIO host drivers unavailable, running without physical inputs")
	} else {
		if *pirPin != "" {
			pin, err := gpio.OpenPin(*pirPin, periphgpio.PullDown, log.Logger)
			if err != nil {
				log.Warn().Err(err).Str("pin", *pirPin).Msg("failed to open PIR pin")
			} else {
				pin.OnChange = pc.ReportPIR
				pin.Start()
				defer pin.Stop()
			}
		}
		if *resetPin != "" {
			pin, err := gpio.OpenPin(*resetPin, periphgpio.PullUp, log.Logger)
			if err != nil {
				log.Warn().Err(err).Str("pin", *resetPin).Msg("failed to open reset button pin")
			} else {
				pin.OnChange = newResetButtonHandler(cfg, comp, restart, log.Logger)
				pin.Start()
				defer pin.Stop()
			}
		}
	}

	loop := service.New(cfg, alarms, binds, pc, ep.Store(), endpoint.EP, log.Logger)
	if err := loop.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start service loop")
	}
	defer loop.Stop()

	router, err := httpapi.NewRouter(&httpapi.Node{
		Config:   cfg,
		Alarms:   alarms,
		Binds:    binds,
		Presence: pc,
		Restart:  restart,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build debug HTTP router")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		os.Exit(0)
	}()

	log.Info().Str("address", *httpAddr).Msg("starting debug control plane")
	if err := router.Run(*httpAddr); err != nil {
		log.Fatal().Err(err).Msg("debug HTTP server failed")
	}
}

// The press timestamp newResetButtonHandler keeps (pressedAt) and the
// <100ms noise / ~4s factory-reset thresholds
// implement spec §6's GPIO reset-button behaviour: active-low with
// pull-up, so OnChange(high=false) is the press edge.
const (
	resetNoiseFilter   = 100 * time.Millisecond
	resetFactoryHoldAt = 4 * time.Second
)

func newResetButtonHandler(cfg *config.Manager, comp *radar.Component, restart func(), log zerolog.Logger) func(bool) {
	var pressedAt time.Time
	return func(high bool) {
		if !high {
			pressedAt = time.Now()
			return
		}
		if pressedAt.IsZero() {
			return
		}
		held := time.Since(pressedAt)
		pressedAt = time.Time{}
		if held < resetNoiseFilter {
			return
		}
		if held >= resetFactoryHoldAt {
			log.Warn().Dur("held", held).Msg("reset button held: factory reset")
			if err := cfg.FactoryReset(); err != nil {
				log.Error().Err(err).Msg("factory reset failed")
			}
			if comp != nil {
				if err := comp.FactoryReset(); err != nil {
					log.Error().Err(err).Msg("radar factory reset failed")
				}
			}
		} else {
			log.Info().Dur("held", held).Msg("reset button released: soft restart")
		}
		restart()
	}
}
