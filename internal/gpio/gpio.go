// Package gpio reads the node's interrupt-driven digital inputs.
// cmd/zbpresenced opens two of them: the PIR sensor, wired to the
// presence controller, and the reset button; the radar's digital presence
// pin is not opened (spec §4.4, §9: "an ISR only posts to a queue,
// it never calls back into application logic directly"). Each pin gets its
// own goroutine blocked in WaitForEdge, translating edges into plain
// function calls on the consumer's behalf; no consumer callback ever runs
// on anything resembling interrupt context in Go, but the edge-triggered,
// debounce-in-software shape mirrors the firmware's own ISR-to-queue
// discipline.
package gpio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// debounce is the minimum spacing between accepted edges on any one pin,
// absorbing contact bounce on the PIR and reset-button lines.
const debounce = 20 * time.Millisecond

// Pin is one edge-triggered digital input.
type Pin struct {
	name string
	pin  gpio.PinIO
	log  zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	// OnChange fires (from the pin's own goroutine) with the pin's new
	// logic level whenever it changes, debounced.
	OnChange func(high bool)
}

// Init loads the periph.io host drivers. Call once at process start before
// opening any Pin.
func Init() error {
	_, err := host.Init()
	return err
}

// OpenPin opens name (e.g. "GPIO17") as a pull-appropriate input watching
// both edges.
func OpenPin(name string, pull gpio.Pull, log zerolog.Logger) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errUnknownPin(name)
	}
	if err := p.In(pull, gpio.BothEdges); err != nil {
		return nil, err
	}
	return &Pin{
		name: name,
		pin:  p,
		log:  log.With().Str("component", "gpio").Str("pin", name).Logger(),
		stop: make(chan struct{}),
	}, nil
}

// Start launches the pin's edge-watching goroutine.
func (p *Pin) Start() {
	p.wg.Add(1)
	go p.watch()
}

// Stop terminates the edge-watching goroutine and waits for it to exit.
func (p *Pin) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// Read reports the pin's current logic level without waiting for an edge.
func (p *Pin) Read() bool {
	return p.pin.Read() == gpio.High
}

func (p *Pin) watch() {
	defer p.wg.Done()
	var lastFire time.Time
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		// WaitForEdge blocks up to its timeout; a short timeout keeps the
		// stop channel responsive without busy-looping.
		if !p.pin.WaitForEdge(200 * time.Millisecond) {
			continue
		}
		if time.Since(lastFire) < debounce {
			continue
		}
		lastFire = time.Now()
		level := p.pin.Read() == gpio.High
		p.log.Debug().Bool("high", level).Msg("edge")
		if p.OnChange != nil {
			p.OnChange(level)
		}
	}
}

type errUnknownPin string

func (e errUnknownPin) Error() string { return "gpio: unknown pin " + string(e) }
