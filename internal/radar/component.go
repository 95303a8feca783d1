// Package radar drives the HLK-LD2412 component (spec §4.4): a manager
// queue for infrequent configuration/calibration requests and a fast queue
// that continuously drains streamed presence data, so a slow calibration
// round-trip never starves presence reporting. Grounded on the teacher's
// Controller callback-dispatch idiom (pkg/zigbee/controller.go's
// handleCallback/handleIncomingMessage): one owning goroutine reacts to
// whatever arrives next — queued manager work or a fresh data frame — and
// fans the result out to registered callbacks instead of blocking a caller
// on the result.
package radar

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/ld2412"
)

// pollWait bounds how long the pump waits for a data frame before checking
// the manager queue again, so a queued request never waits longer than this
// behind an idle radar.
const pollWait = 100 * time.Millisecond

// managerJob is one manager-queue request: run against the client and
// report back on done.
type managerJob struct {
	fn   func(*ld2412.Client) error
	done chan error
}

// Component owns the serial-framed LD2412 client and the single goroutine
// that is allowed to touch it. All manager-queue operations and the fast
// data-frame loop are serialized through this goroutine; nothing else may
// call into *ld2412.Client directly (spec §4.4: "the manager queue and the
// fast queue share one link").
type Component struct {
	client *ld2412.Client
	log    zerolog.Logger

	jobs chan managerJob
	stop chan struct{}
	wg   sync.WaitGroup

	mu   sync.Mutex
	mode ld2412.SystemMode

	calibrating    bool
	calRestoreMode ld2412.SystemMode
	calMoveMax     [ld2412.GateCount]uint8
	calStillMax    [ld2412.GateCount]uint8

	gateStats [ld2412.GateCount]gateMinMax

	haveLastReport bool
	lastReport     ld2412.PresenceSample

	// OnPresence fires once per decoded data frame with the Simple-mode
	// presence fields (always populated, even in Energy mode), gated by
	// reportChanged so a quiescent radar doesn't flood downstream
	// consumers with unchanged samples.
	OnPresence func(ld2412.PresenceSample)
	// OnEngineering fires additionally when the radar is in Energy mode,
	// carrying per-gate energy and the internal light reading. Ungated:
	// the ambient light reading it also carries can change independently
	// of the presence verdict.
	OnEngineering func(ld2412.EngineeringSample)
}

// gateMinMax tracks one gate's observed move/still energy extremes across
// Energy-mode frames, reset by ResetEnergyStat.
type gateMinMax struct {
	moveMin, moveMax   uint8
	stillMin, stillMax uint8
}

// reportDistanceThreshold and reportEnergyThreshold are spec §4.4's
// report-change thresholds: a fresh sample whose state hasn't changed is
// only worth posting once its distance or energy has moved by more than
// this much from the last one reported.
const (
	reportDistanceThreshold = 10 // cm
	reportEnergyThreshold   = 10
)

// New creates a Component around client. Call Start to begin the fast
// queue's data pump.
func New(client *ld2412.Client, log zerolog.Logger) *Component {
	c := &Component{
		client: client,
		log:    log.With().Str("component", "radar").Logger(),
		jobs:   make(chan managerJob),
		stop:   make(chan struct{}),
		mode:   ld2412.ModeEnergy,
	}
	c.ResetEnergyStat()
	return c
}

// Start launches the pump goroutine. Calling Start twice is a caller bug.
func (c *Component) Start() {
	c.wg.Add(1)
	go c.pump()
}

// Stop signals the pump to exit and waits for it.
func (c *Component) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// pump is the component's one reader/writer of the serial link. It favors
// manager jobs (calibration, mode switches, factory reset) whenever one is
// queued, and otherwise drains the fast queue by waiting for the next data
// frame.
func (c *Component) pump() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case j := <-c.jobs:
			j.done <- j.fn(c.client)
			continue
		default:
		}

		mode, payload, err := c.client.ReadDataFrame(pollWait)
		if err != nil {
			// timeout or a transient frame error: give the manager queue
			// another chance before retrying the read.
			continue
		}
		c.handleDataFrame(mode, payload)
	}
}

func (c *Component) handleDataFrame(mode ld2412.SystemMode, payload []byte) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()

	if mode == ld2412.ModeSimple {
		sample, err := ld2412.DecodePresence(payload)
		if err != nil {
			c.log.Debug().Err(err).Msg("malformed simple-mode data frame")
			return
		}
		if c.OnPresence != nil && c.reportChanged(sample) {
			c.OnPresence(sample)
		}
		return
	}

	eng, err := ld2412.DecodeEngineering(payload)
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed energy-mode data frame")
		return
	}
	c.trackCalibration(eng)
	c.trackGateStats(eng)
	if c.OnPresence != nil && c.reportChanged(eng.PresenceSample) {
		c.OnPresence(eng.PresenceSample)
	}
	if c.OnEngineering != nil {
		c.OnEngineering(eng)
	}
}

// reportChanged decides whether sample is worth posting to OnPresence (spec
// §4.4): the first sample ever seen always reports, and thereafter a sample
// reports only if its state differs from the last one reported or any
// distance/energy sub-field has moved by more than the report-change
// threshold. Only a reported sample becomes the new lastReport baseline;
// unreported samples leave it unchanged, so drift is always measured
// against the last sample that was posted.
func (c *Component) reportChanged(sample ld2412.PresenceSample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveLastReport {
		c.haveLastReport = true
		c.lastReport = sample
		return true
	}

	last := c.lastReport
	changed := sample.State != last.State ||
		absDelta(int(sample.MoveDistanceCM), int(last.MoveDistanceCM)) > reportDistanceThreshold ||
		absDelta(int(sample.StillDistanceCM), int(last.StillDistanceCM)) > reportDistanceThreshold ||
		absDelta(int(sample.MoveEnergy), int(last.MoveEnergy)) > reportEnergyThreshold ||
		absDelta(int(sample.StillEnergy), int(last.StillEnergy)) > reportEnergyThreshold

	if changed {
		c.lastReport = sample
	}
	return changed
}

func absDelta(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// trackCalibration folds one Energy-mode sample into the running per-gate
// maxima a StartCalibrate/StopCalibrate bracket collects (spec §4.4).
func (c *Component) trackCalibration(eng ld2412.EngineeringSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.calibrating {
		return
	}
	for i := 0; i < ld2412.GateCount; i++ {
		if eng.MoveEnergyGates[i] > c.calMoveMax[i] {
			c.calMoveMax[i] = eng.MoveEnergyGates[i]
		}
		if eng.StillEnergyGates[i] > c.calStillMax[i] {
			c.calStillMax[i] = eng.StillEnergyGates[i]
		}
	}
}

// trackGateStats folds one Energy-mode sample into the continuously-running
// per-gate min/max (spec §4.4's diagnostic accumulator, distinct from the
// calibration-session one trackCalibration maintains). Runs unconditionally,
// not gated by a StartCalibrate bracket, and cleared only by ResetEnergyStat.
func (c *Component) trackGateStats(eng ld2412.EngineeringSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < ld2412.GateCount; i++ {
		g := &c.gateStats[i]
		move, still := eng.MoveEnergyGates[i], eng.StillEnergyGates[i]
		if move < g.moveMin {
			g.moveMin = move
		}
		if move > g.moveMax {
			g.moveMax = move
		}
		if still < g.stillMin {
			g.stillMin = still
		}
		if still > g.stillMax {
			g.stillMax = still
		}
	}
}

// ResetEnergyStat clears the continuously-running per-gate min/max a
// manufacturer-specific reset-energy-stat command triggers, independent of
// any calibration bracket.
func (c *Component) ResetEnergyStat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.gateStats {
		c.gateStats[i] = gateMinMax{moveMin: 0xff, stillMin: 0xff}
	}
}

// StartCalibrate snapshots the current mode, switches the radar to
// Energy, and clears the per-gate maxima a following StopCalibrate
// derives thresholds from (spec §4.4's calibration protocol).
func (c *Component) StartCalibrate() error {
	c.mu.Lock()
	if c.calibrating {
		c.mu.Unlock()
		return nil
	}
	c.calRestoreMode = c.mode
	c.calMoveMax = [ld2412.GateCount]uint8{}
	c.calStillMax = [ld2412.GateCount]uint8{}
	c.calibrating = true
	c.mu.Unlock()

	if err := c.SetMode(ld2412.ModeEnergy); err != nil {
		c.mu.Lock()
		c.calibrating = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// StopCalibrate derives new move/still sensitivity thresholds from the
// maxima observed since StartCalibrate (still := max x 1.1, move := max x
// 1.3, each clamped to [0,100]), writes them, and restores the radar's
// prior mode.
func (c *Component) StopCalibrate() error {
	c.mu.Lock()
	if !c.calibrating {
		c.mu.Unlock()
		return nil
	}
	moveMax, stillMax := c.calMoveMax, c.calStillMax
	restoreMode := c.calRestoreMode
	c.calibrating = false
	c.mu.Unlock()

	var move, still [ld2412.GateCount]uint8
	for i := 0; i < ld2412.GateCount; i++ {
		move[i] = clampThreshold(float64(moveMax[i]) * 1.3)
		still[i] = clampThreshold(float64(stillMax[i]) * 1.1)
	}

	if err := c.SetMoveSensitivity(move); err != nil {
		return err
	}
	if err := c.SetStillSensitivity(still); err != nil {
		return err
	}
	return c.SetMode(restoreMode)
}

func clampThreshold(v float64) uint8 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// enqueue submits fn to the manager queue and blocks for its result. Safe
// to call from any goroutine; serialized against the fast queue by pump.
func (c *Component) enqueue(fn func(*ld2412.Client) error) error {
	j := managerJob{fn: fn, done: make(chan error, 1)}
	select {
	case c.jobs <- j:
	case <-c.stop:
		return errStopped
	}
	select {
	case err := <-j.done:
		return err
	case <-c.stop:
		return errStopped
	}
}

// Mode reports the system mode last observed on an incoming data frame.
func (c *Component) Mode() ld2412.SystemMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the radar between Simple and Energy reporting.
func (c *Component) SetMode(mode ld2412.SystemMode) error {
	return c.enqueue(func(cl *ld2412.Client) error {
		var err error
		if mode == ld2412.ModeEnergy {
			err = cl.EnterEngineeringMode()
		} else {
			err = cl.LeaveEngineeringMode()
		}
		if err == nil {
			c.mu.Lock()
			c.mode = mode
			c.mu.Unlock()
		}
		return err
	})
}

// SetBaseConfig writes gate-range and timing configuration.
func (c *Component) SetBaseConfig(cfg ld2412.BaseConfig) error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.WriteBaseConfig(cfg) })
}

// BaseConfig reads the current gate-range and timing configuration.
func (c *Component) BaseConfig() (cfg ld2412.BaseConfig, err error) {
	err = c.enqueue(func(cl *ld2412.Client) error {
		var e error
		cfg, e = cl.ReadBaseConfig()
		return e
	})
	return cfg, err
}

// SetMoveSensitivity writes the 14-gate movement sensitivity thresholds.
func (c *Component) SetMoveSensitivity(gates [ld2412.GateCount]uint8) error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.WriteMoveSensitivity(gates) })
}

// SetStillSensitivity writes the 14-gate stillness sensitivity thresholds.
func (c *Component) SetStillSensitivity(gates [ld2412.GateCount]uint8) error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.WriteStillSensitivity(gates) })
}

// RunDynamicBackgroundAnalysis kicks off the radar's self-calibration and
// returns once the request is acknowledged; the caller polls
// BackgroundAnalysisRunning for completion.
func (c *Component) RunDynamicBackgroundAnalysis() error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.RunDynamicBackgroundAnalysis() })
}

// BackgroundAnalysisRunning polls whether a prior
// RunDynamicBackgroundAnalysis call is still in progress.
func (c *Component) BackgroundAnalysisRunning() (running bool, err error) {
	err = c.enqueue(func(cl *ld2412.Client) error {
		var e error
		running, e = cl.QueryDynamicBackgroundAnalysis()
		return e
	})
	return running, err
}

// FactoryReset resets the radar's own configuration to factory defaults.
func (c *Component) FactoryReset() error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.FactoryReset() })
}

// Restart power-cycles the radar's firmware and waits for it to settle.
func (c *Component) Restart() error {
	return c.enqueue(func(cl *ld2412.Client) error { return cl.Restart() })
}

// Version reads the radar firmware version.
func (c *Component) Version() (v ld2412.Version, err error) {
	err = c.enqueue(func(cl *ld2412.Client) error {
		var e error
		v, e = cl.ReadVersion()
		return e
	})
	return v, err
}

var errStopped = &stoppedError{}

type stoppedError struct{}

func (*stoppedError) Error() string { return "radar: component stopped" }
