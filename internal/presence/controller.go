package presence

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/command"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/zb"
)

// OurEndpoint is this node's presence endpoint (spec §6: "single presence
// endpoint").
const OurEndpoint uint8 = bind.OurEndpoint

// boundCommand caches the retryable Command for one bound actuator, keyed
// by which on/off command it was last built for — the on/off mode
// determines a single command kind per edge, so a mode change simply
// discards and rebuilds the cached instance.
type boundCommand struct {
	cmdID uint8
	cmd   *command.Command
}

// Controller owns the fused presence verdict and the on/off dispatch policy
// derived from it (spec §4.5). Grounded on the teacher's Controller
// (pkg/zigbee/controller.go): a stateful type reacting to async inputs and
// driving outbound calls, generalized here from NCP callback routing to
// sensor fusion plus a configurable on/off dispatch table.
type Controller struct {
	mu  sync.Mutex
	log zerolog.Logger

	cfg    *config.Manager
	alarms *alarm.Pool
	binds  *bind.Pool
	stack  zb.Stack

	firstRun     bool
	fused        bool
	triggerArmed bool
	suppressed   bool

	src Sources

	haveInternalLight bool
	internalLight     uint8
	externalLight     uint8

	externalTimer alarm.Handle
	localTimer    alarm.Handle

	perBind map[int]*boundCommand

	// OnOccupancyChanged is invoked outside any internal lock whenever the
	// fused verdict changes, so the endpoint attribute layer can push the
	// Occupancy Sensing attribute.
	OnOccupancyChanged func(occupied bool)
	// OnPIRChanged mirrors the PIR-presence manufacturer attribute.
	OnPIRChanged func(active bool)
}

// New creates a Controller bound to cfg/alarms/binds/stack and wires itself
// into binds.OnReportedState so bound-actuator on/off reports drive the
// suppression rule (spec §4.5's last paragraph).
func New(cfg *config.Manager, alarms *alarm.Pool, binds *bind.Pool, stack zb.Stack, log zerolog.Logger) *Controller {
	c := &Controller{
		cfg:           cfg,
		alarms:        alarms,
		binds:         binds,
		stack:         stack,
		log:           log.With().Str("component", "presence").Logger(),
		firstRun:      true,
		perBind:       make(map[int]*boundCommand),
		externalTimer: alarm.Invalid,
		localTimer:    alarm.Invalid,
	}
	binds.OnReportedState = c.onBoundDeviceReport
	return c
}

// ReportMMWave feeds the radar-derived presence bit (from a data frame's
// target state or the radar's digital presence pin).
func (c *Controller) ReportMMWave(present bool) {
	c.mu.Lock()
	c.src.MMWave = present
	c.mu.Unlock()
	c.evaluate()
}

// ReportPIR feeds the PIR GPIO edge signal.
func (c *Controller) ReportPIR(present bool) {
	c.mu.Lock()
	changed := c.src.PIR != present
	c.src.PIR = present
	c.mu.Unlock()
	if changed && c.OnPIRChanged != nil {
		c.OnPIRChanged(present)
	}
	c.evaluate()
}

// SetInternalLight records the radar's own ambient-light reading, carried
// only by Energy-mode data frames.
func (c *Controller) SetInternalLight(v uint8) {
	c.mu.Lock()
	c.haveInternalLight = true
	c.internalLight = v
	c.mu.Unlock()
}

// SetExternalIlluminance records a coordinator-reported Illuminance
// Measurement value (raw 16-bit per the cluster's log-scale encoding); spec
// §4.5 uses the top byte as the comparable light level.
func (c *Controller) SetExternalIlluminance(raw uint16) {
	c.mu.Lock()
	c.externalLight = uint8(raw >> 8)
	c.mu.Unlock()
}

// HandleIASZoneStatus drives externalPresent directly from an IAS-Zone
// status-change notification's bit 0.
func (c *Controller) HandleIASZoneStatus(zoneStatus uint16) {
	c.setExternal(zoneStatus&1 != 0)
}

// HandleOnOffServerCommand processes an inbound command on this node's
// own On/Off server cluster (spec §4.5's "external-signal timer"). onTime
// is the ZCL On-With-Timed-Off duration in tenths of a second and is
// ignored for On/Off/Toggle.
func (c *Controller) HandleOnOffServerCommand(cmdID uint8, onTime uint16) {
	switch cmdID {
	case zb.CmdOn:
		c.armExternal(c.cfg.ExternalOnOffTimeout())
	case zb.CmdOnWithTimedOff:
		c.armExternal(time.Duration(onTime) * 100 * time.Millisecond)
	case zb.CmdOff, zb.CmdToggle:
		c.setExternal(false)
	}
}

// SetExternalPresence is the attribute-write counterpart to
// HandleOnOffServerCommand: an external occupancy-ingest attribute write
// arms/clears the same timer (spec §4.5: "attribute writes that set
// externalPresent apply the same behaviour").
func (c *Controller) SetExternalPresence(present bool) {
	if present {
		c.armExternal(c.cfg.ExternalOnOffTimeout())
	} else {
		c.setExternal(false)
	}
}

func (c *Controller) armExternal(d time.Duration) {
	c.setExternal(true)
	c.mu.Lock()
	if d > 0 {
		c.externalTimer = c.alarms.Arm(c.externalTimer, d, func(any) { c.onExternalTimeout() }, nil)
	} else {
		c.alarms.Cancel(c.externalTimer)
		c.externalTimer = alarm.Invalid
	}
	c.mu.Unlock()
}

func (c *Controller) onExternalTimeout() {
	c.mu.Lock()
	c.externalTimer = alarm.Invalid
	c.mu.Unlock()
	c.setExternal(false)
}

func (c *Controller) setExternal(v bool) {
	c.mu.Lock()
	c.src.External = v
	c.mu.Unlock()
	c.evaluate()
}

// Occupied reports the current fused presence verdict.
func (c *Controller) Occupied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fused
}

// Suppressed reports whether the most recent Clear→Present edge was
// withheld from dispatch by the illuminance gate.
func (c *Controller) Suppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}

func (c *Controller) evaluate() {
	c.mu.Lock()
	g := gatesFrom(c.cfg)
	fused, armed, changed := step(c.fused, c.firstRun, c.triggerArmed, c.src, g)
	prevFused := c.fused
	c.fused = fused
	c.triggerArmed = armed
	c.firstRun = false
	c.mu.Unlock()

	if !changed {
		return
	}
	c.log.Info().Bool("fused", fused).Msg("presence fusion edge")
	c.updateCounterOfDeath(fused)
	if c.OnOccupancyChanged != nil {
		c.OnOccupancyChanged(fused)
	}

	switch {
	case fused:
		// Clear→Present, or a trigger re-armed by onBoundDeviceReport
		// firing again while presence still holds.
		c.onClearToPresent()
	case prevFused && !fused:
		c.onPresentToClear()
	}
}

// updateCounterOfDeath pauses or arms the alarm pool's counter of death on
// every fusion edge (spec §4.1): presence detected means the device isn't
// quiet, so the countdown is paused; presence clearing is only a quiet
// moment worth arming the countdown from when no local re-arm timer is
// currently running.
func (c *Controller) updateCounterOfDeath(fused bool) {
	if fused {
		c.alarms.DeactivateCounterOfDeath()
		return
	}
	c.mu.Lock()
	localRunning := c.localTimer != alarm.Invalid
	c.mu.Unlock()
	if !localRunning {
		c.alarms.CheckCounterOfDeath()
	}
}

// onBoundDeviceReport implements the suppression re-arm rule: once every
// tracked bound device reports its own on/off state as off while presence
// still holds, a fresh edge is allowed to dispatch On again.
func (c *Controller) onBoundDeviceReport(rec *bind.Record) {
	if rec.OnState {
		return
	}
	c.mu.Lock()
	stillPresent := c.fused
	anyOn := false
	for _, r := range c.binds.Active() {
		if r.State == bind.StateFunctional && r.OnState {
			anyOn = true
			break
		}
	}
	if stillPresent && !anyOn {
		c.triggerArmed = true
	}
	c.mu.Unlock()
	if stillPresent && !anyOn {
		c.evaluate()
	}
}

func (c *Controller) sampleIlluminance() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveInternalLight {
		return c.internalLight
	}
	return c.externalLight
}

func (c *Controller) onClearToPresent() {
	light := c.sampleIlluminance()
	threshold := c.cfg.IlluminanceThreshold()
	suppressedByLight := threshold < config.MaxIlluminance && light > threshold

	c.mu.Lock()
	c.suppressed = suppressedByLight
	c.mu.Unlock()

	if suppressedByLight {
		c.log.Debug().Uint8("light", light).Uint8("threshold", threshold).Msg("edge suppressed by illuminance")
		return
	}

	switch c.cfg.OnOffMode() {
	case config.OnOffModeOnOnly, config.OnOffModeOnOff:
		c.dispatchOn(zb.CmdOn, nil)
	case config.OnOffModeTimedOn:
		onTimeDs := uint16(c.cfg.OnOffTimeout() / (100 * time.Millisecond))
		c.dispatchOn(zb.CmdOnWithTimedOff, encodeOnWithTimedOff(onTimeDs))
	case config.OnOffModeTimedOnLocal:
		if len(c.binds.Active()) == 0 {
			return
		}
		c.dispatchOn(zb.CmdOn, nil)
		c.armLocalTimer(c.cfg.OnOffTimeout())
	}
}

func (c *Controller) onPresentToClear() {
	c.mu.Lock()
	c.suppressed = false
	c.mu.Unlock()

	switch c.cfg.OnOffMode() {
	case config.OnOffModeOffOnly, config.OnOffModeOnOff:
		c.dispatchAll(zb.CmdOff, nil)
	}
	// TimedOnLocal's own local timer, not this edge, drives its Off.
}

func (c *Controller) armLocalTimer(d time.Duration) {
	if d <= 0 {
		// spec §8: timeout=0 skips the local re-arm timer entirely.
		return
	}
	c.alarms.DeactivateCounterOfDeath()
	c.mu.Lock()
	c.localTimer = c.alarms.Arm(c.localTimer, d, func(any) { c.onLocalTimerFired() }, nil)
	c.mu.Unlock()
}

func (c *Controller) onLocalTimerFired() {
	c.mu.Lock()
	c.localTimer = alarm.Invalid
	stillPresent := c.fused
	timeout := c.cfg.OnOffTimeout()
	c.mu.Unlock()

	if stillPresent {
		c.armLocalTimer(timeout)
		return
	}
	c.dispatchAll(zb.CmdOff, nil)
	c.alarms.CheckCounterOfDeath()
}

// dispatchOn sends cmdID to every functional bound actuator that isn't
// already reporting on, per spec §4.5's suppression rule.
func (c *Controller) dispatchOn(cmdID uint8, payload []byte) {
	for _, rec := range c.binds.Active() {
		if rec.State != bind.StateFunctional || rec.OnState {
			continue
		}
		c.sendTo(rec, cmdID, payload)
	}
}

func (c *Controller) dispatchAll(cmdID uint8, payload []byte) {
	for _, rec := range c.binds.Active() {
		if rec.State != bind.StateFunctional {
			continue
		}
		c.sendTo(rec, cmdID, payload)
	}
}

func (c *Controller) sendTo(rec *bind.Record, cmdID uint8, payload []byte) {
	idx := rec.Index
	c.mu.Lock()
	bc := c.perBind[idx]
	if bc == nil || bc.cmdID != cmdID {
		bc = &boundCommand{
			cmdID: cmdID,
			cmd: command.New(c.stack, c.alarms, rec.Address(), rec.Endpoint, zb.ClusterOnOff, cmdID,
				func() []byte { return payload }, c.log),
		}
		c.perBind[idx] = bc
	}
	c.mu.Unlock()

	bc.cmd.Send(command.Callbacks{
		OnSuccess: func() {
			c.log.Debug().Int("bind", idx).Uint8("cmd", cmdID).Msg("on/off command delivered")
		},
		OnTotalFail: func() {
			c.log.Warn().Int("bind", idx).Uint8("cmd", cmdID).Msg("on/off command exhausted retries")
		},
	})
}

func encodeOnWithTimedOff(onTimeDeciseconds uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = 0 // OnOffControl: accept-only-when-off not set
	binary.LittleEndian.PutUint16(buf[1:3], onTimeDeciseconds)
	binary.LittleEndian.PutUint16(buf[3:5], 0) // off-wait time
	return buf
}
