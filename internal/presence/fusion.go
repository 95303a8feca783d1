// Package presence implements presence fusion and on/off dispatch (spec
// §4.5): reconciling mmWave, PIR and external signals into one occupancy
// verdict with edge/keep detection and illuminance gating, then driving the
// outgoing command engine (internal/command) against bound actuators
// (internal/bind) according to the configured on/off mode. Grounded on the
// teacher's Controller (pkg/zigbee/controller.go): a small stateful type
// that reacts to async events and drives outbound calls, generalized from
// "NCP callback routing" to "sensor fusion with a configurable dispatch
// table".
package presence

import "github.com/theorlangur/zbpresence/internal/config"

// Sources is one instant's reading of the three presence origins.
type Sources struct {
	MMWave   bool
	PIR      bool
	External bool
}

// gates is the edge/keep enable set derived from the persisted detection
// mode bitfield.
type gates struct {
	edgeMM, edgePIR, edgeExt bool
	keepMM, keepPIR, keepExt bool
}

func gatesFrom(cfg *config.Manager) gates {
	return gates{
		edgeMM:  cfg.DetectionEnabled(config.EdgeMmWave),
		edgePIR: cfg.DetectionEnabled(config.EdgePIRInternal),
		edgeExt: cfg.DetectionEnabled(config.EdgeExternal),
		keepMM:  cfg.DetectionEnabled(config.KeepMmWave),
		keepPIR: cfg.DetectionEnabled(config.KeepPIRInternal),
		keepExt: cfg.DetectionEnabled(config.KeepExternal),
	}
}

// step runs one fusion evaluation per spec §4.5's transition rules. It is a
// direct transcription of the two-block pseudocode there: the edge block
// may fire whenever firstRun, triggerArmed, or the previous value was
// false, and the keep block then re-evaluates (and can override) whenever
// the previous value was true and this isn't the first run. Both blocks
// can run in the same call — that is what the source does — so a
// re-armed-while-still-present edge is reaffirmed by the keep sources
// rather than left standing alone.
func step(prevFused, firstRun, triggerArmed bool, src Sources, g gates) (fused, armedOut, changed bool) {
	fused = prevFused
	armedOut = triggerArmed

	if firstRun || triggerArmed || !prevFused {
		if (g.edgeMM && src.MMWave) || (g.edgePIR && src.PIR) || (g.edgeExt && src.External) {
			fused = true
			armedOut = false
			changed = true
		}
	}
	if !firstRun && prevFused {
		fused = (g.keepMM && src.MMWave) || (g.keepPIR && src.PIR) || (g.keepExt && src.External)
		if !fused {
			armedOut = true
			changed = true
		}
	}
	return fused, armedOut, changed
}
