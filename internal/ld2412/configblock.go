package ld2412

// ConfigBlock accumulates configuration edits and flushes only the
// fields that actually changed in a single command-mode session.
// Supplements the distilled write-everything builder with gate-level
// dirty tracking (one bit per gate per sensitivity kind), so changing a
// single gate's move sensitivity does not also retransmit the other 13
// untouched gates' still sensitivity array unnecessarily — mirroring the
// firmware's own per-gate dirty bitfield.
type ConfigBlock struct {
	client *Client

	base      BaseConfig
	mode      SystemMode
	distRes   DistanceRes
	moveGates [GateCount]uint8
	stillGate [GateCount]uint8

	dirtyBase      bool
	dirtyMode      bool
	dirtyDistRes   bool
	dirtyMoveGate  [GateCount]bool
	dirtyStillGate [GateCount]bool
}

// NewConfigBlock creates a builder seeded with base as the known current
// configuration (typically just read back from the radar).
func NewConfigBlock(client *Client, base BaseConfig, mode SystemMode, distRes DistanceRes, moveGates, stillGates [GateCount]uint8) *ConfigBlock {
	return &ConfigBlock{
		client:    client,
		base:      base,
		mode:      mode,
		distRes:   distRes,
		moveGates: moveGates,
		stillGate: stillGates,
	}
}

func (b *ConfigBlock) SetMinGate(gate uint8) *ConfigBlock {
	b.base.MinGate = clampGate(gate)
	b.dirtyBase = true
	return b
}

func (b *ConfigBlock) SetMaxGate(gate uint8) *ConfigBlock {
	b.base.MaxGate = clampGate(gate)
	b.dirtyBase = true
	return b
}

func (b *ConfigBlock) SetUnoccupiedDelay(sec uint16) *ConfigBlock {
	b.base.UnoccupiedDelaySec = sec
	b.dirtyBase = true
	return b
}

func (b *ConfigBlock) SetOutputPinActiveHigh(v bool) *ConfigBlock {
	b.base.OutputPinActiveHigh = v
	b.dirtyBase = true
	return b
}

func (b *ConfigBlock) SetMode(m SystemMode) *ConfigBlock {
	if b.mode != m {
		b.mode = m
		b.dirtyMode = true
	}
	return b
}

func (b *ConfigBlock) SetDistanceRes(r DistanceRes) *ConfigBlock {
	if b.distRes != r {
		b.distRes = r
		b.dirtyDistRes = true
	}
	return b
}

func (b *ConfigBlock) SetMoveSensitivity(gate int, v uint8) *ConfigBlock {
	if gate < 0 || gate >= GateCount {
		return b
	}
	b.moveGates[gate] = v
	b.dirtyMoveGate[gate] = true
	return b
}

func (b *ConfigBlock) SetStillSensitivity(gate int, v uint8) *ConfigBlock {
	if gate < 0 || gate >= GateCount {
		return b
	}
	b.stillGate[gate] = v
	b.dirtyStillGate[gate] = true
	return b
}

func clampGate(g uint8) uint8 {
	if g < 1 {
		return 1
	}
	if g > 12 {
		return 12
	}
	return g
}

// Dirty reports whether any field was changed since construction (or
// since the last EndChange).
func (b *ConfigBlock) Dirty() bool {
	if b.dirtyBase || b.dirtyMode || b.dirtyDistRes {
		return true
	}
	for _, d := range b.dirtyMoveGate {
		if d {
			return true
		}
	}
	for _, d := range b.dirtyStillGate {
		if d {
			return true
		}
	}
	return false
}

// EndChange flushes the minimum necessary writes in one command-mode
// session. If nothing is dirty, it is a no-op that never touches the
// wire.
func (b *ConfigBlock) EndChange() error {
	if !b.Dirty() {
		return nil
	}

	anyMove, anyStill := false, false
	for _, d := range b.dirtyMoveGate {
		anyMove = anyMove || d
	}
	for _, d := range b.dirtyStillGate {
		anyStill = anyStill || d
	}

	err := b.client.withCmdModeBatch(func() error {
		if b.dirtyMode {
			if err := b.client.setSystemModeRaw(b.mode); err != nil {
				return err
			}
		}
		if b.dirtyBase {
			if err := b.client.writeBaseConfigRaw(b.base); err != nil {
				return err
			}
		}
		if anyMove {
			if err := b.client.writeMoveSensitivityRaw(b.moveGates); err != nil {
				return err
			}
		}
		if anyStill {
			if err := b.client.writeStillSensitivityRaw(b.stillGate); err != nil {
				return err
			}
		}
		if b.dirtyDistRes {
			if err := b.client.setDistanceResRaw(b.distRes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.dirtyBase, b.dirtyMode, b.dirtyDistRes = false, false, false
	for i := range b.dirtyMoveGate {
		b.dirtyMoveGate[i] = false
		b.dirtyStillGate[i] = false
	}
	return nil
}
