// Package config manages the node's persisted local configuration: a
// single fixed-layout binary file, version-gated and rewritten atomically
// on every change. Grounded on the firmware's LocalConfig: same field set,
// same defaults, same "read version first, reset to defaults on mismatch,
// bump a restart counter on every successful load" lifecycle.
package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// currentVersion is bumped whenever the on-disk record layout changes.
// A file written by an older or newer version is discarded and replaced
// with defaults rather than partially trusted.
const currentVersion uint8 = 2

// MaxIlluminance is the highest representable ambient-light threshold.
const MaxIlluminance uint8 = 255

// OnOffMode selects how the node drives its on/off output, per spec §3's
// six-value table.
type OnOffMode uint8

const (
	OnOffModeNothing OnOffMode = iota
	OnOffModeOnOnly
	OnOffModeOffOnly
	OnOffModeOnOff
	OnOffModeTimedOn
	OnOffModeTimedOnLocal
)

// MaxBinds is the number of bound actuators whose reporting-capability
// tri-state this config persists (spec §3: "up to 6 binds").
const MaxBinds = 6

// BindCapability is the persisted tri-state for whether a bound
// actuator's On/Off attribute reporting was ever confirmed working.
type BindCapability uint8

const (
	BindCapUndefined BindCapability = iota
	BindCapTrue
	BindCapFalse
)

// LD2412Mode mirrors the radar's own system-mode byte.
type LD2412Mode uint8

const (
	LD2412ModeEnergy LD2412Mode = 1
	LD2412ModeSimple LD2412Mode = 2
)

// DetectionBit selects one presence-fusion input. All six default to set.
type DetectionBit uint8

const (
	EdgeMmWave DetectionBit = 1 << iota
	EdgePIRInternal
	EdgeExternal
	KeepMmWave
	KeepPIRInternal
	KeepExternal
)

const defaultDetectionMode = EdgeMmWave | EdgePIRInternal | EdgeExternal | KeepMmWave | KeepPIRInternal | KeepExternal

// record is the exact on-disk layout, little-endian, written and read as
// a flat byte sequence. Field order is part of the wire contract: do not
// reorder without bumping currentVersion.
type record struct {
	Version              uint8
	OnOffTimeoutSeconds  uint16
	OnOffMode            uint8
	DetectionMode        uint8
	LD2412Mode           uint8
	IlluminanceThreshold uint8
	ExtOnOffTimeoutSec   uint16
	Restarts             uint32
	// BindCapabilities packs MaxBinds two-bit BindCapability values, bind
	// index 0 in the low bits.
	BindCapabilities uint16
}

func defaultRecord() record {
	return record{
		Version:              currentVersion,
		OnOffTimeoutSeconds:  10,
		OnOffMode:            uint8(OnOffModeTimedOnLocal),
		DetectionMode:        uint8(defaultDetectionMode),
		LD2412Mode:           uint8(LD2412ModeEnergy),
		IlluminanceThreshold: MaxIlluminance,
		ExtOnOffTimeoutSec:   1,
		Restarts:             0,
	}
}

// Manager owns the persisted record and serializes access to it. Every
// setter writes the file back to disk before returning, matching the
// firmware's synchronous on_change() semantics.
type Manager struct {
	mu   sync.RWMutex
	path string
	rec  record
	log  zerolog.Logger
}

// NewManager creates a Manager bound to path. Call Load before use.
func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{
		path: path,
		rec:  defaultRecord(),
		log:  log.With().Str("component", "config").Logger(),
	}
}

// Load reads the persisted record, resetting to defaults and rewriting
// the file if it is absent or carries a version this build doesn't
// recognize. On a clean load it increments the restart counter and
// persists that increment, so Restarts() reflects the true boot count.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		m.log.Info().Msg("no local config on disk, writing defaults")
		m.rec = defaultRecord()
		return m.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("config: open %s: %w", m.path, err)
	}
	defer f.Close()

	var rec record
	if err := binary.Read(f, binary.LittleEndian, &rec); err != nil {
		m.log.Warn().Err(err).Msg("local config unreadable, resetting to defaults")
		m.rec = defaultRecord()
		return m.saveLocked()
	}
	if rec.Version != currentVersion {
		m.log.Warn().Uint8("onDisk", rec.Version).Uint8("expected", currentVersion).
			Msg("local config version mismatch, resetting to defaults")
		m.rec = defaultRecord()
		return m.saveLocked()
	}

	rec.Restarts++
	m.rec = rec
	m.log.Info().Uint32("restarts", rec.Restarts).Msg("local config loaded")
	return m.saveLocked()
}

// FactoryReset discards the current record, replacing it with defaults
// and persisting immediately.
func (m *Manager) FactoryReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = defaultRecord()
	m.log.Warn().Msg("local config factory reset")
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, m.rec); err != nil {
		f.Close()
		return fmt.Errorf("config: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("config: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

// --- read accessors ---

func (m *Manager) OnOffTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.rec.OnOffTimeoutSeconds) * time.Second
}

func (m *Manager) OnOffMode() OnOffMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return OnOffMode(m.rec.OnOffMode)
}

func (m *Manager) DetectionEnabled(bit DetectionBit) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return DetectionBit(m.rec.DetectionMode)&bit != 0
}

func (m *Manager) LD2412Mode() LD2412Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LD2412Mode(m.rec.LD2412Mode)
}

func (m *Manager) IlluminanceThreshold() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.IlluminanceThreshold
}

func (m *Manager) ExternalOnOffTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.rec.ExtOnOffTimeoutSec) * time.Second
}

func (m *Manager) Restarts() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.Restarts
}

// --- write accessors: each persists synchronously before returning ---

func (m *Manager) SetOnOffTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.OnOffTimeoutSeconds = uint16(d / time.Second)
	return m.saveLocked()
}

func (m *Manager) SetOnOffMode(mode OnOffMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.OnOffMode = uint8(mode)
	return m.saveLocked()
}

func (m *Manager) SetDetectionEnabled(bit DetectionBit, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := DetectionBit(m.rec.DetectionMode)
	if enabled {
		cur |= bit
	} else {
		cur &^= bit
	}
	m.rec.DetectionMode = uint8(cur)
	return m.saveLocked()
}

func (m *Manager) SetLD2412Mode(mode LD2412Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.LD2412Mode = uint8(mode)
	return m.saveLocked()
}

func (m *Manager) SetIlluminanceThreshold(v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.IlluminanceThreshold = v
	return m.saveLocked()
}

func (m *Manager) SetExternalOnOffTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.ExtOnOffTimeoutSec = uint16(d / time.Second)
	return m.saveLocked()
}

// BindCapability returns the persisted reporting-capability tri-state for
// bind slot index (0..MaxBinds-1). Out-of-range indices report
// BindCapUndefined rather than panicking, since a 7th bind is always
// ignored per spec §8's boundary behaviour.
func (m *Manager) BindCapability(index int) BindCapability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= MaxBinds {
		return BindCapUndefined
	}
	return BindCapability((m.rec.BindCapabilities >> (uint(index) * 2)) & 0x3)
}

// SetBindCapability persists the reporting-capability tri-state for bind
// slot index.
func (m *Manager) SetBindCapability(index int, cap BindCapability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= MaxBinds {
		return fmt.Errorf("config: bind index %d out of range", index)
	}
	shift := uint(index) * 2
	m.rec.BindCapabilities = (m.rec.BindCapabilities &^ (0x3 << shift)) | (uint16(cap) << shift)
	return m.saveLocked()
}
