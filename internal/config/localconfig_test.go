package config

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadCreatesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "config.dat"), zerolog.Nop())
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.OnOffMode() != OnOffModeTimedOnLocal {
		t.Fatalf("expected default on/off mode TimedOnLocal, got %v", m.OnOffMode())
	}
	if m.IlluminanceThreshold() != MaxIlluminance {
		t.Fatalf("expected default illuminance threshold %d, got %d", MaxIlluminance, m.IlluminanceThreshold())
	}
	if !m.DetectionEnabled(EdgeMmWave) || !m.DetectionEnabled(KeepExternal) {
		t.Fatal("expected all detection bits enabled by default")
	}
	if m.Restarts() != 0 {
		t.Fatalf("expected 0 restarts on first boot, got %d", m.Restarts())
	}
}

func TestLoadIncrementsRestartsAcrossBoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.dat")

	m1 := NewManager(path, zerolog.Nop())
	if err := m1.Load(); err != nil {
		t.Fatalf("first Load: %v", err)
	}

	m2 := NewManager(path, zerolog.Nop())
	if err := m2.Load(); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if m2.Restarts() != 1 {
		t.Fatalf("expected restarts=1 on second boot, got %d", m2.Restarts())
	}

	m3 := NewManager(path, zerolog.Nop())
	if err := m3.Load(); err != nil {
		t.Fatalf("third Load: %v", err)
	}
	if m3.Restarts() != 2 {
		t.Fatalf("expected restarts=2 on third boot, got %d", m3.Restarts())
	}
}

func TestSettersPersistAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.dat")

	m1 := NewManager(path, zerolog.Nop())
	if err := m1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m1.SetIlluminanceThreshold(42); err != nil {
		t.Fatalf("SetIlluminanceThreshold: %v", err)
	}
	if err := m1.SetDetectionEnabled(EdgePIRInternal, false); err != nil {
		t.Fatalf("SetDetectionEnabled: %v", err)
	}

	m2 := NewManager(path, zerolog.Nop())
	if err := m2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m2.IlluminanceThreshold() != 42 {
		t.Fatalf("expected persisted threshold 42, got %d", m2.IlluminanceThreshold())
	}
	if m2.DetectionEnabled(EdgePIRInternal) {
		t.Fatal("expected EdgePIRInternal to stay disabled across reload")
	}
	if !m2.DetectionEnabled(EdgeMmWave) {
		t.Fatal("expected unrelated bits to remain enabled")
	}
}

func TestFactoryResetRestoresDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.dat")
	m := NewManager(path, zerolog.Nop())
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = m.SetIlluminanceThreshold(1)
	_ = m.SetOnOffMode(OnOffModeOnOff)

	if err := m.FactoryReset(); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}
	if m.IlluminanceThreshold() != MaxIlluminance {
		t.Fatalf("expected illuminance threshold reset, got %d", m.IlluminanceThreshold())
	}
	if m.OnOffMode() != OnOffModeTimedOnLocal {
		t.Fatalf("expected on/off mode reset, got %v", m.OnOffMode())
	}
}

func TestBindCapabilityPersistsPerIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.dat")
	m := NewManager(path, zerolog.Nop())
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < MaxBinds; i++ {
		if m.BindCapability(i) != BindCapUndefined {
			t.Fatalf("bind %d: expected default Undefined, got %v", i, m.BindCapability(i))
		}
	}
	if err := m.SetBindCapability(2, BindCapTrue); err != nil {
		t.Fatalf("SetBindCapability: %v", err)
	}
	if err := m.SetBindCapability(5, BindCapFalse); err != nil {
		t.Fatalf("SetBindCapability: %v", err)
	}

	m2 := NewManager(path, zerolog.Nop())
	if err := m2.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m2.BindCapability(2) != BindCapTrue {
		t.Fatalf("bind 2: expected True after reload, got %v", m2.BindCapability(2))
	}
	if m2.BindCapability(5) != BindCapFalse {
		t.Fatalf("bind 5: expected False after reload, got %v", m2.BindCapability(5))
	}
	if m2.BindCapability(0) != BindCapUndefined {
		t.Fatalf("bind 0: expected untouched Undefined, got %v", m2.BindCapability(0))
	}
}

func TestVersionMismatchResetsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.dat")
	m1 := NewManager(path, zerolog.Nop())
	if err := m1.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = m1.SetIlluminanceThreshold(7)

	m1.mu.Lock()
	m1.rec.Version = 0xEE
	err := m1.saveLocked()
	m1.mu.Unlock()
	if err != nil {
		t.Fatalf("corrupting version: %v", err)
	}

	m2 := NewManager(path, zerolog.Nop())
	if err := m2.Load(); err != nil {
		t.Fatalf("Load after version bump: %v", err)
	}
	if m2.IlluminanceThreshold() != MaxIlluminance {
		t.Fatalf("expected defaults after version mismatch, got threshold %d", m2.IlluminanceThreshold())
	}
}
