package service

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/zb"
)

type fakeSink struct {
	mu   sync.Mutex
	sets []sinkSet
}

type sinkSet struct {
	ep      uint8
	cluster zb.ClusterID
	attr    zb.AttributeID
	value   []byte
}

func (f *fakeSink) Set(ep uint8, cluster zb.ClusterID, attr zb.AttributeID, dataType uint8, value []byte, shouldReport bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, sinkSet{ep, cluster, attr, append([]byte(nil), value...)})
}

func (f *fakeSink) count(attr zb.AttributeID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sets {
		if s.attr == attr {
			n++
		}
	}
	return n
}

func TestLoop_TicksPushValidityAndRestarts(t *testing.T) {
	stack := zb.NewSimStack(0x0A0A0A0A0A0A0A0A)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pool.ListenForReports()
	pc := presence.New(cfg, alarms, pool, stack, zerolog.Nop())
	sink := &fakeSink{}

	l := New(cfg, alarms, pool, pc, sink, 1, zerolog.Nop())
	// drive the tick logic directly rather than waiting on the real ticker,
	// since TickInterval is a full second.
	if err := pool.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	l.tick()

	if sink.count(zb.AttrRestartsCount) != 1 {
		t.Fatalf("want one restarts-count push, got %d", sink.count(zb.AttrRestartsCount))
	}
	if sink.count(zb.AttrInternals) != 1 {
		t.Fatalf("want one validity-bitmap push, got %d", sink.count(zb.AttrInternals))
	}
}

func TestLoop_OccupancyOnlyPushedOnChange(t *testing.T) {
	stack := zb.NewSimStack(0x0B0B0B0B0B0B0B0B)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pc := presence.New(cfg, alarms, pool, stack, zerolog.Nop())
	sink := &fakeSink{}
	l := New(cfg, alarms, pool, pc, sink, 1, zerolog.Nop())

	l.tick()
	if sink.count(zb.AttrOccupancy) != 1 {
		t.Fatalf("want exactly one occupancy push on first tick, got %d", sink.count(zb.AttrOccupancy))
	}
	l.tick()
	if sink.count(zb.AttrOccupancy) != 1 {
		t.Fatalf("want no further occupancy push while unchanged, got %d", sink.count(zb.AttrOccupancy))
	}

	pc.ReportMMWave(true)
	l.tick()
	if sink.count(zb.AttrOccupancy) != 2 {
		t.Fatalf("want a second occupancy push after the edge, got %d", sink.count(zb.AttrOccupancy))
	}
}

func TestLoop_StartStop(t *testing.T) {
	stack := zb.NewSimStack(0x0C0C0C0C0C0C0C0C)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pc := presence.New(cfg, alarms, pool, stack, zerolog.Nop())
	l := New(cfg, alarms, pool, pc, nil, 1, zerolog.Nop())

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	l.Stop()
}
