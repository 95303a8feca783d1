package presence

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/zb"
)

// bindActuator drives a fresh actuator through the full bind handshake so
// presence dispatch has a Functional target to send to.
func bindActuator(t *testing.T, pool *bind.Pool, stack *zb.SimStack, actuator zb.Address) *bind.Record {
	t.Helper()
	stack.LocalTable = append(stack.LocalTable, zb.BindEntry{
		SrcIEEE: stack.OurIEEE(), SrcEndpoint: bind.OurEndpoint, Cluster: zb.ClusterOnOff,
		DstIEEE: actuator.IEEE, DstEndpoint: 1,
	})
	if err := pool.Rescan(); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	var rec *bind.Record
	for _, r := range pool.Active() {
		if r.IEEE == actuator.IEEE {
			rec = r
		}
	}
	if rec == nil {
		t.Fatal("bind record not created")
	}
	stack.FireResponse(zb.ClusterZDO, zb.CmdMgmtBindRsp, actuator, []byte{0x00, 0x00, 0x00, 0x00})
	stack.FireResponse(zb.ClusterZDO, zb.CmdBindRsp, actuator, []byte{0x00})
	stack.FireResponse(zb.ClusterOnOff, zb.GlobalConfigureReportingResp, actuator, []byte{0x00})
	stack.FireResponse(zb.ClusterOnOff, zb.GlobalReadAttributesResponse, actuator, []byte{0x00, 0x00, 0x00, zb.TypeBool, 0x00})
	if rec.State != bind.StateFunctional {
		t.Fatalf("want Functional, got %v", rec.State)
	}
	return rec
}

func newTestController(t *testing.T, mode config.OnOffMode) (*Controller, *zb.SimStack, *bind.Pool, *config.Manager) {
	t.Helper()
	stack := zb.NewSimStack(0xAAAAAAAAAAAAAAAA)
	alarms := alarm.New(func() {}, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	_ = cfg.SetOnOffMode(mode)
	_ = cfg.SetIlluminanceThreshold(config.MaxIlluminance)
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	pool.ListenForReports()
	ctrl := New(cfg, alarms, pool, stack, zerolog.Nop())
	return ctrl, stack, pool, cfg
}

func TestController_OnOffModeDispatchesOnThenOff(t *testing.T) {
	ctrl, stack, pool, _ := newTestController(t, config.OnOffModeOnOff)
	actuator := zb.Address{Short: 0x1234, IEEE: 0x1111111111111111}
	bindActuator(t, pool, stack, actuator)

	ctrl.ReportMMWave(true)
	if !ctrl.Occupied() {
		t.Fatal("want occupied after edge")
	}
	var sawOn bool
	for _, f := range stack.Sent {
		if f.Dst.IEEE == actuator.IEEE && f.Cluster == zb.ClusterOnOff && f.Cmd == zb.CmdOn {
			sawOn = true
		}
	}
	if !sawOn {
		t.Fatal("want an On command sent to the bound actuator")
	}

	ctrl.ReportMMWave(false)
	if ctrl.Occupied() {
		t.Fatal("want clear after losing the only source")
	}
	var sawOff bool
	for _, f := range stack.Sent {
		if f.Dst.IEEE == actuator.IEEE && f.Cluster == zb.ClusterOnOff && f.Cmd == zb.CmdOff {
			sawOff = true
		}
	}
	if !sawOff {
		t.Fatal("want an Off command sent on Present->Clear")
	}
}

func TestController_SuppressedByIlluminance(t *testing.T) {
	ctrl, stack, pool, cfg := newTestController(t, config.OnOffModeOnOff)
	_ = cfg.SetIlluminanceThreshold(50)
	ctrl.SetExternalIlluminance(120 << 8)

	actuator := zb.Address{Short: 0x2222, IEEE: 0x2222222222222222}
	bindActuator(t, pool, stack, actuator)

	before := len(stack.Sent)
	ctrl.ReportMMWave(true)
	if !ctrl.Suppressed() {
		t.Fatal("want the edge marked suppressed by illuminance")
	}
	if len(stack.Sent) != before {
		t.Fatal("want no command dispatched while suppressed")
	}
	if !ctrl.Occupied() {
		t.Fatal("occupancy attribute still updates even when suppressed")
	}
}

func TestController_NoBoundDevicesSkipsTimedOnLocalTimer(t *testing.T) {
	ctrl, _, _, cfg := newTestController(t, config.OnOffModeTimedOnLocal)
	_ = cfg.SetOnOffTimeout(1 * time.Second)

	ctrl.ReportMMWave(true)
	if !ctrl.Occupied() {
		t.Fatal("want occupied")
	}
	if ctrl.localTimer != alarm.Invalid {
		t.Fatal("want no local timer armed while no bound devices are tracked")
	}
}

func TestController_PresenceDeactivatesCounterOfDeathUntilQuiet(t *testing.T) {
	var restarted int32
	alarms := alarm.New(func() { atomic.AddInt32(&restarted, 1) }, zerolog.Nop())
	cfg := config.NewManager(filepath.Join(t.TempDir(), "config.dat"), zerolog.Nop())
	if err := cfg.Load(); err != nil {
		t.Fatalf("config load: %v", err)
	}
	_ = cfg.SetOnOffMode(config.OnOffModeOnOff)
	stack := zb.NewSimStack(0xBBBBBBBBBBBBBBBB)
	pool := bind.NewPool(stack, alarms, cfg, zerolog.Nop())
	ctrl := New(cfg, alarms, pool, stack, zerolog.Nop())

	// drive the pool past the low watermark so the counter of death means
	// anything at all.
	for i := 0; i < alarm.Capacity-2; i++ {
		alarms.Arm(alarm.Invalid, time.Hour, func(any) {}, nil)
	}

	ctrl.ReportMMWave(true)
	for i := 0; i < 20; i++ {
		alarms.Tick()
	}
	if atomic.LoadInt32(&restarted) != 0 {
		t.Fatal("want the countdown paused while presence is active")
	}

	ctrl.ReportMMWave(false)
	for i := 0; i < 5; i++ {
		alarms.Tick()
	}
	if atomic.LoadInt32(&restarted) != 0 {
		t.Fatalf("restart fired early once presence cleared")
	}
	alarms.Tick()
	if atomic.LoadInt32(&restarted) != 1 {
		t.Fatal("want the countdown armed and to run out once presence cleared, a quiet moment")
	}
}

func TestController_AlreadyOnBoundDeviceSuppressesFreshOn(t *testing.T) {
	ctrl, stack, pool, _ := newTestController(t, config.OnOffModeOnOff)
	actuator := zb.Address{Short: 0x3333, IEEE: 0x3333333333333333}
	rec := bindActuator(t, pool, stack, actuator)
	rec.OnState = true

	ctrl.ReportMMWave(true)
	for _, f := range stack.Sent {
		if f.Dst.IEEE == actuator.IEEE && f.Cmd == zb.CmdOn {
			t.Fatal("want no fresh On sent while the actuator already reports on")
		}
	}
}
