package radar

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/ld2412"
)

// fakePort is a minimal in-memory go.bug.st/serial.Port stand-in, modelled
// on the one ld2412's own tests use internally (unexported there, so this
// package needs its own). Streamed data frames are queued with feed;
// command responses are queued with respond and only become readable
// when the next command frame is written, as a real radar answers after
// the request (SendCommand flushes input before it writes).
type fakePort struct {
	mu        sync.Mutex
	written   bytes.Buffer
	readQueue []byte
	pending   [][]byte
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) > 0 {
		f.readQueue = append(f.readQueue, f.pending[0]...)
		f.pending = f.pending[1:]
	}
	return f.written.Write(p)
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readQueue) == 0 {
		return 0, nil
	}
	n := copy(p, f.readQueue)
	f.readQueue = f.readQueue[n:]
	return n, nil
}

func (f *fakePort) Close() error                        { return nil }
func (f *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (f *fakePort) ResetInputBuffer() error              { f.readQueue = nil; return nil }
func (f *fakePort) Drain() error                         { return nil }

func (f *fakePort) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readQueue = append(f.readQueue, b...)
}

// respond queues one response frame to be released by the next Write.
func (f *fakePort) respond(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, b)
}

func newTestComponent(t *testing.T) (*Component, *fakePort) {
	t.Helper()
	port := &fakePort{}
	ch := ld2412.NewChannel(port)
	client := ld2412.NewClient(ch, zerolog.Nop())
	comp := New(client, zerolog.Nop())
	comp.Start()
	t.Cleanup(comp.Stop)
	return comp, port
}

func TestComponent_DispatchesSimpleModePresence(t *testing.T) {
	comp, port := newTestComponent(t)

	var got ld2412.PresenceSample
	done := make(chan struct{}, 1)
	comp.OnPresence = func(s ld2412.PresenceSample) {
		got = s
		done <- struct{}{}
	}

	sample := ld2412.PresenceSample{State: ld2412.TargetMove, MoveDistanceCM: 150, MoveEnergy: 80}
	port.feed(ld2412.BuildDataFrame(ld2412.ModeSimple, ld2412.EncodePresencePayload(sample)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnPresence")
	}
	if got.State != ld2412.TargetMove || got.MoveDistanceCM != 150 {
		t.Fatalf("unexpected sample: %+v", got)
	}
}

func TestComponent_SuppressesReportsBelowChangeThreshold(t *testing.T) {
	comp, port := newTestComponent(t)

	var mu sync.Mutex
	var fires int
	var last ld2412.PresenceSample
	notify := make(chan struct{}, 10)
	comp.OnPresence = func(s ld2412.PresenceSample) {
		mu.Lock()
		fires++
		last = s
		mu.Unlock()
		notify <- struct{}{}
	}

	first := ld2412.PresenceSample{State: ld2412.TargetMove, MoveDistanceCM: 150, MoveEnergy: 80}
	port.feed(ld2412.BuildDataFrame(ld2412.ModeSimple, ld2412.EncodePresencePayload(first)))
	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the initial report")
	}
	mu.Lock()
	if fires != 1 {
		t.Fatalf("want the first-ever sample to always report, got %d fires", fires)
	}
	mu.Unlock()

	// same state, distance/energy moved by less than the report-change
	// thresholds: must not fire again.
	negligible := ld2412.PresenceSample{State: ld2412.TargetMove, MoveDistanceCM: 155, MoveEnergy: 84}
	port.feed(ld2412.BuildDataFrame(ld2412.ModeSimple, ld2412.EncodePresencePayload(negligible)))
	// give the pump a moment to process; no notification is expected.
	select {
	case <-notify:
		t.Fatal("want no report for a sub-threshold change")
	case <-time.After(200 * time.Millisecond):
	}

	// distance moved well past the threshold: must fire and update the
	// reported baseline.
	moved := ld2412.PresenceSample{State: ld2412.TargetMove, MoveDistanceCM: 200, MoveEnergy: 84}
	port.feed(ld2412.BuildDataFrame(ld2412.ModeSimple, ld2412.EncodePresencePayload(moved)))
	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the over-threshold report")
	}
	mu.Lock()
	defer mu.Unlock()
	if fires != 2 {
		t.Fatalf("want exactly 2 fires, got %d", fires)
	}
	if last.MoveDistanceCM != 200 {
		t.Fatalf("want the reported baseline updated to 200, got %d", last.MoveDistanceCM)
	}
}

func TestComponent_DispatchesEngineeringExtras(t *testing.T) {
	comp, port := newTestComponent(t)

	var sawEngineering bool
	done := make(chan struct{}, 1)
	comp.OnEngineering = func(ld2412.EngineeringSample) {
		sawEngineering = true
		done <- struct{}{}
	}

	eng := ld2412.EngineeringSample{
		PresenceSample: ld2412.PresenceSample{State: ld2412.TargetStill},
		Light:          42,
	}
	port.feed(ld2412.BuildDataFrame(ld2412.ModeEnergy, ld2412.EncodeEngineeringPayload(eng)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnEngineering")
	}
	if !sawEngineering {
		t.Fatal("want OnEngineering to fire in energy mode")
	}
	if comp.Mode() != ld2412.ModeEnergy {
		t.Fatalf("want Mode()=Energy, got %v", comp.Mode())
	}
}

func TestComponent_ManagerJobInterleavesWithDataPump(t *testing.T) {
	comp, port := newTestComponent(t)

	port.respond(buildResp(ld2412.CmdOpenCmdMode, 0, nil))
	port.respond(buildResp(ld2412.CmdReadVersion, 0, []byte{1, 2, 0, 0, 0, 3}))
	port.respond(buildResp(ld2412.CmdCloseCmdMode, 0, nil))

	v, err := comp.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v.Major != 1 || v.Minor != 2 {
		t.Fatalf("unexpected version: %+v", v)
	}
}

func TestComponent_CalibrationDerivesThresholdsFromObservedMax(t *testing.T) {
	comp, port := newTestComponent(t)

	// StartCalibrate's SetMode(Energy) sends EnterEngineeringMode even
	// though the component already defaults to Energy.
	port.respond(buildResp(ld2412.CmdEnterEngineeringMode, 0, nil))
	if err := comp.StartCalibrate(); err != nil {
		t.Fatalf("StartCalibrate: %v", err)
	}

	eng := ld2412.EngineeringSample{PresenceSample: ld2412.PresenceSample{State: ld2412.TargetStill}}
	eng.MoveEnergyGates[3] = 60
	eng.StillEnergyGates[3] = 90
	done := make(chan struct{}, 1)
	comp.OnEngineering = func(ld2412.EngineeringSample) { done <- struct{}{} }
	port.feed(ld2412.BuildDataFrame(ld2412.ModeEnergy, ld2412.EncodeEngineeringPayload(eng)))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for calibration sample")
	}

	// WriteMoveSensitivity and WriteStillSensitivity each bracket their
	// write with Open/CloseCmdMode; SetMode's restore is a bare
	// EnterEngineeringMode with no bracket.
	port.respond(buildResp(ld2412.CmdOpenCmdMode, 0, nil))
	port.respond(buildResp(ld2412.CmdWriteMoveSensitivity, 0, nil))
	port.respond(buildResp(ld2412.CmdCloseCmdMode, 0, nil))
	port.respond(buildResp(ld2412.CmdOpenCmdMode, 0, nil))
	port.respond(buildResp(ld2412.CmdWriteStillSensitivity, 0, nil))
	port.respond(buildResp(ld2412.CmdCloseCmdMode, 0, nil))
	port.respond(buildResp(ld2412.CmdEnterEngineeringMode, 0, nil))
	if err := comp.StopCalibrate(); err != nil {
		t.Fatalf("StopCalibrate: %v", err)
	}
}

func buildResp(cmd ld2412.CmdID, status uint16, payload []byte) []byte {
	params := make([]byte, 0, 2+len(payload))
	params = append(params, byte(status), byte(status>>8))
	params = append(params, payload...)
	return ld2412.BuildCommandFrame(cmd|0x0100, params)
}
