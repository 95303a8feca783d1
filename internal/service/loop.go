// Package service implements the runtime service loop (spec §4.8): the
// single 1 Hz ticker that drives alarm-pool housekeeping, bind-table
// reconciliation, cleanup reaping, and periodic attribute pushes, tying
// together the alarm, bind, presence and config packages into one running
// node. Grounded on the teacher's Controller start-up sequencing
// (pkg/zigbee/controller.go's NewController: init stack, then run) and its
// stackStatus-driven housekeeping, generalized from "one-shot EZSP bring-up"
// to "a recurring reconciliation tick".
package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/zb"
)

// TickInterval is the service loop's period (spec §4.8: "runs at 1 Hz").
const TickInterval = 1 * time.Second

// rescanFollowupDelay is how long after a newly observed bind the loop
// schedules a confirming re-scan (spec §4.8: "a 2 s follow-up scan").
const rescanFollowupDelay = 2 * time.Second

// periodicRescanEvery is the baseline safety-net re-scan cadence, run even
// when NewBindAnnounced never fires (a coordinator-side-only bind removal
// otherwise goes unnoticed until the next organic change).
const periodicRescanEvery = 30 * time.Second

// Loop owns the single ticking goroutine that reconciles every
// fixed-capacity subsystem in the node. ep is this node's presence
// endpoint, used to address attribute pushes.
type Loop struct {
	cfg      *config.Manager
	alarms   *alarm.Pool
	binds    *bind.Pool
	presence *presence.Controller
	sink     zb.AttributeSink
	ep       uint8
	log      zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	rescanTimer    alarm.Handle
	sinceLastScan  time.Duration
	lastOccupancy  bool
	haveOccupancy  bool
}

// New creates a Loop. sink may be nil, in which case attribute pushes are
// skipped (used by tests that only exercise reconciliation).
func New(cfg *config.Manager, alarms *alarm.Pool, binds *bind.Pool, pc *presence.Controller, sink zb.AttributeSink, ep uint8, log zerolog.Logger) *Loop {
	return &Loop{
		cfg:         cfg,
		alarms:      alarms,
		binds:       binds,
		presence:    pc,
		sink:        sink,
		ep:          ep,
		log:         log.With().Str("component", "service").Logger(),
		rescanTimer: alarm.Invalid,
	}
}

// Start runs the initial bind-table scan and launches the ticking
// goroutine. Call Stop to shut it down.
func (l *Loop) Start() error {
	if err := l.binds.Rescan(); err != nil {
		return err
	}
	l.stop = make(chan struct{})
	l.wg.Add(1)
	go l.run()
	return nil
}

// Stop terminates the ticking goroutine and waits for it to exit.
func (l *Loop) Stop() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	l.alarms.Tick()

	if l.binds.NewBindAnnounced() {
		l.rescanTimer = l.alarms.Arm(l.rescanTimer, rescanFollowupDelay, func(any) { l.rescan() }, nil)
	}
	l.binds.ReapCleanup()

	l.sinceLastScan += TickInterval
	if l.sinceLastScan >= periodicRescanEvery {
		l.sinceLastScan = 0
		l.rescan()
	}

	l.pushAttributes()
}

func (l *Loop) rescan() {
	if err := l.binds.Rescan(); err != nil {
		l.log.Warn().Err(err).Msg("bind table rescan failed")
	}
}

// pushAttributes mirrors internal node state onto the manufacturer cluster
// and Occupancy Sensing attributes a bound coordinator observes (spec §6).
func (l *Loop) pushAttributes() {
	if l.sink == nil {
		return
	}

	restarts := l.cfg.Restarts()
	l.sink.Set(l.ep, zb.ClusterManufacturerSpecific, zb.AttrRestartsCount, zb.TypeUint16,
		le16(uint16(restarts)), true)

	bitmap := l.binds.ValidityBitmap()
	l.sink.Set(l.ep, zb.ClusterManufacturerSpecific, zb.AttrInternals, zb.TypeUint32,
		le32(uint32(bitmap)), true)

	if l.presence == nil {
		return
	}
	occ := l.presence.Occupied()
	if !l.haveOccupancy || occ != l.lastOccupancy {
		l.haveOccupancy = true
		l.lastOccupancy = occ
		var v byte
		if occ {
			v = 1
		}
		l.sink.Set(l.ep, zb.ClusterOccupancySensing, zb.AttrOccupancy, zb.TypeBool, []byte{v}, true)
	}
}

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
