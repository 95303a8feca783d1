package bind

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/zb"
)

const (
	// maxActive is spec §3's "up to 6 active" bind records.
	maxActive = 6
	// maxCleanup is spec §3's "up to 6 cleanup pending" bind records.
	maxCleanup = 6
	// maxConfigAttempts is spec §4.7's per-step retry budget.
	maxConfigAttempts = 3
	// stepTimeout is spec §4.7's per-step timer budget.
	stepTimeout = 2 * time.Second
)

// CapabilityStore persists the per-bind-index reporting-capability
// tri-state across reboots (spec §3, §4.7). config.Manager implements
// this directly.
type CapabilityStore interface {
	BindCapability(index int) config.BindCapability
	SetBindCapability(index int, cap config.BindCapability) error
}

// OurEndpoint is this node's single presence endpoint, fixed by spec §6.
const OurEndpoint uint8 = 1

// Pool is the fixed-capacity arena of bind records plus the logic that
// discovers new binds from the local binding table and drives each
// record's lifecycle. Safe for concurrent use; all mutation happens
// under mu, matching spec §5's single-owner-thread discipline for the
// Zigbee stack thread.
type Pool struct {
	mu     sync.Mutex
	stack  zb.Stack
	alarms *alarm.Pool
	caps   CapabilityStore
	log    zerolog.Logger

	active  [maxActive]*Record
	cleanup []*Record

	newBindSeen bool

	// OnValidity is invoked (outside the lock) whenever a record's state
	// crosses into or out of Functional, so C8 can recompute the
	// validity bitmap.
	OnValidity func()
	// OnReportedState is invoked whenever a bound actuator's own On/Off
	// report changes, feeding C5's suppression rule.
	OnReportedState func(rec *Record)
}

// NewPool creates an empty pool.
func NewPool(stack zb.Stack, alarms *alarm.Pool, caps CapabilityStore, log zerolog.Logger) *Pool {
	return &Pool{
		stack:  stack,
		alarms: alarms,
		caps:   caps,
		log:    log.With().Str("component", "bind").Logger(),
	}
}

// NewBindAnnounced reports whether a new bind was observed since the last
// Rescan — spec §4.8 uses this to schedule a 2 s follow-up scan.
func (p *Pool) NewBindAnnounced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.newBindSeen
	p.newBindSeen = false
	return v
}

// Active returns a snapshot of the currently tracked records.
func (p *Pool) Active() []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Record, 0, maxActive)
	for _, r := range p.active {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// ValidityBitmap returns, per spec §8's invariant, one bit per active
// slot set iff that record is Functional.
func (p *Pool) ValidityBitmap() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var bm uint8
	for i, r := range p.active {
		if r != nil && r.State == StateFunctional {
			bm |= 1 << uint(i)
		}
	}
	return bm
}

// Rescan reconciles tracked records against the node's own local binding
// table: new On/Off-cluster binds become records in StateNew, and
// tracked records whose bind has disappeared are moved to Unbind.
func (p *Pool) Rescan() error {
	entries, err := p.stack.LocalBindingTable()
	if err != nil {
		return err
	}

	seen := make(map[zb.IEEEAddr]bool, len(entries))
	for _, e := range entries {
		if e.Cluster != zb.ClusterOnOff || e.SrcEndpoint != OurEndpoint {
			continue
		}
		seen[e.DstIEEE] = true

		p.mu.Lock()
		if p.find(e.DstIEEE) != nil {
			p.mu.Unlock()
			continue
		}
		idx := p.freeSlotLocked()
		if idx < 0 {
			p.mu.Unlock()
			p.log.Warn().Msg("bind table scan found a 7th actuator, ignoring it")
			continue
		}
		rec := &Record{Index: idx, IEEE: e.DstIEEE, Endpoint: e.DstEndpoint, State: StateNew}
		if p.caps != nil {
			c := p.caps.BindCapability(idx)
			rec.Flags.CheckReportingRequested = c == config.BindCapUndefined
			if c == config.BindCapFalse {
				// a bind previously found incapable of reporting skips
				// the check entirely per spec §4.7.
				rec.Flags.BindChecked = true
			}
		}
		p.active[idx] = rec
		p.newBindSeen = true
		p.mu.Unlock()

		p.log.Info().Str("ieee", e.DstIEEE.String()).Int("slot", idx).Msg("new bind discovered")
		p.advance(rec)
	}

	p.mu.Lock()
	var toUnbind []*Record
	for _, r := range p.active {
		if r != nil && !seen[r.IEEE] && r.State != StateUnbind && r.State != StateNonFunctional {
			toUnbind = append(toUnbind, r)
		}
	}
	p.mu.Unlock()
	for _, r := range toUnbind {
		p.RequestUnbind(r.Index)
	}

	return nil
}

// ListenForReports registers a standing handler for unsolicited On/Off
// attribute reports from bound actuators, feeding presence fusion's
// suppression rule (spec §4.5: "once all bound devices report off..."). It
// should be called once, after the pool is constructed.
func (p *Pool) ListenForReports() {
	p.stack.OnResponse(zb.ClusterOnOff, zb.GlobalReportAttributes, p.handleReportAttributes)
}

func (p *Pool) handleReportAttributes(src zb.Address, payload []byte) {
	attrs := zb.ParseReportAttributes(payload)
	v, ok := attrs[zb.AttrOnOff]
	if !ok || len(v) == 0 {
		return
	}
	on := v[0] != 0

	p.mu.Lock()
	rec := p.find(src.IEEE)
	if rec == nil {
		p.mu.Unlock()
		return
	}
	rec.OnState = on
	p.mu.Unlock()

	if p.OnReportedState != nil {
		p.OnReportedState(rec)
	}
}

func (p *Pool) find(ieee zb.IEEEAddr) *Record {
	for _, r := range p.active {
		if r != nil && r.IEEE == ieee {
			return r
		}
	}
	return nil
}

func (p *Pool) freeSlotLocked() int {
	for i, r := range p.active {
		if r == nil {
			return i
		}
	}
	return -1
}

// RequestUnbind moves the record at index into the Unbind step, typically
// called on an explicit user request or when Rescan observes the bind
// gone from the node's own local binding table.
func (p *Pool) RequestUnbind(index int) {
	p.mu.Lock()
	rec := p.recordAtLocked(index)
	if rec == nil {
		p.mu.Unlock()
		return
	}
	rec.State = StateUnbind
	rec.Attempts = 0
	p.mu.Unlock()
	p.advance(rec)
}

func (p *Pool) recordAtLocked(index int) *Record {
	if index < 0 || index >= maxActive {
		return nil
	}
	return p.active[index]
}

// destroy removes rec from the active table and, if it did not already
// confirm a clean Unbind, files it for the cleanup sweep (spec §3:
// "destroyed after Unbind confirms or after cleanup loop observes
// NonFunctional").
func (p *Pool) destroy(rec *Record, toCleanup bool) {
	p.mu.Lock()
	if p.active[rec.Index] == rec {
		p.active[rec.Index] = nil
	}
	rec.generation++
	if toCleanup && len(p.cleanup) < maxCleanup {
		p.cleanup = append(p.cleanup, rec)
	}
	p.mu.Unlock()
}

// ReapCleanup drops any cleanup-pending record that has settled into
// NonFunctional, per spec §4.8(a).
func (p *Pool) ReapCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.cleanup[:0]
	for _, r := range p.cleanup {
		if r.State != StateNonFunctional {
			kept = append(kept, r)
		}
	}
	p.cleanup = kept
}
