// Package alarm implements a fixed-capacity software timer pool.
//
// Every timer allocated on the node — presence hold-off, bind-step
// timeouts, command retries, LED/debounce windows — comes from this one
// pool instead of spawning an unbounded number of goroutine timers, so a
// runaway caller exhausts a known, logged resource instead of silently
// growing heap use. Grounded on the firmware's own alarm pool: a 32-slot
// free list with a "running low" watermark and a restart guard that
// counts down while the pool stays low on handles.
package alarm

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Capacity is the number of timer slots the pool manages.
	Capacity = 32

	// lowWatermark is the slot index at and beyond which the pool is
	// considered to be running low on handles.
	lowWatermark = 28

	// deathCountdown is the value CheckCounterOfDeath arms the countdown
	// with: the deathCountdown-th Tick after arming asks for a restart.
	deathCountdown = 6
)

// Handle identifies a live timer slot. Invalid is never a valid handle.
type Handle uint8

// Invalid is the zero-value sentinel for "no timer armed".
const Invalid Handle = 0xFF

const listEnd Handle = Capacity

type slot struct {
	inUse    bool
	nextFree Handle
	timer    *time.Timer
	cb       func(any)
	param    any
}

// Pool is a fixed-capacity arena of software timers. It is safe for
// concurrent use.
type Pool struct {
	mu       sync.Mutex
	slots    [Capacity]slot
	freeHead Handle

	lowOnHandles bool
	deathCounter int // -1 means inactive

	restart func()
	log     zerolog.Logger
}

// New creates a pool with all slots free. restart is invoked
// synchronously from Tick, on the caller's goroutine, once the countdown
// armed by CheckCounterOfDeath runs out while the pool is low on handles;
// callers normally wire this to a process restart.
func New(restart func(), log zerolog.Logger) *Pool {
	p := &Pool{
		restart:      restart,
		log:          log.With().Str("component", "alarm").Logger(),
		deathCounter: -1,
	}
	for i := Handle(0); i < Capacity; i++ {
		p.slots[i].nextFree = i + 1
	}
	p.slots[Capacity-1].nextFree = listEnd
	p.freeHead = 0
	return p
}

// Arm cancels prev (if valid) and allocates a new timer that fires cb(param)
// after d. It returns Invalid if the pool is exhausted.
func (p *Pool) Arm(prev Handle, d time.Duration, cb func(any), param any) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancelLocked(prev)

	if p.freeHead == listEnd {
		p.log.Warn().Msg("alarm pool exhausted, dropping timer request")
		return Invalid
	}

	h := p.freeHead
	s := &p.slots[h]
	p.freeHead = s.nextFree

	s.inUse = true
	s.cb = cb
	s.param = param
	s.timer = time.AfterFunc(d, func() { p.fire(h) })

	if h >= lowWatermark {
		p.lowOnHandles = true
	}
	return h
}

// Cancel disarms h. It is a no-op if h is Invalid or already fired/freed.
func (p *Pool) Cancel(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked(h)
}

func (p *Pool) cancelLocked(h Handle) {
	if h == Invalid || h >= Capacity {
		return
	}
	s := &p.slots[h]
	if !s.inUse {
		return
	}
	s.timer.Stop()
	p.freeSlotLocked(h)
}

func (p *Pool) fire(h Handle) {
	p.mu.Lock()
	s := &p.slots[h]
	if !s.inUse {
		p.mu.Unlock()
		return
	}
	cb, param := s.cb, s.param
	p.freeSlotLocked(h)
	p.mu.Unlock()

	cb(param)
}

func (p *Pool) freeSlotLocked(h Handle) {
	s := &p.slots[h]
	s.inUse = false
	s.cb = nil
	s.param = nil
	s.timer = nil
	s.nextFree = p.freeHead
	p.freeHead = h

	if h < lowWatermark {
		return
	}
	if !p.anyAboveWatermarkLocked() {
		p.lowOnHandles = false
		p.deathCounter = -1
	}
}

func (p *Pool) anyAboveWatermarkLocked() bool {
	for i := Handle(lowWatermark); i < Capacity; i++ {
		if p.slots[i].inUse {
			return true
		}
	}
	return false
}

// InUse reports how many slots are currently allocated.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.slots {
		if p.slots[i].inUse {
			n++
		}
	}
	return n
}

// CheckCounterOfDeath arms the countdown from a quiet moment: no active
// presence and no running local timer. It only has an effect while the
// pool is low on handles — callers are expected to call it unconditionally
// from every quiet moment they observe, the same way the counter itself
// decides whether arming it means anything.
func (p *Pool) CheckCounterOfDeath() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lowOnHandles {
		return
	}
	p.deathCounter = deathCountdown
	p.log.Warn().Int("countdown", deathCountdown).Msg("low on handles: counter of death armed")
}

// DeactivateCounterOfDeath pauses the countdown. Called whenever presence
// is detected or a local timer is armed, since either means the device is
// not quiet and ticking the countdown down now would restart it under load.
func (p *Pool) DeactivateCounterOfDeath() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deathCounter < 0 {
		return
	}
	p.deathCounter = -1
	p.log.Info().Msg("low on handles: counter of death deactivated")
}

// Tick runs the counter-of-death check. Call it once per service loop
// iteration. It only decrements while the pool is low on handles and the
// countdown has been armed by CheckCounterOfDeath; once it reaches zero,
// restart is invoked and the counter is reset.
func (p *Pool) Tick() {
	p.mu.Lock()
	if !p.lowOnHandles || p.deathCounter < 0 {
		p.mu.Unlock()
		return
	}
	p.deathCounter--
	dead := p.deathCounter <= 0
	if dead {
		p.deathCounter = -1
	}
	p.mu.Unlock()

	if dead {
		p.log.Error().Msg("alarm pool starved of handles for too long, restarting")
		if p.restart != nil {
			p.restart()
		}
	}
}
