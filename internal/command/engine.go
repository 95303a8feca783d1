// Package command implements the outgoing on/off command engine (spec
// §4.6): per-command retry contexts that dispatch through a zb.Stack,
// correlate send-status and response callbacks, and time out each
// attempt on an alarm.Pool handle. Grounded on the teacher's EZSP
// callback-dispatch idiom (pkg/zigbee/controller.go's handleCallback),
// generalized from "route an async NCP callback to a handler" to "route
// a send-status/response pair to a retry state machine".
package command

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/alarm"
	"github.com/theorlangur/zbpresence/internal/zb"
)

const (
	// DefaultRetries is the retry budget spec §3 assigns a command.
	DefaultRetries = 2
	// DefaultPerTryTimeout is the per-attempt response deadline spec §3
	// assigns a command.
	DefaultPerTryTimeout = 700 * time.Millisecond
)

// Callbacks are the user-visible outcomes of a Send, per spec §4.6.
type Callbacks struct {
	OnSuccess          func()
	OnTotalFail        func()
	OnIntermediateFail func()
}

// PayloadFunc builds the command payload fresh on every attempt, so a
// retried command picks up e.g. a recomputed OnWithTimedOff duration.
type PayloadFunc func() []byte

// Command is one sendable, retryable outgoing command instance. A single
// Command is reused across the node's lifetime for a given (dst, ep,
// cluster, cmd) — spec §3's invariant "at most one in flight per command
// instance" is enforced by Send itself.
type Command struct {
	stack zb.Stack
	pool  *alarm.Pool
	log   zerolog.Logger

	dst     zb.Address
	ep      uint8
	cluster zb.ClusterID
	cmdID   uint8

	retryBudget   int
	perTryTimeout time.Duration

	mu          sync.Mutex
	inFlight    bool
	retriesLeft int
	seq         uint8
	respSeen    bool
	timer       alarm.Handle
	cb          Callbacks
	payload     PayloadFunc
}

// New creates a Command bound to one destination/cluster/command. payload
// is invoked fresh on every Send/retry attempt.
func New(stack zb.Stack, pool *alarm.Pool, dst zb.Address, ep uint8, cluster zb.ClusterID, cmdID uint8, payload PayloadFunc, log zerolog.Logger) *Command {
	return &Command{
		stack:         stack,
		pool:          pool,
		log:           log.With().Str("component", "command").Uint16("cluster", uint16(cluster)).Uint8("cmd", cmdID).Logger(),
		dst:           dst,
		ep:            ep,
		cluster:       cluster,
		cmdID:         cmdID,
		retryBudget:   DefaultRetries,
		perTryTimeout: DefaultPerTryTimeout,
		payload:       payload,
		timer:         alarm.Invalid,
	}
}

// Send dispatches the command with cb as its outcome callbacks. If a
// previous Send on this instance is still in flight, Send is a no-op that
// immediately reports OnIntermediateFail (spec §4.6: "no-op +
// intermediate-fail if already in flight").
func (c *Command) Send(cb Callbacks) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		if cb.OnIntermediateFail != nil {
			cb.OnIntermediateFail()
		}
		return
	}
	c.inFlight = true
	c.retriesLeft = c.retryBudget
	c.cb = cb
	c.mu.Unlock()

	c.sendAgain()
}

// Cancel abandons any in-flight attempt without invoking any callback.
func (c *Command) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Command) clearLocked() {
	if !c.inFlight {
		return
	}
	c.stack.CancelResponse(c.cluster, c.cmdID)
	c.stack.CancelSendStatus(c.seq)
	c.pool.Cancel(c.timer)
	c.timer = alarm.Invalid
	c.inFlight = false
	c.respSeen = false
}

func (c *Command) sendAgain() {
	payload := c.payload()
	seq, err := c.stack.SendCommand(c.dst, c.ep, c.cluster, c.cmdID, payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("send failed locally, treating as attempt failure")
		c.onAttemptFailed()
		return
	}

	c.mu.Lock()
	c.seq = seq
	c.respSeen = false
	c.mu.Unlock()

	c.stack.OnSendStatus(seq, c.onSendStatus)
	c.stack.OnResponse(c.cluster, c.cmdID, c.onResponse)
	c.timer = c.pool.Arm(c.timer, c.perTryTimeout, func(any) { c.onDeadline() }, nil)
}

func (c *Command) onSendStatus(ok bool) {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	if c.respSeen {
		// a response already arrived; the send-status is stale, ignore it
		// per spec §4.6.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if ok {
		return // wait for the response or the deadline
	}
	c.log.Debug().Msg("send-status reported failure")
	c.onAttemptFailed()
}

func (c *Command) onResponse(src zb.Address, payload []byte) {
	if zb.IsCoordinator(src, c.stack.OurIEEE()) {
		return
	}

	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	c.respSeen = true
	c.mu.Unlock()

	success := len(payload) > 0 && payload[0] == 0
	if success {
		c.onAttemptSucceeded()
		return
	}
	c.log.Debug().Msg("response reported failure status")
	c.onAttemptFailed()
}

func (c *Command) onDeadline() {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Debug().Msg("response deadline elapsed")
	c.onAttemptFailed()
}

func (c *Command) onAttemptSucceeded() {
	c.mu.Lock()
	c.clearLocked()
	cb := c.cb.OnSuccess
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *Command) onAttemptFailed() {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return
	}
	c.stack.CancelResponse(c.cluster, c.cmdID)
	c.stack.CancelSendStatus(c.seq)
	c.pool.Cancel(c.timer)
	c.timer = alarm.Invalid
	c.respSeen = false

	if c.retriesLeft > 0 {
		c.retriesLeft--
		c.mu.Unlock()
		c.sendAgain()
		return
	}
	c.inFlight = false
	cb := c.cb.OnTotalFail
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// InFlight reports whether a Send is currently awaiting an outcome.
func (c *Command) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}
