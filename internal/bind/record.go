// Package bind implements the per-actuator bind lifecycle (spec §4.7): a
// fixed-capacity state machine that discovers, binds, configures
// reporting for, probes, and unbinds remote On/Off actuators, persisting
// learned reporting capability across reboots. Grounded on the teacher's
// KnownDevice/Controller split (pkg/zigbee/controller.go): a small arena
// of per-device records driven by async callbacks, generalized from "one
// IEEE -> device map" to "an explicit state machine per slot with its own
// timeout and retry budget".
package bind

import "github.com/theorlangur/zbpresence/internal/zb"

// State is a bind record's position in the lifecycle spec §4.7 defines.
type State uint8

const (
	StateNew State = iota
	StateVerifyBinds
	StateSendBindToMeReq
	StateCheckConfigureReport
	StateSendConfigureReport
	StateCheckReportingAbility
	StateTryReadAttribute
	StateNonFunctional
	StateFunctional
	StateUnbind
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateVerifyBinds:
		return "VerifyBinds"
	case StateSendBindToMeReq:
		return "SendBindToMeReq"
	case StateCheckConfigureReport:
		return "CheckConfigureReport"
	case StateSendConfigureReport:
		return "SendConfigureReport"
	case StateCheckReportingAbility:
		return "CheckReportingAbility"
	case StateTryReadAttribute:
		return "TryReadAttribute"
	case StateNonFunctional:
		return "NonFunctional"
	case StateFunctional:
		return "Functional"
	case StateUnbind:
		return "Unbind"
	default:
		return "Unknown"
	}
}

// Flags mirrors spec §3's bind-record flag set.
type Flags struct {
	ReportConfigured        bool
	BoundToMe               bool
	BindChecked             bool
	CheckReportingRequested bool
	Initial                 bool
	InitialValue            bool
}

// Record is one bind-pool slot: a remote actuator the coordinator has (or
// is in the process of) bound to this node's On/Off client cluster.
// Cyclic references to timers/response handlers are avoided per spec
// §9's note: handlers close over the *Record together with the
// generation they were issued under, and do nothing once generation has
// been bumped.
type Record struct {
	Index    int
	IEEE     zb.IEEEAddr
	Short    zb.ShortAddr
	Endpoint uint8

	Flags    Flags
	Attempts int
	State    State

	// OnState is the actuator's last On/Off report or read result,
	// mirrored here for the presence suppression rule in spec §4.5.
	OnState bool

	generation uint32 // bumped on Destroy/Reuse so stale timers no-op
}

// Address is the remote actuator's address, as known to the Zigbee stack.
// Short is best-effort (it is not always refreshed); IEEE is authoritative.
func (r *Record) Address() zb.Address { return zb.Address{Short: r.Short, IEEE: r.IEEE} }
