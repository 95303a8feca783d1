// Package endpoint wires endpoint 1's clusters (spec §6: Occupancy
// Sensing, On/Off, IAS-Zone, Illuminance Measurement, and the
// manufacturer-specific cluster) onto the node's attribute store and the
// subsystems that produce or consume each cluster's state. The Basic
// identity is exposed only as the BasicInfo value, not as store
// attributes, and Identify has no handler here. Grounded on
// zb.Store/Descriptor (internal/zb/attrstore.go), which already replaces
// the source's static-polymorphism attribute/command dispatch with a
// scanned table per spec §9's REDESIGN FLAGS; this package supplies that
// table's contents and the inbound command handlers a vendor ZCL adapter
// calls into.
package endpoint

import (
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"

	"github.com/theorlangur/zbpresence/internal/bind"
	"github.com/theorlangur/zbpresence/internal/config"
	"github.com/theorlangur/zbpresence/internal/ld2412"
	"github.com/theorlangur/zbpresence/internal/presence"
	"github.com/theorlangur/zbpresence/internal/radar"
	"github.com/theorlangur/zbpresence/internal/zb"
)

// EP is this node's single presence endpoint, fixed by spec §6.
const EP uint8 = bind.OurEndpoint

// Descriptors builds the full ep-1 attribute table (spec §6). dataType
// and Reportable mirror the wire types and read+report attributes the
// spec enumerates; everything else is read/write, non-reporting.
func Descriptors() []zb.Descriptor {
	rw := func(cluster zb.ClusterID, attr zb.AttributeID, dt uint8) zb.Descriptor {
		return zb.Descriptor{EP: EP, Cluster: cluster, Attr: attr, DataType: dt}
	}
	report := func(cluster zb.ClusterID, attr zb.AttributeID, dt uint8) zb.Descriptor {
		return zb.Descriptor{EP: EP, Cluster: cluster, Attr: attr, DataType: dt, Reportable: true}
	}
	return []zb.Descriptor{
		report(zb.ClusterOccupancySensing, zb.AttrOccupancy, zb.TypeBool),
		rw(zb.ClusterOccupancySensing, zb.AttrUnoccupiedToOccupiedSec, zb.TypeUint16),

		rw(zb.ClusterManufacturerSpecific, zb.AttrMoveSensitivity, zb.TypeArray),
		rw(zb.ClusterManufacturerSpecific, zb.AttrStillSensitivity, zb.TypeArray),
		rw(zb.ClusterManufacturerSpecific, zb.AttrState, zb.TypeUint8),
		rw(zb.ClusterManufacturerSpecific, zb.AttrMinDistance, zb.TypeUint16),
		rw(zb.ClusterManufacturerSpecific, zb.AttrMaxDistance, zb.TypeUint16),
		rw(zb.ClusterManufacturerSpecific, zb.AttrExtendedState, zb.TypeUint8),
		rw(zb.ClusterManufacturerSpecific, zb.AttrRadarMode, zb.TypeUint8),
		report(zb.ClusterManufacturerSpecific, zb.AttrEngineeringLight, zb.TypeUint8),
		report(zb.ClusterManufacturerSpecific, zb.AttrPIRPresence, zb.TypeBool),
		rw(zb.ClusterManufacturerSpecific, zb.AttrOnOffCommandMode, zb.TypeUint8),
		rw(zb.ClusterManufacturerSpecific, zb.AttrOnOffCommandTimeout, zb.TypeUint16),
		rw(zb.ClusterManufacturerSpecific, zb.AttrIlluminanceThreshold, zb.TypeUint8),
		rw(zb.ClusterManufacturerSpecific, zb.AttrPresenceDetectionConfig, zb.TypeUint8),
		rw(zb.ClusterManufacturerSpecific, zb.AttrExternalOnTime, zb.TypeUint16),
		report(zb.ClusterManufacturerSpecific, zb.AttrFailureStatus, zb.TypeUint16),
		report(zb.ClusterManufacturerSpecific, zb.AttrInternals, zb.TypeUint32),
		report(zb.ClusterManufacturerSpecific, zb.AttrRestartsCount, zb.TypeUint16),
		report(zb.ClusterManufacturerSpecific, zb.AttrInternals2, zb.TypeUint32),
		rw(zb.ClusterManufacturerSpecific, zb.AttrArmedForTrigger, zb.TypeBool),
		rw(zb.ClusterManufacturerSpecific, zb.AttrInternals3, zb.TypeUint32),
	}
}

// BasicInfo is this node's fixed Basic-cluster identity (spec §6).
var BasicInfo = struct {
	Manufacturer string
	Model        string
	AppVersion   uint8
}{Manufacturer: "Orlangur", Model: "P-NextGen", AppVersion: 1}

// Radar is the subset of radar.Component the endpoint layer drives from
// inbound manufacturer-cluster attribute writes and commands.
type Radar interface {
	SetMode(ld2412.SystemMode) error
	SetMoveSensitivity([ld2412.GateCount]uint8) error
	SetStillSensitivity([ld2412.GateCount]uint8) error
	FactoryReset() error
	Restart() error
	ResetEnergyStat()
}

// Binds is the subset of bind.Pool the manufacturer RecheckBinds command
// drives.
type Binds interface {
	Rescan() error
}

// Presence is the subset of presence.Controller the endpoint layer feeds
// external signals into and reads the fused verdict from.
type Presence interface {
	Occupied() bool
	SetExternalIlluminance(raw uint16)
	SetExternalPresence(present bool)
	HandleIASZoneStatus(zoneStatus uint16)
	HandleOnOffServerCommand(cmdID uint8, onTime uint16)
}

// Node collects the subsystems Endpoint dispatches into.
type Node struct {
	Config   *config.Manager
	Radar    Radar
	Binds    Binds
	Presence Presence
	// OnRestart, if set, is invoked directly by the manufacturer Restart
	// command; the radar and config are not touched first.
	OnRestart func()
}

// Endpoint owns the ep-1 attribute Store and dispatches inbound ZCL
// frames a vendor stack adapter delivers.
type Endpoint struct {
	store *zb.Store
	node  Node
	log   zerolog.Logger
}

// New creates an Endpoint, builds its Store from Descriptors() (which
// holds no Basic-cluster attributes), and wires radar.Component's
// presence callbacks through to
// both the store and the presence controller's mmWave/light inputs — the
// single place those two fan-outs are joined, so a caller never has to
// choose between setting comp.OnPresence for the store and for fusion.
func New(node Node, comp *radar.Component, pc *presence.Controller, onReport func(zb.Descriptor, []byte), log zerolog.Logger) *Endpoint {
	store := zb.NewStore(Descriptors(), onReport)
	e := &Endpoint{store: store, node: node, log: log.With().Str("component", "endpoint").Logger()}

	if comp != nil {
		comp.OnPresence = func(s ld2412.PresenceSample) {
			e.store.Set(EP, zb.ClusterManufacturerSpecific, zb.AttrState, zb.TypeUint8, []byte{byte(s.State)}, false)
			if pc != nil {
				present := s.State == ld2412.TargetMove || s.State == ld2412.TargetStill || s.State == ld2412.TargetMoveAndStill
				pc.ReportMMWave(present)
			}
		}
		comp.OnEngineering = func(eng ld2412.EngineeringSample) {
			e.store.Set(EP, zb.ClusterManufacturerSpecific, zb.AttrEngineeringLight, zb.TypeUint8, []byte{eng.Light}, true)
			if pc != nil {
				pc.SetInternalLight(eng.Light)
			}
		}
	}
	return e
}

// Store exposes the attribute store as an AttributeSink for C8's periodic
// pushes and as the backing state for inbound Read Attributes.
func (e *Endpoint) Store() *zb.Store { return e.store }

// HandleGlobalCommand dispatches a ZCL global command (Read/Write
// Attributes, Configure Reporting, Report Attributes) addressed to one of
// this endpoint's clusters. payload excludes the frame-control/seq/cmd
// header.
func (e *Endpoint) HandleGlobalCommand(cluster zb.ClusterID, cmd uint8, payload []byte) {
	switch cmd {
	case zb.GlobalWriteAttributes:
		e.handleWriteAttributes(cluster, payload)
	case zb.GlobalReportAttributes:
		e.handleReportAttributes(cluster, payload)
	}
}

// handleWriteAttributes applies an inbound Write Attributes request to
// the store, and additionally pushes manufacturer-cluster writes that
// have a live side effect (radar thresholds/mode, on/off policy knobs)
// out to the owning subsystem.
func (e *Endpoint) handleWriteAttributes(cluster zb.ClusterID, payload []byte) {
	off := 0
	for off+3 <= len(payload) {
		attr := zb.AttributeID(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		dt := payload[off]
		off++
		n := wireLen(dt, payload[off:])
		if n < 0 || off+n > len(payload) {
			return
		}
		v := payload[off : off+n]
		off += n

		e.store.Set(EP, cluster, attr, dt, v, false)
		if cluster == zb.ClusterManufacturerSpecific {
			e.applySideEffect(attr, v)
		}
	}
}

func (e *Endpoint) applySideEffect(attr zb.AttributeID, v []byte) {
	if e.node.Config == nil {
		return
	}
	switch attr {
	case zb.AttrIlluminanceThreshold:
		if len(v) >= 1 {
			if err := e.node.Config.SetIlluminanceThreshold(v[0]); err != nil {
				e.log.Warn().Err(err).Msg("failed to persist illuminance threshold")
			}
		}
	case zb.AttrOnOffCommandTimeout:
		if len(v) >= 2 && e.node.Config != nil {
			secs := binary.LittleEndian.Uint16(v)
			if err := e.node.Config.SetOnOffTimeout(time.Duration(secs) * time.Second); err != nil {
				e.log.Warn().Err(err).Msg("failed to persist on/off timeout")
			}
		}
	case zb.AttrRadarMode:
		if len(v) >= 1 && e.node.Radar != nil {
			mode := ld2412.SystemMode(v[0])
			if err := e.node.Radar.SetMode(mode); err != nil {
				e.log.Warn().Err(err).Msg("failed to switch radar mode")
			}
		}
	case zb.AttrMoveSensitivity:
		if e.node.Radar != nil {
			if gates, ok := toGateArray(v); ok {
				if err := e.node.Radar.SetMoveSensitivity(gates); err != nil {
					e.log.Warn().Err(err).Msg("failed to write move sensitivity")
				}
			}
		}
	case zb.AttrStillSensitivity:
		if e.node.Radar != nil {
			if gates, ok := toGateArray(v); ok {
				if err := e.node.Radar.SetStillSensitivity(gates); err != nil {
					e.log.Warn().Err(err).Msg("failed to write still sensitivity")
				}
			}
		}
	}
}

// handleReportAttributes ingests unsolicited reports from an external
// cluster this endpoint holds a client role for: Illuminance Measurement
// feeds the presence controller's light sample, Occupancy Sensing feeds
// the external-presence ingest path (spec §6's "client role also present
// for ingest of external occupancy").
func (e *Endpoint) handleReportAttributes(cluster zb.ClusterID, payload []byte) {
	reports := zb.ParseReportAttributes(payload)
	if e.node.Presence == nil {
		return
	}
	switch cluster {
	case zb.ClusterIlluminanceMeas:
		if v, ok := reports[zb.AttrIlluminanceMeasuredValue]; ok && len(v) >= 2 {
			e.node.Presence.SetExternalIlluminance(binary.LittleEndian.Uint16(v))
		}
	case zb.ClusterOccupancySensing:
		if v, ok := reports[zb.AttrOccupancy]; ok && len(v) >= 1 {
			e.node.Presence.SetExternalPresence(v[0] != 0)
		}
	}
}

// HandleClusterCommand dispatches a ZCL cluster-specific command. For
// On/Off's OnWithTimedOff the on-time is read from payload bytes 1-2.
func (e *Endpoint) HandleClusterCommand(cluster zb.ClusterID, cmd uint8, payload []byte) {
	switch cluster {
	case zb.ClusterOnOff:
		e.handleOnOffCommand(cmd, payload)
	case zb.ClusterIASZone:
		e.handleIASZoneCommand(cmd, payload)
	case zb.ClusterManufacturerSpecific:
		e.handleMfgCommand(cmd, payload)
	}
}

func (e *Endpoint) handleOnOffCommand(cmd uint8, payload []byte) {
	if e.node.Presence == nil {
		return
	}
	var onTime uint16
	if cmd == zb.CmdOnWithTimedOff && len(payload) >= 3 {
		onTime = binary.LittleEndian.Uint16(payload[1:3])
	}
	e.node.Presence.HandleOnOffServerCommand(cmd, onTime)
}

// zoneStatusChangeNotification is the IAS-Zone client command id this
// node acts on (status-change notifications only; the rest of the
// cluster's enroll/alarm handshake is out of this node's scope).
const zoneStatusChangeNotification uint8 = 0x00

func (e *Endpoint) handleIASZoneCommand(cmd uint8, payload []byte) {
	if cmd != zoneStatusChangeNotification || e.node.Presence == nil || len(payload) < 2 {
		return
	}
	e.node.Presence.HandleIASZoneStatus(binary.LittleEndian.Uint16(payload))
}

func (e *Endpoint) handleMfgCommand(cmd uint8, payload []byte) {
	switch cmd {
	case zb.CmdMfgRestart:
		if e.node.OnRestart != nil {
			e.node.OnRestart()
		}
	case zb.CmdMfgFactoryReset:
		if e.node.Config != nil {
			if err := e.node.Config.FactoryReset(); err != nil {
				e.log.Warn().Err(err).Msg("factory reset failed")
			}
		}
		if e.node.Radar != nil {
			if err := e.node.Radar.FactoryReset(); err != nil {
				e.log.Warn().Err(err).Msg("radar factory reset failed")
			}
		}
	case zb.CmdMfgResetEnergyStat:
		if e.node.Radar != nil {
			e.node.Radar.ResetEnergyStat()
		}
	case zb.CmdMfgSwitchBluetooth:
		// no-op placeholder: bluetooth toggling is a direct radar.Component
		// operation (SwitchBluetooth is not exposed through Radar here
		// since no cluster attribute currently surfaces its state).
	case zb.CmdMfgRecheckBinds:
		if e.node.Binds != nil {
			if err := e.node.Binds.Rescan(); err != nil {
				e.log.Warn().Err(err).Msg("recheck binds failed")
			}
		}
	}
}

// wireLen mirrors zb.ParseReadAttributesResponse's array-length
// convention: an element-type byte plus a 16-bit element count precede
// the array's raw bytes.
func wireLen(dt uint8, rest []byte) int {
	switch dt {
	case zb.TypeBool, zb.TypeUint8:
		return 1
	case zb.TypeUint16:
		return 2
	case zb.TypeUint32:
		return 4
	case zb.TypeArray:
		if len(rest) < 3 {
			return -1
		}
		count := int(binary.LittleEndian.Uint16(rest[1:3]))
		return 3 + count
	default:
		return -1
	}
}

// toGateArray strips the array header wireLen accounted for and copies
// the 14 gate bytes that follow.
func toGateArray(v []byte) ([ld2412.GateCount]uint8, bool) {
	var out [ld2412.GateCount]uint8
	if len(v) < 3+ld2412.GateCount {
		return out, false
	}
	copy(out[:], v[3:3+ld2412.GateCount])
	return out, true
}

