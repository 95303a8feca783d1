package zb

import "encoding/binary"

// ClusterID identifies a ZCL cluster.
type ClusterID uint16

const (
	ClusterBasic                 ClusterID = 0x0000
	ClusterIdentify              ClusterID = 0x0003
	ClusterOnOff                 ClusterID = 0x0006
	ClusterIlluminanceMeas       ClusterID = 0x0400
	ClusterOccupancySensing      ClusterID = 0x0406
	ClusterIASZone               ClusterID = 0x0500
	ClusterManufacturerSpecific  ClusterID = 0xFC00
)

// AttributeID identifies a ZCL attribute within a cluster.
type AttributeID uint16

// Occupancy Sensing cluster attributes.
const (
	AttrOccupancy                AttributeID = 0x0000
	AttrUnoccupiedToOccupiedSec  AttributeID = 0x0020
)

// On/Off cluster attributes.
const AttrOnOff AttributeID = 0x0000

// IAS-Zone cluster attributes.
const AttrIASZoneStatus AttributeID = 0x0002

// Illuminance Measurement cluster attributes.
const AttrIlluminanceMeasuredValue AttributeID = 0x0000

// Manufacturer-specific cluster (0xFC00) attributes, per spec §6.
const (
	AttrMoveSensitivity          AttributeID = 0x0000 // 14 bytes
	AttrStillSensitivity         AttributeID = 0x0001 // 14 bytes
	AttrState                    AttributeID = 0x0002 // uint8
	AttrMinDistance              AttributeID = 0x0003 // uint16
	AttrMaxDistance              AttributeID = 0x0004 // uint16
	AttrExtendedState            AttributeID = 0x0005 // uint8
	AttrRadarMode                AttributeID = 0x0006 // uint8
	AttrEngineeringLight         AttributeID = 0x0007 // uint8, report
	AttrPIRPresence              AttributeID = 0x0008 // bool, report
	AttrOnOffCommandMode         AttributeID = 0x0009 // uint8
	AttrOnOffCommandTimeout      AttributeID = 0x000A // uint16
	AttrIlluminanceThreshold     AttributeID = 0x000B // uint8
	AttrPresenceDetectionConfig  AttributeID = 0x000C // bitfield uint8
	AttrExternalOnTime           AttributeID = 0x000D // uint16
	AttrFailureStatus            AttributeID = 0x000E // uint16, report
	AttrInternals                AttributeID = 0x000F // uint32, report
	AttrRestartsCount            AttributeID = 0x0010 // uint16, report
	AttrInternals2               AttributeID = 0x0011 // uint32, report
	AttrArmedForTrigger          AttributeID = 0x0012 // bool
	AttrInternals3               AttributeID = 0x0013 // uint32
)

// Manufacturer cluster commands (spec §6).
const (
	CmdMfgRestart          uint8 = 0
	CmdMfgFactoryReset     uint8 = 1
	CmdMfgResetEnergyStat  uint8 = 2
	CmdMfgSwitchBluetooth  uint8 = 3
	CmdMfgRecheckBinds     uint8 = 4
)

// On/Off cluster commands.
const (
	CmdOff            uint8 = 0x00
	CmdOn             uint8 = 0x01
	CmdToggle         uint8 = 0x02
	CmdOnWithTimedOff uint8 = 0x42
)

// ZCL global commands, used against every cluster.
const (
	GlobalReadAttributes            uint8 = 0x00
	GlobalReadAttributesResponse    uint8 = 0x01
	GlobalWriteAttributes           uint8 = 0x02
	GlobalWriteAttributesResponse   uint8 = 0x04
	GlobalConfigureReporting        uint8 = 0x06
	GlobalConfigureReportingResp    uint8 = 0x07
	GlobalReadReportingConfig       uint8 = 0x08
	GlobalReadReportingConfigResp   uint8 = 0x09
	GlobalReportAttributes          uint8 = 0x0A
)

// ZCL data types (subset actually used on the wire here).
const (
	TypeBool   uint8 = 0x10
	TypeUint8  uint8 = 0x20
	TypeUint16 uint8 = 0x21
	TypeUint32 uint8 = 0x23
	TypeArray  uint8 = 0x48
)

// frame control bits.
const (
	frameTypeGlobal          uint8 = 0x00
	frameTypeClusterSpecific uint8 = 0x01
	directionServerToClient  uint8 = 0x08
)

var seqCounter uint8

func nextSeq() uint8 {
	seqCounter++
	return seqCounter
}

// EncodeClusterCommand builds a ZCL cluster-specific client-to-server
// frame: frame control, sequence number, command id, payload.
func EncodeClusterCommand(cmd uint8, payload []byte) (seq uint8, frame []byte) {
	seq = nextSeq()
	frame = make([]byte, 0, 3+len(payload))
	frame = append(frame, frameTypeClusterSpecific, seq, cmd)
	frame = append(frame, payload...)
	return seq, frame
}

// EncodeGlobalCommand builds a ZCL global-command frame (Read/Write
// Attributes, Configure Reporting, ...).
func EncodeGlobalCommand(cmd uint8, payload []byte) (seq uint8, frame []byte) {
	seq = nextSeq()
	frame = make([]byte, 0, 3+len(payload))
	frame = append(frame, frameTypeGlobal, seq, cmd)
	frame = append(frame, payload...)
	return seq, frame
}

// BuildReadAttributes encodes a Read Attributes request for one or more
// attribute ids.
func BuildReadAttributes(attrs ...AttributeID) (seq uint8, frame []byte) {
	payload := make([]byte, len(attrs)*2)
	for i, a := range attrs {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(a))
	}
	return EncodeGlobalCommand(GlobalReadAttributes, payload)
}

// BuildWriteAttribute encodes a single-attribute Write Attributes request.
func BuildWriteAttribute(attr AttributeID, dataType uint8, value []byte) (seq uint8, frame []byte) {
	payload := make([]byte, 0, 3+len(value))
	payload = appendU16(payload, uint16(attr))
	payload = append(payload, dataType)
	payload = append(payload, value...)
	return EncodeGlobalCommand(GlobalWriteAttributes, payload)
}

// BuildConfigureReporting encodes a send-direction reporting configuration
// for one attribute, matching spec §4.7's SendConfigureReport step
// (direction=send, min, max, delta).
func BuildConfigureReporting(attr AttributeID, dataType uint8, minSec, maxSec uint16, delta uint32) (seq uint8, frame []byte) {
	const directionSend uint8 = 0x00
	payload := make([]byte, 0, 1+2+1+2+2+4)
	payload = append(payload, directionSend)
	payload = appendU16(payload, uint16(attr))
	payload = append(payload, dataType)
	payload = appendU16(payload, minSec)
	payload = appendU16(payload, maxSec)
	payload = appendU32(payload, delta)
	return EncodeGlobalCommand(GlobalConfigureReporting, payload)
}

// BuildReadReportingConfig encodes a read-reporting-configuration request.
func BuildReadReportingConfig(attr AttributeID) (seq uint8, frame []byte) {
	const directionSend uint8 = 0x00
	payload := make([]byte, 0, 3)
	payload = append(payload, directionSend)
	payload = appendU16(payload, uint16(attr))
	return EncodeGlobalCommand(GlobalReadReportingConfig, payload)
}

// ParseReadAttributesResponse extracts attrID -> raw value bytes from a
// Read Attributes Response payload (frame control/seq/cmd already
// stripped).
func ParseReadAttributesResponse(payload []byte) map[AttributeID][]byte {
	out := make(map[AttributeID][]byte)
	off := 0
	for off+3 <= len(payload) {
		attr := AttributeID(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		status := payload[off]
		off++
		if status != 0 {
			continue
		}
		if off >= len(payload) {
			break
		}
		dt := payload[off]
		off++
		n := dataTypeLen(dt, payload[off:])
		if n < 0 || off+n > len(payload) {
			break
		}
		v := make([]byte, n)
		copy(v, payload[off:off+n])
		out[attr] = v
		off += n
	}
	return out
}

// ParseReportAttributes extracts attrID -> raw value bytes from an
// unsolicited Report Attributes frame (frame control/seq/cmd already
// stripped). Unlike a Read Attributes Response, entries carry no per-
// attribute status byte.
func ParseReportAttributes(payload []byte) map[AttributeID][]byte {
	out := make(map[AttributeID][]byte)
	off := 0
	for off+3 <= len(payload) {
		attr := AttributeID(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		dt := payload[off]
		off++
		n := dataTypeLen(dt, payload[off:])
		if n < 0 || off+n > len(payload) {
			break
		}
		v := make([]byte, n)
		copy(v, payload[off:off+n])
		out[attr] = v
		off += n
	}
	return out
}

// ParseReadReportingConfigResponse reports whether the single requested
// attribute already carries send-direction reporting configuration
// (status == 0 means "configured").
func ParseReadReportingConfigResponse(payload []byte) (configured bool, ok bool) {
	if len(payload) < 1 {
		return false, false
	}
	return payload[0] == 0, true
}

func dataTypeLen(dt uint8, rest []byte) int {
	switch dt {
	case TypeBool, TypeUint8:
		return 1
	case TypeUint16:
		return 2
	case TypeUint32:
		return 4
	case TypeArray:
		if len(rest) < 3 {
			return -1
		}
		count := int(binary.LittleEndian.Uint16(rest[1:3]))
		return 3 + count
	default:
		return -1
	}
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
