// Package ld2412 implements the HLK-LD2412 radar's UART wire protocol:
// framed command/response exchanges interleaved with streamed data
// frames, decoded into presence samples. The higher-level two-loop
// component that drives this client lives in internal/radar. Grounded on
// the firmware's ld2412
// protocol layer (frame shapes, command ids, config block) and on the
// serial-port wrapping idiom used elsewhere in the stack.
package ld2412

import (
	"encoding/binary"
	"fmt"
)

// CmdID identifies a command-frame request. Responses carry the same id
// with bit 0x0100 set.
type CmdID uint16

const (
	CmdOpenCmdMode                  CmdID = 0x00FF
	CmdCloseCmdMode                 CmdID = 0x00FE
	CmdReadVersion                  CmdID = 0x00A0
	CmdEnterEngineeringMode         CmdID = 0x0062
	CmdLeaveEngineeringMode         CmdID = 0x0063
	CmdWriteBaseConfig              CmdID = 0x0002
	CmdReadBaseConfig               CmdID = 0x0012
	CmdWriteMoveSensitivity         CmdID = 0x0003
	CmdReadMoveSensitivity          CmdID = 0x0013
	CmdWriteStillSensitivity        CmdID = 0x0004
	CmdReadStillSensitivity         CmdID = 0x0014
	CmdRunDynamicBackgroundAnalysis CmdID = 0x000B
	CmdQueryDynamicBackgroundAnalysis CmdID = 0x001B
	CmdFactoryReset                 CmdID = 0x00A2
	CmdRestart                      CmdID = 0x00A3
	CmdSwitchBluetooth              CmdID = 0x00A4
	CmdReadMAC                      CmdID = 0x00A5
	CmdSetDistanceRes               CmdID = 0x00AA
	CmdGetDistanceRes               CmdID = 0x00AB
)

// responseBit marks a command id as carrying a response.
const responseBit CmdID = 0x0100

// SystemMode is the radar's reporting mode.
type SystemMode uint8

const (
	ModeEnergy SystemMode = 0x01
	ModeSimple SystemMode = 0x02
)

// TargetState is the presence classification carried by a data frame.
type TargetState uint8

const (
	TargetClear        TargetState = 0
	TargetMove         TargetState = 1
	TargetStill        TargetState = 2
	TargetMoveAndStill TargetState = 3
)

// DistanceRes selects the per-gate physical distance the radar reports.
type DistanceRes uint8

const (
	DistanceRes0_75 DistanceRes = 0
	DistanceRes0_20 DistanceRes = 1
)

// GateCount is the number of distance gates the radar exposes.
const GateCount = 14

var (
	cmdFrameHeader  = [4]byte{0xFD, 0xFC, 0xFB, 0xFA}
	cmdFrameFooter  = [4]byte{0x04, 0x03, 0x02, 0x01}
	dataFrameHeader = [4]byte{0xF4, 0xF3, 0xF2, 0xF1}
	dataFrameFooter = [4]byte{0xF8, 0xF7, 0xF6, 0xF5}
)

const (
	reportBeginMarker byte = 0xAA
	reportEndMarker   byte = 0x55
)

// BuildCommandFrame encodes a command frame: header, 16-bit LE length
// (covering the command id plus params), command id, params, footer.
func BuildCommandFrame(cmd CmdID, params []byte) []byte {
	buf := make([]byte, 0, 4+2+2+len(params)+4)
	buf = append(buf, cmdFrameHeader[:]...)
	length := uint16(2 + len(params))
	buf = appendU16(buf, length)
	buf = appendU16(buf, uint16(cmd))
	buf = append(buf, params...)
	buf = append(buf, cmdFrameFooter[:]...)
	return buf
}

// ParseResponseFrame validates and decodes a full command-response frame
// (header through footer already isolated by the caller). It returns the
// echoed command id (with the response bit cleared), the status word and
// the remaining payload bytes.
func ParseResponseFrame(frame []byte) (cmd CmdID, status uint16, payload []byte, err error) {
	if len(frame) < 4+2+2+2+4 {
		return 0, 0, nil, wrapErr("ParseResponseFrame", ErrRecvFrameIncomplete, nil)
	}
	if !matches(frame[0:4], cmdFrameHeader[:]) {
		return 0, 0, nil, wrapErr("ParseResponseFrame", ErrRecvFrameMalformed, fmt.Errorf("bad header"))
	}
	length := binary.LittleEndian.Uint16(frame[4:6])
	body := frame[6:]
	if len(body) < int(length)+4 {
		return 0, 0, nil, wrapErr("ParseResponseFrame", ErrRecvFrameIncomplete, nil)
	}
	if !matches(body[int(length):int(length)+4], cmdFrameFooter[:]) {
		return 0, 0, nil, wrapErr("ParseResponseFrame", ErrRecvFrameMalformed, fmt.Errorf("bad footer"))
	}
	rawCmd := CmdID(binary.LittleEndian.Uint16(body[0:2]))
	if rawCmd&responseBit == 0 {
		return 0, 0, nil, wrapErr("ParseResponseFrame", ErrRecvFrameMalformed, fmt.Errorf("response bit not set"))
	}
	status = binary.LittleEndian.Uint16(body[2:4])
	payload = body[4:length]
	return rawCmd &^ responseBit, status, payload, nil
}

// PresenceSample is the decoded payload of a Simple-mode data frame.
type PresenceSample struct {
	State           TargetState
	MoveDistanceCM  uint16
	MoveEnergy      uint8
	StillDistanceCM uint16
	StillEnergy     uint8
}

// EngineeringSample additionally carries the per-gate energy arrays and
// ambient light reading an Energy-mode data frame reports.
type EngineeringSample struct {
	PresenceSample
	MoveEnergyGates  [GateCount]uint8
	StillEnergyGates [GateCount]uint8
	Light            uint8
}

// EncodePresencePayload is the inverse of DecodePresence; it exists so
// tests (and the loopback simulator) can construct well-formed data
// frames without hand-building byte slices.
func EncodePresencePayload(s PresenceSample) []byte {
	buf := make([]byte, 7)
	buf[0] = byte(s.State)
	binary.LittleEndian.PutUint16(buf[1:3], s.MoveDistanceCM)
	buf[3] = s.MoveEnergy
	binary.LittleEndian.PutUint16(buf[4:6], s.StillDistanceCM)
	buf[6] = s.StillEnergy
	return buf
}

// DecodePresence decodes a Simple-mode payload.
func DecodePresence(payload []byte) (PresenceSample, error) {
	if len(payload) < 7 {
		return PresenceSample{}, wrapErr("DecodePresence", ErrRecvFrameIncomplete, nil)
	}
	return PresenceSample{
		State:           TargetState(payload[0]),
		MoveDistanceCM:  binary.LittleEndian.Uint16(payload[1:3]),
		MoveEnergy:      payload[3],
		StillDistanceCM: binary.LittleEndian.Uint16(payload[4:6]),
		StillEnergy:     payload[6],
	}, nil
}

// EncodeEngineeringPayload is the inverse of DecodeEngineering.
func EncodeEngineeringPayload(s EngineeringSample) []byte {
	buf := EncodePresencePayload(s.PresenceSample)
	buf = append(buf, s.MoveEnergyGates[:]...)
	buf = append(buf, s.StillEnergyGates[:]...)
	buf = append(buf, s.Light)
	return buf
}

// DecodeEngineering decodes an Energy-mode payload.
func DecodeEngineering(payload []byte) (EngineeringSample, error) {
	base, err := DecodePresence(payload)
	if err != nil {
		return EngineeringSample{}, err
	}
	want := 7 + GateCount + GateCount + 1
	if len(payload) < want {
		return EngineeringSample{}, wrapErr("DecodeEngineering", ErrRecvFrameIncomplete, nil)
	}
	var out EngineeringSample
	out.PresenceSample = base
	copy(out.MoveEnergyGates[:], payload[7:7+GateCount])
	copy(out.StillEnergyGates[:], payload[7+GateCount:7+2*GateCount])
	out.Light = payload[7+2*GateCount]
	return out, nil
}

// BuildDataFrame encodes a data frame for the given mode, used by the
// standalone simulator and by round-trip tests.
func BuildDataFrame(mode SystemMode, payload []byte) []byte {
	inner := make([]byte, 0, 1+1+len(payload)+1)
	inner = append(inner, byte(mode))
	inner = append(inner, reportBeginMarker)
	inner = append(inner, payload...)
	inner = append(inner, reportEndMarker)
	check := checksum(inner)

	buf := make([]byte, 0, 4+2+len(inner)+1+4)
	buf = append(buf, dataFrameHeader[:]...)
	buf = appendU16(buf, uint16(len(inner)+1))
	buf = append(buf, inner...)
	buf = append(buf, check)
	buf = append(buf, dataFrameFooter[:]...)
	return buf
}

// ParseDataFrame validates and decodes a full data frame (header through
// footer already isolated by the caller).
func ParseDataFrame(frame []byte) (mode SystemMode, payload []byte, err error) {
	if len(frame) < 4+2+1+1+1+1+4 {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameIncomplete, nil)
	}
	if !matches(frame[0:4], dataFrameHeader[:]) {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameMalformed, fmt.Errorf("bad header"))
	}
	length := binary.LittleEndian.Uint16(frame[4:6])
	body := frame[6:]
	if len(body) < int(length)+4 {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameIncomplete, nil)
	}
	if !matches(body[int(length):int(length)+4], dataFrameFooter[:]) {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameMalformed, fmt.Errorf("bad footer"))
	}
	inner := body[:length]
	if len(inner) < 1+1+1 {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameIncomplete, nil)
	}
	mode = SystemMode(inner[0])
	if inner[1] != reportBeginMarker {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameMalformed, fmt.Errorf("missing report-begin marker"))
	}
	reportAndCheck := inner[2:]
	if len(reportAndCheck) < 2 {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameIncomplete, nil)
	}
	report := reportAndCheck[:len(reportAndCheck)-1]
	// the trailing byte is an opaque check value; the radar's own check
	// algorithm isn't documented, so it's read and discarded rather than
	// validated against a guessed formula.
	_ = reportAndCheck[len(reportAndCheck)-1]
	if report[len(report)-1] != reportEndMarker {
		return 0, nil, wrapErr("ParseDataFrame", ErrRecvFrameMalformed, fmt.Errorf("missing report-end marker"))
	}
	return mode, report[:len(report)-1], nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

func matches(got, want []byte) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}
