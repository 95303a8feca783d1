package ld2412

import (
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCommandWait = 250 * time.Millisecond
	defaultRetries     = 3
	restartDrainWindow = 2 * time.Second
)

// Version is the radar firmware version reported by ReadVersion.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint32
}

// BaseConfig is the radar's distance-gate and timing configuration.
type BaseConfig struct {
	MinGate             uint8 // 1..12
	MaxGate             uint8 // 1..12
	UnoccupiedDelaySec  uint16
	OutputPinActiveHigh bool
}

// Client drives the framed command protocol over a Channel, matching
// responses by echoed command id and retrying frame reception (not the
// send) up to its retry budget.
type Client struct {
	ch          *Channel
	log         zerolog.Logger
	retries     int
	defaultWait time.Duration

	lastMode SystemMode
}

// NewClient wraps ch with the protocol's default timing: 250 ms per
// receive attempt, 3 attempts.
func NewClient(ch *Channel, log zerolog.Logger) *Client {
	return &Client{
		ch:          ch,
		log:         log.With().Str("component", "ld2412.protocol").Logger(),
		retries:     defaultRetries,
		defaultWait: defaultCommandWait,
		lastMode:    ModeEnergy,
	}
}

// SendCommand flushes input, sends cmd with params, and waits for a
// matching response frame (cmd | 0x0100). A non-zero status is returned
// as an error carrying the raw status code; it is not retried. Receive
// exhaustion after the retry budget surfaces as ErrRecvFrameIncomplete
// or ErrRecvFrameMalformed from the last attempt.
func (c *Client) SendCommand(cmd CmdID, params []byte) (payload []byte, err error) {
	if err := c.ch.Flush(); err != nil {
		return nil, wrapErr("SendCommand", ErrSendFrameIncomplete, err)
	}
	frame := BuildCommandFrame(cmd, params)
	if err := c.ch.Send(frame); err != nil {
		return nil, wrapErr("SendCommand", ErrSendFrameIncomplete, err)
	}
	if err := c.ch.WaitAllSent(); err != nil {
		return nil, wrapErr("SendCommand", ErrSendFrameIncomplete, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		isData, raw, ferr := c.readAnyFrame(c.defaultWait)
		if ferr != nil {
			lastErr = ferr
			continue
		}
		if isData {
			// a streamed data frame arrived while we were waiting for a
			// command response; drop it and keep waiting.
			attempt--
			continue
		}
		rcmd, status, body, perr := ParseResponseFrame(raw)
		if perr != nil {
			lastErr = perr
			continue
		}
		if rcmd != cmd {
			lastErr = wrapErr("SendCommand", ErrRecvFrameMalformed, nil)
			continue
		}
		if status != 0 {
			return body, statusErr("SendCommand", status)
		}
		return body, nil
	}
	return nil, lastErr
}

// readAnyFrame scans the channel for the next valid frame header (command
// or data shape), then reads the length-prefixed body, returning the raw
// bytes from header through footer for the caller to parse.
func (c *Client) readAnyFrame(timeout time.Duration) (isData bool, frame []byte, err error) {
	deadline := time.Now().Add(timeout)
	var window [4]byte
	filled := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil, wrapErr("readAnyFrame", ErrRecvFrameIncomplete, nil)
		}
		b, ok, rerr := c.ch.ReadByte(remaining)
		if rerr != nil {
			return false, nil, wrapErr("readAnyFrame", ErrRecvFrameIncomplete, rerr)
		}
		if !ok {
			continue
		}
		window[0], window[1], window[2], window[3] = window[1], window[2], window[3], b
		filled++
		if filled < 4 {
			continue
		}
		if matches(window[:], cmdFrameHeader[:]) {
			isData = false
			break
		}
		if matches(window[:], dataFrameHeader[:]) {
			isData = true
			break
		}
	}

	lenBuf := make([]byte, 2)
	if err := c.readExact(lenBuf, time.Until(deadline)); err != nil {
		return false, nil, wrapErr("readAnyFrame", ErrRecvFrameIncomplete, err)
	}
	length := binary.LittleEndian.Uint16(lenBuf)
	body := make([]byte, int(length)+4)
	if err := c.readExact(body, time.Until(deadline)); err != nil {
		return false, nil, wrapErr("readAnyFrame", ErrRecvFrameIncomplete, err)
	}

	frame = make([]byte, 0, 4+2+len(body))
	frame = append(frame, window[:]...)
	frame = append(frame, lenBuf...)
	frame = append(frame, body...)
	return isData, frame, nil
}

func (c *Client) readExact(buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errShortRead
		}
		n, err := c.ch.Read(buf[got:], remaining)
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

var errShortRead = wrapErr("readExact", ErrRecvFrameIncomplete, nil)

// withCmdMode brackets fn with OpenCmdMode/CloseCmdMode, as every
// configuration exchange requires.
func (c *Client) withCmdMode(fn func() error) error {
	if _, err := c.SendCommand(CmdOpenCmdMode, nil); err != nil {
		return err
	}
	defer c.SendCommand(CmdCloseCmdMode, nil) //nolint:errcheck
	return fn()
}

func (c *Client) ReadVersion() (v Version, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdReadVersion, nil)
		if e != nil {
			return e
		}
		if len(body) < 6 {
			return wrapErr("ReadVersion", ErrRecvFrameIncomplete, nil)
		}
		v.Major = body[0]
		v.Minor = body[1]
		v.Revision = binary.LittleEndian.Uint32(body[2:6])
		return nil
	})
	return v, err
}

func (c *Client) EnterEngineeringMode() error {
	_, err := c.SendCommand(CmdEnterEngineeringMode, nil)
	return err
}

func (c *Client) LeaveEngineeringMode() error {
	_, err := c.SendCommand(CmdLeaveEngineeringMode, nil)
	return err
}

func encodeBaseConfig(cfg BaseConfig) []byte {
	buf := make([]byte, 6)
	buf[0] = cfg.MinGate
	buf[1] = cfg.MaxGate
	binary.LittleEndian.PutUint16(buf[2:4], cfg.UnoccupiedDelaySec)
	if cfg.OutputPinActiveHigh {
		buf[4] = 1
	}
	return buf
}

func decodeBaseConfig(body []byte) (BaseConfig, error) {
	if len(body) < 5 {
		return BaseConfig{}, wrapErr("decodeBaseConfig", ErrRecvFrameIncomplete, nil)
	}
	return BaseConfig{
		MinGate:             body[0],
		MaxGate:             body[1],
		UnoccupiedDelaySec:  binary.LittleEndian.Uint16(body[2:4]),
		OutputPinActiveHigh: body[4] != 0,
	}, nil
}

func (c *Client) writeBaseConfigRaw(cfg BaseConfig) error {
	_, err := c.SendCommand(CmdWriteBaseConfig, encodeBaseConfig(cfg))
	return err
}

func (c *Client) WriteBaseConfig(cfg BaseConfig) error {
	return c.withCmdMode(func() error { return c.writeBaseConfigRaw(cfg) })
}

func (c *Client) ReadBaseConfig() (cfg BaseConfig, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdReadBaseConfig, nil)
		if e != nil {
			return e
		}
		cfg, e = decodeBaseConfig(body)
		return e
	})
	return cfg, err
}

func (c *Client) writeMoveSensitivityRaw(gates [GateCount]uint8) error {
	_, err := c.SendCommand(CmdWriteMoveSensitivity, gates[:])
	return err
}

func (c *Client) WriteMoveSensitivity(gates [GateCount]uint8) error {
	return c.withCmdMode(func() error { return c.writeMoveSensitivityRaw(gates) })
}

func (c *Client) ReadMoveSensitivity() (gates [GateCount]uint8, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdReadMoveSensitivity, nil)
		if e != nil {
			return e
		}
		if len(body) < GateCount {
			return wrapErr("ReadMoveSensitivity", ErrRecvFrameIncomplete, nil)
		}
		copy(gates[:], body[:GateCount])
		return nil
	})
	return gates, err
}

func (c *Client) writeStillSensitivityRaw(gates [GateCount]uint8) error {
	_, err := c.SendCommand(CmdWriteStillSensitivity, gates[:])
	return err
}

func (c *Client) WriteStillSensitivity(gates [GateCount]uint8) error {
	return c.withCmdMode(func() error { return c.writeStillSensitivityRaw(gates) })
}

func (c *Client) ReadStillSensitivity() (gates [GateCount]uint8, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdReadStillSensitivity, nil)
		if e != nil {
			return e
		}
		if len(body) < GateCount {
			return wrapErr("ReadStillSensitivity", ErrRecvFrameIncomplete, nil)
		}
		copy(gates[:], body[:GateCount])
		return nil
	})
	return gates, err
}

func (c *Client) RunDynamicBackgroundAnalysis() error {
	return c.withCmdMode(func() error {
		_, err := c.SendCommand(CmdRunDynamicBackgroundAnalysis, nil)
		return err
	})
}

// QueryDynamicBackgroundAnalysis reports whether the background analysis
// run is still in progress.
func (c *Client) QueryDynamicBackgroundAnalysis() (running bool, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdQueryDynamicBackgroundAnalysis, nil)
		if e != nil {
			return e
		}
		if len(body) < 1 {
			return wrapErr("QueryDynamicBackgroundAnalysis", ErrRecvFrameIncomplete, nil)
		}
		running = body[0] != 0
		return nil
	})
	return running, err
}

func (c *Client) FactoryReset() error {
	return c.withCmdMode(func() error {
		_, err := c.SendCommand(CmdFactoryReset, nil)
		return err
	})
}

// Restart issues the radar restart command, then drains the channel for
// up to 2 s. If engineering (Energy) mode was active before the restart,
// it is re-entered once the radar comes back.
func (c *Client) Restart() error {
	wasEnergy := c.lastMode == ModeEnergy
	if _, err := c.SendCommand(CmdRestart, nil); err != nil {
		return err
	}

	deadline := time.Now().Add(restartDrainWindow)
	for time.Now().Before(deadline) {
		if _, _, err := c.ch.ReadByte(100 * time.Millisecond); err != nil {
			break
		}
	}
	if err := c.ch.Flush(); err != nil {
		return err
	}

	if wasEnergy {
		return c.EnterEngineeringMode()
	}
	return nil
}

func (c *Client) SwitchBluetooth(on bool) error {
	var param byte
	if on {
		param = 1
	}
	return c.withCmdMode(func() error {
		_, err := c.SendCommand(CmdSwitchBluetooth, []byte{param})
		return err
	})
}

func (c *Client) ReadMAC() (mac [6]byte, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdReadMAC, nil)
		if e != nil {
			return e
		}
		if len(body) < 6 {
			return wrapErr("ReadMAC", ErrRecvFrameIncomplete, nil)
		}
		copy(mac[:], body[:6])
		return nil
	})
	return mac, err
}

func (c *Client) setDistanceResRaw(res DistanceRes) error {
	_, err := c.SendCommand(CmdSetDistanceRes, []byte{byte(res)})
	return err
}

func (c *Client) SetDistanceRes(res DistanceRes) error {
	return c.withCmdMode(func() error { return c.setDistanceResRaw(res) })
}

// setSystemModeRaw toggles engineering mode: Energy enables the extra
// per-gate reporting, Simple disables it.
func (c *Client) setSystemModeRaw(m SystemMode) error {
	if m == ModeEnergy {
		return c.EnterEngineeringMode()
	}
	return c.LeaveEngineeringMode()
}

// withCmdModeBatch brackets a whole batch of raw writes with a single
// OpenCmdMode/CloseCmdMode pair, used by ConfigBlock.EndChange so a
// multi-field change costs one command-mode session, not one per field.
func (c *Client) withCmdModeBatch(fn func() error) error {
	return c.withCmdMode(fn)
}

func (c *Client) GetDistanceRes() (res DistanceRes, err error) {
	err = c.withCmdMode(func() error {
		body, e := c.SendCommand(CmdGetDistanceRes, nil)
		if e != nil {
			return e
		}
		if len(body) < 1 {
			return wrapErr("GetDistanceRes", ErrRecvFrameIncomplete, nil)
		}
		res = DistanceRes(body[0])
		return nil
	})
	return res, err
}

// ReadDataFrame reads one streamed data frame (no command-mode
// bracketing; data frames are pushed continuously while idle).
func (c *Client) ReadDataFrame(wait time.Duration) (mode SystemMode, payload []byte, err error) {
	isData, raw, err := c.readAnyFrame(wait)
	if err != nil {
		return 0, nil, err
	}
	if !isData {
		return 0, nil, wrapErr("ReadDataFrame", ErrRecvFrameMalformed, nil)
	}
	mode, payload, err = ParseDataFrame(raw)
	if err == nil {
		c.lastMode = mode
	}
	return mode, payload, err
}
