package zb

import "sync"

// SimStack is an in-memory Stack used by tests and, optionally, by a
// bench build without a radio attached — the same "run in limited mode"
// role the teacher's NullController plays for pkg/device.Controller, but
// active rather than a no-op so callers under test can drive full
// request/response cycles deterministically.
type SimStack struct {
	mu sync.Mutex

	ourIEEE IEEEAddr

	sendStatusHandlers map[uint8]SendStatusHandler
	responseHandlers   map[respKey]ResponseHandler

	// Sent records every outbound frame for test assertions.
	Sent []SentFrame

	// LocalTable is this node's own simulated binding table, settable by
	// tests to exercise Pool.Rescan.
	LocalTable []BindEntry
}

type respKey struct {
	cluster ClusterID
	cmd     uint8
}

// SentFrame records one SendCommand/ReadAttribute/... call for tests to
// inspect.
type SentFrame struct {
	Seq     uint8
	Dst     Address
	EP      uint8
	Cluster ClusterID
	Cmd     uint8
	Payload []byte
}

// NewSimStack creates a SimStack that reports ourIEEE as our own address.
func NewSimStack(ourIEEE IEEEAddr) *SimStack {
	return &SimStack{
		ourIEEE:            ourIEEE,
		sendStatusHandlers: make(map[uint8]SendStatusHandler),
		responseHandlers:   make(map[respKey]ResponseHandler),
	}
}

func (s *SimStack) OurIEEE() IEEEAddr { return s.ourIEEE }

func (s *SimStack) record(dst Address, ep uint8, cluster ClusterID, cmd uint8, payload []byte) uint8 {
	seq, _ := EncodeClusterCommand(cmd, nil)
	s.mu.Lock()
	s.Sent = append(s.Sent, SentFrame{Seq: seq, Dst: dst, EP: ep, Cluster: cluster, Cmd: cmd, Payload: payload})
	s.mu.Unlock()
	return seq
}

func (s *SimStack) SendCommand(dst Address, ep uint8, cluster ClusterID, cmd uint8, payload []byte) (uint8, error) {
	return s.record(dst, ep, cluster, cmd, payload), nil
}

func (s *SimStack) ReadAttribute(dst Address, ep uint8, cluster ClusterID, attr AttributeID) (uint8, error) {
	return s.record(dst, ep, cluster, GlobalReadAttributes, nil), nil
}

func (s *SimStack) ConfigureReporting(dst Address, ep uint8, cluster ClusterID, attr AttributeID, dataType uint8, minSec, maxSec uint16, delta uint32) (uint8, error) {
	return s.record(dst, ep, cluster, GlobalConfigureReporting, nil), nil
}

func (s *SimStack) ReadReportingConfig(dst Address, ep uint8, cluster ClusterID, attr AttributeID) (uint8, error) {
	return s.record(dst, ep, cluster, GlobalReadReportingConfig, nil), nil
}

func (s *SimStack) LocalBindingTable() ([]BindEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BindEntry(nil), s.LocalTable...), nil
}

func (s *SimStack) MgmtBindRequest(dst Address, startIndex uint8) (uint8, error) {
	return s.record(dst, 0, ClusterZDO, CmdMgmtBindRsp, []byte{startIndex}), nil
}

func (s *SimStack) BindToMe(dst Address, ep uint8, cluster ClusterID) (uint8, error) {
	return s.record(dst, ep, ClusterZDO, CmdBindRsp, nil), nil
}

func (s *SimStack) Unbind(dst Address, ep uint8, cluster ClusterID) (uint8, error) {
	return s.record(dst, ep, ClusterZDO, CmdUnbindRsp, nil), nil
}

func (s *SimStack) OnSendStatus(seq uint8, cb SendStatusHandler) {
	s.mu.Lock()
	s.sendStatusHandlers[seq] = cb
	s.mu.Unlock()
}

func (s *SimStack) OnResponse(cluster ClusterID, cmd uint8, cb ResponseHandler) {
	s.mu.Lock()
	s.responseHandlers[respKey{cluster, cmd}] = cb
	s.mu.Unlock()
}

func (s *SimStack) CancelSendStatus(seq uint8) {
	s.mu.Lock()
	delete(s.sendStatusHandlers, seq)
	s.mu.Unlock()
}

func (s *SimStack) CancelResponse(cluster ClusterID, cmd uint8) {
	s.mu.Lock()
	delete(s.responseHandlers, respKey{cluster, cmd})
	s.mu.Unlock()
}

// FireSendStatus lets a test simulate the radio's send-status callback.
func (s *SimStack) FireSendStatus(seq uint8, ok bool) {
	s.mu.Lock()
	cb, found := s.sendStatusHandlers[seq]
	delete(s.sendStatusHandlers, seq)
	s.mu.Unlock()
	if found && cb != nil {
		cb(ok)
	}
}

// FireResponse lets a test simulate a remote device's ZCL response.
func (s *SimStack) FireResponse(cluster ClusterID, cmd uint8, src Address, payload []byte) {
	s.mu.Lock()
	cb, found := s.responseHandlers[respKey{cluster, cmd}]
	s.mu.Unlock()
	if found && cb != nil {
		cb(src, payload)
	}
}
