package zb

import "encoding/binary"

// ClusterZDO is a pseudo-cluster id used to key ZDO response handlers
// through the same (cluster, cmd) -> ResponseHandler registry ZCL
// responses use, since ZDO frames carry their own cluster id space on
// the wire but this node never needs to distinguish the two registries.
const ClusterZDO ClusterID = 0xFFFF

// ZDO response command ids, as keyed through Stack.OnResponse.
const (
	CmdMgmtBindRsp uint8 = 0x00
	CmdBindRsp     uint8 = 0x01
	CmdUnbindRsp   uint8 = 0x02
)

// BindEntry is one row of a remote device's binding table, as returned by
// Mgmt_Bind_rsp.
type BindEntry struct {
	SrcIEEE     IEEEAddr
	SrcEndpoint uint8
	Cluster     ClusterID
	DstIEEE     IEEEAddr
	DstEndpoint uint8
}

// ParseMgmtBindResponse decodes a Mgmt_Bind_rsp payload (status, total
// entries, start index, entry count, entries...) into BindEntry rows.
// Unknown/short entries are skipped rather than aborting the whole parse,
// since a single malformed row should not hide the rest of the table.
func ParseMgmtBindResponse(payload []byte) (entries []BindEntry, status uint8) {
	if len(payload) < 4 {
		return nil, 0xFF
	}
	status = payload[0]
	if status != 0 {
		return nil, status
	}
	count := int(payload[3])
	off := 4
	for i := 0; i < count; i++ {
		if off+21 > len(payload) {
			break
		}
		src := IEEEAddr(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += 8
		srcEP := payload[off]
		off++
		cluster := ClusterID(binary.LittleEndian.Uint16(payload[off : off+2]))
		off += 2
		dstAddrMode := payload[off]
		off++
		var dst IEEEAddr
		var dstEP uint8
		if dstAddrMode == 0x03 { // extended (IEEE) addressing, the only mode this device uses
			dst = IEEEAddr(binary.LittleEndian.Uint64(payload[off : off+8]))
			off += 8
			dstEP = payload[off]
			off++
		} else {
			off += 2 // group address, no endpoint
		}
		entries = append(entries, BindEntry{SrcIEEE: src, SrcEndpoint: srcEP, Cluster: cluster, DstIEEE: dst, DstEndpoint: dstEP})
	}
	return entries, status
}

// HasBindTo reports whether entries already contains a bind of cluster
// pointed at (dstIEEE, dstEP) — used by the VerifyBinds step to decide
// whether a fresh Bind-to-me request is still needed.
func HasBindTo(entries []BindEntry, cluster ClusterID, dstIEEE IEEEAddr, dstEP uint8) bool {
	for _, e := range entries {
		if e.Cluster == cluster && e.DstIEEE == dstIEEE && e.DstEndpoint == dstEP {
			return true
		}
	}
	return false
}
