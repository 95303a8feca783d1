package zb

// SendStatusHandler is invoked once with whether the APS send of the
// frame identified by its sequence number succeeded at the MAC/APS layer.
// It does not mean the remote application responded.
type SendStatusHandler func(ok bool)

// ResponseHandler is invoked with the source address and the ZCL payload
// (frame control through the end of the command, including any
// cluster-specific status/value bytes) of a response matching a
// registered (cluster, command) pair.
type ResponseHandler func(src Address, payload []byte)

// Stack is the subset of Zigbee stack services the bind lifecycle (C7),
// outgoing command engine (C6) and presence fusion (C5) consume. A real
// implementation is supplied by the vendor SDK/radio stack; per spec §1
// that stack is an external collaborator and is never reimplemented here.
// Everything above this interface is exercised against either a real
// adapter or the in-memory SimStack test double below.
type Stack interface {
	// OurIEEE is this node's own 64-bit address, used to recognize
	// coordinator-originated responses per spec §4.6.
	OurIEEE() IEEEAddr

	// SendCommand transmits a ZCL cluster-specific command to dst and
	// returns the APS sequence number used to correlate a later
	// send-status callback.
	SendCommand(dst Address, ep uint8, cluster ClusterID, cmd uint8, payload []byte) (seq uint8, err error)

	// ReadAttribute issues a Read Attributes request for a single
	// attribute.
	ReadAttribute(dst Address, ep uint8, cluster ClusterID, attr AttributeID) (seq uint8, err error)

	// ConfigureReporting issues a send-direction Configure Reporting
	// request for a single attribute.
	ConfigureReporting(dst Address, ep uint8, cluster ClusterID, attr AttributeID, dataType uint8, minSec, maxSec uint16, delta uint32) (seq uint8, err error)

	// ReadReportingConfig issues a Read Reporting Configuration request
	// for a single attribute.
	ReadReportingConfig(dst Address, ep uint8, cluster ClusterID, attr AttributeID) (seq uint8, err error)

	// LocalBindingTable returns this node's own binding table as
	// currently known to its Zigbee stack — a local query, no radio
	// traffic — used to discover binds the coordinator has newly
	// installed or removed (spec §4.8's binding-table re-scan).
	LocalBindingTable() ([]BindEntry, error)

	// MgmtBindRequest asks dst for its binding table starting at
	// startIndex.
	MgmtBindRequest(dst Address, startIndex uint8) (seq uint8, err error)

	// BindToMe asks the trust center to create a bind from (dst, ep,
	// cluster) to this node.
	BindToMe(dst Address, ep uint8, cluster ClusterID) (seq uint8, err error)

	// Unbind asks the trust center to remove the bind.
	Unbind(dst Address, ep uint8, cluster ClusterID) (seq uint8, err error)

	// OnSendStatus registers a one-shot handler for the send-status of
	// seq; OnResponse registers a persistent handler for any response
	// frame matching (cluster, cmd). Cancel* removes a registration
	// before it fires — safe to call on an already-fired or never
	// registered key.
	OnSendStatus(seq uint8, cb SendStatusHandler)
	OnResponse(cluster ClusterID, cmd uint8, cb ResponseHandler)
	CancelSendStatus(seq uint8)
	CancelResponse(cluster ClusterID, cmd uint8)
}

// AttributeSink is the local attribute store the node's own clusters are
// backed by — what a coordinator's Read Attributes/report subscription
// actually observes. Kept separate from Stack because, unlike Stack's
// outbound client operations, this is server-side state this node owns
// and must push reports for on change.
type AttributeSink interface {
	// Set stores value for (ep, cluster, attr) and, if shouldReport is
	// true and the value changed, emits an attribute report to any bound
	// client.
	Set(ep uint8, cluster ClusterID, attr AttributeID, dataType uint8, value []byte, shouldReport bool)
}
