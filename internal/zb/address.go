// Package zb models the thin slice of Zigbee services the presence node's
// core subsystems (C5-C8) consume: addressing, ZCL/ZDO frame shapes, and a
// Stack interface through which commands are sent and responses observed.
// The stack itself — cluster/attribute registration, ZCL dispatch, the
// radio and network layers — is an external collaborator per spec §1 and
// is never reimplemented here; grounded on the same seam the teacher draws
// between pkg/zigbee (wire-level) and pkg/device.Controller (the
// interface callers actually program against).
package zb

import "fmt"

// ShortAddr is a Zigbee 16-bit network address.
type ShortAddr uint16

// CoordinatorShortAddr is the network address reserved for the trust
// center / coordinator.
const CoordinatorShortAddr ShortAddr = 0x0000

// IEEEAddr is a 64-bit IEEE (EUI-64) address.
type IEEEAddr uint64

func (a IEEEAddr) String() string {
	return fmt.Sprintf("%016x", uint64(a))
}

// Address pairs the two addressing schemes a single device is known by.
type Address struct {
	Short ShortAddr
	IEEE  IEEEAddr
}

// IsCoordinator reports whether addr refers to the coordinator, either by
// the reserved short address or by matching our own IEEE — both
// representations are live on the wire per spec §4.6, so both are
// checked rather than normalizing to one.
func IsCoordinator(addr Address, ourIEEE IEEEAddr) bool {
	return addr.Short == CoordinatorShortAddr || addr.IEEE == ourIEEE
}
