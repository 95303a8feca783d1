package zb

import "sync"

// Descriptor is one row of the endpoint/cluster/attribute table the node
// exposes, replacing the source's static-polymorphism attribute/command
// dispatch (types encoding endpoint/cluster/attribute ids) with a plain
// data table, per spec §9's REDESIGN FLAGS.
type Descriptor struct {
	EP         uint8
	Cluster    ClusterID
	Attr       AttributeID
	DataType   uint8
	Reportable bool
}

type attrKey struct {
	ep      uint8
	cluster ClusterID
	attr    AttributeID
}

// Store is the node's own server-side attribute state — what a bound
// coordinator's Read Attributes request or an active reporting
// subscription observes. The underlying radio stack is responsible for
// actually emitting wire-level attribute reports once ConfigureReporting
// has been accepted (spec §4.7); Store's job is only to hold the value
// and tell a caller whether this Set changed it, under the same API-lock
// discipline spec §5 describes for real attribute mutation.
type Store struct {
	mu          sync.Mutex
	values      map[attrKey][]byte
	descriptors []Descriptor
	onChange    func(Descriptor, []byte)
}

// NewStore creates a Store that calls onChange (if non-nil) whenever Set
// observes a new value for a Reportable descriptor.
func NewStore(descriptors []Descriptor, onChange func(Descriptor, []byte)) *Store {
	return &Store{
		values:      make(map[attrKey][]byte),
		descriptors: descriptors,
		onChange:    onChange,
	}
}

func (s *Store) find(ep uint8, cluster ClusterID, attr AttributeID) (Descriptor, bool) {
	for _, d := range s.descriptors {
		if d.EP == ep && d.Cluster == cluster && d.Attr == attr {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Set implements AttributeSink.
func (s *Store) Set(ep uint8, cluster ClusterID, attr AttributeID, dataType uint8, value []byte, shouldReport bool) {
	s.mu.Lock()
	k := attrKey{ep, cluster, attr}
	changed := !bytesEqual(s.values[k], value)
	s.values[k] = append([]byte(nil), value...)
	desc, known := s.find(ep, cluster, attr)
	cb := s.onChange
	s.mu.Unlock()

	if changed && shouldReport && known && desc.Reportable && cb != nil {
		cb(desc, value)
	}
}

// Get returns the last value stored for (ep, cluster, attr), or nil if
// never set.
func (s *Store) Get(ep uint8, cluster ClusterID, attr AttributeID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[attrKey{ep, cluster, attr}]
}

// ReadAttributesResponse builds the Read Attributes Response payload for
// the requested attribute ids against this store's current values, for
// use by a local ZCL dispatch adapter answering an incoming read.
func (s *Store) ReadAttributesResponse(ep uint8, cluster ClusterID, attrs []AttributeID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, 0, len(attrs)*4)
	for _, a := range attrs {
		out = appendU16(out, uint16(a))
		desc, known := s.find(ep, cluster, a)
		v, has := s.values[attrKey{ep, cluster, a}]
		if !known || !has {
			out = append(out, 0x86) // UNSUPPORTED_ATTRIBUTE
			continue
		}
		out = append(out, 0x00)
		out = append(out, desc.DataType)
		out = append(out, v...)
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
