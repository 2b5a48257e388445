package flow

// Stream is a handle to a logical edge: the output port that produces it.
// Stream values are opaque to callers beyond being threaded from one
// Builder call into the next; the payload type they carry is untracked by
// the type system (§3 — the engine treats payloads as opaque).
type Stream struct {
	portID string
}

// PortID returns the fully-qualified output port ID this stream
// originates from. Exposed for callers that need to cross-reference a
// Stream against a RenderedDataflow (e.g. tests asserting §8 scenario 7's
// shape).
func (s Stream) PortID() string { return s.portID }
