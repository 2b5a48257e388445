// Package primitive defines the smallest closed set of operators the
// engine natively executes (§4.1) and the calling conventions user code
// must satisfy to plug into them. Every compound operator the Builder
// exposes (§4.2) lowers to one or more of these during planning (§4.4).
package primitive

import "context"

// OpType names are the canonical string identifiers stored in
// ir.Step.OpType for each native primitive.
const (
	OpInput     = "input"
	OpOutput    = "output"
	OpFlatMap   = "flat_map"
	OpInspect   = "inspect"
	OpKeyAssert = "key_assert"
	OpNoop      = "_noop"
	OpUnary     = "unary"
	OpExchange  = "exchange"
)

// KeyedItem is the (key, value) shape required by every stateful
// primitive (§3). Key's hash and equality are the only properties the
// engine relies on.
type KeyedItem struct {
	Key   string
	Value any
}

// FlatMapFunc is the calling convention for flat_map and inspect-derived
// compounds: given one input item, return zero or more output items, in
// order. Implementations must be side-effect-free with respect to
// ordering — the engine may call this concurrently across different
// keys but never concurrently for the same (step_id, key).
type FlatMapFunc func(item any) []any

// InspectFunc is called for its side effect only; the item passes
// through unchanged regardless of what InspectFunc does.
type InspectFunc func(item any)

// Partitioner computes the target worker index for a keyed item crossing
// an exchange primitive. The default is hash(key) mod worker_count; a
// Partitioner is supplied so tests can pin keys to specific workers.
type Partitioner func(key string, workerCount int) int

// Fate signals whether a UnaryLogic instance survives past the current
// call (§4.1).
type Fate int

const (
	// Retain keeps the per-key UnaryLogic instance alive for future items.
	Retain Fate = iota
	// Discard tells the engine to drop the logic instance for this key
	// once the current call returns; the next item for the key
	// constructs a fresh instance via LogicBuilder.
	Discard
)

// UnaryLogic is the per-key behavior capsule for the sole stateful
// primitive (§4.1, §4.6). The engine constructs one lazily per
// (step_id, key) on first item and holds it until Discard or until the
// key's partition is reassigned.
type UnaryLogic interface {
	// OnItem processes one value for this key, in arrival order. It
	// returns the values to emit downstream and the resulting Fate.
	OnItem(ctx context.Context, now int64, value any) (emit []any, fate Fate, err error)
	// OnNotify is called when a previously requested wakeup (NotifyAt)
	// fires.
	OnNotify(ctx context.Context, now int64) (emit []any, err error)
	// OnEOF is called once when the upstream signals input completion
	// for this key's partition.
	OnEOF(ctx context.Context) (emit []any, err error)
	// NotifyAt returns the next absolute timestamp (engine time units)
	// this logic wants to be woken at, or ok=false for none. The engine
	// registers at most one outstanding wakeup per key.
	NotifyAt() (at int64, ok bool)
	// Snapshot returns an opaque value sufficient to reconstruct this
	// logic's state via its LogicBuilder's restore path. nil means "no
	// state to persist".
	Snapshot() any
}

// LogicBuilder lazily constructs a UnaryLogic for a (step_id, key) pair,
// optionally restoring from a prior Snapshot. resume is nil on first
// construction for a key that was never snapshotted (or never resumed).
type LogicBuilder func(stepID, key string, resume any) UnaryLogic
