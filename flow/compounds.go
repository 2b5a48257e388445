package flow

import (
	"context"
	"strconv"

	"github.com/flowcore-dev/flowcore/flow/ir"
	"github.com/flowcore-dev/flowcore/flowerr"
	"github.com/flowcore-dev/flowcore/primitive"
	"github.com/flowcore-dev/flowcore/state"
)

// MapFunc transforms one value into another.
type MapFunc func(value any) any

// PredFunc tests one value.
type PredFunc func(value any) bool

// FilterMapFunc transforms and optionally drops a value; ok=false drops it.
type FilterMapFunc func(value any) (out any, ok bool)

// KeyFunc derives the partition key for a value.
type KeyFunc func(value any) string

// ValueFunc transforms the value half of a primitive.KeyedItem.
type ValueFunc func(value any) any

// FlatValueFunc transforms the value half of a primitive.KeyedItem into
// zero or more output values.
type FlatValueFunc func(value any) []any

// StatefulMapFunc is the mapper passed to StatefulMap: given the current
// state (the BuildStateFunc result on the first call for a key, or nil
// when no BuildStateFunc is given) and the item as a primitive.KeyedItem
// carrying the key and value, it returns the new state and the emission,
// which is sent downstream as returned. Go's type system enforces the
// 2-tuple shape structurally, so the §7/§8 "must be a 2-tuple" TypeError
// of the Python-derived original has no runtime analogue here; the
// engine's runtime shape check is the KeyAssert RuntimeTypeError (see
// TestKeyAssert_NonKeyedItemFailsRunFast in engine/engine_test.go).
type StatefulMapFunc func(state any, value any) (newState any, emission any)

// StatefulFlatMapFunc is the mapper passed to StatefulFlatMap. Unlike
// StatefulMapFunc it receives the item's value alone (not the
// primitive.KeyedItem), and it may emit zero or more values.
type StatefulFlatMapFunc func(state any, value any) (newState any, emissions []any)

// BuildStateFunc constructs the zero state for a key the first time it is
// seen.
type BuildStateFunc func() any

// Map lowers to flat_map(λ x → [fn(x)]) (§4.4).
func (b *Builder) Map(name string, up Stream, fn MapFunc) (Stream, error) {
	step, err := b.openCompound(name, "map", up)
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	inner, err := b.FlatMap("flat_map", innerUp(step), func(item any) []any { return []any{fn(item)} })
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", inner), nil
}

// Filter lowers to flat_map(λ x → [x] if pred(x) else []) (§4.4).
func (b *Builder) Filter(name string, up Stream, pred PredFunc) (Stream, error) {
	step, err := b.openCompound(name, "filter", up)
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	inner, err := b.FlatMap("flat_map", innerUp(step), func(item any) []any {
		if pred(item) {
			return []any{item}
		}
		return nil
	})
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", inner), nil
}

// FilterMap lowers to flat_map(λ x → [fn(x)] if fn(x) is not None else []) (§4.4).
func (b *Builder) FilterMap(name string, up Stream, fn FilterMapFunc) (Stream, error) {
	step, err := b.openCompound(name, "filter_map", up)
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	inner, err := b.FlatMap("flat_map", innerUp(step), func(item any) []any {
		if out, ok := fn(item); ok {
			return []any{out}
		}
		return nil
	})
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", inner), nil
}

// Branch emits two streams: the true-branch and the false-branch, each a
// flat_map gated by pred (§4.4).
func (b *Builder) Branch(name string, up Stream, pred PredFunc) (trueStream, falseStream Stream, err error) {
	step, err := b.openCompound(name, "branch", up)
	if err != nil {
		return Stream{}, Stream{}, err
	}
	defer b.closeCompound()
	trueInner, err := b.FlatMap("true_flat_map", innerUp(step), func(item any) []any {
		if pred(item) {
			return []any{item}
		}
		return nil
	})
	if err != nil {
		return Stream{}, Stream{}, err
	}
	falseInner, err := b.FlatMap("false_flat_map", innerUp(step), func(item any) []any {
		if !pred(item) {
			return []any{item}
		}
		return nil
	})
	if err != nil {
		return Stream{}, Stream{}, err
	}
	return b.exposeOutput(step, "true", trueInner), b.exposeOutput(step, "false", falseInner), nil
}

// Merge collates the given streams into one via a _noop primitive (§4.4).
// MergeAll is an alias accepting a slice for variable-arity call sites.
func (b *Builder) Merge(name string, streams ...Stream) (Stream, error) {
	return b.MergeAll(name, streams)
}

// MergeAll collates N streams into one input port on a _noop primitive;
// ordering across inputs is non-deterministic at run time (§4.5).
func (b *Builder) MergeAll(name string, streams []Stream) (Stream, error) {
	if len(streams) == 0 {
		return Stream{}, &flowerr.ConstructionError{ParentPath: b.df.Arena.Step(b.current()).StepID, Reason: "merge requires at least one upstream"}
	}
	step, err := b.openCompound(name, "merge_all", streams[0])
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	up := step.Port("up", ir.Input)
	for _, s := range streams[1:] {
		producer := b.df.Arena.StepOf(s.portID)
		if producer == nil {
			return Stream{}, &flowerr.ConstructionError{ParentPath: step.StepID, Reason: "unknown upstream port in merge"}
		}
		if err := b.checkScoping(producer.ID, step.Parent, s.portID, up.PortID); err != nil {
			return Stream{}, err
		}
		up.FromPortIDs = append(up.FromPortIDs, s.portID)
	}
	inner, err := b.Noop("noop", innerUp(step))
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", inner), nil
}

// KeyOn lowers to map(λ x → (fn(x), x)) then key_assert (§4.4).
func (b *Builder) KeyOn(name string, up Stream, fn KeyFunc) (Stream, error) {
	step, err := b.openCompound(name, "key_on", up)
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	mapped, err := b.FlatMap("flat_map", innerUp(step), func(item any) []any {
		return []any{primitive.KeyedItem{Key: fn(item), Value: item}}
	})
	if err != nil {
		return Stream{}, err
	}
	asserted, err := b.KeyAssert("key_assert", mapped)
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", asserted), nil
}

// MapValue lowers to flat_map_value(λ v → [fn(v)]) (§4.4), which is
// itself flat_map over the KeyedItem's value, then key_assert.
func (b *Builder) MapValue(name string, up Stream, fn ValueFunc) (Stream, error) {
	return b.FlatMapValue(name, up, func(v any) []any { return []any{fn(v)} })
}

// FlatMapValue lowers to flat_map(λ (k,v) → [(k, v′) for v′ in fn(v)])
// then key_assert (§4.4).
func (b *Builder) FlatMapValue(name string, up Stream, fn FlatValueFunc) (Stream, error) {
	step, err := b.openCompound(name, "flat_map_value", up)
	if err != nil {
		return Stream{}, err
	}
	defer b.closeCompound()
	mapped, err := b.FlatMap("flat_map", innerUp(step), func(item any) []any {
		ki, ok := item.(primitive.KeyedItem)
		if !ok {
			return []any{item} // key_assert downstream reports the shape violation
		}
		outs := fn(ki.Value)
		result := make([]any, len(outs))
		for i, v := range outs {
			result[i] = primitive.KeyedItem{Key: ki.Key, Value: v}
		}
		return result
	})
	if err != nil {
		return Stream{}, err
	}
	asserted, err := b.KeyAssert("key_assert", mapped)
	if err != nil {
		return Stream{}, err
	}
	return b.exposeOutput(step, "down", asserted), nil
}

// KeySplit lowers to one key_on followed by N map_value branches, one per
// valFn, in the order given (§4.4).
func (b *Builder) KeySplit(name string, up Stream, keyFn KeyFunc, valFns ...ValueFunc) ([]Stream, error) {
	step, err := b.openCompound(name, "key_split", up)
	if err != nil {
		return nil, err
	}
	defer b.closeCompound()
	keyed, err := b.KeyOn("key_on", innerUp(step), keyFn)
	if err != nil {
		return nil, err
	}
	streams := make([]Stream, len(valFns))
	for i, fn := range valFns {
		branch, err := b.MapValue(branchName(i), keyed, fn)
		if err != nil {
			return nil, err
		}
		streams[i] = b.exposeOutput(step, branchPort(i), branch)
	}
	return streams, nil
}

func branchName(i int) string { return "branch_" + strconv.Itoa(i) }
func branchPort(i int) string { return "branch_" + strconv.Itoa(i) }

// StatefulMap lowers to unary with a logic wrapping mapper (§4.4). mapper
// must return (nil, _) to signal discard. buildState constructs the
// initial state the first time a key is seen.
func (b *Builder) StatefulMap(name string, up Stream, buildState BuildStateFunc, mapper StatefulMapFunc) (Stream, error) {
	build := func(stepID, key string, resume any) primitive.UnaryLogic {
		initial := resume
		if initial == nil && buildState != nil {
			initial = buildState()
		}
		return &statefulMapLogic{key: key, state: initial, mapper: mapper}
	}
	return b.Unary(name, up, build)
}

// StatefulFlatMap lowers to unary with a logic emitting N values (§4.4).
func (b *Builder) StatefulFlatMap(name string, up Stream, buildState BuildStateFunc, mapper StatefulFlatMapFunc) (Stream, error) {
	build := func(stepID, key string, resume any) primitive.UnaryLogic {
		initial := resume
		if initial == nil && buildState != nil {
			initial = buildState()
		}
		return &statefulFlatMapLogic{state: initial, mapper: mapper}
	}
	return b.Unary(name, up, build)
}

// ReduceWindow lowers to unary with window-aware logic (§4.4, §4.6).
func (b *Builder) ReduceWindow(name string, up Stream, clock state.Clock, assigner state.Assigner, reduce state.ReduceFunc) (Stream, error) {
	return b.Unary(name, up, state.NewReduceWindowLogicBuilder(clock, assigner, reduce))
}

// statefulMapLogic wraps a StatefulMapFunc as a primitive.UnaryLogic.
type statefulMapLogic struct {
	key    string
	state  any
	mapper StatefulMapFunc
}

func (l *statefulMapLogic) OnItem(ctx context.Context, now int64, value any) ([]any, primitive.Fate, error) {
	newState, emission := l.mapper(l.state, primitive.KeyedItem{Key: l.key, Value: value})
	l.state = newState
	if newState == nil {
		return []any{emission}, primitive.Discard, nil
	}
	return []any{emission}, primitive.Retain, nil
}

func (l *statefulMapLogic) OnNotify(context.Context, int64) ([]any, error) { return nil, nil }
func (l *statefulMapLogic) OnEOF(context.Context) ([]any, error)          { return nil, nil }
func (l *statefulMapLogic) NotifyAt() (int64, bool)                       { return 0, false }
func (l *statefulMapLogic) Snapshot() any                                 { return l.state }

// statefulFlatMapLogic wraps a StatefulFlatMapFunc as a primitive.UnaryLogic.
type statefulFlatMapLogic struct {
	state  any
	mapper StatefulFlatMapFunc
}

func (l *statefulFlatMapLogic) OnItem(ctx context.Context, now int64, value any) ([]any, primitive.Fate, error) {
	newState, emissions := l.mapper(l.state, value)
	l.state = newState
	if newState == nil {
		return emissions, primitive.Discard, nil
	}
	return emissions, primitive.Retain, nil
}

func (l *statefulFlatMapLogic) OnNotify(context.Context, int64) ([]any, error) { return nil, nil }
func (l *statefulFlatMapLogic) OnEOF(context.Context) ([]any, error)          { return nil, nil }
func (l *statefulFlatMapLogic) NotifyAt() (int64, bool)                       { return 0, false }
func (l *statefulFlatMapLogic) Snapshot() any                                 { return l.state }
