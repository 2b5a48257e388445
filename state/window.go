package state

import (
	"context"
	"sort"

	"github.com/flowcore-dev/flowcore/primitive"
)

// Window identifies a half-open time range [Start, End) assigned to one
// or more items for a key (§4.6).
type Window struct {
	Start, End int64
}

// WindowMeta accompanies a finalized window's reduced value in the
// emitted (key, (meta, value)) tuple (§4.6 "Firing").
type WindowMeta struct {
	Start, End int64
}

// WindowResult is the value half of a finalized window's emission:
// (window_metadata, value) in spec terms.
type WindowResult struct {
	Meta  WindowMeta
	Value any
}

// WindowSnapshot is the serializable form of one open window, used by
// windowLogic.Snapshot/restore across a recovery resume (§4.7, §8
// "Snapshot round-trip").
type WindowSnapshot struct {
	Start, End int64
	Acc        any
	HasAcc     bool
}

// Clock determines the timestamp assigned to an item for windowing
// purposes and the grace period past which late items are dropped.
type Clock interface {
	Timestamp(now int64, value any) int64
	Grace() int64
}

type systemClock struct{}

func (systemClock) Timestamp(now int64, _ any) int64 { return now }
func (systemClock) Grace() int64                     { return 0 }

// SystemClock uses the wall-clock time of arrival for every item.
func SystemClock() Clock { return systemClock{} }

type eventClock struct {
	timestampFn func(value any) int64
	grace       int64
}

func (c eventClock) Timestamp(_ int64, value any) int64 { return c.timestampFn(value) }
func (c eventClock) Grace() int64                       { return c.grace }

// EventClock uses the item-embedded timestamp returned by timestampFn,
// with waitForLate as the grace period (§4.6). Items whose window would
// already have closed by more than the grace period are dropped and
// counted as late (§9 Open Questions: drop-and-count, not re-emit).
// timestampFn is expected to return milliseconds since epoch, the same
// unit engine.Clock advances in, so a window's close time is directly
// comparable to the engine's notion of "now" when firing (§4.7).
func EventClock(timestampFn func(value any) int64, waitForLate int64) Clock {
	return eventClock{timestampFn: timestampFn, grace: waitForLate}
}

// Assigner computes the fixed windows a timestamp belongs to. Session is
// handled separately by windowLogic because merging depends on the set
// of windows already open for the key, not a pure function of ts.
type Assigner interface {
	assign(ts int64) []Window
	isSession() bool
	sessionGap() int64
}

type tumblingAssigner struct{ length, alignTo int64 }

func (t tumblingAssigner) assign(ts int64) []Window {
	start := t.alignTo + floorDiv(ts-t.alignTo, t.length)*t.length
	return []Window{{Start: start, End: start + t.length}}
}
func (tumblingAssigner) isSession() bool  { return false }
func (tumblingAssigner) sessionGap() int64 { return 0 }

// Tumbling assigns each item to exactly one fixed-length, non-overlapping
// window aligned to alignTo.
func Tumbling(length, alignTo int64) Assigner {
	return tumblingAssigner{length: length, alignTo: alignTo}
}

type slidingAssigner struct{ length, offset, alignTo int64 }

func (s slidingAssigner) assign(ts int64) []Window {
	firstStart := s.alignTo + floorDiv(ts-s.alignTo, s.offset)*s.offset
	var windows []Window
	for start := firstStart; start > ts-s.length; start -= s.offset {
		if ts >= start && ts < start+s.length {
			windows = append(windows, Window{Start: start, End: start + s.length})
		}
	}
	return windows
}
func (slidingAssigner) isSession() bool   { return false }
func (slidingAssigner) sessionGap() int64 { return 0 }

// Sliding assigns each item to every overlapping window of the given
// length, stepped by offset and aligned to alignTo.
func Sliding(length, offset, alignTo int64) Assigner {
	return slidingAssigner{length: length, offset: offset, alignTo: alignTo}
}

type sessionAssigner struct{ gap int64 }

func (sessionAssigner) assign(int64) []Window  { return nil }
func (sessionAssigner) isSession() bool        { return true }
func (s sessionAssigner) sessionGap() int64    { return s.gap }

// Session opens a new window on the first item for a key and extends it
// on every subsequent item arriving within gap of the window's current
// bounds; two windows bridged by a new item are merged (§4.6).
func Session(gap int64) Assigner { return sessionAssigner{gap: gap} }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ReduceFunc combines an existing accumulator with a new value. The
// first item in a window is used as the initial accumulator directly
// (no zero-value seed is assumed, since the accumulator's type is
// opaque).
type ReduceFunc func(acc, value any) any

type openWindow struct {
	win    Window
	acc    any
	hasAcc bool
}

// windowLogic is the primitive.UnaryLogic implementation reduce_window
// lowers to (§4.4 expansion table). One instance exists per key.
type windowLogic struct {
	key      string
	clock    Clock
	assigner Assigner
	reduce   ReduceFunc
	open     []*openWindow
}

// NewReduceWindowLogicBuilder returns the primitive.LogicBuilder the
// planner attaches to the unary primitive reduce_window lowers to.
func NewReduceWindowLogicBuilder(clock Clock, assigner Assigner, reduce ReduceFunc) primitive.LogicBuilder {
	return func(_ /*stepID*/, key string, resume any) primitive.UnaryLogic {
		l := &windowLogic{key: key, clock: clock, assigner: assigner, reduce: reduce}
		if snaps, ok := resume.([]WindowSnapshot); ok {
			for _, s := range snaps {
				l.open = append(l.open, &openWindow{win: Window{Start: s.Start, End: s.End}, acc: s.Acc, hasAcc: s.HasAcc})
			}
		}
		return l
	}
}

func (l *windowLogic) accumulate(w Window, value any) {
	for _, ow := range l.open {
		if ow.win == w {
			ow.acc = l.combine(ow, value)
			ow.hasAcc = true
			return
		}
	}
	l.open = append(l.open, &openWindow{win: w, acc: value, hasAcc: true})
}

func (l *windowLogic) combine(ow *openWindow, value any) any {
	if !ow.hasAcc {
		return value
	}
	return l.reduce(ow.acc, value)
}

func (l *windowLogic) isLate(closeAt, now int64) bool {
	return closeAt+l.clock.Grace() < now
}

// OnItem implements primitive.UnaryLogic. reduce_window never emits on
// item arrival; emission happens on window close (OnNotify/OnEOF).
func (l *windowLogic) OnItem(ctx context.Context, now int64, value any) ([]any, primitive.Fate, error) {
	ts := l.clock.Timestamp(now, value)
	if l.assigner.isSession() {
		gap := l.assigner.sessionGap()
		var matched []*openWindow
		var rest []*openWindow
		for _, ow := range l.open {
			if ts >= ow.win.Start-gap && ts <= ow.win.End+gap {
				matched = append(matched, ow)
			} else {
				rest = append(rest, ow)
			}
		}
		if len(matched) == 0 {
			if l.isLate(ts, now) {
				return nil, primitive.Retain, nil
			}
			rest = append(rest, &openWindow{win: Window{Start: ts, End: ts}, acc: value, hasAcc: true})
			l.open = rest
			return nil, primitive.Retain, nil
		}
		start, end := ts, ts
		acc := value
		hasAcc := true
		for _, ow := range matched {
			if ow.win.Start < start {
				start = ow.win.Start
			}
			if ow.win.End > end {
				end = ow.win.End
			}
			if ow.hasAcc {
				if hasAcc {
					acc = l.reduce(acc, ow.acc)
				} else {
					acc = ow.acc
					hasAcc = true
				}
			}
		}
		rest = append(rest, &openWindow{win: Window{Start: start, End: end}, acc: acc, hasAcc: hasAcc})
		l.open = rest
		return nil, primitive.Retain, nil
	}

	for _, w := range l.assigner.assign(ts) {
		if l.isLate(w.End, now) {
			continue
		}
		l.accumulate(w, value)
	}
	return nil, primitive.Retain, nil
}

// OnNotify implements primitive.UnaryLogic, firing every window whose
// close time plus grace has passed.
func (l *windowLogic) OnNotify(ctx context.Context, now int64) ([]any, error) {
	return l.fire(func(closeAt int64) bool { return closeAt+l.clock.Grace() <= now }), nil
}

// OnEOF implements primitive.UnaryLogic, flushing every still-open window
// immediately regardless of close time.
func (l *windowLogic) OnEOF(ctx context.Context) ([]any, error) {
	return l.fire(func(int64) bool { return true }), nil
}

func (l *windowLogic) fire(shouldFire func(closeAt int64) bool) []any {
	var fired []*openWindow
	var remaining []*openWindow
	for _, ow := range l.open {
		if shouldFire(ow.win.End) {
			fired = append(fired, ow)
		} else {
			remaining = append(remaining, ow)
		}
	}
	l.open = remaining
	sort.Slice(fired, func(i, j int) bool { return fired[i].win.Start < fired[j].win.Start })
	emit := make([]any, 0, len(fired))
	for _, ow := range fired {
		emit = append(emit, primitive.KeyedItem{
			Key:   l.key,
			Value: WindowResult{Meta: WindowMeta{Start: ow.win.Start, End: ow.win.End}, Value: ow.acc},
		})
	}
	return emit
}

// NotifyAt implements primitive.UnaryLogic, requesting a wakeup at the
// earliest open window's close time (plus grace).
func (l *windowLogic) NotifyAt() (int64, bool) {
	if len(l.open) == 0 {
		return 0, false
	}
	min := l.open[0].win.End + l.clock.Grace()
	for _, ow := range l.open[1:] {
		if c := ow.win.End + l.clock.Grace(); c < min {
			min = c
		}
	}
	return min, true
}

// Snapshot implements primitive.UnaryLogic.
func (l *windowLogic) Snapshot() any {
	out := make([]WindowSnapshot, 0, len(l.open))
	for _, ow := range l.open {
		out = append(out, WindowSnapshot{Start: ow.win.Start, End: ow.win.End, Acc: ow.acc, HasAcc: ow.hasAcc})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
