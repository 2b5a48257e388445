package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore-dev/flowcore/engine"
	"github.com/flowcore-dev/flowcore/flow"
	"github.com/flowcore-dev/flowcore/flowerr"
	"github.com/flowcore-dev/flowcore/plan"
	"github.com/flowcore-dev/flowcore/primitive"
	sinktesting "github.com/flowcore-dev/flowcore/sink/testing"
	sourcetesting "github.com/flowcore-dev/flowcore/source/testing"
	"github.com/flowcore-dev/flowcore/state"
)

// TestBasicPipeline is §8 scenario 1, grounded on
// original_source/examples/basic.py ("the dance example").
func TestBasicPipeline(t *testing.T) {
	src := sourcetesting.New(intItems(0, 10))
	out := sinktesting.New()

	b, err := flow.New("basic")
	require.NoError(t, err)
	inp, err := b.Input("inp", src)
	require.NoError(t, err)
	evens, odds, err := b.Branch("e_o", inp, func(v any) bool { return v.(int)%2 == 0 })
	require.NoError(t, err)
	evens, err = b.Map("halve", evens, func(v any) any { return v.(int) / 2 })
	require.NoError(t, err)
	odds, err = b.Map("double", odds, func(v any) any { return v.(int) * 2 })
	require.NoError(t, err)
	combo, err := b.Merge("merge", evens, odds)
	require.NoError(t, err)
	combo, err = b.Map("minus_one", combo, func(v any) any { return v.(int) - 1 })
	require.NoError(t, err)
	combo, err = b.Map("stringy", combo, func(v any) any { return fmt.Sprintf("<dance>%d</dance>", v.(int)) })
	require.NoError(t, err)
	require.NoError(t, b.Output("out", combo, out))

	p, err := plan.Build(b.Dataflow())
	require.NoError(t, err)

	require.NoError(t, engine.Run(context.Background(), p, engine.Options{WorkerCount: 1}))

	expect := []string{
		"<dance>-1</dance>", "<dance>0</dance>", "<dance>1</dance>", "<dance>2</dance>",
		"<dance>3</dance>", "<dance>5</dance>", "<dance>7</dance>", "<dance>9</dance>",
		"<dance>11</dance>", "<dance>13</dance>",
	}
	assert.ElementsMatch(t, expect, toStrings(out.Items()))
}

// TestStatefulMap_RunningMean is §8 scenario 2, grounded on
// original_source/pytests/operators/test_stateful_map.py.
func TestStatefulMap_RunningMean(t *testing.T) {
	src := sourcetesting.New(intItems2(2, 5, 8, 1, 3))
	out := sinktesting.New()

	b, err := flow.New("test_df")
	require.NoError(t, err)
	inp, err := b.Input("inp", src)
	require.NoError(t, err)
	keyed, err := b.KeyOn("key", inp, func(any) string { return "ALL" })
	require.NoError(t, err)
	mapped, err := b.StatefulMap("running_mean", keyed,
		func() any { return []int{} },
		func(s, v any) (any, any) {
			last3 := append(s.([]int), v.(primitive.KeyedItem).Value.(int))
			if len(last3) > 3 {
				last3 = last3[:len(last3)-3]
			}
			sum := 0
			for _, x := range last3 {
				sum += x
			}
			avg := float64(sum) / float64(len(last3))
			return last3, primitive.KeyedItem{Key: v.(primitive.KeyedItem).Key, Value: avg}
		})
	require.NoError(t, err)
	require.NoError(t, b.Output("out", mapped, out))

	p, err := plan.Build(b.Dataflow())
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background(), p, engine.Options{WorkerCount: 1}))

	expect := []float64{2.0, 3.5, 5.0, 2.0, 2.5}
	var got []float64
	for _, item := range out.Items() {
		got = append(got, item.(primitive.KeyedItem).Value.(float64))
	}
	assert.Equal(t, expect, got)
}

// TestReduceWindow_TumblingThenMax is §8 scenario 6.
func TestReduceWindow_TumblingThenMax(t *testing.T) {
	type event struct {
		key string
		ts  int64
		val int
	}
	events := []event{
		{"A", 0, 1}, {"A", 100, 1}, {"B", 200, 1}, {"A", 300, 1}, {"B", 400, 1}, {"B", 1900, 1},
	}
	items := make([]any, len(events))
	for i, e := range events {
		items[i] = e
	}
	src := sourcetesting.New(items)
	out := sinktesting.New()

	b, err := flow.New("windowed")
	require.NoError(t, err)
	inp, err := b.Input("inp", src)
	require.NoError(t, err)
	keyed, err := b.KeyOn("key", inp, func(v any) string { return v.(event).key })
	require.NoError(t, err)
	extractVal := func(x any) int {
		if e, ok := x.(event); ok {
			return e.val
		}
		return x.(int)
	}
	windowed, err := b.ReduceWindow("tumble", keyed,
		state.EventClock(func(v any) int64 { return v.(event).ts }, 0),
		state.Tumbling(2000, 0),
		func(acc, v any) any { return extractVal(acc) + extractVal(v) })
	require.NoError(t, err)
	require.NoError(t, b.Output("out", windowed, out))

	p, err := plan.Build(b.Dataflow())
	require.NoError(t, err)
	// The engine clock is pinned to the windows' epoch: the event
	// timestamps above are milliseconds from 0, and a window closing
	// before the engine's now is dropped as late.
	require.NoError(t, engine.Run(context.Background(), p, engine.Options{WorkerCount: 1, Clock: func() int64 { return 0 }}))

	byKey := map[string]int{}
	for _, item := range out.Items() {
		ki := item.(primitive.KeyedItem)
		wr := ki.Value.(state.WindowResult)
		byKey[ki.Key] = wr.Value.(int)
	}
	assert.Equal(t, 3, byKey["A"])
	assert.Equal(t, 3, byKey["B"])
}

// TestKeyAssert_NonKeyedItemFailsRunFast is §8 scenario 5 ("shape
// check"), adapted to Go: a builder call whose input isn't yet
// primitive.KeyedItem-shaped fails the run fast with a RuntimeTypeError
// rather than the Python original's TypeError, since Go's own type
// system already rejects a non-2-tuple stateful_map mapper at compile
// time (see flow.StatefulMapFunc's doc comment).
func TestKeyAssert_NonKeyedItemFailsRunFast(t *testing.T) {
	src := sourcetesting.New(intItems(0, 3))
	out := sinktesting.New()

	b, err := flow.New("shape_check")
	require.NoError(t, err)
	inp, err := b.Input("inp", src)
	require.NoError(t, err)
	asserted, err := b.KeyAssert("assert_keyed", inp)
	require.NoError(t, err)
	require.NoError(t, b.Output("out", asserted, out))

	p, err := plan.Build(b.Dataflow())
	require.NoError(t, err)

	err = engine.Run(context.Background(), p, engine.Options{WorkerCount: 1})
	require.Error(t, err)
	var rte *flowerr.RuntimeTypeError
	require.True(t, errors.As(err, &rte))
	assert.Equal(t, "primitive.KeyedItem", rte.Want)
}

func intItems(start, end int) []any {
	out := make([]any, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

func intItems2(vs ...int) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func toStrings(items []any) []string {
	out := make([]string, len(items))
	for i, v := range items {
		out[i] = v.(string)
	}
	return out
}
