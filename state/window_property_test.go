package state_test

import (
	"context"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/flowcore-dev/flowcore/primitive"
	"github.com/flowcore-dev/flowcore/state"
)

func sumReduce(acc, value any) any { return acc.(int) + value.(int) }

func fireAll(t *testing.T, logic primitive.UnaryLogic) []int {
	t.Helper()
	emitted, err := logic.OnEOF(context.Background())
	if err != nil {
		t.Fatalf("OnEOF: %v", err)
	}
	out := make([]int, 0, len(emitted))
	for _, e := range emitted {
		ki := e.(primitive.KeyedItem)
		wr := ki.Value.(state.WindowResult)
		out = append(out, wr.Value.(int))
	}
	sort.Ints(out)
	return out
}

// TestWindowSnapshot_RoundTrip is the §8 "Snapshot round-trip" property:
// restoring a windowLogic from a Snapshot taken mid-stream and feeding it
// the remaining items yields the same finalized window values as feeding
// every item to one continuous instance.
func TestWindowSnapshot_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("restore(snapshot(s)) observationally equals s", prop.ForAll(
		func(values []int, splitAt int) bool {
			build := state.NewReduceWindowLogicBuilder(state.SystemClock(), state.Tumbling(100, 0), sumReduce)

			baseline := build("step", "k", nil)
			for _, v := range values {
				if _, _, err := baseline.OnItem(context.Background(), 0, v); err != nil {
					return false
				}
			}
			want := fireAll(t, baseline)

			if splitAt < 0 {
				splitAt = 0
			}
			if splitAt > len(values) {
				splitAt = len(values)
			}

			warm := build("step", "k", nil)
			for _, v := range values[:splitAt] {
				if _, _, err := warm.OnItem(context.Background(), 0, v); err != nil {
					return false
				}
			}
			snap := warm.Snapshot()

			resumed := build("step", "k", snap)
			for _, v := range values[splitAt:] {
				if _, _, err := resumed.OnItem(context.Background(), 0, v); err != nil {
					return false
				}
			}
			got := fireAll(t, resumed)

			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 500)),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
