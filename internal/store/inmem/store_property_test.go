package inmem

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mgx-platform/agentcore/internal/store"
)

// TestEventsSinceOrderingProperty verifies invariant 1: for any session, the
// sequence of events returned by events_since is non-decreasing in
// timestamp and contains at most one finish event.
func TestEventsSinceOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("events_since is timestamp-ordered with at most one finish", prop.ForAll(
		func(deltas []float64) bool {
			s := New()
			ctx := context.Background()

			// append_event is only ever called by real callers in
			// non-decreasing timestamp order (store.Now() is monotonic); the
			// property under test is that events_since preserves that order,
			// not that it re-sorts arbitrarily shuffled input.
			timestamps := cumulative(deltas)
			for _, ts := range timestamps {
				if _, err := s.AppendEvent(ctx, &store.Event{SessionID: "sess", Timestamp: ts, Type: store.EventCustom}); err != nil {
					return false
				}
			}
			// A single finish event, appended last, must survive as the only
			// finish regardless of how many prior custom events were appended.
			if _, err := s.AppendEvent(ctx, &store.Event{SessionID: "sess", Timestamp: 1e9, Type: store.EventFinish}); err != nil {
				return false
			}

			events, err := s.EventsSince(ctx, "sess", nil, 0)
			if err != nil {
				return false
			}

			finishCount := 0
			for i, e := range events {
				if e.Type == store.EventFinish {
					finishCount++
				}
				if i > 0 && e.Timestamp < events[i-1].Timestamp {
					return false
				}
			}
			return finishCount == 1
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

// cumulative turns a slice of non-negative deltas into a monotonically
// non-decreasing timestamp sequence.
func cumulative(deltas []float64) []float64 {
	out := make([]float64, len(deltas))
	var sum float64
	for i, d := range deltas {
		sum += d
		out[i] = sum
	}
	return out
}

// TestEventsSinceWatermarkExactnessProperty verifies invariant 5:
// stream-continue?since_timestamp=tau returns exactly the events with
// timestamp > tau, in canonical (append) order.
func TestEventsSinceWatermarkExactnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("events_since(tau) returns exactly the events with timestamp > tau", prop.ForAll(
		func(tc watermarkCase) bool {
			s := New()
			ctx := context.Background()
			for _, ts := range tc.timestamps {
				if _, err := s.AppendEvent(ctx, &store.Event{SessionID: "sess", Timestamp: ts, Type: store.EventCustom}); err != nil {
					return false
				}
			}

			var want []float64
			for _, ts := range tc.timestamps {
				if ts > tc.tau {
					want = append(want, ts)
				}
			}

			got, err := s.EventsSince(ctx, "sess", &tc.tau, 0)
			if err != nil {
				return false
			}
			var gotTS []float64
			for _, e := range got {
				gotTS = append(gotTS, e.Timestamp)
			}
			return reflect.DeepEqual(gotTS, want)
		},
		genWatermarkCase(),
	))

	properties.TestingRun(t)
}

type watermarkCase struct {
	timestamps []float64
	tau        float64
}

func genWatermarkCase() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOf(gen.Float64Range(0, 1e6)),
		gen.Float64Range(0, 1e6),
	).Map(func(vals []any) watermarkCase {
		return watermarkCase{
			timestamps: vals[0].([]float64),
			tau:        vals[1].(float64),
		}
	})
}
