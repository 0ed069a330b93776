package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtomasevic/sharly/model"
)

func mkEvent(name, old, new string, t time.Time, conditions ...model.Condition) model.Event {
	return model.Event{
		Item:       model.Item{Name: name, OldState: old, NewState: new},
		Timestamp:  t,
		Conditions: model.NewConditionSet(conditions...),
	}
}

func TestAddEvent_RejectsDuplicateItem(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	e1 := mkEvent("door", "closed", "open", base)
	require.True(t, s.AddEvent(e1, 60))
	require.False(t, s.AddEvent(e1, 60))
	assert.Equal(t, 1, s.NumNodes())
}

func TestAddEvent_RejectsBeyondDelay(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(90*time.Second))
	require.True(t, s.AddEvent(e1, 60))
	require.False(t, s.AddEvent(e2, 60))
	assert.Equal(t, 1, s.NumNodes())
}

// TestAddEvent_CombinatorialExpansion checks that a third event gains a
// real edge from the predecessor and a virtual (zero-weight) edge from
// every earlier node.
func TestAddEvent_CombinatorialExpansion(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))
	e3 := mkEvent("thermostat", "idle", "heating", base.Add(20*time.Second))

	require.True(t, s.AddEvent(e1, 60))
	require.True(t, s.AddEvent(e2, 60))
	require.True(t, s.AddEvent(e3, 60))

	assert.Equal(t, 3, s.NumNodes())
	assert.Equal(t, 3, s.Size()) // e1->e2, e2->e3 real, e1->e3 virtual

	w, ok := s.edgeWeight(e2.Item, e3.Item)
	require.True(t, ok)
	assert.Equal(t, 1, w)

	w, ok = s.edgeWeight(e1.Item, e3.Item)
	require.True(t, ok)
	assert.Equal(t, 0, w)

	assert.Len(t, s.PositiveEdges(), 2)
}

func TestEqual_IgnoresWeightAndOccurrence(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := New()
	b := New()
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))

	require.True(t, a.AddEvent(e1, 60))
	require.True(t, a.AddEvent(e2, 60))
	require.True(t, b.AddEvent(e1, 60))
	require.True(t, b.AddEvent(e2, 60))

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	merged, err := a.Merge(b) // doubles edge weights and node occurrences
	require.NoError(t, err)
	assert.True(t, merged.Equal(b))
	assert.True(t, b.Equal(merged))
}

func TestEqual_DifferentConditionsNotEqual(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cond1 := model.NewTemperatureCondition(model.Comfortable, "")
	cond2 := model.NewTemperatureCondition(model.Cold, "")

	a := New()
	b := New()
	a.AddEvent(mkEvent("door", "closed", "open", base, cond1), 60)
	b.AddEvent(mkEvent("door", "closed", "open", base, cond2), 60)

	assert.False(t, a.Equal(b))
}

// TestMerge_AccumulatesRealEdgeWeight checks that merging two
// structurally equal sequences built from independent observations raises
// the weight of their shared real edges, while a shared virtual edge
// (e1->e3) stays at zero — equal sequences always share the same full
// topology, real and virtual alike, since real edges alone form a single
// Hamiltonian path that fixes it.
func TestMerge_AccumulatesRealEdgeWeight(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))
	e3 := mkEvent("thermostat", "idle", "heating", base.Add(20*time.Second))

	a := New()
	a.AddEvent(e1, 60)
	a.AddEvent(e2, 60)
	a.AddEvent(e3, 60)

	b := New()
	b.AddEvent(e1, 60)
	b.AddEvent(e2, 60)
	b.AddEvent(e3, 60)

	require.True(t, a.Equal(b))

	merged, err := a.Merge(b)
	require.NoError(t, err)

	w, ok := merged.edgeWeight(e1.Item, e2.Item)
	require.True(t, ok)
	assert.Equal(t, 2, w)

	w, ok = merged.edgeWeight(e1.Item, e3.Item)
	require.True(t, ok)
	assert.Equal(t, 0, w) // virtual in both, stays virtual
}

func TestIsAnomaly_EdgeWeightBelowThreshold(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))
	e3 := mkEvent("thermostat", "idle", "heating", base.Add(20*time.Second))

	library := New()
	library.AddEvent(e1, 60)
	library.AddEvent(e2, 60)
	library.AddEvent(e3, 60)
	// library has e2->e3 at weight 1, e1->e3 virtual at weight 0

	observed := New()
	observed.AddEvent(e1, 60)
	observed.AddEvent(e2, 60)
	observed.AddEvent(e3, 60)

	assert.True(t, library.IsAnomaly(observed, 2)) // weight 1 < threshold 2
	assert.False(t, library.IsAnomaly(observed, 1))
}

func TestIsAnomaly_StructuralMismatchIsAnomaly(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))
	e4 := mkEvent("fan", "off", "on", base.Add(10*time.Second))

	library := New()
	library.AddEvent(e1, 60)
	library.AddEvent(e2, 60)

	observed := New()
	observed.AddEvent(e1, 60)
	observed.AddEvent(e4, 60)

	assert.True(t, library.IsAnomaly(observed, 0))
}

func TestContainsSequence(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e1 := mkEvent("door", "closed", "open", base)
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))
	e3 := mkEvent("thermostat", "idle", "heating", base.Add(20*time.Second))

	big := New()
	big.AddEvent(e1, 60)
	big.AddEvent(e2, 60)
	big.AddEvent(e3, 60)

	small := New()
	small.AddEvent(e1, 60)
	small.AddEvent(e2, 60)

	assert.True(t, big.ContainsSequence(small))
	assert.False(t, small.ContainsSequence(big))
	assert.Len(t, big.MissingEvents(small), 0)
	assert.Len(t, small.MissingEvents(big), 1)
}

func TestCopyAndClearAreIndependent(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	s.AddEvent(mkEvent("door", "closed", "open", base), 60)

	cp := s.Copy()
	s.Clear()

	assert.Equal(t, 0, s.NumNodes())
	assert.Equal(t, 1, cp.NumNodes())
}

func TestCompositeSimilarityBounds(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e1 := mkEvent("door", "closed", "open", base, model.NewTimeOfDayCondition(model.Noon, ""))
	e2 := mkEvent("light", "off", "on", base.Add(10*time.Second))

	a := New()
	a.AddEvent(e1, 60)
	a.AddEvent(e2, 60)

	b := a.Copy()

	score := a.CompositeSimilarity(b)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 2.0)
	assert.InDelta(t, 2.0, score, 1e-9)
}
