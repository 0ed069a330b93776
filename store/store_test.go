package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtomasevic/sharly/internal/catalog"
	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/sequence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	content := `{
		"items": [
			{"name": "door", "groups": "home", "states": ["open", "closed"]},
			{"name": "light", "groups": "home", "states": ["on", "off"]},
			{"name": "thermostat", "groups": "home", "states": ["idle", "heating"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	c, err := catalog.Load(path)
	require.NoError(t, err)
	return c
}

func TestStoreAndGetConditions(t *testing.T) {
	s := openTestStore(t)

	conditions := model.NewConditionSet(
		model.NewTemperatureCondition(model.Comfortable, ""),
		model.NewTimeOfDayCondition(model.Morning, ""),
	)

	id, err := s.StoreConditions(conditions)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	got, err := s.GetConditions(id)
	require.NoError(t, err)
	assert.True(t, conditions.Equal(got))

	foundID, err := s.GetConditionsID(conditions)
	require.NoError(t, err)
	assert.Equal(t, id, foundID)

	_, err = s.GetConditionsID(model.NewConditionSet(model.NewTemperatureCondition(model.Cold, "")))
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStoreAndGetEvents(t *testing.T) {
	s := openTestStore(t)
	cat := testCatalog(t)

	base := time.Now().Add(-time.Hour)
	e1 := model.Event{Item: model.Item{Name: "door", OldState: "closed", NewState: "open"}, Timestamp: base, Conditions: model.NewConditionSet()}
	e2 := model.Event{Item: model.Item{Name: "light", OldState: "off", NewState: "on"}, Timestamp: base.Add(time.Minute), Conditions: model.NewConditionSet()}

	s.StoreEvent(e1)
	s.StoreEvent(e2)

	events, err := s.GetEvents("home", 0, cat)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "door", events[0].Item.Name)
	assert.Equal(t, "light", events[1].Item.Name)
	assert.Greater(t, events[0].ID, int64(0))
}

func TestStoreEventSequence_SkipsShortAndZeroEdges(t *testing.T) {
	s := openTestStore(t)
	cat := testCatalog(t)

	base := time.Now().Add(-time.Hour)
	e1 := model.Event{Item: model.Item{Name: "door", OldState: "closed", NewState: "open"}, Timestamp: base, Conditions: model.NewConditionSet()}
	e2 := model.Event{Item: model.Item{Name: "light", OldState: "off", NewState: "on"}, Timestamp: base.Add(time.Second), Conditions: model.NewConditionSet()}
	e3 := model.Event{Item: model.Item{Name: "thermostat", OldState: "idle", NewState: "heating"}, Timestamp: base.Add(2 * time.Second), Conditions: model.NewConditionSet()}

	s.StoreEvent(e1)
	s.StoreEvent(e2)
	s.StoreEvent(e3)

	events, err := s.GetEvents("home", 0, cat)
	require.NoError(t, err)
	require.Len(t, events, 3)

	seq := sequence.New()
	seq.AddEvent(events[0], 60)
	seq.AddEvent(events[1], 60)
	seq.AddEvent(events[2], 60)

	require.NoError(t, s.StoreEventSequence(seq, "home"))

	tooShort := sequence.New()
	tooShort.AddEvent(events[0], 60)
	require.NoError(t, s.StoreEventSequence(tooShort, "home"))

	groups, err := s.GetEventSequences("home", cat)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Sequences, 1)

	reconstructed := groups[0].Sequences[0]
	assert.Equal(t, 3, reconstructed.NumNodes())
	assert.Len(t, reconstructed.PositiveEdges(), 2) // the virtual door->thermostat edge was never stored
}

func TestEventDelayUpsert(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetEventDelay("home")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.StoreEventDelay("home", 30))
	v, err := s.GetEventDelay("home")
	require.NoError(t, err)
	assert.Equal(t, 30, v)

	require.NoError(t, s.StoreEventDelay("home", 45))
	v, err = s.GetEventDelay("home")
	require.NoError(t, err)
	assert.Equal(t, 45, v)
}

func TestClearLearned_PreservesEvents(t *testing.T) {
	s := openTestStore(t)
	cat := testCatalog(t)

	base := time.Now().Add(-time.Hour)
	e1 := model.Event{Item: model.Item{Name: "door", OldState: "closed", NewState: "open"}, Timestamp: base, Conditions: model.NewConditionSet()}
	s.StoreEvent(e1)
	require.NoError(t, s.StoreEventDelay("home", 10))

	require.NoError(t, s.ClearLearned())

	_, err := s.GetEventDelay("home")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	events, err := s.GetEvents("home", 0, cat)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
