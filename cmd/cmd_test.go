package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtomasevic/sharly/internal/catalog"
	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/learn"
	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/store"
)

func testCatalogFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	content := `{
		"items": [
			{"name": "door", "groups": "home", "states": ["open", "closed"]},
			{"name": "light", "groups": "home", "states": ["on", "off"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLearnGroup_SkipsEmptyAndStoresDelay(t *testing.T) {
	itemsPath := testCatalogFile(t)
	items, err := catalog.Load(itemsPath)
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "learn.db")
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	params := learn.Params{TInit: 60, TInc: 30, TIncStable: 60, N: 0}
	learnInterval = 0

	require.ErrorIs(t, learnGroup(db, items, "home", params), errs.ErrEmptyStream)

	_, err = db.GetEventDelay("home")
	assert.Error(t, err) // nothing stored: group had no events

	base := time.Now().Add(-time.Minute)
	door := model.Event{Item: model.Item{Name: "door", OldState: "closed", NewState: "open"}, Timestamp: base, Conditions: model.NewConditionSet()}
	light := model.Event{Item: model.Item{Name: "light", OldState: "off", NewState: "on"}, Timestamp: base.Add(time.Second), Conditions: model.NewConditionSet()}
	db.StoreEvent(door)
	db.StoreEvent(light)

	require.NoError(t, learnGroup(db, items, "home", params))

	delay, err := db.GetEventDelay("home")
	require.NoError(t, err)
	assert.Greater(t, delay, 0)

	groups, err := db.GetEventSequences("home", items)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Sequences, 1)
}
