// Package store persists events, conditions, event sequences, and
// calibrated delays to SQLite via jmoiron/sqlx over modernc.org/sqlite,
// a pure-Go driver that keeps the binary cgo-free.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cihub/seelog"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jtomasevic/sharly/internal/catalog"
	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/sequence"
)

// createTableStatements creates the schema in dependency order (events
// references conditions).
var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS conditions (
		conditions_id INTEGER NOT NULL,
		PRIMARY KEY (conditions_id)
	)`,
	`CREATE TABLE IF NOT EXISTS condition_data (
		conditions_id INTEGER NOT NULL,
		condition_type INTEGER NOT NULL,
		condition_value INTEGER NOT NULL,
		item_name TEXT NOT NULL,
		PRIMARY KEY (conditions_id, condition_type, item_name)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_id INTEGER NOT NULL,
		item_name TEXT NOT NULL,
		old_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		conditions_id INTEGER NOT NULL,
		PRIMARY KEY (event_id),
		FOREIGN KEY (conditions_id) REFERENCES conditions(conditions_id)
	)`,
	`CREATE TABLE IF NOT EXISTS event_sequences (
		event_sequence_id INTEGER NOT NULL,
		"group" TEXT NOT NULL,
		PRIMARY KEY (event_sequence_id)
	)`,
	`CREATE TABLE IF NOT EXISTS event_sequence_data (
		event_sequence_id INTEGER NOT NULL,
		event_u_id INTEGER NOT NULL,
		event_u_occurrence INTEGER NOT NULL,
		event_v_id INTEGER NOT NULL,
		event_v_occurrence INTEGER NOT NULL,
		weight INTEGER NOT NULL,
		PRIMARY KEY (event_sequence_id, event_u_id, event_v_id)
	)`,
	`CREATE TABLE IF NOT EXISTS event_delays (
		"group" TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY ("group")
	)`,
}

// learnedTables lists the tables ClearLearned drops and recreates — the
// tables whose contents are derived entirely from the raw event log and
// can always be regenerated by a fresh learning run.
var learnedTables = []string{"event_sequences", "event_sequence_data", "event_delays"}

// Store wraps a SQLite connection with the learner's schema.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at dataSourceName (a file path;
// ":memory:" for an ephemeral database) and ensures the schema exists.
func Open(dataSourceName string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", dataSourceName)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "connect", Err: err}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	seelog.Infof("connected to %s", dataSourceName)
	return s, nil
}

func (s *Store) createTables() error {
	for _, stmt := range createTableStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return &errs.DatabaseError{Op: "create tables", Err: err}
		}
	}
	return nil
}

// Close disconnects from the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClearLearned drops and recreates only the learned tables (event
// sequences, their edge data, and calibrated delays), leaving the raw
// event log and condition catalog untouched. Called at the start of
// every learning run so each run starts from a clean slate.
func (s *Store) ClearLearned() error {
	for _, table := range learnedTables {
		if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table))); err != nil {
			return &errs.DatabaseError{Op: "clear learned", Err: err}
		}
	}
	return s.createTables()
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// StoreConditions inserts a new conditions row and its condition_data
// members, returning the new conditions_id.
func (s *Store) StoreConditions(conditions model.ConditionSet) (int64, error) {
	result, err := s.db.Exec(`INSERT INTO conditions (conditions_id) VALUES (NULL)`)
	if err != nil {
		return 0, &errs.DatabaseError{Op: "store conditions", Err: err}
	}
	conditionsID, err := result.LastInsertId()
	if err != nil {
		return 0, &errs.DatabaseError{Op: "store conditions", Err: err}
	}

	for _, c := range conditions.Slice() {
		kind, bin, item := c.Encode()
		if _, err := s.db.Exec(
			`INSERT INTO condition_data (conditions_id, condition_type, condition_value, item_name) VALUES (?, ?, ?, ?)`,
			conditionsID, kind, bin, item,
		); err != nil {
			return 0, &errs.DatabaseError{Op: "store conditions", Err: err}
		}
	}

	return conditionsID, nil
}

// GetConditionsID looks up the conditions_id whose stored condition set
// exactly equals conditions, returning errs.ErrNotFound if none matches.
func (s *Store) GetConditionsID(conditions model.ConditionSet) (int64, error) {
	rows, err := s.db.Query(`SELECT conditions_id, condition_type, condition_value, item_name FROM condition_data`)
	if err != nil {
		return 0, &errs.DatabaseError{Op: "get conditions id", Err: err}
	}
	defer rows.Close()

	byID := make(map[int64]model.ConditionSet)
	for rows.Next() {
		var conditionsID int64
		var kind, bin int
		var item string
		if err := rows.Scan(&conditionsID, &kind, &bin, &item); err != nil {
			return 0, &errs.DatabaseError{Op: "get conditions id", Err: err}
		}
		associated := item
		if associated == model.NullAssociatedItem {
			associated = ""
		}
		condition, err := model.FromEnum(model.ConditionKind(kind), bin, associated)
		if err != nil {
			return 0, &errs.DatabaseError{Op: "get conditions id", Err: err}
		}
		if byID[conditionsID] == nil {
			byID[conditionsID] = model.NewConditionSet()
		}
		byID[conditionsID][condition] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return 0, &errs.DatabaseError{Op: "get conditions id", Err: err}
	}

	for id, stored := range byID {
		if stored.Equal(conditions) {
			return id, nil
		}
	}
	return 0, errs.ErrNotFound
}

// GetConditions returns the condition set stored under conditionsID.
func (s *Store) GetConditions(conditionsID int64) (model.ConditionSet, error) {
	rows, err := s.db.Query(
		`SELECT condition_type, condition_value, item_name FROM condition_data WHERE conditions_id = ?`,
		conditionsID,
	)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "get conditions", Err: err}
	}
	defer rows.Close()

	conditions := model.NewConditionSet()
	for rows.Next() {
		var kind, bin int
		var item string
		if err := rows.Scan(&kind, &bin, &item); err != nil {
			return nil, &errs.DatabaseError{Op: "get conditions", Err: err}
		}
		associated := item
		if associated == model.NullAssociatedItem {
			associated = ""
		}
		condition, err := model.FromEnum(model.ConditionKind(kind), bin, associated)
		if err != nil {
			return nil, &errs.DatabaseError{Op: "get conditions", Err: err}
		}
		conditions[condition] = struct{}{}
	}
	return conditions, rows.Err()
}

// StoreEvent persists an event, reusing an existing conditions_id for its
// condition set or storing a new one. Write failures are logged and
// swallowed: event ingestion is a fire-and-forget, best-effort path, and
// a single dropped row should not interrupt the caller.
func (s *Store) StoreEvent(ev model.Event) {
	conditionsID, err := s.GetConditionsID(ev.Conditions)
	if err != nil {
		conditionsID, err = s.StoreConditions(ev.Conditions)
		if err != nil {
			seelog.Errorf("failed storing event %s: %v", ev, err)
			return
		}
	}

	if _, err := s.db.Exec(
		`INSERT INTO events (event_id, item_name, old_state, new_state, timestamp, conditions_id) VALUES (NULL, ?, ?, ?, ?, ?)`,
		ev.Item.Name, ev.Item.OldState, ev.Item.NewState, ev.Timestamp, conditionsID,
	); err != nil {
		seelog.Errorf("failed storing event %s: %v", ev, err)
	}
}

// GetEvents returns every stored event within the last intervalDays days
// (all events if intervalDays is 0) that catalog.IsValid accepts for
// group, ordered by event_id ascending so callers see them in the order
// they were originally recorded.
func (s *Store) GetEvents(group string, intervalDays int, items *catalog.Catalog) ([]model.Event, error) {
	var rows *sql.Rows
	var err error

	if intervalDays <= 0 {
		rows, err = s.db.Query(
			`SELECT event_id, item_name, old_state, new_state, timestamp, conditions_id FROM events ORDER BY event_id`,
		)
	} else {
		now := time.Now()
		since := now.AddDate(0, 0, -intervalDays)
		rows, err = s.db.Query(
			`SELECT event_id, item_name, old_state, new_state, timestamp, conditions_id FROM events
			 WHERE timestamp BETWEEN ? AND ? ORDER BY event_id`,
			since, now,
		)
	}
	if err != nil {
		return nil, &errs.DatabaseError{Op: "get events", Err: err}
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var eventID, conditionsID int64
		var itemName, oldState, newState string
		var timestamp time.Time
		if err := rows.Scan(&eventID, &itemName, &oldState, &newState, &timestamp, &conditionsID); err != nil {
			return nil, &errs.DatabaseError{Op: "get events", Err: err}
		}

		if !items.IsValid(itemName, oldState, newState, group) {
			continue
		}

		conditions, err := s.GetConditions(conditionsID)
		if err != nil {
			return nil, err
		}

		events = append(events, model.Event{
			Item:       model.Item{Name: itemName, OldState: oldState, NewState: newState},
			Timestamp:  timestamp,
			Conditions: conditions,
			ID:         eventID,
		})
	}
	return events, rows.Err()
}

// StoreEventSequence persists seq under group: sequences with fewer than
// two nodes aren't worth keeping, and zero-weight (virtual) edges carry
// no observed transition, so both are skipped.
func (s *Store) StoreEventSequence(seq *sequence.EventSequence, group string) error {
	if seq.NumNodes() < 2 {
		seelog.Debugf("skipped storing useless event sequence (node-count=%d)", seq.NumNodes())
		return nil
	}

	result, err := s.db.Exec(`INSERT INTO event_sequences (event_sequence_id, "group") VALUES (NULL, ?)`, group)
	if err != nil {
		return &errs.DatabaseError{Op: "store event sequence", Err: err}
	}
	sequenceID, err := result.LastInsertId()
	if err != nil {
		return &errs.DatabaseError{Op: "store event sequence", Err: err}
	}

	for _, edge := range seq.Edges() {
		if edge.Weight == 0 {
			continue
		}
		fromEvent, toEvent := findEndpoints(seq, edge)
		if _, err := s.db.Exec(
			`INSERT INTO event_sequence_data
			 (event_sequence_id, event_u_id, event_u_occurrence, event_v_id, event_v_occurrence, weight)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sequenceID, fromEvent.ID, seq.Occurrence(fromEvent), toEvent.ID, seq.Occurrence(toEvent), edge.Weight,
		); err != nil {
			return &errs.DatabaseError{Op: "store event sequence", Err: err}
		}
	}

	return nil
}

func findEndpoints(seq *sequence.EventSequence, edge sequence.ItemEdge) (from, to model.Event) {
	for _, ev := range seq.Nodes() {
		if ev.Item == edge.From {
			from = ev
		}
		if ev.Item == edge.To {
			to = ev
		}
	}
	return from, to
}

// StoreEventDelay upserts the calibrated delay for group.
func (s *Store) StoreEventDelay(group string, value int) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO event_delays ("group", value) VALUES (?, ?)`, group, value); err != nil {
		return &errs.DatabaseError{Op: "store event delay", Err: err}
	}
	return nil
}

// GetEventDelay returns the stored delay for group, or errs.ErrNotFound.
func (s *Store) GetEventDelay(group string) (int, error) {
	var value int
	err := s.db.Get(&value, `SELECT value FROM event_delays WHERE "group" = ?`, group)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, errs.ErrNotFound
		}
		return 0, &errs.DatabaseError{Op: "get event delay", Err: err}
	}
	return value, nil
}

// GroupConditionsSequences pairs a condition set observed for a group
// with every stored sequence that root-conditions set. ConditionSet is a
// map and therefore not a valid Go map key, so GetEventSequences returns
// a slice of these instead of map[ConditionSet][]*sequence.EventSequence.
type GroupConditionsSequences struct {
	Conditions model.ConditionSet
	Sequences  []*sequence.EventSequence
}

// GetEventSequences reconstructs every stored sequence for group, grouped
// by conditions. Sequences referencing an event no longer present in the
// event log are skipped.
func (s *Store) GetEventSequences(group string, items *catalog.Catalog) ([]GroupConditionsSequences, error) {
	events, err := s.GetEvents(group, 0, items)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	sequenceIDRows, err := s.db.Query(`SELECT event_sequence_id FROM event_sequences WHERE "group" = ?`, group)
	if err != nil {
		return nil, &errs.DatabaseError{Op: "get event sequences", Err: err}
	}
	var sequenceIDs []int64
	for sequenceIDRows.Next() {
		var id int64
		if err := sequenceIDRows.Scan(&id); err != nil {
			sequenceIDRows.Close()
			return nil, &errs.DatabaseError{Op: "get event sequences", Err: err}
		}
		sequenceIDs = append(sequenceIDs, id)
	}
	sequenceIDRows.Close()
	if err := sequenceIDRows.Err(); err != nil {
		return nil, &errs.DatabaseError{Op: "get event sequences", Err: err}
	}

	var result []GroupConditionsSequences
	for _, sequenceID := range sequenceIDs {
		seq, ok, err := s.loadEventSequence(sequenceID, byID)
		if err != nil {
			return nil, err
		}
		if !ok {
			seelog.Warnf("skipping event sequence %d for group %q: referenced events missing", sequenceID, group)
			continue
		}

		conditions := seq.Conditions()
		placed := false
		for i := range result {
			if result[i].Conditions.Equal(conditions) {
				result[i].Sequences = append(result[i].Sequences, seq)
				placed = true
				break
			}
		}
		if !placed {
			result = append(result, GroupConditionsSequences{Conditions: conditions, Sequences: []*sequence.EventSequence{seq}})
		}
	}

	return result, nil
}

func (s *Store) loadEventSequence(sequenceID int64, byID map[int64]model.Event) (*sequence.EventSequence, bool, error) {
	rows, err := s.db.Query(
		`SELECT event_u_id, event_u_occurrence, event_v_id, event_v_occurrence, weight
		 FROM event_sequence_data WHERE event_sequence_id = ?`,
		sequenceID,
	)
	if err != nil {
		return nil, false, &errs.DatabaseError{Op: "get event sequence data", Err: err}
	}
	defer rows.Close()

	seq := sequence.New()
	seq.SetID(sequenceID)

	for rows.Next() {
		var uID, vID int64
		var uOccurrence, vOccurrence, weight int
		if err := rows.Scan(&uID, &uOccurrence, &vID, &vOccurrence, &weight); err != nil {
			return nil, false, &errs.DatabaseError{Op: "get event sequence data", Err: err}
		}

		u, uOK := byID[uID]
		v, vOK := byID[vID]
		if !uOK || !vOK {
			return nil, false, nil
		}

		seq.PutNode(u, uOccurrence)
		seq.PutNode(v, vOccurrence)
		seq.PutEdge(u, v, weight)
	}
	if err := rows.Err(); err != nil {
		return nil, false, &errs.DatabaseError{Op: "get event sequence data", Err: err}
	}

	return seq, true, nil
}
