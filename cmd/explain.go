package cmd

import (
	"fmt"
	"math"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/jtomasevic/sharly/explain"
	"github.com/jtomasevic/sharly/internal/catalog"
	"github.com/jtomasevic/sharly/internal/logging"
	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/sequence"
	"github.com/jtomasevic/sharly/store"
)

var explainFixturePath string

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain why a candidate event sequence would be flagged anomalous",
	Long: `explain loads a candidate event sequence from a JSON fixture and
runs it through the explanation module against the group's learned
library, for ad-hoc use outside of a live anomaly-detection run.`,
	RunE: runExplain,
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVar(&explainFixturePath, "fixture", "", "path to a JSON candidate-sequence fixture (required)")
	explainCmd.MarkFlagRequired("fixture")
}

// fixtureConditionEntry names a condition by kind/bin, rather than storage
// integers, so fixtures stay human-writable.
type fixtureConditionEntry struct {
	Kind           string `json:"kind"`
	Bin            string `json:"bin"`
	AssociatedItem string `json:"associated_item"`
}

type fixtureEventEntry struct {
	Item       string                  `json:"item"`
	OldState   string                  `json:"old_state"`
	NewState   string                  `json:"new_state"`
	Timestamp  time.Time               `json:"timestamp"`
	Conditions []fixtureConditionEntry `json:"conditions"`
}

type explainFixture struct {
	Group  string              `json:"group"`
	Events []fixtureEventEntry `json:"events"`
}

// explainFixtureDelay is large enough that a fixture's events always chain
// into one sequence regardless of their timestamps: a fixture already
// represents a single candidate sequence, not a raw stream to segment.
const explainFixtureDelay = math.MaxInt32

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logging.Setup(false, false); err != nil {
		return err
	}
	defer logging.Flush()

	items, err := catalog.Load(cfg.ItemList)
	if err != nil {
		return err
	}

	if cfg.DatabaseEngine != "sqlite" {
		return fmt.Errorf("unsupported database engine %q: only sqlite is backed", cfg.DatabaseEngine)
	}
	db, err := store.Open(cfg.DatabaseName)
	if err != nil {
		return err
	}
	defer db.Close()

	candidate, group, err := loadFixture(explainFixturePath)
	if err != nil {
		return err
	}

	known, err := db.GetEventSequences(group, items)
	if err != nil {
		return err
	}

	reason, best := explain.ExplainAnomaly(candidate, known, cfg.AnomalyWeightThreshold)
	fmt.Fprintln(cmd.OutOrStdout(), reason)
	if best != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "closest known sequence:")
		for _, ev := range best.Nodes() {
			fmt.Fprintln(cmd.OutOrStdout(), " ", ev.String())
		}
	}

	return nil
}

func loadFixture(path string) (*sequence.EventSequence, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading fixture %q: %w", path, err)
	}

	var fixture explainFixture
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &fixture); err != nil {
		return nil, "", fmt.Errorf("parsing fixture %q: %w", path, err)
	}

	seq := sequence.New()
	for _, fe := range fixture.Events {
		conditions, err := decodeConditions(fe.Conditions)
		if err != nil {
			return nil, "", fmt.Errorf("fixture %q: %w", path, err)
		}

		ev := model.Event{
			Item:       model.Item{Name: fe.Item, OldState: fe.OldState, NewState: fe.NewState},
			Timestamp:  fe.Timestamp,
			Conditions: conditions,
		}
		if !seq.AddEvent(ev, explainFixtureDelay) {
			return nil, "", fmt.Errorf("fixture %q: event %s was rejected (duplicate item)", path, ev)
		}
	}

	return seq, fixture.Group, nil
}

func decodeConditions(entries []fixtureConditionEntry) (model.ConditionSet, error) {
	conditions := model.NewConditionSet()
	for _, e := range entries {
		kind, err := model.ParseConditionKind(e.Kind)
		if err != nil {
			return nil, err
		}

		var condition model.Condition
		switch kind {
		case model.Temperature:
			bin, err := model.ParseTemperatureBin(e.Bin)
			if err != nil {
				return nil, err
			}
			condition = model.NewTemperatureCondition(bin, e.AssociatedItem)
		case model.TimeOfDay:
			bin, err := model.ParseTimeOfDayBin(e.Bin)
			if err != nil {
				return nil, err
			}
			condition = model.NewTimeOfDayCondition(bin, e.AssociatedItem)
		}
		conditions[condition] = struct{}{}
	}
	return conditions, nil
}
