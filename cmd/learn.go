package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cihub/seelog"
	"github.com/spf13/cobra"

	"github.com/jtomasevic/sharly/internal/catalog"
	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/internal/logging"
	"github.com/jtomasevic/sharly/learn"
	"github.com/jtomasevic/sharly/store"
)

var (
	learnVerbose            bool
	learnDebug              bool
	learnInterval           int
	learnVisualize          bool
	learnVisualizeZeroEdges bool
	learnPlot               bool
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn event sequences and delays from the stored event log",
	RunE:  runLearn,
}

func init() {
	rootCmd.AddCommand(learnCmd)
	learnCmd.Flags().BoolVarP(&learnVerbose, "verbose", "v", false, "enable verbose output")
	learnCmd.Flags().BoolVarP(&learnDebug, "debug", "d", false, "enable debug logging")
	learnCmd.Flags().IntVarP(&learnInterval, "interval", "i", 7, "learning interval in days")
	learnCmd.Flags().BoolVar(&learnVisualize, "visualize", false, "visualize final event sequences")
	learnCmd.Flags().BoolVar(&learnVisualizeZeroEdges, "visualize_zero_edges", false, "visualize zero weight edges")
	learnCmd.Flags().BoolVarP(&learnPlot, "plot", "p", false, "plot learning graphs")
}

// runLearn clears the learned tables, then for every catalog group
// calibrates a delay, generates and folds sequences, and persists both.
func runLearn(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logging.Setup(learnVerbose, learnDebug); err != nil {
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

	if err := db.ClearLearned(); err != nil {
		return err
	}

	seelog.Infof("learning started with an interval of %d days", learnInterval)

	params := learn.Params{TInit: cfg.TInit, TInc: cfg.TInc, TIncStable: cfg.TIncStable, N: cfg.N}

	for _, group := range items.Groups() {
		if err := learnGroup(db, items, group, params); err != nil {
			if errors.Is(err, errs.ErrEmptyStream) {
				seelog.Infof("no events found for group %q in the last %d days - skip", group, learnInterval)
				continue
			}
			seelog.Errorf("group %q: %v", group, err)
		}
	}

	return nil
}

func learnGroup(db *store.Store, items *catalog.Catalog, group string, params learn.Params) error {
	events, err := db.GetEvents(group, learnInterval, items)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errs.ErrEmptyStream
	}

	frame := make(map[int]int)
	delay, err := learn.CalculateEventDelay(events, params, frame)
	if err != nil {
		return err
	}

	if learnPlot {
		if err := writeLearningCurve(group, frame); err != nil {
			seelog.Warnf("group %q: could not write learning curve: %v", group, err)
		}
	}

	if err := db.StoreEventDelay(group, delay); err != nil {
		return err
	}
	seelog.Infof("calculated best event delay for group %q: %ds", group, delay)

	generated := learn.GenerateEventSequences(events, delay, params.TInc)
	library, generatedCount := learn.MergeBySimilarity(generated)

	seelog.Infof("generated %d event sequences for group %q", generatedCount, group)
	seelog.Infof("merged down to %d event sequences for group %q", len(library), group)

	seelog.Infof("storing event sequences for group %q", group)
	for i, seq := range library {
		if err := db.StoreEventSequence(seq, group); err != nil {
			return err
		}
		if learnVisualize {
			seelog.Infof("sequence %s/%d requested for visualization (%d nodes, zero edges %v) - rendering is an external collaborator, not reproduced here", group, i, seq.NumNodes(), learnVisualizeZeroEdges)
		}
	}

	return nil
}

// writeLearningCurve persists the calibrator's trace frame (T' -> pairs(T'))
// as a CSV so the learning curve can be plotted offline without this
// process taking a charting dependency of its own.
func writeLearningCurve(group string, frame map[int]int) error {
	path := group + "_data.csv"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write learning curve for group %q: %w", group, err)
	}
	defer f.Close()

	ts := make([]int, 0, len(frame))
	for t := range frame {
		ts = append(ts, t)
	}
	sort.Ints(ts)

	if _, err := fmt.Fprintln(f, "t,pairs"); err != nil {
		return err
	}
	for _, t := range ts {
		if _, err := fmt.Fprintf(f, "%d,%d\n", t, frame[t]); err != nil {
			return err
		}
	}
	return nil
}
