// Package learn implements the adaptive delay calibrator and the
// sequence generator: searching for the event delay that segments a
// stream into stable sequences, and performing that segmentation itself.
package learn

import (
	"github.com/cihub/seelog"

	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/sequence"
)

// maxCalibrationIterations bounds the stability search so a misconfigured
// or pathological event stream that never stabilizes fails fast with
// errs.ErrNonConvergent instead of looping forever.
const maxCalibrationIterations = 10000

// Params bundles the calibration and generation parameters read from
// config.Config's PARAMETERS section.
type Params struct {
	TInit      int
	TInc       int
	TIncStable int
	N          int
}

// CalculateEventDelay searches for the smallest event delay T at which the
// number of event-pairs across all generated sequences stops changing by
// more than N for every T' in [T, T+TIncStable). frame records, for every
// T' visited, the pair count at that T' — used by the CLI's --plot option
// to write the search's learning curve to a CSV file.
func CalculateEventDelay(events []model.Event, p Params, frame map[int]int) (int, error) {
	t := p.TInit
	for iteration := 0; iteration < maxCalibrationIterations; iteration++ {
		stable, nextT := sequencesStable(events, t, p, frame)
		if stable {
			return t, nil
		}
		t = nextT
	}
	return 0, errs.ErrNonConvergent
}

// sequencesStable reports whether the event-pair count is stable across
// t' in [t, t+TIncStable) stepping by TInc, i.e. |pairs(t') - pairs(t'+TInc)|
// never exceeds N. On instability it also returns the next T to try:
// the first unstable t' plus TInc.
func sequencesStable(events []model.Event, t int, p Params, frame map[int]int) (bool, int) {
	seelog.Debugf("checking sequence stability at t=%d", t)

	for tPrime := t; tPrime < t+p.TIncStable; tPrime += p.TInc {
		now := numberOfPairs(events, tPrime, p.TInc)
		future := numberOfPairs(events, tPrime+p.TInc, p.TInc)

		if _, seen := frame[tPrime]; !seen {
			frame[tPrime] = now
		}

		diff := now - future
		if diff < 0 {
			diff = -diff
		}
		if diff > p.N {
			seelog.Debugf("unstable pair-count increment at t=%d", tPrime)
			return false, tPrime + p.TInc
		}
	}

	seelog.Debug("sequences stable")
	return true, 0
}

// numberOfPairs sums EventSequence.Size() (edges, real and virtual) across
// every sequence GenerateEventSequences would emit for delaySeconds. The
// debounce window is always the configured TInc, independent of the delay
// T' currently under test — debounce suppresses sensor chatter and isn't
// part of what the search is calibrating.
func numberOfPairs(events []model.Event, delaySeconds int, debounceWindow int) int {
	total := 0
	for _, seq := range GenerateEventSequences(events, delaySeconds, debounceWindow) {
		total += seq.Size()
	}
	return total
}

// GenerateEventSequences segments a chronologically ordered event stream
// into sequences: consecutive repeats of the same event within
// debounceWindow seconds collapse into one occurrence (noise
// suppression), and whenever the running sequence rejects the next event
// (because it's already present, or arrived too late), the running
// sequence is yielded and a fresh one started with that event.
//
// debounceWindow is always called with TInc in practice. It is an
// explicit parameter rather than read from config directly so this
// function's behavior doesn't depend on ambient global state.
func GenerateEventSequences(events []model.Event, delaySeconds int, debounceWindow int) []*sequence.EventSequence {
	if len(events) == 0 {
		return nil
	}

	var sequences []*sequence.EventSequence

	current := sequence.New()
	previous := events[0]
	current.AddEvent(previous, delaySeconds)

	for _, ev := range events[1:] {
		if ev.Item == previous.Item && ev.Timestamp.Sub(previous.Timestamp).Seconds() < float64(debounceWindow) {
			previous = ev
			continue
		}

		if !current.AddEvent(ev, delaySeconds) {
			sequences = append(sequences, current.Copy())
			current.Clear()
			current.AddEvent(ev, delaySeconds)
		}

		previous = ev
	}

	sequences = append(sequences, current)
	return sequences
}

// MergeBySimilarity folds structurally equal sequences together: each new
// sequence is compared against the accumulated library in order, merged
// into the first equal entry found, or appended as a new entry. Returns
// the folded library plus the count of sequences generated before
// folding, so callers can log how much folding actually happened.
func MergeBySimilarity(generated []*sequence.EventSequence) (library []*sequence.EventSequence, generatedCount int) {
	generatedCount = len(generated)
	for _, seq := range generated {
		merged := false
		for i, existing := range library {
			if seq.Equal(existing) {
				combined, err := existing.Merge(seq)
				if err == nil {
					library[i] = combined
					merged = true
				}
				break
			}
		}
		if !merged {
			library = append(library, seq)
		}
	}
	return library, generatedCount
}
