// Package explain implements the anomaly explanation module: given a
// candidate sequence flagged anomalous and the learned library it was
// checked against, it finds the closest known sequence and states why
// the candidate diverges from it. Probing "would this have matched under
// a different condition set?" is done by passing an alternate condition
// set as an explicit parameter to sequence.EventSequence's
// *WithConditions methods, so the candidate sequence itself is never
// mutated.
package explain

import (
	"fmt"
	"strings"

	"github.com/jtomasevic/sharly/model"
	"github.com/jtomasevic/sharly/sequence"
	"github.com/jtomasevic/sharly/store"
)

// ExplainAnomaly produces a human-readable explanation for why anomaly
// was flagged anomalous against the learned library for its group, plus
// the best-matching known sequence by CompositeSimilarity. The weights-too-low
// and condition-swap branches return nil for it, as does a library in which
// no sequence scores above 0. possibleSequences
// is the learned library for the anomaly's group, as returned by
// store.Store.GetEventSequences.
func ExplainAnomaly(anomaly *sequence.EventSequence, possibleSequences []store.GroupConditionsSequences, anomalyWeightThreshold int) (string, *sequence.EventSequence) {
	var reason strings.Builder

	anomalyConditions := anomaly.Conditions()

	if entry, ok := findConditions(possibleSequences, anomalyConditions); !ok {
		reason.WriteString("- The conditions of the event sequence are unknown by the system\n")
	} else {
		for _, known := range entry.Sequences {
			if !known.IsAnomaly(anomaly, 0) {
				reason.WriteString("- Found a matching event sequence, but the weights were too low\n")
				return reason.String(), nil
			}
		}
	}

	swap, swapConditions, weightsTooLow := findConditionsSwap(anomaly, possibleSequences, anomalyWeightThreshold)
	if swap != nil {
		reason.WriteString("- The event sequence is known by the system, but the conditions do not match any of the known\n")
		if weightsTooLow {
			reason.WriteString("  and the weights were too low\n")
		}

		target := swapConditions.Difference(anomalyConditions)
		actual := anomalyConditions.Difference(swapConditions)
		reason.WriteString(fmt.Sprintf(
			"- Changing conditions %s to %s, would make disappear the anomaly\n",
			joinConditions(actual), joinConditions(target),
		))
		return reason.String(), nil
	}

	best, bestScore := findBestMatch(anomaly, possibleSequences)
	if best != nil {
		if best.ContainsSequence(anomaly) {
			missing := anomaly.MissingEvents(best)
			reason.WriteString(fmt.Sprintf("The event sequence is missing the following events: %s!", formatEvents(missing)))
		} else {
			reason.WriteString(fmt.Sprintf("- The best matching event sequence reached a score of %.2f (max=2.0)\n", bestScore))
			reason.WriteString(fmt.Sprintf("- %d%% event similarity\n", int(best.NodeSimilarity(anomaly)*100)))
			reason.WriteString(fmt.Sprintf("- %d%% event transition similarity\n", int(best.EdgeSimilarity(anomaly)*100)))
			reason.WriteString(fmt.Sprintf("- %d%% condition similarity\n", int(best.ConditionsSimilarity(anomaly)*100)))
		}
	}

	return reason.String(), best
}

func findConditions(possible []store.GroupConditionsSequences, conditions model.ConditionSet) (store.GroupConditionsSequences, bool) {
	for _, entry := range possible {
		if entry.Conditions.Equal(conditions) {
			return entry, true
		}
	}
	return store.GroupConditionsSequences{}, false
}

// findConditionsSwap searches every known condition set for one under
// which anomaly (evaluated with that condition set substituted in)
// matches a known sequence, either at the real threshold or, failing
// that, at threshold 0 (a structural-only match whose weights were too
// low). It returns the first hit, not the best one.
func findConditionsSwap(anomaly *sequence.EventSequence, possible []store.GroupConditionsSequences, threshold int) (*sequence.EventSequence, model.ConditionSet, bool) {
	for _, entry := range possible {
		for _, known := range entry.Sequences {
			if !known.IsAnomalyWithConditions(anomaly, threshold, entry.Conditions) {
				return known, entry.Conditions, false
			}
			if !known.IsAnomalyWithConditions(anomaly, 0, entry.Conditions) {
				return known, entry.Conditions, true
			}
		}
	}
	return nil, nil, false
}

func findBestMatch(anomaly *sequence.EventSequence, possible []store.GroupConditionsSequences) (*sequence.EventSequence, float64) {
	var best *sequence.EventSequence
	bestScore := 0.0
	for _, entry := range possible {
		for _, known := range entry.Sequences {
			score := known.CompositeSimilarity(anomaly)
			if score > bestScore {
				best = known
				bestScore = score
			}
		}
	}
	return best, bestScore
}

func joinConditions(cs model.ConditionSet) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs.Slice() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}

func formatEvents(events []model.Event) string {
	parts := make([]string, 0, len(events))
	for _, e := range events {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}
