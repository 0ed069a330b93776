// Package sequence implements the event-sequence graph model: a
// directed, insertion-ordered multigraph of events with weighted edges,
// combinatorial edge expansion, set-algebra equality and containment,
// merge, and the anomaly/similarity predicates the explanation module
// relies on.
//
// Node identity inside a sequence is keyed by an internal handle (a
// uuid.UUID) rather than a pointer, so nodes can be copied and
// reconstituted from storage without chasing pointer cycles. Across
// sequences, nodes and edges are compared by the event's equality key
// (model.Item) instead, since handles are local to one sequence.
package sequence

import (
	"github.com/google/uuid"

	"github.com/jtomasevic/sharly/internal/errs"
	"github.com/jtomasevic/sharly/model"
)

type handle = uuid.UUID

type nodeData struct {
	event      model.Event
	occurrence int
}

type edgeKey struct {
	from, to handle
}

// ItemEdge names a directed edge between two events by their Item
// equality keys, independent of which sequence instance holds it.
type ItemEdge struct {
	From, To model.Item
	Weight   int
}

// EventSequence is a directed graph of events, ordered by insertion: the
// first node is the root, the last is the predecessor tip.
type EventSequence struct {
	id     int64
	order  []handle
	byItem map[model.Item]handle
	nodes  map[handle]*nodeData
	edges  map[edgeKey]int
}

// New returns an empty sequence.
func New() *EventSequence {
	return &EventSequence{
		byItem: make(map[model.Item]handle),
		nodes:  make(map[handle]*nodeData),
		edges:  make(map[edgeKey]int),
	}
}

// ID is the storage-layer identity of a persisted sequence, or 0 if the
// sequence hasn't been stored yet.
func (s *EventSequence) ID() int64 { return s.id }

// SetID assigns the storage-layer identity; used by the store package
// when reconstituting a sequence from the database.
func (s *EventSequence) SetID(id int64) { s.id = id }

// NumNodes returns |V|.
func (s *EventSequence) NumNodes() int { return len(s.order) }

// Size returns |E|, counting virtual (zero-weight) edges as well as
// real ones. The calibrator's delay search sums this count across all
// emitted sequences for a candidate delay, so a delay that produces more
// edges (even all-virtual ones, from a single long sequence) scores
// higher than one that segments the stream into many small sequences.
func (s *EventSequence) Size() int { return len(s.edges) }

// Root returns the first-inserted event, if any.
func (s *EventSequence) Root() (model.Event, bool) {
	if len(s.order) == 0 {
		return model.Event{}, false
	}
	return s.nodes[s.order[0]].event, true
}

// Predecessor returns the most-recently-inserted event, if any.
func (s *EventSequence) Predecessor() (model.Event, bool) {
	if len(s.order) == 0 {
		return model.Event{}, false
	}
	return s.nodes[s.order[len(s.order)-1]].event, true
}

// Conditions returns the sequence's conditions: the root event's
// conditions, or an empty set for an empty sequence.
func (s *EventSequence) Conditions() model.ConditionSet {
	root, ok := s.Root()
	if !ok {
		return model.NewConditionSet()
	}
	return root.Conditions
}

// Contains reports whether ev's Item already occupies a node.
func (s *EventSequence) Contains(ev model.Event) bool {
	_, ok := s.byItem[ev.Item]
	return ok
}

// AddEvent rejects events already present (the primary segmentation
// signal) and events arriving more than delaySeconds after the current
// predecessor; otherwise it inserts a new node, a real edge from the
// predecessor, and virtual (zero-weight) edges from every other existing
// node to the new one, so the full node set stays comparable across
// sequences even where no event was directly observed to follow another.
func (s *EventSequence) AddEvent(ev model.Event, delaySeconds int) bool {
	if s.Contains(ev) {
		return false
	}

	var predecessorHandle handle
	hadPredecessor := len(s.order) > 0
	if hadPredecessor {
		predecessorHandle = s.order[len(s.order)-1]
		predecessor := s.nodes[predecessorHandle].event
		if ev.Timestamp.Sub(predecessor.Timestamp).Seconds() > float64(delaySeconds) {
			return false
		}
	}

	newHandle := uuid.New()
	s.nodes[newHandle] = &nodeData{event: ev, occurrence: 1}
	s.byItem[ev.Item] = newHandle

	priorNodes := append([]handle(nil), s.order...)
	s.order = append(s.order, newHandle)

	if hadPredecessor {
		s.edges[edgeKey{from: predecessorHandle, to: newHandle}] = 1

		for _, q := range priorNodes {
			if q == predecessorHandle {
				continue
			}
			s.edges[edgeKey{from: q, to: newHandle}] = 0
		}
	}

	return true
}

// Nodes returns the events in insertion order.
func (s *EventSequence) Nodes() []model.Event {
	out := make([]model.Event, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, s.nodes[h].event)
	}
	return out
}

// Occurrence returns the occurrence count for the node matching ev's
// Item, or 0 if ev is not a node of this sequence.
func (s *EventSequence) Occurrence(ev model.Event) int {
	h, ok := s.byItem[ev.Item]
	if !ok {
		return 0
	}
	return s.nodes[h].occurrence
}

// Edges returns every edge, real and virtual, as ItemEdges.
func (s *EventSequence) Edges() []ItemEdge {
	out := make([]ItemEdge, 0, len(s.edges))
	for k, w := range s.edges {
		out = append(out, ItemEdge{
			From:   s.nodes[k.from].event.Item,
			To:     s.nodes[k.to].event.Item,
			Weight: w,
		})
	}
	return out
}

// PositiveEdges returns only the real (weight > 0) edges.
func (s *EventSequence) PositiveEdges() []ItemEdge {
	all := s.Edges()
	out := make([]ItemEdge, 0, len(all))
	for _, e := range all {
		if e.Weight > 0 {
			out = append(out, e)
		}
	}
	return out
}

func (s *EventSequence) itemSet() map[model.Item]struct{} {
	out := make(map[model.Item]struct{}, len(s.order))
	for _, h := range s.order {
		out[s.nodes[h].event.Item] = struct{}{}
	}
	return out
}

type itemPair struct{ from, to model.Item }

// positiveEdgeSet returns the (from, to) Item pairs of real (weight > 0)
// edges only. Structural equality and containment are defined over this
// set — virtual edges are excluded from both sides, so two sequences
// with the same real adjacency but different incidental virtual-edge
// topology still compare equal.
func (s *EventSequence) positiveEdgeSet() map[itemPair]struct{} {
	out := make(map[itemPair]struct{})
	for k, w := range s.edges {
		if w > 0 {
			out[itemPair{s.nodes[k.from].event.Item, s.nodes[k.to].event.Item}] = struct{}{}
		}
	}
	return out
}

func (s *EventSequence) edgeWeight(from, to model.Item) (int, bool) {
	fromHandle, ok := s.byItem[from]
	if !ok {
		return 0, false
	}
	toHandle, ok := s.byItem[to]
	if !ok {
		return 0, false
	}
	w, ok := s.edges[edgeKey{from: fromHandle, to: toHandle}]
	return w, ok
}

// Equal reports structural equality: equal conditions, equal node sets,
// and equal real-edge (weight > 0) sets. Virtual edges, edge weights, and
// node occurrence counts are all ignored for equality — only the
// directly-observed adjacency has to match.
func (s *EventSequence) Equal(other *EventSequence) bool {
	return s.equal(other, other.Conditions())
}

// EqualWithConditions is Equal, but substitutes otherConditions for
// other's own conditions. This lets the explanation module probe "would
// this sequence have matched under a different condition set?" without
// mutating other, which callers may still hold a reference to elsewhere.
func (s *EventSequence) EqualWithConditions(other *EventSequence, otherConditions model.ConditionSet) bool {
	return s.equal(other, otherConditions)
}

func (s *EventSequence) equal(other *EventSequence, otherConditions model.ConditionSet) bool {
	if !s.Conditions().Equal(otherConditions) {
		return false
	}

	selfItems := s.itemSet()
	otherItems := other.itemSet()
	if len(selfItems) != len(otherItems) {
		return false
	}
	for item := range selfItems {
		if _, ok := otherItems[item]; !ok {
			return false
		}
	}

	selfEdges := s.positiveEdgeSet()
	otherEdges := other.positiveEdgeSet()
	if len(selfEdges) != len(otherEdges) {
		return false
	}
	for e := range selfEdges {
		if _, ok := otherEdges[e]; !ok {
			return false
		}
	}

	return true
}

// ContainsSequence reports self ⊇ other: equal conditions, other's nodes
// a subset of self's, and other's real edges a subset of self's real
// edges. Reflexive, transitive, antisymmetric over Equal.
func (s *EventSequence) ContainsSequence(other *EventSequence) bool {
	return s.containsSequence(other, other.Conditions())
}

// ContainsSequenceWithConditions is ContainsSequence with an explicit
// conditions override for other, for the same reason as
// EqualWithConditions.
func (s *EventSequence) ContainsSequenceWithConditions(other *EventSequence, otherConditions model.ConditionSet) bool {
	return s.containsSequence(other, otherConditions)
}

func (s *EventSequence) containsSequence(other *EventSequence, otherConditions model.ConditionSet) bool {
	if !s.Conditions().Equal(otherConditions) {
		return false
	}

	selfItems := s.itemSet()
	for item := range other.itemSet() {
		if _, ok := selfItems[item]; !ok {
			return false
		}
	}

	selfEdges := s.positiveEdgeSet()
	for e := range other.positiveEdgeSet() {
		if _, ok := selfEdges[e]; !ok {
			return false
		}
	}

	return true
}

// MissingEvents returns other's events not present in self's node set —
// used by the explanation module when other contains self.
func (s *EventSequence) MissingEvents(other *EventSequence) []model.Event {
	selfItems := s.itemSet()
	var missing []model.Event
	for _, ev := range other.Nodes() {
		if _, ok := selfItems[ev.Item]; !ok {
			missing = append(missing, ev)
		}
	}
	return missing
}

// Merge returns self + other: requires self == other, then accumulates
// node occurrences and edge weights for every pair that is an edge (real
// or virtual) on both sides. No node or edge is ever added: repeated real
// observations of the same sequence raise its edge weights (1+1=2, and
// so on), which is how the learner measures confidence. Because both
// sides must have the same real-edge set, an edge that is virtual in self
// is virtual in other too, so merging never promotes a virtual edge to
// positive weight.
func (s *EventSequence) Merge(other *EventSequence) (*EventSequence, error) {
	if !s.Equal(other) {
		return nil, errs.ErrIncompatibleMerge
	}

	result := s.Copy()

	for _, h := range other.order {
		otherNode := other.nodes[h]
		if resultHandle, ok := result.byItem[otherNode.event.Item]; ok {
			result.nodes[resultHandle].occurrence += otherNode.occurrence
		}
	}

	for k, weight := range other.edges {
		fromItem := other.nodes[k.from].event.Item
		toItem := other.nodes[k.to].event.Item
		resultFrom, okF := result.byItem[fromItem]
		resultTo, okT := result.byItem[toItem]
		if !okF || !okT {
			continue
		}
		rk := edgeKey{from: resultFrom, to: resultTo}
		if _, exists := result.edges[rk]; exists {
			result.edges[rk] += weight
		}
	}

	return result, nil
}

// IsAnomaly reports whether other is anomalous against self under weight
// threshold w: true if other is structurally unequal to self, or if any
// positive-weight edge other observes is also present in self with
// weight below w.
func (s *EventSequence) IsAnomaly(other *EventSequence, w int) bool {
	return s.isAnomaly(other, w, other.Conditions())
}

// IsAnomalyWithConditions is IsAnomaly with an explicit conditions
// override for other, for the same reason as EqualWithConditions.
func (s *EventSequence) IsAnomalyWithConditions(other *EventSequence, w int, otherConditions model.ConditionSet) bool {
	return s.isAnomaly(other, w, otherConditions)
}

func (s *EventSequence) isAnomaly(other *EventSequence, w int, otherConditions model.ConditionSet) bool {
	if !s.equal(other, otherConditions) {
		return true
	}

	for _, e := range other.PositiveEdges() {
		if selfWeight, ok := s.edgeWeight(e.From, e.To); ok {
			if selfWeight < w {
				return true
			}
		}
	}

	return false
}

// NodeSimilarity is |V ∩ V_other| / |V_other| (0 if other is empty).
func (s *EventSequence) NodeSimilarity(other *EventSequence) float64 {
	otherItems := other.itemSet()
	if len(otherItems) == 0 {
		return 0
	}
	selfItems := s.itemSet()
	common := 0
	for item := range selfItems {
		if _, ok := otherItems[item]; ok {
			common++
		}
	}
	return float64(common) / float64(len(otherItems))
}

// EdgeSimilarity is |E⁺ ∩ E⁺_other| / |E⁺_other| (0 if other has no
// positive edges).
func (s *EventSequence) EdgeSimilarity(other *EventSequence) float64 {
	otherEdges := other.positiveEdgeSet()
	if len(otherEdges) == 0 {
		return 0
	}
	selfEdges := s.positiveEdgeSet()
	common := 0
	for e := range selfEdges {
		if _, ok := otherEdges[e]; ok {
			common++
		}
	}
	return float64(common) / float64(len(otherEdges))
}

// ConditionsSimilarity is |C ∩ C_other| / |C_other| (0 if other has no
// conditions).
func (s *EventSequence) ConditionsSimilarity(other *EventSequence) float64 {
	otherConditions := other.Conditions()
	if len(otherConditions) == 0 {
		return 0
	}
	common := s.Conditions().Intersection(otherConditions)
	return float64(len(common)) / float64(len(otherConditions))
}

// CompositeSimilarity is (3·edge + 2·conditions + node) / 3, in [0, 2].
// The divisor is 3, not the sum of the weights (6); the explanation
// module relies on the resulting maximum of 2.0 to rank candidates.
func (s *EventSequence) CompositeSimilarity(other *EventSequence) float64 {
	edge := s.EdgeSimilarity(other)
	conditions := s.ConditionsSimilarity(other)
	node := s.NodeSimilarity(other)
	return (3*edge + 2*conditions + node) / 3
}

// Copy deep-copies nodes, edges, weights, and occurrences, preserving
// insertion order.
func (s *EventSequence) Copy() *EventSequence {
	cp := &EventSequence{
		id:     s.id,
		order:  append([]handle(nil), s.order...),
		byItem: make(map[model.Item]handle, len(s.byItem)),
		nodes:  make(map[handle]*nodeData, len(s.nodes)),
		edges:  make(map[edgeKey]int, len(s.edges)),
	}
	for k, v := range s.byItem {
		cp.byItem[k] = v
	}
	for k, v := range s.nodes {
		nd := *v
		cp.nodes[k] = &nd
	}
	for k, v := range s.edges {
		cp.edges[k] = v
	}
	return cp
}

// Clear empties the graph in place.
func (s *EventSequence) Clear() {
	s.id = 0
	s.order = s.order[:0]
	s.byItem = make(map[model.Item]handle)
	s.nodes = make(map[handle]*nodeData)
	s.edges = make(map[edgeKey]int)
}

// PutNode inserts or updates a node directly with an explicit occurrence
// count, bypassing AddEvent's delay and insertion-order checks. Used by
// the store package to reconstitute a sequence from persisted rows, whose
// node-occurrence and edge-weight pairs already encode everything
// AddEvent would otherwise have derived.
func (s *EventSequence) PutNode(ev model.Event, occurrence int) {
	if h, ok := s.byItem[ev.Item]; ok {
		s.nodes[h].occurrence = occurrence
		return
	}
	h := uuid.New()
	s.nodes[h] = &nodeData{event: ev, occurrence: occurrence}
	s.byItem[ev.Item] = h
	s.order = append(s.order, h)
}

// PutEdge inserts or overwrites an edge's weight directly, implicitly
// calling PutNode(ev, 1) for either endpoint not already present. Used
// alongside PutNode when reconstituting a sequence from storage.
func (s *EventSequence) PutEdge(from, to model.Event, weight int) {
	if _, ok := s.byItem[from.Item]; !ok {
		s.PutNode(from, 1)
	}
	if _, ok := s.byItem[to.Item]; !ok {
		s.PutNode(to, 1)
	}
	s.edges[edgeKey{from: s.byItem[from.Item], to: s.byItem[to.Item]}] = weight
}
