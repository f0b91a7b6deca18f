// Package ensemble combines the outputs of the predictor registry into a
// single authoritative TopologyRecord per application using
// confidence-weighted voting.
package ensemble

import (
	"time"

	"flowatlas/internal/domain"
	"flowatlas/internal/model"
)

// Weights is the static priority weight table keyed by predictor identity.
// The effective vote of a prediction is its own confidence multiplied by
// this weight.
type Weights map[string]float64

// DefaultWeights is the documented, tunable default weighting. Structural
// evidence outranks temporal and behavioral inference, which outrank
// propagated and purely lexical signals.
func DefaultWeights() Weights {
	return Weights{
		model.IDStructural: 1.0,
		model.IDSequence:   0.8,
		model.IDBehavioral: 0.7,
		model.IDTransition: 0.6,
		model.IDSemantic:   0.4,
	}
}

// priorityRank returns the tie-break rank of a predictor; lower wins.
func priorityRank(id string) int {
	for i, known := range model.PriorityOrder {
		if known == id {
			return i
		}
	}
	return len(model.PriorityOrder)
}

// Aggregator merges predictions into topology records.
type Aggregator struct {
	weights Weights
}

// New creates an aggregator with the given weight table; nil uses the
// defaults.
func New(weights Weights) *Aggregator {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Aggregator{weights: weights}
}

func (a *Aggregator) weightOf(id string) float64 {
	if w, ok := a.weights[id]; ok {
		return w
	}
	// Unknown predictors vote at the bottom of the table.
	return 0.1
}

// Aggregate folds a batch of predictions into the application's record.
// prev is the current record, or nil on first sighting; the returned
// record preserves prev's dependency knowledge (records mutate
// monotonically).
//
// Votes are grouped by zone label; each prediction contributes its own
// confidence scaled by the predictor's static weight. The winning zone is
// the highest cumulative vote, ties broken by fixed predictor priority.
// Aggregate confidence is the winning share of the total vote scaled by
// the winning zone's strongest supporting prediction, clamped to [0,1]:
// a lone weak vote wins its zone but cannot masquerade as certainty.
func (a *Aggregator) Aggregate(appCode, knownName string, preds []domain.Prediction, prev *domain.TopologyRecord) *domain.TopologyRecord {
	rec := domain.NewTopologyRecord(appCode)
	if prev != nil {
		rec.Zone = prev.Zone
		rec.AggregateConfidence = prev.AggregateConfidence
		rec.Dependencies = append(rec.Dependencies, prev.Dependencies...)
		rec.Characteristics = append(rec.Characteristics, prev.Characteristics...)
		rec.Name = prev.Name
	}
	if knownName != "" {
		rec.Name = knownName
	}

	type tally struct {
		weight   float64
		bestRank int
		bestConf float64
	}
	votes := make(map[domain.Zone]*tally)
	var total float64

	for _, pred := range preds {
		if !pred.Usable() {
			continue
		}
		w := a.weightOf(pred.ModelID) * pred.Confidence
		total += w

		t, ok := votes[pred.Zone]
		if !ok {
			t = &tally{bestRank: priorityRank(pred.ModelID)}
			votes[pred.Zone] = t
		}
		t.weight += w
		if r := priorityRank(pred.ModelID); r < t.bestRank {
			t.bestRank = r
		}
		if pred.Confidence > t.bestConf {
			t.bestConf = pred.Confidence
		}
	}

	if total > 0 {
		var winner domain.Zone
		var winning *tally
		for zone, t := range votes {
			if winning == nil ||
				t.weight > winning.weight ||
				(t.weight == winning.weight && t.bestRank < winning.bestRank) {
				winner = zone
				winning = t
			}
		}
		rec.Zone = winner
		rec.AggregateConfidence = clamp01(winning.weight / total * winning.bestConf)
	} else if prev == nil {
		// No usable vote at all: explicit UNKNOWN fallback.
		rec.Zone = domain.ZoneUnknown
		rec.AggregateConfidence = 0
		rec.Dependencies = make([]domain.Dependency, 0)
	}

	// Merge dependency candidates from every prediction, including the
	// zero-confidence ones; observed-over-predicted is enforced by the
	// record itself.
	for _, pred := range preds {
		for _, cand := range pred.Dependencies {
			depType := cand.Type
			if depType == "" {
				depType = domain.DepTypeService
			}
			rec.MergeDependency(domain.Dependency{
				Target:     cand.Target,
				Type:       depType,
				Confidence: clamp01(cand.Confidence),
				Observed:   cand.Observed,
			})
		}
	}

	rec.SortDependencies()
	rec.UpdatedAt = time.Now()
	return rec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
