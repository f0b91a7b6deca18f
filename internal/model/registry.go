package model

import (
	"fmt"
	"sort"
	"sync"

	"flowatlas/internal/domain"
)

// PriorityOrder is the fixed deterministic predictor order used for
// ensemble tie-breaking and for stable iteration everywhere else.
var PriorityOrder = []string{
	IDStructural,
	IDSequence,
	IDBehavioral,
	IDTransition,
	IDSemantic,
}

// Registry holds the fixed set of predictors, keyed by identity. It
// supports disabling individual predictors (degraded-ensemble operation)
// and identity-keyed state serialization for checkpoints.
type Registry struct {
	mu         sync.RWMutex
	predictors map[string]Predictor
	disabled   map[string]bool
}

// NewRegistry creates a registry over the standard predictor set.
func NewRegistry() *Registry {
	r := &Registry{
		predictors: make(map[string]Predictor),
		disabled:   make(map[string]bool),
	}
	for _, p := range []Predictor{
		NewStructuralPredictor(),
		NewSequencePredictor(),
		NewBehavioralPredictor(),
		NewTransitionPredictor(),
		NewSemanticPredictor(),
	} {
		r.predictors[p.ID()] = p
	}
	return r
}

// Disable removes a predictor from updates and aggregation without
// discarding its state.
func (r *Registry) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[id] = true
}

// Enable re-admits a previously disabled predictor.
func (r *Registry) Enable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, id)
}

// Register admits a predictor outside the standard set. It runs after the
// fixed priority order, votes at the bottom of the weight table, and
// checkpoints under its own ID.
func (r *Registry) Register(p Predictor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictors[p.ID()] = p
}

// Enabled returns the enabled predictors: the standard set in priority
// order, then any registered extras in lexical order.
func (r *Registry) Enabled() []Predictor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Predictor, 0, len(r.predictors))
	seen := make(map[string]bool, len(PriorityOrder))
	for _, id := range PriorityOrder {
		seen[id] = true
		if p, ok := r.predictors[id]; ok && !r.disabled[id] {
			out = append(out, p)
		}
	}

	var extras []string
	for id := range r.predictors {
		if !seen[id] && !r.disabled[id] {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	for _, id := range extras {
		out = append(out, r.predictors[id])
	}
	return out
}

// UpdateAll feeds one batch to every enabled predictor. A failing or
// panicking predictor is isolated: its error is recorded and returned so
// the caller can exclude it from that batch's aggregation, and the
// remaining predictors still run.
func (r *Registry) UpdateAll(appCode string, flows []domain.FlowRecord) map[string]error {
	failures := make(map[string]error)
	for _, p := range r.Enabled() {
		if err := safeUpdate(p, appCode, flows); err != nil {
			failures[p.ID()] = err
		}
	}
	return failures
}

func safeUpdate(p Predictor, appCode string, flows []domain.FlowRecord) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("predictor %s panicked during update: %v", p.ID(), rec)
		}
	}()
	return p.Update(appCode, flows)
}

// PredictAll gathers predictions from every enabled predictor except those
// in the exclude set (the ones that failed this batch's update). A
// predictor whose Predict fails is skipped the same way.
func (r *Registry) PredictAll(appCode string, flows []domain.FlowRecord, knownName string, exclude map[string]error) []domain.Prediction {
	var preds []domain.Prediction
	for _, p := range r.Enabled() {
		if _, failed := exclude[p.ID()]; failed {
			continue
		}
		pred, err := safePredict(p, appCode, flows, knownName)
		if err != nil {
			continue
		}
		preds = append(preds, pred)
	}
	return preds
}

func safePredict(p Predictor, appCode string, flows []domain.FlowRecord, knownName string) (pred domain.Prediction, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("predictor %s panicked during predict: %v", p.ID(), rec)
		}
	}()
	return p.Predict(appCode, flows, knownName)
}

// SerializeAll captures every predictor's state keyed by identity. The
// mapping shape keeps checkpoints forward compatible: a predictor added
// later simply has no key in older checkpoints.
func (r *Registry) SerializeAll() (map[string][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string][]byte, len(r.predictors))
	for id, p := range r.predictors {
		data, err := p.Serialize()
		if err != nil {
			return nil, fmt.Errorf("serialize predictor %s: %w", id, err)
		}
		states[id] = data
	}
	return states, nil
}

// RestoreAll loads predictor states from an identity-keyed checkpoint
// mapping. Predictors without a key are reset to untrained rather than
// failing.
func (r *Registry) RestoreAll(states map[string][]byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.predictors {
		data, ok := states[id]
		if !ok {
			data = nil
		}
		if err := p.Deserialize(data); err != nil {
			return fmt.Errorf("restore predictor %s: %w", id, err)
		}
	}
	return nil
}
