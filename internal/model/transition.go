package model

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"flowatlas/internal/domain"
)

// transitionEdge accumulates observed traffic from one application to one
// target endpoint.
type transitionEdge struct {
	Count int64 `json:"count"`
	Port  int   `json:"port"`
}

type transitionState struct {
	// Matrix is the global cross-application transition table:
	// app code -> target -> observed edge stats.
	Matrix map[string]map[string]*transitionEdge `json:"matrix"`
}

func newTransitionState() *transitionState {
	return &transitionState{Matrix: make(map[string]map[string]*transitionEdge)}
}

func (s *transitionState) clone() *transitionState {
	next := newTransitionState()
	for app, row := range s.Matrix {
		copied := make(map[string]*transitionEdge, len(row))
		for target, edge := range row {
			e := *edge
			copied[target] = &e
		}
		next.Matrix[app] = copied
	}
	return next
}

// TransitionPredictor learns empirical transition probabilities between
// applications and endpoints from observed flows. Its value is dependency
// prediction for applications with little or no direct traffic: mass is
// propagated from name-similar applications at a discount. The matrix is
// global shared state; Update holds the single-writer lock and commits a
// snapshot, Predict reads the last committed snapshot.
type TransitionPredictor struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[transitionState]
}

// NewTransitionPredictor creates an untrained transition predictor.
func NewTransitionPredictor() *TransitionPredictor {
	p := &TransitionPredictor{}
	p.snap.Store(newTransitionState())
	return p
}

func (p *TransitionPredictor) ID() string { return IDTransition }

// Update records outbound transitions from the batch into the global
// matrix.
func (p *TransitionPredictor) Update(appCode string, flows []domain.FlowRecord) error {
	if len(flows) == 0 {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	state := p.snap.Load().clone()
	row, ok := state.Matrix[appCode]
	if !ok {
		row = make(map[string]*transitionEdge)
		state.Matrix[appCode] = row
	}

	for _, f := range flows {
		if !f.IsOutbound() {
			continue
		}
		edge, ok := row[f.DestEndpoint]
		if !ok {
			edge = &transitionEdge{Port: f.Port}
			row[f.DestEndpoint] = edge
		}
		edge.Count++
		edge.Port = f.Port
	}

	p.snap.Store(state)
	return nil
}

// nameSimilarity is a crude lexical affinity in [0,1]: the shared-prefix
// ratio of the two codes. "ACDA" and "ACDA2" score high; unrelated codes
// score zero.
func nameSimilarity(a, b string) float64 {
	a = strings.ToUpper(a)
	b = strings.ToUpper(b)
	if a == b {
		return 1
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}

	common := 0
	for common < len(a) && common < len(b) && a[common] == b[common] {
		common++
	}
	if common < 3 {
		return 0
	}
	return float64(common) / float64(maxLen)
}

// Predict emits dependency candidates from the application's own row when
// it has one, and otherwise propagates rows from name-similar applications
// at discounted confidence. Zone signal is a weak hint from what the
// application's dependencies look like.
func (p *TransitionPredictor) Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error) {
	pred := domain.Prediction{
		ModelID: IDTransition,
		AppCode: appCode,
		Zone:    domain.ZoneUnknown,
	}

	state := p.snap.Load()

	if row, ok := state.Matrix[appCode]; ok && len(row) > 0 {
		var total int64
		for _, edge := range row {
			total += edge.Count
		}
		for target, edge := range row {
			share := float64(edge.Count) / float64(total)
			pred.Dependencies = append(pred.Dependencies, domain.DependencyCandidate{
				Target:     target,
				Type:       domain.DependencyTypeForPort(edge.Port),
				Confidence: clamp01(0.3 + 0.6*share*saturating(float64(edge.Count), 5)),
				Observed:   false,
			})
		}

		// Apps that fan into backends are most likely an app tier.
		pred.Zone = domain.ZoneApp
		pred.Confidence = clamp01(0.25 * saturating(float64(total), 10))
		return pred, nil
	}

	// No direct traffic: propagate from similar applications, but only
	// once the matrix covers enough of the estate to make similarity
	// meaningful.
	if len(state.Matrix) < MinCorpusApps {
		return pred, nil
	}

	type donor struct {
		row map[string]*transitionEdge
		sim float64
	}
	var donors []donor
	for other, row := range state.Matrix {
		if sim := nameSimilarity(appCode, other); sim > 0.5 && len(row) > 0 {
			donors = append(donors, donor{row: row, sim: sim})
		}
	}
	if len(donors) == 0 {
		return pred, nil
	}

	merged := make(map[string]domain.DependencyCandidate)
	for _, d := range donors {
		var total int64
		for _, edge := range d.row {
			total += edge.Count
		}
		for target, edge := range d.row {
			share := float64(edge.Count) / float64(total)
			// Propagated mass is discounted: it can never rival a
			// directly observed dependency.
			conf := clamp01(0.5 * d.sim * (0.3 + 0.6*share*saturating(float64(edge.Count), 5)))
			if existing, ok := merged[target]; !ok || conf > existing.Confidence {
				merged[target] = domain.DependencyCandidate{
					Target:     target,
					Type:       domain.DependencyTypeForPort(edge.Port),
					Confidence: conf,
					Observed:   false,
				}
			}
		}
	}
	for _, cand := range merged {
		pred.Dependencies = append(pred.Dependencies, cand)
	}

	return pred, nil
}

func (p *TransitionPredictor) Serialize() ([]byte, error) {
	return json.Marshal(p.snap.Load())
}

func (p *TransitionPredictor) Deserialize(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if len(data) == 0 {
		p.snap.Store(newTransitionState())
		return nil
	}
	state := newTransitionState()
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	if state.Matrix == nil {
		state.Matrix = make(map[string]map[string]*transitionEdge)
	}
	p.snap.Store(state)
	return nil
}
