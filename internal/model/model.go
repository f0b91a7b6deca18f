// Package model contains the predictor registry and the fixed set of
// heterogeneous predictors that classify applications from flow data.
//
// Every predictor implements the same contract: predict a zone and
// dependency candidates with confidence, absorb a batch of flow records
// online (no full retrain), and serialize its learned state for
// checkpointing. Predictors degrade gracefully: insufficient data yields
// confidence 0, never an error.
package model

import (
	"flowatlas/internal/domain"
)

// Predictor identities. The set is fixed; checkpoint state is keyed by
// these IDs so a predictor absent from an older checkpoint loads untrained.
const (
	IDStructural = "structural"
	IDSequence   = "sequence"
	IDBehavioral = "behavioral"
	IDTransition = "transition"
	IDSemantic   = "semantic"
)

// MinCorpusApps is the minimum number of distinct applications the shared
// learners (behavioral clustering, transition propagation) need before
// their cross-application machinery activates. Below it they keep
// recording per-app data but stay silent at predict time.
const MinCorpusApps = 5

// Predictor is the contract shared by all ensemble members.
type Predictor interface {
	// ID returns the stable predictor identity used for checkpoint keys
	// and aggregation weights.
	ID() string

	// Predict classifies an application from the given flow batch and its
	// known name. Predictors never fail on thin data; they return a
	// zero-confidence prediction instead.
	Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error)

	// Update absorbs one batch of flow records incrementally.
	Update(appCode string, flows []domain.FlowRecord) error

	// Serialize returns the predictor's learned state for checkpointing.
	Serialize() ([]byte, error)

	// Deserialize restores learned state from a checkpoint. Empty input
	// resets the predictor to untrained.
	Deserialize(data []byte) error
}

// saturating maps a count onto (0,1) with diminishing returns; scale
// controls how quickly confidence accumulates with evidence.
func saturating(n, scale float64) float64 {
	if n <= 0 {
		return 0
	}
	return n / (n + scale)
}

// clamp01 bounds a confidence value to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
