package domain

// DependencyCandidate is a single dependency proposal from a predictor.
type DependencyCandidate struct {
	Target     string         `json:"target"`
	Type       DependencyType `json:"type,omitempty"`
	Confidence float64        `json:"confidence"`
	Observed   bool           `json:"observed"`
}

// Prediction is the transient output of one predictor for one application.
// It is produced per inference, consumed by the ensemble aggregator, and
// never persisted.
type Prediction struct {
	ModelID      string                `json:"model_id"`
	AppCode      string                `json:"app_code"`
	Zone         Zone                  `json:"zone_label"`
	Dependencies []DependencyCandidate `json:"dependency_candidates,omitempty"`
	Confidence   float64               `json:"confidence"`
}

// Usable reports whether the prediction carries any signal worth voting
// with. Zero-confidence predictions are kept out of the ensemble vote but
// may still contribute dependency candidates.
func (p *Prediction) Usable() bool {
	return p.Confidence > 0 && p.Zone != ""
}
