package model

import (
	"encoding/json"
	"strings"

	"flowatlas/internal/domain"
)

// zoneTokens maps lexical fragments found in application names and codes
// to zone hints. Matching is case-insensitive substring matching, checked
// in declaration order; the first group with a hit wins.
var zoneTokens = []struct {
	zone   domain.Zone
	tokens []string
}{
	{domain.ZoneData, []string{"db", "sql", "data", "store", "dwh", "warehouse", "oracle", "postgres", "mongo"}},
	{domain.ZoneCache, []string{"cache", "redis", "memcache"}},
	{domain.ZoneMessaging, []string{"kafka", "queue", "broker", "rabbit", "msg", "esb", "bus"}},
	{domain.ZoneWeb, []string{"web", "www", "portal", "front", "cdn", "proxy", "gateway", "gw"}},
	{domain.ZoneManagement, []string{"admin", "mgmt", "monitor", "ops", "deploy", "jump"}},
	{domain.ZoneExternal, []string{"ext", "partner", "vendor", "saas"}},
	{domain.ZoneApp, []string{"pay", "bank", "trade", "bill", "order", "svc", "api", "app", "engine", "core"}},
}

// SemanticPredictor classifies applications from lexical patterns in their
// names alone. It is the only predictor guaranteed to produce a result
// with zero flow input, which gives the ensemble 100% coverage; its
// confidence is capped well below anything backed by observed traffic.
type SemanticPredictor struct{}

// NewSemanticPredictor creates the name-pattern predictor. It carries no
// learned state; the rules are static.
func NewSemanticPredictor() *SemanticPredictor {
	return &SemanticPredictor{}
}

func (p *SemanticPredictor) ID() string { return IDSemantic }

// Predict matches name tokens against the rule table. A miss yields
// UNKNOWN at confidence 0 rather than an error.
func (p *SemanticPredictor) Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error) {
	pred := domain.Prediction{
		ModelID: IDSemantic,
		AppCode: appCode,
		Zone:    domain.ZoneUnknown,
	}

	subject := strings.ToLower(appCode + " " + knownName)

	for _, group := range zoneTokens {
		hits := 0
		for _, token := range group.tokens {
			if strings.Contains(subject, token) {
				hits++
			}
		}
		if hits > 0 {
			pred.Zone = group.zone
			pred.Confidence = 0.3
			if hits > 1 {
				pred.Confidence = 0.35
			}
			return pred, nil
		}
	}

	return pred, nil
}

// Update is a no-op; the lexical rules do not learn.
func (p *SemanticPredictor) Update(appCode string, flows []domain.FlowRecord) error {
	return nil
}

func (p *SemanticPredictor) Serialize() ([]byte, error) {
	return json.Marshal(struct{}{})
}

func (p *SemanticPredictor) Deserialize(data []byte) error {
	return nil
}
