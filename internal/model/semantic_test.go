package model

import (
	"testing"

	"flowatlas/internal/domain"
)

func TestSemanticPredict(t *testing.T) {
	p := NewSemanticPredictor()

	t.Run("classifies with zero flow input", func(t *testing.T) {
		pred, err := p.Predict("XYZPAY", nil, "XYZ Payments")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pred.Zone == domain.ZoneUnknown {
			t.Error("expected a non-UNKNOWN zone for a payment-named app")
		}
		if pred.Confidence <= 0 || pred.Confidence > 0.4 {
			t.Errorf("expected low positive confidence, got %f", pred.Confidence)
		}
	})

	t.Run("database token maps to data tier", func(t *testing.T) {
		pred, _ := p.Predict("CUSTDB", nil, "Customer Database")
		if pred.Zone != domain.ZoneData {
			t.Errorf("expected DATA_TIER, got %s", pred.Zone)
		}
	})

	t.Run("no match yields unknown at zero confidence", func(t *testing.T) {
		pred, _ := p.Predict("QQ7", nil, "")
		if pred.Zone != domain.ZoneUnknown {
			t.Errorf("expected UNKNOWN, got %s", pred.Zone)
		}
		if pred.Confidence != 0 {
			t.Errorf("expected zero confidence, got %f", pred.Confidence)
		}
	})

	t.Run("update and serialize are inert", func(t *testing.T) {
		if err := p.Update("XYZPAY", nil); err != nil {
			t.Errorf("unexpected update error: %v", err)
		}
		data, err := p.Serialize()
		if err != nil {
			t.Fatalf("unexpected serialize error: %v", err)
		}
		if err := p.Deserialize(data); err != nil {
			t.Errorf("unexpected deserialize error: %v", err)
		}
	})
}
