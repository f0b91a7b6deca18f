package model

import (
	"testing"

	"flowatlas/internal/domain"
)

func TestSequencePredict(t *testing.T) {
	t.Run("no history yields zero confidence", func(t *testing.T) {
		p := NewSequencePredictor()
		pred, _ := p.Predict("ACDA", nil, "")
		if pred.Confidence != 0 {
			t.Errorf("expected zero confidence, got %f", pred.Confidence)
		}
	})

	t.Run("confidence grows across stable batches", func(t *testing.T) {
		p := NewSequencePredictor()
		flows := inboundFlows("CUSTDB", "APP1", 5432, 10)

		p.Update("CUSTDB", flows)
		first, _ := p.Predict("CUSTDB", flows, "")

		for i := 0; i < 4; i++ {
			p.Update("CUSTDB", flows)
		}
		later, _ := p.Predict("CUSTDB", flows, "")

		if later.Confidence <= first.Confidence {
			t.Errorf("expected confidence growth: %f then %f", first.Confidence, later.Confidence)
		}
		if later.Zone != domain.ZoneData {
			t.Errorf("expected DATA_TIER, got %s", later.Zone)
		}
	})

	t.Run("a divergent batch registers drift and dampens confidence", func(t *testing.T) {
		p := NewSequencePredictor()
		steady := inboundFlows("CUSTDB", "APP1", 5432, 10)
		for i := 0; i < 5; i++ {
			p.Update("CUSTDB", steady)
		}
		stable, _ := p.Predict("CUSTDB", steady, "")

		// A burst two orders of magnitude larger than the profile.
		burst := inboundFlows("CUSTDB", "APP1", 5432, 800)
		p.Update("CUSTDB", burst)
		drifted, _ := p.Predict("CUSTDB", burst, "")

		if drifted.Confidence >= stable.Confidence {
			t.Errorf("expected drift to dampen confidence: %f then %f",
				stable.Confidence, drifted.Confidence)
		}
	})
}

func TestSequenceSerializeRoundTrip(t *testing.T) {
	p := NewSequencePredictor()
	for i := 0; i < 3; i++ {
		p.Update("CUSTDB", inboundFlows("CUSTDB", "APP1", 5432, 10))
	}

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored := NewSequencePredictor()
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before, _ := p.Predict("CUSTDB", nil, "")
	after, _ := restored.Predict("CUSTDB", nil, "")
	if before.Zone != after.Zone || before.Confidence != after.Confidence {
		t.Errorf("round-trip diverged: %s/%f vs %s/%f",
			before.Zone, before.Confidence, after.Zone, after.Confidence)
	}
}
