package model

import (
	"fmt"
	"testing"

	"flowatlas/internal/domain"
)

// seedCorpus observes enough applications to activate the shared cluster
// space.
func seedCorpus(p *BehavioralPredictor) {
	for i := 0; i < MinCorpusApps; i++ {
		app := fmt.Sprintf("DB%02d", i)
		p.Update(app, inboundFlows(app, "APP1", 5432, 20))
	}
}

func TestBehavioralPredict(t *testing.T) {
	t.Run("silent below minimum corpus", func(t *testing.T) {
		p := NewBehavioralPredictor()
		flows := inboundFlows("CUSTDB", "APP1", 5432, 20)
		p.Update("CUSTDB", flows)

		pred, _ := p.Predict("CUSTDB", flows, "")
		if pred.Confidence != 0 {
			t.Errorf("expected zero confidence below corpus minimum, got %f", pred.Confidence)
		}
	})

	t.Run("familiar fingerprints inherit the cluster zone", func(t *testing.T) {
		p := NewBehavioralPredictor()
		seedCorpus(p)

		flows := inboundFlows("NEWDB", "APP1", 5432, 20)
		p.Update("NEWDB", flows)
		pred, _ := p.Predict("NEWDB", flows, "")

		if pred.Zone != domain.ZoneData {
			t.Errorf("expected DATA_TIER from cluster, got %s", pred.Zone)
		}
		if pred.Confidence <= 0.1 {
			t.Errorf("expected non-floor confidence, got %f", pred.Confidence)
		}
	})

	t.Run("zero flows yields zero confidence", func(t *testing.T) {
		p := NewBehavioralPredictor()
		seedCorpus(p)

		pred, _ := p.Predict("GHOST", nil, "")
		if pred.Confidence != 0 {
			t.Errorf("expected zero confidence, got %f", pred.Confidence)
		}
	})
}

func TestBehavioralSerializeRoundTrip(t *testing.T) {
	p := NewBehavioralPredictor()
	seedCorpus(p)
	flows := inboundFlows("NEWDB", "APP1", 5432, 20)
	p.Update("NEWDB", flows)

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored := NewBehavioralPredictor()
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before, _ := p.Predict("NEWDB", flows, "")
	after, _ := restored.Predict("NEWDB", flows, "")
	if before.Zone != after.Zone || before.Confidence != after.Confidence {
		t.Errorf("round-trip diverged: %s/%f vs %s/%f",
			before.Zone, before.Confidence, after.Zone, after.Confidence)
	}
}
