// Package service exposes the engine's results to downstream
// collaborators: topology queries, change notifications, and the
// administrative operations on the ingestion ledger.
package service

import (
	"context"

	"flowatlas/internal/domain"
	"flowatlas/internal/ledger"
	"flowatlas/internal/repository"
)

// TopologyService provides the query and admin surface over the topology
// state store and the ingestion ledger.
type TopologyService struct {
	repo     repository.Repository
	ledger   *ledger.Ledger
	eventBus *EventBus
}

// NewTopologyService creates a new topology service
func NewTopologyService(repo repository.Repository, l *ledger.Ledger, eventBus *EventBus) *TopologyService {
	return &TopologyService{
		repo:     repo,
		ledger:   l,
		eventBus: eventBus,
	}
}

// GetTopology returns the record for an application. It never reports
// "not found": an application the engine has no data for yields an
// UNKNOWN-zone record at zero confidence.
func (s *TopologyService) GetTopology(ctx context.Context, appCode string) (*domain.TopologyRecord, error) {
	rec, err := s.repo.GetTopology(ctx, appCode)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return domain.NewTopologyRecord(appCode), nil
	}
	return rec, nil
}

// GetAllTopologies returns every known record.
func (s *TopologyService) GetAllTopologies(ctx context.Context) ([]domain.TopologyRecord, error) {
	return s.repo.ListTopologies(ctx)
}

// SaveTopology upserts a record and fires the change notification. The
// update coordinator is the only expected writer.
func (s *TopologyService) SaveTopology(ctx context.Context, rec *domain.TopologyRecord) error {
	if err := s.repo.UpsertTopology(ctx, rec); err != nil {
		return err
	}

	s.eventBus.Publish(Event{
		Type: EventTopologyUpdated,
		Payload: map[string]interface{}{
			"app_code":   rec.AppCode,
			"zone":       string(rec.Zone),
			"confidence": rec.AggregateConfidence,
		},
	})

	return nil
}

// DeleteTopology removes an application's record entirely. Pair with
// ResetLedger when the application should also be re-ingested.
func (s *TopologyService) DeleteTopology(ctx context.Context, appCode string) error {
	if err := s.repo.DeleteTopology(ctx, appCode); err != nil {
		return err
	}

	s.eventBus.Publish(Event{
		Type:    EventTopologyDeleted,
		Payload: map[string]string{"app_code": appCode},
	})

	return nil
}

// ResetLedger clears ingestion state for one application, or all of it
// when appCode is empty.
func (s *TopologyService) ResetLedger(appCode string) {
	if appCode == "" {
		s.ledger.ResetAll()
	} else {
		s.ledger.ResetApp(appCode)
	}

	s.eventBus.Publish(Event{
		Type:    EventLedgerReset,
		Payload: map[string]string{"app_code": appCode},
	})
}

// ForceReprocess drops an identity from the ledger so the next scheduling
// pass processes it again.
func (s *TopologyService) ForceReprocess(id domain.FileIdentity) {
	s.ledger.Reset(id)
}

// Stats returns processed/failed/pending counts with failure reasons.
func (s *TopologyService) Stats() ledger.Stats {
	return s.ledger.Stats()
}

// Subscribe registers a channel for change notifications.
func (s *TopologyService) Subscribe(ch chan<- Event) {
	s.eventBus.Subscribe(ch)
}
