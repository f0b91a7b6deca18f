package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowatlas/internal/checkpoint"
	"flowatlas/internal/domain"
	"flowatlas/internal/ensemble"
	"flowatlas/internal/ledger"
	"flowatlas/internal/model"
	"flowatlas/internal/repository"
	"flowatlas/internal/service"
	"flowatlas/internal/source"
)

type testHarness struct {
	engine   *Engine
	registry *model.Registry
	ledger   *ledger.Ledger
	repo     repository.Repository
	store    *checkpoint.Store
	inputDir string
	ckptDir  string
}

func newHarness(t *testing.T, interval int) *testHarness {
	t.Helper()

	inputDir := t.TempDir()
	ckptDir := t.TempDir()
	return newHarnessAt(t, inputDir, ckptDir, repository.NewMemory(), interval)
}

func newHarnessAt(t *testing.T, inputDir, ckptDir string, repo repository.Repository, interval int) *testHarness {
	t.Helper()

	store, err := checkpoint.NewStore(ckptDir, 3)
	require.NoError(t, err)

	reg := model.NewRegistry()
	led := ledger.New()
	bus := service.NewEventBus()
	svc := service.NewTopologyService(repo, led, bus)

	eng := New(Options{
		Source:             source.NewDirSource(inputDir),
		Registry:           reg,
		Aggregator:         ensemble.New(ensemble.DefaultWeights()),
		Ledger:             led,
		Repo:               repo,
		Service:            svc,
		EventBus:           bus,
		Store:              store,
		FileTimeout:        5 * time.Second,
		CheckpointInterval: interval,
		MaxConcurrentApps:  2,
		InputDir:           inputDir,
		WatchInterval:      time.Minute,
	})

	return &testHarness{
		engine:   eng,
		registry: reg,
		ledger:   led,
		repo:     repo,
		store:    store,
		inputDir: inputDir,
		ckptDir:  ckptDir,
	}
}

func writeBatch(t *testing.T, dir, name, appCode string, flows []domain.FlowRecord) {
	t.Helper()

	data, err := json.Marshal(map[string]interface{}{
		"app_code": appCode,
		"flows":    flows,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func dbClientFlows(appCode, target string, n int) []domain.FlowRecord {
	flows := make([]domain.FlowRecord, 0, n)
	for i := 0; i < n; i++ {
		flows = append(flows, domain.FlowRecord{
			AppCode:        appCode,
			SourceEndpoint: appCode,
			DestEndpoint:   target,
			Protocol:       "tcp",
			Port:           5432,
			BytesIn:        2048,
			BytesOut:       512,
		})
	}
	return flows
}

func TestRunBatchProcessesInput(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 12))
	writeBatch(t, h.inputDir, "acda-002.json", "ACDA", dbClientFlows("ACDA", "acda-db", 15))

	summary, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	rec, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)
	require.NotNil(t, rec)

	var found *domain.Dependency
	for i := range rec.Dependencies {
		if rec.Dependencies[i].Target == "acda-db" {
			found = &rec.Dependencies[i]
		}
	}
	require.NotNil(t, found, "expected observed dependency on acda-db")
	assert.True(t, found.Observed)
	assert.Equal(t, domain.DepTypeDatabase, found.Type)

	// Batch mode always finishes with a checkpoint.
	cp, err := h.store.Latest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cp.Sequence, uint64(1))
}

func TestDuplicateContentSkipped(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 8))
	_, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)

	// Same bytes under a new name fingerprints identically.
	orig, err := os.ReadFile(filepath.Join(h.inputDir, "acda-001.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.inputDir, "acda-001-copy.json"), orig, 0o644))

	before, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)

	summary, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed, "no additional files should process")
	assert.Equal(t, 2, summary.Skipped)

	after, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)
	assert.Equal(t, before.Zone, after.Zone)
	assert.Equal(t, before.AggregateConfidence, after.AggregateConfidence)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "duplicate must not touch the record")
}

func TestMalformedFileCountedWithoutAbort(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 8))
	require.NoError(t, os.WriteFile(filepath.Join(h.inputDir, "broken.json"), []byte("{nope"), 0o644))

	summary, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Failures, "broken.json")
}

func TestRecoveryResumesAfterRestart(t *testing.T) {
	inputDir := t.TempDir()
	ckptDir := t.TempDir()
	repo := repository.NewMemory()

	writeBatch(t, inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 12))
	writeBatch(t, inputDir, "bill-001.json", "BILLING", dbClientFlows("BILLING", "billing-db", 9))

	h1 := newHarnessAt(t, inputDir, ckptDir, repo, 10)
	summary, err := h1.engine.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)

	// Simulated restart: fresh registry and ledger, same checkpoint dir.
	h2 := newHarnessAt(t, inputDir, ckptDir, repo, 10)
	require.NoError(t, h2.engine.Recover(context.Background()))

	stats := h2.ledger.Stats()
	assert.Equal(t, 2, stats.Processed)

	summary2, err := h2.engine.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary2.Processed, "recovered ledger should skip everything")
	assert.Equal(t, 2, summary2.Skipped)
}

func TestRecoveryColdStart(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.engine.Recover(context.Background()))
	assert.Equal(t, 0, h.ledger.Stats().Processed)
}

func TestCheckpointInterval(t *testing.T) {
	h := newHarness(t, 1)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 8))
	writeBatch(t, h.inputDir, "acda-002.json", "ACDA", dbClientFlows("ACDA", "acda-db", 8))

	_, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)

	// One checkpoint per file plus the final one.
	cp, err := h.store.Latest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cp.Sequence, uint64(3))
}

func TestDegradedEnsembleStillClassifies(t *testing.T) {
	h := newHarness(t, 10)

	h.registry.Disable("structural")
	h.registry.Disable("sequence")
	h.registry.Disable("behavioral")
	h.registry.Disable("transition")

	writeBatch(t, h.inputDir, "xyzpay-001.json", "XYZPAY", dbClientFlows("XYZPAY", "pay-db", 3))

	summary, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	rec, err := h.repo.GetTopology(context.Background(), "XYZPAY")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ZoneApp, rec.Zone, "name token should carry the vote alone")
	assert.Greater(t, rec.AggregateConfidence, 0.0)
}

// An app that arrives with no flow records at all still gets a zone
// from its name token, but never at a confidence rivalling an app whose
// classification rests on observed traffic.
func TestZeroFlowAppClassifiedBelowObserved(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 60))
	writeBatch(t, h.inputDir, "xyzpay-001.json", "XYZPAY", nil)

	summary, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)

	pay, err := h.repo.GetTopology(context.Background(), "XYZPAY")
	require.NoError(t, err)
	require.NotNil(t, pay)
	assert.Equal(t, domain.ZoneApp, pay.Zone, "name token should still place the app")
	assert.Greater(t, pay.AggregateConfidence, 0.0)

	acda, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)
	require.NotNil(t, acda)
	assert.Greater(t, acda.AggregateConfidence, pay.AggregateConfidence,
		"observed traffic must outweigh a name-only classification")
}

func mixedFlows(appCode, dbTarget, webTarget string, n int) []domain.FlowRecord {
	flows := make([]domain.FlowRecord, 0, 2*n)
	for i := 0; i < n; i++ {
		flows = append(flows,
			domain.FlowRecord{
				AppCode:        appCode,
				SourceEndpoint: appCode,
				DestEndpoint:   dbTarget,
				Protocol:       "tcp",
				Port:           5432,
				BytesIn:        4096,
				BytesOut:       256,
			},
			domain.FlowRecord{
				AppCode:        appCode,
				SourceEndpoint: appCode,
				DestEndpoint:   webTarget,
				Protocol:       "tcp",
				Port:           443,
				BytesIn:        1024,
				BytesOut:       512,
			})
	}
	return flows
}

// An app with real traffic to a database must end up with an observed
// dependency that outranks the same target propagated to a dataless,
// name-similar app.
func TestObservedOutranksPropagated(t *testing.T) {
	h := newHarness(t, 10)

	for i, name := range []string{"acda-001.json", "acda-002.json", "acda-003.json"} {
		writeBatch(t, h.inputDir, name, "ACDA", mixedFlows("ACDA", "acda-db", "acda-web", 10+i))
	}
	// Widen the estate so similarity propagation is allowed to kick in.
	for _, app := range []string{"BILLING", "CRMSYS", "HRPORT", "INVENT"} {
		writeBatch(t, h.inputDir, app+".json", app, dbClientFlows(app, app+"-db", 6))
	}
	_, err := h.engine.RunBatch(context.Background())
	require.NoError(t, err)

	// The dataless lookalike arrives in a later pass, once the matrix
	// already covers the estate.
	writeBatch(t, h.inputDir, "acda2-001.json", "ACDA2", nil)
	_, err = h.engine.RunBatch(context.Background())
	require.NoError(t, err)

	acda, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)
	require.NotNil(t, acda)
	acda2, err := h.repo.GetTopology(context.Background(), "ACDA2")
	require.NoError(t, err)
	require.NotNil(t, acda2)

	depOn := func(rec *domain.TopologyRecord, target string) *domain.Dependency {
		for i := range rec.Dependencies {
			if rec.Dependencies[i].Target == target {
				return &rec.Dependencies[i]
			}
		}
		return nil
	}

	observed := depOn(acda, "acda-db")
	require.NotNil(t, observed)
	assert.True(t, observed.Observed)

	propagated := depOn(acda2, "acda-db")
	require.NotNil(t, propagated, "expected dependency propagated from the lookalike")
	assert.False(t, propagated.Observed)
	assert.Greater(t, observed.Confidence, propagated.Confidence)
}

// flakyRepo fails the first n topology saves, then behaves normally.
type flakyRepo struct {
	repository.Repository
	failures int
}

func (r *flakyRepo) UpsertTopology(ctx context.Context, rec *domain.TopologyRecord) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("simulated storage outage")
	}
	return r.Repository.UpsertTopology(ctx, rec)
}

// gatedPredictor blocks inside Update until released, signalling entry
// so a test can observe the file mid-absorption.
type gatedPredictor struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedPredictor() *gatedPredictor {
	return &gatedPredictor{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (p *gatedPredictor) ID() string { return "gated" }

func (p *gatedPredictor) Update(string, []domain.FlowRecord) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return nil
}

func (p *gatedPredictor) Predict(string, []domain.FlowRecord, string) (domain.Prediction, error) {
	return domain.Prediction{ModelID: "gated", Zone: domain.ZoneUnknown}, nil
}

func (p *gatedPredictor) Serialize() ([]byte, error) { return []byte("{}"), nil }
func (p *gatedPredictor) Deserialize([]byte) error   { return nil }

func loadBatch(t *testing.T, h *testHarness, name string) *source.Batch {
	t.Helper()
	batch, err := h.engine.opts.Source.Load(context.Background(), source.FileRef{
		Path: filepath.Join(h.inputDir, name),
		Name: name,
	})
	require.NoError(t, err)
	return batch
}

// assertStructuralTotals checks how much flow volume the structural
// predictor has absorbed for one application.
func assertStructuralTotals(t *testing.T, reg *model.Registry, app string, outbound int64, batches int) {
	t.Helper()

	states, err := reg.SerializeAll()
	require.NoError(t, err)

	var state struct {
		Apps map[string]struct {
			Outbound int64 `json:"outbound"`
			Batches  int   `json:"batches"`
		} `json:"apps"`
	}
	require.NoError(t, json.Unmarshal(states[model.IDStructural], &state))

	g, ok := state.Apps[app]
	require.True(t, ok, "no structural state for %s", app)
	assert.Equal(t, outbound, g.Outbound, "outbound flow volume")
	assert.Equal(t, batches, g.Batches, "absorbed batch count")
}

// A file whose save fails after its flows reached the models must not
// feed those flows again on the retry.
func TestFailedSaveDoesNotReplayFlows(t *testing.T) {
	inputDir := t.TempDir()
	ckptDir := t.TempDir()
	flaky := &flakyRepo{Repository: repository.NewMemory(), failures: 1}
	h := newHarnessAt(t, inputDir, ckptDir, flaky, 10)

	writeBatch(t, inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 10))
	batch := loadBatch(t, h, "acda-001.json")

	require.Error(t, h.engine.ProcessBatch(context.Background(), batch))
	assert.Equal(t, 1, h.ledger.Stats().Failed)

	require.NoError(t, h.engine.ProcessBatch(context.Background(), batch))
	assert.Equal(t, 1, h.ledger.Stats().Processed)

	assertStructuralTotals(t, h.registry, "ACDA", 10, 1)

	rec, err := h.repo.GetTopology(context.Background(), "ACDA")
	require.NoError(t, err)
	require.NotNil(t, rec, "retry should have saved the record")
}

// Cancellation before the update phase leaves the models untouched, so
// the retry absorbs the flows exactly once.
func TestCancelledFileRetriesWithoutDoubleCounting(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 10))
	batch := loadBatch(t, h, "acda-001.json")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, h.engine.ProcessBatch(cancelled, batch))
	assert.False(t, h.ledger.Absorbed(batch.Identity), "cancelled file must not absorb")

	require.NoError(t, h.engine.ProcessBatch(context.Background(), batch))
	assertStructuralTotals(t, h.registry, "ACDA", 10, 1)
	assert.Equal(t, 1, h.engine.Summary().Processed)
}

// A predictor that never returns fails the file at the deadline instead
// of wedging the run.
func TestHungPredictorFailsTheFile(t *testing.T) {
	h := newHarness(t, 10)
	h.engine.opts.FileTimeout = 50 * time.Millisecond

	hung := newGatedPredictor()
	h.registry.Register(hung)
	defer close(hung.release)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 5))
	batch := loadBatch(t, h, "acda-001.json")

	start := time.Now()
	err := h.engine.ProcessBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model phase")
	assert.Less(t, time.Since(start), 5*time.Second)

	stats := h.ledger.Stats()
	assert.Equal(t, 1, stats.Failed, "file must be marked failed, not left in flight")
}

// A checkpoint requested while a file is mid-absorption must wait for
// the file to finish, so the snapshot sees models and ledger at the
// same batch boundary.
func TestCheckpointWaitsForInFlightFile(t *testing.T) {
	h := newHarness(t, 100)

	gated := newGatedPredictor()
	h.registry.Register(gated)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 5))
	batch := loadBatch(t, h, "acda-001.json")

	procDone := make(chan error, 1)
	go func() { procDone <- h.engine.ProcessBatch(context.Background(), batch) }()
	<-gated.entered

	ckptDone := make(chan error, 1)
	go func() { ckptDone <- h.engine.Checkpoint() }()

	select {
	case <-ckptDone:
		t.Fatal("checkpoint completed while a file was mid-processing")
	case <-time.After(100 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-procDone)
	require.NoError(t, <-ckptDone)

	cp, err := h.store.Latest()
	require.NoError(t, err)
	for _, entry := range cp.Ledger.Entries {
		if entry.Identity.Key() == batch.Identity.Key() {
			assert.Equal(t, domain.FileStatusProcessed, entry.Status,
				"snapshot caught the file between model update and ledger mark")
			return
		}
	}
	t.Fatal("processed file missing from checkpoint ledger")
}

func TestWatchDrainsExistingInputOnCancel(t *testing.T) {
	h := newHarness(t, 10)

	writeBatch(t, h.inputDir, "acda-001.json", "ACDA", dbClientFlows("ACDA", "acda-db", 8))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, h.engine.RunWatch(ctx))

	assert.Equal(t, 1, h.engine.Summary().Processed)

	// Cancellation writes a final checkpoint.
	cp, err := h.store.Latest()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cp.Sequence, uint64(1))
}
