// Package engine coordinates incremental topology updates: it schedules
// input batches, feeds every enabled predictor, aggregates their votes
// into per-application records, and checkpoints model and ledger state
// so a restart resumes where the last run left off.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowatlas/internal/checkpoint"
	"flowatlas/internal/domain"
	"flowatlas/internal/ensemble"
	"flowatlas/internal/ledger"
	"flowatlas/internal/metrics"
	"flowatlas/internal/model"
	"flowatlas/internal/repository"
	"flowatlas/internal/service"
	"flowatlas/internal/source"
)

// Options wires the engine's collaborators together.
type Options struct {
	Source     source.Source
	Registry   *model.Registry
	Aggregator *ensemble.Aggregator
	Ledger     *ledger.Ledger
	Repo       repository.Repository
	Service    *service.TopologyService
	EventBus   *service.EventBus
	Store      *checkpoint.Store
	Metrics    *metrics.Metrics // nil disables instrumentation

	FileTimeout        time.Duration
	CheckpointInterval int // checkpoint after every N processed files
	MaxConcurrentApps  int

	// InputDir is watched for new batch files in watch mode.
	InputDir      string
	WatchInterval time.Duration
}

// Engine is the incremental update coordinator.
type Engine struct {
	opts    Options
	runID   string
	summary *RunSummary

	// procMu is the quiescence barrier: files process under the read
	// lock, checkpoints take the write lock, so a snapshot never catches
	// a file between model absorption and its ledger mark.
	procMu sync.RWMutex

	mu              sync.Mutex // guards seq and sinceCheckpoint
	seq             uint64
	sinceCheckpoint int
}

// New creates an engine for one run. Each run gets a fresh identifier
// that tags its checkpoints and summary.
func New(opts Options) *Engine {
	if opts.FileTimeout <= 0 {
		opts.FileTimeout = 30 * time.Second
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 10
	}
	if opts.MaxConcurrentApps <= 0 {
		opts.MaxConcurrentApps = 1
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 10 * time.Second
	}

	runID := uuid.NewString()
	return &Engine{
		opts:    opts,
		runID:   runID,
		summary: newRunSummary(runID),
		seq:     1,
	}
}

// Summary returns the accumulating run summary.
func (e *Engine) Summary() *RunSummary {
	return e.summary
}

// Recover restores model and ledger state from the newest readable
// checkpoint. A missing checkpoint means a cold start; files ingested
// after the restored checkpoint was written are simply replayed, since
// the ledger no longer remembers them.
func (e *Engine) Recover(ctx context.Context) error {
	cp, err := e.opts.Store.Latest()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		log.Println("No checkpoint found, starting cold")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	if err := e.opts.Registry.RestoreAll(cp.ModelStates()); err != nil {
		return fmt.Errorf("restore models: %w", err)
	}
	e.opts.Ledger.Restore(cp.Ledger)

	e.mu.Lock()
	e.seq = cp.Sequence + 1
	e.mu.Unlock()

	stats := e.opts.Ledger.Stats()
	log.Printf("Recovered from checkpoint %d (run %s): %d files processed, %d pending",
		cp.Sequence, cp.RunID, stats.Processed, stats.Pending)
	return nil
}

// ProcessRef loads one input file and runs it through the pipeline.
func (e *Engine) ProcessRef(ctx context.Context, ref source.FileRef) error {
	batch, err := e.opts.Source.Load(ctx, ref)
	if err != nil {
		// No content fingerprint, so the ledger cannot track this file;
		// it will be retried whenever it is listed again.
		if e.opts.Metrics != nil {
			e.opts.Metrics.FilesFailedTotal.Inc()
		}
		e.summary.recordFailed(ref.Name, err.Error())
		return fmt.Errorf("load %s: %w", ref.Name, err)
	}
	return e.ProcessBatch(ctx, batch)
}

// ProcessBatch runs one parsed batch through registration, model
// updates, prediction, aggregation, and persistence. Duplicate batches
// are skipped without touching any model.
func (e *Engine) ProcessBatch(ctx context.Context, batch *source.Batch) error {
	processed, err := e.processBatch(ctx, batch)
	if processed {
		e.maybeCheckpoint()
	}
	return err
}

// inference is the model phase's output: which predictors failed their
// update, and the predictions of the rest.
type inference struct {
	updateErrs map[string]error
	preds      []domain.Prediction
}

// processBatch runs the pipeline for one batch under the quiescence read
// lock. A file's flows are absorbed into the models at most once: the
// ledger's absorbed mark is set before the update phase and survives
// failed attempts, so a retry re-predicts but never re-updates.
func (e *Engine) processBatch(ctx context.Context, batch *source.Batch) (bool, error) {
	e.procMu.RLock()
	defer e.procMu.RUnlock()

	if e.opts.Ledger.Register(batch.Identity) == ledger.RegisterDuplicate {
		if e.opts.Metrics != nil {
			e.opts.Metrics.FilesSkippedTotal.Inc()
		}
		e.summary.recordSkipped()
		return false, nil
	}
	if err := e.opts.Ledger.MarkProcessing(batch.Identity); err != nil {
		return false, e.fail(batch, fmt.Sprintf("ledger transition: %v", err))
	}

	// Everything that can fail without touching model state happens
	// before the update phase, so those failures retry from scratch.
	if err := ctx.Err(); err != nil {
		return false, e.fail(batch, fmt.Sprintf("cancelled before processing: %v", err))
	}
	prev, err := e.opts.Repo.GetTopology(ctx, batch.AppCode)
	if err != nil {
		return false, e.fail(batch, fmt.Sprintf("load previous record: %v", err))
	}

	replay := e.opts.Ledger.Absorbed(batch.Identity)
	if !replay {
		if err := e.opts.Ledger.MarkAbsorbed(batch.Identity); err != nil {
			return false, e.fail(batch, fmt.Sprintf("ledger transition: %v", err))
		}
	}

	// The model phase runs in its own goroutine so a hung predictor
	// cannot leave the file processing forever. A predictor's update
	// failure disables only its own vote for this batch.
	fctx, cancel := context.WithTimeout(ctx, e.opts.FileTimeout)
	defer cancel()

	done := make(chan inference, 1)
	go func() {
		var inf inference
		if !replay {
			inf.updateErrs = e.opts.Registry.UpdateAll(batch.AppCode, batch.Flows)
		}
		inf.preds = e.opts.Registry.PredictAll(batch.AppCode, batch.Flows, batch.AppName, inf.updateErrs)
		done <- inf
	}()

	var inf inference
	select {
	case inf = <-done:
	case <-fctx.Done():
		return false, e.fail(batch, fmt.Sprintf("model phase: %v", fctx.Err()))
	}
	for id, err := range inf.updateErrs {
		log.Printf("Predictor %s failed to update on %s: %v", id, batch.Identity.Name, err)
	}

	// The flows are absorbed now, so the file rolls forward to its
	// ledger mark even under cancellation; the next checkpoint must see
	// models and ledger at the same boundary.
	pctx := context.WithoutCancel(ctx)

	rec := e.opts.Aggregator.Aggregate(batch.AppCode, batch.AppName, inf.preds, prev)
	rec.InferCharacteristics(batch.Flows)

	if err := e.opts.Service.SaveTopology(pctx, rec); err != nil {
		return false, e.fail(batch, fmt.Sprintf("save topology: %v", err))
	}

	if err := e.opts.Ledger.MarkProcessed(batch.Identity); err != nil {
		return false, e.fail(batch, fmt.Sprintf("ledger transition: %v", err))
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.FilesProcessedTotal.Inc()
		e.opts.Metrics.AggregateConfidence.Observe(rec.AggregateConfidence)
	}
	e.summary.recordProcessed(rec.AggregateConfidence)

	return true, nil
}

func (e *Engine) fail(batch *source.Batch, reason string) error {
	if err := e.opts.Ledger.MarkFailed(batch.Identity, reason); err != nil {
		log.Printf("Failed to mark %s failed: %v", batch.Identity.Key(), err)
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.FilesFailedTotal.Inc()
	}
	e.summary.recordFailed(batch.Identity.Key(), reason)
	return fmt.Errorf("process %s: %s", batch.Identity.Name, reason)
}

// maybeCheckpoint writes a checkpoint once enough files have been
// processed since the last one. A failed write is logged and counted
// but never interrupts processing; the next interval retries.
func (e *Engine) maybeCheckpoint() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sinceCheckpoint++
	if e.sinceCheckpoint < e.opts.CheckpointInterval {
		return
	}
	if err := e.writeCheckpointLocked(); err != nil {
		log.Printf("Checkpoint write failed: %v", err)
	}
}

// Checkpoint forces a checkpoint write, regardless of how many files
// have been processed since the last one. Called on shutdown.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeCheckpointLocked()
}

func (e *Engine) writeCheckpointLocked() error {
	// Quiesce in-flight files so model states and the ledger serialize
	// at the same batch boundary.
	e.procMu.Lock()
	defer e.procMu.Unlock()

	states, err := e.opts.Registry.SerializeAll()
	if err != nil {
		if e.opts.Metrics != nil {
			e.opts.Metrics.CheckpointErrors.Inc()
		}
		return fmt.Errorf("serialize models: %w", err)
	}

	cp := &checkpoint.Checkpoint{
		Sequence: e.seq,
		RunID:    e.runID,
		Models:   checkpoint.RawModels(states),
		Ledger:   e.opts.Ledger.Snapshot(),
	}
	if err := e.opts.Store.Write(cp); err != nil {
		if e.opts.Metrics != nil {
			e.opts.Metrics.CheckpointErrors.Inc()
		}
		return err
	}

	e.seq++
	e.sinceCheckpoint = 0

	if e.opts.EventBus != nil {
		e.opts.EventBus.Publish(service.Event{
			Type:    service.EventCheckpointSaved,
			Payload: map[string]interface{}{"sequence": cp.Sequence, "run_id": e.runID},
		})
	}
	return nil
}
