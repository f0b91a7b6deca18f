package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"flowatlas/internal/source"
	"flowatlas/internal/watcher"
)

// RunBatch processes every currently available input file once and
// writes a final checkpoint. Files for different applications run
// concurrently; files for the same application run in listing order so
// each app's batches hit the models sequentially.
func (e *Engine) RunBatch(ctx context.Context) (*RunSummary, error) {
	refs, err := e.opts.Source.List(ctx)
	if err != nil {
		return e.summary, err
	}

	// Group batches per application up front. Load failures are counted
	// here; scheduling only sees decodable batches.
	queues := make(map[string][]*source.Batch)
	var order []string
	for _, ref := range refs {
		batch, err := e.opts.Source.Load(ctx, ref)
		if err != nil {
			log.Printf("Failed to load %s: %v", ref.Name, err)
			if e.opts.Metrics != nil {
				e.opts.Metrics.FilesFailedTotal.Inc()
			}
			e.summary.recordFailed(ref.Name, err.Error())
			continue
		}
		if _, seen := queues[batch.AppCode]; !seen {
			order = append(order, batch.AppCode)
		}
		queues[batch.AppCode] = append(queues[batch.AppCode], batch)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrentApps)
	for _, appCode := range order {
		batches := queues[appCode]
		g.Go(func() error {
			for _, batch := range batches {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.ProcessBatch(gctx, batch); err != nil {
					// Recorded in the ledger and summary; keep going.
					log.Printf("%v", err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return e.summary, err
	}

	if err := e.Checkpoint(); err != nil {
		log.Printf("Final checkpoint failed: %v", err)
		return e.summary, err
	}
	return e.summary, nil
}

// RunWatch processes all available input, then keeps watching the input
// directory until the context is cancelled. New files are picked up by
// filesystem notification, with a periodic rescan as a backstop for
// platforms or mounts where notification is unreliable. Cancellation
// finishes the file in flight and writes a final checkpoint.
func (e *Engine) RunWatch(ctx context.Context) error {
	notify := make(chan struct{}, 1)
	w := watcher.New(e.opts.InputDir, func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	go func() {
		if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Directory watch unavailable, relying on rescan: %v", err)
		}
	}()

	ticker := time.NewTicker(e.opts.WatchInterval)
	defer ticker.Stop()

	e.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			if err := e.Checkpoint(); err != nil {
				log.Printf("Final checkpoint failed: %v", err)
			}
			return nil
		case <-notify:
			e.pass(ctx)
		case <-ticker.C:
			e.pass(ctx)
		}
	}
}

// pass runs one sequential sweep over the input directory. The ledger
// makes re-listing cheap: already-processed files register as
// duplicates and are skipped.
func (e *Engine) pass(ctx context.Context) {
	refs, err := e.opts.Source.List(ctx)
	if err != nil {
		log.Printf("Failed to list input: %v", err)
		return
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		if err := e.ProcessRef(ctx, ref); err != nil {
			log.Printf("%v", err)
		}
	}
}
