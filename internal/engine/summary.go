package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RunSummary accumulates the outcome of one engine run: how many input
// files were processed, skipped as duplicates, or failed, with failure
// reasons and a coarse distribution of aggregate confidence.
type RunSummary struct {
	mu sync.Mutex

	RunID     string
	StartedAt time.Time

	Processed int
	Skipped   int
	Failed    int

	// Failures maps identity keys to the reason processing failed.
	Failures map[string]string

	// confidence counts per 0.1-wide bucket, [0.0,0.1) through [1.0,1.0]
	confidence [11]int
}

func newRunSummary(runID string) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: time.Now(),
		Failures:  make(map[string]string),
	}
}

func (s *RunSummary) recordProcessed(confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed++
	bucket := int(confidence * 10)
	if bucket < 0 {
		bucket = 0
	}
	if bucket > 10 {
		bucket = 10
	}
	s.confidence[bucket]++
}

func (s *RunSummary) recordSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped++
}

func (s *RunSummary) recordFailed(key, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	s.Failures[key] = reason
}

// String renders the summary for end-of-run logging.
func (s *RunSummary) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d processed, %d skipped, %d failed (elapsed %s)",
		s.RunID, s.Processed, s.Skipped, s.Failed, time.Since(s.StartedAt).Round(time.Millisecond))

	if s.Processed > 0 {
		b.WriteString("\nconfidence:")
		for i, n := range s.confidence {
			if n == 0 {
				continue
			}
			fmt.Fprintf(&b, " [%.1f)=%d", float64(i)/10, n)
		}
	}
	for key, reason := range s.Failures {
		fmt.Fprintf(&b, "\nfailed %s: %s", key, reason)
	}
	return b.String()
}
