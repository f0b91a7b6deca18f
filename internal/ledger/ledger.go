// Package ledger tracks per-file ingestion identity and status, giving the
// engine at-most-once processing semantics. The ledger itself is in-memory;
// durability comes from being snapshotted into every checkpoint alongside
// predictor state, so a restored ledger always reflects the same batch
// boundary as the restored models.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"flowatlas/internal/domain"
)

// RegisterResult reports whether an identity was new to the ledger.
type RegisterResult string

const (
	RegisterNew       RegisterResult = "new"
	RegisterDuplicate RegisterResult = "duplicate"
)

// Ledger records which input files have been seen, processed, or failed.
// All methods are safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*domain.FileEntry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*domain.FileEntry),
	}
}

// Register records a first sighting of an identity. Re-presenting an
// identity that is already processed or in flight returns duplicate;
// a previously failed identity is re-registered for another attempt.
func (l *Ledger) Register(id domain.FileIdentity) RegisterResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := id.Key()
	if entry, ok := l.entries[key]; ok {
		switch entry.Status {
		case domain.FileStatusProcessed, domain.FileStatusProcessing, domain.FileStatusPending:
			return RegisterDuplicate
		case domain.FileStatusFailed:
			entry.Status = domain.FileStatusPending
			entry.Reason = ""
			return RegisterNew
		}
	}

	l.entries[key] = &domain.FileEntry{
		Identity: id,
		Status:   domain.FileStatusPending,
	}
	return RegisterNew
}

// MarkProcessing transitions an identity to processing.
func (l *Ledger) MarkProcessing(id domain.FileIdentity) error {
	return l.transition(id, domain.FileStatusProcessing, "")
}

// MarkProcessed transitions an identity to processed and stamps the time.
func (l *Ledger) MarkProcessed(id domain.FileIdentity) error {
	return l.transition(id, domain.FileStatusProcessed, "")
}

// MarkFailed transitions an identity to failed with a reason. Failed files
// are excluded from processed counts and never block other files.
func (l *Ledger) MarkFailed(id domain.FileIdentity, reason string) error {
	return l.transition(id, domain.FileStatusFailed, reason)
}

// MarkAbsorbed records that the file's flows have been fed to the models.
// The flag survives a failed attempt so a retry never replays the flows.
func (l *Ledger) MarkAbsorbed(id domain.FileIdentity) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id.Key()]
	if !ok {
		return fmt.Errorf("identity %s not registered", id)
	}
	entry.Absorbed = true
	return nil
}

// Absorbed reports whether the file's flows have already been fed to the
// models by an earlier attempt.
func (l *Ledger) Absorbed(id domain.FileIdentity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id.Key()]
	return ok && entry.Absorbed
}

func (l *Ledger) transition(id domain.FileIdentity, status domain.FileStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id.Key()]
	if !ok {
		return fmt.Errorf("identity %s not registered", id)
	}

	entry.Status = status
	entry.Reason = reason
	if status == domain.FileStatusProcessed {
		now := time.Now()
		entry.ProcessedAt = &now
	}
	return nil
}

// IsProcessed reports whether an identity has completed processing.
func (l *Ledger) IsProcessed(id domain.FileIdentity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id.Key()]
	return ok && entry.Status == domain.FileStatusProcessed
}

// Reset removes a single identity, allowing it to be reprocessed.
func (l *Ledger) Reset(id domain.FileIdentity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id.Key())
}

// ResetApp removes every identity belonging to an application.
func (l *Ledger) ResetApp(appCode string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if entry.Identity.AppCode == appCode {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// ResetAll clears the ledger entirely.
func (l *Ledger) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*domain.FileEntry)
}

// Stats summarizes ledger contents for the run summary and admin surface.
type Stats struct {
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Pending   int               `json:"pending"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Stats returns current processed/failed/pending counts with enumerable
// failure reasons keyed by identity.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Failures: make(map[string]string)}
	for key, entry := range l.entries {
		switch entry.Status {
		case domain.FileStatusProcessed:
			stats.Processed++
		case domain.FileStatusFailed:
			stats.Failed++
			stats.Failures[key] = entry.Reason
		default:
			stats.Pending++
		}
	}
	return stats
}

// Snapshot is a serializable copy of ledger state, embedded in checkpoints.
type Snapshot struct {
	Entries []domain.FileEntry `json:"entries"`
}

// Snapshot copies the ledger for checkpointing. In-flight (processing)
// entries are recorded as pending so a recovered ledger retries them.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{Entries: make([]domain.FileEntry, 0, len(l.entries))}
	for _, entry := range l.entries {
		copied := *entry
		if copied.Status == domain.FileStatusProcessing {
			copied.Status = domain.FileStatusPending
		}
		snap.Entries = append(snap.Entries, copied)
	}
	return snap
}

// Restore replaces ledger contents from a checkpoint snapshot.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*domain.FileEntry, len(snap.Entries))
	for i := range snap.Entries {
		entry := snap.Entries[i]
		l.entries[entry.Identity.Key()] = &entry
	}
}
