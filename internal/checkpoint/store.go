// Package checkpoint persists atomic, versioned snapshots of predictor
// state and ledger state. The checkpoint file format is the engine's only
// on-disk contract: predictor states are keyed by predictor identity so a
// predictor absent from an older checkpoint loads as untrained, and the
// latest readable checkpoint is always the authoritative recovery point.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"flowatlas/internal/ledger"
)

// FormatVersion is the current checkpoint file format version.
const FormatVersion = 1

// ErrNoCheckpoint is returned by Latest when the store holds no readable
// checkpoint at all.
var ErrNoCheckpoint = errors.New("no valid checkpoint available")

// Checkpoint is one durable snapshot at a consistent batch boundary.
type Checkpoint struct {
	Version   int                        `json:"version"`
	Sequence  uint64                     `json:"sequence"`
	RunID     string                     `json:"run_id"`
	CreatedAt time.Time                  `json:"created_at"`
	Models    map[string]json.RawMessage `json:"models"`
	Ledger    ledger.Snapshot            `json:"ledger"`
}

// Store manages a directory of append-only checkpoint files.
type Store struct {
	dir    string
	retain int
}

// NewStore opens (creating if needed) a checkpoint directory. retain is
// the number of recent checkpoints kept on disk; older ones are pruned
// after each successful write.
func NewStore(dir string, retain int) (*Store, error) {
	if retain < 1 {
		retain = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, retain: retain}, nil
}

func (s *Store) path(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint-%08d.json", seq))
}

// Write persists a checkpoint atomically: the file is written to a
// temporary name, fsynced, and renamed into place. A failed write never
// disturbs the previous checkpoint.
func (s *Store) Write(cp *Checkpoint) error {
	cp.Version = FormatVersion
	cp.CreatedAt = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %d: %w", cp.Sequence, err)
	}

	final := s.path(cp.Sequence)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write checkpoint %d: %w", cp.Sequence, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync checkpoint %d: %w", cp.Sequence, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close checkpoint %d: %w", cp.Sequence, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit checkpoint %d: %w", cp.Sequence, err)
	}

	s.prune()
	return nil
}

// sequences returns all on-disk checkpoint sequence numbers, ascending.
func (s *Store) sequences() ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var seqs []uint64
	for _, entry := range entries {
		var seq uint64
		if _, err := fmt.Sscanf(entry.Name(), "checkpoint-%08d.json", &seq); err == nil &&
			filepath.Ext(entry.Name()) == ".json" {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Latest returns the newest valid checkpoint, falling back to the
// next-older retained one when the newest is unreadable or corrupt.
// ErrNoCheckpoint means a cold start is required.
func (s *Store) Latest() (*Checkpoint, error) {
	seqs, err := s.sequences()
	if err != nil {
		return nil, err
	}

	for i := len(seqs) - 1; i >= 0; i-- {
		cp, err := s.load(seqs[i])
		if err != nil {
			log.Printf("Checkpoint %d unreadable, falling back: %v", seqs[i], err)
			continue
		}
		return cp, nil
	}
	return nil, ErrNoCheckpoint
}

func (s *Store) load(seq uint64) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(seq))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %d: %w", seq, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %d: %w", seq, err)
	}
	if cp.Version > FormatVersion {
		return nil, fmt.Errorf("checkpoint %d has unsupported version %d", seq, cp.Version)
	}
	if cp.Models == nil {
		cp.Models = make(map[string]json.RawMessage)
	}
	return &cp, nil
}

// prune removes checkpoints beyond the retention window. Pruning is best
// effort; an undeletable old file is logged, not fatal.
func (s *Store) prune() {
	seqs, err := s.sequences()
	if err != nil || len(seqs) <= s.retain {
		return
	}

	for _, seq := range seqs[:len(seqs)-s.retain] {
		if err := os.Remove(s.path(seq)); err != nil {
			log.Printf("Failed to prune checkpoint %d: %v", seq, err)
		}
	}
}

// ModelStates converts the raw checkpoint mapping to the byte mapping the
// registry restores from.
func (cp *Checkpoint) ModelStates() map[string][]byte {
	states := make(map[string][]byte, len(cp.Models))
	for id, raw := range cp.Models {
		states[id] = []byte(raw)
	}
	return states
}

// RawModels converts registry-serialized states into the checkpoint's
// identity-keyed mapping.
func RawModels(states map[string][]byte) map[string]json.RawMessage {
	raw := make(map[string]json.RawMessage, len(states))
	for id, data := range states {
		raw[id] = json.RawMessage(data)
	}
	return raw
}
