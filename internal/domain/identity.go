package domain

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// FileStatus represents the ingestion state of an input file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusFailed     FileStatus = "failed"
)

// FileIdentity identifies an input file by application code and content
// fingerprint. A renamed-but-identical file resolves to the same identity;
// a same-named-but-changed file resolves to a new one.
type FileIdentity struct {
	AppCode     string `json:"app_code"`
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
}

// ComputeIdentity derives the identity for a batch of content belonging to
// an application. The name is carried for diagnostics only and does not
// participate in the fingerprint.
func ComputeIdentity(appCode, name string, content []byte) FileIdentity {
	hash := sha256.Sum256(content)
	return FileIdentity{
		AppCode:     appCode,
		Fingerprint: fmt.Sprintf("%x", hash[:16]),
		Name:        name,
	}
}

// Key returns the deterministic ledger key for the identity.
func (id FileIdentity) Key() string {
	return id.AppCode + ":" + id.Fingerprint
}

// String implements fmt.Stringer for log output.
func (id FileIdentity) String() string {
	if id.Name != "" {
		return fmt.Sprintf("%s (%s)", id.Key(), id.Name)
	}
	return id.Key()
}

// FileEntry is the ledger's view of one input file. Absorbed records that
// the file's flows have already been fed to the models; a retry of a
// failed file must not replay them, or flow volume would double-count.
type FileEntry struct {
	Identity    FileIdentity `json:"identity"`
	Status      FileStatus   `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Absorbed    bool         `json:"absorbed,omitempty"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}
