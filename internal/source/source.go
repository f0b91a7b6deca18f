// Package source abstracts where normalized flow batches come from. The
// parsing collaborator emits per-application batches of FlowRecord plus
// the application name and any resolved hostnames; the engine consumes
// those batches and never parses raw capture formats itself.
package source

import (
	"context"

	"flowatlas/internal/domain"
)

// FileRef points at one discoverable input file.
type FileRef struct {
	Path string
	Name string
}

// Batch is one parsed input file: everything the engine needs to process
// a single application's flows for one batch boundary.
type Batch struct {
	Identity  domain.FileIdentity `json:"identity"`
	AppCode   string              `json:"app_code"`
	AppName   string              `json:"app_name,omitempty"`
	Hostnames []string            `json:"hostnames,omitempty"`
	Flows     []domain.FlowRecord `json:"flows"`
}

// Source enumerates and loads input batches.
type Source interface {
	// List returns the currently available input files.
	List(ctx context.Context) ([]FileRef, error)

	// Load reads and decodes one input file, computing its identity from
	// the content fingerprint.
	Load(ctx context.Context, ref FileRef) (*Batch, error)
}
