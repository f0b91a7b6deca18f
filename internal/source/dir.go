package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"flowatlas/internal/domain"
)

// batchFile is the on-disk shape produced by the parsing collaborator.
type batchFile struct {
	AppCode   string              `json:"app_code"`
	AppName   string              `json:"app_name,omitempty"`
	Hostnames []string            `json:"hostnames,omitempty"`
	Flows     []domain.FlowRecord `json:"flows"`
}

// DirSource reads normalized batch files (*.json) from a directory.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over the given input directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// List returns the batch files currently present, sorted by name so batch
// order is deterministic.
func (s *DirSource) List(ctx context.Context) ([]FileRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var refs []FileRef
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		refs = append(refs, FileRef{
			Path: filepath.Join(s.dir, entry.Name()),
			Name: entry.Name(),
		})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// Load decodes one batch file and fingerprints its content.
func (s *DirSource) Load(ctx context.Context, ref FileRef) (*Batch, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", ref.Name, err)
	}

	var bf batchFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("malformed input file %s: %w", ref.Name, err)
	}
	if bf.AppCode == "" {
		return nil, fmt.Errorf("input file %s has no app_code", ref.Name)
	}

	// Flows in a batch all belong to the batch's application.
	for i := range bf.Flows {
		if bf.Flows[i].AppCode == "" {
			bf.Flows[i].AppCode = bf.AppCode
		}
	}

	return &Batch{
		Identity:  domain.ComputeIdentity(bf.AppCode, ref.Name, data),
		AppCode:   bf.AppCode,
		AppName:   bf.AppName,
		Hostnames: bf.Hostnames,
		Flows:     bf.Flows,
	}, nil
}
