package domain

import (
	"sort"
	"time"
)

// DependencyType labels the role of a dependency target.
type DependencyType string

const (
	DepTypeDatabase DependencyType = "database"
	DepTypeCache    DependencyType = "cache"
	DepTypeQueue    DependencyType = "queue"
	DepTypeHTTP     DependencyType = "http"
	DepTypeService  DependencyType = "service"
)

// DependencyTypeForPort infers a dependency type from the target's
// well-known port, defaulting to a generic service dependency.
func DependencyTypeForPort(port int) DependencyType {
	switch PortZone(port) {
	case ZoneData:
		return DepTypeDatabase
	case ZoneCache:
		return DepTypeCache
	case ZoneMessaging:
		return DepTypeQueue
	case ZoneWeb:
		return DepTypeHTTP
	}
	return DepTypeService
}

// Dependency is a directed relationship from an application to a target
// endpoint or application. Observed dependencies come from real traffic;
// predicted ones are inferred by the ensemble.
type Dependency struct {
	Target     string         `json:"target"`
	Type       DependencyType `json:"type"`
	Confidence float64        `json:"confidence"`
	Observed   bool           `json:"observed"`
}

// TopologyRecord is the canonical per-application classification result.
// One record exists per application; it is created on first prediction and
// mutated monotonically on each processed batch.
type TopologyRecord struct {
	AppCode             string       `json:"app_code"`
	Name                string       `json:"name,omitempty"`
	Zone                Zone         `json:"zone_label"`
	Dependencies        []Dependency `json:"dependencies"`
	AggregateConfidence float64      `json:"aggregate_confidence"`
	Characteristics     []string     `json:"characteristics,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// NewTopologyRecord creates an empty record in the UNKNOWN zone. This is
// also the fallback shape when no predictor produces a usable vote.
func NewTopologyRecord(appCode string) *TopologyRecord {
	return &TopologyRecord{
		AppCode:      appCode,
		Zone:         ZoneUnknown,
		Dependencies: make([]Dependency, 0),
		UpdatedAt:    time.Now(),
	}
}

// MergeDependency folds a dependency into the record, enforcing the two
// record invariants: targets are never duplicated, and an observed entry
// always supersedes a predicted one for the same target. Between two
// predicted entries the higher confidence wins; between two observed
// entries confidence is monotonically raised.
func (r *TopologyRecord) MergeDependency(dep Dependency) {
	for i := range r.Dependencies {
		existing := &r.Dependencies[i]
		if existing.Target != dep.Target {
			continue
		}

		switch {
		case dep.Observed && !existing.Observed:
			*existing = dep
		case dep.Observed && existing.Observed:
			if dep.Confidence > existing.Confidence {
				existing.Confidence = dep.Confidence
			}
			if dep.Type != DepTypeService {
				existing.Type = dep.Type
			}
		case !dep.Observed && !existing.Observed:
			if dep.Confidence > existing.Confidence {
				*existing = dep
			}
		}
		// A predicted entry never displaces an observed one.
		return
	}

	r.Dependencies = append(r.Dependencies, dep)
}

// SortDependencies orders dependencies by target for deterministic output.
func (r *TopologyRecord) SortDependencies() {
	sort.Slice(r.Dependencies, func(i, j int) bool {
		return r.Dependencies[i].Target < r.Dependencies[j].Target
	})
}

// HasObserved reports whether the record holds an observed dependency on
// the given target.
func (r *TopologyRecord) HasObserved(target string) bool {
	for _, dep := range r.Dependencies {
		if dep.Target == target && dep.Observed {
			return true
		}
	}
	return false
}

// InferCharacteristics derives descriptive tags from a batch of flows:
// protocol mix, encrypted traffic, and bulk transfer patterns. Tags are
// additive across batches; existing tags are preserved.
func (r *TopologyRecord) InferCharacteristics(flows []FlowRecord) {
	seen := make(map[string]bool, len(r.Characteristics))
	for _, c := range r.Characteristics {
		seen[c] = true
	}

	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			r.Characteristics = append(r.Characteristics, tag)
		}
	}

	var total, bulk int64
	for _, f := range flows {
		if f.Port == 443 || f.Port == 8443 {
			add("tls")
		}
		if f.Protocol == "udp" {
			add("udp")
		}
		if PortZone(f.Port) == ZoneData {
			add("database-client")
		}
		if PortZone(f.Port) == ZoneMessaging {
			add("messaging-client")
		}
		total += f.TotalBytes()
		if f.TotalBytes() > 10*1024*1024 {
			bulk += f.TotalBytes()
		}
	}

	if total > 0 && bulk*2 > total {
		add("bulk-transfer")
	}
}
