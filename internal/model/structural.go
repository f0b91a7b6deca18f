package model

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"flowatlas/internal/domain"
)

// appGraph accumulates the observed endpoint graph around one application:
// directional flow counts, the serving-port profile, and per-peer volume.
type appGraph struct {
	Inbound   int64            `json:"inbound"`
	Outbound  int64            `json:"outbound"`
	PortHits  map[string]int64 `json:"port_hits"`  // zone label -> inbound port hits
	Peers     map[string]int64 `json:"peers"`      // outbound target -> flow count
	PeerPorts map[string]int   `json:"peer_ports"` // outbound target -> dominant port
	Batches   int              `json:"batches"`
}

func newAppGraph() *appGraph {
	return &appGraph{
		PortHits:  make(map[string]int64),
		Peers:     make(map[string]int64),
		PeerPorts: make(map[string]int),
	}
}

func (g *appGraph) clone() *appGraph {
	copied := &appGraph{
		Inbound:   g.Inbound,
		Outbound:  g.Outbound,
		Batches:   g.Batches,
		PortHits:  make(map[string]int64, len(g.PortHits)),
		Peers:     make(map[string]int64, len(g.Peers)),
		PeerPorts: make(map[string]int, len(g.PeerPorts)),
	}
	for k, v := range g.PortHits {
		copied.PortHits[k] = v
	}
	for k, v := range g.Peers {
		copied.Peers[k] = v
	}
	for k, v := range g.PeerPorts {
		copied.PeerPorts[k] = v
	}
	return copied
}

type structuralState struct {
	Apps map[string]*appGraph `json:"apps"`
}

func newStructuralState() *structuralState {
	return &structuralState{Apps: make(map[string]*appGraph)}
}

func (s *structuralState) clone() *structuralState {
	next := newStructuralState()
	for app, g := range s.Apps {
		next.Apps[app] = g.clone()
	}
	return next
}

// StructuralPredictor infers an application's zone from its structural
// position in the observed endpoint graph: the ports it serves on, its
// inbound/outbound balance, and its fan-out. It is the highest-priority
// predictor when flow data exists and silent when it does not. Batches
// for different applications update concurrently, so Update holds the
// single-writer lock and commits a snapshot that Predict reads without
// blocking.
type StructuralPredictor struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[structuralState]
}

// NewStructuralPredictor creates an untrained structural predictor.
func NewStructuralPredictor() *StructuralPredictor {
	p := &StructuralPredictor{}
	p.snap.Store(newStructuralState())
	return p
}

func (p *StructuralPredictor) ID() string { return IDStructural }

// Update folds a batch of flows into the application's graph statistics.
func (p *StructuralPredictor) Update(appCode string, flows []domain.FlowRecord) error {
	if len(flows) == 0 {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	state := p.snap.Load().clone()
	g, ok := state.Apps[appCode]
	if !ok {
		g = newAppGraph()
		state.Apps[appCode] = g
	}

	for _, f := range flows {
		if f.IsOutbound() {
			g.Outbound++
			g.Peers[f.DestEndpoint]++
			g.PeerPorts[f.DestEndpoint] = f.Port
		} else {
			g.Inbound++
			if z := domain.PortZone(f.Port); z != domain.ZoneUnknown {
				g.PortHits[string(z)]++
			}
		}
	}
	g.Batches++

	p.snap.Store(state)
	return nil
}

// Predict scores zones from the serving-port profile, falling back to
// structural shape when the ports carry no signal. Observed outbound peers
// become observed dependency candidates.
func (p *StructuralPredictor) Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error) {
	pred := domain.Prediction{
		ModelID: IDStructural,
		AppCode: appCode,
		Zone:    domain.ZoneUnknown,
	}

	g, ok := p.snap.Load().Apps[appCode]
	if !ok || g.Inbound+g.Outbound == 0 {
		return pred, nil
	}

	zone, margin := scoreZone(g)
	pred.Zone = zone
	evidence := saturating(float64(g.Inbound+g.Outbound), 20)
	pred.Confidence = clamp01(evidence * margin)

	for target, count := range g.Peers {
		pred.Dependencies = append(pred.Dependencies, domain.DependencyCandidate{
			Target:     target,
			Type:       domain.DependencyTypeForPort(g.PeerPorts[target]),
			Confidence: clamp01(0.5 + 0.45*saturating(float64(count), 8)),
			Observed:   true,
		})
	}

	return pred, nil
}

// scoreZone returns the winning zone and the vote margin in (0,1].
func scoreZone(g *appGraph) (domain.Zone, float64) {
	scores := make(map[domain.Zone]float64)

	var portTotal int64
	for label, hits := range g.PortHits {
		scores[domain.ParseZone(label)] += float64(hits)
		portTotal += hits
	}

	// Structural shape hints, weighted below direct port evidence.
	shape := float64(portTotal) * 0.5
	if shape < 1 {
		shape = 1
	}
	switch {
	case g.Inbound == 0 && g.Outbound > 0:
		// Pure traffic source: an edge-facing tier.
		scores[domain.ZoneWeb] += shape
	case g.Outbound == 0 && g.Inbound > 0:
		// Pure sink: a terminal backend tier.
		scores[domain.ZoneData] += shape * 0.5
	default:
		scores[domain.ZoneApp] += shape * 0.75
	}

	var winner domain.Zone = domain.ZoneUnknown
	var best, total float64
	for zone, score := range scores {
		total += score
		if score > best {
			best = score
			winner = zone
		}
	}
	if total == 0 {
		return domain.ZoneUnknown, 0
	}
	return winner, best / total
}

func (p *StructuralPredictor) Serialize() ([]byte, error) {
	return json.Marshal(p.snap.Load())
}

func (p *StructuralPredictor) Deserialize(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if len(data) == 0 {
		p.snap.Store(newStructuralState())
		return nil
	}
	state := newStructuralState()
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	if state.Apps == nil {
		state.Apps = make(map[string]*appGraph)
	}
	p.snap.Store(state)
	return nil
}
