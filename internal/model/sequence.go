package model

import (
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"

	"flowatlas/internal/domain"
)

// batchFeatures is the compressed temporal signal extracted from one
// ordered batch of flows.
type batchFeatures struct {
	FlowCount     float64 `json:"flow_count"`
	AvgBytes      float64 `json:"avg_bytes"`
	InboundRatio  float64 `json:"inbound_ratio"`
	DistinctPeers float64 `json:"distinct_peers"`
}

// appSequence is the per-application temporal state: an EWMA profile of
// batch features plus accumulated zone votes from port evidence.
type appSequence struct {
	Profile   batchFeatures    `json:"profile"`
	ZoneVotes map[string]int64 `json:"zone_votes"`
	Batches   int              `json:"batches"`
	Drift     float64          `json:"drift"`
}

func (s *appSequence) clone() *appSequence {
	copied := &appSequence{
		Profile:   s.Profile,
		Batches:   s.Batches,
		Drift:     s.Drift,
		ZoneVotes: make(map[string]int64, len(s.ZoneVotes)),
	}
	for k, v := range s.ZoneVotes {
		copied.ZoneVotes[k] = v
	}
	return copied
}

type sequenceState struct {
	Apps map[string]*appSequence `json:"apps"`
}

func newSequenceState() *sequenceState {
	return &sequenceState{Apps: make(map[string]*appSequence)}
}

func (s *sequenceState) clone() *sequenceState {
	next := newSequenceState()
	for app, seq := range s.Apps {
		next.Apps[app] = seq.clone()
	}
	return next
}

// ewmaAlpha controls how quickly the temporal profile tracks new batches.
const ewmaAlpha = 0.3

// SequencePredictor treats the ordered arrival of batches as a temporal
// signal. A stable profile over many batches raises confidence; a batch
// that diverges sharply from the learned profile registers as drift and
// suppresses confidence until the profile settles again. Update holds the
// single-writer lock and commits a snapshot; Predict reads the last
// committed snapshot without blocking on in-flight writes.
type SequencePredictor struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[sequenceState]
}

// NewSequencePredictor creates an untrained sequence predictor.
func NewSequencePredictor() *SequencePredictor {
	p := &SequencePredictor{}
	p.snap.Store(newSequenceState())
	return p
}

func (p *SequencePredictor) ID() string { return IDSequence }

func extractFeatures(flows []domain.FlowRecord) batchFeatures {
	var f batchFeatures
	if len(flows) == 0 {
		return f
	}

	peers := make(map[string]bool)
	var inbound int
	var bytes int64
	for _, flow := range flows {
		peers[flow.Peer()] = true
		bytes += flow.TotalBytes()
		if !flow.IsOutbound() {
			inbound++
		}
	}

	f.FlowCount = float64(len(flows))
	f.AvgBytes = float64(bytes) / float64(len(flows))
	f.InboundRatio = float64(inbound) / float64(len(flows))
	f.DistinctPeers = float64(len(peers))
	return f
}

// featureDistance is a scale-normalized distance between two profiles,
// mapped to [0,1].
func featureDistance(a, b batchFeatures) float64 {
	rel := func(x, y float64) float64 {
		denom := math.Max(math.Abs(x), math.Abs(y))
		if denom == 0 {
			return 0
		}
		return math.Abs(x-y) / denom
	}

	d := rel(a.FlowCount, b.FlowCount) +
		rel(a.AvgBytes, b.AvgBytes) +
		math.Abs(a.InboundRatio-b.InboundRatio) +
		rel(a.DistinctPeers, b.DistinctPeers)
	return clamp01(d / 4)
}

// Update folds one batch into the application's temporal profile.
func (p *SequencePredictor) Update(appCode string, flows []domain.FlowRecord) error {
	if len(flows) == 0 {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	state := p.snap.Load().clone()
	seq, ok := state.Apps[appCode]
	if !ok {
		seq = &appSequence{ZoneVotes: make(map[string]int64)}
		state.Apps[appCode] = seq
	}

	features := extractFeatures(flows)
	if seq.Batches == 0 {
		seq.Profile = features
	} else {
		seq.Drift = featureDistance(features, seq.Profile)
		seq.Profile.FlowCount = ewma(seq.Profile.FlowCount, features.FlowCount)
		seq.Profile.AvgBytes = ewma(seq.Profile.AvgBytes, features.AvgBytes)
		seq.Profile.InboundRatio = ewma(seq.Profile.InboundRatio, features.InboundRatio)
		seq.Profile.DistinctPeers = ewma(seq.Profile.DistinctPeers, features.DistinctPeers)
	}
	seq.Batches++

	for _, flow := range flows {
		if z := domain.PortZone(flow.Port); z != domain.ZoneUnknown {
			if flow.IsOutbound() {
				// Outbound well-known ports describe the peer, not the
				// app; an app talking to databases is an app tier hint.
				seq.ZoneVotes[string(domain.ZoneApp)]++
			} else {
				seq.ZoneVotes[string(z)]++
			}
		}
	}

	p.snap.Store(state)
	return nil
}

func ewma(prev, next float64) float64 {
	return prev*(1-ewmaAlpha) + next*ewmaAlpha
}

// Predict classifies from the accumulated temporal profile. Confidence
// grows with the number of stable batches and is damped by recent drift.
func (p *SequencePredictor) Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error) {
	pred := domain.Prediction{
		ModelID: IDSequence,
		AppCode: appCode,
		Zone:    domain.ZoneUnknown,
	}

	seq, ok := p.snap.Load().Apps[appCode]
	if !ok || seq.Batches == 0 {
		return pred, nil
	}

	var winner domain.Zone = domain.ZoneUnknown
	var best, total int64
	for label, votes := range seq.ZoneVotes {
		total += votes
		if votes > best {
			best = votes
			winner = domain.ParseZone(label)
		}
	}
	if total == 0 {
		// No port signal at all; fall back to the inbound/outbound shape.
		winner = domain.ZoneApp
		if seq.Profile.InboundRatio < 0.1 {
			winner = domain.ZoneWeb
		}
		pred.Zone = winner
		pred.Confidence = clamp01(0.3 * saturating(float64(seq.Batches), 3) * (1 - seq.Drift))
		return pred, nil
	}

	margin := float64(best) / float64(total)
	stability := saturating(float64(seq.Batches), 3)
	pred.Zone = winner
	pred.Confidence = clamp01(margin * stability * (1 - seq.Drift))
	return pred, nil
}

func (p *SequencePredictor) Serialize() ([]byte, error) {
	return json.Marshal(p.snap.Load())
}

func (p *SequencePredictor) Deserialize(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if len(data) == 0 {
		p.snap.Store(newSequenceState())
		return nil
	}
	state := newSequenceState()
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	if state.Apps == nil {
		state.Apps = make(map[string]*appSequence)
	}
	p.snap.Store(state)
	return nil
}
