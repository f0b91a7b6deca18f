package model

import (
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"

	"flowatlas/internal/domain"
)

// fingerprintDims is the size of the compressed traffic fingerprint.
const fingerprintDims = 6

// anomalyThreshold is the distance beyond which a fingerprint is
// considered far from every cluster and flagged anomalous.
const anomalyThreshold = 0.35

// maxCentroids caps the shared cluster space.
const maxCentroids = 16

type centroid struct {
	Vector    [fingerprintDims]float64 `json:"vector"`
	ZoneVotes map[string]int64         `json:"zone_votes"`
	Members   int64                    `json:"members"`
}

type behavioralState struct {
	Centroids []centroid      `json:"centroids"`
	Apps      map[string]bool `json:"apps"`
}

func newBehavioralState() *behavioralState {
	return &behavioralState{Apps: make(map[string]bool)}
}

// clone deep-copies the state so writers never mutate a snapshot that
// concurrent readers hold.
func (s *behavioralState) clone() *behavioralState {
	next := &behavioralState{
		Centroids: make([]centroid, len(s.Centroids)),
		Apps:      make(map[string]bool, len(s.Apps)),
	}
	for i, c := range s.Centroids {
		votes := make(map[string]int64, len(c.ZoneVotes))
		for k, v := range c.ZoneVotes {
			votes[k] = v
		}
		next.Centroids[i] = centroid{Vector: c.Vector, ZoneVotes: votes, Members: c.Members}
	}
	for k := range s.Apps {
		next.Apps[k] = true
	}
	return next
}

// BehavioralPredictor learns a compressed traffic fingerprint per
// application in a cluster space shared across all applications. Update
// holds the single-writer lock and commits a fresh snapshot; Predict reads
// the last committed snapshot without blocking on in-flight writes.
// Fingerprints far from every cluster are flagged low-confidence.
type BehavioralPredictor struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[behavioralState]
}

// NewBehavioralPredictor creates an untrained behavioral predictor.
func NewBehavioralPredictor() *BehavioralPredictor {
	p := &BehavioralPredictor{}
	p.snap.Store(newBehavioralState())
	return p
}

func (p *BehavioralPredictor) ID() string { return IDBehavioral }

// fingerprint compresses a flow batch into a normalized feature vector.
func fingerprint(flows []domain.FlowRecord) [fingerprintDims]float64 {
	var v [fingerprintDims]float64
	if len(flows) == 0 {
		return v
	}

	peers := make(map[string]bool)
	ports := make(map[int]int)
	var inbound, udp, tls int
	var bytes int64
	for _, f := range flows {
		peers[f.Peer()] = true
		ports[f.Port]++
		bytes += f.TotalBytes()
		if !f.IsOutbound() {
			inbound++
		}
		if f.Protocol == "udp" {
			udp++
		}
		if f.Port == 443 || f.Port == 8443 {
			tls++
		}
	}

	n := float64(len(flows))
	entropy := 0.0
	for _, count := range ports {
		q := float64(count) / n
		entropy -= q * math.Log2(q)
	}

	v[0] = float64(inbound) / n
	v[1] = math.Min(math.Log10(float64(bytes)/n+1)/9, 1)
	v[2] = math.Min(entropy/8, 1)
	v[3] = math.Min(float64(len(peers))/20, 1)
	v[4] = float64(udp) / n
	v[5] = float64(tls) / n
	return v
}

func vectorDistance(a, b [fingerprintDims]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / fingerprintDims)
}

// batchZoneHint derives the dominant port-zone evidence of a batch, used
// to label the cluster a fingerprint lands in.
func batchZoneHint(flows []domain.FlowRecord) domain.Zone {
	votes := make(map[domain.Zone]int)
	for _, f := range flows {
		z := domain.PortZone(f.Port)
		if z == domain.ZoneUnknown {
			continue
		}
		if f.IsOutbound() {
			votes[domain.ZoneApp]++
		} else {
			votes[z]++
		}
	}

	var winner domain.Zone = domain.ZoneUnknown
	best := 0
	for z, n := range votes {
		if n > best {
			best = n
			winner = z
		}
	}
	return winner
}

// Update assigns the batch fingerprint to the nearest cluster, moving its
// centroid online. Clustering activates once MinCorpusApps applications
// have been observed; before that Update only records sightings.
func (p *BehavioralPredictor) Update(appCode string, flows []domain.FlowRecord) error {
	if len(flows) == 0 {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	state := p.snap.Load().clone()
	state.Apps[appCode] = true

	if len(state.Apps) >= MinCorpusApps {
		fp := fingerprint(flows)
		idx, dist := nearestCentroid(state.Centroids, fp)

		if idx < 0 || (dist > anomalyThreshold && len(state.Centroids) < maxCentroids) {
			state.Centroids = append(state.Centroids, centroid{
				Vector:    fp,
				ZoneVotes: make(map[string]int64),
				Members:   0,
			})
			idx = len(state.Centroids) - 1
		}

		c := &state.Centroids[idx]
		c.Members++
		step := 1 / float64(c.Members)
		for i := range c.Vector {
			c.Vector[i] += step * (fp[i] - c.Vector[i])
		}
		if hint := batchZoneHint(flows); hint != domain.ZoneUnknown {
			c.ZoneVotes[string(hint)]++
		}
	}

	p.snap.Store(state)
	return nil
}

func nearestCentroid(centroids []centroid, fp [fingerprintDims]float64) (int, float64) {
	best := -1
	bestDist := math.MaxFloat64
	for i := range centroids {
		if d := vectorDistance(centroids[i].Vector, fp); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}

// Predict places the batch fingerprint in the last-committed cluster
// space. A fingerprint near a labeled cluster inherits its dominant zone;
// one far from every cluster is anomalous and reported at floor
// confidence.
func (p *BehavioralPredictor) Predict(appCode string, flows []domain.FlowRecord, knownName string) (domain.Prediction, error) {
	pred := domain.Prediction{
		ModelID: IDBehavioral,
		AppCode: appCode,
		Zone:    domain.ZoneUnknown,
	}

	if len(flows) == 0 {
		return pred, nil
	}

	state := p.snap.Load()
	if len(state.Apps) < MinCorpusApps || len(state.Centroids) == 0 {
		return pred, nil
	}

	fp := fingerprint(flows)
	idx, dist := nearestCentroid(state.Centroids, fp)
	if idx < 0 {
		return pred, nil
	}

	c := state.Centroids[idx]
	var winner domain.Zone = domain.ZoneUnknown
	var best, total int64
	for label, votes := range c.ZoneVotes {
		total += votes
		if votes > best {
			best = votes
			winner = domain.ParseZone(label)
		}
	}

	if dist > anomalyThreshold || total == 0 {
		// Anomalous or unlabeled cluster: keep the hint at floor
		// confidence so downstream sees it as barely better than nothing.
		pred.Zone = batchZoneHint(flows)
		if pred.Zone == domain.ZoneUnknown {
			return pred, nil
		}
		pred.Confidence = 0.1
		return pred, nil
	}

	margin := float64(best) / float64(total)
	support := saturating(float64(c.Members), 5)
	pred.Zone = winner
	pred.Confidence = clamp01((1 - dist) * margin * support)
	return pred, nil
}

func (p *BehavioralPredictor) Serialize() ([]byte, error) {
	return json.Marshal(p.snap.Load())
}

func (p *BehavioralPredictor) Deserialize(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if len(data) == 0 {
		p.snap.Store(newBehavioralState())
		return nil
	}
	state := newBehavioralState()
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	if state.Apps == nil {
		state.Apps = make(map[string]bool)
	}
	p.snap.Store(state)
	return nil
}
