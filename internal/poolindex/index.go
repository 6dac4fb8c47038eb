// Package poolindex maintains the live pool-id -> (pool, simulator) mapping
// fed by the pool-update stream. The index is owned exclusively by the
// supervisor: mutation is single-threaded and no lock is required.
package poolindex

import (
	"errors"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/stream"
)

var errNilMessage = errors.New("poolindex: nil stream message")

// Target is one monitored pool: both pair tokens present, simulator live.
type Target struct {
	Pool      domain.Pool
	Simulator domain.Simulator
}

// Index holds both halves of the mapping plus an ordered id slice so
// iteration (and therefore test replay) is deterministic. Invariant: every
// id in the pool half has a matching id in the simulator half and vice versa.
type Index struct {
	logger  logging.Logger
	metrics *Metrics

	pools map[string]domain.Pool
	sims  map[string]domain.Simulator
	order []string
	ready bool
}

func New(logger logging.Logger, reg prometheus.Registerer) *Index {
	return &Index{
		logger:  logger,
		metrics: NewMetrics(reg),
		pools:   make(map[string]domain.Pool),
		sims:    make(map[string]domain.Simulator),
	}
}

// Reset empties the index. Called when the stream is rebuilt: nothing
// persists across reconnects, the index is rebuilt from the next
// first-message.
func (ix *Index) Reset() {
	ix.pools = make(map[string]domain.Pool)
	ix.sims = make(map[string]domain.Simulator)
	ix.order = nil
	ix.ready = false
	ix.metrics.poolCount.Set(0)
}

// Ready reports whether the first non-empty message has been applied.
func (ix *Index) Ready() bool {
	return ix.ready
}

// Len returns the number of indexed pools.
func (ix *Index) Len() int {
	return len(ix.pools)
}

// Apply folds one stream message into the index. The first non-empty message
// initialises it; later messages replace simulators, upsert pools and remove
// pools. Pools whose id embeds the all-zero address are rejected, as are
// pools for which no simulator is available.
func (ix *Index) Apply(msg *stream.Message) error {
	if msg == nil {
		return errNilMessage
	}
	timer := prometheus.NewTimer(ix.metrics.applyDuration.WithLabelValues())
	defer timer.ObserveDuration()

	if msg.Empty() {
		return nil
	}

	// Replace simulators first so upserts in the same message can see them,
	// regardless of how state_updates and new_pairs interleave on the wire.
	for id, sim := range msg.StateUpdates {
		if _, known := ix.pools[id]; known {
			ix.sims[id] = sim
		}
	}

	// Upsert pools in sorted id order so appended ids land deterministically.
	newIDs := make([]string, 0, len(msg.NewPairs))
	for id := range msg.NewPairs {
		newIDs = append(newIDs, id)
	}
	sort.Strings(newIDs)
	for _, id := range newIDs {
		pool := msg.NewPairs[id]
		if pool.HasNullID() {
			ix.metrics.rejectedPools.Inc()
			ix.logger.Debug("Rejecting pool with null id", "id", id)
			continue
		}
		sim, haveSim := msg.StateUpdates[id]
		if !haveSim {
			sim, haveSim = ix.sims[id]
		}
		if !haveSim {
			ix.metrics.rejectedPools.Inc()
			ix.logger.Warn("Skipping pool without simulator", "id", id)
			continue
		}
		if _, known := ix.pools[id]; !known {
			ix.order = append(ix.order, id)
		}
		ix.pools[id] = pool
		ix.sims[id] = sim
	}

	// Remove pools, dropping both halves.
	if len(msg.RemovedPairs) > 0 {
		removed := mapset.NewThreadUnsafeSet[string]()
		for id := range msg.RemovedPairs {
			if _, known := ix.pools[id]; known {
				removed.Add(id)
			}
			delete(ix.pools, id)
			delete(ix.sims, id)
		}
		if removed.Cardinality() > 0 {
			kept := ix.order[:0]
			for _, id := range ix.order {
				if !removed.Contains(id) {
					kept = append(kept, id)
				}
			}
			ix.order = kept
		}
	}

	if !ix.ready {
		ix.ready = true
	}
	ix.metrics.poolCount.Set(float64(len(ix.pools)))
	return nil
}

// Pools returns all indexed pools in stable order.
func (ix *Index) Pools() []domain.Pool {
	out := make([]domain.Pool, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.pools[id])
	}
	return out
}

// Simulator resolves the live simulator for a pool id.
func (ix *Index) Simulator(id string) (domain.Simulator, bool) {
	sim, ok := ix.sims[domain.NormalizeID(id)]
	return sim, ok
}

// Monitored recomputes the monitored subset from the current contents:
// exactly the pools whose token list contains both pair legs. Null-id pools
// never made it into the index.
func (ix *Index) Monitored(base, quote common.Address) []Target {
	targets := make([]Target, 0)
	for _, id := range ix.order {
		pool := ix.pools[id]
		if !pool.ContainsPair(base, quote) {
			continue
		}
		sim, ok := ix.sims[id]
		if !ok {
			// Both halves are maintained together; a miss here is a bug.
			ix.logger.Error("Monitored pool has no simulator", "id", id)
			continue
		}
		targets = append(targets, Target{Pool: pool, Simulator: sim})
	}
	return targets
}
