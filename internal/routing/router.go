// Package routing finds token conversion paths across the current pool set
// and chains spot prices along them. It is how the bot values its holdings
// in the gas token before any gas accounting happens.
package routing

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tychomaker/divergence-bot/bitset"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

var (
	// ErrNoPath is returned when BFS exhausts without reaching the target.
	ErrNoPath = errors.New("no conversion path found")
	// ErrNoQuote is returned when a hop on a found path has no simulator
	// able to price it.
	ErrNoQuote = errors.New("no quote available for hop")
)

// Path is a loop-free token sequence plus the pool ids realising each hop.
// len(PoolIDs) == len(Tokens) - 1.
type Path struct {
	Tokens  []common.Address
	PoolIDs []string
}

// PricedPool pairs a pool with its live simulator for quoting.
type PricedPool struct {
	Pool      domain.Pool
	Simulator domain.Simulator
}

// Router is a stateless path finder; the graph is rebuilt from the supplied
// pool set on every call, so it always prices against the current tick.
type Router struct {
	logger  logging.Logger
	metrics *Metrics
}

func New(logger logging.Logger, reg prometheus.Registerer) *Router {
	return &Router{logger: logger, metrics: NewMetrics(reg)}
}

type edge struct {
	to     int
	poolID string
}

type queueItem struct {
	token   int
	tokens  []common.Address
	poolIDs []string
	// onPath tracks every token already on this item's path, forbidding
	// cycles before enqueue.
	onPath bitset.BitSet
}

// FindPath runs a breadth-first search over the undirected token graph whose
// edges are the pools' token pairs. The first path discovered wins. If src
// equals dst the path is the single-element sequence.
func (r *Router) FindPath(pools []domain.Pool, src, dst common.Address) (Path, error) {
	timer := prometheus.NewTimer(r.metrics.duration.WithLabelValues("find_path"))
	defer timer.ObserveDuration()

	if src == dst {
		return Path{Tokens: []common.Address{src}}, nil
	}

	// Index every token so visited tracking can live in bit sets.
	tokenToIndex := make(map[common.Address]int)
	indexToToken := make([]common.Address, 0)
	index := func(addr common.Address) int {
		if i, ok := tokenToIndex[addr]; ok {
			return i
		}
		i := len(indexToToken)
		tokenToIndex[addr] = i
		indexToToken = append(indexToToken, addr)
		return i
	}

	graph := make(map[int][]edge)
	for _, pool := range pools {
		for _, tin := range pool.Tokens {
			for _, tout := range pool.Tokens {
				if tin.Address == tout.Address {
					continue
				}
				u, v := index(tin.Address), index(tout.Address)
				graph[u] = append(graph[u], edge{to: v, poolID: pool.ID})
			}
		}
	}

	start, ok := tokenToIndex[src]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s -> %s", ErrNoPath, src, dst)
	}
	target, ok := tokenToIndex[dst]
	if !ok {
		return Path{}, fmt.Errorf("%w: %s -> %s", ErrNoPath, src, dst)
	}

	vertexCount := uint64(len(indexToToken))
	visited := bitset.NewBitSet(vertexCount)

	startSet := bitset.NewBitSet(vertexCount)
	startSet.Set(uint64(start))
	queue := []queueItem{{
		token:  start,
		tokens: []common.Address{src},
		onPath: startSet,
	}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.token == target {
			return Path{Tokens: item.tokens, PoolIDs: item.poolIDs}, nil
		}
		if visited.IsSet(uint64(item.token)) {
			continue
		}
		visited.Set(uint64(item.token))

		for _, e := range graph[item.token] {
			if item.onPath.IsSet(uint64(e.to)) {
				continue
			}
			nextTokens := make([]common.Address, len(item.tokens), len(item.tokens)+1)
			copy(nextTokens, item.tokens)
			nextTokens = append(nextTokens, indexToToken[e.to])

			nextPools := make([]string, len(item.poolIDs), len(item.poolIDs)+1)
			copy(nextPools, item.poolIDs)
			nextPools = append(nextPools, e.poolID)

			nextOnPath := bitset.NewBitSet(vertexCount)
			nextOnPath.SetFrom(item.onPath)
			nextOnPath.Set(uint64(e.to))

			queue = append(queue, queueItem{
				token:   e.to,
				tokens:  nextTokens,
				poolIDs: nextPools,
				onPath:  nextOnPath,
			})
		}
	}

	return Path{}, fmt.Errorf("%w: %s -> %s", ErrNoPath, src, dst)
}

// Quote walks consecutive path pairs, picking for each hop any supplied pool
// that contains both tokens, and multiplies the running product by its spot
// price. The result is the value of one src token in dst units (dst per
// src), normalized.
func (r *Router) Quote(priced []PricedPool, path Path) (float64, error) {
	timer := prometheus.NewTimer(r.metrics.duration.WithLabelValues("quote"))
	defer timer.ObserveDuration()

	if len(path.Tokens) == 1 {
		return 1.0, nil
	}
	if len(path.Tokens) < 2 {
		return 0, fmt.Errorf("%w: path is too short", ErrNoQuote)
	}

	cumulative := 1.0
	for i := 0; i+1 < len(path.Tokens); i++ {
		tokenIn, tokenOut := path.Tokens[i], path.Tokens[i+1]

		found := false
		for _, pp := range priced {
			if !pp.Pool.ContainsPair(tokenIn, tokenOut) {
				continue
			}
			in, _ := pp.Pool.Token(tokenIn)
			out, _ := pp.Pool.Token(tokenOut)
			rate, err := pp.Simulator.SpotPrice(in, out)
			if err != nil {
				continue
			}
			cumulative *= rate
			found = true
			break
		}
		if !found {
			r.logger.Warn("No conversion available for hop", "token_in", tokenIn, "token_out", tokenOut)
			return 0, fmt.Errorf("%w: %s -> %s", ErrNoQuote, tokenIn, tokenOut)
		}
	}
	return cumulative, nil
}
