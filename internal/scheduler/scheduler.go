// Package scheduler turns a scored feature set into a dependency-respecting
// execution plan: a topological ordering, a partition into integration
// phases, and the critical path through the dependency graph.
//
// Cycles are tolerated, not rejected. A cyclic feature still receives a
// sequence number and a phase; it just lands later than a fully acyclic
// ordering would place it.
package scheduler

import (
	"sort"

	"github.com/rolloutkit/rollout/internal/scoring"
	"github.com/rolloutkit/rollout/internal/types"
)

// Plan is the read-only artifact of one planning run.
type Plan struct {
	// Features ordered by integration sequence.
	Features []types.PrioritizedFeature `json:"features"`
	// Phases partition the feature set into ordered integration batches.
	Phases []types.IntegrationPhase `json:"phases"`
	// CriticalPath is the longest root-to-leaf chain of feature IDs through
	// the blocks graph.
	CriticalPath []string `json:"critical_path"`
}

// Planner builds integration plans from raw feature sets.
type Planner struct {
	weights scoring.Weights
}

// New creates a planner with the given criteria weights.
func New(w scoring.Weights) *Planner {
	return &Planner{weights: w}
}

// node is one entry in the dependency arena. Edges are id-based rather than
// pointer-based so that cyclic graphs need no special ownership handling.
type node struct {
	feature   *types.PrioritizedFeature
	blockedBy []string
	blocks    []string
}

type graph struct {
	nodes      map[string]*node
	inputOrder []string // original input order, used for cycle fallbacks
}

// BuildPlan validates, scores, sequences, and partitions the feature set.
// An empty input yields an empty plan, not an error.
func (p *Planner) BuildPlan(features []types.Feature) (*Plan, error) {
	ranked, err := scoring.Rank(features, p.weights)
	if err != nil {
		return nil, err
	}

	g := buildGraph(features, ranked)
	assignSequences(g, ranked)

	// Re-order the ranked set by sequence for the plan artifact.
	ordered := make([]types.PrioritizedFeature, len(ranked))
	copy(ordered, ranked)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	return &Plan{
		Features:     ordered,
		Phases:       buildPhases(g),
		CriticalPath: criticalPath(g),
	}, nil
}

// buildGraph constructs the id-indexed arena with blockedBy/blocks adjacency
// lists. Prerequisite ids that are not part of the set are silently ignored.
func buildGraph(features []types.Feature, ranked []types.PrioritizedFeature) *graph {
	g := &graph{
		nodes:      make(map[string]*node, len(ranked)),
		inputOrder: make([]string, 0, len(features)),
	}
	for _, f := range features {
		g.inputOrder = append(g.inputOrder, f.ID)
	}
	for i := range ranked {
		g.nodes[ranked[i].ID] = &node{feature: &ranked[i]}
	}

	for i := range ranked {
		for _, dep := range ranked[i].Dependencies {
			prereq, known := g.nodes[dep]
			if !known {
				continue
			}
			g.nodes[ranked[i].ID].blockedBy = append(g.nodes[ranked[i].ID].blockedBy, dep)
			prereq.blocks = append(prereq.blocks, ranked[i].ID)
		}
	}

	// Copy the derived edges onto the feature records.
	for _, id := range g.inputOrder {
		n := g.nodes[id]
		n.feature.BlockedBy = append([]string(nil), n.blockedBy...)
		n.feature.Blocks = append([]string(nil), n.blocks...)
	}

	return g
}

// assignSequences walks the graph prerequisite-first and numbers features in
// visit order. Candidates are taken by descending priority score (ranked is
// already in that order); any feature a cycle keeps unreachable is visited
// at the end in input order.
func assignSequences(g *graph, ranked []types.PrioritizedFeature) {
	visited := make(map[string]bool, len(g.nodes))
	seq := 0

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		// Mark before recursing so a cycle terminates instead of looping.
		visited[id] = true
		for _, dep := range g.nodes[id].blockedBy {
			visit(dep)
		}
		seq++
		g.nodes[id].feature.Sequence = seq
	}

	for i := range ranked {
		if len(g.nodes[ranked[i].ID].blockedBy) == 0 {
			visit(ranked[i].ID)
		}
	}
	for i := range ranked {
		visit(ranked[i].ID)
	}
	for _, id := range g.inputOrder {
		visit(id)
	}
}

// buildPhases repeatedly collects every unprocessed feature whose
// prerequisites are all processed. When a cycle leaves no qualifying
// feature, the first remaining feature in input order is force-admitted to
// break the deadlock.
func buildPhases(g *graph) []types.IntegrationPhase {
	processed := make(map[string]bool, len(g.nodes))
	phaseOf := make(map[string]int, len(g.nodes))
	var phases []types.IntegrationPhase

	for len(processed) < len(g.nodes) {
		var ready []string
		for _, id := range g.inputOrder {
			if processed[id] {
				continue
			}
			ok := true
			for _, dep := range g.nodes[id].blockedBy {
				if !processed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			// Cycle deadlock: force-admit the first remaining feature.
			for _, id := range g.inputOrder {
				if !processed[id] {
					ready = []string{id}
					break
				}
			}
		}

		number := len(phases) + 1
		phase := types.IntegrationPhase{
			Number:     number,
			FeatureIDs: ready,
		}

		riskSum := 0
		for _, id := range ready {
			f := g.nodes[id].feature
			if f.EstimatedHours > phase.EstimatedHours {
				phase.EstimatedHours = f.EstimatedHours
			}
			riskSum += f.Risk.Scale()
			processed[id] = true
			phaseOf[id] = number
		}
		phase.Risk = types.RiskFromScale(float64(riskSum) / float64(len(ready)))

		// A phase depends on every earlier phase holding a prerequisite of
		// one of its members.
		depPhases := make(map[int]bool)
		for _, id := range ready {
			for _, dep := range g.nodes[id].blockedBy {
				if pn, ok := phaseOf[dep]; ok && pn < number {
					depPhases[pn] = true
				}
			}
		}
		for pn := range depPhases {
			phase.DependsOnPhases = append(phase.DependsOnPhases, pn)
		}
		sort.Ints(phase.DependsOnPhases)

		phases = append(phases, phase)
	}

	return phases
}

// criticalPath enumerates every root-to-leaf path through the blocks graph
// and returns the longest one. Ties resolve to the first path found.
func criticalPath(g *graph) []string {
	var longest []string
	var path []string
	onPath := make(map[string]bool, len(g.nodes))

	var dfs func(id string)
	dfs = func(id string) {
		path = append(path, id)
		onPath[id] = true

		extended := false
		for _, next := range g.nodes[id].blocks {
			if onPath[next] {
				continue // cycle edge, do not re-enter
			}
			extended = true
			dfs(next)
		}
		if !extended && len(path) > len(longest) {
			longest = append([]string(nil), path...)
		}

		onPath[id] = false
		path = path[:len(path)-1]
	}

	for _, id := range g.inputOrder {
		if len(g.nodes[id].blockedBy) == 0 {
			dfs(id)
		}
	}

	return longest
}
