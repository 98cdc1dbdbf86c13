package synth

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Network nodes. Arm and Visit are evidence and never receive edges.
const (
	nodeArm = iota
	nodeVisit
	nodeSystolic
	nodeDiastolic
	nodeHeartRate
	nodeTemperature
	numNodes
)

var nodeNames = [numNodes]string{"TreatmentArm", "VisitName", "SystolicBP", "DiastolicBP", "HeartRate", "Temperature"}

// expertEdges encodes the known causal order: arm and visit drive both
// pressures, systolic feeds diastolic, and pressures plus temperature drive
// heart rate.
var expertEdges = [][2]int{
	{nodeArm, nodeSystolic}, {nodeArm, nodeDiastolic},
	{nodeVisit, nodeSystolic}, {nodeVisit, nodeDiastolic},
	{nodeSystolic, nodeDiastolic},
	{nodeSystolic, nodeHeartRate}, {nodeDiastolic, nodeHeartRate},
	{nodeTemperature, nodeHeartRate},
}

func isEvidence(n int) bool { return n == nodeArm || n == nodeVisit }

func newDAG(edges [][2]int) *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for i := 0; i < numNodes; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		g.SetEdge(g.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
	}
	return g
}

// parentsOf returns a node's parents in ascending order
func parentsOf(g *simple.DirectedGraph, n int) []int {
	var out []int
	it := g.To(int64(n))
	for it.Next() {
		out = append(out, int(it.Node().ID()))
	}
	sort.Ints(out)
	return out
}

// topoOrder returns a stable topological order, lower node IDs first among peers
func topoOrder(g *simple.DirectedGraph) ([]int, error) {
	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	})
	if err != nil {
		return nil, err
	}
	out := make([]int, len(sorted))
	for i, n := range sorted {
		out[i] = int(n.ID())
	}
	return out, nil
}

func edgesOf(g *simple.DirectedGraph) [][2]int {
	var out [][2]int
	for to := 0; to < numNodes; to++ {
		for _, from := range parentsOf(g, to) {
			out = append(out, [2]int{from, to})
		}
	}
	return out
}

// bicScorer scores a node given a parent set on discretized rows
type bicScorer struct {
	data  [][numNodes]int
	card  [numNodes]int
	cache map[string]float64
}

func newBICScorer(data [][numNodes]int, card [numNodes]int) *bicScorer {
	return &bicScorer{data: data, card: card, cache: make(map[string]float64)}
}

// local is the maximized log-likelihood of node given parents minus
// ½·log(N)·(free parameters)
func (s *bicScorer) local(node int, parents []int) float64 {
	key := cacheKey(node, parents)
	if v, ok := s.cache[key]; ok {
		return v
	}

	configs := 1
	for _, p := range parents {
		configs *= s.card[p]
	}
	k := s.card[node]
	counts := make([]float64, configs*k)
	totals := make([]float64, configs)
	for _, row := range s.data {
		cfg := configIndex(row[:], parents, s.card)
		counts[cfg*k+row[node]]++
		totals[cfg]++
	}

	var ll float64
	for cfg := 0; cfg < configs; cfg++ {
		if totals[cfg] == 0 {
			continue
		}
		for state := 0; state < k; state++ {
			if n := counts[cfg*k+state]; n > 0 {
				ll += n * math.Log(n/totals[cfg])
			}
		}
	}
	penalty := 0.5 * math.Log(float64(len(s.data))) * float64((k-1)*configs)
	score := ll - penalty
	s.cache[key] = score
	return score
}

func cacheKey(node int, parents []int) string {
	b := make([]byte, 0, len(parents)+1)
	b = append(b, byte(node))
	for _, p := range parents {
		b = append(b, byte(p))
	}
	return string(b)
}

// configIndex is the mixed-radix index of the parents' states
func configIndex(states []int, parents []int, card [numNodes]int) int {
	idx := 0
	for _, p := range parents {
		idx = idx*card[p] + states[p]
	}
	return idx
}

type moveKind int

const (
	moveAdd moveKind = iota
	moveDelete
	moveReverse
)

type move struct {
	kind     moveKind
	from, to int
	delta    float64
}

// hillClimb starts from the empty graph and repeatedly applies the add,
// delete or reverse move with the largest BIC gain until none improves or
// maxIter moves were made. Evidence nodes never gain parents, no node exceeds
// maxParents, and moves that would close a cycle are skipped.
func hillClimb(scorer *bicScorer, maxParents, maxIter int) *simple.DirectedGraph {
	g := newDAG(nil)
	for iter := 0; iter < maxIter; iter++ {
		best := move{delta: 1e-9}
		found := false
		for from := 0; from < numNodes; from++ {
			for to := 0; to < numNodes; to++ {
				if from == to {
					continue
				}
				m, ok := evaluate(g, scorer, from, to, maxParents)
				if ok && m.delta > best.delta {
					best, found = m, true
				}
			}
		}
		if !found {
			break
		}
		apply(g, best)
	}
	return g
}

// evaluate returns the best legal move touching the ordered pair (from, to)
func evaluate(g *simple.DirectedGraph, scorer *bicScorer, from, to, maxParents int) (move, bool) {
	toParents := parentsOf(g, to)
	current := scorer.local(to, toParents)

	if !g.HasEdgeFromTo(int64(from), int64(to)) {
		if isEvidence(to) || len(toParents) >= maxParents || g.HasEdgeFromTo(int64(to), int64(from)) {
			return move{}, false
		}
		if topo.PathExistsIn(g, simple.Node(to), simple.Node(from)) {
			return move{}, false
		}
		gain := scorer.local(to, withParent(toParents, from)) - current
		return move{kind: moveAdd, from: from, to: to, delta: gain}, true
	}

	without := withoutParent(toParents, from)
	deleteGain := scorer.local(to, without) - current
	best := move{kind: moveDelete, from: from, to: to, delta: deleteGain}

	fromParents := parentsOf(g, from)
	if !isEvidence(from) && len(fromParents) < maxParents {
		g.RemoveEdge(int64(from), int64(to))
		cyclic := topo.PathExistsIn(g, simple.Node(from), simple.Node(to))
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
		if !cyclic {
			gain := deleteGain + scorer.local(from, withParent(fromParents, to)) - scorer.local(from, fromParents)
			if gain > best.delta {
				best = move{kind: moveReverse, from: from, to: to, delta: gain}
			}
		}
	}
	return best, true
}

func apply(g *simple.DirectedGraph, m move) {
	switch m.kind {
	case moveAdd:
		g.SetEdge(g.NewEdge(simple.Node(m.from), simple.Node(m.to)))
	case moveDelete:
		g.RemoveEdge(int64(m.from), int64(m.to))
	case moveReverse:
		g.RemoveEdge(int64(m.from), int64(m.to))
		g.SetEdge(g.NewEdge(simple.Node(m.to), simple.Node(m.from)))
	}
}

func withParent(parents []int, p int) []int {
	out := append(append([]int(nil), parents...), p)
	sort.Ints(out)
	return out
}

func withoutParent(parents []int, p int) []int {
	out := make([]int, 0, len(parents))
	for _, q := range parents {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}
