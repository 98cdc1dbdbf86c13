package synth

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"trialsynth/domain/core"
	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
)

// Bucket is one clinically named band of a vital sign, [Lo, Hi)
type Bucket struct {
	Name string
	Lo   float64
	Hi   float64
}

// Buckets lists each column's clinical bands in ascending order. The outer
// bands meet the physiological range limits.
var Buckets = [vitals.NumColumns][]Bucket{
	vitals.SystolicBP: {
		{"Normal", 95, 120}, {"Elevated", 120, 130}, {"Stage1", 130, 140},
		{"Stage2", 140, 180}, {"Severe", 180, 200},
	},
	vitals.DiastolicBP: {
		{"Normal", 55, 80}, {"Stage1", 80, 90}, {"Stage2", 90, 120}, {"Severe", 120, 130},
	},
	vitals.HeartRate: {
		{"Bradycardia", 50, 60}, {"Normal", 60, 100}, {"Tachycardia", 100, 120},
	},
	vitals.Temperature: {
		{"Hypothermic", 35, 36.1}, {"Normal", 36.1, 37.5}, {"LowGrade", 37.5, 38.3}, {"Fever", 38.3, 40},
	},
}

// Discretize maps a value to its bucket index; values outside the range
// land in the nearest outer bucket
func Discretize(c vitals.Column, v float64) int {
	bands := Buckets[c]
	for i, b := range bands {
		if v < b.Hi {
			return i
		}
	}
	return len(bands) - 1
}

// Structure modes for BayesianNetwork
const (
	StructureLearned = "learned"
	StructureExpert  = "expert"
)

// Value sampling modes within a bucket
const (
	SamplingUniform     = "uniform"
	SamplingTruncNormal = "truncnormal"
)

// BayesianNetwork forward-samples a discrete network over arm, visit and the
// bucketed vitals, then draws a value inside each sampled bucket.
type BayesianNetwork struct {
	cfg config.BayesNetConfig

	visits   vitals.Schedule
	visitIdx map[string]int
	card     [numNodes]int
	parents  [numNodes][]int
	cpt      [numNodes][]float64
	order    []int
	edges    [][2]int
	fallback string
}

// NewBayesianNetwork creates the strategy
func NewBayesianNetwork(cfg config.BayesNetConfig) (*BayesianNetwork, error) {
	if cfg.Structure == "" {
		cfg.Structure = StructureLearned
	}
	if cfg.Sampling == "" {
		cfg.Sampling = SamplingUniform
	}
	if cfg.Structure != StructureLearned && cfg.Structure != StructureExpert {
		return nil, core.NewInvalidRequestError("bayes_net.structure", cfg.Structure)
	}
	if cfg.Sampling != SamplingUniform && cfg.Sampling != SamplingTruncNormal {
		return nil, core.NewInvalidRequestError("bayes_net.sampling", cfg.Sampling)
	}
	if cfg.MaxParents <= 0 {
		cfg.MaxParents = 3
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 1
	}
	if cfg.MinRowsForLearning <= 0 {
		cfg.MinRowsForLearning = 100
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	return &BayesianNetwork{cfg: cfg}, nil
}

func (b *BayesianNetwork) Kind() Kind { return KindBayesianNetwork }

// Fit discretizes the reference, picks the structure and estimates smoothed
// conditional probability tables
func (b *BayesianNetwork) Fit(reference vitals.Table) (*stats.Profile, error) {
	profile, err := learn(reference)
	if err != nil {
		return nil, err
	}

	b.visits = profile.Visits
	b.visitIdx = make(map[string]int, len(b.visits))
	for i, v := range b.visits {
		b.visitIdx[v] = i
	}
	b.card[nodeArm] = len(vitals.Arms)
	b.card[nodeVisit] = len(b.visits)
	for _, c := range vitals.NumericColumns {
		b.card[columnNode(c)] = len(Buckets[c])
	}

	var data [][numNodes]int
	for _, r := range reference {
		if !r.Complete() {
			continue
		}
		data = append(data, b.encode(r))
	}

	b.fallback = ""
	var edges [][2]int
	switch {
	case b.cfg.Structure == StructureExpert:
		edges = expertEdges
	case len(data) < b.cfg.MinRowsForLearning:
		edges = expertEdges
		b.fallback = fmt.Sprintf("%d reference rows, structure learning needs %d; using the expert network",
			len(data), b.cfg.MinRowsForLearning)
	default:
		edges = edgesOf(hillClimb(newBICScorer(data, b.card), b.cfg.MaxParents, b.cfg.MaxIterations))
	}

	dag := newDAG(edges)
	order, err := topoOrder(dag)
	if err != nil {
		return nil, fmt.Errorf("bayesian network structure: %w", err)
	}
	b.order = order
	b.edges = edgesOf(dag)
	for n := 0; n < numNodes; n++ {
		b.parents[n] = parentsOf(dag, n)
		b.cpt[n] = b.estimate(n, data)
	}
	return profile, nil
}

// estimate fits P(node | parents) with Dirichlet pseudo-count alpha per cell
func (b *BayesianNetwork) estimate(node int, data [][numNodes]int) []float64 {
	configs := 1
	for _, p := range b.parents[node] {
		configs *= b.card[p]
	}
	k := b.card[node]
	table := make([]float64, configs*k)
	for _, row := range data {
		table[configIndex(row[:], b.parents[node], b.card)*k+row[node]]++
	}
	for cfg := 0; cfg < configs; cfg++ {
		cell := table[cfg*k : (cfg+1)*k]
		total := 0.0
		for _, n := range cell {
			total += n
		}
		denom := total + b.cfg.Alpha*float64(k)
		for s := range cell {
			cell[s] = (cell[s] + b.cfg.Alpha) / denom
		}
	}
	return table
}

// Edges returns the fitted structure as (parent, child) node names
func (b *BayesianNetwork) Edges() [][2]string {
	out := make([][2]string, len(b.edges))
	for i, e := range b.edges {
		out[i] = [2]string{nodeNames[e[0]], nodeNames[e[1]]}
	}
	return out
}

// UsedExpertFallback reports whether the last Fit had too few rows to learn structure
func (b *BayesianNetwork) UsedExpertFallback() bool {
	return b.fallback != ""
}

// Generate fixes arm and visit as evidence, samples the remaining nodes in
// topological order and maps each bucket back to a value
func (b *BayesianNetwork) Generate(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error) {
	if err := requireProfile(profile); err != nil {
		return nil, nil, err
	}
	if len(b.order) == 0 {
		return nil, nil, core.ErrNotFitted
	}
	diag := vitals.NewDiagnostics(b.Kind().String())
	if b.fallback != "" {
		diag.Warn(vitals.WarnStructureFallback, nil, "%s", b.fallback)
	}
	rows := rowsFor(profile, req, rng)

	var states [numNodes]int
	for i := range rows {
		states[nodeArm] = armIndex(rows[i].TreatmentArm)
		visit, ok := b.visitIdx[rows[i].VisitName]
		if !ok {
			key := rows[i].Partition()
			diag.Warn(vitals.WarnMissingConditionalPartition, &key,
				"visit %q not in the reference; sampling a visit state from learned frequencies", rows[i].VisitName)
			visit = b.visitIdx[stats.SampleLevel(profile.VisitFrequency, rng.Float64())]
		}
		states[nodeVisit] = visit

		for _, n := range b.order {
			if isEvidence(n) {
				continue
			}
			states[n] = b.sampleNode(n, states, rng)
		}

		var values [vitals.NumColumns]float64
		for _, c := range vitals.NumericColumns {
			values[c] = b.sampleValue(Buckets[c][states[columnNode(c)]], rng)
		}
		rows[i].SetValues(values)
	}
	return rows, diag, nil
}

func (b *BayesianNetwork) sampleNode(n int, states [numNodes]int, rng *rand.Rand) int {
	k := b.card[n]
	cfg := configIndex(states[:], b.parents[n], b.card)
	probs := b.cpt[n][cfg*k : (cfg+1)*k]
	u := rng.Float64()
	acc := 0.0
	for s, p := range probs {
		acc += p
		if u < acc {
			return s
		}
	}
	return k - 1
}

// sampleValue draws uniformly inside the bucket, or from a normal centred on
// the bucket and truncated to it by inverse-CDF sampling
func (b *BayesianNetwork) sampleValue(bucket Bucket, rng *rand.Rand) float64 {
	width := bucket.Hi - bucket.Lo
	if b.cfg.Sampling != SamplingTruncNormal {
		return bucket.Lo + rng.Float64()*width
	}
	n := distuv.Normal{Mu: bucket.Lo + width/2, Sigma: width / 4}
	lo, hi := n.CDF(bucket.Lo), n.CDF(bucket.Hi)
	return n.Quantile(lo + rng.Float64()*(hi-lo))
}

func (b *BayesianNetwork) encode(r vitals.VitalRecord) [numNodes]int {
	var s [numNodes]int
	s[nodeArm] = armIndex(r.TreatmentArm)
	s[nodeVisit] = b.visitIdx[r.VisitName]
	for _, c := range vitals.NumericColumns {
		s[columnNode(c)] = Discretize(c, r.Value(c))
	}
	return s
}

func columnNode(c vitals.Column) int {
	return nodeSystolic + int(c)
}

func armIndex(a vitals.Arm) int {
	if a == vitals.ArmPlacebo {
		return 1
	}
	return 0
}
