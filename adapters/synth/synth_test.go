package synth

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialsynth/domain/core"
	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
	"trialsynth/internal/constraints"
	"trialsynth/internal/testkit"
)

func fitted(t *testing.T, kind Kind, mutate func(*config.GeneratorConfig), ref vitals.Table) (Strategy, *stats.Profile) {
	t.Helper()
	cfg := config.Default().Generator
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(kind, cfg)
	require.NoError(t, err)
	profile, err := s.Fit(ref)
	require.NoError(t, err)
	return s, profile
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"correlated_gaussian": KindCorrelatedGaussian,
		"CorrelatedGaussian":  KindCorrelatedGaussian,
		"gaussian":            KindCorrelatedGaussian,
		"resampling":          KindResampling,
		"Diffusion":           KindDiffusion,
		"bayesian-network":    KindBayesianNetwork,
		"bn":                  KindBayesianNetwork,
		"MICE":                KindChainedEquation,
		"chained equations":   KindChainedEquation,
	}
	for name, want := range cases {
		got, err := ParseKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseKind("gan")
	assert.ErrorIs(t, err, core.ErrUnknownStrategy)
	for _, k := range Kinds() {
		back, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, back)
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	cfg := config.Default().Generator
	cfg.Resampling.Fallback = "sideways"
	_, err := New(KindResampling, cfg)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = New(Kind(42), cfg)
	assert.ErrorIs(t, err, core.ErrUnknownStrategy)
}

func TestGenerate_RequiresFit(t *testing.T) {
	for _, k := range Kinds() {
		s, err := New(k, config.Default().Generator)
		require.NoError(t, err)
		_, _, err = s.Generate(nil, vitals.GenerationRequest{SubjectsPerArm: 1}, rand.New(rand.NewSource(1)))
		assert.ErrorIs(t, err, core.ErrNotFitted, k.String())
	}
}

func TestAllStrategies_ValidAfterEnforcement(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 15, Seed: 3}

	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			s, profile := fitted(t, k, nil, ref)
			raw, diag, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
			require.NoError(t, err)
			require.NotNil(t, diag)
			assert.Equal(t, k.String(), diag.Strategy)
			assert.Len(t, raw, 15*2*len(vitals.DefaultSchedule))

			out, _ := constraints.Enforce(raw)
			assert.Empty(t, out.InvalidRows())
		})
	}
}

func TestAllStrategies_ReproduceExplicitLayout(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{
		SubjectIDs: []core.SubjectID{"PT-03", "PT-01", "PT-02"},
		ArmAssignment: map[core.SubjectID]vitals.Arm{
			"PT-01": vitals.ArmPlacebo, "PT-02": vitals.ArmActive, "PT-03": vitals.ArmActive,
		},
		Schedule:           vitals.Schedule{"Day 1", "Week 12", "Week 24"},
		SampleCategoricals: true,
		Seed:               11,
	}
	want := []vitals.RowKey(req.Layout())

	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			s, profile := fitted(t, k, nil, ref)
			out, _, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
			require.NoError(t, err)
			assert.Equal(t, want, out.Keys())
		})
	}
}

func TestAllStrategies_Deterministic(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 8, Seed: 99}

	for _, k := range Kinds() {
		t.Run(k.String(), func(t *testing.T) {
			s, profile := fitted(t, k, nil, ref)
			a, _, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
			require.NoError(t, err)
			b, _, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
			require.NoError(t, err)
			assert.Equal(t, a.Fingerprint(), b.Fingerprint())

			c, _, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed+1)))
			require.NoError(t, err)
			assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
		})
	}
}

func TestSampleCategoricals_DrawsFromFrequencies(t *testing.T) {
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Schedule = vitals.Schedule{"Baseline", "Month 6"}
	})
	s, profile := fitted(t, KindCorrelatedGaussian, nil, ref)
	req := vitals.GenerationRequest{
		SubjectsPerArm:     30,
		Schedule:           vitals.Schedule{"Baseline", "Month 6"},
		SampleCategoricals: true,
	}

	out, _, err := s.Generate(profile, req, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, r := range out {
		seen[r.VisitName] = true
		assert.True(t, r.TreatmentArm.Valid())
	}
	assert.Equal(t, map[string]bool{"Baseline": true, "Month 6": true}, seen)
}

func TestSampleCategoricals_StaysOnSchedule(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	s, profile := fitted(t, KindChainedEquation, nil, ref)
	req := vitals.GenerationRequest{
		SubjectsPerArm:     20,
		Schedule:           vitals.Schedule{"Day 1", "Week 12"},
		SampleCategoricals: true,
		Seed:               6,
	}

	out, _, err := s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
	require.NoError(t, err)
	seen := map[string]int{}
	for _, r := range out {
		seen[r.VisitName]++
	}
	assert.Len(t, seen, 2)
	assert.Positive(t, seen["Day 1"])
	assert.Positive(t, seen["Week 12"])

	// no scheduled visit in the reference: the balanced schedule is kept
	req.Schedule = vitals.Schedule{"Month 1", "Month 2"}
	out, _, err = s.Generate(profile, req, rand.New(rand.NewSource(req.Seed)))
	require.NoError(t, err)
	assert.Equal(t, []vitals.RowKey(req.Layout()), out.Keys())
}

func TestCorrelatedGaussian_ConditionalFallsBack(t *testing.T) {
	missing := vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo}
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Exclude = []vitals.PartitionKey{missing}
	})
	s, profile := fitted(t, KindCorrelatedGaussian, func(c *config.GeneratorConfig) {
		c.Gaussian.Conditional = true
	}, ref)

	_, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 4}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 4, diag.Count(vitals.WarnMissingConditionalPartition))
	require.Len(t, diag.Warnings, 1)
	assert.Equal(t, missing, *diag.Warnings[0].Partition)
}

func TestResampling_MissingPartitionFallsBackToUnconditional(t *testing.T) {
	missing := vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo}
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Exclude = []vitals.PartitionKey{missing}
	})
	s, profile := fitted(t, KindResampling, func(c *config.GeneratorConfig) {
		c.Resampling.JitterFraction = 0
		c.Resampling.FlipProbability = 0
	}, ref)

	out, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 10}, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, 10, diag.Count(vitals.WarnPartitionFallback))

	// without jitter every row is a copy of some reference row
	donors := map[[vitals.NumColumns]float64]bool{}
	for _, r := range ref {
		donors[r.Values()] = true
	}
	for _, r := range out {
		assert.True(t, donors[r.Values()])
	}
	assert.Len(t, out.Select(vitals.SystolicBP, missing), 10)
}

func TestResampling_NearestVisitFallback(t *testing.T) {
	missing := vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo}
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Exclude = []vitals.PartitionKey{missing}
	})
	s, profile := fitted(t, KindResampling, func(c *config.GeneratorConfig) {
		c.Resampling.JitterFraction = 0
		c.Resampling.FlipProbability = 0
		c.Resampling.Fallback = FallbackNearest
	}, ref)

	out, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 6}, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	assert.True(t, diag.Has(vitals.WarnPartitionFallback))
	assert.Contains(t, diag.Warnings[0].Message, "Week 4/Placebo")

	week4 := map[[vitals.NumColumns]float64]bool{}
	for _, r := range ref {
		if r.Partition() == (vitals.PartitionKey{Visit: "Week 4", Arm: vitals.ArmPlacebo}) {
			week4[r.Values()] = true
		}
	}
	for _, r := range out {
		if r.Partition() == missing {
			assert.True(t, week4[r.Values()])
		}
	}
}

func TestResampling_NearestFollowsRequestSchedule(t *testing.T) {
	missing := vitals.PartitionKey{Visit: "Week 12", Arm: vitals.ArmPlacebo}
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.Exclude = []vitals.PartitionKey{missing}
	})
	// a reference sorted by visit name sees Week 12 right after Screening
	sort.SliceStable(ref, func(i, j int) bool { return ref[i].VisitName < ref[j].VisitName })
	s, profile := fitted(t, KindResampling, func(c *config.GeneratorConfig) {
		c.Resampling.JitterFraction = 0
		c.Resampling.FlipProbability = 0
		c.Resampling.Fallback = FallbackNearest
	}, ref)
	require.Equal(t, vitals.Schedule{"Day 1", "Screening", "Week 12", "Week 4"}, profile.Visits)

	out, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 5}, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	require.True(t, diag.Has(vitals.WarnPartitionFallback))
	assert.Contains(t, diag.Warnings[0].Message, "Week 4/Placebo")

	week4 := map[[vitals.NumColumns]float64]bool{}
	for _, r := range ref {
		if r.Partition() == (vitals.PartitionKey{Visit: "Week 4", Arm: vitals.ArmPlacebo}) {
			week4[r.Values()] = true
		}
	}
	for _, r := range out {
		if r.Partition() == missing {
			assert.True(t, week4[r.Values()])
		}
	}
}

func TestResampling_JitterBounded(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	s, profile := fitted(t, KindResampling, func(c *config.GeneratorConfig) {
		c.Resampling.JitterFraction = 0.05
		c.Resampling.FlipProbability = 0.5
	}, ref)

	req := vitals.GenerationRequest{SubjectsPerArm: 10}
	out, _, err := s.Generate(profile, req, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	// flips change the donor, never the row's key
	assert.Equal(t, []vitals.RowKey(req.Layout()), out.Keys())

	for _, r := range out {
		for _, c := range vitals.NumericColumns {
			bound := 0.05 * profile.Global[c].Range()
			nearest := math.Inf(1)
			for _, d := range ref {
				nearest = math.Min(nearest, math.Abs(d.Value(c)-r.Value(c)))
			}
			assert.LessOrEqual(t, nearest, bound+1e-9)
		}
	}
}

func TestDiffusion_ConvergesWithMoreSteps(t *testing.T) {
	ref := testkit.ReferenceTable(nil)
	req := vitals.GenerationRequest{SubjectsPerArm: 50}

	deviation := func(steps int) float64 {
		s, profile := fitted(t, KindDiffusion, func(c *config.GeneratorConfig) {
			c.Diffusion.Steps = steps
		}, ref)
		out, _, err := s.Generate(profile, req, rand.New(rand.NewSource(21)))
		require.NoError(t, err)

		total, n := 0.0, 0
		for _, key := range profile.Partitions() {
			cond, _ := profile.Lookup(key)
			for _, c := range vitals.NumericColumns {
				values := out.Select(c, key)
				sum := 0.0
				for _, v := range values {
					sum += v
				}
				total += math.Abs(sum/float64(len(values))-cond.Mean[c]) / cond.Std[c]
				n++
			}
		}
		return total / float64(n)
	}

	d10, d50, d200 := deviation(10), deviation(50), deviation(200)
	assert.Greater(t, d10, d50)
	assert.Greater(t, d50, d200)
	assert.Less(t, d200, 0.01)
}

func TestDiffusion_OutputAlwaysValid(t *testing.T) {
	s, profile := fitted(t, KindDiffusion, func(c *config.GeneratorConfig) {
		c.Diffusion.Steps = 3
	}, testkit.ReferenceTable(nil))
	out, _, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 20}, rand.New(rand.NewSource(6)))
	require.NoError(t, err)
	assert.Empty(t, out.InvalidRows())
	assert.Equal(t, 3, s.(*Diffusion).Steps())
}

func TestBayesianNetwork_ExpertFallbackOnSmallReference(t *testing.T) {
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.SubjectsPerArm = 10 // 80 rows
	})
	s, profile := fitted(t, KindBayesianNetwork, nil, ref)
	bn := s.(*BayesianNetwork)
	assert.True(t, bn.UsedExpertFallback())

	wantEdges := make([][2]string, 0, len(expertEdges))
	for _, e := range edgesOf(newDAG(expertEdges)) {
		wantEdges = append(wantEdges, [2]string{nodeNames[e[0]], nodeNames[e[1]]})
	}
	assert.Equal(t, wantEdges, bn.Edges())

	_, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.True(t, diag.Has(vitals.WarnStructureFallback))
}

func TestBayesianNetwork_LearnedStructure(t *testing.T) {
	ref := testkit.ReferenceTable(func(c *testkit.ReferenceGeneratorConfig) {
		c.SubjectsPerArm = 40 // 320 rows
		c.ActiveEffect = -20
	})
	s, profile := fitted(t, KindBayesianNetwork, func(c *config.GeneratorConfig) {
		c.BayesNet.MaxParents = 2
	}, ref)
	bn := s.(*BayesianNetwork)
	assert.False(t, bn.UsedExpertFallback())

	parents := map[string]int{}
	for _, e := range bn.Edges() {
		assert.NotEqual(t, "TreatmentArm", e[1])
		assert.NotEqual(t, "VisitName", e[1])
		parents[e[1]]++
	}
	for child, n := range parents {
		assert.LessOrEqual(t, n, 2, child)
	}

	// order respects every edge
	pos := map[int]int{}
	for i, n := range bn.order {
		pos[n] = i
	}
	for _, e := range bn.edges {
		assert.Less(t, pos[e[0]], pos[e[1]])
	}

	_, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 3}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.False(t, diag.Has(vitals.WarnStructureFallback))
}

func TestBayesianNetwork_ValuesStayInsideBuckets(t *testing.T) {
	for _, mode := range []string{SamplingUniform, SamplingTruncNormal} {
		s, profile := fitted(t, KindBayesianNetwork, func(c *config.GeneratorConfig) {
			c.BayesNet.Structure = StructureExpert
			c.BayesNet.Sampling = mode
		}, testkit.ReferenceTable(nil))
		out, diag, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 20}, rand.New(rand.NewSource(2)))
		require.NoError(t, err)
		assert.False(t, diag.Has(vitals.WarnStructureFallback))
		for _, r := range out {
			for _, c := range vitals.NumericColumns {
				assert.True(t, c.InRange(r.Value(c)), "%s %s=%v", mode, c, r.Value(c))
			}
		}
	}
}

func TestBayesianNetwork_UnknownVisitSampled(t *testing.T) {
	s, profile := fitted(t, KindBayesianNetwork, nil, testkit.ReferenceTable(nil))
	req := vitals.GenerationRequest{SubjectsPerArm: 2, Schedule: vitals.Schedule{"Week 52"}}
	_, diag, err := s.Generate(profile, req, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 4, diag.Count(vitals.WarnMissingConditionalPartition))
}

func TestDiscretize(t *testing.T) {
	assert.Equal(t, 0, Discretize(vitals.SystolicBP, 95))
	assert.Equal(t, 1, Discretize(vitals.SystolicBP, 120))
	assert.Equal(t, 4, Discretize(vitals.SystolicBP, 200))
	assert.Equal(t, 4, Discretize(vitals.SystolicBP, 250))
	assert.Equal(t, 0, Discretize(vitals.HeartRate, 20))
	assert.Equal(t, 3, Discretize(vitals.Temperature, 38.3))
	assert.Equal(t, 1, Discretize(vitals.Temperature, 36.8))
}

func TestChainedEquation_RoundsAndImputes(t *testing.T) {
	for _, regressor := range []string{RegressorRidge, RegressorTrees} {
		s, profile := fitted(t, KindChainedEquation, func(c *config.GeneratorConfig) {
			c.MICE.Regressor = regressor
		}, testkit.ReferenceTable(nil))
		out, _, err := s.Generate(profile, vitals.GenerationRequest{SubjectsPerArm: 25}, rand.New(rand.NewSource(3)))
		require.NoError(t, err, regressor)

		means := s.(*ChainedEquation).imputer.Means()
		imputed := 0
		for _, r := range out {
			assert.Equal(t, math.Round(r.SystolicBP), r.SystolicBP)
			assert.Equal(t, math.Round(r.HeartRate), r.HeartRate)
			assert.InDelta(t, math.Round(r.Temperature*10)/10, r.Temperature, 1e-9)
			if math.Abs(r.SystolicBP-math.Round(means[vitals.SystolicBP])) > 0.5 {
				imputed++
			}
		}
		assert.Greater(t, imputed, 0, regressor)
	}
}

func TestChainedEquation_RejectsTinyReference(t *testing.T) {
	s, err := New(KindChainedEquation, config.Default().Generator)
	require.NoError(t, err)
	_, err = s.Fit(testkit.ReferenceTable(nil)[:4])
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}
