// Package synth holds the generation strategies. Each one learns a profile
// from a reference table and turns it into an unconstrained candidate table
// for a request; constraint enforcement and effect calibration happen
// downstream in the service.
package synth

import (
	"math/rand"
	"strings"

	"trialsynth/domain/core"
	"trialsynth/domain/stats"
	"trialsynth/domain/vitals"
	"trialsynth/internal/config"
	"trialsynth/internal/profiling"
)

// Kind selects a generation strategy
type Kind int

const (
	KindCorrelatedGaussian Kind = iota
	KindResampling
	KindDiffusion
	KindBayesianNetwork
	KindChainedEquation
)

var kindNames = [...]string{
	KindCorrelatedGaussian: "correlated_gaussian",
	KindResampling:         "resampling",
	KindDiffusion:          "diffusion",
	KindBayesianNetwork:    "bayesian_network",
	KindChainedEquation:    "mice",
}

var kindAliases = map[string]Kind{
	"gaussian":          KindCorrelatedGaussian,
	"correlatedgauss":   KindCorrelatedGaussian,
	"bootstrap":         KindResampling,
	"diffusion_refine":  KindDiffusion,
	"refinement":        KindDiffusion,
	"bayesnet":          KindBayesianNetwork,
	"bn":                KindBayesianNetwork,
	"chained_equation":  KindChainedEquation,
	"chained_equations": KindChainedEquation,
	"imputation":        KindChainedEquation,
}

// Kinds lists every strategy in declaration order
func Kinds() []Kind {
	return []Kind{KindCorrelatedGaussian, KindResampling, KindDiffusion, KindBayesianNetwork, KindChainedEquation}
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a strategy name to its Kind. Matching ignores case, spaces
// and hyphens, and accepts a few common aliases.
func ParseKind(name string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	for k, n := range kindNames {
		if key == n || key == strings.ReplaceAll(n, "_", "") {
			return Kind(k), nil
		}
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return 0, core.NewUnknownStrategyError(name)
}

// Strategy is one generation method. Fit learns from a reference table and
// must be called before Generate. Generate only reads fitted state, so a
// fitted Strategy can serve concurrent callers that each bring their own rng.
type Strategy interface {
	Kind() Kind
	Fit(reference vitals.Table) (*stats.Profile, error)
	Generate(profile *stats.Profile, req vitals.GenerationRequest, rng *rand.Rand) (vitals.Table, *vitals.Diagnostics, error)
}

// New builds an unfitted strategy from configuration
func New(kind Kind, cfg config.GeneratorConfig) (Strategy, error) {
	switch kind {
	case KindCorrelatedGaussian:
		return NewCorrelatedGaussian(cfg.Gaussian), nil
	case KindResampling:
		return NewResampling(cfg.Resampling)
	case KindDiffusion:
		return NewDiffusion(cfg.Diffusion), nil
	case KindBayesianNetwork:
		return NewBayesianNetwork(cfg.BayesNet)
	case KindChainedEquation:
		return NewChainedEquation(cfg.MICE)
	}
	return nil, core.NewUnknownStrategyError(kind.String())
}

// learn is the shared profile fit every strategy starts from
func learn(reference vitals.Table) (*stats.Profile, error) {
	return profiling.NewLearner().Fit(reference)
}

func requireProfile(profile *stats.Profile) error {
	if profile == nil || profile.Cholesky == nil {
		return core.ErrNotFitted
	}
	return nil
}
