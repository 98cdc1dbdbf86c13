package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"trialsynth/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Generator GeneratorConfig `yaml:"generator"`
	Batch     BatchConfig     `yaml:"batch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GeneratorConfig selects a strategy and carries the options of each one
type GeneratorConfig struct {
	Strategy   string           `yaml:"strategy" default:"correlated_gaussian" validate:"required"`
	Gaussian   GaussianConfig   `yaml:"gaussian"`
	Resampling ResamplingConfig `yaml:"resampling"`
	Diffusion  DiffusionConfig  `yaml:"diffusion"`
	BayesNet   BayesNetConfig   `yaml:"bayes_net"`
	MICE       MICEConfig       `yaml:"mice"`
}

// GaussianConfig holds CorrelatedGaussian options
type GaussianConfig struct {
	// Conditional uses per-(visit, arm) means and stds instead of the global ones
	Conditional bool `yaml:"conditional"`
}

// ResamplingConfig holds Resampling options
type ResamplingConfig struct {
	JitterFraction  float64 `yaml:"jitter_fraction" default:"0.02" validate:"gte=0,lte=0.5"`
	FlipProbability float64 `yaml:"flip_probability" default:"0.02" validate:"gte=0,lte=1"`
	Fallback        string  `yaml:"fallback" default:"unconditional" validate:"oneof=unconditional nearest"`
}

// DiffusionConfig holds DiffusionRefinement options
type DiffusionConfig struct {
	Steps int `yaml:"steps" default:"50" validate:"min=1,max=10000"`
}

// BayesNetConfig holds BayesianNetwork options
type BayesNetConfig struct {
	Structure          string  `yaml:"structure" default:"learned" validate:"oneof=learned expert"`
	MaxParents         int     `yaml:"max_parents" default:"3" validate:"min=1,max=5"`
	Alpha              float64 `yaml:"alpha" default:"1" validate:"gt=0"`
	MinRowsForLearning int     `yaml:"min_rows_for_learning" default:"100" validate:"min=1"`
	MaxIterations      int     `yaml:"max_iterations" default:"200" validate:"min=1"`
	Sampling           string  `yaml:"sampling" default:"uniform" validate:"oneof=uniform truncnormal"`
}

// MICEConfig holds chained-equation imputation options
type MICEConfig struct {
	Regressor       string  `yaml:"regressor" default:"ridge" validate:"oneof=ridge trees"`
	RidgeLambda     float64 `yaml:"ridge_lambda" default:"1" validate:"gte=0"`
	Trees           int     `yaml:"trees" default:"20" validate:"min=1"`
	MaxDepth        int     `yaml:"max_depth" default:"4" validate:"min=1"`
	MinLeaf         int     `yaml:"min_leaf" default:"5" validate:"min=1"`
	MaxIter         int     `yaml:"max_iter" default:"10" validate:"min=1"`
	MissingBase     float64 `yaml:"missing_base" default:"0.1" validate:"gte=0,lte=1"`
	MissingMax      float64 `yaml:"missing_max" default:"0.4" validate:"gte=0,lte=1,gtefield=MissingBase"`
	SamplePosterior bool    `yaml:"sample_posterior" default:"true"`
	FitSeed         int64   `yaml:"fit_seed" default:"7"`
	Imputations     int     `yaml:"imputations" default:"5" validate:"min=2"`
}

// BatchConfig holds chunked generation settings
type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size" default:"10000" validate:"min=1"`
	Workers   int `yaml:"workers" default:"1" validate:"min=1,max=64"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level" default:"INFO" validate:"oneof=ERROR WARN INFO DEBUG TRACE"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
}

var validate = validator.New()

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	// only fails on malformed tags
	if err := defaults.Set(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables, and validates it
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file
func LoadFile(path string) (*Config, error) {
	config := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("read config: %w", err))
		}
		if err := yaml.Unmarshal(b, config); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse config: %w", err))
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks every section against its validate tags
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ConfigInvalid(err.Error())
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return errors.ConfigInvalid(strings.Join(msgs, "; "))
}

func applyEnv(c *Config) {
	c.Generator.Strategy = getEnvOrDefault("STRATEGY", c.Generator.Strategy)
	c.Generator.Gaussian.Conditional = getEnvBoolOrDefault("GAUSSIAN_CONDITIONAL", c.Generator.Gaussian.Conditional)
	c.Generator.Resampling.JitterFraction = getEnvFloatOrDefault("RESAMPLING_JITTER", c.Generator.Resampling.JitterFraction)
	c.Generator.Resampling.FlipProbability = getEnvFloatOrDefault("RESAMPLING_FLIP_PROBABILITY", c.Generator.Resampling.FlipProbability)
	c.Generator.Resampling.Fallback = getEnvOrDefault("RESAMPLING_FALLBACK", c.Generator.Resampling.Fallback)
	c.Generator.Diffusion.Steps = getEnvIntOrDefault("DIFFUSION_STEPS", c.Generator.Diffusion.Steps)
	c.Generator.BayesNet.Structure = getEnvOrDefault("BAYESNET_STRUCTURE", c.Generator.BayesNet.Structure)
	c.Generator.MICE.Regressor = getEnvOrDefault("MICE_REGRESSOR", c.Generator.MICE.Regressor)
	c.Generator.MICE.Imputations = getEnvIntOrDefault("MICE_IMPUTATIONS", c.Generator.MICE.Imputations)

	c.Batch.ChunkSize = getEnvIntOrDefault("CHUNK_SIZE", c.Batch.ChunkSize)
	c.Batch.Workers = getEnvIntOrDefault("WORKERS", c.Batch.Workers)

	c.Logging.Level = strings.ToUpper(getEnvOrDefault("LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnvOrDefault("LOG_FORMAT", c.Logging.Format))
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
