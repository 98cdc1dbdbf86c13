package testkit

import (
	"math"
	"math/rand"

	"trialsynth/domain/vitals"
)

// ReferenceGeneratorConfig configures the reference vitals generator
type ReferenceGeneratorConfig struct {
	SubjectsPerArm int                        `json:"subjects_per_arm"`
	Schedule       vitals.Schedule            `json:"schedule"`
	Means          [vitals.NumColumns]float64 `json:"means"`
	Stds           [vitals.NumColumns]float64 `json:"stds"`
	// ActiveEffect is the Active-arm systolic shift at the last visit; it ramps
	// linearly from zero at the first visit. Diastolic moves by half of it.
	ActiveEffect      float64               `json:"active_effect"`
	SysDiaCorrelation float64               `json:"sys_dia_correlation"`
	Exclude           []vitals.PartitionKey `json:"exclude,omitempty"`
	Seed              int64                 `json:"seed"`
}

// DefaultReferenceConfig returns sensible defaults for a hypertension trial reference
func DefaultReferenceConfig() ReferenceGeneratorConfig {
	return ReferenceGeneratorConfig{
		SubjectsPerArm:    20,
		Schedule:          vitals.DefaultSchedule,
		Means:             [vitals.NumColumns]float64{135, 85, 74, 36.8},
		Stds:              [vitals.NumColumns]float64{12, 8, 9, 0.3},
		ActiveEffect:      -8,
		SysDiaCorrelation: 0.65,
		Seed:              42,
	}
}

// ReferenceGenerator generates realistic reference vitals tables for tests and demos
type ReferenceGenerator struct {
	config ReferenceGeneratorConfig
	rng    *rand.Rand
}

// NewReferenceGenerator creates a new reference generator
func NewReferenceGenerator(config ReferenceGeneratorConfig) *ReferenceGenerator {
	return &ReferenceGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate produces one row per subject per visit, skipping excluded partitions
func (g *ReferenceGenerator) Generate() vitals.Table {
	schedule := g.config.Schedule
	if len(schedule) == 0 {
		schedule = vitals.DefaultSchedule
	}
	excluded := make(map[vitals.PartitionKey]bool, len(g.config.Exclude))
	for _, k := range g.config.Exclude {
		excluded[k] = true
	}

	subjects := vitals.DefaultSubjects(2*g.config.SubjectsPerArm, 0)
	table := make(vitals.Table, 0, len(subjects)*len(schedule))
	for _, s := range subjects {
		for v, visit := range schedule {
			if excluded[vitals.PartitionKey{Visit: visit, Arm: s.Arm}] {
				continue
			}
			record := vitals.VitalRecord{SubjectID: s.SubjectID, VisitName: visit, TreatmentArm: s.Arm}
			record.SetValues(g.sampleVitals(s.Arm, v, len(schedule)))
			table = append(table, record)
		}
	}
	return table
}

// sampleVitals draws one correlated vital-sign vector
func (g *ReferenceGenerator) sampleVitals(arm vitals.Arm, visitIndex, visitCount int) [vitals.NumColumns]float64 {
	m, s := g.config.Means, g.config.Stds
	rho := g.config.SysDiaCorrelation

	e1 := g.rng.NormFloat64()
	e2 := rho*e1 + math.Sqrt(1-rho*rho)*g.rng.NormFloat64()
	e3 := 0.3*e1 + math.Sqrt(1-0.09)*g.rng.NormFloat64()
	e4 := g.rng.NormFloat64()

	effect := 0.0
	if arm == vitals.ArmActive && visitCount > 1 {
		effect = g.config.ActiveEffect * float64(visitIndex) / float64(visitCount-1)
	}

	sys := m[0] + effect + s[0]*e1
	dia := m[1] + 0.5*effect + s[1]*e2
	hr := m[2] + s[2]*e3
	temp := m[3] + s[3]*e4

	sys = math.Round(vitals.SystolicBP.Clip(sys))
	dia = math.Round(vitals.DiastolicBP.Clip(dia))
	if sys <= dia {
		dia = vitals.DiastolicBP.Clip(sys - 10)
	}
	hr = math.Round(vitals.HeartRate.Clip(hr))
	temp = math.Round(vitals.Temperature.Clip(temp)*10) / 10

	return [vitals.NumColumns]float64{sys, dia, hr, temp}
}
