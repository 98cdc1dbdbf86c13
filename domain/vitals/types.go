package vitals

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"trialsynth/domain/core"
)

// Arm identifies a treatment arm
type Arm string

const (
	ArmActive  Arm = "Active"
	ArmPlacebo Arm = "Placebo"
)

// Arms lists the arms in canonical order
var Arms = []Arm{ArmActive, ArmPlacebo}

// Valid reports whether the arm is one of the known arms
func (a Arm) Valid() bool {
	return a == ArmActive || a == ArmPlacebo
}

// Opposite returns the other arm
func (a Arm) Opposite() Arm {
	if a == ArmActive {
		return ArmPlacebo
	}
	return ArmActive
}

// ParseArm parses an arm label case-insensitively
func ParseArm(s string) (Arm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "treatment", "trt":
		return ArmActive, nil
	case "placebo", "pbo", "control":
		return ArmPlacebo, nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownArm, s)
}

// Column identifies one numeric vital-sign column
type Column int

const (
	SystolicBP Column = iota
	DiastolicBP
	HeartRate
	Temperature
)

// NumColumns is the number of numeric vital columns
const NumColumns = 4

// NumericColumns lists the numeric columns in canonical order
var NumericColumns = [NumColumns]Column{SystolicBP, DiastolicBP, HeartRate, Temperature}

// ColumnSpec describes the physiological range and coding of a column
type ColumnSpec struct {
	Name     string  `json:"name"`
	LOINC    string  `json:"loinc"`
	Unit     string  `json:"unit"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Decimals int     `json:"decimals"`
}

var columnSpecs = [NumColumns]ColumnSpec{
	{Name: "SystolicBP", LOINC: "8480-6", Unit: "mmHg", Min: 95, Max: 200, Decimals: 0},
	{Name: "DiastolicBP", LOINC: "8462-4", Unit: "mmHg", Min: 55, Max: 130, Decimals: 0},
	{Name: "HeartRate", LOINC: "8867-4", Unit: "beats/minute", Min: 50, Max: 120, Decimals: 0},
	{Name: "Temperature", LOINC: "8310-5", Unit: "degC", Min: 35.0, Max: 40.0, Decimals: 1},
}

// Spec returns the column's range and coding
func (c Column) Spec() ColumnSpec {
	return columnSpecs[c]
}

// String returns the column name
func (c Column) String() string {
	if c < 0 || int(c) >= NumColumns {
		return "Column(" + strconv.Itoa(int(c)) + ")"
	}
	return columnSpecs[c].Name
}

// Valid reports whether c names a numeric column
func (c Column) Valid() bool {
	return c >= 0 && int(c) < NumColumns
}

// Clip clamps v into the column's physiological range
func (c Column) Clip(v float64) float64 {
	spec := columnSpecs[c]
	return math.Max(spec.Min, math.Min(spec.Max, v))
}

// InRange reports whether v lies within the column's range
func (c Column) InRange(v float64) bool {
	spec := columnSpecs[c]
	return v >= spec.Min && v <= spec.Max
}

// ParseColumn resolves a column by name, LOINC code or common alias
func ParseColumn(s string) (Column, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range NumericColumns {
		spec := columnSpecs[c]
		if key == strings.ToLower(spec.Name) || key == spec.LOINC {
			return c, nil
		}
	}
	switch key {
	case "sysbp", "systolic", "sbp":
		return SystolicBP, nil
	case "diabp", "diastolic", "dbp":
		return DiastolicBP, nil
	case "pulse", "hr", "heart_rate":
		return HeartRate, nil
	case "temp", "body_temperature":
		return Temperature, nil
	}
	return 0, fmt.Errorf("unknown vital column %q", s)
}

// PartitionKey identifies a (visit, arm) partition
type PartitionKey struct {
	Visit string `json:"visit"`
	Arm   Arm    `json:"arm"`
}

func (k PartitionKey) String() string {
	return k.Visit + "/" + string(k.Arm)
}

// RowKey is the join key shared by every table generated from one request
type RowKey struct {
	SubjectID core.SubjectID `json:"subject_id"`
	Visit     string         `json:"visit"`
	Arm       Arm            `json:"arm"`
}

// VitalRecord is one subject's vital signs at one visit
type VitalRecord struct {
	SubjectID    core.SubjectID `json:"subject_id"`
	VisitName    string         `json:"visit_name"`
	TreatmentArm Arm            `json:"treatment_arm"`
	SystolicBP   float64        `json:"systolic_bp"`
	DiastolicBP  float64        `json:"diastolic_bp"`
	HeartRate    float64        `json:"heart_rate"`
	Temperature  float64        `json:"temperature"`
}

// Value returns the value of a numeric column
func (r VitalRecord) Value(c Column) float64 {
	switch c {
	case SystolicBP:
		return r.SystolicBP
	case DiastolicBP:
		return r.DiastolicBP
	case HeartRate:
		return r.HeartRate
	default:
		return r.Temperature
	}
}

// Set assigns a numeric column
func (r *VitalRecord) Set(c Column, v float64) {
	switch c {
	case SystolicBP:
		r.SystolicBP = v
	case DiastolicBP:
		r.DiastolicBP = v
	case HeartRate:
		r.HeartRate = v
	default:
		r.Temperature = v
	}
}

// Values returns the numeric columns in canonical order
func (r VitalRecord) Values() [NumColumns]float64 {
	return [NumColumns]float64{r.SystolicBP, r.DiastolicBP, r.HeartRate, r.Temperature}
}

// SetValues assigns all numeric columns in canonical order
func (r *VitalRecord) SetValues(v [NumColumns]float64) {
	r.SystolicBP, r.DiastolicBP, r.HeartRate, r.Temperature = v[0], v[1], v[2], v[3]
}

// Partition returns the record's (visit, arm) partition
func (r VitalRecord) Partition() PartitionKey {
	return PartitionKey{Visit: r.VisitName, Arm: r.TreatmentArm}
}

// Key returns the record's join key
func (r VitalRecord) Key() RowKey {
	return RowKey{SubjectID: r.SubjectID, Visit: r.VisitName, Arm: r.TreatmentArm}
}

// Complete reports whether every numeric column holds a finite value
func (r VitalRecord) Complete() bool {
	for _, v := range r.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether the record satisfies the range and structural invariants
func (r VitalRecord) Valid() bool {
	for _, c := range NumericColumns {
		if !c.InRange(r.Value(c)) {
			return false
		}
	}
	return r.SystolicBP > r.DiastolicBP
}

func (r VitalRecord) canonical() string {
	var b strings.Builder
	b.WriteString(string(r.SubjectID))
	b.WriteByte('|')
	b.WriteString(r.VisitName)
	b.WriteByte('|')
	b.WriteString(string(r.TreatmentArm))
	for _, v := range r.Values() {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
