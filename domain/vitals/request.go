package vitals

import (
	"fmt"
	"sort"

	"trialsynth/domain/core"
)

// Schedule is the ordered visit schedule fixed for a run
type Schedule []string

// DefaultSchedule is used when a request does not name its visits
var DefaultSchedule = Schedule{"Screening", "Day 1", "Week 4", "Week 12"}

// IndexOf returns the visit's position or -1
func (s Schedule) IndexOf(visit string) int {
	for i, v := range s {
		if v == visit {
			return i
		}
	}
	return -1
}

// Contains reports whether the visit is scheduled
func (s Schedule) Contains(visit string) bool {
	return s.IndexOf(visit) >= 0
}

// Last returns the final visit, the default endpoint
func (s Schedule) Last() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// GenerationRequest describes the table to generate
type GenerationRequest struct {
	SubjectsPerArm int                    `json:"subjects_per_arm" validate:"gte=0,lte=5000000"`
	SubjectIDs     []core.SubjectID       `json:"subject_ids,omitempty" validate:"omitempty,unique,dive,required"`
	Schedule       Schedule               `json:"schedule,omitempty" validate:"omitempty,unique,dive,required"`
	ArmAssignment  map[core.SubjectID]Arm `json:"arm_assignment,omitempty" validate:"omitempty,dive,keys,required,endkeys,oneof=Active Placebo"`

	// TargetEffect is the Active minus Placebo endpoint difference; nil skips calibration.
	TargetEffect   *float64 `json:"target_effect,omitempty"`
	EndpointVisit  string   `json:"endpoint_visit,omitempty"`
	EndpointColumn Column   `json:"endpoint_column" validate:"gte=0,lte=3"`

	// SampleCategoricals draws visit and arm per row from learned frequencies
	// instead of the balanced subjects-by-schedule design. Ignored for explicit layouts.
	SampleCategoricals bool  `json:"sample_categoricals,omitempty"`
	Seed               int64 `json:"seed"`

	// SubjectOffset and SubjectCount select a window of the generated
	// subject sequence; the batch driver uses them to cut chunks.
	SubjectOffset int `json:"subject_offset,omitempty" validate:"gte=0"`
	SubjectCount  int `json:"subject_count,omitempty" validate:"gte=0"`
}

// Effect is a helper for building requests with a target effect
func Effect(v float64) *float64 {
	return &v
}

// EffectiveSchedule returns the request's schedule or the default
func (r GenerationRequest) EffectiveSchedule() Schedule {
	if len(r.Schedule) > 0 {
		return r.Schedule
	}
	return DefaultSchedule
}

// EffectiveEndpointVisit returns the endpoint visit, defaulting to the last scheduled visit
func (r GenerationRequest) EffectiveEndpointVisit() string {
	if r.EndpointVisit != "" {
		return r.EndpointVisit
	}
	return r.EffectiveSchedule().Last()
}

// Explicit reports whether the caller pinned subjects or arm assignments
func (r GenerationRequest) Explicit() bool {
	return len(r.SubjectIDs) > 0 || len(r.ArmAssignment) > 0
}

// Check validates the cross-field rules that struct tags cannot express
func (r GenerationRequest) Check() error {
	if r.SubjectsPerArm == 0 && r.SubjectCount == 0 && !r.Explicit() {
		return core.NewInvalidRequestError("subjects_per_arm", "must be positive when no subjects are given")
	}
	if !r.EndpointColumn.Valid() {
		return core.NewInvalidRequestError("endpoint_column", r.EndpointColumn.String())
	}
	schedule := r.EffectiveSchedule()
	if !schedule.Contains(r.EffectiveEndpointVisit()) {
		return fmt.Errorf("%w: endpoint %q", core.ErrUnknownVisit, r.EffectiveEndpointVisit())
	}
	for id, arm := range r.ArmAssignment {
		if !arm.Valid() {
			return fmt.Errorf("%w: subject %s has arm %q", core.ErrUnknownArm, id, arm)
		}
	}
	if len(r.SubjectIDs) > 0 && len(r.ArmAssignment) > 0 {
		for _, id := range r.SubjectIDs {
			if _, ok := r.ArmAssignment[id]; !ok {
				return core.NewInvalidRequestError("arm_assignment", "missing arm for subject "+id.String())
			}
		}
	}
	return nil
}

// SubjectAssignment pairs a subject with its arm
type SubjectAssignment struct {
	SubjectID core.SubjectID `json:"subject_id"`
	Arm       Arm            `json:"arm"`
}

// Subjects resolves the ordered subject list. Explicit subject IDs keep their
// order; a bare arm assignment map is ordered by subject ID; otherwise
// 2*SubjectsPerArm sequential IDs (or SubjectCount of them, starting after
// SubjectOffset) are generated with alternating arms.
func (r GenerationRequest) Subjects() []SubjectAssignment {
	switch {
	case len(r.SubjectIDs) > 0:
		out := make([]SubjectAssignment, len(r.SubjectIDs))
		for i, id := range r.SubjectIDs {
			arm, ok := r.ArmAssignment[id]
			if !ok {
				arm = alternatingArm(i)
			}
			out[i] = SubjectAssignment{SubjectID: id, Arm: arm}
		}
		return out
	case len(r.ArmAssignment) > 0:
		ids := make([]core.SubjectID, 0, len(r.ArmAssignment))
		for id := range r.ArmAssignment {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]SubjectAssignment, len(ids))
		for i, id := range ids {
			out[i] = SubjectAssignment{SubjectID: id, Arm: r.ArmAssignment[id]}
		}
		return out
	default:
		n := 2 * r.SubjectsPerArm
		if r.SubjectCount > 0 {
			n = r.SubjectCount
		}
		return DefaultSubjects(n, r.SubjectOffset)
	}
}

// DefaultSubjects generates n sequential subjects starting after offset,
// alternating Active and Placebo so any contiguous slice holds both arms.
func DefaultSubjects(n, offset int) []SubjectAssignment {
	out := make([]SubjectAssignment, n)
	for i := 0; i < n; i++ {
		out[i] = SubjectAssignment{
			SubjectID: core.SequentialSubjectID(offset + i + 1),
			Arm:       alternatingArm(offset + i),
		}
	}
	return out
}

func alternatingArm(i int) Arm {
	if i%2 == 0 {
		return ArmActive
	}
	return ArmPlacebo
}

// Layout is the ordered list of row keys a table must reproduce
type Layout []RowKey

// Layout expands subjects across the schedule, subject-major
func (r GenerationRequest) Layout() Layout {
	subjects := r.Subjects()
	schedule := r.EffectiveSchedule()
	out := make(Layout, 0, len(subjects)*len(schedule))
	for _, s := range subjects {
		for _, visit := range schedule {
			out = append(out, RowKey{SubjectID: s.SubjectID, Visit: visit, Arm: s.Arm})
		}
	}
	return out
}

// Skeleton returns a table with the layout's keys and zero-valued vitals
func (l Layout) Skeleton() Table {
	out := make(Table, len(l))
	for i, k := range l {
		out[i] = VitalRecord{SubjectID: k.SubjectID, VisitName: k.Visit, TreatmentArm: k.Arm}
	}
	return out
}
