package excel

// Header names shared by the reader and the sink
const (
	HeaderSubjectID    = "SubjectID"
	HeaderVisitName    = "VisitName"
	HeaderTreatmentArm = "TreatmentArm"
)

// DefaultSheet is the worksheet read from and written to
const DefaultSheet = "Sheet1"

var subjectAliases = []string{"subjectid", "subject_id", "usubjid", "subject", "patient_id"}
var visitAliases = []string{"visitname", "visit_name", "visit"}
var armAliases = []string{"treatmentarm", "treatment_arm", "arm", "trt01a", "treatment"}
