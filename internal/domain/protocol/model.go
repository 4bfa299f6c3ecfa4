package protocol

import "time"

// Lifecycle states. A record starts active, an admin may finalize it, and a
// finalized record may be reactivated.
const (
	StatusActive    = "active"
	StatusFinalized = "finalized"
)

// Priorities. Creation by a non-admin always yields routine.
const (
	PriorityRoutine = "routine"
	PriorityReturn  = "return"
	PriorityUrgent  = "urgent"
)

var validPriorities = map[string]bool{
	PriorityRoutine: true,
	PriorityReturn:  true,
	PriorityUrgent:  true,
}

// ValidPriority reports whether p is one of the known priority values.
func ValidPriority(p string) bool { return validPriorities[p] }

// Priorities lists the accepted priority values in display order.
func Priorities() []string {
	return []string{PriorityRoutine, PriorityReturn, PriorityUrgent}
}

// Protocol maps to the protocol table. ID is assigned by the database and is
// monotonically increasing, so id order is creation order. ProtocolNumber,
// HandledBy, CreatedAt and PrintSnapshot are immutable after creation.
type Protocol struct {
	ID                   int64      `db:"id" json:"id"`
	ProtocolNumber       string     `db:"protocol_number" json:"protocol_number"`
	PatientName          string     `db:"patient_name" json:"patient_name"`
	PatientPhone         *string    `db:"patient_phone" json:"patient_phone,omitempty"`
	RequestingPhysician  *string    `db:"requesting_physician" json:"requesting_physician,omitempty"`
	OriginUnit           *string    `db:"origin_unit" json:"origin_unit,omitempty"`
	ExamSpecialty        string     `db:"exam_specialty" json:"exam_specialty"`
	Priority             string     `db:"priority" json:"priority"`
	PhysicianRequestDate *time.Time `db:"physician_request_date" json:"physician_request_date,omitempty"`
	HandledBy            string     `db:"handled_by" json:"handled_by"`
	Status               string     `db:"status" json:"status"`
	PrintSnapshot        []byte     `db:"print_snapshot" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// FilterField selects which column the listing filter matches against.
type FilterField string

const (
	FilterPatient   FilterField = "patient"
	FilterNumber    FilterField = "protocol"
	FilterExam      FilterField = "exam"
	FilterPhysician FilterField = "physician"
	FilterOrigin    FilterField = "origin"
	FilterPriority  FilterField = "priority"
)

// ParseFilterField maps a query-string filter selector to a FilterField.
// Unknown or empty selectors fall back to the patient-name filter.
func ParseFilterField(s string) FilterField {
	switch FilterField(s) {
	case FilterNumber, FilterExam, FilterPhysician, FilterOrigin, FilterPriority:
		return FilterField(s)
	default:
		return FilterPatient
	}
}
