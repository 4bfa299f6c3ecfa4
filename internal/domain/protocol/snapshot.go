package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// issuedAtOffset is the fixed offset applied to the server UTC clock to get
// the issued-at local time printed on the slip. It is a business convention,
// not a timezone lookup, and must stay exactly -3h.
const issuedAtOffset = -3 * time.Hour

const dateLayout = "2006-01-02"

// PrintSnapshot is the immutable copy of every display field captured at
// creation time and stored on the record. Reprints render from this blob
// alone, so later edits to the live record never change a reprint.
// Date and time values are stored in textual, round-trippable form.
type PrintSnapshot struct {
	ProtocolNumber       string `json:"protocol_number"`
	HandledBy            string `json:"handled_by"`
	PatientName          string `json:"patient_name"`
	PatientPhone         string `json:"patient_phone,omitempty"`
	ExamSpecialty        string `json:"exam_specialty"`
	RequestingPhysician  string `json:"requesting_physician,omitempty"`
	OriginUnit           string `json:"origin_unit,omitempty"`
	PhysicianRequestDate string `json:"physician_request_date,omitempty"`
	IssuedAt             string `json:"issued_at"`
}

// PrintView is a display-ready print slip with typed date/time fields. It is
// built live from the record at creation and replayed from the snapshot on
// reprint; the two must be identical for an unedited record.
type PrintView struct {
	ProtocolNumber       string     `json:"protocol_number"`
	HandledBy            string     `json:"handled_by"`
	PatientName          string     `json:"patient_name"`
	PatientPhone         string     `json:"patient_phone,omitempty"`
	ExamSpecialty        string     `json:"exam_specialty"`
	RequestingPhysician  string     `json:"requesting_physician,omitempty"`
	OriginUnit           string     `json:"origin_unit,omitempty"`
	PhysicianRequestDate *time.Time `json:"physician_request_date,omitempty"`
	IssuedAt             time.Time  `json:"issued_at"`
}

// BuildSnapshot captures the print snapshot for a record being created.
// createdAt is the record's creation instant in UTC.
func BuildSnapshot(p *Protocol, createdAt time.Time) *PrintSnapshot {
	s := &PrintSnapshot{
		ProtocolNumber: p.ProtocolNumber,
		HandledBy:      p.HandledBy,
		PatientName:    p.PatientName,
		ExamSpecialty:  p.ExamSpecialty,
		IssuedAt:       createdAt.Add(issuedAtOffset).Format(time.RFC3339),
	}
	if p.PatientPhone != nil {
		s.PatientPhone = *p.PatientPhone
	}
	if p.RequestingPhysician != nil {
		s.RequestingPhysician = *p.RequestingPhysician
	}
	if p.OriginUnit != nil {
		s.OriginUnit = *p.OriginUnit
	}
	if p.PhysicianRequestDate != nil {
		s.PhysicianRequestDate = p.PhysicianRequestDate.Format(dateLayout)
	}
	return s
}

// Encode serializes the snapshot for storage.
func (s *PrintSnapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// ParseSnapshot decodes a stored snapshot blob.
func ParseSnapshot(data []byte) (*PrintSnapshot, error) {
	if len(data) == 0 {
		return nil, ErrSnapshotUnavailable
	}
	var s PrintSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if s.ProtocolNumber == "" || s.IssuedAt == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrSnapshotCorrupt)
	}
	return &s, nil
}

// View reconstructs the display-ready print slip from the snapshot's textual
// date/time fields.
func (s *PrintSnapshot) View() (*PrintView, error) {
	issuedAt, err := time.Parse(time.RFC3339, s.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: issued_at %q: %v", ErrSnapshotCorrupt, s.IssuedAt, err)
	}
	view := &PrintView{
		ProtocolNumber:      s.ProtocolNumber,
		HandledBy:           s.HandledBy,
		PatientName:         s.PatientName,
		PatientPhone:        s.PatientPhone,
		ExamSpecialty:       s.ExamSpecialty,
		RequestingPhysician: s.RequestingPhysician,
		OriginUnit:          s.OriginUnit,
		IssuedAt:            issuedAt,
	}
	if s.PhysicianRequestDate != "" {
		d, err := time.Parse(dateLayout, s.PhysicianRequestDate)
		if err != nil {
			return nil, fmt.Errorf("%w: physician_request_date %q: %v", ErrSnapshotCorrupt, s.PhysicianRequestDate, err)
		}
		view.PhysicianRequestDate = &d
	}
	return view, nil
}

// LiveView builds the print slip directly from the live record. Used for the
// creation-time print; reprints go through the snapshot instead.
func LiveView(p *Protocol) *PrintView {
	view := &PrintView{
		ProtocolNumber:       p.ProtocolNumber,
		HandledBy:            p.HandledBy,
		PatientName:          p.PatientName,
		ExamSpecialty:        p.ExamSpecialty,
		PhysicianRequestDate: p.PhysicianRequestDate,
		IssuedAt:             p.CreatedAt.UTC().Add(issuedAtOffset),
	}
	if p.PatientPhone != nil {
		view.PatientPhone = *p.PatientPhone
	}
	if p.RequestingPhysician != nil {
		view.RequestingPhysician = *p.RequestingPhysician
	}
	if p.OriginUnit != nil {
		view.OriginUnit = *p.OriginUnit
	}
	return view
}
