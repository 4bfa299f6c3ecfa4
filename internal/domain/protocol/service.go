package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/protocolo/protocolo/internal/platform/auth"
	"github.com/protocolo/protocolo/internal/platform/metrics"
)

// maxAllocateAttempts bounds the create retry loop when two callers race for
// the same day suffix. The unique constraint on protocol_number is what makes
// the race loud; this loop just re-reads and tries the next suffix.
const maxAllocateAttempts = 3

type Service struct {
	repo    Repository
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetMetrics attaches optional prometheus metrics to the service.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock overrides the service clock, used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateInput carries the creation form fields. PhysicianRequestDate is the
// optional date in 2006-01-02 form.
type CreateInput struct {
	PatientName          string
	PatientPhone         string
	RequestingPhysician  string
	OriginUnit           string
	ExamSpecialty        string
	Priority             string
	PhysicianRequestDate string
}

// Create validates the input, allocates the day's next protocol number,
// captures the print snapshot and persists the record. Nothing is persisted
// when validation fails. Only admins may choose a priority; everyone else
// gets routine.
func (s *Service) Create(ctx context.Context, actor auth.Identity, in CreateInput) (*Protocol, error) {
	patientName := strings.TrimSpace(in.PatientName)
	if patientName == "" {
		return nil, fmt.Errorf("%w: patient_name is required", ErrInvalidInput)
	}
	examSpecialty := strings.TrimSpace(in.ExamSpecialty)
	if examSpecialty == "" {
		return nil, fmt.Errorf("%w: exam_specialty is required", ErrInvalidInput)
	}

	priority := PriorityRoutine
	if actor.IsAdmin() && in.Priority != "" {
		if !ValidPriority(in.Priority) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, in.Priority)
		}
		priority = in.Priority
	}

	var requestDate *time.Time
	if in.PhysicianRequestDate != "" {
		d, err := time.Parse(dateLayout, in.PhysicianRequestDate)
		if err != nil {
			return nil, fmt.Errorf("%w: physician_request_date %q", ErrInvalidInput, in.PhysicianRequestDate)
		}
		requestDate = &d
	}

	p := &Protocol{
		PatientName:          patientName,
		PatientPhone:         optional(in.PatientPhone),
		RequestingPhysician:  optional(in.RequestingPhysician),
		OriginUnit:           optional(in.OriginUnit),
		ExamSpecialty:        examSpecialty,
		Priority:             priority,
		PhysicianRequestDate: requestDate,
		HandledBy:            actor.Name,
		Status:               StatusActive,
	}

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		now := s.now().UTC().Truncate(time.Second)
		prefix := ProtocolPrefix(now)

		latest, err := s.repo.LatestNumberForPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("read latest protocol number: %w", err)
		}
		number, err := NextNumber(prefix, latest)
		if err != nil {
			return nil, fmt.Errorf("allocate protocol number: %w", err)
		}

		p.ProtocolNumber = number
		p.CreatedAt = now

		snapshot, err := BuildSnapshot(p, now).Encode()
		if err != nil {
			return nil, fmt.Errorf("encode print snapshot: %w", err)
		}
		p.PrintSnapshot = snapshot

		err = s.repo.Create(ctx, p)
		if errors.Is(err, ErrDuplicateNumber) {
			if s.metrics != nil {
				s.metrics.NumberConflicts.Inc()
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ProtocolsCreated.Inc()
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrDuplicateNumber, maxAllocateAttempts)
}

// Get returns a record by id.
func (s *Service) Get(ctx context.Context, id int64) (*Protocol, error) {
	return s.repo.GetByID(ctx, id)
}

// Print builds the live print view for a record.
func (s *Service) Print(ctx context.Context, id int64) (*PrintView, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return LiveView(p), nil
}

// Reprint replays the stored snapshot. The live record is returned alongside
// so the caller can route back to the right listing on failure; its fields
// are never used for display content.
func (s *Service) Reprint(ctx context.Context, id int64) (*PrintView, *Protocol, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := ParseSnapshot(p.PrintSnapshot)
	if err != nil {
		s.countReprintFailure(err)
		return nil, p, err
	}
	view, err := snapshot.View()
	if err != nil {
		s.countReprintFailure(err)
		return nil, p, err
	}
	return view, p, nil
}

func (s *Service) countReprintFailure(err error) {
	if s.metrics == nil {
		return
	}
	reason := "corrupt"
	if errors.Is(err, ErrSnapshotUnavailable) {
		reason = "unavailable"
	}
	s.metrics.ReprintFailures.WithLabelValues(reason).Inc()
}

// Finalize moves a record to the finalized state. Admin only.
func (s *Service) Finalize(ctx context.Context, actor auth.Identity, id int64) (*Protocol, error) {
	return s.setStatus(ctx, actor, id, StatusFinalized)
}

// Reactivate moves a finalized record back to active. Admin only.
func (s *Service) Reactivate(ctx context.Context, actor auth.Identity, id int64) (*Protocol, error) {
	return s.setStatus(ctx, actor, id, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, actor auth.Identity, id int64, status string) (*Protocol, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: %s requires the admin role", ErrNotAuthorized, status)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	p.Status = status
	return p, nil
}

// EditPriority changes a record's priority in place. Admin only; the value
// must be one of the known priorities or the record is left unchanged.
func (s *Service) EditPriority(ctx context.Context, actor auth.Identity, id int64, priority string) (*Protocol, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: editing priority requires the admin role", ErrNotAuthorized)
	}
	if !ValidPriority(priority) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePriority(ctx, id, priority); err != nil {
		return nil, err
	}
	p.Priority = priority
	return p, nil
}

// List returns records with the given status, newest first, optionally
// filtered. The priority filter is admin-only: other callers asking for it
// silently get the default patient-name filter instead. That fallback is
// long-standing observed behavior and is kept as is.
func (s *Service) List(ctx context.Context, actor auth.Identity, status string, field FilterField, query string) ([]*Protocol, error) {
	if field == FilterPriority && !actor.IsAdmin() {
		field = FilterPatient
	}
	return s.repo.List(ctx, status, field, query)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
