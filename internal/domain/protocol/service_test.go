package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/protocolo/protocolo/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	nextID    int64
	protocols map[int64]*Protocol
	// failCreates forces the next N creates to report a duplicate number,
	// simulating a concurrent allocator racing this one.
	failCreates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{protocols: make(map[int64]*Protocol)}
}

func clone(p *Protocol) *Protocol {
	cp := *p
	return &cp
}

func (m *mockRepo) Create(_ context.Context, p *Protocol) error {
	if m.failCreates > 0 {
		m.failCreates--
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, p.ProtocolNumber)
	}
	for _, q := range m.protocols {
		if q.ProtocolNumber == p.ProtocolNumber {
			return fmt.Errorf("%w: %s", ErrDuplicateNumber, p.ProtocolNumber)
		}
	}
	m.nextID++
	p.ID = m.nextID
	m.protocols[p.ID] = clone(p)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Protocol, error) {
	p, ok := m.protocols[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *mockRepo) LatestNumberForPrefix(_ context.Context, prefix string) (string, error) {
	var latest string
	var latestID int64
	for id, p := range m.protocols {
		if strings.HasPrefix(p.ProtocolNumber, prefix+"-") && id > latestID {
			latestID = id
			latest = p.ProtocolNumber
		}
	}
	return latest, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	p, ok := m.protocols[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockRepo) UpdatePriority(_ context.Context, id int64, priority string) error {
	p, ok := m.protocols[id]
	if !ok {
		return ErrNotFound
	}
	p.Priority = priority
	return nil
}

func (m *mockRepo) List(_ context.Context, status string, field FilterField, query string) ([]*Protocol, error) {
	var result []*Protocol
	for id := m.nextID; id >= 1; id-- { // newest first
		p, ok := m.protocols[id]
		if !ok || p.Status != status {
			continue
		}
		if query != "" && !strings.Contains(
			strings.ToLower(filterValue(p, field)), strings.ToLower(query)) {
			continue
		}
		result = append(result, clone(p))
	}
	return result, nil
}

func filterValue(p *Protocol, field FilterField) string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	switch field {
	case FilterNumber:
		return p.ProtocolNumber
	case FilterExam:
		return p.ExamSpecialty
	case FilterPhysician:
		return deref(p.RequestingPhysician)
	case FilterOrigin:
		return deref(p.OriginUnit)
	case FilterPriority:
		return p.Priority
	default:
		return p.PatientName
	}
}

// -- Test fixtures --

var (
	adminActor = auth.Identity{Username: "admin", Name: "Administrador do Sistema", Role: auth.RoleAdmin}
	userActor  = auth.Identity{Username: "tuca", Name: "Tuca da Silva", Role: auth.RoleUser}
)

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo)
	svc.SetClock(func() time.Time {
		return time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	})
	return svc, repo
}

func validInput(patient string) CreateInput {
	return CreateInput{
		PatientName:   patient,
		ExamSpecialty: "Cardiologia",
	}
}

// -- Create --

func TestCreate_FirstOfDay(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ProtocolNumber != "20240101-001" {
		t.Errorf("expected 20240101-001, got %s", p.ProtocolNumber)
	}
	if p.Status != StatusActive {
		t.Errorf("expected status active, got %s", p.Status)
	}
	if p.HandledBy != "Tuca da Silva" {
		t.Errorf("expected creator display name, got %s", p.HandledBy)
	}
	if len(p.PrintSnapshot) == 0 {
		t.Error("expected a print snapshot to be captured at creation")
	}
}

func TestCreate_SameDaySequence(t *testing.T) {
	svc, _ := newTestService()

	first, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Create(context.Background(), userActor, validInput("Joana Prado"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ProtocolNumber != "20240101-001" || second.ProtocolNumber != "20240101-002" {
		t.Errorf("expected strictly increasing suffixes, got %s then %s",
			first.ProtocolNumber, second.ProtocolNumber)
	}
}

func TestCreate_NewDayRestartsSequence(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), userActor, validInput("Maria Silva")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.SetClock(func() time.Time {
		return time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	})
	p, err := svc.Create(context.Background(), userActor, validInput("Joana Prado"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ProtocolNumber != "20240102-001" {
		t.Errorf("expected 20240102-001, got %s", p.ProtocolNumber)
	}
}

func TestCreate_NonAdminPriorityForcedRoutine(t *testing.T) {
	svc, _ := newTestService()

	in := validInput("Maria Silva")
	in.Priority = PriorityUrgent
	p, err := svc.Create(context.Background(), userActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Priority != PriorityRoutine {
		t.Errorf("expected non-admin creation to force routine, got %s", p.Priority)
	}
}

func TestCreate_AdminChoosesPriority(t *testing.T) {
	svc, _ := newTestService()

	in := validInput("Maria Silva")
	in.Priority = PriorityUrgent
	p, err := svc.Create(context.Background(), adminActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Priority != PriorityUrgent {
		t.Errorf("expected urgent, got %s", p.Priority)
	}
}

func TestCreate_AdminInvalidPriority(t *testing.T) {
	svc, repo := newTestService()

	in := validInput("Maria Silva")
	in.Priority = "Unknown"
	if _, err := svc.Create(context.Background(), adminActor, in); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority, got %v", err)
	}
	if len(repo.protocols) != 0 {
		t.Error("failed creation must not persist a record")
	}
}

func TestCreate_MissingRequiredFields(t *testing.T) {
	svc, repo := newTestService()

	cases := []CreateInput{
		{ExamSpecialty: "Cardiologia"},
		{PatientName: "Maria Silva"},
		{PatientName: "   ", ExamSpecialty: "Cardiologia"},
	}
	for _, in := range cases {
		if _, err := svc.Create(context.Background(), userActor, in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %+v: expected ErrInvalidInput, got %v", in, err)
		}
	}
	if len(repo.protocols) != 0 {
		t.Error("failed creations must not persist records")
	}
}

func TestCreate_BadRequestDate(t *testing.T) {
	svc, repo := newTestService()

	in := validInput("Maria Silva")
	in.PhysicianRequestDate = "28/12/2023"
	if _, err := svc.Create(context.Background(), userActor, in); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if len(repo.protocols) != 0 {
		t.Error("failed creation must not persist a record")
	}
}

func TestCreate_RetriesAfterDuplicate(t *testing.T) {
	svc, repo := newTestService()
	repo.failCreates = 1

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if p.ProtocolNumber != "20240101-001" {
		t.Errorf("expected 20240101-001, got %s", p.ProtocolNumber)
	}
}

func TestCreate_SurfacesPersistentDuplicate(t *testing.T) {
	svc, repo := newTestService()
	repo.failCreates = maxAllocateAttempts

	if _, err := svc.Create(context.Background(), userActor, validInput("Maria Silva")); !errors.Is(err, ErrDuplicateNumber) {
		t.Errorf("expected ErrDuplicateNumber, got %v", err)
	}
}

// -- Print / Reprint --

func viewJSON(t *testing.T, v *PrintView) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestReprint_MatchesCreationPrint(t *testing.T) {
	svc, _ := newTestService()

	in := validInput("Maria Silva")
	in.PatientPhone = "11 98765-4321"
	in.RequestingPhysician = "Dr. Carlos Andrade"
	in.OriginUnit = "UBS Centro"
	in.PhysicianRequestDate = "2023-12-28"
	p, err := svc.Create(context.Background(), userActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	atCreation, err := svc.Print(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	replayed, _, err := svc.Reprint(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viewJSON(t, atCreation) != viewJSON(t, replayed) {
		t.Errorf("creation print %s != reprint %s", viewJSON(t, atCreation), viewJSON(t, replayed))
	}
}

func TestReprint_UnaffectedByLaterEdits(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _, err := svc.Reprint(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.EditPriority(context.Background(), adminActor, p.ID, PriorityUrgent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _, err := svc.Reprint(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if viewJSON(t, before) != viewJSON(t, after) {
		t.Errorf("reprint changed after edits: %s != %s", viewJSON(t, before), viewJSON(t, after))
	}
}

func TestReprint_NoSnapshot(t *testing.T) {
	svc, repo := newTestService()

	// A record that predates the snapshot engine.
	repo.nextID++
	repo.protocols[repo.nextID] = &Protocol{
		ID: repo.nextID, ProtocolNumber: "20231201-001", PatientName: "Maria Silva",
		ExamSpecialty: "Cardiologia", HandledBy: "Neto Buim",
		Status: StatusActive, Priority: PriorityRoutine,
	}

	_, rec, err := svc.Reprint(context.Background(), repo.nextID)
	if !errors.Is(err, ErrSnapshotUnavailable) {
		t.Errorf("expected ErrSnapshotUnavailable, got %v", err)
	}
	if rec == nil || rec.Status != StatusActive {
		t.Error("expected the live record back for routing")
	}
}

func TestReprint_CorruptSnapshot(t *testing.T) {
	svc, repo := newTestService()

	repo.nextID++
	repo.protocols[repo.nextID] = &Protocol{
		ID: repo.nextID, ProtocolNumber: "20231201-002", PatientName: "Maria Silva",
		ExamSpecialty: "Cardiologia", HandledBy: "Neto Buim",
		Status: StatusFinalized, Priority: PriorityRoutine,
		PrintSnapshot: []byte("{broken"),
	}

	_, rec, err := svc.Reprint(context.Background(), repo.nextID)
	if !errors.Is(err, ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got %v", err)
	}
	if rec == nil || rec.Status != StatusFinalized {
		t.Error("expected the live record back for routing")
	}
}

func TestReprint_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.Reprint(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// -- Lifecycle --

func TestFinalize_Admin(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	finalized, err := svc.Finalize(context.Background(), adminActor, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finalized.Status != StatusFinalized {
		t.Errorf("expected finalized, got %s", finalized.Status)
	}
}

func TestFinalize_NonAdminDenied(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), userActor, p.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusActive {
		t.Error("denied finalize must not change state")
	}
}

func TestFinalizeThenReactivate(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Reactivate(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("expected active after reactivate, got %s", got.Status)
	}
	if got.ProtocolNumber != p.ProtocolNumber || got.PatientName != p.PatientName ||
		got.HandledBy != p.HandledBy || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Error("finalize/reactivate must leave all other fields unchanged")
	}
}

func TestReactivate_NonAdminDenied(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Reactivate(context.Background(), userActor, p.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	got, _ := svc.Get(context.Background(), p.ID)
	if got.Status != StatusFinalized {
		t.Error("denied reactivate must not change state")
	}
}

func TestEditPriority(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err := svc.EditPriority(context.Background(), adminActor, p.ID, PriorityReturn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Priority != PriorityReturn {
		t.Errorf("expected return, got %s", updated.Priority)
	}
}

func TestEditPriority_InvalidValue(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.EditPriority(context.Background(), adminActor, p.ID, "Unknown"); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority, got %v", err)
	}

	got, _ := svc.Get(context.Background(), p.ID)
	if got.Priority != PriorityRoutine {
		t.Error("rejected edit must leave priority unchanged")
	}
}

func TestEditPriority_NonAdminDenied(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.EditPriority(context.Background(), userActor, p.ID, PriorityUrgent); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

// -- Listing --

func TestList_PatientNameScenario(t *testing.T) {
	svc, _ := newTestService()

	first, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Create(context.Background(), userActor, validInput("Maria Souza"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(context.Background(), userActor, validInput("Joana Prado")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := svc.List(context.Background(), userActor, StatusActive, FilterPatient, "Maria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first.
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Errorf("expected ids [%d %d], got [%d %d]", second.ID, first.ID, records[0].ID, records[1].ID)
	}
}

func TestList_CaseInsensitiveSubstring(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), userActor, validInput("Maria Silva")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := svc.List(context.Background(), userActor, StatusActive, FilterPatient, "mArIa sIL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestList_FinalizeMovesBetweenLists(t *testing.T) {
	svc, _ := newTestService()

	p, err := svc.Create(context.Background(), userActor, validInput("Maria Silva"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, _ := svc.List(context.Background(), userActor, StatusActive, FilterPatient, "")
	finalized, _ := svc.List(context.Background(), userActor, StatusFinalized, FilterPatient, "")
	if len(active) != 0 {
		t.Errorf("expected empty active list, got %d", len(active))
	}
	if len(finalized) != 1 {
		t.Errorf("expected 1 finalized record, got %d", len(finalized))
	}

	if _, err := svc.Reactivate(context.Background(), adminActor, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	active, _ = svc.List(context.Background(), userActor, StatusActive, FilterPatient, "")
	if len(active) != 1 {
		t.Errorf("expected record back in active list, got %d", len(active))
	}
}

func TestList_PriorityFilterAdminOnly(t *testing.T) {
	svc, _ := newTestService()

	in := validInput("Urgente da Silva")
	in.Priority = PriorityUrgent
	if _, err := svc.Create(context.Background(), adminActor, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(context.Background(), userActor, validInput("Joana Prado")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Admin filters by priority value.
	records, err := svc.List(context.Background(), adminActor, StatusActive, FilterPriority, "urgent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Priority != PriorityUrgent {
		t.Errorf("expected the urgent record, got %d records", len(records))
	}

	// Non-admin asking for the priority filter silently gets the
	// patient-name filter instead.
	fallback, err := svc.List(context.Background(), userActor, StatusActive, FilterPriority, "urgent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byName, err := svc.List(context.Background(), userActor, StatusActive, FilterPatient, "urgent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fallback) != len(byName) {
		t.Errorf("expected fallback results to equal patient-name results, got %d vs %d",
			len(fallback), len(byName))
	}
	if len(fallback) != 1 || fallback[0].PatientName != "Urgente da Silva" {
		t.Errorf("expected the patient-name match, got %+v", fallback)
	}
}

func TestList_OtherFilterFields(t *testing.T) {
	svc, _ := newTestService()

	in := validInput("Maria Silva")
	in.RequestingPhysician = "Dr. Carlos Andrade"
	in.OriginUnit = "UBS Centro"
	p, err := svc.Create(context.Background(), userActor, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		field FilterField
		query string
	}{
		{FilterNumber, p.ProtocolNumber},
		{FilterExam, "cardio"},
		{FilterPhysician, "andrade"},
		{FilterOrigin, "ubs"},
	}
	for _, tc := range cases {
		records, err := svc.List(context.Background(), userActor, StatusActive, tc.field, tc.query)
		if err != nil {
			t.Fatalf("filter %s: unexpected error: %v", tc.field, err)
		}
		if len(records) != 1 {
			t.Errorf("filter %s query %q: expected 1 record, got %d", tc.field, tc.query, len(records))
		}
	}
}
