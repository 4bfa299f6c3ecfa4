package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const protocolCols = `id, protocol_number, patient_name, patient_phone, requesting_physician,
	origin_unit, exam_specialty, priority, physician_request_date, handled_by, status,
	print_snapshot, created_at`

var filterColumns = map[FilterField]string{
	FilterPatient:   "patient_name",
	FilterNumber:    "protocol_number",
	FilterExam:      "exam_specialty",
	FilterPhysician: "requesting_physician",
	FilterOrigin:    "origin_unit",
	FilterPriority:  "priority",
}

func (r *repoPG) Create(ctx context.Context, p *Protocol) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO protocol (
			protocol_number, patient_name, patient_phone, requesting_physician,
			origin_unit, exam_specialty, priority, physician_request_date,
			handled_by, status, print_snapshot, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		p.ProtocolNumber, p.PatientName, p.PatientPhone, p.RequestingPhysician,
		p.OriginUnit, p.ExamSpecialty, p.Priority, p.PhysicianRequestDate,
		p.HandledBy, p.Status, p.PrintSnapshot, p.CreatedAt,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateNumber, p.ProtocolNumber)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Protocol, error) {
	return scanProtocol(r.pool.QueryRow(ctx,
		`SELECT `+protocolCols+` FROM protocol WHERE id = $1`, id))
}

func (r *repoPG) LatestNumberForPrefix(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.pool.QueryRow(ctx, `
		SELECT protocol_number FROM protocol
		WHERE protocol_number LIKE $1
		ORDER BY id DESC LIMIT 1`, prefix+"-%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return number, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE protocol SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdatePriority(ctx context.Context, id int64, priority string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE protocol SET priority = $2 WHERE id = $1`, id, priority)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, field FilterField, query string) ([]*Protocol, error) {
	sql := `SELECT ` + protocolCols + ` FROM protocol WHERE status = $1`
	args := []interface{}{status}

	if query != "" {
		col, ok := filterColumns[field]
		if !ok {
			col = filterColumns[FilterPatient]
		}
		sql += ` AND ` + col + ` ILIKE $2`
		args = append(args, "%"+query+"%")
	}
	sql += ` ORDER BY id DESC`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var protocols []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		protocols = append(protocols, p)
	}
	return protocols, rows.Err()
}

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	err := row.Scan(
		&p.ID, &p.ProtocolNumber, &p.PatientName, &p.PatientPhone, &p.RequestingPhysician,
		&p.OriginUnit, &p.ExamSpecialty, &p.Priority, &p.PhysicianRequestDate, &p.HandledBy,
		&p.Status, &p.PrintSnapshot, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
