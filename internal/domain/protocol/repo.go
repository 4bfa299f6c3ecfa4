package protocol

import "context"

type Repository interface {
	Create(ctx context.Context, p *Protocol) error
	GetByID(ctx context.Context, id int64) (*Protocol, error)
	// LatestNumberForPrefix returns the most recently created protocol number
	// for a day prefix, or empty when the day has no records.
	LatestNumberForPrefix(ctx context.Context, prefix string) (string, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdatePriority(ctx context.Context, id int64, priority string) error
	// List returns records with the given status, newest first. When query is
	// non-empty it is matched case-insensitively as a substring of the column
	// selected by field.
	List(ctx context.Context, status string, field FilterField, query string) ([]*Protocol, error)
}
