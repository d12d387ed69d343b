package patient

import (
	"context"
)

// Store is the data access for patients over one request-scoped transaction.
// Absent records are reported as a nil *Patient with a nil error.
type Store interface {
	List(ctx context.Context) ([]*Patient, error)
	Create(ctx context.Context, p *Patient) (int, error)
	GetByID(ctx context.Context, id int) (*Patient, error)
	Update(ctx context.Context, p *Patient) (*Patient, error)
	SetStatus(ctx context.Context, id int, active bool) error
}
