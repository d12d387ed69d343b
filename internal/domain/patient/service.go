package patient

import (
	"context"
	"math"
	"strings"

	"github.com/hospital/patients/pkg/failure"
)

const (
	MsgInvalidCedula = "invalid identity number"
	MsgNameRequired  = "nombre is required"
	MsgNegativeAge   = "edad must not be negative"
	MsgAgeOutOfRange = "edad is out of range"
)

// Service validates mutations before they reach the Store and reports store
// errors as domain failures. It is built per request around that request's
// Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindDomain, "listing failed")
	}
	return list, nil
}

// Create stores p as an active patient and returns its id.
func (s *Service) Create(ctx context.Context, p *Patient) (int, error) {
	if err := validate(p); err != nil {
		return 0, err
	}
	id, err := s.store.Create(ctx, p)
	if err != nil {
		return 0, failure.Wrap(err, failure.KindDomain, "create failed")
	}
	return id, nil
}

// GetByID returns nil, nil when no patient has id.
func (s *Service) GetByID(ctx context.Context, id int) (*Patient, error) {
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindDomain, "lookup failed")
	}
	return p, nil
}

// Update returns nil, nil when no patient has p.ID.
func (s *Service) Update(ctx context.Context, p *Patient) (*Patient, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	updated, err := s.store.Update(ctx, p)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindDomain, "update failed")
	}
	return updated, nil
}

func (s *Service) SetStatus(ctx context.Context, id int, active bool) error {
	if err := s.store.SetStatus(ctx, id, active); err != nil {
		return failure.Wrap(err, failure.KindDomain, "status update failed")
	}
	return nil
}

// validate runs the cedula check first; nothing else is consulted when it fails.
func validate(p *Patient) error {
	if !IsValidCedula(p.Cedula) {
		return failure.New(failure.KindValidation, MsgInvalidCedula)
	}
	if strings.TrimSpace(p.Name) == "" {
		return failure.New(failure.KindValidation, MsgNameRequired)
	}
	if p.Age < 0 {
		return failure.New(failure.KindValidation, MsgNegativeAge)
	}
	if p.Age > math.MaxInt32 {
		return failure.New(failure.KindValidation, MsgAgeOutOfRange)
	}
	return nil
}
