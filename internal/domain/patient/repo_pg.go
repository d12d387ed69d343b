package patient

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/hospital/patients/internal/platform/db"
	"github.com/hospital/patients/pkg/failure"
)

type storePG struct {
	q db.Querier
}

// NewStore returns a Store issuing statements on q, normally the request
// transaction. It never begins, commits or rolls back.
func NewStore(q db.Querier) Store {
	return &storePG{q: q}
}

const patientCols = `id, nombre, cedula, correo, edad, direccion, activo`

func (s *storePG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := s.q.Query(ctx, `SELECT `+patientCols+` FROM paciente`)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindStore, "select patients")
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, failure.Wrap(err, failure.KindStore, "scan patient")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Wrap(err, failure.KindStore, "iterate patients")
	}
	return out, nil
}

// Create inserts p as active regardless of p.Active and records the assigned
// id on p.
func (s *storePG) Create(ctx context.Context, p *Patient) (int, error) {
	var id int
	err := s.q.QueryRow(ctx, `
		INSERT INTO paciente (nombre, cedula, correo, edad, direccion, activo)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id`,
		p.Name, p.Cedula, p.Email, p.Age, p.Address,
	).Scan(&id)
	if err != nil {
		return 0, failure.Wrap(err, failure.KindStore, "insert patient")
	}
	p.ID = id
	p.Active = true
	return id, nil
}

func (s *storePG) GetByID(ctx context.Context, id int) (*Patient, error) {
	p, err := scanPatient(s.q.QueryRow(ctx, `SELECT `+patientCols+` FROM paciente WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, failure.Wrap(err, failure.KindStore, "select patient")
	}
	return p, nil
}

// Update writes every column except activo and returns p itself, not a re-read.
func (s *storePG) Update(ctx context.Context, p *Patient) (*Patient, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE paciente
		SET nombre = $1, cedula = $2, correo = $3, edad = $4, direccion = $5
		WHERE id = $6`,
		p.Name, p.Cedula, p.Email, p.Age, p.Address, p.ID,
	)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindStore, "update patient")
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return p, nil
}

// SetStatus does not check that the row exists.
func (s *storePG) SetStatus(ctx context.Context, id int, active bool) error {
	if _, err := s.q.Exec(ctx, `UPDATE paciente SET activo = $1 WHERE id = $2`, active, id); err != nil {
		return failure.Wrap(err, failure.KindStore, "update patient status")
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Cedula, &p.Email, &p.Age, &p.Address, &p.Active)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
