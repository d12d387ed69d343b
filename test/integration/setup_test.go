//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/hospital/patients/internal/platform/db"
)

// globalPool is the shared pool for the suite, initialized once in TestMain.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pool, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("patients"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres: %w", err)
	}
	terminate := func() { _ = testcontainers.TerminateContainer(ctr) }

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 8, MinConns: 1})
	if err != nil {
		terminate()
		return nil, nil, err
	}

	if _, err := db.NewMigrator(pool, findMigrationsDir()).Up(ctx, "public"); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// findMigrationsDir locates the migrations directory relative to this file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func resetTable(t *testing.T) {
	t.Helper()
	if _, err := globalPool.Exec(context.Background(), "TRUNCATE paciente RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate paciente: %v", err)
	}
}

func countPatients(t *testing.T) int {
	t.Helper()
	var n int
	if err := globalPool.QueryRow(context.Background(), "SELECT count(*) FROM paciente").Scan(&n); err != nil {
		t.Fatalf("count patients: %v", err)
	}
	return n
}

func seedPatient(t *testing.T, name, cedula string) int {
	t.Helper()
	var id int
	err := globalPool.QueryRow(context.Background(),
		`INSERT INTO paciente (nombre, cedula, correo, edad, direccion) VALUES ($1, $2, '', 30, '') RETURNING id`,
		name, cedula).Scan(&id)
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return id
}
