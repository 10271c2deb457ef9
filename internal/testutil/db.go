package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/vmail/mailcore/migrations"
)

// Postgres describes a running test database container.
type Postgres struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
}

// URL returns a connection URL without TLS.
func (p *Postgres) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.Username, p.Password, p.Host, p.Port, p.Database)
}

// StartPostgres starts an empty Postgres container that is terminated when
// the test finishes.
func StartPostgres(t *testing.T) *Postgres {
	t.Helper()

	ctx := context.Background()
	pg := &Postgres{Database: "mailcore_test", Username: "mailcore", Password: "mailcore"}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(pg.Database),
		postgres.WithUsername(pg.Username),
		postgres.WithPassword(pg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	if pg.Host, err = container.Host(ctx); err != nil {
		t.Fatalf("Failed to get Postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("Failed to get Postgres port: %v", err)
	}
	pg.Port = port.Port()

	return pg
}

// NewTestDB starts Postgres, applies the schema migrations and returns a pool.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	pg := StartPostgres(t)

	pool, err := pgxpool.New(ctx, pg.URL())
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	steps, err := migrations.Up()
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	for _, m := range steps {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			t.Fatalf("Failed to apply migration %s: %v", m.Name, err)
		}
	}

	return pool
}
