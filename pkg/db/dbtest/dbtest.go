//go:build integration

// Package dbtest поднимает временный Postgres для интеграционных тестов.
package dbtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dessertmap/pkg/db"
)

// Start запускает postgres:16-alpine, дважды применяет schema и отдаёт пул.
// Без docker тест пропускается.
func Start(t *testing.T, schema string) *sqlx.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "coupons_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/coupons_test?sslmode=disable", host, port.Port())

	var conn *sqlx.DB
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err = db.Connect(ctx, dsn, db.DefaultPoolOptions)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres did not become ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(ctx, conn, schema))
	// повторное применение ничего не ломает
	require.NoError(t, db.Migrate(ctx, conn, schema))
	return conn
}

// SeedStore создаёт магазин и возвращает его id.
func SeedStore(t *testing.T, conn *sqlx.DB, name string, ownerID int64) int64 {
	t.Helper()
	var id int64
	require.NoError(t, conn.QueryRow(`INSERT INTO stores (name, owner_id) VALUES ($1, $2) RETURNING id`, name, ownerID).Scan(&id))
	return id
}
