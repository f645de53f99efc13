package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/craftd/internal/history"
)

func TestPostgresSink(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("history"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("failed to start PostgreSQL container: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Server: "alpha", PID: 7, Status: "running"}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventJob, OccurredAt: time.Now(), Server: "alpha", JobID: "j1", Status: "completed"}))

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_history WHERE server=$1`, "alpha").Scan(&n))
	assert.Equal(t, 2, n)
}
