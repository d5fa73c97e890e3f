package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type noopLogger struct{}

func (noopLogger) Printf(format string, v ...any) {}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	var container *postgres.PostgresContainer
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("moodcam_test"),
			postgres.WithUsername("user"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
			testcontainers.WithLogger(noopLogger{}),
		)
		return err
	}()
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	return connStr
}

func TestPostgresLog(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	connStr := startPostgres(t)
	ctx := context.Background()

	l, err := Open(ctx, connStr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pg, ok := l.(*PostgresLog)
	if !ok {
		t.Fatalf("Expected *PostgresLog, got %T", l)
	}

	session, err := pg.StartSession(ctx, "/dev/video0")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	for i, label := range []string{"happy", "surprise"} {
		if err := pg.Append(ctx, entry(i+1, label, 0.75)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := pg.Entries(ctx, session.ID, 10)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 2 || got[0].DominantLabel != "happy" || got[1].SubjectIndex != 2 {
		t.Errorf("Unexpected entries %+v", got)
	}
	if got[0].SessionID != session.ID {
		t.Errorf("Expected session %s, got %s", session.ID, got[0].SessionID)
	}

	if err := pg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pg.Close(); err != nil {
		t.Errorf("Second Close: %v", err)
	}
}
