package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	appdb "github.com/quii/vue-fast-sub001/db"
)

// openTestDB connects to TEST_DATABASE_URL or skips the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := appdb.EnsureShootSchema(context.Background(), db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestPostgresRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	clock := &fakeClock{now: time.Now().UTC()}
	repo := NewPostgresShootRepository(db, clock.Now)
	ctx := context.Background()

	code := fmt.Sprintf("%04d", time.Now().UnixNano()%10000)
	_, _ = db.Exec(`DELETE FROM shoots WHERE code = $1`, code)

	shoot := newTestShoot(code, clock.now)
	if err := repo.Create(ctx, shoot); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, shoot); !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}

	updated := shoot.Clone()
	updated.Version = 2
	if err := repo.Save(ctx, updated, 1); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Save(ctx, updated, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := repo.Get(ctx, code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}

	if err := repo.DeleteExpired(ctx, code, time.Now()); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected live shoot to survive DeleteExpired, got %v", err)
	}
	if err := repo.DeleteExpired(ctx, code, got.ExpiresAt.Add(time.Second)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, code); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected ErrShootNotFound, got %v", err)
	}
}
