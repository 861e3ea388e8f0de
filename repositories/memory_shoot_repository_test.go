package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestShoot(code string, now time.Time) *models.Shoot {
	return &models.Shoot{
		ID:          "shoot-" + code,
		Code:        code,
		CreatorName: "Alice",
		CreatedAt:   now,
		ExpiresAt:   models.EndOfDay(now),
		LastUpdated: now,
		Version:     1,
	}
}

func TestMemoryRepositoryCreateAndGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	repo := NewMemoryShootRepository(clock.Now)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestShoot("1234", clock.now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, "1234")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CreatorName != "Alice" {
		t.Fatalf("expected creator Alice, got %q", got.CreatorName)
	}

	if err := repo.Create(ctx, newTestShoot("1234", clock.now)); !errors.Is(err, ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken, got %v", err)
	}
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	repo := NewMemoryShootRepository(clock.Now)
	ctx := context.Background()

	shoot := newTestShoot("4321", clock.now)
	shoot.Participants = []*models.Participant{{ArcherName: "Bob", CurrentPosition: 1}}
	if err := repo.Create(ctx, shoot); err != nil {
		t.Fatalf("create: %v", err)
	}
	shoot.Participants[0].TotalScore = 99

	got, _ := repo.Get(ctx, "4321")
	got.Participants[0].ArrowsShot = 6

	again, _ := repo.Get(ctx, "4321")
	if again.Participants[0].TotalScore != 0 || again.Participants[0].ArrowsShot != 0 {
		t.Fatalf("stored participant was mutated through a shared pointer: %+v", again.Participants[0])
	}
}

func TestMemoryRepositoryExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 22, 0, 0, 0, time.UTC)}
	repo := NewMemoryShootRepository(clock.Now)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestShoot("5555", clock.now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	expired, err := repo.ListExpired(ctx, clock.now)
	if err != nil || len(expired) != 0 {
		t.Fatalf("expected nothing expired yet, got %d (%v)", len(expired), err)
	}

	clock.now = clock.now.Add(3 * time.Hour)

	expired, err = repo.ListExpired(ctx, clock.now)
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected one expired shoot, got %d (%v)", len(expired), err)
	}
	exists, err := repo.CodeExists(ctx, "5555")
	if err != nil {
		t.Fatalf("code exists: %v", err)
	}
	if exists {
		t.Fatal("expired code must not count as existing")
	}
	if _, err := repo.Get(ctx, "5555"); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected ErrShootNotFound, got %v", err)
	}

	// Expired codes may be reused.
	if err := repo.Create(ctx, newTestShoot("5555", clock.now)); err != nil {
		t.Fatalf("recreate expired code: %v", err)
	}
}

func TestMemoryRepositorySaveCompareAndSwap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	repo := NewMemoryShootRepository(clock.Now)
	ctx := context.Background()

	shoot := newTestShoot("7777", clock.now)
	if err := repo.Create(ctx, shoot); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := shoot.Clone()
	first.Version = 2
	if err := repo.Save(ctx, first, 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	stale := shoot.Clone()
	stale.Version = 2
	if err := repo.Save(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	missing := newTestShoot("0000", clock.now)
	if err := repo.Save(ctx, missing, 1); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected ErrShootNotFound, got %v", err)
	}
}

func TestMemoryRepositoryDeleteExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)}
	repo := NewMemoryShootRepository(clock.Now)
	ctx := context.Background()

	if err := repo.Create(ctx, newTestShoot("2468", clock.now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.DeleteExpired(ctx, "2468", clock.now); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected live shoot to be kept, got %v", err)
	}
	if ok, _ := repo.CodeExists(ctx, "2468"); !ok {
		t.Fatal("live shoot was deleted")
	}

	later := clock.now.Add(48 * time.Hour)
	if err := repo.DeleteExpired(ctx, "2468", later); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteExpired(ctx, "2468", later); !errors.Is(err, ErrShootNotFound) {
		t.Fatalf("expected ErrShootNotFound on second delete, got %v", err)
	}
}
