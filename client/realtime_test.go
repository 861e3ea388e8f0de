package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quii/vue-fast-sub001/handlers"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/realtime"
	"github.com/quii/vue-fast-sub001/repositories"
	"github.com/quii/vue-fast-sub001/services"
)

func newShootServer(t *testing.T) (string, *services.ShootService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := realtime.NewHub(testLogger)
	go hub.Run(ctx)
	svc := services.NewShootService(repositories.NewMemoryShootRepository(nil), hub, testLogger)
	ws := handlers.NewWebSocketHandler(hub, realtime.NewDispatcher(svc, hub, testLogger), nil, testLogger)

	srv := httptest.NewServer(http.HandlerFunc(ws.ServeWs))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), svc
}

func TestRealtimeAgainstServer(t *testing.T) {
	url, svc := newShootServer(t)
	ctx := context.Background()
	shoot, err := svc.CreateShoot(ctx, "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bob := NewRealtime(NewConn(url, Options{Logger: testLogger}))
	defer bob.Conn().Close()
	watcher := NewRealtime(NewConn(url, Options{Logger: testLogger}))
	defer watcher.Conn().Close()

	if _, err := bob.JoinShoot(ctx, shoot.Code, "Bob", "Windsor"); err != nil {
		t.Fatalf("join: %v", err)
	}
	snapshot, err := watcher.Subscribe(ctx, shoot.Code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if snapshot.FindParticipant("Bob") == nil {
		t.Fatal("subscribe snapshot is missing Bob")
	}

	updated, err := bob.UpdateScore(ctx, shoot.Code, Score{ArcherName: "Bob", TotalScore: 42, RoundName: "Windsor", ArrowsShot: 12})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version <= snapshot.Version {
		t.Fatalf("expected version to advance past %d, got %d", snapshot.Version, updated.Version)
	}

	select {
	case n := <-watcher.Conn().Notifications():
		if n.Type != models.NotificationScoreUpdate || n.Shoot.FindParticipant("Bob").TotalScore != 42 {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not receive the score update")
	}

	if _, err := bob.FinishShoot(ctx, shoot.Code, Score{ArcherName: "Bob", TotalScore: 300, RoundName: "Windsor", ArrowsShot: 72}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := bob.UpdateScore(ctx, shoot.Code, Score{ArcherName: "Bob", TotalScore: 301, ArrowsShot: 73}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := bob.GetShoot(ctx, "0000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := bob.JoinShoot(ctx, shoot.Code, "", "Windsor"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
