package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quii/vue-fast-sub001/models"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeServer is a scripted realtime endpoint.
type fakeServer struct {
	*httptest.Server
	respond func(env models.Envelope) []models.Envelope

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []models.Envelope
}

func newFakeServer(t *testing.T, respond func(env models.Envelope) []models.Envelope) *fakeServer {
	t.Helper()
	s := &fakeServer{respond: respond}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}))
	t.Cleanup(func() {
		s.dropConnections()
		s.Close()
	})
	return s
}

func (s *fakeServer) serve(conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
		if s.respond == nil {
			continue
		}
		for _, out := range s.respond(env) {
			s.mu.Lock()
			conn.WriteJSON(out)
			s.mu.Unlock()
		}
	}
}

func (s *fakeServer) push(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.WriteJSON(env)
	}
}

func (s *fakeServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *fakeServer) receivedOfType(typ models.EnvelopeType) []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Envelope
	for _, env := range s.received {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func shootReply(env models.Envelope, shoot *models.Shoot) models.Envelope {
	data, _ := json.Marshal(models.ShootResponse{Success: true, Code: shoot.Code, Shoot: shoot})
	return models.Envelope{Type: models.EnvelopeResponse, ShootCode: env.ShootCode, RequestID: env.RequestID, Data: data}
}

// fakeScheduler records reconnect delays; the test decides when each fires.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
	ready  chan struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{ready: make(chan struct{}, 16)}
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	s.mu.Unlock()
	s.ready <- struct{}{}
	return fakeTimer{}
}

func (s *fakeScheduler) waitAndFire(t *testing.T) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no reconnect was scheduled")
	}
	s.mu.Lock()
	f := s.fns[len(s.fns)-1]
	s.mu.Unlock()
	f()
}

func waitForEvent(t *testing.T, c *Conn, kind EventKind) StateEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-c.States():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestReconnectBackoffThenTerminalFailure(t *testing.T) {
	srv := newFakeServer(t, nil)
	scheduler := newFakeScheduler()
	conn := NewConn(srv.wsURL(), Options{BaseDelay: time.Second, Scheduler: scheduler, Logger: testLogger})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForEvent(t, conn, EventConnected)

	// Take the server away entirely so every reconnect attempt fails.
	srv.dropConnections()
	srv.Close()
	waitForEvent(t, conn, EventDisconnected)

	for i := 0; i < DefaultMaxAttempts; i++ {
		scheduler.waitAndFire(t)
	}
	ev := waitForEvent(t, conn, EventReconnectFailed)
	if !errors.Is(ev.Err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", ev.Err)
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	scheduler.mu.Lock()
	got := append([]time.Duration(nil), scheduler.delays...)
	scheduler.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("expected %d scheduled attempts, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, want[i], got[i])
		}
	}

	select {
	case <-scheduler.ready:
		t.Fatal("no attempt may be scheduled after the terminal failure")
	case <-time.After(50 * time.Millisecond):
	}
	if conn.Status() != StatusError {
		t.Fatalf("expected error status, got %s", conn.Status())
	}
}

func TestReconnectResubscribesAndResetsAttempts(t *testing.T) {
	shoot := &models.Shoot{Code: "4821", Version: 1}
	srv := newFakeServer(t, func(env models.Envelope) []models.Envelope {
		return []models.Envelope{shootReply(env, shoot)}
	})
	scheduler := newFakeScheduler()
	conn := NewConn(srv.wsURL(), Options{Scheduler: scheduler, Logger: testLogger})
	defer conn.Close()

	if _, err := conn.Subscribe(context.Background(), "4821"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	srv.dropConnections()
	waitForEvent(t, conn, EventDisconnected)
	scheduler.waitAndFire(t)
	waitForEvent(t, conn, EventConnected)

	deadline := time.Now().Add(5 * time.Second)
	for len(srv.receivedOfType(models.EnvelopeSubscribe)) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected the subscription to be renewed after reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second drop starts again from the base delay.
	srv.dropConnections()
	waitForEvent(t, conn, EventDisconnected)
	<-scheduler.ready
	scheduler.mu.Lock()
	last := scheduler.delays[len(scheduler.delays)-1]
	scheduler.mu.Unlock()
	if last != DefaultBaseDelay {
		t.Fatalf("expected attempts to reset after a successful reconnect, got delay %v", last)
	}
}

func TestResponsesAreCorrelatedByRequestID(t *testing.T) {
	shoot := &models.Shoot{Code: "4821", CreatorName: "Alice", Version: 3}
	srv := newFakeServer(t, func(env models.Envelope) []models.Envelope {
		stray := shootReply(models.Envelope{RequestID: "not-a-pending-id"}, &models.Shoot{Code: "0000"})
		return []models.Envelope{stray, shootReply(env, shoot)}
	})
	rt := NewRealtime(NewConn(srv.wsURL(), Options{Logger: testLogger}))
	defer rt.Conn().Close()

	got, err := rt.GetShoot(context.Background(), "4821")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != "4821" || got.Version != 3 {
		t.Fatalf("expected the correlated reply, got %+v", got)
	}

	sent := srv.receivedOfType(models.EnvelopeGetShoot)
	if len(sent) != 1 || sent[0].RequestID == "" {
		t.Fatalf("expected one request with an id, got %+v", sent)
	}
}

func TestErrorReplyBecomesRemoteError(t *testing.T) {
	srv := newFakeServer(t, func(env models.Envelope) []models.Envelope {
		data, _ := json.Marshal(models.ErrorPayload{Code: models.ErrorCodeNotFound, Message: "shoot not found"})
		return []models.Envelope{{Type: models.EnvelopeError, RequestID: env.RequestID, Data: data}}
	})
	conn := NewConn(srv.wsURL(), Options{Logger: testLogger})
	defer conn.Close()

	_, err := conn.Subscribe(context.Background(), "0000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "shoot not found" {
		t.Fatalf("expected RemoteError, got %#v", err)
	}
	if len(conn.subscriptions) != 0 {
		t.Fatal("unknown shoot must not be remembered for resubscription")
	}
}

func TestRequestTimesOut(t *testing.T) {
	srv := newFakeServer(t, nil)
	conn := NewConn(srv.wsURL(), Options{RequestTimeout: 50 * time.Millisecond, Logger: testLogger})
	defer conn.Close()

	_, err := conn.SendRequest(context.Background(), models.Envelope{Type: models.EnvelopeGetShoot, ShootCode: "4821"})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	conn.mu.Lock()
	left := len(conn.pending)
	conn.mu.Unlock()
	if left != 0 {
		t.Fatalf("timed out request left %d pending entries", left)
	}
}

func TestDisconnectRejectsPendingRequests(t *testing.T) {
	tests := []struct {
		name       string
		disconnect func(srv *fakeServer, conn *Conn)
	}{
		{"local close", func(_ *fakeServer, conn *Conn) { conn.Close() }},
		{"server drop", func(srv *fakeServer, _ *Conn) { srv.dropConnections() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, nil)
			conn := NewConn(srv.wsURL(), Options{Scheduler: newFakeScheduler(), Logger: testLogger})
			defer conn.Close()

			errs := make(chan error, 1)
			go func() {
				_, err := conn.SendRequest(context.Background(), models.Envelope{Type: models.EnvelopeGetShoot, ShootCode: "4821"})
				errs <- err
			}()

			deadline := time.Now().Add(5 * time.Second)
			for len(srv.receivedOfType(models.EnvelopeGetShoot)) == 0 {
				if time.Now().After(deadline) {
					t.Fatal("request never reached the server")
				}
				time.Sleep(5 * time.Millisecond)
			}
			tt.disconnect(srv, conn)

			select {
			case err := <-errs:
				if !errors.Is(err, ErrConnectionClosed) {
					t.Fatalf("expected ErrConnectionClosed, got %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("pending request was not rejected")
			}
		})
	}
}

func TestNotificationsAreDelivered(t *testing.T) {
	srv := newFakeServer(t, nil)
	conn := NewConn(srv.wsURL(), Options{Logger: testLogger})
	defer conn.Close()
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Wait until the server has registered the connection.
	deadline := time.Now().Add(5 * time.Second)
	for {
		srv.mu.Lock()
		n := len(srv.conns)
		srv.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never saw the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	data, _ := json.Marshal(models.Notification{Type: models.NotificationScoreUpdate, ShootCode: "4821", Shoot: &models.Shoot{Code: "4821", Version: 7}})
	srv.push(models.Envelope{Type: models.EnvelopeNotification, ShootCode: "4821", Data: data})

	select {
	case n := <-conn.Notifications():
		if n.Type != models.NotificationScoreUpdate || n.Shoot.Version != 7 {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestConnectTimesOut(t *testing.T) {
	// A server that accepts TCP but never completes the websocket handshake.
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	conn := NewConn("ws"+strings.TrimPrefix(srv.URL, "http"), Options{OpenTimeout: 50 * time.Millisecond, Logger: testLogger})
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("expected the open timeout to fail the connect")
	}
	if conn.Status() != StatusError {
		t.Fatalf("expected error status, got %s", conn.Status())
	}
}

func TestBackoffDelay(t *testing.T) {
	for attempt, want := range map[int]time.Duration{1: 250 * time.Millisecond, 2: 500 * time.Millisecond, 5: 4 * time.Second} {
		if got := backoffDelay(250*time.Millisecond, attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}
