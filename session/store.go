package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quii/vue-fast-sub001/alerts"
	"github.com/quii/vue-fast-sub001/client"
	"github.com/quii/vue-fast-sub001/models"
)

// TTL is how long a persisted session stays eligible for rejoin.
const TTL = 24 * time.Hour

const updatesBuffer = 16

var ErrNoSession = errors.New("not joined to a shoot")

// ShootAPI is the transport the store drives. client.Realtime and
// client.HTTPClient both satisfy it.
type ShootAPI interface {
	GetShoot(ctx context.Context, code string) (*models.Shoot, error)
	JoinShoot(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error)
	UpdateScore(ctx context.Context, code string, score client.Score) (*models.Shoot, error)
	FinishShoot(ctx context.Context, code string, score client.Score) (*models.Shoot, error)
	LeaveShoot(ctx context.Context, code, archerName string) (*models.Shoot, error)
}

// subscriber is implemented by transports that push notifications.
type subscriber interface {
	Subscribe(ctx context.Context, code string) (*models.Shoot, error)
	Unsubscribe(ctx context.Context, code string) error
}

type Evaluator interface {
	Evaluate(shoot *models.Shoot) []alerts.Alert
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEvaluator feeds every applied snapshot to e.
func WithEvaluator(e Evaluator) Option {
	return func(s *Store) { s.eval = e }
}

// Store is the client side view of one shoot: the persisted rejoin state and
// the newest snapshot seen from any source.
type Store struct {
	api     ShootAPI
	persist Persistence
	eval    Evaluator
	logger  *slog.Logger
	now     func() time.Time

	// applyMu orders Apply calls end to end so evaluation and delivery
	// follow version order. It is taken before mu.
	applyMu sync.Mutex
	mu      sync.Mutex
	state   *State
	shoot   *models.Shoot
	updates chan *models.Shoot
}

func NewStore(api ShootAPI, persist Persistence, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		api:     api,
		persist: persist,
		logger:  logger,
		now:     time.Now,
		updates: make(chan *models.Shoot, updatesBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Updates delivers every snapshot the store accepts.
func (s *Store) Updates() <-chan *models.Shoot {
	return s.updates
}

// Current returns copies of the session state and cached shoot; either may be nil.
func (s *Store) Current() (*State, *models.Shoot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var state *State
	if s.state != nil {
		st := *s.state
		state = &st
	}
	return state, s.shoot.Clone()
}

// Restore rejoins the persisted session. A stale session, a shoot that no
// longer exists or an archer no longer listed discards the persisted state
// and returns nil.
func (s *Store) Restore(ctx context.Context) *State {
	st, err := s.persist.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load session", slog.Any("error", err))
		s.discard(ctx)
		return nil
	}
	if st == nil {
		return nil
	}
	if s.now().Sub(st.JoinedAt) > TTL {
		s.logger.Info("discarding stale session", slog.String("code", st.ShootCode), slog.Time("joined_at", st.JoinedAt))
		s.discard(ctx)
		return nil
	}

	shoot, err := s.fetch(ctx, st.ShootCode)
	if err != nil {
		s.logger.Info("discarding session, shoot unavailable", slog.String("code", st.ShootCode), slog.Any("error", err))
		s.discard(ctx)
		return nil
	}
	if shoot.FindParticipant(st.ArcherName) == nil {
		s.logger.Info("discarding session, archer no longer listed",
			slog.String("code", st.ShootCode),
			slog.String("archer", st.ArcherName),
		)
		s.unsubscribe(ctx, st.ShootCode)
		s.discard(ctx)
		return nil
	}

	s.mu.Lock()
	s.state = st
	s.shoot = nil
	s.mu.Unlock()
	s.Apply(shoot)

	restored := *st
	return &restored
}

func (s *Store) discard(ctx context.Context) {
	if err := s.persist.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear session", slog.Any("error", err))
	}
}

// fetch prefers a subscription so notifications follow the snapshot.
func (s *Store) fetch(ctx context.Context, code string) (*models.Shoot, error) {
	if sub, ok := s.api.(subscriber); ok {
		return sub.Subscribe(ctx, code)
	}
	return s.api.GetShoot(ctx, code)
}

func (s *Store) unsubscribe(ctx context.Context, code string) {
	if sub, ok := s.api.(subscriber); ok {
		if err := sub.Unsubscribe(ctx, code); err != nil {
			s.logger.Debug("unsubscribe failed", slog.String("code", code), slog.Any("error", err))
		}
	}
}

// Join joins the shoot and persists the session for later rejoin.
func (s *Store) Join(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error) {
	shoot, err := s.api.JoinShoot(ctx, code, archerName, roundName)
	if err != nil {
		return nil, err
	}

	st := State{ShootCode: code, ArcherName: archerName, RoundName: roundName, JoinedAt: s.now().UTC()}
	if err := s.persist.Save(ctx, st); err != nil {
		s.logger.Warn("failed to persist session", slog.String("code", code), slog.Any("error", err))
	}

	s.mu.Lock()
	if s.shoot != nil && s.shoot.Code != code {
		s.shoot = nil
	}
	s.state = &st
	s.mu.Unlock()

	s.Apply(shoot)
	return shoot, nil
}

// Watch follows a shoot without joining it.
func (s *Store) Watch(ctx context.Context, code string) (*models.Shoot, error) {
	shoot, err := s.fetch(ctx, code)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.shoot != nil && s.shoot.Code != code {
		s.shoot = nil
	}
	s.mu.Unlock()
	s.Apply(shoot)
	return shoot, nil
}

func (s *Store) UpdateScore(ctx context.Context, totalScore, arrowsShot int, classification *string) (*models.Shoot, error) {
	return s.submit(ctx, totalScore, arrowsShot, classification, s.api.UpdateScore)
}

func (s *Store) Finish(ctx context.Context, totalScore, arrowsShot int, classification *string) (*models.Shoot, error) {
	return s.submit(ctx, totalScore, arrowsShot, classification, s.api.FinishShoot)
}

func (s *Store) submit(ctx context.Context, totalScore, arrowsShot int, classification *string,
	send func(context.Context, string, client.Score) (*models.Shoot, error)) (*models.Shoot, error) {
	st, _ := s.Current()
	if st == nil {
		return nil, ErrNoSession
	}
	shoot, err := send(ctx, st.ShootCode, client.Score{
		ArcherName:            st.ArcherName,
		TotalScore:            totalScore,
		RoundName:             st.RoundName,
		ArrowsShot:            arrowsShot,
		CurrentClassification: classification,
	})
	if err != nil {
		return nil, err
	}
	s.Apply(shoot)
	return shoot, nil
}

// Leave removes the archer from the shoot and forgets the session. An archer
// the server no longer knows about is treated as already gone.
func (s *Store) Leave(ctx context.Context) error {
	st, _ := s.Current()
	if st == nil {
		return ErrNoSession
	}
	if _, err := s.api.LeaveShoot(ctx, st.ShootCode, st.ArcherName); err != nil && !errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("failed to leave shoot %s: %w", st.ShootCode, err)
	}
	s.unsubscribe(ctx, st.ShootCode)
	s.discard(ctx)

	s.mu.Lock()
	s.state = nil
	s.shoot = nil
	s.mu.Unlock()
	return nil
}

// Apply caches shoot if it is newer than the cached snapshot of the same
// shoot. Older or equal versions and snapshots of other shoots are rejected.
func (s *Store) Apply(shoot *models.Shoot) bool {
	if shoot == nil {
		return false
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.state != nil && shoot.Code != s.state.ShootCode {
		s.mu.Unlock()
		return false
	}
	if s.shoot != nil {
		if shoot.Code != s.shoot.Code {
			s.mu.Unlock()
			return false
		}
		if cached := s.shoot.Version; shoot.Version <= cached {
			s.mu.Unlock()
			s.logger.Debug("stale snapshot rejected",
				slog.String("code", shoot.Code),
				slog.Int64("version", shoot.Version),
				slog.Int64("cached", cached),
			)
			return false
		}
	}
	s.shoot = shoot.Clone()
	s.mu.Unlock()

	if s.eval != nil {
		s.eval.Evaluate(shoot)
	}
	select {
	case s.updates <- shoot.Clone():
	default:
		s.logger.Debug("update dropped, consumer is behind", slog.String("code", shoot.Code))
	}
	return true
}

// Resync fetches the current snapshot, e.g. after a reconnect.
func (s *Store) Resync(ctx context.Context) error {
	code := s.code()
	if code == "" {
		return nil
	}
	shoot, err := s.api.GetShoot(ctx, code)
	if err != nil {
		return err
	}
	s.Apply(shoot)
	return nil
}

func (s *Store) code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return s.state.ShootCode
	}
	if s.shoot != nil {
		return s.shoot.Code
	}
	return ""
}

// Run applies pushed notifications and resyncs after every reconnect until
// ctx is done. Either channel may be nil.
func (s *Store) Run(ctx context.Context, notifications <-chan models.Notification, states <-chan client.StateEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			s.Apply(n.Shoot)
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if ev.Kind != client.EventConnected {
				continue
			}
			if err := s.Resync(ctx); err != nil {
				s.logger.Warn("resync after reconnect failed", slog.Any("error", err))
			}
		}
	}
}
