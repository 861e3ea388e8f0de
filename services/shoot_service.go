package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/repositories"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxCodeAttempts = 50
	maxSaveAttempts = 3
)

// Publisher fans notifications out to everyone watching a shoot.
type Publisher interface {
	Publish(code string, notification models.Notification)
}

// ScoreUpdate carries absolute values reported by an archer. Because the
// values are absolute, applying the same update twice is harmless.
type ScoreUpdate struct {
	ArcherName     string
	TotalScore     int
	RoundName      string
	ArrowsShot     int
	Classification *string
}

// ShootService owns every mutation of a shoot: validation, ranking,
// persistence and notification.
type ShootService struct {
	repo      repositories.ShootRepository
	publisher Publisher
	logger    *slog.Logger
	locks     *codeLocks
	now       func() time.Time
	newCode   CodeGenerator
	tracer    trace.Tracer
}

type ShootServiceOption func(*ShootService)

func WithClock(now func() time.Time) ShootServiceOption {
	return func(s *ShootService) { s.now = now }
}

func WithCodeGenerator(gen CodeGenerator) ShootServiceOption {
	return func(s *ShootService) { s.newCode = gen }
}

func NewShootService(
	repo repositories.ShootRepository,
	publisher Publisher,
	logger *slog.Logger,
	opts ...ShootServiceOption,
) *ShootService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ShootService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		locks:     newCodeLocks(),
		now:       time.Now,
		newCode:   RandomCode,
		tracer:    otel.Tracer("github.com/quii/vue-fast-sub001/services"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ShootService) CreateShoot(ctx context.Context, creatorName string) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.CreateShoot")
	defer func() { endSpan(span, err) }()

	creatorName = strings.TrimSpace(creatorName)
	if creatorName == "" {
		return nil, ErrCreatorNameRequired
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode()
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check shoot code %s: %w", code, err)
		}
		if exists {
			continue
		}

		now := s.now()
		shoot := &models.Shoot{
			ID:           uuid.NewString(),
			Code:         code,
			CreatorName:  creatorName,
			CreatedAt:    now,
			ExpiresAt:    models.EndOfDay(now),
			Participants: []*models.Participant{},
			LastUpdated:  now,
			Version:      1,
		}
		err = s.repo.Create(ctx, shoot)
		if errors.Is(err, repositories.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create shoot: %w", err)
		}

		span.SetAttributes(attribute.String("shoot.code", code))
		s.logger.InfoContext(ctx, "shoot created",
			slog.String("code", code),
			slog.String("creator", creatorName),
			slog.Time("expires_at", shoot.ExpiresAt),
		)
		return shoot, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// GetShoot returns ErrShootNotFound for unknown and expired codes.
func (s *ShootService) GetShoot(ctx context.Context, code string) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.GetShoot", trace.WithAttributes(attribute.String("shoot.code", code)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(code) == "" {
		return nil, ErrShootCodeRequired
	}
	return s.load(ctx, code)
}

func (s *ShootService) JoinShoot(ctx context.Context, code, archerName, roundName string) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.JoinShoot", trace.WithAttributes(attribute.String("shoot.code", code)))
	defer func() { endSpan(span, err) }()

	archerName = strings.TrimSpace(archerName)
	if strings.TrimSpace(code) == "" {
		return nil, ErrShootCodeRequired
	}
	if archerName == "" {
		return nil, ErrArcherNameRequired
	}

	shoot, _, err = s.mutate(ctx, code, func(shoot *models.Shoot, now time.Time) (bool, error) {
		if shoot.FindParticipant(archerName) != nil {
			return false, ErrArcherAlreadyJoined
		}
		shoot.Participants = append(shoot.Participants, &models.Participant{
			ID:          uuid.NewString(),
			ArcherName:  archerName,
			RoundName:   roundName,
			JoinedAt:    now,
			LastUpdated: now,
		})
		rankParticipants(shoot.Participants)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "archer joined shoot",
		slog.String("code", code),
		slog.String("archer", archerName),
		slog.String("round", roundName),
		slog.Int("participants", len(shoot.Participants)),
	)
	s.publish(shoot, models.NotificationJoinedShoot, archerName, fmt.Sprintf("%s joined the shoot", archerName))
	return shoot, nil
}

func (s *ShootService) UpdateScore(ctx context.Context, code string, update ScoreUpdate) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.UpdateScore", trace.WithAttributes(attribute.String("shoot.code", code)))
	defer func() { endSpan(span, err) }()

	return s.applyScore(ctx, code, update, false)
}

// FinishShoot records the archer's final score and locks it against further updates.
func (s *ShootService) FinishShoot(ctx context.Context, code string, update ScoreUpdate) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.FinishShoot", trace.WithAttributes(attribute.String("shoot.code", code)))
	defer func() { endSpan(span, err) }()

	return s.applyScore(ctx, code, update, true)
}

func (s *ShootService) applyScore(ctx context.Context, code string, update ScoreUpdate, finish bool) (*models.Shoot, error) {
	update.ArcherName = strings.TrimSpace(update.ArcherName)
	if err := validateScoreUpdate(code, update); err != nil {
		return nil, err
	}

	var moved []*models.Participant
	shoot, changed, err := s.mutate(ctx, code, func(shoot *models.Shoot, now time.Time) (bool, error) {
		moved = nil
		p := shoot.FindParticipant(update.ArcherName)
		if p == nil {
			return false, ErrArcherNotFound
		}
		if p.Finished {
			return false, ErrArcherFinished
		}
		if !finish && sameScore(p, update) {
			return false, nil
		}
		p.TotalScore = update.TotalScore
		p.ArrowsShot = update.ArrowsShot
		p.RoundName = update.RoundName
		p.CurrentClassification = update.Classification
		p.Finished = finish
		p.LastUpdated = now
		moved = rankParticipants(shoot.Participants)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.DebugContext(ctx, "duplicate score update ignored",
			slog.String("code", code),
			slog.String("archer", update.ArcherName),
		)
		return shoot, nil
	}

	archer := shoot.FindParticipant(update.ArcherName)
	if finish {
		s.logger.InfoContext(ctx, "archer finished",
			slog.String("code", code),
			slog.String("archer", update.ArcherName),
			slog.Int("total_score", update.TotalScore),
			slog.Int("position", archer.CurrentPosition),
		)
		s.publish(shoot, models.NotificationArcherFinished, update.ArcherName,
			fmt.Sprintf("%s finished with %d", update.ArcherName, update.TotalScore))
	} else {
		s.logger.DebugContext(ctx, "score updated",
			slog.String("code", code),
			slog.String("archer", update.ArcherName),
			slog.Int("total_score", update.TotalScore),
			slog.Int("arrows_shot", update.ArrowsShot),
		)
		s.publish(shoot, models.NotificationScoreUpdate, update.ArcherName,
			fmt.Sprintf("%s scored %d after %d arrows", update.ArcherName, update.TotalScore, update.ArrowsShot))
	}
	for _, p := range moved {
		s.publish(shoot, models.NotificationPositionChange, p.ArcherName,
			fmt.Sprintf("%s moved from %d to %d", p.ArcherName, *p.PreviousPosition, p.CurrentPosition))
	}
	return shoot, nil
}

func (s *ShootService) LeaveShoot(ctx context.Context, code, archerName string) (shoot *models.Shoot, err error) {
	ctx, span := s.tracer.Start(ctx, "ShootService.LeaveShoot", trace.WithAttributes(attribute.String("shoot.code", code)))
	defer func() { endSpan(span, err) }()

	archerName = strings.TrimSpace(archerName)
	if strings.TrimSpace(code) == "" {
		return nil, ErrShootCodeRequired
	}
	if archerName == "" {
		return nil, ErrArcherNameRequired
	}

	shoot, _, err = s.mutate(ctx, code, func(shoot *models.Shoot, now time.Time) (bool, error) {
		for i, p := range shoot.Participants {
			if p.ArcherName == archerName {
				shoot.Participants = append(shoot.Participants[:i], shoot.Participants[i+1:]...)
				rankParticipants(shoot.Participants)
				return true, nil
			}
		}
		return false, ErrArcherNotFound
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "archer left shoot",
		slog.String("code", code),
		slog.String("archer", archerName),
		slog.Int("participants", len(shoot.Participants)),
	)
	s.publish(shoot, models.NotificationLeftShoot, archerName, fmt.Sprintf("%s left the shoot", archerName))
	return shoot, nil
}

// mutate runs fn against the latest stored shoot while holding the code's lock
// and persists the result with a version check. fn may run more than once when
// another writer wins the compare-and-swap, so it must only touch the shoot it
// is given. Returning false from fn skips persistence.
func (s *ShootService) mutate(
	ctx context.Context,
	code string,
	fn func(shoot *models.Shoot, now time.Time) (bool, error),
) (*models.Shoot, bool, error) {
	unlock := s.locks.Lock(code)
	defer unlock()

	for attempt := 1; ; attempt++ {
		shoot, err := s.load(ctx, code)
		if err != nil {
			return nil, false, err
		}
		expected := shoot.Version
		now := s.now()

		changed, err := fn(shoot, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return shoot, false, nil
		}

		shoot.Version = expected + 1
		shoot.LastUpdated = now
		err = s.repo.Save(ctx, shoot, expected)
		switch {
		case err == nil:
			return shoot, true, nil
		case errors.Is(err, repositories.ErrVersionConflict) && attempt < maxSaveAttempts:
			s.logger.WarnContext(ctx, "concurrent shoot write, retrying",
				slog.String("code", code),
				slog.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, repositories.ErrShootNotFound):
			return nil, false, ErrShootNotFound
		default:
			return nil, false, fmt.Errorf("failed to save shoot %s: %w", code, err)
		}
	}
}

func (s *ShootService) load(ctx context.Context, code string) (*models.Shoot, error) {
	shoot, err := s.repo.Get(ctx, code)
	if err != nil {
		if errors.Is(err, repositories.ErrShootNotFound) {
			return nil, ErrShootNotFound
		}
		return nil, fmt.Errorf("failed to load shoot %s: %w", code, err)
	}
	return shoot, nil
}

func (s *ShootService) publish(shoot *models.Shoot, kind models.NotificationType, archerName, message string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(shoot.Code, models.Notification{
		Type:       kind,
		ShootCode:  shoot.Code,
		ArcherName: archerName,
		Message:    message,
		Shoot:      shoot.Clone(),
		Timestamp:  s.now(),
	})
}

func validateScoreUpdate(code string, update ScoreUpdate) error {
	switch {
	case strings.TrimSpace(code) == "":
		return ErrShootCodeRequired
	case update.ArcherName == "":
		return ErrArcherNameRequired
	case update.ArrowsShot < 0:
		return ErrInvalidArrowsShot
	case update.TotalScore < 0:
		return ErrInvalidTotalScore
	}
	return nil
}

func sameScore(p *models.Participant, update ScoreUpdate) bool {
	if p.TotalScore != update.TotalScore || p.ArrowsShot != update.ArrowsShot || p.RoundName != update.RoundName {
		return false
	}
	switch {
	case p.CurrentClassification == nil && update.Classification == nil:
		return true
	case p.CurrentClassification == nil || update.Classification == nil:
		return false
	default:
		return *p.CurrentClassification == *update.Classification
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
