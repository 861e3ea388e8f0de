package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/repositories"
)

// Archiver keeps a copy of a finished shoot before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, shoot *models.Shoot) error
}

// ExpirySweeper periodically archives and deletes expired shoots.
type ExpirySweeper struct {
	repo      repositories.ShootRepository
	archiver  Archiver
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
	scheduler gocron.Scheduler
}

func NewExpirySweeper(repo repositories.ShootRepository, archiver Archiver, logger *slog.Logger, interval time.Duration) *ExpirySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		repo:     repo,
		archiver: archiver,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep archives and removes every shoot expired at the current time and
// returns how many were removed. A shoot whose archive fails is kept for the
// next run.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired shoots: %w", err)
	}

	removed := 0
	for _, shoot := range expired {
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, shoot); err != nil {
				s.logger.ErrorContext(ctx, "failed to archive expired shoot",
					slog.String("code", shoot.Code),
					slog.Any("error", err),
				)
				continue
			}
		}
		// The code may have been reused by a new shoot while archiving.
		if err := s.repo.DeleteExpired(ctx, shoot.Code, now); err != nil {
			if errors.Is(err, repositories.ErrShootNotFound) {
				s.logger.InfoContext(ctx, "expired shoot already replaced or removed", slog.String("code", shoot.Code))
			} else {
				s.logger.ErrorContext(ctx, "failed to delete expired shoot",
					slog.String("code", shoot.Code),
					slog.Any("error", err),
				)
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "expired shoots swept", slog.Int("removed", removed))
	}
	return removed, nil
}

func (s *ExpirySweeper) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create sweeper scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("sweeper run failed", slog.Any("error", err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}
	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info("expiry sweeper started", slog.Duration("interval", s.interval))
	return nil
}

func (s *ExpirySweeper) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
