package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/quii/vue-fast-sub001/models"
)

type postgresShootRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresShootRepository stores each shoot as one JSONB row keyed by code.
// The schema is created by db.EnsureShootSchema.
func NewPostgresShootRepository(db *sql.DB, now func() time.Time) ShootRepository {
	if now == nil {
		now = time.Now
	}
	return &postgresShootRepository{db: db, now: now}
}

func (r *postgresShootRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresShootRepository) Create(ctx context.Context, shoot *models.Shoot) error {
	executor := r.getExecutor(nil)
	payload, err := json.Marshal(shoot)
	if err != nil {
		return fmt.Errorf("failed to encode shoot %s: %w", shoot.Code, err)
	}
	// An expired row with the same code is overwritten, a live one is left alone.
	query := `
		INSERT INTO shoots (code, shoot, version, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET shoot = EXCLUDED.shoot,
		    version = EXCLUDED.version,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE shoots.expires_at <= $6`

	result, err := executor.ExecContext(ctx, query,
		shoot.Code, payload, shoot.Version, shoot.ExpiresAt, shoot.LastUpdated, r.now(),
	)
	if err != nil {
		return r.handleShootError(err)
	}
	return checkAffectedRows(result, ErrCodeTaken)
}

func (r *postgresShootRepository) Get(ctx context.Context, code string) (*models.Shoot, error) {
	executor := r.getExecutor(nil)
	query := `SELECT shoot FROM shoots WHERE code = $1 AND expires_at > $2`

	var payload []byte
	err := executor.QueryRowContext(ctx, query, code, r.now()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShootNotFound
		}
		return nil, r.handleShootError(err)
	}
	return decodeShoot(payload)
}

func (r *postgresShootRepository) Save(ctx context.Context, shoot *models.Shoot, expectedVersion int64) error {
	executor := r.getExecutor(nil)
	payload, err := json.Marshal(shoot)
	if err != nil {
		return fmt.Errorf("failed to encode shoot %s: %w", shoot.Code, err)
	}
	query := `
		UPDATE shoots
		SET shoot = $1, version = $2, expires_at = $3, updated_at = $4
		WHERE code = $5 AND version = $6 AND expires_at > $7`

	result, err := executor.ExecContext(ctx, query,
		payload, shoot.Version, shoot.ExpiresAt, shoot.LastUpdated, shoot.Code, expectedVersion, r.now(),
	)
	if err != nil {
		return r.handleShootError(err)
	}
	if err := checkAffectedRows(result, ErrVersionConflict); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		exists, existsErr := r.CodeExists(ctx, shoot.Code)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return ErrShootNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *postgresShootRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	executor := r.getExecutor(nil)
	query := `SELECT EXISTS (SELECT 1 FROM shoots WHERE code = $1 AND expires_at > $2)`

	var exists bool
	if err := executor.QueryRowContext(ctx, query, code, r.now()).Scan(&exists); err != nil {
		return false, r.handleShootError(err)
	}
	return exists, nil
}

func (r *postgresShootRepository) DeleteExpired(ctx context.Context, code string, now time.Time) error {
	executor := r.getExecutor(nil)
	result, err := executor.ExecContext(ctx, `DELETE FROM shoots WHERE code = $1 AND expires_at <= $2`, code, now)
	if err != nil {
		return r.handleShootError(err)
	}
	return checkAffectedRows(result, ErrShootNotFound)
}

func (r *postgresShootRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Shoot, error) {
	executor := r.getExecutor(nil)
	query := `SELECT shoot FROM shoots WHERE expires_at <= $1 ORDER BY expires_at`

	rows, err := executor.QueryContext(ctx, query, now)
	if err != nil {
		return nil, r.handleShootError(err)
	}
	defer rows.Close()

	var shoots []*models.Shoot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan expired shoot: %w", err)
		}
		shoot, err := decodeShoot(payload)
		if err != nil {
			return nil, err
		}
		shoots = append(shoots, shoot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired shoots: %w", err)
	}
	return shoots, nil
}

func (r *postgresShootRepository) handleShootError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrVersionConflict
		case "42P01":
			return fmt.Errorf("shoots table is missing, run schema bootstrap: %w", err)
		}
	}
	return err
}

func decodeShoot(payload []byte) (*models.Shoot, error) {
	var shoot models.Shoot
	if err := json.Unmarshal(payload, &shoot); err != nil {
		return nil, fmt.Errorf("failed to decode stored shoot: %w", err)
	}
	return &shoot, nil
}
