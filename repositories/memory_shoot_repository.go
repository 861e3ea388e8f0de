package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

type memoryShootRepository struct {
	mu     sync.RWMutex
	shoots map[string]*models.Shoot
	now    func() time.Time
}

// NewMemoryShootRepository returns a non-durable repository. now is used for
// expiry checks; nil means time.Now.
func NewMemoryShootRepository(now func() time.Time) ShootRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryShootRepository{
		shoots: make(map[string]*models.Shoot),
		now:    now,
	}
}

func (r *memoryShootRepository) Create(ctx context.Context, shoot *models.Shoot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.shoots[shoot.Code]; ok && !existing.IsExpired(r.now()) {
		return ErrCodeTaken
	}
	r.shoots[shoot.Code] = shoot.Clone()
	return nil
}

func (r *memoryShootRepository) Get(ctx context.Context, code string) (*models.Shoot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	shoot, ok := r.shoots[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrShootNotFound
	}
	if shoot.IsExpired(r.now()) {
		r.evict(code, shoot)
		return nil, ErrShootNotFound
	}
	return shoot.Clone(), nil
}

// evict drops an expired entry unless it was replaced in the meantime.
func (r *memoryShootRepository) evict(code string, seen *models.Shoot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.shoots[code]; ok && current == seen {
		delete(r.shoots, code)
	}
}

func (r *memoryShootRepository) Save(ctx context.Context, shoot *models.Shoot, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.shoots[shoot.Code]
	if !ok || current.IsExpired(r.now()) {
		return ErrShootNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	r.shoots[shoot.Code] = shoot.Clone()
	return nil
}

func (r *memoryShootRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.Get(ctx, code)
	if err == ErrShootNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *memoryShootRepository) DeleteExpired(ctx context.Context, code string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.shoots[code]
	if !ok || !existing.IsExpired(now) {
		return ErrShootNotFound
	}
	delete(r.shoots, code)
	return nil
}

func (r *memoryShootRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Shoot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*models.Shoot
	for _, shoot := range r.shoots {
		if shoot.IsExpired(now) {
			expired = append(expired, shoot.Clone())
		}
	}
	return expired, nil
}
