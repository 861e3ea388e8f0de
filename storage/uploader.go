package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/utils"
)

type UploadResult struct {
	Key  string
	ETag string
}

type ObjectUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)
}

// ShootArchiver writes the final JSON snapshot of a shoot to object storage.
type ShootArchiver struct {
	uploader ObjectUploader
	logger   *slog.Logger
}

func NewShootArchiver(uploader ObjectUploader, logger *slog.Logger) *ShootArchiver {
	return &ShootArchiver{uploader: uploader, logger: logger}
}

func (a *ShootArchiver) Archive(ctx context.Context, shoot *models.Shoot) error {
	body, err := json.Marshal(shoot)
	if err != nil {
		return fmt.Errorf("failed to encode shoot %s: %w", shoot.Code, err)
	}
	key := utils.ArchiveKey(shoot)
	result, err := a.uploader.Upload(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	a.logger.Info("shoot archived",
		slog.String("code", shoot.Code),
		slog.String("key", result.Key),
		slog.Int("participants", len(shoot.Participants)),
	)
	return nil
}

// NoopArchiver is used when no bucket is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, *models.Shoot) error { return nil }
