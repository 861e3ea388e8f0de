package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

type memoryUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (u *memoryUploader) Upload(ctx context.Context, key, contentType string, reader io.Reader) (*UploadResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	u.objects[key] = data
	u.types[key] = contentType
	return &UploadResult{Key: key}, nil
}

func TestShootArchiverUploadsSnapshot(t *testing.T) {
	uploader := &memoryUploader{objects: map[string][]byte{}, types: map[string]string{}}
	archiver := NewShootArchiver(uploader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	shoot := &models.Shoot{
		Code:         "4821",
		CreatorName:  "Alice",
		CreatedAt:    time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Participants: []*models.Participant{{ArcherName: "Bob", TotalScore: 120, CurrentPosition: 1}},
		Version:      7,
	}

	if err := archiver.Archive(context.Background(), shoot); err != nil {
		t.Fatalf("archive: %v", err)
	}

	key := "shoots/2026-10-17/4821-alice.json"
	data, ok := uploader.objects[key]
	if !ok {
		t.Fatalf("expected object %s, got %v", key, uploader.objects)
	}
	if uploader.types[key] != "application/json" {
		t.Fatalf("unexpected content type %q", uploader.types[key])
	}
	var got models.Shoot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != 7 || got.FindParticipant("Bob") == nil {
		t.Fatalf("unexpected archived shoot %+v", got)
	}
}

func TestShootArchiverPropagatesUploadErrors(t *testing.T) {
	boom := errors.New("bucket unavailable")
	archiver := NewShootArchiver(&memoryUploader{err: boom}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := archiver.Archive(context.Background(), &models.Shoot{Code: "4821"}); !errors.Is(err, boom) {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestNewR2UploaderRequiresCredentials(t *testing.T) {
	if _, err := NewR2Uploader(context.Background(), R2Config{BucketName: "shoots"}); err == nil {
		t.Fatal("expected configuration error")
	}
	if _, err := NewR2Uploader(context.Background(), R2Config{AccessKeyID: "k", SecretAccessKey: "s", BucketName: "shoots"}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}
