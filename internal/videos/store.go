package videos

import (
	"context"
	"errors"

	"github.com/safetrain/backend/internal/models"
)

var (
	// ErrNotFound is returned when no video has the requested id.
	ErrNotFound = errors.New("video not found")
	// ErrNotProcessing is returned when a terminal transition targets a video that already left processing.
	ErrNotProcessing = errors.New("video is not processing")
	// ErrIncompleteKeys is returned when a ready update lacks one of the four keys.
	ErrIncompleteKeys = errors.New("ready update requires four distinct keys")
)

// Store persists video records. Every method is a single atomic write or read.
type Store interface {
	Create(ctx context.Context, v *models.Video) error
	Get(ctx context.Context, id string) (*models.Video, error)
	List(ctx context.Context) ([]models.Video, error)
	// MarkReady moves a processing video to ready and sets duration and all four keys together.
	MarkReady(ctx context.Context, id string, u models.ReadyUpdate) error
	// MarkFailed moves a processing video to error with a message.
	MarkFailed(ctx context.Context, id, message string) error
	IncrementViews(ctx context.Context, id string) (*models.Video, error)
}
