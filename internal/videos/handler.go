package videos

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/internal/jobs"
	"github.com/safetrain/backend/internal/middleware"
	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/validator"
	"github.com/safetrain/backend/pkg/response"
	"github.com/safetrain/backend/pkg/storage"
)

// multipartOverhead is the room left for form fields on top of the file size limit.
const multipartOverhead = 1 << 20

// Accepter starts the ingestion of an upload.
type Accepter interface {
	Accept(ctx context.Context, u jobs.Upload) (*models.Video, error)
}

// Handler handles video HTTP endpoints.
type Handler struct {
	store          Store
	accepter       Accepter
	publisher      storage.Publisher
	subscriber     events.Subscriber
	signedURLTTL   time.Duration
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler creates a videos handler.
func NewHandler(store Store, accepter Accepter, publisher storage.Publisher, signedURLTTL time.Duration, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:          store,
		accepter:       accepter,
		publisher:      publisher,
		signedURLTTL:   signedURLTTL,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// SetSubscriber enables the status WebSocket.
func (h *Handler) SetSubscriber(s events.Subscriber) { h.subscriber = s }

// UploadResponse is the body of a 202 upload answer.
type UploadResponse struct {
	VideoID  string             `json:"videoId"`
	UniqueID string             `json:"uniqueId"`
	Status   models.VideoStatus `json:"status"`
}

// Upload handles POST /videos/upload. It answers 202 once the record exists; the
// caller polls GET /videos/:id for the outcome.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(c, "file exceeds the upload size limit")
			return
		}
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	title := strings.TrimSpace(c.PostForm("title"))
	category := strings.TrimSpace(c.PostForm("category"))
	zone := strings.TrimSpace(c.PostForm("zone"))
	if title == "" || category == "" || zone == "" {
		response.BadRequest(c, "title, category and zone are required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.Internal(c, "failed to read file")
		return
	}
	defer f.Close()

	v, err := h.accepter.Accept(c.Request.Context(), jobs.Upload{
		Title:       title,
		Description: strings.TrimSpace(c.PostForm("description")),
		Category:    category,
		Zone:        zone,
		OwnerID:     ownerID(c),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		var ve *validator.ValidationError
		switch {
		case errors.As(err, &ve):
			response.BadRequest(c, ve.Error())
		case errors.Is(err, jobs.ErrBusy):
			response.ServiceUnavailable(c, "video processing is at capacity, try again later")
		default:
			h.logger.Error("accept upload failed", zap.Error(err))
			response.Internal(c, "failed to accept upload")
		}
		return
	}
	response.Accepted(c, UploadResponse{VideoID: v.ID, UniqueID: v.UniqueID, Status: v.Status})
}

// Get handles GET /videos/:id.
func (h *Handler) Get(c *gin.Context) {
	v, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrInternal(c, err, "failed to get video")
		return
	}
	response.OK(c, v)
}

// List handles GET /videos, newest first.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list videos failed", zap.Error(err))
		response.Internal(c, "failed to list videos")
		return
	}
	response.OK(c, list)
}

// RecordView handles POST /videos/:id/views: one call adds exactly one view.
func (h *Handler) RecordView(c *gin.Context) {
	v, err := h.store.IncrementViews(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrInternal(c, err, "failed to record view")
		return
	}
	response.OK(c, v)
}

// StreamURL handles GET /videos/:id/stream-url?quality=high|medium|low|thumbnail.
func (h *Handler) StreamURL(c *gin.Context) {
	quality := c.DefaultQuery("quality", string(models.QualityHigh))
	v, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrInternal(c, err, "failed to get video")
		return
	}

	var key string
	if quality == "thumbnail" {
		key = v.ThumbnailKey
	} else {
		q := models.Quality(quality)
		if !validQuality(q) {
			response.BadRequest(c, "quality must be high, medium, low or thumbnail")
			return
		}
		key = v.RenditionKeys.Get(q)
	}
	if v.Status != models.VideoStatusReady || key == "" {
		response.Conflict(c, "video is not ready")
		return
	}

	url, err := h.publisher.SignedGet(c.Request.Context(), key, h.signedURLTTL)
	if err != nil {
		h.logger.Error("sign url failed", zap.Error(err), zap.String("video_id", v.ID))
		response.ServiceUnavailable(c, "storage unavailable")
		return
	}
	response.OK(c, gin.H{"url": url, "expiresIn": int(h.signedURLTTL.Seconds())})
}

func (h *Handler) notFoundOrInternal(c *gin.Context, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "video not found")
		return
	}
	h.logger.Error(msg, zap.Error(err), zap.String("video_id", c.Param("id")))
	response.Internal(c, msg)
}

func validQuality(q models.Quality) bool {
	for _, known := range models.Qualities {
		if q == known {
			return true
		}
	}
	return false
}

func ownerID(c *gin.Context) string {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case uuid.UUID:
		return id.String()
	case string:
		return id
	}
	return ""
}

// KeyReferenced reports whether key is one of the keys of a ready video in s.
// It backs the orphan sweeper so a late successful write is never swept.
func KeyReferenced(s Store) jobs.ReferenceCheck {
	return func(ctx context.Context, key string) (bool, error) {
		id, ok := jobs.VideoIDFromKey(key)
		if !ok {
			return false, nil
		}
		v, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if v.Status != models.VideoStatusReady {
			return false, nil
		}
		for _, k := range []string{v.ThumbnailKey, v.RenditionKeys.High, v.RenditionKeys.Medium, v.RenditionKeys.Low} {
			if k == key {
				return true, nil
			}
		}
		return false, nil
	}
}
