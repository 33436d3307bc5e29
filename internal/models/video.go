package models

import (
	"fmt"
	"time"
)

// VideoStatus is the lifecycle of an uploaded training video.
type VideoStatus string

const (
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusError      VideoStatus = "error"
)

// ParseVideoStatus maps a stored status string to the closed enum. Matching is exact.
func ParseVideoStatus(s string) (VideoStatus, error) {
	switch VideoStatus(s) {
	case VideoStatusProcessing:
		return VideoStatusProcessing, nil
	case VideoStatusReady:
		return VideoStatusReady, nil
	case VideoStatusError:
		return VideoStatusError, nil
	}
	return "", fmt.Errorf("unknown video status %q", s)
}

// IsTerminal reports whether no further automatic transition may happen.
func (s VideoStatus) IsTerminal() bool {
	switch s {
	case VideoStatusReady, VideoStatusError:
		return true
	case VideoStatusProcessing:
		return false
	}
	return false
}

// Quality names one rendition of a video.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Qualities lists renditions in publishing order.
var Qualities = []Quality{QualityHigh, QualityMedium, QualityLow}

// RenditionKeys are the object-storage keys of the three renditions.
type RenditionKeys struct {
	High   string `json:"high"`
	Medium string `json:"medium"`
	Low    string `json:"low"`
}

// Get returns the key for q, or "" for an unknown quality.
func (k RenditionKeys) Get(q Quality) string {
	switch q {
	case QualityHigh:
		return k.High
	case QualityMedium:
		return k.Medium
	case QualityLow:
		return k.Low
	}
	return ""
}

// Video is a training video and the state of its ingestion.
type Video struct {
	ID                  string        `json:"id"`
	UniqueID            string        `json:"uniqueId"`
	Title               string        `json:"title"`
	Description         string        `json:"description"`
	Category            string        `json:"category"`
	Zone                string        `json:"zone"`
	OwnerID             string        `json:"ownerId,omitempty"`
	FileName            string        `json:"fileName,omitempty"`
	SizeBytes           int64         `json:"sizeBytes"`
	MimeType            string        `json:"mimeType,omitempty"`
	DurationSeconds     int           `json:"durationSeconds"`
	Status              VideoStatus   `json:"status"`
	PrimaryRenditionKey string        `json:"primaryRenditionKey"`
	ThumbnailKey        string        `json:"thumbnailKey"`
	RenditionKeys       RenditionKeys `json:"renditionKeys"`
	ProcessingError     string        `json:"processingError"`
	ViewCount           int64         `json:"viewCount"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// ReadyUpdate is the group of fields written when a video becomes ready.
// It is always applied in a single store call.
type ReadyUpdate struct {
	DurationSeconds int
	ThumbnailKey    string
	RenditionKeys   RenditionKeys
}

// Complete reports whether all four keys are set and mutually distinct.
func (u ReadyUpdate) Complete() bool {
	keys := []string{u.ThumbnailKey, u.RenditionKeys.High, u.RenditionKeys.Medium, u.RenditionKeys.Low}
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			return false
		}
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
	}
	return true
}
