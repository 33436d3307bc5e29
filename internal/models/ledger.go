package models

import "time"

// LedgerEntry records one successful publication for analytics.
type LedgerEntry struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	FileName   string    `json:"fileName"`
	SizeBytes  int64     `json:"sizeBytes"`
	MimeType   string    `json:"mimeType"`
	StorageKey string    `json:"storageKey"`
	CreatedAt  time.Time `json:"createdAt"`
}
