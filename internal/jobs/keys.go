package jobs

import (
	"strings"

	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/staging"
)

const (
	videoPrefix  = "videos/"
	thumbnailKey = "thumbnail"
)

// Keys is the storage layout of one job's artifacts.
type Keys struct {
	Thumbnail  string
	Renditions models.RenditionKeys
}

// KeysFor returns videos/<jobID>/{high,medium,low,thumbnail}.
func KeysFor(jobID string) Keys {
	base := videoPrefix + jobID + "/"
	return Keys{
		Thumbnail: base + thumbnailKey,
		Renditions: models.RenditionKeys{
			High:   base + string(models.QualityHigh),
			Medium: base + string(models.QualityMedium),
			Low:    base + string(models.QualityLow),
		},
	}
}

// All lists the four keys, renditions first.
func (k Keys) All() []string {
	return []string{k.Renditions.High, k.Renditions.Medium, k.Renditions.Low, k.Thumbnail}
}

// StagingKey is the name a staged upload is logged under.
func StagingKey(stagedName string) string {
	return staging.Folder + "/" + stagedName
}

// VideoIDFromKey extracts the job id from a key produced by KeysFor.
func VideoIDFromKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, videoPrefix)
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
