// Package storage manages the two artifact tiers: a local filesystem tier
// under the data directory and an optional remote object-store tier.
// Artifacts are addressed by locators that survive daemon restarts.
package storage

import (
	"fmt"
	"path"
	"strings"

	"facet/internal/services"
)

// Tier names an artifact tier.
type Tier string

const (
	TierLocal  Tier = "local"
	TierRemote Tier = "remote"
)

// Kind classifies artifacts for the mirror policy.
type Kind string

const (
	KindImage Kind = "image"
	KindModel Kind = "model"
	KindLog   Kind = "log"
)

// Locator is a durable reference to a stored artifact. The string form is
// "tier:key" and is what the registry persists.
type Locator struct {
	Tier Tier
	Key  string
}

func (l Locator) String() string {
	return string(l.Tier) + ":" + l.Key
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Tier == "" && l.Key == ""
}

// ParseLocator parses the "tier:key" string form.
func ParseLocator(s string) (Locator, error) {
	tier, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return Locator{}, services.Wrap(services.ErrValidation, "storage", "parse locator", fmt.Sprintf("malformed locator %q", s), nil)
	}
	switch Tier(tier) {
	case TierLocal, TierRemote:
	default:
		return Locator{}, services.Wrap(services.ErrValidation, "storage", "parse locator", fmt.Sprintf("unknown tier %q", tier), nil)
	}
	return Locator{Tier: Tier(tier), Key: key}, nil
}

// ImageKey returns the key for the input image at the given position.
// Positions are zero-padded so lexical order matches submission order.
func ImageKey(jobID string, position int, ext string) string {
	return path.Join("jobs", jobID, "images", fmt.Sprintf("%03d%s", position, strings.ToLower(ext)))
}

// ModelKey returns the key for a job's reconstructed model.
func ModelKey(jobID string) string {
	return path.Join("jobs", jobID, "model", "model.obj")
}

// ModelFileKey returns the key for a named file in the job's model
// directory (textures, materials, the info sidecar).
func ModelFileKey(jobID, name string) string {
	return path.Join("jobs", jobID, "model", name)
}

// LogKey returns the key for a job's pipeline log.
func LogKey(jobID string) string {
	return path.Join("jobs", jobID, "logs", "pipeline.log")
}

// jobPrefix is the key prefix holding everything a job stored.
func jobPrefix(jobID string) string {
	return path.Join("jobs", jobID)
}
