// Package duplicate decides whether a new upload repeats a photo recently posted
// to the same site.
package duplicate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sitephoto/database"
	"sitephoto/imageprocessor"
	"sitephoto/types"
)

// DefaultWindow is how far back uploads are compared
const DefaultWindow = 24 * time.Hour

// Source lists the images a site received since a point in time, newest first
type Source interface {
	RecentImages(ctx context.Context, siteID string, since time.Time) ([]types.PostImage, error)
}

// SQLSource reads recent images from the sqlite database
type SQLSource struct {
	DB *sql.DB
}

// RecentImages implements Source
func (s SQLSource) RecentImages(ctx context.Context, siteID string, since time.Time) ([]types.PostImage, error) {
	return database.QueryRecentImages(ctx, s.DB, siteID, since)
}

// Checker compares fingerprints against a site's recent uploads
type Checker struct {
	source Source
	window time.Duration
	now    func() time.Time
}

// Option configures a Checker
type Option func(*Checker)

// WithWindow changes how far back uploads are compared
func WithWindow(window time.Duration) Option {
	return func(c *Checker) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// NewChecker creates a checker over source
func NewChecker(source Source, opts ...Option) *Checker {
	c := &Checker{
		source: source,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window returns the comparison window
func (c *Checker) Window() time.Duration {
	return c.window
}

// Check returns the stored image that the upload duplicates, or nil. An identical
// content digest is an exact match; otherwise the nearest fingerprint within
// DuplicateThreshold wins.
func (c *Checker) Check(ctx context.Context, siteID, hash, digest string) (*types.DuplicateMatch, error) {
	if siteID == "" {
		return nil, nil
	}

	candidates, err := c.source.RecentImages(ctx, siteID, c.now().Add(-c.window))
	if err != nil {
		return nil, fmt.Errorf("cannot load recent images for site %s: %w", siteID, err)
	}

	if digest != "" {
		for _, candidate := range candidates {
			if candidate.ContentDigest == digest {
				match := newMatch(candidate, 0)
				match.Exact = true
				return match, nil
			}
		}
	}

	return FindDuplicate(hash, candidates), nil
}

// FindDuplicate returns the closest candidate within DuplicateThreshold of hash.
// Candidates without a valid fingerprint are skipped. On a tie the earlier
// candidate wins, so newest-first input prefers the most recent upload.
func FindDuplicate(hash string, candidates []types.PostImage) *types.DuplicateMatch {
	if !imageprocessor.IsValidHash(hash) {
		return nil
	}

	best := -1
	bestDistance := imageprocessor.DuplicateThreshold + 1
	for i, candidate := range candidates {
		if !imageprocessor.IsValidHash(candidate.ImageHash) {
			continue
		}

		distance := imageprocessor.HammingDistance(hash, candidate.ImageHash)
		if distance < bestDistance {
			best = i
			bestDistance = distance
		}
	}

	if best < 0 {
		return nil
	}

	return newMatch(candidates[best], bestDistance)
}

func newMatch(img types.PostImage, distance int) *types.DuplicateMatch {
	return &types.DuplicateMatch{
		ImageID:   img.ID,
		PostID:    img.PostID,
		FileKey:   img.FileKey,
		ImageHash: img.ImageHash,
		Distance:  distance,
		CreatedAt: img.CreatedAt,
	}
}
