package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"sitephoto/database"
	"sitephoto/duplicate"
	"sitephoto/logging"
	"sitephoto/types"
)

// checkAndSkipIfUnchanged reports whether key is already stored with a
// modification time no older than the file's, and whether a record exists
func (s *scan) checkAndSkipIfUnchanged(ctx context.Context, key string, fileInfo os.FileInfo) (skip, exists bool, err error) {
	exists, storedModTime, err := database.CheckImageExists(ctx, s.db, key)
	if err != nil {
		return false, false, err
	}
	if !exists || storedModTime == "" {
		return false, exists, nil
	}

	storedTime, err := time.Parse(time.RFC3339Nano, storedModTime)
	if err != nil {
		return false, true, fmt.Errorf("cannot parse stored time for %s: %w", key, err)
	}

	if !fileInfo.ModTime().After(storedTime) {
		if s.options.DebugMode {
			logging.DebugLog("Skipping unchanged image: %s", key)
		}
		return true, true, nil
	}

	return false, true, nil
}

// hashIndex holds the fingerprints seen so far for one site, newest first
type hashIndex struct {
	mu     sync.Mutex
	images []types.PostImage
}

func loadIndex(ctx context.Context, db *sql.DB, siteID string) (*hashIndex, error) {
	images, err := database.QueryRecentImages(ctx, db, siteID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("cannot load stored fingerprints: %w", err)
	}
	return &hashIndex{images: images}, nil
}

// add records img and returns the closest other image it duplicates, if any.
// A previous record under the same key is replaced rather than matched.
func (x *hashIndex) add(img types.PostImage) *types.DuplicateMatch {
	x.mu.Lock()
	defer x.mu.Unlock()

	candidates := make([]types.PostImage, 0, len(x.images)+1)
	candidates = append(candidates, img)
	for _, existing := range x.images {
		if existing.FileKey != img.FileKey {
			candidates = append(candidates, existing)
		}
	}
	x.images = candidates

	others := candidates[1:]
	for _, existing := range others {
		if img.ContentDigest != "" && existing.ContentDigest == img.ContentDigest {
			return &types.DuplicateMatch{
				ImageID:   existing.ID,
				PostID:    existing.PostID,
				FileKey:   existing.FileKey,
				ImageHash: existing.ImageHash,
				Exact:     true,
				CreatedAt: existing.CreatedAt,
			}
		}
	}
	return duplicate.FindDuplicate(img.ImageHash, others)
}
