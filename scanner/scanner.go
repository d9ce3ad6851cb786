package scanner

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"sitephoto/database"
	"sitephoto/imageprocessor"
	"sitephoto/logging"
	"sitephoto/types"
	"sitephoto/utils"
)

// ScanAndStoreFolder fingerprints every image under options.FolderPath and
// stores the records in db. Files that fail are counted, not fatal. The scan
// stops early when ctx is cancelled.
func ScanAndStoreFolder(ctx context.Context, db *sql.DB, options ScanOptions) (*Summary, error) {
	startTime := time.Now()

	info, err := os.Stat(options.FolderPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access folder %s: %w", options.FolderPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", options.FolderPath)
	}

	if options.Output == nil {
		options.Output = os.Stdout
	}
	workers := options.MaxWorkers
	if workers <= 0 {
		workers = utils.GetOptimalProcs()
	}

	index, err := loadIndex(ctx, db, options.SiteID)
	if err != nil {
		return nil, err
	}

	stats := countFilesToProcess(options.FolderPath)
	PrintStartupInfo(options.Output, stats, options)

	resultsChan := make(chan ProcessImageResult, workers)
	tracker := NewProgressTracker(stats, resultsChan, options.Output)

	var hasherOpts []imageprocessor.HasherOption
	if options.Metrics != nil {
		hasherOpts = options.Metrics.HasherOptions()
	}

	s := &scan{
		db:      db,
		options: options,
		hasher:  imageprocessor.NewHasher(hasherOpts...),
		index:   index,
	}
	walkErr := s.walkAndProcessFiles(ctx, workers, resultsChan)

	close(resultsChan)
	tracker.Stop()

	summary := tracker.Summary(time.Since(startTime))
	PrintCompletionStats(options.Output, summary, options)

	if walkErr != nil {
		return summary, walkErr
	}
	return summary, nil
}

type scan struct {
	db      *sql.DB
	options ScanOptions
	hasher  *imageprocessor.Hasher
	index   *hashIndex
}

// walkAndProcessFiles feeds every image file to a bounded pool of workers
func (s *scan) walkAndProcessFiles(ctx context.Context, workers int, resultsChan chan<- ProcessImageResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	walkErr := filepath.WalkDir(s.options.FolderPath, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := gctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logging.LogWarning("Cannot access %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !imageprocessor.IsImageFile(path) {
			return nil
		}

		g.Go(func() error {
			resultsChan <- s.processAndStoreImage(gctx, path)
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return fmt.Errorf("scan interrupted: %w", walkErr)
	}
	return nil
}

// processAndStoreImage fingerprints one file and stores its record
func (s *scan) processAndStoreImage(ctx context.Context, path string) (result ProcessImageResult) {
	key := fileKey(s.options.FolderPath, path, s.options.SiteID)
	result = ProcessImageResult{Path: path, Key: key}

	defer func() {
		if r := recover(); r != nil {
			logging.LogError("Panic while processing %s: %v", path, r)
			result = ProcessImageResult{Path: path, Key: key, Error: fmt.Errorf("panic while processing %s: %v", path, r)}
		}
	}()

	fileInfo, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot stat file %s: %w", path, err)
		return result
	}

	exists := false
	if !s.options.ForceRewrite {
		skip, found, err := s.checkAndSkipIfUnchanged(ctx, key, fileInfo)
		if err != nil {
			result.Error = err
			return result
		}
		if skip {
			result.Success = true
			result.Skipped = true
			return result
		}
		exists = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot read file %s: %w", path, err)
		return result
	}
	if len(data) == 0 {
		result.Error = fmt.Errorf("file is empty: %s", path)
		return result
	}

	hash := s.hasher.Compute(data)
	digest := sha256.Sum256(data)

	img := types.PostImage{
		SiteID:           s.options.SiteID,
		FileKey:          key,
		OriginalName:     filepath.Base(path),
		ContentType:      imageprocessor.ContentTypeFor(hash.Format),
		Size:             int64(len(data)),
		ImageHash:        hash.Hash,
		ContentDigest:    hex.EncodeToString(digest[:]),
		HashMethod:       string(hash.Method),
		SourceModifiedAt: fileInfo.ModTime().UTC().Format(time.RFC3339Nano),
	}

	// A changed file replaces its stale record
	if err := database.StoreImage(ctx, s.db, &img, s.options.ForceRewrite || exists); err != nil {
		result.Error = err
		return result
	}

	if s.options.DebugMode {
		logging.DebugLog("Indexed %s as %s (%s)", path, hash.Hash, hash.Method)
	}

	result.Success = true
	result.Method = hash.Method
	result.Duplicate = s.index.add(img)
	if result.Duplicate != nil && s.options.Metrics != nil {
		s.options.Metrics.ObserveDuplicate(result.Duplicate.Exact)
	}
	return result
}
