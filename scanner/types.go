package scanner

import (
	"io"
	"sync"
	"time"

	"sitephoto/imageprocessor"
	"sitephoto/metrics"
	"sitephoto/types"
)

// KeyPrefix namespaces scanned files in the post_images table
const KeyPrefix = "scan/"

// ScanOptions defines the options for scanning
type ScanOptions struct {
	FolderPath   string
	SiteID       string
	ForceRewrite bool
	DebugMode    bool
	MaxWorkers   int              // Optional worker limit
	Metrics      *metrics.Metrics // Optional hash and duplicate counters
	Output       io.Writer        // Progress output, defaults to stdout
}

// ProcessImageResult holds the result of processing an image
type ProcessImageResult struct {
	Path      string
	Key       string
	Success   bool
	Skipped   bool
	Method    imageprocessor.HashMethod
	Duplicate *types.DuplicateMatch
	Error     error
}

// NearDuplicate pairs a scanned file with the stored image it resembles
type NearDuplicate struct {
	Path  string                `json:"path"`
	Match *types.DuplicateMatch `json:"match"`
}

// Summary is returned when a scan completes
type Summary struct {
	Total      int             `json:"total"`
	Processed  int             `json:"processed"`
	Stored     int             `json:"stored"`
	Skipped    int             `json:"skipped"`
	Raw        int             `json:"raw"`
	Errors     int             `json:"errors"`
	Duplicates []NearDuplicate `json:"duplicates,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// FileStats tracks information about files to be processed
type FileStats struct {
	totalFiles int
	byFormat   map[imageprocessor.FormatType]int
}

// ProgressTracker tracks progress of the scan operation
type ProgressTracker struct {
	processed  int
	stored     int
	skipped    int
	raw        int
	errors     int
	duplicates []NearDuplicate
	ticker     *time.Ticker
	done       chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	totalFiles int
	out        io.Writer
}
