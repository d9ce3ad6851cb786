package scanner

import (
	"fmt"
	"io"
	"sort"
	"time"

	"sitephoto/imageprocessor"
	"sitephoto/logging"
)

// NewProgressTracker initializes the progress tracker
func NewProgressTracker(stats FileStats, resultsChan <-chan ProcessImageResult, out io.Writer) *ProgressTracker {
	tracker := &ProgressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan struct{}),
		totalFiles: stats.totalFiles,
		out:        out,
	}

	tracker.wg.Add(2)
	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Errors: %d, Skipped: %d)", p.processed, p.totalFiles, p.errors, p.skipped)
			} else {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Skipped: %d)", p.processed, p.totalFiles, p.skipped)
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state until resultsChan is closed
func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer p.wg.Done()
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++

		switch {
		case !result.Success:
			p.errors++
			if result.Error != nil {
				logging.LogImageProcessed(result.Path, false, result.Error.Error())
			}
		case result.Skipped:
			p.skipped++
		default:
			p.stored++
			logging.LogImageProcessed(result.Path, true, "")
		}

		if result.Success && !result.Skipped && result.Method == imageprocessor.MethodRaw {
			p.raw++
		}
		if result.Duplicate != nil {
			p.duplicates = append(p.duplicates, NearDuplicate{Path: result.Path, Match: result.Duplicate})
		}

		p.mu.Unlock()
	}
}

// Stop ends the progress tracking. The results channel must be closed first.
func (p *ProgressTracker) Stop() {
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
}

// Summary snapshots the counters
func (p *ProgressTracker) Summary(elapsed time.Duration) *Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	duplicates := append([]NearDuplicate(nil), p.duplicates...)
	sort.Slice(duplicates, func(i, j int) bool { return duplicates[i].Path < duplicates[j].Path })

	return &Summary{
		Total:      p.totalFiles,
		Processed:  p.processed,
		Stored:     p.stored,
		Skipped:    p.skipped,
		Raw:        p.raw,
		Errors:     p.errors,
		Duplicates: duplicates,
		Elapsed:    elapsed,
	}
}

// PrintStartupInfo displays information about the scan before starting
func PrintStartupInfo(out io.Writer, stats FileStats, options ScanOptions) {
	fmt.Fprintf(out, "Starting image indexing...\nTotal image files to process: %d\n", stats.totalFiles)
	fmt.Fprintf(out, "Force rewrite mode: %v\n", options.ForceRewrite)

	if options.SiteID != "" {
		fmt.Fprintf(out, "Site: %s\n", options.SiteID)
	}

	if options.DebugMode {
		fmt.Fprintf(out, "Debug mode: enabled\n")
		logging.DebugLog("Found %d image files to process %v", stats.totalFiles, stats.byFormat)
	}
}

// PrintCompletionStats displays statistics after scan completion
func PrintCompletionStats(out io.Writer, summary *Summary, options ScanOptions) {
	if options.DebugMode {
		logging.DebugLog("Scan completed in %v. Processed: %d, Stored: %d, Skipped: %d, Errors: %d, Near-duplicates: %d",
			summary.Elapsed, summary.Processed, summary.Stored, summary.Skipped, summary.Errors, len(summary.Duplicates))
	}

	fmt.Fprintln(out, "\nIndexing complete.")
	fmt.Fprintf(out, "Processed %d images in %v.\n", summary.Processed, summary.Elapsed.Round(time.Second))
	fmt.Fprintf(out, "Stored %d, skipped %d unchanged.\n", summary.Stored, summary.Skipped)

	if summary.Raw > 0 {
		fmt.Fprintf(out, "%d files could not be decoded and were hashed from raw bytes.\n", summary.Raw)
	}

	if len(summary.Duplicates) > 0 {
		fmt.Fprintf(out, "Found %d near-duplicate images:\n", len(summary.Duplicates))
		for _, d := range summary.Duplicates {
			fmt.Fprintf(out, "  %s ~ %s (distance %d)\n", d.Path, d.Match.FileKey, d.Match.Distance)
		}
	}

	if summary.Errors > 0 {
		fmt.Fprintf(out, "Encountered %d errors during indexing.\n", summary.Errors)
		fmt.Fprintln(out, "Check the log file for details.")
	}
}
