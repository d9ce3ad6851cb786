package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"sitephoto/database"
	"sitephoto/imageprocessor"
	"sitephoto/metrics"
	"sitephoto/scanner"
	"sitephoto/signalhandler"
)

func newHashCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the perceptual fingerprint of image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher := imageprocessor.NewHasher()
			out := cmd.OutOrStdout()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("cannot read %s: %w", path, err)
				}

				result := hasher.Compute(data)
				if verbose {
					fmt.Fprintf(out, "%s  %s  (%s, %s, %v)\n", result.Hash, path, result.Method, result.Format, result.Duration.Round(time.Microsecond))
				} else {
					fmt.Fprintf(out, "%s  %s\n", result.Hash, path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show the hash method, format and timing")
	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare A B",
		Short: "Compare two fingerprints or image files",
		Long: `Compare two fingerprints. Each argument is either a 16 character hex
fingerprint or the path of an image file to fingerprint first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashes := make([]string, len(args))
			for i, arg := range args {
				hash, err := resolveHash(arg)
				if err != nil {
					return err
				}
				hashes[i] = hash
			}

			distance := imageprocessor.HammingDistance(hashes[0], hashes[1])
			duplicate := "no"
			if distance <= imageprocessor.DuplicateThreshold {
				duplicate = "yes"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "A:          %s\n", hashes[0])
			fmt.Fprintf(out, "B:          %s\n", hashes[1])
			fmt.Fprintf(out, "Distance:   %d\n", distance)
			fmt.Fprintf(out, "Similarity: %.2f%%\n", imageprocessor.Similarity(distance)*100)
			fmt.Fprintf(out, "Duplicate:  %s (threshold %d)\n", duplicate, imageprocessor.DuplicateThreshold)
			return nil
		},
	}
}

// resolveHash accepts a fingerprint or an existing file. Anything else is
// passed through and compares as maximally distant.
func resolveHash(arg string) (string, error) {
	if imageprocessor.IsValidHash(arg) {
		return arg, nil
	}

	info, err := os.Stat(arg)
	if err != nil || info.IsDir() {
		return arg, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", arg, err)
	}
	return imageprocessor.ComputeImageHash(data), nil
}

func newScanCmd(a *app) *cobra.Command {
	var (
		folder      string
		siteID      string
		force       bool
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Index a folder of photos into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalhandler.SetupHandler(cmd.Context())
			defer cancel()

			startTime := time.Now()
			out := cmd.OutOrStdout()

			db, err := openDatabase(ctx, a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			m := metrics.New()
			summary, err := scanner.ScanAndStoreFolder(ctx, db, scanner.ScanOptions{
				FolderPath:   folder,
				SiteID:       siteID,
				ForceRewrite: force,
				DebugMode:    a.debug(),
				MaxWorkers:   a.cfg.Scan.Workers,
				Metrics:      m,
				Output:       out,
			})
			if err != nil {
				return fmt.Errorf("error scanning folder: %w", err)
			}

			if metricsFile != "" {
				// node_exporter textfile collector format
				if err := prometheus.WriteToTextfile(metricsFile, m.Registry()); err != nil {
					return fmt.Errorf("error writing metrics: %w", err)
				}
			}

			fmt.Fprintf(out, "\nScan completed successfully!\n")
			fmt.Fprintf(out, "Total execution time: %v\n", time.Since(startTime))
			fmt.Fprintf(out, "Database: %s\n", a.cfg.Database.Path)

			stats, err := database.GetScanStats(ctx, db, siteID)
			if err == nil {
				fmt.Fprintf(out, "\nSummary:\n")
				fmt.Fprintf(out, "- Total images indexed: %d\n", stats.TotalImages)
				fmt.Fprintf(out, "- Errors in this run: %d\n", summary.Errors)
				fmt.Fprintf(out, "- Unique image hashes: %d\n", stats.UniqueHashes)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder to scan")
	cmd.Flags().StringVar(&siteID, "site", "", "Site ID to store the images under")
	cmd.Flags().BoolVar(&force, "force", false, "Reindex files even when unchanged")
	cmd.Flags().Int("workers", 0, "Number of hashing workers (default SCAN_WORKERS)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write scan counters to this file in the Prometheus text format")
	_ = cmd.MarkFlagRequired("folder")

	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var siteID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show how many images are indexed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.cfg.Database.Path); os.IsNotExist(err) {
				return fmt.Errorf("database does not exist: %s. Run scan or serve first", a.cfg.Database.Path)
			}

			db, err := database.OpenDatabase(a.cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("error opening database: %w", err)
			}
			defer db.Close()

			stats, err := database.GetScanStats(cmd.Context(), db, siteID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if siteID != "" {
				fmt.Fprintf(out, "Site: %s\n", siteID)
			}
			fmt.Fprintf(out, "Total images:  %d\n", stats.TotalImages)
			fmt.Fprintf(out, "Hashed images: %d\n", stats.HashedImages)
			fmt.Fprintf(out, "Unique hashes: %d\n", stats.UniqueHashes)
			return nil
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "Only count images of this site")
	return cmd
}
