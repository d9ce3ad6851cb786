package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitephoto/config"
	"sitephoto/database"
	"sitephoto/logging"
	"sitephoto/utils"
)

func main() {
	// Set the optimal number of CPUs to use
	runtime.GOMAXPROCS(utils.GetOptimalProcs())

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the configuration shared by the subcommands
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "sitephoto",
		Short: "Perceptual duplicate detection for site photos",
		Long: `sitephoto fingerprints construction site photos with a 64-bit perceptual
hash and flags uploads that repeat a recent photo of the same site.

It can index a folder of photos, compare fingerprints, and serve the upload API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseLogger()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("env-file", ".env", "Environment file to load before reading configuration")
	flags.String("db", "", "Path to the sqlite database (default next to the executable)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Also write logs to this file")
	flags.Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(
		newHashCmd(),
		newCompareCmd(),
		newScanCmd(a),
		newServeCmd(a),
		newStatsCmd(a),
	)

	return cmd
}

// load reads .env, environment and flags into a.cfg and installs the logger
func (a *app) load(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	a.v = config.New()
	for key, flag := range map[string]string{
		"DB_PATH":      "db",
		"LOG_LEVEL":    "log-level",
		"LOG_FILE":     "log-file",
		"SCAN_WORKERS": "workers",
		"SERVER_HOST":  "host",
		"SERVER_PORT":  "port",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := a.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("cannot bind --%s: %w", flag, err)
			}
		}
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		a.v.Set("LOG_LEVEL", "debug")
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	return logging.SetupLogger(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
	})
}

func (a *app) debug() bool {
	return a.cfg.Log.Level == "debug"
}

// openDatabase initializes the database, retrying while another process holds the lock
func openDatabase(ctx context.Context, dbPath string) (*sql.DB, error) {
	const maxRetries = 3

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		db, err := database.InitDatabase(dbPath)
		if err == nil {
			return db, nil
		}
		lastErr = err

		if i < maxRetries-1 {
			logging.LogWarning("Error initializing database (attempt %d/%d): %v - retrying...", i+1, maxRetries, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second * time.Duration(i+1)):
			}
		}
	}

	return nil, fmt.Errorf("error initializing database after %d attempts: %w", maxRetries, lastErr)
}
