package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultDatabasePath returns the default path for the database file
func GetDefaultDatabasePath() string {
	// Get the executable path
	exePath, err := os.Executable()
	if err != nil {
		// Fallback to current directory if executable path can't be determined
		return "sitephoto.db"
	}

	// Return the default database path in the same directory as the executable
	return filepath.Join(filepath.Dir(exePath), "sitephoto.db")
}

// GetOptimalProcs returns the optimal number of hashing workers for the system
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	// Leave headroom for the HTTP server and sqlite writer
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
