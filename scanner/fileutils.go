package scanner

import (
	"io/fs"
	"path/filepath"

	"sitephoto/imageprocessor"
)

// fileKey maps a scanned path to its record key. Keys are relative to the
// scanned folder so a moved library keeps its records.
func fileKey(root, path, siteID string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	if siteID != "" {
		return KeyPrefix + siteID + "/" + rel
	}
	return KeyPrefix + rel
}

// countFilesToProcess walks the folder once to size the progress display
func countFilesToProcess(folderPath string) FileStats {
	stats := FileStats{byFormat: make(map[imageprocessor.FormatType]int)}

	_ = filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files that can't be accessed
		}
		if !d.IsDir() && imageprocessor.IsImageFile(path) {
			stats.totalFiles++
			stats.byFormat[imageprocessor.GetFileFormat(path)]++
		}
		return nil
	})

	return stats
}
