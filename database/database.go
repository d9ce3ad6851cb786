package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sitephoto/logging"
	"sitephoto/types"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no image matches a lookup
var ErrNotFound = errors.New("image not found")

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// columns added after the first schema; created on open when missing
var migratedColumns = []struct {
	name       string
	definition string
}{
	{"content_digest", "TEXT"},
	{"hash_method", "TEXT"},
	{"source_modified_at", "TEXT"},
}

const imageColumns = `id, post_id, site_id, user_id, file_key, original_name, content_type,
	size, image_hash, content_digest, hash_method, source_modified_at, created_at`

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS post_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT,
		site_id TEXT,
		user_id TEXT,
		file_key TEXT NOT NULL UNIQUE,
		original_name TEXT,
		content_type TEXT,
		size INTEGER,
		image_hash TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_post_images_site_created ON post_images(site_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_post_images_hash ON post_images(image_hash);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	for _, column := range migratedColumns {
		var hasColumn bool
		err = db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('post_images') WHERE name = ?", column.name).Scan(&hasColumn)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("error checking for %s column: %w", column.name, err)
		}

		if !hasColumn {
			if _, err = db.Exec(fmt.Sprintf("ALTER TABLE post_images ADD COLUMN %s %s;", column.name, column.definition)); err != nil {
				db.Close()
				return nil, fmt.Errorf("error adding %s column: %w", column.name, err)
			}
			logging.DebugLog("Added '%s' column to existing database schema", column.name)
		}
	}

	if _, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_post_images_digest ON post_images(content_digest);"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create digest index: %w", err)
	}

	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database %s: %w", dbPath, err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under the worker pool
	db.SetMaxOpenConns(1)
	return db, nil
}

// StoreImage stores an image record. Without forceRewrite an existing record
// with the same file key is left untouched. The generated ID is written back
// into img when a row was inserted.
func StoreImage(ctx context.Context, db *sql.DB, img *types.PostImage, forceRewrite bool) error {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}

	verb := "INSERT OR IGNORE"
	if forceRewrite {
		verb = "INSERT OR REPLACE"
	}

	result, err := db.ExecContext(ctx, verb+` INTO post_images (
			post_id, site_id, user_id, file_key, original_name, content_type,
			size, image_hash, content_digest, hash_method, source_modified_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(img.PostID),
		nullable(img.SiteID),
		nullable(img.UserID),
		img.FileKey,
		nullable(img.OriginalName),
		img.ContentType,
		img.Size,
		nullable(img.ImageHash),
		nullable(img.ContentDigest),
		nullable(img.HashMethod),
		nullable(img.SourceModifiedAt),
		img.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("cannot insert data for %s: %w", img.FileKey, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cannot read result for %s: %w", img.FileKey, err)
	}
	if affected > 0 {
		if id, err := result.LastInsertId(); err == nil {
			img.ID = id
		}
	}

	return nil
}

// GetImageByKey loads the record stored under a file key
func GetImageByKey(ctx context.Context, db *sql.DB, key string) (*types.PostImage, error) {
	row := db.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM post_images WHERE file_key = ?", key)

	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot load image %s: %w", key, err)
	}

	return img, nil
}

// QueryRecentImages returns images of a site created at or after since, newest first
func QueryRecentImages(ctx context.Context, db *sql.DB, siteID string, since time.Time) ([]types.PostImage, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+imageColumns+` FROM post_images
		WHERE site_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC`,
		siteID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("cannot query recent images for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var images []types.PostImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot read image row: %w", err)
		}
		images = append(images, *img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot iterate recent images: %w", err)
	}

	return images, nil
}

// CheckImageExists checks if an image already exists in the database and
// returns the stored source modification time
func CheckImageExists(ctx context.Context, db *sql.DB, key string) (bool, string, error) {
	var storedModTime sql.NullString
	err := db.QueryRowContext(ctx, "SELECT source_modified_at FROM post_images WHERE file_key = ?", key).Scan(&storedModTime)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("database error for %s: %w", key, err)
	}

	return true, storedModTime.String, nil
}

// GetScanStats retrieves statistics about stored images, optionally for one site
func GetScanStats(ctx context.Context, db *sql.DB, siteID string) (*types.ScanStats, error) {
	query := `SELECT COUNT(*), COUNT(image_hash), COUNT(DISTINCT image_hash) FROM post_images`
	var args []interface{}
	if siteID != "" {
		query += " WHERE site_id = ?"
		args = append(args, siteID)
	}

	var stats types.ScanStats
	err := db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalImages, &stats.HashedImages, &stats.UniqueHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan stats: %w", err)
	}

	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*types.PostImage, error) {
	var (
		img                                  types.PostImage
		postID, siteID, userID, originalName sql.NullString
		imageHash, digest, method, sourceMod sql.NullString
		createdAt                            string
	)

	err := row.Scan(&img.ID, &postID, &siteID, &userID, &img.FileKey, &originalName,
		&img.ContentType, &img.Size, &imageHash, &digest, &method, &sourceMod, &createdAt)
	if err != nil {
		return nil, err
	}

	img.PostID = postID.String
	img.SiteID = siteID.String
	img.UserID = userID.String
	img.OriginalName = originalName.String
	img.ImageHash = imageHash.String
	img.ContentDigest = digest.String
	img.HashMethod = method.String
	img.SourceModifiedAt = sourceMod.String

	img.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}

	return &img, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
