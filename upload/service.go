// Package upload validates, fingerprints and stores photos attached to site posts.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitephoto/database"
	"sitephoto/duplicate"
	"sitephoto/imageprocessor"
	"sitephoto/metrics"
	"sitephoto/storage"
	"sitephoto/types"
)

// DefaultMaxUploadSize is the largest accepted upload (10 MiB)
const DefaultMaxUploadSize = 10 * 1024 * 1024

// KeyPrefix is prepended to every stored object key
const KeyPrefix = "images/"

// Listing page sizes
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var (
	ErrNoFile      = errors.New("no file provided")
	ErrTooLarge    = errors.New("file too large")
	ErrInvalidType = errors.New("invalid file type")
	ErrNotFound    = errors.New("file not found")
)

// allowedFormats are the photo formats accepted from the field apps
var allowedFormats = map[imageprocessor.FormatType]bool{
	imageprocessor.FormatJPEG: true,
	imageprocessor.FormatPNG:  true,
	imageprocessor.FormatGIF:  true,
	imageprocessor.FormatWEBP: true,
	imageprocessor.FormatHEIC: true,
}

// DuplicateError reports that an upload repeats a recent photo of the same site
type DuplicateError struct {
	Match *types.DuplicateMatch
}

func (e *DuplicateError) Error() string {
	if e.Match.Exact {
		return fmt.Sprintf("identical image already uploaded as %s", e.Match.FileKey)
	}
	return fmt.Sprintf("similar image already uploaded as %s (distance %d)", e.Match.FileKey, e.Match.Distance)
}

// Request is one photo upload
type Request struct {
	SiteID      string
	UserID      string
	PostID      string
	Filename    string
	ContentType string
	Data        []byte
}

// Uploaded is the stored record plus the public file name
type Uploaded struct {
	*types.PostImage
	Filename string `json:"filename"`
}

// Service runs the upload pipeline
type Service struct {
	store    storage.BlobStore
	db       *sql.DB
	checker  *duplicate.Checker
	hash     func([]byte) imageprocessor.Result
	sanitize Sanitizer
	metrics  *metrics.Metrics
	log      *zap.Logger
	maxSize  int64
	newID    func() string
	now      func() time.Time
	sites    siteLocks
}

// Option configures a Service
type Option func(*Service)

// WithMaxUploadSize overrides DefaultMaxUploadSize
func WithMaxUploadSize(size int64) Option {
	return func(s *Service) {
		if size > 0 {
			s.maxSize = size
		}
	}
}

// WithChecker replaces the default 24 hour duplicate checker
func WithChecker(checker *duplicate.Checker) Option {
	return func(s *Service) {
		s.checker = checker
	}
}

// WithHashFunc replaces the fingerprint function
func WithHashFunc(hash func([]byte) imageprocessor.Result) Option {
	return func(s *Service) {
		s.hash = hash
	}
}

// WithSanitizer replaces StripMetadata
func WithSanitizer(sanitize Sanitizer) Option {
	return func(s *Service) {
		s.sanitize = sanitize
	}
}

// WithMetrics records hashes, duplicates and outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces uuid generation for object keys
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// WithClock replaces time.Now for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the pipeline over a blob store and the image database
func NewService(store storage.BlobStore, db *sql.DB, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		store:    store,
		db:       db,
		sanitize: StripMetadata,
		log:      log,
		maxSize:  DefaultMaxUploadSize,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.checker == nil {
		s.checker = duplicate.NewChecker(duplicate.SQLSource{DB: db}, duplicate.WithClock(s.now))
	}
	if s.hash == nil {
		var hasherOpts []imageprocessor.HasherOption
		if s.metrics != nil {
			hasherOpts = s.metrics.HasherOptions()
		}
		s.hash = imageprocessor.NewHasher(hasherOpts...).Compute
	}

	return s
}

// Upload validates, fingerprints, checks for duplicates and stores one photo
func (s *Service) Upload(ctx context.Context, req Request) (*Uploaded, error) {
	uploaded, err := s.upload(ctx, req)
	s.observe(err)
	return uploaded, err
}

func (s *Service) upload(ctx context.Context, req Request) (*Uploaded, error) {
	format, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	data, objectMeta, err := s.sanitize(req.Data, req.Filename)
	if err != nil {
		return nil, fmt.Errorf("privacy processing failed: %w", err)
	}

	result := s.safeHash(data, req.Filename)
	digest := sha256.Sum256(data)

	img := &types.PostImage{
		PostID:        req.PostID,
		SiteID:        req.SiteID,
		UserID:        req.UserID,
		OriginalName:  req.Filename,
		ContentType:   imageprocessor.ContentTypeFor(format),
		Size:          int64(len(data)),
		ImageHash:     result.Hash,
		ContentDigest: hex.EncodeToString(digest[:]),
		HashMethod:    string(result.Method),
		CreatedAt:     s.now(),
	}

	if req.SiteID != "" {
		// Check and insert as one step so concurrent copies cannot both pass
		unlock := s.sites.lock(req.SiteID)
		defer unlock()

		match, err := s.checker.Check(ctx, req.SiteID, img.ImageHash, img.ContentDigest)
		if err != nil {
			// The check is advisory; a lookup failure must not lose the photo
			s.log.Warn("Duplicate check failed", zap.String("site", req.SiteID), zap.Error(err))
		} else if match != nil {
			if s.metrics != nil {
				s.metrics.ObserveDuplicate(match.Exact)
			}
			s.log.Info("Duplicate upload rejected",
				zap.String("site", req.SiteID),
				zap.String("match", match.FileKey),
				zap.Int("distance", match.Distance),
				zap.Bool("exact", match.Exact))
			return nil, &DuplicateError{Match: match}
		}
	}

	filename := s.newID() + imageprocessor.FormatToExtension(format)
	img.FileKey = KeyPrefix + filename

	if objectMeta == nil {
		objectMeta = map[string]string{}
	}
	objectMeta["image-hash"] = img.ImageHash
	objectMeta["hash-method"] = img.HashMethod
	if req.SiteID != "" {
		objectMeta["site-id"] = req.SiteID
	}

	if err := s.store.Put(ctx, img.FileKey, bytes.NewReader(data), img.Size, img.ContentType, objectMeta); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", img.FileKey, err)
	}

	if err := database.StoreImage(ctx, s.db, img, false); err != nil {
		return nil, fmt.Errorf("failed to record %s: %w", img.FileKey, err)
	}

	s.log.Info("Image uploaded",
		zap.String("key", img.FileKey),
		zap.String("site", req.SiteID),
		zap.String("hash", img.ImageHash),
		zap.String("method", img.HashMethod),
		zap.Int64("size", img.Size))

	return &Uploaded{PostImage: img, Filename: filename}, nil
}

// validate checks presence, size and type, returning the sniffed format
func (s *Service) validate(req Request) (imageprocessor.FormatType, error) {
	if len(req.Data) == 0 {
		return imageprocessor.FormatUnknown, ErrNoFile
	}
	if int64(len(req.Data)) > s.maxSize {
		return imageprocessor.FormatUnknown, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(req.Data), s.maxSize)
	}

	declared := strings.TrimSpace(req.ContentType)
	if declared != "" && declared != "application/octet-stream" {
		if !allowedFormats[imageprocessor.FormatFromContentType(declared)] {
			return imageprocessor.FormatUnknown, fmt.Errorf("%w: %s", ErrInvalidType, declared)
		}
	}

	sniffed := imageprocessor.DetectFormat(req.Data)
	if !allowedFormats[sniffed] {
		return imageprocessor.FormatUnknown, fmt.Errorf("%w: content is not a supported image", ErrInvalidType)
	}

	return sniffed, nil
}

// safeHash never fails the upload: a panic leaves the fingerprint empty
func (s *Service) safeHash(data []byte, filename string) (result imageprocessor.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("Image hash computation failed", zap.String("file", filename), zap.Any("panic", r))
			result = imageprocessor.Result{}
		}
	}()

	return s.hash(data)
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}

	var dup *DuplicateError
	switch {
	case err == nil:
		s.metrics.ObserveUpload(metrics.OutcomeStored)
	case errors.As(err, &dup):
		s.metrics.ObserveUpload(metrics.OutcomeDuplicate)
	case errors.Is(err, ErrNoFile), errors.Is(err, ErrTooLarge), errors.Is(err, ErrInvalidType):
		s.metrics.ObserveUpload(metrics.OutcomeRejected)
	default:
		s.metrics.ObserveUpload(metrics.OutcomeFailed)
	}
}

// validFilename accepts public file names only, never paths
func validFilename(filename string) bool {
	return filename != "" && filename == path.Base(filename) && !strings.HasPrefix(filename, ".")
}

// Info returns the stored object's metadata for a public file name
func (s *Service) Info(ctx context.Context, filename string) (*storage.ObjectInfo, error) {
	if !validFilename(filename) {
		return nil, ErrNotFound
	}

	info, err := s.store.Head(ctx, KeyPrefix+filename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", filename, err)
	}

	return info, nil
}

// Download opens a stored photo by public file name. The caller closes the body.
func (s *Service) Download(ctx context.Context, filename string) (*storage.ObjectInfo, io.ReadCloser, error) {
	info, err := s.Info(ctx, filename)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.store.Get(ctx, KeyPrefix+filename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	if info.ContentType == "" {
		info.ContentType = contentTypeOf(filename)
	}
	return info, body, nil
}

// List returns one page of stored photos keyed by public file name. A limit
// outside 1..MaxListLimit falls back to DefaultListLimit or MaxListLimit.
func (s *Service) List(ctx context.Context, limit int, cursor string) (*storage.ListPage, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	page, err := s.store.List(ctx, KeyPrefix, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	for i := range page.Objects {
		obj := &page.Objects[i]
		obj.Key = strings.TrimPrefix(obj.Key, KeyPrefix)
		if obj.ContentType == "" {
			obj.ContentType = contentTypeOf(obj.Key)
		}
	}
	return page, nil
}

func contentTypeOf(filename string) string {
	if ct := imageprocessor.ContentTypeFor(imageprocessor.GetFileFormat(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// siteLocks hands out one mutex per site, dropping it when unused
type siteLocks struct {
	mu    sync.Mutex
	locks map[string]*siteLock
}

type siteLock struct {
	mu   sync.Mutex
	refs int
}

func (l *siteLocks) lock(site string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*siteLock)
	}
	sl, ok := l.locks[site]
	if !ok {
		sl = &siteLock{}
		l.locks[site] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, site)
		}
		l.mu.Unlock()
	}
}
