package server

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sitephoto/database"
	"sitephoto/imageprocessor"
	"sitephoto/upload"
)

// UserHeader carries the authenticated user id set by the gateway
const UserHeader = "X-User-ID"

// Handler serves the image endpoints over an upload service and the image database
type Handler struct {
	service *upload.Service
	db      *sql.DB
	maxSize int64
	log     *zap.Logger
}

// NewHandler creates a Handler. maxSize bounds accepted uploads in bytes.
func NewHandler(service *upload.Service, db *sql.DB, maxSize int64, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		maxSize: maxSize,
		log:     log,
	}
}

// UploadImage stores a multipart photo, answering 409 with the match for duplicates
func (h *Handler) UploadImage(c *gin.Context) {
	// Oversized files within this bound get a precise error from the size check below
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.maxSize+1<<20)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			failure(c, http.StatusBadRequest, CodeFileTooLarge, "File too large")
			return
		}
		failure(c, http.StatusBadRequest, CodeNoFile, "No file provided")
		return
	}

	if file.Size > h.maxSize {
		failure(c, http.StatusBadRequest, CodeFileTooLarge, "File too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		h.log.Error("Failed to open file", zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to process file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxSize+1))
	if err != nil {
		h.log.Error("Failed to read file", zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to read file")
		return
	}

	uploaded, err := h.service.Upload(c.Request.Context(), upload.Request{
		SiteID:      c.PostForm("siteId"),
		PostID:      c.PostForm("postId"),
		UserID:      c.GetHeader(UserHeader),
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})

	var dup *upload.DuplicateError
	switch {
	case err == nil:
		success(c, http.StatusOK, uploaded)
	case errors.Is(err, upload.ErrNoFile):
		failure(c, http.StatusBadRequest, CodeNoFile, "No file provided")
	case errors.Is(err, upload.ErrTooLarge):
		failure(c, http.StatusBadRequest, CodeFileTooLarge, "File too large")
	case errors.Is(err, upload.ErrInvalidType):
		failure(c, http.StatusBadRequest, CodeInvalidFileType, "Invalid file type. Only JPEG, PNG, GIF, WebP and HEIC images are allowed")
	case errors.As(err, &dup):
		failureWithData(c, http.StatusConflict, CodeDuplicateImage, dup.Error(), dup.Match)
	default:
		h.log.Error("Failed to upload image", zap.String("file", file.Filename), zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to upload image")
	}
}

type fileInfoResponse struct {
	Filename    string            `json:"filename"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Uploaded    string            `json:"uploaded"`
}

// GetImageInfo returns the stored metadata of one photo
func (h *Handler) GetImageInfo(c *gin.Context) {
	filename := c.Param("filename")

	info, err := h.service.Info(c.Request.Context(), filename)
	if errors.Is(err, upload.ErrNotFound) {
		failure(c, http.StatusNotFound, CodeNotFound, "File not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to get image info", zap.String("file", filename), zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to get file info")
		return
	}

	success(c, http.StatusOK, fileInfoResponse{
		Filename:    filename,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    info.Metadata,
		Uploaded:    info.LastModified.Format(time.RFC3339),
	})
}

// DownloadImage streams a stored photo as an attachment
func (h *Handler) DownloadImage(c *gin.Context) {
	filename := c.Param("filename")

	info, body, err := h.service.Download(c.Request.Context(), filename)
	if errors.Is(err, upload.ErrNotFound) {
		failure(c, http.StatusNotFound, CodeNotFound, "File not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to download image", zap.String("file", filename), zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to download file")
		return
	}
	defer body.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	}
	if user := c.GetHeader(UserHeader); user != "" {
		headers["X-Downloaded-By"] = user
	}

	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, body, headers)
}

type listedImage struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	Uploaded    string `json:"uploaded"`
	ContentType string `json:"contentType"`
}

type listResponse struct {
	Images    []listedImage `json:"images"`
	Truncated bool          `json:"truncated"`
	Cursor    string        `json:"cursor,omitempty"`
}

// ListImages pages through stored photos with ?limit= and ?cursor=
func (h *Handler) ListImages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			failure(c, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.service.List(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		h.log.Error("Failed to list images", zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to list images")
		return
	}

	resp := listResponse{
		Images:    make([]listedImage, 0, len(page.Objects)),
		Truncated: page.Truncated,
		Cursor:    page.Cursor,
	}
	for _, obj := range page.Objects {
		resp.Images = append(resp.Images, listedImage{
			Key:         obj.Key,
			Size:        obj.Size,
			Uploaded:    obj.LastModified.Format(time.RFC3339),
			ContentType: obj.ContentType,
		})
	}

	success(c, http.StatusOK, resp)
}

type compareRequest struct {
	HashA string `json:"hashA" binding:"required"`
	HashB string `json:"hashB" binding:"required"`
}

type compareResponse struct {
	Distance   int     `json:"distance"`
	Threshold  int     `json:"threshold"`
	Duplicate  bool    `json:"duplicate"`
	Similarity float64 `json:"similarity"`
	Valid      bool    `json:"valid"`
}

// CompareHashes reports the distance between two fingerprints. Malformed
// fingerprints are not an error: they compare as maximally distant.
func (h *Handler) CompareHashes(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failure(c, http.StatusBadRequest, CodeInvalidRequest, "hashA and hashB are required")
		return
	}

	distance := imageprocessor.HammingDistance(req.HashA, req.HashB)
	success(c, http.StatusOK, compareResponse{
		Distance:   distance,
		Threshold:  imageprocessor.DuplicateThreshold,
		Duplicate:  distance <= imageprocessor.DuplicateThreshold,
		Similarity: imageprocessor.Similarity(distance),
		Valid:      imageprocessor.IsValidHash(req.HashA) && imageprocessor.IsValidHash(req.HashB),
	})
}

// GetStats counts stored images, optionally for ?siteId=
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := database.GetScanStats(c.Request.Context(), h.db, c.Query("siteId"))
	if err != nil {
		h.log.Error("Failed to get stats", zap.Error(err))
		failure(c, http.StatusInternalServerError, CodeInternal, "Failed to get stats")
		return
	}

	success(c, http.StatusOK, stats)
}

// HealthCheck reports 503 when the database is unreachable
func (h *Handler) HealthCheck(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		failure(c, http.StatusServiceUnavailable, CodeUnavailable, "database unavailable")
		return
	}

	success(c, http.StatusOK, gin.H{"status": "OK"})
}
