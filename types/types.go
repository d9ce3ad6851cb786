package types

import "time"

// PostImage is a photo attached to a site post, together with its fingerprint
type PostImage struct {
	ID               int64     `json:"id"`
	PostID           string    `json:"postId,omitempty"`
	SiteID           string    `json:"siteId,omitempty"`
	UserID           string    `json:"userId,omitempty"`
	FileKey          string    `json:"fileKey"`
	OriginalName     string    `json:"originalName,omitempty"`
	ContentType      string    `json:"contentType"`
	Size             int64     `json:"size"`
	ImageHash        string    `json:"imageHash,omitempty"`
	ContentDigest    string    `json:"contentDigest,omitempty"`
	HashMethod       string    `json:"hashMethod,omitempty"`
	SourceModifiedAt string    `json:"sourceModifiedAt,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DuplicateMatch describes a stored image that a new upload collides with
type DuplicateMatch struct {
	ImageID   int64     `json:"imageId"`
	PostID    string    `json:"postId,omitempty"`
	FileKey   string    `json:"fileKey"`
	ImageHash string    `json:"imageHash"`
	Distance  int       `json:"distance"`
	Exact     bool      `json:"exact"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScanStats contains statistics about stored images
type ScanStats struct {
	TotalImages  int `json:"totalImages"`
	HashedImages int `json:"hashedImages"`
	UniqueHashes int `json:"uniqueHashes"`
}
