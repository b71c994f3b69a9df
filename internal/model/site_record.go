package model

import "time"

// SiteRecord caches page-level metadata for one scanned URL. The primary
// key is the URL exactly as the client supplied it; ResolvedURL holds the
// destination after redirect resolution and may differ from the key.
type SiteRecord struct {
	RequestURL  string    `gorm:"primaryKey;size:2048"`
	ResolvedURL string    `gorm:"size:2048"`
	Title       string    `gorm:"size:2000"`
	Description string    `gorm:"size:500"`
	FaviconURL  string    `gorm:"size:2048"`
	JSONLDs     string    `gorm:"column:json_lds"`
	AddedOn     time.Time `gorm:"autoCreateTime"`
	UpdatedOn   time.Time `gorm:"autoUpdateTime"`
}
