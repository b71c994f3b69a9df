package storage

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/google/physical-web/internal/model"
)

const (
	errorMessageMissingRecordKey = "storage: missing site record key"
	errorMessageRecordNotFound   = "storage: site record not found"
)

var (
	// ErrMissingRecordKey indicates an empty URL was supplied as a record key.
	ErrMissingRecordKey = errors.New(errorMessageMissingRecordKey)
	// ErrRecordNotFound indicates no site record exists for the requested key.
	ErrRecordNotFound = errors.New(errorMessageRecordNotFound)
)

// SiteRecordFields lists the mutable fields written by an upsert.
type SiteRecordFields struct {
	ResolvedURL string
	Title       string
	Description string
	FaviconURL  string
	JSONLDs     string
}

// SiteRecordStore persists one metadata record per scanned URL. All
// operations act on a single key and are atomic per key.
type SiteRecordStore struct {
	database *gorm.DB
}

// NewSiteRecordStore creates a store backed by the provided database handle.
func NewSiteRecordStore(database *gorm.DB) *SiteRecordStore {
	return &SiteRecordStore{database: database}
}

// GetByKey returns the record stored under the supplied request URL.
func (store *SiteRecordStore) GetByKey(requestURL string) (*model.SiteRecord, error) {
	if requestURL == "" {
		return nil, ErrMissingRecordKey
	}

	var record model.SiteRecord
	queryErr := store.database.First(&record, "request_url = ?", requestURL).Error
	if queryErr != nil {
		if errors.Is(queryErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, requestURL)
		}
		return nil, queryErr
	}

	return &record, nil
}

// Upsert creates the record when absent and otherwise overwrites the listed
// fields, bumping updated_on either way.
func (store *SiteRecordStore) Upsert(requestURL string, fields SiteRecordFields) (*model.SiteRecord, error) {
	if requestURL == "" {
		return nil, ErrMissingRecordKey
	}

	record := model.SiteRecord{
		RequestURL:  requestURL,
		ResolvedURL: fields.ResolvedURL,
		Title:       fields.Title,
		Description: fields.Description,
		FaviconURL:  fields.FaviconURL,
		JSONLDs:     fields.JSONLDs,
	}

	upsertErr := store.database.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "request_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"resolved_url",
			"title",
			"description",
			"favicon_url",
			"json_lds",
			"updated_on",
		}),
	}).Create(&record).Error
	if upsertErr != nil {
		return nil, upsertErr
	}

	return store.GetByKey(requestURL)
}

// Touch bumps updated_on without changing any other field. It fails when
// the key is absent.
func (store *SiteRecordStore) Touch(requestURL string) (*model.SiteRecord, error) {
	if requestURL == "" {
		return nil, ErrMissingRecordKey
	}

	result := store.database.Model(&model.SiteRecord{}).
		Where("request_url = ?", requestURL).
		Update("updated_on", time.Now())
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, requestURL)
	}

	return store.GetByKey(requestURL)
}

// Delete removes the record stored under the supplied request URL. Deleting
// an absent key is not an error.
func (store *SiteRecordStore) Delete(requestURL string) error {
	if requestURL == "" {
		return ErrMissingRecordKey
	}

	return store.database.Delete(&model.SiteRecord{}, "request_url = ?", requestURL).Error
}

// HasFaviconURL reports whether any stored record references the supplied
// favicon URL. The favicon relay uses this as its allow list.
func (store *SiteRecordStore) HasFaviconURL(faviconURL string) (bool, error) {
	if faviconURL == "" {
		return false, nil
	}

	var matchCount int64
	countErr := store.database.Model(&model.SiteRecord{}).
		Where("favicon_url = ?", faviconURL).
		Count(&matchCount).Error
	if countErr != nil {
		return false, countErr
	}

	return matchCount > 0, nil
}
