package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"liquidity_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists venue metadata and app settings
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
// An empty path uses the default data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join("data", "liquidity.db")
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.VenueInfo{}, &domain.AppSetting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Venue Operations
// ======================================================================================

// UpsertVenue creates or updates venue metadata
func (s *Storage) UpsertVenue(v *domain.VenueInfo) error {
	return s.db.Save(v).Error
}

// GetVenue retrieves venue metadata by id
func (s *Storage) GetVenue(id string) (*domain.VenueInfo, error) {
	var venue domain.VenueInfo
	err := s.db.First(&venue, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &venue, err
}

// ListVenues retrieves all venues
func (s *Storage) ListVenues() ([]*domain.VenueInfo, error) {
	var venues []*domain.VenueInfo
	err := s.db.Order("id").Find(&venues).Error
	return venues, err
}

// SetVenueEnabled flips the enabled flag for a venue
func (s *Storage) SetVenueEnabled(id string, enabled bool) error {
	var venue domain.VenueInfo
	if err := s.db.First(&venue, "id = ?", id).Error; err != nil {
		return err
	}

	venue.Enabled = enabled
	return s.db.Save(&venue).Error
}

// DeleteVenue removes a venue record
func (s *Storage) DeleteVenue(id string) error {
	return s.db.Where("id = ?", id).Delete(&domain.VenueInfo{}).Error
}

// ======================================================================================
// Setting Operations
// ======================================================================================

// SetSetting saves an app setting
func (s *Storage) SetSetting(key, value string) error {
	setting := domain.AppSetting{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&setting).Error
}

// GetSetting retrieves one setting; missing keys return an empty string
func (s *Storage) GetSetting(key string) (string, error) {
	var setting domain.AppSetting
	err := s.db.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return setting.Value, err
}

// LoadSettings loads all settings as a map
func (s *Storage) LoadSettings() (map[string]string, error) {
	var settings []domain.AppSetting
	if err := s.db.Find(&settings).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, st := range settings {
		result[st.Key] = st.Value
	}
	return result, nil
}
