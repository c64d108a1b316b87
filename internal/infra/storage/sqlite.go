package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"orderfeed/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists product and grouping preferences between sessions.
type Storage struct {
	db *gorm.DB
}

var _ domain.PreferenceRepository = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database at dbPath.
// An empty dbPath resolves to the per-user default location.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ProductInfo{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// DefaultDBPath resolves the database file path based on OS
func DefaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "OrderFeed", "data", "orderfeed.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Product Operations
// ======================================================================================

// UpsertProduct creates or updates product preferences
func (s *Storage) UpsertProduct(info *domain.ProductInfo) error {
	return s.db.Save(info).Error
}

// GetProduct retrieves product preferences by symbol
func (s *Storage) GetProduct(symbol domain.Product) (*domain.ProductInfo, error) {
	var info domain.ProductInfo
	err := s.db.First(&info, "symbol = ?", string(symbol)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// GetAllProducts retrieves all stored products ordered by symbol
func (s *Storage) GetAllProducts() ([]domain.ProductInfo, error) {
	var products []domain.ProductInfo
	err := s.db.Order("symbol").Find(&products).Error
	return products, err
}

// SetActiveProduct marks symbol as the selected product and clears the flag elsewhere.
func (s *Storage) SetActiveProduct(symbol domain.Product) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.ProductInfo{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.ProductInfo{}).
			Where("symbol = ?", string(symbol)).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&domain.ProductInfo{
				Symbol:          string(symbol),
				DefaultGrouping: symbol.DefaultDenomination().String(),
				IsActive:        true,
			}).Error
		}
		return nil
	})
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
