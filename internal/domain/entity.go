package domain

import (
	"time"
)

// ProductInfo stores per-product display preferences
type ProductInfo struct {
	Symbol          string    `gorm:"primaryKey" json:"symbol"`
	DefaultGrouping string    `json:"default_grouping"`
	Grouping        string    `json:"grouping"` // Last grouping the user selected
	IsActive        bool      `json:"is_active" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Keys used in AppConfig for the last session's selection.
const (
	ConfigKeyProduct  = "product"
	ConfigKeyGrouping = "grouping"
)
