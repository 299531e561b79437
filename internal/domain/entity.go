package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueInfo represents persisted metadata for an exchange venue
type VenueInfo struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Name        string          `json:"name"`
	Enabled     bool            `json:"enabled" gorm:"index"` // Participates in ingestion
	TakerFeeBps decimal.Decimal `json:"taker_fee_bps" gorm:"type:numeric"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AppSetting represents user-specific configuration (Key-Value)
type AppSetting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
