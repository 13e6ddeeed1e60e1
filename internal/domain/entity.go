package domain

import (
	"time"
)

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preset keys stored in AppConfig.
const (
	PresetQuantity   = "simulation.quantity"
	PresetFeeTier    = "simulation.fee_tier"
	PresetVolatility = "simulation.volatility"
)
