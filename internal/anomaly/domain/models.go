package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Anomaly is a detected spike for one (user, day, dimension). Status and
// Enrichment belong to the consuming application; detection never writes them
// on update.
type Anomaly struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID     string            `gorm:"type:varchar(64);not null;uniqueIndex:ux_anomalies_user_day_dimension,priority:1;index:idx_anomalies_user_day,priority:1" json:"user_id"`
	Day        string            `gorm:"type:varchar(10);not null;uniqueIndex:ux_anomalies_user_day_dimension,priority:2;index:idx_anomalies_user_day,priority:2" json:"day"`
	Dimension  string            `gorm:"type:varchar(255);not null;uniqueIndex:ux_anomalies_user_day_dimension,priority:3" json:"dimension"`
	Observed   float64           `gorm:"not null" json:"observed"`
	Baseline   float64           `gorm:"not null" json:"baseline"`
	PctChange  *float64          `json:"pct_change"`
	Unbounded  bool              `gorm:"not null;default:false" json:"unbounded"`
	ZScore     *float64          `json:"z_score"`
	Severity   string            `gorm:"type:varchar(16);not null" json:"severity"`
	Currency   string            `gorm:"type:varchar(8);not null" json:"currency"`
	Message    string            `gorm:"type:text;not null" json:"message"`
	Status     Status            `gorm:"type:varchar(16);not null;default:'open'" json:"status"`
	Enrichment datatypes.JSONMap `json:"enrichment,omitempty"`
	DetectedAt time.Time         `gorm:"not null" json:"detected_at"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null" json:"updated_at"`
}

func (Anomaly) TableName() string { return "anomalies" }

// Key identifies the incident an anomaly describes.
type Key struct {
	Day       string
	Dimension string
}

func (a Anomaly) Key() Key {
	return Key{Day: a.Day, Dimension: a.Dimension}
}
