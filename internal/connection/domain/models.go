package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

const ProviderAWS = "aws"

// Connection links one user to a billing account.
type Connection struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID          string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_cost_connections_user_id" json:"user_id"`
	Provider        string       `gorm:"type:varchar(32);not null" json:"provider"`
	CredentialToken string       `gorm:"type:text;not null" json:"-"`
	Status          Status       `gorm:"type:varchar(16);not null;index:idx_cost_connections_status_last_sync,priority:1" json:"status"`
	LastValidatedAt *time.Time   `json:"last_validated_at,omitempty"`
	LastSyncAt      *time.Time   `gorm:"index:idx_cost_connections_status_last_sync,priority:2" json:"last_sync_at,omitempty"`
	LastError       *string      `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Connection) TableName() string { return "cost_connections" }

func (c Connection) Connected() bool {
	return c.Status == StatusConnected
}
