package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindAnomalyEmail      Kind = "anomaly_email"
	KindAnomalySlack      Kind = "anomaly_slack"
	KindWeeklyReportEmail Kind = "weekly_report_email"
)

type State string

const (
	StateReserved State = "reserved"
	StateSent     State = "sent"
	StateFailed   State = "failed"
)

// Reservation is one delivery slot for (user, kind, channel, day, dimension).
// Attempts doubles as a fencing token: only the holder of the latest attempt
// may finish the slot.
type Reservation struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID      string            `gorm:"type:varchar(64);not null;uniqueIndex:ux_notification_reservations_key,priority:1;index:idx_notification_reservations_user_updated,priority:1" json:"user_id"`
	Kind        Kind              `gorm:"type:varchar(32);not null;uniqueIndex:ux_notification_reservations_key,priority:2" json:"kind"`
	Channel     string            `gorm:"type:varchar(16);not null;uniqueIndex:ux_notification_reservations_key,priority:3" json:"channel"`
	Day         string            `gorm:"type:varchar(10);not null;uniqueIndex:ux_notification_reservations_key,priority:4" json:"day"`
	Dimension   string            `gorm:"type:varchar(255);not null;uniqueIndex:ux_notification_reservations_key,priority:5" json:"dimension"`
	Destination string            `gorm:"type:varchar(320);not null;default:''" json:"destination"`
	State       State             `gorm:"type:varchar(16);not null" json:"state"`
	Attempts    int               `gorm:"not null;default:0" json:"attempts"`
	ReservedAt  *time.Time        `json:"reserved_at,omitempty"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	FailedAt    *time.Time        `json:"failed_at,omitempty"`
	LastError   *string           `gorm:"type:text" json:"last_error,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;index:idx_notification_reservations_user_updated,priority:2" json:"updated_at"`
}

func (Reservation) TableName() string { return "notification_reservations" }

// Preference holds a user's delivery addresses and opt-ins.
type Preference struct {
	UserID              string    `gorm:"type:varchar(64);primaryKey" json:"user_id"`
	Email               string    `gorm:"type:varchar(320);not null;default:''" json:"email"`
	EmailEnabled        bool      `gorm:"not null" json:"email_enabled"`
	SlackChannelID      string    `gorm:"type:varchar(64);not null;default:''" json:"slack_channel_id"`
	SlackEnabled        bool      `gorm:"not null" json:"slack_enabled"`
	WeeklyReportEnabled bool      `gorm:"not null" json:"weekly_report_enabled"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (Preference) TableName() string { return "notification_preferences" }

// EmailDestination returns the opted-in address, or "" when email is off.
func (p Preference) EmailDestination() string {
	if !p.EmailEnabled {
		return ""
	}
	return p.Email
}

// SlackDestination returns the opted-in channel, or "" when Slack is off.
func (p Preference) SlackDestination() string {
	if !p.SlackEnabled {
		return ""
	}
	return p.SlackChannelID
}
