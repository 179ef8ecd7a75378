package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CostPoint is one (user, day, dimension) spend observation. Day uses the
// 2006-01-02 layout in UTC.
type CostPoint struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    string       `gorm:"type:varchar(64);not null;uniqueIndex:ux_cost_points_user_day_dimension,priority:1;index:idx_cost_points_user_day,priority:1" json:"user_id"`
	Day       string       `gorm:"type:varchar(10);not null;uniqueIndex:ux_cost_points_user_day_dimension,priority:2;index:idx_cost_points_user_day,priority:2" json:"day"`
	Dimension string       `gorm:"type:varchar(255);not null;uniqueIndex:ux_cost_points_user_day_dimension,priority:3" json:"dimension"`
	Amount    float64      `gorm:"not null;default:0" json:"amount"`
	Currency  string       `gorm:"type:varchar(8);not null" json:"currency"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (CostPoint) TableName() string { return "cost_points" }
