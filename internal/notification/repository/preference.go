package repository

import (
	"context"

	"github.com/smallbiznis/costwatch/internal/notification/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type preferenceRepo struct{}

func ProvidePreferences() domain.PreferenceRepository {
	return &preferenceRepo{}
}

func (r *preferenceRepo) Find(ctx context.Context, db *gorm.DB, userID string) (*domain.Preference, error) {
	var pref domain.Preference
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&pref).Error
	if err != nil {
		return nil, err
	}
	if pref.UserID == "" {
		return nil, nil
	}
	return &pref, nil
}

func (r *preferenceRepo) Upsert(ctx context.Context, db *gorm.DB, pref *domain.Preference) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email",
				"email_enabled",
				"slack_channel_id",
				"slack_enabled",
				"weekly_report_enabled",
				"updated_at",
			}),
		}).
		Create(pref).Error
}
