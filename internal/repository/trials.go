package repository

import (
	"context"

	"earshot/internal/database"
	"earshot/internal/models"

	"gorm.io/gorm"
)

// CreateTrials persists all trials from one evaluation submission in a
// single transaction: either every trial is stored or none are.
func CreateTrials(ctx context.Context, trials []models.Trial) error {
	return database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range trials {
			if err := tx.Create(&trials[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountTrialsForParticipant reports how many trials a participant has
// completed, used to flag their first evaluation in the UI.
func CountTrialsForParticipant(ctx context.Context, participantID int64) (int64, error) {
	var count int64
	err := database.DB.WithContext(ctx).Model(&models.Trial{}).
		Where("participant_id = ?", participantID).
		Count(&count).Error
	return count, err
}

// ConditionTrialStats is one row of the admin report: completed trial
// counts for a condition, split by hearing-test pass state at submission.
type ConditionTrialStats struct {
	ConditionID int64
	Passed      int64
	Failed      int64
}

// GetConditionTrialStats aggregates trial counts per condition. Conditions
// without trials are included with zero counts.
func GetConditionTrialStats(ctx context.Context) ([]ConditionTrialStats, error) {
	var stats []ConditionTrialStats
	err := database.DB.WithContext(ctx).Model(&models.Condition{}).
		Select(`conditions.id AS condition_id,
			COUNT(CASE WHEN trials.participant_passed_hearing_test THEN 1 END) AS passed,
			COUNT(CASE WHEN NOT trials.participant_passed_hearing_test THEN 1 END) AS failed`).
		Joins("LEFT JOIN trials ON trials.condition_id = conditions.id").
		Group("conditions.id").
		Order("conditions.id").
		Scan(&stats).Error
	return stats, err
}
