package repository

import (
	"context"

	"earshot/internal/database"
	"earshot/internal/models"
)

// CountAvailableConditions reports how many conditions still need trials,
// regardless of who might do them. Used by the entry gate.
func CountAvailableConditions(ctx context.Context, trialsPerCondition int) (int64, error) {
	var count int64
	err := database.DB.WithContext(ctx).Model(&models.Condition{}).
		Where("(SELECT COUNT(*) FROM trials WHERE trials.condition_id = conditions.id) < ?", trialsPerCondition).
		Count(&count).Error
	return count, err
}

// AssignConditions picks the conditions for one visit: conditions still
// below the trials-per-condition cap that this participant has not already
// completed, least-covered first so coverage stays balanced. The result is
// fixed for the visit once the caller stores it in the session.
func AssignConditions(ctx context.Context, participantID int64, trialsPerCondition, conditionsPerVisit int) ([]int64, error) {
	var ids []int64
	err := database.DB.WithContext(ctx).Model(&models.Condition{}).
		Where("(SELECT COUNT(*) FROM trials WHERE trials.condition_id = conditions.id) < ?", trialsPerCondition).
		Where("conditions.id NOT IN (SELECT condition_id FROM trials WHERE participant_id = ?)", participantID).
		Order("(SELECT COUNT(*) FROM trials WHERE trials.condition_id = conditions.id) ASC").
		Limit(conditionsPerVisit).
		Pluck("conditions.id", &ids).Error
	return ids, err
}

// GetConditions loads the given condition rows.
func GetConditions(ctx context.Context, ids []int64) ([]models.Condition, error) {
	var conditions []models.Condition
	err := database.DB.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&conditions).Error
	return conditions, err
}
