package repository

import (
	"context"
	"errors"
	"time"

	"earshot/internal/database"
	"earshot/internal/models"

	"gorm.io/gorm"
)

// GetParticipantByID loads a participant by primary key.
func GetParticipantByID(ctx context.Context, id int64) (*models.Participant, error) {
	var p models.Participant
	result := database.DB.WithContext(ctx).First(&p, id)
	return &p, result.Error
}

// GetOrCreateParticipant resolves an external worker id to a participant
// row, creating one if absent. Creation is idempotent per worker id: a
// concurrent insert losing the unique-index race falls back to the lookup.
func GetOrCreateParticipant(ctx context.Context, workerID, participantType, ipAddress string) (*models.Participant, bool, error) {
	var p models.Participant
	err := database.DB.WithContext(ctx).First(&p, "worker_id = ?", workerID).Error
	if err == nil {
		return &p, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	p = models.Participant{
		WorkerID:  workerID,
		Type:      participantType,
		IPAddress: ipAddress,
	}
	if err := database.DB.WithContext(ctx).Create(&p).Error; err != nil {
		// Unique index on worker_id: another request created the row first.
		var existing models.Participant
		if lookupErr := database.DB.WithContext(ctx).First(&existing, "worker_id = ?", workerID).Error; lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, err
	}
	return &p, true, nil
}

// SaveConsent records that a participant agreed to the consent form.
func SaveConsent(ctx context.Context, participantID int64) error {
	return database.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", participantID).
		Update("gave_consent", true).Error
}

// SavePreTestSurvey stores the submitted survey blob. Last write wins.
func SavePreTestSurvey(ctx context.Context, participantID int64, surveyJSON string) error {
	return database.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", participantID).
		Update("pre_test_survey", surveyJSON).Error
}

// SavePostTestSurvey stores the submitted survey blob. Last write wins.
func SavePostTestSurvey(ctx context.Context, participantID int64, surveyJSON string) error {
	return database.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", participantID).
		Update("post_test_survey", surveyJSON).Error
}

// SaveHearingResponseEstimation stores the estimation blob. Last write wins.
func SaveHearingResponseEstimation(ctx context.Context, participantID int64, responseJSON string) error {
	return database.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", participantID).
		Update("hearing_response_estimation", responseJSON).Error
}

// RecordHearingTestResult stores the outcome of one hearing-test attempt:
// the pass flag, the attempt timestamp, and an attempt-count increment.
// The count is bumped with a SQL expression so it can only move forward,
// even under concurrent submissions.
func RecordHearingTestResult(ctx context.Context, participantID int64, passed bool, now time.Time) error {
	return database.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ?", participantID).
		Updates(map[string]interface{}{
			"passed_hearing_test":       passed,
			"hearing_test_attempts":     gorm.Expr("hearing_test_attempts + 1"),
			"hearing_test_last_attempt": now,
		}).Error
}
