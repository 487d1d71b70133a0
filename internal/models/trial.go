package models

import "time"

// Trial is one participant's completed evaluation of one condition.
// Created only on a successful evaluation submission and never updated.
type Trial struct {
	ID            int64 `gorm:"primaryKey"`
	ParticipantID int64 `gorm:"index;not null"`
	ConditionID   int64 `gorm:"index;not null"`

	// Data is the submitted evaluation payload with stimulus obfuscation
	// reversed, so stored records are directly analyzable.
	Data string

	// CrowdData is the platform metadata captured from the session at
	// submission time (assignment id, hit id and so on).
	CrowdData string

	// ParticipantPassedHearingTest is a copy of the participant's pass
	// state at the moment of submission; the live flag on the participant
	// may change later.
	ParticipantPassedHearingTest bool

	CreatedAt time.Time
}
