package models

import "time"

// Condition is one experiment treatment: a stimulus set that participants
// evaluate. Rows are seeded externally and are read-only here.
type Condition struct {
	ID     int64 `gorm:"primaryKey"`
	TestID int64 `gorm:"index"`

	// Data holds the stimulus references for this condition as JSON, e.g.
	// {"reference_files": {...}, "stimulus_files": {"S1": "exp1/s1.wav"}}.
	Data string

	CreatedAt time.Time
}
