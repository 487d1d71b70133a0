package models

import (
	"time"
)

// Participant types, keyed by the entry point that recruited them.
const (
	ParticipantTypeAnonymous = "anonymous"
	ParticipantTypeMTurk     = "mturk"
	ParticipantTypeLab       = "lab"
)

// Participant is one human assessor, keyed by their external worker id.
// Exactly one row exists per distinct worker id; the row is mutated by each
// workflow step that collects data and is never deleted by the application.
type Participant struct {
	ID        int64  `gorm:"primaryKey"`
	WorkerID  string `gorm:"uniqueIndex;not null"`
	Type      string
	IPAddress string

	GaveConsent bool

	// Hearing screening state. Attempts only ever increase.
	HearingTestAttempts    int
	PassedHearingTest      bool
	HearingTestLastAttempt *time.Time

	// Opaque structured responses, stored as submitted (JSON text).
	PreTestSurvey             *string
	PostTestSurvey            *string
	HearingResponseEstimation *string

	Trials []Trial `gorm:"foreignKey:ParticipantID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassedHearingTestRecently reports whether the participant holds a
// hearing-test pass recorded within the expiry window.
func (p *Participant) HasPassedHearingTestRecently(expiry time.Duration, now time.Time) bool {
	if !p.PassedHearingTest || p.HearingTestLastAttempt == nil {
		return false
	}
	return now.Sub(*p.HearingTestLastAttempt) < expiry
}

// SetPassedHearingTest records the outcome of one hearing-test attempt.
func (p *Participant) SetPassedHearingTest(passed bool, now time.Time) {
	p.PassedHearingTest = passed
	p.HearingTestAttempts++
	p.HearingTestLastAttempt = &now
}
