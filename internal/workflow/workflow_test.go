package workflow

import (
	"testing"
	"time"

	"earshot/internal/config"
	"earshot/internal/models"

	"github.com/stretchr/testify/assert"
)

func experimentConfig() config.ExperimentConfig {
	return config.ExperimentConfig{
		ObtainConsent:         true,
		PreTestSurveyEnabled:  true,
		PostTestSurveyEnabled: true,
		HearingScreening: config.HearingScreeningConfig{
			Enabled:          true,
			MaxAttempts:      2,
			RejectionEnabled: true,
			PassExpiryHours:  24,
		},
		HearingResponse: config.HearingResponseConfig{Enabled: true},
	}
}

func validSurvey(string) bool   { return true }
func invalidSurvey(string) bool { return false }

func strptr(s string) *string { return &s }

// readyParticipant has cleared every pre-evaluation gate.
func readyParticipant() *models.Participant {
	now := time.Now()
	return &models.Participant{
		ID:                     1,
		GaveConsent:            true,
		PassedHearingTest:      true,
		HearingTestAttempts:    1,
		HearingTestLastAttempt: &now,
		PreTestSurvey:          strptr(`{"hearing_disorder":"No"}`),
	}
}

func visit() Visit {
	return Visit{ConditionIDs: []int64{10, 11}}
}

func TestPreEvaluationNoConditionsIsTerminal(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)

	d := ctl.PreEvaluation(readyParticipant(), Visit{})
	assert.Equal(t, Terminal, d.Kind)
	assert.Equal(t, ReasonNoTasks, d.Reason)
}

func TestPreEvaluationOrderOfUnmetSteps(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)

	p := &models.Participant{ID: 1}
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RouteConsent, d.Route)

	p.GaveConsent = true
	d = ctl.PreEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RouteHearingTest, d.Route)

	now := time.Now()
	p.PassedHearingTest = true
	p.HearingTestAttempts = 1
	p.HearingTestLastAttempt = &now
	d = ctl.PreEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RoutePreTestSurvey, d.Route)

	p.PreTestSurvey = strptr(`{}`)
	d = ctl.PreEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RouteEvaluation, d.Route)
}

func TestPreEvaluationIsDeterministic(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)
	p := &models.Participant{ID: 1, GaveConsent: true}

	first := ctl.PreEvaluation(p, visit())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ctl.PreEvaluation(p, visit()))
	}
}

func TestConsentSkippedWhenNotRequired(t *testing.T) {
	cfg := experimentConfig()
	cfg.ObtainConsent = false
	ctl := New(cfg, validSurvey)

	d := ctl.PreEvaluation(&models.Participant{ID: 1}, visit())
	assert.Equal(t, RouteHearingTest, d.Route)
}

func TestHearingScreeningSkippedWithRecentPass(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)

	p := readyParticipant()
	p.PreTestSurvey = nil
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, RoutePreTestSurvey, d.Route)
}

func TestHearingScreeningExpiredPassRedirects(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)

	p := readyParticipant()
	stale := time.Now().Add(-48 * time.Hour)
	p.HearingTestLastAttempt = &stale
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, RouteHearingTest, d.Route)
}

func TestHearingScreeningExhaustedWithRejection(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)

	// attempts == max and rejection enabled: never a new challenge.
	p := &models.Participant{ID: 1, GaveConsent: true, HearingTestAttempts: 2}
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, Terminal, d.Kind)
	assert.Equal(t, ReasonAttemptsExhausted, d.Reason)
}

func TestHearingScreeningExhaustedWithoutRejectionPassesThrough(t *testing.T) {
	cfg := experimentConfig()
	cfg.HearingScreening.RejectionEnabled = false
	ctl := New(cfg, validSurvey)

	p := &models.Participant{
		ID:                  1,
		GaveConsent:         true,
		HearingTestAttempts: 2,
		PreTestSurvey:       strptr(`{}`),
	}
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RouteEvaluation, d.Route)
}

func TestHearingScreeningDisabledSkips(t *testing.T) {
	cfg := experimentConfig()
	cfg.HearingScreening.Enabled = false
	ctl := New(cfg, validSurvey)

	p := &models.Participant{ID: 1, GaveConsent: true, PreTestSurvey: strptr(`{}`)}
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, RouteEvaluation, d.Route)
}

func TestPreTestSurveyInvalidIsTerminal(t *testing.T) {
	ctl := New(experimentConfig(), invalidSurvey)

	p := readyParticipant()
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, Terminal, d.Kind)
	assert.Equal(t, ReasonExcluded, d.Reason)
}

func TestPreTestSurveyDisabledSkipsValidation(t *testing.T) {
	cfg := experimentConfig()
	cfg.PreTestSurveyEnabled = false
	ctl := New(cfg, invalidSurvey)

	p := readyParticipant()
	p.PreTestSurvey = nil
	d := ctl.PreEvaluation(p, visit())
	assert.Equal(t, RouteEvaluation, d.Route)
}

func TestPostEvaluationOrder(t *testing.T) {
	ctl := New(experimentConfig(), validSurvey)
	p := readyParticipant()

	d := ctl.PostEvaluation(p, visit())
	assert.Equal(t, Redirect, d.Kind)
	assert.Equal(t, RouteHearingResponse, d.Route)

	p.HearingResponseEstimation = strptr(`{}`)
	d = ctl.PostEvaluation(p, visit())
	assert.Equal(t, RoutePostTestSurvey, d.Route)

	p.PostTestSurvey = strptr(`{}`)
	d = ctl.PostEvaluation(p, visit())
	assert.Equal(t, RouteEnd, d.Route)
}

func TestPostEvaluationAllDisabledGoesToEnd(t *testing.T) {
	cfg := experimentConfig()
	cfg.HearingResponse.Enabled = false
	cfg.PostTestSurveyEnabled = false
	ctl := New(cfg, validSurvey)

	d := ctl.PostEvaluation(&models.Participant{ID: 1}, visit())
	assert.Equal(t, RouteEnd, d.Route)
}
