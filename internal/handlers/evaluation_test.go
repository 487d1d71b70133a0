package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"earshot/internal/database"
	"earshot/internal/experiment"
	"earshot/internal/models"
	"earshot/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evaluationResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	TrialID string `json:"trial_id"`
}

func decodeEvaluationResponse(t *testing.T, body string) evaluationResponse {
	t.Helper()
	var resp evaluationResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func submissionForm(t *testing.T, participantID int64, conditionData []map[string]any) url.Values {
	t.Helper()
	blob, err := json.Marshal(conditionData)
	require.NoError(t, err)
	return url.Values{
		"participant_id":         {strconv.FormatInt(participantID, 10)},
		"completedConditionData": {string(blob)},
	}
}

func TestEvaluationSubmitStoresTrials(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	p := env.createParticipant(&models.Participant{WorkerID: "W1", Type: models.ParticipantTypeAnonymous, PassedHearingTest: true})
	env.createCondition(10, 1, `{}`)
	env.createCondition(11, 1, `{}`)
	env.seed(session.State{ParticipantID: p.ID, ConditionIDs: []int64{10, 11}})

	// One stimulus URL is obfuscated the way the evaluation page delivers
	// them; the stored record must carry the real path instead.
	token, err := env.sealer.Seal(experiment.AudioRef{ParticipantID: p.ID, ConditionID: 10, Path: "exp1/c10_s1.wav"})
	require.NoError(t, err)

	w := env.postForm("/evaluation", submissionForm(t, p.ID, []map[string]any{
		{"conditionID": 10, "rating": 80, "stimulus": experiment.AudioURL(token)},
		{"conditionID": 11, "rating": 35},
	}))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEvaluationResponse(t, w.Body.String())
	assert.False(t, resp.Error)
	assert.Equal(t, "Data is saved!", resp.Message)

	var trials []models.Trial
	require.NoError(t, database.DB.Order("id").Find(&trials).Error)
	require.Len(t, trials, 2)
	assert.Equal(t, p.ID, trials[0].ParticipantID)
	assert.True(t, trials[0].ParticipantPassedHearingTest)
	assert.Contains(t, trials[0].Data, "exp1/c10_s1.wav")
	assert.NotContains(t, trials[0].Data, "/audio/")

	// The receipt opens to the id of the last stored trial.
	var receiptID int64
	require.NoError(t, env.sealer.Open(resp.TrialID, &receiptID))
	assert.Equal(t, trials[1].ID, receiptID)
}

func TestEvaluationSubmitRejectsMismatchedParticipant(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	p := env.createParticipant(&models.Participant{WorkerID: "W1", Type: models.ParticipantTypeAnonymous})
	env.createCondition(10, 1, `{}`)
	env.seed(session.State{ParticipantID: p.ID, ConditionIDs: []int64{10}})

	w := env.postForm("/evaluation", submissionForm(t, p.ID+1, []map[string]any{
		{"conditionID": 10, "rating": 80},
	}))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEvaluationResponse(t, w.Body.String())
	assert.True(t, resp.Error)
	assert.Equal(t, int64(0), env.trialCount())

	// The diagnostic after the fixed prefix is sealed for operators.
	diag := strings.TrimPrefix(resp.Message, "Error saving data. Error ")
	var detail string
	require.NoError(t, env.sealer.Open(diag, &detail))
	assert.Contains(t, detail, "does not match")
}

func TestEvaluationSubmitRejectsUnassignedCondition(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	p := env.createParticipant(&models.Participant{WorkerID: "W1", Type: models.ParticipantTypeAnonymous})
	env.createCondition(10, 1, `{}`)
	env.createCondition(99, 1, `{}`)
	env.seed(session.State{ParticipantID: p.ID, ConditionIDs: []int64{10}})

	// Even when one entry is legitimate, an unassigned condition rejects
	// the whole submission.
	w := env.postForm("/evaluation", submissionForm(t, p.ID, []map[string]any{
		{"conditionID": 10, "rating": 80},
		{"conditionID": 99, "rating": 20},
	}))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEvaluationResponse(t, w.Body.String())
	assert.True(t, resp.Error)
	assert.Equal(t, int64(0), env.trialCount())
}

func TestEvaluationSubmitWithoutSession(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())

	w := env.postForm("/evaluation", submissionForm(t, 1, []map[string]any{
		{"conditionID": 10},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeEvaluationResponse(t, w.Body.String()).Error)
}

func TestEvaluationSubmitRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	p := env.createParticipant(&models.Participant{WorkerID: "W1", Type: models.ParticipantTypeAnonymous})
	env.seed(session.State{ParticipantID: p.ID, ConditionIDs: []int64{10}})

	w := env.postForm("/evaluation", url.Values{
		"participant_id":         {strconv.FormatInt(p.ID, 10)},
		"completedConditionData": {"not json"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeEvaluationResponse(t, w.Body.String()).Error)
	assert.Equal(t, int64(0), env.trialCount())
}

func TestEvaluationShowRendersAssignedTest(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	p := env.createParticipant(&models.Participant{WorkerID: "W1", Type: models.ParticipantTypeAnonymous})
	env.createCondition(10, 1, `{"stimulus_files":{"S1":"exp1/c10_s1.wav"}}`)
	env.seed(session.State{ParticipantID: p.ID, ConditionIDs: []int64{10}})

	w := env.get("/evaluation")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mushra participant="+strconv.FormatInt(p.ID, 10))
}

func TestEvaluationShowPinsAssignmentOnStaleSession(t *testing.T) {
	env := newTestEnv(t, testExperimentConfig(), testDefinition())
	now := time.Now()
	survey := `{}`
	p := env.createParticipant(&models.Participant{
		WorkerID:               "W1",
		Type:                   models.ParticipantTypeAnonymous,
		GaveConsent:            true,
		PassedHearingTest:      true,
		HearingTestAttempts:    1,
		HearingTestLastAttempt: &now,
		PreTestSurvey:          &survey,
	})
	env.createCondition(10, 1, `{"stimulus_files":{"S1":"exp1/c10_s1.wav"}}`)
	env.seed(session.State{ParticipantID: p.ID})

	// A session without a pinned assignment recomputes the workflow, which
	// assigns conditions and redirects back here.
	w := env.get("/evaluation")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/evaluation", w.Header().Get("Location"))

	w = env.get("/evaluation")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mushra")
}
