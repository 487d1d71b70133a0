package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"earshot/internal/experiment"
	"earshot/internal/models"
	"earshot/internal/repository"
	"earshot/internal/seal"
	"earshot/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EvaluationHandler renders the listening test and persists submitted
// trials.
type EvaluationHandler struct {
	log    *zap.Logger
	def    *experiment.Definition
	sealer *seal.Sealer
	flow   *Flow
}

func NewEvaluationHandler(log *zap.Logger, def *experiment.Definition, sealer *seal.Sealer, flow *Flow) *EvaluationHandler {
	return &EvaluationHandler{log: log, def: def, sealer: sealer, flow: flow}
}

// Show renders the evaluation page for the session's assigned conditions.
// All assigned conditions must belong to one test; concurrent tests in a
// single visit are unsupported by design.
func (h *EvaluationHandler) Show(c *gin.Context) {
	participant, state, ok := h.flow.Participant(c)
	if !ok {
		return
	}
	if len(state.ConditionIDs) == 0 {
		// No pinned assignment, e.g. a stale bookmark. Recompute the
		// workflow from scratch.
		h.flow.ResumePre(c, participant)
		return
	}

	conditions, err := repository.GetConditions(c.Request.Context(), state.ConditionIDs)
	if err != nil || len(conditions) == 0 {
		h.log.Error("Failed to load assigned conditions", zap.Int64s("condition_ids", state.ConditionIDs), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	testConfig, err := experiment.BuildTestConfiguration(h.def, conditions, participant.ID, h.sealer)
	if err != nil {
		h.log.Error("Failed to build test configuration", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	trialCount, err := repository.CountTrialsForParticipant(c.Request.Context(), participant.ID)
	if err != nil {
		h.log.Error("Failed to count trials", zap.Int64("participant_id", participant.ID), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	conditionsJSON, err := json.Marshal(testConfig.Conditions)
	if err != nil {
		h.log.Error("Failed to marshal test configuration", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	data := gin.H{
		"Test":                testConfig.Test,
		"ConditionsJSON":      string(conditionsJSON),
		"ParticipantID":       participant.ID,
		"FirstEvaluation":     trialCount == 0,
		"SubmissionURL":       "/evaluation",
		"CompleteRedirectURL": "/post_evaluation_tasks",
	}

	switch testConfig.Test.Type {
	case experiment.TestTypePairwise:
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		pairs := make(map[int64][]experiment.ComparisonPair, len(testConfig.Conditions))
		for _, cond := range testConfig.Conditions {
			pairs[cond.ConditionID] = experiment.GenerateComparisonPairs(cond.Stimuli, rng)
		}
		pairsJSON, err := json.Marshal(pairs)
		if err != nil {
			h.log.Error("Failed to marshal comparison pairs", zap.Error(err))
			h.flow.Sorry(c, genericErrorMessage)
			return
		}
		data["PairsJSON"] = string(pairsJSON)
		c.HTML(http.StatusOK, "pairwise.html", data)
	default:
		c.HTML(http.StatusOK, "mushra.html", data)
	}
}

// submittedCondition is one entry of the completedConditionData array. The
// payload beyond the condition id is opaque.
type submittedCondition map[string]any

// Submit validates and persists one evaluation submission: the participant
// id must match the session, every condition must be in the session's
// assignment, and all trials commit together or the request reports
// failure. The response carries a sealed receipt for the last trial, or a
// sealed diagnostic on error.
func (h *EvaluationHandler) Submit(c *gin.Context) {
	state := session.Get(c)
	if !state.HasParticipant() {
		h.respondError(c, errors.New("no participant in session"))
		return
	}

	participant, err := repository.GetParticipantByID(c.Request.Context(), state.ParticipantID)
	if err != nil {
		h.respondError(c, fmt.Errorf("session participant %d not found: %w", state.ParticipantID, err))
		return
	}

	submittedID, err := strconv64(c.PostForm("participant_id"))
	if err != nil || submittedID != participant.ID {
		h.respondError(c, fmt.Errorf("submitted participant id %q does not match session participant %d",
			c.PostForm("participant_id"), participant.ID))
		return
	}

	var conditionData []submittedCondition
	if err := json.Unmarshal([]byte(c.PostForm("completedConditionData")), &conditionData); err != nil {
		h.respondError(c, fmt.Errorf("bad completedConditionData: %w", err))
		return
	}
	if len(conditionData) == 0 {
		h.respondError(c, errors.New("empty completedConditionData"))
		return
	}

	crowdJSON, err := json.Marshal(state.Crowd)
	if err != nil {
		h.respondError(c, err)
		return
	}

	trials := make([]models.Trial, 0, len(conditionData))
	for _, cd := range conditionData {
		conditionID, err := conditionIDOf(cd)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !state.IsAssignedCondition(conditionID) {
			h.respondError(c, fmt.Errorf("condition %d is not assigned to this session", conditionID))
			return
		}

		// Reverse the client-side obfuscation so the stored record is
		// analyzable without the seal key.
		payload, err := json.Marshal(experiment.DeobfuscateStimuli(cd, h.sealer))
		if err != nil {
			h.respondError(c, err)
			return
		}

		trials = append(trials, models.Trial{
			ParticipantID:                participant.ID,
			ConditionID:                  conditionID,
			Data:                         string(payload),
			CrowdData:                    string(crowdJSON),
			ParticipantPassedHearingTest: participant.PassedHearingTest,
		})
	}

	if err := repository.CreateTrials(c.Request.Context(), trials); err != nil {
		h.respondError(c, fmt.Errorf("failed to store trials: %w", err))
		return
	}

	last := trials[len(trials)-1]
	h.log.Info("Evaluation results saved",
		zap.Int64("participant_id", participant.ID),
		zap.Int("trials", len(trials)),
		zap.Int64("last_trial_id", last.ID))

	receipt, err := h.sealer.Seal(last.ID)
	if err != nil {
		h.log.Error("Failed to seal trial receipt", zap.Error(err))
		receipt = ""
	}

	c.JSON(http.StatusOK, gin.H{
		"error":    false,
		"message":  "Data is saved!",
		"trial_id": receipt,
	})
}

// respondError logs the failure and returns the structured error payload.
// The diagnostic detail is sealed so operators can decode it from a bug
// report without leaking internals to the client.
func (h *EvaluationHandler) respondError(c *gin.Context, err error) {
	h.log.Warn("Error saving evaluation results", zap.Error(err))

	diagnostic, sealErr := h.sealer.Seal(err.Error())
	if sealErr != nil {
		diagnostic = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"error":   true,
		"message": "Error saving data. Error " + diagnostic,
	})
}

// conditionIDOf extracts the condition id, tolerating both JSON numbers
// and strings.
func conditionIDOf(cd submittedCondition) (int64, error) {
	switch v := cd["conditionID"].(type) {
	case float64:
		return int64(v), nil
	case string:
		return strconv64(v)
	default:
		return 0, errors.New("payload missing conditionID")
	}
}

func strconv64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
