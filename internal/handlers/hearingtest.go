package handlers

import (
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"earshot/internal/config"
	"earshot/internal/hearing"
	"earshot/internal/repository"
	"earshot/internal/seal"
	"earshot/internal/session"
	"earshot/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const hearingWarningMessage = "You answered incorrectly. If you are unable to pass this test, it is likely " +
	"that your output device (e.g. your headphones) is not producing the full range of frequencies required " +
	"for this task. Try using better headphones."

// HearingTestHandler runs the bounded-attempt hearing screening challenge.
type HearingTestHandler struct {
	log      *zap.Logger
	cfg      config.HearingScreeningConfig
	sealer   *seal.Sealer
	audioDir string
	flow     *Flow
}

func NewHearingTestHandler(log *zap.Logger, cfg config.HearingScreeningConfig, sealer *seal.Sealer, audioDir string, flow *Flow) *HearingTestHandler {
	return &HearingTestHandler{log: log, cfg: cfg, sealer: sealer, audioDir: audioDir, flow: flow}
}

// Show issues a fresh challenge when attempts remain: two distinct random
// stimulus indices, sealed so the client cannot learn or forge the
// expected tone counts, pinned in the session for the audio endpoint and
// the grader.
func (h *HearingTestHandler) Show(c *gin.Context) {
	participant, state, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	if participant.HearingTestAttempts >= h.cfg.MaxAttempts {
		if !h.cfg.RejectionEnabled {
			// Rejection disabled: exhausted participants pass through.
			h.flow.ResumePre(c, participant)
			return
		}
		h.log.Info("Max hearing test attempts reached", zap.Int64("participant_id", participant.ID))
		h.flow.Sorry(c, workflow.ReasonAttemptsExhausted)
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	challenge := hearing.NewChallenge(rng, h.cfg)
	h.log.Info("Hearing test challenge issued",
		zap.Int64("participant_id", participant.ID),
		zap.Int("index1", challenge.Index1),
		zap.Int("index2", challenge.Index2))

	token1, err1 := h.sealer.Seal(challenge.Index1)
	token2, err2 := h.sealer.Seal(challenge.Index2)
	if err1 != nil || err2 != nil {
		h.log.Error("Failed to seal hearing test indices", zap.Error(err1), zap.Error(err2))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	state.HearingToken1 = token1
	state.HearingToken2 = token2
	if err := session.Save(c, state); err != nil {
		h.log.Error("Failed to save session", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	c.HTML(http.StatusOK, "hearing_screening.html", gin.H{
		"Warnings": session.Flashes(c),
	})
}

// Submit grades the challenge. A token that fails to open (session desync
// or tampering) is logged and scored as a non-match rather than crashing
// the request.
func (h *HearingTestHandler) Submit(c *gin.Context) {
	participant, state, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	answer := hearing.Answer{
		Reported1: formInt(c, "audiofile1_tones"),
		Reported2: formInt(c, "audiofile2_tones"),
		Expected1: h.openIndex(state.HearingToken1, 1),
		Expected2: h.openIndex(state.HearingToken2, 2),
	}
	passed := answer.Passed(h.cfg.FilesPerToneCount)

	now := time.Now().UTC()
	if err := repository.RecordHearingTestResult(c.Request.Context(), participant.ID, passed, now); err != nil {
		h.log.Error("Failed to record hearing test result", zap.Int64("participant_id", participant.ID), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	participant.SetPassedHearingTest(passed, now)

	switch hearing.NextOutcome(passed, participant.HearingTestAttempts, h.cfg) {
	case hearing.Passed:
		h.log.Info("Hearing test passed", zap.Int64("participant_id", participant.ID))
		h.flow.ResumePre(c, participant)
	case hearing.FailedRetry:
		h.log.Info("Hearing test failed, attempts remain", zap.Int64("participant_id", participant.ID))
		if err := session.Flash(c, hearingWarningMessage); err != nil {
			h.log.Error("Failed to flash warning", zap.Error(err))
		}
		c.Redirect(http.StatusFound, workflow.RouteHearingTest)
	case hearing.FailedPassThrough:
		h.log.Info("Hearing test rejection disabled. Passing failed participant to evaluation.",
			zap.Int64("participant_id", participant.ID))
		h.flow.ResumePre(c, participant)
	default: // hearing.FailedRejected
		h.log.Info("Hearing test failed, attempts exhausted", zap.Int64("participant_id", participant.ID))
		c.Redirect(http.StatusFound, workflow.RouteHearingTest)
	}
}

// Audio serves the challenge recordings. Example 0 is the calibration
// tone; examples 1 and 2 resolve through the sealed session indices so the
// file name never reveals the tone count to the client.
func (h *HearingTestHandler) Audio(c *gin.Context) {
	example := trimWavSuffix(c.Param("example"))

	if example == "0" {
		c.File(filepath.Join(h.audioDir, "hearing_test_audio", "1000Hz.wav"))
		return
	}

	state := session.Get(c)
	var token string
	switch example {
	case "1":
		token = state.HearingToken1
	case "2":
		token = state.HearingToken2
	default:
		c.Status(http.StatusNotFound)
		return
	}

	var index int
	if err := h.sealer.Open(token, &index); err != nil {
		h.log.Error("Invalid hearing test audio token", zap.String("example", example), zap.Error(err))
		c.Status(http.StatusNotFound)
		return
	}

	tones := hearing.ToneCount(index, h.cfg.FilesPerToneCount)
	variant := hearing.Variant(index, h.cfg.FilesPerToneCount)
	c.File(filepath.Join(h.audioDir, "hearing_test_audio", fmt.Sprintf("tones%d_%d.wav", tones, variant)))
}

// openIndex recovers a sealed challenge index from the session, returning
// nil (a guaranteed non-match) when the token is missing or invalid.
func (h *HearingTestHandler) openIndex(token string, slot int) *int {
	if token == "" {
		h.log.Error("Missing hearing test token in session", zap.Int("slot", slot))
		return nil
	}
	var index int
	if err := h.sealer.Open(token, &index); err != nil {
		h.log.Error("Invalid hearing test token", zap.Int("slot", slot), zap.Error(err))
		return nil
	}
	return &index
}

// formInt parses a form field, mapping absent or malformed values to -1 so
// they can never match a real tone count.
func formInt(c *gin.Context, field string) int {
	v, err := strconv.Atoi(c.PostForm(field))
	if err != nil {
		return -1
	}
	return v
}
