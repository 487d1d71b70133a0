package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"earshot/internal/config"
	"earshot/internal/experiment"
	"earshot/internal/repository"
	"earshot/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SurveyHandler renders and collects the pre/post surveys and the in-situ
// hearing response estimation. Survey responses are stored as submitted
// (last write wins); only the pre-test survey additionally routes on the
// inclusion criteria.
type SurveyHandler struct {
	log  *zap.Logger
	cfg  config.ExperimentConfig
	def  *experiment.Definition
	flow *Flow
}

func NewSurveyHandler(log *zap.Logger, cfg config.ExperimentConfig, def *experiment.Definition, flow *Flow) *SurveyHandler {
	return &SurveyHandler{log: log, cfg: cfg, def: def, flow: flow}
}

// formAsJSON flattens the submitted form into a JSON blob, keeping the
// first value for repeated fields.
func formAsJSON(c *gin.Context) (string, map[string]string, error) {
	if err := c.Request.ParseForm(); err != nil {
		return "", nil, err
	}
	answers := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			answers[key] = values[0]
		}
	}
	blob, err := json.Marshal(answers)
	return string(blob), answers, err
}

// ShowPreTest renders the pre-test survey.
func (h *SurveyHandler) ShowPreTest(c *gin.Context) {
	c.HTML(http.StatusOK, "pre_test_survey.html", gin.H{"Questions": h.def.PreTestSurvey})
}

// SubmitPreTest stores the survey unconditionally, then routes on the
// inclusion criteria: a pass re-enters the workflow, a fail is terminal.
func (h *SurveyHandler) SubmitPreTest(c *gin.Context) {
	participant, _, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	blob, answers, err := formAsJSON(c)
	if err != nil {
		h.log.Error("Failed to parse pre-test survey form", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	if err := repository.SavePreTestSurvey(c.Request.Context(), participant.ID, blob); err != nil {
		h.log.Error("Failed to save pre-test survey", zap.Int64("participant_id", participant.ID), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	participant.PreTestSurvey = &blob

	if !experiment.SurveyMeetsCriteria(answers, h.def.InclusionCriteria) {
		h.log.Info("Participant failed inclusion criteria", zap.Int64("participant_id", participant.ID))
		h.flow.Sorry(c, workflow.ReasonExcluded)
		return
	}
	h.flow.ResumePre(c, participant)
}

// ShowPostTest renders the post-test survey.
func (h *SurveyHandler) ShowPostTest(c *gin.Context) {
	c.HTML(http.StatusOK, "post_test_survey.html", gin.H{"Questions": h.def.PostTestSurvey})
}

// SubmitPostTest stores the survey and re-enters the post-evaluation flow.
func (h *SurveyHandler) SubmitPostTest(c *gin.Context) {
	participant, _, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	blob, _, err := formAsJSON(c)
	if err != nil {
		h.log.Error("Failed to parse post-test survey form", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	if err := repository.SavePostTestSurvey(c.Request.Context(), participant.ID, blob); err != nil {
		h.log.Error("Failed to save post-test survey", zap.Int64("participant_id", participant.ID), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	participant.PostTestSurvey = &blob

	h.flow.ResumePost(c, participant)
}

// ShowHearingResponse renders the hearing response estimation task: every
// frequency in shuffled order, one randomly chosen variant per frequency.
func (h *SurveyHandler) ShowHearingResponse(c *gin.Context) {
	if _, _, ok := h.flow.Participant(c); !ok {
		return
	}

	hr := h.cfg.HearingResponse
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	frequencies := rng.Perm(hr.FrequencyCount)
	ids := make([]string, 0, len(frequencies))
	files := make([]string, 0, len(frequencies))
	for _, f := range frequencies {
		id := fmt.Sprintf("%d_%d", f, rng.Intn(hr.VariantCount+1))
		ids = append(ids, id)
		files = append(files, "/assets/audio/hearing_response_stimuli/"+id+".wav")
	}

	c.HTML(http.StatusOK, "hearing_response_estimation.html", gin.H{
		"ResponseIDs":   ids,
		"ResponseFiles": files,
		"OptionCount":   hr.OptionCount,
	})
}

// SubmitHearingResponse stores the estimation blob and re-enters the
// post-evaluation flow.
func (h *SurveyHandler) SubmitHearingResponse(c *gin.Context) {
	participant, _, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	blob, _, err := formAsJSON(c)
	if err != nil {
		h.log.Error("Failed to parse hearing response form", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	if err := repository.SaveHearingResponseEstimation(c.Request.Context(), participant.ID, blob); err != nil {
		h.log.Error("Failed to save hearing response estimation", zap.Int64("participant_id", participant.ID), zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	participant.HearingResponseEstimation = &blob

	h.flow.ResumePost(c, participant)
}
