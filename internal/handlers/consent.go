package handlers

import (
	"net/http"

	"earshot/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConsentHandler renders the consent form and records agreement.
type ConsentHandler struct {
	log  *zap.Logger
	flow *Flow
}

func NewConsentHandler(log *zap.Logger, flow *Flow) *ConsentHandler {
	return &ConsentHandler{log: log, flow: flow}
}

// Show renders the consent page.
func (h *ConsentHandler) Show(c *gin.Context) {
	c.HTML(http.StatusOK, "consent.html", nil)
}

// Submit records the participant's choice. Agreement persists the consent
// flag and re-enters the workflow; declining ends the visit politely;
// anything else re-renders the form.
func (h *ConsentHandler) Submit(c *gin.Context) {
	participant, _, ok := h.flow.Participant(c)
	if !ok {
		return
	}

	switch c.PostForm("consent") {
	case "agree":
		if err := repository.SaveConsent(c.Request.Context(), participant.ID); err != nil {
			h.log.Error("Failed to save consent", zap.Int64("participant_id", participant.ID), zap.Error(err))
			h.flow.Sorry(c, genericErrorMessage)
			return
		}
		participant.GaveConsent = true
		h.flow.ResumePre(c, participant)
	case "disagree":
		h.flow.Sorry(c, "Thank you for your interest in the study.")
	default:
		c.HTML(http.StatusOK, "consent.html", nil)
	}
}
