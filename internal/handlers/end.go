package handlers

import (
	"net/http"

	"earshot/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EndHandler renders the completion pages and the post-evaluation
// sequencing entry point.
type EndHandler struct {
	log  *zap.Logger
	flow *Flow
}

func NewEndHandler(log *zap.Logger, flow *Flow) *EndHandler {
	return &EndHandler{log: log, flow: flow}
}

// PostEvaluationTasks re-enters the post-evaluation workflow; the
// evaluation page redirects here when the client-side task completes.
func (h *EndHandler) PostEvaluationTasks(c *gin.Context) {
	participant, _, ok := h.flow.Participant(c)
	if !ok {
		return
	}
	h.flow.ResumePost(c, participant)
}

// End thanks the participant. Crowd platforms get a page that submits the
// completed assignment back to the platform.
func (h *EndHandler) End(c *gin.Context) {
	state := session.Get(c)
	if c.Param("platform") == "mturk" {
		c.HTML(http.StatusOK, "mturk_end.html", gin.H{
			"SubmitTo":     state.Crowd.SubmitTo,
			"AssignmentID": state.Crowd.AssignmentID,
			"HitID":        state.Crowd.HitID,
		})
		return
	}
	c.HTML(http.StatusOK, "end.html", nil)
}
