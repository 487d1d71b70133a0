package handlers

import (
	"earshot/internal/repository"
	"earshot/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ParticipantHandler resolves external worker identities to participant
// rows and establishes the session.
type ParticipantHandler struct {
	log  *zap.Logger
	flow *Flow
}

func NewParticipantHandler(log *zap.Logger, flow *Flow) *ParticipantHandler {
	return &ParticipantHandler{log: log, flow: flow}
}

// Create looks up or creates the participant for an external worker id,
// replaces any prior session with a fresh one carrying the crowd metadata,
// and enters the pre-evaluation workflow. Creation is idempotent: one row
// per distinct worker id, ever.
func (h *ParticipantHandler) Create(c *gin.Context) {
	participantType := c.Param("participant_type")
	workerID := c.Param("worker_id")

	if err := session.Clear(c); err != nil {
		h.log.Error("Failed to clear session", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	participant, created, err := repository.GetOrCreateParticipant(c.Request.Context(), workerID, participantType, c.ClientIP())
	if err != nil {
		h.log.Error("Failed to resolve participant",
			zap.String("worker_id", workerID),
			zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	if created {
		h.log.Info("New participant",
			zap.Int64("participant_id", participant.ID),
			zap.String("worker_id", workerID),
			zap.String("type", participantType))
	} else {
		h.log.Info("Participant has returned",
			zap.Int64("participant_id", participant.ID),
			zap.String("worker_id", workerID))
	}

	state := session.State{
		ParticipantID: participant.ID,
		Platform:      participantType,
		Crowd: session.CrowdData{
			AssignmentID: c.DefaultQuery("assignmentId", mturkAssignmentNotAvailable),
			HitID:        c.Query("hitId"),
			SubmitTo:     c.Query("turkSubmitTo"),
		},
	}
	if err := session.Save(c, state); err != nil {
		h.log.Error("Failed to save session", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}

	h.flow.ResumePre(c, participant)
}
