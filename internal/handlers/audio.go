package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"earshot/internal/experiment"
	"earshot/internal/seal"
	"earshot/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AudioHandler serves evaluation stimuli addressed by sealed references.
type AudioHandler struct {
	log      *zap.Logger
	sealer   *seal.Sealer
	audioDir string
}

func NewAudioHandler(log *zap.Logger, sealer *seal.Sealer, audioDir string) *AudioHandler {
	return &AudioHandler{log: log, sealer: sealer, audioDir: audioDir}
}

// Serve opens a sealed audio reference and streams the file, but only to
// the session the reference was sealed for: the requesting session must be
// that participant and hold that condition in its assignment.
func (h *AudioHandler) Serve(c *gin.Context) {
	token := trimWavSuffix(c.Param("key"))

	var ref experiment.AudioRef
	if err := h.sealer.Open(token, &ref); err != nil {
		h.log.Error("Invalid audio reference token", zap.Error(err))
		c.Status(http.StatusNotFound)
		return
	}

	state := session.Get(c)
	if state.ParticipantID != ref.ParticipantID || !state.IsAssignedCondition(ref.ConditionID) {
		h.log.Error("Audio reference does not belong to requesting session",
			zap.Int64("session_participant", state.ParticipantID),
			zap.Int64("ref_participant", ref.ParticipantID),
			zap.Int64("ref_condition", ref.ConditionID))
		c.Status(http.StatusForbidden)
		return
	}

	// The sealed path is server-produced, but keep it inside the audio
	// directory regardless.
	clean := filepath.Clean("/" + ref.Path)
	c.File(filepath.Join(h.audioDir, clean))
}

// trimWavSuffix strips the cosmetic .wav extension from a route parameter.
func trimWavSuffix(s string) string {
	return strings.TrimSuffix(s, ".wav")
}
