// Package session wraps the gin cookie session in a typed state record.
// Reads validate presence explicitly; a missing field is a handled case,
// not an exception path.
package session

import (
	"encoding/gob"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const stateKey = "state"

func init() {
	gob.Register(State{})
}

// CrowdData is the platform-specific submission metadata captured at entry.
type CrowdData struct {
	AssignmentID string
	HitID        string
	SubmitTo     string
}

// State is everything the server round-trips through the client cookie for
// one visit. ConditionIDs are fixed once computed; the hearing tokens are
// sealed server secrets the client cannot forge.
type State struct {
	ParticipantID int64
	Platform      string
	ConditionIDs  []int64
	Crowd         CrowdData

	HearingToken1 string
	HearingToken2 string
}

// HasParticipant reports whether a participant has been resolved for this
// session.
func (s State) HasParticipant() bool {
	return s.ParticipantID != 0
}

// IsAssignedCondition reports whether conditionID is in the visit's fixed
// assignment set.
func (s State) IsAssignedCondition(conditionID int64) bool {
	for _, id := range s.ConditionIDs {
		if id == conditionID {
			return true
		}
	}
	return false
}

// Get returns the typed state for the current request. A session without
// state yields the zero value.
func Get(c *gin.Context) State {
	s := sessions.Default(c)
	state, ok := s.Get(stateKey).(State)
	if !ok {
		return State{}
	}
	return state
}

// Save writes the state back to the session cookie.
func Save(c *gin.Context, state State) error {
	s := sessions.Default(c)
	s.Set(stateKey, state)
	return s.Save()
}

// Clear discards all session state, including flashes.
func Clear(c *gin.Context) error {
	s := sessions.Default(c)
	s.Clear()
	return s.Save()
}

// Flash queues a one-shot message for the next rendered page.
func Flash(c *gin.Context, message string) error {
	s := sessions.Default(c)
	s.AddFlash(message)
	return s.Save()
}

// Flashes drains and returns any queued messages.
func Flashes(c *gin.Context) []string {
	s := sessions.Default(c)
	raw := s.Flashes()
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if msg, ok := f.(string); ok {
			out = append(out, msg)
		}
	}
	s.Save()
	return out
}
