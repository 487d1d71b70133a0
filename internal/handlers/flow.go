package handlers

import (
	"net/http"

	"earshot/internal/config"
	"earshot/internal/experiment"
	"earshot/internal/models"
	"earshot/internal/repository"
	"earshot/internal/session"
	"earshot/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Message shown when the session has no participant. Crowd platforms load
// the app in an iframe, so a missing session usually means third-party
// cookies are disabled rather than a server fault.
const thirdPartyCookieMessage = "An error has occurred. Please make sure that third-party cookies are " +
	"enabled in your browser and then reload this page. (Note that by default these are disabled in " +
	"Safari, but are enabled in Chrome and Firefox.)"

const genericErrorMessage = "Whoops... an error occurred. Sorry about that. Contact us if this keeps happening. Thanks!"

// Flow carries the pieces every workflow-driven handler needs: the logger,
// the immutable experiment snapshot, the experiment definition, and the
// step controller itself.
type Flow struct {
	log *zap.Logger
	cfg config.ExperimentConfig
	def *experiment.Definition
	ctl *workflow.Controller
}

// NewFlow wires the workflow controller to the experiment's inclusion
// criteria.
func NewFlow(log *zap.Logger, cfg config.ExperimentConfig, def *experiment.Definition) *Flow {
	validate := func(surveyJSON string) bool {
		return experiment.IsPreTestSurveyValid(surveyJSON, def.InclusionCriteria)
	}
	return &Flow{
		log: log,
		cfg: cfg,
		def: def,
		ctl: workflow.New(cfg, validate),
	}
}

// Sorry renders the apology page with a participant-safe message.
func (f *Flow) Sorry(c *gin.Context, message string) {
	c.HTML(http.StatusOK, "sorry.html", gin.H{"Message": message})
}

// Participant resolves the session's participant, rendering an apology and
// returning ok=false when the session or the row is missing. A missing row
// for a present session id indicates tampering or storage inconsistency
// and is logged at error level.
func (f *Flow) Participant(c *gin.Context) (*models.Participant, session.State, bool) {
	state := session.Get(c)
	if !state.HasParticipant() {
		f.log.Error("No participant id in session; third-party cookies may be disabled",
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()))
		f.Sorry(c, thirdPartyCookieMessage)
		return nil, state, false
	}

	participant, err := repository.GetParticipantByID(c.Request.Context(), state.ParticipantID)
	if err != nil {
		f.log.Error("Session participant id does not resolve",
			zap.Int64("participant_id", state.ParticipantID),
			zap.Error(err))
		f.Sorry(c, genericErrorMessage)
		return nil, state, false
	}
	return participant, state, true
}

// ResumePre computes and applies the next pre-evaluation step. The visit's
// condition assignment is computed once and then pinned in the session.
func (f *Flow) ResumePre(c *gin.Context, p *models.Participant) {
	state := session.Get(c)

	if len(state.ConditionIDs) == 0 {
		ids, err := repository.AssignConditions(c.Request.Context(), p.ID,
			f.cfg.TrialsPerCondition, f.cfg.ConditionsPerVisit)
		if err != nil {
			f.log.Error("Failed to assign conditions", zap.Int64("participant_id", p.ID), zap.Error(err))
			f.Sorry(c, genericErrorMessage)
			return
		}
		state.ConditionIDs = ids
		if err := session.Save(c, state); err != nil {
			f.log.Error("Failed to save session", zap.Error(err))
			f.Sorry(c, genericErrorMessage)
			return
		}
	}

	f.apply(c, f.ctl.PreEvaluation(p, workflow.Visit{ConditionIDs: state.ConditionIDs}))
}

// ResumePost computes and applies the next post-evaluation step.
func (f *Flow) ResumePost(c *gin.Context, p *models.Participant) {
	state := session.Get(c)
	decision := f.ctl.PostEvaluation(p, workflow.Visit{ConditionIDs: state.ConditionIDs})
	if decision.Kind == workflow.Redirect && decision.Route == workflow.RouteEnd {
		platform := state.Platform
		if platform == "" {
			platform = models.ParticipantTypeAnonymous
		}
		c.Redirect(http.StatusFound, workflow.RouteEnd+"/"+platform)
		return
	}
	f.apply(c, decision)
}

func (f *Flow) apply(c *gin.Context, d workflow.Decision) {
	switch d.Kind {
	case workflow.Redirect:
		c.Redirect(http.StatusFound, d.Route)
	case workflow.Terminal:
		f.Sorry(c, d.Reason)
	default:
		// The controller never returns Proceed from a full run; treat it
		// as an internal inconsistency if it ever does.
		f.log.Error("Workflow controller returned no actionable decision")
		f.Sorry(c, genericErrorMessage)
	}
}
