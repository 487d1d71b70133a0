// Package workflow is the experiment's step sequencer. Instead of a stored
// "current step" field, the controller derives the next unmet requirement
// from persisted participant facts plus the visit's condition assignment,
// which makes every entry point re-entrant: reloading a page or resuming
// an interrupted visit recomputes the same answer.
package workflow

import (
	"time"

	"earshot/internal/config"
	"earshot/internal/models"
)

// Routes the controller can redirect to.
const (
	RouteConsent         = "/consent"
	RouteHearingTest     = "/hearing_test"
	RoutePreTestSurvey   = "/pre_test_survey"
	RouteEvaluation      = "/evaluation"
	RouteHearingResponse = "/hearing_response_estimation"
	RoutePostTestSurvey  = "/post_test_survey"
	RouteEnd             = "/end"
)

// Terminal reasons shown to the participant.
const (
	ReasonNoTasks           = "We're sorry, but there are no more tasks available for you."
	ReasonExcluded          = "Unfortunately, you do not meet the inclusion criteria for this study. Sorry."
	ReasonAttemptsExhausted = "Sorry. You have exceeded the number of allowed attempts. Please try again tomorrow."
)

// Kind discriminates a step decision.
type Kind int

const (
	// Proceed: this step's requirement is already met, consider the next.
	Proceed Kind = iota
	// Redirect: send the participant to this step's page.
	Redirect
	// Terminal: the participant cannot continue; show the reason.
	Terminal
)

// Decision is the outcome of evaluating one step, or of the whole
// controller run (in which case Proceed never escapes).
type Decision struct {
	Kind   Kind
	Route  string
	Reason string
}

func proceed() Decision               { return Decision{Kind: Proceed} }
func redirect(route string) Decision  { return Decision{Kind: Redirect, Route: route} }
func terminal(reason string) Decision { return Decision{Kind: Terminal, Reason: reason} }

// Visit is the per-session context a step may consult: the fixed condition
// assignment for this visit.
type Visit struct {
	ConditionIDs []int64
}

// SurveyValidator checks a stored pre-test survey blob against the
// experiment's inclusion criteria. Injected so the controller stays free
// of the experiment-definition dependency.
type SurveyValidator func(surveyJSON string) bool

// Controller evaluates the ordered step lists against participant state.
type Controller struct {
	cfg            config.ExperimentConfig
	validateSurvey SurveyValidator
	now            func() time.Time
}

// New builds a Controller around an immutable experiment config snapshot.
func New(cfg config.ExperimentConfig, validateSurvey SurveyValidator) *Controller {
	return &Controller{cfg: cfg, validateSurvey: validateSurvey, now: time.Now}
}

// step is one named entry in the ordered workflow.
type step struct {
	name   string
	decide func(ctl *Controller, p *models.Participant, v Visit) Decision
}

var preEvaluationSteps = []step{
	{name: "condition_assignment", decide: (*Controller).decideConditions},
	{name: "consent", decide: (*Controller).decideConsent},
	{name: "hearing_screening", decide: (*Controller).decideHearingScreening},
	{name: "pre_test_survey", decide: (*Controller).decidePreTestSurvey},
}

var postEvaluationSteps = []step{
	{name: "hearing_response_estimation", decide: (*Controller).decideHearingResponse},
	{name: "post_test_survey", decide: (*Controller).decidePostTestSurvey},
}

// PreEvaluation returns the next pre-evaluation requirement for the
// participant, or a redirect to the evaluation itself once every gate has
// been cleared. Identical persisted state always yields the same answer.
func (ctl *Controller) PreEvaluation(p *models.Participant, v Visit) Decision {
	for _, s := range preEvaluationSteps {
		if d := s.decide(ctl, p, v); d.Kind != Proceed {
			return d
		}
	}
	return redirect(RouteEvaluation)
}

// PostEvaluation returns the next post-evaluation requirement, or a
// redirect to the end page.
func (ctl *Controller) PostEvaluation(p *models.Participant, v Visit) Decision {
	for _, s := range postEvaluationSteps {
		if d := s.decide(ctl, p, v); d.Kind != Proceed {
			return d
		}
	}
	return redirect(RouteEnd)
}

func (ctl *Controller) decideConditions(p *models.Participant, v Visit) Decision {
	if len(v.ConditionIDs) == 0 {
		return terminal(ReasonNoTasks)
	}
	return proceed()
}

func (ctl *Controller) decideConsent(p *models.Participant, v Visit) Decision {
	if ctl.cfg.ObtainConsent && !p.GaveConsent {
		return redirect(RouteConsent)
	}
	return proceed()
}

func (ctl *Controller) decideHearingScreening(p *models.Participant, v Visit) Decision {
	hs := ctl.cfg.HearingScreening
	if !hs.Enabled || p.HasPassedHearingTestRecently(hs.PassExpiry(), ctl.now()) {
		return proceed()
	}
	if p.HearingTestAttempts >= hs.MaxAttempts {
		if hs.RejectionEnabled {
			return terminal(ReasonAttemptsExhausted)
		}
		// Rejection disabled: failed participants are passed through.
		return proceed()
	}
	return redirect(RouteHearingTest)
}

func (ctl *Controller) decidePreTestSurvey(p *models.Participant, v Visit) Decision {
	if !ctl.cfg.PreTestSurveyEnabled {
		return proceed()
	}
	if p.PreTestSurvey == nil {
		return redirect(RoutePreTestSurvey)
	}
	if ctl.validateSurvey != nil && !ctl.validateSurvey(*p.PreTestSurvey) {
		return terminal(ReasonExcluded)
	}
	return proceed()
}

func (ctl *Controller) decideHearingResponse(p *models.Participant, v Visit) Decision {
	if ctl.cfg.HearingResponse.Enabled && p.HearingResponseEstimation == nil {
		return redirect(RouteHearingResponse)
	}
	return proceed()
}

func (ctl *Controller) decidePostTestSurvey(p *models.Participant, v Visit) Decision {
	if ctl.cfg.PostTestSurveyEnabled && p.PostTestSurvey == nil {
		return redirect(RoutePostTestSurvey)
	}
	return proceed()
}
