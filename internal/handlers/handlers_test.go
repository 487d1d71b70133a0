package handlers

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"earshot/internal/config"
	"earshot/internal/database"
	"earshot/internal/experiment"
	"earshot/internal/models"
	"earshot/internal/seal"
	"earshot/internal/session"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Minimal stand-ins for the real templates; tests assert on routing and
// persistence, not markup.
const testTemplates = `
{{define "sorry.html"}}sorry: {{.Message}}{{end}}
{{define "consent.html"}}consent{{end}}
{{define "hearing_screening.html"}}hearing{{range .Warnings}} warning: {{.}}{{end}}{{end}}
{{define "pre_test_survey.html"}}pre-test survey{{end}}
{{define "post_test_survey.html"}}post-test survey{{end}}
{{define "hearing_response_estimation.html"}}hearing response{{end}}
{{define "mushra.html"}}mushra participant={{.ParticipantID}}{{end}}
{{define "pairwise.html"}}pairwise participant={{.ParticipantID}}{{end}}
{{define "end.html"}}all done{{end}}
{{define "mturk_end.html"}}mturk done assignment={{.AssignmentID}}{{end}}
{{define "preview.html"}}preview{{end}}
{{define "begin.html"}}begin link={{.Link}}{{end}}
{{define "mturk_begin.html"}}mturk begin link={{.Link}}{{end}}
{{define "mturk_debug.html"}}debug url={{.URL}}{{end}}
{{define "bonus.html"}}bonus{{end}}
`

type testEnv struct {
	t        *testing.T
	router   *gin.Engine
	cookies  map[string]*http.Cookie
	sealer   *seal.Sealer
	audioDir string

	pendingState session.State
}

func newTestEnv(t *testing.T, cfg config.ExperimentConfig, def *experiment.Definition) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	database.DB = db

	log := zap.NewNop()
	sealer := seal.New("handler-test-secret")
	audioDir := t.TempDir()

	r := gin.New()
	store := cookie.NewStore([]byte("session-test-secret"))
	r.Use(sessions.Sessions("earshot_session", store))
	r.SetHTMLTemplate(template.Must(template.New("").Parse(testTemplates)))

	flow := NewFlow(log, cfg, def)
	entryHandler := NewEntryHandler(log, cfg, flow)
	participantHandler := NewParticipantHandler(log, flow)
	consentHandler := NewConsentHandler(log, flow)
	surveyHandler := NewSurveyHandler(log, cfg, def, flow)
	hearingHandler := NewHearingTestHandler(log, cfg.HearingScreening, sealer, audioDir, flow)
	evaluationHandler := NewEvaluationHandler(log, def, sealer, flow)
	endHandler := NewEndHandler(log, flow)
	audioHandler := NewAudioHandler(log, sealer, audioDir)
	adminHandler := NewAdminHandler(log)

	r.GET("/anonymous", entryHandler.Anonymous)
	r.GET("/mturk", entryHandler.MTurk)
	r.GET("/begin/:platform/:worker_id", entryHandler.Begin)
	r.GET("/participant/:participant_type/:worker_id", participantHandler.Create)
	r.GET("/consent", consentHandler.Show)
	r.POST("/consent", consentHandler.Submit)
	r.GET("/pre_test_survey", surveyHandler.ShowPreTest)
	r.POST("/pre_test_survey", surveyHandler.SubmitPreTest)
	r.GET("/hearing_test", hearingHandler.Show)
	r.POST("/hearing_test", hearingHandler.Submit)
	r.GET("/hearing_test/audio/:example", hearingHandler.Audio)
	r.GET("/evaluation", evaluationHandler.Show)
	r.POST("/evaluation", evaluationHandler.Submit)
	r.GET("/post_evaluation_tasks", endHandler.PostEvaluationTasks)
	r.GET("/hearing_response_estimation", surveyHandler.ShowHearingResponse)
	r.POST("/hearing_response_estimation", surveyHandler.SubmitHearingResponse)
	r.GET("/post_test_survey", surveyHandler.ShowPostTest)
	r.POST("/post_test_survey", surveyHandler.SubmitPostTest)
	r.GET("/end/:platform", endHandler.End)
	r.GET("/audio/:key", audioHandler.Serve)
	r.GET("/admin/stats.csv", adminHandler.StatsCSV)

	env := &testEnv{
		t:        t,
		router:   r,
		cookies:  make(map[string]*http.Cookie),
		sealer:   sealer,
		audioDir: audioDir,
	}

	// Test-only hook to install session state without replaying the whole
	// entry flow.
	r.GET("/__seed", func(c *gin.Context) {
		require.NoError(t, session.Save(c, env.pendingState))
		c.Status(http.StatusNoContent)
	})

	return env
}

func testExperimentConfig() config.ExperimentConfig {
	return config.ExperimentConfig{
		AnonymousEnabled:      true,
		ObtainConsent:         true,
		PreTestSurveyEnabled:  true,
		PostTestSurveyEnabled: true,
		ConditionsPerVisit:    2,
		TrialsPerCondition:    5,
		HearingScreening: config.HearingScreeningConfig{
			Enabled:           true,
			MaxAttempts:       2,
			RejectionEnabled:  true,
			PassExpiryHours:   24,
			MinAudioIndex:     0,
			MaxAudioIndex:     23,
			FilesPerToneCount: 4,
		},
		HearingResponse: config.HearingResponseConfig{
			Enabled:        true,
			FrequencyCount: 8,
			VariantCount:   2,
			OptionCount:    10,
		},
	}
}

func testDefinition() *experiment.Definition {
	return &experiment.Definition{
		Tests: []experiment.Test{
			{
				ID:         1,
				Type:       experiment.TestTypeMUSHRA,
				Title:      "Quality",
				References: map[string]string{"reference": "exp1/ref.wav"},
			},
		},
	}
}

func (e *testEnv) get(target string) *httptest.ResponseRecorder {
	return e.do(http.MethodGet, target, nil)
}

func (e *testEnv) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, target, form)
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	e.t.Helper()

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, ck := range e.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		e.cookies[ck.Name] = ck
	}
	return w
}

// seed installs the given session state via the test-only endpoint so the
// following requests carry it in their cookie.
func (e *testEnv) seed(state session.State) {
	e.t.Helper()
	e.pendingState = state
	w := e.get("/__seed")
	require.Equal(e.t, http.StatusNoContent, w.Code)
}

func (e *testEnv) createParticipant(p *models.Participant) *models.Participant {
	e.t.Helper()
	require.NoError(e.t, database.DB.Create(p).Error)
	return p
}

func (e *testEnv) createCondition(id, testID int64, data string) {
	e.t.Helper()
	require.NoError(e.t, database.DB.Create(&models.Condition{ID: id, TestID: testID, Data: data}).Error)
}

func (e *testEnv) reloadParticipant(id int64) *models.Participant {
	e.t.Helper()
	var p models.Participant
	require.NoError(e.t, database.DB.First(&p, id).Error)
	return &p
}

func (e *testEnv) trialCount() int64 {
	e.t.Helper()
	var count int64
	require.NoError(e.t, database.DB.Model(&models.Trial{}).Count(&count).Error)
	return count
}

// writeHearingAudio creates the calibration tone plus every challenge
// recording, each containing its own file name so tests can tell which one
// was served.
func (e *testEnv) writeHearingAudio(cfg config.HearingScreeningConfig) {
	e.t.Helper()
	dir := filepath.Join(e.audioDir, "hearing_test_audio")
	require.NoError(e.t, os.MkdirAll(dir, 0o755))
	require.NoError(e.t, os.WriteFile(filepath.Join(dir, "1000Hz.wav"), []byte("1000Hz"), 0o644))
	for index := cfg.MinAudioIndex; index <= cfg.MaxAudioIndex; index++ {
		tones := index / cfg.FilesPerToneCount
		variant := index % cfg.FilesPerToneCount
		name := filepath.Join(dir, fmt.Sprintf("tones%d_%d.wav", tones, variant))
		require.NoError(e.t, os.WriteFile(name, []byte(filepath.Base(name)), 0o644))
	}
}
