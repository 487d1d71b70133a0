package router

import (
	"net/http"
	"time"

	"earshot/internal/config"
	"earshot/internal/experiment"
	"earshot/internal/handlers"
	"earshot/internal/seal"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func rateLimitExceeded(c *gin.Context, info ratelimit.Info) {
	c.String(http.StatusTooManyRequests, "Too many requests. Try again later.")
}

// Setup assembles the gin engine: middleware chain, templates, and the
// full experiment route table.
func Setup(log *zap.Logger, cfg *config.Manager, def *experiment.Definition, sealer *seal.Sealer) *gin.Engine {
	conf := cfg.Current()
	exp := cfg.Experiment()

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error("Panic recovered", zap.Any("error", err), zap.String("path", c.Request.URL.Path))
		c.HTML(http.StatusInternalServerError, "sorry.html", gin.H{
			"Message": "500 Internal Server Error -- Whoops... an error occurred. Sorry about that. Contact us if this keeps happening. Thanks!",
		})
	}))
	router.Use(RequestLogger(log))

	store := cookie.NewStore([]byte(conf.Server.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production
		// Crowd platforms embed the task in a cross-origin iframe, so the
		// cookie must travel on third-party requests.
		SameSite: http.SameSiteNoneMode,
		MaxAge:   86400,
	})
	router.Use(sessions.Sessions("earshot_session", store))
	router.Use(NoCache())

	// FrameDeny stays off: the whole application runs inside the crowd
	// platform's iframe.
	secureMiddleware := secure.New(secure.Options{
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	router.Use(func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			c.Abort()
			return
		}
		c.Next()
	})

	router.LoadHTMLGlob("templates/*.html")
	router.Static("/assets", "./assets")

	// Handlers
	flow := handlers.NewFlow(log, exp, def)
	entryHandler := handlers.NewEntryHandler(log, exp, flow)
	participantHandler := handlers.NewParticipantHandler(log, flow)
	consentHandler := handlers.NewConsentHandler(log, flow)
	surveyHandler := handlers.NewSurveyHandler(log, exp, def, flow)
	hearingHandler := handlers.NewHearingTestHandler(log, exp.HearingScreening, sealer, conf.Server.AudioDirectory, flow)
	evaluationHandler := handlers.NewEvaluationHandler(log, def, sealer, flow)
	endHandler := handlers.NewEndHandler(log, flow)
	audioHandler := handlers.NewAudioHandler(log, sealer, conf.Server.AudioDirectory)
	adminHandler := handlers.NewAdminHandler(log)

	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: 30,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: rateLimitExceeded,
		KeyFunc:      keyFunc,
	})

	// Entry points
	router.GET("/anonymous", limiter, entryHandler.Anonymous)
	router.GET("/mturk", limiter, entryHandler.MTurk)
	router.GET("/mturk_debug", entryHandler.MTurkDebug)
	router.GET("/bonus", entryHandler.Bonus)
	router.GET("/begin/:platform/:worker_id", entryHandler.Begin)
	router.GET("/participant/:participant_type/:worker_id", participantHandler.Create)

	// Workflow steps
	router.GET("/consent", consentHandler.Show)
	router.POST("/consent", consentHandler.Submit)
	router.GET("/pre_test_survey", surveyHandler.ShowPreTest)
	router.POST("/pre_test_survey", surveyHandler.SubmitPreTest)
	router.GET("/hearing_test", hearingHandler.Show)
	router.POST("/hearing_test", hearingHandler.Submit)
	router.GET("/hearing_test/audio/:example", hearingHandler.Audio)
	router.GET("/evaluation", evaluationHandler.Show)
	router.POST("/evaluation", evaluationHandler.Submit)
	router.GET("/post_evaluation_tasks", endHandler.PostEvaluationTasks)
	router.GET("/hearing_response_estimation", surveyHandler.ShowHearingResponse)
	router.POST("/hearing_response_estimation", surveyHandler.SubmitHearingResponse)
	router.GET("/post_test_survey", surveyHandler.ShowPostTest)
	router.POST("/post_test_survey", surveyHandler.SubmitPostTest)
	router.GET("/end/:platform", endHandler.End)

	// Stimulus audio
	router.GET("/audio/:key", audioHandler.Serve)

	// Reporting
	admin := router.Group("/admin")
	admin.Use(AdminAuth(log, cfg))
	{
		admin.GET("/stats", adminHandler.Stats)
		admin.GET("/stats.csv", adminHandler.StatsCSV)
	}

	router.NoRoute(func(c *gin.Context) {
		c.HTML(http.StatusNotFound, "sorry.html", gin.H{
			"Message": "404 Page Not Found -- Sorry, that page doesn't exist.",
		})
	})

	return router
}
