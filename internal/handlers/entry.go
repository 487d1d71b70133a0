package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"earshot/internal/config"
	"earshot/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sentinels used by the Turk external-question protocol.
const (
	mturkAssignmentNotAvailable = "ASSIGNMENT_ID_NOT_AVAILABLE"
	mturkWorkerNotAvailable     = "WORKER_ID_NOT_AVAILABLE"
	anonymousWorkerID           = "ANONYMOUS"
)

// EntryHandler owns the participant entry points: the anonymous and crowd
// redirectors and the begin page.
type EntryHandler struct {
	log  *zap.Logger
	cfg  config.ExperimentConfig
	flow *Flow
}

func NewEntryHandler(log *zap.Logger, cfg config.ExperimentConfig, flow *Flow) *EntryHandler {
	return &EntryHandler{log: log, cfg: cfg, flow: flow}
}

// Anonymous is the entry point for participants with no external identity.
func (h *EntryHandler) Anonymous(c *gin.Context) {
	if !h.cfg.AnonymousEnabled {
		h.log.Info("Anonymous participant attempted access, but anonymous participants are disabled.")
		h.flow.Sorry(c, "This experiment is currently closed to anonymous participants.")
		return
	}

	q := url.Values{}
	q.Set("preview", c.DefaultQuery("preview", "0"))
	c.Redirect(http.StatusFound, "/begin/anonymous/"+anonymousWorkerID+"?"+q.Encode())
}

// MTurk is the entry point for Amazon Turk workers; it maps the platform's
// query parameters onto the begin flow. A request carrying the preview
// sentinel renders as a preview.
func (h *EntryHandler) MTurk(c *gin.Context) {
	assignmentID := c.Query("assignmentId")
	workerID := c.DefaultQuery("workerId", mturkWorkerNotAvailable)

	q := url.Values{}
	if assignmentID == mturkAssignmentNotAvailable || workerID == mturkWorkerNotAvailable {
		q.Set("preview", "1")
		workerID = mturkWorkerNotAvailable
	} else {
		q.Set("preview", "0")
		q.Set("assignmentId", assignmentID)
		q.Set("hitId", c.Query("hitId"))

		submitTo := c.DefaultQuery("turkSubmitTo", "")
		if submitTo != "" {
			if joined, err := url.JoinPath(submitTo, "mturk", "externalSubmit"); err == nil {
				submitTo = joined
			}
		}
		q.Set("turkSubmitTo", submitTo)
	}

	c.Redirect(http.StatusFound, "/begin/mturk/"+url.PathEscape(workerID)+"?"+q.Encode())
}

// Begin renders a page with a button that starts participant creation. The
// indirection matters for crowd workers who accept many tasks at once: the
// session and condition assignment are only established when they actually
// start.
func (h *EntryHandler) Begin(c *gin.Context) {
	platform := c.Param("platform")
	workerID := c.Param("worker_id")

	if !browserAcceptable(c.Request.UserAgent(), h.cfg.AcceptableBrowsers) {
		h.flow.Sorry(c, "We're sorry, but your web browser is not supported. Please try again using Chrome.")
		return
	}

	available, err := repository.CountAvailableConditions(c.Request.Context(), h.cfg.TrialsPerCondition)
	if err != nil {
		h.log.Error("Failed to count available conditions", zap.Error(err))
		h.flow.Sorry(c, genericErrorMessage)
		return
	}
	if available == 0 {
		h.flow.Sorry(c, "We're sorry, but there are no more tasks available.")
		return
	}

	if c.DefaultQuery("preview", "0") != "0" {
		c.HTML(http.StatusOK, "preview.html", gin.H{
			"PreviewHTML": h.cfg.PreviewHTML,
		})
		return
	}

	link := "/participant/" + url.PathEscape(platform) + "/" + url.PathEscape(workerID) + "?" + c.Request.URL.RawQuery
	if !h.cfg.BeginButtonEnabled {
		c.Redirect(http.StatusFound, link)
		return
	}

	template := "begin.html"
	if platform == "mturk" {
		template = "mturk_begin.html"
	}
	c.HTML(http.StatusOK, template, gin.H{
		"Link":         link,
		"Width":        h.cfg.PopupWidth,
		"Height":       h.cfg.PopupHeight,
		"WorkerID":     workerID,
		"AssignmentID": c.Query("assignmentId"),
		"HitID":        c.Query("hitId"),
	})
}

// MTurkDebug previews what the task looks like inside the Turk frame.
func (h *EntryHandler) MTurkDebug(c *gin.Context) {
	target := "/mturk?assignmentId=123RVWYBAZW00EXAMPLE456RVWYBAZW00EXAMPLE&" +
		"hitId=123RVWYBAZW00EXAMPLE&" +
		"turkSubmitTo=https://workersandbox.mturk.com&" +
		"workerId=debugNQFUCL"
	if c.DefaultQuery("preview", "0") != "0" {
		target = "/mturk?assignmentId=" + mturkAssignmentNotAvailable + "&workerId=debugNQFUCL"
	}
	c.HTML(http.StatusOK, "mturk_debug.html", gin.H{"URL": target})
}

// Bonus renders the bonus-task submission page for crowd workers.
func (h *EntryHandler) Bonus(c *gin.Context) {
	assignmentID := c.Query("assignmentId")
	submitTo := c.DefaultQuery("turkSubmitTo", "")
	if submitTo != "" {
		if joined, err := url.JoinPath(submitTo, "mturk", "externalSubmit"); err == nil {
			submitTo = joined
		}
	}

	c.HTML(http.StatusOK, "bonus.html", gin.H{
		"SubmitTo":     submitTo,
		"WorkerID":     c.DefaultQuery("workerId", mturkWorkerNotAvailable),
		"HitID":        c.Query("hitId"),
		"AssignmentID": assignmentID,
		"Preview":      assignmentID == mturkAssignmentNotAvailable,
	})
}

// browserAcceptable applies the configured allowlist as case-insensitive
// user-agent substrings. An empty allowlist admits every browser.
func browserAcceptable(userAgent string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, browser := range allowlist {
		if strings.Contains(ua, strings.ToLower(browser)) {
			return true
		}
	}
	return false
}
