package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"earshot/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"
)

// AdminHandler serves the read-only reporting endpoints.
type AdminHandler struct {
	log *zap.Logger
}

func NewAdminHandler(log *zap.Logger) *AdminHandler {
	return &AdminHandler{log: log}
}

// Stats renders per-condition completed-trial counts, split by whether the
// submitting participant had passed the hearing test, as a bar chart.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := repository.GetConditionTrialStats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to aggregate trial statistics", zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to aggregate trial statistics")
		return
	}

	conditions := make([]string, 0, len(stats))
	passed := make([]opts.BarData, 0, len(stats))
	failed := make([]opts.BarData, 0, len(stats))
	for _, s := range stats {
		conditions = append(conditions, strconv.FormatInt(s.ConditionID, 10))
		passed = append(passed, opts.BarData{Value: s.Passed})
		failed = append(failed, opts.BarData{Value: s.Failed})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Trial Statistics", Subtitle: "Completed trials per condition"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Condition"}),
	)
	bar.SetXAxis(conditions).
		AddSeries("Passed hearing test", passed).
		AddSeries("Failed hearing test", failed)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(c.Writer); err != nil {
		h.log.Error("Failed to render statistics chart", zap.Error(err))
	}
}

// StatsCSV exports the same aggregation as CSV.
func (h *AdminHandler) StatsCSV(c *gin.Context) {
	stats, err := repository.GetConditionTrialStats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to aggregate trial statistics", zap.Error(err))
		c.String(http.StatusInternalServerError, "failed to aggregate trial statistics")
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="trial_statistics.csv"`)

	w := csv.NewWriter(c.Writer)
	defer w.Flush()

	w.Write([]string{"Condition", "Completed Trials (passed hearing test)", "Completed Trials (failed hearing test)"})
	for _, s := range stats {
		w.Write([]string{
			strconv.FormatInt(s.ConditionID, 10),
			strconv.FormatInt(s.Passed, 10),
			strconv.FormatInt(s.Failed, 10),
		})
	}
}
