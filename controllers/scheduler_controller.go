package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"daytrader/services"
)

// SchedulerController exposes scheduler control over HTTP.
type SchedulerController struct {
	orchestrator *services.DayOrchestrator
	logger       *logrus.Logger
}

// NewSchedulerController creates a new scheduler controller.
func NewSchedulerController(orchestrator *services.DayOrchestrator) *SchedulerController {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &SchedulerController{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// jobView is the wire shape of a pending job.
type jobView struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	NextRun string   `json:"next_run"`
	LastRun string   `json:"last_run,omitempty"`
}

// HandleGetAllJobs handles GET /scheduler/all.
func (sc *SchedulerController) HandleGetAllJobs(c *gin.Context) {
	jobs := sc.orchestrator.Jobs()

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		tags := make([]string, 0, len(j.Tags))
		for _, t := range j.Tags {
			tags = append(tags, string(t))
		}
		v := jobView{
			ID:      j.ID.String(),
			Tags:    tags,
			NextRun: j.NextRun.Format("2006-01-02 15:04:05"),
		}
		if !j.LastRun.IsZero() {
			v.LastRun = j.LastRun.Format("2006-01-02 15:04:05")
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(views),
		"jobs":  views,
	})
}

// HandleCancel handles POST /scheduler/cancel. STANDARD jobs are removed;
// the heartbeat keeps running.
func (sc *SchedulerController) HandleCancel(c *gin.Context) {
	sc.orchestrator.Cancel()
	c.JSON(http.StatusOK, gin.H{"message": "Scheduled jobs canceled"})
}

// HandleRestart handles POST /scheduler/restart.
func (sc *SchedulerController) HandleRestart(c *gin.Context) {
	sc.orchestrator.Restart()
	c.JSON(http.StatusOK, gin.H{"message": "Scheduler restarted"})
}
