package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"casetrack-go/internal/config"
	"casetrack-go/internal/listener"
	"casetrack-go/internal/notify"
	"casetrack-go/internal/repository"
	"casetrack-go/internal/scheduler"
	"casetrack-go/internal/service"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	cfg       *config.Config
	repo      *repository.Repository
	service   *service.CaseService
	notifier  *notify.Notifier
	scheduler *scheduler.Scheduler
	listener  *listener.EmailListener
}

// NewHandlers creates new HTTP handlers. listener may be nil when email
// intake is disabled.
func NewHandlers(db *gorm.DB, cfg *config.Config, repo *repository.Repository, svc *service.CaseService, n *notify.Notifier, s *scheduler.Scheduler, l *listener.EmailListener) *Handlers {
	return &Handlers{db: db, cfg: cfg, repo: repo, service: svc, notifier: n, scheduler: s, listener: l}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/livez", h.Liveness)
	router.GET("/readyz", h.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/slack/events", h.SlackEvents)

	api := router.Group("/api/v1")
	{
		api.GET("/cases", h.GetCases)
		api.GET("/cases/:id", h.GetCase)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
