package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dentalops/dentalflow/internal/config"
	"github.com/dentalops/dentalflow/pkg/auth"
	"github.com/dentalops/dentalflow/pkg/metrics"
)

type RouterDeps struct {
	Config       *config.Config
	Verifier     *auth.Verifier
	Collector    *metrics.Collector
	Scheduling   *SchedulingHandler
	Availability *AvailabilityHandler
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Instrument(deps.Collector))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": deps.Config.App.Name,
			"version": deps.Config.App.Version,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")
	api.Use(RequireActor(deps.Verifier))
	{
		api.POST("/slots/validate", deps.Scheduling.ValidateSlot)

		appts := api.Group("/appointments")
		{
			appts.POST("", deps.Scheduling.CreateRequest)
			appts.POST("/walk-in", deps.Scheduling.CreateWalkIn)
			appts.GET("", deps.Scheduling.List)
			appts.GET("/:id", deps.Scheduling.Get)
			appts.GET("/:id/history", deps.Scheduling.History)
			appts.POST("/:id/reschedule", deps.Scheduling.Reschedule)
			appts.POST("/:id/transitions", deps.Scheduling.Transition)
			appts.PUT("/:id/note", deps.Scheduling.SetNote)
		}

		practitioners := api.Group("/practitioners")
		{
			practitioners.GET("/:id/availability", deps.Availability.GetWeek)
			practitioners.PUT("/:id/availability", deps.Availability.ReplaceWeek)
		}
	}

	return r
}
