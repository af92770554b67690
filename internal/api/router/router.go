package router

import (
	"github.com/gin-gonic/gin"

	"github.com/aliskhannn/generation-pipeline/internal/api/handlers/generation"
	"github.com/aliskhannn/generation-pipeline/internal/api/handlers/jobs"
)

// Setup registers the API routes.
func Setup(jh *jobs.Handler, gh *generation.Handler) *gin.Engine {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/health", jh.Health) // job store reachability

	api.POST("/jobs", jh.Submit)               // enqueue a job
	api.GET("/jobs/stats", jh.Stats)           // queue counts
	api.GET("/jobs/:id/progress", jh.Progress) // latest progress of a job
	api.GET("/dead-letters", jh.DeadLetters)   // archived failed jobs

	api.POST("/generations", gh.Create) // create a pending generation
	api.GET("/generations/:id", gh.Get) // getting generation by id

	return r
}
