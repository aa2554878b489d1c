package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/classmark/classmark-api/internal/config"
	"github.com/classmark/classmark-api/internal/handler"
	"github.com/classmark/classmark-api/internal/middleware"
	"github.com/classmark/classmark-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ExerciseHandler   *handler.ExerciseHandler
	SubmissionHandler *handler.SubmissionHandler
	GradingHandler    *handler.GradingHandler
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/api/v1/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	teacherOnly := middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin)
	studentOnly := middleware.RequireRole(middleware.RoleStudent)

	api := app.Group("/api/v1", jwtMiddleware, func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	exercises := api.Group("/exercises")
	submissions := api.Group("/submissions")

	if deps.ExerciseHandler != nil {
		deps.ExerciseHandler.Register(exercises, teacherOnly)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions, exercises, teacherOnly, studentOnly)
	}

	if deps.GradingHandler != nil {
		// Grading runs fan out to the external oracle; keep triggers infrequent.
		gradeLimiter := middleware.RateLimit("grade", 5, time.Minute)
		deps.GradingHandler.Register(exercises, submissions, teacherOnly, gradeLimiter)
	}
}
