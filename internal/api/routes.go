package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/api/handlers"
	"github.com/querylift/backend/internal/cache"
	"github.com/querylift/backend/internal/evaluation"
	"github.com/querylift/backend/internal/ingestion"
	"github.com/querylift/backend/internal/metrics"
	"github.com/querylift/backend/internal/middleware/validation"
	"github.com/querylift/backend/internal/query"
)

type Deps struct {
	Engine         *query.Engine
	Processor      *ingestion.Processor
	Checks         map[string]handlers.Check
	Purger         cache.Purger
	MaxQueryLength int
	Logger         *zap.Logger
}

// Register mounts the HTTP and websocket routes on app.
func Register(app *fiber.App, deps Deps) {
	queryHandler := handlers.NewQueryHandler(deps.Engine)
	documentHandler := handlers.NewDocumentHandler(deps.Processor)
	healthHandler := handlers.NewHealthHandler(deps.Checks, deps.Purger)
	wsHandler := handlers.NewWebSocketHandler(deps.Engine, deps.MaxQueryLength)
	evalHandler := handlers.NewEvaluationHandler(evaluation.NewEvaluator(deps.Engine))

	validate := validation.QueryBody(validation.Config{
		MaxQueryLength: deps.MaxQueryLength,
		Logger:         deps.Logger,
	})

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/query/process", validate, queryHandler.HandleProcess)
	api.Post("/query/retrieve", validate, queryHandler.HandleRetrieve)
	api.Get("/query/history", queryHandler.GetQueryHistory)
	api.Post("/query/feedback", queryHandler.SubmitFeedback)

	api.Post("/documents", documentHandler.UploadDocuments)
	api.Post("/evaluate", evalHandler.RunEvaluation)

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)
	api.Post("/cache/purge", healthHandler.PurgeCache)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/search", websocket.New(wsHandler.HandleConnection))
}
