package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/middleware/validation"
	"github.com/querylift/backend/internal/query"
	"github.com/querylift/backend/internal/storage/sqlite"
	"github.com/querylift/backend/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
}

func NewQueryHandler(queryEngine *query.Engine) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

type queryRequest struct {
	Query          string         `json:"query"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	PreviousHits   int            `json:"previous_hits"`
	PriorQuery     string         `json:"prior_query"`
	Profile        domain.Profile `json:"profile"`
}

func (r queryRequest) context() domain.QueryContext {
	return domain.QueryContext{
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		PreviousHits:   r.PreviousHits,
		PriorQuery:     r.PriorQuery,
	}
}

func parseQueryRequest(c *fiber.Ctx) (queryRequest, error) {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "parse body", err)
	}
	if sanitized, ok := c.Locals(validation.LocalQuery).(string); ok {
		req.Query = sanitized
	}
	if req.Query == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "parse body", errors.New("query is required"))
	}
	if req.PreviousHits < 0 {
		return req, domain.WrapError(domain.ErrInvalidInput, "parse body", errors.New("previous_hits must not be negative"))
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}
	return req, nil
}

// HandleProcess runs the uplift pipeline only.
func (h *QueryHandler) HandleProcess(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		logger.Debug("Rejected process request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return c.JSON(h.queryEngine.Process(c.UserContext(), req.Query, req.context()))
}

// HandleRetrieve runs the pipeline and retrieval, returning fused
// candidates and the top_k context slice.
func (h *QueryHandler) HandleRetrieve(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		logger.Debug("Rejected retrieve request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	return c.JSON(h.queryEngine.Search(c.UserContext(), req.Query, req.context(), req.Profile))
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	history, err := h.queryEngine.History(c.UserContext(), userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}

func (h *QueryHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		Helpful *bool  `json:"helpful"`
		Comment string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil || req.QueryID == "" || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id and helpful are required",
		})
	}

	err := h.queryEngine.Feedback(c.UserContext(), req.QueryID, *req.Helpful, req.Comment)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown query_id",
		})
	}
	if err != nil {
		logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Feedback recorded",
	})
}
