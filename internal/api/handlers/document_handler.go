package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/ingestion"
	"github.com/querylift/backend/internal/search/bm25"
	"github.com/querylift/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

// UploadDocuments adds documents to the live indexes.
func (h *DocumentHandler) UploadDocuments(c *fiber.Ctx) error {
	var req struct {
		Documents []bm25.Document `json:"documents"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	docs := req.Documents[:0]
	for _, d := range req.Documents {
		if d.ID != "" && d.Text != "" {
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one document with id and text is required",
		})
	}

	stats, err := h.processor.Process(c.UserContext(), docs)
	if err != nil {
		logger.Error("Failed to ingest documents", zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Documents ingested",
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
		"embedded":  stats.Embedded,
	})
}
