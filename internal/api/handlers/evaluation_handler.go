package handlers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/evaluation"
	"github.com/querylift/backend/pkg/logger"
)

type EvaluationHandler struct {
	evaluator *evaluation.Evaluator
	maxItems  int
}

func NewEvaluationHandler(evaluator *evaluation.Evaluator) *EvaluationHandler {
	return &EvaluationHandler{evaluator: evaluator, maxItems: 200}
}

// RunEvaluation scores a labelled dataset, comparing retrieval for raw and
// processed queries. Add ?format=text for the plain report.
func (h *EvaluationHandler) RunEvaluation(c *fiber.Ctx) error {
	dataset, err := evaluation.LoadDataset(bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid dataset",
		})
	}
	if len(dataset.Items) == 0 || len(dataset.Items) > h.maxItems {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Dataset must hold between 1 and 200 items",
		})
	}

	report, err := h.evaluator.RunDatasetEvaluation(c.UserContext(), dataset)
	if err != nil {
		logger.Error("Evaluation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Evaluation failed",
		})
	}

	if c.Query("format") == "text" {
		return c.SendString(evaluation.GenerateReport(report))
	}
	return c.JSON(report)
}
