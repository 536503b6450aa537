package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/internal/middleware/validation"
	"github.com/querylift/backend/internal/query"
	"github.com/querylift/backend/pkg/logger"
)

// WebSocketHandler runs searches over a socket, sending the processed query
// first and then each context candidate as it is ranked.
type WebSocketHandler struct {
	queryEngine    *query.Engine
	maxQueryLength int
}

func NewWebSocketHandler(queryEngine *query.Engine, maxQueryLength int) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine:    queryEngine,
		maxQueryLength: maxQueryLength,
	}
}

type socketMessage struct {
	Type           string         `json:"type"`
	Query          string         `json:"query"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	PreviousHits   int            `json:"previous_hits"`
	PriorQuery     string         `json:"prior_query"`
	Profile        domain.Profile `json:"profile"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg socketMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "search" {
			h.sendError(c, "unsupported message type")
			continue
		}

		text := validation.Sanitize(msg.Query)
		if text == "" || len([]rune(text)) > h.maxQueryLength {
			h.sendError(c, "invalid query")
			continue
		}

		if err := h.stream(c, text, msg); err != nil {
			logger.Warn("Failed to stream search", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) stream(c *websocket.Conn, queryText string, msg socketMessage) error {
	res := h.queryEngine.Search(context.Background(), queryText, domain.QueryContext{
		UserID:         msg.UserID,
		ConversationID: msg.ConversationID,
		PreviousHits:   msg.PreviousHits,
		PriorQuery:     msg.PriorQuery,
	}, msg.Profile)

	for _, ev := range searchEvents(res) {
		if err := c.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}

// searchEvents lays out the socket frames for one search result.
func searchEvents(res query.SearchResult) []map[string]any {
	events := make([]map[string]any, 0, len(res.Context)+2)
	events = append(events, map[string]any{
		"type":      "processed",
		"processed": res.Processed,
		"params":    res.Params,
	})
	for i, cand := range res.Context {
		events = append(events, map[string]any{
			"type":      "candidate",
			"rank":      i,
			"candidate": cand,
		})
	}
	events = append(events, map[string]any{
		"type":       "complete",
		"query_id":   res.Processed.Metadata.QueryID,
		"candidates": len(res.Candidates),
	})
	return events
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	}); err != nil {
		logger.Debug("Failed to send websocket error", zap.Error(err))
	}
}
