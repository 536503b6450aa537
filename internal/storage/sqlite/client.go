package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/storage/models"
	"github.com/querylift/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_records (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		conversation_id TEXT,
		query_text TEXT NOT NULL,
		final_query TEXT NOT NULL,
		expansions TEXT NOT NULL DEFAULT '[]',
		task_type TEXT,
		complexity TEXT,
		uplift_confidence REAL,
		used_original INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		fallback_reason TEXT,
		profile TEXT,
		candidate_count INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_user ON query_records(user_id);
	CREATE INDEX IF NOT EXISTS idx_records_created ON query_records(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		query_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		candidate_id TEXT NOT NULL,
		lexical_score REAL,
		semantic_score REAL,
		rerank_score REAL,
		PRIMARY KEY (query_id, rank),
		FOREIGN KEY (query_id) REFERENCES query_records(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertQueryRecord writes the record and its sources in one transaction.
func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord, sources []models.QuerySource) error {
	expansions, err := json.Marshal(nonNil(record.Expansions))
	if err != nil {
		return fmt.Errorf("failed to marshal expansions: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_records (id, user_id, conversation_id, query_text, final_query, expansions,
			task_type, complexity, uplift_confidence, used_original, degraded, cache_hit,
			fallback_reason, profile, candidate_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.ConversationID,
		record.QueryText,
		record.FinalQuery,
		string(expansions),
		record.TaskType,
		record.Complexity,
		record.UpliftConfidence,
		record.UsedOriginal,
		record.Degraded,
		record.CacheHit,
		record.FallbackReason,
		record.Profile,
		record.CandidateCount,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, s := range sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, rank, candidate_id, lexical_score, semantic_score, rerank_score) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, s.Rank, s.CandidateID, s.LexicalScore, s.SemanticScore, s.RerankScore,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("sources", len(sources)),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, query_text, final_query, expansions, task_type, complexity,
			uplift_confidence, used_original, degraded, cache_hit, fallback_reason, profile,
			candidate_count, latency_ms, created_at
		FROM query_records
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := make([]models.QueryRecord, 0, limit)
	for rows.Next() {
		var r models.QueryRecord
		var expansions string
		var fallback, profile sql.NullString
		var createdAt int64

		err := rows.Scan(&r.ID, &r.UserID, &r.ConversationID, &r.QueryText, &r.FinalQuery, &expansions,
			&r.TaskType, &r.Complexity, &r.UpliftConfidence, &r.UsedOriginal, &r.Degraded, &r.CacheHit,
			&fallback, &profile, &r.CandidateCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(expansions), &r.Expansions); err != nil {
			return nil, fmt.Errorf("failed to decode expansions for %s: %w", r.ID, err)
		}
		r.FallbackReason = fallback.String
		r.Profile = profile.String
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query history: %w", err)
	}

	return records, nil
}

func (c *Client) GetQuerySources(ctx context.Context, queryID string) ([]models.QuerySource, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT query_id, rank, candidate_id, lexical_score, semantic_score, rerank_score
		FROM query_sources
		WHERE query_id = ?
		ORDER BY rank`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		var lexical, semantic, rerank sql.NullFloat64
		if err := rows.Scan(&s.QueryID, &s.Rank, &s.CandidateID, &lexical, &semantic, &rerank); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		s.LexicalScore = nullable(lexical)
		s.SemanticScore = nullable(semantic)
		s.RerankScore = nullable(rerank)
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM query_records WHERE id = ?`, feedback.QueryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query %s: %w", feedback.QueryID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up query: %w", err)
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO feedback (query_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`,
		feedback.QueryID, feedback.Helpful, feedback.Comment, feedback.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	feedback.ID, _ = res.LastInsertId()
	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)
	return nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
