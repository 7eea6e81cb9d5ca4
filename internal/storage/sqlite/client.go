package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/storage/models"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		item_type TEXT NOT NULL,
		title TEXT,
		tags TEXT,
		content TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		embedding TEXT,
		sentiment TEXT,
		priority TEXT,
		from_addr TEXT,
		to_addrs TEXT,
		cc_addrs TEXT,
		author TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_type ON items(item_type);
	CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);

	CREATE TABLE IF NOT EXISTS relationships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		strength REAL NOT NULL,
		confidence REAL NOT NULL,
		reason TEXT,
		criteria TEXT,
		weights TEXT,
		detected_at INTEGER NOT NULL,
		UNIQUE(source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_strength ON relationships(strength);

	CREATE TABLE IF NOT EXISTS detection_runs (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		total_found INTEGER,
		returned INTEGER,
		min_score REAL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_item ON detection_runs(item_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON detection_runs(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertItem(record *models.ItemRecord) error {
	tagsJSON, _ := json.Marshal(record.Tags)
	embeddingJSON, _ := json.Marshal(record.Embedding)
	toJSON, _ := json.Marshal(record.To)
	ccJSON, _ := json.Marshal(record.CC)

	query := `
		INSERT INTO items (id, item_type, title, tags, content, created_at, updated_at,
			embedding, sentiment, priority, from_addr, to_addrs, cc_addrs, author)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			item_type = excluded.item_type,
			title = excluded.title,
			tags = excluded.tags,
			content = excluded.content,
			updated_at = excluded.updated_at,
			embedding = excluded.embedding,
			sentiment = excluded.sentiment,
			priority = excluded.priority,
			from_addr = excluded.from_addr,
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			author = excluded.author
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.Type,
		record.Title,
		string(tagsJSON),
		record.Content,
		record.CreatedAt.Unix(),
		record.UpdatedAt.Unix(),
		string(embeddingJSON),
		record.Sentiment,
		record.Priority,
		record.From,
		string(toJSON),
		string(ccJSON),
		record.Author,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	logger.Debug("Item upserted", zap.String("item_id", record.ID))
	return nil
}

func (c *Client) GetItem(id string) (*models.ItemRecord, error) {
	query := `
		SELECT id, item_type, title, tags, content, created_at, updated_at,
			embedding, sentiment, priority, from_addr, to_addrs, cc_addrs, author
		FROM items WHERE id = ?
	`

	var record models.ItemRecord
	var tagsJSON, embeddingJSON, toJSON, ccJSON string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&record.ID,
		&record.Type,
		&record.Title,
		&tagsJSON,
		&record.Content,
		&createdAt,
		&updatedAt,
		&embeddingJSON,
		&record.Sentiment,
		&record.Priority,
		&record.From,
		&toJSON,
		&ccJSON,
		&record.Author,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	json.Unmarshal([]byte(tagsJSON), &record.Tags)
	json.Unmarshal([]byte(embeddingJSON), &record.Embedding)
	json.Unmarshal([]byte(toJSON), &record.To)
	json.Unmarshal([]byte(ccJSON), &record.CC)

	return &record, nil
}

func (c *Client) InsertRelationship(rel *models.RelationshipRecord) error {
	criteriaJSON, _ := json.Marshal(rel.Criteria)
	weightsJSON, _ := json.Marshal(rel.Weights)

	query := `
		INSERT INTO relationships (run_id, source_id, target_id, strength, confidence,
			reason, criteria, weights, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id) DO UPDATE SET
			run_id = excluded.run_id,
			strength = excluded.strength,
			confidence = excluded.confidence,
			reason = excluded.reason,
			criteria = excluded.criteria,
			weights = excluded.weights,
			detected_at = excluded.detected_at
	`

	_, err := c.db.Exec(
		query,
		rel.RunID,
		rel.SourceID,
		rel.TargetID,
		rel.Strength,
		rel.Confidence,
		rel.Reason,
		string(criteriaJSON),
		string(weightsJSON),
		rel.DetectedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}

	return nil
}

func (c *Client) GetRelationshipsForItem(itemID string, limit int) ([]models.RelationshipRecord, error) {
	query := `
		SELECT id, run_id, source_id, target_id, strength, confidence, reason,
			criteria, weights, detected_at
		FROM relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, itemID, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rows.Close()

	var records []models.RelationshipRecord
	for rows.Next() {
		var r models.RelationshipRecord
		var criteriaJSON, weightsJSON string
		var detectedAt int64

		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.SourceID,
			&r.TargetID,
			&r.Strength,
			&r.Confidence,
			&r.Reason,
			&criteriaJSON,
			&weightsJSON,
			&detectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.DetectedAt = time.Unix(detectedAt, 0).UTC()
		json.Unmarshal([]byte(criteriaJSON), &r.Criteria)
		json.Unmarshal([]byte(weightsJSON), &r.Weights)
		records = append(records, r)
	}

	return records, nil
}

func (c *Client) DeleteItem(id string) error {
	result, err := c.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("item %s not found", id)
	}

	logger.Debug("Item deleted", zap.String("item_id", id))
	return nil
}

func (c *Client) DeleteRelationshipsForItem(itemID string) error {
	_, err := c.db.Exec(
		`DELETE FROM relationships WHERE source_id = ? OR target_id = ?`,
		itemID, itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}

	logger.Debug("Relationships deleted", zap.String("item_id", itemID))
	return nil
}

func (c *Client) InsertDetectionRun(run *models.DetectionRun) error {
	query := `
		INSERT INTO detection_runs (id, item_id, mode, total_found, returned,
			min_score, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		run.ID,
		run.ItemID,
		run.Mode,
		run.TotalFound,
		run.Returned,
		run.MinScore,
		run.LatencyMS,
		run.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert detection run: %w", err)
	}

	logger.Debug("Detection run recorded",
		zap.String("run_id", run.ID),
		zap.String("item_id", run.ItemID),
		zap.Int("returned", run.Returned),
	)

	return nil
}
