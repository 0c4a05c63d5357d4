// Package postgres is the PostgreSQL Context Store, built on a pgx pool.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

var _ store.Store = (*DB)(nil)

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string, log *logger.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, logger: log}, nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Migrate applies the embedded migrations that have not run yet, in file order.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to load applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to load applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || done[name] {
			continue
		}

		content, err := fs.ReadFile(migrations, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		db.logger.Info("running migration", zap.String("file", name))
		if _, err := db.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := db.pool.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
	}
	return nil
}

const conversationColumns = `id::text, call_id, user_name, topic, stage, created_at, updated_at,
	ended_at, message_count, full_transcript, recording_url`

// CreateConversation inserts a new conversation.
func (db *DB) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversations (id, call_id, user_name, topic, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conv.ID, conv.CallID, conv.UserName, conv.Topic, conv.Stage, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return store.ErrDuplicateCall
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (db *DB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// GetConversationByCallID retrieves a conversation by external call reference.
func (db *DB) GetConversationByCallID(ctx context.Context, callID string) (*model.Conversation, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE call_id = $1`, callID)
	return scanConversation(row)
}

// UpdateConversation applies the non-empty fields of upd.
func (db *DB) UpdateConversation(ctx context.Context, id string, upd model.ConversationUpdate) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE conversations
		 SET user_name = COALESCE(NULLIF($2, ''), user_name),
		     topic = COALESCE(NULLIF($3, ''), topic),
		     stage = COALESCE(NULLIF($4, ''), stage),
		     updated_at = now()
		 WHERE id = $1`,
		id, upd.UserName, upd.Topic, upd.Stage,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveTranscriptIfAbsent writes the transcript with a conditional update so
// concurrent termination triggers cannot overwrite each other.
func (db *DB) SaveTranscriptIfAbsent(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	return db.saveTranscript(ctx, id, transcript, recordingURL, `full_transcript IS NULL`)
}

// ReplaceErrorMarker is SaveTranscriptIfAbsent that may also overwrite an error marker.
func (db *DB) ReplaceErrorMarker(ctx context.Context, id string, transcript *model.Transcript, recordingURL string) (bool, error) {
	return db.saveTranscript(ctx, id, transcript, recordingURL,
		`(full_transcript IS NULL OR full_transcript->>'source' = '`+string(model.TranscriptSourceError)+`')`)
}

func (db *DB) saveTranscript(ctx context.Context, id string, transcript *model.Transcript, recordingURL, condition string) (bool, error) {
	data, err := json.Marshal(transcript)
	if err != nil {
		return false, fmt.Errorf("failed to marshal transcript: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE conversations
		 SET full_transcript = $2,
		     recording_url = COALESCE(recording_url, NULLIF($3, '')),
		     updated_at = now()
		 WHERE id = $1 AND `+condition,
		id, data, recordingURL,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save transcript: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

// MarkEnded stamps the end time once and keeps the largest message count.
func (db *DB) MarkEnded(ctx context.Context, id string, endedAt time.Time, messageCount int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE conversations
		 SET ended_at = COALESCE(ended_at, $2),
		     message_count = GREATEST(message_count, $3),
		     updated_at = now()
		 WHERE id = $1`,
		id, endedAt, messageCount,
	)
	if err != nil {
		return fmt.Errorf("failed to mark conversation ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMissingTranscripts returns conversations created in [since, until) with
// no transcript or only an error marker.
func (db *DB) ListMissingTranscripts(ctx context.Context, since, until time.Time, limit int) ([]*model.Conversation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE (full_transcript IS NULL OR full_transcript->>'source' = 'error_marker')
		   AND created_at >= $1 AND created_at < $2
		 ORDER BY created_at
		 LIMIT $3`,
		since, until, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return out, nil
}

// AppendEvent inserts a context event.
func (db *DB) AppendEvent(ctx context.Context, event *model.ContextEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO context_events (id, conversation_id, kind, payload, stage, speaker, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.ConversationID, string(event.Kind), payload, event.Stage, string(event.Speaker), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a conversation's events oldest first, optionally filtered by kind.
func (db *DB) ListEvents(ctx context.Context, conversationID string, kinds ...model.EventKind) ([]model.ContextEvent, error) {
	filter := make([]string, len(kinds))
	for i, k := range kinds {
		filter[i] = string(k)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id::text, conversation_id::text, kind, payload, stage, speaker, created_at
		 FROM context_events
		 WHERE conversation_id = $1 AND (cardinality($2::text[]) = 0 OR kind = ANY($2))
		 ORDER BY created_at, id`,
		conversationID, filter,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []model.ContextEvent
	for rows.Next() {
		var (
			e       model.ContextEvent
			kind    string
			speaker string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &kind, &payload, &e.Stage, &speaker, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		e.Speaker = model.Speaker(speaker)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		conv       model.Conversation
		transcript []byte
	)
	err := row.Scan(
		&conv.ID, &conv.CallID, &conv.UserName, &conv.Topic, &conv.Stage, &conv.CreatedAt, &conv.UpdatedAt,
		&conv.EndedAt, &conv.MessageCount, &transcript, &conv.RecordingURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if len(transcript) > 0 {
		var t model.Transcript
		if err := json.Unmarshal(transcript, &t); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
		conv.FullTranscript = &t
	}
	return &conv, nil
}
