// Package store provides storage backends for TextCart.
//
// This file implements a PostgreSQL-backed store for conversations and messages.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time checks that PostgresStore implements Store and DedupRepo.
var (
	_ Store     = (*PostgresStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversation(tenantID, identifier string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND customer_identifier = $2`,
		tenantID, identifier,
	)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "tenantID", tenantID, "identifier", identifier)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversationByID(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationByID failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation by id: %w", err)
	}
	return conv, nil
}

// UpsertConversation returns the existing conversation or atomically creates
// one. ON CONFLICT DO NOTHING keeps two racing first messages from producing
// duplicate rows.
func (s *PostgresStore) UpsertConversation(tenantID, identifier string) (*models.Conversation, error) {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, tenant_id, customer_identifier, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, customer_identifier) DO NOTHING`,
		uuid.NewString(), tenantID, identifier, string(models.StateInitial), now, now,
	)
	if err != nil {
		slog.Error("PostgresStore UpsertConversation insert failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	conv, err := s.GetConversation(tenantID, identifier)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation missing after upsert for tenant %s", tenantID)
	}
	slog.Debug("PostgresStore UpsertConversation succeeded", "conversationID", conv.ID, "state", conv.State)
	return conv, nil
}

func (s *PostgresStore) SaveConversationState(conversationID string, state models.ConversationState) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "conversationID", conversationID, "state", state)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "conversationID", conversationID, "state", state)
	return nil
}

func (s *PostgresStore) SaveContextData(conversationID string, data map[string]string) error {
	contextJSON, err := marshalJSONColumn(data)
	if err != nil {
		slog.Error("PostgresStore SaveContextData marshal failed", "error", err, "conversationID", conversationID)
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET context_data = $1, updated_at = $2 WHERE id = $3`,
		contextJSON, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore SaveContextData failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save context data: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveLastQuoted(conversationID string, products []string) error {
	quotedJSON, err := marshalJSONColumn(products)
	if err != nil {
		slog.Error("PostgresStore SaveLastQuoted marshal failed", "error", err, "conversationID", conversationID)
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET last_quoted_products = $1, updated_at = $2 WHERE id = $3`,
		quotedJSON, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore SaveLastQuoted failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save last quoted products: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetConversation(conversationID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = $1, context_data = NULL, last_quoted_products = NULL, updated_at = $2 WHERE id = $3`,
		string(models.StateInitial), time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore ResetConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	slog.Debug("PostgresStore ResetConversation succeeded", "conversationID", conversationID)
	return nil
}

func (s *PostgresStore) SaveMessage(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	entitiesJSON, err := marshalJSONColumn(msg.Entities)
	if err != nil {
		slog.Error("PostgresStore SaveMessage entities marshal failed", "error", err, "conversationID", msg.ConversationID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO messages (id, conversation_id, sender, body, intent, entities, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Body, nilIfEmpty(string(msg.Intent)), entitiesJSON, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		slog.Error("PostgresStore SaveMessage activity bump failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to bump conversation activity: %w", err)
	}
	slog.Debug("PostgresStore SaveMessage succeeded", "conversationID", msg.ConversationID, "sender", msg.Sender)
	return nil
}

func (s *PostgresStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, sender, body, intent, entities, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore GetRecentMessages scan failed", "error", err, "conversationID", conversationID)
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetRecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresStore) CountMessages(conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore CountMessages failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) PruneMessages(conversationID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM messages WHERE conversation_id = $1 AND id NOT IN (
			SELECT id FROM messages WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		)`,
		conversationID, keep,
	)
	if err != nil {
		slog.Error("PostgresStore PruneMessages failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to prune messages: %w", err)
	}
	slog.Debug("PostgresStore PruneMessages succeeded", "conversationID", conversationID, "keep", keep)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
