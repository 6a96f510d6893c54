// Package store provides storage backends for TextCart.
//
// This file implements an SQLite-backed store for conversations and messages.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const conversationColumns = `id, tenant_id, customer_identifier, state, context_data, last_quoted_products, created_at, updated_at`

func (s *SQLiteStore) GetConversation(tenantID, identifier string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = ? AND customer_identifier = ?`,
		tenantID, identifier,
	)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "tenantID", tenantID, "identifier", identifier)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversationByID(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationByID failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation by id: %w", err)
	}
	return conv, nil
}

// UpsertConversation returns the existing conversation or atomically creates
// one. ON CONFLICT DO NOTHING keeps two racing first messages from producing
// duplicate rows.
func (s *SQLiteStore) UpsertConversation(tenantID, identifier string) (*models.Conversation, error) {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, tenant_id, customer_identifier, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, customer_identifier) DO NOTHING`,
		uuid.NewString(), tenantID, identifier, string(models.StateInitial), now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore UpsertConversation insert failed", "error", err, "tenantID", tenantID, "identifier", identifier)
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	conv, err := s.GetConversation(tenantID, identifier)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation missing after upsert for tenant %s", tenantID)
	}
	slog.Debug("SQLiteStore UpsertConversation succeeded", "conversationID", conv.ID, "state", conv.State)
	return conv, nil
}

func (s *SQLiteStore) SaveConversationState(conversationID string, state models.ConversationState) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "conversationID", conversationID, "state", state)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "conversationID", conversationID, "state", state)
	return nil
}

func (s *SQLiteStore) SaveContextData(conversationID string, data map[string]string) error {
	contextJSON, err := marshalJSONColumn(data)
	if err != nil {
		slog.Error("SQLiteStore SaveContextData marshal failed", "error", err, "conversationID", conversationID)
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET context_data = ?, updated_at = ? WHERE id = ?`,
		contextJSON, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveContextData failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save context data: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveLastQuoted(conversationID string, products []string) error {
	quotedJSON, err := marshalJSONColumn(products)
	if err != nil {
		slog.Error("SQLiteStore SaveLastQuoted marshal failed", "error", err, "conversationID", conversationID)
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET last_quoted_products = ?, updated_at = ? WHERE id = ?`,
		quotedJSON, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveLastQuoted failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to save last quoted products: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetConversation(conversationID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET state = ?, context_data = NULL, last_quoted_products = NULL, updated_at = ? WHERE id = ?`,
		string(models.StateInitial), time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore ResetConversation failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	slog.Debug("SQLiteStore ResetConversation succeeded", "conversationID", conversationID)
	return nil
}

func (s *SQLiteStore) SaveMessage(msg models.Message) error {
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
		slog.Error("SQLiteStore SaveMessage entities marshal failed", "error", err, "conversationID", msg.ConversationID)
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO messages (id, conversation_id, sender, body, intent, entities, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Body, nilIfEmpty(string(msg.Intent)), entitiesJSON, msg.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message: %w", err)
	}
	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage activity bump failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to bump conversation activity: %w", err)
	}
	slog.Debug("SQLiteStore SaveMessage succeeded", "conversationID", msg.ConversationID, "sender", msg.Sender)
	return nil
}

func (s *SQLiteStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, sender, body, intent, entities, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore GetRecentMessages scan failed", "error", err, "conversationID", conversationID)
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetRecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}

	// Query returns newest first; callers expect oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) CountMessages(conversationID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore CountMessages failed", "error", err, "conversationID", conversationID)
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) PruneMessages(conversationID string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(
		`DELETE FROM messages WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		)`,
		conversationID, conversationID, keep,
	)
	if err != nil {
		slog.Error("SQLiteStore PruneMessages failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to prune messages: %w", err)
	}
	slog.Debug("SQLiteStore PruneMessages succeeded", "conversationID", conversationID, "keep", keep)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
