package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/TextCartHQ/TextCart/internal/models"
)

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSONColumn serializes a value for a nullable JSON column.
// Empty maps and slices are stored as NULL.
func marshalJSONColumn(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case *models.Entities:
		if t.IsEmpty() {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal JSON column failed: %w", err)
	}
	return string(b), nil
}

// scanConversation scans a conversation row, decoding JSON columns.
func scanConversation(scanner rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var state string
	var contextJSON, quotedJSON sql.NullString
	err := scanner.Scan(
		&conv.ID, &conv.TenantID, &conv.CustomerIdentifier, &state,
		&contextJSON, &quotedJSON, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.State = models.ConversationState(state)

	conv.ContextData = make(map[string]string)
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &conv.ContextData); err != nil {
			// Continue with an empty map rather than failing the read.
			slog.Error("scanConversation context_data unmarshal failed", "error", err, "conversationID", conv.ID)
			conv.ContextData = make(map[string]string)
		}
	}
	if quotedJSON.Valid && quotedJSON.String != "" {
		if err := json.Unmarshal([]byte(quotedJSON.String), &conv.LastQuotedProducts); err != nil {
			slog.Error("scanConversation last_quoted_products unmarshal failed", "error", err, "conversationID", conv.ID)
			conv.LastQuotedProducts = nil
		}
	}
	return &conv, nil
}

// scanMessage scans a message row, decoding the entities column.
func scanMessage(scanner rowScanner) (models.Message, error) {
	var m models.Message
	var intent, entitiesJSON sql.NullString
	err := scanner.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Body, &intent, &entitiesJSON, &m.CreatedAt)
	if err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	if intent.Valid {
		m.Intent = models.Intent(intent.String)
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" {
		var ents models.Entities
		if err := json.Unmarshal([]byte(entitiesJSON.String), &ents); err != nil {
			slog.Error("scanMessage entities unmarshal failed", "error", err, "messageID", m.ID)
		} else {
			m.Entities = &ents
		}
	}
	return m, nil
}
