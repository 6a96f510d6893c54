// Package store provides storage backends for TextCart.
//
// It includes an in-memory store for tests and development, plus persistent
// SQLite and PostgreSQL backends.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/google/uuid"
)

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store defines persistence operations over conversations and messages.
// Conversation rows are created lazily through UpsertConversation, which must
// be safe to call concurrently for the same (tenant, identifier) pair.
type Store interface {
	// GetConversation returns the conversation for a (tenant, identifier)
	// pair, or nil if no row exists.
	GetConversation(tenantID, identifier string) (*models.Conversation, error)

	// GetConversationByID returns the conversation with the given id, or nil.
	GetConversationByID(id string) (*models.Conversation, error)

	// UpsertConversation returns the existing conversation for the pair or
	// atomically creates one in the INITIAL state.
	UpsertConversation(tenantID, identifier string) (*models.Conversation, error)

	// SaveConversationState updates the state of a conversation.
	SaveConversationState(conversationID string, state models.ConversationState) error

	// SaveContextData replaces the conversation's context data map.
	SaveContextData(conversationID string, data map[string]string) error

	// SaveLastQuoted replaces the conversation's last quoted product list.
	SaveLastQuoted(conversationID string, products []string) error

	// ResetConversation returns a conversation to INITIAL and clears its
	// context data and quoted products.
	ResetConversation(conversationID string) error

	// SaveMessage appends a message to the conversation log and bumps the
	// conversation's activity timestamp.
	SaveMessage(msg models.Message) error

	// GetRecentMessages returns up to limit most recent messages for a
	// conversation, oldest first.
	GetRecentMessages(conversationID string, limit int) ([]models.Message, error)

	// CountMessages returns the number of stored messages for a conversation.
	CountMessages(conversationID string) (int, error)

	// PruneMessages deletes all but the keep most recent messages.
	PruneMessages(conversationID string, keep int) error

	// Close releases backend resources.
	Close() error
}

// InMemoryStore is a simple in-memory store for tests and development.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation // keyed by tenant|identifier
	byID          map[string]*models.Conversation
	messages      map[string][]models.Message // keyed by conversation id
	dedup         map[string]*DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.Conversation),
		byID:          make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		dedup:         make(map[string]*DedupRecord),
	}
}

func convKey(tenantID, identifier string) string {
	return tenantID + "|" + identifier
}

func (s *InMemoryStore) GetConversation(tenantID, identifier string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convKey(tenantID, identifier)]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (s *InMemoryStore) GetConversationByID(id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (s *InMemoryStore) UpsertConversation(tenantID, identifier string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := convKey(tenantID, identifier)
	if conv, ok := s.conversations[key]; ok {
		copied := *conv
		return &copied, nil
	}
	now := time.Now()
	conv := &models.Conversation{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		CustomerIdentifier: identifier,
		State:              models.StateInitial,
		ContextData:        make(map[string]string),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.conversations[key] = conv
	s.byID[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *InMemoryStore) SaveConversationState(conversationID string, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	conv.State = state
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SaveContextData(conversationID string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	conv.ContextData = copied
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SaveLastQuoted(conversationID string, products []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	conv.LastQuotedProducts = append([]string(nil), products...)
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) ResetConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil
	}
	conv.State = models.StateInitial
	conv.ContextData = make(map[string]string)
	conv.LastQuotedProducts = nil
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SaveMessage(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	if conv, ok := s.byID[msg.ConversationID]; ok {
		conv.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (s *InMemoryStore) GetRecentMessages(conversationID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	sorted := append([]models.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

func (s *InMemoryStore) CountMessages(conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID]), nil
}

func (s *InMemoryStore) PruneMessages(conversationID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if keep <= 0 || len(msgs) <= keep {
		return nil
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	s.messages[conversationID] = append([]models.Message(nil), msgs[len(msgs)-keep:]...)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
