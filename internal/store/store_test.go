package store

import (
	"testing"
	"time"

	"github.com/TextCartHQ/TextCart/internal/models"
)

func TestUpsertConversationIdempotent(t *testing.T) {
	s := NewInMemoryStore()

	first, err := s.UpsertConversation("t1", "911234567890")
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if first.State != models.StateInitial {
		t.Errorf("expected INITIAL for new conversation, got %s", first.State)
	}

	second, err := s.UpsertConversation("t1", "911234567890")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same conversation row, got %s and %s", first.ID, second.ID)
	}
}

func TestConversationsAreTenantScoped(t *testing.T) {
	s := NewInMemoryStore()

	a, _ := s.UpsertConversation("tenant-a", "911234567890")
	b, _ := s.UpsertConversation("tenant-b", "911234567890")
	if a.ID == b.ID {
		t.Error("expected distinct conversations for the same identifier across tenants")
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := NewInMemoryStore()
	conv, err := s.GetConversation("t1", "911234567890")
	if err != nil {
		t.Fatalf("expected no error for missing row, got %v", err)
	}
	if conv != nil {
		t.Errorf("expected nil conversation, got %+v", conv)
	}
}

func TestSaveAndResetConversation(t *testing.T) {
	s := NewInMemoryStore()
	conv, _ := s.UpsertConversation("t1", "911234567890")

	if err := s.SaveConversationState(conv.ID, models.StateCartActive); err != nil {
		t.Fatalf("SaveConversationState failed: %v", err)
	}
	if err := s.SaveContextData(conv.ID, map[string]string{"gstin": "27AAAAA0000A1Z5"}); err != nil {
		t.Fatalf("SaveContextData failed: %v", err)
	}
	if err := s.SaveLastQuoted(conv.ID, []string{"10X140"}); err != nil {
		t.Fatalf("SaveLastQuoted failed: %v", err)
	}

	loaded, _ := s.GetConversationByID(conv.ID)
	if loaded.State != models.StateCartActive {
		t.Errorf("expected CART_ACTIVE, got %s", loaded.State)
	}
	if loaded.ContextData["gstin"] == "" || len(loaded.LastQuotedProducts) != 1 {
		t.Errorf("context not persisted: %+v", loaded)
	}

	if err := s.ResetConversation(conv.ID); err != nil {
		t.Fatalf("ResetConversation failed: %v", err)
	}
	loaded, _ = s.GetConversationByID(conv.ID)
	if loaded.State != models.StateInitial || len(loaded.ContextData) != 0 || loaded.LastQuotedProducts != nil {
		t.Errorf("expected clean state after reset, got %+v", loaded)
	}
}

func TestSaveMessageValidation(t *testing.T) {
	s := NewInMemoryStore()

	if err := s.SaveMessage(models.Message{Body: "hi"}); err == nil {
		t.Error("expected error for missing conversation id")
	}
	if err := s.SaveMessage(models.Message{ConversationID: "c1"}); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestGetRecentMessagesOrderAndLimit(t *testing.T) {
	s := NewInMemoryStore()
	conv, _ := s.UpsertConversation("t1", "911234567890")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		err := s.SaveMessage(models.Message{
			ConversationID: conv.ID,
			Sender:         models.SenderCustomer,
			Body:           string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	msgs, err := s.GetRecentMessages(conv.ID, 3)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Oldest first within the window: h, i, j.
	if msgs[0].Body != "h" || msgs[2].Body != "j" {
		t.Errorf("unexpected window contents: %v %v %v", msgs[0].Body, msgs[1].Body, msgs[2].Body)
	}
}

func TestPruneMessages(t *testing.T) {
	s := NewInMemoryStore()
	conv, _ := s.UpsertConversation("t1", "911234567890")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		_ = s.SaveMessage(models.Message{
			ConversationID: conv.ID,
			Sender:         models.SenderCustomer,
			Body:           "m",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	if err := s.PruneMessages(conv.ID, 5); err != nil {
		t.Fatalf("PruneMessages failed: %v", err)
	}
	count, _ := s.CountMessages(conv.ID)
	if count != 5 {
		t.Errorf("expected 5 messages after prune, got %d", count)
	}
}

func TestDedupRepo(t *testing.T) {
	s := NewInMemoryStore()

	fresh, err := s.RecordInbound("SM123", "c1")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !fresh {
		t.Error("expected first record to be fresh")
	}

	fresh, err = s.RecordInbound("SM123", "c1")
	if err != nil {
		t.Fatalf("second RecordInbound failed: %v", err)
	}
	if fresh {
		t.Error("expected replayed message id to be a duplicate")
	}

	dup, err := s.IsDuplicate("SM123")
	if err != nil || !dup {
		t.Errorf("expected IsDuplicate true, got %t (%v)", dup, err)
	}
	if err := s.MarkProcessed("SM123"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://user:pw@host/db":    "postgres",
		"postgresql://user:pw@host/db":  "postgres",
		"host=localhost dbname=tc":      "postgres",
		"/var/lib/textcart/textcart.db": "sqlite",
		"textcart.db":                   "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}
