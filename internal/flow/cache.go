package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/models"
)

const (
	// defaultCacheTTL bounds how long an AI fallback reply is reused for the
	// same normalized message within a tenant.
	defaultCacheTTL = 10 * time.Minute

	fallbackReplyTimeout = 5 * time.Second
)

const fallbackSystemPrompt = `You are a helpful wholesale commerce assistant replying on a business chat.
Answer the customer's message briefly and helpfully in under 50 words.
If the message is about products, prices or orders, ask them to send the product code.
No emojis, no markdown.`

const defaultFallbackReply = "Thanks for your message! Send a product code (e.g. 10x140) for prices and availability, or 'catalog' to browse our range."

// responseCache bounds repeated AI fallback cost by caching replies per
// normalized message and tenant.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	reply string
	at    time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *responseCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Since(entry.at) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.reply, true
}

func (c *responseCache) put(key, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{reply: reply, at: time.Now()}
}

// cacheKey normalizes a message for response caching: lowercased, whitespace
// collapsed, scoped by tenant.
func cacheKey(tenantID, text string) string {
	return tenantID + "|" + strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// handleGeneralQuery is the AI conversational fallback with a per-tenant
// response cache. It degrades to a static template when no AI client is
// configured or the call fails.
func (o *Orchestrator) handleGeneralQuery(ctx context.Context, conv *models.Conversation, text string, snapshot *models.MemorySnapshot) (Result, error) {
	key := cacheKey(conv.TenantID, text)
	if cached, ok := o.respCache.get(key); ok {
		slog.Debug("Orchestrator serving cached fallback reply", "conversationID", conv.ID)
		if err := o.reply(ctx, conv, cached); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, ResultTag: TagSmartResponse}, nil
	}

	body := defaultFallbackReply
	if o.genai != nil {
		aiCtx, cancel := context.WithTimeout(ctx, fallbackReplyTimeout)
		defer cancel()
		prompt := "Conversation context:\n" + memory.FormatForAI(snapshot) + "\n\nCustomer message: " + text
		generated, err := o.genai.GenerateWithContext(aiCtx, fallbackSystemPrompt, prompt)
		if err != nil {
			slog.Warn("Orchestrator AI fallback failed, using template reply", "error", err, "conversationID", conv.ID)
		} else if g := strings.TrimSpace(generated); g != "" {
			body = g
			o.respCache.put(key, body)
		}
	}

	if err := o.reply(ctx, conv, body); err != nil {
		return Result{}, err
	}
	return Result{Handled: true, ResultTag: TagSmartResponse}, nil
}
