package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ConsoleService is a Service that logs outbound messages instead of
// delivering them. It is used for development runs without transport
// credentials; inbound messages arrive via the HTTP inbound endpoint or
// Inject.
type ConsoleService struct {
	inbound chan InboundMessage
	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that ConsoleService implements Service.
var _ Service = (*ConsoleService)(nil)

// NewConsoleService creates a ConsoleService.
func NewConsoleService() *ConsoleService {
	return &ConsoleService{inbound: make(chan InboundMessage, DefaultChannelBufferSize)}
}

// ValidateAndCanonicalizeRecipient strips non-digits and requires at least 6
// digits, matching the live transport's rules so behavior is comparable.
func (s *ConsoleService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhoneNumber(recipient)
}

// SendMessage logs the outbound message.
func (s *ConsoleService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	slog.Info("ConsoleService outbound message", "to", canonicalTo, "body", body)
	return nil
}

// Start is a no-op.
func (s *ConsoleService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *ConsoleService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	return nil
}

// Inbound returns the channel of incoming customer messages.
func (s *ConsoleService) Inbound() <-chan InboundMessage {
	return s.inbound
}

// Inject pushes a message into the inbound channel, for tests and manual
// driving. The read lock is held across the send so Stop cannot close the
// channel under an in-flight injection.
func (s *ConsoleService) Inject(msg InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("ConsoleService dropping injected message (service stopped)", "from", msg.From)
		return
	}
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	select {
	case s.inbound <- msg:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("ConsoleService inbound channel blocked, dropping message", "from", msg.From)
	}
}
