package messaging

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCanonicalizePhoneNumber(t *testing.T) {
	cases := map[string]string{
		"+91 12345 67890":        "911234567890",
		"whatsapp:+911234567890": "911234567890",
		"(91) 1234-567-890":      "911234567890",
		"123456":                 "123456",
	}
	for in, want := range cases {
		got, err := canonicalizePhoneNumber(in)
		if err != nil {
			t.Errorf("canonicalizePhoneNumber(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("canonicalizePhoneNumber(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "no digits", "12345"} {
		if _, err := canonicalizePhoneNumber(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestConsoleServiceSendAndStop(t *testing.T) {
	s := NewConsoleService()

	if err := s.SendMessage(context.Background(), "+91 12345 67890", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected validation error for short number")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "911234567890", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestConsoleServiceInject(t *testing.T) {
	s := NewConsoleService()
	defer s.Stop()

	s.Inject(InboundMessage{TenantID: "t1", From: "911234567890", MessageID: "m1", Body: "hi"})

	select {
	case msg := <-s.Inbound():
		if msg.Body != "hi" || msg.Time == 0 {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected injected message on inbound channel")
	}
}

func TestConsoleServiceInjectStopConcurrent(t *testing.T) {
	// Injections racing Stop must never send on the closed channel.
	for i := 0; i < 50; i++ {
		s := NewConsoleService()
		go func() {
			for range s.Inbound() {
			}
		}()

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Inject(InboundMessage{From: "911234567890", Body: "hi"})
			}()
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		wg.Wait()
	}
}

func TestDispatcherDrainsInbound(t *testing.T) {
	s := NewConsoleService()

	var mu sync.Mutex
	var handled []string
	d := NewDispatcher(s, func(ctx context.Context, msg InboundMessage) error {
		mu.Lock()
		handled = append(handled, msg.Body)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	s.Inject(InboundMessage{From: "911234567890", Body: "one"})
	s.Inject(InboundMessage{From: "911234567890", Body: "two"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(handled)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 handled messages, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = s.Stop()
}

func TestDispatcherStopsOnChannelClose(t *testing.T) {
	s := NewConsoleService()
	d := NewDispatcher(s, func(ctx context.Context, msg InboundMessage) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// Closing the service closes the channel; the dispatcher goroutine exits.
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}
