package notify

import (
	"strings"
	"sync"
	"testing"

	"github.com/ospreylabs/conduct/internal/bus"
	"go.uber.org/zap"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Notify(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	return nil
}

func (c *captureNotifier) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(c.msgs))
	copy(cp, c.msgs)
	return cp
}

func TestAttachRelaysStageTransitions(t *testing.T) {
	b := bus.New(zap.NewNop())
	c := &captureNotifier{}
	detach := Attach(b, c)
	defer detach()

	b.Publish("t1", "execution:started", map[string]interface{}{"title": "Add caching"})
	b.Publish("t1", "execution:stage_completed", map[string]interface{}{"stage": "analysis"})
	b.Publish("t1", "execution:failed", map[string]interface{}{"error": "backend down"})

	msgs := c.sent()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "t1") || !strings.Contains(msgs[0], "Add caching") {
		t.Errorf("unexpected start message: %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "analysis") {
		t.Errorf("unexpected stage message: %q", msgs[1])
	}
	if !strings.Contains(msgs[2], "backend down") {
		t.Errorf("unexpected failure message: %q", msgs[2])
	}
}

func TestAttachIgnoresUnwatchedEvents(t *testing.T) {
	b := bus.New(zap.NewNop())
	c := &captureNotifier{}
	defer Attach(b, c)()

	b.Publish("t1", "task:log_added", map[string]interface{}{"message": "noise"})
	b.Publish("t1", "execution:stage_started", map[string]interface{}{"stage": "planning"})

	if len(c.sent()) != 0 {
		t.Errorf("expected no notifications for unwatched events, got %v", c.sent())
	}
}

func TestDetachStopsRelaying(t *testing.T) {
	b := bus.New(zap.NewNop())
	c := &captureNotifier{}
	detach := Attach(b, c)

	b.Publish("t1", "execution:completed", nil)
	detach()
	b.Publish("t1", "execution:completed", nil)

	if len(c.sent()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(c.sent()))
	}
}
