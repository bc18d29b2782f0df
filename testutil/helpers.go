// Package testutil provides shared helpers for agentmesh tests: bounded
// test contexts, message fixtures, and a collecting delivery target.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/router"
)

// TestContext returns a context bounded by a 30 second timeout, cancelled on
// test cleanup.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns an already-cancelled context.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Request builds a valid request message addressed to the given recipients.
func Request(recipients ...string) *message.Message {
	return message.NewRequest("test-sender", recipients, map[string]any{"op": "test"})
}

// MultiPartRequest builds a multipart request with the given text parts.
func MultiPartRequest(t *testing.T, recipient string, texts ...string) *message.MultiPart {
	t.Helper()
	mp := message.NewMultiPart("test-sender", []string{recipient})
	for i, text := range texts {
		part, err := message.NewPart(partID(i), "text", text)
		if err != nil {
			t.Fatalf("build part: %v", err)
		}
		if err := mp.AddPart(part); err != nil {
			t.Fatalf("add part: %v", err)
		}
	}
	return mp
}

func partID(i int) string {
	return "part-" + string(rune('a'+i))
}

// CollectingTarget records every delivery it receives. Safe for concurrent
// use.
type CollectingTarget struct {
	mu         sync.Mutex
	deliveries []router.Delivery
	// Err, when set, is returned from every Deliver call.
	Err error
}

// Deliver implements router.Target.
func (c *CollectingTarget) Deliver(_ context.Context, d router.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.deliveries = append(c.deliveries, d)
	return nil
}

// Deliveries returns a copy of the recorded deliveries.
func (c *CollectingTarget) Deliveries() []router.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]router.Delivery(nil), c.deliveries...)
}

// Count returns how many deliveries were recorded.
func (c *CollectingTarget) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}
