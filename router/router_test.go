package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/circuit"
	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/retry"
	"github.com/BaSui01/agentmesh/types"
)

// recordingTarget counts deliveries and optionally fails the first N.
type recordingTarget struct {
	mu        sync.Mutex
	delivered []Delivery
	failFirst int
	attempts  int
}

func (t *recordingTarget) Deliver(_ context.Context, d Delivery) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.attempts <= t.failFirst {
		return fmt.Errorf("simulated delivery failure %d", t.attempts)
	}
	t.delivered = append(t.delivered, d)
	return nil
}

func (t *recordingTarget) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *recordingTarget) Delivered() []Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Delivery(nil), t.delivered...)
}

func fastPolicy() *retry.Policy {
	return &retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func testRouter(t *testing.T, cfg Config, opts ...Option) (*Router, *Registry) {
	t.Helper()
	registry := NewRegistry()
	r := New(cfg, registry, zap.NewNop(), opts...)
	t.Cleanup(r.Close)
	return r, registry
}

func TestRouteDeliversToAllRecipients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	a := &recordingTarget{}
	b := &recordingTarget{}
	registry.Register("agent-a", a)
	registry.Register("agent-b", b)

	msg := message.NewRequest("sender", []string{"agent-a", "agent-b"}, map[string]any{"op": "ping"})
	require.NoError(t, r.Route(context.Background(), msg))

	assert.Equal(t, 1, a.Attempts())
	assert.Equal(t, 1, b.Attempts())
	assert.Equal(t, 0, msg.Headers.RetryCount)
}

func TestRouteRetriesThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{failFirst: 2}
	registry.Register("flaky", target)

	msg := message.NewRequest("sender", []string{"flaky"}, "payload",
		message.WithMaxRetries(3))
	require.NoError(t, r.Route(context.Background(), msg))

	assert.Equal(t, 3, target.Attempts())
	assert.Equal(t, 2, msg.Headers.RetryCount)
}

func TestRouteExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{failFirst: 100}
	registry.Register("down", target)

	msg := message.NewRequest("sender", []string{"down"}, "payload",
		message.WithMaxRetries(2))
	err := r.Route(context.Background(), msg)
	require.Error(t, err)

	assert.Equal(t, types.ErrPartialDelivery, types.GetErrorCode(err))
	assert.Equal(t, 3, target.Attempts())
	assert.Equal(t, 2, msg.Headers.RetryCount)
}

func TestRouteExpiredMessageNeverAttemptsDelivery(t *testing.T) {
	clock := types.FixedClock{At: time.Now().UTC()}
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg, WithClock(clock))

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	msg := message.NewRequest("sender", []string{"agent-a"}, "payload",
		message.WithExpiresAt(clock.Now().Add(-time.Minute)))
	err := r.Route(context.Background(), msg)
	require.Error(t, err)

	assert.Equal(t, types.ErrExpiredMessage, types.GetErrorCode(err))
	assert.Equal(t, 0, target.Attempts())
	assert.Equal(t, 0, msg.Headers.RetryCount)
}

func TestRouteValidationFailure(t *testing.T) {
	r, _ := testRouter(t, DefaultConfig())

	msg := message.NewRequest("", []string{"agent-a"}, nil)
	err := r.Route(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestRouteNilMessage(t *testing.T) {
	r, _ := testRouter(t, DefaultConfig())
	err := r.Route(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestRouteRoutingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRouting = false
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	msg := message.NewRequest("sender", []string{"agent-a"}, "payload")
	err := r.Route(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, types.ErrRoutingDisabled, types.GetErrorCode(err))
	assert.Equal(t, 0, target.Attempts())
}

func TestRouteMessageTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 8
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	msg := message.NewRequest("sender", []string{"agent-a"},
		map[string]string{"key": "a value well past eight bytes"})
	err := r.Route(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, types.ErrMessageTooLarge, types.GetErrorCode(err))
	assert.Equal(t, 0, target.Attempts())
}

func TestRouteUnknownRecipientFailsWithoutRetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, _ := testRouter(t, cfg)

	msg := message.NewRequest("sender", []string{"nobody"}, "payload",
		message.WithMaxRetries(5))
	err := r.Route(context.Background(), msg)
	require.Error(t, err)

	var pde *PartialDeliveryError
	require.ErrorAs(t, err, &pde)
	assert.ErrorIs(t, pde.Failed["nobody"], ErrUnknownRecipient)
	assert.Equal(t, 0, msg.Headers.RetryCount)
}

func TestRoutePartialDeliveryEnumeratesFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	good := &recordingTarget{}
	bad := &recordingTarget{failFirst: 100}
	registry.Register("good", good)
	registry.Register("bad", bad)

	msg := message.NewRequest("sender", []string{"good", "bad", "missing"}, "payload",
		message.WithMaxRetries(1))
	err := r.Route(context.Background(), msg)
	require.Error(t, err)

	var pde *PartialDeliveryError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, msg.ID, pde.MessageID)
	assert.ElementsMatch(t, []string{"bad", "missing"}, pde.FailedRecipients())
	assert.Equal(t, []string{"good"}, pde.Succeeded)
	assert.Equal(t, 1, good.Attempts())
}

func TestRoutePriorityOrderingPerRecipient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	registry.Register("agent-a", TargetFunc(func(_ context.Context, d Delivery) error {
		<-gate
		mu.Lock()
		order = append(order, d.Message.ID)
		mu.Unlock()
		return nil
	}))

	route := func(msg *message.Message) chan error {
		ch := make(chan error, 1)
		go func() { ch <- r.Route(context.Background(), msg) }()
		return ch
	}

	first := message.NewRequest("sender", []string{"agent-a"}, "first",
		message.WithPriority(types.PriorityLow))
	firstDone := route(first)

	// Wait until the worker is blocked inside the first delivery so the
	// remaining messages queue up behind it.
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.workers) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	low := message.NewRequest("sender", []string{"agent-a"}, "low",
		message.WithPriority(types.PriorityLow))
	urgent := message.NewRequest("sender", []string{"agent-a"}, "urgent",
		message.WithPriority(types.PriorityUrgent))
	normal := message.NewRequest("sender", []string{"agent-a"}, "normal",
		message.WithPriority(types.PriorityNormal))

	lowDone := route(low)
	time.Sleep(5 * time.Millisecond)
	urgentDone := route(urgent)
	time.Sleep(5 * time.Millisecond)
	normalDone := route(normal)
	time.Sleep(5 * time.Millisecond)

	close(gate)
	for _, ch := range []chan error{firstDone, lowDone, urgentDone, normalDone} {
		require.NoError(t, <-ch)
	}

	require.Len(t, order, 4)
	assert.Equal(t, first.ID, order[0])
	assert.Equal(t, []string{urgent.ID, normal.ID, low.ID}, order[1:])
}

func TestRouteMultiPartDeliversParts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	mp := message.NewMultiPart("sender", []string{"agent-a"})
	for i, text := range []string{"0123456789", "01234567890123456789", "012345678901234567890123456789"} {
		part, err := message.NewTextPart(fmt.Sprintf("part-%d", i), text)
		require.NoError(t, err)
		require.NoError(t, mp.AddPart(part))
	}
	require.NoError(t, r.RouteMultiPart(context.Background(), mp))

	delivered := target.Delivered()
	require.Len(t, delivered, 1)
	require.True(t, delivered[0].IsMultiPart())
	assert.Len(t, delivered[0].Parts, 3)

	var total int64
	for _, p := range delivered[0].Parts {
		total += p.Size
	}
	assert.Equal(t, int64(60), total)
}

func TestRouteMultiPartDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMultipart = false
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	mp := message.NewMultiPart("sender", []string{"agent-a"})
	part, err := message.NewTextPart("part-0", "hello")
	require.NoError(t, err)
	require.NoError(t, mp.AddPart(part))

	err = r.RouteMultiPart(context.Background(), mp)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedMessageType, types.GetErrorCode(err))
	assert.Equal(t, 0, target.Attempts())
}

func TestRouteBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	msgs := []*message.Message{
		message.NewRequest("sender", []string{"agent-a"}, "one"),
		message.NewRequest("sender", []string{"agent-a"}, "two"),
		message.NewRequest("sender", []string{"agent-a"}, "three"),
	}
	require.NoError(t, r.RouteBatch(context.Background(), msgs))
	assert.Equal(t, 3, target.Attempts())
}

func TestRouteAfterCloseFails(t *testing.T) {
	registry := NewRegistry()
	r := New(DefaultConfig(), registry, zap.NewNop())
	registry.Register("agent-a", &recordingTarget{})
	r.Close()

	msg := message.NewRequest("sender", []string{"agent-a"}, "payload")
	err := r.Route(context.Background(), msg)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	r.Close()
}

func TestRouteCircuitBreakerOpens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	cfg.Breaker = &circuit.Config{
		Threshold:        1,
		ResetTimeout:     time.Hour,
		HalfOpenMaxCalls: 1,
	}
	r, registry := testRouter(t, cfg)

	target := &recordingTarget{failFirst: 100}
	registry.Register("down", target)

	first := message.NewRequest("sender", []string{"down"}, "payload",
		message.WithMaxRetries(0))
	require.Error(t, r.Route(context.Background(), first))
	require.Equal(t, 1, target.Attempts())

	second := message.NewRequest("sender", []string{"down"}, "payload",
		message.WithMaxRetries(0))
	err := r.Route(context.Background(), second)
	require.Error(t, err)

	var pde *PartialDeliveryError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(pde.Failed["down"]))
	assert.Equal(t, 1, target.Attempts())
}

// fakeIndex is an in-memory DeliveryIndex.
type fakeIndex struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{seen: make(map[string]bool)}
}

func (f *fakeIndex) Seen(_ context.Context, messageID, recipient string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[messageID+"/"+recipient], nil
}

func (f *fakeIndex) MarkDelivered(_ context.Context, messageID, recipient string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageID + "/" + recipient
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func TestRouteSuppressesDuplicateDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryPolicy = fastPolicy()
	r, registry := testRouter(t, cfg, WithDeliveryIndex(newFakeIndex()))

	target := &recordingTarget{}
	registry.Register("agent-a", target)

	msg := message.NewRequest("sender", []string{"agent-a"}, "payload")
	require.NoError(t, r.Route(context.Background(), msg))
	require.NoError(t, r.Route(context.Background(), msg))

	assert.Equal(t, 1, target.Attempts())
}

func TestErrorReplyStatusMapping(t *testing.T) {
	original := message.NewRequest("client", []string{"server"}, "payload")

	cases := []struct {
		code   types.ErrorCode
		status types.StatusCode
	}{
		{types.ErrValidation, types.StatusBadRequest},
		{types.ErrMessageTooLarge, types.StatusBadRequest},
		{types.ErrUnsupportedMessageType, types.StatusBadRequest},
		{types.ErrExpiredMessage, types.StatusTimeout},
		{types.ErrPartialDelivery, types.StatusUnavailable},
		{types.ErrRoutingDisabled, types.StatusUnavailable},
		{types.ErrCircuitOpen, types.StatusUnavailable},
		{types.ErrNotFound, types.StatusInternal},
	}
	for _, tc := range cases {
		reply, err := ErrorReply(original, types.NewError(tc.code, "boom"))
		require.NoError(t, err)
		assert.Equal(t, tc.status, reply.StatusCode, string(tc.code))
		assert.Equal(t, types.MessageTypeError, reply.Type)
		assert.Equal(t, []string{"client"}, reply.Recipients)
		assert.Equal(t, original.ID, reply.CorrelationID)
	}

	_, err := ErrorReply(nil, errors.New("boom"))
	assert.Error(t, err)
}

func TestRegistryLifecycle(t *testing.T) {
	registry := NewRegistry()
	target := &recordingTarget{}

	registry.Register("agent-a", target)
	got, ok := registry.Resolve("agent-a")
	require.True(t, ok)
	assert.Equal(t, Target(target), got)
	assert.Equal(t, []string{"agent-a"}, registry.AgentIDs())

	registry.Unregister("agent-a")
	_, ok = registry.Resolve("agent-a")
	assert.False(t, ok)
	registry.Unregister("agent-a")
}
