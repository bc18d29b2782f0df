// Package router delivers messages to one or more recipients through a
// pluggable agent registry, honoring priority ordering per recipient,
// retry budgets, and circuit breakers. The router owns all header mutation
// (retry bookkeeping); recipients never touch it.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/circuit"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/retry"
	"github.com/BaSui01/agentmesh/types"
)

// Config configures a router. The zero value disables routing; use
// DefaultConfig for a working baseline.
type Config struct {
	// EnableRouting gates the whole router. When false, Route fails with
	// ROUTING_DISABLED.
	EnableRouting bool `yaml:"enable_routing" json:"enable_routing"`
	// EnableMultipart gates multipart messages. When false, RouteMultiPart
	// fails with UNSUPPORTED_MESSAGE_TYPE.
	EnableMultipart bool `yaml:"enable_multipart" json:"enable_multipart"`
	// MaxMessageSize bounds the payload byte size; 0 means unbounded.
	MaxMessageSize int64 `yaml:"max_message_size" json:"max_message_size"`
	// DeliveryRate caps delivery attempts per second; 0 means unlimited.
	DeliveryRate float64 `yaml:"delivery_rate" json:"delivery_rate"`
	// DeliveryBurst is the rate limiter burst size.
	DeliveryBurst int `yaml:"delivery_burst" json:"delivery_burst"`
	// RetryPolicy is the backoff schedule between redelivery attempts.
	// The attempt budget itself lives in each message's headers.
	RetryPolicy *retry.Policy `yaml:"-" json:"-"`
	// Breaker configures the per-recipient circuit breaker; nil disables
	// breaking.
	Breaker *circuit.Config `yaml:"-" json:"-"`
}

// DefaultConfig returns a router configuration with routing and multipart
// enabled and no size or rate bounds.
func DefaultConfig() Config {
	return Config{
		EnableRouting:   true,
		EnableMultipart: true,
		RetryPolicy:     retry.DefaultPolicy(),
	}
}

// DeliveryIndex is the optional idempotency collaborator consulted to
// suppress duplicate deliveries (satisfied by internal/dedupe.Index).
type DeliveryIndex interface {
	Seen(ctx context.Context, messageID, recipient string) (bool, error)
	MarkDelivered(ctx context.Context, messageID, recipient string) (bool, error)
}

// Router resolves a message's recipients and dispatches deliveries.
type Router struct {
	config   Config
	registry *Registry
	logger   *zap.Logger

	clock     types.Clock
	collector *metrics.Collector
	index     DeliveryIndex
	limiter   *rate.Limiter

	// headerMu serializes retry bookkeeping on a message while recipient
	// deliveries run in parallel.
	headerMu sync.Mutex

	mu       sync.Mutex
	workers  map[string]*recipientWorker
	breakers map[string]*circuit.Breaker
	closed   bool
}

// Option configures optional router collaborators.
type Option func(*Router)

// WithClock injects the time source used for expiry checks.
func WithClock(clock types.Clock) Option {
	return func(r *Router) { r.clock = clock }
}

// WithMetrics injects the metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Router) { r.collector = collector }
}

// WithDeliveryIndex injects the duplicate-delivery suppression index.
func WithDeliveryIndex(index DeliveryIndex) Option {
	return func(r *Router) { r.index = index }
}

// New creates a router over the given registry. Create it at process start
// and Close it on drain.
func New(config Config, registry *Registry, logger *zap.Logger, opts ...Option) *Router {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetryPolicy == nil {
		config.RetryPolicy = retry.DefaultPolicy()
	}

	r := &Router{
		config:   config,
		registry: registry,
		logger:   logger.With(zap.String("component", "router")),
		clock:    types.SystemClock{},
		workers:  make(map[string]*recipientWorker),
		breakers: make(map[string]*circuit.Breaker),
	}
	if config.DeliveryRate > 0 {
		burst := config.DeliveryBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(config.DeliveryRate), burst)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route delivers a message to every recipient. It returns nil only when all
// recipients acknowledged; validation and expiry failures happen before any
// delivery attempt, and delivery failures after exhausted retries surface as
// a *PartialDeliveryError.
func (r *Router) Route(ctx context.Context, msg *message.Message) error {
	return r.route(ctx, Delivery{Message: msg})
}

// RouteMultiPart delivers a multipart message, subject to the multipart
// capability gate.
func (r *Router) RouteMultiPart(ctx context.Context, mp *message.MultiPart) error {
	if mp == nil {
		return types.NewError(types.ErrValidation, "message must not be nil")
	}
	if !r.config.EnableMultipart {
		err := types.NewError(types.ErrUnsupportedMessageType,
			"multipart messages are disabled in this deployment")
		r.collector.RecordRouteFailure(string(types.ErrUnsupportedMessageType))
		return err
	}
	if violations := mp.Validate(); len(violations) > 0 {
		r.collector.RecordRouteFailure(string(types.ErrValidation))
		return types.NewError(types.ErrValidation, violations[0])
	}
	return r.route(ctx, Delivery{Message: &mp.Message, Parts: mp.Parts})
}

// RouteBatch routes several messages concurrently and returns the first
// error observed. Individual per-message failures do not stop the others.
func (r *Router) RouteBatch(ctx context.Context, msgs []*message.Message) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			return r.Route(ctx, msg)
		})
	}
	return g.Wait()
}

func (r *Router) route(ctx context.Context, d Delivery) error {
	start := time.Now()
	defer func() {
		r.collector.ObserveRouteDuration(time.Since(start).Seconds())
	}()

	msg := d.Message
	if msg == nil {
		return types.NewError(types.ErrValidation, "message must not be nil")
	}

	if !r.config.EnableRouting {
		r.collector.RecordRouteFailure(string(types.ErrRoutingDisabled))
		return types.NewError(types.ErrRoutingDisabled, "routing is disabled in this deployment")
	}

	if violations := msg.Validate(); len(violations) > 0 {
		r.collector.RecordRouteFailure(string(types.ErrValidation))
		return types.NewError(types.ErrValidation, violations[0])
	}

	if msg.IsExpired(r.clock) {
		r.collector.RecordRouteFailure(string(types.ErrExpiredMessage))
		return types.NewError(types.ErrExpiredMessage,
			fmt.Sprintf("message %s expired at %s", msg.ID, msg.Headers.ExpiresAt))
	}

	if size := r.payloadSize(d); r.config.MaxMessageSize > 0 && size > r.config.MaxMessageSize {
		r.collector.RecordRouteFailure(string(types.ErrMessageTooLarge))
		return types.NewError(types.ErrMessageTooLarge,
			fmt.Sprintf("message %s is %d bytes, limit is %d", msg.ID, size, r.config.MaxMessageSize))
	}

	r.collector.RecordRouted(msg.Type.String(), string(msg.Priority))
	r.logger.Debug("routing message",
		zap.String("message_id", msg.ID),
		zap.String("sender", msg.Sender),
		zap.Strings("recipients", msg.Recipients),
		zap.String("priority", string(msg.Priority)),
	)

	jobs := make([]*job, 0, len(msg.Recipients))
	for range msg.Recipients {
		jobs = append(jobs, &job{
			ctx:      ctx,
			delivery: d,
			rank:     msg.Priority.Rank(),
			result:   make(chan error, 1),
		})
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	for i, recipient := range msg.Recipients {
		r.workerLocked(recipient).enqueue(jobs[i])
	}
	r.mu.Unlock()

	failed := make(map[string]error)
	var succeeded []string
	for i, recipient := range msg.Recipients {
		if err := <-jobs[i].result; err != nil {
			failed[recipient] = err
		} else {
			succeeded = append(succeeded, recipient)
		}
	}

	if len(failed) > 0 {
		r.collector.RecordRouteFailure(string(types.ErrPartialDelivery))
		pde := &PartialDeliveryError{
			MessageID: msg.ID,
			Failed:    failed,
			Succeeded: succeeded,
		}
		return types.NewError(types.ErrPartialDelivery, "delivery incomplete").WithCause(pde)
	}
	return nil
}

// deliverFor builds the per-recipient delivery function bound to a worker.
// It retries while the message's retry budget allows, marking each
// redelivery attempt in the headers. Only the router mutates headers.
func (r *Router) deliverFor(recipient string) func(j *job) error {
	return func(j *job) error {
		msg := j.delivery.Message

		target, ok := r.registry.Resolve(recipient)
		if !ok {
			r.collector.RecordDelivery("unknown")
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
		}

		breaker := r.breakerFor(recipient)

		for {
			if msg.IsExpired(r.clock) {
				return types.NewError(types.ErrExpiredMessage,
					fmt.Sprintf("message %s expired before delivery to %s", msg.ID, recipient))
			}

			err := r.attempt(j.ctx, recipient, target, breaker, j.delivery)
			if err == nil {
				r.collector.RecordDelivery("ok")
				return nil
			}
			r.collector.RecordDelivery("failed")

			r.headerMu.Lock()
			canRetry := msg.CanRetry()
			if canRetry {
				msg.Headers.MarkRetry()
			}
			attempt := msg.Headers.RetryCount
			r.headerMu.Unlock()

			if !canRetry {
				r.logger.Warn("delivery failed, retries exhausted",
					zap.String("message_id", msg.ID),
					zap.String("recipient", recipient),
					zap.Error(err),
				)
				return err
			}

			r.collector.RecordRetry()
			select {
			case <-j.ctx.Done():
				return fmt.Errorf("delivery cancelled: %w", j.ctx.Err())
			case <-time.After(r.config.RetryPolicy.DelayFor(attempt)):
			}
		}
	}
}

// attempt performs one delivery attempt through the rate limiter, the
// circuit breaker, and the duplicate-delivery index.
func (r *Router) attempt(ctx context.Context, recipient string, target Target, breaker *circuit.Breaker, d Delivery) error {
	msg := d.Message

	if r.index != nil {
		seen, err := r.index.Seen(ctx, msg.ID, recipient)
		if err != nil {
			r.logger.Warn("delivery index unavailable", zap.Error(err))
		} else if seen {
			return nil
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return types.NewError(types.ErrCircuitOpen,
				fmt.Sprintf("recipient %s", recipient)).WithCause(err).WithRetryable(true)
		}
	}

	err := target.Deliver(ctx, d)
	if breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		return err
	}

	if r.index != nil {
		if _, markErr := r.index.MarkDelivered(ctx, msg.ID, recipient); markErr != nil {
			r.logger.Warn("delivery index mark failed", zap.Error(markErr))
		}
	}
	return nil
}

func (r *Router) payloadSize(d Delivery) int64 {
	if d.IsMultiPart() {
		var total int64
		for _, p := range d.Parts {
			total += p.Size
		}
		return total
	}
	if d.Message.Content == nil {
		return 0
	}
	encoded, err := json.Marshal(d.Message.Content)
	if err != nil {
		return 0
	}
	return int64(len(encoded))
}

func (r *Router) workerLocked(recipient string) *recipientWorker {
	w, ok := r.workers[recipient]
	if !ok {
		w = newRecipientWorker(recipient, r.deliverFor(recipient))
		r.workers[recipient] = w
	}
	return w
}

func (r *Router) breakerFor(recipient string) *circuit.Breaker {
	if r.config.Breaker == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[recipient]
	if !ok {
		cfg := *r.config.Breaker
		b = circuit.NewBreaker(&cfg, r.logger)
		r.breakers[recipient] = b
	}
	return b
}

// Close drains the recipient queues and stops the workers. Route calls made
// after Close fail with ErrClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	workers := make([]*recipientWorker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		w.close()
	}
	r.logger.Info("router closed", zap.Int("workers", len(workers)))
}
