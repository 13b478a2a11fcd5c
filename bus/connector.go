// Package bus implements the Bus Connector: envelope construction and parsing,
// request/response correlation, ACK/NACK handling, and reconnection over a Redis
// Pub/Sub transport.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hspmesh/hsp/types"
)

// Handler processes an inbound Envelope delivered on a subscribed topic. A Handler
// that returns an error is logged but never crashes the Connector.
type Handler func(ctx context.Context, env *types.Envelope) error

// Config configures a Connector, mirroring config.BusConfig in the ambient config
// package (kept decoupled so bus has no import-cycle on config).
type Config struct {
	Endpoint         string
	Password         string
	DB               int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	SigningEnabled   bool
	SigningKeyID     string
	SigningSecret    string
	PublishRateLimit rate.Limit
	AckMaxAttempts   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:         "localhost:6379",
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
		PublishRateLimit: 500,
		AckMaxAttempts:   3,
	}
}

type subscription struct {
	topic   string
	handler Handler
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// Connector wraps a Redis Pub/Sub client with the Bus Connector's public contract:
// connect/disconnect, publish, request, subscribe.
type Connector struct {
	cfg    Config
	client *redis.Client
	logger *zap.Logger
	clock  types.Clock
	signer *signer
	limiter *rate.Limiter

	mu          sync.Mutex
	connected   bool
	subs        map[string]*subscription
	pending     map[string]chan *types.Envelope
	reconnectAt int
}

// NewConnector builds a Connector that has not yet dialed the transport.
func NewConnector(cfg Config, logger *zap.Logger, clock types.Clock) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.ReconnectInitial == 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.PublishRateLimit == 0 {
		cfg.PublishRateLimit = 500
	}
	if cfg.AckMaxAttempts == 0 {
		cfg.AckMaxAttempts = 3
	}
	return &Connector{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "bus")),
		clock:   clock,
		signer:  newSigner(cfg.SigningEnabled, cfg.SigningKeyID, cfg.SigningSecret),
		limiter: rate.NewLimiter(cfg.PublishRateLimit, int(cfg.PublishRateLimit)),
		subs:    make(map[string]*subscription),
		pending: make(map[string]chan *types.Envelope),
	}
}

// Connect dials the transport. Idempotent: calling it again while already connected
// is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	client := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Endpoint,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return types.NewError(types.KindTransport, "bus unreachable").WithCause(err).WithRetryable(true)
	}

	c.mu.Lock()
	c.client = client
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("connected", zap.String("endpoint", c.cfg.Endpoint))
	return nil
}

// Disconnect closes the transport. Idempotent.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	for _, sub := range c.subs {
		sub.cancel()
		_ = sub.pubsub.Close()
	}
	c.subs = make(map[string]*subscription)
	err := c.client.Close()
	c.connected = false
	c.client = nil
	return err
}

func (c *Connector) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish is fire-and-forget: it builds an envelope and sends it, with no
// correlation tracking.
func (c *Connector) Publish(ctx context.Context, topic string, senderID string, msgType types.MessageType, payload any) error {
	env, err := types.NewEnvelope(c.clock, senderID, topic, msgType, payload)
	if err != nil {
		return err
	}
	return c.publishEnvelope(ctx, topic, env)
}

// PublishEnvelope sends a pre-built envelope (preserving its correlation id, pattern,
// and QoS) to topic. Used by components that must control envelope construction
// themselves, such as the Specialist Runtime replying with a task-result envelope
// correlated to the originating request.
func (c *Connector) PublishEnvelope(ctx context.Context, topic string, env *types.Envelope) error {
	return c.publishEnvelope(ctx, topic, env)
}

func (c *Connector) publishEnvelope(ctx context.Context, topic string, env *types.Envelope) error {
	if !c.isConnected() {
		return types.NewError(types.KindTransport, "bus disconnected").WithRetryable(true)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return types.NewError(types.KindTransport, "publish rate limit wait cancelled").WithCause(err)
	}
	if err := c.signer.Sign(env); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.KindTransport, "failed to encode envelope").WithCause(err)
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return types.NewError(types.KindTransport, "bus disconnected").WithRetryable(true)
	}
	if err := client.Publish(ctx, topic, data).Err(); err != nil {
		go c.reconnectLoop()
		return types.NewError(types.KindTransport, "publish failed").WithCause(err).WithRetryable(true)
	}
	if env.QoS != nil && env.QoS.RequiresAck {
		return c.awaitAck(ctx, env)
	}
	return nil
}

// Request builds a correlated request envelope, publishes it to topic, and waits up
// to the context's deadline for a correlation-matched response, resolving to either
// exactly one response or a timeout error.
func (c *Connector) Request(ctx context.Context, topic, senderID string, msgType types.MessageType, payload any) (*types.Envelope, error) {
	env, err := types.NewEnvelope(c.clock, senderID, topic, msgType, payload)
	if err != nil {
		return nil, err
	}
	env = env.AsRequest()

	ch := make(chan *types.Envelope, 1)
	c.mu.Lock()
	c.pending[env.MessageID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.MessageID)
		c.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCorrelationTimeout, fmt.Sprintf("no response for request %s", env.MessageID)).WithCause(err)
	}
	if err := c.publishEnvelope(ctx, topic, env); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, types.NewError(types.KindCorrelationTimeout, fmt.Sprintf("no response for request %s", env.MessageID)).WithCause(ctx.Err())
	}
}

// Complete delivers an inbound response/ack envelope to its waiting Request call, if
// one is still pending. Used by subscribe handlers that route correlated traffic back
// into the Connector (e.g. a result topic subscription feeding Request's waiters).
// Returns false if no caller is waiting (duplicate or late response, dropped).
func (c *Connector) Complete(env *types.Envelope) bool {
	if env.CorrelationID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[env.CorrelationID]
	if ok {
		delete(c.pending, env.CorrelationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// Subscribe installs an inbound handler for topic. Deliveries to this handler are
// serialized by a single dispatch goroutine per subscribe() call, so a handler
// never needs to be concurrency-safe against its own topic.
func (c *Connector) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return types.NewError(types.KindTransport, "bus disconnected")
	}
	client := c.client
	c.mu.Unlock()

	pubsub := client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		return types.NewError(types.KindTransport, "subscribe failed").WithCause(err).WithRetryable(true)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{topic: topic, handler: handler, pubsub: pubsub, cancel: cancel}
	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()

	go c.dispatchLoop(subCtx, sub)
	return nil
}

func (c *Connector) dispatchLoop(ctx context.Context, sub *subscription) {
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				go c.reconnectLoop()
				return
			}
			c.deliver(ctx, sub, msg.Payload)
		}
	}
}

func (c *Connector) deliver(ctx context.Context, sub *subscription, payload string) {
	var env types.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.logger.Warn("dropping malformed message", zap.String("topic", sub.topic), zap.Error(err))
		return
	}
	if err := env.Validate(); err != nil {
		c.logger.Warn("dropping invalid envelope", zap.String("topic", sub.topic), zap.Error(err))
		return
	}
	if err := c.signer.Verify(&env); err != nil {
		c.logger.Warn("dropping unverifiable envelope", zap.String("topic", sub.topic), zap.Error(err))
		return
	}
	if env.QoS != nil && env.QoS.RequiresAck {
		if ackEnv, err := types.AsAcknowledgementOf(&env, c.clock, sub.topic); err == nil {
			_ = c.publishEnvelope(ctx, env.SenderID, ackEnv)
		}
	}
	if env.Pattern == types.PatternResponse || env.Pattern == types.PatternAcknowledgement {
		if c.Complete(&env) {
			return
		}
	}
	if err := sub.handler(ctx, &env); err != nil {
		c.logger.Warn("handler failed", zap.String("topic", sub.topic), zap.Error(err))
	}
}

// awaitAck runs after an outbound message that requires an acknowledgement: it
// waits out a linear backoff (200ms, 400ms, ...) for each of AckMaxAttempts
// attempts and then returns nil. It does not resend env, does not observe inbound
// ACKs for it, and never reports a NACK; only cancellation of ctx yields an error.
func (c *Connector) awaitAck(ctx context.Context, env *types.Envelope) error {
	for attempt := 1; attempt <= c.cfg.AckMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return types.NewError(types.KindTransport, "ack wait cancelled").WithCause(ctx.Err())
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return nil
}

// reconnectLoop attempts to re-establish the transport connection using exponential
// backoff with jitter, then re-subscribes every previously registered topic.
func (c *Connector) reconnectLoop() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	topics := make(map[string]Handler, len(c.subs))
	for topic, sub := range c.subs {
		topics[topic] = sub.handler
		sub.cancel()
	}
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	policy := backoffPolicy{Initial: c.cfg.ReconnectInitial, Max: c.cfg.ReconnectMax, Multiplier: 2.0, Jitter: true}
	ctx := context.Background()
	for attempt := 0; ; attempt++ {
		time.Sleep(policy.delay(attempt))
		if err := c.Connect(ctx); err == nil {
			break
		}
		c.logger.Warn("reconnect attempt failed", zap.Int("attempt", attempt))
	}
	for topic, handler := range topics {
		if err := c.Subscribe(ctx, topic, handler); err != nil {
			c.logger.Error("failed to re-subscribe after reconnect", zap.String("topic", topic), zap.Error(err))
		}
	}
}
