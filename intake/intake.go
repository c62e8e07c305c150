// Package intake consumes task submissions from Kafka and turns each
// one into a queue job.
//
// Messages are JSON {taskId, originalUrl, userId}. Malformed or invalid
// messages and duplicates of a task that already has a live job are
// acknowledged and dropped. Any other enqueue error ends the session
// without acknowledging, so the message is consumed again after the
// group rebalances.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/backoff"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/removal"
)

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the consumer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithJobOptions sets options applied to every enqueued job.
func WithJobOptions(opts ...job.Option) Option {
	return func(c *Consumer) { c.jobOpts = append(c.jobOpts, opts...) }
}

// WithRejoinBackoff sets the wait between failed group sessions.
func WithRejoinBackoff(b backoff.Strategy) Option {
	return func(c *Consumer) { c.rejoin = b }
}

// Consumer reads a submission topic with a consumer group.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	enq     removal.Enqueuer
	jobOpts []job.Option
	rejoin  backoff.Strategy
	logger  *slog.Logger
}

// NewConfig returns the sarama config used by New.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// New connects a consumer group to brokers.
func New(brokers []string, groupID, topic string, enq removal.Enqueuer, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 || groupID == "" || topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers, group and topic are required", unmark.ErrMissingConfig)
	}
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return NewWithGroup(group, topic, enq, opts...), nil
}

// NewWithGroup wraps an existing consumer group.
func NewWithGroup(group sarama.ConsumerGroup, topic string, enq removal.Enqueuer, opts ...Option) *Consumer {
	c := &Consumer{
		group:  group,
		topics: []string{topic},
		enq:    enq,
		rejoin: backoff.FullJitter(backoff.Exponential(time.Second, 30*time.Second)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled. Each group session ends on a
// rebalance and a new one is joined. Consecutive failed sessions back
// off before rejoining; a clean session resets the wait.
func (c *Consumer) Run(ctx context.Context) error {
	h := c.Handler()
	go c.drainErrors(ctx)
	failures := 0
	for {
		err := c.group.Consume(ctx, c.topics, h)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
			return nil
		}
		if err == nil {
			failures = 0
			continue
		}

		failures++
		wait := c.rejoin.Delay(failures)
		c.logger.Error("consumer group session ended",
			slog.String("error", err.Error()),
			slog.Int("failures", failures),
			slog.Duration("rejoin_in", wait),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Warn("kafka consumer error", slog.String("error", err.Error()))
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Handler returns the sarama handler that enqueues each message.
func (c *Consumer) Handler() sarama.ConsumerGroupHandler {
	return &handler{c: c}
}

type handler struct {
	c *Consumer
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}

// handle returns an error only when the message should be redelivered.
func (h *handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	log := h.c.logger.With(
		slog.String("topic", msg.Topic),
		slog.Int("partition", int(msg.Partition)),
		slog.Int64("offset", msg.Offset),
	)

	var sub removal.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		log.Warn("dropping malformed submission", slog.String("error", err.Error()))
		return nil
	}

	j, err := removal.Submit(ctx, h.c.enq, sub, h.c.jobOpts...)
	switch {
	case err == nil:
		log.Info("submission enqueued",
			slog.String("task_id", sub.TaskID),
			slog.String("job_id", j.ID.String()),
		)
		return nil
	case errors.Is(err, unmark.ErrInvalidInput):
		log.Warn("dropping invalid submission",
			slog.String("task_id", sub.TaskID),
			slog.String("error", err.Error()),
		)
		return nil
	case errors.Is(err, unmark.ErrJobAlreadyExists):
		log.Info("task already queued", slog.String("task_id", sub.TaskID))
		return nil
	default:
		return fmt.Errorf("enqueue task %s: %w", sub.TaskID, err)
	}
}
