package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/observability"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeCaptures starts consuming capture tasks from the CAPTURES stream.
// workerCount determines how many goroutines process messages concurrently.
// A task that fails is redelivered on the backoff ladder; when deliveries are
// exhausted it is published to the DEADLETTER stream and Term'd, never
// silently dropped.
func (c *Consumer) ConsumeCaptures(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, CapturesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", CapturesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       60 * time.Second,
		MaxDeliver:    MaxDeliver,
		BackOff:       Backoff,
		FilterSubject: CapturesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	// Start consumer fetch loop
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(msgCh)
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					close(msgCh)
					return
				}
				slog.Warn("fetch captures error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					close(msgCh)
					return
				}
			}
		}
	}()

	// Start workers
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				err := handler(ctx, msg)
				if err == nil {
					_ = msg.Ack()
					continue
				}
				slog.Error("process capture error", "worker", workerID, "error", err, "subject", msg.Subject())
				if c.deliveriesExhausted(msg) {
					c.deadLetter(ctx, msg, err)
					_ = msg.Term()
				} else {
					_ = msg.Nak()
				}
			}
		}(i)
	}

	slog.Info("capture consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func (c *Consumer) deliveriesExhausted(msg jetstream.Msg) bool {
	meta, err := msg.Metadata()
	if err != nil {
		return false
	}
	return meta.NumDelivered >= MaxDeliver
}

// deadLetter preserves the failed task with its failure context.
func (c *Consumer) deadLetter(ctx context.Context, msg jetstream.Msg, cause error) {
	dl := models.DeadLetter{
		Reason:     cause.Error(),
		Deliveries: MaxDeliver,
		FailedAt:   time.Now().UTC(),
	}
	if meta, err := msg.Metadata(); err == nil {
		dl.Deliveries = int(meta.NumDelivered)
	}
	if err := json.Unmarshal(msg.Data(), &dl.Task); err != nil {
		dl.Reason = fmt.Sprintf("%s (task unparseable: %v)", dl.Reason, err)
	}

	payload, err := json.Marshal(dl)
	if err != nil {
		slog.Error("marshal dead letter", "error", err)
		return
	}
	if _, err := c.js.Publish(ctx, DeadLetterSubject, payload); err != nil {
		slog.Error("publish dead letter", "error", err, "task_id", dl.Task.TaskID)
		return
	}
	observability.DeadLetters.Inc()
	slog.Warn("capture task dead-lettered", "task_id", dl.Task.TaskID, "org_id", dl.Task.OrgID, "reason", dl.Reason)
}

// ConsumeEvents starts consuming detection/conversion events (for the API to
// broadcast via WebSocket).
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

// SubscribeIdentitySync listens for index mutations fanned out by workers.
// Plain NATS: every replica receives every message and skips its own origin.
func (c *Consumer) SubscribeIdentitySync(handler func(models.IdentitySync)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(IdentitySyncBase+".*", func(m *nats.Msg) {
		var sync models.IdentitySync
		if err := json.Unmarshal(m.Data, &sync); err != nil {
			slog.Error("unmarshal identity sync", "error", err, "subject", m.Subject)
			return
		}
		handler(sync)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe identity sync: %w", err)
	}
	return sub, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
