package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/admatch/internal/models"
)

const (
	CapturesStreamName  = "CAPTURES"
	CapturesSubjectBase = "captures"

	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "evt"

	DeadLetterStreamName = "DEADLETTER"
	DeadLetterSubject    = "deadletter.captures"

	IdentitySyncBase = "identity.sync"
)

// MaxDeliver bounds capture redeliveries; Backoff spaces them out. After the
// final failed delivery the message moves to the DEADLETTER stream.
const MaxDeliver = 4

var Backoff = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

func CaptureSubject(orgID uuid.UUID) string {
	return CapturesSubjectBase + "." + orgID.String()
}

func DetectionSubject(orgID uuid.UUID) string {
	return EventsSubjectBase + ".detection." + orgID.String()
}

func ConversionSubject(orgID uuid.UUID) string {
	return EventsSubjectBase + ".conversion." + orgID.String()
}

func IdentitySyncSubject(orgID uuid.UUID) string {
	return IdentitySyncBase + "." + orgID.String()
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
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

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        CapturesStreamName,
			Subjects:    []string{CapturesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      10 * time.Minute,
			MaxMsgs:     100000,
			MaxBytes:    256 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Capture tasks for match workers",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Detection and conversion events",
		},
		{
			Name:        DeadLetterStreamName,
			Subjects:    []string{"deadletter.>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Description: "Capture tasks that exhausted their deliveries, kept for inspection",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishCapture queues a capture task for the worker. The task id doubles as
// the message id so an API retry inside the duplicate window is collapsed.
func (p *Producer) PublishCapture(ctx context.Context, task *models.CaptureTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal capture task: %w", err)
	}

	_, err = p.js.Publish(ctx, CaptureSubject(task.OrgID), payload,
		jetstream.WithMsgID(task.TaskID.String()))
	if err != nil {
		return fmt.Errorf("publish capture: %w", err)
	}
	return nil
}

// PublishDetection publishes a closed detection event for live subscribers.
func (p *Producer) PublishDetection(ctx context.Context, ev *models.DetectionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal detection event: %w", err)
	}
	if _, err := p.js.Publish(ctx, DetectionSubject(ev.OrgID), payload); err != nil {
		return fmt.Errorf("publish detection event: %w", err)
	}
	return nil
}

// PublishConversion publishes a recorded conversion for live subscribers.
func (p *Producer) PublishConversion(ctx context.Context, conv *models.ConversionRecord) error {
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversion: %w", err)
	}
	if _, err := p.js.Publish(ctx, ConversionSubject(conv.OrgID), payload); err != nil {
		return fmt.Errorf("publish conversion: %w", err)
	}
	return nil
}

// PublishIdentitySync fans out an index mutation over plain NATS so worker
// replicas keep their in-memory indexes current.
func (p *Producer) PublishIdentitySync(sync models.IdentitySync) error {
	payload, err := json.Marshal(sync)
	if err != nil {
		return fmt.Errorf("marshal identity sync: %w", err)
	}
	return p.nc.Publish(IdentitySyncSubject(sync.OrgID), payload)
}

// QueueDepth returns the number of pending messages in the CAPTURES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, CapturesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
