package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// EventType names a user-facing notification.
type EventType string

const (
	EventSubmissionSubmitted EventType = "submission.submitted"
	EventSubmissionResolved  EventType = "submission.resolved"
	EventSubmissionExpired   EventType = "submission.expired"
	EventWithdrawalSettled   EventType = "withdrawal.settled"
	EventWithdrawalFailed    EventType = "withdrawal.failed"
	EventCampaignClosed      EventType = "campaign.closed"
)

// TaskPrefix prefixes every notification task type.
const TaskPrefix = "notification:"

// Event is a notification for one recipient.
type Event struct {
	Type        EventType         `json:"type"`
	RecipientID uuid.UUID         `json:"recipient_id"`
	Payload     map[string]string `json:"payload,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// TaskType is the asynq task type the event is published under.
func (e Event) TaskType() string {
	return TaskPrefix + string(e.Type)
}

// Notifier publishes events without feeding anything back to the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Enqueuer is the subset of asynq.Client used to publish tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type clientEnqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an asynq client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &clientEnqueuer{client: client}
}

func (e *clientEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(context.Background(), task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

// Publisher enqueues events as asynq tasks. Failures are logged and dropped.
type Publisher struct {
	enqueuer Enqueuer
	queue    string
	log      *zap.Logger
}

// NewPublisher creates a publisher that enqueues on queue.
func NewPublisher(enqueuer Enqueuer, queue string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{enqueuer: enqueuer, queue: queue, log: log}
}

func (p *Publisher) Notify(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal notification", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	task := asynq.NewTask(event.TaskType(), payload, asynq.Queue(p.queue), asynq.MaxRetry(5))
	if _, err := p.enqueuer.Enqueue(task); err != nil {
		p.log.Warn("failed enqueue notification",
			zap.String("task_type", task.Type()),
			zap.String("recipient_id", event.RecipientID.String()),
			zap.Error(err))
	}
}

// Deliverer hands a decoded event to the outside world (email, push).
type Deliverer interface {
	Deliver(ctx context.Context, event Event) error
}

// LogDeliverer records deliveries in the log.
type LogDeliverer struct {
	Log *zap.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, event Event) error {
	d.Log.Info("notification delivered",
		zap.String("type", string(event.Type)),
		zap.String("recipient_id", event.RecipientID.String()),
		zap.Any("payload", event.Payload))
	return nil
}

// HandleTask decodes a notification task and delivers it.
func HandleTask(d Deliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		return d.Deliver(ctx, event)
	}
}

// NewServeMux routes every notification task type to d.
func NewServeMux(d Deliverer) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	handler := HandleTask(d)
	for _, t := range []EventType{
		EventSubmissionSubmitted,
		EventSubmissionResolved,
		EventSubmissionExpired,
		EventWithdrawalSettled,
		EventWithdrawalFailed,
		EventCampaignClosed,
	} {
		mux.HandleFunc(TaskPrefix+string(t), handler)
	}
	return mux
}
