package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return nil, nil
}

type recordingDeliverer struct {
	events []Event
}

func (r *recordingDeliverer) Deliver(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestPublisher_EnqueuesTypedTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	p := NewPublisher(enq, "notifications", nil)
	recipient := uuid.New()

	p.Notify(context.Background(), Event{
		Type:        EventSubmissionResolved,
		RecipientID: recipient,
		Payload:     map[string]string{"decision": "approve"},
	})

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "notification:submission.resolved", enq.tasks[0].Type())

	var decoded Event
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	assert.Equal(t, recipient, decoded.RecipientID)
	assert.Equal(t, "approve", decoded.Payload["decision"])
	assert.False(t, decoded.OccurredAt.IsZero())
}

func TestPublisher_SwallowsEnqueueErrors(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	p := NewPublisher(enq, "notifications", nil)

	assert.NotPanics(t, func() {
		p.Notify(context.Background(), Event{Type: EventWithdrawalSettled, RecipientID: uuid.New()})
	})
	assert.Empty(t, enq.tasks)
}

func TestHandleTask(t *testing.T) {
	d := &recordingDeliverer{}
	handler := HandleTask(d)

	payload, err := json.Marshal(Event{Type: EventSubmissionExpired, RecipientID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), asynq.NewTask(TaskPrefix+string(EventSubmissionExpired), payload)))
	require.Len(t, d.events, 1)
	assert.Equal(t, EventSubmissionExpired, d.events[0].Type)

	err = handler(context.Background(), asynq.NewTask(TaskPrefix+string(EventSubmissionExpired), []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
