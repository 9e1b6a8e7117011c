package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// Change event types.
const (
	EventTaskCreated    = "task.created"
	EventTaskUpdated    = "task.updated"
	EventTaskDeleted    = "task.deleted"
	EventProjectCreated = "project.created"
	EventProjectUpdated = "project.updated"
	EventProjectDeleted = "project.deleted"
)

// Event tells other consumers (notification feeds, read models) that a
// record changed. It carries ids only; consumers re-read the record.
type Event struct {
	Type      string    `json:"type"`
	Owner     string    `json:"owner"`
	TaskID    int64     `json:"taskId,omitempty"`
	ProjectID int64     `json:"projectId,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher writes events to an Azure Storage queue.
type QueuePublisher struct {
	queue  queueClient
	logger *log.Logger
}

// NewQueuePublisher connects to queueName in the account of connStr,
// creating the queue when it does not exist yet.
func NewQueuePublisher(ctx context.Context, connStr, queueName string, opts ...Option) (*QueuePublisher, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, "QueueAlreadyExists") {
		return nil, err
	}
	return newQueuePublisher(q, opts...), nil
}

func newQueuePublisher(q queueClient, opts ...Option) *QueuePublisher {
	o := newOptions(opts)
	return &QueuePublisher{queue: q, logger: o.logger}
}

func (p *QueuePublisher) Publish(ctx context.Context, ev Event) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueMessage(ctx, data, nil); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"type":  ev.Type,
			"owner": ev.Owner,
		}).Warn("publish change event failed")
		return err
	}
	return nil
}
