package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/resilience"
)

// DefaultJobTimeout bounds one pipeline job handled by a worker.
const DefaultJobTimeout = 5 * time.Minute

const workerQueueGroup = "document-workers"

type Queue struct {
	conn          *nats.Conn
	subject       string
	notifySubject string
	jobTimeout    time.Duration
	executor      *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	NotifySubject        string
	JobTimeout           time.Duration
	ClientName           string
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.ClientName
	if name == "" {
		name = "trade-docs-backend"
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newQueue(conn, subject, options), nil
}

func newQueue(conn *nats.Conn, subject string, options Options) *Queue {
	timeout := options.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Queue{
		conn:          conn,
		subject:       subject,
		notifySubject: options.NotifySubject,
		jobTimeout:    timeout,
		executor:      options.ResilienceExecutor,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping reports whether the connection is currently usable.
func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.Fail(domain.ErrTemporary, "nats ping", "not connected")
	}
	return nil
}

func (q *Queue) PublishJob(ctx context.Context, job domain.ProcessingJob) error {
	if len(job.DocumentIDs) == 0 {
		return domain.Fail(domain.ErrInvalidInput, "publish job", "job has no documents")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.publish(ctx, "nats.publish_job", q.subject, payload)
}

// Notify hands a notification to the delivery subject without waiting for
// any consumer. It is a no-op when no notify subject is configured.
func (q *Queue) Notify(ctx context.Context, notification domain.Notification) error {
	if q.notifySubject == "" {
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return q.publish(ctx, "nats.notify", q.notifySubject, payload)
}

func (q *Queue) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		return classifyPublishError(operation, q.conn.Publish(subject, payload))
	}
	if q.executor == nil {
		return call(ctx)
	}
	err := q.executor.Execute(ctx, operation, call, resilience.ClassifyDomainError)
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

// SubscribeJobs consumes jobs in a queue group so each job reaches exactly
// one worker. It blocks until ctx is cancelled and then drains.
func (q *Queue) SubscribeJobs(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		q.dispatch(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.ProcessingJob) error) {
	job, err := decodeJob(data)
	if err != nil {
		slog.Error("job_decode_failed", "error", err, "payload_bytes", len(data))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()
	if err := handler(jobCtx, job); err != nil {
		slog.Error("job_failed", "kind", job.Kind, "documents", job.DocumentIDs, "error", err)
	}
}

func decodeJob(data []byte) (domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.ProcessingJob{}, fmt.Errorf("decode job: %w", err)
	}
	switch job.Kind {
	case domain.JobProcess, domain.JobReprocess, domain.JobBatch:
	default:
		return domain.ProcessingJob{}, fmt.Errorf("decode job: unknown kind %q", job.Kind)
	}
	if len(job.DocumentIDs) == 0 {
		return domain.ProcessingJob{}, errors.New("decode job: no document ids")
	}
	return job, nil
}
