package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avatarkit/vrmforge/internal/infrastructure/resilience"
)

const (
	defaultConnectTimeout = 2 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60

	// workerGroup load-balances deliveries across worker replicas.
	workerGroup = "workers"

	drainFlushTimeout = 5 * time.Second
)

// jobMessage is the wire form of one queued conversion. SubmittedAt rides
// along so consumers can reason about queue age without a repository read.
type jobMessage struct {
	JobID       string    `json:"job_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

// New connects with the default reconnect policy and a default resilience
// executor guarding publishes.
func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = defaultReconnectWait
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = defaultMaxReconnects
	}
	if o.RetryOnFailedConnect == nil {
		retry := true
		o.RetryOnFailedConnect = &retry
	}
	return o
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats: empty subject")
	}
	options = options.withDefaults()

	conn, err := nats.Connect(
		url,
		nats.Name("vrmforge"),
		nats.Timeout(options.ConnectTimeout),
		nats.ReconnectWait(options.ReconnectWait),
		nats.MaxReconnects(options.MaxReconnects),
		nats.RetryOnFailedConnect(*options.RetryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishJobSubmitted enqueues one conversion job. Transient failures are
// retried by the executor; errors that remain retryable surface wrapped as
// domain.ErrTemporary so the API can answer 503 instead of 500.
func (q *Queue) PublishJobSubmitted(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(jobMessage{JobID: jobID, SubmittedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode job message: %w", err)
	}

	publish := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "queue_publish", publish, classifyNATSError)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeJobSubmitted consumes job messages in the workers queue group
// until the context ends, then drains in-flight deliveries. Malformed
// messages are dropped with a log line; they would fail every redelivery
// the same way.
func (q *Queue) SubscribeJobSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var m jobMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil || m.JobID == "" {
			log.Printf("dropping malformed job message on %s: %v", q.subject, err)
			return
		}
		if !m.SubmittedAt.IsZero() {
			log.Printf("job %s picked up after %s", m.JobID, time.Since(m.SubmittedAt).Round(time.Millisecond))
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, m.JobID); err != nil {
			log.Printf("worker handler error for job=%s: %v", m.JobID, err)
		}
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
	if err := q.conn.FlushTimeout(drainFlushTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
