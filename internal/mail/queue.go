// queue.go
//
// Redis-backed async mail queue. QueuedMailer implements Mailer by pushing
// jobs onto a Redis list; Run drains the list and hands each job to the
// inner Mailer (normally SMTPMailer).
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound mail queue.
const QueueKey = "gatehouse:mail:queue"

// DefaultMaxQueueSize caps the queue when MAIL_QUEUE_MAX is unset. 0 = unlimited.
const DefaultMaxQueueSize int64 = 1000

// maxSendAttempts is how many times a job is handed to the inner mailer before it is dropped.
const maxSendAttempts = 3

// popTimeout bounds each BLPOP so the worker notices cancellation.
const popTimeout = 2 * time.Second

// ErrQueueFull is returned by enqueue when the queue has reached its size cap.
var ErrQueueFull = errors.New("mail queue full")

const (
	jobEmailVerification = "email_verification"
	jobPasswordReset     = "password_reset"
)

// EmailJob is the JSON payload stored on the queue.
type EmailJob struct {
	Type      string            `json:"type"`
	ToEmail   string            `json:"to_email"`
	Token     string            `json:"token"`
	ExpiresIn int64             `json:"expires_in"` // nanoseconds
	Vars      map[string]string `json:"vars,omitempty"`
	Attempts  int               `json:"attempts"`
}

// QueuedMailer enqueues jobs so request handlers never wait on SMTP.
type QueuedMailer struct {
	inner        Mailer
	rdb          redis.UniversalClient
	maxQueueSize int64
	log          *slog.Logger
}

// NewQueuedMailer wraps inner with a Redis queue capped at maxSize jobs (0 = unlimited).
func NewQueuedMailer(inner Mailer, rdb redis.UniversalClient, maxSize int64) *QueuedMailer {
	return &QueuedMailer{
		inner:        inner,
		rdb:          rdb,
		maxQueueSize: maxSize,
		log:          slog.Default().With("component", "mail"),
	}
}

// enqueueScript pushes ARGV[2] onto KEYS[1] unless the list already holds ARGV[1] items.
// Returns 1 when pushed, 0 when full. ARGV[1] = 0 disables the cap.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// SendEmailVerification enqueues a verification email.
func (q *QueuedMailer) SendEmailVerification(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	return q.enqueue(ctx, EmailJob{
		Type:      jobEmailVerification,
		ToEmail:   toEmail,
		Token:     token,
		ExpiresIn: int64(expiresIn),
		Vars:      vars,
	})
}

// SendPasswordReset enqueues a password reset email.
func (q *QueuedMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	return q.enqueue(ctx, EmailJob{
		Type:      jobPasswordReset,
		ToEmail:   toEmail,
		Token:     token,
		ExpiresIn: int64(expiresIn),
		Vars:      vars,
	})
}

func (q *QueuedMailer) enqueue(ctx context.Context, job EmailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// Len returns the number of queued jobs.
func (q *QueuedMailer) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, QueueKey).Result()
}

// Run drains the queue until ctx is cancelled. Call in a goroutine.
func (q *QueuedMailer) Run(ctx context.Context) {
	q.log.Info("mail worker started")
	defer q.log.Info("mail worker stopped")
	for {
		if !q.processOne(ctx, popTimeout) && ctx.Err() != nil {
			return
		}
	}
}

// processOne pops and dispatches at most one job. Reports whether a job was handled.
func (q *QueuedMailer) processOne(ctx context.Context, timeout time.Duration) bool {
	res, err := q.rdb.BLPop(ctx, timeout, QueueKey).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			q.log.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return false
	}
	// res[0] is the key, res[1] the payload.
	var job EmailJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.log.Error("bad job payload", "error", err)
		return true
	}
	q.dispatch(ctx, job)
	return true
}

// dispatch sends job through the inner mailer. Failed jobs go back on the
// queue until maxSendAttempts is reached, then are dropped with an error log.
func (q *QueuedMailer) dispatch(ctx context.Context, job EmailJob) {
	expiresIn := time.Duration(job.ExpiresIn)
	var err error
	switch job.Type {
	case jobEmailVerification:
		err = q.inner.SendEmailVerification(ctx, job.ToEmail, job.Token, expiresIn, job.Vars)
	case jobPasswordReset:
		err = q.inner.SendPasswordReset(ctx, job.ToEmail, job.Token, expiresIn, job.Vars)
	default:
		q.log.Error("unknown job type", "type", job.Type)
		return
	}
	if err == nil {
		return
	}

	job.Attempts++
	if job.Attempts >= maxSendAttempts {
		q.log.Error("send failed; dropping job", "type", job.Type, "to", job.ToEmail, "attempts", job.Attempts, "error", err)
		return
	}
	q.log.Warn("send failed; requeueing", "type", job.Type, "to", job.ToEmail, "attempts", job.Attempts, "error", err)
	if qerr := q.enqueue(ctx, job); qerr != nil {
		q.log.Error("requeue failed", "type", job.Type, "to", job.ToEmail, "error", qerr)
	}
}
