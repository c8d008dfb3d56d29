// Package delivery retries message delivery to recipients who were offline
// at send time. Delivery here is best-effort: after the retry budget is
// spent the job completes undelivered and reconnect sync takes over.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wavechat/wavechat-backend/internal/models"
	"github.com/wavechat/wavechat-backend/internal/queue"
	"github.com/wavechat/wavechat-backend/internal/services"
)

const (
	// MaxAttempts is the total number of presence checks per job.
	MaxAttempts = 3

	// DefaultBaseDelay seeds the exponential backoff: 2s, 4s, 8s.
	DefaultBaseDelay = 2 * time.Second

	// Concurrency caps in-flight jobs per instance.
	Concurrency = 5

	// JobsPerSecond is the throughput cap across all workers.
	JobsPerSecond = 100
)

// Emitter delivers an event to every connection in a room, on any instance.
type Emitter interface {
	EmitToRoom(room, event string, payload interface{})
}

// Worker consumes delivery jobs with bounded concurrency and a global rate
// limit, retrying each with exponential backoff while the recipient stays
// offline.
type Worker struct {
	queue     queue.DeliveryQueue
	presence  services.Presence
	emitter   Emitter
	limiter   *rate.Limiter
	baseDelay time.Duration
	log       zerolog.Logger
}

func NewWorker(q queue.DeliveryQueue, p services.Presence, e Emitter, log zerolog.Logger) *Worker {
	return &Worker{
		queue:     q,
		presence:  p,
		emitter:   e,
		limiter:   rate.NewLimiter(rate.Limit(JobsPerSecond), JobsPerSecond),
		baseDelay: DefaultBaseDelay,
		log:       log,
	}
}

// SetBaseDelay overrides the backoff seed. Tests use millisecond delays.
func (w *Worker) SetBaseDelay(d time.Duration) {
	w.baseDelay = d
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.process(ctx, job)
	}
}

// process runs up to MaxAttempts presence checks. A hit broadcasts the
// message to the recipient's personal room and completes the job; a miss
// waits baseDelay·2^attempt before the next check.
func (w *Worker) process(ctx context.Context, job queue.DeliveryJob) {
	for attempt := job.Attempts; attempt < MaxAttempts; attempt++ {
		online, err := w.presence.IsOnline(ctx, job.RecipientID)
		if err != nil {
			w.log.Warn().Err(err).Str("user", job.RecipientID).Int("attempt", attempt).Msg("presence check failed")
		}
		if online {
			w.emitter.EmitToRoom(job.RecipientID, "message:received", models.Message{
				ID:             job.MessageID,
				ConversationID: job.ConversationID,
				SenderID:       job.SenderID,
				Content:        job.Content,
				IsDelivered:    true,
				CreatedAt:      job.CreatedAt,
			})
			w.log.Info().
				Str("message", job.MessageID).
				Str("user", job.RecipientID).
				Int("attempt", attempt).
				Msg("offline delivery succeeded")
			return
		}

		delay := w.baseDelay << attempt
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	// Retry budget spent. The message stays persisted; the recipient picks
	// it up from history on reconnect.
	w.log.Info().
		Str("message", job.MessageID).
		Str("user", job.RecipientID).
		Msg("offline delivery abandoned after max attempts")
}
