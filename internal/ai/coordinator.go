package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/ratewindow"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

// Outcome is the explicit result of one trigger. Only infrastructure
// failures surface as errors; rate limiting and discards are values.
type Outcome string

const (
	OutcomeOk          Outcome = "ok"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeFailed      Outcome = "failed"
	OutcomeCancelled   Outcome = "cancelled"
)

// Config tunes the coordinator.
type Config struct {
	MaxConcurrent int           // worker pool size == process-wide LLM cap
	QueueSize     int           // pending trigger buffer
	Preamble      string        // system preamble override
	GenTimeout    time.Duration // per-LLM-call deadline
	SystemNotes   bool          // store rate-limit suppression notes
	LogFailures   bool          // store "AI reply failed" notes
}

// Coordinator turns AiTriggers into committed AI replies. It guarantees
// at most one in-flight generation per ticket (late triggers coalesce and
// re-check eligibility) and at most max-per-window replies per ticket.
type Coordinator struct {
	tickets *ticket.Service
	gen     TextGenerator
	window  ratewindow.Window
	clock   clock.Clock
	metrics metrics.Metrics
	cfg     Config

	inflight sync.Map // ticket id -> chan struct{}
	queue    chan domain.AiTrigger

	// Stats
	triggersSeen int64
	replies      int64
	rateLimited  int64
	discarded    int64
	failures     int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewCoordinator creates a coordinator.
func NewCoordinator(tickets *ticket.Service, gen TextGenerator, window ratewindow.Window, clk clock.Clock, m metrics.Metrics, cfg Config) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.GenTimeout <= 0 {
		cfg.GenTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Coordinator{
		tickets: tickets,
		gen:     gen,
		window:  window,
		clock:   clk,
		metrics: m,
		cfg:     cfg,
		queue:   make(chan domain.AiTrigger, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	log.Printf("[AICoordinator] Starting %d workers (queue=%d)", c.cfg.MaxConcurrent, c.cfg.QueueSize)
	for i := 0; i < c.cfg.MaxConcurrent; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
}

// Stop cancels in-flight generations and waits for workers to drain.
// Partially generated replies are discarded, never committed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	log.Printf("[AICoordinator] Stopped (replies=%d, rate_limited=%d, discarded=%d, failures=%d)",
		atomic.LoadInt64(&c.replies), atomic.LoadInt64(&c.rateLimited),
		atomic.LoadInt64(&c.discarded), atomic.LoadInt64(&c.failures))
}

// Trigger enqueues a generation request. A full queue drops the trigger
// (the next customer message re-triggers) rather than blocking ingestion.
func (c *Coordinator) Trigger(t domain.AiTrigger) {
	atomic.AddInt64(&c.triggersSeen, 1)
	select {
	case c.queue <- t:
	default:
		log.Printf("[AICoordinator] Queue full, dropping trigger for ticket %s", t.TicketID)
	}
}

func (c *Coordinator) workerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case trig := <-c.queue:
			outcome := c.Process(c.ctx, trig)
			c.metrics.AiReply(string(outcome))
		}
	}
}

// Process handles one trigger synchronously. Exported so the webhook path
// and tests can run the pipeline without the queue.
func (c *Coordinator) Process(ctx context.Context, trig domain.AiTrigger) Outcome {
	done := make(chan struct{})
	for {
		if existing, loaded := c.inflight.LoadOrStore(trig.TicketID, done); loaded {
			// Coalesce onto the running generation, then re-check whether
			// a reply is still wanted.
			select {
			case <-existing.(chan struct{}):
			case <-ctx.Done():
				return OutcomeCancelled
			}
			t, err := c.tickets.Get(ctx, trig.TicketID)
			if err != nil || !t.EligibleForAutoReply() {
				return OutcomeDiscarded
			}
			continue
		}
		break
	}
	defer func() {
		c.inflight.Delete(trig.TicketID)
		close(done)
	}()

	return c.generateAndCommit(ctx, trig)
}

func (c *Coordinator) generateAndCommit(ctx context.Context, trig domain.AiTrigger) Outcome {
	now := c.clock.Now()
	full, retryAfter, err := c.window.Full(ctx, trig.TicketID, now)
	if err != nil {
		log.Printf("[AICoordinator] Rate window check for %s: %v", trig.TicketID, err)
		return OutcomeFailed
	}
	if full {
		atomic.AddInt64(&c.rateLimited, 1)
		log.Printf("[AICoordinator] Ticket %s rate limited (retry in %s)", trig.TicketID, retryAfter.Round(time.Second))
		if c.cfg.SystemNotes {
			note := fmt.Sprintf("Automatic reply suppressed by rate limit; next reply possible in %s.", retryAfter.Round(time.Second))
			if _, err := c.tickets.AppendSystemMessage(ctx, trig.TicketID, note); err != nil {
				log.Printf("[AICoordinator] Rate-limit note for %s: %v", trig.TicketID, err)
			}
		}
		return OutcomeRateLimited
	}

	t, history, err := c.tickets.GetThread(ctx, trig.TicketID)
	if err != nil {
		log.Printf("[AICoordinator] Load thread %s: %v", trig.TicketID, err)
		return OutcomeFailed
	}
	if !t.EligibleForAutoReply() {
		atomic.AddInt64(&c.discarded, 1)
		return OutcomeDiscarded
	}

	gen, err := c.generateWithRetry(ctx, GenerationRequest{
		TicketContext: t.Context,
		Subject:       t.Subject,
		Preamble:      c.cfg.Preamble,
		History:       history,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return OutcomeCancelled
		}
		atomic.AddInt64(&c.failures, 1)
		log.Printf("[AICoordinator] Generation for %s failed: %v", trig.TicketID, err)
		if c.cfg.LogFailures {
			if _, nerr := c.tickets.AppendSystemMessage(ctx, trig.TicketID, "AI reply failed"); nerr != nil {
				log.Printf("[AICoordinator] Failure note for %s: %v", trig.TicketID, nerr)
			}
		}
		return OutcomeFailed
	}

	text := Sanitize(gen.Text)

	// AppendAiReply re-reads the ticket under its lock; a takeover or
	// close during generation rejects the commit and we store nothing.
	if _, err := c.tickets.AppendAiReply(ctx, trig.TicketID, text, gen.Confidence, true); err != nil {
		if errors.Is(err, ticket.ErrInvalidTransition) {
			atomic.AddInt64(&c.discarded, 1)
			return OutcomeDiscarded
		}
		atomic.AddInt64(&c.failures, 1)
		log.Printf("[AICoordinator] Commit reply for %s: %v", trig.TicketID, err)
		return OutcomeFailed
	}

	if err := c.window.Add(ctx, trig.TicketID, c.clock.Now()); err != nil {
		log.Printf("[AICoordinator] Rate window add for %s: %v", trig.TicketID, err)
	}
	atomic.AddInt64(&c.replies, 1)
	return OutcomeOk
}

// generateWithRetry retries transient failures three times with jittered
// exponential backoff (500ms, 1s, 2s). Permanent failures return at once.
func (c *Coordinator) generateWithRetry(ctx context.Context, req GenerationRequest) (*Generation, error) {
	delay := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)
		start := time.Now()
		gen, err := c.gen.Generate(genCtx, req)
		c.metrics.ObserveLLM(time.Since(start))
		cancel()

		if err == nil {
			return gen, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
