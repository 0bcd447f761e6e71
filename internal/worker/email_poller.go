package worker

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
)

const (
	pollBackoffBase = time.Second
	pollBackoffCap  = 5 * time.Minute

	// maxPollFailures disables an account's polling after this many
	// consecutive failed cycles.
	maxPollFailures = 5
)

// EmailPoller supervises one IMAP polling goroutine per pollable account.
// A reconcile loop re-reads the account table so admin changes (new
// accounts, disabled polling, edited credentials) take effect without a
// restart. Connections to the same IMAP host share a bounded semaphore.
type EmailPoller struct {
	cfg         config.EmailConfig
	imapTimeout time.Duration
	accounts    *emailaccount.Service
	ingest      *Ingestor
	metrics     metrics.Metrics

	semMu    sync.Mutex
	hostSems map[string]chan struct{}

	workers map[string]*pollWorker

	// Stats
	cyclesRun      int64
	emailsIngested int64
	pollErrors     int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewEmailPoller creates the poll supervisor.
func NewEmailPoller(cfg config.EmailConfig, imapTimeout time.Duration, accounts *emailaccount.Service, ingest *Ingestor, m metrics.Metrics) *EmailPoller {
	if m == nil {
		m = metrics.Noop{}
	}
	return &EmailPoller{
		cfg:         cfg,
		imapTimeout: imapTimeout,
		accounts:    accounts,
		ingest:      ingest,
		metrics:     m,
		hostSems:    make(map[string]chan struct{}),
		workers:     make(map[string]*pollWorker),
	}
}

// Start launches the reconcile loop.
func (p *EmailPoller) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("email poller already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[EmailPoller] Starting (poll every %v, reconcile every %v)",
		p.cfg.PollInterval(), p.cfg.ReconcileInterval())

	p.wg.Add(1)
	go p.reconcileLoop()
	return nil
}

// Stop cancels every account worker and waits for them to drain.
func (p *EmailPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Printf("[EmailPoller] Stopping...")
	p.cancel()
	p.wg.Wait()
	log.Printf("[EmailPoller] Stopped. Cycles: %d, Ingested: %d, Errors: %d",
		atomic.LoadInt64(&p.cyclesRun), atomic.LoadInt64(&p.emailsIngested),
		atomic.LoadInt64(&p.pollErrors))
}

func (p *EmailPoller) reconcileLoop() {
	defer p.wg.Done()

	p.reconcile()
	ticker := time.NewTicker(p.cfg.ReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reconcile()
		}
	}
}

// reconcile diffs the desired account set against the running workers.
// An account whose row changed (UpdatedAt moved) is restarted so new
// hosts or credentials apply.
func (p *EmailPoller) reconcile() {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	pollable, err := p.accounts.Pollable(ctx)
	if err != nil {
		log.Printf("[EmailPoller] Reconcile: %v", err)
		return
	}

	desired := make(map[string]domain.EmailAccount, len(pollable))
	for _, a := range pollable {
		desired[a.ID] = a
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, w := range p.workers {
		a, keep := desired[id]
		if keep && a.UpdatedAt.Equal(w.acct.UpdatedAt) {
			continue
		}
		w.cancel()
		delete(p.workers, id)
	}
	for id, a := range desired {
		if _, ok := p.workers[id]; ok {
			continue
		}
		w, err := p.newWorker(a)
		if err != nil {
			log.Printf("[EmailPoller] Account %s (%s): %v", a.ID, a.EmailAddress, err)
			continue
		}
		p.workers[id] = w
		p.wg.Add(1)
		go w.run()
	}
}

func (p *EmailPoller) newWorker(a domain.EmailAccount) (*pollWorker, error) {
	creds, err := p.accounts.Unseal(&a)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials: %w", err)
	}
	ctx, cancel := context.WithCancel(p.ctx)
	return &pollWorker{
		poller: p,
		acct:   a,
		creds:  creds,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (p *EmailPoller) hostSem(host string) chan struct{} {
	p.semMu.Lock()
	defer p.semMu.Unlock()
	sem, ok := p.hostSems[host]
	if !ok {
		n := p.cfg.IMAPMaxPerHost
		if n < 1 {
			n = 4
		}
		sem = make(chan struct{}, n)
		p.hostSems[host] = sem
	}
	return sem
}

// pollWorker polls a single mailbox. Consecutive failures back off
// exponentially; after maxPollFailures the account's polling is disabled
// and the worker exits.
type pollWorker struct {
	poller *EmailPoller
	acct   domain.EmailAccount
	creds  mail.Credentials

	failures int
	lastUID  imap.UID

	ctx    context.Context
	cancel context.CancelFunc
}

func (w *pollWorker) run() {
	defer w.poller.wg.Done()

	interval := w.poller.cfg.PollInterval()
	delay := time.Duration(rand.Int63n(int64(interval))) // spread first cycles
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}

		start := time.Now()
		err := w.pollOnce()
		atomic.AddInt64(&w.poller.cyclesRun, 1)
		w.poller.metrics.ObservePollCycle(time.Since(start))

		if err != nil {
			atomic.AddInt64(&w.poller.pollErrors, 1)
			w.failures++
			if w.failures >= maxPollFailures {
				log.Printf("[EmailPoller] Account %s (%s): %d consecutive failures, disabling polling: %v",
					w.acct.ID, w.acct.EmailAddress, w.failures, err)
				w.disable()
				return
			}
			delay = w.backoff()
			log.Printf("[EmailPoller] Account %s (%s): poll failed (attempt %d, retry in %v): %v",
				w.acct.ID, w.acct.EmailAddress, w.failures, delay, err)
			continue
		}

		w.failures = 0
		delay = interval
	}
}

func (w *pollWorker) backoff() time.Duration {
	d := pollBackoffBase << uint(w.failures-1)
	if d > pollBackoffCap {
		d = pollBackoffCap
	}
	// Jitter keeps a fleet of failing workers from reconnecting in step.
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func (w *pollWorker) disable() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.poller.accounts.SetPolling(ctx, w.acct.ID, false); err != nil {
		log.Printf("[EmailPoller] Disable polling for %s: %v", w.acct.ID, err)
	}
}

// pollOnce fetches and ingests every unseen message, newest cursor wins.
// Messages are only marked seen after a non-failed ingest, so a crash
// mid-cycle redelivers and the (account, message id) uniqueness dedups.
func (w *pollWorker) pollOnce() error {
	host, port := mail.IMAPEndpoint(&w.acct)
	if host == "" {
		return fmt.Errorf("imap host not configured")
	}

	sem := w.poller.hostSem(host)
	select {
	case sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	defer func() { <-sem }()

	ctx, cancel := context.WithTimeout(w.ctx, w.poller.imapTimeout)
	defer cancel()

	c, err := imapclient.DialTLS(fmt.Sprintf("%s:%d", host, port), nil)
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	defer c.Close()

	username := w.creds.Username
	if username == "" {
		username = w.acct.EmailAddress
	}
	if err := c.Authenticate(sasl.NewPlainClient("", username, w.creds.Password)); err != nil {
		return fmt.Errorf("authenticate %s: %w", username, err)
	}

	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	if w.lastUID > 0 {
		criteria.UID = []imap.UIDSet{{imap.UIDRange{Start: w.lastUID + 1}}}
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("search unseen: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		w.markPolled(ctx)
		logoutQuietly(c)
		return nil
	}

	cur := uidCursor{last: w.lastUID}
	var seen []imap.UID
	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			log.Printf("[EmailPoller] Account %s: collect message: %v", w.acct.ID, err)
			continue
		}
		outcome := w.ingestRaw(ctx, firstBodySection(buf))
		cur.advance(buf.UID, outcome)
		if outcome != "failed" {
			seen = append(seen, buf.UID)
			if outcome == "processed" {
				atomic.AddInt64(&w.poller.emailsIngested, 1)
			}
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	w.lastUID = cur.last

	if len(seen) > 0 {
		store := c.Store(imap.UIDSetNum(seen...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		if err := store.Close(); err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
	}

	w.markPolled(ctx)
	logoutQuietly(c)
	return nil
}

// firstBodySection returns the bytes of whichever body section the fetch
// carried. Only one section is requested per message.
func firstBodySection(buf *imapclient.FetchMessageBuffer) []byte {
	for _, b := range buf.BodySection {
		return b
	}
	return nil
}

// uidCursor tracks the poll high-water mark. It freezes at the first
// failed message so the next cycle refetches it instead of skipping past
// a transient ingest error.
type uidCursor struct {
	last    imap.UID
	stalled bool
}

func (c *uidCursor) advance(uid imap.UID, outcome string) {
	if outcome == "failed" {
		c.stalled = true
	}
	if !c.stalled && uid > c.last {
		c.last = uid
	}
}

func (w *pollWorker) ingestRaw(ctx context.Context, raw []byte) string {
	if len(raw) == 0 {
		log.Printf("[EmailPoller] Account %s: fetched message without body section", w.acct.ID)
		return "failed"
	}
	inbound, err := mail.ParseInboundBytes(raw)
	if err != nil {
		log.Printf("[EmailPoller] Account %s: parse message: %v", w.acct.ID, err)
		w.poller.metrics.EmailFetched("failed")
		return "failed"
	}
	outcome, err := w.poller.ingest.Process(ctx, &w.acct, inbound)
	if err != nil {
		log.Printf("[EmailPoller] Account %s: ingest %s: %v", w.acct.ID, inbound.MessageID, err)
	}
	return outcome
}

func (w *pollWorker) markPolled(ctx context.Context) {
	if err := w.poller.accounts.MarkPolled(ctx, w.acct.ID); err != nil {
		log.Printf("[EmailPoller] Mark polled %s: %v", w.acct.ID, err)
	}
}

func logoutQuietly(c *imapclient.Client) {
	if err := c.Logout().Wait(); err != nil {
		log.Printf("[EmailPoller] Logout: %v", err)
	}
}
