package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/pkg/distlock"
	"github.com/relaydesk/helpdesk-core/internal/service/sla"
)

// DefaultSlaScanInterval is how often deadlines are re-checked.
const DefaultSlaScanInterval = time.Minute

// SlaScanner periodically walks live SLA-linked tickets and records
// pending violations for missed deadlines. With multiple workers running,
// a distributed lock keeps the scan single-flight across the fleet.
type SlaScanner struct {
	slas     *sla.Service
	lock     distlock.DistLock
	interval time.Duration

	// Stats
	scansRun           int64
	violationsRecorded int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSlaScanner creates the scanner. lock may be nil for single-instance
// deployments.
func NewSlaScanner(slas *sla.Service, lock distlock.DistLock) *SlaScanner {
	return &SlaScanner{slas: slas, lock: lock, interval: DefaultSlaScanInterval}
}

// Start launches the scan loop.
func (s *SlaScanner) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sla scanner already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("[SlaScanner] Starting (interval %v)", s.interval)
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the scan loop.
func (s *SlaScanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[SlaScanner] Stopped. Scans: %d, Violations: %d",
		atomic.LoadInt64(&s.scansRun), atomic.LoadInt64(&s.violationsRecorded))
}

func (s *SlaScanner) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

func (s *SlaScanner) scan() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[SlaScanner] Acquire lock: %v", err)
			return
		}
		if !ok {
			return // another instance owns this cycle
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				log.Printf("[SlaScanner] Release lock: %v", err)
			}
		}()
	}

	n, err := s.slas.Scan(ctx)
	atomic.AddInt64(&s.scansRun, 1)
	if err != nil {
		log.Printf("[SlaScanner] Scan: %v", err)
		return
	}
	if n > 0 {
		atomic.AddInt64(&s.violationsRecorded, int64(n))
		log.Printf("[SlaScanner] Recorded %d new violations", n)
	}
}
