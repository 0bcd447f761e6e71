package app

import (
	"log"

	"github.com/relaydesk/helpdesk-core/internal/config"
)

// task is the start/stop contract every background worker satisfies.
type task interface {
	Start() error
	Stop()
}

// startFunc adapts components whose Start takes no error return.
type startFunc struct {
	start func()
	stop  func()
}

func (f startFunc) Start() error { f.start(); return nil }
func (f startFunc) Stop()        { f.stop() }

// Supervisor owns every long-lived background task: the IMAP poll
// supervisor, the SLA scan loop, the trash reaper, and the AI reply
// coordinator. Request handlers never spawn long-lived work; anything
// periodic runs here so both binaries share one lifecycle.
type Supervisor struct {
	tasks []namedTask
}

type namedTask struct {
	name string
	t    task
}

// NewSupervisor selects which of the aggregate's workers run in this
// process. Polling obeys EMAIL_POLLING_ENABLED; the AI coordinator runs
// whenever a generator is configured.
func NewSupervisor(s *Services, cfg *config.Config) *Supervisor {
	sup := &Supervisor{}
	if s.AI != nil {
		sup.add("ai-coordinator", startFunc{start: s.AI.Start, stop: s.AI.Stop})
	}
	if cfg.Email.PollingEnabled {
		sup.add("email-poller", s.Poller)
	}
	sup.add("sla-scanner", s.Scanner)
	sup.add("trash-reaper", s.Reaper)
	return sup
}

func (sup *Supervisor) add(name string, t task) {
	sup.tasks = append(sup.tasks, namedTask{name: name, t: t})
}

// Start launches every task in registration order. A task that refuses to
// start aborts the boot; anything already started is stopped again.
func (sup *Supervisor) Start() error {
	for i, nt := range sup.tasks {
		if err := nt.t.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				sup.tasks[j].t.Stop()
			}
			return err
		}
		log.Printf("[Supervisor] Started %s", nt.name)
	}
	return nil
}

// Stop halts tasks in reverse order and blocks until each has drained.
func (sup *Supervisor) Stop() {
	for i := len(sup.tasks) - 1; i >= 0; i-- {
		sup.tasks[i].t.Stop()
		log.Printf("[Supervisor] Stopped %s", sup.tasks[i].name)
	}
}
