// Package metrics exposes the operational counters and timings the core
// emits. The Prometheus implementation backs /metrics; Noop keeps tests
// and metric-less deployments quiet.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrumentation contract handed to services and workers.
type Metrics interface {
	TicketCreated(source string)
	MessageAppended(sender string)
	EmailFetched(outcome string) // processed | duplicate | filtered | failed
	AiReply(outcome string)      // ok | rate_limited | discarded | failed
	OutboundSent(provider string, ok bool)
	SlaViolation(kind string)
	TicketsPurged(n int)
	ObserveLLM(d time.Duration)
	ObservePollCycle(d time.Duration)
}

// Noop discards everything.
type Noop struct{}

func (Noop) TicketCreated(string)         {}
func (Noop) MessageAppended(string)       {}
func (Noop) EmailFetched(string)          {}
func (Noop) AiReply(string)               {}
func (Noop) OutboundSent(string, bool)    {}
func (Noop) SlaViolation(string)          {}
func (Noop) TicketsPurged(int)            {}
func (Noop) ObserveLLM(time.Duration)     {}
func (Noop) ObservePollCycle(time.Duration) {}

// Prometheus implements Metrics on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	ticketsCreated  *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	emailsFetched   *prometheus.CounterVec
	aiReplies       *prometheus.CounterVec
	outboundSends   *prometheus.CounterVec
	slaViolations   *prometheus.CounterVec
	ticketsPurged   prometheus.Counter
	llmDuration     prometheus.Histogram
	pollDuration    prometheus.Histogram
}

// NewPrometheus registers the instrument set on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		ticketsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_tickets_created_total",
			Help: "Tickets created, by source channel.",
		}, []string{"source"}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_messages_total",
			Help: "Messages appended to tickets, by sender.",
		}, []string{"sender"}),
		emailsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_inbound_emails_total",
			Help: "Inbound emails handled by the poller, by outcome.",
		}, []string{"outcome"}),
		aiReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_ai_replies_total",
			Help: "AI reply attempts, by outcome.",
		}, []string{"outcome"}),
		outboundSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_outbound_emails_total",
			Help: "Outbound email sends, by provider and result.",
		}, []string{"provider", "result"}),
		slaViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_sla_violations_total",
			Help: "SLA violations recorded, by type.",
		}, []string{"type"}),
		ticketsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "helpdesk_tickets_purged_total",
			Help: "Soft-deleted tickets hard-deleted by the reaper.",
		}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_llm_duration_seconds",
			Help:    "Wall time of LLM generation calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_poll_cycle_duration_seconds",
			Help:    "Wall time of one IMAP poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

// Handler serves the registry for GET /metrics.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) TicketCreated(source string) {
	p.ticketsCreated.WithLabelValues(source).Inc()
}

func (p *Prometheus) MessageAppended(sender string) {
	p.messagesTotal.WithLabelValues(sender).Inc()
}

func (p *Prometheus) EmailFetched(outcome string) {
	p.emailsFetched.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) AiReply(outcome string) {
	p.aiReplies.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) OutboundSent(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	p.outboundSends.WithLabelValues(provider, result).Inc()
}

func (p *Prometheus) SlaViolation(kind string) {
	p.slaViolations.WithLabelValues(kind).Inc()
}

func (p *Prometheus) TicketsPurged(n int) {
	p.ticketsPurged.Add(float64(n))
}

func (p *Prometheus) ObserveLLM(d time.Duration) {
	p.llmDuration.Observe(d.Seconds())
}

func (p *Prometheus) ObservePollCycle(d time.Duration) {
	p.pollDuration.Observe(d.Seconds())
}
