package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relaydesk/helpdesk-core/internal/auth"
)

// Routes builds the full HTTP surface.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key", "X-Webhook-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Unauthenticated probes and ingress.
	r.Get("/health", s.handleHealth)
	if p, ok := s.svc.Metrics.(interface{ Handler() http.Handler }); ok {
		r.Method(http.MethodGet, "/metrics", p.Handler())
	}
	r.Post("/webhooks/email", s.handleInboundWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.svc.Auth.Middleware)

		r.Post("/ticket", s.handleCreateTicket)
		r.Get("/tickets", s.handleListTickets)

		r.Route("/ticket/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetThread)
			r.Post("/reply", s.handleCustomerReply)
			r.Post("/escalate", s.handleEscalate)
			r.Post("/attachments", s.handleUploadAttachment)
			r.Get("/attachments", s.handleListAttachments)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Post("/admin/reply", s.handleAdminReply)
				r.Post("/priority", s.handleUpdatePriority)
				r.Post("/assign", s.handleAssign)
				r.Post("/close", s.handleCloseTicket)
				r.Get("/sla-status", s.handleSlaStatus)
				r.Post("/send-email", s.handleSendEmail)
				r.Get("/emails", s.handleListEmails)
			})
		})

		r.Route("/attachments/{id}", func(r chi.Router) {
			r.Get("/", s.handleDownloadAttachment)
			r.Delete("/", s.handleDeleteAttachment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Route("/email-accounts", func(r chi.Router) {
				r.Get("/", s.handleListAccounts)
				r.Post("/", s.handleCreateAccount)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetAccount)
					r.Put("/", s.handleUpdateAccount)
					r.Delete("/", s.handleDeleteAccount)
					r.Post("/test", s.handleTestAccount)
					r.Post("/enable-polling", s.handleSetPolling(true))
					r.Post("/disable-polling", s.handleSetPolling(false))
				})
			})

			r.Route("/routing-rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRule)
					r.Put("/", s.handleUpdateRule)
					r.Delete("/", s.handleDeleteRule)
				})
			})

			r.Route("/slas", func(r chi.Router) {
				r.Get("/", s.handleListSlas)
				r.Post("/", s.handleCreateSla)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSla)
					r.Put("/", s.handleUpdateSla)
					r.Delete("/", s.handleDeleteSla)
				})
			})

			r.Route("/email-templates", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Post("/", s.handleCreateTemplate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTemplate)
					r.Put("/", s.handleUpdateTemplate)
					r.Delete("/", s.handleDeleteTemplate)
				})
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Post("/delete", s.handleSoftDelete)
				r.Post("/restore", s.handleRestore)
				r.Get("/trash", s.handleListTrash)
				r.Delete("/trash", s.handleHardDelete)
				r.Post("/purge", s.handlePurgeTrash)
				r.Post("/{id}/reroute", s.handleReroute)
				r.Get("/{id}/routing-logs", s.handleRoutingLogs)
				r.Get("/{id}/sla-violations", s.handleSlaViolations)
			})

			r.Get("/emails/filtered", s.handleListFiltered)
		})
	})

	return r
}
