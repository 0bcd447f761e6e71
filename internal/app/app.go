// Package app assembles the conversation core: it constructs every
// repository, service, and background worker from configuration and wires
// the cross-service collaborators together. Both binaries build one
// Services value and hand its workers to a Supervisor; nothing in the
// system lives in package-level state.
package app

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/helpdesk-core/internal/ai"
	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/blob"
	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/distlock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/logger"
	"github.com/relaydesk/helpdesk-core/internal/pkg/ratewindow"
	"github.com/relaydesk/helpdesk-core/internal/pkg/sealed"
	"github.com/relaydesk/helpdesk-core/internal/repository/postgres"
	"github.com/relaydesk/helpdesk-core/internal/routing"
	"github.com/relaydesk/helpdesk-core/internal/service/attachment"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
	"github.com/relaydesk/helpdesk-core/internal/service/outbound"
	"github.com/relaydesk/helpdesk-core/internal/service/sla"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
	"github.com/relaydesk/helpdesk-core/internal/spam"
	"github.com/relaydesk/helpdesk-core/internal/worker"
)

// Services aggregates every wired component of the conversation core.
type Services struct {
	Config  *config.Config
	DB      *sql.DB
	Log     logger.Logger
	Metrics metrics.Metrics

	Tickets     *ticket.Service
	Accounts    *emailaccount.Service
	Outbound    *outbound.Dispatcher
	Routing     *routing.Engine
	Slas        *sla.Service
	Attachments *attachment.Service
	AI          *ai.Coordinator
	Ingestor    *worker.Ingestor
	Auth        *auth.Verifier

	// Repos the API layer reads directly (filtered-mail review, orgs).
	Emails *postgres.EmailRepo
	Users  *postgres.UserRepo

	Blobs blob.Store
	Redis *redis.Client

	Poller  *worker.EmailPoller
	Scanner *worker.SlaScanner
	Reaper  *worker.TrashReaper
}

// New wires the full service graph. The context bounds startup-time work
// (S3 access check, Redis ping); long-lived components manage their own
// lifecycles through the Supervisor.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, lg logger.Logger) (*Services, error) {
	clk := clock.Real{}

	var m metrics.Metrics = metrics.NewPrometheus()

	box, err := sealed.New(cfg.Secrets.MasterEncryptionKey)
	if err != nil {
		return nil, err
	}

	rdb := dialRedis(ctx, cfg.Redis.URL)

	var window ratewindow.Window
	if rdb != nil {
		window = ratewindow.NewRedis(rdb, cfg.AI.MaxPerWindow, cfg.AI.Window())
	} else {
		window = ratewindow.NewMemory(cfg.AI.MaxPerWindow, cfg.AI.Window())
	}

	var blobs blob.Store
	if cfg.Blob.Enabled() {
		blobs, err = blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.Blob.Bucket,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Region:    cfg.Blob.Region,
			Endpoint:  cfg.Blob.Endpoint,
		})
		if err != nil {
			return nil, err
		}
	} else {
		lg.Warn("blob storage not configured; attachments disabled")
	}

	providers := mail.NewProviderFactory(cfg.Timeouts.SMTPConnect(), cfg.Timeouts.HTTP())
	if cfg.Email.SESRegion != "" {
		if err := providers.EnableSES(ctx, cfg.Email.SESRegion); err != nil {
			lg.Warn("ses provider unavailable", "error", err.Error())
		}
	}

	ticketRepo := postgres.NewTicketRepo(db)
	accountRepo := postgres.NewEmailAccountRepo(db)
	emailRepo := postgres.NewEmailRepo(db)
	routingRepo := postgres.NewRoutingRepo(db)
	slaRepo := postgres.NewSlaRepo(db)
	attachmentRepo := postgres.NewAttachmentRepo(db)
	userRepo := postgres.NewUserRepo(db)

	tickets := ticket.NewService(ticketRepo, clk, m)
	slas := sla.NewService(slaRepo, clk, m)
	router := routing.NewEngine(routingRepo, tickets, clk)

	tickets.SetRouter(router)
	tickets.SetSlaSource(slas)
	tickets.SetSlaHooks(slas)
	if blobs != nil {
		tickets.SetBlobStore(blobs)
	}

	accounts := emailaccount.NewService(accountRepo, box, providers, clk)
	templates := mail.NewTemplateEngine()
	dispatcher := outbound.NewDispatcher(emailRepo, accounts, providers, templates,
		tickets, userRepo, clk, m, cfg.Email.SMTPMaxPerAccount)

	attachments := attachment.NewService(attachmentRepo, blobs, clk)

	var coordinator *ai.Coordinator
	if cfg.AI.Enabled() {
		gen := ai.NewOpenAIGenerator(cfg.AI.APIKey, cfg.AI.Model)
		coordinator = ai.NewCoordinator(tickets, gen, window, clk, m, ai.Config{
			MaxConcurrent: cfg.AI.MaxConcurrent,
			Preamble:      cfg.AI.Preamble,
			GenTimeout:    cfg.Timeouts.LLM(),
			SystemNotes:   cfg.AI.SystemNotes,
			LogFailures:   cfg.AI.LogFailures,
		})
	} else {
		lg.Warn("LLM_API_KEY not set; automated replies disabled")
	}

	classifier := buildClassifier(cfg.Email, lg)

	ingestor := worker.NewIngestor(cfg.Email, tickets, emailRepo, userRepo,
		classifier, attachmentRepo, blobs, clk, m)
	if coordinator != nil {
		ingestor.SetReplySink(coordinator)
	}

	poller := worker.NewEmailPoller(cfg.Email, cfg.Timeouts.IMAP(), accounts, ingestor, m)
	scanner := worker.NewSlaScanner(slas, distlock.NewLock(rdb, db, "helpdesk:sla-scan", 2*time.Minute))
	reaper := worker.NewTrashReaper(tickets, userRepo,
		distlock.NewLock(rdb, db, "helpdesk:trash-reap", 15*time.Minute), clk, cfg.Retention.Days)

	return &Services{
		Config:      cfg,
		DB:          db,
		Log:         lg,
		Metrics:     m,
		Tickets:     tickets,
		Accounts:    accounts,
		Outbound:    dispatcher,
		Routing:     router,
		Slas:        slas,
		Attachments: attachments,
		AI:          coordinator,
		Ingestor:    ingestor,
		Auth:        auth.NewVerifier(cfg.Auth),
		Emails:      emailRepo,
		Users:       userRepo,
		Blobs:       blobs,
		Redis:       rdb,
		Poller:      poller,
		Scanner:     scanner,
		Reaper:      reaper,
	}, nil
}

// Close releases connections held by the aggregate. The DB pool is owned by
// the caller that opened it.
func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// dialRedis connects when a URL is configured; a dead Redis degrades to
// the in-process fallbacks rather than failing boot.
func dialRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[App] Invalid REDIS_URL, using in-process fallbacks: %v", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[App] Redis unreachable (%s), using in-process fallbacks: %v", url, err)
		_ = client.Close()
		return nil
	}
	return client
}

// buildClassifier assembles the spam filter per config: nil when disabled,
// rules-only by default, rules+Bayes when the ML layer is enabled and a
// corpus loads.
func buildClassifier(cfg config.EmailConfig, lg logger.Logger) *spam.Classifier {
	if !cfg.SpamFilterEnabled {
		return nil
	}
	c := spam.New(spam.DefaultOptions())
	if cfg.MLClassifierEnabled && cfg.SpamCorpusFile != "" {
		model := spam.NewBayes()
		if err := model.LoadCorpus(cfg.SpamCorpusFile); err != nil {
			lg.Warn("spam corpus load failed; rules-only filtering",
				"file", cfg.SpamCorpusFile, "error", err.Error())
		} else {
			c = c.WithModel(model)
		}
	}
	return c
}
