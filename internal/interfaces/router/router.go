package router

import (
	"context"
	"time"

	"apolice-backend/internal/application/commissions"
	"apolice-backend/internal/application/credit"
	"apolice-backend/internal/application/issuance"
	"apolice-backend/internal/application/proposals"
	"apolice-backend/internal/application/signing"
	"apolice-backend/internal/application/tomadores"
	"apolice-backend/internal/config"
	"apolice-backend/internal/constants"
	"apolice-backend/internal/infrastructure/asaas"
	"apolice-backend/internal/infrastructure/d4sign"
	"apolice-backend/internal/infrastructure/database"
	"apolice-backend/internal/infrastructure/receitaws"
	commhandler "apolice-backend/internal/interfaces/handlers/commissions"
	healthhandler "apolice-backend/internal/interfaces/handlers/health"
	prophandler "apolice-backend/internal/interfaces/handlers/proposals"
	sighandler "apolice-backend/internal/interfaces/handlers/signatures"
	tomhandler "apolice-backend/internal/interfaces/handlers/tomadores"
	hookhandler "apolice-backend/internal/interfaces/handlers/webhooks"
	"apolice-backend/internal/middleware"
	"apolice-backend/internal/webhooks"

	"github.com/bsm/redislock"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Deps are the collaborators NewApp wires into routes. Outbound clients are interfaces so tests
// can swap them for fakes.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Rdb      *redis.Client
	Gateway  proposals.PaymentGateway
	Provider signing.Provider
	Registry tomadores.CompanyLookup
	Renderer signing.Renderer
	Now      func() time.Time
}

// Server is the assembled process: the HTTP app plus the background signing worker.
type Server struct {
	App    *fiber.App
	DB     *gorm.DB
	Rdb    *redis.Client
	Worker *signing.Worker
}

// CreateApp opens the stores, builds the vendor clients from cfg and wires every route.
func CreateApp(cfg *config.Config) (*Server, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opts)
	}
	return NewApp(Deps{
		Config:  cfg,
		DB:      db,
		Rdb:     rdb,
		Gateway: proposals.AsaasGateway{Client: &asaas.Client{BaseURL: cfg.Asaas.BaseURL, APIKey: cfg.Asaas.APIKey}},
		Provider: NewSigningClient(cfg.D4Sign),
		Registry: &receitaws.Client{BaseURL: cfg.Receita},
	}), nil
}

// NewApp wires services, handlers and middleware. Webhooks are mounted before the session
// middleware and read the raw body.
func NewApp(d Deps) *Server {
	cfg := d.Config
	renderer := d.Renderer
	if renderer == nil {
		renderer = signing.TextRenderer{}
	}

	orchestrator := &signing.Orchestrator{
		DB:              d.DB,
		Provider:        d.Provider,
		Renderer:        renderer,
		InternalSigners: internalSigners(cfg.D4Sign),
	}
	worker := signing.NewWorker(d.DB, orchestrator, signing.WorkerConfig{
		Interval:    cfg.Signing.WorkerInterval,
		MaxAttempts: cfg.Signing.MaxAttempts,
		BackoffBase: cfg.Signing.BackoffBase,
		BackoffMax:  cfg.Signing.BackoffMax,
	})
	if d.Now != nil {
		worker.Now = d.Now
	}

	ledger := &credit.Ledger{DB: d.DB}
	if d.Rdb != nil {
		ledger.Locker = redislock.New(d.Rdb)
	}
	proposalSvc := &proposals.Service{
		DB:          d.DB,
		Ledger:      ledger,
		Gateway:     d.Gateway,
		BillingType: cfg.Asaas.BillingType,
		DueDays:     cfg.Asaas.DueDays,
		Now:         d.Now,
	}
	issuer := &issuance.Service{
		DB:           d.DB,
		Worker:       worker,
		NumberPrefix: cfg.Policies.NumberPrefix,
		AutoSign:     cfg.D4Sign.AutoSign,
		Now:          d.Now,
	}
	signingSvc := &signing.Service{DB: d.DB, Worker: worker}
	reconciler := &signing.Reconciler{DB: d.DB, Worker: worker, Now: d.Now}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.NewErrorHandler(d.Rdb),
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffixes: middleware.SplitSuffixes(cfg.FrontendURLEndsWith),
		DevPassword:     cfg.DevPassword,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.HealthMarker(d.Rdb))
	app.Use(middleware.RouteLogger())

	wh := &hookhandler.Handler{
		DB:                d.DB,
		PaymentVerifier:   PaymentVerifier(cfg.Asaas),
		SignatureVerifier: SignatureVerifier(cfg.D4Sign),
		Issuer:            issuer,
		Reconciler:        reconciler,
		Now:               d.Now,
	}
	app.Post("/api/v1/webhooks/asaas", wh.Payment)
	app.Post("/api/v1/webhooks/d4sign", wh.Signature)

	hh := &healthhandler.Handlers{
		Rdb:            d.Rdb,
		DB:             &gormDBPinger{db: d.DB},
		HealthAdminKey: cfg.HealthAdminKey,
		Backlog: func(ctx context.Context) (map[string]int64, error) {
			return signing.Backlog(ctx, d.DB)
		},
	}
	app.Get("/health/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	app.Use(middleware.Session(d.Rdb))
	api := app.Group("/api/v1", middleware.RequireAuth())

	ph := &prophandler.Handlers{Service: proposalSvc, Policies: issuer}
	pg := api.Group("/proposals", middleware.AuthorizePermission(constants.ManageProposals))
	pg.Post("/", ph.Create)
	pg.Get("/", ph.List)
	pg.Get("/:id", ph.Get)
	pg.Get("/:id/policy", ph.Policy)
	pg.Patch("/:id/rate", ph.UpdateRate)
	pg.Post("/:id/pre-issue", ph.PreIssue)
	pg.Post("/:id/issue", ph.Issue)
	pg.Patch("/:id/cancel", ph.Cancel)

	ch := &commhandler.Handlers{Service: &commissions.Service{DB: d.DB}, Now: d.Now}
	api.Get("/commissions", middleware.AuthorizePermission(constants.ViewCommissions), ch.Mine)
	api.Get("/policies/:id/commissions", middleware.AuthorizePermission(constants.ViewCommissions), ch.ByPolicy)
	api.Patch("/commissions/:id/pay", middleware.AuthorizePermission(constants.PayCommissions), ch.Pay)

	th := &tomhandler.Handlers{
		Service: &tomadores.Service{DB: d.DB, Registry: d.Registry},
		Ledger:  ledger,
		Signing: signingSvc,
	}
	tg := api.Group("/tomadores")
	tg.Get("/:id/credit", middleware.AuthorizePermission(constants.ViewCredit), th.Credit)
	tg.Put("/:id/credit", middleware.AuthorizePermission(constants.ManageCredit), th.SetCredit)
	tg.Post("/:id/ccg", middleware.AuthorizePermission(constants.SubmitCCG), th.SubmitCCG)
	tg.Get("/:cnpj", middleware.AuthorizePermission(constants.LookupTomador), th.Lookup)
	tg.Put("/:cnpj/refresh", middleware.AuthorizePermission(constants.LookupTomador), th.Refresh)

	sh := &sighandler.Handlers{Service: signingSvc}
	sg := api.Group("/signatures", middleware.AuthorizePermission(constants.RequeueSignature))
	sg.Get("/backlog", sh.Backlog)
	sg.Get("/:id", sh.Get)
	sg.Post("/:id/requeue", sh.Requeue)

	api.Get("/webhooks/receipts", middleware.AuthorizePermission(constants.ViewWebhooks), wh.Receipts)

	return &Server{App: app, DB: d.DB, Rdb: d.Rdb, Worker: worker}
}

// NewSigningClient builds the e-signature client; downloads are retried with linear backoff.
func NewSigningClient(c config.D4SignConfig) *d4sign.Client {
	return &d4sign.Client{
		BaseURL:         c.BaseURL,
		TokenAPI:        c.TokenAPI,
		CryptKey:        c.CryptKey,
		SafeUUID:        c.SafeUUID,
		FolderUUID:      c.FolderUUID,
		DownloadRetries: c.DownloadRetries,
		RetryDelay:      c.RetryDelay,
	}
}

// PaymentVerifier prefers an HMAC over the body and falls back to the gateway's static token header.
func PaymentVerifier(c config.AsaasConfig) webhooks.Verifier {
	if c.WebhookSecret != "" {
		return webhooks.BodyHMAC{Secret: c.WebhookSecret, Header: "Asaas-Signature"}
	}
	return webhooks.TokenMatch{Token: c.WebhookToken, Header: "asaas-access-token"}
}

// SignatureVerifier picks body or document-uuid HMAC per D4SIGN_HMAC_MODE.
func SignatureVerifier(c config.D4SignConfig) webhooks.Verifier {
	if c.HMACMode == "uuid" {
		return webhooks.FieldHMAC{Secret: c.HMACKey, Header: "Content-Hmac", Fields: webhooks.DocumentIDFields}
	}
	return webhooks.BodyHMAC{Secret: c.HMACKey, Header: "Content-Hmac"}
}

func internalSigners(c config.D4SignConfig) []signing.InternalSigner {
	out := make([]signing.InternalSigner, 0, len(c.InternalSigners))
	for _, s := range c.InternalSigners {
		out = append(out, signing.InternalSigner{
			Email:     s.Email,
			Act:       s.Act,
			Certified: c.CertificateEmail != "" && s.Email == c.CertificateEmail,
		})
	}
	return out
}
