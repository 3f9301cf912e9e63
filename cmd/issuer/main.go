// issuer is the composition root wiring configuration, persistence, key
// custody and the submission orchestrator together. It carries no HTTP/REST
// surface of its own (§1 Non-goals: that layer is an external collaborator);
// it only wires the core and runs a background poller that calls
// CheckStatus on every submission id pendingFromQueue hands it, the way an
// external API layer's worker process would. pendingFromQueue returns no
// ids, so as shipped the poller checks no submission.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinto-dian/issuer/internal/keycustody"
	"github.com/tinto-dian/issuer/internal/orchestrator"
	"github.com/tinto-dian/issuer/internal/postgres"
	"github.com/tinto-dian/issuer/internal/soapclient"
	"github.com/tinto-dian/issuer/internal/ubl"
	"github.com/tinto-dian/issuer/internal/domain/entity"
	"github.com/tinto-dian/issuer/pkg/config"
	"github.com/tinto-dian/issuer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("loading configuration: " + err.Error())
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info"})
	log.Info().Str("env", cfg.App.Env).Str("app", cfg.App.Name).Msg("starting issuer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	submissionRepo := postgres.NewSubmissionRepository(pool)
	issuerRepo := postgres.NewIssuerRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	environmentRepo := postgres.NewEnvironmentRepository(pool)
	// ApiKeyRepo/ReplayGuardRepo back internal/auth.Verifier, constructed by
	// whatever process hosts the external API layer (§1 Non-goals) — not
	// this composition root.

	master, err := keycustody.LoadMasterKey(cfg.KeyCustody.MasterKeyFilePath, cfg.KeyCustody.SystemKeyEnv)
	if err != nil {
		log.Fatal().Err(err).Msg("loading master key — requires direct console access")
	}

	certSource := keycustody.NewCertSource(master, cfg.DIAN.CertPassword)

	soapCreds := soapclient.Credentials{
		SoftwareID:  cfg.DIAN.SoftwareID,
		SoftwarePIN: cfg.DIAN.SoftwarePIN,
	}
	soapClients := map[entity.EnvironmentName]orchestrator.SOAPClient{
		entity.EnvironmentHabilitacion: soapclient.New(cfg.DIAN.SOAPURLHab, soapCreds),
		entity.EnvironmentProduccion:   soapclient.New(cfg.DIAN.SOAPURLProd, soapCreds),
	}
	envConfig := map[entity.EnvironmentName]orchestrator.EnvironmentConfig{
		entity.EnvironmentHabilitacion: {
			TechnicalKey: cfg.DIAN.TechnicalKeyHab,
			Software:     ubl.SoftwareIdentity{SoftwareProviderID: cfg.DIAN.SoftwareID, SoftwareID: cfg.DIAN.SoftwareID},
		},
		entity.EnvironmentProduccion: {
			TechnicalKey: cfg.DIAN.TechnicalKeyProd,
			Software:     ubl.SoftwareIdentity{SoftwareProviderID: cfg.DIAN.SoftwareID, SoftwareID: cfg.DIAN.SoftwareID},
		},
	}

	orch := &orchestrator.Orchestrator{
		Invoices:     invoiceRepo,
		Submissions:  submissionRepo,
		Issuers:      issuerRepo,
		Customers:    customerRepo,
		Environments: environmentRepo,
		Certs:        certSource,
		Cipher:       master,
		SOAPClients:  soapClients,
		EnvConfig:    envConfig,
		Log:          log.Zerolog(),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go runPoller(ctx, orch, log)

	<-stop
	log.Info().Msg("shutdown signal received")
	cancel()
	log.Info().Msg("issuer stopped")
}

// runPoller calls pollPendingSubmissions every 30 seconds until ctx is
// cancelled, the background half of §4.9's poll_until_final that an external
// API layer would otherwise trigger per-request.
func runPoller(ctx context.Context, orch *orchestrator.Orchestrator, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollPendingSubmissions(ctx, orch, log)
		}
	}
}

func pollPendingSubmissions(ctx context.Context, orch *orchestrator.Orchestrator, log *logger.Logger) {
	// The persistence port exposes no "list all pending" query by design
	// (§4.10 scopes reads to an invoice or a submission id); an external
	// worker queue is expected to feed submission ids one at a time. This
	// loop is a placeholder driving whatever ids that queue hands it.
	for _, submissionID := range pendingFromQueue() {
		if _, err := orch.CheckStatus(ctx, submissionID); err != nil {
			log.Error().Err(err).Str("submission_id", submissionID).Msg("poller: check_status failed")
		}
	}
}

// pendingFromQueue is the seam where a real worker queue (SQS, a DB LISTEN,
// a cron-fed table scan) would be wired in; none of the example repos carry
// one, so this stays an explicit empty hook rather than a fabricated queue.
func pendingFromQueue() []string { return nil }
