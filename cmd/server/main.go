package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "expedite-backend/internal/api/http"
	"expedite-backend/internal/config"
	"expedite-backend/internal/events"
	"expedite-backend/internal/gateway"
	"expedite-backend/internal/loadbalancer"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/metrics"
	"expedite-backend/internal/payment"
	"expedite-backend/internal/repository"
	"expedite-backend/internal/repository/memory"
	"expedite-backend/internal/repository/postgres"
	"expedite-backend/internal/security"
	"expedite-backend/internal/service"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// repositories is the repository set shared by the postgres and memory stores.
type repositories struct {
	tx           repository.TxManager
	accounts     repository.AccountRepository
	cases        repository.CaseRepository
	transactions repository.TransactionRepository
	processors   repository.ProcessorRepository
	loadBalancer repository.LoadBalancerRepository
	catalog      repository.CatalogRepository
	statuses     repository.StatusRepository
	offlineLinks repository.OfflinePaymentLinkRepository
	paymentAudit repository.PaymentAuditRepository
	caseManagers repository.CaseManagerRepository
}

func main() {
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting expedite backend", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	repos, closeStore, err := openRepositories(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	cipher, err := security.NewCredentialCipher([]byte(cfg.Security.CredentialKey))
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}
	tokens := security.NewTokenManager(
		cfg.JWT.Secret,
		time.Duration(cfg.JWT.SessionExpiryMinutes)*time.Minute,
		time.Duration(cfg.JWT.PaymentExpiryMinutes)*time.Minute,
	)

	gw := gateway.NewClient(cfg.Gateway.URL, cfg.GatewayTimeout(),
		gateway.WithMetrics(m),
		gateway.WithBreaker(cfg.Gateway.BreakerFailures, time.Duration(cfg.Gateway.BreakerCooldownSecond)*time.Second),
	)
	balancer := loadbalancer.New(repos.loadBalancer, repos.processors, repos.tx, cipher, m)
	settings := payment.Settings{
		ChargeOnlineProcessingFee: cfg.Payment.ChargeOnlineProcessingFee,
		OnlineProcessingFeePct:    cfg.Payment.OnlineProcessingFeePct,
	}
	orchestrator := payment.NewOrchestrator(repos.catalog, repos.transactions, repos.paymentAudit, balancer, gw, settings,
		payment.WithMetrics(m),
	)

	dispatcher := events.NewDispatcher(m)
	var mailer service.Mailer
	if cfg.Mail.SendGridAPIKey != "" {
		logger.Info("Using SendGrid mailer", "from", cfg.Mail.FromAddress)
		mailer = service.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromAddress, cfg.Mail.FromName)
	} else {
		logger.Warn("No SendGrid API key configured, mail is only logged")
		mailer = service.NewLogMailer()
	}
	service.NewNotificationHandlers(mailer, cfg.Mail.PortalURL).Register(dispatcher)

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("Failed to close Kafka publisher", "error", err)
			}
		}()
		dispatcher.SubscribeAll(publisher.Handle)
		logger.Info("Publishing case events to Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	statuses := service.NewStatusLookup(repos.statuses)
	caseService := service.NewCaseService(service.CaseDeps{
		Tx:           repos.tx,
		Accounts:     repos.accounts,
		Cases:        repos.cases,
		Catalog:      repos.catalog,
		Processors:   repos.processors,
		OfflineLinks: repos.offlineLinks,
		PaymentAudit: repos.paymentAudit,
		Statuses:     statuses,
		Managers:     service.NewManagerAssigner(repos.caseManagers),
		Duplicates:   service.NewDuplicateDetector(repos.cases),
		ConsularFees: service.NewConsularFees(repos.catalog),
		Payments:     orchestrator,
		Tokens:       tokens,
		Events:       dispatcher,
		Metrics:      m,
		Settings:     settings,
	})
	levelService := service.NewServiceLevelService(repos.tx, repos.cases, repos.transactions, repos.catalog, orchestrator, dispatcher)
	processorService := service.NewProcessorService(repos.tx, repos.processors, cipher)
	offlineLinks, err := service.NewOfflineLinkService(repos.offlineLinks, repos.cases,
		time.Duration(cfg.Payment.OfflineLinkTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("Failed to initialize offline link service: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Services{
		Cases:        caseService,
		Levels:       levelService,
		Processors:   processorService,
		Weights:      balancer,
		OfflineLinks: offlineLinks,
	}, tokens, registry)

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		s := memory.NewStore()
		return &repositories{
			tx:           s,
			accounts:     s.Accounts,
			cases:        s.Cases,
			transactions: s.Transactions,
			processors:   s.Processors,
			loadBalancer: s.LoadBalancer,
			catalog:      s.Catalog,
			statuses:     s.Statuses,
			offlineLinks: s.OfflineLinks,
			paymentAudit: s.PaymentAudit,
			caseManagers: s.CaseManagers,
		}, func() {}, nil
	}

	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Database migrations applied")
	}

	s := postgres.NewStore(db)
	return &repositories{
		tx:           s.TxManager,
		accounts:     s.Accounts,
		cases:        s.Cases,
		transactions: s.Transactions,
		processors:   s.Processors,
		loadBalancer: s.LoadBalancer,
		catalog:      s.Catalog,
		statuses:     s.Statuses,
		offlineLinks: s.OfflineLinks,
		paymentAudit: s.PaymentAudit,
		caseManagers: s.CaseManagers,
	}, func() { db.Close() }, nil
}
