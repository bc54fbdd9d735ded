package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/trade-docs-backend/internal/config"
	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
	"github.com/kirillkom/trade-docs-backend/internal/core/usecase"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/authz"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/compliance"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/extractor/local"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/queue/nats"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/quota"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/resilience"
	"github.com/kirillkom/trade-docs-backend/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/trade-docs-backend/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue         *nats.Queue
	Users         ports.UserRepository
	WorkerMetrics *metrics.WorkerMetrics

	OrdersUC    ports.ShipmentOrderService
	StagesUC    ports.StageAssignmentService
	LifecycleUC ports.StageLifecycleService
	IngestUC    ports.DocumentIngestor
	ProcessUC   ports.DocumentProcessor
	QuotaUC     ports.QuotaAdmin

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	users := postgres.NewUserRepository(db)
	orders := postgres.NewShipmentOrderRepository(db)
	assignments := postgres.NewForwarderAssignmentRepository(db)
	documents := postgres.NewDocumentRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSProcessSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.QueueConfig()),
		NotifySubject:      cfg.NATSNotifySubject,
		JobTimeout:         nats.DefaultJobTimeout,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	policy, err := authz.NewPolicy()
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init access policy: %w", err)
	}

	rules, err := compliance.LoadRuleSet(cfg.ComplianceRulesPath)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load compliance rules: %w", err)
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")
	providers, err := newProviders(ctx, cfg, storage, rules, resilience.NewExecutor(resilience.ProviderConfig()))
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, err
	}

	quotaManager := quota.NewManager(
		providers.chains(),
		quota.WithCooldown(cfg.QuotaCooldown()),
		quota.WithObserver(workerMetrics.SetProviderAvailable),
	)
	for _, status := range quotaManager.Status() {
		workerMetrics.SetProviderAvailable(status.Provider, status.Available)
	}

	app := &App{
		Config:        cfg,
		Queue:         queue,
		Users:         users,
		WorkerMetrics: workerMetrics,

		OrdersUC:    usecase.NewShipmentOrderUseCase(orders, users, documents, policy, queue),
		StagesUC:    usecase.NewStageAssignmentUseCase(orders, assignments, users, policy),
		LifecycleUC: usecase.NewStageLifecycleUseCase(assignments, orders, policy),
		IngestUC:    usecase.NewIngestDocumentUseCase(documents, storage, queue, orders, policy),
		ProcessUC:   usecase.NewProcessDocumentUseCase(documents, providers.extractors, providers.analyzers, quotaManager, workerMetrics),
		QuotaUC:     usecase.NewQuotaAdminUseCase(quotaManager, policy),
	}
	app.closeFn = func() {
		providers.close()
		queue.Close()
		closeDB(db)
	}
	return app, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("postgres_close_failed", "error", err)
	}
}

type providerSet struct {
	extractors map[domain.Provider]ports.DocumentExtractor
	analyzers  map[domain.Provider]ports.ComplianceAnalyzer
	gemini     *gemini.Client
}

// newProviders wires the AI chain. Gemini is skipped without an API key
// and Ollama when disabled; the local extractor and the rule engine are
// always present.
func newProviders(
	ctx context.Context,
	cfg config.Config,
	storage ports.ObjectStorage,
	rules *compliance.RuleSet,
	executor *resilience.Executor,
) (*providerSet, error) {
	set := &providerSet{
		extractors: map[domain.Provider]ports.DocumentExtractor{
			domain.ProviderLocalOCR: local.NewExtractor(storage),
		},
		analyzers: map[domain.Provider]ports.ComplianceAnalyzer{
			domain.ProviderRuleBased: compliance.NewRuleBasedAnalyzer(rules),
		},
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, gemini.WithExecutor(executor))
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		set.gemini = client
		set.extractors[domain.ProviderGeminiOCR] = gemini.NewOCRExtractor(client, storage, cfg.GeminiOCRModel)
		set.analyzers[domain.ProviderGemini] = gemini.NewComplianceAnalyzer(client, rules, cfg.GeminiComplianceModel)
	} else {
		slog.Warn("gemini_disabled", "reason", "GEMINI_API_KEY is empty")
	}

	if cfg.OllamaEnabled {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, ollama.WithExecutor(executor))
		set.analyzers[domain.ProviderOllama] = ollama.NewComplianceAnalyzer(client, rules)
	}
	return set, nil
}

// chains keeps the default preference order restricted to wired providers.
func (s *providerSet) chains() map[domain.AITask]quota.Chain {
	out := quota.DefaultChains()
	for task, chain := range out {
		preferred := make([]domain.Provider, 0, len(chain.Preferred))
		for _, p := range chain.Preferred {
			if s.has(task, p) {
				preferred = append(preferred, p)
			}
		}
		chain.Preferred = preferred
		out[task] = chain
	}
	return out
}

func (s *providerSet) has(task domain.AITask, provider domain.Provider) bool {
	switch task {
	case domain.TaskOCR:
		_, ok := s.extractors[provider]
		return ok
	case domain.TaskCompliance:
		_, ok := s.analyzers[provider]
		return ok
	default:
		return false
	}
}

func (s *providerSet) close() {
	if s.gemini != nil {
		s.gemini.Close()
	}
}
