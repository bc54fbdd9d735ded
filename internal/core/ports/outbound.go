package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// UserRepository reads the identity and role store.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

// ShipmentOrderRepository persists orders. Update is a compare-and-swap on
// Version and bumps it on success.
type ShipmentOrderRepository interface {
	Create(ctx context.Context, order *domain.ShipmentOrder) error
	GetByID(ctx context.Context, id string) (*domain.ShipmentOrder, error)
	Update(ctx context.Context, order *domain.ShipmentOrder) error
	ListByExporter(ctx context.Context, exporterID string) ([]domain.ShipmentOrder, error)
	ListByForwarder(ctx context.Context, forwarderID string) ([]domain.ShipmentOrder, error)
	ListAll(ctx context.Context) ([]domain.ShipmentOrder, error)
}

// ForwarderAssignmentRepository persists the one assignment record per order.
type ForwarderAssignmentRepository interface {
	Create(ctx context.Context, assignment *domain.ForwarderAssignment) error
	GetByID(ctx context.Context, id string) (*domain.ForwarderAssignment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.ForwarderAssignment, error)
	Update(ctx context.Context, assignment *domain.ForwarderAssignment) error
	ListByForwarder(ctx context.Context, forwarderID string) ([]domain.ForwarderAssignment, error)
	ListByAssigner(ctx context.Context, assignerID string) ([]domain.ForwarderAssignment, error)
}

// DocumentRepository persists document metadata and pipeline state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.TradeDocument) error
	GetByID(ctx context.Context, id string) (*domain.TradeDocument, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveExtraction(ctx context.Context, id string, extraction *domain.Extraction, step domain.StepResult) error
	SaveCompliance(ctx context.Context, id string, analysis *domain.ComplianceAnalysis, step domain.StepResult) error
	Finalize(ctx context.Context, id string, status domain.DocumentStatus, errMessage string, results domain.AIProcessingResults, processedAt time.Time) error
	ResetProcessing(ctx context.Context, id string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// JobQueue publishes/consumes document processing jobs.
type JobQueue interface {
	PublishJob(ctx context.Context, job domain.ProcessingJob) error
	SubscribeJobs(ctx context.Context, handler func(context.Context, domain.ProcessingJob) error) error
}

// Notifier hands notifications to the delivery transport.
type Notifier interface {
	Notify(ctx context.Context, notification domain.Notification) error
}

// DocumentExtractor runs the OCR/extraction step for a stored document.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc *domain.TradeDocument) (*domain.Extraction, error)
}

// ComplianceAnalyzer scores extracted data against the rules for a document type.
type ComplianceAnalyzer interface {
	Analyze(ctx context.Context, documentType string, extraction *domain.Extraction) (*domain.ComplianceAnalysis, error)
}

// QuotaManager tracks provider availability and picks providers per task.
type QuotaManager interface {
	IsServiceAvailable(provider domain.Provider) bool
	HandleQuotaExceeded(provider domain.Provider, err error) time.Time
	RecordSuccess(provider domain.Provider)
	GetBestAvailableService(task domain.AITask, skip ...domain.Provider) domain.Provider
	ShouldRetryService(provider domain.Provider) bool
	ResetServiceQuota(provider domain.Provider)
	Status() []domain.ProviderQuota
}

// AccessPolicy decides whether an actor holds a capability on a resource.
// A nil resource checks the role gate only.
type AccessPolicy interface {
	Check(actor *domain.User, resource domain.Resource, capability domain.Capability) error
}

// PipelineObserver receives pipeline timings for metrics.
type PipelineObserver interface {
	ObserveStep(task domain.AITask, provider domain.Provider, success bool, duration time.Duration)
	ObserveDocument(status domain.DocumentStatus, duration time.Duration)
}

// JobObserver receives per-job timings from the worker.
type JobObserver interface {
	StartJob()
	FinishJob(kind domain.JobKind, duration time.Duration, err error)
}
