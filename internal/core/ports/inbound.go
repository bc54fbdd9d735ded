package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type OrderInput struct {
	ClientID string
	Details  domain.OrderDetails
	Products []domain.Product
	Notes    string
}

// ShipmentOrderService is the inbound contract for the order lifecycle.
type ShipmentOrderService interface {
	Create(ctx context.Context, actor *domain.User, input OrderInput) (*domain.ShipmentOrder, error)
	Update(ctx context.Context, orderID string, actor *domain.User, input OrderInput) (*domain.ShipmentOrder, error)
	AttachDocument(ctx context.Context, orderID string, actor *domain.User, documentID string) (*domain.ShipmentOrder, error)
	Submit(ctx context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error)
	Get(ctx context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error)
	List(ctx context.Context, actor *domain.User) ([]domain.ShipmentOrder, error)
}

type StageAssignmentInput struct {
	Stage       domain.Stage
	ForwarderID string
	Notes       string
}

type AssignStagesRequest struct {
	Stages              []StageAssignmentInput
	EstimatedCompletion *time.Time
}

// StageAssignmentService splits an order into per-stage assignments.
type StageAssignmentService interface {
	AssignStages(ctx context.Context, orderID string, actor *domain.User, request AssignStagesRequest) (*domain.ForwarderAssignment, error)
}

// ForwarderTask is one sub-assignment projected for its forwarder.
type ForwarderTask struct {
	AssignmentID     string                  `json:"assignment_id"`
	OrderID          string                  `json:"order_id"`
	OrderNumber      string                  `json:"order_number,omitempty"`
	AssignmentStatus domain.AssignmentStatus `json:"assignment_status"`
	CurrentStage     domain.Stage            `json:"current_stage"`
	Task             domain.SubAssignment    `json:"task"`
}

type WorkflowSummary struct {
	AssignmentID string                              `json:"assignment_id"`
	OrderID      string                              `json:"order_id"`
	OrderNumber  string                              `json:"order_number,omitempty"`
	Status       domain.AssignmentStatus             `json:"status"`
	CurrentStage domain.Stage                        `json:"current_stage"`
	Stages       map[domain.Stage]domain.StageStatus `json:"stages"`
}

type WorkflowStatus struct {
	Total       int                                         `json:"total"`
	ByStatus    map[domain.AssignmentStatus]int             `json:"by_status"`
	ByStage     map[domain.Stage]map[domain.StageStatus]int `json:"by_stage"`
	Assignments []WorkflowSummary                           `json:"assignments"`
}

// StageLifecycleService drives a single sub-assignment through its states.
type StageLifecycleService interface {
	Start(ctx context.Context, assignmentID string, stage domain.Stage, actor *domain.User) (*domain.ForwarderAssignment, error)
	UpdateStatus(ctx context.Context, assignmentID string, actor *domain.User, update domain.StageUpdate) (*domain.ForwarderAssignment, error)
	Complete(ctx context.Context, assignmentID string, stage domain.Stage, actor *domain.User, notes string) (*domain.ForwarderAssignment, error)
	Get(ctx context.Context, assignmentID string, actor *domain.User) (*domain.ForwarderAssignment, error)
	GetForOrder(ctx context.Context, orderID string, actor *domain.User) (*domain.ForwarderAssignment, error)
	MyTasks(ctx context.Context, actor *domain.User) ([]ForwarderTask, error)
	WorkflowStatus(ctx context.Context, actor *domain.User) (*WorkflowStatus, error)
}

type UploadInput struct {
	Filename        string
	MimeType        string
	DocumentType    string
	ShipmentOrderID string
	Body            io.Reader
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, actor *domain.User, input UploadInput) (*domain.TradeDocument, error)
	RequestReprocess(ctx context.Context, documentID string, actor *domain.User) error
	RequestBatch(ctx context.Context, documentIDs []string, actor *domain.User) (int, error)
	GetProcessingStatus(ctx context.Context, documentID string, actor *domain.User) (*domain.ProcessingStatus, error)
}

// DocumentProcessor is the inbound contract for the detached AI pipeline.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
	Reprocess(ctx context.Context, documentID string) error
	ProcessBatch(ctx context.Context, documentIDs []string) domain.BatchResult
}

// QuotaAdmin exposes quota state to administrators.
type QuotaAdmin interface {
	Status(ctx context.Context, actor *domain.User) ([]domain.ProviderQuota, error)
	Reset(ctx context.Context, actor *domain.User, provider domain.Provider) error
}
