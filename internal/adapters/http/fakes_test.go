package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/config"
	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
	"github.com/kirillkom/trade-docs-backend/internal/observability/metrics"
)

const testSecret = "test-secret"

var (
	exporterUser  = domain.User{ID: "exp-1", Email: "exporter@example.com", Role: domain.RoleExporter, Status: domain.UserStatusActive}
	forwarderUser = domain.User{ID: "fwd-1", Email: "fwd@example.com", Role: domain.RoleForwarder, Status: domain.UserStatusActive}
	adminUser     = domain.User{ID: "adm-1", Email: "admin@example.com", Role: domain.RoleAdmin, Status: domain.UserStatusActive}
)

type usersFake map[string]domain.User

func (f usersFake) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "fake user", fmt.Errorf("id=%s", id))
	}
	return &u, nil
}

func (f usersFake) ListByRole(context.Context, domain.Role) ([]domain.User, error) {
	return nil, nil
}

type ordersFake struct {
	err       error
	lastActor *domain.User
	lastInput ports.OrderInput
	lastID    string
	lastDocID string
}

func (f *ordersFake) result(id string, actor *domain.User) (*domain.ShipmentOrder, error) {
	f.lastActor = actor
	f.lastID = id
	if f.err != nil {
		return nil, f.err
	}
	if id == "" {
		id = "ord-1"
	}
	return &domain.ShipmentOrder{ID: id, OrderNumber: "SO-20260402-0001", ExporterID: actor.ID, Status: domain.OrderStatusDraft}, nil
}

func (f *ordersFake) Create(_ context.Context, actor *domain.User, input ports.OrderInput) (*domain.ShipmentOrder, error) {
	f.lastInput = input
	return f.result("", actor)
}

func (f *ordersFake) Update(_ context.Context, orderID string, actor *domain.User, input ports.OrderInput) (*domain.ShipmentOrder, error) {
	f.lastInput = input
	return f.result(orderID, actor)
}

func (f *ordersFake) AttachDocument(_ context.Context, orderID string, actor *domain.User, documentID string) (*domain.ShipmentOrder, error) {
	f.lastDocID = documentID
	return f.result(orderID, actor)
}

func (f *ordersFake) Submit(_ context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error) {
	order, err := f.result(orderID, actor)
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusApproved
	order.AssignedForwarderID = forwarderUser.ID
	return order, nil
}

func (f *ordersFake) Get(_ context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error) {
	return f.result(orderID, actor)
}

func (f *ordersFake) List(_ context.Context, actor *domain.User) ([]domain.ShipmentOrder, error) {
	order, err := f.result("", actor)
	if err != nil {
		return nil, err
	}
	return []domain.ShipmentOrder{*order}, nil
}

type stagesFake struct {
	err     error
	request ports.AssignStagesRequest
}

func (f *stagesFake) AssignStages(_ context.Context, orderID string, actor *domain.User, request ports.AssignStagesRequest) (*domain.ForwarderAssignment, error) {
	f.request = request
	if f.err != nil {
		return nil, f.err
	}
	a := domain.NewForwarderAssignment(orderID, actor.ID, time.Now().UTC())
	for _, s := range request.Stages {
		a.AssignedForwarders = append(a.AssignedForwarders, domain.SubAssignment{
			Stage:       s.Stage,
			ForwarderID: s.ForwarderID,
			Status:      domain.StageStatusAssigned,
		})
	}
	return a, nil
}

type lifecycleFake struct {
	err       error
	lastStage domain.Stage
	update    domain.StageUpdate
	notes     string
}

func (f *lifecycleFake) assignment(id string) (*domain.ForwarderAssignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	a := domain.NewForwarderAssignment("ord-1", adminUser.ID, time.Now().UTC())
	a.ID = id
	return a, nil
}

func (f *lifecycleFake) Start(_ context.Context, assignmentID string, stage domain.Stage, _ *domain.User) (*domain.ForwarderAssignment, error) {
	f.lastStage = stage
	return f.assignment(assignmentID)
}

func (f *lifecycleFake) UpdateStatus(_ context.Context, assignmentID string, _ *domain.User, update domain.StageUpdate) (*domain.ForwarderAssignment, error) {
	f.update = update
	return f.assignment(assignmentID)
}

func (f *lifecycleFake) Complete(_ context.Context, assignmentID string, stage domain.Stage, _ *domain.User, notes string) (*domain.ForwarderAssignment, error) {
	f.lastStage = stage
	f.notes = notes
	return f.assignment(assignmentID)
}

func (f *lifecycleFake) Get(_ context.Context, assignmentID string, _ *domain.User) (*domain.ForwarderAssignment, error) {
	return f.assignment(assignmentID)
}

func (f *lifecycleFake) GetForOrder(context.Context, string, *domain.User) (*domain.ForwarderAssignment, error) {
	return f.assignment("asg-1")
}

func (f *lifecycleFake) MyTasks(_ context.Context, actor *domain.User) ([]ports.ForwarderTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ports.ForwarderTask{{
		AssignmentID: "asg-1",
		OrderID:      "ord-1",
		CurrentStage: domain.StagePickup,
		Task:         domain.SubAssignment{Stage: domain.StagePickup, ForwarderID: actor.ID, Status: domain.StageStatusAssigned},
	}}, nil
}

func (f *lifecycleFake) WorkflowStatus(context.Context, *domain.User) (*ports.WorkflowStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ports.WorkflowStatus{Total: 1, ByStatus: map[domain.AssignmentStatus]int{domain.AssignmentStatusAssigned: 1}}, nil
}

type documentsFake struct {
	err      error
	input    ports.UploadInput
	body     []byte
	batchIDs []string
}

func (f *documentsFake) Upload(_ context.Context, actor *domain.User, input ports.UploadInput) (*domain.TradeDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.input = input
	f.body = raw
	documentType := input.DocumentType
	if documentType == "" {
		documentType = "other"
	}
	return &domain.TradeDocument{
		ID:              "doc-1",
		OwnerID:         actor.ID,
		ShipmentOrderID: input.ShipmentOrderID,
		Filename:        input.Filename,
		DocumentType:    documentType,
		Status:          domain.StatusUploading,
	}, nil
}

func (f *documentsFake) RequestReprocess(context.Context, string, *domain.User) error {
	return f.err
}

func (f *documentsFake) RequestBatch(_ context.Context, documentIDs []string, _ *domain.User) (int, error) {
	f.batchIDs = documentIDs
	if f.err != nil {
		return 0, f.err
	}
	return len(documentIDs), nil
}

func (f *documentsFake) GetProcessingStatus(_ context.Context, documentID string, _ *domain.User) (*domain.ProcessingStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProcessingStatus{DocumentID: documentID, Status: domain.StatusCompleted, Progress: 100}, nil
}

type quotaFake struct {
	err   error
	reset domain.Provider
}

func (f *quotaFake) Status(context.Context, *domain.User) ([]domain.ProviderQuota, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.ProviderQuota{{Provider: domain.ProviderGemini, Available: true}}, nil
}

func (f *quotaFake) Reset(_ context.Context, _ *domain.User, provider domain.Provider) error {
	f.reset = provider
	return f.err
}

type testServices struct {
	orders    *ordersFake
	stages    *stagesFake
	lifecycle *lifecycleFake
	documents *documentsFake
	quota     *quotaFake
}

func newTestServices() *testServices {
	return &testServices{
		orders:    &ordersFake{},
		stages:    &stagesFake{},
		lifecycle: &lifecycleFake{},
		documents: &documentsFake{},
		quota:     &quotaFake{},
	}
}

func (s *testServices) bundle() Services {
	return Services{
		Orders:    s.orders,
		Stages:    s.stages,
		Lifecycle: s.lifecycle,
		Documents: s.documents,
		Quota:     s.quota,
	}
}

func newTestHandler(cfg config.Config, services *testServices) http.Handler {
	return newTestHandlerWithMetrics(cfg, services, nil)
}

func newTestHandlerWithMetrics(cfg config.Config, services *testServices, httpMetrics *metrics.HTTPServerMetrics) http.Handler {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if services == nil {
		services = newTestServices()
	}
	users := usersFake{
		exporterUser.ID:  exporterUser,
		forwarderUser.ID: forwarderUser,
		adminUser.ID:     adminUser,
	}
	return NewRouter(cfg, services.bundle(), users, httpMetrics).Handler()
}

func tokenFor(t *testing.T, user domain.User) string {
	t.Helper()
	token, err := SignToken([]byte(testSecret), user.ID, user.Role, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	return token
}

func authorizedRequest(t *testing.T, method, path string, payload any, user domain.User) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
	return req
}

type envelopeResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, handler http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelopeResponse) {
	t.Helper()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var body envelopeResponse
	if res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode envelope: %v (body=%s)", err, res.Body.String())
		}
	}
	return res, body
}
