package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// clone deep-copies through JSON so fakes behave like a real store.
func clone[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func notFound(kind, id string) error {
	return domain.WrapError(domain.ErrNotFound, "fake "+kind, fmt.Errorf("%s %s", kind, id))
}

type userStoreFake struct {
	users   map[string]domain.User
	listErr error
}

func newUserStore(users ...domain.User) *userStoreFake {
	store := &userStoreFake{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		store.users[u.ID] = u
	}
	return store
}

func (f *userStoreFake) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (f *userStoreFake) ListByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.User
	for _, u := range f.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

type orderStoreFake struct {
	mu          sync.Mutex
	orders      map[string]*domain.ShipmentOrder
	updates     int
	conflicts   int
	updateErr   error
	beforeWrite func(*orderStoreFake)
}

func newOrderStore(orders ...*domain.ShipmentOrder) *orderStoreFake {
	store := &orderStoreFake{orders: map[string]*domain.ShipmentOrder{}}
	for _, o := range orders {
		store.orders[o.ID] = clone(o)
	}
	return store
}

func (f *orderStoreFake) Create(_ context.Context, order *domain.ShipmentOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order.Version = 1
	f.orders[order.ID] = clone(order)
	return nil
}

func (f *orderStoreFake) GetByID(_ context.Context, id string) (*domain.ShipmentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return clone(o), nil
}

func (f *orderStoreFake) Update(_ context.Context, order *domain.ShipmentOrder) error {
	if f.beforeWrite != nil {
		hook := f.beforeWrite
		f.beforeWrite = nil
		hook(f)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.orders[order.ID]
	if !ok {
		return notFound("order", order.ID)
	}
	if stored.Version != order.Version {
		f.conflicts++
		return domain.Fail(domain.ErrConflict, "fake order update", "version mismatch")
	}
	order.Version++
	f.orders[order.ID] = clone(order)
	f.updates++
	return nil
}

// bump simulates a concurrent writer.
func (f *orderStoreFake) bump(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[id].Version++
}

func (f *orderStoreFake) stored(id string) *domain.ShipmentOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clone(f.orders[id])
}

func (f *orderStoreFake) list(keep func(*domain.ShipmentOrder) bool) []domain.ShipmentOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ShipmentOrder
	for _, o := range f.orders {
		if keep(o) {
			out = append(out, *clone(o))
		}
	}
	return out
}

func (f *orderStoreFake) ListByExporter(_ context.Context, exporterID string) ([]domain.ShipmentOrder, error) {
	return f.list(func(o *domain.ShipmentOrder) bool { return o.ExporterID == exporterID }), nil
}

func (f *orderStoreFake) ListByForwarder(_ context.Context, forwarderID string) ([]domain.ShipmentOrder, error) {
	return f.list(func(o *domain.ShipmentOrder) bool { return o.AssignedForwarderID == forwarderID }), nil
}

func (f *orderStoreFake) ListAll(context.Context) ([]domain.ShipmentOrder, error) {
	return f.list(func(*domain.ShipmentOrder) bool { return true }), nil
}

type assignmentStoreFake struct {
	mu          sync.Mutex
	assignments map[string]*domain.ForwarderAssignment
	creates     int
	updates     int
}

func newAssignmentStore() *assignmentStoreFake {
	return &assignmentStoreFake{assignments: map[string]*domain.ForwarderAssignment{}}
}

func (f *assignmentStoreFake) Create(_ context.Context, a *domain.ForwarderAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.assignments {
		if existing.OrderID == a.OrderID {
			return domain.Fail(domain.ErrConflict, "fake assignment create", "order already has an assignment")
		}
	}
	a.Version = 1
	f.assignments[a.ID] = clone(a)
	f.creates++
	return nil
}

func (f *assignmentStoreFake) GetByID(_ context.Context, id string) (*domain.ForwarderAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return nil, notFound("assignment", id)
	}
	return clone(a), nil
}

func (f *assignmentStoreFake) GetByOrderID(_ context.Context, orderID string) (*domain.ForwarderAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assignments {
		if a.OrderID == orderID {
			return clone(a), nil
		}
	}
	return nil, notFound("assignment for order", orderID)
}

func (f *assignmentStoreFake) Update(_ context.Context, a *domain.ForwarderAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.assignments[a.ID]
	if !ok {
		return notFound("assignment", a.ID)
	}
	if stored.Version != a.Version {
		return domain.Fail(domain.ErrConflict, "fake assignment update", "version mismatch")
	}
	a.Version++
	f.assignments[a.ID] = clone(a)
	f.updates++
	return nil
}

func (f *assignmentStoreFake) ListByForwarder(_ context.Context, forwarderID string) ([]domain.ForwarderAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ForwarderAssignment
	for _, a := range f.assignments {
		if a.HasForwarder(forwarderID) {
			out = append(out, *clone(a))
		}
	}
	return out, nil
}

func (f *assignmentStoreFake) ListByAssigner(_ context.Context, assignerID string) ([]domain.ForwarderAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ForwarderAssignment
	for _, a := range f.assignments {
		if a.AssignedBy == assignerID {
			out = append(out, *clone(a))
		}
	}
	return out, nil
}

func (f *assignmentStoreFake) only(orderID string) *domain.ForwarderAssignment {
	a, err := f.GetByOrderID(context.Background(), orderID)
	if err != nil {
		return nil
	}
	return a
}

type documentStoreFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.TradeDocument
	statusCalls []domain.DocumentStatus
	createErr   error
	statusErr   error
	finalizeErr error
	saveErr     error
	resets      int
}

func newDocumentStore(docs ...*domain.TradeDocument) *documentStoreFake {
	store := &documentStoreFake{docs: map[string]*domain.TradeDocument{}}
	for _, d := range docs {
		store.docs[d.ID] = clone(d)
	}
	return store
}

func (f *documentStoreFake) Create(_ context.Context, doc *domain.TradeDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.docs[doc.ID] = clone(doc)
	return nil
}

func (f *documentStoreFake) GetByID(_ context.Context, id string) (*domain.TradeDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, notFound("document", id)
	}
	return clone(d), nil
}

func (f *documentStoreFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return notFound("document", id)
	}
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusCalls = append(f.statusCalls, status)
	d.Status = status
	d.Error = errMessage
	return nil
}

func (f *documentStoreFake) SaveExtraction(_ context.Context, id string, extraction *domain.Extraction, step domain.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	d := f.docs[id]
	d.Extraction = clone(extraction)
	d.AIResults.OCR = &step
	return nil
}

func (f *documentStoreFake) SaveCompliance(_ context.Context, id string, analysis *domain.ComplianceAnalysis, step domain.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	d := f.docs[id]
	d.Compliance = clone(analysis)
	d.AIResults.Compliance = &step
	return nil
}

func (f *documentStoreFake) Finalize(_ context.Context, id string, status domain.DocumentStatus, errMessage string, results domain.AIProcessingResults, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	d := f.docs[id]
	f.statusCalls = append(f.statusCalls, status)
	d.Status = status
	d.Error = errMessage
	d.AIResults = results
	d.ProcessingTimeMs = results.TotalProcessingMs
	d.ProcessedAt = &processedAt
	return nil
}

func (f *documentStoreFake) ResetProcessing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return notFound("document", id)
	}
	d.Extraction = nil
	d.Compliance = nil
	d.AIResults = domain.AIProcessingResults{}
	d.Error = ""
	d.ProcessedAt = nil
	d.ProcessingTimeMs = 0
	f.resets++
	return nil
}

func (f *documentStoreFake) stored(id string) *domain.TradeDocument {
	doc, _ := f.GetByID(context.Background(), id)
	return doc
}

type storageFake struct {
	savedKey  string
	savedBody string
	deleted   []string
	err       error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.savedBody)), nil
}

type queueFake struct {
	jobs []domain.ProcessingJob
	err  error
}

func (f *queueFake) PublishJob(_ context.Context, job domain.ProcessingJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *queueFake) SubscribeJobs(context.Context, func(context.Context, domain.ProcessingJob) error) error {
	return errors.New("not implemented")
}

type notifierFake struct {
	sent chan domain.Notification
	err  error
}

func newNotifier() *notifierFake {
	return &notifierFake{sent: make(chan domain.Notification, 8)}
}

func (f *notifierFake) Notify(_ context.Context, n domain.Notification) error {
	f.sent <- n
	return f.err
}

// policyFake applies a role gate and then the resource's ownership rule.
type policyFake struct {
	roles map[domain.Capability][]domain.Role
}

func newPolicy() *policyFake {
	return &policyFake{roles: map[domain.Capability][]domain.Role{
		domain.CapOrderCreate:     {domain.RoleExporter},
		domain.CapOrderView:       {domain.RoleExporter, domain.RoleForwarder, domain.RoleCA},
		domain.CapOrderUpdate:     {domain.RoleExporter},
		domain.CapOrderSubmit:     {domain.RoleExporter},
		domain.CapStageOperate:    {domain.RoleForwarder},
		domain.CapAssignmentView:  {domain.RoleForwarder, domain.RoleExporter, domain.RoleCA},
		domain.CapDocumentUpload:  {domain.RoleExporter},
		domain.CapDocumentView:    {domain.RoleExporter, domain.RoleCA},
		domain.CapDocumentProcess: {domain.RoleExporter},
	}}
}

func (p *policyFake) Check(actor *domain.User, resource domain.Resource, capability domain.Capability) error {
	if actor == nil {
		return domain.Fail(domain.ErrUnauthorized, "check access", "no actor")
	}
	if !p.roleAllowed(actor, capability) {
		return domain.Fail(domain.ErrForbidden, "check access", "role not allowed")
	}
	if resource != nil && (actor.Role != domain.RoleAdmin || partyBound(capability)) && !resource.AccessibleBy(actor, capability) {
		return domain.Fail(domain.ErrForbidden, "check access", "not the owner")
	}
	return nil
}

func partyBound(capability domain.Capability) bool {
	switch capability {
	case domain.CapOrderUpdate, domain.CapOrderSubmit, domain.CapDocumentUpload, domain.CapAssignStages, domain.CapStageOperate:
		return true
	default:
		return false
	}
}

func (p *policyFake) roleAllowed(actor *domain.User, capability domain.Capability) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if capability == domain.CapAssignStages {
		return actor.IsAdminForwarder()
	}
	for _, role := range p.roles[capability] {
		if role == actor.Role {
			return true
		}
	}
	return false
}

type quotaFake struct {
	mu          sync.Mutex
	chains      map[domain.AITask][]domain.Provider
	unavailable map[domain.Provider]bool
	exceeded    []domain.Provider
	successes   []domain.Provider
	polled      []domain.Provider
}

func newQuotaFake() *quotaFake {
	return &quotaFake{
		chains: map[domain.AITask][]domain.Provider{
			domain.TaskOCR:        {domain.ProviderGeminiOCR, domain.ProviderLocalOCR},
			domain.TaskCompliance: {domain.ProviderGemini, domain.ProviderOllama, domain.ProviderRuleBased},
		},
		unavailable: map[domain.Provider]bool{},
	}
}

func (f *quotaFake) IsServiceAvailable(p domain.Provider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable[p]
}

func (f *quotaFake) HandleQuotaExceeded(p domain.Provider, _ error) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable[p] = true
	f.exceeded = append(f.exceeded, p)
	return time.Now().Add(time.Hour)
}

func (f *quotaFake) RecordSuccess(p domain.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, p)
}

func (f *quotaFake) GetBestAvailableService(task domain.AITask, skip ...domain.Provider) domain.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	chain := f.chains[task]
	for idx, p := range chain {
		last := idx == len(chain)-1
		if containsProvider(skip, p) || (!last && f.unavailable[p]) {
			continue
		}
		return p
	}
	return ""
}

func (f *quotaFake) ShouldRetryService(p domain.Provider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, p)
	return false
}

func (f *quotaFake) ResetServiceQuota(p domain.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unavailable, p)
}

func (f *quotaFake) Status() []domain.ProviderQuota {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ProviderQuota
	for _, chain := range f.chains {
		for _, p := range chain {
			out = append(out, domain.ProviderQuota{Provider: p, Available: !f.unavailable[p]})
		}
	}
	return out
}

func containsProvider(list []domain.Provider, p domain.Provider) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}

type extractorFake struct {
	extraction *domain.Extraction
	err        error
	calls      int
}

func (f *extractorFake) Extract(context.Context, *domain.TradeDocument) (*domain.Extraction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return clone(f.extraction), nil
}

type analyzerFake struct {
	analysis *domain.ComplianceAnalysis
	err      error
	calls    int
}

func (f *analyzerFake) Analyze(context.Context, string, *domain.Extraction) (*domain.ComplianceAnalysis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return clone(f.analysis), nil
}

var (
	exporter = domain.User{
		ID: "exp-1", Name: "Export Co", Email: "ops@export.example",
		Role: domain.RoleExporter, Status: domain.UserStatusActive,
	}
	otherExporter = domain.User{
		ID: "exp-2", Name: "Rival Co", Email: "ops@rival.example",
		Role: domain.RoleExporter, Status: domain.UserStatusActive,
	}
	adminForwarder = domain.User{
		ID: "fwd-admin", Name: "Lead Forwarder", Email: "lead@forward.example",
		Role: domain.RoleForwarder, Designation: "Admin Forwarder", Status: domain.UserStatusActive,
	}
	forwarderA = domain.User{
		ID: "fwd-a", Name: "Alpha Haulage", Email: "alpha@forward.example",
		Role: domain.RoleForwarder, Designation: "Pickup", Status: domain.UserStatusActive,
	}
	forwarderB = domain.User{
		ID: "fwd-b", Name: "Bravo Lines", Email: "bravo@forward.example",
		Role: domain.RoleForwarder, Designation: "Sea freight", Status: domain.UserStatusActive,
	}
	forwarderC = domain.User{
		ID: "fwd-c", Name: "Charlie Port", Email: "charlie@forward.example",
		Role: domain.RoleForwarder, Status: domain.UserStatusActive,
	}
)

func draftOrder(id string) *domain.ShipmentOrder {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.ShipmentOrder{
		ID:          id,
		OrderNumber: "SO-20260301-" + strings.ToUpper(id),
		ExporterID:  exporter.ID,
		Status:      domain.OrderStatusDraft,
		Products:    []domain.Product{{Name: "Cotton yarn", Quantity: 10, Value: 1200}},
		Documents:   domain.OrderDocuments{Certificates: []string{}, Other: []string{}},
		Compliance:  domain.OrderCompliance{Status: domain.ComplianceStatusPending, Issues: []string{}},
		AuditTrail:  []domain.AuditEntry{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func approvedOrder(id string) *domain.ShipmentOrder {
	order := draftOrder(id)
	order.Documents.CommercialInvoice = "doc-inv"
	order.Status = domain.OrderStatusApproved
	order.AssignedForwarderID = adminForwarder.ID
	return order
}
