package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
)

const notifyTimeout = 10 * time.Second

type ShipmentOrderUseCase struct {
	orders    ports.ShipmentOrderRepository
	users     ports.UserRepository
	documents ports.DocumentRepository
	policy    ports.AccessPolicy
	notifier  ports.Notifier
	now       func() time.Time
}

func NewShipmentOrderUseCase(
	orders ports.ShipmentOrderRepository,
	users ports.UserRepository,
	documents ports.DocumentRepository,
	policy ports.AccessPolicy,
	notifier ports.Notifier,
) *ShipmentOrderUseCase {
	return &ShipmentOrderUseCase{
		orders:    orders,
		users:     users,
		documents: documents,
		policy:    policy,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ShipmentOrderUseCase) Create(ctx context.Context, actor *domain.User, input ports.OrderInput) (*domain.ShipmentOrder, error) {
	if err := uc.policy.Check(actor, nil, domain.CapOrderCreate); err != nil {
		return nil, err
	}
	if err := validateProducts("create order", input.Products); err != nil {
		return nil, err
	}

	now := uc.now()
	order := &domain.ShipmentOrder{
		ID:          uuid.NewString(),
		OrderNumber: domain.NewOrderNumber(now),
		ExporterID:  actor.ID,
		ClientID:    strings.TrimSpace(input.ClientID),
		Status:      domain.OrderStatusDraft,
		Details:     input.Details,
		Products:    nonNilProducts(input.Products),
		Documents:   domain.OrderDocuments{Certificates: []string{}, Other: []string{}},
		Compliance:  domain.OrderCompliance{Status: domain.ComplianceStatusPending, Issues: []string{}},
		Notes:       input.Notes,
		AuditTrail:  []domain.AuditEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	order.AppendAudit("created", actor.ID, "", order.Status, "order created", now)

	if err := uc.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create shipment order: %w", err)
	}
	return order, nil
}

func (uc *ShipmentOrderUseCase) Update(ctx context.Context, orderID string, actor *domain.User, input ports.OrderInput) (*domain.ShipmentOrder, error) {
	order, err := uc.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := uc.policy.Check(actor, order, domain.CapOrderUpdate); err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusDraft {
		return nil, domain.Fail(domain.ErrInvalidState, "update order", "only draft orders can be updated")
	}
	if err := validateProducts("update order", input.Products); err != nil {
		return nil, err
	}

	now := uc.now()
	if input.ClientID != "" {
		order.ClientID = strings.TrimSpace(input.ClientID)
	}
	order.Details = input.Details
	if input.Products != nil {
		order.Products = input.Products
	}
	order.Notes = input.Notes
	order.AppendAudit("updated", actor.ID, order.Status, order.Status, "order details updated", now)
	order.UpdatedAt = now

	if err := uc.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update shipment order: %w", err)
	}
	return order, nil
}

func (uc *ShipmentOrderUseCase) AttachDocument(ctx context.Context, orderID string, actor *domain.User, documentID string) (*domain.ShipmentOrder, error) {
	order, err := uc.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := uc.policy.Check(actor, order, domain.CapOrderUpdate); err != nil {
		return nil, err
	}
	doc, err := uc.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.policy.Check(actor, doc, domain.CapDocumentProcess); err != nil {
		return nil, err
	}

	now := uc.now()
	if err := order.AttachDocument(doc.ID, doc.DocumentType); err != nil {
		return nil, err
	}
	order.AppendAudit("document_attached", actor.ID, order.Status, order.Status,
		fmt.Sprintf("%s document %s attached", doc.DocumentType, doc.ID), now)
	order.UpdatedAt = now

	if err := uc.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update shipment order: %w", err)
	}
	return order, nil
}

// Submit runs the submission gate. An order that passes goes straight from
// draft to approved and is handed to a forwarder in one write.
func (uc *ShipmentOrderUseCase) Submit(ctx context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error) {
	order, err := uc.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := uc.policy.Check(actor, order, domain.CapOrderSubmit); err != nil {
		return nil, err
	}
	if err := order.CheckSubmittable(); err != nil {
		return nil, err
	}

	forwarder, err := uc.selectForwarder(ctx)
	if err != nil {
		return nil, err
	}
	if err := order.Approve(actor.ID, forwarder, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("update shipment order: %w", err)
	}
	slog.Info("order_submitted",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"forwarder_id", forwarder.ID,
	)

	uc.notifyAsync(ctx, domain.Notification{
		RecipientID: forwarder.ID,
		Kind:        "shipment_order_assigned",
		Title:       "New shipment order assigned",
		Message:     fmt.Sprintf("Shipment order %s has been approved and assigned to you.", order.OrderNumber),
		Data: map[string]string{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"exporter_id":  order.ExporterID,
		},
		CreatedAt: uc.now(),
	})
	return order, nil
}

func (uc *ShipmentOrderUseCase) Get(ctx context.Context, orderID string, actor *domain.User) (*domain.ShipmentOrder, error) {
	order, err := uc.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := uc.policy.Check(actor, order, domain.CapOrderView); err != nil {
		return nil, err
	}
	return order, nil
}

func (uc *ShipmentOrderUseCase) List(ctx context.Context, actor *domain.User) ([]domain.ShipmentOrder, error) {
	if err := uc.policy.Check(actor, nil, domain.CapOrderView); err != nil {
		return nil, err
	}

	var (
		orders []domain.ShipmentOrder
		err    error
	)
	switch actor.Role {
	case domain.RoleExporter:
		orders, err = uc.orders.ListByExporter(ctx, actor.ID)
	case domain.RoleForwarder:
		orders, err = uc.orders.ListByForwarder(ctx, actor.ID)
	default:
		orders, err = uc.orders.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list shipment orders: %w", err)
	}
	return orders, nil
}

func (uc *ShipmentOrderUseCase) load(ctx context.Context, orderID string) (*domain.ShipmentOrder, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.Fail(domain.ErrInvalidInput, "load order", "order id is required")
	}
	order, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch shipment order by id: %w", err)
	}
	return order, nil
}

// selectForwarder prefers an active admin forwarder and falls back to any
// active forwarder.
func (uc *ShipmentOrderUseCase) selectForwarder(ctx context.Context) (*domain.User, error) {
	forwarders, err := uc.users.ListByRole(ctx, domain.RoleForwarder)
	if err != nil {
		return nil, fmt.Errorf("list forwarders: %w", err)
	}

	var fallback *domain.User
	for idx := range forwarders {
		candidate := &forwarders[idx]
		if !candidate.IsActive() {
			continue
		}
		if candidate.IsAdminForwarder() {
			return candidate, nil
		}
		if fallback == nil {
			fallback = candidate
		}
	}
	if fallback == nil {
		return nil, domain.Fail(domain.ErrBusinessRule, "submit order", "no forwarder available for assignment")
	}
	return fallback, nil
}

func (uc *ShipmentOrderUseCase) notifyAsync(ctx context.Context, notification domain.Notification) {
	if uc.notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		notifyCtx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		if err := uc.notifier.Notify(notifyCtx, notification); err != nil {
			slog.Warn("notification_publish_failed",
				"kind", notification.Kind,
				"recipient_id", notification.RecipientID,
				"error", err.Error(),
			)
		}
	}()
}

func validateProducts(operation string, products []domain.Product) error {
	for _, product := range products {
		if err := product.Validate(); err != nil {
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}
	return nil
}

func nonNilProducts(products []domain.Product) []domain.Product {
	if products == nil {
		return []domain.Product{}
	}
	return products
}
