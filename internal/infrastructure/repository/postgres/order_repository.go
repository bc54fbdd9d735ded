package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type ShipmentOrderRepository struct {
	db *sql.DB
}

func NewShipmentOrderRepository(db *sql.DB) *ShipmentOrderRepository {
	return &ShipmentOrderRepository{db: db}
}

const orderColumns = `id, order_number, exporter_id, client_id, assigned_forwarder_id, status,
	order_details, products, documents, compliance, notes, audit_trail, version, created_at, updated_at`

type orderPayload struct {
	details, products, documents, compliance, audit []byte
}

func encodeOrder(order *domain.ShipmentOrder) (orderPayload, error) {
	var (
		p   orderPayload
		err error
	)
	if p.details, err = marshalJSON("order details", order.Details); err != nil {
		return p, err
	}
	if p.products, err = marshalJSON("products", order.Products); err != nil {
		return p, err
	}
	if p.documents, err = marshalJSON("documents", order.Documents); err != nil {
		return p, err
	}
	if p.compliance, err = marshalJSON("compliance", order.Compliance); err != nil {
		return p, err
	}
	if p.audit, err = marshalJSON("audit trail", order.AuditTrail); err != nil {
		return p, err
	}
	return p, nil
}

func (r *ShipmentOrderRepository) Create(ctx context.Context, order *domain.ShipmentOrder) error {
	payload, err := encodeOrder(order)
	if err != nil {
		return err
	}
	if order.Version == 0 {
		order.Version = 1
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO shipment_orders (`+orderColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		order.ID, order.OrderNumber, order.ExporterID, order.ClientID, order.AssignedForwarderID, string(order.Status),
		payload.details, payload.products, payload.documents, payload.compliance, order.Notes, payload.audit,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert shipment order: %w", err)
	}
	return nil
}

func (r *ShipmentOrderRepository) GetByID(ctx context.Context, id string) (*domain.ShipmentOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM shipment_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get shipment order", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get shipment order by id: %w", err)
	}
	return &order, nil
}

// Update writes the order only if its stored version still matches and
// bumps Version on success.
func (r *ShipmentOrderRepository) Update(ctx context.Context, order *domain.ShipmentOrder) error {
	payload, err := encodeOrder(order)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE shipment_orders
SET client_id = $2, assigned_forwarder_id = $3, status = $4, order_details = $5, products = $6,
	documents = $7, compliance = $8, notes = $9, audit_trail = $10, updated_at = $11, version = version + 1
WHERE id = $1 AND version = $12
`,
		order.ID, order.ClientID, order.AssignedForwarderID, string(order.Status), payload.details, payload.products,
		payload.documents, payload.compliance, order.Notes, payload.audit, order.UpdatedAt, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update shipment order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shipment order rows affected: %w", err)
	}
	if rows == 0 {
		return casFailure(ctx, r.db, "shipment_orders", "update shipment order", order.ID)
	}
	order.Version++
	return nil
}

func (r *ShipmentOrderRepository) ListByExporter(ctx context.Context, exporterID string) ([]domain.ShipmentOrder, error) {
	return r.list(ctx, `WHERE exporter_id = $1`, exporterID)
}

func (r *ShipmentOrderRepository) ListByForwarder(ctx context.Context, forwarderID string) ([]domain.ShipmentOrder, error) {
	return r.list(ctx, `WHERE assigned_forwarder_id = $1`, forwarderID)
}

func (r *ShipmentOrderRepository) ListAll(ctx context.Context) ([]domain.ShipmentOrder, error) {
	return r.list(ctx, ``)
}

func (r *ShipmentOrderRepository) list(ctx context.Context, where string, args ...any) ([]domain.ShipmentOrder, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+orderColumns+`
FROM shipment_orders
`+where+`
ORDER BY created_at DESC
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list shipment orders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ShipmentOrder, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment order: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shipment orders: %w", err)
	}
	return out, nil
}

func scanOrder(row rowScanner) (domain.ShipmentOrder, error) {
	var (
		order                                        domain.ShipmentOrder
		status                                       string
		details, products, documents, compliance, at []byte
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.ExporterID, &order.ClientID, &order.AssignedForwarderID, &status,
		&details, &products, &documents, &compliance, &order.Notes, &at,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.ShipmentOrder{}, err
	}
	order.Status = domain.OrderStatus(status)

	if err := unmarshalJSON("order details", details, &order.Details); err != nil {
		return domain.ShipmentOrder{}, err
	}
	if err := unmarshalJSON("products", products, &order.Products); err != nil {
		return domain.ShipmentOrder{}, err
	}
	if err := unmarshalJSON("documents", documents, &order.Documents); err != nil {
		return domain.ShipmentOrder{}, err
	}
	if err := unmarshalJSON("compliance", compliance, &order.Compliance); err != nil {
		return domain.ShipmentOrder{}, err
	}
	if err := unmarshalJSON("audit trail", at, &order.AuditTrail); err != nil {
		return domain.ShipmentOrder{}, err
	}
	if order.Products == nil {
		order.Products = []domain.Product{}
	}
	if order.Documents.Certificates == nil {
		order.Documents.Certificates = []string{}
	}
	if order.Documents.Other == nil {
		order.Documents.Other = []string{}
	}
	if order.AuditTrail == nil {
		order.AuditTrail = []domain.AuditEntry{}
	}
	return order, nil
}
