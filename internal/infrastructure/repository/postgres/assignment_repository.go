package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type ForwarderAssignmentRepository struct {
	db *sql.DB
}

func NewForwarderAssignmentRepository(db *sql.DB) *ForwarderAssignmentRepository {
	return &ForwarderAssignmentRepository{db: db}
}

const assignmentColumns = `id, order_id, assigned_by, current_stage, status,
	assigned_forwarders, tracking_log, timeline, audit_trail, version, created_at, updated_at`

type assignmentPayload struct {
	forwarders, tracking, timeline, audit []byte
}

func encodeAssignment(a *domain.ForwarderAssignment) (assignmentPayload, error) {
	var (
		p   assignmentPayload
		err error
	)
	if p.forwarders, err = marshalJSON("assigned forwarders", a.AssignedForwarders); err != nil {
		return p, err
	}
	if p.tracking, err = marshalJSON("tracking log", a.TrackingLog); err != nil {
		return p, err
	}
	if p.timeline, err = marshalJSON("timeline", a.Timeline); err != nil {
		return p, err
	}
	if p.audit, err = marshalJSON("audit trail", a.AuditTrail); err != nil {
		return p, err
	}
	return p, nil
}

// Create fails with ErrConflict when the order already has an assignment.
func (r *ForwarderAssignmentRepository) Create(ctx context.Context, a *domain.ForwarderAssignment) error {
	payload, err := encodeAssignment(a)
	if err != nil {
		return err
	}
	if a.Version == 0 {
		a.Version = 1
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO forwarder_assignments (`+assignmentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		a.ID, a.OrderID, a.AssignedBy, string(a.CurrentStage), string(a.Status),
		payload.forwarders, payload.tracking, payload.timeline, payload.audit, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "insert forwarder assignment", fmt.Errorf("order %s already has an assignment", a.OrderID))
		}
		return fmt.Errorf("insert forwarder assignment: %w", err)
	}
	return nil
}

func (r *ForwarderAssignmentRepository) GetByID(ctx context.Context, id string) (*domain.ForwarderAssignment, error) {
	return r.getOne(ctx, "get forwarder assignment", `WHERE id = $1`, id)
}

func (r *ForwarderAssignmentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.ForwarderAssignment, error) {
	return r.getOne(ctx, "get forwarder assignment by order", `WHERE order_id = $1`, orderID)
}

func (r *ForwarderAssignmentRepository) getOne(ctx context.Context, operation, where, arg string) (*domain.ForwarderAssignment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM forwarder_assignments `+where, arg)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("key=%s", arg))
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return &a, nil
}

// Update is a compare-and-swap on version.
func (r *ForwarderAssignmentRepository) Update(ctx context.Context, a *domain.ForwarderAssignment) error {
	payload, err := encodeAssignment(a)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE forwarder_assignments
SET assigned_by = $2, current_stage = $3, status = $4, assigned_forwarders = $5, tracking_log = $6,
	timeline = $7, audit_trail = $8, updated_at = $9, version = version + 1
WHERE id = $1 AND version = $10
`,
		a.ID, a.AssignedBy, string(a.CurrentStage), string(a.Status), payload.forwarders, payload.tracking,
		payload.timeline, payload.audit, a.UpdatedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update forwarder assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update forwarder assignment rows affected: %w", err)
	}
	if rows == 0 {
		return casFailure(ctx, r.db, "forwarder_assignments", "update forwarder assignment", a.ID)
	}
	a.Version++
	return nil
}

// ListByForwarder finds assignments through JSONB containment on the
// sub-assignment list.
func (r *ForwarderAssignmentRepository) ListByForwarder(ctx context.Context, forwarderID string) ([]domain.ForwarderAssignment, error) {
	containment, err := marshalJSON("forwarder filter", []map[string]string{{"forwarder_id": forwarderID}})
	if err != nil {
		return nil, err
	}
	return r.list(ctx, `WHERE assigned_forwarders @> $1::jsonb`, containment)
}

func (r *ForwarderAssignmentRepository) ListByAssigner(ctx context.Context, assignerID string) ([]domain.ForwarderAssignment, error) {
	return r.list(ctx, `WHERE assigned_by = $1`, assignerID)
}

func (r *ForwarderAssignmentRepository) list(ctx context.Context, where string, args ...any) ([]domain.ForwarderAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+assignmentColumns+`
FROM forwarder_assignments
`+where+`
ORDER BY updated_at DESC
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list forwarder assignments: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ForwarderAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan forwarder assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forwarder assignments: %w", err)
	}
	return out, nil
}

func scanAssignment(row rowScanner) (domain.ForwarderAssignment, error) {
	var (
		a                                     domain.ForwarderAssignment
		stage, status                         string
		forwarders, tracking, timeline, audit []byte
	)
	err := row.Scan(
		&a.ID, &a.OrderID, &a.AssignedBy, &stage, &status,
		&forwarders, &tracking, &timeline, &audit, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.ForwarderAssignment{}, err
	}
	a.CurrentStage = domain.Stage(stage)
	a.Status = domain.AssignmentStatus(status)

	if err := unmarshalJSON("assigned forwarders", forwarders, &a.AssignedForwarders); err != nil {
		return domain.ForwarderAssignment{}, err
	}
	if err := unmarshalJSON("tracking log", tracking, &a.TrackingLog); err != nil {
		return domain.ForwarderAssignment{}, err
	}
	if err := unmarshalJSON("timeline", timeline, &a.Timeline); err != nil {
		return domain.ForwarderAssignment{}, err
	}
	if err := unmarshalJSON("audit trail", audit, &a.AuditTrail); err != nil {
		return domain.ForwarderAssignment{}, err
	}
	if a.AssignedForwarders == nil {
		a.AssignedForwarders = []domain.SubAssignment{}
	}
	if a.TrackingLog == nil {
		a.TrackingLog = []domain.TrackingEntry{}
	}
	if a.AuditTrail == nil {
		a.AuditTrail = []domain.AuditEntry{}
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
