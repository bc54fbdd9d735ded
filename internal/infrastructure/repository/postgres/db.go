package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	designation TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

CREATE TABLE IF NOT EXISTS shipment_orders (
	id TEXT PRIMARY KEY,
	order_number TEXT NOT NULL UNIQUE,
	exporter_id TEXT NOT NULL,
	client_id TEXT NOT NULL DEFAULT '',
	assigned_forwarder_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	order_details JSONB NOT NULL DEFAULT '{}'::jsonb,
	products JSONB NOT NULL DEFAULT '[]'::jsonb,
	documents JSONB NOT NULL DEFAULT '{}'::jsonb,
	compliance JSONB NOT NULL DEFAULT '{}'::jsonb,
	notes TEXT NOT NULL DEFAULT '',
	audit_trail JSONB NOT NULL DEFAULT '[]'::jsonb,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipment_orders_exporter ON shipment_orders(exporter_id);
CREATE INDEX IF NOT EXISTS idx_shipment_orders_forwarder ON shipment_orders(assigned_forwarder_id);

CREATE TABLE IF NOT EXISTS forwarder_assignments (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL UNIQUE,
	assigned_by TEXT NOT NULL,
	current_stage TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_forwarders JSONB NOT NULL DEFAULT '[]'::jsonb,
	tracking_log JSONB NOT NULL DEFAULT '[]'::jsonb,
	timeline JSONB NOT NULL DEFAULT '{}'::jsonb,
	audit_trail JSONB NOT NULL DEFAULT '[]'::jsonb,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_forwarder_assignments_assigned_by ON forwarder_assignments(assigned_by);
CREATE INDEX IF NOT EXISTS idx_forwarder_assignments_forwarders ON forwarder_assignments USING GIN (assigned_forwarders jsonb_path_ops);

CREATE TABLE IF NOT EXISTS trade_documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	shipment_order_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	storage_path TEXT NOT NULL,
	document_type TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	extraction JSONB,
	compliance JSONB,
	ai_results JSONB NOT NULL DEFAULT '{}'::jsonb,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_documents_status ON trade_documents(status);
CREATE INDEX IF NOT EXISTS idx_trade_documents_owner ON trade_documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_trade_documents_order ON trade_documents(shipment_order_id);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026100101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalJSON(field string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", field, err)
	}
	return raw, nil
}

// marshalNullable stores nil pointers as SQL NULL.
func marshalNullable[T any](field string, v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(field, v)
}

func unmarshalJSON(field string, raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return nil
}

// casFailure tells a lost version race apart from a missing row after a
// conditional update touched nothing.
func casFailure(ctx context.Context, db *sql.DB, table, operation, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: check existence: %w", operation, err)
	}
	if !exists {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return domain.WrapError(domain.ErrConflict, operation, fmt.Errorf("id=%s was modified concurrently", id))
}

func requireAffected(result sql.Result, operation, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}
