package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Reconciler makes the destination table's column set a superset of the
// columns observed in the current fetch. It only ever adds: existing
// columns are never dropped or retyped.
type Reconciler struct {
	tx *sql.Tx
}

func NewReconciler(tx *sql.Tx) *Reconciler {
	return &Reconciler{tx: tx}
}

// EnsureTarget ensures schema, table and columns exist. New columns default
// to TEXT; SurveyCTO values are typically strings and TEXT never loses data.
// conflictColumn, when set, becomes the single-column primary key at table
// creation time only.
func (r *Reconciler) EnsureTarget(ctx context.Context, schema, table string, columns []string, conflictColumn string, createIfMissing bool) error {
	if len(columns) == 0 {
		return nil
	}

	if _, err := r.tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure schema %s: %w", schema, err)
	}

	exists, err := r.tableExists(ctx, schema, table)
	if err != nil {
		return err
	}
	if !exists {
		if !createIfMissing {
			return &TargetNotReadyError{Schema: schema, Table: table}
		}
		return r.createTable(ctx, schema, table, columns, conflictColumn)
	}
	return r.addMissingColumns(ctx, schema, table, columns)
}

func (r *Reconciler) tableExists(ctx context.Context, schema, table string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	if err := r.tx.QueryRowContext(ctx, query, schema, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

func (r *Reconciler) createTable(ctx context.Context, schema, table string, columns []string, conflictColumn string) error {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == conflictColumn {
			defs = append(defs, pq.QuoteIdentifier(col)+" TEXT PRIMARY KEY")
		} else {
			defs = append(defs, pq.QuoteIdentifier(col)+" TEXT")
		}
	}
	stmt := fmt.Sprintf("CREATE TABLE %s.%s (%s)",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), strings.Join(defs, ", "))
	if _, err := r.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s.%s: %w", schema, table, err)
	}
	return nil
}

func (r *Reconciler) addMissingColumns(ctx context.Context, schema, table string, columns []string) error {
	existing, err := r.existingColumns(ctx, schema, table)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if _, ok := existing[col]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s.%s ADD COLUMN %s TEXT",
			pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), pq.QuoteIdentifier(col))
		if _, err := r.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s to %s.%s: %w", col, schema, table, err)
		}
	}
	return nil
}

func (r *Reconciler) existingColumns(ctx context.Context, schema, table string) (map[string]struct{}, error) {
	const query = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`
	rows, err := r.tx.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		existing[name] = struct{}{}
	}
	return existing, rows.Err()
}
