package target

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/surveysync/surveysync-api/internal/models"
)

// Row is one flat record mapped by column name.
type Row = map[string]interface{}

// Writer applies one batch of rows to the destination table inside the
// transaction it was created with. The batch is all-or-nothing: the caller
// commits or rolls back the transaction.
type Writer struct {
	tx *sql.Tx
}

func NewWriter(tx *sql.Tx) *Writer {
	return &Writer{tx: tx}
}

// Write applies rows under the given mode and returns exact inserted and
// updated counts. Rows are mapped positionally to the columns order; values
// absent from a row are stored as NULL.
func (w *Writer) Write(ctx context.Context, schema, table string, columns []string, rows []Row, mode models.SyncMode, conflictColumn string) (inserted, updated int, err error) {
	if len(rows) == 0 || len(columns) == 0 {
		return 0, 0, nil
	}

	qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)

	switch mode {
	case models.ModeAppend:
		return w.insertAll(ctx, qualified, columns, rows)
	case models.ModeReplace:
		if _, err := w.tx.ExecContext(ctx, "DELETE FROM "+qualified); err != nil {
			return 0, 0, fmt.Errorf("clear %s: %w", qualified, err)
		}
		return w.insertAll(ctx, qualified, columns, rows)
	case models.ModeUpsert:
		return w.upsertAll(ctx, qualified, columns, rows, conflictColumn)
	default:
		return 0, 0, fmt.Errorf("unsupported sync mode %q", mode)
	}
}

func (w *Writer) insertAll(ctx context.Context, qualified string, columns []string, rows []Row) (int, int, error) {
	stmt, err := w.tx.PrepareContext(ctx, insertStatement(qualified, columns, ""))
	if err != nil {
		return 0, 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, rowValues(row, columns)...); err != nil {
			return 0, 0, fmt.Errorf("insert row: %w", err)
		}
	}
	return len(rows), 0, nil
}

func (w *Writer) upsertAll(ctx context.Context, qualified string, columns []string, rows []Row, conflictColumn string) (int, int, error) {
	existing, err := w.existingKeys(ctx, qualified, conflictColumn, rows)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := w.tx.PrepareContext(ctx, insertStatement(qualified, columns, conflictColumn))
	if err != nil {
		return 0, 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var inserted, updated int
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, rowValues(row, columns)...); err != nil {
			return 0, 0, fmt.Errorf("upsert row: %w", err)
		}
		key := EncodeValue(row[conflictColumn])
		keyStr, _ := key.(string)
		_, preExisting := existing[keyStr]
		_, dupInBatch := seen[keyStr]
		if preExisting || dupInBatch {
			updated++
		} else {
			inserted++
		}
		seen[keyStr] = struct{}{}
	}
	return inserted, updated, nil
}

// existingKeys checks which conflict keys of the batch already exist in the
// table, so inserted/updated attribution is exact rather than approximated.
func (w *Writer) existingKeys(ctx context.Context, qualified, conflictColumn string, rows []Row) (map[string]struct{}, error) {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := EncodeValue(row[conflictColumn]).(string); ok {
			keys = append(keys, s)
		}
	}
	existing := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)",
		pq.QuoteIdentifier(conflictColumn), qualified, pq.QuoteIdentifier(conflictColumn))
	qrows, err := w.tx.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("check existing keys: %w", err)
	}
	defer qrows.Close()

	for qrows.Next() {
		var key string
		if err := qrows.Scan(&key); err != nil {
			return nil, err
		}
		existing[key] = struct{}{}
	}
	return existing, qrows.Err()
}

func insertStatement(qualified string, columns []string, conflictColumn string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if conflictColumn == "" {
		return stmt
	}

	var assignments []string
	for _, col := range columns {
		if col == conflictColumn {
			continue
		}
		assignments = append(assignments, pq.QuoteIdentifier(col)+" = EXCLUDED."+pq.QuoteIdentifier(col))
	}
	if len(assignments) == 0 {
		return stmt + fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", pq.QuoteIdentifier(conflictColumn))
	}
	return stmt + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		pq.QuoteIdentifier(conflictColumn), strings.Join(assignments, ", "))
}

func rowValues(row Row, columns []string) []interface{} {
	values := make([]interface{}, len(columns))
	for i, col := range columns {
		values[i] = EncodeValue(row[col])
	}
	return values
}

// EncodeValue flattens a record value for storage in a TEXT column.
// Composite values are serialized to canonical JSON, never destructured.
func EncodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", val)
	}
}
