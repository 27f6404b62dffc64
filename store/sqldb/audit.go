package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/sale-engine/sale"
)

// =============================================================================
// AUDIT LOG
// =============================================================================

func (t *txStore) AppendAudit(ctx context.Context, e sale.AuditEntry) error {
	_, err := t.c.exec(ctx, `
		INSERT INTO audit_log (operator_id, action, entity_type, entity_id, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.OperatorID, e.Action, e.EntityType, e.EntityID, e.Description, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns one page of entries, newest first, and the match count.
func (s *Store) ListAuditEntries(ctx context.Context, f sale.AuditFilter) ([]sale.AuditEntry, int, error) {
	defer s.rlock()()
	c := s.conn()

	var w filter
	if f.Action != "" {
		w.add("action = ?", f.Action)
	}
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != 0 {
		w.add("entity_id = ?", f.EntityID)
	}
	if f.OperatorID != 0 {
		w.add("operator_id = ?", f.OperatorID)
	}
	if f.From != nil {
		w.add("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		w.add("created_at <= ?", f.To.UTC())
	}

	var total int
	if err := c.queryRow(ctx, "SELECT COUNT(*) FROM audit_log"+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	args := append(w.args, f.PerPage, f.Offset())
	rows, err := c.query(ctx, `
		SELECT id, operator_id, action, entity_type, entity_id, description, created_at
		FROM audit_log`+w.where()+`
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []sale.AuditEntry
	for rows.Next() {
		var (
			e    sale.AuditEntry
			desc sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.Action, &e.EntityType, &e.EntityID, &desc, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Description = desc.String
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
