package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"go.uber.org/zap"
)

// SQLQuarantine is the quarantine repository backed by the same database as
// the trust lists
type SQLQuarantine struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// Quarantine returns the quarantine repository sharing this store's connection
func (s *SQLStore) Quarantine() *SQLQuarantine {
	return &SQLQuarantine{db: s.db, dialect: s.dialect, logger: s.logger}
}

func scanQuarantined(row rowScanner) (*core.QuarantinedMessage, error) {
	var m core.QuarantinedMessage
	var status, headers string
	var releasedAt, deletedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.TenantID, &m.MessageID, &m.FromAddress, &m.ToAddress, &m.Subject,
		&m.Reason, &m.SpamScore, &m.Body, &headers, &status, &m.CreatedAt, &releasedAt, &deletedAt,
		&m.ExpiresAt); err != nil {
		return nil, err
	}
	m.Status = core.QuarantineStatus(status)
	if releasedAt.Valid {
		t := releasedAt.Time
		m.ReleasedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers: %w", err)
		}
	}
	return &m, nil
}

// Create stores a newly quarantined message
func (r *SQLQuarantine) Create(ctx context.Context, msg *core.QuarantinedMessage) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO quarantine_messages (`+quarantineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.TenantID, msg.MessageID, msg.FromAddress, msg.ToAddress, msg.Subject, msg.Reason,
		msg.SpamScore, msg.Body, string(headers), string(msg.Status), msg.CreatedAt.UTC(),
		nullTime(msg.ReleasedAt), nullTime(msg.DeletedAt), msg.ExpiresAt.UTC())
	if err != nil {
		if r.dialect.isDuplicate(err) {
			return core.ErrConflict
		}
		return fmt.Errorf("failed to insert quarantined message: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Get loads a quarantined message by id
func (r *SQLQuarantine) Get(ctx context.Context, id string) (*core.QuarantinedMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+quarantineColumns+` FROM quarantine_messages WHERE id = ?`, id)
	m, err := scanQuarantined(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query quarantined message: %w", err)
	}
	return m, nil
}

// List returns a page of quarantined messages, newest first
func (r *SQLQuarantine) List(ctx context.Context, q core.QuarantineQuery) ([]*core.QuarantinedMessage, int, error) {
	var where []string
	var args []any
	if q.TenantID != nil {
		where = append(where, "tenant_id = ?")
		args = append(args, *q.TenantID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Search != "" {
		where = append(where, "(from_address LIKE ? OR to_address LIKE ? OR subject LIKE ?)")
		like := "%" + q.Search + "%"
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine_messages `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count quarantined messages: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+quarantineColumns+` FROM quarantine_messages `+clause+
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list quarantined messages: %w", err)
	}
	defer rows.Close()

	var msgs []*core.QuarantinedMessage
	for rows.Next() {
		m, err := scanQuarantined(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan quarantined message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// Transition moves a quarantined message into a terminal status with a
// compare-and-set on the current status
func (r *SQLQuarantine) Transition(ctx context.Context, id string, to core.QuarantineStatus, at time.Time) error {
	column := "deleted_at"
	switch to {
	case core.StatusReleased:
		column = "released_at"
	case core.StatusReported, core.StatusDeleted:
	default:
		return core.Invalid("status", "cannot transition to %q", to)
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE quarantine_messages SET status = ?, %s = ?
		WHERE id = ? AND status = ?
	`, column), string(to), at.UTC(), id, string(core.StatusQuarantined))
	if err != nil {
		return fmt.Errorf("failed to update quarantined message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update quarantined message: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM quarantine_messages WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read quarantine status: %w", err)
	}
	return core.ErrConflict
}

// PurgeExpired deletes messages whose retention has passed
func (r *SQLQuarantine) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM quarantine_messages WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		r.logger.Warn("Failed to get rows affected during quarantine purge", zap.Error(err))
		return 0, nil
	}
	return n, nil
}

