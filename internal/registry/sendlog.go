package registry

import (
	"fmt"
	"time"
)

// RecordRetentionSend appends the send record for (tenant, step). The primary
// key makes a duplicate record from an overlapping run a no-op rather than an
// error; the first attempt's outcome stands.
func (r *Registry) RecordRetentionSend(s *RetentionSend) error {
	if s == nil {
		return fmt.Errorf("retention send is nil")
	}
	if s.SentAt.IsZero() {
		s.SentAt = time.Now().UTC()
	}
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO retention_sends (tenant_id, step, channel, sent_at, succeeded, error_detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.TenantID, s.Step, s.Channel, s.SentAt.Unix(), boolToInt(s.Succeeded), s.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("record retention send: %w", err)
	}
	return nil
}

// RetentionStepsSent returns the set of steps already attempted for a tenant,
// successful or not. Failed attempts are deliberately included: a transient
// send failure must not cause a retry storm on the next run.
func (r *Registry) RetentionStepsSent(tenantID string) (map[int]bool, error) {
	rows, err := r.db.Query(`SELECT step FROM retention_sends WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list retention steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[int]bool)
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("scan retention step: %w", err)
		}
		steps[step] = true
	}
	return steps, rows.Err()
}

// ListRetentionSends returns a tenant's send history, oldest first. Used by
// the admin status surface and by manual retry tooling.
func (r *Registry) ListRetentionSends(tenantID string) ([]RetentionSend, error) {
	rows, err := r.db.Query(`
		SELECT tenant_id, step, channel, sent_at, succeeded, error_detail
		FROM retention_sends WHERE tenant_id = ? ORDER BY step ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list retention sends: %w", err)
	}
	defer rows.Close()

	var sends []RetentionSend
	for rows.Next() {
		var s RetentionSend
		var sentAt int64
		var succeeded int
		if err := rows.Scan(&s.TenantID, &s.Step, &s.Channel, &sentAt, &succeeded, &s.ErrorDetail); err != nil {
			return nil, fmt.Errorf("scan retention send: %w", err)
		}
		s.SentAt = time.Unix(sentAt, 0).UTC()
		s.Succeeded = succeeded != 0
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

// DeleteRetentionSend removes a step record so an administrator can re-arm a
// failed send. Automatic retries are intentionally not implemented.
func (r *Registry) DeleteRetentionSend(tenantID string, step int) error {
	_, err := r.db.Exec(`DELETE FROM retention_sends WHERE tenant_id = ? AND step = ?`, tenantID, step)
	if err != nil {
		return fmt.Errorf("delete retention send: %w", err)
	}
	return nil
}
