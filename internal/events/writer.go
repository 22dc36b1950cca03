// Package events appends to the rule event log. Every Rule Store write
// records its event in the same transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"alertline/internal/domain"
)

const (
	RuleCreated            = "rule.created"
	RuleTargetsReplaced    = "rule.targets.replaced"
	RuleScheduleRegistered = "rule.schedule.registered"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, ruleID, userID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO rule_events(ts,type,rule_id,user_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(ruleID), userID, string(data))
	return err
}

// List returns a rule's events in append order.
func List(ctx context.Context, db *sql.DB, ruleID string) ([]domain.Event, error) {
	rows, err := db.QueryContext(ctx, `SELECT id,ts,type,COALESCE(rule_id,''),user_id,payload_json FROM rule_events WHERE rule_id=? ORDER BY id`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// After returns up to limit events with id > afterID across all rules, in
// append order.
func After(ctx context.Context, db *sql.DB, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT id,ts,type,COALESCE(rule_id,''),user_id,payload_json FROM rule_events WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestID returns the id of the newest event, 0 when the log is empty.
func LatestID(ctx context.Context, db *sql.DB) (int64, error) {
	var id sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(id) FROM rule_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	out := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RuleID, &e.UserID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
