package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"alertline/internal/domain"
	"alertline/internal/events"
)

// CreateRule stores a normalized rule at version 1 and returns its id.
func (r Repo) CreateRule(ctx context.Context, userID string, rule domain.RuleDSL) (string, error) {
	logic, err := json.Marshal(rule)
	if err != nil {
		return "", fmt.Errorf("marshal rule: %w", err)
	}
	sched, err := json.Marshal(rule.Schedule)
	if err != nil {
		return "", fmt.Errorf("marshal schedule: %w", err)
	}
	id := uuid.NewString()
	now := r.now()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO alert_rules(id,user_id,name,rule_type,severity,is_enabled,version,logic_json,schedule_json,created_at,updated_at) VALUES (?,?,?,?,?,?,1,?,?,?,?)`,
		id, userID, rule.Name, rule.RuleType, rule.Severity, boolToInt(rule.Enabled), string(logic), string(sched), now, now); err != nil {
		return "", fmt.Errorf("insert rule: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.RuleCreated, id, userID, events.Payload{
		"name": rule.Name, "rule_type": rule.RuleType, "version": 1,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ReplaceTargets swaps the rule's whole target set for domainIDs.
// Duplicate ids collapse to one row.
func (r Repo) ReplaceTargets(ctx context.Context, ruleID string, domainIDs []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var userID string
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM alert_rules WHERE id=?`, ruleID).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_rule_targets WHERE rule_id=?`, ruleID); err != nil {
		return fmt.Errorf("clear targets: %w", err)
	}
	now := r.now()
	seen := map[string]bool{}
	for _, id := range domainIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO alert_rule_targets(rule_id,domain_id,created_at) VALUES (?,?,?)`, ruleID, id, now); err != nil {
			return fmt.Errorf("insert target %s: %w", id, err)
		}
	}
	if err := r.Events.Append(ctx, tx, events.RuleTargetsReplaced, ruleID, userID, events.Payload{"count": len(seen)}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateScheduleJob registers an active job for the rule. next_run_at is
// left for the external scheduler to fill.
func (r Repo) CreateScheduleJob(ctx context.Context, userID, ruleID string, schedule domain.Schedule) (string, error) {
	data, err := json.Marshal(schedule)
	if err != nil {
		return "", fmt.Errorf("marshal schedule: %w", err)
	}
	id := uuid.NewString()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO schedules(id,user_id,rule_id,schedule_json,status,next_run_at,created_at) VALUES (?,?,?,?,?,?,?)`,
		id, userID, ruleID, string(data), domain.JobActive, nil, r.now()); err != nil {
		return "", fmt.Errorf("insert schedule: %w", err)
	}
	if err := r.Events.Append(ctx, tx, events.RuleScheduleRegistered, ruleID, userID, events.Payload{
		"job_id": id, "frequency": schedule.Frequency,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// RuleFilter narrows ListRules. Limit 0 means DefaultRuleLimit.
type RuleFilter struct {
	RuleType string
	Enabled  *bool
	Limit    int
	Offset   int
}

const (
	DefaultRuleLimit = 50
	MaxRuleLimit     = 200
)

func (f *RuleFilter) normalize() error {
	if f.Limit == 0 {
		f.Limit = DefaultRuleLimit
	}
	if f.Limit < 1 || f.Limit > MaxRuleLimit {
		return fmt.Errorf("limit must be between 1 and %d", MaxRuleLimit)
	}
	if f.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	if f.RuleType != "" && f.RuleType != domain.RuleTypeExpiry && f.RuleType != domain.RuleTypeRisk {
		return fmt.Errorf("invalid rule_type %q", f.RuleType)
	}
	return nil
}

const ruleColumns = `id,user_id,name,rule_type,severity,is_enabled,version,logic_json,schedule_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (domain.Rule, error) {
	var rule domain.Rule
	var enabled int
	err := row.Scan(&rule.ID, &rule.UserID, &rule.Name, &rule.RuleType, &rule.Severity, &enabled, &rule.Version,
		&rule.LogicJSON, &rule.ScheduleJSON, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rule, ErrNotFound
	}
	rule.IsEnabled = enabled != 0
	return rule, err
}

// ListRules returns userID's rules, newest first.
func (r Repo) ListRules(ctx context.Context, userID string, f RuleFilter) ([]domain.Rule, error) {
	if err := f.normalize(); err != nil {
		return nil, err
	}
	where := []string{"user_id=?"}
	args := []any{userID}
	if f.RuleType != "" {
		where = append(where, "rule_type=?")
		args = append(args, f.RuleType)
	}
	if f.Enabled != nil {
		where = append(where, "is_enabled=?")
		args = append(args, boolToInt(*f.Enabled))
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM alert_rules WHERE %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		ruleColumns, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// GetRule returns a rule owned by userID with its targets and latest job.
// Another user's rule is reported as ErrNotFound.
func (r Repo) GetRule(ctx context.Context, userID, ruleID string) (domain.RuleDetail, error) {
	rule, err := scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id=? AND user_id=?`, ruleID, userID))
	if err != nil {
		return domain.RuleDetail{}, err
	}
	detail := domain.RuleDetail{Rule: rule, Targets: []domain.RuleTarget{}}

	rows, err := r.DB.QueryContext(ctx, `SELECT t.rule_id,t.domain_id,COALESCE(d.name,'') FROM alert_rule_targets t LEFT JOIN domains d ON d.id=t.domain_id WHERE t.rule_id=? ORDER BY d.name, t.domain_id`, ruleID)
	if err != nil {
		return domain.RuleDetail{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.RuleTarget
		if err := rows.Scan(&t.RuleID, &t.DomainID, &t.DomainName); err != nil {
			return domain.RuleDetail{}, err
		}
		detail.Targets = append(detail.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return domain.RuleDetail{}, err
	}

	var job domain.ScheduleJob
	var next sql.NullString
	err = r.DB.QueryRowContext(ctx, `SELECT id,user_id,rule_id,schedule_json,status,next_run_at,created_at FROM schedules WHERE rule_id=? ORDER BY created_at DESC LIMIT 1`, ruleID).
		Scan(&job.ID, &job.UserID, &job.RuleID, &job.ScheduleJSON, &job.Status, &next, &job.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.RuleDetail{}, err
	default:
		if next.Valid {
			job.NextRunAt = &next.String
		}
		detail.Job = &job
	}
	return detail, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
