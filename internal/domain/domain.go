package domain

// Domain is one entry of a user's domain inventory.
type Domain struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	Status    string   `json:"status" enum:"active,inactive"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

const (
	DomainActive   = "active"
	DomainInactive = "inactive"
)

// Rule is a persisted alert rule. Rows are immutable once created.
type Rule struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	RuleType     string `json:"rule_type" enum:"expiry,risk"`
	Severity     string `json:"severity" enum:"low,medium,high"`
	IsEnabled    bool   `json:"is_enabled"`
	Version      int    `json:"version"`
	LogicJSON    string `json:"logic_json"`
	ScheduleJSON string `json:"schedule_json"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type RuleTarget struct {
	RuleID     string `json:"rule_id"`
	DomainID   string `json:"domain_id"`
	DomainName string `json:"domain_name,omitempty"`
}

type ScheduleJob struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	RuleID       string  `json:"rule_id"`
	ScheduleJSON string  `json:"schedule_json"`
	Status       string  `json:"status" enum:"active,paused"`
	NextRunAt    *string `json:"next_run_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

const (
	JobActive = "active"
	JobPaused = "paused"
)

// RuleDetail is a rule joined with its targets and schedule job.
type RuleDetail struct {
	Rule    Rule         `json:"rule"`
	Targets []RuleTarget `json:"targets"`
	Job     *ScheduleJob `json:"job,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RuleID  string `json:"rule_id,omitempty"`
	UserID  string `json:"user_id"`
	Payload string `json:"payload_json"`
}
