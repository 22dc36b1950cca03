package server

import (
	"encoding/json"

	"alertline/internal/domain"
	"alertline/internal/draft"
	"alertline/internal/engine"
	"alertline/internal/flow"
)

// Request payloads

type TurnRequest struct {
	SessionID string `json:"session_id" minLength:"1" maxLength:"128"`
	Message   string `json:"message" maxLength:"4000"`
}

type CreateDomainRequest struct {
	Name   string   `json:"name" minLength:"1" maxLength:"253"`
	Tags   []string `json:"tags,omitempty"`
	Status string   `json:"status,omitempty" enum:"active,inactive"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type TurnResponse struct {
	Message string             `json:"message"`
	RuleID  string             `json:"rule_id,omitempty"`
	State   string             `json:"state"`
	Error   *engine.ReplyError `json:"error,omitempty"`
}

type DraftResponse struct {
	SessionID         string             `json:"session_id"`
	State             string             `json:"state"`
	PendingFields     []string           `json:"pending_fields"`
	LastQuestionField string             `json:"last_question_field,omitempty"`
	Fields            domain.DraftFields `json:"fields"`
	UpdatedAt         string             `json:"updated_at" format:"date-time"`
}

type RuleResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RuleType  string         `json:"rule_type"`
	Severity  string         `json:"severity"`
	Enabled   bool           `json:"enabled"`
	Version   int            `json:"version"`
	DSL       map[string]any `json:"dsl"`
	Schedule  map[string]any `json:"schedule"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type TargetResponse struct {
	DomainID   string `json:"domain_id"`
	DomainName string `json:"domain_name,omitempty"`
}

type JobResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	NextRunAt *string `json:"next_run_at,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type RuleDetailResponse struct {
	RuleResponse
	Targets []TargetResponse `json:"targets"`
	Job     *JobResponse     `json:"job,omitempty"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type paginatedRules struct {
	Items []RuleResponse `json:"items"`
}

type domainList struct {
	Items []domain.Domain `json:"items"`
}

type eventList struct {
	Items []EventResponse `json:"items"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func turnResponse(r engine.Reply) TurnResponse {
	state := r.State
	if state == "" {
		state = flow.Empty
	}
	return TurnResponse{Message: r.Message, RuleID: r.RuleID, State: string(state), Error: r.Error}
}

func draftResponse(d draft.Draft) DraftResponse {
	return DraftResponse{
		SessionID:         d.SessionID,
		State:             string(d.State),
		PendingFields:     nonNilSlice(d.PendingFields),
		LastQuestionField: d.LastQuestionField,
		Fields:            d.Fields,
		UpdatedAt:         d.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func ruleResponse(r domain.Rule) RuleResponse {
	return RuleResponse{
		ID:        r.ID,
		Name:      r.Name,
		RuleType:  r.RuleType,
		Severity:  r.Severity,
		Enabled:   r.IsEnabled,
		Version:   r.Version,
		DSL:       jsonObject(r.LogicJSON),
		Schedule:  jsonObject(r.ScheduleJSON),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func ruleDetailResponse(d domain.RuleDetail) RuleDetailResponse {
	out := RuleDetailResponse{RuleResponse: ruleResponse(d.Rule), Targets: []TargetResponse{}}
	for _, t := range d.Targets {
		out.Targets = append(out.Targets, TargetResponse{DomainID: t.DomainID, DomainName: t.DomainName})
	}
	if d.Job != nil {
		out.Job = &JobResponse{ID: d.Job.ID, Status: d.Job.Status, NextRunAt: d.Job.NextRunAt, CreatedAt: d.Job.CreatedAt}
	}
	return out
}

func mapRules(items []domain.Rule) []RuleResponse {
	out := make([]RuleResponse, 0, len(items))
	for _, r := range items {
		out = append(out, ruleResponse(r))
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, Payload: jsonObject(e.Payload)})
	}
	return out
}

func jsonObject(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
