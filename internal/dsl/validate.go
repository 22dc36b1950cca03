// Package dsl validates a completed draft and normalizes it into the
// canonical rule definition.
package dsl

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"alertline/internal/domain"
)

const (
	DefaultAtTime   = "09:00"
	DefaultTimezone = "Europe/Madrid"

	HighImpactReason = "Impacto alto: scope=all + canal externo + evaluación hourly"
)

const (
	CodeMissing       = "missing"
	CodeInvalidEnum   = "invalid_enum"
	CodeOutOfRange    = "out_of_range"
	CodeInvalidFormat = "invalid_format"
	CodeTooShort      = "too_short"
	CodeTooLong       = "too_long"
)

var (
	severities  = []string{"low", "medium", "high"}
	ruleTypes   = []string{domain.RuleTypeExpiry, domain.RuleTypeRisk}
	targetTypes = []string{domain.TargetAll, domain.TargetDomains, domain.TargetTags}
	frequencies = []string{domain.FrequencyHourly, domain.FrequencyDaily, domain.FrequencyWeekly}
	riskLevels  = []string{"low", "medium", "high", "critical"}
	kinds       = []string{domain.ChannelEmail, domain.ChannelWebhook, domain.ChannelInApp}
	templates   = []string{"default", "executive", "technical"}
	weekdays    = []string{"lunes", "martes", "miercoles", "jueves", "viernes", "sabado", "domingo"}

	atTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// Issue is one validation failure.
type Issue struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type Result struct {
	Valid                bool            `json:"valid"`
	Normalized           *domain.RuleDSL `json:"normalized,omitempty"`
	Issues               []Issue         `json:"issues"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Reason               string          `json:"reason"`
}

// Validator checks drafts. Zero values fall back to DefaultAtTime and
// DefaultTimezone.
type Validator struct {
	DefaultAtTime   string
	DefaultTimezone string
}

type checker struct {
	issues []Issue
}

func (c *checker) add(field, code, format string, args ...any) {
	c.issues = append(c.issues, Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...), Severity: "error"})
}

func (c *checker) enum(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.add(field, CodeInvalidEnum, "valor %q no permitido (%s)", value, strings.Join(allowed, ", "))
}

func (c *checker) rangeInt(field string, v, lo, hi int) {
	if v < lo || v > hi {
		c.add(field, CodeOutOfRange, "debe estar entre %d y %d", lo, hi)
	}
}

// Validate never panics on malformed input; every problem is reported as
// an Issue.
func (v Validator) Validate(userID string, f domain.DraftFields) Result {
	c := &checker{}
	out := domain.RuleDSL{DSLVersion: domain.DSLVersion, Enabled: true, Severity: "medium"}

	out.Name = strings.TrimSpace(f.RuleName)
	switch n := utf8.RuneCountInString(out.Name); {
	case n == 0:
		c.add("name", CodeMissing, "falta el nombre de la alerta")
	case n < 3:
		c.add("name", CodeTooShort, "el nombre debe tener al menos 3 caracteres")
	case n > 80:
		c.add("name", CodeTooLong, "el nombre no puede superar 80 caracteres")
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		if utf8.RuneCountInString(d) > 240 {
			c.add("description", CodeTooLong, "la descripción no puede superar 240 caracteres")
		}
		out.Description = &d
	}

	out.RuleType = f.RuleType
	if f.RuleType == "" {
		c.add("rule_type", CodeMissing, "falta el tipo de alerta")
	} else {
		c.enum("rule_type", f.RuleType, ruleTypes)
	}
	if f.Severity != "" {
		out.Severity = f.Severity
		c.enum("severity", f.Severity, severities)
	}
	if f.Enabled != nil {
		out.Enabled = *f.Enabled
	}

	out.Scope = v.scope(c, f.Scope)
	out.Condition = v.condition(c, f.RuleType, f.Condition)
	out.Schedule = v.schedule(c, f.Schedule)
	out.Channels = v.channels(c, f.Channels)
	out.Cooldown = v.cooldown(c, f.Cooldown)

	if len(c.issues) > 0 {
		return Result{Valid: false, Issues: c.issues}
	}

	res := Result{Valid: true, Normalized: &out, Issues: []Issue{}}
	if out.Scope.TargetType == domain.TargetAll && hasExternalChannel(out.Channels) && out.Schedule.Frequency == domain.FrequencyHourly {
		res.RequiresConfirmation = true
		res.Reason = HighImpactReason
	}
	return res
}

func (v Validator) scope(c *checker, in *domain.Scope) domain.Scope {
	out := domain.Scope{DomainIDs: []string{}, Domains: []string{}, Tags: []string{}}
	if in == nil {
		c.add("scope", CodeMissing, "falta el alcance de la alerta")
		return out
	}
	out.TargetType = in.TargetType
	if out.TargetType == "" && (len(in.Domains) > 0 || len(in.DomainIDs) > 0) {
		out.TargetType = domain.TargetDomains
	}
	for _, d := range in.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out.Domains = append(out.Domains, d)
		}
	}
	for _, id := range in.DomainIDs {
		if id = strings.TrimSpace(id); id != "" {
			out.DomainIDs = append(out.DomainIDs, id)
		}
	}
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			out.Tags = append(out.Tags, t)
		}
	}
	switch out.TargetType {
	case "":
		c.add("scope.target_type", CodeMissing, "falta el tipo de alcance")
	case domain.TargetDomains:
		if len(out.Domains) == 0 && len(out.DomainIDs) == 0 {
			c.add("scope.domains", CodeMissing, "indica al menos un dominio")
		}
	case domain.TargetTags:
		if len(out.Tags) == 0 {
			c.add("scope.tags", CodeMissing, "indica al menos una etiqueta")
		}
	case domain.TargetAll:
	default:
		c.enum("scope.target_type", out.TargetType, targetTypes)
	}
	return out
}

// condition builds the variant matching ruleType. An unknown rule type is
// already reported by the caller and yields no condition.
func (v Validator) condition(c *checker, ruleType string, in *domain.ConditionFields) domain.Condition {
	var f domain.ConditionFields
	if in != nil {
		f = *in
	}
	switch ruleType {
	case domain.RuleTypeExpiry:
		out := domain.ExpiryCondition{}
		if f.DaysBeforeExpiry == nil {
			c.add("condition.days_before", CodeMissing, "faltan los días antes de la caducidad")
		} else {
			out.DaysBefore = *f.DaysBeforeExpiry
			c.rangeInt("condition.days_before", out.DaysBefore, 1, 3650)
		}
		if f.OnlyIfAutoRenewOff != nil {
			out.OnlyIfAutoRenewOff = *f.OnlyIfAutoRenewOff
		}
		return out
	case domain.RuleTypeRisk:
		out := domain.RiskCondition{WindowHours: 24}
		if f.RiskLevelGTE == "" && f.RiskScoreGTE == nil && f.RiskDeltaGTE == nil {
			c.add("condition", CodeMissing, "indica un nivel, puntuación o variación de riesgo")
		}
		if f.RiskLevelGTE != "" {
			lvl := f.RiskLevelGTE
			c.enum("condition.risk_level_gte", lvl, riskLevels)
			out.RiskLevelGTE = &lvl
		}
		if f.RiskScoreGTE != nil {
			n := *f.RiskScoreGTE
			c.rangeInt("condition.risk_score_gte", n, 0, 100)
			out.RiskScoreGTE = &n
		}
		if f.RiskDeltaGTE != nil {
			n := *f.RiskDeltaGTE
			c.rangeInt("condition.risk_delta_gte", n, 0, 100)
			out.RiskDeltaGTE = &n
		}
		if f.WindowHours != nil {
			out.WindowHours = *f.WindowHours
			c.rangeInt("condition.window_hours", out.WindowHours, 1, 720)
		}
		return out
	}
	return nil
}

func (v Validator) schedule(c *checker, in *domain.Schedule) domain.Schedule {
	tz := v.DefaultTimezone
	if tz == "" {
		tz = DefaultTimezone
	}
	if in == nil {
		c.add("schedule", CodeMissing, "falta la frecuencia")
		return domain.Schedule{Timezone: tz}
	}
	out := in.Clone()
	if out.Frequency == "" {
		c.add("schedule.frequency", CodeMissing, "falta la frecuencia")
	} else {
		c.enum("schedule.frequency", out.Frequency, frequencies)
	}
	if out.AtTime != nil && *out.AtTime == "" {
		out.AtTime = nil
	}
	if out.AtTime != nil && !atTimeRe.MatchString(*out.AtTime) {
		c.add("schedule.at_time", CodeInvalidFormat, "la hora debe tener formato HH:MM")
	}
	if out.AtTime == nil && (out.Frequency == domain.FrequencyDaily || out.Frequency == domain.FrequencyWeekly) {
		at := v.DefaultAtTime
		if at == "" {
			at = DefaultAtTime
		}
		out.AtTime = &at
	}
	if out.Timezone == "" {
		out.Timezone = tz
	}
	if _, err := time.LoadLocation(out.Timezone); err != nil {
		c.add("schedule.timezone", CodeInvalidFormat, "zona horaria desconocida %q", out.Timezone)
	}
	for i, d := range out.DaysOfWeek {
		c.enum(fmt.Sprintf("schedule.days_of_week.%d", i), d, weekdays)
	}
	return out
}

func (v Validator) channels(c *checker, in []domain.Channel) []domain.Channel {
	if len(in) == 0 {
		c.add("channels", CodeMissing, "indica al menos un canal")
		return []domain.Channel{}
	}
	if len(in) > 5 {
		c.add("channels", CodeOutOfRange, "como máximo 5 canales")
	}
	out := make([]domain.Channel, 0, len(in))
	for i, ch := range in {
		field := fmt.Sprintf("channels.%d", i)
		ch.To = strings.TrimSpace(ch.To)
		if ch.Template == "" {
			ch.Template = "default"
		}
		c.enum(field+".kind", ch.Kind, kinds)
		c.enum(field+".template", ch.Template, templates)
		switch ch.Kind {
		case domain.ChannelEmail:
			if ch.To == "" {
				c.add(field+".to", CodeMissing, "falta el email de destino")
			} else if addr, err := mail.ParseAddress(ch.To); err != nil || addr.Address != ch.To {
				c.add(field+".to", CodeInvalidFormat, "email no válido %q", ch.To)
			}
		case domain.ChannelWebhook:
			u, err := url.Parse(ch.To)
			if ch.To == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				c.add(field+".to", CodeInvalidFormat, "el webhook necesita una URL http(s) absoluta")
			}
		}
		out = append(out, ch)
	}
	return out
}

func (v Validator) cooldown(c *checker, in *domain.Cooldown) domain.Cooldown {
	if in == nil || (in.Seconds == nil && in.Hours == nil) {
		hours := 24
		perDomain := true
		if in != nil {
			perDomain = in.PerDomain
		}
		return domain.Cooldown{Hours: &hours, PerDomain: perDomain}
	}
	out := domain.Cooldown{PerDomain: in.PerDomain}
	if in.Hours != nil {
		h := *in.Hours
		c.rangeInt("cooldown.hours", h, 0, 720)
		out.Hours = &h
		return out
	}
	s := *in.Seconds
	c.rangeInt("cooldown.seconds", s, 0, 720*3600)
	out.Seconds = &s
	return out
}

func hasExternalChannel(chs []domain.Channel) bool {
	for _, ch := range chs {
		if ch.Kind == domain.ChannelEmail || ch.Kind == domain.ChannelWebhook {
			return true
		}
	}
	return false
}

// FormatIssues renders issues as "field: message" pairs for a user reply.
func FormatIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, is.Field+": "+is.Message)
	}
	return strings.Join(parts, "; ")
}
