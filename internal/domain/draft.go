package domain

// DraftFields is the partial rule a conversation accumulates. Every field is
// optional; a zero value means "not provided yet". The same type is used for
// the stored draft and for the per-turn patch merged into it.
type DraftFields struct {
	RuleName    string           `json:"rule_name,omitempty"`
	Description string           `json:"description,omitempty"`
	RuleType    string           `json:"rule_type,omitempty"`
	Severity    string           `json:"severity,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	Scope       *Scope           `json:"scope,omitempty"`
	Condition   *ConditionFields `json:"condition,omitempty"`
	Schedule    *Schedule        `json:"schedule,omitempty"`
	Channels    []Channel        `json:"channels,omitempty"`
	Cooldown    *Cooldown        `json:"cooldown,omitempty"`
}

// ConditionFields is the untyped condition bag collected before the rule
// type is known. The validator turns it into a Condition variant.
type ConditionFields struct {
	DaysBeforeExpiry   *int   `json:"days_before_expiry,omitempty"`
	OnlyIfAutoRenewOff *bool  `json:"only_if_auto_renew_off,omitempty"`
	RiskLevelGTE       string `json:"risk_level_gte,omitempty"`
	RiskScoreGTE       *int   `json:"risk_score_gte,omitempty"`
	RiskDeltaGTE       *int   `json:"risk_delta_gte,omitempty"`
	WindowHours        *int   `json:"window_hours,omitempty"`
}

func (c ConditionFields) Empty() bool {
	return c.DaysBeforeExpiry == nil && c.OnlyIfAutoRenewOff == nil && c.RiskLevelGTE == "" &&
		c.RiskScoreGTE == nil && c.RiskDeltaGTE == nil && c.WindowHours == nil
}

// Empty reports whether no field is set.
func (f DraftFields) Empty() bool {
	return f.RuleName == "" && f.Description == "" && f.RuleType == "" && f.Severity == "" &&
		f.Enabled == nil && f.Scope == nil && f.Condition == nil && f.Schedule == nil &&
		f.Channels == nil && f.Cooldown == nil
}

// Merge returns f with every field set in patch overwritten. Merge is
// shallow: a patch scope replaces the whole stored scope.
func (f DraftFields) Merge(patch DraftFields) DraftFields {
	out := f.Clone()
	p := patch.Clone()
	if p.RuleName != "" {
		out.RuleName = p.RuleName
	}
	if p.Description != "" {
		out.Description = p.Description
	}
	if p.RuleType != "" {
		out.RuleType = p.RuleType
	}
	if p.Severity != "" {
		out.Severity = p.Severity
	}
	if p.Enabled != nil {
		out.Enabled = p.Enabled
	}
	if p.Scope != nil {
		out.Scope = p.Scope
	}
	if p.Condition != nil {
		out.Condition = p.Condition
	}
	if p.Schedule != nil {
		out.Schedule = p.Schedule
	}
	if p.Channels != nil {
		out.Channels = p.Channels
	}
	if p.Cooldown != nil {
		out.Cooldown = p.Cooldown
	}
	return out
}

// Clone returns a deep copy.
func (f DraftFields) Clone() DraftFields {
	out := f
	out.Enabled = cloneBool(f.Enabled)
	if f.Scope != nil {
		s := f.Scope.Clone()
		out.Scope = &s
	}
	if f.Condition != nil {
		c := *f.Condition
		c.DaysBeforeExpiry = cloneInt(c.DaysBeforeExpiry)
		c.OnlyIfAutoRenewOff = cloneBool(c.OnlyIfAutoRenewOff)
		c.RiskScoreGTE = cloneInt(c.RiskScoreGTE)
		c.RiskDeltaGTE = cloneInt(c.RiskDeltaGTE)
		c.WindowHours = cloneInt(c.WindowHours)
		out.Condition = &c
	}
	if f.Schedule != nil {
		s := f.Schedule.Clone()
		out.Schedule = &s
	}
	if f.Channels != nil {
		out.Channels = append([]Channel{}, f.Channels...)
	}
	if f.Cooldown != nil {
		c := *f.Cooldown
		c.Seconds = cloneInt(c.Seconds)
		c.Hours = cloneInt(c.Hours)
		out.Cooldown = &c
	}
	return out
}

func (s Scope) Clone() Scope {
	return Scope{
		TargetType: s.TargetType,
		DomainIDs:  cloneStrings(s.DomainIDs),
		Domains:    cloneStrings(s.Domains),
		Tags:       cloneStrings(s.Tags),
	}
}

func (s Schedule) Clone() Schedule {
	out := s
	if s.AtTime != nil {
		t := *s.AtTime
		out.AtTime = &t
	}
	out.DaysOfWeek = cloneStrings(s.DaysOfWeek)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}
