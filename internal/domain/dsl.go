package domain

import (
	"encoding/json"
	"fmt"
)

const DSLVersion = "v1.0"

const (
	RuleTypeExpiry = "expiry"
	RuleTypeRisk   = "risk"

	TargetAll     = "all"
	TargetDomains = "domains"
	TargetTags    = "tags"

	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"

	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelInApp   = "in_app"
)

// RuleDSL is the canonical structured rule definition.
type RuleDSL struct {
	DSLVersion  string    `json:"dsl_version"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	RuleType    string    `json:"rule_type"`
	Enabled     bool      `json:"enabled"`
	Severity    string    `json:"severity"`
	Scope       Scope     `json:"scope"`
	Condition   Condition `json:"condition"`
	Schedule    Schedule  `json:"schedule"`
	Channels    []Channel `json:"channels"`
	Cooldown    Cooldown  `json:"cooldown"`
}

type Scope struct {
	TargetType string   `json:"target_type"`
	DomainIDs  []string `json:"domain_ids"`
	Domains    []string `json:"domains"`
	Tags       []string `json:"tags"`
}

type Schedule struct {
	Frequency  string   `json:"frequency"`
	AtTime     *string  `json:"at_time"`
	Timezone   string   `json:"timezone"`
	DaysOfWeek []string `json:"days_of_week"`
}

type Channel struct {
	Kind     string `json:"kind"`
	To       string `json:"to,omitempty"`
	Template string `json:"template,omitempty"`
}

// Cooldown carries either Seconds or Hours; Hours wins when both are set.
type Cooldown struct {
	Seconds   *int `json:"seconds,omitempty"`
	Hours     *int `json:"hours,omitempty"`
	PerDomain bool `json:"per_domain"`
}

// Condition is the tagged union of rule conditions. The concrete types are
// ExpiryCondition and RiskCondition.
type Condition interface {
	ConditionKind() string
}

type ExpiryCondition struct {
	DaysBefore         int  `json:"days_before"`
	OnlyIfAutoRenewOff bool `json:"only_if_auto_renew_off"`
}

type RiskCondition struct {
	RiskLevelGTE *string `json:"risk_level_gte"`
	RiskScoreGTE *int    `json:"risk_score_gte"`
	RiskDeltaGTE *int    `json:"risk_delta_gte"`
	WindowHours  int     `json:"window_hours"`
}

func (ExpiryCondition) ConditionKind() string { return RuleTypeExpiry }
func (RiskCondition) ConditionKind() string   { return RuleTypeRisk }

func (c ExpiryCondition) MarshalJSON() ([]byte, error) {
	type alias ExpiryCondition
	return json.Marshal(struct {
		Kind string `json:"kind"`
		alias
	}{Kind: RuleTypeExpiry, alias: alias(c)})
}

func (c RiskCondition) MarshalJSON() ([]byte, error) {
	type alias RiskCondition
	return json.Marshal(struct {
		Kind string `json:"kind"`
		alias
	}{Kind: RuleTypeRisk, alias: alias(c)})
}

// DecodeCondition reads a condition object using its "kind" discriminator.
func DecodeCondition(raw []byte) (Condition, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case RuleTypeExpiry:
		var c ExpiryCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case RuleTypeRisk:
		var c RiskCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown condition kind %q", head.Kind)
	}
}

func (r *RuleDSL) UnmarshalJSON(data []byte) error {
	type alias RuleDSL
	aux := struct {
		*alias
		Condition json.RawMessage `json:"condition"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Condition) == 0 || string(aux.Condition) == "null" {
		r.Condition = nil
		return nil
	}
	c, err := DecodeCondition(aux.Condition)
	if err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	r.Condition = c
	return nil
}
