// Package resolver decides which rule fields a draft still lacks and which
// question to ask next.
package resolver

import (
	"fmt"

	"alertline/internal/domain"
)

const (
	FieldRuleType  = "rule_type"
	FieldCondition = "condition"
	FieldScope     = "scope"
	FieldChannels  = "channels"
	FieldSchedule  = "schedule"
	FieldRuleName  = "rule_name"
)

// Order is the fixed order in which missing fields are reported and asked.
var Order = []string{FieldRuleType, FieldCondition, FieldScope, FieldChannels, FieldSchedule, FieldRuleName}

// MaxPending is how many missing fields a turn records as pending.
const MaxPending = 2

func scopeMissing(s *domain.Scope) bool {
	if s == nil {
		return true
	}
	switch s.TargetType {
	case domain.TargetAll:
		return false
	case domain.TargetTags:
		return len(s.Tags) == 0
	}
	return len(s.Domains) == 0 && len(s.DomainIDs) == 0
}

// Missing returns the missing fields of f in Order.
func Missing(f domain.DraftFields) []string {
	missing := map[string]bool{
		FieldRuleName:  f.RuleName == "",
		FieldRuleType:  f.RuleType == "",
		FieldCondition: conditionMissing(f),
		FieldScope:     scopeMissing(f.Scope),
		FieldChannels:  emailTarget(f) == "",
		FieldSchedule:  f.Schedule == nil || f.Schedule.Frequency == "",
	}
	var out []string
	for _, field := range Order {
		if missing[field] {
			out = append(out, field)
		}
	}
	return out
}

// Pending trims missing to the fields recorded on the draft.
func Pending(missing []string) []string {
	if len(missing) > MaxPending {
		missing = missing[:MaxPending]
	}
	return append([]string{}, missing...)
}

// conditionMissing depends on the rule type: expiry needs a day threshold,
// risk needs a level or score threshold, and an unknown type needs any
// condition value at all.
func conditionMissing(f domain.DraftFields) bool {
	c := f.Condition
	switch f.RuleType {
	case domain.RuleTypeExpiry:
		return c == nil || c.DaysBeforeExpiry == nil || *c.DaysBeforeExpiry == 0
	case domain.RuleTypeRisk:
		return c == nil || (c.RiskLevelGTE == "" && c.RiskScoreGTE == nil)
	default:
		return c == nil || c.Empty()
	}
}

func emailTarget(f domain.DraftFields) string {
	for _, ch := range f.Channels {
		if ch.Kind == domain.ChannelEmail && ch.To != "" {
			return ch.To
		}
	}
	return ""
}

// Question builds the prompt for the first missing field, using what the
// draft already knows. It returns "" when nothing is missing.
func Question(f domain.DraftFields, missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	var domains []string
	if f.Scope != nil {
		domains = f.Scope.Domains
	}
	switch missing[0] {
	case FieldRuleName:
		return "Hace falta un nombre para la alerta. Pon el nombre de la alerta entre comillas simples. Ej: 'Alerta Dominio'"
	case FieldRuleType:
		return "¿La alerta es por **caducidad** del dominio o por **riesgo**?"
	case FieldCondition:
		switch f.RuleType {
		case domain.RuleTypeExpiry:
			suffix := ""
			if len(domains) > 0 {
				suffix = fmt.Sprintf(" para **%s**", domains[0])
			}
			return fmt.Sprintf("¿Cuántos días antes de la caducidad quieres el aviso%s? (ej: 15 días)", suffix)
		case domain.RuleTypeRisk:
			return "¿Qué condición de riesgo quieres? (ej: 'riesgo alto' o 'score >= 80')"
		default:
			return "¿Cuál es la condición exacta? (ej: '15 días antes de caducar' o 'riesgo alto')"
		}
	case FieldChannels:
		if to := emailTarget(f); to != "" {
			return fmt.Sprintf("Ya tengo el email **%s**. ¿Quieres añadir otro canal o confirmo ese?", to)
		}
		return "¿A qué email debo notificarte? (ej: soc@dominio.com)"
	case FieldScope:
		if len(domains) > 0 {
			return fmt.Sprintf("Ya tengo el dominio **%s**. ¿Aplica solo a ese o a más dominios?", domains[0])
		}
		return "¿Aplica a todos tus dominios o a alguno concreto? (ej: acme.es)"
	case FieldSchedule:
		if f.Schedule != nil && f.Schedule.Frequency != "" {
			return fmt.Sprintf("Ya tengo frecuencia **%s**. ¿A qué hora quieres el aviso? (ej: 09:00)", f.Schedule.Frequency)
		}
		return "¿Con qué frecuencia quieres el aviso? (diaria/semanal)"
	}
	return "Necesito un dato más para crear la alerta. ¿Puedes indicármelo?"
}
