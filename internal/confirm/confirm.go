// Package confirm implements the yes/no checkpoint a draft passes before it
// is persisted: intent classification and the summary shown to the user.
package confirm

import (
	"fmt"
	"strings"

	"alertline/internal/domain"
)

type Intent int

const (
	Other Intent = iota
	Yes
	No
)

func (i Intent) String() string {
	switch i {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "other"
	}
}

var yesTokens = map[string]bool{
	"si": true, "sí": true, "s": true, "ok": true, "vale": true, "confirmar": true, "confirmo": true,
	"crear": true, "crea": true, "adelante": true, "de acuerdo": true,
}

var noTokens = map[string]bool{
	"no": true, "cancelar": true, "cancela": true, "anular": true, "anula": true, "parar": true,
}

const (
	CancelledMessage = "Creación de alerta cancelada."
	RepromptMessage  = "¿Confirmas la creación? Responde **sí** para crear o **no** para cancelar."
)

// Normalize lower-cases s and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Classify maps a reply to an intent. Yes is checked first, so a message
// that matches both families counts as yes.
func Classify(message string) Intent {
	s := Normalize(message)
	if yesTokens[s] || strings.Contains(s, "confirm") || strings.Contains(s, "crea") {
		return Yes
	}
	if noTokens[s] || strings.Contains(s, "cancel") || strings.Contains(s, "anul") {
		return No
	}
	return Other
}

// Summary renders the draft for confirmation. A non-empty warning is shown
// before the closing prompt.
func Summary(f domain.DraftFields, warning string) string {
	var b strings.Builder
	b.WriteString("Antes de crear la alerta, confirma que está todo correcto:\n\n")
	fmt.Fprintf(&b, "- Nombre: '%s'\n", f.RuleName)
	fmt.Fprintf(&b, "- Tipo: %s\n", f.RuleType)
	fmt.Fprintf(&b, "- Condición: %s\n", describeCondition(f))
	fmt.Fprintf(&b, "- Dominios: %s\n", describeScope(f.Scope))
	fmt.Fprintf(&b, "- Frecuencia: %s\n", describeSchedule(f.Schedule))
	fmt.Fprintf(&b, "- Canales: %s\n\n", describeChannels(f.Channels))
	if warning != "" {
		fmt.Fprintf(&b, "Atención: %s\n\n", warning)
	}
	b.WriteString("Responde **sí** para crearla o **no** para cancelar.")
	return b.String()
}

func describeCondition(f domain.DraftFields) string {
	c := f.Condition
	if c == nil {
		return "-"
	}
	var parts []string
	if c.DaysBeforeExpiry != nil {
		parts = append(parts, fmt.Sprintf("%d días antes de caducar", *c.DaysBeforeExpiry))
	}
	if c.OnlyIfAutoRenewOff != nil && *c.OnlyIfAutoRenewOff {
		parts = append(parts, "solo sin autorrenovación")
	}
	if c.RiskLevelGTE != "" {
		parts = append(parts, "riesgo >= "+c.RiskLevelGTE)
	}
	if c.RiskScoreGTE != nil {
		parts = append(parts, fmt.Sprintf("score >= %d", *c.RiskScoreGTE))
	}
	if c.RiskDeltaGTE != nil {
		parts = append(parts, fmt.Sprintf("delta >= %d", *c.RiskDeltaGTE))
	}
	if c.WindowHours != nil {
		parts = append(parts, fmt.Sprintf("ventana %dh", *c.WindowHours))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func describeScope(s *domain.Scope) string {
	if s == nil {
		return "-"
	}
	switch {
	case s.TargetType == domain.TargetAll:
		return "todos"
	case len(s.Domains) > 0:
		return strings.Join(s.Domains, ", ")
	case len(s.Tags) > 0:
		return "etiquetas " + strings.Join(s.Tags, ", ")
	case len(s.DomainIDs) > 0:
		return strings.Join(s.DomainIDs, ", ")
	}
	return "-"
}

func describeSchedule(s *domain.Schedule) string {
	if s == nil || s.Frequency == "" {
		return "-"
	}
	if s.AtTime != nil && *s.AtTime != "" {
		return s.Frequency + " a las " + *s.AtTime
	}
	return s.Frequency
}

func describeChannels(chs []domain.Channel) string {
	if len(chs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(chs))
	for _, ch := range chs {
		if ch.To != "" {
			parts = append(parts, ch.Kind+" "+ch.To)
		} else {
			parts = append(parts, ch.Kind)
		}
	}
	return strings.Join(parts, ", ")
}
