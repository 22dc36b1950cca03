package extract_test

import (
	"reflect"
	"testing"

	"alertline/internal/domain"
	"alertline/internal/extract"
)

func TestExtractFullMessage(t *testing.T) {
	patch := extract.Extract("Quiero una alerta 'Expira Pronto' para acme.es avisando a soc@acme.com 15 días antes")
	if patch.RuleName != "Expira Pronto" {
		t.Fatalf("rule name %q", patch.RuleName)
	}
	if patch.RuleType != domain.RuleTypeExpiry || patch.Severity != "medium" {
		t.Fatalf("rule type %q severity %q", patch.RuleType, patch.Severity)
	}
	if patch.Scope == nil || !reflect.DeepEqual(patch.Scope.Domains, []string{"acme.es"}) {
		t.Fatalf("scope %+v", patch.Scope)
	}
	if patch.Scope.TargetType != domain.TargetDomains {
		t.Fatalf("target type %q", patch.Scope.TargetType)
	}
	if patch.Condition == nil || patch.Condition.DaysBeforeExpiry == nil || *patch.Condition.DaysBeforeExpiry != 15 {
		t.Fatalf("condition %+v", patch.Condition)
	}
	want := []domain.Channel{{Kind: domain.ChannelEmail, To: "soc@acme.com"}}
	if !reflect.DeepEqual(patch.Channels, want) {
		t.Fatalf("channels %+v", patch.Channels)
	}
	if patch.Schedule != nil {
		t.Fatalf("unexpected schedule %+v", patch.Schedule)
	}
}

func TestExtractNoMatchIsEmpty(t *testing.T) {
	for _, msg := range []string{"", "hola", "gracias por todo"} {
		if patch := extract.Extract(msg); !patch.Empty() {
			t.Fatalf("%q: expected empty patch, got %+v", msg, patch)
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	msg := "alerta de riesgo para b.com, a.com y B.COM cada semana a las 8:30 sin cooldown"
	first := extract.Extract(msg)
	for i := 0; i < 20; i++ {
		if got := extract.Extract(msg); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
	if !reflect.DeepEqual(first.Scope.Domains, []string{"a.com", "b.com"}) {
		t.Fatalf("domains %v", first.Scope.Domains)
	}
	if first.RuleType != domain.RuleTypeRisk {
		t.Fatalf("rule type %q", first.RuleType)
	}
	if first.Schedule == nil || first.Schedule.Frequency != domain.FrequencyWeekly {
		t.Fatalf("schedule %+v", first.Schedule)
	}
	if first.Schedule.AtTime == nil || *first.Schedule.AtTime != "08:30" {
		t.Fatalf("at_time %v", first.Schedule.AtTime)
	}
	if first.Cooldown == nil || first.Cooldown.Seconds == nil || *first.Cooldown.Seconds != 0 {
		t.Fatalf("cooldown %+v", first.Cooldown)
	}
}

func TestExtractFirstQuotedNameWins(t *testing.T) {
	patch := extract.Extract("llámala 'Primera' o quizá 'Segunda'")
	if patch.RuleName != "Primera" {
		t.Fatalf("rule name %q", patch.RuleName)
	}
}

func TestExtractFrequencyKeywords(t *testing.T) {
	cases := map[string]string{
		"diaria":                  domain.FrequencyDaily,
		"todos los días":          domain.FrequencyDaily,
		"semanal":                 domain.FrequencyWeekly,
		"cada hora por favor":     domain.FrequencyHourly,
		"un resumen diario 07:00": domain.FrequencyDaily,
	}
	for msg, want := range cases {
		patch := extract.Extract(msg)
		if patch.Schedule == nil || patch.Schedule.Frequency != want {
			t.Fatalf("%q: schedule %+v, want %s", msg, patch.Schedule, want)
		}
	}
}

func TestExtractTimeWithoutFrequencyIgnored(t *testing.T) {
	if patch := extract.Extract("a las 09:00"); patch.Schedule != nil {
		t.Fatalf("unexpected schedule %+v", patch.Schedule)
	}
}

func TestExtractRiskThreshold(t *testing.T) {
	patch := extract.Extract("avisa si el riesgo alto o score >= 80 en acme.es")
	if patch.RuleType != domain.RuleTypeRisk {
		t.Fatalf("rule type %q", patch.RuleType)
	}
	c := patch.Condition
	if c == nil || c.RiskLevelGTE != "high" || c.RiskScoreGTE == nil || *c.RiskScoreGTE != 80 {
		t.Fatalf("condition %+v", c)
	}
	if c.DaysBeforeExpiry != nil {
		t.Fatalf("unexpected days %v", *c.DaysBeforeExpiry)
	}

	patch = extract.Extract("riesgo crítico")
	if patch.Condition == nil || patch.Condition.RiskLevelGTE != "critical" || patch.Condition.RiskScoreGTE != nil {
		t.Fatalf("condition %+v", patch.Condition)
	}
}
