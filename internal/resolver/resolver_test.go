package resolver_test

import (
	"reflect"
	"strings"
	"testing"

	"alertline/internal/domain"
	"alertline/internal/resolver"
)

func intPtr(v int) *int { return &v }

func completeDraft() domain.DraftFields {
	return domain.DraftFields{
		RuleName:  "Expira Pronto",
		RuleType:  domain.RuleTypeExpiry,
		Condition: &domain.ConditionFields{DaysBeforeExpiry: intPtr(15)},
		Scope:     &domain.Scope{TargetType: domain.TargetDomains, Domains: []string{"acme.es"}},
		Channels:  []domain.Channel{{Kind: domain.ChannelEmail, To: "soc@acme.com"}},
		Schedule:  &domain.Schedule{Frequency: domain.FrequencyDaily},
	}
}

func TestMissingEmptyDraftFollowsOrder(t *testing.T) {
	got := resolver.Missing(domain.DraftFields{})
	if !reflect.DeepEqual(got, resolver.Order) {
		t.Fatalf("missing = %v, want %v", got, resolver.Order)
	}
	q := resolver.Question(domain.DraftFields{}, got)
	if !strings.Contains(q, "caducidad") {
		t.Fatalf("question %q", q)
	}
}

func TestMissingComplete(t *testing.T) {
	if got := resolver.Missing(completeDraft()); len(got) != 0 {
		t.Fatalf("missing = %v", got)
	}
	if q := resolver.Question(completeDraft(), nil); q != "" {
		t.Fatalf("question %q", q)
	}
}

func TestConditionBranches(t *testing.T) {
	cases := []struct {
		name     string
		ruleType string
		cond     *domain.ConditionFields
		missing  bool
	}{
		{"expiry without days", domain.RuleTypeExpiry, &domain.ConditionFields{WindowHours: intPtr(24)}, true},
		{"expiry zero days", domain.RuleTypeExpiry, &domain.ConditionFields{DaysBeforeExpiry: intPtr(0)}, true},
		{"expiry with days", domain.RuleTypeExpiry, &domain.ConditionFields{DaysBeforeExpiry: intPtr(10)}, false},
		{"risk with only days", domain.RuleTypeRisk, &domain.ConditionFields{DaysBeforeExpiry: intPtr(10)}, true},
		{"risk with level", domain.RuleTypeRisk, &domain.ConditionFields{RiskLevelGTE: "high"}, false},
		{"risk with score", domain.RuleTypeRisk, &domain.ConditionFields{RiskScoreGTE: intPtr(80)}, false},
		{"unknown type empty", "", &domain.ConditionFields{}, true},
		{"unknown type nil", "", nil, true},
		{"unknown type any value", "", &domain.ConditionFields{RiskDeltaGTE: intPtr(5)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := completeDraft()
			f.RuleType = tc.ruleType
			f.Condition = tc.cond
			got := false
			for _, m := range resolver.Missing(f) {
				if m == resolver.FieldCondition {
					got = true
				}
			}
			if got != tc.missing {
				t.Fatalf("condition missing = %v, want %v", got, tc.missing)
			}
		})
	}
}

func TestChannelsNeedEmailWithTarget(t *testing.T) {
	f := completeDraft()
	f.Channels = []domain.Channel{{Kind: domain.ChannelWebhook, To: "https://hooks.example.com"}, {Kind: domain.ChannelEmail}}
	if got := resolver.Missing(f); !reflect.DeepEqual(got, []string{resolver.FieldChannels}) {
		t.Fatalf("missing = %v", got)
	}
}

func TestScopeAcceptsDomainIDs(t *testing.T) {
	f := completeDraft()
	f.Scope = &domain.Scope{TargetType: domain.TargetDomains, DomainIDs: []string{"d-1"}}
	if got := resolver.Missing(f); len(got) != 0 {
		t.Fatalf("missing = %v", got)
	}
}

func TestScopeTargets(t *testing.T) {
	cases := []struct {
		scope   domain.Scope
		missing bool
	}{
		{domain.Scope{TargetType: domain.TargetAll}, false},
		{domain.Scope{TargetType: domain.TargetTags, Tags: []string{"prod"}}, false},
		{domain.Scope{TargetType: domain.TargetTags}, true},
		{domain.Scope{TargetType: domain.TargetDomains}, true},
	}
	for _, tc := range cases {
		f := completeDraft()
		s := tc.scope
		f.Scope = &s
		got := len(resolver.Missing(f)) > 0
		if got != tc.missing {
			t.Fatalf("scope %+v: missing=%v", tc.scope, got)
		}
	}
}

func TestScenarioAAsksForFrequency(t *testing.T) {
	f := completeDraft()
	f.Schedule = nil
	missing := resolver.Missing(f)
	if !reflect.DeepEqual(missing, []string{resolver.FieldSchedule}) {
		t.Fatalf("missing = %v", missing)
	}
	want := "¿Con qué frecuencia quieres el aviso? (diaria/semanal)"
	if q := resolver.Question(f, missing); q != want {
		t.Fatalf("question %q", q)
	}
}

func TestQuestionUsesKnownContext(t *testing.T) {
	f := domain.DraftFields{
		RuleType: domain.RuleTypeExpiry,
		Scope:    &domain.Scope{Domains: []string{"acme.es"}},
	}
	q := resolver.Question(f, resolver.Missing(f))
	if q != "¿Cuántos días antes de la caducidad quieres el aviso para **acme.es**? (ej: 15 días)" {
		t.Fatalf("question %q", q)
	}
	if q := resolver.Question(f, []string{resolver.FieldScope}); !strings.HasPrefix(q, "Ya tengo el dominio **acme.es**") {
		t.Fatalf("scope question %q", q)
	}
	f.Channels = []domain.Channel{{Kind: domain.ChannelEmail, To: "soc@acme.com"}}
	if q := resolver.Question(f, []string{resolver.FieldChannels}); !strings.Contains(q, "**soc@acme.com**") {
		t.Fatalf("channels question %q", q)
	}
	if q := resolver.Question(f, []string{"unknown"}); !strings.HasPrefix(q, "Necesito un dato más") {
		t.Fatalf("fallback question %q", q)
	}
}

func TestStability(t *testing.T) {
	a := domain.DraftFields{RuleName: "x", Scope: &domain.Scope{Domains: []string{"b.com"}}}
	b := a.Clone()
	for i := 0; i < 10; i++ {
		ma, mb := resolver.Missing(a), resolver.Missing(b)
		if !reflect.DeepEqual(ma, mb) {
			t.Fatalf("missing diverged: %v vs %v", ma, mb)
		}
		if resolver.Question(a, ma) != resolver.Question(b, mb) {
			t.Fatalf("question diverged")
		}
	}
}

func TestPending(t *testing.T) {
	got := resolver.Pending([]string{"a", "b", "c"})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("pending = %v", got)
	}
	if got := resolver.Pending([]string{"a"}); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("pending = %v", got)
	}
}
