package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"alertline/internal/confirm"
	"alertline/internal/domain"
	"alertline/internal/draft"
	"alertline/internal/engine"
	"alertline/internal/flow"
	"alertline/internal/scope"
)

type fakeDirectory struct {
	domains []domain.Domain
	panics  bool
}

func (f *fakeDirectory) ListDomains(_ context.Context, userID, _ string) ([]domain.Domain, error) {
	if f.panics {
		panic("directory exploded")
	}
	var out []domain.Domain
	for _, d := range f.domains {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeRules struct {
	mu          sync.Mutex
	created     []domain.RuleDSL
	targets     map[string][]string
	jobs        []string
	createErr   error
	targetsErr  error
	scheduleErr error
}

func (f *fakeRules) CreateRule(_ context.Context, _ string, rule domain.RuleDSL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, rule)
	return "rule-" + strconv.Itoa(len(f.created)), nil
}

func (f *fakeRules) ReplaceTargets(_ context.Context, ruleID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targetsErr != nil {
		return f.targetsErr
	}
	if f.targets == nil {
		f.targets = map[string][]string{}
	}
	f.targets[ruleID] = append([]string{}, ids...)
	return nil
}

func (f *fakeRules) CreateScheduleJob(_ context.Context, _, ruleID string, _ domain.Schedule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.jobs = append(f.jobs, ruleID)
	return "job-" + ruleID, nil
}

func (f *fakeRules) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type testEnv struct {
	Engine engine.Engine
	Drafts *draft.MemoryStore
	Rules  *fakeRules
	Dir    *fakeDirectory
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	drafts := draft.NewMemoryStore(draft.DefaultTTL)
	dir := &fakeDirectory{domains: []domain.Domain{
		{ID: "dom_101", UserID: "u1", Name: "acme.es", Status: domain.DomainActive},
		{ID: "dom_205", UserID: "u1", Name: "beta.com", Status: domain.DomainActive},
	}}
	rules := &fakeRules{}
	eng := engine.Engine{
		Drafts: drafts,
		Scope:  scope.Resolver{Directory: dir},
		Rules:  rules,
		Now:    func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) },
	}
	return testEnv{Engine: eng, Drafts: drafts, Rules: rules, Dir: dir, Ctx: context.Background()}
}

const scenarioA = "Quiero una alerta 'Expira Pronto' para acme.es avisando a soc@acme.com 15 días antes"

func (env testEnv) turn(t *testing.T, msg string) engine.Reply {
	t.Helper()
	return env.Engine.ProcessTurn(env.Ctx, "u1", "s1", msg)
}

func TestScenarioAAsksForFrequency(t *testing.T) {
	env := newTestEnv(t)
	reply := env.turn(t, scenarioA)
	if reply.Error != nil {
		t.Fatalf("error %+v", reply.Error)
	}
	if reply.Message != "¿Con qué frecuencia quieres el aviso? (diaria/semanal)" || reply.State != flow.Collecting {
		t.Fatalf("reply %+v", reply)
	}
	d, ok, _ := env.Drafts.Get(env.Ctx, "s1")
	if !ok {
		t.Fatalf("draft not stored")
	}
	f := d.Fields
	if f.RuleName != "Expira Pronto" || f.Scope.Domains[0] != "acme.es" || *f.Condition.DaysBeforeExpiry != 15 || f.Channels[0].To != "soc@acme.com" {
		t.Fatalf("fields %+v", f)
	}
	if len(d.PendingFields) != 1 || d.PendingFields[0] != "schedule" || d.LastQuestionField != "schedule" {
		t.Fatalf("pending %v last %q", d.PendingFields, d.LastQuestionField)
	}
}

func TestScenarioBCRendersSummaryThenCreates(t *testing.T) {
	env := newTestEnv(t)
	env.turn(t, scenarioA)
	reply := env.turn(t, "diaria")
	if reply.State != flow.AwaitingConfirmation || !strings.HasPrefix(reply.Message, "Antes de crear la alerta") {
		t.Fatalf("reply %+v", reply)
	}
	if env.Rules.calls() != 0 {
		t.Fatalf("rule created before confirmation")
	}
	d, _, _ := env.Drafts.Get(env.Ctx, "s1")
	if !d.AwaitingConfirmation() || d.Fields.Schedule.Frequency != domain.FrequencyDaily {
		t.Fatalf("draft %+v", d)
	}

	reply = env.turn(t, "sí")
	if reply.Error != nil || reply.RuleID != "rule-1" || reply.State != flow.Done {
		t.Fatalf("reply %+v", reply)
	}
	if reply.Message != "Alerta creada (rule_id=rule-1). Te avisaré según la configuración." {
		t.Fatalf("message %q", reply.Message)
	}
	if _, ok, _ := env.Drafts.Get(env.Ctx, "s1"); ok {
		t.Fatalf("draft not cleared")
	}
	rule := env.Rules.created[0]
	if rule.Scope.DomainIDs[0] != "dom_101" || *rule.Schedule.AtTime != "09:00" {
		t.Fatalf("rule %+v", rule)
	}
	if got := env.Rules.targets["rule-1"]; len(got) != 1 || got[0] != "dom_101" {
		t.Fatalf("targets %v", got)
	}
	if len(env.Rules.jobs) != 1 {
		t.Fatalf("jobs %v", env.Rules.jobs)
	}
}

func TestScenarioDCancelMakesNoRuleStoreCall(t *testing.T) {
	env := newTestEnv(t)
	env.turn(t, scenarioA)
	env.turn(t, "diaria")
	reply := env.turn(t, "no")
	if reply.Message != confirm.CancelledMessage || reply.State != flow.Cancelled || reply.Error != nil {
		t.Fatalf("reply %+v", reply)
	}
	if env.Rules.calls() != 0 || len(env.Rules.jobs) != 0 || env.Rules.targets != nil {
		t.Fatalf("rule store was called")
	}
	if _, ok, _ := env.Drafts.Get(env.Ctx, "s1"); ok {
		t.Fatalf("draft not cleared")
	}
}

func TestScenarioEUnresolvedDomain(t *testing.T) {
	env := newTestEnv(t)
	env.turn(t, "Quiero una alerta 'Expira Pronto' para doesnotexist.com avisando a soc@acme.com 15 días antes")
	env.turn(t, "diaria")
	reply := env.turn(t, "sí")
	if reply.Error == nil || reply.Error.Code != engine.CodeUnresolvedScope {
		t.Fatalf("reply %+v", reply)
	}
	if !strings.Contains(reply.Message, "doesnotexist.com") || reply.State != flow.Collecting {
		t.Fatalf("reply %+v", reply)
	}
	if env.Rules.calls() != 0 {
		t.Fatalf("rule persisted with unresolved scope")
	}
	d, ok, _ := env.Drafts.Get(env.Ctx, "s1")
	if !ok || d.State != flow.Collecting || d.LastQuestionField != "scope" {
		t.Fatalf("draft %+v", d)
	}

	reply = env.turn(t, "mejor para acme.es")
	if reply.State != flow.AwaitingConfirmation {
		t.Fatalf("reply %+v", reply)
	}
	if reply = env.turn(t, "confirmo"); reply.RuleID == "" {
		t.Fatalf("reply %+v", reply)
	}
}

func TestCorrectionStaysAwaitingConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.turn(t, scenarioA)
	env.turn(t, "diaria")
	reply := env.turn(t, "mejor semanal a las 18:00")
	if reply.State != flow.AwaitingConfirmation || !strings.Contains(reply.Message, "weekly a las 18:00") {
		t.Fatalf("reply %+v", reply)
	}
	if env.Rules.calls() != 0 {
		t.Fatalf("correction persisted")
	}
	reply = env.turn(t, "hmm")
	if reply.Message != confirm.RepromptMessage || reply.State != flow.AwaitingConfirmation {
		t.Fatalf("reply %+v", reply)
	}
	d, _, _ := env.Drafts.Get(env.Ctx, "s1")
	if !d.AwaitingConfirmation() {
		t.Fatalf("state %s", d.State)
	}
}

func TestInvalidDraftReportsIssues(t *testing.T) {
	env := newTestEnv(t)
	reply := env.turn(t, "alerta 'ab' de caducidad para acme.es a soc@acme.com 15 días antes, diaria")
	if reply.Error == nil || reply.Error.Code != engine.CodeValidationFailed {
		t.Fatalf("reply %+v", reply)
	}
	if !strings.HasPrefix(reply.Message, "No puedo crear la alerta aún. Problemas:") || reply.State != flow.Collecting {
		t.Fatalf("reply %+v", reply)
	}
	reply = env.turn(t, "llámala 'Caducidad acme'")
	if reply.State != flow.AwaitingConfirmation {
		t.Fatalf("reply %+v", reply)
	}
}

func TestHighImpactWarningInSummary(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Drafts.Upsert(env.Ctx, "s1", "u1", draft.Patch{Fields: domain.DraftFields{
		RuleName:  "Todo cada hora",
		RuleType:  domain.RuleTypeExpiry,
		Condition: &domain.ConditionFields{DaysBeforeExpiry: intPtr(10)},
		Scope:     &domain.Scope{TargetType: domain.TargetAll},
		Channels:  []domain.Channel{{Kind: domain.ChannelEmail, To: "soc@acme.com"}},
	}, State: flow.Collecting})
	if err != nil {
		t.Fatal(err)
	}
	reply := env.turn(t, "cada hora")
	if reply.State != flow.AwaitingConfirmation || !strings.Contains(reply.Message, "Impacto alto") {
		t.Fatalf("reply %+v", reply)
	}
	reply = env.turn(t, "ok")
	if reply.RuleID == "" {
		t.Fatalf("reply %+v", reply)
	}
	if ids := env.Rules.targets[reply.RuleID]; len(ids) != 2 {
		t.Fatalf("scope=all should target every active domain, got %v", ids)
	}
}

func TestOwnershipConflict(t *testing.T) {
	env := newTestEnv(t)
	env.turn(t, scenarioA)
	reply := env.Engine.ProcessTurn(env.Ctx, "u2", "s1", "diaria")
	if reply.Error == nil || reply.Error.Code != engine.CodeOwnershipConflict {
		t.Fatalf("reply %+v", reply)
	}
	d, _, _ := env.Drafts.Get(env.Ctx, "s1")
	if d.OwnerID != "u1" || d.Fields.Schedule != nil {
		t.Fatalf("draft modified by another user: %+v", d)
	}
	if _, err := env.Engine.Draft(env.Ctx, "u2", "s1"); !errors.Is(err, draft.ErrOwnership) {
		t.Fatalf("draft read by another user: %v", err)
	}
	if _, err := env.Engine.Draft(env.Ctx, "u1", "nope"); !errors.Is(err, engine.ErrNoDraft) {
		t.Fatalf("err %v", err)
	}
}

func TestInvalidRequest(t *testing.T) {
	env := newTestEnv(t)
	reply := env.Engine.ProcessTurn(env.Ctx, "", "s1", "hola")
	if reply.Error == nil || reply.Error.Code != engine.CodeInvalidRequest {
		t.Fatalf("reply %+v", reply)
	}
}

func TestCreateFailureAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	env.Rules.createErr = errors.New("db down")
	env.turn(t, scenarioA)
	env.turn(t, "diaria")
	reply := env.turn(t, "sí")
	if reply.Error == nil || reply.Error.Code != engine.CodePersistenceFailed || reply.State != flow.AwaitingConfirmation {
		t.Fatalf("reply %+v", reply)
	}
	env.Rules.createErr = nil
	reply = env.turn(t, "sí")
	if reply.RuleID != "rule-1" {
		t.Fatalf("retry reply %+v", reply)
	}
}

func TestPartialPersistence(t *testing.T) {
	for _, stage := range []string{"targets", "schedule"} {
		t.Run(stage, func(t *testing.T) {
			env := newTestEnv(t)
			if stage == "targets" {
				env.Rules.targetsErr = errors.New("fk violation")
			} else {
				env.Rules.scheduleErr = errors.New("scheduler down")
			}
			env.turn(t, scenarioA)
			env.turn(t, "diaria")
			reply := env.turn(t, "sí")
			if reply.Error == nil || reply.Error.Code != engine.CodePartialPersistence {
				t.Fatalf("reply %+v", reply)
			}
			if reply.RuleID != "rule-1" || !strings.Contains(reply.Message, "rule-1") || reply.State != flow.Done {
				t.Fatalf("reply %+v", reply)
			}
			if _, ok, _ := env.Drafts.Get(env.Ctx, "s1"); ok {
				t.Fatalf("draft kept after partial persistence")
			}
			env.turn(t, "sí")
			if env.Rules.calls() != 1 {
				t.Fatalf("retry created a duplicate rule")
			}
		})
	}
}

func TestPanicBecomesToolException(t *testing.T) {
	env := newTestEnv(t)
	env.Dir.panics = true
	env.turn(t, scenarioA)
	env.turn(t, "diaria")
	reply := env.turn(t, "sí")
	if reply.Error == nil || reply.Error.Code != engine.CodeToolException {
		t.Fatalf("reply %+v", reply)
	}
	d, ok, _ := env.Drafts.Get(env.Ctx, "s1")
	if !ok || !d.AwaitingConfirmation() {
		t.Fatalf("session not released after panic: %+v", d)
	}
}

func TestConfirmedSessionIsBusy(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Drafts.Upsert(env.Ctx, "s1", "u1", draft.Patch{State: flow.Confirmed}); err != nil {
		t.Fatal(err)
	}
	reply := env.turn(t, "sí")
	if reply.State != flow.Confirmed || env.Rules.calls() != 0 {
		t.Fatalf("reply %+v", reply)
	}
}

// No sequence of turns reaches the Rule Store unless the draft was awaiting
// confirmation and the turn was classified as yes.
func TestConfirmationSafety(t *testing.T) {
	messages := []string{
		scenarioA, "diaria", "semanal", "sí", "no", "ok", "hmm", "para beta.com",
		"crea la alerta para acme.es", "cancelar", "'Otra alerta'", "riesgo alto", "confirmo",
		"cada hora", "sin cooldown", "a soc@beta.com",
	}
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		env := newTestEnv(t)
		for i := 0; i < 12; i++ {
			msg := messages[rng.Intn(len(messages))]
			before, ok, _ := env.Drafts.Get(env.Ctx, "s1")
			calls := env.Rules.calls()
			env.turn(t, msg)
			if env.Rules.calls() > calls {
				if !ok || !before.AwaitingConfirmation() || confirm.Classify(msg) != confirm.Yes {
					t.Fatalf("run %d turn %d: %q persisted from state %s", run, i, msg, before.State)
				}
			}
		}
	}
}

func intPtr(v int) *int { return &v }
