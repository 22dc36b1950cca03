// Package engine runs one conversation turn: extract, merge, ask, validate,
// confirm and persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertline/internal/confirm"
	"alertline/internal/domain"
	"alertline/internal/draft"
	"alertline/internal/dsl"
	"alertline/internal/extract"
	"alertline/internal/flow"
	"alertline/internal/metrics"
	"alertline/internal/resolver"
	"alertline/internal/scope"
)

// RuleStore persists confirmed rules.
type RuleStore interface {
	CreateRule(ctx context.Context, userID string, rule domain.RuleDSL) (string, error)
	ReplaceTargets(ctx context.Context, ruleID string, domainIDs []string) error
	CreateScheduleJob(ctx context.Context, userID, ruleID string, schedule domain.Schedule) (string, error)
}

type Engine struct {
	Drafts    draft.Store
	Scope     scope.Resolver
	Rules     RuleStore
	Validator dsl.Validator
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Reply is the outcome of a turn. Error is set for failed turns; Message is
// always user-presentable.
type Reply struct {
	Message string      `json:"message"`
	RuleID  string      `json:"rule_id,omitempty"`
	State   flow.State  `json:"state"`
	Error   *ReplyError `json:"error,omitempty"`
}

const (
	createdMessage = "Alerta creada (rule_id=%s). Te avisaré según la configuración."
	busyMessage    = "Ya estoy creando esta alerta. Espera un momento."
)

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ProcessTurn never returns an error or panics: every failure is folded
// into the reply.
func (e Engine) ProcessTurn(ctx context.Context, userID, sessionID, message string) (reply Reply) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.log().ErrorContext(ctx, "turn panicked", slog.String("session_id", sessionID), slog.Any("panic", r))
			e.releaseConfirmation(ctx, userID, sessionID)
			reply = errorReply(fmt.Errorf("internal error: %v", r))
		}
		e.Metrics.ObserveTurn(outcome(reply), e.now().Sub(start))
	}()

	reply, err := e.turn(ctx, userID, sessionID, message)
	if err != nil {
		state := reply.State
		reply = errorReply(err)
		reply.State = state
		if reply.Error.Code == CodeToolException {
			e.log().ErrorContext(ctx, "turn failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
	}
	return reply
}

// Draft returns the caller's draft for a session.
func (e Engine) Draft(ctx context.Context, userID, sessionID string) (draft.Draft, error) {
	d, ok, err := e.Drafts.Get(ctx, sessionID)
	if err != nil {
		return draft.Draft{}, err
	}
	if !ok {
		return draft.Draft{}, ErrNoDraft
	}
	if d.OwnerID != userID {
		return draft.Draft{}, OwnershipError{SessionID: sessionID}
	}
	return d, nil
}

func (e Engine) turn(ctx context.Context, userID, sessionID, message string) (Reply, error) {
	if userID == "" || sessionID == "" {
		return Reply{}, ErrInvalidRequest
	}
	d, ok, err := e.Drafts.Get(ctx, sessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("load draft: %w", err)
	}
	if ok && d.OwnerID != userID {
		return Reply{}, OwnershipError{SessionID: sessionID}
	}
	e.log().DebugContext(ctx, "turn", slog.String("session_id", sessionID), slog.String("user_id", userID), slog.String("state", string(d.State)))

	switch {
	case ok && d.AwaitingConfirmation():
		return e.gate(ctx, userID, sessionID, d, message)
	case ok && d.Confirmed():
		return Reply{Message: busyMessage, State: flow.Confirmed}, nil
	}
	from := flow.Empty
	if ok {
		from = d.State
	}
	return e.collect(ctx, userID, sessionID, from, message)
}

// collect merges the message into the draft and either asks for the next
// missing field or moves a complete draft to confirmation.
func (e Engine) collect(ctx context.Context, userID, sessionID string, from flow.State, message string) (Reply, error) {
	state, _, err := flow.Transition(from, flow.EventPatch)
	if err != nil {
		return Reply{}, err
	}
	d, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{Fields: extract.Extract(message), State: state})
	if err != nil {
		return Reply{}, err
	}

	if missing := resolver.Missing(d.Fields); len(missing) > 0 {
		if state, _, err = flow.Transition(state, flow.EventFieldsMissing); err != nil {
			return Reply{}, err
		}
		pending := resolver.Pending(missing)
		if _, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{
			State: state, PendingFields: pending, LastQuestionField: pending[0],
		}); err != nil {
			return Reply{}, err
		}
		return Reply{Message: resolver.Question(d.Fields, missing), State: state}, nil
	}

	if state, _, err = flow.Transition(state, flow.EventFieldsComplete); err != nil {
		return Reply{}, err
	}
	res := e.Validator.Validate(userID, d.Fields)
	if !res.Valid {
		if state, _, err = flow.Transition(state, flow.EventValidationFailed); err != nil {
			return Reply{}, err
		}
		if _, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{State: state}); err != nil {
			return Reply{}, err
		}
		return Reply{State: state}, ValidationError{Issues: res.Issues}
	}
	if state, _, err = flow.Transition(state, flow.EventValidationPassed); err != nil {
		return Reply{}, err
	}
	if _, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{State: state, PendingFields: []string{}}); err != nil {
		return Reply{}, err
	}
	return Reply{Message: confirm.Summary(d.Fields, res.Reason), State: state}, nil
}

// gate handles a reply to the confirmation summary.
func (e Engine) gate(ctx context.Context, userID, sessionID string, d draft.Draft, message string) (Reply, error) {
	switch confirm.Classify(message) {
	case confirm.Yes:
		state, _, err := flow.Transition(d.State, flow.EventYes)
		if err != nil {
			return Reply{}, err
		}
		snap, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{State: state, ExpectState: flow.AwaitingConfirmation})
		if errors.Is(err, draft.ErrStateConflict) {
			return Reply{Message: busyMessage, State: flow.Confirmed}, nil
		}
		if err != nil {
			return Reply{}, err
		}
		return e.commit(ctx, userID, sessionID, snap)

	case confirm.No:
		state, _, err := flow.Transition(d.State, flow.EventNo)
		if err != nil {
			return Reply{}, err
		}
		if err := e.Drafts.Clear(ctx, sessionID); err != nil {
			return Reply{}, err
		}
		return Reply{Message: confirm.CancelledMessage, State: state}, nil
	}

	patch := extract.Extract(message)
	if patch.Empty() {
		return Reply{Message: confirm.RepromptMessage, State: d.State}, nil
	}
	state, _, err := flow.Transition(d.State, flow.EventCorrection)
	if err != nil {
		return Reply{}, err
	}
	updated, err := e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{Fields: patch, State: state})
	if err != nil {
		return Reply{}, err
	}
	res := e.Validator.Validate(userID, updated.Fields)
	return Reply{Message: confirm.Summary(updated.Fields, res.Reason), State: state}, nil
}

// commit runs the persistence pipeline on a confirmed snapshot. Directory
// and Rule Store calls happen here, outside any store lock.
func (e Engine) commit(ctx context.Context, userID, sessionID string, snap draft.Draft) (Reply, error) {
	state := snap.State

	res := e.Validator.Validate(userID, snap.Fields)
	if !res.Valid {
		next, err := e.move(ctx, userID, sessionID, state, flow.EventValidationFailed, draft.Patch{})
		if err != nil {
			return Reply{}, err
		}
		return Reply{State: next}, ValidationError{Issues: res.Issues}
	}
	rule := *res.Normalized

	resolution, err := e.Scope.Resolve(ctx, userID, rule.Scope)
	if err != nil {
		next, merr := e.move(ctx, userID, sessionID, state, flow.EventPersistFailed, draft.Patch{})
		if merr != nil {
			return Reply{}, merr
		}
		return Reply{State: next}, PersistenceError{Stage: "scope", Err: err}
	}
	if !resolution.Resolved() {
		next, err := e.move(ctx, userID, sessionID, state, flow.EventScopeUnresolved, draft.Patch{
			PendingFields: []string{resolver.FieldScope}, LastQuestionField: resolver.FieldScope,
		})
		if err != nil {
			return Reply{}, err
		}
		return Reply{State: next}, UnresolvedScopeError{Missing: resolution.MissingDomains}
	}
	if state, _, err = flow.Transition(state, flow.EventScopeResolved); err != nil {
		return Reply{}, err
	}
	rule.Scope.DomainIDs = resolution.DomainIDs

	ruleID, err := e.Rules.CreateRule(ctx, userID, rule)
	if err != nil {
		next, merr := e.move(ctx, userID, sessionID, state, flow.EventPersistFailed, draft.Patch{})
		if merr != nil {
			return Reply{}, merr
		}
		return Reply{State: next}, PersistenceError{Stage: "rule", Err: err}
	}
	if err := e.Rules.ReplaceTargets(ctx, ruleID, resolution.DomainIDs); err != nil {
		return e.partial(ctx, sessionID, state, ruleID, "targets", err)
	}
	jobID, err := e.Rules.CreateScheduleJob(ctx, userID, ruleID, rule.Schedule)
	if err != nil {
		return e.partial(ctx, sessionID, state, ruleID, "schedule", err)
	}

	if state, _, err = flow.Transition(state, flow.EventPersisted); err != nil {
		return Reply{}, err
	}
	e.clear(ctx, sessionID)
	e.Metrics.RuleCreated()
	e.log().InfoContext(ctx, "rule created",
		slog.String("rule_id", ruleID), slog.Int("targets", len(resolution.DomainIDs)), slog.String("job_id", jobID))
	return Reply{Message: fmt.Sprintf(createdMessage, ruleID), RuleID: ruleID, State: state}, nil
}

// move applies a transition from a state the store holds as Confirmed and
// writes the resulting state.
func (e Engine) move(ctx context.Context, userID, sessionID string, from flow.State, ev flow.Event, p draft.Patch) (flow.State, error) {
	next, _, err := flow.Transition(from, ev)
	if err != nil {
		return from, err
	}
	p.State = next
	p.ExpectState = flow.Confirmed
	if _, err := e.Drafts.Upsert(ctx, sessionID, userID, p); err != nil {
		return next, err
	}
	return next, nil
}

// partial ends the session after the rule row was written but a later
// write failed. The draft is cleared so a retry cannot create a second rule.
func (e Engine) partial(ctx context.Context, sessionID string, state flow.State, ruleID, stage string, cause error) (Reply, error) {
	next, _, err := flow.Transition(state, flow.EventPartiallyPersisted)
	if err != nil {
		return Reply{}, err
	}
	e.log().ErrorContext(ctx, "partial persistence",
		slog.String("rule_id", ruleID), slog.String("stage", stage), slog.String("error", cause.Error()))
	e.Metrics.PartialPersistence(stage)
	e.clear(ctx, sessionID)
	return Reply{State: next, RuleID: ruleID}, PartialPersistenceError{RuleID: ruleID, Stage: stage, Err: cause}
}

func (e Engine) clear(ctx context.Context, sessionID string) {
	if err := e.Drafts.Clear(ctx, sessionID); err != nil {
		e.log().WarnContext(ctx, "clear draft", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

// releaseConfirmation puts a session left in Confirmed by a panic back in
// front of the user.
func (e Engine) releaseConfirmation(ctx context.Context, userID, sessionID string) {
	defer func() { _ = recover() }()
	if e.Drafts == nil || userID == "" || sessionID == "" {
		return
	}
	_, _ = e.Drafts.Upsert(ctx, sessionID, userID, draft.Patch{State: flow.AwaitingConfirmation, ExpectState: flow.Confirmed})
}

func outcome(r Reply) string {
	if r.Error != nil {
		switch r.Error.Code {
		case CodeValidationFailed:
			return metrics.OutcomeInvalid
		case CodeUnresolvedScope:
			return metrics.OutcomeUnscoped
		case CodePartialPersistence:
			return metrics.OutcomeCreated
		}
		return metrics.OutcomeError
	}
	switch r.State {
	case flow.Done:
		return metrics.OutcomeCreated
	case flow.Cancelled:
		return metrics.OutcomeCancelled
	case flow.AwaitingConfirmation:
		return metrics.OutcomeSummary
	}
	return metrics.OutcomeQuestion
}
