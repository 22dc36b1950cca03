// Package flow is the rule-drafting state machine. Transition is pure: it
// maps a state and an event to the next state and the side effect the
// caller has to perform.
package flow

import "fmt"

type State string

const (
	Empty                State = "empty"
	Collecting           State = "collecting"
	Validating           State = "validating"
	AwaitingConfirmation State = "awaiting_confirmation"
	Confirmed            State = "confirmed"
	Persisting           State = "persisting"
	Done                 State = "done"
	Cancelled            State = "cancelled"
)

// Terminal states end the session; the draft is cleared on entry.
func (s State) Terminal() bool {
	return s == Done || s == Cancelled
}

type Event string

const (
	EventPatch              Event = "patch"
	EventFieldsMissing      Event = "fields_missing"
	EventFieldsComplete     Event = "fields_complete"
	EventValidationFailed   Event = "validation_failed"
	EventValidationPassed   Event = "validation_passed"
	EventYes                Event = "yes"
	EventNo                 Event = "no"
	EventCorrection         Event = "correction"
	EventScopeUnresolved    Event = "scope_unresolved"
	EventScopeResolved      Event = "scope_resolved"
	EventPersistFailed      Event = "persist_failed"
	EventPartiallyPersisted Event = "partially_persisted"
	EventPersisted          Event = "persisted"
)

type Effect string

const (
	EffectNone               Effect = "none"
	EffectAskQuestion        Effect = "ask_question"
	EffectValidate           Effect = "validate"
	EffectReportIssues       Effect = "report_issues"
	EffectRenderSummary      Effect = "render_summary"
	EffectCommit             Effect = "commit"
	EffectClearDraft         Effect = "clear_draft"
	EffectAskScopeCorrection Effect = "ask_scope_correction"
	EffectWrite              Effect = "write"
	EffectReportFailure      Effect = "report_failure"
)

type key struct {
	from  State
	event Event
}

type step struct {
	to     State
	effect Effect
}

var transitions = map[key]step{
	{Empty, EventPatch}:                     {Collecting, EffectNone},
	{Collecting, EventPatch}:                {Collecting, EffectNone},
	{Empty, EventFieldsMissing}:             {Collecting, EffectAskQuestion},
	{Collecting, EventFieldsMissing}:        {Collecting, EffectAskQuestion},
	{Empty, EventFieldsComplete}:            {Validating, EffectValidate},
	{Collecting, EventFieldsComplete}:       {Validating, EffectValidate},
	{Validating, EventValidationFailed}:     {Collecting, EffectReportIssues},
	{Validating, EventValidationPassed}:     {AwaitingConfirmation, EffectRenderSummary},
	{AwaitingConfirmation, EventCorrection}: {AwaitingConfirmation, EffectRenderSummary},
	{AwaitingConfirmation, EventYes}:        {Confirmed, EffectCommit},
	{AwaitingConfirmation, EventNo}:         {Cancelled, EffectClearDraft},
	{Confirmed, EventValidationFailed}:      {Collecting, EffectReportIssues},
	{Confirmed, EventScopeUnresolved}:       {Collecting, EffectAskScopeCorrection},
	{Confirmed, EventPersistFailed}:         {AwaitingConfirmation, EffectReportFailure},
	{Confirmed, EventScopeResolved}:         {Persisting, EffectWrite},
	{Persisting, EventPersistFailed}:        {AwaitingConfirmation, EffectReportFailure},
	{Persisting, EventPartiallyPersisted}:   {Done, EffectClearDraft},
	{Persisting, EventPersisted}:            {Done, EffectClearDraft},
}

// Transition returns the next state and effect, or an error when the event
// is not accepted in the given state.
func Transition(from State, event Event) (State, Effect, error) {
	s, ok := transitions[key{from, event}]
	if !ok {
		return from, EffectNone, fmt.Errorf("invalid transition %s --%s-->", from, event)
	}
	return s.to, s.effect, nil
}

// States lists every state, in declaration order.
func States() []State {
	return []State{Empty, Collecting, Validating, AwaitingConfirmation, Confirmed, Persisting, Done, Cancelled}
}

// Events lists every event, in declaration order.
func Events() []Event {
	return []Event{
		EventPatch, EventFieldsMissing, EventFieldsComplete, EventValidationFailed, EventValidationPassed,
		EventYes, EventNo, EventCorrection, EventScopeUnresolved, EventScopeResolved,
		EventPersistFailed, EventPartiallyPersisted, EventPersisted,
	}
}
