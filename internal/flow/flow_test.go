package flow_test

import (
	"testing"

	"alertline/internal/flow"
)

func TestHappyPath(t *testing.T) {
	steps := []struct {
		event  flow.Event
		state  flow.State
		effect flow.Effect
	}{
		{flow.EventPatch, flow.Collecting, flow.EffectNone},
		{flow.EventFieldsMissing, flow.Collecting, flow.EffectAskQuestion},
		{flow.EventFieldsComplete, flow.Validating, flow.EffectValidate},
		{flow.EventValidationPassed, flow.AwaitingConfirmation, flow.EffectRenderSummary},
		{flow.EventCorrection, flow.AwaitingConfirmation, flow.EffectRenderSummary},
		{flow.EventYes, flow.Confirmed, flow.EffectCommit},
		{flow.EventScopeResolved, flow.Persisting, flow.EffectWrite},
		{flow.EventPersisted, flow.Done, flow.EffectClearDraft},
	}
	state := flow.Empty
	for _, s := range steps {
		next, effect, err := flow.Transition(state, s.event)
		if err != nil {
			t.Fatalf("%s + %s: %v", state, s.event, err)
		}
		if next != s.state || effect != s.effect {
			t.Fatalf("%s + %s = (%s, %s), want (%s, %s)", state, s.event, next, effect, s.state, s.effect)
		}
		state = next
	}
	if !state.Terminal() {
		t.Fatalf("expected terminal state, got %s", state)
	}
}

func TestCancel(t *testing.T) {
	next, effect, err := flow.Transition(flow.AwaitingConfirmation, flow.EventNo)
	if err != nil || next != flow.Cancelled || effect != flow.EffectClearDraft {
		t.Fatalf("got (%s, %s, %v)", next, effect, err)
	}
}

// Writes happen only after Confirmed, and Confirmed is only entered from
// AwaitingConfirmation on an explicit yes.
func TestWriteRequiresExplicitYes(t *testing.T) {
	for _, from := range flow.States() {
		for _, ev := range flow.Events() {
			next, effect, err := flow.Transition(from, ev)
			if err != nil {
				continue
			}
			if next == flow.Confirmed && (from != flow.AwaitingConfirmation || ev != flow.EventYes) {
				t.Fatalf("%s + %s reaches confirmed", from, ev)
			}
			if effect == flow.EffectWrite && from != flow.Confirmed {
				t.Fatalf("%s + %s writes without confirmation", from, ev)
			}
			if next == flow.Persisting && from != flow.Confirmed {
				t.Fatalf("%s + %s reaches persisting", from, ev)
			}
		}
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, from := range []flow.State{flow.Done, flow.Cancelled} {
		for _, ev := range flow.Events() {
			if _, _, err := flow.Transition(from, ev); err == nil {
				t.Fatalf("%s accepted %s", from, ev)
			}
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	if _, _, err := flow.Transition(flow.Collecting, flow.EventYes); err == nil {
		t.Fatalf("expected error for yes while collecting")
	}
}
