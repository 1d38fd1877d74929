package domain

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	states := []DraftState{StateDraft, StateInReview, StateAccepted, StateSigned, StateExported}
	actions := []DraftAction{ActionEnterReview, ActionAccept, ActionSign, ActionExport}

	allowed := map[DraftState]map[DraftAction]DraftState{
		StateDraft:    {ActionEnterReview: StateInReview},
		StateInReview: {ActionAccept: StateAccepted},
		StateAccepted: {ActionSign: StateSigned},
		StateSigned:   {ActionExport: StateExported},
		StateExported: {ActionExport: StateExported},
	}

	for _, from := range states {
		for _, action := range actions {
			next, err := Transition(from, action)
			want, ok := allowed[from][action]
			if ok {
				if err != nil {
					t.Fatalf("%s + %s: unexpected error %v", from, action, err)
				}
				if next != want {
					t.Fatalf("%s + %s: got %s, want %s", from, action, next, want)
				}
				continue
			}
			if err == nil {
				t.Fatalf("%s + %s: expected rejection, got %s", from, action, next)
			}
			var ste StateTransitionError
			if !errors.As(err, &ste) {
				t.Fatalf("%s + %s: expected StateTransitionError, got %T", from, action, err)
			}
			if ste.Code() != "INVALID_STATE_TRANSITION" {
				t.Fatalf("unexpected code %s", ste.Code())
			}
		}
	}
}

func TestMutability(t *testing.T) {
	for _, tc := range []struct {
		state   DraftState
		mutable bool
	}{
		{StateDraft, true},
		{StateInReview, true},
		{StateAccepted, false},
		{StateSigned, false},
		{StateExported, false},
	} {
		if got := tc.state.Mutable(); got != tc.mutable {
			t.Fatalf("%s: mutable=%v, want %v", tc.state, got, tc.mutable)
		}
	}
}

func TestValid(t *testing.T) {
	if !StateSigned.Valid() {
		t.Fatal("SIGNED should be valid")
	}
	if DraftState("BOGUS").Valid() {
		t.Fatal("unknown state should be invalid")
	}
}
