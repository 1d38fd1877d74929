package domain

import "fmt"

// DraftState is a closed, strictly forward-moving enum. No code path may set
// a draft backward.
type DraftState string

const (
	StateDraft    DraftState = "DRAFT"
	StateInReview DraftState = "IN_REVIEW"
	StateAccepted DraftState = "ACCEPTED"
	StateSigned   DraftState = "SIGNED"
	StateExported DraftState = "EXPORTED"
)

// DraftAction names a lifecycle operation that may move a draft forward.
type DraftAction string

const (
	ActionEnterReview DraftAction = "enter_review"
	ActionAccept      DraftAction = "accept"
	ActionSign        DraftAction = "sign"
	ActionExport      DraftAction = "export"

	// Content actions. They never change state but are rejected with the same
	// error once the draft is no longer mutable.
	ActionEditItem   DraftAction = "edit_item"
	ActionMergeItems DraftAction = "merge_items"
)

// StateTransitionError reports an action that is illegal for the current
// state. Recoverable: the caller can inspect the current state and retry the
// right action.
type StateTransitionError struct {
	From   DraftState
	Action DraftAction
}

func (e StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s from %s", e.Action, e.From)
}

func (e StateTransitionError) Code() string { return "INVALID_STATE_TRANSITION" }

// Valid reports whether s is a known draft state.
func (s DraftState) Valid() bool {
	switch s {
	case StateDraft, StateInReview, StateAccepted, StateSigned, StateExported:
		return true
	}
	return false
}

// Terminal reports whether the draft content is frozen. Signed and exported
// drafts reject every write path.
func (s DraftState) Terminal() bool {
	return s == StateSigned || s == StateExported
}

// Mutable reports whether draft items may still be edited or merged.
func (s DraftState) Mutable() bool {
	return s == StateDraft || s == StateInReview
}

// Transition is the single authority for the draft state machine. Every
// other transition is rejected.
func Transition(current DraftState, action DraftAction) (DraftState, error) {
	switch action {
	case ActionEnterReview:
		if current == StateDraft {
			return StateInReview, nil
		}
	case ActionAccept:
		if current == StateInReview {
			return StateAccepted, nil
		}
	case ActionSign:
		if current == StateAccepted {
			return StateSigned, nil
		}
	case ActionExport:
		// Exporting a signed draft moves it to EXPORTED; re-export keeps it there.
		if current == StateSigned || current == StateExported {
			return StateExported, nil
		}
	}
	return current, StateTransitionError{From: current, Action: action}
}
