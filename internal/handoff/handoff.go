// Package handoff decides whether the assistant may answer a conversation turn.
//
// A conversation is either AI_ACTIVE or HUMAN_OVERRIDE, stored as the ai_active
// flag. The admin flips it explicitly, and an admin message stores it as
// HUMAN_OVERRIDE in the same write, so once the admin speaks the assistant
// stays quiet until the admin hands the conversation back. On top of the flag,
// the assistant only answers when the newest message was written by the visitor.
package handoff

import "portfoliochat/internal/models"

// State is the handoff state of one conversation.
type State string

const (
	AIActive      State = "AI_ACTIVE"
	HumanOverride State = "HUMAN_OVERRIDE"
)

// StateOf maps the persisted flag onto a state.
func StateOf(aiActive bool) State {
	if aiActive {
		return AIActive
	}
	return HumanOverride
}

// Flag maps a state back onto the persisted flag.
func (s State) Flag() bool {
	return s != HumanOverride
}

// Toggle returns the opposite state.
func (s State) Toggle() State {
	if s == HumanOverride {
		return AIActive
	}
	return HumanOverride
}

// Reason explains a Decision.
type Reason string

const (
	ReasonRespond        Reason = "respond"
	ReasonAIDisabled     Reason = "ai_disabled"
	ReasonAdminPreempted Reason = "admin_preempted"
	ReasonNoUserTurn     Reason = "no_user_turn"
)

// Decision is the outcome of Decide.
type Decision struct {
	Respond bool   `json:"respond"`
	State   State  `json:"state"`
	Reason  Reason `json:"reason"`
}

// Decide applies the handoff rule. conv may be nil for a conversation that has
// not been written yet, which is AI_ACTIVE by default.
func Decide(conv *models.Conversation, last *models.Message) Decision {
	state := AIActive
	if conv != nil {
		state = StateOf(conv.AIActive)
	}
	d := Decision{State: state}
	switch {
	case state == HumanOverride:
		d.Reason = ReasonAIDisabled
	case last == nil:
		d.Reason = ReasonNoUserTurn
	case last.Role == models.RoleAdmin:
		d.Reason = ReasonAdminPreempted
	case last.Role != models.RoleUser:
		d.Reason = ReasonNoUserTurn
	default:
		d.Respond = true
		d.Reason = ReasonRespond
	}
	return d
}
