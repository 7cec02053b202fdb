package moderation

import "time"

// MaxTimeout is the longest timeout Discord accepts.
const MaxTimeout = 28 * 24 * time.Hour

// Kind describes how one sanction behaves across the ledger, the executor
// and the reconciler.
type Kind struct {
	Action        Action
	Label         string
	ReversalLabel string
	ExpiredLabel  string
	// Timed kinds may carry an expiry.
	Timed bool
	// RequiresExpiry kinds are rejected without one.
	RequiresExpiry bool
	MaxDuration    time.Duration
	// Stacks means the platform state is shared by all outstanding events of
	// the kind, so reversal waits until none remain.
	Stacks     bool
	Reversible bool
	// NotifyBeforeApply is set when the user loses the shared guild as soon
	// as the sanction lands and a DM afterwards would not reach them.
	NotifyBeforeApply bool
	Verb              string
}

var Kinds = map[Action]Kind{
	ActionWarn: {
		Action: ActionWarn,
		Label:  "Warn",
		Verb:   "warned",
	},
	ActionMute: {
		Action:        ActionMute,
		Label:         "Mute",
		ReversalLabel: "Unmute",
		ExpiredLabel:  "Mute Expired",
		Timed:         true,
		Stacks:        true,
		Reversible:    true,
		Verb:          "muted",
	},
	ActionKick: {
		Action:            ActionKick,
		Label:             "Kick",
		NotifyBeforeApply: true,
		Verb:              "kicked",
	},
	ActionBan: {
		Action:            ActionBan,
		Label:             "Ban",
		ReversalLabel:     "Unban",
		ExpiredLabel:      "Ban Expired",
		Timed:             true,
		Stacks:            true,
		Reversible:        true,
		NotifyBeforeApply: true,
		Verb:              "banned",
	},
	ActionTimeout: {
		Action:         ActionTimeout,
		Label:          "Timeout",
		ReversalLabel:  "Timeout Revoked",
		ExpiredLabel:   "Timeout Expired",
		Timed:          true,
		RequiresExpiry: true,
		MaxDuration:    MaxTimeout,
		Reversible:     true,
		Verb:           "timed out",
	},
}

func LookupKind(action Action) (Kind, error) {
	kind, ok := Kinds[action]
	if !ok {
		return Kind{}, ErrUnknownAction
	}
	return kind, nil
}
