package moderation

import "errors"

var (
	ErrStoreUnavailable     = errors.New("moderation store unavailable")
	ErrPlatformAction       = errors.New("platform action failed")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUserUnreachable      = errors.New("user unreachable")
	ErrEventNotFound        = errors.New("moderation event not found")
	ErrUnknownAction        = errors.New("unknown moderation action")
	ErrUnsupportedDuration  = errors.New("action does not support a duration")
	ErrDurationRequired     = errors.New("action requires a duration")
	ErrDurationTooLong      = errors.New("duration exceeds the maximum for this action")
	ErrInvalidDuration      = errors.New("duration must be positive")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrNotReversible        = errors.New("action cannot be reversed")
	ErrCommandsDisabled     = errors.New("moderation commands are disabled for this guild")
)
