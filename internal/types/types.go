package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrNotInGame          ErrorCode = "not_in_game"
	ErrNotDay             ErrorCode = "not_day"
	ErrNotNight           ErrorCode = "not_night"
	ErrWrongPhase         ErrorCode = "wrong_phase"
	ErrWrongSubPhase      ErrorCode = "wrong_sub_phase"
	ErrNotRole            ErrorCode = "not_role"
	ErrActorDead          ErrorCode = "actor_dead"
	ErrTargetDead         ErrorCode = "target_dead"
	ErrTargetNotFound     ErrorCode = "target_not_found"
	ErrCaptainAlready     ErrorCode = "captain_already"
	ErrNoVictimTonight    ErrorCode = "no_victim_tonight"
	ErrNoLifePotion       ErrorCode = "no_life_potion"
	ErrNoDeathPotion      ErrorCode = "no_death_potion"
	ErrCannotProtectSelf  ErrorCode = "cannot_protect_self"
	ErrCannotProtectSame  ErrorCode = "cannot_protect_same"
	ErrCannotPoisonSelf   ErrorCode = "cannot_poison_self"
	ErrPowersLost         ErrorCode = "powers_lost"
	ErrMustTakeWolf       ErrorCode = "must_take_wolf"
	ErrInvalidChoice      ErrorCode = "invalid_choice"
	ErrBusy               ErrorCode = "busy"
	ErrStorageUnavailable ErrorCode = "storage_unavailable"
	ErrInternal           ErrorCode = "internal"
)

// AppError is the tagged-value error propagated across every façade
// boundary: precondition failures carry a code a presenter can surface
// directly, without the core ever throwing past its own components.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func WrapError(code ErrorCode, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

func Is(err error, code ErrorCode) bool {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code == code
	}
	return false
}

// CommandEnvelope is the Go-native shape of the intent envelope:
// {gameId, actor, channelHint?, verb, args, clientSeq?}.
type CommandEnvelope struct {
	CommandID      string          `json:"command_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	GameID         string          `json:"game_id"`
	Type           string          `json:"type"`
	ClientSeq      int64           `json:"client_seq"`
	ActorUserID    string          `json:"actor_user_id"`
	ChannelHint    string          `json:"channel_hint,omitempty"`
	Payload        json.RawMessage `json:"data"`
}

type Event struct {
	GameID            string          `json:"game_id"`
	Seq               int64           `json:"seq"`
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	ActorUserID       string          `json:"actor_user_id"`
	CausationCommand  string          `json:"causation_command_id"`
	Payload           json.RawMessage `json:"payload"`
	ServerTimestampMs int64           `json:"server_ts_ms"`
}

type CommandResult struct {
	CommandID      string `json:"command_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	AppliedSeqFrom int64  `json:"applied_seq_from"`
	AppliedSeqTo   int64  `json:"applied_seq_to"`
}

type ProjectedEvent struct {
	GameID      string          `json:"game_id"`
	Seq         int64           `json:"seq"`
	EventType   string          `json:"event_type"`
	ActorUserID string          `json:"actor_user_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	ServerTS    int64           `json:"server_ts"`
}

type Viewer struct {
	UserID string
	IsDM   bool
}
