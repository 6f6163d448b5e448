package gamerun

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/eventbus"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// Engine is the programmatic façade of §6: the one surface a
// presentation adapter (Discord bot, web dashboard, test harness) is
// meant to import. It does nothing a caller couldn't do directly
// against a Registry, but it pins down the exact entry-point names and
// signatures spec.md's External Interfaces section lists, so "submit an
// intent" and "read a snapshot" have one obvious home.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

func marshalArgs(args map[string]string) json.RawMessage {
	if args == nil {
		args = map[string]string{}
	}
	b, _ := json.Marshal(args)
	return b
}

// CreateGame implements `createGame(gameId, rules, guildId)`.
func (e *Engine) CreateGame(ctx context.Context, gameID, guildID string, rules engine.Rules, cfg engine.GameConfig) error {
	_, err := e.registry.CreateGame(ctx, gameID, guildID, rules, cfg)
	return err
}

// JoinLobby implements `joinLobby(gameId, user)`. channelHint, when
// non-empty, links a secondary channel id (village/wolves/witch/...)
// to gameID (§4.4); pass "" when the caller has no channel to link.
func (e *Engine) JoinLobby(gameID, userID, username, channelHint string) (*types.CommandResult, error) {
	return e.submit(gameID, userID, "join_lobby", map[string]string{"username": username}, channelHint)
}

// LeaveLobby implements `leaveLobby(gameId, userId)`.
func (e *Engine) LeaveLobby(gameID, userID string) (*types.CommandResult, error) {
	return e.submit(gameID, userID, "leave_lobby", nil, "")
}

// StartGame implements `startGame(gameId, rolePool[])`: rolePool size
// must equal the lobby's player count, or the player count plus two
// when the pool holds a Thief (§6); validated inside the engine's
// handleStartGame, not here.
func (e *Engine) StartGame(gameID, actorID string, rolePool []string) (*types.CommandResult, error) {
	payload, _ := json.Marshal(map[string]interface{}{"role_pool": rolePool})
	return e.Submit(types.CommandEnvelope{
		CommandID:   uuid.NewString(),
		GameID:      gameID,
		Type:        "start_game",
		ActorUserID: actorID,
		Payload:     payload,
	})
}

// Submit implements `submit(intent)`: the one entry point every
// role-action verb, vote, and admin force-skip goes through (§4.7,
// §4.8, §6). The caller builds the CommandEnvelope directly when it
// needs the full intent envelope (ClientSeq, ChannelHint, ...); the
// convenience wrappers above cover the common lobby/start cases.
func (e *Engine) Submit(cmd types.CommandEnvelope) (*types.CommandResult, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	actor, err := e.registry.GetOrCreate(cmd.GameID, "")
	if err != nil {
		return nil, err
	}
	resp := actor.Dispatch(cmd)
	return resp.Result, resp.Err
}

func (e *Engine) submit(gameID, actorID, verb string, args map[string]string, channelHint string) (*types.CommandResult, error) {
	return e.Submit(types.CommandEnvelope{
		GameID:      gameID,
		Type:        verb,
		ActorUserID: actorID,
		ChannelHint: channelHint,
		Payload:     marshalArgs(args),
	})
}

// Snapshot implements `snapshot(gameId) -> view` (§4.3, §6): a
// read-only, per-viewer-redacted copy of the game's current committed
// state.
func (e *Engine) Snapshot(gameID string, viewer types.Viewer) (engine.Game, error) {
	return e.registry.Snapshot(gameID, viewer)
}

// FindByChannel implements `findByChannel(channelId) -> gameId` (§4.4,
// §6): resolves a village/wolves/witch/... channel id to the game it
// was linked to, for a presentation adapter that only knows which
// channel a message arrived on.
func (e *Engine) FindByChannel(channelID string) (string, bool) {
	return e.registry.FindByChannel(channelID)
}

// Subscribe implements `subscribe(eventFilter) -> stream` (§4.3, §6):
// eventFilter is carried by the Subscriber's Viewer (role-appropriate
// redaction) plus its own Send/Refresh callbacks. Send is called
// synchronously from the game actor's commit path, so a slow Send delays
// that game's next command; events are not buffered or dropped.
func (e *Engine) Subscribe(gameID, subscriberID string, sub *eventbus.Subscriber) error {
	return e.registry.Subscribe(gameID, subscriberID, sub)
}

func (e *Engine) Unsubscribe(gameID, subscriberID string) {
	e.registry.Unsubscribe(gameID, subscriberID)
}

// EndGame implements `endGame(gameId)` (admin): explicit teardown once
// presenters have flushed a completed game (§3 Lifecycle).
func (e *Engine) EndGame(ctx context.Context, gameID string) error {
	return e.registry.EndGame(ctx, gameID)
}

// ForceEnd implements `forceEnd(gameId)` (admin): ends the game
// immediately regardless of phase or win condition, then tears it down
// the same way EndGame does.
func (e *Engine) ForceEnd(ctx context.Context, gameID string) error {
	return e.registry.ForceEnd(ctx, gameID)
}
