package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// HandleCommand is the pure core of the Atomic Mutator: it validates an
// intent against the current Game and returns the events it produces,
// never mutating the Game itself (§4.5 step 3). The caller (the
// per-game actor) reduces the returned events into its working copy.
func HandleCommand(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase == PhaseEnded {
		return nil, nil, types.NewError(types.ErrWrongPhase, "game already ended")
	}
	game = game.Copy()
	events, result, err := dispatchCommand(game, cmd)
	if err != nil {
		return events, result, err
	}
	if link := channelLinkEvent(&game, cmd); link != nil {
		events = append([]types.Event{*link}, events...)
	}
	return events, result, err
}

// channelLinkEvent records a not-yet-seen secondary channel identifier
// against the game the first time a command carries one (§4.4): most
// commonly joinLobby, but any intent can introduce a new channel hint
// (village/wolves/witch/... all DM through the same command path).
func channelLinkEvent(game *Game, cmd types.CommandEnvelope) *types.Event {
	if cmd.ChannelHint == "" {
		return nil
	}
	for _, id := range game.ChannelIDs {
		if id == cmd.ChannelHint {
			return nil
		}
	}
	ev := newEvent(cmd, "channel.linked", map[string]string{"channel_id": cmd.ChannelHint})
	return &ev
}

func dispatchCommand(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	switch cmd.Type {
	case "join_lobby":
		return handleJoinLobby(game, cmd)
	case "leave_lobby":
		return handleLeaveLobby(game, cmd)
	case "start_game":
		return handleStartGame(game, cmd)
	case "captain.vote":
		return handleCaptainVote(game, cmd)
	case "day.vote":
		return handleDayVote(game, cmd)
	case "werewolf.kill":
		return handleWerewolfKill(game, cmd)
	case "seer.see":
		return handleSeerSee(game, cmd)
	case "witch.potion":
		return handleWitchPotion(game, cmd)
	case "hunter.shoot":
		return handleHunterShoot(game, cmd)
	case "cupid.love":
		return handleCupidLove(game, cmd)
	case "petite_fille.spy":
		return handlePetiteFilleSpy(game, cmd)
	case "salvateur.protect":
		return handleSalvateurProtect(game, cmd)
	case "thief.steal":
		return handleThiefSteal(game, cmd)
	case "force_skip_subphase":
		return handleForceSkipSubPhase(game, cmd)
	case "advance_phase":
		return handleAdvancePhase(game, cmd)
	case "force_end":
		return handleForceEnd(game, cmd)
	default:
		return nil, nil, types.NewError(types.ErrInternal, fmt.Sprintf("unknown command type: %s", cmd.Type))
	}
}

func decodePayload(raw json.RawMessage) map[string]string {
	var p map[string]string
	_ = json.Unmarshal(raw, &p)
	if p == nil {
		p = map[string]string{}
	}
	return p
}

func newEvent(cmd types.CommandEnvelope, eventType string, payload map[string]string) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{
		GameID:            cmd.GameID,
		Seq:               0,
		EventID:           uuid.NewString(),
		EventType:         eventType,
		ActorUserID:       cmd.ActorUserID,
		CausationCommand:  cmd.CommandID,
		Payload:           b,
		ServerTimestampMs: time.Now().UnixMilli(),
	}
}

func acceptedResult(commandID string) *types.CommandResult {
	return &types.CommandResult{CommandID: commandID, Status: "accepted"}
}

// --- lobby ---

func handleJoinLobby(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase != PhaseLobby {
		return nil, nil, types.NewError(types.ErrWrongPhase, "cannot join after game started")
	}
	if _, exists := game.Players[cmd.ActorUserID]; exists {
		return nil, nil, types.NewError(types.ErrInternal, "player already joined")
	}
	payload := decodePayload(cmd.Payload)
	name := payload["username"]
	if name == "" {
		name = fmt.Sprintf("player-%d", len(game.Players)+1)
	}
	ev := newEvent(cmd, "player.joined", map[string]string{
		"username":    name,
		"seat_number": fmt.Sprintf("%d", len(game.Players)+1),
	})
	return []types.Event{ev, newEvent(cmd, "lobby.updated", nil)}, acceptedResult(cmd.CommandID), nil
}

func handleLeaveLobby(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase != PhaseLobby {
		return nil, nil, types.NewError(types.ErrWrongPhase, "cannot leave after game started")
	}
	if _, exists := game.Players[cmd.ActorUserID]; !exists {
		return nil, nil, types.NewError(types.ErrNotInGame, "player not in game")
	}
	return []types.Event{newEvent(cmd, "player.left", nil), newEvent(cmd, "lobby.updated", nil)}, acceptedResult(cmd.CommandID), nil
}

// handleStartGame implements `startGame(gameId, rolePool[])`: rolePool
// size must equal player count, or player count plus 2 when a Thief is
// in the pool (the two left-over roles become the Thief's extra-role
// offer, §3 `thiefExtraRoles`). Roles are shuffled with a deterministic
// seed (§6).
func handleStartGame(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase != PhaseLobby {
		return nil, nil, types.NewError(types.ErrWrongPhase, "cannot start game outside lobby")
	}
	playerCount := len(game.PlayerOrder)
	if playerCount < game.Rules.MinPlayers {
		return nil, nil, types.NewError(types.ErrInternal, fmt.Sprintf("need at least %d players, have %d", game.Rules.MinPlayers, playerCount))
	}
	if playerCount > game.Rules.MaxPlayers {
		return nil, nil, types.NewError(types.ErrInternal, fmt.Sprintf("too many players, max %d, have %d", game.Rules.MaxPlayers, playerCount))
	}

	var payload struct {
		RolePool []string `json:"role_pool"`
	}
	_ = json.Unmarshal(cmd.Payload, &payload)
	hasThief := false
	for _, r := range payload.RolePool {
		if r == RoleThief {
			hasThief = true
			break
		}
	}
	wantSize := playerCount
	if hasThief {
		wantSize = playerCount + 2
	}
	if len(payload.RolePool) != wantSize {
		return nil, nil, types.NewError(types.ErrInternal, fmt.Sprintf("role pool size %d must equal %d", len(payload.RolePool), wantSize))
	}

	assignment, extraRoles := AssignRoles(game.GameID, game.PlayerOrder, payload.RolePool)

	events := []types.Event{newEvent(cmd, "game.started", map[string]string{
		"started_at": fmt.Sprintf("%d", time.Now().UnixMilli()),
	})}
	for uid, role := range assignment {
		events = append(events, newEvent(cmd, "role.assigned", map[string]string{
			"user_id": uid,
			"role":    role,
		}))
	}
	if len(extraRoles) == 2 {
		events = append(events, newEvent(cmd, "thief.offer.set", map[string]string{
			"role_a": extraRoles[0],
			"role_b": extraRoles[1],
		}))
	}

	sim := simulate(&game, events)
	events = append(events, armSubPhaseTimer(cmd, game.Config, firstActionableNightSubPhase(&sim, 1))...)
	return events, acceptedResult(cmd.CommandID), nil
}

// firstActionableNightSubPhase walks the night sub-phase order from the
// start (unlike advanceNight, which walks forward from the phase
// currently in progress) and returns the first sub-phase that
// subPhaseActionable does not auto-skip: a role-gated sub-phase needs a
// living bearer, while an announcement sub-phase (e.g. lovers_reveal) is
// kept unless skipFakePhases is set. A Cupid-less or Thief-less game thus
// doesn't stall on a sub-phase nobody can act in until its AFK timer
// lapses (§4.6).
func firstActionableNightSubPhase(game *Game, night int) SubPhase {
	order := nightSubPhaseOrder(night)
	for _, sp := range order {
		if sp == SubPhaseReveil {
			break
		}
		if subPhaseActionable(game, sp) {
			return sp
		}
	}
	return SubPhaseReveil
}

// --- votes ---

func handleCaptainVote(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.DayCount != 1 || game.SubPhase != SubPhaseVoteCapitaine {
		return nil, nil, types.NewError(types.ErrWrongSubPhase, "captain vote only open on day 1")
	}
	if !game.isAlive(cmd.ActorUserID) {
		return nil, nil, types.NewError(types.ErrActorDead, "actor is dead")
	}
	payload := decodePayload(cmd.Payload)
	candidate := payload["candidate"]
	if candidate != "" {
		if !game.isAlive(candidate) {
			return nil, nil, types.NewError(types.ErrTargetDead, "candidate is not alive")
		}
	}

	events := []types.Event{newEvent(cmd, "captain.vote.cast", map[string]string{"candidate": candidate})}

	votes := game.CaptainVotes
	votes[cmd.ActorUserID] = Vote{Voter: cmd.ActorUserID, Candidate: candidate, Weight: 1}
	if allAliveVoted(&game, votes) {
		winner, wasTie := resolveTally(game.GameID, 0, votes)
		if winner != "" {
			events = append(events, newEvent(cmd, "captain.elected", map[string]string{
				"captain_id": winner,
				"was_tie":    fmt.Sprintf("%t", wasTie),
			}))
		}
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func handleDayVote(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase != PhaseDay || game.SubPhase != SubPhaseVote {
		return nil, nil, types.NewError(types.ErrWrongSubPhase, "not in voting phase")
	}
	if _, voted := game.Votes[cmd.ActorUserID]; voted {
		return nil, nil, types.NewError(types.ErrInternal, "already voted this round")
	}
	payload := decodePayload(cmd.Payload)
	candidate := payload["candidate"]
	if candidate == "" || !game.isAlive(candidate) {
		return nil, nil, types.NewError(types.ErrTargetNotFound, "candidate not found or dead")
	}
	weight := game.voteWeight(cmd.ActorUserID)

	events := []types.Event{newEvent(cmd, "vote.cast", map[string]string{
		"candidate": candidate,
		"round":     fmt.Sprintf("%d", game.CurrentRound),
		"weight":    fmt.Sprintf("%d", weight),
	})}

	votes := game.Votes
	votes[cmd.ActorUserID] = Vote{Voter: cmd.ActorUserID, Candidate: candidate, Round: game.CurrentRound, Weight: weight}
	if allAliveVoted(&game, votes) {
		events = append(events, resolveDayVote(&game, cmd, votes)...)
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func allAliveVoted(game *Game, votes map[string]Vote) bool {
	for _, uid := range game.PlayerOrder {
		if !game.isAlive(uid) {
			continue
		}
		if _, ok := votes[uid]; !ok {
			return false
		}
	}
	return true
}

func resolveDayVote(game *Game, cmd types.CommandEnvelope, votes map[string]Vote) []types.Event {
	winner, wasTie := resolveTally(game.GameID, game.CurrentRound, votes)
	totals := tally(votes)
	tallyJSON, _ := json.Marshal(totals)
	events := []types.Event{newEvent(cmd, "vote.completed", map[string]string{
		"winner_id": winner,
		"was_tie":   fmt.Sprintf("%t", wasTie),
		"tally":     string(tallyJSON),
	})}
	if winner == "" {
		return events
	}

	// Idiot lynch-override (§4.7): reveal, keep alive, strip future weight.
	if p, ok := game.Players[winner]; ok && p.Role == RoleIdiot {
		events = append(events, newEvent(cmd, "player.idiot_revealed", map[string]string{"user_id": winner}))
		return events
	}

	events = append(events, newEvent(cmd, "player.killed", map[string]string{
		"user_id": winner,
		"cause":   "execution",
	}))

	// Ancien eliminated by village vote strips village powers (§4.7).
	if p, ok := game.Players[winner]; ok && p.Role == RoleAncien {
		events = append(events, newEvent(cmd, "village.powerless", nil))
	}

	events = append(events, lynchLoverChainEvents(game, cmd, winner)...)

	sim := simulate(game, events)
	if gameWinner, reason, ended := checkWinCondition(&sim); ended {
		return append(events, newEvent(cmd, "game.ended", map[string]string{"winner": gameWinner, "reason": reason}))
	}

	// A Hunter killed by day-vote lynch opens HUNTER_SHOOT the same way
	// a Hunter killed by wolves does (§4.7): the interrupted phase can't
	// resume until the shot resolves.
	if hunterID := huntersKilledBy(game, events); hunterID != "" {
		events = append(events, armSubPhaseTimer(cmd, game.Config, SubPhaseHunterShoot)...)
	}
	return events
}

// lynchLoverChainEvents applies the lovers-chain rule (§4.9 step 7) to a
// death by any cause, not only night resolution: if the dead player is
// in lovers, the partner dies too.
func lynchLoverChainEvents(game *Game, cmd types.CommandEnvelope, deadID string) []types.Event {
	if len(game.Lovers) != 2 {
		return nil
	}
	var partner string
	if game.Lovers[0] == deadID {
		partner = game.Lovers[1]
	} else if game.Lovers[1] == deadID {
		partner = game.Lovers[0]
	}
	if partner == "" || !game.isAlive(partner) {
		return nil
	}
	return []types.Event{newEvent(cmd, "player.killed", map[string]string{
		"user_id": partner,
		"cause":   "lovers_chain",
	})}
}
