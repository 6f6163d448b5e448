package engine

import (
	"encoding/json"
	"fmt"

	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// requireRole rejects the command unless the actor is alive and holds
// roleID, honoring villageRolesPowerless for village-aligned abilities
// (§4.6, §4.7).
func requireRole(game *Game, actorID, roleID string) error {
	p, ok := game.Players[actorID]
	if !ok {
		return types.NewError(types.ErrNotInGame, "actor not in game")
	}
	if !p.Alive {
		return types.NewError(types.ErrActorDead, "actor is dead")
	}
	if p.Role != roleID {
		return types.NewError(types.ErrNotRole, fmt.Sprintf("actor is not %s", roleID))
	}
	if r, ok := GetRole(roleID); ok && game.VillageRolesPowerless && r.Team == TeamVillage {
		return types.NewError(types.ErrPowersLost, "village roles are powerless")
	}
	return nil
}

func requireSubPhase(game *Game, sp SubPhase) error {
	if game.Phase != PhaseNight || game.SubPhase != sp {
		return types.NewError(types.ErrWrongSubPhase, fmt.Sprintf("expected night sub-phase %s", sp))
	}
	return nil
}

func decodeTargetPayload(raw json.RawMessage) (string, map[string]string) {
	p := decodePayload(raw)
	return p["target"], p
}

// handleWerewolfKill records one wolf's pack vote (§4.7 Werewolf.kill).
// The shared aligned pack agrees on a single victim via the same
// weighted-tally machinery as the day lynch (§4.8); when the configured
// threshold is reached, the victim is recorded as the night's candidate.
func handleWerewolfKill(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireSubPhase(&game, SubPhaseLoups); err != nil {
		return nil, nil, err
	}
	p, ok := game.Players[cmd.ActorUserID]
	if !ok || !p.Alive || !isWolfAligned(p.Role) {
		return nil, nil, types.NewError(types.ErrNotRole, "actor is not an alive wolf")
	}
	target, _ := decodeTargetPayload(cmd.Payload)
	if target == "" || !game.isAlive(target) {
		return nil, nil, types.NewError(types.ErrTargetNotFound, "target not found or dead")
	}
	if isWolfAligned(game.Players[target].Role) {
		return nil, nil, types.NewError(types.ErrInvalidChoice, "wolves cannot target another wolf")
	}

	events := []types.Event{newEvent(cmd, "wolf_vote.cast", map[string]string{"candidate": target})}

	votes := game.WolfVotes
	votes[cmd.ActorUserID] = Vote{Voter: cmd.ActorUserID, Candidate: target, Round: game.NightCount, Weight: 1}
	if winner, reached := game.wolfKillThreshold(); reached {
		events = append(events, newEvent(cmd, "night_victim.set", map[string]string{"target": winner}))
	}
	return events, acceptedResult(cmd.CommandID), nil
}

// handleSeerSee implements Seer.see: read-only, produces no event the
// other players observe (the result is returned only to the caller via
// CommandResult.Reason). It does record a night.action.recorded event,
// persisted like any other; the projection hides that event from
// non-DM viewers.
func handleSeerSee(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RoleSeer); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhaseVoyante); err != nil {
		return nil, nil, err
	}
	target, _ := decodeTargetPayload(cmd.Payload)
	tp, ok := game.Players[target]
	if !ok {
		return nil, nil, types.NewError(types.ErrTargetNotFound, "target not found")
	}
	result := acceptedResult(cmd.CommandID)
	result.Reason = tp.Role
	ev := newEvent(cmd, "night.action.recorded", map[string]string{
		"kind":   NightActionSee,
		"target": target,
		"day":    fmt.Sprintf("%d", game.NightCount),
	})
	return []types.Event{ev}, result, nil
}

// handlePetiteFilleSpy: read-only spy on the wolves' den, same shape as
// Seer.see: a night.action.recorded event that non-DM viewers never see.
func handlePetiteFilleSpy(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RolePetiteFille); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhasePetiteFille); err != nil {
		return nil, nil, err
	}
	wolves := game.aliveWolves()
	b, _ := json.Marshal(wolves)
	result := acceptedResult(cmd.CommandID)
	result.Reason = string(b)
	ev := newEvent(cmd, "night.action.recorded", map[string]string{
		"kind": NightActionSpy,
		"day":  fmt.Sprintf("%d", game.NightCount),
	})
	return []types.Event{ev}, result, nil
}

// handleWitchPotion implements Witch.potion(life|death): each potion may
// be used at most once per game (I5), and the witch may not poison
// herself (§4.7 edge case).
func handleWitchPotion(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RoleWitch); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhaseSorciere); err != nil {
		return nil, nil, err
	}
	payload := decodePayload(cmd.Payload)
	switch payload["potion"] {
	case "life":
		if !game.WitchPotions.Life {
			return nil, nil, types.NewError(types.ErrNoLifePotion, "life potion already used")
		}
		if game.NightVictim == "" {
			return nil, nil, types.NewError(types.ErrNoVictimTonight, "no victim to save")
		}
		return []types.Event{newEvent(cmd, "witch.save.used", nil)}, acceptedResult(cmd.CommandID), nil

	case "death":
		if !game.WitchPotions.Death {
			return nil, nil, types.NewError(types.ErrNoDeathPotion, "death potion already used")
		}
		target := payload["target"]
		if target == cmd.ActorUserID {
			return nil, nil, types.NewError(types.ErrCannotPoisonSelf, "witch cannot poison herself")
		}
		if !game.isAlive(target) {
			return nil, nil, types.NewError(types.ErrTargetDead, "target is not alive")
		}
		return []types.Event{newEvent(cmd, "witch.kill.set", map[string]string{"user_id": target})}, acceptedResult(cmd.CommandID), nil

	default:
		return nil, nil, types.NewError(types.ErrInvalidChoice, "potion must be life or death")
	}
}

// handleCupidLove implements Cupid.love: fires once, night 1 only,
// pairs two distinct players as lovers (P6).
func handleCupidLove(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RoleCupid); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhaseCupid); err != nil {
		return nil, nil, err
	}
	if len(game.Lovers) != 0 {
		return nil, nil, types.NewError(types.ErrInternal, "lovers already chosen")
	}
	payload := decodePayload(cmd.Payload)
	a, b := payload["a"], payload["b"]
	if a == "" || b == "" || a == b {
		return nil, nil, types.NewError(types.ErrInvalidChoice, "must choose two distinct players")
	}
	if !game.isAlive(a) || !game.isAlive(b) {
		return nil, nil, types.NewError(types.ErrTargetDead, "both lovers must be alive")
	}
	return []types.Event{newEvent(cmd, "lovers.set", map[string]string{"a": a, "b": b})}, acceptedResult(cmd.CommandID), nil
}

// handleSalvateurProtect implements Salvateur.protect: may not protect
// the same player on consecutive nights (I6), nor protect themself
// (§4.7 edge case).
func handleSalvateurProtect(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RoleSalvateur); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhaseSalvateur); err != nil {
		return nil, nil, err
	}
	target, _ := decodeTargetPayload(cmd.Payload)
	if target == cmd.ActorUserID {
		return nil, nil, types.NewError(types.ErrCannotProtectSelf, "salvateur cannot protect self")
	}
	if !game.isAlive(target) {
		return nil, nil, types.NewError(types.ErrTargetDead, "target is not alive")
	}
	if target == game.LastProtectedPlayerID {
		return nil, nil, types.NewError(types.ErrCannotProtectSame, "cannot protect the same player twice in a row")
	}
	return []types.Event{newEvent(cmd, "protected.set", map[string]string{"user_id": target})}, acceptedResult(cmd.CommandID), nil
}

// handleThiefSteal implements Voleur.steal: must take a wolf if either
// offered extra role is wolf-aligned (I per §4.7 "must take wolf" rule),
// fires at most once (P7).
func handleThiefSteal(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if err := requireRole(&game, cmd.ActorUserID, RoleThief); err != nil {
		return nil, nil, err
	}
	if err := requireSubPhase(&game, SubPhaseThief); err != nil {
		return nil, nil, err
	}
	if len(game.ThiefExtraRoles) != 2 {
		return nil, nil, types.NewError(types.ErrInternal, "no thief offer available")
	}
	p := game.Players[cmd.ActorUserID]
	if p.RoleChanged {
		return nil, nil, types.NewError(types.ErrInternal, "thief already acted")
	}
	payload := decodePayload(cmd.Payload)
	choice := payload["choice"] // "keep" or the chosen extra role
	hasWolf := isWolfAligned(game.ThiefExtraRoles[0]) || isWolfAligned(game.ThiefExtraRoles[1])

	if choice == "keep" {
		if hasWolf {
			return nil, nil, types.NewError(types.ErrMustTakeWolf, "must take the wolf role when offered")
		}
		return []types.Event{newEvent(cmd, "thief.offer.cleared", nil)}, acceptedResult(cmd.CommandID), nil
	}

	if choice != game.ThiefExtraRoles[0] && choice != game.ThiefExtraRoles[1] {
		return nil, nil, types.NewError(types.ErrInvalidChoice, "choice must be one of the offered roles")
	}
	events := []types.Event{
		newEvent(cmd, "player.role_changed", map[string]string{"user_id": cmd.ActorUserID, "new_role": choice}),
		newEvent(cmd, "thief.offer.cleared", nil),
	}
	return events, acceptedResult(cmd.CommandID), nil
}

// handleHunterShoot implements Chasseur.shoot: opened as a transient
// HUNTER_SHOOT sub-phase the instant a Hunter dies by any cause (§4.7),
// must resolve before the interrupted phase can resume.
func handleHunterShoot(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.SubPhase != SubPhaseHunterShoot {
		return nil, nil, types.NewError(types.ErrWrongSubPhase, "hunter shoot not open")
	}
	p, ok := game.Players[cmd.ActorUserID]
	if !ok || p.Role != RoleHunter {
		return nil, nil, types.NewError(types.ErrNotRole, "actor is not the hunter")
	}
	target, _ := decodeTargetPayload(cmd.Payload)
	if target == cmd.ActorUserID {
		return nil, nil, types.NewError(types.ErrInvalidChoice, "hunter cannot shoot self")
	}
	if !game.isAlive(target) {
		return nil, nil, types.NewError(types.ErrTargetDead, "target is not alive")
	}
	events := []types.Event{newEvent(cmd, "player.killed", map[string]string{
		"user_id": target,
		"cause":   "hunter_shoot",
	})}
	events = append(events, lynchLoverChainEvents(&game, cmd, target)...)
	return events, acceptedResult(cmd.CommandID), nil
}
