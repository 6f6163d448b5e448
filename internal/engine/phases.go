package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// nightSubPhaseOrder is the fixed NIGHT resolution order (§4.6): Cupid,
// the lovers reveal, and the thief offer only occur on the first night.
func nightSubPhaseOrder(night int) []SubPhase {
	if night <= 1 {
		return []SubPhase{
			SubPhaseCupid, SubPhaseLoversReveal, SubPhaseThief, SubPhaseSalvateur,
			SubPhaseLoups, SubPhaseSorciere, SubPhaseVoyante, SubPhasePetiteFille, SubPhaseReveil,
		}
	}
	return []SubPhase{
		SubPhaseSalvateur, SubPhaseLoups, SubPhaseSorciere, SubPhaseVoyante, SubPhasePetiteFille, SubPhaseReveil,
	}
}

// daySubPhaseOrder is the fixed DAY order (§4.6): the captain election
// only occurs on the first day.
func daySubPhaseOrder(day int) []SubPhase {
	if day <= 1 {
		return []SubPhase{SubPhaseDawn, SubPhaseVoteCapitaine, SubPhaseDeliberation, SubPhaseVote, SubPhaseDusk}
	}
	return []SubPhase{SubPhaseDawn, SubPhaseDeliberation, SubPhaseVote, SubPhaseDusk}
}

var subPhaseRoleMap = map[SubPhase]string{
	SubPhaseCupid:       RoleCupid,
	SubPhaseThief:       RoleThief,
	SubPhaseSalvateur:   RoleSalvateur,
	SubPhaseSorciere:    RoleWitch,
	SubPhaseVoyante:     RoleSeer,
	SubPhasePetiteFille: RolePetiteFille,
}

func isAnnouncementSubPhase(sp SubPhase) bool {
	switch sp {
	case SubPhaseLoversReveal, SubPhaseDawn, SubPhaseDusk:
		return true
	}
	return false
}

// subPhaseActionable reports whether the Phase Scheduler should stop on
// this sub-phase or auto-skip it (§4.6): role-gated sub-phases need a
// living bearer; announcement sub-phases are skipped only when
// skipFakePhases is set.
func subPhaseActionable(game *Game, sp SubPhase) bool {
	if sp == SubPhaseReveil {
		return true
	}
	if sp == SubPhaseLoups {
		return len(game.aliveWolves()) > 0
	}
	if sp == SubPhaseThief {
		return game.anyAliveBearer(RoleThief) && len(game.ThiefExtraRoles) == 2
	}
	if roleID, ok := subPhaseRoleMap[sp]; ok {
		return game.anyAliveBearer(roleID)
	}
	if isAnnouncementSubPhase(sp) {
		return !game.Config.SkipFakePhases
	}
	return true
}

func indexOfSubPhase(order []SubPhase, sp SubPhase) int {
	for i, s := range order {
		if s == sp {
			return i
		}
	}
	return -1
}

func subPhaseDurationMs(cfg GameConfig, sp SubPhase) int64 {
	switch sp {
	case SubPhaseVoteCapitaine:
		return cfg.CaptainVoteMs
	case SubPhaseDeliberation:
		return cfg.DeliberationMs
	case SubPhaseVote:
		return cfg.VoteMs
	case SubPhaseDawn, SubPhaseDusk, SubPhaseLoversReveal, SubPhaseReveil:
		return 0
	default:
		return cfg.NightRoleMs
	}
}

// armSubPhaseTimer transitions into sp within the current phase,
// folding the AFK timer arm into the same sub_phase.changed commit
// (§9 single commit bracket): at most one active timer at a time, and
// rescheduling here implicitly cancels whatever was armed before.
func armSubPhaseTimer(cmd types.CommandEnvelope, cfg GameConfig, sp SubPhase) []types.Event {
	payload := map[string]string{"sub_phase": string(sp)}
	if ms := subPhaseDurationMs(cfg, sp); ms > 0 {
		deadline := time.Now().UnixMilli() + ms
		payload["timer_type"] = string(sp)
		payload["deadline"] = fmt.Sprintf("%d", deadline)
		payload["total_ms"] = fmt.Sprintf("%d", ms)
	}
	return []types.Event{newEvent(cmd, "sub_phase.changed", payload)}
}

func transitionPhase(cmd types.CommandEnvelope, cfg GameConfig, phase Phase, sp SubPhase) []types.Event {
	payload := map[string]string{
		"phase":      string(phase),
		"sub_phase":  string(sp),
		"changed_at": fmt.Sprintf("%d", time.Now().UnixMilli()),
	}
	if ms := subPhaseDurationMs(cfg, sp); ms > 0 {
		deadline := time.Now().UnixMilli() + ms
		payload["timer_type"] = string(sp)
		payload["deadline"] = fmt.Sprintf("%d", deadline)
		payload["total_ms"] = fmt.Sprintf("%d", ms)
	}
	return []types.Event{newEvent(cmd, "phase.changed", payload)}
}

func toEventPayload(ev types.Event) EventPayload {
	var p map[string]string
	_ = json.Unmarshal(ev.Payload, &p)
	return EventPayload{Seq: ev.Seq, Type: ev.EventType, Actor: ev.ActorUserID, Payload: p}
}

// simulate applies a batch of not-yet-committed events to a scratch
// copy, so handleAdvancePhase can evaluate the win condition against
// the state those events would produce without mutating the caller's
// working copy (HandleCommand stays pure; §4.5 step 3).
func simulate(game *Game, events []types.Event) Game {
	sim := game.Copy()
	for _, ev := range events {
		sim.Reduce(toEventPayload(ev))
	}
	return sim
}

// checkWinCondition evaluates the victory predicates (§4.9 step 9):
// village wins once no wolf remains alive, wolves win once they reach
// parity with the rest of the village, and the two lovers win together
// if they are the only two players left alive.
func checkWinCondition(game *Game) (winner, reason string, ended bool) {
	var aliveWolves, aliveOther int
	var alive []string
	for _, uid := range game.PlayerOrder {
		p, ok := game.Players[uid]
		if !ok || !p.Alive {
			continue
		}
		alive = append(alive, uid)
		if isWolfAligned(p.Role) {
			aliveWolves++
		} else {
			aliveOther++
		}
	}

	if len(game.Lovers) == 2 && len(alive) == 2 {
		if (alive[0] == game.Lovers[0] && alive[1] == game.Lovers[1]) ||
			(alive[0] == game.Lovers[1] && alive[1] == game.Lovers[0]) {
			return "lovers", "lovers_alone", true
		}
	}
	if aliveWolves == 0 {
		return TeamVillage, "wolves_eliminated", true
	}
	if aliveWolves >= aliveOther {
		return TeamWolves, "parity_reached", true
	}
	return "", "", false
}

// handleAdvancePhase is the Phase Scheduler's entry point (§4.6): it is
// invoked by the caller once a sub-phase's deadline elapses or every
// role expected to act this sub-phase has acted, and walks the fixed
// order forward, auto-skipping sub-phases with no living actor.
func handleAdvancePhase(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if game.Phase == PhaseLobby || game.Phase == PhaseEnded {
		return nil, nil, types.NewError(types.ErrWrongPhase, "no active phase to advance")
	}
	if game.SubPhase == SubPhaseHunterShoot {
		return nil, nil, types.NewError(types.ErrWrongSubPhase, "hunter shoot must resolve before advancing")
	}

	var events []types.Event
	if game.Phase == PhaseNight {
		events = advanceNight(&game, cmd)
	} else {
		events = advanceDay(&game, cmd)
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func advanceNight(game *Game, cmd types.CommandEnvelope) []types.Event {
	order := nightSubPhaseOrder(game.NightCount)
	idx := indexOfSubPhase(order, game.SubPhase)
	for i := idx + 1; i < len(order); i++ {
		next := order[i]
		if next == SubPhaseReveil {
			break
		}
		if subPhaseActionable(game, next) {
			return armSubPhaseTimer(cmd, game.Config, next)
		}
	}

	resolved := resolveNight(game, cmd)
	sim := simulate(game, resolved)
	if winner, reason, ended := checkWinCondition(&sim); ended {
		return append(resolved, newEvent(cmd, "game.ended", map[string]string{"winner": winner, "reason": reason}))
	}
	if hunterID := huntersKilledBy(&sim, resolved); hunterID != "" {
		return append(resolved, armSubPhaseTimer(cmd, game.Config, SubPhaseHunterShoot)...)
	}

	nextDay := game.DayCount + 1
	first := daySubPhaseOrder(nextDay)[0]
	return append(resolved, transitionPhase(cmd, game.Config, PhaseDay, first)...)
}

func advanceDay(game *Game, cmd types.CommandEnvelope) []types.Event {
	if winner, reason, ended := checkWinCondition(game); ended {
		return []types.Event{newEvent(cmd, "game.ended", map[string]string{"winner": winner, "reason": reason})}
	}

	order := daySubPhaseOrder(game.DayCount)
	idx := indexOfSubPhase(order, game.SubPhase)
	for i := idx + 1; i < len(order); i++ {
		next := order[i]
		if next == SubPhaseDusk {
			break
		}
		if subPhaseActionable(game, next) {
			return armSubPhaseTimer(cmd, game.Config, next)
		}
	}

	nextNight := game.NightCount + 1
	first := firstActionableNightSubPhase(game, nextNight)
	return transitionPhase(cmd, game.Config, PhaseNight, first)
}

// handleForceSkipSubPhase is the admin override verb (§4.7): it forces
// the same transition handleAdvancePhase would take once its deadline
// elapses, without waiting for the timer. Authorization (DM-only) is a
// façade concern, not the core's.
func handleForceSkipSubPhase(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	return handleAdvancePhase(game, cmd)
}

// handleForceEnd implements the admin `forceEnd(gameId)` façade entry
// point (§6): unlike the victory predicates in checkWinCondition, this
// ends the game on operator demand with no winner, regardless of phase
// or board state. Registry.ForceEnd issues this before tearing the
// actor down.
func handleForceEnd(game Game, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	payload := decodePayload(cmd.Payload)
	reason := payload["reason"]
	if reason == "" {
		reason = "forced"
	}
	ev := newEvent(cmd, "game.ended", map[string]string{"winner": "", "reason": reason})
	return []types.Event{ev}, acceptedResult(cmd.CommandID), nil
}
