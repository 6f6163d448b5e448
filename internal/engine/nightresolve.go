package engine

import "github.com/duskcourt/loupgarou-engine/internal/types"

// resolveNight runs the fixed nine-step night resolution order (§4.9):
// start from the wolves' victim, let Salvateur protection, the witch's
// life potion, and the Ancien's first hit cancel it in that order,
// apply the surviving kill, apply the witch's independent poison
// target, chain through lovers, and finally clear the per-night
// scratch fields (handled by the "night.resolved" reducer case).
func resolveNight(game *Game, cmd types.CommandEnvelope) []types.Event {
	var events []types.Event

	if victim := game.NightVictim; victim != "" {
		cancelled := victim == game.ProtectedPlayerID
		if !cancelled && game.WitchSave {
			cancelled = true
		}
		if !cancelled {
			if p, ok := game.Players[victim]; ok && p.Role == RoleAncien && !game.AncienHit {
				events = append(events, newEvent(cmd, "ancien.hit", nil))
				cancelled = true
			}
		}
		if !cancelled {
			events = append(events, newEvent(cmd, "player.killed", map[string]string{
				"user_id": victim,
				"cause":   "wolves",
			}))
			events = append(events, lynchLoverChainEvents(game, cmd, victim)...)
		}
	}

	if target := game.WitchKillTarget; target != "" && game.isAlive(target) {
		events = append(events, newEvent(cmd, "player.killed", map[string]string{
			"user_id": target,
			"cause":   "witch_poison",
		}))
		if p, ok := game.Players[target]; ok && p.Role == RoleAncien {
			events = append(events, newEvent(cmd, "village.powerless", nil))
		}
		events = append(events, lynchLoverChainEvents(game, cmd, target)...)
	}

	events = append(events, newEvent(cmd, "night.resolved", nil))
	return events
}

// huntersKilledBy scans a batch of just-produced events for a
// player.killed naming a Hunter, the trigger for the
// transient HUNTER_SHOOT sub-phase (§4.7).
func huntersKilledBy(game *Game, events []types.Event) string {
	for _, ev := range events {
		if ev.EventType != "player.killed" {
			continue
		}
		p := decodePayload(ev.Payload)
		uid := p["user_id"]
		if pl, ok := game.Players[uid]; ok && pl.Role == RoleHunter {
			return uid
		}
	}
	return ""
}
