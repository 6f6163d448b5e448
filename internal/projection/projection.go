package projection

import (
	"encoding/json"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// Project redacts one committed event for a viewer (the read-only
// snapshot/event-stream surface described in §4.3): a DM-equivalent
// viewer sees everything, a player sees only events that do not leak
// another player's private information.
func Project(event types.Event, game engine.Game, viewer types.Viewer) *types.ProjectedEvent {
	if !allowed(event, game, viewer) {
		return nil
	}
	return &types.ProjectedEvent{
		GameID:      event.GameID,
		Seq:         event.Seq,
		EventType:   event.EventType,
		ActorUserID: event.ActorUserID,
		Data:        sanitizePayload(event, viewer),
		ServerTS:    event.ServerTimestampMs,
	}
}

func allowed(event types.Event, game engine.Game, viewer types.Viewer) bool {
	if viewer.IsDM {
		return true
	}
	switch event.EventType {
	case "wolf_vote.cast", "night_victim.set", "protected.set", "witch.save.used", "witch.kill.set",
		"thief.offer.set", "ancien.hit", "night.action.recorded":
		return false
	case "role.assigned":
		var p map[string]string
		_ = json.Unmarshal(event.Payload, &p)
		return viewer.UserID == p["user_id"]
	case "player.role_changed":
		return viewer.UserID == event.ActorUserID
	default:
		return true
	}
}

// sanitizePayload strips a role assignment's value from everyone but
// its recipient, mirroring the WAL-level redaction boundary the teacher
// applies to its own role-assignment events.
func sanitizePayload(event types.Event, viewer types.Viewer) json.RawMessage {
	if viewer.IsDM {
		return event.Payload
	}
	if event.EventType == "role.assigned" {
		var p map[string]string
		_ = json.Unmarshal(event.Payload, &p)
		if viewer.UserID != p["user_id"] {
			return []byte(`{}`)
		}
	}
	return event.Payload
}

// ProjectedGame returns the read-only view of a game for a viewer
// (`snapshot(gameId) -> view`, §4.3): everyone sees seat order, phase,
// alive/dead, captain, and their own role; a DM sees every role and the
// private night-state a regular viewer never does.
func ProjectedGame(game engine.Game, viewer types.Viewer) engine.Game {
	cp := game.Copy()
	if viewer.IsDM {
		return cp
	}

	cp.NightActions = nil
	cp.WolfVotes = make(map[string]engine.Vote)
	cp.NightVictim = ""
	cp.WitchKillTarget = ""
	cp.ProtectedPlayerID = ""
	cp.LastProtectedPlayerID = ""
	cp.ThiefExtraRoles = nil

	for id, p := range cp.Players {
		if id != viewer.UserID {
			p.Role = ""
		}
		cp.Players[id] = p
	}
	return cp
}
