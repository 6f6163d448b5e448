package engine

import (
	"encoding/json"
	"fmt"
)

type Phase string

const (
	PhaseLobby Phase = "lobby"
	PhaseNight Phase = "night"
	PhaseDay   Phase = "day"
	PhaseEnded Phase = "ended"
)

type SubPhase string

const (
	SubPhaseNone SubPhase = ""
	SubPhaseWaiting SubPhase = "waiting"

	// NIGHT sub-phases, in resolution order.
	SubPhaseCupid       SubPhase = "cupid"
	SubPhaseLoversReveal SubPhase = "lovers_reveal"
	SubPhaseThief       SubPhase = "thief"
	SubPhaseSalvateur   SubPhase = "salvateur"
	SubPhaseLoups       SubPhase = "loups"
	SubPhaseSorciere    SubPhase = "sorciere"
	SubPhaseVoyante     SubPhase = "voyante"
	SubPhasePetiteFille SubPhase = "petite_fille"
	SubPhaseReveil      SubPhase = "reveil"

	// DAY sub-phases, in resolution order.
	SubPhaseDawn          SubPhase = "dawn"
	SubPhaseVoteCapitaine SubPhase = "vote_capitaine"
	SubPhaseDeliberation  SubPhase = "deliberation"
	SubPhaseVote          SubPhase = "vote"
	SubPhaseDusk          SubPhase = "dusk"

	// Transient, out-of-band sub-phase opened on a Hunter death (§4.7).
	SubPhaseHunterShoot SubPhase = "hunter_shoot"
)

// Role is the closed set a Player.Role may take. A role changes at most
// once per game, and only via the Thief swap (P7).
const (
	RoleWerewolf    = "werewolf"
	RoleWhiteWolf   = "white_wolf"
	RoleVillager    = "villager"
	RoleSeer        = "seer"
	RoleWitch       = "witch"
	RoleHunter      = "hunter"
	RolePetiteFille = "petite_fille"
	RoleCupid       = "cupid"
	RoleSalvateur   = "salvateur"
	RoleAncien      = "ancien"
	RoleThief       = "thief"
	RoleIdiot       = "idiot"
)

const (
	WolfWinMajority   = "MAJORITY"
	WolfWinElimination = "ELIMINATION"
)

type Player struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	SeatNumber    int    `json:"seat_number"`
	Role          string `json:"role"`
	Alive         bool   `json:"alive"`
	InLove        bool   `json:"in_love"`
	IdiotRevealed bool   `json:"idiot_revealed"` // stripped voting weight after lynch-override (§4.7 Idiot)
	RoleChanged   bool   `json:"role_changed"`   // Thief swap already used (P7)
}

// Vote is {voter, candidate, round, weight}; a player votes at most once
// per round, re-voting overwrites (§3).
type Vote struct {
	Voter     string `json:"voter"`
	Candidate string `json:"candidate"`
	Round     int    `json:"round"`
	Weight    int    `json:"weight"`
}

// NightAction is {day, kind, actor, target, createdAt}, idempotent by
// {day, kind, actor} (§3).
type NightAction struct {
	Day       int    `json:"day"`
	Kind      string `json:"kind"`
	Actor     string `json:"actor"`
	Target    string `json:"target"`
	CreatedAt int64  `json:"created_at"`
}

const (
	NightActionKill    = "kill"
	NightActionSave    = "save"
	NightActionPoison  = "poison"
	NightActionProtect = "protect"
	NightActionSee     = "see"
	NightActionSteal   = "steal"
	NightActionSpy     = "spy"
	NightActionLove    = "love"
)

type WitchPotions struct {
	Life bool `json:"life"`
	Death bool `json:"death"`
}

type Rules struct {
	MinPlayers       int    `json:"min_players"`
	MaxPlayers       int    `json:"max_players"`
	WolfWinCondition string `json:"wolf_win_condition"`
}

func DefaultRules() Rules {
	return Rules{MinPlayers: 5, MaxPlayers: 10, WolfWinCondition: WolfWinMajority}
}

// GameConfig carries the ambient, operator-tunable settings of §6:
// AFK timeout durations, testing/front-end pass-through flags, the
// duplicate-intent guard window, and the actionLog truncation bound.
type GameConfig struct {
	NightRoleMs             int64 `json:"night_role_ms"`
	DeliberationMs          int64 `json:"deliberation_ms"`
	VoteMs                  int64 `json:"vote_ms"`
	CaptainVoteMs           int64 `json:"captain_vote_ms"`
	SkipFakePhases          bool  `json:"skip_fake_phases"`
	DisableVoiceMute        bool  `json:"disable_voice_mute"`
	DuplicateIntentWindowMs int64 `json:"duplicate_intent_window_ms"`
	MaxHistory              int   `json:"max_history"`
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		NightRoleMs:             90000,
		DeliberationMs:          180000,
		VoteMs:                  60000,
		CaptainVoteMs:           60000,
		DuplicateIntentWindowMs: 5000,
		MaxHistory:              200,
	}
}

type ActiveTimer struct {
	Type     string `json:"type"`
	Deadline int64  `json:"deadline"`
	TotalMs  int64  `json:"total_ms"`
}

type ActionLogEntry struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Actor     string `json:"actor,omitempty"`
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
}

// Game is one active match, identified by a stable GameID (§3).
type Game struct {
	GameID   string   `json:"game_id"`
	GuildID  string   `json:"guild_id"`
	Phase    Phase    `json:"phase"`
	SubPhase SubPhase `json:"sub_phase"`
	DayCount int      `json:"day_count"`
	NightCount int    `json:"night_count"` // supplements dayCount: which night this is, for the night-1-only sub-phases (§4.6)

	Players     map[string]Player `json:"players"`
	PlayerOrder []string          `json:"player_order"` // fixed at game start

	// ChannelIDs is the reverse index of secondary identifiers (village,
	// wolves, witch, ... channel ids) this game is reachable under,
	// linked by the first command that carries each new channelHint (most
	// commonly joinLobby; any intent can carry one) (§4.4).
	// Registry.FindByChannel mirrors this into a process-
	// wide gameId lookup as each id is linked.
	ChannelIDs []string `json:"channel_ids,omitempty"`

	CaptainID             string   `json:"captain_id,omitempty"`
	Lovers                []string `json:"lovers,omitempty"` // at most one pair
	ProtectedPlayerID     string   `json:"protected_player_id,omitempty"`
	LastProtectedPlayerID string   `json:"last_protected_player_id,omitempty"`

	NightVictim    string       `json:"night_victim,omitempty"`
	WitchSave      bool         `json:"witch_save"`
	WitchKillTarget string      `json:"witch_kill_target,omitempty"`
	WitchPotions   WitchPotions `json:"witch_potions"`

	ThiefExtraRoles []string `json:"thief_extra_roles,omitempty"` // 0 or exactly 2

	AncienHit             bool `json:"ancien_hit"`
	VillageRolesPowerless bool `json:"village_roles_powerless"`

	CurrentRound  int            `json:"current_round"`
	Votes         map[string]Vote `json:"votes"`          // active lynch/day vote round
	WolfVotes     map[string]Vote `json:"wolf_votes"`     // LOUPS pack vote
	CaptainVotes  map[string]Vote `json:"captain_votes"`  // day-1 captain election

	NightActions []NightAction `json:"night_actions"`

	Rules Rules      `json:"rules"`
	Config GameConfig `json:"config"`

	StartedAt         int64 `json:"started_at"`
	LastPhaseChangeAt int64 `json:"last_phase_change_at"`

	ActiveTimer *ActiveTimer `json:"active_timer,omitempty"`

	ActionLog []ActionLogEntry `json:"action_log"`

	Winner    string `json:"winner,omitempty"`
	WinReason string `json:"win_reason,omitempty"`

	LastSeq int64 `json:"last_seq"`
}

func NewGame(gameID, guildID string, rules Rules, cfg GameConfig) Game {
	return Game{
		GameID:       gameID,
		GuildID:      guildID,
		Phase:        PhaseLobby,
		SubPhase:     SubPhaseWaiting,
		Players:      make(map[string]Player),
		PlayerOrder:  []string{},
		Votes:        make(map[string]Vote),
		WolfVotes:    make(map[string]Vote),
		CaptainVotes: make(map[string]Vote),
		NightActions: []NightAction{},
		Rules:        rules,
		Config:       cfg,
		ActionLog:    []ActionLogEntry{},
	}
}

// Copy performs the deep clone the Atomic Mutator takes a working copy
// from before invoking a mutator (§4.5 step 2).
func (g Game) Copy() Game {
	cp := g

	cp.Players = make(map[string]Player, len(g.Players))
	for k, v := range g.Players {
		cp.Players[k] = v
	}

	cp.PlayerOrder = append([]string(nil), g.PlayerOrder...)
	cp.ChannelIDs = append([]string(nil), g.ChannelIDs...)
	cp.Lovers = append([]string(nil), g.Lovers...)
	cp.ThiefExtraRoles = append([]string(nil), g.ThiefExtraRoles...)
	cp.NightActions = append([]NightAction(nil), g.NightActions...)
	cp.ActionLog = append([]ActionLogEntry(nil), g.ActionLog...)

	cp.Votes = make(map[string]Vote, len(g.Votes))
	for k, v := range g.Votes {
		cp.Votes[k] = v
	}
	cp.WolfVotes = make(map[string]Vote, len(g.WolfVotes))
	for k, v := range g.WolfVotes {
		cp.WolfVotes[k] = v
	}
	cp.CaptainVotes = make(map[string]Vote, len(g.CaptainVotes))
	for k, v := range g.CaptainVotes {
		cp.CaptainVotes[k] = v
	}

	if g.ActiveTimer != nil {
		t := *g.ActiveTimer
		cp.ActiveTimer = &t
	}

	return cp
}

// EventPayload is the decoded shape a committed WAL record reduces
// through; Seq is assigned by the Store transaction, not the mutator.
type EventPayload struct {
	Seq     int64
	Type    string
	Actor   string
	Payload map[string]string
}

func intFromPayload(p map[string]string, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := json.Number(v).Int64()
	if err != nil {
		return def
	}
	return int(n)
}

func int64FromPayload(p map[string]string, key string, def int64) int64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := json.Number(v).Int64()
	if err != nil {
		return def
	}
	return n
}

// Reduce mutates Game state from one committed event. It is run both
// by the Atomic Mutator (on the working copy, before commit) and by
// Recovery (replaying events after the latest snapshot).
func (g *Game) Reduce(event EventPayload) {
	g.LastSeq = event.Seq
	g.appendActionLog(event)

	switch event.Type {
	case "player.joined":
		p := Player{
			UserID:     event.Actor,
			Username:   event.Payload["username"],
			SeatNumber: intFromPayload(event.Payload, "seat_number", len(g.Players)+1),
			Alive:      true,
		}
		g.Players[event.Actor] = p
		g.PlayerOrder = append(g.PlayerOrder, event.Actor)

	case "player.left":
		delete(g.Players, event.Actor)
		for i, uid := range g.PlayerOrder {
			if uid == event.Actor {
				g.PlayerOrder = append(g.PlayerOrder[:i], g.PlayerOrder[i+1:]...)
				break
			}
		}

	case "game.started":
		g.Phase = PhaseNight
		g.SubPhase = SubPhaseCupid
		g.NightCount = 1
		g.DayCount = 0
		g.StartedAt = int64FromPayload(event.Payload, "started_at", event.Seq)
		g.LastPhaseChangeAt = g.StartedAt

	case "role.assigned":
		uid := event.Payload["user_id"]
		if p, ok := g.Players[uid]; ok {
			p.Role = event.Payload["role"]
			g.Players[uid] = p
		}

	case "phase.changed":
		g.Phase = Phase(event.Payload["phase"])
		g.SubPhase = SubPhase(event.Payload["sub_phase"])
		if g.Phase == PhaseDay {
			g.DayCount++
		}
		if g.Phase == PhaseNight {
			g.NightCount++
			g.WolfVotes = make(map[string]Vote)
		}
		g.LastPhaseChangeAt = int64FromPayload(event.Payload, "changed_at", event.Seq)
		g.applyTimer(event.Payload)

	case "sub_phase.changed":
		g.SubPhase = SubPhase(event.Payload["sub_phase"])
		g.applyTimer(event.Payload)

	case "captain.vote.cast":
		g.CaptainVotes[event.Actor] = Vote{Voter: event.Actor, Candidate: event.Payload["candidate"], Round: 0, Weight: 1}

	case "captain.elected":
		g.CaptainID = event.Payload["captain_id"]
		g.CaptainVotes = make(map[string]Vote)

	case "vote.cast":
		weight := intFromPayload(event.Payload, "weight", 1)
		round := intFromPayload(event.Payload, "round", g.CurrentRound)
		g.Votes[event.Actor] = Vote{Voter: event.Actor, Candidate: event.Payload["candidate"], Round: round, Weight: weight}

	case "vote.completed":
		g.Votes = make(map[string]Vote)
		g.CurrentRound++

	case "wolf_vote.cast":
		g.WolfVotes[event.Actor] = Vote{Voter: event.Actor, Candidate: event.Payload["candidate"], Round: g.NightCount, Weight: 1}

	case "night_victim.set":
		g.NightVictim = event.Payload["target"]

	case "player.killed":
		uid := event.Payload["user_id"]
		if p, ok := g.Players[uid]; ok {
			p.Alive = false
			g.Players[uid] = p
		}

	case "player.role_changed":
		uid := event.Payload["user_id"]
		if p, ok := g.Players[uid]; ok {
			p.Role = event.Payload["new_role"]
			p.RoleChanged = true
			g.Players[uid] = p
		}

	case "player.idiot_revealed":
		uid := event.Payload["user_id"]
		if p, ok := g.Players[uid]; ok {
			p.IdiotRevealed = true
			g.Players[uid] = p
		}

	case "lovers.set":
		a, b := event.Payload["a"], event.Payload["b"]
		g.Lovers = []string{a, b}
		for _, uid := range g.Lovers {
			if p, ok := g.Players[uid]; ok {
				p.InLove = true
				g.Players[uid] = p
			}
		}

	case "protected.set":
		g.ProtectedPlayerID = event.Payload["user_id"]

	case "witch.save.used":
		g.WitchSave = true
		g.WitchPotions.Life = false

	case "witch.kill.set":
		g.WitchKillTarget = event.Payload["user_id"]
		g.WitchPotions.Death = false

	case "thief.offer.set":
		a, b := event.Payload["role_a"], event.Payload["role_b"]
		g.ThiefExtraRoles = []string{a, b}

	case "thief.offer.cleared":
		g.ThiefExtraRoles = nil

	case "channel.linked":
		if id := event.Payload["channel_id"]; id != "" {
			known := false
			for _, existing := range g.ChannelIDs {
				if existing == id {
					known = true
					break
				}
			}
			if !known {
				g.ChannelIDs = append(g.ChannelIDs, id)
			}
		}

	case "ancien.hit":
		g.AncienHit = true

	case "village.powerless":
		g.VillageRolesPowerless = true

	case "night.action.recorded":
		g.NightActions = append(g.NightActions, NightAction{
			Day:       intFromPayload(event.Payload, "day", g.NightCount),
			Kind:      event.Payload["kind"],
			Actor:     event.Actor,
			Target:    event.Payload["target"],
			CreatedAt: event.Seq,
		})

	case "night.resolved":
		g.NightVictim = ""
		g.WitchSave = false
		g.WitchKillTarget = ""
		g.LastProtectedPlayerID = g.ProtectedPlayerID
		g.ProtectedPlayerID = ""
		g.WolfVotes = make(map[string]Vote)

	case "game.ended":
		g.Phase = PhaseEnded
		g.Winner = event.Payload["winner"]
		g.WinReason = event.Payload["reason"]
	}
}

func (g *Game) applyTimer(payload map[string]string) {
	timerType, ok := payload["timer_type"]
	if !ok || timerType == "" {
		g.ActiveTimer = nil
		return
	}
	g.ActiveTimer = &ActiveTimer{
		Type:     timerType,
		Deadline: int64FromPayload(payload, "deadline", 0),
		TotalMs:  int64FromPayload(payload, "total_ms", 0),
	}
}

func (g *Game) appendActionLog(event EventPayload) {
	entry := ActionLogEntry{Seq: event.Seq, Type: event.Type, Actor: event.Actor, Timestamp: event.Seq}
	g.ActionLog = append(g.ActionLog, entry)
	if g.Config.MaxHistory > 0 && len(g.ActionLog) > g.Config.MaxHistory {
		g.ActionLog = g.ActionLog[len(g.ActionLog)-g.Config.MaxHistory:]
	}
}

func MarshalGame(g Game) (string, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalGame(raw string) (Game, error) {
	var g Game
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return Game{}, err
	}
	return g, nil
}

// GetAliveCount returns the number of alive players (§4.9, win checks).
func (g *Game) GetAliveCount() int {
	count := 0
	for _, p := range g.Players {
		if p.Alive {
			count++
		}
	}
	return count
}

// Dead returns the subset of PlayerOrder whose alive=false (I1); kept
// derived rather than stored to avoid a second source of truth.
func (g *Game) Dead() []string {
	var dead []string
	for _, uid := range g.PlayerOrder {
		if p, ok := g.Players[uid]; ok && !p.Alive {
			dead = append(dead, uid)
		}
	}
	return dead
}

func (g *Game) isAlive(userID string) bool {
	p, ok := g.Players[userID]
	return ok && p.Alive
}

func fmtErr(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
