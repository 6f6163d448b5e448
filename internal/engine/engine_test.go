package engine

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/duskcourt/loupgarou-engine/internal/types"
)

func newTestGame(gameID string) Game {
	return NewGame(gameID, "guild1", DefaultRules(), DefaultGameConfig())
}

func cmdFor(gameID, actor, cmdType string, payload interface{}) types.CommandEnvelope {
	var raw json.RawMessage
	if payload != nil {
		b, _ := json.Marshal(payload)
		raw = b
	}
	return types.CommandEnvelope{
		CommandID:   uuid.NewString(),
		GameID:      gameID,
		Type:        cmdType,
		ActorUserID: actor,
		Payload:     raw,
	}
}

func reduceAll(g *Game, events []types.Event) {
	for _, e := range events {
		g.Reduce(toEventPayload(e))
	}
}

func TestHandleJoinLobby(t *testing.T) {
	g := newTestGame("g1")
	cmd := cmdFor("g1", "alice", "join_lobby", map[string]string{"username": "Alice"})
	events, result, err := HandleCommand(g, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "accepted" {
		t.Errorf("expected accepted, got %s", result.Status)
	}
	if events[0].EventType != "player.joined" {
		t.Errorf("expected player.joined, got %s", events[0].EventType)
	}
}

func TestHandleJoinLobbyDuplicate(t *testing.T) {
	g := newTestGame("g1")
	g.Players["alice"] = Player{UserID: "alice", Alive: true}
	cmd := cmdFor("g1", "alice", "join_lobby", nil)
	if _, _, err := HandleCommand(g, cmd); err == nil {
		t.Fatalf("expected error for duplicate join")
	}
}

func TestHandleJoinLobbyLinksChannel(t *testing.T) {
	g := newTestGame("g1")
	cmd := cmdFor("g1", "alice", "join_lobby", map[string]string{"username": "Alice"})
	cmd.ChannelHint = "village-chan"
	events, _, err := HandleCommand(g, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].EventType != "channel.linked" {
		t.Fatalf("expected channel.linked to be emitted first, got %s", events[0].EventType)
	}
	reduceAll(&g, events)
	if len(g.ChannelIDs) != 1 || g.ChannelIDs[0] != "village-chan" {
		t.Fatalf("expected village-chan linked, got %v", g.ChannelIDs)
	}

	// a second command carrying the same hint must not duplicate the link.
	cmd2 := cmdFor("g1", "alice", "leave_lobby", nil)
	cmd2.ChannelHint = "village-chan"
	events2, _, err := HandleCommand(g, cmd2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range events2 {
		if e.EventType == "channel.linked" {
			t.Fatalf("expected no duplicate channel.linked event")
		}
	}
}

func TestHandleJoinLobbyAfterStart(t *testing.T) {
	g := newTestGame("g1")
	g.Phase = PhaseNight
	cmd := cmdFor("g1", "alice", "join_lobby", nil)
	_, _, err := HandleCommand(g, cmd)
	if !types.Is(err, types.ErrWrongPhase) {
		t.Fatalf("expected wrong_phase error, got %v", err)
	}
}

func fivePlayerLobby() Game {
	g := newTestGame("g1")
	for i, uid := range []string{"a", "b", "c", "d", "e"} {
		g.Players[uid] = Player{UserID: uid, Alive: true, SeatNumber: i + 1}
		g.PlayerOrder = append(g.PlayerOrder, uid)
	}
	return g
}

func TestHandleStartGameRolePoolMismatch(t *testing.T) {
	g := fivePlayerLobby()
	cmd := cmdFor("g1", "a", "start_game", map[string]interface{}{
		"role_pool": []string{RoleWerewolf, RoleVillager, RoleVillager},
	})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrInternal) {
		t.Fatalf("expected role pool size mismatch error, got %v", err)
	}
}

func TestHandleStartGameAssignsAllRoles(t *testing.T) {
	g := fivePlayerLobby()
	pool := []string{RoleWerewolf, RoleSeer, RoleWitch, RoleHunter, RoleVillager}
	cmd := cmdFor("g1", "a", "start_game", map[string]interface{}{"role_pool": pool})
	events, _, err := HandleCommand(g, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)
	if g.Phase != PhaseNight || g.SubPhase != SubPhaseLoversReveal {
		t.Fatalf("expected night/lovers_reveal after start (no cupid in pool), got %s/%s", g.Phase, g.SubPhase)
	}
	assigned := make(map[string]bool)
	for _, uid := range g.PlayerOrder {
		if g.Players[uid].Role == "" {
			t.Errorf("player %s has no role assigned", uid)
		}
		assigned[g.Players[uid].Role] = true
	}
	for _, role := range pool {
		if !assigned[role] {
			t.Errorf("role %s never assigned", role)
		}
	}
}

func TestCaptainVoteElectsOnAllAliveVoted(t *testing.T) {
	g := fivePlayerLobby()
	g.DayCount = 1
	g.SubPhase = SubPhaseVoteCapitaine

	for _, voter := range []string{"a", "b", "c", "d", "e"} {
		events, _, err := HandleCommand(g, cmdFor("g1", voter, "captain.vote", map[string]string{"candidate": "a"}))
		if err != nil {
			t.Fatalf("vote by %s failed: %v", voter, err)
		}
		reduceAll(&g, events)
	}
	if g.CaptainID != "a" {
		t.Errorf("expected a elected captain, got %s", g.CaptainID)
	}
}

func TestDayVoteExecutesLoser(t *testing.T) {
	g := fivePlayerLobby()
	g.Phase = PhaseDay
	g.SubPhase = SubPhaseVote

	for _, voter := range []string{"a", "b", "c", "d"} {
		events, _, err := HandleCommand(g, cmdFor("g1", voter, "day.vote", map[string]string{"candidate": "e"}))
		if err != nil {
			t.Fatalf("vote by %s failed: %v", voter, err)
		}
		reduceAll(&g, events)
	}
	events, _, err := HandleCommand(g, cmdFor("g1", "e", "day.vote", map[string]string{"candidate": "a"}))
	if err != nil {
		t.Fatalf("final vote failed: %v", err)
	}
	reduceAll(&g, events)

	if g.Players["e"].Alive {
		t.Errorf("expected e to be executed")
	}
}

func TestDayVoteIdiotRevealedNotKilled(t *testing.T) {
	g := fivePlayerLobby()
	g.Phase = PhaseDay
	g.SubPhase = SubPhaseVote
	g.Players["e"] = Player{UserID: "e", Alive: true, Role: RoleIdiot}

	for _, voter := range []string{"a", "b", "c", "d"} {
		events, _, err := HandleCommand(g, cmdFor("g1", voter, "day.vote", map[string]string{"candidate": "e"}))
		if err != nil {
			t.Fatalf("vote by %s failed: %v", voter, err)
		}
		reduceAll(&g, events)
	}
	events, _, err := HandleCommand(g, cmdFor("g1", "e", "day.vote", map[string]string{"candidate": "a"}))
	if err != nil {
		t.Fatalf("final vote failed: %v", err)
	}
	reduceAll(&g, events)

	if !g.Players["e"].Alive {
		t.Errorf("idiot should survive the lynch")
	}
	if !g.Players["e"].IdiotRevealed {
		t.Errorf("idiot should be revealed")
	}
}

func TestDayVoteLoverChainDeath(t *testing.T) {
	g := fivePlayerLobby()
	g.Phase = PhaseDay
	g.SubPhase = SubPhaseVote
	g.Lovers = []string{"e", "d"}

	for _, voter := range []string{"a", "b", "c", "d"} {
		events, _, err := HandleCommand(g, cmdFor("g1", voter, "day.vote", map[string]string{"candidate": "e"}))
		if err != nil {
			t.Fatalf("vote by %s failed: %v", voter, err)
		}
		reduceAll(&g, events)
	}
	events, _, err := HandleCommand(g, cmdFor("g1", "e", "day.vote", map[string]string{"candidate": "a"}))
	if err != nil {
		t.Fatalf("final vote failed: %v", err)
	}
	reduceAll(&g, events)

	if g.Players["e"].Alive || g.Players["d"].Alive {
		t.Errorf("expected both lovers dead, e.alive=%v d.alive=%v", g.Players["e"].Alive, g.Players["d"].Alive)
	}
}
