package engine

import "testing"

func TestCheckWinConditionVillageWins(t *testing.T) {
	g := newTestGame("g1")
	g.Players["a"] = Player{UserID: "a", Alive: true, Role: RoleVillager}
	g.Players["b"] = Player{UserID: "b", Alive: false, Role: RoleWerewolf}
	g.PlayerOrder = []string{"a", "b"}

	winner, reason, ended := checkWinCondition(&g)
	if !ended || winner != TeamVillage || reason != "wolves_eliminated" {
		t.Fatalf("expected village win, got winner=%q reason=%q ended=%v", winner, reason, ended)
	}
}

func TestCheckWinConditionWolvesWinAtParity(t *testing.T) {
	g := newTestGame("g1")
	g.Players["a"] = Player{UserID: "a", Alive: true, Role: RoleWerewolf}
	g.Players["b"] = Player{UserID: "b", Alive: true, Role: RoleVillager}
	g.PlayerOrder = []string{"a", "b"}

	winner, reason, ended := checkWinCondition(&g)
	if !ended || winner != TeamWolves || reason != "parity_reached" {
		t.Fatalf("expected wolves win at parity, got winner=%q reason=%q ended=%v", winner, reason, ended)
	}
}

func TestCheckWinConditionLoversAlone(t *testing.T) {
	g := newTestGame("g1")
	g.Players["a"] = Player{UserID: "a", Alive: true, Role: RoleVillager}
	g.Players["b"] = Player{UserID: "b", Alive: true, Role: RoleWerewolf}
	g.PlayerOrder = []string{"a", "b"}
	g.Lovers = []string{"a", "b"}

	winner, reason, ended := checkWinCondition(&g)
	if !ended || winner != "lovers" || reason != "lovers_alone" {
		t.Fatalf("expected lovers win, got winner=%q reason=%q ended=%v", winner, reason, ended)
	}
}

func TestCheckWinConditionNoWinnerYet(t *testing.T) {
	g := newTestGame("g1")
	g.Players["a"] = Player{UserID: "a", Alive: true, Role: RoleVillager}
	g.Players["b"] = Player{UserID: "b", Alive: true, Role: RoleVillager}
	g.Players["c"] = Player{UserID: "c", Alive: true, Role: RoleWerewolf}
	g.PlayerOrder = []string{"a", "b", "c"}

	if _, _, ended := checkWinCondition(&g); ended {
		t.Errorf("expected game still running with 2 village vs 1 wolf")
	}
}

func TestAdvanceNightSkipsSubPhasesWithNoLivingBearer(t *testing.T) {
	g := newTestGame("g1")
	g.Phase = PhaseNight
	g.NightCount = 1
	g.SubPhase = SubPhaseLoversReveal
	g.Players["wolf1"] = Player{UserID: "wolf1", Alive: true, Role: RoleWerewolf}
	g.Players["vill"] = Player{UserID: "vill", Alive: true, Role: RoleVillager}
	g.PlayerOrder = []string{"wolf1", "vill"}

	events, _, err := HandleCommand(g, cmdFor("g1", "system", "advance_phase", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "sub_phase.changed" {
		t.Fatalf("expected a single sub_phase.changed event, got %v", events)
	}
	reduceAll(&g, events)
	if g.SubPhase != SubPhaseLoups {
		t.Errorf("expected to skip straight to loups (no living thief/salvateur), got %s", g.SubPhase)
	}
}

func TestAdvanceNightOpensHunterShootOnNightKill(t *testing.T) {
	g := newTestGame("g1")
	g.Phase = PhaseNight
	g.NightCount = 2
	g.SubPhase = SubPhaseReveil
	g.NightVictim = "hunter1"
	g.Players["wolf1"] = Player{UserID: "wolf1", Alive: true, Role: RoleWerewolf}
	g.Players["hunter1"] = Player{UserID: "hunter1", Alive: true, Role: RoleHunter}
	g.Players["vill2"] = Player{UserID: "vill2", Alive: true, Role: RoleVillager}
	g.Players["vill3"] = Player{UserID: "vill3", Alive: true, Role: RoleVillager}
	g.PlayerOrder = []string{"wolf1", "hunter1", "vill2", "vill3"}

	events, _, err := HandleCommand(g, cmdFor("g1", "system", "advance_phase", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)

	if g.SubPhase != SubPhaseHunterShoot {
		t.Fatalf("expected hunter_shoot sub-phase opened, got %s", g.SubPhase)
	}
	if g.Players["hunter1"].Alive {
		t.Errorf("expected hunter to have died from the wolf kill")
	}
}

func TestAdvanceNightEndsGameOnWinCondition(t *testing.T) {
	g := newTestGame("g1")
	g.Phase = PhaseNight
	g.NightCount = 2
	g.SubPhase = SubPhaseReveil
	g.NightVictim = "vill"
	g.Players["wolf1"] = Player{UserID: "wolf1", Alive: true, Role: RoleWerewolf}
	g.Players["vill"] = Player{UserID: "vill", Alive: true, Role: RoleVillager}
	g.PlayerOrder = []string{"wolf1", "vill"}

	events, _, err := HandleCommand(g, cmdFor("g1", "system", "advance_phase", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)

	if g.Phase != PhaseEnded || g.Winner != TeamWolves {
		t.Fatalf("expected wolves to win once the last villager dies, got phase=%s winner=%s", g.Phase, g.Winner)
	}
}
