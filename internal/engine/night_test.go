package engine

import (
	"testing"

	"github.com/duskcourt/loupgarou-engine/internal/types"
)

func wolfVillageGame() Game {
	g := newTestGame("g1")
	roles := map[string]string{
		"wolf1": RoleWerewolf,
		"seer":  RoleSeer,
		"witch": RoleWitch,
		"sav":   RoleSalvateur,
		"vill":  RoleVillager,
	}
	for uid, role := range roles {
		g.Players[uid] = Player{UserID: uid, Alive: true, Role: role}
		g.PlayerOrder = append(g.PlayerOrder, uid)
	}
	g.Phase = PhaseNight
	g.NightCount = 2
	g.WitchPotions = WitchPotions{Life: true, Death: true}
	return g
}

func TestWerewolfKillRejectsWolfTarget(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseLoups
	cmd := cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "wolf1"})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrInvalidChoice) {
		t.Fatalf("expected invalid_choice rejecting wolf-on-wolf, got %v", err)
	}
}

func TestWerewolfKillSetsNightVictim(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseLoups
	events, _, err := HandleCommand(g, cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "vill"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)
	if g.NightVictim != "vill" {
		t.Errorf("expected night victim vill, got %q", g.NightVictim)
	}
}

func TestSalvateurCannotProtectSamePlayerTwice(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseSalvateur
	g.LastProtectedPlayerID = "vill"
	cmd := cmdFor("g1", "sav", "salvateur.protect", map[string]string{"target": "vill"})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrCannotProtectSame) {
		t.Fatalf("expected cannot_protect_same, got %v", err)
	}
}

func TestSalvateurProtectionCancelsWolfKill(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseSalvateur
	events, _, err := HandleCommand(g, cmdFor("g1", "sav", "salvateur.protect", map[string]string{"target": "vill"}))
	if err != nil {
		t.Fatalf("protect failed: %v", err)
	}
	reduceAll(&g, events)

	g.SubPhase = SubPhaseLoups
	events, _, err = HandleCommand(g, cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "vill"}))
	if err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	reduceAll(&g, events)

	resolved := resolveNight(&g, cmdFor("g1", "system", "advance_phase", nil))
	reduceAll(&g, resolved)

	if !g.Players["vill"].Alive {
		t.Errorf("protected villager should survive the wolf kill")
	}
}

func TestWitchSaveCancelsWolfKill(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseLoups
	events, _, err := HandleCommand(g, cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "vill"}))
	if err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	reduceAll(&g, events)

	g.SubPhase = SubPhaseSorciere
	events, _, err = HandleCommand(g, cmdFor("g1", "witch", "witch.potion", map[string]string{"potion": "life"}))
	if err != nil {
		t.Fatalf("witch save failed: %v", err)
	}
	reduceAll(&g, events)

	resolved := resolveNight(&g, cmdFor("g1", "system", "advance_phase", nil))
	reduceAll(&g, resolved)

	if !g.Players["vill"].Alive {
		t.Errorf("witch-saved villager should survive the wolf kill")
	}
}

func TestWitchCannotPoisonSelf(t *testing.T) {
	g := wolfVillageGame()
	g.SubPhase = SubPhaseSorciere
	cmd := cmdFor("g1", "witch", "witch.potion", map[string]string{"potion": "death", "target": "witch"})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrCannotPoisonSelf) {
		t.Fatalf("expected cannot_poison_self, got %v", err)
	}
}

func TestAncienSurvivesFirstWolfHitThenDiesSecond(t *testing.T) {
	g := wolfVillageGame()
	g.Players["elder"] = Player{UserID: "elder", Alive: true, Role: RoleAncien}
	g.PlayerOrder = append(g.PlayerOrder, "elder")

	g.SubPhase = SubPhaseLoups
	events, _, err := HandleCommand(g, cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "elder"}))
	if err != nil {
		t.Fatalf("kill failed: %v", err)
	}
	reduceAll(&g, events)
	resolved := resolveNight(&g, cmdFor("g1", "system", "advance_phase", nil))
	reduceAll(&g, resolved)

	if !g.Players["elder"].Alive {
		t.Fatalf("ancien should survive the first wolf hit")
	}
	if !g.AncienHit {
		t.Fatalf("ancien_hit should be recorded after the first hit")
	}

	g.WolfVotes = make(map[string]Vote)
	g.SubPhase = SubPhaseLoups
	events, _, err = HandleCommand(g, cmdFor("g1", "wolf1", "werewolf.kill", map[string]string{"target": "elder"}))
	if err != nil {
		t.Fatalf("second kill failed: %v", err)
	}
	reduceAll(&g, events)
	resolved = resolveNight(&g, cmdFor("g1", "system", "advance_phase", nil))
	reduceAll(&g, resolved)

	if g.Players["elder"].Alive {
		t.Errorf("ancien should die on the second wolf hit")
	}
}

func TestWitchPoisonKillingAncienSetsVillagePowerless(t *testing.T) {
	g := wolfVillageGame()
	g.Players["elder"] = Player{UserID: "elder", Alive: true, Role: RoleAncien}
	g.PlayerOrder = append(g.PlayerOrder, "elder")

	g.SubPhase = SubPhaseSorciere
	events, _, err := HandleCommand(g, cmdFor("g1", "witch", "witch.potion", map[string]string{"potion": "death", "target": "elder"}))
	if err != nil {
		t.Fatalf("witch poison failed: %v", err)
	}
	reduceAll(&g, events)

	resolved := resolveNight(&g, cmdFor("g1", "system", "advance_phase", nil))
	reduceAll(&g, resolved)

	if g.Players["elder"].Alive {
		t.Fatalf("poisoned ancien should die")
	}
	if !g.VillageRolesPowerless {
		t.Errorf("village roles should become powerless once the ancien dies to witch poison")
	}
}

func TestThiefMustTakeWolfWhenOffered(t *testing.T) {
	g := wolfVillageGame()
	g.Players["thief"] = Player{UserID: "thief", Alive: true, Role: RoleThief}
	g.PlayerOrder = append(g.PlayerOrder, "thief")
	g.ThiefExtraRoles = []string{RoleWerewolf, RoleVillager}
	g.SubPhase = SubPhaseThief

	cmd := cmdFor("g1", "thief", "thief.steal", map[string]string{"choice": "keep"})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrMustTakeWolf) {
		t.Fatalf("expected must_take_wolf, got %v", err)
	}
}

func TestThiefSwapChangesRole(t *testing.T) {
	g := wolfVillageGame()
	g.Players["thief"] = Player{UserID: "thief", Alive: true, Role: RoleThief}
	g.PlayerOrder = append(g.PlayerOrder, "thief")
	g.ThiefExtraRoles = []string{RoleHunter, RoleVillager}
	g.SubPhase = SubPhaseThief

	events, _, err := HandleCommand(g, cmdFor("g1", "thief", "thief.steal", map[string]string{"choice": RoleHunter}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)
	if g.Players["thief"].Role != RoleHunter {
		t.Errorf("expected thief to become hunter, got %s", g.Players["thief"].Role)
	}
	if !g.Players["thief"].RoleChanged {
		t.Errorf("expected role_changed flag set")
	}
}

func TestHunterShootKillsTarget(t *testing.T) {
	g := wolfVillageGame()
	g.Players["hunter"] = Player{UserID: "hunter", Alive: true, Role: RoleHunter}
	g.PlayerOrder = append(g.PlayerOrder, "hunter")
	g.SubPhase = SubPhaseHunterShoot

	events, _, err := HandleCommand(g, cmdFor("g1", "hunter", "hunter.shoot", map[string]string{"target": "vill"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reduceAll(&g, events)
	if g.Players["vill"].Alive {
		t.Errorf("expected hunter's target to die")
	}
}

func TestHunterCannotShootSelf(t *testing.T) {
	g := wolfVillageGame()
	g.Players["hunter"] = Player{UserID: "hunter", Alive: true, Role: RoleHunter}
	g.PlayerOrder = append(g.PlayerOrder, "hunter")
	g.SubPhase = SubPhaseHunterShoot

	cmd := cmdFor("g1", "hunter", "hunter.shoot", map[string]string{"target": "hunter"})
	if _, _, err := HandleCommand(g, cmd); !types.Is(err, types.ErrInvalidChoice) {
		t.Fatalf("expected invalid_choice, got %v", err)
	}
}
