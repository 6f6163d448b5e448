package gamerun

import (
	"context"
	"testing"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

func TestEngineFacadeJoinLobbyAndStart(t *testing.T) {
	reg := newTestRegistry(t)
	e := NewEngine(reg)
	ctx := context.Background()

	if err := e.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err != nil {
		t.Fatalf("create game failed: %v", err)
	}

	for _, uid := range []string{"u1", "u2", "u3", "u4", "u5"} {
		if _, err := e.JoinLobby("g1", uid, uid, ""); err != nil {
			t.Fatalf("join lobby failed for %s: %v", uid, err)
		}
	}

	view, err := e.Snapshot("g1", types.Viewer{UserID: "u1", IsDM: true})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(view.PlayerOrder) != 5 {
		t.Fatalf("expected 5 players in lobby, got %d", len(view.PlayerOrder))
	}

	rolePool := []string{
		engine.RoleWerewolf, engine.RoleSeer, engine.RoleWitch, engine.RoleVillager, engine.RoleVillager,
	}
	if _, err := e.StartGame("g1", "u1", rolePool); err != nil {
		t.Fatalf("start game failed: %v", err)
	}

	view, err = e.Snapshot("g1", types.Viewer{UserID: "u1", IsDM: true})
	if err != nil {
		t.Fatalf("snapshot after start failed: %v", err)
	}
	if view.Phase == engine.PhaseLobby {
		t.Errorf("expected game to have left the lobby phase after starting")
	}
}

func TestEngineFacadeLeaveLobby(t *testing.T) {
	reg := newTestRegistry(t)
	e := NewEngine(reg)
	ctx := context.Background()

	if err := e.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	if _, err := e.JoinLobby("g1", "u1", "alice", "village-chan"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if gid, ok := reg.FindByChannel("village-chan"); !ok || gid != "g1" {
		t.Fatalf("expected findByChannel to resolve village-chan to g1, got %q ok=%v", gid, ok)
	}
	if _, err := e.LeaveLobby("g1", "u1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	view, err := e.Snapshot("g1", types.Viewer{UserID: "u1", IsDM: true})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(view.PlayerOrder) != 0 {
		t.Errorf("expected lobby to be empty after leaving, got %d players", len(view.PlayerOrder))
	}
}

func TestEngineFacadeEndGame(t *testing.T) {
	reg := newTestRegistry(t)
	e := NewEngine(reg)
	ctx := context.Background()

	if err := e.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	if err := e.EndGame(ctx, "g1"); err != nil {
		t.Fatalf("end game failed: %v", err)
	}
	if _, err := e.Snapshot("g1", types.Viewer{UserID: "u1", IsDM: true}); err == nil {
		t.Errorf("expected snapshot of an ended game to fail")
	}
}
