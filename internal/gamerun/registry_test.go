package gamerun

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/duskcourt/loupgarou-engine/internal/cache"
	"github.com/duskcourt/loupgarou-engine/internal/clock"
	"github.com/duskcourt/loupgarou-engine/internal/config"
	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/observability"
	"github.com/duskcourt/loupgarou-engine/internal/store"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st := store.NewMemoryStore()
	cl := clock.New(nil, nil, zap.NewNop())
	reg := New(context.Background(), Params{
		Store:   st,
		Cache:   cache.New("127.0.0.1:0", "", 0, time.Second),
		Clock:   cl,
		Logger:  zap.NewNop(),
		Metrics: observability.NewMetrics(nil),
		Config: config.Config{
			DefaultRules:  engine.DefaultRules(),
			DefaultConfig: engine.DefaultGameConfig(),
		},
	})
	cl.SetDispatcher(reg)
	return reg
}

func TestCreateGameRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err == nil {
		t.Fatalf("expected second create of the same game to fail")
	}
}

func TestEndGameRemovesActorAndPersistedState(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	actor, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	resp := actor.Dispatch(types.CommandEnvelope{
		GameID:      "g1",
		Type:        "join_lobby",
		ActorUserID: "u1",
		Payload:     []byte(`{"username":"alice"}`),
	})
	if resp.Err != nil {
		t.Fatalf("join failed: %v", resp.Err)
	}

	if err := reg.EndGame(ctx, "g1"); err != nil {
		t.Fatalf("end game failed: %v", err)
	}

	reg.mu.RLock()
	_, stillPresent := reg.actors["g1"]
	reg.mu.RUnlock()
	if stillPresent {
		t.Errorf("expected actor to be removed from the registry after EndGame")
	}

	snap, err := reg.store.GetLatestSnapshot(ctx, "g1")
	if err != nil {
		t.Fatalf("get snapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no persisted snapshot after EndGame, got %+v", snap)
	}
	events, err := reg.store.LoadEventsAfter(ctx, "g1", 0, 0)
	if err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no persisted events after EndGame, got %d", len(events))
	}
}

func TestForceEndEndsGameRegardlessOfPhase(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := reg.ForceEnd(ctx, "g1"); err != nil {
		t.Fatalf("force end failed: %v", err)
	}

	reg.mu.RLock()
	_, stillPresent := reg.actors["g1"]
	reg.mu.RUnlock()
	if stillPresent {
		t.Errorf("expected actor to be torn down after ForceEnd")
	}
}

func TestSnapshotReturnsProjectedGame(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	actor, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	resp := actor.Dispatch(types.CommandEnvelope{
		GameID:      "g1",
		Type:        "join_lobby",
		ActorUserID: "u1",
		Payload:     []byte(`{"username":"alice"}`),
	})
	if resp.Err != nil {
		t.Fatalf("join failed: %v", resp.Err)
	}

	view, err := reg.Snapshot("g1", types.Viewer{UserID: "u1"})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if _, ok := view.Players["u1"]; !ok {
		t.Errorf("expected viewer's own player to be visible in their projection")
	}
}

func TestFindByChannelResolvesLinkedChannel(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	actor, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	resp := actor.Dispatch(types.CommandEnvelope{
		GameID:      "g1",
		Type:        "join_lobby",
		ActorUserID: "u1",
		ChannelHint: "wolves-chan",
		Payload:     []byte(`{"username":"alice"}`),
	})
	if resp.Err != nil {
		t.Fatalf("join failed: %v", resp.Err)
	}

	gameID, ok := reg.FindByChannel("wolves-chan")
	if !ok || gameID != "g1" {
		t.Fatalf("expected wolves-chan to resolve to g1, got %q ok=%v", gameID, ok)
	}
	if _, ok := reg.FindByChannel("no-such-chan"); ok {
		t.Errorf("expected unknown channel to miss")
	}
}

func TestFindByChannelIsReseededOnRecovery(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	actor, err := reg.CreateGame(ctx, "g1", "guild1", engine.DefaultRules(), engine.DefaultGameConfig())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	resp := actor.Dispatch(types.CommandEnvelope{
		GameID:      "g1",
		Type:        "join_lobby",
		ActorUserID: "u1",
		ChannelHint: "witch-chan",
		Payload:     []byte(`{"username":"alice"}`),
	})
	if resp.Err != nil {
		t.Fatalf("join failed: %v", resp.Err)
	}

	// simulate a process restart: drop the in-memory actor and index
	// entry, keeping only the durably persisted state.
	reg.mu.Lock()
	delete(reg.actors, "g1")
	delete(reg.channelIndex, "witch-chan")
	reg.mu.Unlock()

	if err := reg.Recover(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	gameID, ok := reg.FindByChannel("witch-chan")
	if !ok || gameID != "g1" {
		t.Fatalf("expected witch-chan reseeded to g1 after recovery, got %q ok=%v", gameID, ok)
	}
}

func TestSnapshotUnknownGameFails(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Snapshot("no-such-game", types.Viewer{UserID: "u1"}); err == nil {
		t.Errorf("expected snapshot of an untouched game to fail")
	}
}
