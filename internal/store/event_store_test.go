package store

import (
	"context"
	"testing"
)

func TestDeleteGameClearsMemoryState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.AppendEvents(ctx, "g1", []StoredEvent{
		{GameID: "g1", EventType: "player.joined", PayloadJSON: "{}"},
	}, &DedupRecord{GameID: "g1", ActorUserID: "u1", IdempotencyKey: "k1", CommandType: "join_lobby", CommandID: "c1"}, &Snapshot{GameID: "g1", LastSeq: 1, StateJSON: "{}"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := s.DeleteGame(ctx, "g1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	events, err := s.LoadEventsUpTo(ctx, "g1", 0)
	if err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after delete, got %d", len(events))
	}

	snap, err := s.GetLatestSnapshot(ctx, "g1")
	if err != nil {
		t.Fatalf("get snapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no snapshot after delete, got %+v", snap)
	}

	dedup, err := s.GetDedupRecord(ctx, "g1", "u1", "k1", "join_lobby")
	if err != nil {
		t.Fatalf("get dedup failed: %v", err)
	}
	if dedup != nil {
		t.Errorf("expected no dedup record after delete, got %+v", dedup)
	}
}

func TestDeleteGameLeavesOtherGamesIntact(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.AppendEvents(ctx, "g1", []StoredEvent{{GameID: "g1", EventType: "player.joined", PayloadJSON: "{}"}}, nil, nil)
	_ = s.AppendEvents(ctx, "g2", []StoredEvent{{GameID: "g2", EventType: "player.joined", PayloadJSON: "{}"}}, nil, nil)

	if err := s.DeleteGame(ctx, "g1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	events, err := s.LoadEventsUpTo(ctx, "g2", 0)
	if err != nil {
		t.Fatalf("load events failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected g2's events to survive g1's deletion, got %d", len(events))
	}
}
