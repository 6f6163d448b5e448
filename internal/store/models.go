package store

import "time"

// Game is the store's row for a game's lifecycle metadata, independent
// of the in-memory Game aggregate the engine package reduces events
// into.
type Game struct {
	ID        string
	GuildID   string
	CreatedBy string
	Status    string
	CreatedAt time.Time
}

type StoredEvent struct {
	GameID           string
	Seq              int64
	EventID          string
	EventType        string
	ActorUserID      string
	CausationCommand string
	PayloadJSON      string
	ServerTime       time.Time
}

// DedupRecord backs the idempotency guard (P4): one row per
// {gameId, actorUserId, idempotencyKey, commandType}.
type DedupRecord struct {
	GameID         string
	ActorUserID    string
	IdempotencyKey string
	CommandType    string
	CommandID      string
	Status         string
	ResultJSON     string
	CreatedAt      time.Time
}

type Snapshot struct {
	GameID    string
	LastSeq   int64
	StateJSON string
	CreatedAt time.Time
}
