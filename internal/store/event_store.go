package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
)

func (s *Store) GetDedupRecord(ctx context.Context, gameID, actorUserID, idempotencyKey, commandType string) (*DedupRecord, error) {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.dedups[dedupKey(gameID, actorUserID, idempotencyKey, commandType)]
		if !ok {
			return nil, nil
		}
		cp := r
		return &cp, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT game_id,actor_user_id,idempotency_key,command_type,command_id,status,result_json,created_at FROM commands_dedup WHERE game_id=? AND actor_user_id=? AND idempotency_key=? AND command_type=?`, gameID, actorUserID, idempotencyKey, commandType)
	var r DedupRecord
	if err := row.Scan(&r.GameID, &r.ActorUserID, &r.IdempotencyKey, &r.CommandType, &r.CommandID, &r.Status, &r.ResultJSON, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) saveDedupRecord(ctx context.Context, tx *sql.Tx, r DedupRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commands_dedup (game_id,actor_user_id,idempotency_key,command_type,command_id,status,result_json,created_at) VALUES (?,?,?,?,?,?,?,?) ON DUPLICATE KEY UPDATE status=VALUES(status),result_json=VALUES(result_json)`,
		r.GameID, r.ActorUserID, r.IdempotencyKey, r.CommandType, r.CommandID, r.Status, r.ResultJSON, r.CreatedAt)
	return err
}

func (s *Store) GetLatestSnapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		snap, ok := s.snapshots[gameID]
		if !ok {
			return nil, nil
		}
		cp := snap
		return &cp, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT game_id,last_seq,state_json,created_at FROM snapshots WHERE game_id=? ORDER BY last_seq DESC LIMIT 1`, gameID)
	var snap Snapshot
	if err := row.Scan(&snap.GameID, &snap.LastSeq, &snap.StateJSON, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) saveSnapshot(ctx context.Context, tx *sql.Tx, snap Snapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO snapshots (game_id,last_seq,state_json,created_at) VALUES (?,?,?,?)`, snap.GameID, snap.LastSeq, snap.StateJSON, snap.CreatedAt)
	return err
}

func (s *Store) LoadEventsAfter(ctx context.Context, gameID string, afterSeq int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		var res []StoredEvent
		for _, e := range s.events[gameID] {
			if e.Seq > afterSeq {
				res = append(res, e)
				if len(res) >= limit {
					break
				}
			}
		}
		return res, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT game_id,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts FROM events WHERE game_id=? AND seq>? ORDER BY seq ASC LIMIT ?`, gameID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.GameID, &e.Seq, &e.EventID, &e.EventType, &e.ActorUserID, &e.CausationCommand, &e.PayloadJSON, &e.ServerTime); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *Store) LoadEventsUpTo(ctx context.Context, gameID string, toSeq int64) ([]StoredEvent, error) {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		var res []StoredEvent
		for _, e := range s.events[gameID] {
			if toSeq <= 0 || e.Seq <= toSeq {
				res = append(res, e)
			}
		}
		return res, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if toSeq > 0 {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT game_id,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts
			 FROM events WHERE game_id=? AND seq<=? ORDER BY seq ASC`,
			gameID, toSeq)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT game_id,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts
			 FROM events WHERE game_id=? ORDER BY seq ASC`,
			gameID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.GameID, &e.Seq, &e.EventID, &e.EventType, &e.ActorUserID, &e.CausationCommand, &e.PayloadJSON, &e.ServerTime); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AppendEvents is the WAL commit of the Atomic Mutator (§4.5 step 4):
// it assigns strictly increasing per-game seq numbers, persists the
// events, the idempotency record, and an optional snapshot atomically.
func (s *Store) AppendEvents(ctx context.Context, gameID string, events []StoredEvent, dedup *DedupRecord, snap *Snapshot) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()

		current := s.nextSeq[gameID]
		if current == 0 {
			current = 1
		}
		for i := range events {
			events[i].Seq = current + int64(i)
		}
		s.nextSeq[gameID] = current + int64(len(events))
		s.events[gameID] = append(s.events[gameID], events...)

		if dedup != nil {
			s.dedups[dedupKey(gameID, dedup.ActorUserID, dedup.IdempotencyKey, dedup.CommandType)] = *dedup
		}
		if snap != nil {
			s.snapshots[gameID] = *snap
		}
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		row := tx.QueryRowContext(ctx, `SELECT next_seq FROM game_sequences WHERE game_id=? FOR UPDATE`, gameID)
		switch err := row.Scan(&current); err {
		case nil:
		case sql.ErrNoRows:
			current = 1
			if _, err := tx.ExecContext(ctx, `INSERT INTO game_sequences (game_id,next_seq) VALUES (?,?)`, gameID, current); err != nil {
				return err
			}
		default:
			return err
		}

		for i := range events {
			events[i].Seq = current + int64(i)
		}
		next := current + int64(len(events))
		if _, err := tx.ExecContext(ctx, `UPDATE game_sequences SET next_seq=? WHERE game_id=?`, next, gameID); err != nil {
			return err
		}

		for _, e := range events {
			if _, err := tx.ExecContext(ctx, `INSERT INTO events (game_id,seq,event_id,event_type,actor_user_id,causation_command_id,payload_json,server_ts) VALUES (?,?,?,?,?,?,?,?)`,
				e.GameID, e.Seq, e.EventID, e.EventType, e.ActorUserID, e.CausationCommand, e.PayloadJSON, e.ServerTime); err != nil {
				return err
			}
		}

		if dedup != nil {
			if err := s.saveDedupRecord(ctx, tx, *dedup); err != nil {
				return err
			}
		}
		if snap != nil {
			if err := s.saveSnapshot(ctx, tx, *snap); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListGameIDs supports Recovery (C10): enumerate every game with
// persisted state so its actor can be reloaded on boot.
func (s *Store) ListGameIDs(ctx context.Context) ([]string, error) {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		seen := make(map[string]bool)
		for id := range s.events {
			seen[id] = true
		}
		for id := range s.snapshots {
			seen[id] = true
		}
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT game_id FROM game_sequences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteGame implements the Store's deleteGame(gameId) operation
// (§4.1): it drops every row keyed by gameID (events, snapshots, the
// sequence counter, dedup records), used by Registry.EndGame's explicit
// teardown once a game's presenters have flushed (§3 Lifecycle).
func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.events, gameID)
		delete(s.snapshots, gameID)
		delete(s.nextSeq, gameID)
		for k, d := range s.dedups {
			if d.GameID == gameID {
				delete(s.dedups, k)
			}
		}
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM events WHERE game_id=?`,
			`DELETE FROM snapshots WHERE game_id=?`,
			`DELETE FROM game_sequences WHERE game_id=?`,
			`DELETE FROM commands_dedup WHERE game_id=?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, gameID); err != nil {
				return err
			}
		}
		return nil
	})
}

func EncodeResultJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
