package gamerun

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/duskcourt/loupgarou-engine/internal/cache"
	"github.com/duskcourt/loupgarou-engine/internal/clock"
	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/eventbus"
	"github.com/duskcourt/loupgarou-engine/internal/observability"
	"github.com/duskcourt/loupgarou-engine/internal/store"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

type CommandRequest struct {
	Cmd      types.CommandEnvelope
	Response chan CommandResponse
}

type CommandResponse struct {
	Result *types.CommandResult
	Err    error
}

// GameActor is the single-writer mailbox that owns one game's state
// (§5): every command for a game is serialized through cmdCh, so the
// Atomic Mutator never races against itself for the same game.
type GameActor struct {
	GameID          string
	ctx             context.Context
	cancel          context.CancelFunc
	onCrash         func(gameID string)
	onChannelLinked func(gameID, channelID string)

	stateMu sync.RWMutex
	game    engine.Game

	store   *store.Store
	cache   *cache.Cache
	clock   *clock.Service
	logger  *zap.Logger
	metrics *observability.Metrics
	bus     *eventbus.Bus

	cmdCh            chan CommandRequest
	snapshotInterval int64
}

type NewActorParams struct {
	LoadCtx          context.Context
	LoopCtx          context.Context
	GameID           string
	GuildID          string
	Rules            engine.Rules
	Config           engine.GameConfig
	Store            *store.Store
	Cache            *cache.Cache
	Clock            *clock.Service
	Logger           *zap.Logger
	Metrics          *observability.Metrics
	SnapshotInterval int64
	OnCrash          func(gameID string)
	OnChannelLinked  func(gameID, channelID string)
}

func NewGameActor(p NewActorParams) (*GameActor, error) {
	loopCtx := p.LoopCtx
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	loadCtx := p.LoadCtx
	if loadCtx == nil {
		loadCtx = context.Background()
	}

	actorCtx, cancel := context.WithCancel(loopCtx)
	ga := &GameActor{
		GameID:           p.GameID,
		ctx:              actorCtx,
		cancel:           cancel,
		onCrash:          p.OnCrash,
		onChannelLinked:  p.OnChannelLinked,
		store:            p.Store,
		cache:            p.Cache,
		clock:            p.Clock,
		logger:           p.Logger,
		metrics:          p.Metrics,
		bus:              eventbus.New(150 * time.Millisecond),
		cmdCh:            make(chan CommandRequest, 256),
		snapshotInterval: p.SnapshotInterval,
	}
	if err := ga.loadState(loadCtx, p.GuildID, p.Rules, p.Config); err != nil {
		return nil, err
	}
	ga.rearmTimer()

	go ga.loop(actorCtx)
	return ga, nil
}

// Shutdown stops this actor's mailbox loop without affecting any other
// game's actor, used by Registry.EndGame's per-game teardown (§3
// Lifecycle) rather than the process-wide Registry.Shutdown.
func (ga *GameActor) Shutdown() {
	ga.cancel()
}

// loadState implements the snapshot-plus-replay half of Recovery (C10,
// L1): start from the latest snapshot (or a fresh lobby game if none
// exists), then replay every event committed after it.
func (ga *GameActor) loadState(ctx context.Context, guildID string, rules engine.Rules, cfg engine.GameConfig) error {
	ga.stateMu.Lock()
	defer ga.stateMu.Unlock()

	snap, err := ga.store.GetLatestSnapshot(ctx, ga.GameID)
	if err != nil {
		return err
	}
	if snap != nil {
		g, err := engine.UnmarshalGame(snap.StateJSON)
		if err != nil {
			return err
		}
		ga.game = g
	} else {
		ga.game = engine.NewGame(ga.GameID, guildID, rules, cfg)
	}

	events, err := ga.store.LoadEventsAfter(ctx, ga.GameID, ga.game.LastSeq, 0)
	if err != nil {
		return err
	}
	for _, e := range events {
		ga.game.Reduce(toEventPayload(e))
	}
	return nil
}

func toEventPayload(e store.StoredEvent) engine.EventPayload {
	var p map[string]string
	_ = json.Unmarshal([]byte(e.PayloadJSON), &p)
	return engine.EventPayload{Seq: e.Seq, Type: e.EventType, Actor: e.ActorUserID, Payload: p}
}

// rearmTimer re-derives the clock service's in-process timer from
// recovered state (C10): if the deadline already elapsed while this
// process was down, time.AfterFunc fires immediately.
func (ga *GameActor) rearmTimer() {
	if ga.clock == nil {
		return
	}
	ga.stateMu.RLock()
	timer := ga.game.ActiveTimer
	seq := ga.game.LastSeq
	ended := ga.game.Phase == engine.PhaseEnded
	ga.stateMu.RUnlock()

	if ended {
		ga.clock.Cancel(ga.GameID)
		return
	}
	if timer == nil {
		return
	}
	ga.clock.Arm(ga.GameID, timer.Type, time.UnixMilli(timer.Deadline), seq)
}

func (ga *GameActor) loop(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ga.logger.Error("game actor crashed",
				zap.String("game_id", ga.GameID),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			if ga.metrics != nil {
				ga.metrics.ActorRestartTotal.Inc()
			}
			if ga.onCrash != nil {
				go ga.onCrash(ga.GameID)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ga.cmdCh:
			if ga.metrics != nil {
				ga.metrics.MailboxDepth.WithLabelValues(ga.GameID).Set(float64(len(ga.cmdCh)))
			}
			result, err, fatal := ga.executeCommand(ctx, req.Cmd)
			req.Response <- CommandResponse{Result: result, Err: err}
			if fatal {
				panic(err)
			}
		}
	}
}

func (ga *GameActor) executeCommand(ctx context.Context, cmd types.CommandEnvelope) (result *types.CommandResult, err error, fatal bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ga.logger.Error("game actor command panic",
				zap.String("game_id", ga.GameID),
				zap.String("command_type", cmd.Type),
				zap.Any("panic", recovered),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("game actor panic: %v", recovered)
			fatal = true
		}
	}()
	result, err = ga.handleCommand(ctx, cmd)
	return result, err, false
}

// handleCommand is the Atomic Mutator's full seven-step contract
// (§4.5): idempotency check, pure validation, WAL commit with a
// transactionally assigned seq, in-memory reduce, conditional
// snapshot, publish, and (via rearmTimer) timer re-arm.
func (ga *GameActor) handleCommand(ctx context.Context, cmd types.CommandEnvelope) (*types.CommandResult, error) {
	if cmd.GameID != ga.GameID {
		return nil, fmt.Errorf("game mismatch: actor=%s command=%s", ga.GameID, cmd.GameID)
	}

	dedup, err := ga.store.GetDedupRecord(ctx, cmd.GameID, cmd.ActorUserID, cmd.IdempotencyKey, cmd.Type)
	if err != nil {
		return nil, err
	}
	if dedup != nil {
		if ga.metrics != nil {
			ga.metrics.DedupHitTotal.Inc()
		}
		var result types.CommandResult
		_ = json.Unmarshal([]byte(dedup.ResultJSON), &result)
		return &result, nil
	}

	currentGame := ga.GetGame()

	events, result, err := engine.HandleCommand(currentGame, cmd)
	if err != nil {
		if ga.metrics != nil {
			code := "internal"
			if appErr, ok := err.(*types.AppError); ok {
				code = string(appErr.Code)
			}
			ga.metrics.CommandReject.WithLabelValues(code).Inc()
		}
		return nil, err
	}

	storedEvents := make([]store.StoredEvent, len(events))
	for i, e := range events {
		storedEvents[i] = store.StoredEvent{
			GameID:           e.GameID,
			EventID:          e.EventID,
			EventType:        e.EventType,
			ActorUserID:      e.ActorUserID,
			CausationCommand: e.CausationCommand,
			PayloadJSON:      string(e.Payload),
			ServerTime:       time.Now().UTC(),
		}
	}

	dedupRec := store.DedupRecord{
		GameID:         cmd.GameID,
		ActorUserID:    cmd.ActorUserID,
		IdempotencyKey: cmd.IdempotencyKey,
		CommandType:    cmd.Type,
		CommandID:      cmd.CommandID,
		Status:         result.Status,
		CreatedAt:      time.Now().UTC(),
	}

	nextGame := currentGame.Copy()
	for i := range storedEvents {
		storedEvents[i].Seq = currentGame.LastSeq + int64(i+1)
		nextGame.Reduce(toEventPayload(storedEvents[i]))
	}

	if len(storedEvents) > 0 {
		result.AppliedSeqFrom = storedEvents[0].Seq
		result.AppliedSeqTo = storedEvents[len(storedEvents)-1].Seq
	}
	rj, _ := json.Marshal(result)
	dedupRec.ResultJSON = string(rj)

	var snap *store.Snapshot
	if len(storedEvents) > 0 && ga.snapshotInterval > 0 && nextGame.LastSeq > 0 && nextGame.LastSeq%ga.snapshotInterval == 0 {
		stateJSON, _ := engine.MarshalGame(nextGame)
		snap = &store.Snapshot{GameID: ga.GameID, LastSeq: nextGame.LastSeq, StateJSON: stateJSON, CreatedAt: time.Now().UTC()}
	}

	commitStart := time.Now()
	if err := ga.store.AppendEvents(ctx, ga.GameID, storedEvents, &dedupRec, snap); err != nil {
		return nil, err
	}
	if ga.metrics != nil {
		ga.metrics.WALCommitLatency.Observe(float64(time.Since(commitStart).Milliseconds()))
	}

	ga.stateMu.Lock()
	ga.game = nextGame
	gameSnapshot := ga.game.Copy()
	ga.stateMu.Unlock()

	ga.publish(storedEvents, gameSnapshot)
	ga.rearmTimer()

	if ga.onChannelLinked != nil {
		for _, e := range storedEvents {
			if e.EventType != "channel.linked" {
				continue
			}
			var p map[string]string
			_ = json.Unmarshal([]byte(e.PayloadJSON), &p)
			if id := p["channel_id"]; id != "" {
				ga.onChannelLinked(ga.GameID, id)
			}
		}
	}

	if ga.cache != nil {
		go func() {
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if gameSnapshot.Phase == engine.PhaseEnded {
				_ = ga.cache.Invalidate(cctx, ga.GameID)
				return
			}
			_ = ga.cache.PutSnapshot(cctx, ga.GameID, gameSnapshot)
		}()
	}

	return result, nil
}

func (ga *GameActor) publish(stored []store.StoredEvent, game engine.Game) {
	events := make([]types.Event, len(stored))
	for i, e := range stored {
		events[i] = types.Event{
			GameID:            e.GameID,
			Seq:               e.Seq,
			EventID:           e.EventID,
			EventType:         e.EventType,
			ActorUserID:       e.ActorUserID,
			CausationCommand:  e.CausationCommand,
			Payload:           json.RawMessage(e.PayloadJSON),
			ServerTimestampMs: e.ServerTime.UnixMilli(),
		}
	}
	ga.bus.Publish(events, game)
}

func (ga *GameActor) Subscribe(id string, s *eventbus.Subscriber) {
	ga.bus.Subscribe(id, s)
}

func (ga *GameActor) Unsubscribe(id string) {
	ga.bus.Unsubscribe(id)
}

func (ga *GameActor) Dispatch(cmd types.CommandEnvelope) CommandResponse {
	ch := make(chan CommandResponse, 1)
	select {
	case ga.cmdCh <- CommandRequest{Cmd: cmd, Response: ch}:
	case <-ga.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("game actor stopped")}
	}

	select {
	case resp := <-ch:
		return resp
	case <-ga.ctx.Done():
		return CommandResponse{Err: fmt.Errorf("game actor stopped")}
	}
}

func (ga *GameActor) DispatchAsync(cmd types.CommandEnvelope) error {
	resp := ga.Dispatch(cmd)
	return resp.Err
}

func (ga *GameActor) GetGame() engine.Game {
	ga.stateMu.RLock()
	defer ga.stateMu.RUnlock()
	return ga.game.Copy()
}
