package gamerun

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duskcourt/loupgarou-engine/internal/cache"
	"github.com/duskcourt/loupgarou-engine/internal/clock"
	"github.com/duskcourt/loupgarou-engine/internal/config"
	"github.com/duskcourt/loupgarou-engine/internal/engine"
	"github.com/duskcourt/loupgarou-engine/internal/eventbus"
	"github.com/duskcourt/loupgarou-engine/internal/observability"
	"github.com/duskcourt/loupgarou-engine/internal/projection"
	"github.com/duskcourt/loupgarou-engine/internal/store"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// Registry is the in-memory Game Registry (C4): one GameActor per
// active gameId, created lazily on first touch and torn down once its
// game ends. It is the only component allowed to create a GameActor,
// so "one mailbox per game" holds for the whole process.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*GameActor

	// channelIndex is the reverse index (§4.4): secondary channel id ->
	// gameId, mirrored from each actor's committed "channel.linked"
	// events so findByChannel never has to scan every actor's state.
	channelIndex map[string]string

	ctx    context.Context
	cancel context.CancelFunc

	store   *store.Store
	cache   *cache.Cache
	clock   *clock.Service
	logger  *zap.Logger
	metrics *observability.Metrics

	defaultRules     engine.Rules
	defaultConfig    engine.GameConfig
	snapshotInterval int64
}

type Params struct {
	Store   *store.Store
	Cache   *cache.Cache
	Clock   *clock.Service
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Config  config.Config
}

func New(ctx context.Context, p Params) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		actors:           make(map[string]*GameActor),
		channelIndex:     make(map[string]string),
		ctx:              ctx,
		cancel:           cancel,
		store:            p.Store,
		cache:            p.Cache,
		clock:            p.Clock,
		logger:           p.Logger,
		metrics:          p.Metrics,
		defaultRules:     p.Config.DefaultRules,
		defaultConfig:    p.Config.DefaultConfig,
		snapshotInterval: p.Config.SnapshotInterval,
	}
}

// GetOrCreate returns gameID's actor, loading it from the store (a
// fresh lobby game if none is persisted yet) the first time it is
// touched in this process.
func (r *Registry) GetOrCreate(gameID, guildID string) (*GameActor, error) {
	r.mu.RLock()
	if a, ok := r.actors[gameID]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[gameID]; ok {
		return a, nil
	}

	actor, err := NewGameActor(NewActorParams{
		LoadCtx:          r.ctx,
		LoopCtx:          r.ctx,
		GameID:           gameID,
		GuildID:          guildID,
		Rules:            r.defaultRules,
		Config:           r.defaultConfig,
		Store:            r.store,
		Cache:            r.cache,
		Clock:            r.clock,
		Logger:           r.logger,
		Metrics:          r.metrics,
		SnapshotInterval: r.snapshotInterval,
		OnCrash:          r.handleActorCrash,
		OnChannelLinked:  r.linkChannel,
	})
	if err != nil {
		return nil, err
	}
	r.actors[gameID] = actor
	r.seedChannelIndexLocked(gameID, actor)
	return actor, nil
}

// CreateGame implements the façade's `createGame(gameId, rules, guildId)`
// (§6): unlike GetOrCreate's lazy on-touch creation, this is the
// explicit constructor and fails if gameID already has an actor or any
// persisted state, so a caller can't silently resume someone else's
// game under the rules it asked for.
func (r *Registry) CreateGame(ctx context.Context, gameID, guildID string, rules engine.Rules, cfg engine.GameConfig) (*GameActor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actors[gameID]; ok {
		return nil, types.NewError(types.ErrInternal, "game already exists")
	}
	snap, err := r.store.GetLatestSnapshot(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return nil, types.NewError(types.ErrInternal, "game already exists")
	}
	existing, err := r.store.LoadEventsAfter(ctx, gameID, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, types.NewError(types.ErrInternal, "game already exists")
	}

	actor, err := NewGameActor(NewActorParams{
		LoadCtx:          ctx,
		LoopCtx:          r.ctx,
		GameID:           gameID,
		GuildID:          guildID,
		Rules:            rules,
		Config:           cfg,
		Store:            r.store,
		Cache:            r.cache,
		Clock:            r.clock,
		Logger:           r.logger,
		Metrics:          r.metrics,
		SnapshotInterval: r.snapshotInterval,
		OnCrash:          r.handleActorCrash,
		OnChannelLinked:  r.linkChannel,
	})
	if err != nil {
		return nil, err
	}
	r.actors[gameID] = actor
	r.seedChannelIndexLocked(gameID, actor)
	return actor, nil
}

// Snapshot implements the façade's read-only `snapshot(gameId) -> view`
// (§4.3, §6): it returns the per-viewer redacted projection of the
// game's current committed state, never a mid-mutation working copy,
// since GetGame only ever returns the pointer-swapped published copy.
func (r *Registry) Snapshot(gameID string, viewer types.Viewer) (engine.Game, error) {
	r.mu.RLock()
	actor, ok := r.actors[gameID]
	r.mu.RUnlock()
	if !ok {
		return engine.Game{}, types.NewError(types.ErrNotInGame, "no such game")
	}
	return projection.ProjectedGame(actor.GetGame(), viewer), nil
}

// EndGame implements the façade's `endGame(gameId)` admin teardown
// (§3 Lifecycle): removes gameID's actor from the registry and deletes
// its durable state. Intended for a game already in ENDED phase whose
// presenters have flushed; does not itself force a non-ended game to
// stop (use ForceEnd for that).
func (r *Registry) EndGame(ctx context.Context, gameID string) error {
	r.mu.Lock()
	actor, ok := r.actors[gameID]
	delete(r.actors, gameID)
	for channelID, id := range r.channelIndex {
		if id == gameID {
			delete(r.channelIndex, channelID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.clock.Cancel(gameID)
		actor.Shutdown()
	}
	return r.store.DeleteGame(ctx, gameID)
}

// ForceEnd implements the façade's `forceEnd(gameId)` admin override
// (§6): dispatches an unconditional force_end command (ending the game
// with no winner regardless of phase or board state) and then tears
// the actor down the same way EndGame does.
func (r *Registry) ForceEnd(ctx context.Context, gameID string) error {
	actor, err := r.GetOrCreate(gameID, "")
	if err != nil {
		return err
	}
	cmd := types.CommandEnvelope{
		CommandID:   uuid.NewString(),
		GameID:      gameID,
		Type:        "force_end",
		ActorUserID: "admin",
		Payload:     []byte(`{}`),
	}
	if resp := actor.Dispatch(cmd); resp.Err != nil {
		return resp.Err
	}
	return r.EndGame(ctx, gameID)
}

// linkChannel is the actor's OnChannelLinked callback: it mirrors a
// freshly committed "channel.linked" event into the registry-wide
// reverse index as the commit happens, so FindByChannel never lags
// behind a game's own ChannelIDs by more than the commit that added it.
func (r *Registry) linkChannel(gameID, channelID string) {
	r.mu.Lock()
	r.channelIndex[channelID] = gameID
	r.mu.Unlock()
}

// seedChannelIndexLocked repopulates the reverse index for a game whose
// state was just loaded (fresh lobby or replayed from the store), since
// a process restart loses the in-memory index but not the channel ids
// already recorded on the Game itself. Caller must hold r.mu.
func (r *Registry) seedChannelIndexLocked(gameID string, actor *GameActor) {
	for _, channelID := range actor.GetGame().ChannelIDs {
		r.channelIndex[channelID] = gameID
	}
}

// FindByChannel implements the façade's `findByChannel(channelId)`
// read operation (§4.4, §6): a village/wolves/witch/... channel id
// resolves to the gameId it was linked to, without the caller needing
// to already know which game it belongs to.
func (r *Registry) FindByChannel(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gameID, ok := r.channelIndex[channelID]
	return gameID, ok
}

// handleActorCrash drops the crashed actor from the registry so the
// next DispatchAsync for that game reloads it from the last committed
// snapshot and replay tail, instead of resubmitting to a dead mailbox.
func (r *Registry) handleActorCrash(gameID string) {
	r.mu.Lock()
	delete(r.actors, gameID)
	r.mu.Unlock()
	r.logger.Warn("game actor removed from registry after crash, will reload on next command", zap.String("game_id", gameID))
}

// DispatchAsync satisfies clock.Dispatcher: a timer fire (in-process or
// redelivered from the durable queue) looks up or reloads the actor and
// submits an advance_phase the same way any other command arrives.
func (r *Registry) DispatchAsync(cmd types.CommandEnvelope) error {
	actor, err := r.GetOrCreate(cmd.GameID, "")
	if err != nil {
		return err
	}
	return actor.DispatchAsync(cmd)
}

// CurrentSeq satisfies clock.Dispatcher: it reports gameID's last
// committed seq without loading an actor that is not in the registry.
// For such a game it reports ok=false; the clock's fire then skips the
// staleness check and dispatches anyway, and DispatchAsync loads the
// actor through GetOrCreate.
func (r *Registry) CurrentSeq(gameID string) (int64, bool) {
	r.mu.RLock()
	actor, ok := r.actors[gameID]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return actor.GetGame().LastSeq, true
}

// Subscribe attaches a presentation adapter to gameID's outward event
// stream, loading or creating the game's actor through GetOrCreate if
// it has none yet.
func (r *Registry) Subscribe(gameID, subscriberID string, sub *eventbus.Subscriber) error {
	actor, err := r.GetOrCreate(gameID, "")
	if err != nil {
		return err
	}
	actor.Subscribe(subscriberID, sub)
	return nil
}

func (r *Registry) Unsubscribe(gameID, subscriberID string) {
	r.mu.RLock()
	actor, ok := r.actors[gameID]
	r.mu.RUnlock()
	if ok {
		actor.Unsubscribe(subscriberID)
	}
}

// Recover implements Crash Recovery (C10): every game the store still
// has state for gets its actor loaded eagerly on boot, rather than
// waiting for the next command to arrive for it, so a timer that
// elapsed while the process was down fires as soon as possible.
func (r *Registry) Recover(ctx context.Context) error {
	ids, err := r.store.ListGameIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.GetOrCreate(id, ""); err != nil {
			r.logger.Error("failed to recover game", zap.String("game_id", id), zap.Error(err))
			continue
		}
	}
	r.logger.Info("recovery complete", zap.Int("games_recovered", len(ids)))
	return nil
}

// Shutdown stops every actor's command loop. In-flight commands are
// allowed to finish; new ones are rejected once the context is done.
func (r *Registry) Shutdown() {
	r.cancel()
}
