package clock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duskcourt/loupgarou-engine/internal/queue"
	"github.com/duskcourt/loupgarou-engine/internal/types"
)

// Dispatcher is what the Clock & Timer Service needs from the game
// registry: submit a command to the right game's actor, and report the
// actor's current committed seq so a stale timer fire can be detected
// before it is dispatched.
type Dispatcher interface {
	DispatchAsync(cmd types.CommandEnvelope) error
	CurrentSeq(gameID string) (seq int64, ok bool)
}

// Service is the Clock & Timer Service (C2): it arms one in-process
// time.AfterFunc per game (at most one active timer per game, I8), and
// optionally mirrors the same deadline onto a durable RabbitMQ queue so
// a crash between arming and firing still produces the timeout command
// once a runner picks the message back up.
type Service struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	dispatch Dispatcher
	durable  *queue.Queue
	factory  *queue.TaskFactory
	logger   *zap.Logger
}

func New(dispatch Dispatcher, durable *queue.Queue, logger *zap.Logger) *Service {
	return &Service{
		timers:   make(map[string]*time.Timer),
		dispatch: dispatch,
		durable:  durable,
		factory:  queue.NewTaskFactory(),
		logger:   logger,
	}
}

// SetDispatcher wires the registry in after construction, breaking the
// New(registry) <-> gamerun.New(clock) construction cycle: the clock
// is built first with no dispatcher, handed to the registry, then
// pointed back at it.
func (s *Service) SetDispatcher(dispatch Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = dispatch
}

// Arm schedules timerType to fire for gameID at deadline, replacing any
// timer already armed for that game (rescheduling cancels the
// predecessor, matching the single active timer invariant). armedSeq is
// the game's LastSeq at arm time; a stale redelivered fire whose
// armedSeq no longer matches the game's current LastSeq is a no-op,
// since the game has already moved past the deadline that armed it.
func (s *Service) Arm(gameID, timerType string, deadline time.Time, armedSeq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[gameID]; ok {
		t.Stop()
		delete(s.timers, gameID)
	}

	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	s.timers[gameID] = time.AfterFunc(delay, func() { s.fire(gameID, timerType, armedSeq) })

	if s.durable != nil {
		task := s.factory.CreateTimerFireTask(gameID, queue.TimerFireData{GameID: gameID, TimerType: timerType, ArmedSeq: armedSeq})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.durable.Publish(ctx, task); err != nil && s.logger != nil {
			s.logger.Warn("failed to publish durable timer", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}

// Cancel stops gameID's active timer without arming a replacement, used
// when a game ends or an actor restarts with a fresh deadline already
// computed from recovered state.
func (s *Service) Cancel(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[gameID]; ok {
		t.Stop()
		delete(s.timers, gameID)
	}
}

// fire dispatches an elapsed timer's advance_phase, unless armedSeq no
// longer matches the game's current committed seq (§7): a stale
// redelivery from the durable queue, or the rare race where an
// in-process timer fired just as it was being replaced, must not force
// a spurious extra phase advance once the game has already moved on.
func (s *Service) fire(gameID, timerType string, armedSeq int64) {
	s.mu.Lock()
	dispatch := s.dispatch
	s.mu.Unlock()
	if dispatch == nil {
		return
	}
	if seq, ok := dispatch.CurrentSeq(gameID); ok && seq != armedSeq {
		if s.logger != nil {
			s.logger.Debug("stale timer fire ignored",
				zap.String("game_id", gameID), zap.String("timer_type", timerType),
				zap.Int64("armed_seq", armedSeq), zap.Int64("current_seq", seq))
		}
		return
	}

	cmd := types.CommandEnvelope{
		CommandID:      uuid.NewString(),
		IdempotencyKey: "timer:" + gameID + ":" + timerType + ":" + uuid.NewString()[:8],
		GameID:         gameID,
		Type:           "advance_phase",
		ActorUserID:    "system",
		Payload:        []byte(`{}`),
	}
	if err := dispatch.DispatchAsync(cmd); err != nil && s.logger != nil {
		s.logger.Warn("timer dispatch failed", zap.String("game_id", gameID), zap.String("timer_type", timerType), zap.Error(err))
	}
}

// HandleDurableFire is the RabbitMQ consumer's entry point for a
// redelivered timer (§4.2): a process that died after arming a timer
// but before it fired lets this redelivery drive the same advance.
func (s *Service) HandleDurableFire(ctx context.Context, task queue.Task) (map[string]interface{}, error) {
	gameID, _ := task.Data["game_id"].(string)
	timerType, _ := task.Data["timer_type"].(string)
	var armedSeq int64
	if v, ok := task.Data["armed_seq"].(float64); ok {
		armedSeq = int64(v)
	}
	s.fire(gameID, timerType, armedSeq)
	return map[string]interface{}{"status": "dispatched"}, nil
}
